package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"loremaster/internal/config"
	"loremaster/internal/logging"
)

var (
	version  = "0.1.0"
	model    string
	provider string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "loremaster",
		Short: "AI dungeon master for your terminal",
		Long: `Loremaster runs an AI dungeon master backed by a game-state engine.
It connects a chat model to the engine's tools for dice, world state,
combat, and narrative memory, and streams the story to your terminal.`,
		RunE: runPlay,
	}

	rootCmd.PersistentFlags().StringVar(&model, "model", "", "model to use (overrides config)")
	rootCmd.PersistentFlags().StringVar(&provider, "provider", "", "provider to use: openai, gemini, or ollama")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("loremaster version %s\n", version)
		},
	})
	rootCmd.AddCommand(newLayerCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if model != "" {
		cfg.Model.Name = model
	}
	if provider != "" {
		cfg.API.ActiveProvider = provider
	}
	if cfg.Logging.File {
		if err := logging.EnableFileLogging(config.ConfigDir(), logging.Level(cfg.Logging.Level)); err != nil {
			fmt.Fprintf(os.Stderr, "warning: file logging unavailable: %v\n", err)
		}
	}
	return cfg, nil
}
