package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"loremaster/internal/config"
	"loremaster/internal/prompt"
)

// newLayerCmd builds the operator commands for prompt layer management.
// These work directly on the layer store file; a running session picks
// edits up through its file watcher.
func newLayerCmd() *cobra.Command {
	layerCmd := &cobra.Command{
		Use:   "layer",
		Short: "Manage system prompt layers",
	}

	layerCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List layer keys and whether they are overridden",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			for _, key := range store.LayerKeys() {
				marker := "default"
				if store.IsOverridden(key) {
					marker = "overridden"
				}
				fmt.Printf("%-20s %s\n", key, marker)
			}
			fmt.Printf("%-20s %s\n", "playtest mode", strconv.FormatBool(store.PlaytestEnabled()))
			return nil
		},
	})

	layerCmd.AddCommand(&cobra.Command{
		Use:   "get <key>",
		Short: "Print a layer's current text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			text, ok := store.Get(args[0])
			if !ok {
				return fmt.Errorf("unknown layer: %s", args[0])
			}
			fmt.Println(text)
			return nil
		},
	})

	layerCmd.AddCommand(&cobra.Command{
		Use:   "set <key> [text]",
		Short: "Override a layer's text (reads stdin when text is omitted)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			var text string
			if len(args) == 2 {
				text = args[1]
			} else {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return err
				}
				text = strings.TrimSpace(string(data))
			}
			if text == "" {
				return fmt.Errorf("refusing to set an empty layer; use reset to restore the default")
			}
			return store.Set(args[0], text)
		},
	})

	layerCmd.AddCommand(&cobra.Command{
		Use:   "reset <key>",
		Short: "Remove a layer override, restoring the built-in default",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			return store.Reset(args[0])
		},
	})

	layerCmd.AddCommand(&cobra.Command{
		Use:   "playtest <on|off>",
		Short: "Toggle the playtest feedback layer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			switch args[0] {
			case "on":
				return store.SetPlaytest(true)
			case "off":
				return store.SetPlaytest(false)
			default:
				return fmt.Errorf("expected on or off, got %q", args[0])
			}
		},
	})

	return layerCmd
}

func openStore() (*prompt.LayerStore, error) {
	return prompt.NewLayerStore(filepath.Join(config.ConfigDir(), "prompt_layers.json"))
}
