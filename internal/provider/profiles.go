package provider

import "strings"

// ModelProfile contains metadata about a model family.
type ModelProfile struct {
	Family        string
	ContextWindow int  // approximate context window size
	SupportsTools bool // native tool calling support
}

// knownModelProfiles maps model name prefixes to their profiles. Models
// without native tool calling get an empty tool list so they narrate instead
// of emitting calls they cannot format.
var knownModelProfiles = map[string]ModelProfile{
	// Llama family
	"llama3.2": {Family: "llama", ContextWindow: 128000, SupportsTools: true},
	"llama3.1": {Family: "llama", ContextWindow: 128000, SupportsTools: true},
	"llama3":   {Family: "llama", ContextWindow: 8192, SupportsTools: true},
	"llama2":   {Family: "llama", ContextWindow: 4096, SupportsTools: false},

	// Qwen family
	"qwen2.5": {Family: "qwen", ContextWindow: 32768, SupportsTools: true},
	"qwen2":   {Family: "qwen", ContextWindow: 32768, SupportsTools: true},
	"qwen":    {Family: "qwen", ContextWindow: 8192, SupportsTools: false},

	// Mistral family
	"mistral-nemo": {Family: "mistral", ContextWindow: 128000, SupportsTools: true},
	"mistral":      {Family: "mistral", ContextWindow: 32768, SupportsTools: true},
	"mixtral":      {Family: "mistral", ContextWindow: 32768, SupportsTools: true},

	// Phi family
	"phi4": {Family: "phi", ContextWindow: 16384, SupportsTools: true},
	"phi3": {Family: "phi", ContextWindow: 4096, SupportsTools: false},

	// Gemma family
	"gemma3": {Family: "gemma", ContextWindow: 128000, SupportsTools: false},
	"gemma2": {Family: "gemma", ContextWindow: 8192, SupportsTools: false},
	"gemma":  {Family: "gemma", ContextWindow: 8192, SupportsTools: false},

	// Command R family
	"command-r-plus": {Family: "command-r", ContextWindow: 128000, SupportsTools: true},
	"command-r":      {Family: "command-r", ContextWindow: 128000, SupportsTools: true},
}

// GetModelProfile returns the profile for a model name using longest-prefix
// matching. Unknown models are assumed to support tools.
func GetModelProfile(modelName string) ModelProfile {
	modelName = strings.ToLower(modelName)

	// Strip tag like ":latest", ":7b"
	baseName := modelName
	if idx := strings.Index(modelName, ":"); idx > 0 {
		baseName = modelName[:idx]
	}

	if profile, ok := knownModelProfiles[baseName]; ok {
		return profile
	}

	bestMatch := ""
	for prefix := range knownModelProfiles {
		if strings.HasPrefix(baseName, prefix) && len(prefix) > len(bestMatch) {
			bestMatch = prefix
		}
	}
	if bestMatch != "" {
		return knownModelProfiles[bestMatch]
	}

	return ModelProfile{Family: "unknown", ContextWindow: 128000, SupportsTools: true}
}

// FilterTools clears the tool list for models without native tool support.
func FilterTools(model string, tools []ToolDef) []ToolDef {
	if !GetModelProfile(model).SupportsTools {
		return nil
	}
	return tools
}
