package modelwire

import "strings"

// ModelInfo describes a known model in the catalog.
type ModelInfo struct {
	ID                string   `json:"id"`
	Vendor            string   `json:"vendor"`
	DisplayName       string   `json:"display_name"`
	ContextWindow     int      `json:"context_window"`
	MaxOutput         int      `json:"max_output,omitempty"`
	SupportsTools     bool     `json:"supports_tools"`
	SupportsReasoning bool     `json:"supports_reasoning"`
	Aliases           []string `json:"aliases,omitempty"`
}

// Models is the built-in model catalog.
var Models = []ModelInfo{
	{
		ID: "claude-opus-4-6", Vendor: "anthropic", DisplayName: "Claude Opus 4.6",
		ContextWindow: 200000, MaxOutput: 32768,
		SupportsTools: true, SupportsReasoning: true,
		Aliases: []string{"opus", "claude-opus"},
	},
	{
		ID: "claude-sonnet-4-5", Vendor: "anthropic", DisplayName: "Claude Sonnet 4.5",
		ContextWindow: 200000, MaxOutput: 16384,
		SupportsTools: true, SupportsReasoning: true,
		Aliases: []string{"sonnet", "claude-sonnet"},
	},
	{
		ID: "gpt-5.2", Vendor: "openai", DisplayName: "GPT-5.2",
		ContextWindow: 1047576, MaxOutput: 32768,
		SupportsTools: true, SupportsReasoning: true,
		Aliases: []string{"gpt5"},
	},
	{
		ID: "gpt-5.2-codex", Vendor: "openai", DisplayName: "GPT-5.2 Codex",
		ContextWindow: 1047576, MaxOutput: 32768,
		SupportsTools: true, SupportsReasoning: true,
		Aliases: []string{"codex"},
	},
	{
		ID: "gemini-3-pro", Vendor: "gemini", DisplayName: "Gemini 3 Pro",
		ContextWindow: 1048576, MaxOutput: 65536,
		SupportsTools: true, SupportsReasoning: true,
		Aliases: []string{"gemini-pro"},
	},
}

// DefaultContextWindow is assumed for models missing from the catalog.
const DefaultContextWindow = 128000

// GetModelInfo looks up a model by id or alias, case-insensitively.
func GetModelInfo(id string) *ModelInfo {
	needle := strings.ToLower(id)
	for i := range Models {
		m := &Models[i]
		if strings.ToLower(m.ID) == needle {
			return m
		}
		for _, alias := range m.Aliases {
			if strings.ToLower(alias) == needle {
				return m
			}
		}
	}
	return nil
}

// ContextWindowFor returns the context window for a model, falling back to
// DefaultContextWindow for unknown models.
func ContextWindowFor(model string) int {
	if info := GetModelInfo(model); info != nil {
		return info.ContextWindow
	}
	return DefaultContextWindow
}

// ListModels returns the catalog entries for a vendor, or all entries when
// vendor is empty.
func ListModels(vendor string) []ModelInfo {
	if vendor == "" {
		out := make([]ModelInfo, len(Models))
		copy(out, Models)
		return out
	}
	var out []ModelInfo
	for _, m := range Models {
		if m.Vendor == vendor {
			out = append(out, m)
		}
	}
	return out
}
