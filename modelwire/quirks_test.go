package modelwire

import "testing"

func TestQuirksForEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		vendor   string
	}{
		{"https://api.anthropic.com/v1/messages", "anthropic"},
		{"https://api.openai.com/v1", "openai"},
		{"https://generativelanguage.googleapis.com/v1beta", "gemini"},
		{"https://llm.internal.example.com/v1", ""},
		{"not a url", ""},
		{"", ""},
	}

	for _, tt := range tests {
		got := QuirksForEndpoint(tt.endpoint)
		if got.Vendor != tt.vendor {
			t.Errorf("QuirksForEndpoint(%q): expected vendor %q, got %q", tt.endpoint, tt.vendor, got.Vendor)
		}
	}
}

func TestQuirksForEndpointSuffixMatchOnly(t *testing.T) {
	// A host merely containing a vendor domain must not match.
	got := QuirksForEndpoint("https://api.anthropic.com.evil.example/v1")
	if got.Vendor != "" {
		t.Errorf("expected zero quirks for spoofed host, got vendor %q", got.Vendor)
	}
}

func TestQuirksDescriptors(t *testing.T) {
	anthropic := QuirksForVendor("anthropic")
	if !anthropic.DropTopPWithTemperature {
		t.Error("anthropic quirks should drop top_p with temperature")
	}
	if anthropic.ExtraHeaders["anthropic-version"] == "" {
		t.Error("anthropic quirks should carry the version header")
	}

	openai := QuirksForVendor("openai")
	if !openai.RequireReasoningField || !openai.TextOnlyContent {
		t.Error("openai quirks should require reasoning field and text-only content")
	}

	unknown := QuirksForVendor("llamafarm")
	if unknown.Vendor != "llamafarm" {
		t.Errorf("unknown vendor should keep its name, got %q", unknown.Vendor)
	}
	if unknown.DropTopPWithTemperature || unknown.RequireReasoningField || unknown.TextOnlyContent {
		t.Error("unknown vendor should have zero quirks")
	}
}
