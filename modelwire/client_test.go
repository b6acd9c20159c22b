package modelwire

import (
	"context"
	"testing"
)

// stubAdapter is a minimal Adapter for routing tests.
type stubAdapter struct {
	name string
}

func (s *stubAdapter) Name() string { return s.name }

func (s *stubAdapter) BuildRequest(req Request, requestID string) (Payload, error) {
	return Payload{Endpoint: s.name}, nil
}

func (s *stubAdapter) BuildHeaders() map[string]string { return nil }

func (s *stubAdapter) Stream(ctx context.Context, p Payload) (<-chan StreamEvent, error) {
	ch := make(chan StreamEvent)
	close(ch)
	return ch, nil
}

func TestClientResolveByVendor(t *testing.T) {
	client := NewClient(
		WithAdapter("openai", &stubAdapter{name: "openai"}),
		WithAdapter("anthropic", &stubAdapter{name: "anthropic"}),
		WithDefaultVendor("openai"),
	)

	a, err := client.Resolve("anthropic", "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if a.Name() != "anthropic" {
		t.Errorf("expected anthropic, got %s", a.Name())
	}

	a, err = client.Resolve("", "")
	if err != nil {
		t.Fatalf("resolve default: %v", err)
	}
	if a.Name() != "openai" {
		t.Errorf("expected default openai, got %s", a.Name())
	}
}

func TestClientResolveByModelCatalog(t *testing.T) {
	client := NewClient(
		WithAdapter("anthropic", &stubAdapter{name: "anthropic"}),
		WithAdapter("openai", &stubAdapter{name: "openai"}),
	)
	// Two adapters, no default: routing falls through to the catalog.
	a, err := client.Resolve("", "claude-opus-4-6")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if a.Name() != "anthropic" {
		t.Errorf("expected anthropic via catalog, got %s", a.Name())
	}
}

func TestClientSingleAdapterBecomesDefault(t *testing.T) {
	client := NewClient(WithAdapter("openai", &stubAdapter{name: "openai"}))
	a, err := client.Resolve("", "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if a.Name() != "openai" {
		t.Errorf("expected openai, got %s", a.Name())
	}
}

func TestClientResolveUnknownVendor(t *testing.T) {
	client := NewClient(WithAdapter("openai", &stubAdapter{name: "openai"}))
	if _, err := client.Resolve("mistral", ""); err == nil {
		t.Fatal("expected error for unregistered vendor")
	}
}

func TestClientResolveEndpoint(t *testing.T) {
	client := NewClient(
		WithAdapter("anthropic", &stubAdapter{name: "anthropic"}),
		WithAdapter("default", &stubAdapter{name: "default"}),
		WithDefaultVendor("default"),
	)

	a, err := client.ResolveEndpoint("https://api.anthropic.com/v1/messages")
	if err != nil {
		t.Fatalf("resolve endpoint: %v", err)
	}
	if a.Name() != "anthropic" {
		t.Errorf("expected anthropic, got %s", a.Name())
	}

	a, err = client.ResolveEndpoint("https://llm.corp.example.com/v1")
	if err != nil {
		t.Fatalf("resolve unknown endpoint: %v", err)
	}
	if a.Name() != "default" {
		t.Errorf("unrecognized host should fall back to the default adapter, got %s", a.Name())
	}
}

func TestCatalogLookup(t *testing.T) {
	if info := GetModelInfo("claude-opus-4-6"); info == nil || info.Vendor != "anthropic" {
		t.Errorf("expected anthropic catalog entry, got %+v", info)
	}
	if info := GetModelInfo("OPUS"); info == nil || info.ID != "claude-opus-4-6" {
		t.Errorf("alias lookup failed: %+v", info)
	}
	if info := GetModelInfo("no-such-model"); info != nil {
		t.Errorf("expected nil for unknown model, got %+v", info)
	}
	if w := ContextWindowFor("no-such-model"); w != DefaultContextWindow {
		t.Errorf("expected default context window, got %d", w)
	}
	if w := ContextWindowFor("gpt-5.2"); w != 1047576 {
		t.Errorf("expected catalog context window, got %d", w)
	}
}
