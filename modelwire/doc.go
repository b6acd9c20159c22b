// Package modelwire normalizes vendor LLM APIs behind a single adapter
// contract. It defines the provider-agnostic conversation model (messages,
// content parts, tool definitions), the normalized streaming event model,
// a provider error taxonomy with retry classification, and vendor quirk
// handling.
//
// Vendor differences are not expressed through adapter subclassing. A single
// WireAdapter builds the normalized payload and applies a small Quirks
// descriptor selected by endpoint host: dropping top_p for Claude-family
// models, forcing an explicit reasoning field and text-only content for
// reasoning vendors, and injecting fixed attribution headers where required.
//
// # Quick Start
//
//	quirks := modelwire.QuirksForEndpoint("https://api.anthropic.com/v1")
//	adapter := modelwire.NewWireAdapter("anthropic", "https://api.anthropic.com/v1", quirks, transport)
//
//	payload, _ := adapter.BuildRequest(req, requestID)
//	events, _ := adapter.Stream(ctx, payload)
//	resp, err := modelwire.Collect(ctx, events)
//
// Streams are lazy, single-pass channels. Consumers must drain the channel or
// cancel the context; an abandoned stream leaks the producing goroutine.
package modelwire
