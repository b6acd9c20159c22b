package modelwire

import (
	"context"
	"encoding/json"
	"fmt"
)

// Payload is a built vendor request, ready for the transport.
type Payload struct {
	Endpoint string            `json:"endpoint"`
	Body     []byte            `json:"body"`
	Headers  map[string]string `json:"headers,omitempty"`
}

// RawEvent is one frame from the transport's vendor event stream. The
// transport owns connection handling and SSE framing; the adapter only
// consumes typed frames and a headers map.
type RawEvent struct {
	Type string          // frame type, vendor event vocabulary
	Data json.RawMessage // frame body
	Err  error           // transport-level failure, terminates the stream
}

// Transport delivers the raw event stream for a payload. Implementations are
// external collaborators (HTTP/SSE clients, test fakes). The returned channel
// must be closed by the transport when the stream ends or ctx is cancelled.
type Transport interface {
	Open(ctx context.Context, endpoint string, headers map[string]string, body []byte) (<-chan RawEvent, error)
}

// Adapter translates between the normalized conversation model and one
// vendor's API shape.
type Adapter interface {
	// Name returns the canonical vendor identifier.
	Name() string

	// BuildRequest translates a normalized request into a vendor payload.
	BuildRequest(req Request, requestID string) (Payload, error)

	// BuildHeaders returns the fixed headers for this vendor, including any
	// attribution headers the quirk descriptor requires.
	BuildHeaders() map[string]string

	// Stream sends the payload and returns a lazy, single-pass sequence of
	// normalized events. The caller must drain the channel or cancel ctx.
	Stream(ctx context.Context, p Payload) (<-chan StreamEvent, error)
}

// wireMessage is the on-the-wire message shape.
type wireMessage struct {
	Role       Role            `json:"role"`
	Content    json.RawMessage `json:"content"`
	Reasoning  *string         `json:"reasoning,omitempty"`
	ToolCalls  []ToolCallData  `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

// wirePayload is the normalized request body. Quirk transforms mutate it
// before marshalling.
type wirePayload struct {
	RequestID       string           `json:"request_id"`
	Model           string           `json:"model"`
	System          string           `json:"system,omitempty"`
	Messages        []wireMessage    `json:"messages"`
	Tools           []ToolDefinition `json:"tools,omitempty"`
	ToolChoice      *ToolChoice      `json:"tool_choice,omitempty"`
	Temperature     *float64         `json:"temperature,omitempty"`
	TopP            *float64         `json:"top_p,omitempty"`
	MaxTokens       *int             `json:"max_tokens,omitempty"`
	StopSequences   []string         `json:"stop_sequences,omitempty"`
	ReasoningEffort string           `json:"reasoning_effort,omitempty"`
	Stream          bool             `json:"stream"`
}

// WireAdapter is the default adapter. Vendor variants are not subclasses;
// they are WireAdapters carrying different Quirks descriptors.
type WireAdapter struct {
	vendor    string
	endpoint  string
	quirks    Quirks
	transport Transport
}

// NewWireAdapter creates an adapter for one vendor endpoint.
func NewWireAdapter(vendor, endpoint string, quirks Quirks, transport Transport) *WireAdapter {
	return &WireAdapter{
		vendor:    vendor,
		endpoint:  endpoint,
		quirks:    quirks,
		transport: transport,
	}
}

// NewWireAdapterForEndpoint creates an adapter with quirks sniffed from the
// endpoint host. Unrecognized hosts get the zero-quirks default behavior.
func NewWireAdapterForEndpoint(endpoint string, transport Transport) *WireAdapter {
	quirks := QuirksForEndpoint(endpoint)
	vendor := quirks.Vendor
	if vendor == "" {
		vendor = "default"
	}
	return NewWireAdapter(vendor, endpoint, quirks, transport)
}

// Name returns the canonical vendor identifier.
func (a *WireAdapter) Name() string { return a.vendor }

// Quirks returns the active quirk descriptor.
func (a *WireAdapter) Quirks() Quirks { return a.quirks }

// BuildHeaders returns the fixed headers for this vendor.
func (a *WireAdapter) BuildHeaders() map[string]string {
	headers := map[string]string{
		"content-type": "application/json",
	}
	for k, v := range a.quirks.ExtraHeaders {
		headers[k] = v
	}
	return headers
}

// BuildRequest translates a normalized Request into a vendor payload,
// applying the quirk transforms.
func (a *WireAdapter) BuildRequest(req Request, requestID string) (Payload, error) {
	p := wirePayload{
		RequestID:       requestID,
		Model:           req.Model,
		System:          req.System,
		Tools:           req.ToolDefs,
		ToolChoice:      req.ToolChoice,
		Temperature:     req.Temperature,
		TopP:            req.TopP,
		MaxTokens:       req.MaxTokens,
		StopSequences:   req.StopSequences,
		ReasoningEffort: req.ReasoningEffort,
		Stream:          true,
	}

	// Claude-family endpoints reject temperature and top_p together.
	if a.quirks.DropTopPWithTemperature && p.Temperature != nil && p.TopP != nil {
		p.TopP = nil
	}

	for _, msg := range req.Messages {
		wm, err := a.buildWireMessage(msg)
		if err != nil {
			return Payload{}, err
		}
		p.Messages = append(p.Messages, wm)
	}

	body, err := json.Marshal(p)
	if err != nil {
		return Payload{}, &WireError{Message: "marshal vendor payload", Cause: err}
	}

	return Payload{
		Endpoint: a.endpoint,
		Body:     body,
		Headers:  a.BuildHeaders(),
	}, nil
}

func (a *WireAdapter) buildWireMessage(msg Message) (wireMessage, error) {
	wm := wireMessage{
		Role:       msg.Role,
		ToolCallID: msg.ToolCallID,
	}

	if a.quirks.TextOnlyContent {
		return a.buildTextOnlyMessage(msg)
	}

	raw, err := json.Marshal(msg.Content)
	if err != nil {
		return wireMessage{}, &WireError{Message: "marshal message content", Cause: err}
	}
	wm.Content = raw

	if a.quirks.RequireReasoningField && msg.Role == RoleAssistant {
		reasoning := msg.Reasoning()
		wm.Reasoning = &reasoning
	}
	return wm, nil
}

// buildTextOnlyMessage flattens content parts into a plain string. Tool calls
// move to the tool_calls field and thinking parts to the reasoning field; a
// part with no text rendering is a structural error.
func (a *WireAdapter) buildTextOnlyMessage(msg Message) (wireMessage, error) {
	wm := wireMessage{
		Role:       msg.Role,
		ToolCallID: msg.ToolCallID,
	}

	var text string
	var reasoning string
	for _, part := range msg.Content {
		switch part.Kind {
		case ContentText:
			text += part.Text
		case ContentThinking:
			if part.Thinking != nil && !part.Thinking.Redacted {
				reasoning += part.Thinking.Text
			}
		case ContentToolCall:
			if part.ToolCall != nil {
				wm.ToolCalls = append(wm.ToolCalls, *part.ToolCall)
			}
		case ContentToolResult:
			if part.ToolResult != nil {
				var s string
				if err := json.Unmarshal(part.ToolResult.Content, &s); err != nil {
					s = string(part.ToolResult.Content)
				}
				text += s
			}
		default:
			return wireMessage{}, &UnsupportedContentError{
				WireError: WireError{Message: fmt.Sprintf("vendor %s accepts text content only", a.vendor)},
				Kind:      part.Kind,
			}
		}
	}

	raw, err := json.Marshal(text)
	if err != nil {
		return wireMessage{}, &WireError{Message: "marshal message content", Cause: err}
	}
	wm.Content = raw

	// Reasoning vendors reject replay of assistant turns missing the field,
	// so it is always present on assistant messages, even when empty.
	if a.quirks.RequireReasoningField && msg.Role == RoleAssistant {
		wm.Reasoning = &reasoning
	}
	return wm, nil
}

// rawFrame is the decoded body of a transport frame.
type rawFrame struct {
	Delta      string        `json:"delta,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	ToolName   string        `json:"tool_name,omitempty"`
	Usage      *Usage        `json:"usage,omitempty"`
	Finish     *FinishReason `json:"finish_reason,omitempty"`
	Status     int           `json:"status,omitempty"`
	ErrorCode  string        `json:"error_code,omitempty"`
	Message    string        `json:"message,omitempty"`
	RetryAfter *float64      `json:"retry_after,omitempty"`
}

// Stream opens the transport and translates vendor frames into normalized
// events. The returned channel closes when the vendor stream ends, errors,
// or ctx is cancelled.
func (a *WireAdapter) Stream(ctx context.Context, p Payload) (<-chan StreamEvent, error) {
	if a.transport == nil {
		return nil, &ConfigurationError{WireError: WireError{Message: "adapter has no transport"}}
	}

	raw, err := a.transport.Open(ctx, p.Endpoint, p.Headers, p.Body)
	if err != nil {
		return nil, &NetworkError{WireError: WireError{Message: "open vendor stream", Cause: err}}
	}

	out := make(chan StreamEvent, 64)
	go func() {
		defer close(out)
		out <- StreamEvent{Type: StreamStart}

		for {
			select {
			case <-ctx.Done():
				out <- StreamEvent{Type: StreamError, Err: &AbortError{WireError: WireError{Message: "stream cancelled", Cause: ctx.Err()}}}
				return
			case ev, ok := <-raw:
				if !ok {
					return
				}
				ne, terminal := a.translateFrame(ev)
				if ne != nil {
					out <- *ne
				}
				if terminal {
					return
				}
			}
		}
	}()

	return out, nil
}

// translateFrame maps one transport frame to a normalized event. The second
// return value reports whether the stream is finished.
func (a *WireAdapter) translateFrame(ev RawEvent) (*StreamEvent, bool) {
	if ev.Err != nil {
		return &StreamEvent{Type: StreamError, Err: &NetworkError{WireError: WireError{Message: "vendor stream broken", Cause: ev.Err}}}, true
	}

	var frame rawFrame
	if len(ev.Data) > 0 {
		if err := json.Unmarshal(ev.Data, &frame); err != nil {
			return &StreamEvent{Type: StreamError, Err: &StreamBrokenError{WireError: WireError{Message: "undecodable vendor frame", Cause: err}}}, true
		}
	}

	switch ev.Type {
	case "text_delta":
		return &StreamEvent{Type: TextDelta, Delta: frame.Delta}, false
	case "reasoning_delta":
		return &StreamEvent{Type: ReasoningDelta, Delta: frame.Delta}, false
	case "tool_call_start":
		return &StreamEvent{Type: ToolCallStart, ToolCallID: frame.ToolCallID, ToolName: frame.ToolName}, false
	case "tool_call_delta":
		return &StreamEvent{Type: ToolCallDelta, ToolCallID: frame.ToolCallID, Delta: frame.Delta}, false
	case "tool_call_end":
		return &StreamEvent{Type: ToolCallEnd, ToolCallID: frame.ToolCallID}, false
	case "usage":
		return &StreamEvent{Type: UsageEvent, Usage: frame.Usage}, false
	case "finish":
		fr := frame.Finish
		if fr == nil {
			fr = &FinishReason{Reason: "stop"}
		}
		return &StreamEvent{Type: StreamFinish, FinishReason: fr, Usage: frame.Usage}, true
	case "error":
		err := ErrorFromStatusCode(frame.Status, frame.Message, a.vendor, frame.ErrorCode, frame.RetryAfter)
		return &StreamEvent{Type: StreamError, Err: err}, true
	default:
		// Unknown vendor frames are skipped, not fatal.
		return nil, false
	}
}
