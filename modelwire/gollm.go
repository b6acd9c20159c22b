package modelwire

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/teilomillet/gollm"
)

// GollmAdapter implements Adapter over a gollm.LLM backend. It serves vendors
// reached through gollm's own HTTP clients rather than a raw Transport; the
// normalized event stream is produced from gollm's token stream, or
// synthesized from a blocking call when the backend cannot stream.
type GollmAdapter struct {
	vendor string
	llm    gollm.LLM
	model  string
}

// GollmOption configures a GollmAdapter.
type GollmOption func(*gollmConfig)

type gollmConfig struct {
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	extraOpts   []gollm.ConfigOption
}

// WithAPIKey sets the API key for the adapter.
func WithAPIKey(key string) GollmOption {
	return func(c *gollmConfig) { c.apiKey = key }
}

// WithModel sets the default model for the adapter.
func WithModel(model string) GollmOption {
	return func(c *gollmConfig) { c.model = model }
}

// WithMaxTokens sets the default max tokens.
func WithMaxTokens(n int) GollmOption {
	return func(c *gollmConfig) { c.maxTokens = n }
}

// WithGollmOptions adds extra gollm configuration options.
func WithGollmOptions(opts ...gollm.ConfigOption) GollmOption {
	return func(c *gollmConfig) { c.extraOpts = append(c.extraOpts, opts...) }
}

// NewGollmAdapter creates a GollmAdapter for the given vendor. If apiKey is
// empty, gollm reads it from the vendor's environment variable.
func NewGollmAdapter(vendor string, apiKey string, opts ...GollmOption) (*GollmAdapter, error) {
	cfg := &gollmConfig{
		apiKey:      apiKey,
		maxTokens:   4096,
		temperature: 0.7,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	model := cfg.model
	if model == "" {
		if models := ListModels(vendor); len(models) > 0 {
			model = models[0].ID
		} else {
			model = "gpt-5.2"
		}
	}

	gollmOpts := []gollm.ConfigOption{
		gollm.SetProvider(vendor),
		gollm.SetModel(model),
		gollm.SetMaxTokens(cfg.maxTokens),
		gollm.SetTemperature(cfg.temperature),
		gollm.SetMaxRetries(0), // the orchestrator owns retries
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if cfg.apiKey != "" {
		gollmOpts = append(gollmOpts, gollm.SetAPIKey(cfg.apiKey))
	}
	gollmOpts = append(gollmOpts, cfg.extraOpts...)

	llm, err := gollm.NewLLM(gollmOpts...)
	if err != nil {
		return nil, fmt.Errorf("create gollm backend for vendor %s: %w", vendor, err)
	}

	return &GollmAdapter{vendor: vendor, llm: llm, model: model}, nil
}

// NewGollmAdapterFromLLM wraps an existing gollm.LLM instance.
func NewGollmAdapterFromLLM(vendor string, llm gollm.LLM) *GollmAdapter {
	return &GollmAdapter{vendor: vendor, llm: llm}
}

// Name returns the vendor identifier.
func (a *GollmAdapter) Name() string { return a.vendor }

// BuildHeaders returns an empty map: gollm owns its transport headers.
func (a *GollmAdapter) BuildHeaders() map[string]string {
	return map[string]string{}
}

// gollmPayload carries the normalized request through the Payload envelope.
type gollmPayload struct {
	RequestID string  `json:"request_id"`
	Request   Request `json:"request"`
}

// BuildRequest wraps the normalized request; translation to gollm's prompt
// shape happens at stream time, once the backend is known to be used.
func (a *GollmAdapter) BuildRequest(req Request, requestID string) (Payload, error) {
	body, err := json.Marshal(gollmPayload{RequestID: requestID, Request: req})
	if err != nil {
		return Payload{}, &WireError{Message: "marshal gollm payload", Cause: err}
	}
	return Payload{
		Endpoint: "gollm://" + a.vendor,
		Body:     body,
		Headers:  a.BuildHeaders(),
	}, nil
}

// Stream sends the request through gollm and returns normalized events.
func (a *GollmAdapter) Stream(ctx context.Context, p Payload) (<-chan StreamEvent, error) {
	var env gollmPayload
	if err := json.Unmarshal(p.Body, &env); err != nil {
		return nil, &WireError{Message: "unmarshal gollm payload", Cause: err}
	}
	req := env.Request

	prompt, err := a.translateRequest(req)
	if err != nil {
		return nil, err
	}
	a.applyRequestOptions(req)

	ch := make(chan StreamEvent, 64)

	if !a.llm.SupportsStreaming() {
		go func() {
			defer close(ch)
			ch <- StreamEvent{Type: StreamStart}

			text, err := a.llm.Generate(ctx, prompt)
			if err != nil {
				ch <- StreamEvent{Type: StreamError, Err: a.translateError(err)}
				return
			}
			a.emitText(ch, req, text)
		}()
		return ch, nil
	}

	stream, err := a.llm.Stream(ctx, prompt)
	if err != nil {
		return nil, a.translateError(err)
	}

	go func() {
		defer close(ch)
		defer stream.Close()

		ch <- StreamEvent{Type: StreamStart}
		var full strings.Builder

		for {
			token, err := stream.Next(ctx)
			if err == io.EOF {
				break
			}
			if err != nil {
				ch <- StreamEvent{Type: StreamError, Err: a.translateError(err)}
				return
			}
			if token == nil {
				continue
			}
			ch <- StreamEvent{Type: TextDelta, Delta: token.Text}
			full.WriteString(token.Text)
		}

		usage := a.estimateUsage(req, full.String())
		ch <- StreamEvent{Type: StreamFinish, FinishReason: &FinishReason{Reason: "stop", Raw: "stop"}, Usage: &usage}
	}()

	return ch, nil
}

// emitText synthesizes the event sequence for a blocking completion.
func (a *GollmAdapter) emitText(ch chan<- StreamEvent, req Request, text string) {
	ch <- StreamEvent{Type: TextDelta, Delta: text}
	usage := a.estimateUsage(req, text)
	ch <- StreamEvent{Type: StreamFinish, FinishReason: &FinishReason{Reason: "stop", Raw: "stop"}, Usage: &usage}
}

// translateRequest converts a normalized Request into a gollm Prompt.
func (a *GollmAdapter) translateRequest(req Request) (*gollm.Prompt, error) {
	systemPrompt := req.System
	var userParts []string

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			systemPrompt += "\n" + msg.TextContent()
		case RoleUser:
			userParts = append(userParts, msg.TextContent())
		case RoleAssistant:
			if text := msg.TextContent(); text != "" {
				userParts = append(userParts, "[Assistant]: "+text)
			}
		case RoleTool:
			for _, part := range msg.Content {
				if part.Kind != ContentToolResult || part.ToolResult == nil {
					continue
				}
				var content string
				if err := json.Unmarshal(part.ToolResult.Content, &content); err != nil || content == "" {
					content = string(part.ToolResult.Content)
				}
				prefix := "[Tool Result]"
				if part.ToolResult.IsError {
					prefix = "[Tool Error]"
				}
				userParts = append(userParts, prefix+": "+content)
			}
		}
	}

	promptText := strings.Join(userParts, "\n")
	if promptText == "" {
		promptText = "Hello"
	}

	var promptOpts []gollm.PromptOption
	if systemPrompt != "" {
		promptOpts = append(promptOpts, gollm.WithSystemPrompt(strings.TrimSpace(systemPrompt), gollm.CacheTypeEphemeral))
	}
	if req.MaxTokens != nil {
		promptOpts = append(promptOpts, gollm.WithMaxLength(*req.MaxTokens))
	}

	if len(req.ToolDefs) > 0 {
		tools := make([]gollm.Tool, 0, len(req.ToolDefs))
		for _, t := range req.ToolDefs {
			tools = append(tools, gollm.Tool{
				Type: "function",
				Function: gollm.Function{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
		promptOpts = append(promptOpts, gollm.WithTools(tools))
	}
	if req.ToolChoice != nil {
		promptOpts = append(promptOpts, gollm.WithToolChoice(req.ToolChoice.Mode))
	}

	return gollm.NewPrompt(promptText, promptOpts...), nil
}

// applyRequestOptions applies request-level parameters to the gollm backend.
func (a *GollmAdapter) applyRequestOptions(req Request) {
	if req.Model != "" {
		a.llm.SetOption("model", req.Model)
	}
	if req.Temperature != nil {
		a.llm.SetOption("temperature", *req.Temperature)
	}
	if req.TopP != nil {
		a.llm.SetOption("top_p", *req.TopP)
	}
	if req.MaxTokens != nil {
		a.llm.SetOption("max_tokens", *req.MaxTokens)
	}
}

// estimateUsage approximates token usage; gollm does not expose vendor
// usage counters.
func (a *GollmAdapter) estimateUsage(req Request, text string) Usage {
	input := 0
	for _, msg := range req.Messages {
		for _, part := range msg.Content {
			if part.Kind == ContentText {
				input += len(part.Text) / 4
			}
		}
	}
	output := len(text) / 4
	return Usage{InputTokens: input, OutputTokens: output, TotalTokens: input + output}
}

// translateError converts a gollm error into the wire error taxonomy.
func (a *GollmAdapter) translateError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	msgLower := strings.ToLower(msg)

	switch {
	case strings.Contains(msgLower, "401") || strings.Contains(msgLower, "unauthorized") || strings.Contains(msgLower, "invalid api key"):
		return &AuthenticationError{VendorError: VendorError{
			WireError: WireError{Message: msg, Cause: err}, Vendor: a.vendor, StatusCode: 401,
		}}
	case strings.Contains(msgLower, "403") || strings.Contains(msgLower, "forbidden"):
		return &AccessDeniedError{VendorError: VendorError{
			WireError: WireError{Message: msg, Cause: err}, Vendor: a.vendor, StatusCode: 403,
		}}
	case strings.Contains(msgLower, "404") || strings.Contains(msgLower, "not found"):
		return &NotFoundError{VendorError: VendorError{
			WireError: WireError{Message: msg, Cause: err}, Vendor: a.vendor, StatusCode: 404,
		}}
	case strings.Contains(msgLower, "429") || strings.Contains(msgLower, "rate limit"):
		return &RateLimitError{VendorError: VendorError{
			WireError: WireError{Message: msg, Cause: err}, Vendor: a.vendor, StatusCode: 429, Retryable: true,
		}}
	case strings.Contains(msgLower, "context length") || strings.Contains(msgLower, "too many tokens"):
		return &ContextLengthError{VendorError: VendorError{
			WireError: WireError{Message: msg, Cause: err}, Vendor: a.vendor, StatusCode: 413,
		}}
	case strings.Contains(msgLower, "500") || strings.Contains(msgLower, "internal server"):
		return &ServerError{VendorError: VendorError{
			WireError: WireError{Message: msg, Cause: err}, Vendor: a.vendor, StatusCode: 500, Retryable: true,
		}}
	case strings.Contains(msgLower, "timeout"):
		return &RequestTimeoutError{WireError: WireError{Message: msg, Cause: err}}
	case strings.Contains(msgLower, "content filter") || strings.Contains(msgLower, "safety"):
		return &ContentFilterError{VendorError: VendorError{
			WireError: WireError{Message: msg, Cause: err}, Vendor: a.vendor,
		}}
	default:
		return &VendorError{
			WireError: WireError{Message: msg, Cause: err},
			Vendor:    a.vendor,
			Retryable: true,
		}
	}
}
