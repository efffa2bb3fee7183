package llmstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/teilomillet/gollm"
)

// GollmAdapter wraps a gollm.LLM instance and implements ProviderAdapter.
// It translates between the llmstream types and gollm's API.
type GollmAdapter struct {
	provider string
	llm      gollm.LLM
	model    string
}

// GollmAdapterOption configures a GollmAdapter.
type GollmAdapterOption func(*gollmAdapterConfig)

type gollmAdapterConfig struct {
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	extraOpts   []gollm.ConfigOption
}

// WithAPIKey sets the API key for the adapter.
func WithAPIKey(key string) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.apiKey = key
	}
}

// WithModel sets the default model for the adapter.
func WithModel(model string) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.model = model
	}
}

// WithMaxTokens sets the default max tokens.
func WithMaxTokens(n int) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.maxTokens = n
	}
}

// WithGollmOptions adds extra gollm configuration options.
func WithGollmOptions(opts ...gollm.ConfigOption) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.extraOpts = append(c.extraOpts, opts...)
	}
}

// NewGollmAdapter creates a new GollmAdapter for the given provider.
// If apiKey is empty, gollm will attempt to read it from environment
// variables.
func NewGollmAdapter(provider string, apiKey string, opts ...GollmAdapterOption) (*GollmAdapter, error) {
	cfg := &gollmAdapterConfig{
		apiKey:      apiKey,
		maxTokens:   4096,
		temperature: 0.7,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	model := cfg.model
	if model == "" {
		switch provider {
		case "anthropic":
			model = "claude-sonnet-4-5"
		default:
			model = "gpt-5.2-mini"
		}
	}

	gollmOpts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetModel(model),
		gollm.SetMaxTokens(cfg.maxTokens),
		gollm.SetTemperature(cfg.temperature),
		gollm.SetMaxRetries(0), // retries are handled above the adapter
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}

	if cfg.apiKey != "" {
		gollmOpts = append(gollmOpts, gollm.SetAPIKey(cfg.apiKey))
	}

	gollmOpts = append(gollmOpts, cfg.extraOpts...)

	llm, err := gollm.NewLLM(gollmOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gollm LLM for provider %s: %w", provider, err)
	}

	return &GollmAdapter{
		provider: provider,
		llm:      llm,
		model:    model,
	}, nil
}

// NewGollmAdapterFromLLM wraps an existing gollm.LLM instance.
func NewGollmAdapterFromLLM(provider string, llm gollm.LLM) *GollmAdapter {
	return &GollmAdapter{
		provider: provider,
		llm:      llm,
	}
}

// Name returns the provider identifier.
func (a *GollmAdapter) Name() string {
	return a.provider
}

// Stream sends a streaming request and returns a channel of StreamEvent
// objects: text deltas in arrival order, invocation requests, exactly one
// usage record, then a finish event.
func (a *GollmAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	prompt, err := a.translateRequest(req)
	if err != nil {
		return nil, err
	}

	a.applyRequestOptions(req)

	ch := make(chan StreamEvent, 64)

	if !a.llm.SupportsStreaming() {
		// Fallback: generate the full response and emit it as one delta.
		go func() {
			defer close(ch)
			ch <- StreamEvent{Type: StreamStart}

			text, err := a.llm.Generate(ctx, prompt)
			if err != nil {
				ch <- StreamEvent{Type: StreamError, Err: a.translateError(err)}
				return
			}
			a.finishStream(ch, req, text)
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

		var fullText strings.Builder
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

			ch <- StreamEvent{Type: StreamTextDelta, Delta: token.Text}
			fullText.WriteString(token.Text)
		}

		a.finishStream(ch, req, fullText.String())
	}()

	return ch, nil
}

// finishStream emits invocation, usage, and finish events from the
// completed text.
func (a *GollmAdapter) finishStream(ch chan<- StreamEvent, req Request, text string) {
	resp := a.buildResponse(req, text)
	for i := range resp.Invocations {
		inv := resp.Invocations[i]
		ch <- StreamEvent{Type: StreamInvocation, Invocation: &inv}
	}
	usage := resp.Usage
	ch <- StreamEvent{Type: StreamUsage, Usage: &usage}
	ch <- StreamEvent{
		Type:     StreamFinish,
		Usage:    &usage,
		Response: resp,
	}
}

// translateRequest converts a Request into a gollm Prompt.
func (a *GollmAdapter) translateRequest(req Request) (*gollm.Prompt, error) {
	var systemPrompt string
	var userParts []string

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			systemPrompt += msg.TextContent() + "\n"
		case RoleUser:
			userParts = append(userParts, a.renderUserMessage(msg))
		case RoleAssistant:
			text := msg.TextContent()
			if text != "" {
				userParts = append(userParts, "[Assistant]: "+text)
			}
			for _, part := range msg.Parts {
				if part.Kind == PartInvocation && part.Invocation != nil {
					userParts = append(userParts, fmt.Sprintf("[Invocation %s]: %s %s",
						part.Invocation.ID, part.Invocation.Capability, string(part.Invocation.Arguments)))
				}
			}
		case RoleTool:
			for _, part := range msg.Parts {
				if part.Kind == PartInvocationResult && part.InvocationResult != nil {
					var content string
					_ = json.Unmarshal(part.InvocationResult.Content, &content)
					if content == "" {
						content = string(part.InvocationResult.Content)
					}
					prefix := "[Invocation Result]"
					if part.InvocationResult.IsError {
						prefix = "[Invocation Error]"
					}
					userParts = append(userParts, prefix+": "+content)
				}
			}
		}
	}

	promptText := strings.Join(userParts, "\n")
	if promptText == "" {
		promptText = "Hello"
	}

	promptOpts := []gollm.PromptOption{}

	if systemPrompt != "" {
		promptOpts = append(promptOpts, gollm.WithSystemPrompt(strings.TrimSpace(systemPrompt), gollm.CacheTypeEphemeral))
	}

	if req.MaxTokens != nil {
		promptOpts = append(promptOpts, gollm.WithMaxLength(*req.MaxTokens))
	}

	if len(req.Manifest) > 0 {
		tools := make([]gollm.Tool, 0, len(req.Manifest))
		for _, t := range req.Manifest {
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
		promptOpts = append(promptOpts, gollm.WithToolChoice("auto"))
	}

	return gollm.NewPrompt(promptText, promptOpts...), nil
}

// renderUserMessage flattens a user message's parts into prompt text.
// Binary attachments contribute their metadata; the bytes or reference
// travel out of band per provider.
func (a *GollmAdapter) renderUserMessage(msg Message) string {
	var parts []string
	for _, part := range msg.Parts {
		switch part.Kind {
		case PartText:
			parts = append(parts, part.Text)
		case PartBlob:
			if part.Blob != nil {
				parts = append(parts, fmt.Sprintf("[Attachment: %s (%s, %d bytes)]",
					part.Blob.Name, part.Blob.MediaType, len(part.Blob.Data)))
			}
		case PartResource:
			if part.Resource != nil {
				parts = append(parts, fmt.Sprintf("[Attachment: %s (%s) at %s]",
					part.Resource.Name, part.Resource.MediaType, part.Resource.URI))
			}
		}
	}
	return strings.Join(parts, "\n")
}

// applyRequestOptions applies request-level parameters to the gollm LLM.
func (a *GollmAdapter) applyRequestOptions(req Request) {
	if req.Model != "" {
		a.llm.SetOption("model", req.Model)
	}
	if req.Temperature != nil {
		a.llm.SetOption("temperature", *req.Temperature)
	}
	if req.MaxTokens != nil {
		a.llm.SetOption("max_tokens", *req.MaxTokens)
	}
	if req.DeliberationDepth != "" {
		a.llm.SetOption("reasoning_effort", req.DeliberationDepth)
	}
}

// buildResponse constructs a Response from the generated text.
func (a *GollmAdapter) buildResponse(req Request, text string) *Response {
	model := req.Model
	if model == "" {
		model = a.model
	}

	invocations := a.parseInvocations(text)
	cleaned := a.removeInvocationJSON(text, invocations)

	finishReason := "stop"
	if len(invocations) > 0 {
		finishReason = "invocations"
	}

	prompt := estimatePromptTokens(req)
	output := len(text) / 4

	return &Response{
		ID:           "resp_" + uuid.New().String()[:8],
		Model:        model,
		Provider:     a.provider,
		Text:         cleaned,
		Invocations:  invocations,
		FinishReason: finishReason,
		Usage: Usage{
			// gollm does not expose detailed usage; estimate from text
			// length until the provider reports real counts.
			PromptTokens: prompt,
			OutputTokens: output,
			TotalTokens:  prompt + output,
		},
	}
}

// parseInvocations extracts capability calls from the response text.
// gollm may return them as JSON embedded in the text.
func (a *GollmAdapter) parseInvocations(text string) []InvocationRequest {
	start := strings.Index(text, `[{"name"`)
	if start == -1 {
		start = strings.Index(text, `[{"capability"`)
	}
	if start == -1 {
		return nil
	}

	var rawCalls []struct {
		Name       string          `json:"name"`
		Capability string          `json:"capability"`
		Arguments  json.RawMessage `json:"arguments"`
	}

	if err := json.Unmarshal([]byte(text[start:]), &rawCalls); err != nil {
		return nil
	}

	var calls []InvocationRequest
	for _, rc := range rawCalls {
		capability := rc.Capability
		if capability == "" {
			capability = rc.Name
		}
		calls = append(calls, InvocationRequest{
			ID:         "inv_" + uuid.New().String()[:8],
			Capability: capability,
			Arguments:  rc.Arguments,
		})
	}
	return calls
}

// removeInvocationJSON removes parsed invocation JSON from the text.
func (a *GollmAdapter) removeInvocationJSON(text string, calls []InvocationRequest) string {
	if len(calls) == 0 {
		return text
	}
	result := text
	for _, pattern := range []string{`[{"name"`, `[{"capability"`} {
		if idx := strings.Index(result, pattern); idx != -1 {
			result = strings.TrimSpace(result[:idx])
		}
	}
	return result
}

// translateError converts a gollm error into the llmstream error hierarchy.
func (a *GollmAdapter) translateError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	msgLower := strings.ToLower(msg)

	switch {
	case strings.Contains(msgLower, "reasoning_effort") || strings.Contains(msgLower, "deliberation"):
		return &InvalidRequestError{
			UpstreamError: UpstreamError{
				ClientError: ClientError{Message: msg, Cause: err},
				Provider:    a.provider, StatusCode: 400,
			},
			Param: "deliberation_depth",
		}
	case strings.Contains(msgLower, "401") || strings.Contains(msgLower, "unauthorized") || strings.Contains(msgLower, "invalid api key"):
		return &AuthenticationError{UpstreamError: UpstreamError{
			ClientError: ClientError{Message: msg, Cause: err}, Provider: a.provider, StatusCode: 401,
		}}
	case strings.Contains(msgLower, "429") || strings.Contains(msgLower, "rate limit"):
		return &RateLimitError{UpstreamError: UpstreamError{
			ClientError: ClientError{Message: msg, Cause: err}, Provider: a.provider, StatusCode: 429, Retryable: true,
		}}
	case strings.Contains(msgLower, "context length") || strings.Contains(msgLower, "too many tokens"):
		return &ContextLengthError{UpstreamError: UpstreamError{
			ClientError: ClientError{Message: msg, Cause: err}, Provider: a.provider, StatusCode: 413,
		}}
	case strings.Contains(msgLower, "500") || strings.Contains(msgLower, "internal server"):
		return &ServerError{UpstreamError: UpstreamError{
			ClientError: ClientError{Message: msg, Cause: err}, Provider: a.provider, StatusCode: 500, Retryable: true,
		}}
	case strings.Contains(msgLower, "timeout"):
		return &RequestTimeoutError{ClientError: ClientError{Message: msg, Cause: err}}
	default:
		return &UpstreamError{
			ClientError: ClientError{Message: msg, Cause: err},
			Provider:    a.provider,
			Retryable:   true,
		}
	}
}

// estimatePromptTokens provides a rough token estimate from request messages.
func estimatePromptTokens(req Request) int {
	total := 0
	for _, msg := range req.Messages {
		for _, part := range msg.Parts {
			if part.Kind == PartText {
				total += len(part.Text) / 4
			}
		}
	}
	if total == 0 {
		total = 10
	}
	return total
}
