package llmstream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// ProviderAdapter is the interface every reasoning backend must implement.
type ProviderAdapter interface {
	// Name returns the provider identifier (e.g. "openai", "anthropic").
	Name() string

	// Stream sends a request and returns a channel of stream events. The
	// channel carries zero-or-more text deltas and invocation requests,
	// exactly one usage record, and a terminal finish or error event.
	Stream(ctx context.Context, req Request) (<-chan StreamEvent, error)
}

// Closer is implemented by adapters that hold resources.
type Closer interface {
	Close() error
}

// StreamMiddleware wraps a streaming provider call.
type StreamMiddleware func(ctx context.Context, req Request, next func(context.Context, Request) (<-chan StreamEvent, error)) (<-chan StreamEvent, error)

// Client routes requests to registered provider adapters and applies
// middleware. Retryable transport failures back off per the retry
// policy; a deliberation-depth rejection is retried once with the
// parameter cleared; any other failure propagates unchanged.
type Client struct {
	providers       map[string]ProviderAdapter
	defaultProvider string
	middleware      []StreamMiddleware
	retry           RetryPolicy
	logger          *slog.Logger
	mu              sync.RWMutex
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithProvider registers a provider adapter.
func WithProvider(name string, adapter ProviderAdapter) ClientOption {
	return func(c *Client) {
		c.providers[name] = adapter
	}
}

// WithDefaultProvider sets the default provider name.
func WithDefaultProvider(name string) ClientOption {
	return func(c *Client) {
		c.defaultProvider = name
	}
}

// WithMiddleware adds stream middleware to the client.
func WithMiddleware(mw ...StreamMiddleware) ClientOption {
	return func(c *Client) {
		c.middleware = append(c.middleware, mw...)
	}
}

// WithRetryPolicy overrides the default transport retry policy.
func WithRetryPolicy(policy RetryPolicy) ClientOption {
	return func(c *Client) {
		c.retry = policy
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a new Client with the given options.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		providers: make(map[string]ProviderAdapter),
		retry:     DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "llmstream")
	// If no default and exactly one provider, use it.
	if c.defaultProvider == "" && len(c.providers) == 1 {
		for name := range c.providers {
			c.defaultProvider = name
		}
	}
	return c
}

// RegisterProvider adds a provider adapter to the client.
func (c *Client) RegisterProvider(name string, adapter ProviderAdapter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers[name] = adapter
	if c.defaultProvider == "" {
		c.defaultProvider = name
	}
}

// resolveProvider determines which provider adapter to use for a request.
func (c *Client) resolveProvider(req Request) (ProviderAdapter, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	name := req.Provider
	if name == "" {
		name = c.defaultProvider
	}
	if name == "" {
		return nil, &ConfigurationError{ClientError: ClientError{
			Message: "no provider specified and no default provider configured",
		}}
	}

	adapter, ok := c.providers[name]
	if !ok {
		return nil, &ConfigurationError{ClientError: ClientError{
			Message: fmt.Sprintf("provider %q is not registered", name),
		}}
	}
	return adapter, nil
}

// Stream sends a streaming request through middleware to the resolved
// provider.
func (c *Client) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	adapter, err := c.resolveProvider(req)
	if err != nil {
		return nil, err
	}

	if req.Provider == "" {
		req.Provider = adapter.Name()
	}

	handler := func(ctx context.Context, r Request) (<-chan StreamEvent, error) {
		return adapter.Stream(ctx, r)
	}

	// Apply middleware in reverse order so first registered runs first.
	for i := len(c.middleware) - 1; i >= 0; i-- {
		mw := c.middleware[i]
		next := handler
		handler = func(ctx context.Context, r Request) (<-chan StreamEvent, error) {
			return mw(ctx, r, next)
		}
	}

	// Retryable transport failures (rate limits, 5xx, network) back off
	// per the policy; non-retryable errors fall through immediately.
	attempt := func(ctx context.Context, r Request) (<-chan StreamEvent, error) {
		return Retry(ctx, c.retry, func(ctx context.Context) (<-chan StreamEvent, error) {
			return handler(ctx, r)
		})
	}

	ch, err := attempt(ctx, req)
	if err != nil && req.DeliberationDepth != "" && RejectsDeliberation(err) {
		c.logger.Warn("deliberation depth rejected, retrying without it",
			"model", req.Model,
			"depth", req.DeliberationDepth,
		)
		retried := req
		retried.DeliberationDepth = ""
		return attempt(ctx, retried)
	}
	if err != nil {
		return nil, err
	}
	if req.DeliberationDepth == "" {
		return ch, nil
	}
	return c.watchDeliberation(ctx, req, attempt, ch), nil
}

// watchDeliberation forwards stream events for a request carrying a
// deliberation depth. Adapters may report the provider's rejection
// asynchronously as a stream error rather than from the Stream call
// itself; when that happens the request is reissued once with the
// parameter cleared, same as the synchronous path.
func (c *Client) watchDeliberation(ctx context.Context, req Request, attempt func(context.Context, Request) (<-chan StreamEvent, error), events <-chan StreamEvent) <-chan StreamEvent {
	out := make(chan StreamEvent, 64)
	go func() {
		defer close(out)
		retried := false
		for {
			ev, ok := <-events
			if !ok {
				return
			}
			if ev.Type == StreamError && !retried && RejectsDeliberation(ev.Err) {
				retried = true
				c.logger.Warn("deliberation depth rejected mid-stream, retrying without it",
					"model", req.Model,
					"depth", req.DeliberationDepth,
				)
				cleared := req
				cleared.DeliberationDepth = ""
				next, err := attempt(ctx, cleared)
				if err != nil {
					ev.Err = err
				} else {
					events = next
					continue
				}
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Close releases resources held by all registered providers.
func (c *Client) Close() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var firstErr error
	for _, adapter := range c.providers {
		if closer, ok := adapter.(Closer); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
