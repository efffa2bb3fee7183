package llmstream

import "context"

// TextSink receives text deltas in arrival order.
type TextSink func(delta string)

// Collector folds a raw event stream into a settled Response while
// forwarding text deltas to a caller-supplied sink.
type Collector struct {
	sink TextSink
}

// NewCollector creates a Collector. A nil sink discards deltas.
func NewCollector(sink TextSink) *Collector {
	return &Collector{sink: sink}
}

// Collect consumes the event channel until it yields a finish or error
// event, or ctx is cancelled. Deltas reach the sink in emission order.
// On cancellation the partial response accumulated so far is returned
// alongside a CancelledError.
func (c *Collector) Collect(ctx context.Context, events <-chan StreamEvent) (*Response, error) {
	acc := &Response{FinishReason: "stop"}
	var text []byte

	for {
		select {
		case <-ctx.Done():
			acc.Text = string(text)
			return acc, &CancelledError{ClientError: ClientError{
				Message: "stream consumption cancelled",
				Cause:   ctx.Err(),
			}}
		case ev, ok := <-events:
			if !ok {
				acc.Text = string(text)
				return acc, nil
			}
			switch ev.Type {
			case StreamTextDelta:
				text = append(text, ev.Delta...)
				if c.sink != nil {
					c.sink(ev.Delta)
				}
			case StreamInvocation:
				if ev.Invocation != nil {
					acc.Invocations = append(acc.Invocations, *ev.Invocation)
				}
			case StreamUsage:
				if ev.Usage != nil {
					acc.Usage = *ev.Usage
				}
			case StreamFinish:
				acc.Text = string(text)
				if ev.Response != nil {
					// Prefer the provider's settled response, but keep the
					// text we actually forwarded.
					final := *ev.Response
					if final.Text == "" {
						final.Text = acc.Text
					}
					if final.Usage == (Usage{}) {
						final.Usage = acc.Usage
					}
					if len(final.Invocations) == 0 {
						final.Invocations = acc.Invocations
					}
					return &final, nil
				}
				if ev.Usage != nil {
					acc.Usage = *ev.Usage
				}
				if len(acc.Invocations) > 0 {
					acc.FinishReason = "invocations"
				}
				return acc, nil
			case StreamError:
				acc.Text = string(text)
				return acc, ev.Err
			}
		}
	}
}
