// Package llmstream is the streaming client for the reasoning service.
//
// It presents a provider-agnostic surface: callers hand it an ordered
// message list, a capability manifest, and a deliberation depth, and
// consume an incremental stream of text deltas, invocation requests,
// and exactly one usage record per call.
//
// The package is organized around:
//
//   - Client: routes requests to registered ProviderAdapters and applies
//     middleware.
//   - GollmAdapter: the default backend, built on the gollm library.
//   - Collector: folds a raw event stream into a final Response while
//     forwarding deltas, in arrival order, to a caller-supplied sink.
//   - Catalog: a TTL-cached model list with pricing hints.
//
// Retry behavior: transport-level retryable failures back off
// exponentially via Retry; a provider rejecting the deliberation-depth
// parameter is retried exactly once with the parameter cleared, all
// other rejections propagate unchanged.
package llmstream
