package llmstream

import "fmt"

// ClientError is the base error type for all llmstream errors.
type ClientError struct {
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// UpstreamError represents an error returned by the reasoning service.
type UpstreamError struct {
	ClientError
	Provider   string
	StatusCode int
	Retryable  bool
	RetryAfter *float64 // seconds, from a rate-limit response
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("[%s] %s (status=%d, retryable=%v)", e.Provider, e.Message, e.StatusCode, e.Retryable)
}

// Concrete upstream error types.

type AuthenticationError struct{ UpstreamError }
type RateLimitError struct{ UpstreamError }
type ServerError struct{ UpstreamError }
type ContextLengthError struct{ UpstreamError }

// InvalidRequestError is a 4xx rejection of the request itself. Param names
// the offending request parameter when the provider identifies one.
type InvalidRequestError struct {
	UpstreamError
	Param string
}

// Non-upstream errors.

type NetworkError struct{ ClientError }
type RequestTimeoutError struct{ ClientError }
type CancelledError struct{ ClientError }
type ConfigurationError struct{ ClientError }

// ErrorFromStatusCode maps an HTTP status code to the appropriate error type.
func ErrorFromStatusCode(statusCode int, message, provider string, retryAfter *float64) error {
	ue := UpstreamError{
		ClientError: ClientError{Message: message},
		Provider:    provider,
		StatusCode:  statusCode,
		RetryAfter:  retryAfter,
	}

	switch statusCode {
	case 400, 422:
		return &InvalidRequestError{UpstreamError: ue}
	case 401, 403:
		return &AuthenticationError{UpstreamError: ue}
	case 408:
		return &RequestTimeoutError{ClientError: ClientError{Message: message}}
	case 413:
		return &ContextLengthError{UpstreamError: ue}
	case 429:
		ue.Retryable = true
		return &RateLimitError{UpstreamError: ue}
	case 500, 502, 503, 504:
		ue.Retryable = true
		return &ServerError{UpstreamError: ue}
	default:
		ue.Retryable = true
		return &ue
	}
}

// IsRetryable returns true if the error is safe to retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch e := err.(type) {
	case *UpstreamError:
		return e.Retryable
	case *AuthenticationError:
		return false
	case *InvalidRequestError:
		return false
	case *ContextLengthError:
		return false
	case *ConfigurationError:
		return false
	case *CancelledError:
		return false
	case *RateLimitError:
		return true
	case *ServerError:
		return true
	case *NetworkError:
		return true
	case *RequestTimeoutError:
		return true
	default:
		// Unknown errors default to retryable.
		return true
	}
}

// RejectsDeliberation reports whether the error is the provider refusing
// the deliberation-depth parameter for the selected model. Such requests
// are retried once with the parameter cleared.
func RejectsDeliberation(err error) bool {
	ire, ok := err.(*InvalidRequestError)
	if !ok {
		return false
	}
	return ire.Param == "deliberation_depth"
}
