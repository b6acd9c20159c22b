package modelwire

import "fmt"

// WireError is the base error type for the wire layer.
type WireError struct {
	Message string
	Cause   error
}

func (e *WireError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *WireError) Unwrap() error {
	return e.Cause
}

// VendorError represents an error returned by an LLM vendor.
type VendorError struct {
	WireError
	Vendor     string
	StatusCode int
	ErrorCode  string
	Retryable  bool
	RetryAfter *float64
}

func (e *VendorError) Error() string {
	return fmt.Sprintf("[%s] %s (status=%d, retryable=%v)", e.Vendor, e.Message, e.StatusCode, e.Retryable)
}

// Concrete vendor error types.

type AuthenticationError struct{ VendorError }
type AccessDeniedError struct{ VendorError }
type NotFoundError struct{ VendorError }
type InvalidRequestError struct{ VendorError }
type RateLimitError struct{ VendorError }
type ServerError struct{ VendorError }
type ContentFilterError struct{ VendorError }
type ContextLengthError struct{ VendorError }

// Non-vendor errors.

type RequestTimeoutError struct{ WireError }
type AbortError struct{ WireError }
type NetworkError struct{ WireError }
type StreamBrokenError struct{ WireError }
type ConfigurationError struct{ WireError }

// UnsupportedContentError indicates the configured vendor cannot carry a
// content part present in the conversation (for example a non-text part on a
// text-only vendor). It is structural: fatal to the turn, never retried.
type UnsupportedContentError struct {
	WireError
	Kind ContentKind
}

func (e *UnsupportedContentError) Error() string {
	return fmt.Sprintf("unsupported content part %q: %s", e.Kind, e.Message)
}

// ErrorFromStatusCode maps an HTTP status code to the appropriate error type.
func ErrorFromStatusCode(statusCode int, message, vendor, errorCode string, retryAfter *float64) error {
	ve := VendorError{
		WireError:  WireError{Message: message},
		Vendor:     vendor,
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		RetryAfter: retryAfter,
	}

	switch statusCode {
	case 400, 422:
		ve.Retryable = false
		return &InvalidRequestError{VendorError: ve}
	case 401:
		ve.Retryable = false
		return &AuthenticationError{VendorError: ve}
	case 403:
		ve.Retryable = false
		return &AccessDeniedError{VendorError: ve}
	case 404:
		ve.Retryable = false
		return &NotFoundError{VendorError: ve}
	case 408:
		return &RequestTimeoutError{WireError: WireError{Message: message}}
	case 413:
		ve.Retryable = false
		return &ContextLengthError{VendorError: ve}
	case 429:
		ve.Retryable = true
		return &RateLimitError{VendorError: ve}
	case 500, 502, 503, 504:
		ve.Retryable = true
		return &ServerError{VendorError: ve}
	default:
		// Unknown statuses default to retryable.
		ve.Retryable = true
		return &ve
	}
}

// IsRetryable reports whether the error is transient and safe to retry.
// Structural errors (payload rejections, unsupported content, configuration)
// are never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch e := err.(type) {
	case *VendorError:
		return e.Retryable
	case *AuthenticationError, *AccessDeniedError, *NotFoundError,
		*InvalidRequestError, *ContextLengthError, *ContentFilterError,
		*ConfigurationError, *UnsupportedContentError, *AbortError:
		return false
	case *RateLimitError, *ServerError, *NetworkError,
		*StreamBrokenError, *RequestTimeoutError:
		return true
	default:
		// Unknown errors default to retryable.
		return true
	}
}

// IsStructural reports whether the error means the vendor rejected the shape
// of the payload, as opposed to a transient delivery failure.
func IsStructural(err error) bool {
	switch err.(type) {
	case *InvalidRequestError, *UnsupportedContentError, *ConfigurationError:
		return true
	default:
		return false
	}
}
