package modelwire

import (
	"errors"
	"testing"
)

func TestErrorFromStatusCode(t *testing.T) {
	tests := []struct {
		status    int
		wantType  string
		retryable bool
	}{
		{400, "*modelwire.InvalidRequestError", false},
		{401, "*modelwire.AuthenticationError", false},
		{403, "*modelwire.AccessDeniedError", false},
		{404, "*modelwire.NotFoundError", false},
		{408, "*modelwire.RequestTimeoutError", true},
		{413, "*modelwire.ContextLengthError", false},
		{422, "*modelwire.InvalidRequestError", false},
		{429, "*modelwire.RateLimitError", true},
		{500, "*modelwire.ServerError", true},
		{502, "*modelwire.ServerError", true},
		{503, "*modelwire.ServerError", true},
		{504, "*modelwire.ServerError", true},
		{418, "*modelwire.VendorError", true},
	}

	for _, tt := range tests {
		err := ErrorFromStatusCode(tt.status, "boom", "anthropic", "", nil)
		if err == nil {
			t.Fatalf("status %d: expected error", tt.status)
		}
		if got := typeName(err); got != tt.wantType {
			t.Errorf("status %d: expected %s, got %s", tt.status, tt.wantType, got)
		}
		if IsRetryable(err) != tt.retryable {
			t.Errorf("status %d: expected retryable=%v", tt.status, tt.retryable)
		}
	}
}

func typeName(err error) string {
	switch err.(type) {
	case *InvalidRequestError:
		return "*modelwire.InvalidRequestError"
	case *AuthenticationError:
		return "*modelwire.AuthenticationError"
	case *AccessDeniedError:
		return "*modelwire.AccessDeniedError"
	case *NotFoundError:
		return "*modelwire.NotFoundError"
	case *RequestTimeoutError:
		return "*modelwire.RequestTimeoutError"
	case *ContextLengthError:
		return "*modelwire.ContextLengthError"
	case *RateLimitError:
		return "*modelwire.RateLimitError"
	case *ServerError:
		return "*modelwire.ServerError"
	case *VendorError:
		return "*modelwire.VendorError"
	default:
		return "unknown"
	}
}

func TestIsRetryableClassification(t *testing.T) {
	if IsRetryable(nil) {
		t.Error("nil is not retryable")
	}
	if IsRetryable(&UnsupportedContentError{Kind: ContentImage}) {
		t.Error("unsupported content is structural, not retryable")
	}
	if IsRetryable(&ConfigurationError{}) {
		t.Error("configuration errors are not retryable")
	}
	if IsRetryable(&AbortError{}) {
		t.Error("cancellation is not retryable")
	}
	if !IsRetryable(&NetworkError{}) {
		t.Error("network errors are retryable")
	}
	if !IsRetryable(errors.New("mystery")) {
		t.Error("unknown errors default to retryable")
	}
}

func TestIsStructural(t *testing.T) {
	structural := []error{
		&InvalidRequestError{},
		&UnsupportedContentError{},
		&ConfigurationError{},
	}
	for _, err := range structural {
		if !IsStructural(err) {
			t.Errorf("expected %T to be structural", err)
		}
	}
	if IsStructural(&RateLimitError{}) {
		t.Error("rate limit errors are transient, not structural")
	}
}

func TestWireErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &WireError{Message: "wrapped", Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
	if err.Error() != "wrapped: root cause" {
		t.Errorf("unexpected message: %s", err.Error())
	}
}
