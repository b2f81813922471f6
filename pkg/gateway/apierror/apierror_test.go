package apierror

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/coachsim/pulse/pkg/core"
)

func TestFromErrorMapsCanonicalErrors(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{core.NewInvalidRequestError("bad"), http.StatusBadRequest},
		{core.NewAuthenticationError("nope"), http.StatusUnauthorized},
		{core.NewNotFoundError("missing"), http.StatusNotFound},
		{core.NewRateLimitError("slow down"), http.StatusTooManyRequests},
		{core.NewProviderError("whisper", "boom"), http.StatusBadGateway},
		{core.NewTransportError("relay gone"), http.StatusBadGateway},
		{core.NewAPIError("oops"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		got, status := FromError(tt.err, "req_abc")
		if status != tt.status {
			t.Fatalf("%v: status=%d, want %d", tt.err, status, tt.status)
		}
		if got.RequestID != "req_abc" {
			t.Fatalf("request id not stamped: %+v", got)
		}
	}
}

func TestFromErrorContext(t *testing.T) {
	if _, status := FromError(context.DeadlineExceeded, ""); status != http.StatusGatewayTimeout {
		t.Fatalf("deadline status=%d", status)
	}
	if _, status := FromError(context.Canceled, ""); status != http.StatusRequestTimeout {
		t.Fatalf("cancel status=%d", status)
	}
}

func TestFromErrorUnknownDoesNotLeak(t *testing.T) {
	got, status := FromError(errors.New("secret internal detail"), "req_x")
	if status != http.StatusInternalServerError {
		t.Fatalf("status=%d", status)
	}
	if got.Message != "internal error" {
		t.Fatalf("message leaked: %q", got.Message)
	}
}

func TestFromErrorNil(t *testing.T) {
	got, status := FromError(nil, "req_x")
	if got != nil || status != http.StatusOK {
		t.Fatalf("got=%v status=%d", got, status)
	}
}
