package apierror

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/gargravish/EComm-Gemini-Live/pkg/core"
)

func TestFromErrorNil(t *testing.T) {
	e, status := FromError(nil, "req_1")
	if e != nil || status != http.StatusOK {
		t.Fatalf("got %+v status %d", e, status)
	}
}

func TestFromErrorMapsCoreTypes(t *testing.T) {
	cases := []struct {
		err    error
		status int
		typ    core.ErrorType
	}{
		{core.NewInvalidRequestError("bad"), http.StatusBadRequest, core.ErrInvalidRequest},
		{core.NewNotFoundError("gone"), http.StatusNotFound, core.ErrNotFound},
		{core.NewRateLimitError("slow down"), http.StatusTooManyRequests, core.ErrRateLimit},
		{core.NewUpstreamError("upstream", "boom"), http.StatusBadGateway, core.ErrUpstream},
		{core.NewUnavailableError("down", "backends off"), http.StatusServiceUnavailable, core.ErrUnavailable},
	}
	for _, tc := range cases {
		e, status := FromError(tc.err, "req_2")
		if status != tc.status {
			t.Fatalf("%v: status = %d, want %d", tc.err, status, tc.status)
		}
		if e.Type != tc.typ {
			t.Fatalf("%v: type = %q, want %q", tc.err, e.Type, tc.typ)
		}
		if e.RequestID != "req_2" {
			t.Fatalf("%v: request id = %q", tc.err, e.RequestID)
		}
	}
}

func TestFromErrorWrappedCoreError(t *testing.T) {
	wrapped := fmt.Errorf("handler: %w", core.NewNotFoundError("no such session"))
	e, status := FromError(wrapped, "req_3")
	if status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", status)
	}
	if e.Message != "no such session" {
		t.Fatalf("message = %q", e.Message)
	}
}

func TestFromErrorDoesNotMutateOriginal(t *testing.T) {
	orig := core.NewInvalidRequestError("bad")
	e, _ := FromError(orig, "req_4")
	if orig.RequestID != "" {
		t.Fatalf("original error mutated: %+v", orig)
	}
	if e.RequestID != "req_4" {
		t.Fatalf("copy missing request id: %+v", e)
	}
}

func TestFromErrorContext(t *testing.T) {
	if _, status := FromError(context.DeadlineExceeded, ""); status != http.StatusGatewayTimeout {
		t.Fatalf("deadline status = %d", status)
	}
	if _, status := FromError(context.Canceled, ""); status != http.StatusRequestTimeout {
		t.Fatalf("canceled status = %d", status)
	}
}

func TestFromErrorUnknownIsOpaque(t *testing.T) {
	e, status := FromError(errors.New("credentials leaked here"), "req_5")
	if status != http.StatusInternalServerError {
		t.Fatalf("status = %d", status)
	}
	if e.Message != "internal error" {
		t.Fatalf("message = %q, want opaque internal error", e.Message)
	}
}
