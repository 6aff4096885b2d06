package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestContractError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *ContractError
		expected string
	}{
		{
			name:     "single violation",
			err:      &ContractError{Flow: "translateText", Violations: []FieldViolation{{Path: "text", Reason: "required field missing"}}},
			expected: "translateText: invalid input: text: required field missing",
		},
		{
			name: "several violations",
			err: &ContractError{Flow: "chat", Violations: []FieldViolation{
				{Path: "message", Reason: "expected string, got number"},
				{Path: "history[0].role", Reason: `value "bot" not in [system user model]`},
			}},
			expected: `chat: invalid input: message: expected string, got number; history[0].role: value "bot" not in [system user model]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestContractError_Field(t *testing.T) {
	err := &ContractError{Flow: "chat", Violations: []FieldViolation{{Path: "message"}, {Path: "language"}}}
	if got := err.Field(); got != "message" {
		t.Errorf("Field() = %q, want %q", got, "message")
	}
	if got := (&ContractError{}).Field(); got != "" {
		t.Errorf("Field() on empty = %q, want empty", got)
	}
}

func TestModelContractViolation_Error(t *testing.T) {
	cause := errors.New("invalid character 'H'")
	withCause := &ModelContractViolation{Flow: "translateText", Raw: "Hola", Cause: cause}
	if got, want := withCause.Error(), "translateText: model response violates output contract: invalid character 'H'"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(withCause, cause) {
		t.Error("expected errors.Is to reach the cause")
	}

	withViolations := &ModelContractViolation{Flow: "chat", Violations: []FieldViolation{{Path: "response", Reason: "required field missing"}}}
	if got, want := withViolations.Error(), "chat: model response violates output contract: response: required field missing"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestTransportError(t *testing.T) {
	tests := []struct {
		name      string
		err       *TransportError
		expected  string
		retryable bool
	}{
		{
			name:      "network failure",
			err:       &TransportError{Op: "gemini.generate", Cause: errors.New("connection reset")},
			expected:  "gemini.generate: connection reset",
			retryable: true,
		},
		{
			name:      "rate limited",
			err:       &TransportError{Op: "gemini.generate", StatusCode: http.StatusTooManyRequests, Cause: errors.New("quota")},
			expected:  "gemini.generate: upstream status 429: quota",
			retryable: true,
		},
		{
			name:      "server error",
			err:       &TransportError{Op: "gemini.generate", StatusCode: http.StatusServiceUnavailable, Cause: errors.New("unavailable")},
			expected:  "gemini.generate: upstream status 503: unavailable",
			retryable: true,
		},
		{
			name:      "bad request",
			err:       &TransportError{Op: "gemini.generate", StatusCode: http.StatusBadRequest, Cause: errors.New("invalid argument")},
			expected:  "gemini.generate: upstream status 400: invalid argument",
			retryable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
			if got := tt.err.Retryable(); got != tt.retryable {
				t.Errorf("Retryable() = %v, want %v", got, tt.retryable)
			}
		})
	}
}

func TestPersistenceError(t *testing.T) {
	err := &PersistenceError{Op: "create", Collection: "users/alice/translations", Cause: context.DeadlineExceeded}
	if got, want := err.Error(), "persist create users/alice/translations: context deadline exceeded"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("expected errors.Is to reach the cause")
	}
}

func TestKindOfAndHTTPStatusCode(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		kind   ErrorKind
		status int
	}{
		{"contract", &ContractError{Flow: "chat"}, ErrorKindContract, http.StatusBadRequest},
		{"wrapped contract", fmt.Errorf("handler: %w", &ContractError{Flow: "chat"}), ErrorKindContract, http.StatusBadRequest},
		{"model contract", &ModelContractViolation{Flow: "chat"}, ErrorKindModelContract, http.StatusBadGateway},
		{"transport", &TransportError{Op: "x", Cause: errors.New("eof")}, ErrorKindTransport, http.StatusBadGateway},
		{"persistence", &PersistenceError{Op: "merge", Cause: errors.New("denied")}, ErrorKindPersistence, http.StatusServiceUnavailable},
		{"not found", fmt.Errorf("flow %q: %w", "nope", ErrNotFound), "", http.StatusNotFound},
		{"untyped", errors.New("boom"), "", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.kind {
				t.Errorf("KindOf() = %q, want %q", got, tt.kind)
			}
			if got := HTTPStatusCode(tt.err); got != tt.status {
				t.Errorf("HTTPStatusCode() = %d, want %d", got, tt.status)
			}
		})
	}
}
