package warden

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			"denied with risk level",
			&PolicyDeniedError{RequestID: "req-1", Message: "test reason", RiskLevel: "critical"},
			"policy denied (critical risk): test reason",
		},
		{
			"denied without risk level",
			&PolicyDeniedError{Message: "general denial"},
			"policy denied: general denial",
		},
		{
			"approval timeout",
			&ApprovalTimeoutError{ApprovalID: "apr-9", RequestID: "req-2"},
			"approval apr-9 still pending for request req-2",
		},
		{
			"server unreachable with cause",
			&ServerUnreachableError{Cause: fmt.Errorf("connection refused")},
			"server unreachable: connection refused",
		},
		{
			"server unreachable bare",
			&ServerUnreachableError{},
			"server unreachable",
		},
		{
			"gateway error",
			&GatewayError{Code: "HTTP_400", Err: fmt.Errorf("bad request")},
			"warden [HTTP_400]: bad request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSentinelMatching(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"PolicyDeniedError", &PolicyDeniedError{Message: "x"}, ErrPolicyDenied},
		{"ApprovalTimeoutError", &ApprovalTimeoutError{ApprovalID: "apr-1"}, ErrApprovalTimeout},
		{"ApprovalResolvedError", &ApprovalResolvedError{ApprovalID: "apr-2"}, ErrApprovalResolved},
		{"ServerUnreachableError", &ServerUnreachableError{}, ErrServerUnreachable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.sentinel) {
				t.Errorf("errors.Is(%T, sentinel) = false, want true", tt.err)
			}
		})
	}

	// Sentinels must not cross-match: a resolved approval is not a timeout.
	if errors.Is(&ApprovalResolvedError{ApprovalID: "apr-3"}, ErrApprovalTimeout) {
		t.Error("resolved approval matched the timeout sentinel")
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	if got := errors.Unwrap(&ServerUnreachableError{Cause: cause}); got != cause {
		t.Errorf("ServerUnreachableError.Unwrap() = %v, want the cause", got)
	}

	inner := fmt.Errorf("bad request")
	if got := errors.Unwrap(&GatewayError{Code: "HTTP_400", Err: inner}); got != inner {
		t.Errorf("GatewayError.Unwrap() = %v, want the inner error", got)
	}
}
