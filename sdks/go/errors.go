package warden

import (
	"errors"
	"fmt"
)

// Sentinel values for the typed errors below; each typed error reports
// true from errors.Is against its sentinel, so callers can branch
// without reaching for errors.As.
var (
	// ErrPolicyDenied matches every *PolicyDeniedError.
	ErrPolicyDenied = errors.New("policy denied")

	// ErrApprovalTimeout matches *ApprovalTimeoutError: polling gave up
	// with the record still pending.
	ErrApprovalTimeout = errors.New("approval timeout")

	// ErrApprovalResolved matches *ApprovalResolvedError: the record
	// vanished mid-poll because a reviewer decided it or it expired.
	ErrApprovalResolved = errors.New("approval resolved")

	// ErrServerUnreachable matches *ServerUnreachableError.
	ErrServerUnreachable = errors.New("server unreachable")
)

// GatewayError wraps a response the gateway sent but the SDK has no
// handling for, usually a status outside the evaluate envelope.
type GatewayError struct {
	Code string // machine-readable, e.g. "HTTP_502"
	Err  error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("warden [%s]: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("warden [%s]", e.Code)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// PolicyDeniedError carries the gateway's denial verdict.
type PolicyDeniedError struct {
	RequestID string
	Message   string // why the action was blocked
	RiskLevel string // risk band the evaluation landed in
}

func (e *PolicyDeniedError) Error() string {
	if e.RiskLevel != "" {
		return fmt.Sprintf("policy denied (%s risk): %s", e.RiskLevel, e.Message)
	}
	return fmt.Sprintf("policy denied: %s", e.Message)
}

func (e *PolicyDeniedError) Is(target error) bool { return target == ErrPolicyDenied }

// ApprovalTimeoutError reports that polling exhausted its attempts with
// the approval still undecided.
type ApprovalTimeoutError struct {
	ApprovalID string
	RequestID  string
}

func (e *ApprovalTimeoutError) Error() string {
	return fmt.Sprintf("approval %s still pending for request %s", e.ApprovalID, e.RequestID)
}

func (e *ApprovalTimeoutError) Is(target error) bool { return target == ErrApprovalTimeout }

// ApprovalResolvedError reports that a pending approval disappeared
// during polling. The gateway consumes records on decision and lapses
// them on TTL, so which way the approval went is not observable here;
// the verdict lives in the approval workflow and the audit trail.
type ApprovalResolvedError struct {
	ApprovalID string
	RequestID  string
}

func (e *ApprovalResolvedError) Error() string {
	return fmt.Sprintf("approval %s was decided or expired; verdict is recorded in the approval workflow, not the polling endpoint", e.ApprovalID)
}

func (e *ApprovalResolvedError) Is(target error) bool { return target == ErrApprovalResolved }

// ServerUnreachableError reports a transport-level failure reaching the
// gateway while fail_mode is closed.
type ServerUnreachableError struct {
	Cause error
}

func (e *ServerUnreachableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("server unreachable: %v", e.Cause)
	}
	return "server unreachable"
}

func (e *ServerUnreachableError) Unwrap() error { return e.Cause }

func (e *ServerUnreachableError) Is(target error) bool { return target == ErrServerUnreachable }
