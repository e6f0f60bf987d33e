// Package webhook delivers approval notifications to an external approval
// system over HTTP. Delivery is best-effort: a failed notification is
// reported to the caller for logging, but the approval request itself stays
// decidable through the API.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/agent-warden/warden/internal/domain/approval"
)

var tracer = otel.Tracer("warden/webhook")

const (
	// DefaultTimeout bounds a single notification round trip.
	DefaultTimeout = 5 * time.Second

	// maxErrorBodySize limits how much of an error response is read back for
	// the error message.
	maxErrorBodySize = 4 * 1024
)

// Notifier implements approval.Notifier by POSTing a JSON payload to a
// configured webhook endpoint.
type Notifier struct {
	url        string
	httpClient *http.Client
}

// NotifierOption is a functional option for configuring Notifier.
type NotifierOption func(*Notifier)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) NotifierOption {
	return func(n *Notifier) {
		n.httpClient = client
	}
}

// WithTimeout sets the notification timeout.
func WithTimeout(d time.Duration) NotifierOption {
	return func(n *Notifier) {
		if n.httpClient != nil {
			n.httpClient.Timeout = d
		}
	}
}

// NewNotifier creates a notifier for the given webhook URL.
func NewNotifier(url string, opts ...NotifierOption) *Notifier {
	n := &Notifier{
		url: url,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}

	for _, opt := range opts {
		opt(n)
	}

	return n
}

// notification is the wire payload sent to the approval system. Parameters
// carry the sanitized view of the original request; raw values never leave
// the gateway.
type notification struct {
	Event          string         `json:"event"`
	ApprovalID     string         `json:"approval_id"`
	RequestID      string         `json:"request_id"`
	AgentID        string         `json:"agent_id"`
	ActionType     string         `json:"action_type"`
	TargetResource string         `json:"target_resource"`
	RiskScore      float64        `json:"risk_score"`
	RiskLevel      string         `json:"risk_level"`
	MatchedRules   []string       `json:"matched_rules"`
	Parameters     map[string]any `json:"parameters"`
	Context        map[string]any `json:"context"`
	RequestedAt    time.Time      `json:"requested_at"`
	ExpiresAt      *time.Time     `json:"expires_at"`
	CallbackURL    string         `json:"callback_url"`
}

// Notify sends the approval request to the webhook endpoint. Only 200, 201
// and 202 responses count as delivered.
func (n *Notifier) Notify(ctx context.Context, req *approval.Request) (err error) {
	ctx, span := tracer.Start(ctx, "approval.webhook_dispatch")
	span.SetAttributes(
		attribute.String("approval.id", req.ApprovalID),
		attribute.String("agent.id", req.AgentID),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "webhook delivery failed")
		}
		span.End()
	}()

	payload := notification{
		Event:          "approval_requested",
		ApprovalID:     req.ApprovalID,
		RequestID:      req.RequestID,
		AgentID:        req.AgentID,
		ActionType:     req.ActionType,
		TargetResource: req.TargetResource,
		RiskScore:      req.RiskScore,
		RiskLevel:      string(req.RiskLevel),
		MatchedRules:   req.MatchedRules,
		Parameters:     req.SanitizedParameters,
		Context:        req.Context,
		RequestedAt:    req.RequestedAt,
		CallbackURL:    fmt.Sprintf("/api/v1/approvals/%s/decision", req.ApprovalID),
	}
	if !req.ExpiresAt.IsZero() {
		t := req.ExpiresAt
		payload.ExpiresAt = &t
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := n.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		slog.Debug("Approval webhook delivered", "approval_id", req.ApprovalID)
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	return fmt.Errorf("webhook returned status %d: %s",
		resp.StatusCode, strings.TrimSpace(string(respBody)))
}

var _ approval.Notifier = (*Notifier)(nil)
