package http

import (
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// pendingApproval drives a payment into the approval band and returns the
// approval id from the 202 response.
func pendingApproval(t *testing.T, g *testGateway) string {
	t.Helper()

	rec := g.doJSON(t, http.MethodPost, "/api/v1/gateway/evaluate",
		evaluateBody("agent_smith", "payment", "payments/batch", map[string]any{"amount": 20000}))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("evaluate status = %d, want %d\nbody: %s", rec.Code, http.StatusAccepted, rec.Body.String())
	}

	body := decodeBody(t, rec)
	approvalID, _ := body["approval_id"].(string)
	if approvalID == "" {
		t.Fatal("approval_id missing from pending response")
	}
	return approvalID
}

// TestApprovalLifecycle verifies the full hold-review-approve loop: the
// pending request is readable, a decision consumes it, and the gauge
// returns to zero.
func TestApprovalLifecycle(t *testing.T) {
	g := newTestGateway(t)
	approvalID := pendingApproval(t, g)

	rec := g.doJSON(t, http.MethodGet, "/api/v1/approvals/"+approvalID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get approval status = %d, want %d", rec.Code, http.StatusOK)
	}
	pending := decodeBody(t, rec)
	if pending["approval_id"] != approvalID {
		t.Errorf("approval_id = %q, want %q", pending["approval_id"], approvalID)
	}
	if pending["agent_id"] != "agent_smith" {
		t.Errorf("agent_id = %q, want agent_smith", pending["agent_id"])
	}
	if pending["action_type"] != "payment" {
		t.Errorf("action_type = %q, want payment", pending["action_type"])
	}
	if pending["risk_level"] != "critical" {
		t.Errorf("risk_level = %q, want critical", pending["risk_level"])
	}

	rec = g.doJSON(t, http.MethodPost, "/api/v1/approvals/"+approvalID+"/decision", map[string]any{
		"approved":    true,
		"approver_id": "reviewer@example.com",
		"reason":      "verified with finance",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("decision status = %d, want %d\nbody: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	decision := decodeBody(t, rec)
	if decision["status"] != "approved" {
		t.Errorf("status = %q, want approved", decision["status"])
	}
	if decision["approver_id"] != "reviewer@example.com" {
		t.Errorf("approver_id = %q, want reviewer@example.com", decision["approver_id"])
	}

	// The decision consumed the request.
	rec = g.doJSON(t, http.MethodGet, "/api/v1/approvals/"+approvalID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after decision status = %d, want %d", rec.Code, http.StatusNotFound)
	}

	gauge := testutil.ToFloat64(g.metrics.PendingApprovals)
	if gauge != 0 {
		t.Errorf("pending_approvals gauge = %v, want 0 after decision", gauge)
	}
}

// TestApprovalDecision_Deny verifies a rejected decision reports denied.
func TestApprovalDecision_Deny(t *testing.T) {
	g := newTestGateway(t)
	approvalID := pendingApproval(t, g)

	rec := g.doJSON(t, http.MethodPost, "/api/v1/approvals/"+approvalID+"/decision", map[string]any{
		"approved": false,
		"reason":   "amount not justified",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", rec.Code, http.StatusOK)
	}
	decision := decodeBody(t, rec)
	if decision["status"] != "denied" {
		t.Errorf("status = %q, want denied", decision["status"])
	}
	if decision["reason"] != "amount not justified" {
		t.Errorf("reason = %q, want 'amount not justified'", decision["reason"])
	}
}

// TestApprovalDecision_ApproverOptional verifies the decision body works
// without an approver id.
func TestApprovalDecision_ApproverOptional(t *testing.T) {
	g := newTestGateway(t)
	approvalID := pendingApproval(t, g)

	rec := g.doJSON(t, http.MethodPost, "/api/v1/approvals/"+approvalID+"/decision",
		map[string]any{"approved": true})

	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d\nbody: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	decision := decodeBody(t, rec)
	if decision["status"] != "approved" {
		t.Errorf("status = %q, want approved", decision["status"])
	}
}

// TestApprovalDecision_MissingApprovedField verifies the approved flag is
// mandatory, so an empty body cannot silently deny.
func TestApprovalDecision_MissingApprovedField(t *testing.T) {
	g := newTestGateway(t)
	approvalID := pendingApproval(t, g)

	rec := g.doJSON(t, http.MethodPost, "/api/v1/approvals/"+approvalID+"/decision",
		map[string]any{"reason": "forgot the flag"})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status code = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	body := decodeBody(t, rec)
	if body["error"] != "approved is required" {
		t.Errorf("error = %q, want 'approved is required'", body["error"])
	}
}

// TestApprovalDecision_DoubleDecideLoses verifies a second decision on the
// same approval finds nothing to decide.
func TestApprovalDecision_DoubleDecideLoses(t *testing.T) {
	g := newTestGateway(t)
	approvalID := pendingApproval(t, g)

	first := g.doJSON(t, http.MethodPost, "/api/v1/approvals/"+approvalID+"/decision",
		map[string]any{"approved": true})
	if first.Code != http.StatusOK {
		t.Fatalf("first decision status = %d, want %d", first.Code, http.StatusOK)
	}

	second := g.doJSON(t, http.MethodPost, "/api/v1/approvals/"+approvalID+"/decision",
		map[string]any{"approved": false})
	if second.Code != http.StatusNotFound {
		t.Errorf("second decision status = %d, want %d", second.Code, http.StatusNotFound)
	}
	body := decodeBody(t, second)
	if body["error"] != "approval not found or expired" {
		t.Errorf("error = %q, want 'approval not found or expired'", body["error"])
	}
}

// TestGetApproval_NotFound verifies unknown approval ids return 404.
func TestGetApproval_NotFound(t *testing.T) {
	g := newTestGateway(t)

	rec := g.doJSON(t, http.MethodGet, "/api/v1/approvals/00000000-0000-0000-0000-000000000000", nil)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status code = %d, want %d", rec.Code, http.StatusNotFound)
	}
	body := decodeBody(t, rec)
	if body["error"] != "approval not found or expired" {
		t.Errorf("error = %q, want 'approval not found or expired'", body["error"])
	}
}
