package warden

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func strPtr(s string) *string { return &s }

// newTestClient spins up an httptest server around h and returns a
// client pointed at it.
func newTestClient(t *testing.T, h http.HandlerFunc, extra ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	opts := append([]Option{WithServerAddr(srv.URL), WithAPIKey("test-key")}, extra...)
	return NewClient(opts...)
}

// sendJSON answers the way the gateway does: JSON body, explicit status.
func sendJSON(t *testing.T, w http.ResponseWriter, code int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

// deadAddr grabs a free port and releases it, leaving an address where
// nothing listens.
func deadAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()
	return "http://" + addr
}

func allowVerdict(id string) EvaluateResponse {
	return EvaluateResponse{
		RequestID: id,
		Status:    StatusSuccess,
		Decision:  DecisionAllow,
		Forwarded: true,
	}
}

func TestClient_EvaluateAllow(t *testing.T) {
	var got EvaluateRequest

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/gateway/evaluate" {
			t.Errorf("got %s %s, want POST /api/v1/gateway/evaluate", r.Method, r.URL.Path)
		}
		if h := r.Header.Get("Authorization"); h != "Bearer test-key" {
			t.Errorf("Authorization = %q", h)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		sendJSON(t, w, http.StatusOK, EvaluateResponse{
			RequestID: "req-123",
			Status:    StatusSuccess,
			Decision:  DecisionAllow,
			Message:   "Request approved",
			RiskLevel: "low",
			Forwarded: true,
		})
	})

	resp, err := client.Evaluate(context.Background(), EvaluateRequest{
		AgentID:        "agent-1",
		ActionType:     "api_call",
		TargetResource: "weather_api",
		Parameters:     map[string]any{"city": "Oslo"},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	if resp.Status != StatusSuccess || resp.Decision != DecisionAllow {
		t.Errorf("verdict = %s/%s, want success/allow", resp.Status, resp.Decision)
	}
	if resp.RequestID != "req-123" {
		t.Errorf("RequestID = %q, want req-123", resp.RequestID)
	}
	if !resp.Forwarded {
		t.Error("Forwarded = false, want true")
	}

	if got.AgentID != "agent-1" || got.ActionType != "api_call" || got.TargetResource != "weather_api" {
		t.Errorf("request arrived as %s/%s/%s", got.AgentID, got.ActionType, got.TargetResource)
	}
}

func TestClient_EvaluateDeny(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		sendJSON(t, w, http.StatusForbidden, EvaluateResponse{
			RequestID: "req-456",
			Status:    StatusDenied,
			Decision:  DecisionDeny,
			Message:   "Request denied due to critical risk score",
			RiskLevel: "critical",
		})
	})

	_, err := client.Evaluate(context.Background(), EvaluateRequest{
		AgentID:        "agent-1",
		ActionType:     "admin",
		TargetResource: "user_permissions",
	})
	if err == nil {
		t.Fatal("denied action must surface an error")
	}

	var denied *PolicyDeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("error is %T, want *PolicyDeniedError", err)
	}
	if denied.RequestID != "req-456" || denied.RiskLevel != "critical" {
		t.Errorf("denial carried %q/%q, want req-456/critical", denied.RequestID, denied.RiskLevel)
	}
	if !errors.Is(err, ErrPolicyDenied) {
		t.Error("denial must match ErrPolicyDenied")
	}
}

func TestClient_EvaluateShadow(t *testing.T) {
	var calls atomic.Int32

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		sendJSON(t, w, http.StatusOK, EvaluateResponse{
			RequestID: "req-shadow",
			Status:    StatusSuccess,
			Decision:  DecisionShadowLogged,
			Message:   "Request denied (shadow mode - logged only)",
			RiskLevel: "critical",
			Forwarded: true,
		})
	}, WithCacheTTL(time.Minute))

	req := EvaluateRequest{
		AgentID:        "agent-1",
		ActionType:     "database_delete",
		TargetResource: "users_table",
	}

	resp, err := client.Evaluate(context.Background(), req)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if resp.Decision != DecisionShadowLogged {
		t.Errorf("Decision = %s, want shadow_logged", resp.Decision)
	}
	if !resp.Forwarded {
		t.Error("shadow mode must forward the action")
	}

	// Shadow verdicts must not be cached: the same request would deny once
	// the gateway flips to enforce mode.
	if _, err := client.Evaluate(context.Background(), req); err != nil {
		t.Fatalf("second Evaluate: %v", err)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("server saw %d calls, want 2 (shadow verdict cached?)", n)
	}
}

func TestClient_Check(t *testing.T) {
	verdicts := map[string]struct {
		code int
		resp EvaluateResponse
		want bool
	}{
		"allow is true": {
			code: http.StatusOK,
			resp: EvaluateResponse{RequestID: "c1", Status: StatusSuccess, Decision: DecisionAllow, Forwarded: true},
			want: true,
		},
		"deny is false without error": {
			code: http.StatusForbidden,
			resp: EvaluateResponse{RequestID: "c2", Status: StatusDenied, Decision: DecisionDeny},
			want: false,
		},
		"shadow is true": {
			code: http.StatusOK,
			resp: EvaluateResponse{RequestID: "c3", Status: StatusSuccess, Decision: DecisionShadowLogged, Forwarded: true},
			want: true,
		},
	}

	for name, tc := range verdicts {
		t.Run(name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				sendJSON(t, w, tc.code, tc.resp)
			})

			ok, err := client.Check(context.Background(), EvaluateRequest{
				AgentID:        "agent-1",
				ActionType:     "api_call",
				TargetResource: "weather_api",
			})
			if err != nil {
				t.Fatalf("Check: %v", err)
			}
			if ok != tc.want {
				t.Errorf("Check = %v, want %v", ok, tc.want)
			}
		})
	}
}

func TestClient_EnvDefaults(t *testing.T) {
	t.Setenv("WARDEN_SERVER_ADDR", "http://test-server:8000")
	t.Setenv("WARDEN_API_KEY", "env-key-123")
	t.Setenv("WARDEN_AGENT_ID", "env-agent")
	t.Setenv("WARDEN_FAIL_MODE", "closed")
	t.Setenv("WARDEN_TIMEOUT", "10")
	t.Setenv("WARDEN_CACHE_TTL", "30s")
	t.Setenv("WARDEN_CACHE_MAX_SIZE", "500")

	client := NewClient()

	if client.serverAddr != "http://test-server:8000" {
		t.Errorf("serverAddr = %q", client.serverAddr)
	}
	if client.apiKey != "env-key-123" {
		t.Errorf("apiKey = %q", client.apiKey)
	}
	if client.agentID != "env-agent" {
		t.Errorf("agentID = %q", client.agentID)
	}
	if client.failMode != "closed" {
		t.Errorf("failMode = %q", client.failMode)
	}
	// WARDEN_TIMEOUT holds a bare integer of seconds, WARDEN_CACHE_TTL a
	// duration string; both forms must parse.
	if client.timeout != 10*time.Second {
		t.Errorf("timeout = %v, want 10s", client.timeout)
	}
	if client.cacheTTL != 30*time.Second {
		t.Errorf("cacheTTL = %v, want 30s", client.cacheTTL)
	}
	if client.cacheMaxSize != 500 {
		t.Errorf("cacheMaxSize = %d, want 500", client.cacheMaxSize)
	}
}

func TestClient_CacheHit(t *testing.T) {
	var calls atomic.Int32

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		sendJSON(t, w, http.StatusOK, allowVerdict(fmt.Sprintf("req-%d", calls.Add(1))))
	}, WithCacheTTL(time.Minute))

	req := EvaluateRequest{
		AgentID:        "agent-1",
		ActionType:     "api_call",
		TargetResource: "weather_api",
	}

	first, err := client.Evaluate(context.Background(), req)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	second, err := client.Evaluate(context.Background(), req)
	if err != nil {
		t.Fatalf("second Evaluate: %v", err)
	}

	if first.RequestID != "req-1" || second.RequestID != "req-1" {
		t.Errorf("got %q then %q, want req-1 twice (second from cache)", first.RequestID, second.RequestID)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("server saw %d calls, want 1", n)
	}
}

func TestClient_CacheExpiry(t *testing.T) {
	var calls atomic.Int32

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		sendJSON(t, w, http.StatusOK, allowVerdict(fmt.Sprintf("req-%d", calls.Add(1))))
	}, WithCacheTTL(50*time.Millisecond))

	req := EvaluateRequest{
		AgentID:        "agent-1",
		ActionType:     "api_call",
		TargetResource: "weather_api",
	}

	if _, err := client.Evaluate(context.Background(), req); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	resp, err := client.Evaluate(context.Background(), req)
	if err != nil {
		t.Fatalf("Evaluate after expiry: %v", err)
	}
	if resp.RequestID != "req-2" {
		t.Errorf("RequestID = %q, want req-2 (fresh round trip)", resp.RequestID)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("server saw %d calls, want 2", n)
	}
}

func TestClient_DenyNotCached(t *testing.T) {
	var calls atomic.Int32

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		sendJSON(t, w, http.StatusForbidden, EvaluateResponse{
			RequestID: "req-deny",
			Status:    StatusDenied,
			Decision:  DecisionDeny,
			Message:   "blocked",
		})
	}, WithCacheTTL(time.Minute))

	req := EvaluateRequest{
		AgentID:        "agent-1",
		ActionType:     "admin",
		TargetResource: "user_permissions",
	}

	client.Evaluate(context.Background(), req)
	client.Evaluate(context.Background(), req)

	if n := calls.Load(); n != 2 {
		t.Errorf("server saw %d calls, want 2 (denial cached?)", n)
	}
}

func TestClient_FailOpen(t *testing.T) {
	client := NewClient(
		WithServerAddr(deadAddr(t)),
		WithAPIKey("key"),
		WithFailMode("open"),
		WithTimeout(500*time.Millisecond),
	)

	resp, err := client.Evaluate(context.Background(), EvaluateRequest{
		AgentID:        "agent-1",
		ActionType:     "api_call",
		TargetResource: "weather_api",
	})
	if err != nil {
		t.Fatalf("fail-open must swallow the transport error, got: %v", err)
	}
	if resp.Decision != DecisionAllow || !resp.Forwarded {
		t.Errorf("fail-open verdict = %s forwarded=%v, want allow forwarded=true", resp.Decision, resp.Forwarded)
	}
}

func TestClient_FailClosed(t *testing.T) {
	client := NewClient(
		WithServerAddr(deadAddr(t)),
		WithAPIKey("key"),
		WithFailMode("closed"),
		WithTimeout(500*time.Millisecond),
	)

	_, err := client.Evaluate(context.Background(), EvaluateRequest{
		AgentID:        "agent-1",
		ActionType:     "api_call",
		TargetResource: "weather_api",
	})
	if err == nil {
		t.Fatal("fail-closed must surface the transport error")
	}
	if !errors.Is(err, ErrServerUnreachable) {
		t.Errorf("error = %v (%T), want ErrServerUnreachable match", err, err)
	}

	var unreachable *ServerUnreachableError
	if !errors.As(err, &unreachable) {
		t.Fatalf("error is %T, want *ServerUnreachableError", err)
	}
	if unreachable.Cause == nil {
		t.Error("Cause must carry the transport error")
	}
}

func TestClient_ApprovalPolling(t *testing.T) {
	var polls atomic.Int32

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/gateway/evaluate":
			sendJSON(t, w, http.StatusAccepted, EvaluateResponse{
				RequestID:        "req-approval-1",
				Status:           StatusPending,
				Decision:         DecisionPendingApproval,
				Message:          "Request requires human approval. Approval ID: apr-1",
				RiskLevel:        "high",
				ApprovalRequired: true,
				ApprovalID:       strPtr("apr-1"),
			})

		case "/api/v1/approvals/apr-1":
			if polls.Add(1) >= 2 {
				// Reviewer decided; the record is consumed.
				sendJSON(t, w, http.StatusNotFound, map[string]string{"error": "approval not found or expired"})
				return
			}
			sendJSON(t, w, http.StatusOK, ApprovalStatus{
				ApprovalID:     "apr-1",
				RequestID:      "req-approval-1",
				AgentID:        "agent-1",
				ActionType:     "payment",
				TargetResource: "stripe_api",
				RiskScore:      0.85,
				RiskLevel:      "high",
			})

		default:
			t.Errorf("unexpected request for %s", r.URL.Path)
			http.NotFound(w, r)
		}
	})
	client.pollInterval = 10 * time.Millisecond

	_, err := client.Evaluate(context.Background(), EvaluateRequest{
		AgentID:        "agent-1",
		ActionType:     "payment",
		TargetResource: "stripe_api",
		Parameters:     map[string]any{"amount": 8000.0},
	})
	if err == nil {
		t.Fatal("resolved approval must surface an error")
	}
	if !errors.Is(err, ErrApprovalResolved) {
		t.Fatalf("error = %v (%T), want ErrApprovalResolved match", err, err)
	}

	var resolved *ApprovalResolvedError
	if !errors.As(err, &resolved) {
		t.Fatalf("error is %T, want *ApprovalResolvedError", err)
	}
	if resolved.ApprovalID != "apr-1" || resolved.RequestID != "req-approval-1" {
		t.Errorf("resolved carried %q/%q, want apr-1/req-approval-1", resolved.ApprovalID, resolved.RequestID)
	}
	if n := polls.Load(); n != 2 {
		t.Errorf("gateway saw %d polls, want 2", n)
	}
}

func TestClient_ApprovalPollTimeout(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/gateway/evaluate" {
			sendJSON(t, w, http.StatusAccepted, EvaluateResponse{
				RequestID:        "req-approval-2",
				Status:           StatusPending,
				Decision:         DecisionPendingApproval,
				ApprovalRequired: true,
				ApprovalID:       strPtr("apr-2"),
			})
			return
		}
		// Nobody ever decides.
		sendJSON(t, w, http.StatusOK, ApprovalStatus{
			ApprovalID: "apr-2",
			RequestID:  "req-approval-2",
		})
	})
	client.pollInterval = 5 * time.Millisecond
	client.maxPolls = 3

	_, err := client.Evaluate(context.Background(), EvaluateRequest{
		AgentID:        "agent-1",
		ActionType:     "payment",
		TargetResource: "stripe_api",
	})
	if err == nil {
		t.Fatal("exhausted poll budget must surface an error")
	}
	if !errors.Is(err, ErrApprovalTimeout) {
		t.Fatalf("error = %v (%T), want ErrApprovalTimeout match", err, err)
	}

	var timeout *ApprovalTimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("error is %T, want *ApprovalTimeoutError", err)
	}
	if timeout.ApprovalID != "apr-2" {
		t.Errorf("ApprovalID = %q, want apr-2", timeout.ApprovalID)
	}
}

func TestClient_Approval(t *testing.T) {
	t.Run("pending record", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/v1/approvals/apr-7" {
				t.Errorf("path = %s, want /api/v1/approvals/apr-7", r.URL.Path)
			}
			sendJSON(t, w, http.StatusOK, ApprovalStatus{
				ApprovalID:     "apr-7",
				RequestID:      "req-7",
				AgentID:        "agent-1",
				ActionType:     "payment",
				TargetResource: "stripe_api",
				RiskScore:      0.85,
				RiskLevel:      "high",
				MatchedRules:   []string{"payment_limit_10000"},
			})
		})

		st, err := client.Approval(context.Background(), "apr-7")
		if err != nil {
			t.Fatalf("Approval: %v", err)
		}
		if st.ApprovalID != "apr-7" || st.RiskScore != 0.85 {
			t.Errorf("record carried %q risk=%v, want apr-7 risk=0.85", st.ApprovalID, st.RiskScore)
		}
		if len(st.MatchedRules) != 1 || st.MatchedRules[0] != "payment_limit_10000" {
			t.Errorf("MatchedRules = %v", st.MatchedRules)
		}
	})

	t.Run("resolved record", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			sendJSON(t, w, http.StatusNotFound, map[string]string{"error": "approval not found or expired"})
		})

		_, err := client.Approval(context.Background(), "apr-gone")
		if !errors.Is(err, ErrApprovalResolved) {
			t.Fatalf("error = %v (%T), want ErrApprovalResolved match", err, err)
		}
	})
}

func TestClient_RequestTimeout(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		// Outlast the client timeout; the disconnect cancels the request
		// context, so the handler never writes to a dead connection.
		select {
		case <-r.Context().Done():
			return
		case <-time.After(2 * time.Second):
		}
		sendJSON(t, w, http.StatusOK, allowVerdict("req-slow"))
	}, WithTimeout(200*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	// A timed-out request is a transport failure, so fail-open applies.
	resp, err := client.Evaluate(ctx, EvaluateRequest{
		AgentID:        "agent-1",
		ActionType:     "api_call",
		TargetResource: "weather_api",
	})
	if err != nil {
		t.Fatalf("fail-open must swallow the timeout, got: %v", err)
	}
	if resp.Decision != DecisionAllow {
		t.Errorf("Decision = %s, want allow", resp.Decision)
	}
}

func TestClient_RequestBody(t *testing.T) {
	var rawBody map[string]any

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&rawBody)
		sendJSON(t, w, http.StatusOK, allowVerdict("req-body"))
	})

	_, err := client.Evaluate(context.Background(), EvaluateRequest{
		AgentID:        "bot-1",
		ActionType:     "database_write",
		TargetResource: "orders_table",
		Parameters:     map[string]any{"query": "INSERT INTO orders ..."},
		Context:        map[string]any{"session": "sess-9"},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	// The wire format is the gateway evaluate schema: snake_case keys,
	// empty request_id omitted so the server generates one.
	wantKeys := []string{"agent_id", "action_type", "target_resource", "parameters", "context"}
	for _, key := range wantKeys {
		if _, ok := rawBody[key]; !ok {
			t.Errorf("body is missing %q", key)
		}
	}
	if len(rawBody) != len(wantKeys) {
		t.Errorf("body has %d keys %v, want exactly %v", len(rawBody), rawBody, wantKeys)
	}
	if _, ok := rawBody["request_id"]; ok {
		t.Error("empty request_id must be omitted")
	}

	if rawBody["agent_id"] != "bot-1" || rawBody["action_type"] != "database_write" {
		t.Errorf("body carried %v/%v", rawBody["agent_id"], rawBody["action_type"])
	}
}

func TestClient_AgentIDFill(t *testing.T) {
	var got EvaluateRequest

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		sendJSON(t, w, http.StatusOK, allowVerdict("req-default"))
	}, WithAgentID("default-agent"))

	// AgentID left empty: the client default must fill it.
	_, err := client.Evaluate(context.Background(), EvaluateRequest{
		ActionType:     "api_call",
		TargetResource: "weather_api",
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got.AgentID != "default-agent" {
		t.Errorf("AgentID = %q, want default-agent", got.AgentID)
	}
}

func TestClient_WithHTTPClient(t *testing.T) {
	custom := &http.Client{Timeout: 30 * time.Second}

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		sendJSON(t, w, http.StatusOK, allowVerdict("req-custom"))
	}, WithHTTPClient(custom))

	if client.httpClient != custom {
		t.Error("custom http.Client was not adopted")
	}

	resp, err := client.Evaluate(context.Background(), EvaluateRequest{
		AgentID:        "agent-1",
		ActionType:     "api_call",
		TargetResource: "weather_api",
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if resp.Decision != DecisionAllow {
		t.Errorf("Decision = %s, want allow", resp.Decision)
	}
}
