// Package integration exercises the assembled gateway end to end: real TCP
// serving through the full middleware chain, Redis and SQLite backends,
// webhook delivery, and graceful shutdown.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	httpapi "github.com/agent-warden/warden/internal/adapter/inbound/http"
	"github.com/agent-warden/warden/internal/adapter/outbound/memory"
	"github.com/agent-warden/warden/internal/adapter/outbound/webhook"
	"github.com/agent-warden/warden/internal/domain/approval"
	"github.com/agent-warden/warden/internal/domain/audit"
	"github.com/agent-warden/warden/internal/domain/auth"
	"github.com/agent-warden/warden/internal/domain/gateway"
	"github.com/agent-warden/warden/internal/domain/pii"
	"github.com/agent-warden/warden/internal/domain/policy"
	"github.com/agent-warden/warden/internal/domain/ratelimit"
	"github.com/agent-warden/warden/internal/domain/stats"
	"github.com/agent-warden/warden/internal/service"
)

// testLogger returns a logger that writes to stderr at error level (quiet tests).
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// harnessConfig selects the backends behind a test gateway. Nil fields fall
// back to in-memory stores, so most tests only set what they are probing.
type harnessConfig struct {
	mode        gateway.Mode
	policies    policy.Store
	approvals   approval.Store
	limiter     ratelimit.Limiter
	limitCfg    ratelimit.Config
	auditLog    audit.Store
	auditQuery  audit.QueryStore
	stats       stats.Store
	keys        *auth.APIKeyService
	webhookURL  string
	approvalTTL time.Duration
	auditOpts   []service.AuditOption
	redisPing   func(context.Context) bool
	auditPing   func(context.Context) error
}

// gatewayHarness is a fully wired gateway serving on a loopback port, with
// the services behind it exposed so tests can reach through the HTTP surface.
type gatewayHarness struct {
	baseURL string
	client  *http.Client
	apiKey  string

	modes    *gateway.ModeController
	engine   *service.PolicyEngine
	breaker  *service.CircuitBreaker
	audits   *service.AuditService
	registry *prometheus.Registry
	metrics  *httpapi.Metrics
}

// startGateway wires the evaluation pipeline per cfg, starts a real HTTP
// server on a free loopback port and blocks until it answers liveness
// probes. Shutdown and teardown are registered on t.Cleanup.
func startGateway(t *testing.T, cfg harnessConfig) *gatewayHarness {
	t.Helper()
	logger := testLogger()

	if cfg.mode == "" {
		cfg.mode = gateway.ModeEnforce
	}
	if cfg.policies == nil {
		cfg.policies = memory.NewPolicyStore()
	}
	if cfg.approvals == nil {
		cfg.approvals = memory.NewApprovalStore()
	}
	if cfg.auditLog == nil {
		mem := memory.NewAuditStoreWithWriter(io.Discard)
		cfg.auditLog = mem
		if cfg.auditQuery == nil {
			cfg.auditQuery = mem
		}
	}
	if cfg.stats == nil {
		cfg.stats = memory.NewStatsStore()
	}
	if cfg.limitCfg.Requests == 0 {
		cfg.limitCfg = ratelimit.Config{Requests: 1000, Window: time.Minute}
	}
	if cfg.limiter == nil {
		cfg.limiter = memory.NewRateLimiter(cfg.limitCfg)
	}

	modes := gateway.NewModeController(cfg.mode)
	engine := service.NewPolicyEngine(cfg.policies, pii.NewRegexScanner(), modes, logger)

	var breakerOpts []service.BreakerOption
	if cfg.webhookURL != "" {
		breakerOpts = append(breakerOpts, service.WithNotifier(webhook.NewNotifier(cfg.webhookURL)))
	}
	if cfg.approvalTTL > 0 {
		breakerOpts = append(breakerOpts, service.WithApprovalTTL(cfg.approvalTTL))
	}
	breaker := service.NewCircuitBreaker(modes, cfg.approvals, logger, breakerOpts...)

	// The worker is stopped (and drained) via Stop in cleanup, not via
	// context, so records from late requests still reach the store.
	auditOpts := append([]service.AuditOption{service.WithChannelSize(256)}, cfg.auditOpts...)
	audits := service.NewAuditService(cfg.auditLog, logger, auditOpts...)
	audits.Start(context.Background())

	recorder := service.NewDecisionRecorder(audits, cfg.stats, logger)

	registry := prometheus.NewRegistry()
	metrics := httpapi.NewMetrics(registry)

	api := httpapi.NewHandler(
		httpapi.WithEngine(engine),
		httpapi.WithBreaker(breaker),
		httpapi.WithRecorder(recorder),
		httpapi.WithPolicyStore(cfg.policies),
		httpapi.WithRateLimiter(cfg.limiter),
		httpapi.WithRateLimitConfig(cfg.limitCfg),
		httpapi.WithAuditReader(cfg.auditQuery),
		httpapi.WithStatsStore(cfg.stats),
		httpapi.WithHandlerMetrics(metrics),
		httpapi.WithHandlerLogger(logger),
		httpapi.WithVersion("integration-test"),
	)

	checker := httpapi.NewHealthChecker(modes, cfg.redisPing, cfg.auditPing, audits, metrics, "integration-test")

	addr := freeLoopbackAddr(t)
	srv := httpapi.NewServer(api,
		httpapi.WithAddr(addr),
		httpapi.WithLogger(logger),
		httpapi.WithHealthChecker(checker),
		httpapi.WithAPIKeyService(cfg.keys),
		httpapi.WithPrometheus(registry, metrics),
	)

	srvCtx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(srvCtx) }()

	h := &gatewayHarness{
		baseURL:  "http://" + addr,
		client:   &http.Client{Timeout: 10 * time.Second},
		modes:    modes,
		engine:   engine,
		breaker:  breaker,
		audits:   audits,
		registry: registry,
		metrics:  metrics,
	}
	// Dev mode still demands a well-formed Bearer key on API routes; secure
	// mode tests seed real credentials and set apiKey themselves.
	if cfg.keys == nil {
		h.apiKey = auth.KeyPrefix + strings.Repeat("0", 40)
	}

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("server exited with error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("server did not shut down within 5s")
		}
		audits.Stop()
		h.client.CloseIdleConnections()
	})

	h.waitReady(t)
	return h
}

// freeLoopbackAddr reserves a loopback port and releases it for the server
// to bind. The window between Close and the server's bind is small enough
// for tests.
func freeLoopbackAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve loopback port: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

// waitReady polls the liveness probe until the server answers.
func (h *gatewayHarness) waitReady(t *testing.T) {
	t.Helper()
	waitLive(t, h.client, h.baseURL)
}

// waitLive polls GET /health/live until it returns 200 or the deadline
// passes.
func waitLive(t *testing.T, client *http.Client, baseURL string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := client.Get(baseURL + "/health/live")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("server did not become ready within 3s")
}

// doJSON issues a request over the wire and decodes the JSON response body.
// The response body is fully read and closed; headers and status remain
// accessible on the returned response.
func (h *gatewayHarness) doJSON(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, h.baseURL+path, reader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}

	decoded := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("failed to decode response body: %v\nbody: %s", err, raw)
		}
	}
	return resp, decoded
}

// evaluateBody builds a minimal valid evaluation request body.
func evaluateBody(agentID, actionType, target string, params map[string]any) map[string]any {
	body := map[string]any{
		"agent_id":        agentID,
		"action_type":     actionType,
		"target_resource": target,
	}
	if params != nil {
		body["parameters"] = params
	}
	return body
}
