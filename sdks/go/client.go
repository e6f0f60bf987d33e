package warden

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Client talks to the Warden governance gateway: it submits agent
// actions for evaluation and turns the gateway's verdicts into Go
// values and errors.
type Client struct {
	serverAddr string
	apiKey     string
	agentID    string
	failMode   string
	timeout    time.Duration
	httpClient *http.Client

	// Approval polling cadence.
	pollInterval time.Duration
	maxPolls     int

	cacheTTL     time.Duration
	cacheMaxSize int
	cache        *decisionCache

	logger *slog.Logger
}

// NewClient builds a client from WARDEN_* environment variables, then
// applies any options on top.
func NewClient(opts ...Option) *Client {
	c := &Client{
		serverAddr:   os.Getenv("WARDEN_SERVER_ADDR"),
		apiKey:       os.Getenv("WARDEN_API_KEY"),
		agentID:      os.Getenv("WARDEN_AGENT_ID"),
		failMode:     envOrDefault("WARDEN_FAIL_MODE", "open"),
		timeout:      parseDurationEnv("WARDEN_TIMEOUT", 5*time.Second),
		pollInterval: 2 * time.Second,
		maxPolls:     30,
		cacheTTL:     parseDurationEnv("WARDEN_CACHE_TTL", 5*time.Second),
		cacheMaxSize: parseIntEnv("WARDEN_CACHE_MAX_SIZE", 1000),
		logger:       slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
	c.cache = newDecisionCache(c.cacheTTL, c.cacheMaxSize)

	return c
}

// Evaluate submits an agent action to the gateway and returns the
// verdict. A denial comes back as *PolicyDeniedError. A pending verdict
// makes the client poll until a reviewer decides. When the gateway is
// unreachable the fail mode takes over: open yields a synthetic allow,
// closed yields *ServerUnreachableError.
func (c *Client) Evaluate(ctx context.Context, req EvaluateRequest) (*EvaluateResponse, error) {
	if req.AgentID == "" {
		req.AgentID = c.agentID
	}

	key := cacheKey(req)
	if resp, ok := c.cache.get(key); ok {
		return resp, nil
	}

	resp, err := c.doEvaluate(ctx, req)
	if err != nil {
		if isConnectionError(err) {
			if c.failMode == "closed" {
				return nil, &ServerUnreachableError{Cause: err}
			}
			c.logger.Warn("warden server unreachable, failing open",
				"server_addr", c.serverAddr,
				"error", err,
			)
			return &EvaluateResponse{
				Status:    StatusSuccess,
				Decision:  DecisionAllow,
				Message:   "server unreachable, fail-open",
				Forwarded: true,
			}, nil
		}
		return nil, err
	}

	switch resp.Status {
	case StatusSuccess:
		// Only genuine allows are cached: a shadow-logged verdict changes
		// meaning the moment the gateway flips to enforce mode.
		if resp.Decision == DecisionAllow {
			c.cache.put(key, resp)
		}
		return resp, nil

	case StatusDenied:
		return nil, &PolicyDeniedError{
			RequestID: resp.RequestID,
			Message:   resp.Message,
			RiskLevel: resp.RiskLevel,
		}

	case StatusPending:
		return c.pollApproval(ctx, resp)

	default:
		return resp, nil
	}
}

// Check collapses Evaluate into a yes/no: true when the action may
// proceed, false on denial. Denial itself is not an error here; only
// transport and protocol failures are.
func (c *Client) Check(ctx context.Context, req EvaluateRequest) (bool, error) {
	resp, err := c.Evaluate(ctx, req)
	if err != nil {
		var denied *PolicyDeniedError
		if errors.As(err, &denied) {
			return false, nil
		}
		return false, err
	}
	return resp.Forwarded, nil
}

// Approval fetches a pending approval record by id. Once a reviewer
// decides (or the record expires) the gateway forgets it; that case
// comes back as *ApprovalResolvedError.
func (c *Client) Approval(ctx context.Context, approvalID string) (*ApprovalStatus, error) {
	status, body, err := c.doRequest(ctx, http.MethodGet, approvalPath(approvalID), nil)
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusOK:
		var st ApprovalStatus
		if err := json.Unmarshal(body, &st); err != nil {
			return nil, fmt.Errorf("decode approval: %w", err)
		}
		return &st, nil
	case http.StatusNotFound:
		return nil, &ApprovalResolvedError{ApprovalID: approvalID}
	default:
		return nil, httpError(status, body)
	}
}

// doEvaluate posts to the evaluate endpoint. The gateway answers with
// the same envelope on 200 (success), 202 (pending approval), and 403
// (denied); any other status is a protocol error.
func (c *Client) doEvaluate(ctx context.Context, req EvaluateRequest) (*EvaluateResponse, error) {
	status, body, err := c.doRequest(ctx, http.MethodPost, "/api/v1/gateway/evaluate", req)
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusOK, http.StatusAccepted, http.StatusForbidden:
		var resp EvaluateResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("decode verdict: %w", err)
		}
		return &resp, nil
	default:
		return nil, httpError(status, body)
	}
}

// pollApproval watches the approval endpoint until the record disappears
// or the poll budget runs out. The gateway consumes approval records on
// decision, so a 404 here means decided-or-expired, not "never existed";
// the verdict itself is not observable from this endpoint.
func (c *Client) pollApproval(ctx context.Context, resp *EvaluateResponse) (*EvaluateResponse, error) {
	if resp.ApprovalID == nil {
		return resp, nil
	}
	approvalID := *resp.ApprovalID

	for i := 0; i < c.maxPolls; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}

		status, _, err := c.doRequest(ctx, http.MethodGet, approvalPath(approvalID), nil)
		if err != nil {
			c.logger.Warn("approval status poll failed",
				"approval_id", approvalID,
				"error", err,
			)
			continue
		}

		switch status {
		case http.StatusOK:
			// Still pending.
		case http.StatusNotFound:
			return nil, &ApprovalResolvedError{
				ApprovalID: approvalID,
				RequestID:  resp.RequestID,
			}
		default:
			c.logger.Warn("approval status poll returned unexpected status",
				"approval_id", approvalID,
				"status", status,
			)
		}
	}

	return nil, &ApprovalTimeoutError{
		ApprovalID: approvalID,
		RequestID:  resp.RequestID,
	}
}

func approvalPath(approvalID string) string {
	return "/api/v1/approvals/" + approvalID
}

// httpError wraps a status the SDK has no handling for.
func httpError(status int, body []byte) *GatewayError {
	return &GatewayError{
		Code: fmt.Sprintf("HTTP_%d", status),
		Err:  fmt.Errorf("server returned %d: %s", status, body),
	}
}

// doRequest runs one HTTP exchange and hands back the status code with
// the raw body. Only transport-level failures surface as errors; what a
// given status means is the caller's business.
func (c *Client) doRequest(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("encode request: %w", err)
		}
		payload = bytes.NewReader(raw)
	}

	url := strings.TrimRight(c.serverAddr, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, url, payload)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, raw, nil
}

// isConnectionError separates transport failures (DNS, refused
// connections, TLS, timeouts) from responses the server actually sent.
// A GatewayError means bytes came back, so everything else counts.
func isConnectionError(err error) bool {
	var gwErr *GatewayError
	return err != nil && !errors.As(err, &gwErr)
}

// cacheKey folds the request identity into a fixed-size key: who, what
// kind of action, which target, and a digest of the parameters.
func cacheKey(req EvaluateRequest) string {
	var params []byte
	if req.Parameters != nil {
		params, _ = json.Marshal(req.Parameters)
	}
	digest := sha256.Sum256(params)
	return fmt.Sprintf("%s:%s:%s:%x", req.AgentID, req.ActionType, req.TargetResource, digest[:8])
}

// decisionCache holds allow verdicts briefly, so agent loops that repeat
// an action do not pay a network round trip on every iteration.
type decisionCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	entries map[string]cacheLine
}

type cacheLine struct {
	resp    *EvaluateResponse
	expires time.Time
	stored  time.Time
}

func newDecisionCache(ttl time.Duration, max int) *decisionCache {
	return &decisionCache{
		ttl:     ttl,
		max:     max,
		entries: make(map[string]cacheLine),
	}
}

func (dc *decisionCache) get(key string) (*EvaluateResponse, bool) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	line, ok := dc.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(line.expires) {
		delete(dc.entries, key)
		return nil, false
	}
	return line.resp, true
}

func (dc *decisionCache) put(key string, resp *EvaluateResponse) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	if len(dc.entries) >= dc.max {
		dc.evictLocked()
	}
	now := time.Now()
	dc.entries[key] = cacheLine{resp: resp, expires: now.Add(dc.ttl), stored: now}
}

// evictLocked drops expired lines first and, when everything is still
// live, the oldest line, so a put always finds room.
func (dc *decisionCache) evictLocked() {
	now := time.Now()
	for k, line := range dc.entries {
		if now.After(line.expires) {
			delete(dc.entries, k)
		}
	}
	if len(dc.entries) < dc.max {
		return
	}

	var oldestKey string
	var oldest time.Time
	for k, line := range dc.entries {
		if oldest.IsZero() || line.stored.Before(oldest) {
			oldest = line.stored
			oldestKey = k
		}
	}
	delete(dc.entries, oldestKey)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// parseDurationEnv accepts bare integers as seconds ("10") as well as Go
// duration strings ("250ms").
func parseDurationEnv(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return fallback
}

func parseIntEnv(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return fallback
}
