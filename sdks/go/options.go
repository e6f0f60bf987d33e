package warden

import (
	"log/slog"
	"net/http"
	"time"
)

// Option adjusts a Client at construction time. Options win over the
// WARDEN_* environment variables read by NewClient.
type Option func(*Client)

// WithServerAddr points the client at a specific gateway rather than
// WARDEN_SERVER_ADDR.
func WithServerAddr(addr string) Option {
	return func(c *Client) { c.serverAddr = addr }
}

// WithAPIKey authenticates with the given key rather than WARDEN_API_KEY.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithAgentID supplies the agent id used when an EvaluateRequest carries
// none of its own.
func WithAgentID(id string) Option {
	return func(c *Client) { c.agentID = id }
}

// WithFailMode picks what happens when the gateway is unreachable:
// "open" allows the action, "closed" denies it. The default comes from
// WARDEN_FAIL_MODE, falling back to open.
func WithFailMode(mode string) Option {
	return func(c *Client) { c.failMode = mode }
}

// WithTimeout bounds each HTTP request. Five seconds when unset.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithCacheTTL bounds how long a cached decision stays servable. The
// default comes from WARDEN_CACHE_TTL, falling back to five seconds.
func WithCacheTTL(d time.Duration) Option {
	return func(c *Client) { c.cacheTTL = d }
}

// WithCacheMaxSize caps the decision cache entry count. 1000 when unset.
func WithCacheMaxSize(n int) Option {
	return func(c *Client) { c.cacheMaxSize = n }
}

// WithHTTPClient swaps in a custom http.Client, for tests, proxies, or
// tuned transports.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger routes SDK warnings (unreachable server, failed polls)
// somewhere other than slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}
