package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/agent-warden/warden/internal/adapter/inbound/http"
	auditfile "github.com/agent-warden/warden/internal/adapter/outbound/audit"
	"github.com/agent-warden/warden/internal/adapter/outbound/cel"
	"github.com/agent-warden/warden/internal/adapter/outbound/memory"
	"github.com/agent-warden/warden/internal/adapter/outbound/redisstore"
	"github.com/agent-warden/warden/internal/adapter/outbound/sqlitestore"
	"github.com/agent-warden/warden/internal/adapter/outbound/webhook"
	"github.com/agent-warden/warden/internal/config"
	"github.com/agent-warden/warden/internal/domain/approval"
	"github.com/agent-warden/warden/internal/domain/audit"
	"github.com/agent-warden/warden/internal/domain/auth"
	"github.com/agent-warden/warden/internal/domain/gateway"
	"github.com/agent-warden/warden/internal/domain/pii"
	"github.com/agent-warden/warden/internal/domain/policy"
	"github.com/agent-warden/warden/internal/domain/ratelimit"
	"github.com/agent-warden/warden/internal/domain/stats"
	"github.com/agent-warden/warden/internal/service"
	"github.com/agent-warden/warden/internal/telemetry"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway server",
	Long: `Start the Warden gateway server.

The gateway evaluates agent action requests against policy rules and either
allows, denies, or suspends them for human approval, depending on the
current mode (SHADOW observes, ENFORCE acts).

Redis backs the policy cache, rate limiter, approval store, and stats
counters when reachable; otherwise the gateway degrades to in-memory
stores and keeps serving.

Examples:
  # Start with config file settings
  warden start

  # Start with a specific config file
  warden --config /path/to/warden.yaml start

  # Start in development mode (no API key verification, debug logging)
  warden start --dev`,
	RunE: runStart,
}

var devMode bool

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (verbose logging, no key verification)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	// Load configuration (without validation, so CLI flags can override first)
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Override dev mode from CLI flag
	if devMode {
		cfg.DevMode = true
	}

	// Apply dev defaults (debug logging unless pinned)
	cfg.SetDevDefaults()

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// Create signal context for graceful shutdown.
	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals()...)
	go func() {
		<-ctx.Done()
		stop() // Restore default: next Ctrl+C = immediate exit.
	}()

	// Setup logger to stderr (stdout reserved for the stdout audit backend)
	// Priority: DevMode=true -> debug, otherwise use configured log_level
	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)
	logger.Debug("log level configured", "level", cfg.Server.LogLevel, "effective", logLevel.String())

	// Log config file used if any
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	// Write PID file so "warden stop" can find us.
	pidPath := pidFilePath()
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer os.Remove(pidPath)
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}

	logger.Info("warden stopped")
	return nil
}

// run is the main orchestration function that wires all components together.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// Record start time for uptime reporting on the service info endpoint.
	startTime := time.Now().UTC()

	// ===== BOOT-01: Authentication mode check =====
	if !cfg.SecureMode() {
		logger.Warn("no API keys configured: running in dev mode, agent keys are shape-checked but not verified")
	} else {
		logger.Info("secure mode enabled", "api_keys", len(cfg.Auth.APIKeys))
	}

	// ===== BOOT-02: Telemetry =====
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.TracingEnabled,
		ServiceVersion: Version,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	// ===== BOOT-03: Gateway mode controller =====
	initialMode, err := gateway.ParseMode(cfg.Server.Mode)
	if err != nil {
		return fmt.Errorf("invalid gateway mode: %w", err)
	}
	modes := gateway.NewModeController(initialMode)
	logger.Info("gateway mode", "mode", initialMode, "description", initialMode.Description())

	// ===== BOOT-04: Backing stores (Redis with in-memory fallback) =====
	var (
		policyStore   policy.Store
		limiter       ratelimit.Limiter
		approvalStore approval.Store
		statsStore    stats.Store
		redisPing     func(ctx context.Context) bool
	)

	cacheTTL := parseDurationOr(cfg.Policy.CacheTTL, 5*time.Minute, "policy.cache_ttl", logger)
	limitConfig := ratelimit.Config{
		Requests: cfg.RateLimit.Requests,
		Window:   time.Duration(cfg.RateLimit.WindowSeconds) * time.Second,
	}

	if cfg.Redis.Enabled {
		client, err := redisstore.NewClient(ctx, cfg.Redis.URL,
			redisstore.WithDialTimeout(parseDurationOr(cfg.Redis.DialTimeout, 5*time.Second, "redis.dial_timeout", logger)),
			redisstore.WithReadTimeout(parseDurationOr(cfg.Redis.ReadTimeout, 3*time.Second, "redis.read_timeout", logger)),
			redisstore.WithWriteTimeout(parseDurationOr(cfg.Redis.WriteTimeout, 3*time.Second, "redis.write_timeout", logger)),
		)
		if err != nil {
			logger.Warn("redis unreachable, falling back to in-memory stores",
				"url", cfg.Redis.URL, "error", err)
		} else {
			defer func() { _ = client.Close() }()
			policyStore = redisstore.NewPolicyStore(client, redisstore.WithCacheTTL(cacheTTL))
			limiter = redisstore.NewRateLimiter(client, limitConfig)
			approvalStore = redisstore.NewApprovalStore(client)
			statsStore = redisstore.NewStatsStore(client)
			redisPing = func(ctx context.Context) bool {
				return client.Ping(ctx).Err() == nil
			}
			logger.Info("redis connected", "url", cfg.Redis.URL)
		}
	} else {
		logger.Info("redis disabled, using in-memory stores")
	}

	if policyStore == nil {
		policyStore = memory.NewPolicyStore()

		memLimiter := memory.NewRateLimiter(limitConfig)
		memLimiter.StartCleanup(ctx)
		defer memLimiter.Stop()
		limiter = memLimiter

		memApprovals := memory.NewApprovalStore()
		memApprovals.StartCleanup(ctx)
		defer memApprovals.Stop()
		approvalStore = memApprovals

		statsStore = memory.NewStatsStore()
	}

	// ===== BOOT-05: Audit trail =====
	auditStore, auditQuery, auditPing, auditClose, err := buildAuditStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create audit store: %w", err)
	}
	if auditClose != nil {
		defer func() { _ = auditClose() }()
	}

	auditService := service.NewAuditService(auditStore, logger,
		service.WithChannelSize(cfg.Audit.ChannelSize),
		service.WithBatchSize(cfg.Audit.BatchSize),
		service.WithFlushInterval(parseDurationOr(cfg.Audit.FlushInterval, time.Second, "audit.flush_interval", logger)),
		service.WithSendTimeout(parseDurationOr(cfg.Audit.SendTimeout, 100*time.Millisecond, "audit.send_timeout", logger)),
	)
	auditService.Start(ctx)
	defer auditService.Stop()
	logger.Info("audit trail started",
		"backend", cfg.Audit.Backend,
		"channel_size", cfg.Audit.ChannelSize,
		"batch_size", cfg.Audit.BatchSize,
	)

	// ===== BOOT-06: Policy engine + rule seeding =====
	compiler, err := cel.NewCompiler()
	if err != nil {
		return fmt.Errorf("failed to create expression compiler: %w", err)
	}

	engine := service.NewPolicyEngine(policyStore, pii.NewRegexScanner(), modes, logger,
		service.WithThresholds(cfg.Policy.BlockThreshold, cfg.Policy.ApprovalThreshold),
		service.WithExprCompiler(compiler),
	)

	if cfg.Policy.SeedDefaults {
		if _, err := service.SeedDefaultRules(ctx, policyStore, logger); err != nil {
			// Non-fatal: the engine falls back to its built-in default set.
			logger.Warn("failed to seed default rules", "error", err)
		}
	}
	if cfg.Policy.SeedFile != "" {
		if _, err := service.SeedRulesFile(ctx, policyStore, cfg.Policy.SeedFile, logger); err != nil {
			return fmt.Errorf("failed to seed rules from file: %w", err)
		}
	}

	// ===== BOOT-07: Metrics registry =====
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := http.NewMetrics(reg)
	metrics.SetGatewayMode(modes.Mode())
	http.RegisterAuditDrops(reg, auditService.DroppedRecords)

	if active, err := policyStore.ListActive(ctx); err == nil {
		metrics.ActivePolicies.Set(float64(len(active)))
		logger.Info("policy rules loaded", "rules", len(active))
	}

	// ===== BOOT-08: Circuit breaker + approval webhook =====
	breakerOpts := []service.BreakerOption{
		service.WithApprovalTTL(parseDurationOr(cfg.Approval.TTL, 24*time.Hour, "approval.ttl", logger)),
	}
	if cfg.Approval.WebhookURL != "" {
		notifier := webhook.NewNotifier(cfg.Approval.WebhookURL,
			webhook.WithTimeout(parseDurationOr(cfg.Approval.WebhookTimeout, 5*time.Second, "approval.webhook_timeout", logger)),
		)
		breakerOpts = append(breakerOpts, service.WithNotifier(&observedNotifier{
			next:    notifier,
			observe: metrics.WebhookObserver(),
		}))
		logger.Info("approval webhook configured", "url", cfg.Approval.WebhookURL)
	} else {
		logger.Info("no approval webhook configured, approvals decided via API only")
	}
	breaker := service.NewCircuitBreaker(modes, approvalStore, logger, breakerOpts...)

	recorder := service.NewDecisionRecorder(auditService, statsStore, logger)

	// ===== BOOT-09: Authentication =====
	var keyService *auth.APIKeyService
	if cfg.SecureMode() {
		authStore := memory.NewAuthStore()
		now := time.Now().UTC()
		for _, kc := range cfg.Auth.APIKeys {
			authStore.Add(&auth.Credential{
				KeyHash: kc.KeyHash,
				Agent: auth.Agent{
					ID:          kc.AgentID,
					Name:        kc.AgentName,
					Permissions: kc.Permissions,
				},
				CreatedAt: now,
			})
		}
		keyService = auth.NewAPIKeyService(authStore)
	}

	// ===== BOOT-10: HTTP API =====
	api := http.NewHandler(
		http.WithEngine(engine),
		http.WithBreaker(breaker),
		http.WithRecorder(recorder),
		http.WithPolicyStore(policyStore),
		http.WithRateLimiter(limiter),
		http.WithRateLimitConfig(limitConfig),
		http.WithAuditReader(auditQuery),
		http.WithStatsStore(statsStore),
		http.WithHandlerMetrics(metrics),
		http.WithHandlerLogger(logger),
		http.WithVersion(Version),
		http.WithStartTime(startTime),
	)

	health := http.NewHealthChecker(modes, redisPing, auditPing, auditService, metrics, Version)

	serverOpts := []http.ServerOption{
		http.WithAddr(cfg.Server.HTTPAddr),
		http.WithLogger(logger),
		http.WithHealthChecker(health),
		http.WithAPIKeyService(keyService),
		http.WithPrometheus(reg, metrics),
	}
	if cfg.Server.TLSCertFile != "" && cfg.Server.TLSKeyFile != "" {
		serverOpts = append(serverOpts, http.WithTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile))
	}
	server := http.NewServer(api, serverOpts...)

	// ===== BOOT-11: Startup banner + serve =====
	logger.Info("warden starting",
		"version", Version,
		"mode", modes.Mode(),
		"dev_mode", cfg.DevMode,
		"http_addr", cfg.Server.HTTPAddr,
		"redis", redisPing != nil,
		"audit_backend", cfg.Audit.Backend,
		"secure_mode", cfg.SecureMode(),
		"tracing", cfg.Telemetry.TracingEnabled,
	)
	printBanner(cfg, modes.Mode(), redisPing != nil)

	return server.Start(ctx)
}

// buildAuditStore creates the configured audit backend. It returns the write
// store, the query surface, an optional connectivity probe, and an optional
// closer, in that order.
func buildAuditStore(cfg *config.Config, logger *slog.Logger) (audit.Store, audit.QueryStore, func(ctx context.Context) error, func() error, error) {
	switch cfg.Audit.Backend {
	case "sqlite":
		if cfg.Audit.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.Audit.Path), 0o755); err != nil {
				return nil, nil, nil, nil, fmt.Errorf("create audit directory: %w", err)
			}
		}
		store, err := sqlitestore.NewAuditStore(sqlitestore.Config{Path: cfg.Audit.Path})
		if err != nil {
			return nil, nil, nil, nil, err
		}
		logger.Debug("audit backend: sqlite", "path", cfg.Audit.Path)
		return store, store, store.Ping, store.Close, nil

	case "file":
		store, err := auditfile.NewFileStore(auditfile.FileConfig{
			Dir:           cfg.Audit.Path,
			RetentionDays: cfg.Audit.RetentionDays,
			MaxFileSizeMB: cfg.Audit.MaxFileSizeMB,
		})
		if err != nil {
			return nil, nil, nil, nil, err
		}
		logger.Debug("audit backend: file", "dir", cfg.Audit.Path,
			"retention_days", cfg.Audit.RetentionDays, "max_file_size_mb", cfg.Audit.MaxFileSizeMB)
		return store, store, nil, store.Close, nil

	case "stdout":
		store := memory.NewAuditStoreWithWriter(os.Stdout)
		logger.Debug("audit backend: stdout")
		return store, store, nil, nil, nil

	default:
		return nil, nil, nil, nil, fmt.Errorf("invalid audit backend: %s (must be sqlite, file, or stdout)", cfg.Audit.Backend)
	}
}

// observedNotifier wraps an approval notifier with a per-delivery outcome
// callback for the webhook metrics counter.
type observedNotifier struct {
	next    approval.Notifier
	observe func(outcome string)
}

func (n *observedNotifier) Notify(ctx context.Context, req *approval.Request) error {
	if err := n.next.Notify(ctx, req); err != nil {
		n.observe("error")
		return err
	}
	n.observe("ok")
	return nil
}

// parseDurationOr parses a config duration string, logging a warning and
// returning the fallback when the value does not parse. Validation rejects
// malformed durations earlier; this keeps a defaulted boot path total.
func parseDurationOr(value string, fallback time.Duration, field string, logger *slog.Logger) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		logger.Warn("invalid duration, using default",
			"field", field, "value", value, "default", fallback)
		return fallback
	}
	return d
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// printBanner prints a formatted startup banner to stderr with version,
// address, mode, and backend summary.
func printBanner(cfg *config.Config, mode gateway.Mode, redisConnected bool) {
	const (
		reset  = "\033[0m"
		bold   = "\033[1m"
		cyan   = "\033[36m"
		green  = "\033[32m"
		yellow = "\033[33m"
		dim    = "\033[2m"
	)

	addr := cfg.Server.HTTPAddr
	apiURL := fmt.Sprintf("http://%s/api/v1/gateway/evaluate", addr)
	metricsURL := fmt.Sprintf("http://%s/metrics", addr)
	if strings.HasPrefix(addr, ":") {
		apiURL = fmt.Sprintf("http://localhost%s/api/v1/gateway/evaluate", addr)
		metricsURL = fmt.Sprintf("http://localhost%s/metrics", addr)
	}

	modeStr := green + string(mode) + reset
	if mode == gateway.ModeShadow {
		modeStr = yellow + string(mode) + reset + dim + " (observe only)" + reset
	}

	authStr := green + "secure" + reset
	if !cfg.SecureMode() {
		authStr = yellow + "dev" + reset + dim + " (keys not verified)" + reset
	}

	backendStr := cfg.Audit.Backend
	cacheStr := "memory"
	if redisConnected {
		cacheStr = "redis"
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  %s%s Warden %s%s\n", bold, cyan, Version, reset)
	fmt.Fprintf(os.Stderr, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Evaluate:", apiURL)
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Metrics:", metricsURL)
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Mode:", modeStr)
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Auth:", authStr)
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Cache:", cacheStr)
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Audit:", backendStr)
	fmt.Fprintf(os.Stderr, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(os.Stderr, "\n")
}

// pidFilePath returns the standard location for the Warden PID file.
func pidFilePath() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".warden", "server.pid")
	}
	return filepath.Join(os.TempDir(), "warden-server.pid")
}

// writePIDFile writes the current process PID to the given path, creating
// parent directories as needed.
func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
}
