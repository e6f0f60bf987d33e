package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, it searches for warden.yaml/.yml in
// standard locations. The search requires an explicit YAML extension to
// avoid matching the binary itself, which Viper's built-in SetConfigName
// would match (same base name, no extension).
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file found in any standard location.
		// Set name/type without search paths so ReadInConfig returns
		// ConfigFileNotFoundError (handled gracefully by callers).
		viper.SetConfigName("warden")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: WARDEN_SERVER_HTTP_ADDR
	viper.SetEnvPrefix("WARDEN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for a warden config file with
// an explicit YAML extension (.yaml or .yml).
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".warden"),
	}
	if runtime.GOOS == "windows" {
		// %ProgramData%\warden (typically C:\ProgramData\warden)
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "warden"))
		}
	} else {
		paths = append(paths, "/etc/warden")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for warden.yaml or
// .yml. Returns the full path of the first match, or empty string.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "warden"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds the scalar config keys for environment variable
// support. Example: WARDEN_SERVER_HTTP_ADDR overrides server.http_addr.
// Array values (auth.api_keys) must come from the config file.
func bindNestedEnvKeys() {
	// Server
	_ = viper.BindEnv("server.http_addr")
	_ = viper.BindEnv("server.log_level")
	_ = viper.BindEnv("server.mode")
	_ = viper.BindEnv("server.tls_cert_file")
	_ = viper.BindEnv("server.tls_key_file")

	// Redis
	_ = viper.BindEnv("redis.enabled")
	_ = viper.BindEnv("redis.url")
	_ = viper.BindEnv("redis.dial_timeout")
	_ = viper.BindEnv("redis.read_timeout")
	_ = viper.BindEnv("redis.write_timeout")

	// Policy
	_ = viper.BindEnv("policy.cache_ttl")
	_ = viper.BindEnv("policy.block_threshold")
	_ = viper.BindEnv("policy.approval_threshold")
	_ = viper.BindEnv("policy.seed_defaults")
	_ = viper.BindEnv("policy.seed_file")

	// Rate limit
	_ = viper.BindEnv("rate_limit.requests")
	_ = viper.BindEnv("rate_limit.window_seconds")

	// Approval
	_ = viper.BindEnv("approval.webhook_url")
	_ = viper.BindEnv("approval.webhook_timeout")
	_ = viper.BindEnv("approval.ttl")

	// Audit
	_ = viper.BindEnv("audit.backend")
	_ = viper.BindEnv("audit.path")
	_ = viper.BindEnv("audit.channel_size")
	_ = viper.BindEnv("audit.batch_size")
	_ = viper.BindEnv("audit.flush_interval")
	_ = viper.BindEnv("audit.send_timeout")
	_ = viper.BindEnv("audit.retention_days")
	_ = viper.BindEnv("audit.max_file_size_mb")

	// Telemetry
	_ = viper.BindEnv("telemetry.tracing_enabled")

	// Metrics
	_ = viper.BindEnv("metrics.enabled")

	// Dev mode
	_ = viper.BindEnv("dev_mode")
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and validates.
// Note: when CLI flags may override DevMode, use LoadConfigRaw, apply the
// flags, then call cfg.SetDevDefaults() and cfg.Validate().
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}

	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults, but
// does NOT apply dev defaults or validate.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - continue with env vars only.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path of the loaded configuration file, or an
// empty string when running on env vars only.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
