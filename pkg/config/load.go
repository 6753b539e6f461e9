package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LLAMACHAT_"

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// Environment variables are not consulted; use LoadConfigWithEnvOverrides
// for that.
func LoadConfig(path string) (*Config, error) {
	cfg, err := load(path)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides (LLAMACHAT_SECTION_FIELD) before validating.
//
// The loading sequence is:
// 1. Start from Default()
// 2. Decode the YAML file on top
// 3. Apply environment variable overrides
// 4. Validate final configuration
//
// An empty path skips step 2.
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := load(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyDefaults(cfg)
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Server overrides
	envString("SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	envDuration("SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("SERVER_IDLE_TIMEOUT", &cfg.Server.IdleTimeout)
	envDuration("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	envBool("SERVER_TLS_ENABLED", &cfg.Server.TLS.Enabled)
	envString("SERVER_TLS_CERT_FILE", &cfg.Server.TLS.CertFile)
	envString("SERVER_TLS_KEY_FILE", &cfg.Server.TLS.KeyFile)

	// Inference overrides
	envString("INFERENCE_ENDPOINT", &cfg.Inference.Endpoint)
	envDuration("INFERENCE_TIMEOUT", &cfg.Inference.Timeout)
	envInt("INFERENCE_MAX_RETRIES", &cfg.Inference.MaxRetries)
	envDuration("INFERENCE_HEALTH_CHECK_INTERVAL", &cfg.Inference.HealthCheckInterval)

	// Storage overrides
	envString("STORAGE_DRIVER", &cfg.Storage.Driver)
	envString("STORAGE_PATH", &cfg.Storage.Path)

	// Auth overrides
	envString("AUTH_SESSION_SECRET", &cfg.Auth.SessionSecret)
	envString("AUTH_COOKIE_NAME", &cfg.Auth.CookieName)
	envDuration("AUTH_SESSION_TTL", &cfg.Auth.SessionTTL)
	envBool("AUTH_SECURE_COOKIE", &cfg.Auth.SecureCookie)
	envString("SECRETS_DIR", &cfg.Secrets.Dir)

	// Quota overrides
	envBool("QUOTA_ENFORCE", &cfg.Quota.Enforce)
	envString("QUOTA_RESET_SCHEDULE", &cfg.Quota.ResetSchedule)

	// WebSocket overrides
	envFloat("WEBSOCKET_MESSAGES_PER_SECOND", &cfg.WebSocket.MessagesPerSecond)
	envInt("WEBSOCKET_BURST", &cfg.WebSocket.Burst)
	if val := os.Getenv(EnvPrefix + "WEBSOCKET_ALLOWED_ORIGINS"); val != "" {
		cfg.WebSocket.AllowedOrigins = splitList(val)
	}

	// Telemetry overrides
	envString("LOGGING_LEVEL", &cfg.Logging.Level)
	envString("LOGGING_FORMAT", &cfg.Logging.Format)
	envBool("METRICS_ENABLED", &cfg.Metrics.Enabled)
	envBool("TRACING_ENABLED", &cfg.Tracing.Enabled)
	envString("TRACING_ENDPOINT", &cfg.Tracing.Endpoint)
	envFloat("TRACING_SAMPLE_RATIO", &cfg.Tracing.SampleRatio)

	// CORS overrides
	envBool("CORS_ENABLED", &cfg.CORS.Enabled)
	if val := os.Getenv(EnvPrefix + "CORS_ALLOWED_ORIGINS"); val != "" {
		cfg.CORS.AllowedOrigins = splitList(val)
	}

	envString("APP_NAME", &cfg.App.Name)
}

func envString(key string, dst *string) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		*dst = val
	}
}

func envDuration(key string, dst *time.Duration) {
	val := os.Getenv(EnvPrefix + key)
	if val == "" {
		return
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		slog.Warn("ignoring invalid duration override", "variable", EnvPrefix+key, "value", val)
		return
	}
	*dst = d
}

func envInt(key string, dst *int) {
	val := os.Getenv(EnvPrefix + key)
	if val == "" {
		return
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		slog.Warn("ignoring invalid integer override", "variable", EnvPrefix+key, "value", val)
		return
	}
	*dst = i
}

func envFloat(key string, dst *float64) {
	val := os.Getenv(EnvPrefix + key)
	if val == "" {
		return
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		slog.Warn("ignoring invalid number override", "variable", EnvPrefix+key, "value", val)
		return
	}
	*dst = f
}

func envBool(key string, dst *bool) {
	val := os.Getenv(EnvPrefix + key)
	if val == "" {
		return
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		slog.Warn("ignoring invalid boolean override", "variable", EnvPrefix+key, "value", val)
		return
	}
	*dst = b
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
