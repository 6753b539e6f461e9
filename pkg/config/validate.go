package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. All errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateInference(&cfg.Inference)...)
	errs = append(errs, validateStorage(&cfg.Storage)...)
	errs = append(errs, validateAuth(&cfg.Auth)...)
	errs = append(errs, validateQuota(&cfg.Quota)...)
	errs = append(errs, validateWebSocket(&cfg.WebSocket)...)
	errs = append(errs, validateTelemetry(cfg)...)
	errs = append(errs, validateCORS(&cfg.CORS)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{Field: "server.listen_address", Message: "listen address is required"})
	}
	if cfg.ReadTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.read_timeout", Message: "read timeout must be positive"})
	}
	if cfg.WriteTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.write_timeout", Message: "write timeout must not be negative"})
	}
	if cfg.IdleTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.idle_timeout", Message: "idle timeout must be positive"})
	}
	if cfg.MaxHeaderBytes < 0 {
		errs = append(errs, FieldError{Field: "server.max_header_bytes", Message: "max header bytes must be non-negative"})
	}
	if cfg.MaxBodyBytes < 0 {
		errs = append(errs, FieldError{Field: "server.max_body_bytes", Message: "max body bytes must be non-negative"})
	}
	if tls := cfg.TLS; tls.Enabled {
		if tls.CertFile == "" {
			errs = append(errs, FieldError{Field: "server.tls.cert_file", Message: "cert file is required when TLS is enabled"})
		}
		if tls.KeyFile == "" {
			errs = append(errs, FieldError{Field: "server.tls.key_file", Message: "key file is required when TLS is enabled"})
		}
	}
	switch cfg.TLS.MinVersion {
	case "", "1.2", "1.3":
	default:
		errs = append(errs, FieldError{Field: "server.tls.min_version", Message: fmt.Sprintf("unsupported TLS version %q (want 1.2 or 1.3)", cfg.TLS.MinVersion)})
	}
	if cfg.TLS.ReloadInterval < 0 {
		errs = append(errs, FieldError{Field: "server.tls.reload_interval", Message: "reload interval must not be negative"})
	}
	return errs
}

func validateInference(cfg *InferenceConfig) []FieldError {
	var errs []FieldError

	if cfg.Endpoint == "" {
		errs = append(errs, FieldError{Field: "inference.endpoint", Message: "endpoint is required"})
	} else if u, err := url.Parse(cfg.Endpoint); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, FieldError{
			Field:   "inference.endpoint",
			Message: fmt.Sprintf("invalid endpoint %q: must be an http(s) URL", cfg.Endpoint),
		})
	}
	if cfg.Timeout < 0 {
		errs = append(errs, FieldError{Field: "inference.timeout", Message: "timeout must be positive"})
	}
	if cfg.MaxRetries < 0 || cfg.MaxRetries > 10 {
		errs = append(errs, FieldError{Field: "inference.max_retries", Message: "max retries must be between 0 and 10"})
	}
	if cfg.HealthCheckInterval < 0 {
		errs = append(errs, FieldError{Field: "inference.health_check_interval", Message: "health check interval must not be negative"})
	}
	if cfg.MaxLineBytes < 1024 {
		errs = append(errs, FieldError{Field: "inference.max_line_bytes", Message: "max line bytes must be at least 1024"})
	}
	return errs
}

func validateStorage(cfg *StorageConfig) []FieldError {
	var errs []FieldError

	switch cfg.Driver {
	case "sqlite", "sqlite3":
		if cfg.Path == "" {
			errs = append(errs, FieldError{Field: "storage.path", Message: "path is required for sqlite storage"})
		}
	case "memory":
	default:
		errs = append(errs, FieldError{
			Field:   "storage.driver",
			Message: fmt.Sprintf("invalid driver %q: must be 'sqlite', 'sqlite3' or 'memory'", cfg.Driver),
		})
	}
	if cfg.BusyTimeout < 0 {
		errs = append(errs, FieldError{Field: "storage.busy_timeout", Message: "busy timeout must not be negative"})
	}
	return errs
}

func validateAuth(cfg *AuthConfig) []FieldError {
	var errs []FieldError

	if cfg.CookieName == "" {
		errs = append(errs, FieldError{Field: "auth.cookie_name", Message: "cookie name is required"})
	}
	if cfg.SessionTTL <= 0 {
		errs = append(errs, FieldError{Field: "auth.session_ttl", Message: "session TTL must be positive"})
	}
	// References are checked once resolved.
	if cfg.SessionSecret != "" && !strings.Contains(cfg.SessionSecret, "${secret:") && len(cfg.SessionSecret) < 16 {
		errs = append(errs, FieldError{Field: "auth.session_secret", Message: "session secret must be at least 16 characters"})
	}
	if cfg.LoginRatePerMinute < 0 {
		errs = append(errs, FieldError{Field: "auth.login_rate_per_minute", Message: "login rate must not be negative"})
	}
	if cfg.LoginBurst < 0 {
		errs = append(errs, FieldError{Field: "auth.login_burst", Message: "login burst must not be negative"})
	}
	return errs
}

func validateQuota(cfg *QuotaConfig) []FieldError {
	if cfg.ResetSchedule == "" {
		return nil
	}
	if _, err := cron.ParseStandard(cfg.ResetSchedule); err != nil {
		return []FieldError{{
			Field:   "quota.reset_schedule",
			Message: fmt.Sprintf("invalid cron expression %q: %v", cfg.ResetSchedule, err),
		}}
	}
	return nil
}

func validateWebSocket(cfg *WebSocketConfig) []FieldError {
	var errs []FieldError

	if !strings.HasPrefix(cfg.Path, "/") {
		errs = append(errs, FieldError{Field: "websocket.path", Message: "path must start with /"})
	}
	if cfg.MessagesPerSecond <= 0 {
		errs = append(errs, FieldError{Field: "websocket.messages_per_second", Message: "messages per second must be positive"})
	}
	if cfg.Burst <= 0 {
		errs = append(errs, FieldError{Field: "websocket.burst", Message: "burst must be positive"})
	}
	if cfg.PingInterval >= cfg.PongWait {
		errs = append(errs, FieldError{Field: "websocket.ping_interval", Message: "ping interval must be shorter than pong wait"})
	}
	if cfg.WriteWait <= 0 {
		errs = append(errs, FieldError{Field: "websocket.write_wait", Message: "write wait must be positive"})
	}
	if cfg.SendBuffer <= 0 {
		errs = append(errs, FieldError{Field: "websocket.send_buffer", Message: "send buffer must be positive"})
	}
	return errs
}

func validateTelemetry(cfg *Config) []FieldError {
	var errs []FieldError

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		errs = append(errs, FieldError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid logging level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.Logging.Level),
		})
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.Logging.Format] {
		errs = append(errs, FieldError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid logging format %q: must be 'json' or 'text'", cfg.Logging.Format),
		})
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{Field: "metrics.path", Message: "metrics path must start with /"})
	}

	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		errs = append(errs, FieldError{Field: "tracing.endpoint", Message: "tracing endpoint is required when tracing is enabled"})
	}
	switch cfg.Tracing.Sampler {
	case "always", "never", "ratio":
	default:
		errs = append(errs, FieldError{
			Field:   "tracing.sampler",
			Message: fmt.Sprintf("invalid sampler %q: must be 'always', 'never' or 'ratio'", cfg.Tracing.Sampler),
		})
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1.0 {
		errs = append(errs, FieldError{Field: "tracing.sample_ratio", Message: "sample ratio must be between 0.0 and 1.0"})
	}
	return errs
}

func validateCORS(cfg *CORSConfig) []FieldError {
	if !cfg.Enabled || !cfg.AllowCredentials {
		return nil
	}
	for _, origin := range cfg.AllowedOrigins {
		if origin == "*" {
			return []FieldError{{
				Field:   "cors.allowed_origins",
				Message: "wildcard origin cannot be used with allow_credentials",
			}}
		}
	}
	return nil
}
