package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:5000"
	DefaultReadTimeout     = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxHeaderBytes  = 1048576 // 1MB
	DefaultMaxBodyBytes    = int64(1048576)
	DefaultTLSMinVersion   = "1.2"
	DefaultTLSReload       = 5 * time.Minute

	// Inference defaults
	DefaultInferenceEndpoint    = "http://localhost:11434/api/generate"
	DefaultInferenceTimeout     = 60 * time.Second
	DefaultInferenceMaxRetries  = 2
	DefaultHealthCheckInterval  = 30 * time.Second
	DefaultInferenceMaxLineSize = 1048576

	// Storage defaults
	DefaultStorageDriver      = "sqlite"
	DefaultStoragePath        = "data/llamachat.db"
	DefaultBusyTimeout        = 5 * time.Second
	DefaultCheckpointInterval = 5 * time.Minute

	// Auth defaults
	DefaultCookieName         = "llamachat_session"
	DefaultSessionTTL         = 7 * 24 * time.Hour
	DefaultLoginRatePerMinute = 10.0
	DefaultLoginBurst         = 5

	// Quota defaults
	DefaultQuotaEnforce       = true
	DefaultQuotaResetSchedule = "0 0 1 * *"

	// WebSocket defaults
	DefaultWebSocketPath     = "/ws"
	DefaultWSMessagesPerSec  = 20.0
	DefaultWSBurst           = 40
	DefaultWSPingInterval    = 30 * time.Second
	DefaultWSPongWait        = 60 * time.Second
	DefaultWSWriteWait       = 10 * time.Second
	DefaultWSMaxMessageBytes = int64(65536)
	DefaultWSSendBuffer      = 256

	// Telemetry defaults
	DefaultLoggingLevel      = "info"
	DefaultLoggingFormat     = "json"
	DefaultLoggingRedactPII  = true
	DefaultMetricsEnabled    = true
	DefaultPrometheusPath    = "/metrics"
	DefaultMetricsNamespace  = "llamachat"
	DefaultTracingSampler    = "ratio"
	DefaultTracingRatio      = 0.1
	DefaultTracingService    = "llamachat-relay"
	DefaultTracingInsecure   = true
	DefaultTracingTimeout    = 10 * time.Second
	DefaultCORSMaxAge        = 3600
	DefaultAppName           = "LlamaChat"
)

// Default returns a configuration with every default applied, including
// the boolean ones a zero value cannot express. LoadConfig decodes the
// file on top of it, so a field absent from the file keeps its default
// and an explicit false is respected.
func Default() *Config {
	cfg := &Config{}
	cfg.Quota.Enforce = DefaultQuotaEnforce
	cfg.Logging.RedactPII = DefaultLoggingRedactPII
	cfg.Metrics.Enabled = DefaultMetricsEnabled
	cfg.Tracing.Insecure = DefaultTracingInsecure
	cfg.Quota.ResetSchedule = DefaultQuotaResetSchedule
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults applies default values to any zero-valued field.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.MaxHeaderBytes == 0 {
		cfg.Server.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Server.TLS.MinVersion == "" {
		cfg.Server.TLS.MinVersion = DefaultTLSMinVersion
	}
	if cfg.Server.TLS.ReloadInterval == 0 {
		cfg.Server.TLS.ReloadInterval = DefaultTLSReload
	}

	// Inference defaults
	if cfg.Inference.Endpoint == "" {
		cfg.Inference.Endpoint = DefaultInferenceEndpoint
	}
	if cfg.Inference.Timeout == 0 {
		cfg.Inference.Timeout = DefaultInferenceTimeout
	}
	if cfg.Inference.MaxRetries == 0 {
		cfg.Inference.MaxRetries = DefaultInferenceMaxRetries
	}
	if cfg.Inference.HealthCheckInterval == 0 {
		cfg.Inference.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if cfg.Inference.MaxLineBytes == 0 {
		cfg.Inference.MaxLineBytes = DefaultInferenceMaxLineSize
	}

	// Storage defaults
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DefaultStorageDriver
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = DefaultStoragePath
	}
	if cfg.Storage.BusyTimeout == 0 {
		cfg.Storage.BusyTimeout = DefaultBusyTimeout
	}
	if cfg.Storage.CheckpointInterval == 0 {
		cfg.Storage.CheckpointInterval = DefaultCheckpointInterval
	}

	// Auth defaults
	if cfg.Auth.CookieName == "" {
		cfg.Auth.CookieName = DefaultCookieName
	}
	if cfg.Auth.SessionTTL == 0 {
		cfg.Auth.SessionTTL = DefaultSessionTTL
	}
	if cfg.Auth.LoginRatePerMinute == 0 {
		cfg.Auth.LoginRatePerMinute = DefaultLoginRatePerMinute
	}
	if cfg.Auth.LoginBurst == 0 {
		cfg.Auth.LoginBurst = DefaultLoginBurst
	}

	// WebSocket defaults
	ws := &cfg.WebSocket
	if ws.Path == "" {
		ws.Path = DefaultWebSocketPath
	}
	if ws.MessagesPerSecond == 0 {
		ws.MessagesPerSecond = DefaultWSMessagesPerSec
	}
	if ws.Burst == 0 {
		ws.Burst = DefaultWSBurst
	}
	if ws.PingInterval == 0 {
		ws.PingInterval = DefaultWSPingInterval
	}
	if ws.PongWait == 0 {
		ws.PongWait = DefaultWSPongWait
	}
	if ws.WriteWait == 0 {
		ws.WriteWait = DefaultWSWriteWait
	}
	if ws.MaxMessageBytes == 0 {
		ws.MaxMessageBytes = DefaultWSMaxMessageBytes
	}
	if ws.SendBuffer == 0 {
		ws.SendBuffer = DefaultWSSendBuffer
	}

	// Telemetry defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultPrometheusPath
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Tracing.Sampler == "" {
		cfg.Tracing.Sampler = DefaultTracingSampler
	}
	if cfg.Tracing.SampleRatio == 0 && cfg.Tracing.Sampler == "ratio" {
		cfg.Tracing.SampleRatio = DefaultTracingRatio
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = DefaultTracingService
	}
	if cfg.Tracing.Timeout == 0 {
		cfg.Tracing.Timeout = DefaultTracingTimeout
	}

	applyCORSDefaults(&cfg.CORS)

	if cfg.App.Name == "" {
		cfg.App.Name = DefaultAppName
	}
}

// applyCORSDefaults fills the CORS lists. CORS stays disabled unless
// enabled explicitly; the relay is normally served same-origin.
func applyCORSDefaults(cors *CORSConfig) {
	if len(cors.AllowedMethods) == 0 {
		cors.AllowedMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	}
	if len(cors.AllowedHeaders) == 0 {
		cors.AllowedHeaders = []string{"Content-Type", "X-Request-ID"}
	}
	if len(cors.ExposedHeaders) == 0 {
		cors.ExposedHeaders = []string{"X-Request-ID"}
	}
	if cors.MaxAge == 0 {
		cors.MaxAge = DefaultCORSMaxAge
	}
}
