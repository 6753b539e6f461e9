package config

import "time"

// Config is the root configuration structure for the llamachat relay.
type Config struct {
	// Server contains HTTP listener settings.
	Server ServerConfig `yaml:"server"`

	// Inference configures the upstream generation backend.
	Inference InferenceConfig `yaml:"inference"`

	// Storage selects and configures the persistence backend.
	Storage StorageConfig `yaml:"storage"`

	// Auth contains session and login settings.
	Auth AuthConfig `yaml:"auth"`

	// Quota controls per-user request quotas.
	Quota QuotaConfig `yaml:"quota"`

	// WebSocket configures the /ws endpoint.
	WebSocket WebSocketConfig `yaml:"websocket"`

	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
	CORS    CORSConfig    `yaml:"cors"`

	// App holds user-facing defaults used until the setup wizard has run.
	App AppConfig `yaml:"app"`

	// Secrets configures where ${secret:name} references are looked up.
	Secrets SecretsConfig `yaml:"secrets"`
}

// SecretsConfig configures secret reference resolution.
type SecretsConfig struct {
	// EnvPrefix is prepended to upper-cased secret names.
	// Default: "LLAMACHAT_SECRET_"
	EnvPrefix string `yaml:"env_prefix"`

	// Dir holds one file per secret. Optional.
	Dir string `yaml:"dir"`
}

// ServerConfig contains configuration for the HTTP server.
type ServerConfig struct {
	// ListenAddress is the address and port to listen on.
	// Default: "127.0.0.1:5000"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout bounds reading the whole request.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout bounds writing the response. Generation streams can run
	// for minutes, so the default is 0 (no timeout).
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the keep-alive idle limit.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout is how long in-flight requests get on shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes limits request header size.
	// Default: 1048576 (1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// MaxBodyBytes limits JSON request bodies.
	// Default: 1048576 (1MB)
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// TLS terminates HTTPS (and wss://) on the listener itself.
	TLS TLSConfig `yaml:"tls"`
}

// TLSConfig configures TLS termination.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	// MinVersion is "1.2" or "1.3".
	// Default: "1.2"
	MinVersion string `yaml:"min_version"`

	// ReloadInterval is how often the key pair is checked for renewal.
	// Default: 5m
	ReloadInterval time.Duration `yaml:"reload_interval"`
}

// InferenceConfig configures the upstream generation backend.
type InferenceConfig struct {
	// Endpoint is the full generate URL. The ollamaUrl setting stored by
	// the setup wizard takes precedence once present.
	// Default: "http://localhost:11434/api/generate"
	Endpoint string `yaml:"endpoint"`

	// Timeout bounds non-streaming calls and the wait for response headers.
	// Default: 60s
	Timeout time.Duration `yaml:"timeout"`

	// MaxRetries applies to non-streaming calls only.
	// Default: 2
	MaxRetries int `yaml:"max_retries"`

	// HealthCheckInterval is how often the backend is probed. 0 disables.
	// Default: 30s
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`

	// MaxLineBytes caps one NDJSON line from the backend.
	// Default: 1048576 (1MB)
	MaxLineBytes int `yaml:"max_line_bytes"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Driver is "sqlite" (pure Go), "sqlite3" (cgo) or "memory".
	// Default: "sqlite"
	Driver string `yaml:"driver"`

	// Path is the database file.
	// Default: "data/llamachat.db"
	Path string `yaml:"path"`

	// BusyTimeout is how long to wait on a locked database.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// CheckpointInterval is the WAL checkpoint period. 0 disables.
	// Default: 5m
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
}

// AuthConfig contains session and login settings.
type AuthConfig struct {
	// SessionSecret signs session cookies. When empty a random secret is
	// generated at startup and sessions do not survive a restart. May be a
	// ${secret:name} reference.
	SessionSecret string `yaml:"session_secret"`

	// CookieName is the session cookie name.
	// Default: "llamachat_session"
	CookieName string `yaml:"cookie_name"`

	// SessionTTL is the session lifetime.
	// Default: 168h (one week)
	SessionTTL time.Duration `yaml:"session_ttl"`

	// SecureCookie marks the cookie HTTPS-only.
	SecureCookie bool `yaml:"secure_cookie"`

	// LoginRatePerMinute limits login and register attempts per client IP.
	// Default: 10
	LoginRatePerMinute float64 `yaml:"login_rate_per_minute"`

	// LoginBurst is the number of attempts allowed at once.
	// Default: 5
	LoginBurst int `yaml:"login_burst"`
}

// QuotaConfig controls per-user request quotas.
type QuotaConfig struct {
	// Enforce refuses generation once a user's usage reaches their quota.
	// When false, usage is still counted.
	// Default: true
	Enforce bool `yaml:"enforce"`

	// ResetSchedule is a cron expression on which all usage counters are
	// zeroed. Empty disables resets.
	// Default: "0 0 1 * *" (monthly)
	ResetSchedule string `yaml:"reset_schedule"`
}

// WebSocketConfig configures the /ws endpoint.
type WebSocketConfig struct {
	// Path is the upgrade path.
	// Default: "/ws"
	Path string `yaml:"path"`

	// MessagesPerSecond limits inbound messages per connection.
	// Default: 20
	MessagesPerSecond float64 `yaml:"messages_per_second"`

	// Burst is the inbound message burst per connection.
	// Default: 40
	Burst int `yaml:"burst"`

	// PingInterval is how often the server pings. Must be below PongWait.
	// Default: 30s
	PingInterval time.Duration `yaml:"ping_interval"`

	// PongWait is how long a connection may stay silent.
	// Default: 60s
	PongWait time.Duration `yaml:"pong_wait"`

	// WriteWait bounds a single frame write.
	// Default: 10s
	WriteWait time.Duration `yaml:"write_wait"`

	// MaxMessageBytes caps inbound frames.
	// Default: 65536
	MaxMessageBytes int64 `yaml:"max_message_bytes"`

	// SendBuffer is the per-connection outbound queue length. A connection
	// whose queue is full is considered dead.
	// Default: 256
	SendBuffer int `yaml:"send_buffer"`

	// AllowedOrigins restricts the Origin header on upgrade. Empty allows
	// same-host requests only; "*" allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	AddSource bool `yaml:"add_source"`

	// RedactPII masks passwords, tokens and cookies in log attributes.
	// Default: true
	RedactPII bool `yaml:"redact_pii"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled controls whether /metrics is served.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "llamachat"
	Namespace string `yaml:"namespace"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether spans are exported.
	Enabled bool `yaml:"enabled"`

	// Sampler determines the sampling strategy.
	// Options: "always", "never", "ratio"
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces sampled when Sampler is "ratio".
	// Default: 0.1
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP gRPC collector address (e.g., "localhost:4317").
	Endpoint string `yaml:"endpoint"`

	// ServiceName is the service name in traces.
	// Default: "llamachat-relay"
	ServiceName string `yaml:"service_name"`

	// Insecure disables TLS to the collector.
	// Default: true
	Insecure bool `yaml:"insecure"`

	// Timeout bounds one export.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}

// CORSConfig contains Cross-Origin Resource Sharing configuration.
type CORSConfig struct {
	// Enabled controls whether CORS headers are sent.
	Enabled bool `yaml:"enabled"`

	// AllowedOrigins lists allowed origins. "*" cannot be combined with
	// AllowCredentials.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// Default: ["GET", "POST", "PUT", "DELETE", "OPTIONS"]
	AllowedMethods []string `yaml:"allowed_methods"`

	// Default: ["Content-Type", "X-Request-ID"]
	AllowedHeaders []string `yaml:"allowed_headers"`

	// Default: ["X-Request-ID"]
	ExposedHeaders []string `yaml:"exposed_headers"`

	// MaxAge is the preflight cache lifetime in seconds.
	// Default: 3600
	MaxAge int `yaml:"max_age"`

	// AllowCredentials lets browsers send the session cookie cross-origin.
	AllowCredentials bool `yaml:"allow_credentials"`
}

// AppConfig holds user-facing defaults.
type AppConfig struct {
	// Name is returned by /api/app-info until the appName setting exists.
	// Default: "LlamaChat"
	Name string `yaml:"name"`
}
