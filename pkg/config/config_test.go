package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if err := Validate(cfg); err != nil {
		t.Fatalf("default configuration is invalid: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"listen address", cfg.Server.ListenAddress, DefaultListenAddress},
		{"write timeout", cfg.Server.WriteTimeout, time.Duration(0)},
		{"endpoint", cfg.Inference.Endpoint, DefaultInferenceEndpoint},
		{"storage driver", cfg.Storage.Driver, "sqlite"},
		{"quota enforce", cfg.Quota.Enforce, true},
		{"reset schedule", cfg.Quota.ResetSchedule, DefaultQuotaResetSchedule},
		{"ws path", cfg.WebSocket.Path, "/ws"},
		{"metrics enabled", cfg.Metrics.Enabled, true},
		{"redact", cfg.Logging.RedactPII, true},
		{"cors enabled", cfg.CORS.Enabled, false},
		{"app name", cfg.App.Name, DefaultAppName},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, tt.got)
		}
	}
}

func TestLoadConfig_ValidFile(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_address: "0.0.0.0:8080"
  read_timeout: "60s"
inference:
  endpoint: "http://ollama:11434/api/generate"
  max_retries: 4
storage:
  driver: memory
quota:
  enforce: false
  reset_schedule: ""
logging:
  level: debug
  format: text
metrics:
  enabled: false
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.ListenAddress != "0.0.0.0:8080" {
		t.Errorf("expected listen address %q, got %q", "0.0.0.0:8080", cfg.Server.ListenAddress)
	}
	if cfg.Server.ReadTimeout != 60*time.Second {
		t.Errorf("expected read timeout 60s, got %v", cfg.Server.ReadTimeout)
	}
	if cfg.Inference.Endpoint != "http://ollama:11434/api/generate" || cfg.Inference.MaxRetries != 4 {
		t.Errorf("unexpected inference config %+v", cfg.Inference)
	}
	if cfg.Quota.Enforce {
		t.Error("explicit enforce: false was overridden")
	}
	if cfg.Quota.ResetSchedule != "" {
		t.Errorf("explicit empty schedule was overridden with %q", cfg.Quota.ResetSchedule)
	}
	if cfg.Metrics.Enabled {
		t.Error("explicit metrics.enabled: false was overridden")
	}
	if cfg.Inference.Timeout != DefaultInferenceTimeout {
		t.Errorf("expected default timeout, got %v", cfg.Inference.Timeout)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
			t.Error("expected error for missing file")
		}
	})

	t.Run("bad yaml", func(t *testing.T) {
		path := writeConfig(t, "server: [unterminated")
		if _, err := LoadConfig(path); err == nil {
			t.Error("expected parse error")
		}
	})

	t.Run("invalid values", func(t *testing.T) {
		path := writeConfig(t, `
logging:
  level: loud
storage:
  driver: postgres
`)
		_, err := LoadConfig(path)
		var vErr ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
		if len(vErr.Errors) != 2 {
			t.Errorf("expected 2 field errors, got %d: %v", len(vErr.Errors), vErr)
		}
	})
}

func TestLoadConfigWithEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_address: "127.0.0.1:9000"
`)
	t.Setenv("LLAMACHAT_SERVER_LISTEN_ADDRESS", "0.0.0.0:7000")
	t.Setenv("LLAMACHAT_INFERENCE_TIMEOUT", "5s")
	t.Setenv("LLAMACHAT_QUOTA_ENFORCE", "false")
	t.Setenv("LLAMACHAT_WEBSOCKET_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("LLAMACHAT_INFERENCE_MAX_RETRIES", "lots")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("LoadConfigWithEnvOverrides: %v", err)
	}

	if cfg.Server.ListenAddress != "0.0.0.0:7000" {
		t.Errorf("env did not override listen address: %q", cfg.Server.ListenAddress)
	}
	if cfg.Inference.Timeout != 5*time.Second {
		t.Errorf("expected 5s timeout, got %v", cfg.Inference.Timeout)
	}
	if cfg.Quota.Enforce {
		t.Error("expected quota enforcement off")
	}
	if len(cfg.WebSocket.AllowedOrigins) != 2 || cfg.WebSocket.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("unexpected origins %v", cfg.WebSocket.AllowedOrigins)
	}
	if cfg.Inference.MaxRetries != DefaultInferenceMaxRetries {
		t.Errorf("invalid override should be ignored, got %d", cfg.Inference.MaxRetries)
	}
}

func TestLoadConfigWithEnvOverrides_NoFile(t *testing.T) {
	t.Setenv("LLAMACHAT_STORAGE_DRIVER", "memory")
	cfg, err := LoadConfigWithEnvOverrides("")
	if err != nil {
		t.Fatalf("LoadConfigWithEnvOverrides: %v", err)
	}
	if cfg.Storage.Driver != "memory" {
		t.Errorf("expected memory driver, got %q", cfg.Storage.Driver)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad endpoint scheme", func(c *Config) { c.Inference.Endpoint = "ftp://x" }, "inference.endpoint"},
		{"endpoint without host", func(c *Config) { c.Inference.Endpoint = "http://" }, "inference.endpoint"},
		{"too many retries", func(c *Config) { c.Inference.MaxRetries = 50 }, "inference.max_retries"},
		{"tls without cert", func(c *Config) { c.Server.TLS.Enabled = true; c.Server.TLS.KeyFile = "k.pem" }, "server.tls.cert_file"},
		{"tls 1.1", func(c *Config) { c.Server.TLS.MinVersion = "1.1" }, "server.tls.min_version"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mysql" }, "storage.driver"},
		{"sqlite without path", func(c *Config) { c.Storage.Path = "" }, "storage.path"},
		{"short secret", func(c *Config) { c.Auth.SessionSecret = "short" }, "auth.session_secret"},
		{"bad cron", func(c *Config) { c.Quota.ResetSchedule = "every day" }, "quota.reset_schedule"},
		{"ping after pong", func(c *Config) { c.WebSocket.PingInterval = time.Minute; c.WebSocket.PongWait = time.Second }, "websocket.ping_interval"},
		{"relative ws path", func(c *Config) { c.WebSocket.Path = "ws" }, "websocket.path"},
		{"bad level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"tracing without endpoint", func(c *Config) { c.Tracing.Enabled = true }, "tracing.endpoint"},
		{"bad sampler", func(c *Config) { c.Tracing.Sampler = "sometimes" }, "tracing.sampler"},
		{"ratio out of range", func(c *Config) { c.Tracing.SampleRatio = 2 }, "tracing.sample_ratio"},
		{"wildcard with credentials", func(c *Config) {
			c.CORS.Enabled = true
			c.CORS.AllowCredentials = true
			c.CORS.AllowedOrigins = []string{"*"}
		}, "cors.allowed_origins"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := Validate(cfg)
			var vErr ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			found := false
			for _, fe := range vErr.Errors {
				if fe.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error on %s, got %v", tt.field, vErr)
			}
		})
	}
}

func TestValidationError_Message(t *testing.T) {
	one := ValidationError{Errors: []FieldError{{Field: "a", Message: "bad"}}}
	if one.Error() != "configuration validation failed: a: bad" {
		t.Errorf("unexpected message %q", one.Error())
	}

	two := ValidationError{Errors: []FieldError{{Field: "a", Message: "bad"}, {Field: "b", Message: "worse"}}}
	if !strings.Contains(two.Error(), "2 errors") || !strings.Contains(two.Error(), "b: worse") {
		t.Errorf("unexpected message %q", two.Error())
	}
}

func TestSingleton(t *testing.T) {
	original := GetConfig()
	defer SetConfig(original)

	cfg := Default()
	SetConfig(cfg)
	if GetConfig() != cfg {
		t.Error("GetConfig did not return the stored config")
	}

	path := writeConfig(t, "app:\n  name: Reloaded\n")
	reloaded, err := ReloadConfig(path)
	if err != nil {
		t.Fatalf("ReloadConfig: %v", err)
	}
	if GetConfig() != reloaded || reloaded.App.Name != "Reloaded" {
		t.Error("ReloadConfig did not replace the global config")
	}

	bad := writeConfig(t, "logging:\n  level: nope\n")
	if _, err := ReloadConfig(bad); err == nil {
		t.Error("expected reload error")
	}
	if GetConfig() != reloaded {
		t.Error("failed reload replaced the global config")
	}
}

func TestWatcher_Reload(t *testing.T) {
	original := GetConfig()
	defer SetConfig(original)

	path := writeConfig(t, "logging:\n  level: info\n")
	w, err := NewWatcher(path, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var levels []string
	reloaded := make(chan struct{}, 4)

	done := make(chan error, 1)
	go func() {
		done <- w.Watch(ctx, func(cfg *Config) {
			mu.Lock()
			levels = append(levels, cfg.Logging.Level)
			mu.Unlock()
			reloaded <- struct{}{}
		})
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(path, []byte("logging:\n  level: nope\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	if err := os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case <-reloaded:
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}

	mu.Lock()
	last := levels[len(levels)-1]
	mu.Unlock()
	if last != "debug" {
		t.Errorf("expected debug after reload, got %q", last)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestNewWatcher_RequiresPath(t *testing.T) {
	if _, err := NewWatcher("", 0); err == nil {
		t.Error("expected error for empty path")
	}
}
