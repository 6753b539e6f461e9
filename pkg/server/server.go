// Package server wires the relay's components into one HTTP server.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"llamachat-hq/relay/pkg/config"
	"llamachat-hq/relay/pkg/inference"
	"llamachat-hq/relay/pkg/keywords"
	"llamachat-hq/relay/pkg/limits"
	"llamachat-hq/relay/pkg/proxy/handlers"
	"llamachat-hq/relay/pkg/proxy/middleware"
	"llamachat-hq/relay/pkg/registry"
	"llamachat-hq/relay/pkg/relay"
	"llamachat-hq/relay/pkg/security/auth"
	"llamachat-hq/relay/pkg/security/secrets"
	tlsconfig "llamachat-hq/relay/pkg/security/tls"
	"llamachat-hq/relay/pkg/storage"
	"llamachat-hq/relay/pkg/telemetry/health"
	"llamachat-hq/relay/pkg/telemetry/logging"
	"llamachat-hq/relay/pkg/telemetry/metrics"
	"llamachat-hq/relay/pkg/telemetry/tracing"
)

// Options carries the process-level pieces the server does not build itself.
type Options struct {
	// Version is reported by /health and in traces.
	Version string

	// ConfigPath, when set, is watched and reloaded on change.
	ConfigPath string

	// LogLevel is adjusted on reload. May be nil.
	LogLevel *slog.LevelVar

	// Store replaces the store opened from cfg.Storage. The server closes
	// it on shutdown either way.
	Store storage.Store

	// MetricsRegistry defaults to a fresh registry.
	MetricsRegistry *prometheus.Registry
}

// Server is the relay's HTTP server.
type Server struct {
	config  *config.Config
	options Options

	store     storage.Store
	backend   *inference.Client
	sessions  *auth.SessionManager
	registry  *registry.Registry
	matcher   *keywords.Matcher
	collector *metrics.Collector
	tracer    *tracing.Tracer
	checker   *health.Checker
	scheduler *limits.ResetScheduler
	handler   http.Handler
	tls       *tls.Config
	certs     *tlsconfig.Reloader

	httpServer   *http.Server
	shutdownOnce sync.Once
	mu           sync.RWMutex
	listener     net.Listener
	isRunning    bool
}

// New builds every component from cfg. Nothing is started until Start.
func New(cfg *config.Config, opts Options) (*Server, error) {
	s := &Server{
		config:  cfg,
		options: opts,
		matcher: keywords.NewMatcher(),
	}

	var err error
	s.store = opts.Store
	if s.store == nil {
		if s.store, err = OpenStore(cfg.Storage); err != nil {
			return nil, err
		}
	}

	s.tls, s.certs, err = tlsconfig.NewServerConfig(cfg.Server.TLS)
	if err != nil {
		_ = s.store.Close()
		return nil, fmt.Errorf("failed to load TLS key pair: %w", err)
	}

	s.tracer, err = tracing.New(&cfg.Tracing, opts.Version)
	if err != nil {
		_ = s.store.Close()
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	s.backend, err = inference.NewClient(inference.Config{
		Endpoint:            cfg.Inference.Endpoint,
		Timeout:             cfg.Inference.Timeout,
		MaxRetries:          cfg.Inference.MaxRetries,
		HealthCheckInterval: cfg.Inference.HealthCheckInterval,
		MaxLineBytes:        cfg.Inference.MaxLineBytes,
	})
	if err != nil {
		_ = s.store.Close()
		return nil, fmt.Errorf("failed to create inference client: %w", err)
	}

	secret, err := sessionSecret(cfg)
	if err != nil {
		_ = s.backend.Close()
		_ = s.store.Close()
		return nil, err
	}
	s.sessions, err = auth.NewSessionManager(auth.SessionConfig{
		Secret:     secret,
		CookieName: cfg.Auth.CookieName,
		TTL:        cfg.Auth.SessionTTL,
		Secure:     cfg.Auth.SecureCookie,
	})
	if err != nil {
		_ = s.backend.Close()
		_ = s.store.Close()
		return nil, fmt.Errorf("failed to create session manager: %w", err)
	}
	if cfg.Auth.SessionSecret == "" {
		slog.Warn("auth.session_secret is not set, sessions will not survive a restart")
	}

	s.collector = metrics.NewCollector(&cfg.Metrics, opts.MetricsRegistry)
	s.registry = registry.New(s.collector)
	s.scheduler = limits.NewResetScheduler(s.store, cfg.Quota.ResetSchedule)

	s.checker = health.New(5*time.Second, opts.Version)
	s.checker.RegisterCheck("backend", handlers.BackendCheck(s.backend))
	s.checker.RegisterCheck("store", handlers.StoreCheck(s.store))

	s.handler = s.setupRoutes()
	return s, nil
}

// sessionSecret resolves a ${secret:name} reference in auth.session_secret.
func sessionSecret(cfg *config.Config) (string, error) {
	secret := cfg.Auth.SessionSecret
	if !secrets.IsReference(secret) {
		return secret, nil
	}
	resolver, err := secrets.FromConfig(cfg.Secrets)
	if err != nil {
		return "", fmt.Errorf("failed to set up secret providers: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if secret, err = resolver.Resolve(ctx, secret); err != nil {
		return "", fmt.Errorf("auth.session_secret: %w", err)
	}
	if len(secret) < 16 {
		return "", fmt.Errorf("auth.session_secret: resolved secret must be at least 16 characters")
	}
	return secret, nil
}

// OpenStore opens the store selected by cfg.Driver.
func OpenStore(cfg config.StorageConfig) (storage.Store, error) {
	if cfg.Driver == "memory" {
		return storage.NewMemoryStore(), nil
	}
	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	store, err := storage.NewSQLStore(storage.SQLConfig{
		Driver:             cfg.Driver,
		Path:               cfg.Path,
		BusyTimeout:        cfg.BusyTimeout,
		CheckpointInterval: cfg.CheckpointInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return store, nil
}

// setupRoutes registers every route and wraps the mux in the middleware
// chain.
func (s *Server) setupRoutes() http.Handler {
	cfg := s.config
	maxBody := cfg.Server.MaxBodyBytes

	authn := auth.NewAuthenticator(s.sessions, s.store)
	user := authn.RequireUser
	admin := authn.RequireAdmin

	quota := limits.NewQuotaGate(s.store, cfg.Quota.Enforce, s.collector)
	relaySvc := relay.NewService(s.backend, s.registry,
		relay.WithQuota(quota),
		relay.WithKeywords(s.matcher),
		relay.WithObserver(s.collector),
	)

	loginLimiter := limits.NewKeyedLimiter(cfg.Auth.LoginRatePerMinute/60, cfg.Auth.LoginBurst, 10*time.Minute)
	throttle := middleware.LoginRateLimit(loginLimiter)

	ah := handlers.NewAuthHandler(s.store, s.sessions, maxBody)
	sh := handlers.NewSetupHandler(s.store, s.sessions, s.backend, maxBody)
	st := handlers.NewSettingsHandler(s.store, s.backend, s.appName, maxBody)
	ch := handlers.NewConversationHandler(s.store, s.matcher, maxBody)
	adm := handlers.NewAdminHandler(s.store, s.matcher, maxBody)

	mux := http.NewServeMux()
	mux.Handle("POST /api/register", throttle(http.HandlerFunc(ah.Register)))
	mux.Handle("POST /api/login", throttle(http.HandlerFunc(ah.Login)))
	mux.HandleFunc("POST /api/logout", ah.Logout)
	mux.Handle("GET /api/user", user(http.HandlerFunc(ah.CurrentUser)))
	mux.Handle("GET /api/user/profile", user(http.HandlerFunc(ah.Profile)))

	mux.HandleFunc("GET /api/setup/status", sh.Status)
	mux.Handle("POST /api/setup", throttle(http.HandlerFunc(sh.Setup)))
	mux.HandleFunc("GET /api/app-info", st.AppInfo)
	mux.Handle("GET /api/settings/llm", user(http.HandlerFunc(st.GetLLM)))
	mux.Handle("PUT /api/settings/llm", admin(http.HandlerFunc(st.PutLLM)))

	mux.Handle("GET /api/conversations", user(http.HandlerFunc(ch.List)))
	mux.Handle("POST /api/conversations", user(http.HandlerFunc(ch.Create)))
	mux.Handle("GET /api/conversations/{id}", user(http.HandlerFunc(ch.Get)))
	mux.Handle("PUT /api/conversations/{id}", user(http.HandlerFunc(ch.Update)))
	mux.Handle("DELETE /api/conversations/{id}", user(http.HandlerFunc(ch.Delete)))
	mux.Handle("POST /api/conversations/{id}/messages", user(http.HandlerFunc(ch.CreateMessage)))

	mux.Handle("GET /api/admin/blocked-keywords", admin(http.HandlerFunc(adm.ListKeywords)))
	mux.Handle("POST /api/admin/blocked-keywords", admin(http.HandlerFunc(adm.CreateKeyword)))
	mux.Handle("DELETE /api/admin/blocked-keywords/{id}", admin(http.HandlerFunc(adm.DeleteKeyword)))
	mux.Handle("GET /api/admin/users", admin(http.HandlerFunc(adm.ListUsers)))
	mux.Handle("PUT /api/admin/users/{id}", admin(http.HandlerFunc(adm.UpdateUser)))
	mux.Handle("GET /api/admin/models", admin(http.HandlerFunc(adm.ListModels)))
	mux.Handle("POST /api/admin/models", admin(http.HandlerFunc(adm.CreateModel)))
	mux.Handle("PUT /api/admin/models/{id}/default", admin(http.HandlerFunc(adm.SetDefaultModel)))
	mux.Handle("DELETE /api/admin/models/{id}", admin(http.HandlerFunc(adm.DeleteModel)))
	mux.Handle("GET /api/admin/backend", admin(handlers.NewBackendStatusHandler(s.backend)))

	mux.Handle("POST /api/llama/generate", user(handlers.NewGenerateHandler(relaySvc, maxBody)))
	mux.Handle("POST /api/llama/cancel", user(handlers.NewCancelHandler(s.backend)))
	mux.Handle("GET "+cfg.WebSocket.Path, handlers.NewWebSocketHandler(s.registry, authn, cfg.WebSocket))

	mux.Handle("GET /health", s.checker.HealthHandler())
	mux.Handle("GET /ready", s.checker.ReadyHandler())
	if s.collector.Enabled() {
		mux.Handle("GET "+cfg.Metrics.Path, s.collector.Handler())
	}

	return middleware.Chain(mux,
		middleware.Recovery,
		middleware.RequestID,
		tracing.HTTPMiddleware,
		middleware.Logging,
		s.collector.Middleware,
		middleware.CORS(cfg.CORS),
	)
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Registry returns the live connection registry.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// Addr returns the listening address, or nil before Start has bound it.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Start loads persisted state, starts the background workers and serves
// until ctx ends, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.isRunning = true
	s.mu.Unlock()

	if err := s.restore(ctx); err != nil {
		_ = s.Shutdown(context.Background())
		return err
	}

	ln, err := net.Listen("tcp", s.config.Server.ListenAddress)
	if err != nil {
		_ = s.Shutdown(context.Background())
		return fmt.Errorf("failed to listen on %s: %w", s.config.Server.ListenAddress, err)
	}
	s.httpServer = &http.Server{
		Handler:        s.handler,
		ReadTimeout:    s.config.Server.ReadTimeout,
		WriteTimeout:   s.config.Server.WriteTimeout,
		IdleTimeout:    s.config.Server.IdleTimeout,
		MaxHeaderBytes: s.config.Server.MaxHeaderBytes,
		TLSConfig:      s.tls,
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	workers, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	s.startWorkers(workers)

	errChan := make(chan error, 1)
	go func() {
		slog.Info("starting relay server", "address", ln.Addr().String(), "tls", s.tls != nil)
		var err error
		if s.tls != nil {
			err = s.httpServer.ServeTLS(ln, "", "")
		} else {
			err = s.httpServer.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case err := <-errChan:
		_ = s.Shutdown(context.Background())
		return err
	}
}

// restore applies persisted settings: the blocked keyword list and the
// backend URL stored by the setup wizard.
func (s *Server) restore(ctx context.Context) error {
	if err := handlers.RefreshKeywords(ctx, s.store, s.matcher); err != nil {
		return err
	}
	slog.Info("blocked keywords loaded", "count", s.matcher.Len())

	settings, err := handlers.LoadLLMSettings(ctx, s.store)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		slog.Info("setup has not been completed, using configured endpoint",
			"endpoint", s.backend.Endpoint(),
		)
	case err != nil:
		return fmt.Errorf("failed to load LLM settings: %w", err)
	default:
		if err := s.backend.SetEndpoint(settings.OllamaURL); err != nil {
			slog.Warn("stored Ollama URL is invalid, using configured endpoint",
				"url", settings.OllamaURL,
				"error", err,
			)
		}
	}
	return nil
}

func (s *Server) startWorkers(ctx context.Context) {
	s.backend.StartHealthChecker(ctx)
	if s.certs != nil {
		if err := s.certs.Start(ctx); err != nil {
			slog.Warn("certificate reloading disabled", "error", err)
		}
	}
	go s.reportBackendHealth(ctx)

	if err := s.scheduler.Start(ctx); err != nil {
		slog.Warn("failed to start quota reset scheduler", "error", err)
	} else if next := s.scheduler.NextRun(); next != nil {
		slog.Info("quota reset scheduled", "next_run", next)
	}

	if s.options.ConfigPath != "" {
		watcher, err := config.NewWatcher(s.options.ConfigPath, 0)
		if err != nil {
			slog.Warn("config hot reload disabled", "error", err)
			return
		}
		go func() {
			if err := watcher.Watch(ctx, s.applyConfig); err != nil {
				slog.Error("config watcher stopped", "error", err)
			}
		}()
	}
}

// reportBackendHealth mirrors the health checker's view into the
// backend_up gauge.
func (s *Server) reportBackendHealth(ctx context.Context) {
	interval := s.config.Inference.HealthCheckInterval
	if interval <= 0 {
		interval = config.DefaultHealthCheckInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.collector.SetBackendHealthy(s.backend.IsHealthy())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.collector.SetBackendHealthy(s.backend.IsHealthy())
		}
	}
}

// appName is the configured application name, following reloads.
func (s *Server) appName() string {
	if cfg := config.GetConfig(); cfg != nil {
		return cfg.App.Name
	}
	return s.config.App.Name
}

// applyConfig takes the settings that can change without a restart: the
// log level, and the backend endpoint while setup has not stored one.
func (s *Server) applyConfig(cfg *config.Config) {
	config.SetConfig(cfg)
	if s.options.LogLevel != nil {
		if err := logging.SetLevel(s.options.LogLevel, cfg.Logging.Level); err != nil {
			slog.Warn("ignoring log level from reloaded config", "error", err)
		}
	}

	if _, err := s.store.GetSetting(context.Background(), storage.SettingOllamaURL); errors.Is(err, storage.ErrNotFound) {
		if err := s.backend.SetEndpoint(cfg.Inference.Endpoint); err != nil {
			slog.Warn("ignoring inference endpoint from reloaded config", "error", err)
		}
	}
	slog.Info("configuration reloaded")
}

// Shutdown stops accepting requests, closes every WebSocket connection and
// releases the backend client, tracer and store.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		if !s.isRunning {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		timeout := s.config.Server.ShutdownTimeout
		slog.Info("initiating graceful shutdown", "timeout", timeout.String())

		shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("error during server shutdown", "error", err)
				shutdownErr = fmt.Errorf("server shutdown error: %w", err)
			}
		}

		s.registry.CloseAll()
		s.scheduler.Stop()
		_ = s.backend.Close()

		if err := s.tracer.Shutdown(shutdownCtx); err != nil {
			slog.Error("failed to flush traces", "error", err)
		}
		if err := s.store.Close(); err != nil {
			slog.Error("failed to close store", "error", err)
			if shutdownErr == nil {
				shutdownErr = fmt.Errorf("store close error: %w", err)
			}
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		slog.Info("relay server stopped")
	})

	return shutdownErr
}
