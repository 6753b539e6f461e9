package tls

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Reloader serves a key pair from disk and swaps it when the files change.
// Changes are noticed through fsnotify on the containing directories and,
// as a fallback, by polling modification times every interval.
type Reloader struct {
	certFile string
	keyFile  string
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.RWMutex
	cert     *tls.Certificate
	certTime time.Time
	keyTime  time.Time
}

// NewReloader creates a reloader. Nothing is read until Load or Start.
func NewReloader(certFile, keyFile string, interval time.Duration) *Reloader {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Reloader{
		certFile: certFile,
		keyFile:  keyFile,
		interval: interval,
		logger:   slog.Default().With("component", "tls"),
		now:      time.Now,
	}
}

// Load reads and validates the key pair, replacing the current one.
func (r *Reloader) Load() error {
	certInfo, err := os.Stat(r.certFile)
	if err != nil {
		return fmt.Errorf("certificate file: %w", err)
	}
	keyInfo, err := os.Stat(r.keyFile)
	if err != nil {
		return fmt.Errorf("key file: %w", err)
	}

	cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		return fmt.Errorf("failed to load key pair: %w", err)
	}
	leaf, err := ValidateCertificate(&cert, r.now())
	if err != nil {
		return err
	}
	cert.Leaf = leaf

	r.mu.Lock()
	r.cert = &cert
	r.certTime = certInfo.ModTime()
	r.keyTime = keyInfo.ModTime()
	r.mu.Unlock()

	attrs := []any{
		"subject", leaf.Subject.CommonName,
		"expires_at", leaf.NotAfter.Format(time.RFC3339),
	}
	if soon, days := ExpiresSoon(leaf, r.now()); soon {
		r.logger.Warn("certificate expiring soon", append(attrs, "expires_in_days", days)...)
	} else {
		r.logger.Info("certificate loaded", attrs...)
	}
	return nil
}

// Start loads the pair if needed and watches for changes until ctx ends.
func (r *Reloader) Start(ctx context.Context) error {
	if r.Certificate() == nil {
		if err := r.Load(); err != nil {
			return err
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		r.logger.Warn("file watching unavailable, polling only", "error", err)
		watcher = nil
	} else {
		for _, dir := range uniqueDirs(r.certFile, r.keyFile) {
			if err := watcher.Add(dir); err != nil {
				r.logger.Warn("cannot watch certificate directory", "dir", dir, "error", err)
			}
		}
	}

	go r.loop(ctx, watcher)
	return nil
}

func (r *Reloader) loop(ctx context.Context, watcher *fsnotify.Watcher) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	var events chan fsnotify.Event
	var errs chan error
	if watcher != nil {
		defer watcher.Close()
		events = watcher.Events
		errs = watcher.Errors
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reloadIfChanged()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if r.concerns(ev.Name) {
				r.reloadIfChanged()
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			r.logger.Warn("certificate watch error", "error", err)
		}
	}
}

func (r *Reloader) concerns(name string) bool {
	name = filepath.Clean(name)
	return name == filepath.Clean(r.certFile) || name == filepath.Clean(r.keyFile)
}

func (r *Reloader) reloadIfChanged() {
	if !r.changed() {
		return
	}
	if err := r.Load(); err != nil {
		// A half-written pair fails here; the next event or tick retries.
		r.logger.Error("failed to reload certificate", "error", err, "cert_file", r.certFile)
	}
}

// changed reports whether either file is newer than the loaded pair.
func (r *Reloader) changed() bool {
	certInfo, err := os.Stat(r.certFile)
	if err != nil {
		return false
	}
	keyInfo, err := os.Stat(r.keyFile)
	if err != nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return certInfo.ModTime().After(r.certTime) || keyInfo.ModTime().After(r.keyTime)
}

// Certificate returns the pair in use, or nil before the first Load.
func (r *Reloader) Certificate() *tls.Certificate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cert
}

// GetCertificate is a tls.Config.GetCertificate hook.
func (r *Reloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	if cert := r.Certificate(); cert != nil {
		return cert, nil
	}
	return nil, fmt.Errorf("no certificate loaded")
}

func uniqueDirs(paths ...string) []string {
	seen := make(map[string]bool)
	var dirs []string
	for _, p := range paths {
		dir := filepath.Dir(p)
		if !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}
	return dirs
}
