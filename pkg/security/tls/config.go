package tls

import (
	"crypto/tls"
	"fmt"

	"llamachat-hq/relay/pkg/config"
)

// NewServerConfig loads the configured key pair and returns a server
// *tls.Config serving it through the returned Reloader. It returns nil,
// nil, nil when TLS is disabled.
func NewServerConfig(cfg config.TLSConfig) (*tls.Config, *Reloader, error) {
	if !cfg.Enabled {
		return nil, nil, nil
	}
	if cfg.CertFile == "" || cfg.KeyFile == "" {
		return nil, nil, fmt.Errorf("cert_file and key_file are required when TLS is enabled")
	}

	reloader := NewReloader(cfg.CertFile, cfg.KeyFile, cfg.ReloadInterval)
	if err := reloader.Load(); err != nil {
		return nil, nil, err
	}

	// #nosec G402 - MinVersion is limited to 1.2 or 1.3
	tlsConfig := &tls.Config{
		MinVersion:     minVersion(cfg.MinVersion),
		GetCertificate: reloader.GetCertificate,
	}
	return tlsConfig, reloader, nil
}

func minVersion(v string) uint16 {
	if v == "1.3" {
		return tls.VersionTLS13
	}
	return tls.VersionTLS12
}
