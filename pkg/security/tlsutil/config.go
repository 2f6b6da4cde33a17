package tlsutil

import (
	"context"
	"crypto/tls"
	"fmt"

	"stratos-hq/charon/pkg/config"
)

// ServerConfig builds the tls.Config for the listening socket from the
// ssl section and starts the certificate reloader. It returns nil when
// TLS termination is disabled. The reloader stops when ctx is cancelled.
func ServerConfig(ctx context.Context, cfg config.SSLConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.CertFile == "" || cfg.KeyFile == "" {
		return nil, fmt.Errorf("ssl enabled without cert_file/key_file")
	}

	reloader := NewCertificateReloader(cfg.CertFile, cfg.KeyFile, cfg.ReloadInterval)
	if err := reloader.Start(ctx); err != nil {
		return nil, fmt.Errorf("load server certificate: %w", err)
	}

	return &tls.Config{
		GetCertificate: reloader.GetCertificateFunc(),
		MinVersion:     tls.VersionTLS12,
	}, nil
}

// UpstreamConfig builds the tls.Config for connecting to an upstream
// target that terminates its own TLS. serverName is the hostname used
// for SNI and certificate verification.
func UpstreamConfig(serverName string) *tls.Config {
	return &tls.Config{
		ServerName: serverName,
		MinVersion: tls.VersionTLS12,
	}
}
