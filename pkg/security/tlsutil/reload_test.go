package tlsutil

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"stratos-hq/charon/pkg/config"
)

// writeTestCert writes a self-signed certificate pair valid for the
// given window and returns the file paths.
func writeTestCert(t *testing.T, dir, cn string, notBefore, notAfter time.Time) (certFile, keyFile string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		DNSNames:     []string{cn},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}

	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	if err := os.WriteFile(certFile, certPEM, 0o600); err != nil {
		t.Fatalf("write cert: %v", err)
	}
	if err := os.WriteFile(keyFile, keyPEM, 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	return certFile, keyFile
}

func TestReloaderStartLoadsCertificate(t *testing.T) {
	now := time.Now()
	certFile, keyFile := writeTestCert(t, t.TempDir(), "charon.test", now.Add(-time.Hour), now.Add(time.Hour))

	r := NewCertificateReloader(certFile, keyFile, 0)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	cert, err := r.GetCertificateFunc()(nil)
	if err != nil {
		t.Fatalf("GetCertificate: %v", err)
	}
	if cert == nil || len(cert.Certificate) == 0 {
		t.Fatal("no certificate loaded")
	}
}

func TestReloaderStartMissingFiles(t *testing.T) {
	r := NewCertificateReloader("nonexistent.pem", "nonexistent.key", 0)
	if err := r.Start(context.Background()); err == nil {
		t.Fatal("Start() should fail for missing files")
	}
}

func TestReloaderRejectsExpiredCertificate(t *testing.T) {
	now := time.Now()
	certFile, keyFile := writeTestCert(t, t.TempDir(), "charon.test", now.Add(-2*time.Hour), now.Add(-time.Hour))

	r := NewCertificateReloader(certFile, keyFile, 0)
	if err := r.Start(context.Background()); err == nil {
		t.Fatal("Start() should reject an expired certificate")
	}
}

func TestReloaderPicksUpRotation(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	certFile, keyFile := writeTestCert(t, dir, "old.test", now.Add(-time.Hour), now.Add(time.Hour))

	r := NewCertificateReloader(certFile, keyFile, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Rotate the pair and bump mtimes past the recorded load time.
	writeTestCert(t, dir, "new.test", now.Add(-time.Hour), now.Add(time.Hour))
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(certFile, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		cert := r.Certificate()
		if cert != nil && len(cert.Certificate) > 0 {
			leaf, err := x509.ParseCertificate(cert.Certificate[0])
			if err == nil && leaf.Subject.CommonName == "new.test" {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("rotated certificate was not picked up")
}

func TestServerConfigDisabled(t *testing.T) {
	cfg, err := ServerConfig(context.Background(), config.SSLConfig{Enabled: false})
	if err != nil {
		t.Fatalf("ServerConfig() error = %v", err)
	}
	if cfg != nil {
		t.Fatal("ServerConfig() should return nil when ssl is disabled")
	}
}

func TestServerConfigEnabled(t *testing.T) {
	now := time.Now()
	certFile, keyFile := writeTestCert(t, t.TempDir(), "charon.test", now.Add(-time.Hour), now.Add(time.Hour))

	cfg, err := ServerConfig(context.Background(), config.SSLConfig{
		Enabled:  true,
		CertFile: certFile,
		KeyFile:  keyFile,
	})
	if err != nil {
		t.Fatalf("ServerConfig() error = %v", err)
	}
	if cfg == nil || cfg.GetCertificate == nil {
		t.Fatal("ServerConfig() should wire GetCertificate")
	}
	cert, err := cfg.GetCertificate(nil)
	if err != nil || cert == nil {
		t.Fatalf("GetCertificate() = %v, %v", cert, err)
	}
}

func TestServerConfigMissingPaths(t *testing.T) {
	_, err := ServerConfig(context.Background(), config.SSLConfig{Enabled: true})
	if err == nil {
		t.Fatal("ServerConfig() should fail without cert paths")
	}
}

func TestUpstreamConfigSetsServerName(t *testing.T) {
	cfg := UpstreamConfig("api.internal")
	if cfg.ServerName != "api.internal" {
		t.Errorf("ServerName = %q, want %q", cfg.ServerName, "api.internal")
	}
}
