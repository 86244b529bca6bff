// Package tls builds the daemon's listener TLS configuration: static
// cert/key files, or a directory holding a pair that can be self-signed on
// first start.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/JamieW105/Ro-link-sub000/internal/config"
)

const (
	certName = "tls.crt"
	keyName  = "tls.key"
)

// Setup returns the listener's *tls.Config, or nil when TLS is disabled.
// With dir + auto_generate, a missing pair is self-signed in place so a fresh
// deployment serves HTTPS without a provisioning step.
func Setup(cfg *config.TLSConfig) (*tls.Config, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		return newConfig(cfg.CertFile, cfg.KeyFile), nil
	}

	if cfg.Dir != "" {
		certPath := filepath.Join(cfg.Dir, certName)
		keyPath := filepath.Join(cfg.Dir, keyName)
		if cfg.AutoGenerate && !pairExists(certPath, keyPath) {
			if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
				return nil, fmt.Errorf("create tls dir: %w", err)
			}
			if err := generateSelfSigned(certPath, keyPath); err != nil {
				return nil, fmt.Errorf("generate self-signed certificate: %w", err)
			}
		}
		return newConfig(certPath, keyPath), nil
	}

	return nil, errors.New("tls enabled but no certificate configured")
}

// newConfig loads the pair per handshake so a rotated certificate is picked
// up without a restart.
func newConfig(certPath, keyPath string) *tls.Config {
	return &tls.Config{
		GetCertificate: certificateFunc(certPath, keyPath),
		MinVersion:     tls.VersionTLS12,
	}
}

func certificateFunc(certPath, keyPath string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	baseDir := filepath.Dir(certPath)
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		certPEM, err := safeReadFile(baseDir, certPath)
		if err != nil {
			return nil, err
		}
		keyPEM, err := safeReadFile(baseDir, keyPath)
		if err != nil {
			return nil, err
		}
		cert, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			return nil, err
		}
		return &cert, nil
	}
}

// safeReadFile refuses paths that escape the certificate directory.
func safeReadFile(baseDir, p string) ([]byte, error) {
	clean := filepath.Clean(p)
	if baseDir != "" {
		absBase, _ := filepath.Abs(baseDir)
		absFile, _ := filepath.Abs(clean)
		if !strings.HasPrefix(absFile, absBase+string(filepath.Separator)) && absFile != absBase {
			return nil, errors.New("file path outside of allowed directory")
		}
	}
	return os.ReadFile(clean)
}

func pairExists(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}

const selfSignedValidity = 365 * 24 * time.Hour
