package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/kvlet/internal/config"
	"github.com/loykin/kvlet/internal/record"
)

// File names used inside the certificate directory.
const (
	CACertFile = "tls_ca.crt"
	CertFile   = "tls.crt"
	KeyFile    = "tls.key"
)

func parseVersion(ver string) (uint16, error) {
	switch strings.ToLower(strings.TrimSpace(ver)) {
	case "", "1.2", "tls1.2":
		return tls.VersionTLS12, nil
	case "1.3", "tls1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("unsupported TLS version %q", ver)
	}
}

// safeReadFile reads p only when it lives inside baseDir.
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

// certLoader re-reads the pair on every handshake so rotated files are
// picked up without a restart.
func certLoader(certFile, keyFile string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	baseDir := filepath.Dir(certFile)
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		certPEM, err := safeReadFile(baseDir, certFile)
		if err != nil {
			return nil, err
		}
		keyPEM, err := safeReadFile(filepath.Dir(keyFile), keyFile)
		if err != nil {
			return nil, err
		}
		pair, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			return nil, err
		}
		return &pair, nil
	}
}

// Setup builds the server TLS configuration for serve. It returns nil when
// TLS is disabled.
func Setup(c config.Config) (*tls.Config, error) {
	t := c.Server.TLS
	if !t.Enabled {
		return nil, nil
	}
	minVer, err := parseVersion(t.MinVersion)
	if err != nil {
		return nil, &record.ConfigError{Field: "server.tls.min_version", Value: t.MinVersion, Msg: err.Error(), Err: err}
	}

	certPath, keyPath := t.CertFile, t.KeyFile
	if certPath == "" || keyPath == "" {
		dir := c.TLSDir()
		if dir == "" {
			return nil, &record.ConfigError{Field: "server.tls", Msg: "TLS enabled but no certificate configured"}
		}
		certPath = filepath.Join(dir, CertFile)
		keyPath = filepath.Join(dir, KeyFile)
		if !exists(certPath) || !exists(keyPath) {
			if !t.AutoGenerate {
				return nil, &record.ConfigError{Field: "server.tls.dir", Value: dir, Msg: "certificate missing and auto_generate is off"}
			}
			if err := generate(t, dir); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
	}

	// fail at startup rather than on the first handshake
	if _, err := certLoader(certPath, keyPath)(nil); err != nil {
		return nil, fmt.Errorf("load certificate: %w", err)
	}
	return &tls.Config{
		GetCertificate: certLoader(certPath, keyPath),
		MinVersion:     minVer,
	}, nil
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

func generate(t config.TLSConfig, dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	cn := t.CommonName
	if cn == "" {
		cn = "localhost"
	}
	hosts := t.DNSNames
	if len(hosts) == 0 {
		hosts = []string{"localhost", "127.0.0.1"}
	}
	days := t.ValidDays
	if days <= 0 {
		days = 365
	}
	return GenerateSelfSigned(CertRequest{
		CommonName: cn,
		Hosts:      hosts,
		NotAfter:   time.Now().AddDate(0, 0, days),
		CertPath:   filepath.Join(dir, CertFile),
		KeyPath:    filepath.Join(dir, KeyFile),
		CACertPath: filepath.Join(dir, CACertFile),
	})
}
