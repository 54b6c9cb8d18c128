package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// DriverConfig returns the go-sql-driver/mysql configuration for the preview
// connection. A DSN takes precedence over the discrete fields; either way
// parseTime and UTC locations are forced and TLS settings are applied.
func (p *PreviewConfig) DriverConfig() (*mysql.Config, error) {
	var cfg *mysql.Config
	if dsn := strings.TrimSpace(p.ConnectionString); dsn != "" {
		parsed, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("preview.dsn is invalid: %w", err)
		}
		cfg = parsed
		if p.Database != "" {
			if cfg.DBName != "" && cfg.DBName != p.Database {
				return nil, fmt.Errorf("database mismatch: preview.database=%q but preview.dsn targets %q", p.Database, cfg.DBName)
			}
			cfg.DBName = p.Database
		}
	} else {
		cfg = mysql.NewConfig()
		cfg.User = p.User
		cfg.Passwd = p.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
		cfg.DBName = p.Database
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC

	switch p.TLS.Mode {
	case "":
	case "off":
		cfg.TLS = nil
		cfg.TLSConfig = "false"
	case "skip-verify":
		cfg.TLSConfig = "skip-verify"
	case "verify-ca", "verify-full":
		tlsCfg, err := p.TLS.build(hostOf(cfg.Addr))
		if err != nil {
			return nil, fmt.Errorf("failed to build preview TLS config: %w", err)
		}
		cfg.TLS = tlsCfg
	default:
		return nil, fmt.Errorf("unsupported preview.tls.mode %q", p.TLS.Mode)
	}
	return cfg, nil
}

// DSN returns the preview DSN, or an error when the settings cannot form one.
func (p *PreviewConfig) DSN() (string, error) {
	cfg, err := p.DriverConfig()
	if err != nil {
		return "", err
	}
	return cfg.FormatDSN(), nil
}

func (t *DatabaseTLSConfig) build(host string) (*tls.Config, error) {
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if t.CAFile != "" {
		caCert, err := os.ReadFile(t.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file %q: %w", t.CAFile, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate from %q", t.CAFile)
		}
		tlsCfg.RootCAs = pool
	}

	if t.CertFile != "" || t.KeyFile != "" {
		if t.CertFile == "" || t.KeyFile == "" {
			return nil, fmt.Errorf("both cert_file and key_file must be specified for client certificate authentication")
		}
		cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	switch t.Mode {
	case "verify-full":
		tlsCfg.ServerName = host
		if t.ServerName != "" {
			tlsCfg.ServerName = t.ServerName
		}
	case "verify-ca":
		// chain only; hostname is not checked
		tlsCfg.InsecureSkipVerify = true
		roots := tlsCfg.RootCAs
		tlsCfg.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			return verifyChain(rawCerts, roots)
		}
	}
	return tlsCfg, nil
}

func verifyChain(rawCerts [][]byte, roots *x509.CertPool) error {
	if len(rawCerts) == 0 {
		return fmt.Errorf("server presented no certificates")
	}
	certs := make([]*x509.Certificate, len(rawCerts))
	for i, raw := range rawCerts {
		cert, err := x509.ParseCertificate(raw)
		if err != nil {
			return fmt.Errorf("failed to parse server certificate: %w", err)
		}
		certs[i] = cert
	}
	intermediates := x509.NewCertPool()
	for _, cert := range certs[1:] {
		intermediates.AddCert(cert)
	}
	_, err := certs[0].Verify(x509.VerifyOptions{Roots: roots, Intermediates: intermediates})
	return err
}

func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
