package peer

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

var (
	ErrInvalidSecurityMode     = errors.New("peer: invalid security mode")
	ErrTLSRequired             = errors.New("peer: tls required")
	ErrMTLSRequired            = errors.New("peer: mtls required")
	ErrTLSCertFileRequired     = errors.New("peer: tls cert file required")
	ErrTLSKeyFileRequired      = errors.New("peer: tls key file required")
	ErrTLSCAFileRequired       = errors.New("peer: tls ca file required")
	ErrTLSInsecureSkipNotAllow = errors.New("peer: insecure skip verify not allowed")
)

func NormalizeSecurityMode(mode SecurityMode) SecurityMode {
	if strings.TrimSpace(string(mode)) == "" {
		return SecurityModeDevelopment
	}
	return SecurityMode(strings.ToLower(strings.TrimSpace(string(mode))))
}

type side int

const (
	clientSide side = iota
	serverSide
)

func (c Config) ValidateClientTransport() error {
	return c.validateTransport(clientSide)
}

func (c Config) ValidateServerTransport() error {
	return c.validateTransport(serverSide)
}

func (c Config) validateTransport(s side) error {
	mode := NormalizeSecurityMode(c.SecurityMode)
	if mode != SecurityModeDevelopment && mode != SecurityModeProduction {
		return fmt.Errorf("%w: %q", ErrInvalidSecurityMode, c.SecurityMode)
	}

	t := c.TLS
	if mode == SecurityModeProduction {
		switch {
		case !t.Enabled:
			return ErrTLSRequired
		case !t.Mutual:
			return ErrMTLSRequired
		case s == clientSide && t.InsecureSkipVerify:
			return ErrTLSInsecureSkipNotAllow
		}
	}
	if t.Mutual && !t.Enabled {
		return ErrTLSRequired
	}
	if !t.Enabled {
		return nil
	}
	for _, req := range c.requiredFiles(s) {
		if strings.TrimSpace(req.path) == "" {
			return req.err
		}
	}
	return nil
}

type fileRequirement struct {
	path string
	err  error
}

// requiredFiles lists, in check order, the PEM files side s needs with TLS on.
func (c Config) requiredFiles(s side) []fileRequirement {
	t := c.TLS
	ca := fileRequirement{t.CAFile, ErrTLSCAFileRequired}
	pair := []fileRequirement{
		{t.CertFile, ErrTLSCertFileRequired},
		{t.KeyFile, ErrTLSKeyFileRequired},
	}

	var out []fileRequirement
	switch s {
	case clientSide:
		if !t.InsecureSkipVerify {
			out = append(out, ca)
		}
		if t.Mutual {
			out = append(out, pair...)
		}
	case serverSide:
		out = append(out, pair...)
		if t.Mutual {
			out = append(out, ca)
		}
	}
	return out
}

func (c Config) clientTLSConfig(addr string) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: c.TLS.InsecureSkipVerify,
	}

	serverName := strings.TrimSpace(c.TLS.ServerName)
	if serverName == "" {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		serverName = host
	}
	cfg.ServerName = serverName

	if caPath := strings.TrimSpace(c.TLS.CAFile); caPath != "" {
		pool, err := loadCertPool(caPath)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}

	if c.TLS.Mutual {
		cert, err := tls.LoadX509KeyPair(c.TLS.CertFile, c.TLS.KeyFile)
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

func (c Config) serverTLSConfig() (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(c.TLS.CertFile, c.TLS.KeyFile)
	if err != nil {
		return nil, err
	}
	cfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.NoClientCert,
	}
	if c.TLS.Mutual || NormalizeSecurityMode(c.SecurityMode) == SecurityModeProduction {
		pool, err := loadCertPool(c.TLS.CAFile)
		if err != nil {
			return nil, err
		}
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
		cfg.ClientCAs = pool
	}
	return cfg, nil
}

func loadCertPool(path string) (*x509.CertPool, error) {
	caPEM, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if ok := pool.AppendCertsFromPEM(caPEM); !ok {
		return nil, fmt.Errorf("peer: parse tls ca bundle: %s", path)
	}
	return pool, nil
}

// peerIdentity returns the verified client certificate's common name, or ""
// for plain TCP.
func peerIdentity(conn net.Conn) string {
	tc, ok := conn.(*tls.Conn)
	if !ok {
		return ""
	}
	certs := tc.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return ""
	}
	return certs[0].Subject.CommonName
}
