package peer

import (
	"errors"
	"testing"

	"github.com/danmuck/binlink/internal/testutil/testlog"
)

func TestValidateTransport(t *testing.T) {
	testlog.Start(t)
	full := TLSConfig{
		Enabled:  true,
		Mutual:   true,
		CAFile:   "ca.pem",
		CertFile: "node.pem",
		KeyFile:  "node.key",
	}
	withTLS := func(mode SecurityMode, mutate func(*TLSConfig)) Config {
		cfg := DefaultConfig()
		cfg.SecurityMode = mode
		cfg.TLS = full
		if mutate != nil {
			mutate(&cfg.TLS)
		}
		return cfg
	}

	cases := []struct {
		name       string
		cfg        Config
		wantClient error
		wantServer error
	}{
		{name: "development plaintext", cfg: DefaultConfig()},
		{name: "production plaintext", cfg: withTLS(SecurityModeProduction, func(c *TLSConfig) { *c = TLSConfig{} }),
			wantClient: ErrTLSRequired, wantServer: ErrTLSRequired},
		{name: "production one-way", cfg: withTLS(SecurityModeProduction, func(c *TLSConfig) { c.Mutual = false }),
			wantClient: ErrMTLSRequired, wantServer: ErrMTLSRequired},
		{name: "production skip verify", cfg: withTLS(SecurityModeProduction, func(c *TLSConfig) { c.InsecureSkipVerify = true }),
			wantClient: ErrTLSInsecureSkipNotAllow},
		{name: "production mutual", cfg: withTLS(SecurityModeProduction, nil)},
		{name: "mutual without tls", cfg: withTLS(SecurityModeDevelopment, func(c *TLSConfig) { c.Enabled = false }),
			wantClient: ErrTLSRequired, wantServer: ErrTLSRequired},
		{name: "missing ca", cfg: withTLS(SecurityModeDevelopment, func(c *TLSConfig) { c.CAFile = "" }),
			wantClient: ErrTLSCAFileRequired, wantServer: ErrTLSCAFileRequired},
		{name: "missing cert", cfg: withTLS(SecurityModeDevelopment, func(c *TLSConfig) { c.CertFile = "" }),
			wantClient: ErrTLSCertFileRequired, wantServer: ErrTLSCertFileRequired},
		{name: "missing key", cfg: withTLS(SecurityModeDevelopment, func(c *TLSConfig) { c.KeyFile = "" }),
			wantClient: ErrTLSKeyFileRequired, wantServer: ErrTLSKeyFileRequired},
		{name: "one-way client trusts ca only", cfg: withTLS(SecurityModeDevelopment, func(c *TLSConfig) {
			c.Mutual, c.CertFile, c.KeyFile = false, "", ""
		}), wantServer: ErrTLSCertFileRequired},
		{name: "skip verify drops ca need", cfg: withTLS(SecurityModeDevelopment, func(c *TLSConfig) {
			c.Mutual, c.CAFile, c.InsecureSkipVerify = false, "", true
		})},
		{name: "unknown mode", cfg: withTLS("paranoid", nil),
			wantClient: ErrInvalidSecurityMode, wantServer: ErrInvalidSecurityMode},
	}
	for _, tc := range cases {
		if err := tc.cfg.ValidateClientTransport(); !matches(err, tc.wantClient) {
			t.Fatalf("%s: client got=%v want=%v", tc.name, err, tc.wantClient)
		}
		if err := tc.cfg.ValidateServerTransport(); !matches(err, tc.wantServer) {
			t.Fatalf("%s: server got=%v want=%v", tc.name, err, tc.wantServer)
		}
	}
}

func matches(got, want error) bool {
	if want == nil {
		return got == nil
	}
	return errors.Is(got, want)
}

func TestNormalizeSecurityMode(t *testing.T) {
	testlog.Start(t)
	if got := NormalizeSecurityMode("  "); got != SecurityModeDevelopment {
		t.Fatalf("blank mode got=%q", got)
	}
	if got := NormalizeSecurityMode(" Production "); got != SecurityModeProduction {
		t.Fatalf("mixed case mode got=%q", got)
	}
}
