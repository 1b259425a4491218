package peer

import (
	"time"

	"github.com/danmuck/binlink/internal/protocol/channel"
)

type SecurityMode string

const (
	SecurityModeDevelopment SecurityMode = "development"
	SecurityModeProduction  SecurityMode = "production"
)

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

type TLSConfig struct {
	Enabled            bool
	Mutual             bool
	CertFile           string
	KeyFile            string
	CAFile             string
	ServerName         string
	InsecureSkipVerify bool
}

// Config defines how peer streams are established and the channel wrapped
// around each of them.
type Config struct {
	SecurityMode       SecurityMode
	ConnectTimeout     time.Duration
	HandshakeTimeout   time.Duration
	MaxConnectAttempts int
	Backoff            BackoffConfig
	TLS                TLSConfig
	Channel            channel.Config
}

func DefaultConfig() Config {
	ch := channel.DefaultConfig()
	ch.Mode = channel.ModeTCP
	return Config{
		SecurityMode:       SecurityModeDevelopment,
		ConnectTimeout:     5 * time.Second,
		HandshakeTimeout:   5 * time.Second,
		MaxConnectAttempts: 5,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
		Channel: ch,
	}
}

// WithDefaults fills zero durations and an untagged channel mode. A zero
// MaxConnectAttempts means retry until ctx is done.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	c.SecurityMode = NormalizeSecurityMode(c.SecurityMode)
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.Backoff.InitialDelay <= 0 && c.Backoff.Multiplier == 0 && c.Backoff.MaxDelay == 0 {
		c.Backoff = def.Backoff
	}
	if c.Channel.Mode == "" || c.Channel.Mode == channel.ModeUnknown {
		c.Channel.Mode = channel.ModeTCP
	}
	c.Channel = c.Channel.WithDefaults()
	return c
}
