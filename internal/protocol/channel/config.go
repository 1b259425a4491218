package channel

import (
	"fmt"
	"strings"
	"time"
)

// Mode tags the transport that established the underlying stream.
type Mode string

const (
	ModeUnknown        Mode = "unknown"
	ModeSOCKS5         Mode = "socks5"
	ModeSOCKS5Mediated Mode = "socks5-mediated"
	ModeIBB            Mode = "ibb"
	ModeTCP            Mode = "tcp"
	ModePipe           Mode = "pipe"
)

// ParseMode normalizes a configured mode string.
func ParseMode(raw string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(raw))); m {
	case "":
		return ModeUnknown, nil
	case ModeUnknown, ModeSOCKS5, ModeSOCKS5Mediated, ModeIBB, ModeTCP, ModePipe:
		return m, nil
	default:
		return ModeUnknown, fmt.Errorf("channel: unknown transfer mode %q", raw)
	}
}

// Config defines per-channel behavior.
type Config struct {
	Name           string
	Mode           Mode
	AckTimeout     time.Duration
	WriteTimeout   time.Duration
	ReadBufferSize int
}

// DefaultConfig keeps the ten one-second acknowledgement polls of the
// original protocol as a single ten second budget.
func DefaultConfig() Config {
	return Config{
		Name:           "binlink",
		Mode:           ModeUnknown,
		AckTimeout:     10 * time.Second,
		WriteTimeout:   15 * time.Second,
		ReadBufferSize: 64 * 1024,
	}
}

// WithDefaults fills zero fields from DefaultConfig. A negative WriteTimeout
// disables write deadlines.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(c.Name) == "" {
		c.Name = def.Name
	}
	if c.Mode == "" {
		c.Mode = def.Mode
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = def.AckTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = def.ReadBufferSize
	}
	return c
}
