package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/binlink/internal/config"
	"github.com/danmuck/binlink/internal/peer"
	"github.com/danmuck/binlink/internal/protocol/channel"
	"github.com/danmuck/binlink/internal/testutil/testlog"
)

func writeTuning(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "channel.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write tuning: %v", err)
	}
	return path
}

func TestLoadTuningTemplate(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "channel.toml")
	if err := config.WriteTemplate(path, "channel", false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	cfg, err := loadTuning(path, peer.DefaultConfig())
	if err != nil {
		t.Fatalf("load tuning: %v", err)
	}
	if cfg.Channel.AckTimeout != 10*time.Second || cfg.Channel.WriteTimeout != 15*time.Second {
		t.Fatalf("unexpected timeouts: %+v", cfg.Channel)
	}
	if cfg.Channel.Mode != channel.ModeTCP || cfg.ConnectTimeout != 5*time.Second || cfg.MaxConnectAttempts != 5 {
		t.Fatalf("unexpected tuning: %+v", cfg)
	}
}

func TestLoadTuningOverlaysOnlyDefinedKeys(t *testing.T) {
	testlog.Start(t)
	base := peer.DefaultConfig()
	base.Channel.Name = "edge-a"
	base.ConnectTimeout = 2 * time.Second

	cfg, err := loadTuning(writeTuning(t, `
ack_timeout = "750ms"
mode = "ibb"
max_connect_attempts = 0
`), base)
	if err != nil {
		t.Fatalf("load tuning: %v", err)
	}
	if cfg.Channel.AckTimeout != 750*time.Millisecond || cfg.Channel.Mode != channel.ModeIBB {
		t.Fatalf("overrides not applied: %+v", cfg.Channel)
	}
	if cfg.MaxConnectAttempts != 0 {
		t.Fatalf("explicit zero attempts not applied: %d", cfg.MaxConnectAttempts)
	}
	if cfg.Channel.Name != "edge-a" || cfg.ConnectTimeout != 2*time.Second {
		t.Fatalf("undefined keys changed base: %+v", cfg)
	}
}

func TestLoadTuningZeroWriteTimeoutDisablesDeadline(t *testing.T) {
	testlog.Start(t)
	cfg, err := loadTuning(writeTuning(t, `write_timeout = "0s"`), peer.DefaultConfig())
	if err != nil {
		t.Fatalf("load tuning: %v", err)
	}
	if got := cfg.WithDefaults().Channel.WriteTimeout; got >= 0 {
		t.Fatalf("write deadline still enabled: %v", got)
	}
}

func TestLoadTuningErrors(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"bad duration":      `ack_timeout = "abc"`,
		"zero ack":          `ack_timeout = "0s"`,
		"unknown mode":      `mode = "fax"`,
		"negative attempts": `max_connect_attempts = -1`,
		"unknown key":       `ack_timout = "1s"`,
		"syntax":            `ack_timeout = `,
	}
	for name, content := range cases {
		if _, err := loadTuning(writeTuning(t, content), peer.DefaultConfig()); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
