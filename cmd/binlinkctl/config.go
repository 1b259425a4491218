package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/binlink/internal/peer"
	"github.com/danmuck/binlink/internal/protocol/channel"
)

// fileTuning is the per-invocation channel tuning file. Only keys present in
// the file override the base config.
type fileTuning struct {
	AckTimeout         string `toml:"ack_timeout"`
	WriteTimeout       string `toml:"write_timeout"`
	Mode               string `toml:"mode"`
	ConnectTimeout     string `toml:"connect_timeout"`
	MaxConnectAttempts int    `toml:"max_connect_attempts"`
}

func loadTuning(path string, base peer.Config) (peer.Config, error) {
	cfg := base

	var raw fileTuning
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return peer.Config{}, fmt.Errorf("load channel tuning: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return peer.Config{}, fmt.Errorf("load channel tuning: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("ack_timeout") {
		d, err := parsePositiveDuration("ack_timeout", raw.AckTimeout)
		if err != nil {
			return peer.Config{}, err
		}
		cfg.Channel.AckTimeout = d
	}

	if meta.IsDefined("write_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.WriteTimeout))
		if err != nil {
			return peer.Config{}, fmt.Errorf("parse write_timeout: %w", err)
		}
		if d == 0 {
			// zero in the file means no deadline
			d = -1
		}
		cfg.Channel.WriteTimeout = d
	}

	if meta.IsDefined("mode") {
		mode, err := channel.ParseMode(raw.Mode)
		if err != nil {
			return peer.Config{}, err
		}
		cfg.Channel.Mode = mode
	}

	if meta.IsDefined("connect_timeout") {
		d, err := parsePositiveDuration("connect_timeout", raw.ConnectTimeout)
		if err != nil {
			return peer.Config{}, err
		}
		cfg.ConnectTimeout = d
	}

	if meta.IsDefined("max_connect_attempts") {
		if raw.MaxConnectAttempts < 0 {
			return peer.Config{}, fmt.Errorf("max_connect_attempts must be >= 0")
		}
		cfg.MaxConnectAttempts = raw.MaxConnectAttempts
	}

	return cfg, nil
}

func parsePositiveDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return d, nil
}
