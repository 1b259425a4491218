package config

import (
	"github.com/danmuck/binlink/internal/peer"
	"github.com/danmuck/binlink/internal/protocol/channel"
)

// PeerConfig builds the stream settings a node listens and dials with.
func PeerConfig(cfg NodeConfig) (peer.Config, error) {
	mode, err := channel.ParseMode(cfg.Mode)
	if err != nil {
		return peer.Config{}, err
	}
	out := peer.DefaultConfig()
	out.Channel.Name = cfg.Name
	out.Channel.Mode = mode
	out.SecurityMode = peer.SecurityMode(cfg.Security.Mode)
	out.TLS = peer.TLSConfig{
		Enabled:            cfg.Security.TLS,
		Mutual:             cfg.Security.Mutual,
		CertFile:           cfg.Security.CertFile,
		KeyFile:            cfg.Security.KeyFile,
		CAFile:             cfg.Security.CAFile,
		ServerName:         cfg.Security.ServerName,
		InsecureSkipVerify: cfg.Security.InsecureSkipVerify,
	}
	return out.WithDefaults(), nil
}
