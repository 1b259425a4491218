package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/danmuck/binlink/internal/config"
	"github.com/danmuck/binlink/internal/payload"
	"github.com/danmuck/binlink/internal/peer"
	"github.com/danmuck/binlink/internal/protocol"
	"github.com/danmuck/binlink/internal/protocol/channel"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

func runSend(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	addr := fs.String("addr", "", "peer address host:port")
	peerName := fs.String("peer", "", "peer name from the node config")
	configPath := fs.String("config", "", "node config path, for -peer and security settings")
	tuningPath := fs.String("channel", "", "optional channel tuning file")
	file := fs.String("file", "", "file to send")
	kind := fs.String("type", string(protocol.TransferResource), "transfer type")
	compress := fs.Bool("compress", false, "zstd compress the payload")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*file) == "" {
		return errors.New("send: -file is required")
	}

	peerCfg := peer.DefaultConfig()
	target := strings.TrimSpace(*addr)
	if *configPath != "" {
		nodeCfg, err := config.LoadNodeConfig(*configPath)
		if err != nil {
			return err
		}
		if peerCfg, err = config.PeerConfig(nodeCfg); err != nil {
			return err
		}
		if target == "" && *peerName != "" {
			entry, ok := nodeCfg.LookupPeer(*peerName)
			if !ok {
				return fmt.Errorf("send: unknown peer %q", *peerName)
			}
			target = entry.Addr
		}
	}
	if target == "" {
		return errors.New("send: -addr or -config with -peer is required")
	}
	if *tuningPath != "" {
		var err error
		if peerCfg, err = loadTuning(*tuningPath, peerCfg); err != nil {
			return err
		}
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		return err
	}
	desc := protocol.TransferDescriptor{
		Type:        protocol.TransferType(*kind),
		ID:          filepath.Base(*file),
		Sender:      peerCfg.Channel.Name,
		Recipient:   target,
		SessionID:   uuid.NewString(),
		Description: "file",
	}

	ch, err := peer.Dial(ctx, target, peerCfg)
	if err != nil {
		return err
	}
	defer ch.Close()
	return sendFile(ctx, ch, desc, data, payload.Options{Compress: *compress})
}

// sendFile seals data into desc and transfers it over ch.
func sendFile(ctx context.Context, ch *channel.Channel, desc protocol.TransferDescriptor, data []byte, opts payload.Options) error {
	wire, err := payload.Seal(&desc, data, opts)
	if err != nil {
		return fmt.Errorf("send %s: %w", desc.ID, err)
	}
	mon := channel.NewMonitor(func(p channel.Progress) {
		log.Info().
			Str("id", desc.ID).
			Int("chunk", p.Chunk).
			Int("chunks", p.Chunks).
			Msg(p.String())
	})
	if err := ch.Send(ctx, desc, wire, mon); err != nil {
		return fmt.Errorf("send %s: %w", desc.ID, err)
	}
	log.Info().
		Str("id", desc.ID).
		Str("size", humanize.IBytes(desc.Size)).
		Str("wire", humanize.IBytes(uint64(len(wire)))).
		Bool("compressed", desc.Compressed).
		Str("session", desc.SessionID).
		Str("channel", ch.Name()).
		Msg("transfer finished")
	return nil
}
