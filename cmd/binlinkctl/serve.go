package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/danmuck/binlink/internal/admin"
	"github.com/danmuck/binlink/internal/auth"
	"github.com/danmuck/binlink/internal/config"
	"github.com/danmuck/binlink/internal/payload"
	"github.com/danmuck/binlink/internal/peer"
	"github.com/danmuck/binlink/internal/protocol/channel"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "cmd/binlinkctl/node.toml", "node config path")
	tuningPath := fs.String("channel", "", "optional channel tuning file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	nodeCfg, err := config.LoadNodeConfig(*configPath)
	if err != nil {
		return err
	}
	peerCfg, err := config.PeerConfig(nodeCfg)
	if err != nil {
		return err
	}
	if *tuningPath != "" {
		if peerCfg, err = loadTuning(*tuningPath, peerCfg); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(nodeCfg.OutDir, 0o755); err != nil {
		return fmt.Errorf("create out_dir: %w", err)
	}

	ln, err := peer.Listen(nodeCfg.Listen, peerCfg)
	if err != nil {
		return err
	}
	defer ln.Close()

	g, gctx := errgroup.WithContext(ctx)
	var adm *admin.Server
	if strings.TrimSpace(nodeCfg.AdminAddr) != "" {
		admCfg := admin.Config{ID: nodeCfg.Name, Addr: nodeCfg.AdminAddr, CorsOrigins: nodeCfg.CorsOrigins}
		if token := strings.TrimSpace(nodeCfg.AdminToken); token != "" {
			admCfg.Operator = auth.StaticToken{Token: token}
		}
		adm = admin.New(admCfg)
		g.Go(func() error { return adm.Serve(gctx) })
		adm.SetReady(true)
	}

	log.Info().
		Str("node", nodeCfg.Name).
		Str("listen", ln.Addr().String()).
		Str("out_dir", nodeCfg.OutDir).
		Msg("binlink node started")

	g.Go(func() error { return acceptLoop(gctx, ln, adm, nodeCfg.OutDir) })
	return g.Wait()
}

// acceptor is the part of peer.Listener the accept loop needs.
type acceptor interface {
	Accept(ctx context.Context) (*channel.Channel, error)
	Backoff() peer.BackoffConfig
}

// acceptLoop hands every accepted channel to a receive loop until ctx is
// done. Repeated accept failures back off on the listener's schedule; a
// failed handshake only drops that one peer.
func acceptLoop(ctx context.Context, ln acceptor, adm *admin.Server, outDir string) error {
	failures := 0
	for {
		ch, err := ln.Accept(ctx)
		switch {
		case err == nil:
			failures = 0
		case ctx.Err() != nil:
			log.Info().Msg("binlink node stopping")
			return nil
		case errors.Is(err, peer.ErrHandshakeFailed):
			continue
		case errors.Is(err, net.ErrClosed):
			return fmt.Errorf("accept: %w", err)
		default:
			failures++
			log.Warn().Err(err).Int("failures", failures).Msg("accept failed")
			if peer.SleepBackoff(ctx, ln.Backoff(), failures, nil) != nil {
				log.Info().Msg("binlink node stopping")
				return nil
			}
			continue
		}
		if adm != nil {
			adm.Track(ch)
		}
		go receiveLoop(ctx, ch, outDir)
	}
}

// receiveLoop stores every transfer ch announces until it closes.
func receiveLoop(ctx context.Context, ch *channel.Channel, outDir string) {
	defer ch.Close()
	go func() {
		select {
		case <-ctx.Done():
			_ = ch.Close()
		case <-ch.Done():
		}
	}()
	for {
		in, err := ch.ReceiveNextTransfer(ctx)
		if err != nil {
			log.Debug().Err(err).Str("channel", ch.Name()).Msg("receive loop done")
			return
		}
		path, n, err := storeTransfer(outDir, in)
		if err != nil {
			log.Warn().
				Err(err).
				Str("channel", ch.Name()).
				Uint16("fragment", in.FragmentID()).
				Msg("transfer not stored")
			continue
		}
		log.Info().
			Str("channel", ch.Name()).
			Str("id", in.Descriptor().ID).
			Str("path", path).
			Str("size", humanize.IBytes(uint64(n))).
			Msg("transfer stored")
	}
}

// storeTransfer streams in into a new file under outDir, restoring and
// verifying sealed payloads. A transfer that cannot be stored is rejected and
// a partial file is removed.
func storeTransfer(outDir string, in *channel.IncomingTransfer) (string, int64, error) {
	src, err := payload.NewReader(in.Descriptor(), in)
	if err != nil {
		if rejectErr := in.Reject(); rejectErr != nil {
			err = errors.Join(err, rejectErr)
		}
		return "", 0, err
	}
	defer src.Close()
	f, err := createUnique(outDir, transferFileName(in))
	if err != nil {
		if rejectErr := in.Reject(); rejectErr != nil {
			err = errors.Join(err, rejectErr)
		}
		return "", 0, err
	}
	n, err := io.Copy(f, src)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = in.Reject()
		_ = os.Remove(f.Name())
		return "", n, err
	}
	return f.Name(), n, nil
}

func transferFileName(in *channel.IncomingTransfer) string {
	name := filepath.Base(strings.TrimSpace(in.Descriptor().ID))
	if name == "" || name == "." || name == ".." || name == string(filepath.Separator) {
		return fmt.Sprintf("transfer-%d", in.FragmentID())
	}
	return name
}

func createUnique(dir, name string) (*os.File, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	candidate := name
	for i := 1; ; i++ {
		f, err := os.OpenFile(filepath.Join(dir, candidate), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, os.ErrExist) || i > 1000 {
			return nil, err
		}
		candidate = fmt.Sprintf("%s-%d%s", stem, i, ext)
	}
}
