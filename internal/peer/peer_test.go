package peer

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/danmuck/binlink/internal/protocol"
	"github.com/danmuck/binlink/internal/protocol/channel"
	"github.com/danmuck/binlink/internal/testutil/testlog"
	"github.com/danmuck/binlink/internal/testutil/tlstest"
)

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxConnectAttempts = 3
	cfg.Backoff = BackoffConfig{InitialDelay: 5 * time.Millisecond, Multiplier: 1.5, MaxDelay: 20 * time.Millisecond}
	return cfg
}

func roundTrip(t *testing.T, ln *Listener, cfg Config) (*channel.Channel, *channel.Channel) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	accepted := make(chan *channel.Channel, 1)
	acceptErr := make(chan error, 1)
	go func() {
		ch, err := ln.Accept(ctx)
		if err != nil {
			acceptErr <- err
			return
		}
		accepted <- ch
	}()

	client, err := Dial(ctx, ln.Addr().String(), cfg)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	var server *channel.Channel
	select {
	case server = <-accepted:
	case err := <-acceptErr:
		t.Fatalf("accept: %v", err)
	}
	t.Cleanup(func() { _ = server.Close() })

	payload := bytes.Repeat([]byte("binlink"), 12000)
	got := make(chan []byte, 1)
	go func() {
		in, err := server.ReceiveNextTransfer(ctx)
		if err != nil {
			got <- nil
			return
		}
		data, _ := in.ReadAll(ctx)
		got <- data
	}()
	desc := protocol.TransferDescriptor{Type: protocol.TransferArchive, ID: "tcp-1", Size: uint64(len(payload))}
	if err := client.Send(ctx, desc, payload, nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	if data := <-got; !bytes.Equal(data, payload) {
		t.Fatalf("payload mismatch over tcp: got %d bytes", len(data))
	}
	return client, server
}

func TestListenDialRoundTrip(t *testing.T) {
	testlog.Start(t)
	ln, err := Listen("127.0.0.1:0", fastConfig())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	client, server := roundTrip(t, ln, fastConfig())
	if client.Mode() != channel.ModeTCP || server.Mode() != channel.ModeTCP {
		t.Fatalf("mode got client=%s server=%s", client.Mode(), server.Mode())
	}
	if server.Name() != "binlink#1" {
		t.Fatalf("server channel name got=%q", server.Name())
	}
}

func TestMutualTLSRoundTrip(t *testing.T) {
	testlog.Start(t)
	ca := tlstest.NewAuthority(t, "binlink-test-ca")
	server := ca.Server(t, "binlink-server", "localhost", "127.0.0.1")
	client := ca.Client(t, "binlink-client")

	serverCfg := fastConfig()
	serverCfg.SecurityMode = SecurityModeProduction
	serverCfg.TLS = TLSConfig{Enabled: true, Mutual: true, CertFile: server.Cert, KeyFile: server.Key, CAFile: ca.CAFile()}
	ln, err := Listen("127.0.0.1:0", serverCfg)
	if err != nil {
		t.Fatalf("listen tls: %v", err)
	}
	defer ln.Close()

	clientCfg := fastConfig()
	clientCfg.SecurityMode = SecurityModeProduction
	clientCfg.TLS = TLSConfig{Enabled: true, Mutual: true, CertFile: client.Cert, KeyFile: client.Key, CAFile: ca.CAFile()}
	roundTrip(t, ln, clientCfg)
}

func TestAcceptReportsHandshakeFailure(t *testing.T) {
	testlog.Start(t)
	ca := tlstest.NewAuthority(t, "binlink-test-ca")
	server := ca.Server(t, "binlink-server", "localhost", "127.0.0.1")

	cfg := fastConfig()
	cfg.TLS = TLSConfig{Enabled: true, CertFile: server.Cert, KeyFile: server.Key}
	ln, err := Listen("127.0.0.1:0", cfg)
	if err != nil {
		t.Fatalf("listen tls: %v", err)
	}
	defer ln.Close()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_, _ = conn.Write([]byte("plaintext is not a client hello\r\n"))
	_ = conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := ln.Accept(ctx); !errors.Is(err, ErrHandshakeFailed) {
		t.Fatalf("expected ErrHandshakeFailed, got %v", err)
	}
	if got := ln.Backoff(); got != cfg.Backoff {
		t.Fatalf("listener backoff got=%+v want=%+v", got, cfg.Backoff)
	}
}

func TestDialGivesUpAfterMaxAttempts(t *testing.T) {
	testlog.Start(t)
	probe, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("probe listen: %v", err)
	}
	addr := probe.Addr().String()
	_ = probe.Close()

	_, err = Dial(context.Background(), addr, fastConfig())
	if err == nil {
		t.Fatalf("expected dial failure")
	}
}

func TestDialStopsOnContext(t *testing.T) {
	testlog.Start(t)
	probe, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("probe listen: %v", err)
	}
	addr := probe.Addr().String()
	_ = probe.Close()

	cfg := fastConfig()
	cfg.MaxConnectAttempts = 0
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := Dial(ctx, addr, cfg); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestAcceptStopsOnContext(t *testing.T) {
	testlog.Start(t)
	ln, err := Listen("127.0.0.1:0", fastConfig())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := ln.Accept(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestAddressRequired(t *testing.T) {
	testlog.Start(t)
	if _, err := Listen(" ", DefaultConfig()); !errors.Is(err, ErrAddressRequired) {
		t.Fatalf("listen: expected ErrAddressRequired, got %v", err)
	}
	if _, err := Dial(context.Background(), "", DefaultConfig()); !errors.Is(err, ErrAddressRequired) {
		t.Fatalf("dial: expected ErrAddressRequired, got %v", err)
	}
}

func TestWithDefaultsTagsTCP(t *testing.T) {
	testlog.Start(t)
	cfg := Config{}.WithDefaults()
	if cfg.Channel.Mode != channel.ModeTCP {
		t.Fatalf("mode got=%s", cfg.Channel.Mode)
	}
	if cfg.SecurityMode != SecurityModeDevelopment || cfg.ConnectTimeout != 5*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Backoff.InitialDelay != 250*time.Millisecond {
		t.Fatalf("backoff defaults not applied: %+v", cfg.Backoff)
	}
}
