package admin

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/binlink/internal/auth"
	"github.com/danmuck/binlink/internal/protocol/channel"
	"github.com/danmuck/binlink/internal/testutil/streamtest"
	"github.com/danmuck/binlink/internal/testutil/testlog"
	"github.com/gorilla/websocket"
)

func serve(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func newChannel(t *testing.T, name string) *channel.Channel {
	t.Helper()
	conn, raw := streamtest.Pipe(t)
	streamtest.Discard(raw)
	cfg := channel.DefaultConfig()
	cfg.Name = name
	cfg.Mode = channel.ModePipe
	ch := channel.New(conn, cfg)
	t.Cleanup(func() { _ = ch.Close() })
	return ch
}

func TestHealthAndReady(t *testing.T) {
	testlog.Start(t)
	s := New(Config{ID: "node-a"})

	rr := serve(t, s, http.MethodGet, "/health")
	if rr.Code != http.StatusOK {
		t.Fatalf("health status=%d body=%s", rr.Code, rr.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if body["status"] != "ok" || body["node"] != "node-a" {
		t.Fatalf("unexpected health body: %#v", body)
	}

	if rr := serve(t, s, http.MethodGet, "/ready"); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready before SetReady status=%d", rr.Code)
	}
	s.SetReady(true)
	if rr := serve(t, s, http.MethodGet, "/ready"); rr.Code != http.StatusOK {
		t.Fatalf("ready status=%d", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	testlog.Start(t)
	s := New(Config{ID: "node-metrics"})
	_ = newChannel(t, "metrics-pipe")

	rr := serve(t, s, http.MethodGet, "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status=%d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "binlink_channel_open") {
		t.Fatalf("metrics body missing channel gauge")
	}
}

func TestChannelsListingAndClose(t *testing.T) {
	testlog.Start(t)
	s := New(Config{ID: "node-b", BasePath: "/admin"})
	s.Track(newChannel(t, "beta"))
	s.Track(newChannel(t, "alpha"))

	rr := serve(t, s, http.MethodGet, "/admin/channels")
	if rr.Code != http.StatusOK {
		t.Fatalf("channels status=%d body=%s", rr.Code, rr.Body.String())
	}
	var body struct {
		Channels []channel.Stats `json:"channels"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode channels: %v", err)
	}
	if len(body.Channels) != 2 || body.Channels[0].Name != "alpha" || body.Channels[1].Name != "beta" {
		t.Fatalf("unexpected channel listing: %+v", body.Channels)
	}
	if !body.Channels[0].Connected || body.Channels[0].Mode != channel.ModePipe {
		t.Fatalf("unexpected channel stats: %+v", body.Channels[0])
	}

	if rr := serve(t, s, http.MethodGet, "/admin/channels/alpha"); rr.Code != http.StatusOK {
		t.Fatalf("channel detail status=%d", rr.Code)
	}
	if rr := serve(t, s, http.MethodGet, "/admin/channels/gamma"); rr.Code != http.StatusNotFound {
		t.Fatalf("missing channel status=%d", rr.Code)
	}
	if rr := serve(t, s, http.MethodPost, "/admin/channels/gamma/close"); rr.Code != http.StatusNotFound {
		t.Fatalf("close missing channel status=%d", rr.Code)
	}
	if rr := serve(t, s, http.MethodPost, "/admin/channels/alpha/close"); rr.Code != http.StatusOK {
		t.Fatalf("close status=%d body=%s", rr.Code, rr.Body.String())
	}

	deadline := time.Now().Add(5 * time.Second)
	for len(s.Channels()) != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("closed channel still tracked: %+v", s.Channels())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := s.Channels()[0].Name; got != "beta" {
		t.Fatalf("remaining channel got=%q", got)
	}
}

func TestCorsPreflight(t *testing.T) {
	testlog.Start(t)
	s := New(Config{ID: "node-c", CorsOrigins: []string{"http://dash.local"}})
	req := httptest.NewRequest(http.MethodOptions, "/channels", nil)
	req.Header.Set("Origin", "http://dash.local")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://dash.local" {
		t.Fatalf("allow origin got=%q status=%d", got, rr.Code)
	}
}

func TestCloseRequiresOperatorToken(t *testing.T) {
	testlog.Start(t)
	s := New(Config{ID: "node-d", Operator: auth.StaticToken{Token: "s3cret"}})
	s.Track(newChannel(t, "guarded"))

	if rr := serve(t, s, http.MethodPost, "/channels/guarded/close"); rr.Code != http.StatusUnauthorized {
		t.Fatalf("close without token status=%d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/channels/guarded/close", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("close with wrong token status=%d", rr.Code)
	}
	if len(s.Channels()) != 1 || !s.Channels()[0].Connected {
		t.Fatalf("channel closed without authorization")
	}

	req = httptest.NewRequest(http.MethodPost, "/channels/guarded/close", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rr = httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("close with token status=%d body=%s", rr.Code, rr.Body.String())
	}

	if rr := serve(t, s, http.MethodGet, "/channels"); rr.Code != http.StatusOK {
		t.Fatalf("reads stay open, status=%d", rr.Code)
	}
}

func TestWatchStreamsSnapshots(t *testing.T) {
	testlog.Start(t)
	s := New(Config{ID: "node-w", WatchInterval: 20 * time.Millisecond})
	s.Track(newChannel(t, "watched"))
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/watch"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial watch: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("upgrade status=%d", resp.StatusCode)
	}

	for i := 0; i < 2; i++ {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var snap struct {
			Node     string          `json:"node"`
			Channels []channel.Stats `json:"channels"`
		}
		if err := conn.ReadJSON(&snap); err != nil {
			t.Fatalf("read snapshot %d: %v", i, err)
		}
		if snap.Node != "node-w" || len(snap.Channels) != 1 || snap.Channels[0].Name != "watched" {
			t.Fatalf("unexpected snapshot %d: %+v", i, snap)
		}
	}
}

func TestWatchRejectsForeignOrigin(t *testing.T) {
	testlog.Start(t)
	s := New(Config{ID: "node-o", CorsOrigins: []string{"http://dash.local"}})
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/watch"
	header := http.Header{"Origin": []string{"http://evil.local"}}
	if _, _, err := websocket.DefaultDialer.Dial(url, header); err == nil {
		t.Fatalf("expected handshake failure for foreign origin")
	}
}

func TestServeStopsOnContextCancel(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	s := New(Config{ID: "node-s", Addr: addr})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get("http://" + addr + "/health")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("health status=%d", resp.StatusCode)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("admin never came up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("serve did not stop")
	}
}
