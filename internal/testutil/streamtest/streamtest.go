// Package streamtest provides in-memory streams for channel tests.
package streamtest

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/binlink/internal/protocol/frame"
)

// Pipe returns two connected in-memory stream ends closed at test cleanup.
func Pipe(t testing.TB) (net.Conn, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a, b
}

// Recorder wraps a stream end and keeps a copy of every Write call.
type Recorder struct {
	net.Conn

	mu     sync.Mutex
	writes [][]byte
}

func Record(conn net.Conn) *Recorder {
	return &Recorder{Conn: conn}
}

func (r *Recorder) Write(p []byte) (int, error) {
	n, err := r.Conn.Write(p)
	if n > 0 {
		buf := make([]byte, n)
		copy(buf, p[:n])
		r.mu.Lock()
		r.writes = append(r.writes, buf)
		r.mu.Unlock()
	}
	return n, err
}

// Writes returns a copy of every recorded Write payload.
func (r *Recorder) Writes() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.writes))
	copy(out, r.writes)
	return out
}

// Frames decodes each recorded Write as exactly one frame. A Write holding a
// partial frame or more than one frame is an error.
func (r *Recorder) Frames() ([]frame.Frame, error) {
	writes := r.Writes()
	out := make([]frame.Frame, 0, len(writes))
	for i, w := range writes {
		rd := bytes.NewReader(w)
		f, err := frame.ReadFrame(rd)
		if err != nil {
			return nil, fmt.Errorf("write %d: %w", i, err)
		}
		if rd.Len() != 0 {
			return nil, fmt.Errorf("write %d: %d trailing bytes after %s", i, rd.Len(), f.Opcode)
		}
		out = append(out, f)
	}
	return out, nil
}

// Peer speaks the wire format by hand on one end of a pipe.
type Peer struct {
	Conn   net.Conn
	Frames chan frame.Frame
	Err    chan error
}

// NewPeer starts decoding frames from conn in the background.
func NewPeer(conn net.Conn) *Peer {
	p := &Peer{
		Conn:   conn,
		Frames: make(chan frame.Frame, 256),
		Err:    make(chan error, 1),
	}
	go func() {
		for {
			f, err := frame.ReadFrame(conn)
			if err != nil {
				p.Err <- err
				close(p.Frames)
				return
			}
			p.Frames <- f
		}
	}()
	return p
}

func (p *Peer) Write(t testing.TB, f frame.Frame) {
	t.Helper()
	if err := frame.WriteFrame(p.Conn, f); err != nil {
		t.Fatalf("peer write %s: %v", f.Opcode, err)
	}
}

// WriteRaw sends bytes that need not form a valid frame.
func (p *Peer) WriteRaw(t testing.TB, b []byte) {
	t.Helper()
	if _, err := p.Conn.Write(b); err != nil {
		t.Fatalf("peer raw write: %v", err)
	}
}

// Next waits for the next decoded frame.
func (p *Peer) Next(t testing.TB, timeout time.Duration) frame.Frame {
	t.Helper()
	select {
	case f, ok := <-p.Frames:
		if !ok {
			t.Fatalf("peer stream ended")
		}
		return f
	case <-time.After(timeout):
		t.Fatalf("no frame within %v", timeout)
	}
	return frame.Frame{}
}

// Discard drains conn until it closes.
func Discard(conn net.Conn) {
	go func() {
		_, _ = io.Copy(io.Discard, conn)
	}()
}
