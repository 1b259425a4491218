package channel

import (
	"bufio"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/binlink/internal/logging"
	"github.com/danmuck/binlink/internal/observability"
	"github.com/danmuck/binlink/internal/protocol/frame"
	"github.com/rs/zerolog"
)

// Stream is the ordered, reliable byte stream a channel runs over.
type Stream interface {
	io.Reader
	io.Writer
	io.Closer
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Channel is one bidirectional binary channel over a Stream.
type Channel struct {
	cfg    Config
	stream Stream
	reader *bufio.Reader
	log    zerolog.Logger

	wmu sync.Mutex

	outgoing *registry
	incoming *registry

	pendingMu    sync.Mutex
	pending      []*IncomingTransfer
	pendingReady chan struct{}

	mu        sync.Mutex
	connected bool
	err       error
	closeOnce sync.Once
	done      chan struct{}

	framesIn  atomic.Uint64
	framesOut atomic.Uint64
	bytesIn   atomic.Uint64
	bytesOut  atomic.Uint64
}

// Stats is a point-in-time view of a channel.
type Stats struct {
	Name      string   `json:"name"`
	Mode      Mode     `json:"mode"`
	Connected bool     `json:"connected"`
	FramesIn  uint64   `json:"frames_in"`
	FramesOut uint64   `json:"frames_out"`
	BytesIn   uint64   `json:"bytes_in"`
	BytesOut  uint64   `json:"bytes_out"`
	Outgoing  []uint16 `json:"outgoing"`
	Incoming  []uint16 `json:"incoming"`
	Pending   int      `json:"pending"`
	Error     string   `json:"error,omitempty"`
}

// New wraps stream and starts the dedicated reader goroutine.
func New(stream Stream, cfg Config) *Channel {
	cfg = cfg.WithDefaults()
	c := &Channel{
		cfg:          cfg,
		stream:       stream,
		reader:       bufio.NewReaderSize(stream, cfg.ReadBufferSize),
		outgoing:     newRegistry(),
		incoming:     newRegistry(),
		pendingReady: make(chan struct{}, 1),
		connected:    true,
		done:         make(chan struct{}),
	}
	c.log = logging.Component("channel").With().
		Str("channel", cfg.Name).
		Str("mode", string(cfg.Mode)).
		Logger()
	observability.ChannelOpened(string(cfg.Mode))
	go c.readLoop()
	return c
}

func (c *Channel) Name() string {
	return c.cfg.Name
}

func (c *Channel) Mode() Mode {
	return c.cfg.Mode
}

func (c *Channel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Err returns nil while connected and the closure cause afterwards. The cause
// always matches ErrChannelClosed.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done is closed once the channel has shut down.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Close shuts the channel down. Only the first call closes the stream.
func (c *Channel) Close() error {
	return c.shutdown(nil)
}

func (c *Channel) Stats() Stats {
	s := Stats{
		Name:      c.cfg.Name,
		Mode:      c.cfg.Mode,
		Connected: c.IsConnected(),
		FramesIn:  c.framesIn.Load(),
		FramesOut: c.framesOut.Load(),
		BytesIn:   c.bytesIn.Load(),
		BytesOut:  c.bytesOut.Load(),
		Outgoing:  c.outgoing.ids(),
		Incoming:  c.incoming.ids(),
	}
	c.pendingMu.Lock()
	s.Pending = len(c.pending)
	c.pendingMu.Unlock()
	if err := c.Err(); err != nil {
		s.Error = err.Error()
	}
	return s
}

func (c *Channel) shutdown(cause error) error {
	var closeErr error
	c.closeOnce.Do(func() {
		err := closedError(cause)
		c.mu.Lock()
		c.connected = false
		c.err = err
		c.mu.Unlock()

		if e := c.stream.Close(); e != nil && !isAcceptedOnClosure(e) {
			c.log.Debug().Err(e).Msg("close failed")
			closeErr = e
		}
		close(c.done)
		c.outgoing.shutdown(err)
		c.incoming.shutdown(err)
		observability.ChannelClosed(string(c.cfg.Mode))
		c.log.Debug().Err(cause).Msg("channel closed")
	})
	return closeErr
}

// writeFrame puts one complete frame on the stream. The encoded frame is
// handed to the stream in one Write under wmu. A failed write is never
// retried; it closes the channel.
func (c *Channel) writeFrame(f frame.Frame) error {
	buf, err := frame.Encode(f)
	if err != nil {
		return err
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if !c.IsConnected() {
		return c.Err()
	}
	if d, ok := c.stream.(writeDeadliner); ok && c.cfg.WriteTimeout > 0 {
		if err := d.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
			if !isAcceptedOnClosure(err) {
				c.log.Error().Err(err).Str("opcode", f.Opcode.String()).Msg("set write deadline failed")
			}
			c.shutdown(fmt.Errorf("write deadline: %w", err))
			return c.Err()
		}
	}
	if _, err := c.stream.Write(buf); err != nil {
		if c.IsConnected() && !isAcceptedOnClosure(err) {
			c.log.Error().Err(err).Str("opcode", f.Opcode.String()).Uint16("fragment", f.FragmentID).Msg("write failed")
		}
		c.shutdown(fmt.Errorf("write %s: %w", f.Opcode, err))
		return c.Err()
	}

	c.framesOut.Add(1)
	c.bytesOut.Add(uint64(len(buf)))
	observability.RecordFrame(string(c.cfg.Mode), "out", f.Opcode.String(), len(buf))
	c.log.Trace().
		Str("opcode", f.Opcode.String()).
		Uint16("fragment", f.FragmentID).
		Int("len", len(f.Payload)).
		Msg("frame out")
	return nil
}

func (c *Channel) sendControl(op frame.Opcode, id uint16) error {
	return c.writeFrame(frame.Frame{Opcode: op, FragmentID: id})
}
