package channel

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/binlink/internal/observability"
	"github.com/danmuck/binlink/internal/protocol"
	"github.com/danmuck/binlink/internal/protocol/frame"
)

// ReceiveNextTransfer returns the next transfer announced by the peer. Its
// payload may still be arriving.
func (c *Channel) ReceiveNextTransfer(ctx context.Context) (*IncomingTransfer, error) {
	for {
		c.pendingMu.Lock()
		if len(c.pending) > 0 {
			t := c.pending[0]
			c.pending[0] = nil
			c.pending = c.pending[1:]
			more := len(c.pending) > 0
			c.pendingMu.Unlock()
			if more {
				c.signalPending()
			}
			return t, nil
		}
		c.pendingMu.Unlock()

		select {
		case <-c.pendingReady:
		case <-c.done:
			return nil, c.Err()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *Channel) signalPending() {
	select {
	case c.pendingReady <- struct{}{}:
	default:
	}
}

func (c *Channel) enqueue(t *IncomingTransfer) {
	c.pendingMu.Lock()
	c.pending = append(c.pending, t)
	c.pendingMu.Unlock()
	c.signalPending()
}

// readLoop drains the stream until it fails or the channel closes.
func (c *Channel) readLoop() {
	for {
		f, err := frame.ReadFrame(c.reader)
		if err != nil {
			c.readFailed(err)
			return
		}
		n := f.EncodedLen()
		c.framesIn.Add(1)
		c.bytesIn.Add(uint64(n))
		observability.RecordFrame(string(c.cfg.Mode), "in", f.Opcode.String(), n)
		c.log.Trace().
			Str("opcode", f.Opcode.String()).
			Uint16("fragment", f.FragmentID).
			Int("len", len(f.Payload)).
			Msg("frame in")

		if err := c.dispatch(f); err != nil {
			c.log.Error().Err(err).Uint16("fragment", f.FragmentID).Msg("protocol violation")
			c.shutdown(err)
			return
		}
	}
}

func (c *Channel) readFailed(err error) {
	switch {
	case !c.IsConnected():
	case errors.Is(err, frame.ErrUnknownOpcode),
		errors.Is(err, frame.ErrInvalidPayloadLen),
		errors.Is(err, frame.ErrInvalidChunkCount),
		errors.Is(err, frame.ErrTruncated):
		err = fmt.Errorf("%w: %w", ErrProtocol, err)
		c.log.Error().Err(err).Msg("malformed frame")
	case errors.Is(err, io.EOF), isAcceptedOnClosure(err):
		c.log.Debug().Err(err).Msg("stream terminated")
	default:
		c.log.Error().Err(err).Msg("read failed")
	}
	c.shutdown(err)
}

func (c *Channel) dispatch(f frame.Frame) error {
	switch f.Opcode {
	case frame.OpTransferDescription:
		desc, err := protocol.DecodeDescriptor(f.Payload)
		if err != nil {
			return fmt.Errorf("%w: fragment %d: %w", ErrProtocol, f.FragmentID, err)
		}
		e, err := c.incoming.open(f.FragmentID, f.ChunkCount)
		if err != nil {
			if errors.Is(err, ErrChannelClosed) {
				return err
			}
			return fmt.Errorf("%w: fragment %d: %w", ErrProtocol, f.FragmentID, err)
		}
		c.enqueue(newIncomingTransfer(c, e, desc))

	case frame.OpData:
		e, ok := c.incoming.get(f.FragmentID)
		if !ok {
			return fmt.Errorf("%w: DATA for unknown fragment %d", ErrProtocol, f.FragmentID)
		}
		received, kept := e.push(f.Payload)
		if !kept && received >= e.chunks {
			// rejected fragment has drained
			c.incoming.retire(e)
		}

	case frame.OpCancel:
		e, ok := c.incoming.get(f.FragmentID)
		if !ok {
			c.log.Debug().Uint16("fragment", f.FragmentID).Msg("CANCEL for unknown fragment ignored")
			return nil
		}
		if e.settle(StatusCanceled) {
			c.log.Debug().Uint16("fragment", f.FragmentID).Msg("transfer canceled by peer")
			observability.RecordTransfer(string(c.cfg.Mode), "receive", "remote_canceled")
		}
		c.incoming.retire(e)

	case frame.OpFinished, frame.OpReject:
		e, ok := c.outgoing.get(f.FragmentID)
		if !ok {
			c.log.Debug().
				Str("opcode", f.Opcode.String()).
				Uint16("fragment", f.FragmentID).
				Msg("acknowledgement for retired fragment ignored")
			return nil
		}
		status := StatusFinished
		if f.Opcode == frame.OpReject {
			status = StatusRejected
		}
		e.settle(status)
	}
	return nil
}
