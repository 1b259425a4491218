package channel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/binlink/internal/observability"
	"github.com/danmuck/binlink/internal/protocol"
	"github.com/danmuck/binlink/internal/protocol/frame"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// Send transfers data under desc and blocks until the peer acknowledges it.
//
// The sink is polled before every DATA frame; a canceled sink or ctx aborts
// with ErrLocalCanceled after a CANCEL frame. A REJECT from the peer aborts
// with ErrRemoteCanceled. With no acknowledgement within AckTimeout after the
// last chunk, Send fails with ErrAckTimeout and the channel stays usable.
func (c *Channel) Send(ctx context.Context, desc protocol.TransferDescriptor, data []byte, sink ProgressSink) (err error) {
	if !c.IsConnected() {
		return c.Err()
	}
	if len(data) == 0 {
		return ErrEmptyPayload
	}
	if sink == nil {
		sink = nopSink{}
	}
	descData, err := protocol.EncodeDescriptor(desc)
	if err != nil {
		return err
	}
	if len(descData) > frame.MaxChunk {
		return fmt.Errorf("%w: %d bytes", ErrDescriptorTooLarge, len(descData))
	}

	e, err := c.outgoing.allocate()
	if err != nil {
		return err
	}
	start := time.Now()
	chunks := frame.ChunkCount(len(data))
	log := c.log.With().Uint16("fragment", e.id).Int("chunks", chunks).Logger()
	defer func() {
		c.outgoing.retire(e)
		outcome := sendOutcome(err)
		observability.RecordTransfer(string(c.cfg.Mode), "send", outcome)
		observability.ObserveSend(string(c.cfg.Mode), outcome, time.Since(start))
		log.Debug().Err(err).Str("outcome", outcome).Dur("elapsed", time.Since(start)).Msg("send done")
	}()

	log.Debug().
		Str("type", string(desc.Type)).
		Str("id", desc.ID).
		Str("size", humanize.IBytes(uint64(len(data)))).
		Msg("send start")
	if err := c.writeFrame(frame.Frame{
		Opcode:     frame.OpTransferDescription,
		FragmentID: e.id,
		ChunkCount: int32(chunks),
		Payload:    descData,
	}); err != nil {
		return err
	}

	if err := c.splitAndSend(ctx, e, data, chunks, sink); err != nil {
		if errors.Is(err, ErrLocalCanceled) || errors.Is(err, ErrRemoteCanceled) {
			// CANCEL also lets a rejecting peer stop waiting for the rest of the DATA.
			c.cancelFragment(log, e.id)
		}
		return err
	}
	return c.awaitAck(ctx, log, e)
}

func (c *Channel) splitAndSend(ctx context.Context, e *entry, data []byte, chunks int, sink ProgressSink) error {
	offset := 0
	for i := 1; i <= chunks; i++ {
		status, err := e.outcome()
		if err != nil {
			return err
		}
		if status == StatusRejected {
			return ErrRemoteCanceled
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrLocalCanceled, err)
		}
		if sink.Canceled() {
			return ErrLocalCanceled
		}

		n := min(len(data)-offset, frame.MaxChunk)
		started := time.Now()
		if err := c.writeFrame(frame.Frame{
			Opcode:     frame.OpData,
			FragmentID: e.id,
			Payload:    data[offset : offset+n],
		}); err != nil {
			return err
		}
		offset += n

		bps, remaining := estimate(n, len(data)-offset, time.Since(started))
		sink.Update(Progress{
			FragmentID:     e.id,
			Chunk:          i,
			Chunks:         chunks,
			BytesSent:      offset,
			BytesTotal:     len(data),
			BytesPerSecond: bps,
			Remaining:      remaining,
		})
	}
	return nil
}

// awaitAck waits once, with a deadline, for the terminal status of e.
func (c *Channel) awaitAck(ctx context.Context, log zerolog.Logger, e *entry) error {
	timer := time.NewTimer(c.cfg.AckTimeout)
	defer timer.Stop()
	select {
	case <-e.done:
	case <-ctx.Done():
		c.cancelFragment(log, e.id)
		return fmt.Errorf("%w: %w", ErrLocalCanceled, ctx.Err())
	case <-timer.C:
		log.Debug().Dur("timeout", c.cfg.AckTimeout).Msg("no acknowledgement")
		return ErrAckTimeout
	}

	status, err := e.outcome()
	switch {
	case status == StatusFinished:
		return nil
	case status == StatusRejected:
		return ErrRemoteCanceled
	case err != nil:
		return err
	default:
		return fmt.Errorf("%w: fragment %d settled as %s", ErrProtocol, e.id, status)
	}
}

func (c *Channel) cancelFragment(log zerolog.Logger, id uint16) {
	if err := c.sendControl(frame.OpCancel, id); err != nil {
		log.Debug().Err(err).Msg("cancel not delivered")
	}
}

func sendOutcome(err error) string {
	switch {
	case err == nil:
		return "finished"
	case errors.Is(err, ErrLocalCanceled):
		return "local_canceled"
	case errors.Is(err, ErrRemoteCanceled):
		return "rejected"
	case errors.Is(err, ErrAckTimeout):
		return "ack_timeout"
	case errors.Is(err, ErrChannelClosed):
		return "closed"
	default:
		return "error"
	}
}
