package channel

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/danmuck/binlink/internal/observability"
	"github.com/danmuck/binlink/internal/protocol"
	"github.com/danmuck/binlink/internal/protocol/frame"
)

// maxPrealloc caps the buffer ReadAll reserves up front from peer-declared sizes.
const maxPrealloc = 16 << 20

// IncomingTransfer is the consumer handle for one announced transfer. The
// consumer sees the reassembled payload as a single ordered stream; FINISHED is
// sent on its behalf once the last declared chunk has been handed out.
//
// Read and ReadNext are meant for one consumer goroutine. Reject may be
// called from any goroutine and wakes a blocked read.
type IncomingTransfer struct {
	c    *Channel
	e    *entry
	desc protocol.TransferDescriptor

	mu        sync.Mutex
	delivered int32
	finished  bool

	buf []byte
}

func newIncomingTransfer(c *Channel, e *entry, desc protocol.TransferDescriptor) *IncomingTransfer {
	return &IncomingTransfer{c: c, e: e, desc: desc}
}

func (t *IncomingTransfer) Descriptor() protocol.TransferDescriptor {
	return t.desc
}

func (t *IncomingTransfer) FragmentID() uint16 {
	return t.e.id
}

// ChunkCount is the number of chunks the sender declared.
func (t *IncomingTransfer) ChunkCount() int {
	return int(t.e.chunks)
}

func (t *IncomingTransfer) Status() Status {
	status, _ := t.e.outcome()
	return status
}

// ReadNext returns the next reassembled chunk. It returns io.EOF once every
// declared chunk has been delivered and ErrReadTimeout when timeout elapses
// with nothing queued; a timeout leaves the transfer readable. A timeout of
// zero waits indefinitely.
//
// Chunks that arrived before the channel closed are still handed out. Once
// they run out, a transfer that received every declared chunk ends with
// io.EOF and a cut-off one fails with ErrChannelClosed.
func (t *IncomingTransfer) ReadNext(timeout time.Duration) ([]byte, error) {
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	chunk, err := t.next(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, ErrReadTimeout
	}
	return chunk, err
}

// Read implements io.Reader over the reassembled payload.
func (t *IncomingTransfer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if len(t.buf) == 0 {
		chunk, err := t.next(context.Background())
		if err != nil {
			return 0, err
		}
		t.buf = chunk
	}
	n := copy(p, t.buf)
	t.buf = t.buf[n:]
	return n, nil
}

// ReadAll drains the remaining payload. It succeeds only when every declared
// chunk was delivered.
func (t *IncomingTransfer) ReadAll(ctx context.Context) ([]byte, error) {
	size := min(int64(t.e.chunks)*frame.MaxChunk, maxPrealloc)
	if t.desc.Size > 0 && t.desc.Size < uint64(size) {
		size = int64(t.desc.Size)
	}
	out := make([]byte, 0, size)
	for {
		chunk, err := t.next(ctx)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
	}
}

func (t *IncomingTransfer) next(ctx context.Context) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.delivered >= t.e.chunks {
		return nil, io.EOF
	}
	for {
		chunk, status, err := t.e.pop()
		if chunk != nil {
			t.delivered++
			if t.delivered == t.e.chunks {
				if err := t.finishLocked(); err != nil {
					t.c.log.Debug().Err(err).Uint16("fragment", t.e.id).Msg("finish not delivered")
				}
			}
			return chunk, nil
		}
		switch status {
		case StatusCanceled:
			return nil, ErrRemoteCanceled
		case StatusRejected:
			return nil, ErrLocalCanceled
		case StatusFinished:
			return nil, io.EOF
		}
		if err != nil {
			return nil, err
		}

		select {
		case <-t.e.ready:
		case <-t.e.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Finish acknowledges a fully delivered transfer. It is a no-op when the
// acknowledgement was already sent.
func (t *IncomingTransfer) Finish() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished {
		return nil
	}
	if t.delivered < t.e.chunks {
		return ErrTransferIncomplete
	}
	return t.finishLocked()
}

func (t *IncomingTransfer) finishLocked() error {
	t.finished = true
	if !t.e.settle(StatusFinished) {
		status, err := t.e.outcome()
		if err != nil {
			return err
		}
		if status == StatusCanceled {
			return ErrRemoteCanceled
		}
		return nil
	}
	t.c.incoming.retire(t.e)
	observability.RecordTransfer(string(t.c.cfg.Mode), "receive", "finished")
	return t.c.sendControl(frame.OpFinished, t.e.id)
}

// Reject refuses the transfer, discards whatever is queued and sends REJECT.
// DATA still in flight for the fragment is dropped as it arrives.
func (t *IncomingTransfer) Reject() error {
	if !t.e.settle(StatusRejected) {
		status, err := t.e.outcome()
		switch {
		case status == StatusRejected, status == StatusCanceled:
			return nil
		case status == StatusFinished:
			return ErrTransferFinished
		default:
			return err
		}
	}
	if t.e.receivedAll() {
		t.c.incoming.retire(t.e)
	}
	t.c.log.Debug().Uint16("fragment", t.e.id).Msg("transfer rejected")
	observability.RecordTransfer(string(t.c.cfg.Mode), "receive", "rejected")
	return t.c.sendControl(frame.OpReject, t.e.id)
}
