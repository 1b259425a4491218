package channel

import (
	"sort"
	"sync"

	"github.com/danmuck/binlink/internal/protocol/frame"
)

// Status is the acknowledgement state of one fragment.
type Status int

const (
	StatusUnknown Status = iota
	StatusFinished
	StatusCanceled
	StatusRejected
)

func (s Status) String() string {
	switch s {
	case StatusFinished:
		return "finished"
	case StatusCanceled:
		return "canceled"
	case StatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// entry is the per-fragment state shared by the reader goroutine and the
// sender or consumer blocked on it.
type entry struct {
	id     uint16
	chunks int32

	mu       sync.Mutex
	queue    [][]byte
	received int32
	status   Status
	err      error

	ready    chan struct{}
	done     chan struct{}
	doneOnce sync.Once
}

func newEntry(id uint16, chunks int32) *entry {
	return &entry{
		id:     id,
		chunks: chunks,
		ready:  make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (e *entry) fire() {
	e.doneOnce.Do(func() { close(e.done) })
}

// push queues a chunk. Chunks for a settled entry are counted and dropped.
func (e *entry) push(chunk []byte) (received int32, kept bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.received++
	if e.status != StatusUnknown || e.err != nil {
		return e.received, false
	}
	e.queue = append(e.queue, chunk)
	select {
	case e.ready <- struct{}{}:
	default:
	}
	return e.received, true
}

// pop returns the oldest queued chunk, or nil with the current status and error.
func (e *entry) pop() ([]byte, Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) > 0 {
		chunk := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		return chunk, e.status, nil
	}
	return nil, e.status, e.err
}

// settle moves the entry from Unknown to s. Only the first call wins.
func (e *entry) settle(s Status) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != StatusUnknown || e.err != nil {
		return false
	}
	e.status = s
	if s != StatusFinished {
		e.queue = nil
	}
	e.fire()
	return true
}

// abort wakes every waiter with err unless a terminal status already arrived.
// Chunks already queued stay readable; err surfaces once they are drained.
func (e *entry) abort(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != StatusUnknown || e.err != nil {
		return
	}
	e.err = err
	e.fire()
}

func (e *entry) outcome() (Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status, e.err
}

func (e *entry) receivedAll() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.received >= e.chunks
}

// registry owns entry lifecycle for one direction of a channel.
type registry struct {
	mu      sync.Mutex
	entries map[uint16]*entry
	next    uint16
	closed  error
}

func newRegistry() *registry {
	return &registry{entries: make(map[uint16]*entry)}
}

// allocate reserves the next free 15-bit fragment id. Ids still outstanding
// after a wraparound are skipped.
func (r *registry) allocate() (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed != nil {
		return nil, r.closed
	}
	for i := 0; i <= int(frame.FragmentIDMask); i++ {
		id := r.next
		r.next = (r.next + 1) & frame.FragmentIDMask
		if _, busy := r.entries[id]; busy {
			continue
		}
		e := newEntry(id, 0)
		r.entries[id] = e
		return e, nil
	}
	return nil, ErrNoFreeFragmentID
}

// open registers an announced incoming fragment. A rejected entry still
// draining DATA may be replaced; any other live entry is a collision.
func (r *registry) open(id uint16, chunks int32) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed != nil {
		return nil, r.closed
	}
	if prev, ok := r.entries[id]; ok {
		if status, _ := prev.outcome(); status != StatusRejected {
			return nil, ErrFragmentCollision
		}
	}
	e := newEntry(id, chunks)
	r.entries[id] = e
	return e, nil
}

func (r *registry) get(id uint16) (*entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	return e, ok
}

// retire removes e if it is still the registered entry for its id.
func (r *registry) retire(e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.entries[e.id]; ok && cur == e {
		delete(r.entries, e.id)
	}
}

func (r *registry) ids() []uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint16, 0, len(r.entries))
	for id := range r.entries {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// shutdown broadcasts err to every outstanding entry and refuses new ones.
// A closed stream does not wake waiters on its own.
func (r *registry) shutdown(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed != nil {
		return
	}
	r.closed = err
	for id, e := range r.entries {
		e.abort(err)
		delete(r.entries, id)
	}
}
