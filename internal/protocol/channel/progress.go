package channel

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Progress is reported to the sender's sink after every DATA frame.
type Progress struct {
	FragmentID     uint16
	Chunk          int
	Chunks         int
	BytesSent      int
	BytesTotal     int
	BytesPerSecond int64
	Remaining      time.Duration
}

func (p Progress) Done() bool {
	return p.Chunk >= p.Chunks
}

func (p Progress) String() string {
	return fmt.Sprintf("Remaining time: %s (%s/s)", p.Remaining, humanize.IBytes(uint64(p.BytesPerSecond)))
}

// ProgressSink observes a send and may ask for it to stop. Canceled is polled
// before every DATA frame.
type ProgressSink interface {
	Update(Progress)
	Canceled() bool
}

// Monitor is a ProgressSink that remembers the last update and can be
// canceled from any goroutine.
type Monitor struct {
	onUpdate func(Progress)
	canceled atomic.Bool

	mu   sync.Mutex
	last Progress
}

func NewMonitor(onUpdate func(Progress)) *Monitor {
	return &Monitor{onUpdate: onUpdate}
}

func (m *Monitor) Update(p Progress) {
	m.mu.Lock()
	m.last = p
	m.mu.Unlock()
	if m.onUpdate != nil {
		m.onUpdate(p)
	}
}

func (m *Monitor) Cancel() {
	m.canceled.Store(true)
}

func (m *Monitor) Canceled() bool {
	return m.canceled.Load()
}

func (m *Monitor) Last() Progress {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

type nopSink struct{}

func (nopSink) Update(Progress) {}
func (nopSink) Canceled() bool  { return false }

// estimate derives throughput from the duration of the last chunk write and
// the time left for the remaining bytes at that rate.
func estimate(written, left int, elapsed time.Duration) (int64, time.Duration) {
	ms := float64(elapsed.Milliseconds())
	bps := int64(math.Round(float64(written) * 1000 / (ms + 1)))
	secs := int64(math.Round(float64(left) / (float64(bps) + 1)))
	return bps, time.Duration(secs) * time.Second
}
