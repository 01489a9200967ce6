package reclaim

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
)

// --------------------------------------------------------------------------
// Grace Period Domain
// --------------------------------------------------------------------------

// phaseCounter is padded to its own cache line so readers of the two phases
// do not false-share.
type phaseCounter struct {
	n atomic.Int64
	_ [56]byte
}

// Domain tracks reader critical sections and provides grace periods.
//
// Readers announce themselves in the currently active phase (Enter) and
// withdraw from the same phase (Exit). Synchronize flips the active phase and
// waits until the phase that was active before the flip has drained. It does
// this twice: a reader that sampled the phase just before a flip but
// incremented its counter just after the wait may land in a phase that was
// already checked, the second flip covers exactly that reader.
type Domain struct {
	phase   atomic.Uint32
	readers [2]phaseCounter

	gpMu    sync.Mutex
	gpCount atomic.Uint64
	gpTimer gometrics.Timer
}

// NewDomain creates a domain with no active readers
func NewDomain() *Domain {
	return &Domain{
		gpTimer: gometrics.NewTimer(),
	}
}

// Guard is a reader critical section. It must be released with Exit
// by the goroutine that obtained it, and must not be held across blocking calls.
type Guard struct {
	d     *Domain
	phase uint32
}

// Enter starts a reader critical section.
//
// Thread-safety: This method is thread-safe, lock-free and never blocks.
func (d *Domain) Enter() Guard {
	p := d.phase.Load() & 1
	d.readers[p].n.Add(1)
	return Guard{d: d, phase: p}
}

// Exit ends the critical section started by Enter
func (g Guard) Exit() {
	g.d.readers[g.phase].n.Add(-1)
}

// Synchronize blocks until every reader critical section that was active when
// the call started has ended. Concurrent callers are serialized.
func (d *Domain) Synchronize() {
	d.gpMu.Lock()
	defer d.gpMu.Unlock()

	start := time.Now()
	for i := 0; i < 2; i++ {
		prev := (d.phase.Add(1) - 1) & 1
		d.waitDrained(prev)
	}
	d.gpCount.Add(1)
	d.gpTimer.UpdateSince(start)
}

// waitDrained spins until the reader count of phase p reaches zero.
// Reader sections are short, so spinning briefly is cheaper than parking.
func (d *Domain) waitDrained(p uint32) {
	backoff := time.Microsecond
	for spins := 0; d.readers[p].n.Load() != 0; spins++ {
		if spins < 64 {
			runtime.Gosched()
			continue
		}
		time.Sleep(backoff)
		if backoff < time.Millisecond {
			backoff *= 2
		}
	}
}

// ActiveReaders returns the number of reader sections currently open
func (d *Domain) ActiveReaders() int64 {
	return d.readers[0].n.Load() + d.readers[1].n.Load()
}

// GracePeriods returns how many grace periods completed
func (d *Domain) GracePeriods() uint64 {
	return d.gpCount.Load()
}

// GracePeriodTimer exposes the latency distribution of Synchronize
func (d *Domain) GracePeriodTimer() gometrics.Timer {
	return d.gpTimer
}
