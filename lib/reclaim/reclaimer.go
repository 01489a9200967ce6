package reclaim

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/kStorage/lib/util"
	"github.com/lni/dragonboat/v4/logger"
	gometrics "github.com/rcrowley/go-metrics"
)

var Logger = logger.GetLogger("reclaim")

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	defaultInterval  = 10 * time.Millisecond // max delay before a partial batch is flushed
	defaultBatchSize = 256                   // flush as soon as this many objects are queued
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

// Mode selects how retired objects are freed
type Mode int

const (
	ModeAsync Mode = iota // hand off to the background reclaimer (default)
	ModeSync              // wait for a grace period in the retiring goroutine
)

func (m Mode) String() string {
	switch m {
	case ModeAsync:
		return "async"
	case ModeSync:
		return "sync"
	default:
		return "unknown"
	}
}

// ParseMode converts "async" or "sync" to a Mode
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "async":
		return ModeAsync, nil
	case "sync":
		return ModeSync, nil
	default:
		return ModeAsync, fmt.Errorf("invalid reclaim mode: %s (expected async or sync)", s)
	}
}

// Retirable is an object whose memory may only be released after a grace period
type Retirable interface {
	// Free releases the object. It is called exactly once, after no reader can reach it.
	Free()
}

// barrier is queued by Barrier, it flushes everything queued before it
type barrier struct {
	done chan struct{}
}

func (b *barrier) Free() { close(b.done) }

// Options configures the Reclaimer
type Options struct {
	Mode      Mode
	Interval  time.Duration // 0 = default
	BatchSize int           // 0 = default
}

// Stats is a point-in-time view of the reclaimer
type Stats struct {
	Mode           string  `json:"mode"`
	Retired        uint64  `json:"retired"`
	Freed          uint64  `json:"freed"`
	Pending        uint64  `json:"pending"`
	GracePeriods   uint64  `json:"grace_periods"`
	GracePeriodP50 float64 `json:"grace_period_p50_ns"`
	GracePeriodP99 float64 `json:"grace_period_p99_ns"`
	MeanBatchSize  float64 `json:"mean_batch_size"`
}

// --------------------------------------------------------------------------
// Reclaimer
// --------------------------------------------------------------------------

// Reclaimer defers freeing of retired objects until a grace period of its Domain has passed.
type Reclaimer struct {
	domain    *Domain
	mode      Mode
	interval  time.Duration
	batchSize int

	queue *util.LockFreeMPSC[Retirable]
	done  chan struct{}
	once  sync.Once

	retired atomic.Uint64
	freed   atomic.Uint64
	batches gometrics.Histogram
}

// NewReclaimer creates a reclaimer on the given domain.
// In async mode the background goroutine is started immediately and runs until Close.
func NewReclaimer(domain *Domain, opts Options) *Reclaimer {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}

	r := &Reclaimer{
		domain:    domain,
		mode:      opts.Mode,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
		done:      make(chan struct{}),
		batches:   gometrics.NewHistogram(gometrics.NewUniformSample(1028)),
	}

	if r.mode == ModeAsync {
		r.queue = util.NewLockFreeMPSC[Retirable]()
		go r.run()
	} else {
		close(r.done)
	}

	return r
}

// Retire schedules objects to be freed after the next grace period.
// Nil objects are ignored. In sync mode the call blocks for one grace period.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (r *Reclaimer) Retire(objs ...Retirable) {
	live := make([]Retirable, 0, len(objs))
	for _, o := range objs {
		if o != nil {
			live = append(live, o)
		}
	}
	if len(live) == 0 {
		return
	}
	objs = live
	r.retired.Add(uint64(len(objs)))

	if r.mode == ModeSync || r.queue.IsClosed() {
		r.domain.Synchronize()
		r.free(objs)
		return
	}

	for i, o := range objs {
		if !r.queue.Push(o) {
			// closed between the check and the push, finish the rest inline
			r.domain.Synchronize()
			r.free(objs[i:])
			return
		}
	}
}

// Barrier blocks until every object retired before the call has been freed.
func (r *Reclaimer) Barrier() {
	if r.mode == ModeSync {
		return
	}
	b := &barrier{done: make(chan struct{})}
	if !r.queue.Push(b) {
		<-r.done
		return
	}
	<-b.done
}

// Close drains the queue, frees everything still pending and stops the background goroutine.
// Retire calls racing Close are either queued before the drain finishes or freed inline.
func (r *Reclaimer) Close() {
	r.once.Do(func() {
		if r.queue != nil {
			r.queue.Close()
		}
	})
	<-r.done
}

// Pending returns the number of retired objects that are not yet freed
func (r *Reclaimer) Pending() uint64 {
	retired, freed := r.retired.Load(), r.freed.Load()
	if freed > retired {
		return 0
	}
	return retired - freed
}

// Stats returns counters and latency figures of the reclaimer
func (r *Reclaimer) Stats() Stats {
	timer := r.domain.GracePeriodTimer()
	return Stats{
		Mode:           r.mode.String(),
		Retired:        r.retired.Load(),
		Freed:          r.freed.Load(),
		Pending:        r.Pending(),
		GracePeriods:   r.domain.GracePeriods(),
		GracePeriodP50: timer.Percentile(0.5),
		GracePeriodP99: timer.Percentile(0.99),
		MeanBatchSize:  r.batches.Mean(),
	}
}

// free releases objects whose grace period has passed
func (r *Reclaimer) free(objs []Retirable) {
	for _, o := range objs {
		o.Free()
	}
	r.freed.Add(uint64(len(objs)))
	r.batches.Update(int64(len(objs)))
}

// run is the background loop of the async mode
// WARNING: this method should never be called directly, it is started by NewReclaimer
func (r *Reclaimer) run() {
	defer close(r.done)

	timer := time.NewTimer(r.interval)
	defer timer.Stop()

	var (
		batch    = make([]Retirable, 0, r.batchSize)
		barriers []*barrier
	)

	flush := func() {
		if len(batch) > 0 {
			/*
				Note: every object in batch was pushed after it had been unpublished,
				so one grace period started now covers all of them.
			*/
			r.domain.Synchronize()
			r.free(batch)
			Logger.Debugf("freed %d retired objects", len(batch))
			clear(batch)
			batch = batch[:0]
		}
		for _, b := range barriers {
			b.Free()
		}
		barriers = barriers[:0]
	}

	for {
		select {
		case obj, ok := <-r.queue.Recv():
			if !ok {
				flush()
				return
			}
			if b, isBarrier := obj.(*barrier); isBarrier {
				barriers = append(barriers, b)
				flush()
				continue
			}
			batch = append(batch, obj)
			if len(batch) >= r.batchSize {
				flush()
			}

		case <-timer.C:
			flush()
			timer.Reset(r.interval)
		}
	}
}
