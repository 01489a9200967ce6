package reclaim

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// object records when it was freed
type object struct {
	freed atomic.Int32
}

func (o *object) Free() { o.freed.Add(1) }

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": ModeAsync, "async": ModeAsync, " SYNC ": ModeSync} {
		got, err := ParseMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseMode("eager")
	assert.Error(t, err)
}

func TestSynchronizeWaitsForReaders(t *testing.T) {
	d := NewDomain()

	g := d.Enter()
	assert.Equal(t, int64(1), d.ActiveReaders())

	done := make(chan struct{})
	go func() {
		d.Synchronize()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Synchronize returned while a reader was active")
	case <-time.After(50 * time.Millisecond):
	}

	// readers entering after the grace period started do not hold it up forever
	late := d.Enter()
	late.Exit()

	g.Exit()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Synchronize did not return after the reader exited")
	}
	assert.Equal(t, uint64(1), d.GracePeriods())
	assert.Zero(t, d.ActiveReaders())
}

func TestSynchronizeWithoutReaders(t *testing.T) {
	d := NewDomain()
	for i := 0; i < 10; i++ {
		d.Synchronize()
	}
	assert.Equal(t, uint64(10), d.GracePeriods())
	assert.Equal(t, int64(10), d.GracePeriodTimer().Count())
}

func TestReclaimerModes(t *testing.T) {
	for _, mode := range []Mode{ModeAsync, ModeSync} {
		t.Run(mode.String(), func(t *testing.T) {
			r := NewReclaimer(NewDomain(), Options{Mode: mode, Interval: time.Millisecond, BatchSize: 4})
			defer r.Close()

			objs := make([]*object, 10)
			for i := range objs {
				objs[i] = &object{}
				r.Retire(objs[i])
			}
			var nilObj Retirable
			r.Retire(nilObj)

			r.Barrier()
			for i, o := range objs {
				assert.Equal(t, int32(1), o.freed.Load(), "object %d", i)
			}

			stats := r.Stats()
			assert.Equal(t, uint64(10), stats.Retired)
			assert.Equal(t, uint64(10), stats.Freed)
			assert.Zero(t, stats.Pending)
			assert.Equal(t, mode.String(), stats.Mode)
			assert.Positive(t, stats.GracePeriods)
		})
	}
}

func TestReclaimerDefersWhileReaderActive(t *testing.T) {
	d := NewDomain()
	r := NewReclaimer(d, Options{Interval: time.Millisecond})
	defer r.Close()

	g := d.Enter()
	o := &object{}
	r.Retire(o)

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, o.freed.Load(), "object freed while a reader could still see it")
	assert.Equal(t, uint64(1), r.Pending())

	g.Exit()
	r.Barrier()
	assert.Equal(t, int32(1), o.freed.Load())
}

func TestReclaimerClose(t *testing.T) {
	r := NewReclaimer(NewDomain(), Options{Interval: time.Hour, BatchSize: 1 << 20})

	objs := make([]*object, 100)
	for i := range objs {
		objs[i] = &object{}
		r.Retire(objs[i])
	}
	r.Close()

	for i, o := range objs {
		assert.Equal(t, int32(1), o.freed.Load(), "object %d not freed on Close", i)
	}

	// retiring after Close frees inline
	late := &object{}
	r.Retire(late)
	assert.Equal(t, int32(1), late.freed.Load())
	r.Barrier()
	r.Close()
}

func TestReclaimerCloseWhileRetiring(t *testing.T) {
	for round := 0; round < 200; round++ {
		r := NewReclaimer(NewDomain(), Options{Interval: time.Millisecond, BatchSize: 8})

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			objs []*object
		)
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 25; i++ {
					o := &object{}
					mu.Lock()
					objs = append(objs, o)
					mu.Unlock()
					r.Retire(o)
				}
			}()
		}
		r.Close()
		wg.Wait()
		r.Barrier()

		stats := r.Stats()
		require.Equal(t, stats.Retired, stats.Freed, "round %d", round)
		require.Zero(t, r.Pending(), "round %d", round)
		for i, o := range objs {
			require.Equal(t, int32(1), o.freed.Load(), "round %d: object %d", round, i)
		}
	}
}

func TestReclaimerConcurrentRetire(t *testing.T) {
	d := NewDomain()
	r := NewReclaimer(d, Options{Interval: time.Millisecond, BatchSize: 16})
	defer r.Close()

	const workers, perWorker = 8, 500
	var (
		wg   sync.WaitGroup
		stop atomic.Bool
	)

	// readers keep entering and leaving the domain the whole time
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !stop.Load() {
				g := d.Enter()
				g.Exit()
			}
		}()
	}

	var producers sync.WaitGroup
	all := make([][]*object, workers)
	for w := 0; w < workers; w++ {
		producers.Add(1)
		all[w] = make([]*object, perWorker)
		go func(w int) {
			defer producers.Done()
			for i := range all[w] {
				all[w][i] = &object{}
				r.Retire(all[w][i])
			}
		}(w)
	}
	producers.Wait()
	r.Barrier()
	stop.Store(true)
	wg.Wait()

	for _, objs := range all {
		for _, o := range objs {
			require.Equal(t, int32(1), o.freed.Load())
		}
	}
	assert.Equal(t, uint64(workers*perWorker), r.Stats().Freed)
}
