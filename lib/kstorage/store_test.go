package kstorage

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/kStorage/lib/reclaim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newTestStore(t *testing.T, mode reclaim.Mode, limit int64) *Store {
	t.Helper()
	opts := DefaultOptions()
	opts.ReclaimMode = mode
	opts.MemoryLimit = limit
	opts.ReclaimInterval = time.Millisecond
	s := NewStore(opts)
	t.Cleanup(s.Close)
	return s
}

func filled(b byte, n int) []byte {
	return bytes.Repeat([]byte{b}, n)
}

// --------------------------------------------------------------------------
// Reclamation
// --------------------------------------------------------------------------

func TestRetiredEntriesAreFreed(t *testing.T) {
	for _, mode := range []reclaim.Mode{reclaim.ModeAsync, reclaim.ModeSync} {
		t.Run(mode.String(), func(t *testing.T) {
			s := newTestStore(t, mode, 0)
			gid, err := s.AllocateGroup()
			require.NoError(t, err)

			require.NoError(t, s.Write(gid, 1, []byte("one"), 0, 3))
			require.NoError(t, s.Write(gid, 2, []byte("two"), 0, 3))

			tx := s.BeginRead()
			first, err := tx.Get(gid, 1)
			require.NoError(t, err)
			second, err := tx.Get(gid, 2)
			require.NoError(t, err)
			tx.End()

			require.NoError(t, s.Write(gid, 1, []byte("uno"), 0, 3))
			require.NoError(t, s.Remove(gid, 2))
			s.Synchronize()

			assert.True(t, first.Freed(), "replaced entry must be freed")
			assert.True(t, second.Freed(), "removed entry must be freed")
			assert.Equal(t, []byte{0, 0, 0}, first.Bytes(), "freed payload must be scrubbed")

			tx = s.BeginRead()
			live, err := tx.Get(gid, 1)
			require.NoError(t, err)
			assert.False(t, live.Freed())
			assert.Equal(t, "uno", string(live.Bytes()))
			tx.End()

			// one entry of 3 bytes in a snapshot with one slot
			assert.Equal(t, int64(entryOverhead+3+snapshotOverhead+slotSize), s.budget.Used())
			assert.Zero(t, s.reclaimer.Pending())
		})
	}
}

func TestBorrowedEntrySurvivesReplace(t *testing.T) {
	s := newTestStore(t, reclaim.ModeAsync, 0)
	gid, err := s.AllocateGroup()
	require.NoError(t, err)
	require.NoError(t, s.Write(gid, 7, []byte("before"), 0, 6))

	tx := s.BeginRead()
	e, err := tx.Get(gid, 7)
	require.NoError(t, err)

	// the writer never waits for the reader
	require.NoError(t, s.Write(gid, 7, []byte("after!"), 0, 6))

	synced := make(chan struct{})
	go func() {
		s.Synchronize()
		close(synced)
	}()

	select {
	case <-synced:
		t.Fatal("Synchronize returned while a reader still held the old entry")
	case <-time.After(50 * time.Millisecond):
	}
	assert.False(t, e.Freed())
	assert.Equal(t, "before", string(e.Bytes()))

	// a new read sees the new value while the old one is still borrowed
	buf := make([]byte, 6)
	n, err := s.Read(gid, 7, buf, 0, 6)
	require.NoError(t, err)
	assert.Equal(t, "after!", string(buf[:n]))

	tx.End()
	select {
	case <-synced:
	case <-time.After(5 * time.Second):
		t.Fatal("Synchronize did not return after the reader ended")
	}
	assert.True(t, e.Freed())
}

func TestReadersNeverSeeFreedEntries(t *testing.T) {
	for _, mode := range []reclaim.Mode{reclaim.ModeAsync, reclaim.ModeSync} {
		t.Run(mode.String(), func(t *testing.T) {
			s := newTestStore(t, mode, 0)
			gid, err := s.AllocateGroup()
			require.NoError(t, err)

			const (
				ids     = 16
				size    = 64
				readers = 4
			)
			for id := int64(0); id < ids; id++ {
				require.NoError(t, s.Write(gid, id, filled(1, size), 0, size))
			}

			var (
				stop     atomic.Bool
				wg       sync.WaitGroup
				failures atomic.Int64
				reads    atomic.Int64
			)

			for r := 0; r < readers; r++ {
				wg.Add(1)
				go func(r int) {
					defer wg.Done()
					for i := 0; !stop.Load(); i++ {
						tx := s.BeginRead()
						e, err := tx.Get(gid, int64((i+r)%ids))
						if err == nil {
							data := e.Bytes()
							if e.Freed() || len(data) != size || data[0] == 0 || !bytes.Equal(data, filled(data[0], size)) {
								failures.Add(1)
							}
						}

						// a scan sees one consistent snapshot
						var last int64 = -1
						_ = tx.ForEach(gid, func(e *Entry) error {
							if e.ID() <= last || e.Freed() {
								failures.Add(1)
							}
							last = e.ID()
							return nil
						})
						tx.End()
						reads.Add(1)
					}
				}(r)
			}

			for i := 0; i < 2000; i++ {
				id := int64(i % ids)
				if i%5 == 4 {
					_ = s.Remove(gid, id)
					continue
				}
				b := byte(i%255 + 1)
				require.NoError(t, s.Write(gid, id, filled(b, size), 0, size))
			}
			stop.Store(true)
			wg.Wait()
			s.Synchronize()

			assert.Zero(t, failures.Load(), "readers observed freed or torn entries")
			assert.Positive(t, reads.Load())
			info := s.Info()
			assert.Equal(t, info.Reclaim.Retired, info.Reclaim.Freed)
		})
	}
}

// --------------------------------------------------------------------------
// Failure Handling
// --------------------------------------------------------------------------

func TestOutOfMemoryHasNoEffect(t *testing.T) {
	// room for one empty entry with its snapshot plus one more entry, not another snapshot
	limit := int64(2*entryOverhead + snapshotOverhead + slotSize + 20)
	s := newTestStore(t, reclaim.ModeSync, limit)
	gid, err := s.AllocateGroup()
	require.NoError(t, err)

	require.NoError(t, s.Write(gid, 1, nil, 0, 0))
	used := s.budget.Used()
	before, err := s.Digest(gid)
	require.NoError(t, err)

	// the entry itself does not fit
	err = s.Write(gid, 2, make([]byte, 1024), 0, 1024)
	assert.ErrorIs(t, err, ErrOutOfMemory)

	// the entry fits, the cloned snapshot does not
	err = s.Write(gid, 1, nil, 0, 0)
	assert.ErrorIs(t, err, ErrOutOfMemory)

	after, err := s.Digest(gid)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, used, s.budget.Used())

	size, err := s.GroupSize(gid)
	require.NoError(t, err)
	assert.Equal(t, 1, size)

	// removing shrinks the snapshot, so it still succeeds
	require.NoError(t, s.Remove(gid, 1))
	assert.Equal(t, int64(snapshotOverhead), s.budget.Used())
}

func TestCopierFault(t *testing.T) {
	var fail atomic.Bool
	opts := DefaultOptions()
	opts.ReclaimMode = reclaim.ModeSync
	opts.Copier = CopierFunc(func(dst, src []byte) error {
		if fail.Load() {
			return errors.New("segmentation fault")
		}
		return LocalCopier{}.Copy(dst, src)
	})
	s := NewStore(opts)
	defer s.Close()

	gid, err := s.AllocateGroup()
	require.NoError(t, err)
	require.NoError(t, s.Write(gid, 1, []byte("kept"), 0, 4))
	used := s.budget.Used()

	fail.Store(true)
	err = s.Write(gid, 1, []byte("lost"), 0, 4)
	assert.ErrorIs(t, err, ErrTransferFault)
	assert.Equal(t, used, s.budget.Used(), "discarded entry must return its memory")

	_, err = s.Read(gid, 1, make([]byte, 4), 0, 4)
	assert.ErrorIs(t, err, ErrTransferFault)

	n, err := s.ListIDs(gid, make([]byte, IDSize), 1)
	assert.ErrorIs(t, err, ErrTransferFault)
	assert.Zero(t, n)

	fail.Store(false)
	buf := make([]byte, 4)
	_, err = s.Read(gid, 1, buf, 0, 4)
	require.NoError(t, err)
	assert.Equal(t, "kept", string(buf))
}

func TestAllocateGroupConcurrent(t *testing.T) {
	s := newTestStore(t, reclaim.ModeAsync, 0)

	const callers = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ids      []int
		failures int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			gid, err := s.AllocateGroup()
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.ErrorIs(t, err, ErrCapacity)
				failures++
				return
			}
			ids = append(ids, gid)
		}()
	}
	wg.Wait()

	assert.ElementsMatch(t, []int{0, 1, 2, 3}, ids)
	assert.Equal(t, callers-MaxGroups, failures)
}

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

func TestErrors(t *testing.T) {
	err := error(NewError(CodeNotFound, "record %d not in group %d", 5, 0))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrInvalidGroup)
	assert.Equal(t, "kstorage: NotFound: record 5 not in group 0", err.Error())

	wrapped := fmt.Errorf("rpc: %w", err)
	assert.ErrorIs(t, wrapped, ErrNotFound)
	assert.Equal(t, CodeNotFound, CodeOf(wrapped))
	assert.Equal(t, CodeOK, CodeOf(nil))
	assert.Equal(t, CodeTransferFault, CodeOf(errors.New("foreign")))

	errnos := map[ErrCode]unix.Errno{
		CodeInvalidGroup:    unix.ENOENT,
		CodeNotFound:        unix.ENOENT,
		CodeInvalidArgument: unix.EINVAL,
		CodeOutOfMemory:     unix.ENOMEM,
		CodeTransferFault:   unix.EFAULT,
		CodeCapacity:        unix.ENOSPC,
	}
	for code, errno := range errnos {
		assert.Equal(t, errno, code.Errno(), code.String())
	}
}

// --------------------------------------------------------------------------
// Info & Metrics
// --------------------------------------------------------------------------

func TestInfoAndMetrics(t *testing.T) {
	opts := DefaultOptions()
	opts.MetricsLabels = `shard="1"`
	s := NewStore(opts)
	defer s.Close()

	a, _ := s.AllocateGroup()
	b, _ := s.AllocateGroup()
	require.NoError(t, s.Write(a, 1, []byte("x"), 0, 1))
	require.NoError(t, s.Write(a, 2, []byte("y"), 0, 1))
	require.NoError(t, s.Write(b, 1, []byte("z"), 0, 1))
	_ = s.Remove(b, 99)
	s.Synchronize()

	info := s.Info()
	assert.Equal(t, s.ID(), info.InstanceID)
	assert.Equal(t, MaxGroups, info.Capacity)
	assert.Equal(t, 2, info.AllocatedGroups)
	assert.Equal(t, []int{2, 1}, info.GroupSizes)
	assert.Equal(t, int64(3), info.WrittenEntries)
	assert.Equal(t, float64(1), info.GroupBalance.Min)
	assert.Equal(t, float64(2), info.GroupBalance.Max)
	assert.Zero(t, info.ActiveReaders)
	assert.Equal(t, "async", info.Reclaim.Mode)

	var buf bytes.Buffer
	s.WritePrometheus(&buf)
	out := buf.String()
	assert.Contains(t, out, `kstorage_writes_total{shard="1"} 3`)
	assert.Contains(t, out, `kstorage_errors_total{shard="1",code="NotFound"} 1`)
	assert.Contains(t, out, `kstorage_group_entries{shard="1",group="0"} 2`)
	assert.Contains(t, out, `kstorage_group_entries{shard="1",group="2"} 0`)
}

func TestCloseWhileWriting(t *testing.T) {
	for round := 0; round < 50; round++ {
		opts := DefaultOptions()
		opts.ReclaimInterval = time.Millisecond
		opts.MemoryLimit = 1 << 20
		s := NewStore(opts)
		gid, err := s.AllocateGroup()
		require.NoError(t, err)

		var wg sync.WaitGroup
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 50; i++ {
					assert.NoError(t, s.Write(gid, int64(i%5), filled('w', 64), 0, 64))
				}
			}()
		}
		s.Close()
		wg.Wait()
		s.Synchronize()

		info := s.Info()
		require.Equal(t, info.Reclaim.Retired, info.Reclaim.Freed, "round %d", round)
		require.Zero(t, info.Reclaim.Pending, "round %d", round)

		// only the published empty snapshot stays accounted once every record is removed
		for id := int64(0); id < 5; id++ {
			require.NoError(t, s.Remove(gid, id))
		}
		s.Synchronize()
		assert.EqualValues(t, snapshotOverhead, s.Info().MemoryUsed, "round %d", round)
	}
}
