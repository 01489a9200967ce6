package kstorage

import (
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/kStorage/lib/reclaim"
	"github.com/ValentinKolb/kStorage/lib/util"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("kstorage")

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// group holds the current snapshot of one record set.
// Readers load current without locking, writers of the same group are serialized by mu.
type group struct {
	mu      sync.Mutex
	current atomic.Pointer[snapshot]
}

// Store is an in-memory key-value store with a fixed number of independent groups.
//
// Thread-safety:
//   - Read operations (ReadTx, Read, ListIDs, GroupSize, OnEach, Digest) are
//     lock-free and never block writers.
//   - Writes to the same group are serialized, writes to different groups run in parallel.
//   - Replaced and removed entries are freed only after every reader that could
//     have observed them has finished.
type Store struct {
	id uuid.UUID

	groups    [MaxGroups]group
	allocMu   sync.Mutex
	allocated atomic.Int32

	domain    *reclaim.Domain
	reclaimer *reclaim.Reclaimer
	budget    *util.Budget
	copier    Copier
	sizes     *util.SizeHistogram
	metrics   *storeMetrics
}

// NewStore creates a store with no allocated groups.
// Pass nil to use DefaultOptions.
func NewStore(opts *Options) *Store {
	if opts == nil {
		opts = DefaultOptions()
	}
	copier := opts.Copier
	if copier == nil {
		copier = LocalCopier{}
	}

	domain := reclaim.NewDomain()
	s := &Store{
		id:     uuid.New(),
		domain: domain,
		reclaimer: reclaim.NewReclaimer(domain, reclaim.Options{
			Mode:      opts.ReclaimMode,
			Interval:  opts.ReclaimInterval,
			BatchSize: opts.ReclaimBatchSize,
		}),
		budget: util.NewBudget(opts.MemoryLimit),
		copier: copier,
		sizes:  util.NewSizeHistogram(),
	}
	s.metrics = newStoreMetrics(s, opts.MetricsLabels)

	Logger.Infof("store %s created (reclaim=%s, memory limit=%d)", s.id, opts.ReclaimMode, opts.MemoryLimit)
	return s
}

// ID returns the instance id of the store
func (s *Store) ID() string {
	return s.id.String()
}

// --------------------------------------------------------------------------
// Group Table
// --------------------------------------------------------------------------

// AllocateGroup hands out the next unused group id, starting at 0.
// A failed allocation does not consume an id.
//
// Thread-safety: This method is thread-safe. Concurrent callers receive distinct ids.
func (s *Store) AllocateGroup() (int, error) {
	s.allocMu.Lock()
	defer s.allocMu.Unlock()

	next := int(s.allocated.Load())
	if next >= MaxGroups {
		return -1, s.fail(NewError(CodeCapacity, "all %d groups are allocated", MaxGroups))
	}

	// publish the empty snapshot before the id becomes valid for readers
	s.groups[next].current.Store(emptySnapshot(s.budget))
	s.allocated.Store(int32(next + 1))

	Logger.Debugf("store %s: allocated group %d", s.id, next)
	return next, nil
}

// group resolves a group id to an allocated group
func (s *Store) group(gid int) (*group, error) {
	if gid < 0 || gid >= int(s.allocated.Load()) {
		return nil, s.fail(NewError(CodeInvalidGroup, "group %d is not allocated", gid))
	}
	return &s.groups[gid], nil
}

// --------------------------------------------------------------------------
// Write Operations
// --------------------------------------------------------------------------

// Write inserts or replaces the record id in group gid with length bytes of src
// starting at offset. The bytes are transferred with the store's Copier.
// On error nothing changes.
//
// Thread-safety: This method is thread-safe. Writes to the same group are serialized.
func (s *Store) Write(gid int, id int64, src []byte, offset, length int) error {
	g, err := s.group(gid)
	if err != nil {
		return err
	}
	if offset < 0 || length < 0 {
		return s.fail(NewError(CodeInvalidArgument, "negative offset %d or length %d", offset, length))
	}
	if offset > len(src) || length > len(src)-offset {
		return s.fail(NewError(CodeTransferFault, "source range [%d, %d) exceeds %d byte buffer", offset, offset+length, len(src)))
	}

	// build the entry outside the lock
	e, ok := newEntry(s.budget, gid, id, length)
	if !ok {
		return s.fail(NewError(CodeOutOfMemory, "no memory for %d byte entry", length))
	}
	if err := s.copier.Copy(e.data, src[offset:offset+length]); err != nil {
		e.Free()
		return s.fail(NewError(CodeTransferFault, "copy from caller failed: %v", err))
	}

	g.mu.Lock()
	old := g.current.Load()
	idx := old.search(id)

	var (
		next     *snapshot
		replaced *Entry
	)
	if idx >= 0 {
		replaced = old.entries[idx]
		next, ok = old.withReplace(idx, e)
	} else {
		next, ok = old.withInsert(-(idx + 1), e)
	}
	if !ok {
		g.mu.Unlock()
		e.Free()
		return s.fail(NewError(CodeOutOfMemory, "no memory for snapshot of group %d", gid))
	}
	g.current.Store(next)
	g.mu.Unlock()

	s.sizes.AddSample(length)
	s.metrics.writes.Inc()

	if replaced != nil {
		s.retire(old, replaced)
	} else {
		s.retire(old)
	}
	return nil
}

// Remove deletes the record id from group gid.
//
// Thread-safety: This method is thread-safe. Writes to the same group are serialized.
func (s *Store) Remove(gid int, id int64) error {
	g, err := s.group(gid)
	if err != nil {
		return err
	}

	g.mu.Lock()
	old := g.current.Load()
	idx := old.search(id)
	if idx < 0 {
		g.mu.Unlock()
		return s.fail(NewError(CodeNotFound, "record %d not in group %d", id, gid))
	}
	removed := old.entries[idx]
	next, ok := old.without(idx)
	if !ok {
		g.mu.Unlock()
		return s.fail(NewError(CodeOutOfMemory, "no memory for snapshot of group %d", gid))
	}
	g.current.Store(next)
	g.mu.Unlock()

	s.metrics.removes.Inc()
	s.retire(old, removed)
	return nil
}

// retire hands unpublished objects to the reclaimer.
// Must be called after the group lock is released: in sync mode it waits for a grace period.
func (s *Store) retire(objs ...reclaim.Retirable) {
	s.reclaimer.Retire(objs...)
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Synchronize blocks until every object retired before the call has been freed
func (s *Store) Synchronize() {
	s.reclaimer.Barrier()
}

// Close stops the background reclaimer after freeing everything pending.
// The store stays usable; later retirements are freed synchronously.
func (s *Store) Close() {
	s.reclaimer.Close()
	Logger.Infof("store %s closed", s.id)
}

// fail records the error in the metrics and returns it
func (s *Store) fail(err *Error) error {
	s.metrics.countError(err.Code)
	return err
}
