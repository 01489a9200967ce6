package kstorage

import (
	"sync/atomic"

	"github.com/ValentinKolb/kStorage/lib/util"
)

// --------------------------------------------------------------------------
// Snapshot
// --------------------------------------------------------------------------

const (
	snapshotOverhead = 32 // accounted size of a snapshot besides its slots
	slotSize         = 8  // accounted size of one entry reference
)

// snapshot is an immutable, ascending-by-id array of entries.
// Writers never modify a published snapshot, they build a successor and publish it
// with a single atomic store. Consecutive snapshots share all unchanged entries.
type snapshot struct {
	entries []*Entry
	cost    int64
	freed   atomic.Bool

	budget *util.Budget
}

// emptySnapshot is the initial snapshot of a freshly allocated group.
// It is not accounted, so allocating a group never fails for lack of memory.
func emptySnapshot(budget *util.Budget) *snapshot {
	return &snapshot{budget: budget}
}

// newSnapshot reserves memory for n slots and allocates the snapshot
func newSnapshot(budget *util.Budget, n int) (*snapshot, bool) {
	cost := int64(snapshotOverhead + slotSize*n)
	if !budget.Reserve(cost) {
		return nil, false
	}
	return &snapshot{
		entries: make([]*Entry, n),
		cost:    cost,
		budget:  budget,
	}, true
}

// len returns the number of entries
func (s *snapshot) len() int {
	return len(s.entries)
}

// search returns the index of id if present, otherwise -(insertionPoint + 1)
func (s *snapshot) search(id int64) int {
	lo, hi := 0, len(s.entries)-1
	for lo <= hi {
		mid := int(uint(lo+hi) >> 1)
		switch midID := s.entries[mid].id; {
		case midID < id:
			lo = mid + 1
		case midID > id:
			hi = mid - 1
		default:
			return mid
		}
	}
	return -(lo + 1)
}

// withInsert returns a copy of s with e inserted at position pos
func (s *snapshot) withInsert(pos int, e *Entry) (*snapshot, bool) {
	next, ok := newSnapshot(s.budget, len(s.entries)+1)
	if !ok {
		return nil, false
	}
	copy(next.entries, s.entries[:pos])
	next.entries[pos] = e
	copy(next.entries[pos+1:], s.entries[pos:])
	return next, true
}

// withReplace returns a copy of s with the entry at idx replaced by e
func (s *snapshot) withReplace(idx int, e *Entry) (*snapshot, bool) {
	next, ok := newSnapshot(s.budget, len(s.entries))
	if !ok {
		return nil, false
	}
	copy(next.entries, s.entries)
	next.entries[idx] = e
	return next, true
}

// without returns a copy of s with the entry at idx removed
func (s *snapshot) without(idx int) (*snapshot, bool) {
	next, ok := newSnapshot(s.budget, len(s.entries)-1)
	if !ok {
		return nil, false
	}
	copy(next.entries, s.entries[:idx])
	copy(next.entries[idx:], s.entries[idx+1:])
	return next, true
}

// Free releases the slot array. Entries are not freed, they may still be
// referenced by the successor snapshot and are retired on their own.
func (s *snapshot) Free() {
	if s.freed.Swap(true) {
		return
	}
	s.budget.Release(s.cost)
}
