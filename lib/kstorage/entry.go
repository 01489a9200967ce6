package kstorage

import (
	"sync/atomic"

	"github.com/ValentinKolb/kStorage/lib/util"
)

// entryOverhead is the accounted size of an entry besides its payload
const entryOverhead = 48

// Entry is an immutable record of a group. Once published it is never modified,
// it is only freed after it has been removed or replaced and a grace period has passed.
//
// An *Entry returned by ReadTx.Get is borrowed: it is valid until the ReadTx ends.
type Entry struct {
	gid   int
	id    int64
	data  []byte
	cost  int64
	freed atomic.Bool

	budget *util.Budget
}

// newEntry reserves memory for a payload of the given length and allocates the entry.
// The payload is left zeroed, the caller fills it before publishing.
func newEntry(budget *util.Budget, gid int, id int64, length int) (*Entry, bool) {
	cost := int64(entryOverhead + length)
	if !budget.Reserve(cost) {
		return nil, false
	}
	return &Entry{
		gid:    gid,
		id:     id,
		data:   make([]byte, length),
		cost:   cost,
		budget: budget,
	}, true
}

// GroupID returns the group the entry belongs to
func (e *Entry) GroupID() int { return e.gid }

// ID returns the record id
func (e *Entry) ID() int64 { return e.id }

// Len returns the payload length
func (e *Entry) Len() int { return len(e.data) }

// Bytes returns the payload. The slice must not be modified or retained past the ReadTx.
func (e *Entry) Bytes() []byte { return e.data }

// Freed reports whether the entry has been reclaimed. A reader inside a
// ReadTx must never observe true for an entry it obtained in that ReadTx.
func (e *Entry) Freed() bool { return e.freed.Load() }

// Free scrubs the payload and returns its memory to the budget
func (e *Entry) Free() {
	if e.freed.Swap(true) {
		return
	}
	clear(e.data)
	e.budget.Release(e.cost)
}
