package util

import "sync/atomic"

// --------------------------------------------------------------------------
// Memory Budget
// --------------------------------------------------------------------------

// Budget accounts bytes held by live and retired-but-unfreed objects.
// A limit of 0 means unlimited; the budget then only counts.
type Budget struct {
	limit int64
	used  atomic.Int64
	peak  atomic.Int64
}

// NewBudget creates a budget with the given limit in bytes (0 = unlimited)
func NewBudget(limit int64) *Budget {
	if limit < 0 {
		limit = 0
	}
	return &Budget{limit: limit}
}

// Reserve tries to take n bytes from the budget and reports whether it succeeded.
// A failed reservation leaves the budget unchanged.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (b *Budget) Reserve(n int64) bool {
	if n <= 0 {
		return true
	}
	for {
		cur := b.used.Load()
		next := cur + n
		if b.limit > 0 && next > b.limit {
			return false
		}
		if b.used.CompareAndSwap(cur, next) {
			b.notePeak(next)
			return true
		}
	}
}

// Release returns n bytes to the budget
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (b *Budget) Release(n int64) {
	if n > 0 {
		b.used.Add(-n)
	}
}

// Used returns the bytes currently reserved
func (b *Budget) Used() int64 {
	return b.used.Load()
}

// Peak returns the highest reservation observed so far
func (b *Budget) Peak() int64 {
	return b.peak.Load()
}

// Limit returns the configured limit (0 = unlimited)
func (b *Budget) Limit() int64 {
	return b.limit
}

func (b *Budget) notePeak(v int64) {
	for {
		p := b.peak.Load()
		if v <= p || b.peak.CompareAndSwap(p, v) {
			return
		}
	}
}
