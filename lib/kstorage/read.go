package kstorage

import (
	"encoding/binary"

	"github.com/ValentinKolb/kStorage/lib/reclaim"
	"lukechampine.com/blake3"
)

// IDSize is the encoded size of one record id in ListIDs output (little endian)
const IDSize = 8

// --------------------------------------------------------------------------
// Read Transactions
// --------------------------------------------------------------------------

// ReadTx is a reader critical section. Entries obtained through it stay valid
// and unchanged until End is called, even if they are concurrently replaced or removed.
//
// A ReadTx must be short, must be ended by the goroutine that began it, and must
// not be held while writing to the store when the store reclaims synchronously.
type ReadTx struct {
	s     *Store
	guard reclaim.Guard
}

// BeginRead starts a read transaction. It never blocks and does not allocate.
func (s *Store) BeginRead() ReadTx {
	return ReadTx{s: s, guard: s.domain.Enter()}
}

// End finishes the transaction. Borrowed entries must not be used afterwards.
func (tx ReadTx) End() {
	tx.guard.Exit()
}

// Get looks up the record id in group gid
func (tx ReadTx) Get(gid int, id int64) (*Entry, error) {
	g, err := tx.s.group(gid)
	if err != nil {
		return nil, err
	}
	snap := g.current.Load()
	idx := snap.search(id)
	if idx < 0 {
		return nil, tx.s.fail(NewError(CodeNotFound, "record %d not in group %d", id, gid))
	}
	return snap.entries[idx], nil
}

// Len returns the number of entries in group gid as seen by this transaction
func (tx ReadTx) Len(gid int) (int, error) {
	g, err := tx.s.group(gid)
	if err != nil {
		return 0, err
	}
	return g.current.Load().len(), nil
}

// ForEach calls visit for every entry of one snapshot of group gid in ascending id order.
// Iteration stops at the first error, which is returned.
func (tx ReadTx) ForEach(gid int, visit func(e *Entry) error) error {
	g, err := tx.s.group(gid)
	if err != nil {
		return err
	}
	for _, e := range g.current.Load().entries {
		if err := visit(e); err != nil {
			return err
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Read Operations
// --------------------------------------------------------------------------

// GroupSize returns the number of records in group gid.
//
// Thread-safety: This method is thread-safe and lock-free.
func (s *Store) GroupSize(gid int) (int, error) {
	tx := s.BeginRead()
	defer tx.End()
	return tx.Len(gid)
}

// Read copies up to length bytes of record id, starting at offset, into dst.
// It returns the number of bytes copied: min(length, entry length - offset).
// An offset equal to the entry length copies nothing, a larger one is invalid.
//
// Thread-safety: This method is thread-safe and lock-free.
func (s *Store) Read(gid int, id int64, dst []byte, offset, length int) (int, error) {
	tx := s.BeginRead()
	defer tx.End()

	src, err := tx.window(gid, id, offset, length)
	if err != nil {
		return 0, err
	}
	if err := s.copier.Copy(dst, src); err != nil {
		return 0, s.fail(NewError(CodeTransferFault, "copy to caller failed: %v", err))
	}
	return len(src), nil
}

// ReadCopy is Read into a buffer allocated by the store, sized to the bytes available.
func (s *Store) ReadCopy(gid int, id int64, offset, length int) ([]byte, error) {
	tx := s.BeginRead()
	defer tx.End()

	src, err := tx.window(gid, id, offset, length)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(src))
	if err := s.copier.Copy(out, src); err != nil {
		return nil, s.fail(NewError(CodeTransferFault, "copy to caller failed: %v", err))
	}
	return out, nil
}

// window validates a read range and returns the borrowed bytes it covers
func (tx ReadTx) window(gid int, id int64, offset, length int) ([]byte, error) {
	e, err := tx.Get(gid, id)
	if err != nil {
		return nil, err
	}
	if length < 0 {
		return nil, tx.s.fail(NewError(CodeInvalidArgument, "negative length %d", length))
	}
	if offset < 0 || offset > len(e.data) {
		return nil, tx.s.fail(NewError(CodeInvalidArgument, "offset %d outside of %d byte record", offset, len(e.data)))
	}
	n := min(length, len(e.data)-offset)
	return e.data[offset : offset+n], nil
}

// OnEach calls visit for every record of group gid in ascending id order.
// The entries are borrowed for the duration of the call only.
//
// Thread-safety: This method is thread-safe and lock-free. visit must not write to the store.
func (s *Store) OnEach(gid int, visit func(e *Entry) error) error {
	tx := s.BeginRead()
	defer tx.End()
	return tx.ForEach(gid, visit)
}

// ListIDs writes up to capacity record ids of group gid into dst, ascending,
// IDSize bytes each. It returns the number of ids written. All ids come from
// one snapshot. If a copy fails, ids already written stay in dst.
//
// Thread-safety: This method is thread-safe and lock-free.
func (s *Store) ListIDs(gid int, dst []byte, capacity int) (int, error) {
	if capacity < 0 {
		capacity = 0
	}
	tx := s.BeginRead()
	defer tx.End()

	g, err := s.group(gid)
	if err != nil {
		return 0, err
	}
	entries := g.current.Load().entries
	n := min(capacity, len(entries))

	var buf [IDSize]byte
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint64(buf[:], uint64(entries[i].id))
		if i*IDSize > len(dst) {
			return i, s.fail(NewError(CodeTransferFault, "id %d does not fit into %d byte buffer", i, len(dst)))
		}
		if err := s.copier.Copy(dst[i*IDSize:], buf[:]); err != nil {
			return i, s.fail(NewError(CodeTransferFault, "copy of id %d failed: %v", i, err))
		}
	}
	return n, nil
}

// EncodeIDs encodes ids the way ListIDs writes them
func EncodeIDs(ids []int64) []byte {
	buf := make([]byte, 0, len(ids)*IDSize)
	for _, id := range ids {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(id))
	}
	return buf
}

// DecodeIDs decodes n ids written by ListIDs
func DecodeIDs(buf []byte, n int) []int64 {
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = int64(binary.LittleEndian.Uint64(buf[i*IDSize:]))
	}
	return ids
}

// IDs returns the ids of group gid, ascending, from one snapshot
func (s *Store) IDs(gid int) ([]int64, error) {
	tx := s.BeginRead()
	defer tx.End()

	g, err := s.group(gid)
	if err != nil {
		return nil, err
	}
	entries := g.current.Load().entries
	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.id
	}
	return ids, nil
}

// Digest returns a BLAKE3 hash over the ids and payloads of one snapshot of group gid.
// Two groups with equal content have equal digests.
func (s *Store) Digest(gid int) ([32]byte, error) {
	var sum [32]byte

	tx := s.BeginRead()
	defer tx.End()

	h := blake3.New(32, nil)
	var hdr [2 * IDSize]byte
	err := tx.ForEach(gid, func(e *Entry) error {
		binary.LittleEndian.PutUint64(hdr[:IDSize], uint64(e.id))
		binary.LittleEndian.PutUint64(hdr[IDSize:], uint64(len(e.data)))
		h.Write(hdr[:])
		h.Write(e.data)
		return nil
	})
	if err != nil {
		return sum, err
	}
	copy(sum[:], h.Sum(nil))
	return sum, nil
}
