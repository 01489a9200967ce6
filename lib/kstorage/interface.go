package kstorage

// IStore is the operation set shared by the local Store and remote stores (see rpc/client).
// All methods return *Error values that can be matched with errors.Is.
type IStore interface {
	// AllocateGroup hands out the next group id.
	// Returns ErrCapacity if all groups are in use.
	AllocateGroup() (int, error)

	// GroupSize returns the number of records in a group.
	GroupSize(gid int) (int, error)

	// Write inserts or replaces a record with length bytes of src starting at offset.
	Write(gid int, id int64, src []byte, offset, length int) error

	// Read copies up to length bytes of a record, starting at offset, into dst
	// and returns the number of bytes copied.
	Read(gid int, id int64, dst []byte, offset, length int) (int, error)

	// Remove deletes a record.
	Remove(gid int, id int64) error

	// ListIDs writes up to capacity ids of a group into dst (IDSize bytes each, ascending)
	// and returns how many were written.
	ListIDs(gid int, dst []byte, capacity int) (int, error)

	// Digest returns a content hash of a group.
	Digest(gid int) ([32]byte, error)

	// Close releases the resources of the store.
	Close()
}

var _ IStore = (*Store)(nil)
