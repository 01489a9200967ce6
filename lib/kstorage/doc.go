/*
Package kstorage implements an in-memory key-value store organized in a fixed
number of independent groups (MaxGroups). Each group maps int64 record ids to
immutable byte payloads.

Every group publishes its records as an immutable snapshot: an array of entries
sorted by id. Readers load the current snapshot with one atomic load and never
take a lock. Writers of a group are serialized; they build a new snapshot that
shares all unchanged entries with the old one and publish it with one atomic store.
Superseded snapshots and entries are handed to a reclaimer and freed only after
every reader that might still see them has finished (see package reclaim).

Usage:

	store := kstorage.NewStore(nil)
	defer store.Close()

	gid, _ := store.AllocateGroup()
	_ = store.Write(gid, 42, []byte("hello"), 0, 5)

	buf := make([]byte, 5)
	n, err := store.Read(gid, 42, buf, 0, len(buf))

	// zero-copy access
	tx := store.BeginRead()
	e, err := tx.Get(gid, 42)
	if err == nil {
		process(e.Bytes())
	}
	tx.End()

All data moving in or out of the store passes through a Copier, so a store can
serve callers in a different memory domain (see rpc/server). Errors are *Error
values with a code; ErrCode.Errno maps them to the errno of a kernel-style interface.
*/
package kstorage
