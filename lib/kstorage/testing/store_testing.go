package testing

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/ValentinKolb/kStorage/lib/kstorage"
	"github.com/google/go-cmp/cmp"
)

// StoreFactory is a function that creates a new, empty store
type StoreFactory func() kstorage.IStore

// RunStoreTests runs the conformance test suite for an IStore implementation.
func RunStoreTests(t *testing.T, name string, factory StoreFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("AllocateGroup", func(t *testing.T) {
			testAllocateGroup(t, factory())
		})

		t.Run("InvalidGroup", func(t *testing.T) {
			testInvalidGroup(t, factory())
		})

		t.Run("Write&Read", func(t *testing.T) {
			testWriteRead(t, factory())
		})

		t.Run("Replace", func(t *testing.T) {
			testReplace(t, factory())
		})

		t.Run("Remove", func(t *testing.T) {
			testRemove(t, factory())
		})

		t.Run("ReadOffsets", func(t *testing.T) {
			testReadOffsets(t, factory())
		})

		t.Run("ListIDs", func(t *testing.T) {
			testListIDs(t, factory())
		})

		t.Run("TransferFault", func(t *testing.T) {
			testTransferFault(t, factory())
		})

		t.Run("Digest", func(t *testing.T) {
			testDigest(t, factory())
		})

		t.Run("GroupLifecycle", func(t *testing.T) {
			testGroupLifecycle(t, factory())
		})

		t.Run("ModelReplay", func(t *testing.T) {
			testModelReplay(t, factory())
		})

		t.Run("ConcurrentGroups", func(t *testing.T) {
			testConcurrentGroups(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func mustAllocate(t testing.TB, store kstorage.IStore) int {
	t.Helper()
	gid, err := store.AllocateGroup()
	if err != nil {
		t.Fatalf("AllocateGroup failed: %v", err)
	}
	return gid
}

func mustWrite(t testing.TB, store kstorage.IStore, gid int, id int64, value []byte) {
	t.Helper()
	if err := store.Write(gid, id, value, 0, len(value)); err != nil {
		t.Fatalf("Write(%d, %d) failed: %v", gid, id, err)
	}
}

func readAll(t testing.TB, store kstorage.IStore, gid int, id int64, size int) []byte {
	t.Helper()
	buf := make([]byte, size)
	n, err := store.Read(gid, id, buf, 0, size)
	if err != nil {
		t.Fatalf("Read(%d, %d) failed: %v", gid, id, err)
	}
	return buf[:n]
}

func listIDs(t testing.TB, store kstorage.IStore, gid int, capacity int) []int64 {
	t.Helper()
	buf := make([]byte, capacity*kstorage.IDSize)
	n, err := store.ListIDs(gid, buf, capacity)
	if err != nil {
		t.Fatalf("ListIDs(%d) failed: %v", gid, err)
	}
	return kstorage.DecodeIDs(buf, n)
}

func expectErr(t testing.TB, err error, target error, op string) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Errorf("%s: expected %v, got %v", op, target, err)
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testAllocateGroup(t *testing.T, store kstorage.IStore) {
	defer store.Close()

	for want := 0; want < kstorage.MaxGroups; want++ {
		gid, err := store.AllocateGroup()
		if err != nil {
			t.Fatalf("AllocateGroup #%d failed: %v", want, err)
		}
		if gid != want {
			t.Errorf("Expected group id %d, got %d", want, gid)
		}
		if size, err := store.GroupSize(gid); err != nil || size != 0 {
			t.Errorf("Expected fresh group %d to be empty, got size=%d err=%v", gid, size, err)
		}
	}

	// a full table keeps failing and does not consume ids
	for i := 0; i < 3; i++ {
		_, err := store.AllocateGroup()
		expectErr(t, err, kstorage.ErrCapacity, "AllocateGroup beyond capacity")
	}

	// all groups remain independently usable
	for gid := 0; gid < kstorage.MaxGroups; gid++ {
		mustWrite(t, store, gid, int64(gid), []byte(fmt.Sprintf("group-%d", gid)))
	}
	for gid := 0; gid < kstorage.MaxGroups; gid++ {
		want := []byte(fmt.Sprintf("group-%d", gid))
		if got := readAll(t, store, gid, int64(gid), 32); !bytes.Equal(got, want) {
			t.Errorf("Group %d: expected %q, got %q", gid, want, got)
		}
		if size, _ := store.GroupSize(gid); size != 1 {
			t.Errorf("Group %d: expected size 1, got %d", gid, size)
		}
	}
}

func testInvalidGroup(t *testing.T, store kstorage.IStore) {
	defer store.Close()

	mustAllocate(t, store)
	buf := make([]byte, 8)

	for _, gid := range []int{-1, 1, kstorage.MaxGroups, 1000} {
		_, err := store.GroupSize(gid)
		expectErr(t, err, kstorage.ErrInvalidGroup, fmt.Sprintf("GroupSize(%d)", gid))

		err = store.Write(gid, 1, []byte("x"), 0, 1)
		expectErr(t, err, kstorage.ErrInvalidGroup, fmt.Sprintf("Write(%d)", gid))

		_, err = store.Read(gid, 1, buf, 0, 1)
		expectErr(t, err, kstorage.ErrInvalidGroup, fmt.Sprintf("Read(%d)", gid))

		err = store.Remove(gid, 1)
		expectErr(t, err, kstorage.ErrInvalidGroup, fmt.Sprintf("Remove(%d)", gid))

		_, err = store.ListIDs(gid, buf, 1)
		expectErr(t, err, kstorage.ErrInvalidGroup, fmt.Sprintf("ListIDs(%d)", gid))

		_, err = store.Digest(gid)
		expectErr(t, err, kstorage.ErrInvalidGroup, fmt.Sprintf("Digest(%d)", gid))
	}
}

func testWriteRead(t *testing.T, store kstorage.IStore) {
	defer store.Close()

	gid := mustAllocate(t, store)

	mustWrite(t, store, gid, 42, []byte("hello"))
	if size, _ := store.GroupSize(gid); size != 1 {
		t.Errorf("Expected size 1, got %d", size)
	}

	buf := make([]byte, 5)
	n, err := store.Read(gid, 42, buf, 0, 5)
	if err != nil || n != 5 || string(buf) != "hello" {
		t.Errorf("Expected to read \"hello\", got n=%d buf=%q err=%v", n, buf, err)
	}

	// empty payload round trips
	mustWrite(t, store, gid, 0, []byte{})
	n, err = store.Read(gid, 0, buf, 0, 5)
	if err != nil || n != 0 {
		t.Errorf("Expected empty record, got n=%d err=%v", n, err)
	}

	// binary payload with a source offset
	src := make([]byte, 300)
	for i := range src {
		src[i] = byte(i)
	}
	if err := store.Write(gid, -7, src, 100, 150); err != nil {
		t.Fatalf("Write with offset failed: %v", err)
	}
	if got := readAll(t, store, gid, -7, 300); !bytes.Equal(got, src[100:250]) {
		t.Errorf("Expected bytes 100..250 of the source, got %d bytes", len(got))
	}

	// the store keeps its own copy
	src[100] = 0xFF
	if got := readAll(t, store, gid, -7, 300); got[0] != 100 {
		t.Errorf("Store must not alias the source buffer, got first byte %d", got[0])
	}

	_, err = store.Read(gid, 43, buf, 0, 5)
	expectErr(t, err, kstorage.ErrNotFound, "Read of missing id")

	err = store.Write(gid, 1, []byte("abc"), 0, -1)
	expectErr(t, err, kstorage.ErrInvalidArgument, "Write with negative length")
	_, err = store.Read(gid, 42, buf, 0, -1)
	expectErr(t, err, kstorage.ErrInvalidArgument, "Read with negative length")
}

func testReplace(t *testing.T, store kstorage.IStore) {
	defer store.Close()

	gid := mustAllocate(t, store)

	mustWrite(t, store, gid, 1, []byte("first"))
	mustWrite(t, store, gid, 1, []byte("second value"))

	if size, _ := store.GroupSize(gid); size != 1 {
		t.Errorf("Replace must not change the size, got %d", size)
	}
	if got := readAll(t, store, gid, 1, 64); string(got) != "second value" {
		t.Errorf("Expected replaced value, got %q", got)
	}

	mustWrite(t, store, gid, 1, []byte("x"))
	if got := readAll(t, store, gid, 1, 64); string(got) != "x" {
		t.Errorf("Expected shrunk value, got %q", got)
	}
}

func testRemove(t *testing.T, store kstorage.IStore) {
	defer store.Close()

	gid := mustAllocate(t, store)

	mustWrite(t, store, gid, 42, []byte("hello"))
	mustWrite(t, store, gid, 43, []byte("world"))

	err := store.Remove(gid, 44)
	expectErr(t, err, kstorage.ErrNotFound, "Remove of missing id")
	if size, _ := store.GroupSize(gid); size != 2 {
		t.Errorf("Failed Remove must not change the size, got %d", size)
	}

	if err := store.Remove(gid, 42); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if size, _ := store.GroupSize(gid); size != 1 {
		t.Errorf("Expected size 1 after Remove, got %d", size)
	}
	_, err = store.Read(gid, 42, make([]byte, 5), 0, 5)
	expectErr(t, err, kstorage.ErrNotFound, "Read after Remove")

	err = store.Remove(gid, 42)
	expectErr(t, err, kstorage.ErrNotFound, "second Remove")

	if got := readAll(t, store, gid, 43, 5); string(got) != "world" {
		t.Errorf("Neighbour record changed: %q", got)
	}
}

func testReadOffsets(t *testing.T, store kstorage.IStore) {
	defer store.Close()

	gid := mustAllocate(t, store)
	mustWrite(t, store, gid, 7, []byte("abcdef"))

	buf := make([]byte, 16)
	n, err := store.Read(gid, 7, buf, 3, 10)
	if err != nil || n != 3 || string(buf[:n]) != "def" {
		t.Errorf("Read(offset=3, len=10): expected \"def\", got n=%d %q err=%v", n, buf[:n], err)
	}

	n, err = store.Read(gid, 7, buf, 6, 1)
	if err != nil || n != 0 {
		t.Errorf("Read(offset=len): expected 0 bytes, got n=%d err=%v", n, err)
	}

	_, err = store.Read(gid, 7, buf, 7, 1)
	expectErr(t, err, kstorage.ErrInvalidArgument, "Read(offset>len)")

	_, err = store.Read(gid, 7, buf, -1, 1)
	expectErr(t, err, kstorage.ErrInvalidArgument, "Read(offset<0)")

	n, err = store.Read(gid, 7, buf, 1, 2)
	if err != nil || n != 2 || string(buf[:n]) != "bc" {
		t.Errorf("Read(offset=1, len=2): expected \"bc\", got n=%d %q err=%v", n, buf[:n], err)
	}
}

func testListIDs(t *testing.T, store kstorage.IStore) {
	defer store.Close()

	mustAllocate(t, store)
	gid := mustAllocate(t, store)

	for _, id := range []int64{5, 1, 3} {
		mustWrite(t, store, gid, id, []byte{byte(id)})
	}
	if diff := cmp.Diff([]int64{1, 3, 5}, listIDs(t, store, gid, 10)); diff != "" {
		t.Errorf("ListIDs mismatch (-want +got):\n%s", diff)
	}

	// capacity truncates from the front of the ascending order
	if diff := cmp.Diff([]int64{1, 3}, listIDs(t, store, gid, 2)); diff != "" {
		t.Errorf("ListIDs with capacity 2 mismatch (-want +got):\n%s", diff)
	}
	if got := listIDs(t, store, gid, 0); len(got) != 0 {
		t.Errorf("ListIDs with capacity 0 returned %v", got)
	}

	// negative and large ids sort numerically
	for _, id := range []int64{-100, 1 << 40, -1, 0} {
		mustWrite(t, store, gid, id, nil)
	}
	ids := listIDs(t, store, gid, 100)
	if !sort.SliceIsSorted(ids, func(i, j int) bool { return ids[i] < ids[j] }) {
		t.Errorf("ListIDs not ascending: %v", ids)
	}
	for i := 1; i < len(ids); i++ {
		if ids[i] == ids[i-1] {
			t.Errorf("ListIDs returned duplicate id %d", ids[i])
		}
	}
	if len(ids) != 7 {
		t.Errorf("Expected 7 ids, got %d", len(ids))
	}
}

func testTransferFault(t *testing.T, store kstorage.IStore) {
	defer store.Close()

	gid := mustAllocate(t, store)
	mustWrite(t, store, gid, 1, []byte("original"))

	// source range beyond the buffer
	err := store.Write(gid, 1, []byte("abc"), 2, 5)
	expectErr(t, err, kstorage.ErrTransferFault, "Write with source overrun")
	err = store.Write(gid, 2, []byte("abc"), 4, 0)
	expectErr(t, err, kstorage.ErrTransferFault, "Write with offset past source")

	if got := readAll(t, store, gid, 1, 16); string(got) != "original" {
		t.Errorf("Failed Write must not change the record, got %q", got)
	}
	if size, _ := store.GroupSize(gid); size != 1 {
		t.Errorf("Failed Write must not change the size, got %d", size)
	}

	// destination too small
	_, err = store.Read(gid, 1, make([]byte, 3), 0, 8)
	expectErr(t, err, kstorage.ErrTransferFault, "Read into short buffer")

	// id buffer too small
	mustWrite(t, store, gid, 2, nil)
	_, err = store.ListIDs(gid, make([]byte, kstorage.IDSize), 2)
	expectErr(t, err, kstorage.ErrTransferFault, "ListIDs into short buffer")
}

func testDigest(t *testing.T, store kstorage.IStore) {
	defer store.Close()

	a := mustAllocate(t, store)
	b := mustAllocate(t, store)

	emptyA, err := store.Digest(a)
	if err != nil {
		t.Fatalf("Digest failed: %v", err)
	}
	emptyB, _ := store.Digest(b)
	if emptyA != emptyB {
		t.Errorf("Empty groups must have equal digests")
	}

	// same content, different insertion order
	for _, id := range []int64{3, 1, 2} {
		mustWrite(t, store, a, id, []byte(fmt.Sprintf("v%d", id)))
	}
	for _, id := range []int64{1, 2, 3} {
		mustWrite(t, store, b, id, []byte(fmt.Sprintf("v%d", id)))
	}
	da, _ := store.Digest(a)
	db, _ := store.Digest(b)
	if da != db {
		t.Errorf("Groups with equal content must have equal digests")
	}

	mustWrite(t, store, b, 2, []byte("changed"))
	db, _ = store.Digest(b)
	if da == db {
		t.Errorf("Digest must change with the content")
	}
}

// testGroupLifecycle follows one record through its whole life
func testGroupLifecycle(t *testing.T, store kstorage.IStore) {
	defer store.Close()

	gid := mustAllocate(t, store)
	if gid != 0 {
		t.Fatalf("Expected first group to be 0, got %d", gid)
	}

	mustWrite(t, store, 0, 42, []byte("hello"))
	if size, _ := store.GroupSize(0); size != 1 {
		t.Errorf("Expected size 1, got %d", size)
	}
	if got := readAll(t, store, 0, 42, 5); string(got) != "hello" {
		t.Errorf("Expected \"hello\", got %q", got)
	}
	if err := store.Remove(0, 42); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if size, _ := store.GroupSize(0); size != 0 {
		t.Errorf("Expected size 0, got %d", size)
	}
	_, err := store.Read(0, 42, make([]byte, 5), 0, 5)
	expectErr(t, err, kstorage.ErrNotFound, "Read after Remove")
}

// testModelReplay applies a random operation sequence to the store and to a map
// and compares ids and payloads afterwards
func testModelReplay(t *testing.T, store kstorage.IStore) {
	defer store.Close()

	gid := mustAllocate(t, store)
	model := make(map[int64][]byte)
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 2000; i++ {
		id := int64(rng.Intn(64)) - 16
		if rng.Intn(3) == 0 {
			err := store.Remove(gid, id)
			if _, ok := model[id]; ok {
				if err != nil {
					t.Fatalf("Remove(%d) of present id failed: %v", id, err)
				}
				delete(model, id)
			} else {
				expectErr(t, err, kstorage.ErrNotFound, fmt.Sprintf("Remove(%d) of absent id", id))
			}
			continue
		}
		value := make([]byte, rng.Intn(48))
		rng.Read(value)
		mustWrite(t, store, gid, id, value)
		model[id] = value
	}

	wantIDs := make([]int64, 0, len(model))
	for id := range model {
		wantIDs = append(wantIDs, id)
	}
	sort.Slice(wantIDs, func(i, j int) bool { return wantIDs[i] < wantIDs[j] })

	gotIDs := listIDs(t, store, gid, 128)
	if diff := cmp.Diff(wantIDs, gotIDs); diff != "" {
		t.Fatalf("ids differ from model (-want +got):\n%s", diff)
	}

	got := make(map[int64][]byte, len(gotIDs))
	for _, id := range gotIDs {
		got[id] = readAll(t, store, gid, id, 64)
	}
	if diff := cmp.Diff(model, got); diff != "" {
		t.Errorf("payloads differ from model (-want +got):\n%s", diff)
	}
}

func testConcurrentGroups(t *testing.T, store kstorage.IStore) {
	defer store.Close()

	const perGroup = 200

	var wg sync.WaitGroup
	for g := 0; g < kstorage.MaxGroups; g++ {
		gid := mustAllocate(t, store)
		wg.Add(1)
		go func(gid int) {
			defer wg.Done()
			for i := 0; i < perGroup; i++ {
				value := []byte(fmt.Sprintf("%d-%d", gid, i))
				if err := store.Write(gid, int64(i), value, 0, len(value)); err != nil {
					t.Errorf("Write(%d, %d) failed: %v", gid, i, err)
					return
				}
			}
		}(gid)
	}
	wg.Wait()

	for gid := 0; gid < kstorage.MaxGroups; gid++ {
		if size, _ := store.GroupSize(gid); size != perGroup {
			t.Errorf("Group %d: expected %d records, got %d", gid, perGroup, size)
		}
		want := fmt.Sprintf("%d-%d", gid, perGroup-1)
		if got := readAll(t, store, gid, perGroup-1, 32); string(got) != want {
			t.Errorf("Group %d: expected %q, got %q", gid, want, got)
		}
	}
}
