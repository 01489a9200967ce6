package kstorage

import "fmt"

// --------------------------------------------------------------------------
// Cross-Domain Copy
// --------------------------------------------------------------------------

// Copier moves bytes between a caller's memory domain and the store.
// It is used in both directions: Write copies from the caller's buffer into a
// new entry, Read and ListIDs copy from the store into the caller's buffer.
//
// Copy must transfer all of src into the beginning of dst or fail; a failure
// aborts the operation without visible effect.
type Copier interface {
	Copy(dst, src []byte) error
}

// CopierFunc adapts a function to the Copier interface
type CopierFunc func(dst, src []byte) error

func (f CopierFunc) Copy(dst, src []byte) error {
	return f(dst, src)
}

// LocalCopier copies within the current process. It fails if dst is too small.
type LocalCopier struct{}

func (LocalCopier) Copy(dst, src []byte) error {
	if len(dst) < len(src) {
		return fmt.Errorf("destination holds %d bytes, %d required", len(dst), len(src))
	}
	copy(dst, src)
	return nil
}
