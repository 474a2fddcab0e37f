// Package store provides a simple, goroutine safe key-value interface
// where values are streams instead of byte slices. The asset cache keeps
// retrieved attachment bytes in one of these; which implementation backs
// it is a deployment decision.
//
// Keys are attachment object ids, so they never contain a path separator.
package store

import (
	"errors"
	"io"
)

// ReadAtCloser combines the io.ReaderAt and io.Closer interfaces.
type ReadAtCloser interface {
	io.ReaderAt
	io.Closer
}

// Store is the basic stream based key-value store. Items are immutable
// once stored; to replace one, delete it and create it again.
type Store interface {
	// List returns a channel giving every key in the store.
	List() <-chan string

	// Open returns a reader for the given key along with the item's size.
	Open(key string) (ReadAtCloser, int64, error)

	// Create makes a new item and returns a writer to fill it. It is an
	// error to create a key which already exists.
	Create(key string) (io.WriteCloser, error)

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(key string) error
}

// Exported errors.
var (
	// ErrKeyExists indicates an attempt to create a key which already exists.
	ErrKeyExists = errors.New("key already exists")

	// ErrBadKey indicates a key containing a path separator.
	ErrBadKey = errors.New("key contains forward slash")
)

// NewReader converts an io.ReaderAt into an io.Reader, reading from the
// beginning. It is a utility to work with the ReadAtCloser Open returns.
func NewReader(r io.ReaderAt) io.Reader {
	return &reader{r: r}
}

type reader struct {
	r   io.ReaderAt
	off int64
}

func (r *reader) Read(p []byte) (n int, err error) {
	n, err = r.r.ReadAt(p, r.off)
	r.off += int64(n)
	if err == io.EOF && n > 0 {
		// a short read is not an error for an io.Reader
		err = nil
	}
	return
}
