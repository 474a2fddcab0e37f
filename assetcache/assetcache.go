// Package assetcache keeps the bytes of recently retrieved attachments so a
// repeated retrieval does not hit the CDN again. It is backed by a store,
// so the cached content can live in memory, on disk, or in S3.
//
// The usage list is kept only in memory; on startup Scan() enumerates the
// backing store to repopulate it, in an undetermined order.
package assetcache

import (
	"container/list"
	"errors"
	"io"
	"io/ioutil"
	"sync"

	"github.com/haystackers/haystack/store"
)

// Cache is what the retriever consults before fetching. A miss is not an
// error: Get returns a nil reader for a miss.
type Cache interface {
	Contains(id string) bool
	Get(id string) (store.ReadAtCloser, int64, error)
	Put(id string) (io.WriteCloser, error)
}

// ErrCacheFull means an item is too big to ever fit in the cache.
var ErrCacheFull = errors.New("cache is full and no more items can be removed")

// LRU is a least-recently-used cache over a store.
type LRU struct {
	s store.Store

	m sync.RWMutex // protects everything below

	size    int64 // bytes currently used
	maxSize int64 // bytes we may use

	// front of list is most recent, back is next to evict
	lru *list.List
}

type entry struct {
	id   string
	size int64
}

var _ Cache = &LRU{}

// NewLRU creates a cache storing at most maxSize bytes in s. The store may
// already contain items; call Scan, inline or in a goroutine, to pick
// them up.
func NewLRU(s store.Store, maxSize int64) *LRU {
	return &LRU{s: s, maxSize: maxSize, lru: list.New()}
}

// Scan enumerates the backing store and adds its items to the usage list.
// Items too big to fit are deleted. Blocks until finished.
func (t *LRU) Scan() {
	for key := range t.s.List() {
		if t.Contains(key) {
			continue
		}
		rc, size, err := t.s.Open(key)
		if err != nil {
			continue
		}
		rc.Close()
		if err := t.reserve(size); err != nil {
			t.s.Delete(key)
			continue
		}
		t.m.Lock()
		t.lru.PushFront(entry{id: key, size: size})
		t.m.Unlock()
	}
}

// Contains reports whether the item is in the cache. It does not update
// the usage list and does not guarantee the item will still be present
// when Get is called.
func (t *LRU) Contains(id string) bool {
	return t.find(id) != nil
}

// Get returns a reader for the item and marks it recently used. A nil
// reader means a cache miss, which is not an error.
func (t *LRU) Get(id string) (store.ReadAtCloser, int64, error) {
	e := t.find(id)
	if e == nil {
		return nil, 0, nil
	}
	t.m.Lock()
	t.lru.MoveToFront(e)
	t.m.Unlock()
	return t.s.Open(id)
}

func (t *LRU) find(id string) *list.Element {
	t.m.RLock()
	defer t.m.RUnlock()
	for e := t.lru.Front(); e != nil; e = e.Next() {
		if e.Value.(entry).id == id {
			return e
		}
	}
	return nil
}

// Put returns a writer which saves its contents in the cache under id.
// Other items may be evicted as data is written. The new item joins the
// cache when the writer is closed. Putting an id already present (or being
// written) is an error until the item is evicted.
func (t *LRU) Put(id string) (io.WriteCloser, error) {
	w, err := t.s.Create(id)
	if err != nil {
		return nil, err
	}
	return &writer{parent: t, id: id, w: w}, nil
}

// reserve claims size bytes of cache space, evicting items as needed to
// stay under maxSize. A negative size cancels a previous reservation.
// Nothing is reserved on error.
func (t *LRU) reserve(size int64) error {
	t.m.Lock()
	defer t.m.Unlock()

	t.size += size
	for t.size > t.maxSize {
		e := t.lru.Back()
		if e == nil {
			t.size -= size
			return ErrCacheFull
		}
		ev := t.lru.Remove(e).(entry)
		if err := t.s.Delete(ev.id); err != nil {
			t.size -= size
			return err
		}
		t.size -= ev.size
	}
	return nil
}

// writer copies a new item into the cache, evicting as it goes so the
// cache never exceeds maxSize even mid-write.
type writer struct {
	parent        *LRU
	id            string
	w             io.WriteCloser
	size          int64
	deleteOnClose bool
}

func (w *writer) Write(p []byte) (int, error) {
	err := w.parent.reserve(int64(len(p)))
	if err != nil {
		if err == ErrCacheFull {
			w.deleteOnClose = true
		}
		return 0, err
	}
	w.size += int64(len(p))
	return w.w.Write(p)
}

func (w *writer) Close() error {
	err := w.w.Close()
	if err != nil || w.deleteOnClose {
		w.parent.reserve(-w.size)
		w.parent.s.Delete(w.id)
		return err
	}
	w.parent.m.Lock()
	w.parent.lru.PushFront(entry{id: w.id, size: w.size})
	w.parent.m.Unlock()
	return nil
}

// None is a cache which always misses and saves nothing. Used when caching
// is turned off.
type None struct{}

var _ Cache = None{}

// Contains always returns false.
func (None) Contains(id string) bool { return false }

// Get always returns a cache miss.
func (None) Get(id string) (store.ReadAtCloser, int64, error) { return nil, 0, nil }

// Put returns a valid WriteCloser which discards its input.
func (None) Put(id string) (io.WriteCloser, error) {
	return nopCloser{ioutil.Discard}, nil
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
