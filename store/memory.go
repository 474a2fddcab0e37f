package store

import (
	"bytes"
	"fmt"
	"io"
	"sync"
)

// Memory is an in-memory store, intended for testing and for running
// without any configured cache directory.
type Memory struct {
	m     sync.RWMutex
	items map[string][]byte
}

var _ Store = &Memory{}

// NewMemory returns a new, empty memory store.
func NewMemory() *Memory {
	return &Memory{items: make(map[string][]byte)}
}

// List returns a channel giving every key in the store. The key list is
// snapshotted up front, so the channel never blocks other store calls.
func (ms *Memory) List() <-chan string {
	ms.m.RLock()
	keys := make([]string, 0, len(ms.items))
	for k := range ms.items {
		keys = append(keys, k)
	}
	ms.m.RUnlock()
	c := make(chan string)
	go func() {
		for _, k := range keys {
			c <- k
		}
		close(c)
	}()
	return c
}

// Open returns a reader over the item's bytes along with its size.
func (ms *Memory) Open(key string) (ReadAtCloser, int64, error) {
	ms.m.RLock()
	b, ok := ms.items[key]
	ms.m.RUnlock()
	if !ok {
		return nil, 0, fmt.Errorf("no item %s", key)
	}
	return memReader{bytes.NewReader(b)}, int64(len(b)), nil
}

type memReader struct {
	*bytes.Reader
}

func (memReader) Close() error { return nil }

// Create makes a new item. The item appears in the store when the
// returned writer is closed.
func (ms *Memory) Create(key string) (io.WriteCloser, error) {
	ms.m.RLock()
	_, exists := ms.items[key]
	ms.m.RUnlock()
	if exists {
		return nil, ErrKeyExists
	}
	return &memWriter{parent: ms, key: key}, nil
}

type memWriter struct {
	parent *Memory
	key    string
	buf    bytes.Buffer
}

func (w *memWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *memWriter) Close() error {
	w.parent.m.Lock()
	w.parent.items[w.key] = w.buf.Bytes()
	w.parent.m.Unlock()
	return nil
}

// Delete removes the key. Missing keys are not an error.
func (ms *Memory) Delete(key string) error {
	ms.m.Lock()
	delete(ms.items, key)
	ms.m.Unlock()
	return nil
}
