package store

import (
	"io"
	"strings"
)

// NewWithPrefix wraps the store s in one which prefixes every key with
// prefix. This namespaces the keys, letting one underlying store be shared
// by several tenants.
func NewWithPrefix(s Store, prefix string) Store {
	return prefixstore{s: s, p: prefix}
}

type prefixstore struct {
	s Store
	p string
}

func (ps prefixstore) List() <-chan string {
	out := make(chan string)
	go func() {
		for key := range ps.s.List() {
			if strings.HasPrefix(key, ps.p) {
				out <- key[len(ps.p):]
			}
		}
		close(out)
	}()
	return out
}

func (ps prefixstore) Open(key string) (ReadAtCloser, int64, error) {
	return ps.s.Open(ps.p + key)
}

func (ps prefixstore) Create(key string) (io.WriteCloser, error) {
	return ps.s.Create(ps.p + key)
}

func (ps prefixstore) Delete(key string) error {
	return ps.s.Delete(ps.p + key)
}
