package store

import (
	"io/ioutil"
	"os"
	"sort"
	"testing"
)

// exercise a store through a write-read-delete cycle
func runStoreTest(t *testing.T, s Store) {
	w, err := s.Create("815975935631360")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("some image bytes")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	// duplicate create is refused
	if _, err := s.Create("815975935631360"); err != ErrKeyExists {
		t.Errorf("got %v, expected ErrKeyExists", err)
	}

	r, size, err := s.Open("815975935631360")
	if err != nil {
		t.Fatal(err)
	}
	if size != int64(len("some image bytes")) {
		t.Errorf("got size %d", size)
	}
	data, err := ioutil.ReadAll(NewReader(r))
	r.Close()
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "some image bytes" {
		t.Errorf("got %q", data)
	}

	if err := s.Delete("815975935631360"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Open("815975935631360"); err == nil {
		t.Error("expected an error opening a deleted key")
	}
	// deleting again is fine
	if err := s.Delete("815975935631360"); err != nil {
		t.Errorf("second delete: %s", err)
	}
}

func TestMemoryStore(t *testing.T) {
	runStoreTest(t, NewMemory())
}

func TestFileSystemStore(t *testing.T) {
	dir, err := ioutil.TempDir("", "store")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	runStoreTest(t, NewFileSystem(dir))
}

func TestKeySubdir(t *testing.T) {
	var table = []struct{ input, output string }{
		{"815975935631360", "60"},
		{"42", "42"},
		{"7", "00"},
		{"", "00"},
	}
	for _, tab := range table {
		if got := keySubdir(tab.input); got != tab.output {
			t.Errorf("%q: got %q, expected %q", tab.input, got, tab.output)
		}
	}
}

func TestFileSystemList(t *testing.T) {
	dir, err := ioutil.TempDir("", "store")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	s := NewFileSystem(dir)
	keys := []string{"1001", "1002", "2003"}
	for _, k := range keys {
		w, err := s.Create(k)
		if err != nil {
			t.Fatal(err)
		}
		w.Close()
	}
	var got []string
	for k := range s.List() {
		got = append(got, k)
	}
	sort.Strings(got)
	if len(got) != len(keys) {
		t.Fatalf("listed %v", got)
	}
	for i := range keys {
		if got[i] != keys[i] {
			t.Errorf("position %d got %s, expected %s", i, got[i], keys[i])
		}
	}
}

func TestPrefixStore(t *testing.T) {
	base := NewMemory()
	a := NewWithPrefix(base, "tenantA:")
	b := NewWithPrefix(base, "tenantB:")

	w, err := a.Create("1")
	if err != nil {
		t.Fatal(err)
	}
	w.Write([]byte("a's file"))
	w.Close()

	// same key in another namespace does not collide
	w, err = b.Create("1")
	if err != nil {
		t.Fatal(err)
	}
	w.Write([]byte("b's file"))
	w.Close()

	r, _, err := a.Open("1")
	if err != nil {
		t.Fatal(err)
	}
	data, _ := ioutil.ReadAll(NewReader(r))
	r.Close()
	if string(data) != "a's file" {
		t.Errorf("got %q", data)
	}

	var akeys []string
	for k := range a.List() {
		akeys = append(akeys, k)
	}
	if len(akeys) != 1 || akeys[0] != "1" {
		t.Errorf("tenant A sees keys %v", akeys)
	}
}
