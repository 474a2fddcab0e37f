package store

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	raven "github.com/getsentry/raven-go"
)

// FileSystem is the file system backed store. Each key becomes one file,
// bucketed into subdirectories so no single directory grows too large.
// Writes go to a scratch directory first and are renamed into place on
// Close, so a crash mid-write never leaves a half-written item visible.
type FileSystem struct {
	root string
}

var _ Store = &FileSystem{}

// the subdir files live in while they are being written
const scratchdir = "scratch"

// NewFileSystem creates a FileSystem store rooted at the given path.
func NewFileSystem(root string) *FileSystem {
	return &FileSystem{root: root}
}

// keySubdir returns the bucket directory for a key. Object ids are
// snowflakes and share long common prefixes, so bucket on the tail.
func keySubdir(key string) string {
	if len(key) < 2 {
		return "00"
	}
	return key[len(key)-2:]
}

// List returns a channel giving every key in this store.
func (s *FileSystem) List() <-chan string {
	c := make(chan string)
	go func() {
		defer close(c)
		dirs, err := os.Open(s.root)
		if err != nil {
			log.Println(err)
			raven.CaptureError(err, nil)
			return
		}
		entries, err := dirs.Readdirnames(-1)
		dirs.Close()
		if err != nil {
			log.Println(err)
			raven.CaptureError(err, nil)
			return
		}
		for _, dir := range entries {
			if dir == scratchdir {
				continue
			}
			names, err := filepath.Glob(filepath.Join(s.root, dir, "*"))
			if err != nil {
				continue
			}
			for _, name := range names {
				c <- filepath.Base(name)
			}
		}
	}()
	return c
}

// Open returns a reader for the given key along with the item's size.
func (s *FileSystem) Open(key string) (ReadAtCloser, int64, error) {
	if strings.Contains(key, "/") {
		return nil, 0, ErrBadKey
	}
	f, err := os.Open(filepath.Join(s.root, keySubdir(key), key))
	if err != nil {
		return nil, 0, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, fi.Size(), nil
}

// Create makes a new item for the key and returns a writer to fill it.
func (s *FileSystem) Create(key string) (io.WriteCloser, error) {
	if strings.Contains(key, "/") {
		return nil, ErrBadKey
	}
	target, err := s.setupSubdir(keySubdir(key), key)
	if err != nil {
		return nil, err
	}
	if _, err = os.Stat(target); !os.IsNotExist(err) {
		return nil, ErrKeyExists
	}
	temp, err := s.setupSubdir(scratchdir, key)
	if err != nil {
		return nil, err
	}
	// O_EXCL keeps two writers from clobbering each other's scratch file
	w, err := os.OpenFile(temp, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0666)
	if err != nil {
		return nil, err
	}
	return &moveCloser{WriteCloser: w, source: temp, target: target}, nil
}

// setupSubdir makes sure the subdirectory exists under the root, and
// returns the absolute path for the keyed file.
func (s *FileSystem) setupSubdir(subdir, key string) (string, error) {
	dir := filepath.Join(s.root, subdir)
	err := os.MkdirAll(dir, 0775)
	return filepath.Join(dir, key), err
}

// moveCloser moves the scratch file into its final place on Close.
type moveCloser struct {
	io.WriteCloser
	source string
	target string
}

func (w *moveCloser) Close() error {
	err := w.WriteCloser.Close()
	if err != nil {
		return err
	}
	if _, err = os.Stat(w.target); !os.IsNotExist(err) {
		return ErrKeyExists
	}
	return os.Rename(w.source, w.target)
}

// Delete removes the key from the store. Missing keys are not an error.
func (s *FileSystem) Delete(key string) error {
	if strings.Contains(key, "/") {
		return ErrBadKey
	}
	err := os.Remove(filepath.Join(s.root, keySubdir(key), key))
	if err != nil && os.IsNotExist(err) {
		err = nil
	}
	return err
}
