package audit

import (
	"fmt"
	"io/ioutil"
	"os"
	"sync"
	"testing"
	"time"
)

func newTestLogger(t *testing.T) (*Logger, func()) {
	dir, err := ioutil.TempDir("", "audit")
	if err != nil {
		t.Fatal(err)
	}
	l, err := NewLogger(dir, "testdb")
	if err != nil {
		os.RemoveAll(dir)
		t.Fatal(err)
	}
	return l, func() { os.RemoveAll(dir) }
}

func TestNormalizeCommand(t *testing.T) {
	var table = []struct {
		input    string
		expected Command
	}{
		{"search", CmdSearch},
		{"slash_search_files", CmdSearch},
		{"delete_file", CmdDelete},
		{"remove_all", CmdRemove},
		{"export_usage", CmdExport},
		{"frobnicate", CmdOther},
		{"", CmdOther},
	}
	for _, tab := range table {
		if got := NormalizeCommand(tab.input); got != tab.expected {
			t.Errorf("%q: got %v, expected %v", tab.input, got, tab.expected)
		}
	}
}

func TestLogCreatesFile(t *testing.T) {
	l, cleanup := newTestLogger(t)
	defer cleanup()

	if _, err := os.Stat(l.Path()); !os.IsNotExist(err) {
		t.Fatal("log file should not exist before first append")
	}
	err := l.Log(CmdSearch, Invocation{Caller: "alice#0420", ChannelID: 2002, GuildID: 3003},
		map[string]interface{}{"filetype": "png", "after": nil})
	if err != nil {
		t.Fatal(err)
	}
	records, err := ReadLog(l.Path())
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, expected 1", len(records))
	}
	r := records[0]
	if r.Caller != "alice#0420" {
		t.Errorf("caller = %q", r.Caller)
	}
	if r.Type != "search" {
		t.Errorf("type = %q", r.Type)
	}
	if r.Source != 3003 {
		t.Errorf("source = %d, expected the guild id", r.Source)
	}
	if r.Query["filetype"] != "png" {
		t.Errorf("query filetype = %q", r.Query["filetype"])
	}
	// values are always stored as display strings
	if r.Query["after"] != "<nil>" {
		t.Errorf("query after = %q", r.Query["after"])
	}
	if _, err := time.Parse(time.RFC3339, r.Timestamp); err != nil {
		t.Errorf("bad timestamp %q: %s", r.Timestamp, err)
	}
}

func TestLogSourceFallsBackToChannel(t *testing.T) {
	l, cleanup := newTestLogger(t)
	defer cleanup()

	err := l.Log(CmdDelete, Invocation{Caller: "bob#7", ChannelID: 42}, nil)
	if err != nil {
		t.Fatal(err)
	}
	records, err := ReadLog(l.Path())
	if err != nil {
		t.Fatal(err)
	}
	if records[0].Source != 42 {
		t.Errorf("source = %d, expected the channel id", records[0].Source)
	}
}

func TestLogRawVerbatim(t *testing.T) {
	l, cleanup := newTestLogger(t)
	defer cleanup()

	if err := l.LogRaw("do_search_stuff", Invocation{Caller: "a"}, nil); err != nil {
		t.Fatal(err)
	}
	if err := l.LogRaw("frobnicate", Invocation{Caller: "a"}, nil); err != nil {
		t.Fatal(err)
	}
	records, err := ReadLog(l.Path())
	if err != nil {
		t.Fatal(err)
	}
	if records[0].Type != "search" {
		t.Errorf("type = %q, expected search", records[0].Type)
	}
	if records[1].Type != "frobnicate" {
		t.Errorf("type = %q, expected the raw name", records[1].Type)
	}
}

func TestLogSequentialOrder(t *testing.T) {
	l, cleanup := newTestLogger(t)
	defer cleanup()

	const n = 25
	for i := 0; i < n; i++ {
		err := l.Log(CmdSearch, Invocation{Caller: "u", ChannelID: 1},
			map[string]interface{}{"seq": i})
		if err != nil {
			t.Fatal(err)
		}
	}
	records, err := ReadLog(l.Path())
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != n {
		t.Fatalf("got %d records, expected %d", len(records), n)
	}
	for i, r := range records {
		if r.Query["seq"] != fmt.Sprintf("%d", i) {
			t.Errorf("record %d has seq %q", i, r.Query["seq"])
		}
	}
}

func TestLogConcurrentAppends(t *testing.T) {
	l, cleanup := newTestLogger(t)
	defer cleanup()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := l.Log(CmdExport, Invocation{Caller: "u", ChannelID: int64(i)}, nil)
			if err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()
	records, err := ReadLog(l.Path())
	if err != nil {
		t.Fatalf("framing corrupted: %s", err)
	}
	if len(records) != n {
		t.Errorf("got %d records, expected %d", len(records), n)
	}
}

func TestLoggerBadDirectory(t *testing.T) {
	dir, err := ioutil.TempDir("", "audit")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	// a file where the directory should be
	fname := dir + "/blocked"
	if err := ioutil.WriteFile(fname, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewLogger(fname, "db"); err == nil {
		t.Error("expected an error creating the log directory")
	}
}
