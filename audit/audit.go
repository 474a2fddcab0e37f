// Package audit keeps the append-only record of every user command. Each
// command is serialized as one msgpack map and appended to a single log
// file. Records are self-describing, so the file can be decoded without
// any external schema, and a partially written tail never corrupts the
// records before it.
package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// Command is the closed set of audited command kinds. Callers should pass
// one of these; NormalizeCommand exists only for callers that have nothing
// better than the platform's display name for a command.
type Command int

const (
	CmdOther Command = iota
	CmdSearch
	CmdDelete
	CmdRemove
	CmdExport
)

func (c Command) String() string {
	switch c {
	case CmdSearch:
		return "search"
	case CmdDelete:
		return "delete"
	case CmdRemove:
		return "remove"
	case CmdExport:
		return "export"
	}
	return "other"
}

// commandTokens is the vocabulary NormalizeCommand matches against,
// in match order.
var commandTokens = []Command{CmdSearch, CmdDelete, CmdRemove, CmdExport}

// NormalizeCommand maps a raw command name onto the closed vocabulary by
// substring match. A name containing none of the known tokens is CmdOther.
func NormalizeCommand(name string) Command {
	for _, c := range commandTokens {
		if strings.Contains(name, c.String()) {
			return c
		}
	}
	return CmdOther
}

// An Invocation says who issued a command and from where. GuildID is zero
// when the command did not come from a guild, in which case the channel id
// is recorded as the source.
type Invocation struct {
	Caller    string
	ChannelID int64
	GuildID   int64
}

// Record is the unit appended to the log. Query values are stored as their
// display strings so the persisted form never depends on native types.
type Record struct {
	Caller    string            `msgpack:"caller"`
	Type      string            `msgpack:"type"`
	Source    int64             `msgpack:"source"`
	Query     map[string]string `msgpack:"query"`
	Timestamp string            `msgpack:"timestamp"`
}

// DefaultDir is where log files go when no directory is configured.
const DefaultDir = "usage"

// Logger appends command records to one log file. The first append creates
// the file; the file is never truncated or rewritten. Appends are
// serialized, so it is safe to share one Logger between goroutines.
type Logger struct {
	path string
	m    sync.Mutex // serializes the open-append-close sequence

	now func() time.Time // test hook
}

// NewLogger creates a Logger writing to dir/{dbName}_commands.msgpack.
// dir defaults to DefaultDir and is created if absent. An empty dbName
// drops the prefix.
func NewLogger(dir, dbName string) (*Logger, error) {
	if dir == "" {
		dir = DefaultDir
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "create log directory")
	}
	name := "commands.msgpack"
	if dbName != "" {
		name = dbName + "_" + name
	}
	return &Logger{
		path: filepath.Join(dir, name),
		now:  time.Now,
	}, nil
}

// Path returns the log file's path.
func (l *Logger) Path() string { return l.path }

// Log appends one record for the given command. Every value in query is
// stored as its display string. An error means the record was not durably
// written; callers should surface that to operators but not fail the user
// command over it.
func (l *Logger) Log(cmd Command, inv Invocation, query map[string]interface{}) error {
	return l.log(cmd.String(), inv, query)
}

// LogRaw is the compatibility shim for callers that only know a command's
// display name. The name is normalized by substring match; a name matching
// no known token is stored verbatim.
func (l *Logger) LogRaw(name string, inv Invocation, query map[string]interface{}) error {
	cmd := NormalizeCommand(name)
	typ := cmd.String()
	if cmd == CmdOther {
		typ = name
	}
	return l.log(typ, inv, query)
}

func (l *Logger) log(typ string, inv Invocation, query map[string]interface{}) error {
	rec := Record{
		Caller:    inv.Caller,
		Type:      typ,
		Source:    inv.ChannelID,
		Query:     make(map[string]string, len(query)),
		Timestamp: l.now().Format(time.RFC3339),
	}
	if inv.GuildID != 0 {
		rec.Source = inv.GuildID
	}
	for k, v := range query {
		rec.Query[k] = fmt.Sprintf("%v", v)
	}
	data, err := msgpack.Marshal(&rec)
	if err != nil {
		return errors.Wrap(err, "encode audit record")
	}

	l.m.Lock()
	defer l.m.Unlock()
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return errors.Wrap(err, "open audit log")
	}
	_, err = f.Write(data)
	cerr := f.Close()
	if err == nil {
		err = cerr
	}
	return errors.Wrap(err, "append audit record")
}
