// Package metadata implements the durable attachment metadata store. It is
// the fallback retrieval path: when an indexed record no longer carries a
// direct URL, the retriever asks here for a fresh one by object id.
//
// Two backends are provided, MySQL for production and the embedded QL
// database for development and testing.
package metadata

import (
	"errors"
	"time"
)

// ErrNotFound is returned by GetFile when no row exists for the id.
var ErrNotFound = errors.New("metadata: file not found")

// FileInfo is the metadata row kept for one attachment. Height and Width
// are -1 for attachments with no image dimensions.
type FileInfo struct {
	ID         string
	AuthorID   string
	AuthorName string
	ChannelID  string
	GuildID    string
	MessageID  string
	Filename   string
	Mimetype   string
	URL        string
	Size       int64
	Height     int
	Width      int
	Content    string
	CreatedAt  time.Time
}

// GuildInfo is the bookkeeping row kept for one guild the indexer is in.
type GuildInfo struct {
	ID            string
	Name          string
	OwnerID       string
	OwnerName     string
	Members       int
	MaxMembers    int
	FilesizeLimit int64
	Description   string
	Large         bool
	CreatedAt     time.Time
}

// Store is the metadata lookup contract. GetFile may fail with a transient
// error; callers are expected to treat any error other than ErrNotFound as
// retryable. SetFile and SetGuild are upserts used by the indexing boundary.
type Store interface {
	GetFile(id string) (*FileInfo, error)
	SetFile(info *FileInfo) error
	DeleteFile(id string) error
	SetGuild(info *GuildInfo) error
}
