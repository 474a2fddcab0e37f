// Package files holds the flat record describing one indexed attachment,
// the identity of a user asking for it, and the permission check deciding
// whether they may see it. Records enter the system from the search index
// and are treated as untrusted until they pass Filter.
package files

// A PermissionSet is a bit set of channel capabilities. The values mirror
// the chat platform's permission flags, but only the ones the filter cares
// about are named here.
type PermissionSet uint64

const (
	// PermViewChannel lets a user see that a channel exists.
	PermViewChannel PermissionSet = 1 << iota

	// PermReadHistory lets a user read messages posted before now.
	// This is the permission searches are usually gated on.
	PermReadHistory

	// PermSendMessages lets a user post to the channel.
	PermSendMessages

	// PermManageMessages lets a user delete other people's messages.
	PermManageMessages

	// PermAttachFiles lets a user upload attachments.
	PermAttachFiles
)

// Superset reports whether p contains every permission in q.
func (p PermissionSet) Superset(q PermissionSet) bool {
	return p&q == q
}

// FileRecord describes one attachment the indexing pipeline has seen.
// ObjectID is stable across re-indexing. URL is the cached direct link to
// the content and may be empty if the link has expired; ObjectID together
// with ChannelID and MessageID are always enough to find the file again
// through the metadata store.
type FileRecord struct {
	ObjectID    string `json:"objectID"`
	ChannelID   string `json:"channel_id"`
	MessageID   string `json:"message_id"`
	AuthorID    string `json:"author_id"`
	URL         string `json:"url,omitempty"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Filetype    string `json:"filetype"`
	Content     string `json:"content,omitempty"`
	JumpURL     string `json:"jump_url,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// An Identity is the user a search or retrieval is being done for, plus
// the permission their view of a channel must satisfy.
type Identity struct {
	UserID   string
	Required PermissionSet
}

// A Channel is a resolved chat channel. Permissions must evaluate against
// the current permission state; the filter never caches the result.
type Channel interface {
	// IsDM reports whether this is a 1:1 direct message channel.
	// Such channels have no permission concept of their own.
	IsDM() bool

	// Permissions returns the given user's permissions in this channel.
	Permissions(userID string) PermissionSet
}

// A ChannelResolver looks up channels by id. It is expected to be backed
// by the chat gateway and may do I/O. Returning a nil Channel (or an
// error) means the channel cannot be seen by this process at all.
type ChannelResolver interface {
	Channel(id string) (Channel, error)
}
