// Package shapers converts platform-native chat objects into the flat
// record shapes the rest of the system works with. All conversions are
// pure; nothing here touches the network or a database. The chat platform
// SDK is deliberately not imported: the ingest boundary fills these structs
// and the core never sees SDK types.
package shapers

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/haystackers/haystack/files"
	"github.com/haystackers/haystack/metadata"
)

// A User is the author of a message or the owner of a guild.
type User struct {
	ID            int64
	Name          string
	Discriminator string
}

// A Guild is one chat server the indexer is a member of.
type Guild struct {
	ID            int64
	Name          string
	Owner         *User // nil when the owner could not be resolved
	Members       int
	MaxMembers    int
	FilesizeLimit int64
	Description   string
	Large         bool
	CreatedAt     time.Time
}

// A Message is the envelope an attachment arrived in. GuildID is 0 for
// direct messages.
type Message struct {
	ID        int64
	ChannelID int64
	GuildID   int64
	Author    User
	Content   string
	CreatedAt time.Time
}

// An Attachment is one file on a message. Height and Width are 0 for
// attachments that are not images.
type Attachment struct {
	ID          int64
	Filename    string
	ContentType string
	URL         string
	Size        int64
	Height      int
	Width       int
}

// Filetype derives the type tag from the extension after the last dot.
func Filetype(filename string) string {
	i := strings.LastIndex(filename, ".")
	if i < 0 {
		return "unknown"
	}
	return filename[i+1:]
}

// DisplayName formats a user as name#discriminator. A nil user is a guild
// owner we could not resolve.
func DisplayName(u *User) string {
	if u == nil {
		return "UNKNOWN"
	}
	return u.Name + "#" + u.Discriminator
}

// JumpURL builds the link back to the message holding the attachment.
func JumpURL(guildID, channelID, messageID int64) string {
	return fmt.Sprintf("https://discord.com/channels/%d/%d/%d",
		guildID, channelID, messageID)
}

// CDNURL builds the direct content address of an attachment.
func CDNURL(channelID, attachmentID int64, filename string) string {
	return fmt.Sprintf("https://cdn.discordapp.com/attachments/%d/%d/%s",
		channelID, attachmentID, filename)
}

// AttachmentToRecord shapes an attachment into the searchable record the
// index stores and the permission filter consumes.
func AttachmentToRecord(m Message, a Attachment) files.FileRecord {
	return files.FileRecord{
		ObjectID:    itoa(a.ID),
		ChannelID:   itoa(m.ChannelID),
		MessageID:   itoa(m.ID),
		AuthorID:    itoa(m.Author.ID),
		URL:         a.URL,
		Filename:    a.Filename,
		ContentType: a.ContentType,
		Filetype:    Filetype(a.Filename),
		Content:     m.Content,
		JumpURL:     JumpURL(m.GuildID, m.ChannelID, m.ID),
		CreatedAt:   m.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// AttachmentToFileInfo shapes an attachment into its metadata row. A
// direct message has no guild; the row records -1 there.
func AttachmentToFileInfo(m Message, a Attachment) *metadata.FileInfo {
	guild := "-1"
	if m.GuildID != 0 {
		guild = itoa(m.GuildID)
	}
	height, width := a.Height, a.Width
	if height == 0 {
		height = -1
	}
	if width == 0 {
		width = -1
	}
	return &metadata.FileInfo{
		ID:         itoa(a.ID),
		AuthorID:   itoa(m.Author.ID),
		AuthorName: DisplayName(&m.Author),
		ChannelID:  itoa(m.ChannelID),
		GuildID:    guild,
		MessageID:  itoa(m.ID),
		Filename:   a.Filename,
		Mimetype:   a.ContentType,
		URL:        a.URL,
		Size:       a.Size,
		Height:     height,
		Width:      width,
		Content:    m.Content,
		CreatedAt:  m.CreatedAt,
	}
}

// GuildToInfo shapes a guild into its bookkeeping row.
func GuildToInfo(g Guild) *metadata.GuildInfo {
	var ownerID string
	if g.Owner != nil {
		ownerID = itoa(g.Owner.ID)
	}
	return &metadata.GuildInfo{
		ID:            itoa(g.ID),
		Name:          g.Name,
		OwnerID:       ownerID,
		OwnerName:     DisplayName(g.Owner),
		Members:       g.Members,
		MaxMembers:    g.MaxMembers,
		FilesizeLimit: g.FilesizeLimit,
		Description:   g.Description,
		Large:         g.Large,
		CreatedAt:     g.CreatedAt,
	}
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
