// Package searchidx talks to the external search index holding attachment
// records. The index backend is not ours; this package only queries it and
// turns its hits into FileRecords. Index responses are treated as
// untrusted: fields may be missing, null, or the wrong type, and a hit we
// cannot parse is dropped rather than failing the whole search.
package searchidx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/antonholmquist/jason"

	"github.com/haystackers/haystack/files"
)

// Exported errors
var (
	ErrNotAuthorized  = errors.New("access denied by search index")
	ErrUnexpectedResp = errors.New("unexpected response code")
)

// A Query selects attachment records. Zero-valued fields are not sent.
type Query struct {
	Filename       string
	Filetype       string // one of ContentTypeChoices
	CustomFiletype string // free-form extension, overrides Filetype
	Author         string
	Channel        string
	Content        string
	Before         time.Time
	After          time.Time
}

// A Choice is one entry in the fixed content-type vocabulary. Extensions
// lists the file extensions it covers.
type Choice struct {
	Name       string
	Extensions []string
}

// ContentTypeChoices is the vocabulary for Query.Filetype, sorted by name.
var ContentTypeChoices = []Choice{
	{Name: "audio", Extensions: []string{"mp3", "m4a", "ogg", "wav", "flac"}},
	{Name: "gif", Extensions: []string{"gif"}},
	{Name: "image", Extensions: []string{"jpg", "jpeg", "png", "gif", "webp"}},
	{Name: "jpg", Extensions: []string{"jpg", "jpeg"}},
	{Name: "mp3", Extensions: []string{"mp3", "m4a"}},
	{Name: "mp4", Extensions: []string{"mp4"}},
	{Name: "pdf", Extensions: []string{"pdf"}},
	{Name: "png", Extensions: []string{"png"}},
	{Name: "zip", Extensions: []string{"zip"}},
}

// Index is the search contract the server depends on.
type Index interface {
	Search(ctx context.Context, q Query) ([]files.FileRecord, error)
}

// Connection is an Index backed by an HTTP search service. One Connection
// is shared by every request handler, so it holds no mutable state.
type Connection struct {
	// HostURL is the base address of the index, e.g. "http://localhost:9200".
	HostURL string

	// Token, if set, is sent as an X-Api-Key header.
	Token string

	// Client overrides the HTTP client used for index requests.
	Client *http.Client
}

var _ Index = &Connection{}

// Search runs q against the index and returns the hits in index order.
func (c *Connection) Search(ctx context.Context, q Query) ([]files.FileRecord, error) {
	v, err := c.doJasonGet(ctx, "/search?"+q.values().Encode())
	if err != nil {
		return nil, err
	}
	hits, err := v.GetObjectArray("hits")
	if err != nil {
		// an empty result set may omit the key entirely
		return nil, nil
	}
	var result []files.FileRecord
	for _, hit := range hits {
		rec, ok := parseHit(hit)
		if ok {
			result = append(result, rec)
		}
	}
	return result, nil
}

func (q Query) values() url.Values {
	v := url.Values{}
	setIfPresent := func(key, value string) {
		if value != "" {
			v.Set(key, value)
		}
	}
	setIfPresent("filename", q.Filename)
	setIfPresent("filetype", q.Filetype)
	setIfPresent("custom_filetype", q.CustomFiletype)
	setIfPresent("author", q.Author)
	setIfPresent("channel", q.Channel)
	setIfPresent("content", q.Content)
	if !q.Before.IsZero() {
		v.Set("before", q.Before.UTC().Format(time.RFC3339))
	}
	if !q.After.IsZero() {
		v.Set("after", q.After.UTC().Format(time.RFC3339))
	}
	return v
}

// parseHit builds a FileRecord from one index hit. The only required
// fields are the object id and the channel id; without those the record
// can be neither fetched nor permission checked.
func parseHit(hit *jason.Object) (files.FileRecord, bool) {
	var rec files.FileRecord
	rec.ObjectID = stringField(hit, "objectID")
	rec.ChannelID = stringField(hit, "channel_id")
	if rec.ObjectID == "" || rec.ChannelID == "" {
		return rec, false
	}
	rec.MessageID = stringField(hit, "message_id")
	rec.AuthorID = stringField(hit, "author_id")
	rec.URL = stringField(hit, "url")
	rec.Filename = stringField(hit, "filename")
	rec.ContentType = stringField(hit, "content_type")
	rec.Filetype = stringField(hit, "filetype")
	rec.Content = stringField(hit, "content")
	rec.JumpURL = stringField(hit, "jump_url")
	rec.CreatedAt = stringField(hit, "created_at")
	return rec, true
}

// stringField reads a field which some index versions store as a string
// and others as a number.
func stringField(obj *jason.Object, key string) string {
	if s, err := obj.GetString(key); err == nil {
		return s
	}
	if n, err := obj.GetInt64(key); err == nil {
		return strconv.FormatInt(n, 10)
	}
	return ""
}

func (c *Connection) doJasonGet(ctx context.Context, path string) (*jason.Object, error) {
	path = c.HostURL + path

	req, err := http.NewRequestWithContext(ctx, "GET", path, nil)
	if err != nil {
		return nil, err
	}
	if c.Token != "" {
		req.Header.Add("X-Api-Key", c.Token)
	}
	req.Header.Set("Accept-Encoding", "application/json")
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case 200:
		return jason.NewObjectFromReader(resp.Body)
	case 401, 403:
		return nil, ErrNotAuthorized
	default:
		return nil, fmt.Errorf("received status %d from search index", resp.StatusCode)
	}
}

// defaultClient carries a timeout so we don't hang indefinitely should
// the index never close the connection. The timeout is arbitrary.
var defaultClient = &http.Client{Timeout: 1 * time.Minute}

// do performs an http request using the configured client, or the shared
// default. Connections are used from many goroutines at once, so nothing
// here may write to c.
func (c *Connection) do(req *http.Request) (*http.Response, error) {
	client := c.Client
	if client == nil {
		client = defaultClient
	}
	return client.Do(req)
}
