// Package retriever materializes the bytes of indexed attachments. Each
// record is fetched from its cached URL when one is present; otherwise the
// metadata store is asked for a fresh URL by object id. Retrieval is a
// strictly sequential pipeline: one record's fetch finishes (or fails)
// before the next begins, and a failure on one record never stops the
// others.
package retriever

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	raven "github.com/getsentry/raven-go"
	"github.com/pkg/errors"

	"github.com/haystackers/haystack/assetcache"
	"github.com/haystackers/haystack/files"
	"github.com/haystackers/haystack/metadata"
	"github.com/haystackers/haystack/store"
)

// chunkSize is how much of a response body is read at a time.
const chunkSize = 1024

// DefaultTimeout bounds each network operation when none is configured.
const DefaultTimeout = 30 * time.Second

// A Result is the outcome for one input record. Either Body holds the
// retrieved bytes, or Skipped is true and Err says why. Results arrive in
// input order.
type Result struct {
	Record   files.FileRecord
	Filename string
	Body     *bytes.Buffer // nil when Skipped
	Skipped  bool
	Err      error // reason for the skip, when there is one
}

// Retriever fetches attachment bytes. The zero value works: no fallback
// store, no cache, default HTTP client and timeout.
type Retriever struct {
	// Metadata is the fallback lookup for records with no cached URL.
	// May be nil, in which case such records are skipped.
	Metadata metadata.Store

	// Cache, when set, is consulted before any HTTP fetch and filled
	// after a successful one.
	Cache assetcache.Cache

	// Client is the HTTP client for fetches. Defaults to http.DefaultClient.
	Client *http.Client

	// Timeout bounds each fetch and fallback lookup independently.
	Timeout time.Duration
}

// Fetch retrieves every record, one at a time and in order, sending one
// Result per record on the returned channel. The channel is closed when
// all records are processed or ctx is cancelled. Per-item failures are
// logged and reported in the Result, never as a channel-ending error.
func (rt *Retriever) Fetch(ctx context.Context, records []files.FileRecord) <-chan Result {
	out := make(chan Result)
	go func() {
		defer close(out)
		for _, rec := range records {
			select {
			case out <- rt.fetchOne(ctx, rec):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// FetchOne retrieves a single record synchronously.
func (rt *Retriever) FetchOne(ctx context.Context, rec files.FileRecord) Result {
	return rt.fetchOne(ctx, rec)
}

func (rt *Retriever) fetchOne(ctx context.Context, rec files.FileRecord) Result {
	result := Result{Record: rec, Filename: rec.Filename}

	if body, ok := rt.fromCache(rec.ObjectID); ok {
		result.Body = body
		return result
	}

	url := rec.URL
	if url == "" {
		info, err := rt.fallback(rec.ObjectID)
		if err != nil {
			return skip(result, err)
		}
		url = info.URL
		result.Filename = info.Filename
	}

	body, err := rt.download(ctx, url)
	if err != nil {
		return skip(result, err)
	}
	rt.fillCache(rec.ObjectID, body.Bytes())
	result.Body = body
	return result
}

// fallback asks the metadata store for a fresh URL. Both a missing row and
// a transient store error skip the record; they are distinguished only in
// what gets logged.
func (rt *Retriever) fallback(objectID string) (*metadata.FileInfo, error) {
	if rt.Metadata == nil {
		return nil, errors.New("no cached url and no metadata store")
	}
	info, err := rt.Metadata.GetFile(objectID)
	if err == metadata.ErrNotFound {
		log.Printf("retriever: no metadata for %s", objectID)
		return nil, err
	}
	if err != nil {
		log.Printf("retriever: metadata lookup %s: %s", objectID, err)
		raven.CaptureError(err, map[string]string{"objectID": objectID})
		return nil, err
	}
	return info, nil
}

// download GETs the url and reads the body in chunkSize pieces. A non-2xx
// response produces an error instead of a buffer; yielding a file wrapped
// around an empty body helps nobody.
func (rt *Retriever) download(ctx context.Context, url string) (*bytes.Buffer, error) {
	ctx, cancel := context.WithTimeout(ctx, rt.timeout())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		log.Printf("retriever: %s: %s", url, err)
		return nil, errors.Wrap(err, "build request")
	}
	resp, err := rt.client().Do(req)
	if err != nil {
		log.Printf("retriever: GET %s: %s", url, err)
		return nil, errors.Wrap(err, "fetch")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Printf("retriever: GET %s: %s", url, resp.Status)
		return nil, fmt.Errorf("fetch: %s", resp.Status)
	}
	buf := new(bytes.Buffer)
	chunk := make([]byte, chunkSize)
	for {
		n, err := resp.Body.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Printf("retriever: read %s: %s", url, err)
			raven.CaptureError(err, map[string]string{"url": url})
			return nil, errors.Wrap(err, "read body")
		}
	}
	return buf, nil
}

func (rt *Retriever) fromCache(objectID string) (*bytes.Buffer, bool) {
	if rt.Cache == nil {
		return nil, false
	}
	r, _, err := rt.Cache.Get(objectID)
	if err != nil || r == nil {
		return nil, false
	}
	defer r.Close()
	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, store.NewReader(r)); err != nil {
		return nil, false
	}
	return buf, true
}

// fillCache saves the bytes best-effort; a full cache is not a failure.
func (rt *Retriever) fillCache(objectID string, data []byte) {
	if rt.Cache == nil {
		return
	}
	w, err := rt.Cache.Put(objectID)
	if err != nil {
		return
	}
	w.Write(data)
	w.Close()
}

func (rt *Retriever) client() *http.Client {
	if rt.Client != nil {
		return rt.Client
	}
	return http.DefaultClient
}

func (rt *Retriever) timeout() time.Duration {
	if rt.Timeout > 0 {
		return rt.Timeout
	}
	return DefaultTimeout
}

func skip(r Result, err error) Result {
	r.Skipped = true
	r.Err = err
	return r
}
