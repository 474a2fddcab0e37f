package retriever

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/haystackers/haystack/assetcache"
	"github.com/haystackers/haystack/files"
	"github.com/haystackers/haystack/metadata"
	"github.com/haystackers/haystack/store"
)

// stubStore is a metadata store with a fixed table and an optional
// transient failure.
type stubStore struct {
	infos   map[string]*metadata.FileInfo
	failing map[string]error
}

func (s *stubStore) GetFile(id string) (*metadata.FileInfo, error) {
	if err := s.failing[id]; err != nil {
		return nil, err
	}
	info, ok := s.infos[id]
	if !ok {
		return nil, metadata.ErrNotFound
	}
	return info, nil
}
func (s *stubStore) SetFile(*metadata.FileInfo) error   { return nil }
func (s *stubStore) DeleteFile(string) error            { return nil }
func (s *stubStore) SetGuild(*metadata.GuildInfo) error { return nil }

// cdn serves fixed content per path, 404 otherwise.
func cdn(content map[string]string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := content[r.URL.Path]
		if !ok {
			w.WriteHeader(404)
			return
		}
		w.Write([]byte(body))
	}))
}

func collect(t *testing.T, rt *Retriever, recs []files.FileRecord) []Result {
	var out []Result
	for res := range rt.Fetch(context.Background(), recs) {
		out = append(out, res)
	}
	return out
}

func TestFetchOrderPreserved(t *testing.T) {
	srv := cdn(map[string]string{"/a": "aaa", "/b": "bbbb", "/c": "c"})
	defer srv.Close()
	recs := []files.FileRecord{
		{ObjectID: "1", URL: srv.URL + "/a", Filename: "a.png"},
		{ObjectID: "2", URL: srv.URL + "/b", Filename: "b.png"},
		{ObjectID: "3", URL: srv.URL + "/c", Filename: "c.png"},
	}
	results := collect(t, &Retriever{}, recs)
	if len(results) != 3 {
		t.Fatalf("got %d results, expected 3", len(results))
	}
	for i, expected := range []string{"aaa", "bbbb", "c"} {
		if results[i].Skipped {
			t.Fatalf("result %d skipped: %s", i, results[i].Err)
		}
		if got := results[i].Body.String(); got != expected {
			t.Errorf("result %d body %q, expected %q", i, got, expected)
		}
		if results[i].Filename != recs[i].Filename {
			t.Errorf("result %d filename %q", i, results[i].Filename)
		}
	}
}

func TestFetchFaultIsolation(t *testing.T) {
	srv := cdn(map[string]string{"/a": "aaa", "/c": "ccc"})
	defer srv.Close()
	recs := []files.FileRecord{
		{ObjectID: "1", URL: srv.URL + "/a"},
		{ObjectID: "2", URL: srv.URL + "/missing"}, // 404s
		{ObjectID: "3", URL: srv.URL + "/c"},
	}
	results := collect(t, &Retriever{}, recs)
	if len(results) != 3 {
		t.Fatalf("got %d results, expected 3", len(results))
	}
	if results[0].Skipped || results[2].Skipped {
		t.Error("neighbors of a failed item must still be retrieved")
	}
	if !results[1].Skipped {
		t.Error("404 item should be skipped")
	}
	if results[1].Body != nil {
		t.Error("a skipped item must not carry a buffer")
	}
	var ok int
	for _, r := range results {
		if !r.Skipped {
			ok++
		}
	}
	if ok != 2 {
		t.Errorf("got %d successes, expected 2", ok)
	}
}

func TestFetchFallback(t *testing.T) {
	srv := cdn(map[string]string{"/refreshed": "fresh bytes"})
	defer srv.Close()
	md := &stubStore{
		infos: map[string]*metadata.FileInfo{
			"55": {ID: "55", URL: srv.URL + "/refreshed", Filename: "fresh.png"},
		},
		failing: map[string]error{"66": errors.New("connection reset")},
	}
	recs := []files.FileRecord{
		{ObjectID: "55"},      // url expired, metadata has it
		{ObjectID: "unknown"}, // not in metadata either
		{ObjectID: "66"},      // metadata store errors
	}
	results := collect(t, &Retriever{Metadata: md}, recs)
	if len(results) != 3 {
		t.Fatalf("got %d results, expected 3", len(results))
	}
	if results[0].Skipped {
		t.Fatalf("fallback item skipped: %s", results[0].Err)
	}
	if results[0].Body.String() != "fresh bytes" {
		t.Errorf("got body %q", results[0].Body.String())
	}
	if results[0].Filename != "fresh.png" {
		t.Errorf("filename %q, expected the one from metadata", results[0].Filename)
	}
	if !results[1].Skipped || results[1].Err != metadata.ErrNotFound {
		t.Errorf("missing metadata: skipped=%v err=%v", results[1].Skipped, results[1].Err)
	}
	if !results[2].Skipped {
		t.Error("transient store error should skip the item, not fail the batch")
	}
}

func TestFetchNoMetadataStore(t *testing.T) {
	results := collect(t, &Retriever{}, []files.FileRecord{{ObjectID: "1"}})
	if !results[0].Skipped {
		t.Error("a record without a url needs the metadata store")
	}
}

func TestFetchUsesCache(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("cached content"))
	}))
	defer srv.Close()
	cache := assetcache.NewLRU(store.NewMemory(), 1000)
	rt := &Retriever{Cache: cache}
	rec := files.FileRecord{ObjectID: "9", URL: srv.URL + "/x", Filename: "x.gif"}

	first := rt.FetchOne(context.Background(), rec)
	if first.Skipped {
		t.Fatal(first.Err)
	}
	second := rt.FetchOne(context.Background(), rec)
	if second.Skipped {
		t.Fatal(second.Err)
	}
	if second.Body.String() != "cached content" {
		t.Errorf("got %q from cache", second.Body.String())
	}
	if hits != 1 {
		t.Errorf("CDN hit %d times, expected 1", hits)
	}
}

func TestFetchCancellation(t *testing.T) {
	srv := cdn(map[string]string{"/a": "aaa"})
	defer srv.Close()
	var recs []files.FileRecord
	for i := 0; i < 100; i++ {
		recs = append(recs, files.FileRecord{ObjectID: "1", URL: srv.URL + "/a"})
	}
	ctx, cancel := context.WithCancel(context.Background())
	ch := (&Retriever{}).Fetch(ctx, recs)
	// take one result, then walk away
	<-ch
	cancel()
	var extra int
	for range ch {
		extra++
	}
	if extra > 1 {
		t.Errorf("%d results yielded after cancellation", extra)
	}
}
