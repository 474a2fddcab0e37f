package server

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	raven "github.com/getsentry/raven-go"
	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"

	"github.com/haystackers/haystack/audit"
	"github.com/haystackers/haystack/files"
	"github.com/haystackers/haystack/metadata"
	"github.com/haystackers/haystack/searchidx"
)

// SearchHandler handles GET /search. The query parameters select records
// (filename, filetype, custom_filetype, author, channel, content, before,
// after) and "user" names the chat user the search is done for. Results
// the user cannot view are silently dropped.
func (s *RESTServer) SearchHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	values := r.URL.Query()
	query, err := parseQuery(values)
	if err != nil {
		w.WriteHeader(400)
		fmt.Fprintln(w, err.Error())
		return
	}
	hits, err := s.Index.Search(r.Context(), query)
	if err != nil {
		log.Println("search:", err)
		raven.CaptureError(err, nil)
		w.WriteHeader(502)
		fmt.Fprintln(w, "search index unavailable")
		return
	}
	viewable, err := files.Filter(hits, s.identity(values), s.Resolver)
	if err != nil {
		w.WriteHeader(400)
		fmt.Fprintln(w, err.Error())
		return
	}
	s.logCommand(audit.CmdSearch, values, ps)
	if viewable == nil {
		viewable = []files.FileRecord{}
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(viewable)
}

// FileHandler handles GET /file/:id. The record is looked up in the
// metadata store, permission checked for the "user" query parameter, and
// its bytes returned.
func (s *RESTServer) FileHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	values := r.URL.Query()
	info, err := s.Metadata.GetFile(id)
	if err == metadata.ErrNotFound {
		w.WriteHeader(404)
		fmt.Fprintln(w, "Not Found")
		return
	}
	if err != nil {
		log.Println("file lookup:", err)
		raven.CaptureError(err, map[string]string{"id": id})
		w.WriteHeader(500)
		fmt.Fprintln(w, err.Error())
		return
	}
	rec := files.FileRecord{
		ObjectID:    info.ID,
		ChannelID:   info.ChannelID,
		MessageID:   info.MessageID,
		AuthorID:    info.AuthorID,
		URL:         info.URL,
		Filename:    info.Filename,
		ContentType: info.Mimetype,
	}
	viewable, err := files.Filter([]files.FileRecord{rec}, s.identity(values), s.Resolver)
	if err != nil {
		w.WriteHeader(400)
		fmt.Fprintln(w, err.Error())
		return
	}
	if len(viewable) == 0 {
		// a file the user may not see looks like no file at all
		w.WriteHeader(404)
		fmt.Fprintln(w, "Not Found")
		return
	}
	if r.Method == "HEAD" {
		// existence and permission are all a HEAD needs; don't pull bytes
		if rec.ContentType != "" {
			w.Header().Set("Content-Type", rec.ContentType)
		}
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", rec.Filename))
		return
	}
	result := s.retriever.FetchOne(r.Context(), rec)
	if result.Skipped {
		w.WriteHeader(502)
		fmt.Fprintln(w, result.Err.Error())
		return
	}
	s.logCommand(audit.CmdOther, values, ps, "fetch", "id", id)
	if rec.ContentType != "" {
		w.Header().Set("Content-Type", rec.ContentType)
	}
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.Write(result.Body.Bytes())
}

// RemoveFileHandler handles DELETE /file/:id by dropping the metadata row.
// The search index is external; removing the row just makes the file
// unretrievable here.
func (s *RESTServer) RemoveFileHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	err := s.Metadata.DeleteFile(id)
	if err != nil {
		log.Println("delete:", err)
		raven.CaptureError(err, map[string]string{"id": id})
		w.WriteHeader(500)
		fmt.Fprintln(w, err.Error())
		return
	}
	s.logCommand(audit.CmdDelete, r.URL.Query(), ps, "", "id", id)
	fmt.Fprintln(w, "Deleted")
}

// ExportHandler handles POST /export. It runs the same search as
// SearchHandler, then retrieves every viewable result and streams them
// back as a zip archive. Files that fail to retrieve are left out of the
// archive; the export never fails over one of them.
func (s *RESTServer) ExportHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	values := r.URL.Query()
	query, err := parseQuery(values)
	if err != nil {
		w.WriteHeader(400)
		fmt.Fprintln(w, err.Error())
		return
	}
	hits, err := s.Index.Search(r.Context(), query)
	if err != nil {
		log.Println("export search:", err)
		raven.CaptureError(err, nil)
		w.WriteHeader(502)
		fmt.Fprintln(w, "search index unavailable")
		return
	}
	viewable, err := files.Filter(hits, s.identity(values), s.Resolver)
	if err != nil {
		w.WriteHeader(400)
		fmt.Fprintln(w, err.Error())
		return
	}

	s.exportGate.Enter()
	defer s.exportGate.Leave()

	s.logCommand(audit.CmdExport, values, ps)
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="export.zip"`)
	z := zip.NewWriter(w)
	for result := range s.retriever.Fetch(r.Context(), viewable) {
		if result.Skipped {
			continue
		}
		// object id prefix keeps duplicate filenames apart
		f, err := z.Create(result.Record.ObjectID + "_" + result.Filename)
		if err != nil {
			break
		}
		if _, err := f.Write(result.Body.Bytes()); err != nil {
			break
		}
	}
	z.Close()
}

// AuditHandler handles GET /audit, returning every audit record as JSON.
func (s *RESTServer) AuditHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	records, err := audit.ReadLog(s.Audit.Path())
	if os.IsNotExist(errors.Cause(err)) {
		records = nil // nothing logged yet
	} else if err != nil {
		log.Println("audit read:", err)
		w.WriteHeader(500)
		fmt.Fprintln(w, err.Error())
		return
	}
	if records == nil {
		records = []audit.Record{}
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(records)
}

// identity builds the requesting identity from the query parameters.
func (s *RESTServer) identity(values url.Values) files.Identity {
	return files.Identity{
		UserID:   values.Get("user"),
		Required: s.Required,
	}
}

// parseQuery maps the request parameters onto a search query.
func parseQuery(values url.Values) (searchidx.Query, error) {
	q := searchidx.Query{
		Filename:       values.Get("filename"),
		Filetype:       values.Get("filetype"),
		CustomFiletype: values.Get("custom_filetype"),
		Author:         values.Get("author"),
		Channel:        values.Get("channel"),
		Content:        values.Get("content"),
	}
	var err error
	if v := values.Get("before"); v != "" {
		q.Before, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return q, fmt.Errorf("bad before date %q", v)
		}
	}
	if v := values.Get("after"); v != "" {
		q.After, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return q, fmt.Errorf("bad after date %q", v)
		}
	}
	return q, nil
}

// auditParams is the set of request parameters recorded in the audit log.
var auditParams = []string{
	"user", "filename", "filetype", "custom_filetype",
	"author", "channel", "content", "before", "after",
}

// logCommand reports the command to the audit log. Audit failure never
// fails the user's request; it is logged and captured instead. extra, if
// present, is a raw command name (when cmd is CmdOther) followed by
// key/value pairs to add to the recorded query.
func (s *RESTServer) logCommand(cmd audit.Command, values url.Values, ps httprouter.Params, extra ...string) {
	inv := audit.Invocation{
		Caller:    ps.ByName("username"),
		ChannelID: atoi64(values.Get("channel")),
		GuildID:   atoi64(values.Get("guild")),
	}
	query := make(map[string]interface{})
	for _, k := range auditParams {
		if v := values.Get(k); v != "" {
			query[k] = v
		}
	}
	var name string
	if len(extra) > 0 {
		name = extra[0]
		for i := 1; i+1 < len(extra); i += 2 {
			query[extra[i]] = extra[i+1]
		}
	}
	var err error
	if cmd == audit.CmdOther && name != "" {
		err = s.Audit.LogRaw(name, inv, query)
	} else {
		err = s.Audit.Log(cmd, inv, query)
	}
	if err != nil {
		log.Println("audit:", err)
		raven.CaptureError(err, nil)
	}
}

func atoi64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
