// Package server is the REST surface over the attachment pipeline: search
// the index, filter by channel permissions, retrieve file bytes, export
// batches, and read the audit log.
package server

import (
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof" // for pprof server
	"os"
	"path/filepath"

	"github.com/facebookgo/httpdown"
	"github.com/julienschmidt/httprouter"

	"github.com/haystackers/haystack/assetcache"
	"github.com/haystackers/haystack/audit"
	"github.com/haystackers/haystack/files"
	"github.com/haystackers/haystack/metadata"
	"github.com/haystackers/haystack/retriever"
	"github.com/haystackers/haystack/searchidx"
	"github.com/haystackers/haystack/store"
	"github.com/haystackers/haystack/util"
)

// Version is reported by the welcome route.
const Version = "1.0.0"

// RESTServer holds the configuration for a haystack REST API server.
//
// Set all the public fields and then call Run. Run will listen on the
// given port and handle requests. Do not change any fields after calling
// Run.
//
// It should be enough to set Index and Resolver. The other fields are
// exposed to allow more customization.
type RESTServer struct {
	// Port number to listen on. Defaults to 14000.
	PortNumber string
	PProfPort  string

	// Index is the search backend. Run will panic if Index is nil.
	Index searchidx.Index

	// Resolver looks up channels for the permission filter. Run will
	// panic if Resolver is nil.
	Resolver files.ChannelResolver

	// Required is the permission a user must hold in a channel for its
	// files to be viewable. Defaults to read-history.
	Required files.PermissionSet

	// CacheDir is the path to put the asset cache in the filesystem.
	// If CacheDir is empty then no caching is done, and the internal
	// database (when used) is kept entirely in memory.
	CacheDir  string
	CacheSize int64 // in bytes

	// Pass in a dial command to use a MySQL server as the metadata
	// database. Otherwise a lightweight internal database is used, and
	// placed inside the CacheDir directory.
	// e.g. "user:password@tcp(localhost:5555)/dbname" or just "/dbname"
	// if everything else can be the default.
	MySQL string

	// --- The following fields are more advanced and only need to be
	// set in special situations. ---

	// Validator does authentication by validating any user tokens
	// presented to the API. If this is nil then no authentication will
	// be done.
	Validator TokenValidator

	// Metadata overrides the database chosen by MySQL/CacheDir.
	Metadata metadata.Store

	// Cache keeps the bytes of recently retrieved attachments.
	Cache assetcache.Cache

	// Audit is the command log. If nil one is opened under LogsDir.
	Audit   *audit.Logger
	LogsDir string
	DBName  string

	// MaxConcurrentExports bounds how many export requests may run at
	// once. Defaults to 2.
	MaxConcurrentExports int

	retriever  *retriever.Retriever
	exportGate util.Gate
	server     httpdown.Server // used to close our listening socket
}

// Run initializes the server's collaborators and then blocks listening
// for and handling http requests.
func (s *RESTServer) Run() error {
	log.Println("==========")
	log.Printf("Starting Haystack Server version %s", Version)
	log.Printf("CacheDir = %s", s.CacheDir)
	log.Printf("CacheSize = %d", s.CacheSize)

	if s.Index == nil {
		panic("No search index given. Index is nil.")
	}
	if s.Resolver == nil {
		panic("No channel resolver given. Resolver is nil.")
	}

	if s.Validator == nil {
		log.Println("No Validator given")
		s.Validator = NobodyValidator{}
	}
	if s.Required == 0 {
		s.Required = files.PermReadHistory
	}

	// init database
	if s.Metadata == nil {
		var err error
		if s.MySQL != "" {
			log.Printf("Using MySQL")
			s.Metadata, err = metadata.NewMySQL(s.MySQL)
		} else {
			var path string
			if s.CacheDir != "" {
				path = filepath.Join(s.CacheDir, "haystack.ql")
			} else {
				path = "memory"
			}
			log.Printf("Using internal database at %s", path)
			s.Metadata, err = metadata.NewQl(path)
		}
		if s.Metadata == nil || err != nil {
			panic("problem setting up database")
		}
	}

	// init asset cache
	if s.Cache == nil {
		if s.CacheDir == "" || s.CacheSize == 0 {
			log.Println("Not using asset cache")
			s.Cache = assetcache.None{}
		} else {
			path := filepath.Join(s.CacheDir, "assets")
			os.MkdirAll(path, 0755)
			fs := store.NewFileSystem(path)
			c := assetcache.NewLRU(fs, s.CacheSize)
			go c.Scan()
			s.Cache = c
		}
	}

	s.retriever = &retriever.Retriever{
		Metadata: s.Metadata,
		Cache:    s.Cache,
	}

	// init audit log
	if s.Audit == nil {
		var err error
		s.Audit, err = audit.NewLogger(s.LogsDir, s.DBName)
		if err != nil {
			log.Println("audit log:", err)
			return err
		}
	}
	log.Println("Audit log at", s.Audit.Path())

	if s.MaxConcurrentExports == 0 {
		s.MaxConcurrentExports = 2
	}
	s.exportGate = util.NewGate(s.MaxConcurrentExports)

	if s.PortNumber == "" {
		s.PortNumber = "14000"
	}

	// for pprof
	if s.PProfPort != "" {
		log.Println("Starting PProf on port", s.PProfPort)
		go func() {
			log.Println(http.ListenAndServe(":"+s.PProfPort, nil))
		}()
	}
	log.Println("Listening on", s.PortNumber)

	h := httpdown.HTTP{}
	var err error
	s.server, err = h.ListenAndServe(&http.Server{
		Addr:    ":" + s.PortNumber,
		Handler: s.addRoutes(),
	})
	if err != nil {
		log.Println(err)
		return err
	}
	return s.server.Wait()
}

// Stop will stop the server and return when all the server goroutines
// have exited and the socket closed.
func (s *RESTServer) Stop() error {
	return s.server.Stop()
}

func (s *RESTServer) addRoutes() http.Handler {
	var routes = []struct {
		method  string
		route   string
		role    Role // RoleUnknown means no API key is needed to access
		handler httprouter.Handle
	}{
		{"GET", "/search", RoleRead, s.SearchHandler},
		{"GET", "/file/:id", RoleRead, s.FileHandler},
		{"HEAD", "/file/:id", RoleRead, s.FileHandler},
		{"DELETE", "/file/:id", RoleWrite, s.RemoveFileHandler},
		{"POST", "/export", RoleWrite, s.ExportHandler},
		{"GET", "/audit", RoleAdmin, s.AuditHandler},

		// other
		{"GET", "/", RoleUnknown, WelcomeHandler},
		{"GET", "/debug/vars", RoleUnknown, VarHandler}, // standard route for expvars data
	}

	r := httprouter.New()
	for _, route := range routes {
		r.Handle(route.method,
			route.route,
			logWrapper(s.authzWrapper(route.handler, route.role)))
	}
	return r
}

// General route handlers and convenience functions

// WelcomeHandler identifies the server.
func WelcomeHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	fmt.Fprintf(w, "Haystack (%s)\n", Version)
}

// VarHandler adapts the expvar default handler to the httprouter three parameter handler.
func VarHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	// this code is taken from the stdlib expvar package.
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	fmt.Fprintf(w, "{\n")
	first := true
	expvar.Do(func(kv expvar.KeyValue) {
		if !first {
			fmt.Fprintf(w, ",\n")
		}
		first = false
		fmt.Fprintf(w, "%q: %s", kv.Key, kv.Value)
	})
	fmt.Fprintf(w, "\n}\n")
}

// authzWrapper returns a Handler which will first verify the user token as
// having at least the given Role. The user name is added as a parameter
// "username".
func (s *RESTServer) authzWrapper(handler httprouter.Handle, leastRole Role) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		token := r.Header.Get("X-Api-Key")
		user, role, err := s.Validator.TokenValid(token)
		if err != nil {
			w.WriteHeader(500)
			fmt.Fprintln(w, err.Error())
			return
		}

		// is role valid?
		if role < leastRole {
			w.WriteHeader(401)
			fmt.Fprintln(w, "Forbidden")
			return
		}

		// remove any previous username
		for i := range ps {
			if ps[i].Key == "username" {
				ps[i].Value = user
				goto out
			}
		}
		// add a new username if none found
		ps = append(ps, httprouter.Param{Key: "username", Value: user})
	out:
		handler(w, r, ps)
	}
}

// logWrapper takes a handler and returns a handler which does the same thing,
// after first logging the request URL.
func logWrapper(handler httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		log.Println(r.Method, r.URL)
		handler(w, r, ps)
	}
}
