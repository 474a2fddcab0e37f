package main

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/haystackers/haystack/files"
)

func TestGatewayResolver(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/channel/10":
			fmt.Fprint(w, `{"is_dm": false, "permissions": {"alice": 3, "bob": 0}}`)
		case "/channel/20":
			fmt.Fprint(w, `{"is_dm": true}`)
		default:
			w.WriteHeader(404)
		}
	}))
	defer srv.Close()

	g := newGatewayResolver(srv.URL)

	ch, err := g.Channel("10")
	if err != nil {
		t.Fatal(err)
	}
	if ch.IsDM() {
		t.Error("channel 10 is not a dm")
	}
	if got := ch.Permissions("alice"); got != files.PermissionSet(3) {
		t.Errorf("alice permissions %d", got)
	}
	if got := ch.Permissions("carol"); got != 0 {
		t.Errorf("unknown member permissions %d", got)
	}

	ch, err = g.Channel("20")
	if err != nil {
		t.Fatal(err)
	}
	if !ch.IsDM() {
		t.Error("channel 20 is a dm")
	}

	// a vanished channel resolves to nil without an error
	ch, err = g.Channel("999")
	if err != nil {
		t.Fatal(err)
	}
	if ch != nil {
		t.Error("vanished channel should be nil")
	}
}
