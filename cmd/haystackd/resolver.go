package main

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/antonholmquist/jason"

	"github.com/haystackers/haystack/files"
)

// A gatewayResolver asks the chat gateway service about channels. The
// gateway returns, for each channel, whether it is a direct message
// channel and the effective permission mask per member. Member ids absent
// from the mask have no permissions, which the filter treats as no access.
type gatewayResolver struct {
	hostURL string
	client  *http.Client
}

var errChannelGone = errors.New("channel not found")

func newGatewayResolver(hostURL string) files.ChannelResolver {
	return &gatewayResolver{
		hostURL: hostURL,
		client: &http.Client{
			Timeout: 30 * time.Second, // arbitrary
		},
	}
}

func (g *gatewayResolver) Channel(id string) (files.Channel, error) {
	v, err := g.doJasonGet("/channel/" + id)
	if err == errChannelGone {
		// a vanished channel is a nil channel, not an error
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ch := &gatewayChannel{perms: make(map[string]files.PermissionSet)}
	ch.isDM, _ = v.GetBoolean("is_dm")
	mask, err := v.GetObject("permissions")
	if err == nil {
		for user, value := range mask.Map() {
			n, err := value.Int64()
			if err != nil {
				continue
			}
			ch.perms[user] = files.PermissionSet(n)
		}
	}
	return ch, nil
}

type gatewayChannel struct {
	isDM  bool
	perms map[string]files.PermissionSet
}

func (c *gatewayChannel) IsDM() bool { return c.isDM }

func (c *gatewayChannel) Permissions(userID string) files.PermissionSet {
	return c.perms[userID]
}

func (g *gatewayResolver) doJasonGet(path string) (*jason.Object, error) {
	path = g.hostURL + path

	req, err := http.NewRequest("GET", path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept-Encoding", "application/json")
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case 200:
		return jason.NewObjectFromReader(resp.Body)
	case 404:
		return nil, errChannelGone
	default:
		return nil, fmt.Errorf("received status %d from gateway", resp.StatusCode)
	}
}
