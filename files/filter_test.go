package files

import (
	"errors"
	"testing"
)

// fakeChannel implements Channel with a fixed permission table.
type fakeChannel struct {
	dm    bool
	perms map[string]PermissionSet
}

func (c fakeChannel) IsDM() bool { return c.dm }
func (c fakeChannel) Permissions(user string) PermissionSet {
	return c.perms[user]
}

// fakeResolver maps channel ids to channels. Missing ids resolve to nil,
// ids in failing return an error.
type fakeResolver struct {
	channels map[string]Channel
	failing  map[string]bool
}

func (r fakeResolver) Channel(id string) (Channel, error) {
	if r.failing[id] {
		return nil, errors.New("gateway timeout")
	}
	ch, ok := r.channels[id]
	if !ok {
		return nil, nil
	}
	return ch, nil
}

func rec(id, channel string) FileRecord {
	return FileRecord{ObjectID: id, ChannelID: channel, Filename: id + ".png"}
}

func TestFilterPermissions(t *testing.T) {
	resolver := fakeResolver{
		channels: map[string]Channel{
			"100": fakeChannel{perms: map[string]PermissionSet{
				"alice": PermViewChannel | PermReadHistory,
				"bob":   PermViewChannel,
			}},
			"200": fakeChannel{perms: map[string]PermissionSet{}},
			"300": fakeChannel{dm: true},
		},
		failing: map[string]bool{"666": true},
	}
	candidates := []FileRecord{
		rec("1", "100"),
		rec("2", "200"),
		rec("3", "300"),
		rec("4", "404"), // not resolvable
		rec("5", "100"),
		rec("6", "666"), // resolver error
	}
	var table = []struct {
		user     string
		expected []string
	}{
		{"alice", []string{"1", "3", "5"}},
		{"bob", []string{"3"}},
		{"carol", []string{"3"}},
	}
	for _, tab := range table {
		identity := Identity{UserID: tab.user, Required: PermReadHistory}
		result, err := Filter(candidates, identity, resolver)
		if err != nil {
			t.Fatalf("%s: unexpected error %s", tab.user, err)
		}
		if len(result) != len(tab.expected) {
			t.Errorf("%s: got %d records, expected %d", tab.user, len(result), len(tab.expected))
			continue
		}
		for i := range result {
			if result[i].ObjectID != tab.expected[i] {
				t.Errorf("%s: position %d got %s, expected %s",
					tab.user, i, result[i].ObjectID, tab.expected[i])
			}
		}
	}
}

func TestFilterOrderPreserved(t *testing.T) {
	resolver := fakeResolver{channels: map[string]Channel{
		"1": fakeChannel{dm: true},
	}}
	var candidates []FileRecord
	for _, id := range []string{"z", "a", "m", "b"} {
		candidates = append(candidates, rec(id, "1"))
	}
	result, err := Filter(candidates, Identity{UserID: "u", Required: PermReadHistory}, resolver)
	if err != nil {
		t.Fatal(err)
	}
	for i := range candidates {
		if result[i].ObjectID != candidates[i].ObjectID {
			t.Errorf("position %d got %s, expected %s", i, result[i].ObjectID, candidates[i].ObjectID)
		}
	}
}

func TestFilterBadInput(t *testing.T) {
	_, err := Filter(nil, Identity{UserID: "u"}, nil)
	if err != ErrNoResolver {
		t.Errorf("got %v, expected ErrNoResolver", err)
	}
	_, err = Filter(nil, Identity{}, fakeResolver{})
	if err != ErrNoIdentity {
		t.Errorf("got %v, expected ErrNoIdentity", err)
	}
}

func TestFilterEmptyResult(t *testing.T) {
	resolver := fakeResolver{}
	result, err := Filter([]FileRecord{rec("1", "gone")}, Identity{UserID: "u", Required: PermReadHistory}, resolver)
	if err != nil {
		t.Fatal(err)
	}
	if len(result) != 0 {
		t.Errorf("got %d records, expected none", len(result))
	}
}
