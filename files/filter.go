package files

import (
	"errors"
)

// Exported errors. These are the only hard failures Filter produces;
// anything going wrong on a single candidate just excludes that candidate.
var (
	ErrNoResolver = errors.New("no channel resolver given")
	ErrNoIdentity = errors.New("no user identity given")
)

// Filter returns the subsequence of candidates the identity is allowed to
// view, in the original order. A candidate is kept when its channel is a
// direct message channel, or when the identity's permissions in the channel
// are a superset of identity.Required. A channel that cannot be resolved
// excludes its candidates: a vanished channel is indistinguishable from one
// the user has no access to, so we fail closed.
func Filter(candidates []FileRecord, identity Identity, resolver ChannelResolver) ([]FileRecord, error) {
	if resolver == nil {
		return nil, ErrNoResolver
	}
	if identity.UserID == "" {
		return nil, ErrNoIdentity
	}
	var viewable []FileRecord
	for _, f := range candidates {
		ch, err := resolver.Channel(f.ChannelID)
		if err != nil || ch == nil {
			continue
		}
		if ch.IsDM() {
			viewable = append(viewable, f)
			continue
		}
		// Question: a user invited to a channel today can read its whole
		// history, including files posted before they joined. The check
		// here is per channel, not per message date. Unresolved.
		if ch.Permissions(identity.UserID).Superset(identity.Required) {
			viewable = append(viewable, f)
		}
	}
	return viewable, nil
}
