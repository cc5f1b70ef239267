// Package identity resolves the two identifier spaces a bridged call lives
// in: the provider's transport call-leg id (CAxxxx) and the record keeper's
// call identifier (cm-prefixed CUID). Everything downstream keys off the
// call identifier; the resolver maps whatever handle the media connection
// arrived with onto it.
package identity

import (
	"context"
	"strings"

	"ai-call-bridge/internal/registry"
)

// RecordFetcher looks a call identifier up in the external record keeper by
// transport call-leg id. Returns empty string (no error) when the record
// keeper has no row for that leg.
type RecordFetcher interface {
	LookupCallID(ctx context.Context, transportSID string) (string, error)
}

// IsCallID reports whether s looks like a record-keeper call identifier
// rather than a provider call-leg id. CUIDs start with "cm" and run well
// past twenty characters; provider leg ids start with "CA" and never match.
func IsCallID(s string) bool {
	return strings.HasPrefix(s, "cm") && len(s) >= 20
}

// Resolver maps a media connection's routing handle to the record keeper's
// call identifier.
type Resolver struct {
	reg     *registry.Registry
	fetcher RecordFetcher
}

// NewResolver creates a resolver over the shared registry and the record
// keeper client.
func NewResolver(reg *registry.Registry, fetcher RecordFetcher) *Resolver {
	return &Resolver{reg: reg, fetcher: fetcher}
}

// Resolve returns the call identifier for the handle a media connection
// presented, trying in order:
//
//  1. the pending-call table, which is populated before the media
//     connection opens for both dialed and signaled calls — an entry keyed
//     by the call identifier itself resolves to its key once the provider
//     leg is attached, even before the record id lands on the entry;
//  2. the handle itself, when it is already a call identifier (outgoing
//     calls embed it in the stream address);
//  3. the agent-leg table, following at most one hop onto the original
//     leg (agent legs never chain, and a corrupt mapping must not loop);
//  4. the external record keeper, skipped when the handle's shape says the
//     record keeper cannot know it.
//
// Returns empty string when every source misses; the bridge then runs the
// call without record-keeper bookkeeping.
func (r *Resolver) Resolve(ctx context.Context, handle string) (string, error) {
	return r.resolve(ctx, handle, false)
}

func (r *Resolver) resolve(ctx context.Context, handle string, hopped bool) (string, error) {
	if p, ok := r.reg.Pending(handle); ok {
		if p.CallID != "" {
			return p.CallID, nil
		}
		if p.CallIDAsHandle() {
			return handle, nil
		}
	}

	if IsCallID(handle) {
		return handle, nil
	}

	if !hopped {
		if orig, ok := r.reg.AgentLeg(handle); ok && orig != handle {
			return r.resolve(ctx, orig, true)
		}
	}

	// Provider leg ids the record keeper never saw (e.g. synthetic stream
	// handles) would only waste a round trip.
	if !strings.HasPrefix(handle, "CA") {
		return "", nil
	}

	if r.fetcher == nil {
		return "", nil
	}
	return r.fetcher.LookupCallID(ctx, handle)
}
