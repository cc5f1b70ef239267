// Package registry holds the process-wide tables of in-flight calls: the
// live speech-backend sessions, the pending-call mapping consulted while a
// media connection negotiates, and the agent-leg mapping that folds a
// second telephony leg back onto its originating call.
package registry

import (
	"sync"
	"time"
)

// Session is the handle to one live speech-backend connection. The registry
// only needs enough of the session surface for the administrative
// side-channel: injecting a conversational turn and closing the connection.
type Session interface {
	CreateUserItem(text string) error
	CreateResponse() error
	Close() error
}

// PendingCall is the record created when a call is dialed or first
// signaled, consulted while the media connection opens.
type PendingCall struct {
	CallID            string
	From              string
	To                string
	CreatedAt         time.Time
	Outgoing          bool
	TransportCallSID  string // provider call-leg id, attached once known
	InitialObjectives []string
}

// CallIDAsHandle reports whether this entry was keyed by the call
// identifier itself (outgoing calls dialed with inline stream TwiML) and
// the provider leg id has since been attached.
func (p PendingCall) CallIDAsHandle() bool {
	return p.Outgoing && p.TransportCallSID != ""
}

// Registry is the process-wide table of in-flight calls. Safe for
// concurrent use by any number of bridges plus the admin side-channel.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Session
	pending  map[string]PendingCall
	agents   map[string]string // agent-leg id -> original transport id
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		sessions: make(map[string]Session),
		pending:  make(map[string]PendingCall),
		agents:   make(map[string]string),
	}
}

// Register stores a live session under the given key, replacing any
// previous entry for that key.
func (r *Registry) Register(key string, s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[key] = s
}

// Rekey moves the session registered under oldKey to newKey. No-op when
// the keys are equal or oldKey is absent; the handle is moved, never
// duplicated.
func (r *Registry) Rekey(oldKey, newKey string) {
	if oldKey == newKey {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[oldKey]
	if !ok {
		return
	}
	delete(r.sessions, oldKey)
	r.sessions[newKey] = s
}

// Lookup returns the session registered under key, if any.
func (r *Registry) Lookup(key string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[key]
	return s, ok
}

// Deregister removes the session registered under key. Idempotent.
func (r *Registry) Deregister(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, key)
}

// ActiveSessions returns the number of registered sessions.
func (r *Registry) ActiveSessions() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// PutPending stores a pending-call entry under key.
func (r *Registry) PutPending(key string, p PendingCall) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[key] = p
}

// Pending returns the pending-call entry for key, if any.
func (r *Registry) Pending(key string) (PendingCall, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pending[key]
	return p, ok
}

// AttachTransportSID records the provider call-leg id on an existing
// pending entry. No-op if the entry is absent.
func (r *Registry) AttachTransportSID(key, transportSID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[key]
	if !ok {
		return
	}
	p.TransportCallSID = transportSID
	r.pending[key] = p
}

// DeletePending removes the pending entry for key. Idempotent.
func (r *Registry) DeletePending(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, key)
}

// MatchPendingByCaller returns the key and entry of the most recent
// non-outgoing pending call from the given number. This
// number-plus-recency heuristic can misattribute under concurrent calls
// from the same number; kept for compatibility with the signaling flow.
func (r *Registry) MatchPendingByCaller(from string) (string, PendingCall, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var bestKey string
	var best PendingCall
	found := false
	for key, p := range r.pending {
		if p.Outgoing || p.From != from {
			continue
		}
		if !found || p.CreatedAt.After(best.CreatedAt) {
			bestKey, best, found = key, p, true
		}
	}
	return bestKey, best, found
}

// PutAgentLeg maps an agent-leg id to the original transport id.
func (r *Registry) PutAgentLeg(agentSID, originalSID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[agentSID] = originalSID
}

// AgentLeg returns the original transport id for an agent-leg id, if any.
func (r *Registry) AgentLeg(agentSID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	orig, ok := r.agents[agentSID]
	return orig, ok
}

// DeleteAgentLeg removes an agent-leg mapping. Idempotent.
func (r *Registry) DeleteAgentLeg(agentSID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, agentSID)
}

// AgentLegsFor returns all agent-leg ids mapped to the given original
// transport id. Linear scan; the table is small (one entry per live
// inbound call).
func (r *Registry) AgentLegsFor(originalSID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for agentSID, orig := range r.agents {
		if orig == originalSID {
			out = append(out, agentSID)
		}
	}
	return out
}
