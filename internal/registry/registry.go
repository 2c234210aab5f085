// Package registry maintains the process-wide username → channel table.
// A Player's identity survives across connections: reconnecting with a known
// username swaps the transport binding without touching any game state.
package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/salvo-net/salvo/internal/link"
)

// ErrNotFound is returned when a username has no live channel bound.
var ErrNotFound = errors.New("no connection bound for username")

// binding is one username's current transport association.
type binding struct {
	channel   *link.Channel
	boundAt   time.Time
	graceStop func() // cancels the reconnection timer, nil when none is running
}

// Registry is the shared connection table. Mutation is serialized; games and
// the orchestrator look channels up by username at broadcast time, so a
// transport swap is transparent to them.
type Registry struct {
	mu       sync.RWMutex
	bindings map[string]*binding
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{bindings: make(map[string]*binding)}
}

// Register binds a username to a channel, replacing any prior binding.
// This is precisely how reconnection reattaches a returning player: the dead
// channel reference is dropped, a running reconnection timer is cancelled,
// and the previous channel (if any) is returned so the caller can close it.
func (r *Registry) Register(username string, ch *link.Channel) *link.Channel {
	r.mu.Lock()
	defer r.mu.Unlock()

	var prev *link.Channel
	if b, ok := r.bindings[username]; ok {
		prev = b.channel
		if b.graceStop != nil {
			b.graceStop()
		}
	}
	r.bindings[username] = &binding{channel: ch, boundAt: time.Now()}
	return prev
}

// Lookup returns the live channel for a username.
func (r *Registry) Lookup(username string) (*link.Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[username]
	if !ok || b.channel == nil {
		return nil, ErrNotFound
	}
	return b.channel, nil
}

// Unbind clears the transport binding without destroying the identity entry,
// used when a connection drops but the grace period has not expired.
func (r *Registry) Unbind(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.bindings[username]; ok {
		b.channel = nil
	}
}

// Remove deletes the identity entirely (game over, or grace period expired).
func (r *Registry) Remove(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.bindings[username]; ok && b.graceStop != nil {
		b.graceStop()
	}
	delete(r.bindings, username)
}

// RemoveIfUnbound deletes the identity only while no transport is bound,
// used to reap a player who never came back. A concurrent reconnect has
// already re-bound the channel and keeps the entry.
func (r *Registry) RemoveIfUnbound(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bindings[username]
	if !ok || b.channel != nil {
		return
	}
	if b.graceStop != nil {
		b.graceStop()
	}
	delete(r.bindings, username)
}

// Known reports whether the username has an entry, bound or not.
func (r *Registry) Known(username string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.bindings[username]
	return ok
}

// StartGrace arms a reconnection timer for a disconnected player. When the
// grace period elapses before Register cancels it, onExpire runs in its own
// goroutine. Arming a second timer for the same username replaces the first.
func (r *Registry) StartGrace(username string, grace time.Duration, onExpire func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bindings[username]
	if !ok {
		b = &binding{}
		r.bindings[username] = b
	}
	if b.graceStop != nil {
		b.graceStop()
	}

	timer := time.AfterFunc(grace, onExpire)
	b.graceStop = func() { timer.Stop() }
}
