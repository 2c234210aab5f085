package registry_test

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/salvo-net/salvo/internal/link"
	"github.com/salvo-net/salvo/internal/registry"
)

func newChannel(t *testing.T) *link.Channel {
	a, b := net.Pipe()
	t.Cleanup(func() { b.Close() })
	ch := link.New(context.Background(), a, link.Options{})
	t.Cleanup(func() { ch.Close() })
	return ch
}

func TestRegisterAndLookup(t *testing.T) {
	reg := registry.New()
	ch := newChannel(t)

	prev := reg.Register("alice", ch)
	require.Nil(t, prev)

	got, err := reg.Lookup("alice")
	require.NoError(t, err)
	require.Same(t, ch, got)

	_, err = reg.Lookup("bob")
	require.ErrorIs(t, err, registry.ErrNotFound)
}

// TestRegisterSwapsTransport covers reconnection: a second Register for the
// same username returns the old channel and the lookup sees the new one.
func TestRegisterSwapsTransport(t *testing.T) {
	reg := registry.New()
	old := newChannel(t)
	fresh := newChannel(t)

	reg.Register("alice", old)
	prev := reg.Register("alice", fresh)
	require.Same(t, old, prev)

	got, err := reg.Lookup("alice")
	require.NoError(t, err)
	require.Same(t, fresh, got)
}

func TestUnbindKeepsIdentity(t *testing.T) {
	reg := registry.New()
	reg.Register("alice", newChannel(t))

	reg.Unbind("alice")

	_, err := reg.Lookup("alice")
	require.ErrorIs(t, err, registry.ErrNotFound)
	require.True(t, reg.Known("alice"))

	reg.Remove("alice")
	require.False(t, reg.Known("alice"))
}

// TestRemoveIfUnbound reaps only identities without a live transport, so a
// reconnect racing the reaper keeps its entry.
func TestRemoveIfUnbound(t *testing.T) {
	reg := registry.New()
	reg.Register("alice", newChannel(t))
	reg.Unbind("alice")

	reg.RemoveIfUnbound("alice")
	require.False(t, reg.Known("alice"))

	// A bound identity is left alone.
	reg.Register("bob", newChannel(t))
	reg.RemoveIfUnbound("bob")
	require.True(t, reg.Known("bob"))

	// Unknown usernames are a no-op.
	reg.RemoveIfUnbound("carol")
}

func TestGraceTimerFires(t *testing.T) {
	reg := registry.New()
	reg.Register("alice", newChannel(t))
	reg.Unbind("alice")

	var fired atomic.Bool
	reg.StartGrace("alice", 20*time.Millisecond, func() { fired.Store(true) })

	require.Eventually(t, fired.Load, time.Second, 5*time.Millisecond)
}

// TestGraceCancelledByRegister verifies that reconnecting in time stops the
// expiry callback.
func TestGraceCancelledByRegister(t *testing.T) {
	reg := registry.New()
	reg.Register("alice", newChannel(t))
	reg.Unbind("alice")

	var fired atomic.Bool
	reg.StartGrace("alice", 50*time.Millisecond, func() { fired.Store(true) })

	reg.Register("alice", newChannel(t))

	time.Sleep(120 * time.Millisecond)
	require.False(t, fired.Load())
}

// TestGraceReplacedByNewTimer verifies that re-arming the grace timer for the
// same username cancels the first timer.
func TestGraceReplacedByNewTimer(t *testing.T) {
	reg := registry.New()
	reg.Register("alice", newChannel(t))
	reg.Unbind("alice")

	var first, second atomic.Bool
	reg.StartGrace("alice", 30*time.Millisecond, func() { first.Store(true) })
	reg.StartGrace("alice", 60*time.Millisecond, func() { second.Store(true) })

	require.Eventually(t, second.Load, time.Second, 5*time.Millisecond)
	require.False(t, first.Load())
}
