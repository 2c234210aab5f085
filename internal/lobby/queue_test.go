package lobby_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/salvo-net/salvo/internal/lobby"
)

// TestPairingIsFIFO checks that with three waiting players the two oldest
// are paired and the newest keeps waiting.
func TestPairingIsFIFO(t *testing.T) {
	q := lobby.New()
	q.Enqueue("x")
	q.Enqueue("y")
	q.Enqueue("z")

	a, b, ok := q.TryPair()
	require.True(t, ok)
	require.Equal(t, "x", a)
	require.Equal(t, "y", b)
	require.Equal(t, 1, q.Len())

	_, _, ok = q.TryPair()
	require.False(t, ok)
}

func TestEnqueueIdempotent(t *testing.T) {
	q := lobby.New()
	q.Enqueue("x")
	q.Enqueue("x")
	require.Equal(t, 1, q.Len())
}

// TestRemoveLeavingPlayer checks that a player who disconnects while queued
// does not end up in a match.
func TestRemoveLeavingPlayer(t *testing.T) {
	q := lobby.New()
	q.Enqueue("x")
	q.Enqueue("y")
	q.Enqueue("z")
	q.Remove("y")

	a, b, ok := q.TryPair()
	require.True(t, ok)
	require.Equal(t, "x", a)
	require.Equal(t, "z", b)
	require.Equal(t, 0, q.Len())
}

func TestTryPairEmpty(t *testing.T) {
	q := lobby.New()
	_, _, ok := q.TryPair()
	require.False(t, ok)

	q.Enqueue("solo")
	_, _, ok = q.TryPair()
	require.False(t, ok)
	require.Equal(t, 1, q.Len())
}
