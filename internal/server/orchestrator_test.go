package server_test

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/salvo-net/salvo/internal/config"
	"github.com/salvo-net/salvo/internal/link"
	"github.com/salvo-net/salvo/internal/protocol"
	"github.com/salvo-net/salvo/internal/server"
)

// startServer runs an orchestrator on an ephemeral port with fast timers and
// returns its address.
func startServer(t *testing.T) (net.Addr, context.Context) {
	t.Helper()
	cfg := config.DefaultServer()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.TurnTimeout = 5 * time.Second
	cfg.PlaceTimeout = 5 * time.Second
	cfg.ReconnectGrace = 3 * time.Second
	cfg.RetransmitInterval = 20 * time.Millisecond
	cfg.RetransmitDeadline = 50 * time.Millisecond
	cfg.GapTimeout = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	o := server.New(cfg)
	go func() {
		if err := o.Run(ctx); err != nil {
			t.Errorf("server exited: %v", err)
		}
	}()

	require.Eventually(t, func() bool { return o.Addr() != nil },
		2*time.Second, 10*time.Millisecond)
	return o.Addr(), ctx
}

// testClient is one connected, identified protocol client.
type testClient struct {
	t  *testing.T
	ch *link.Channel
}

func connect(t *testing.T, ctx context.Context, addr net.Addr, identity string) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)

	ch := link.New(ctx, conn, link.Options{
		RetransmitInterval: 20 * time.Millisecond,
		RetransmitDeadline: 50 * time.Millisecond,
		GapTimeout:         time.Second,
	})
	t.Cleanup(func() { ch.Close() })

	require.NoError(t, ch.Send(protocol.TypeIdentify, []byte(identity)))
	return &testClient{t: t, ch: ch}
}

// waitFor consumes inbound messages until one of the given type containing
// substr arrives.
func (c *testClient) waitFor(pktType uint8, substr string) link.Message {
	c.t.Helper()
	deadline := time.After(6 * time.Second)
	for {
		select {
		case msg := <-c.ch.Inbox():
			if msg.Type == pktType && strings.Contains(string(msg.Payload), substr) {
				return msg
			}
		case <-c.ch.Done():
			// Drain messages that arrived before the channel died.
			for {
				select {
				case msg := <-c.ch.Inbox():
					if msg.Type == pktType && strings.Contains(string(msg.Payload), substr) {
						return msg
					}
					continue
				default:
				}
				break
			}
			c.t.Fatalf("connection died waiting for %s containing %q: %v",
				protocol.TypeName(pktType), substr, c.ch.Err())
		case <-deadline:
			c.t.Fatalf("timed out waiting for %s containing %q", protocol.TypeName(pktType), substr)
		}
	}
}

func TestMatchmakingPairsTwoClients(t *testing.T) {
	addr, ctx := startServer(t)

	alice := connect(t, ctx, addr, "alice")
	alice.waitFor(protocol.TypeInfo, "Waiting for an opponent")

	bob := connect(t, ctx, addr, "bob")
	alice.waitFor(protocol.TypeInfo, "Match found")
	bob.waitFor(protocol.TypeInfo, "Match found")
}

func TestDuplicateUsernameRejected(t *testing.T) {
	addr, ctx := startServer(t)

	alice := connect(t, ctx, addr, "alice")
	alice.waitFor(protocol.TypeInfo, "Waiting for an opponent")

	imposter := connect(t, ctx, addr, "alice")
	imposter.waitFor(protocol.TypeError, "already connected")
}

func TestSpectatorParkedUntilGameStarts(t *testing.T) {
	addr, ctx := startServer(t)

	watcher := connect(t, ctx, addr, "watcher watch")
	watcher.waitFor(protocol.TypeSpectateNotice, "No game in progress")

	connect(t, ctx, addr, "alice")
	connect(t, ctx, addr, "bob")
	watcher.waitFor(protocol.TypeSpectateNotice, "spectating alice vs bob")
}

// TestSpectatorCannotHijackPlayerBinding logs a spectator in under an active
// player's username and checks that the login is rejected and the player's
// transport keeps working.
func TestSpectatorCannotHijackPlayerBinding(t *testing.T) {
	addr, ctx := startServer(t)

	alice := connect(t, ctx, addr, "alice")
	bob := connect(t, ctx, addr, "bob")
	alice.waitFor(protocol.TypeInfo, "Match found")
	bob.waitFor(protocol.TypeInfo, "Match found")

	require.NoError(t, alice.ch.Send(protocol.TypePlaceShip, []byte("PLACE RANDOM")))
	require.NoError(t, bob.ch.Send(protocol.TypePlaceShip, []byte("PLACE RANDOM")))
	alice.waitFor(protocol.TypeInfo, "Your turn")

	imposter := connect(t, ctx, addr, "alice watch")
	imposter.waitFor(protocol.TypeError, "already connected")

	// Alice's binding survived: she still receives through her own channel
	// and the game was not paused.
	require.NoError(t, alice.ch.Send(protocol.TypeFire, []byte("A1")))
	alice.waitFor(protocol.TypeResult, "")
	require.NoError(t, alice.ch.Err())
}

// TestReconnectionResumesGame drops one player mid-game and checks the
// pause, re-identify and resume flow end to end.
func TestReconnectionResumesGame(t *testing.T) {
	addr, ctx := startServer(t)

	alice := connect(t, ctx, addr, "alice")
	bob := connect(t, ctx, addr, "bob")
	alice.waitFor(protocol.TypeInfo, "Match found")
	bob.waitFor(protocol.TypeInfo, "Match found")

	require.NoError(t, alice.ch.Send(protocol.TypePlaceShip, []byte("PLACE RANDOM")))
	require.NoError(t, bob.ch.Send(protocol.TypePlaceShip, []byte("PLACE RANDOM")))
	alice.waitFor(protocol.TypeInfo, "Your turn")

	// Bob's link dies mid-battle.
	bob.ch.Close()
	pause := alice.waitFor(protocol.TypePauseNotice, "bob")
	require.Contains(t, string(pause.Payload), "3") // grace seconds

	// Bob comes back under the same username and the game resumes.
	bob2 := connect(t, ctx, addr, "bob")
	alice.waitFor(protocol.TypeResumeNotice, "bob")
	bob2.waitFor(protocol.TypeInfo, "Welcome back")

	// The game is still playable.
	require.NoError(t, alice.ch.Send(protocol.TypeFire, []byte("A1")))
	alice.waitFor(protocol.TypeResult, "")
}

// TestGraceExpiryForfeitsGame keeps the dropped player away past the grace
// period and checks the forfeit.
func TestGraceExpiryForfeitsGame(t *testing.T) {
	addr, ctx := startServer(t)

	alice := connect(t, ctx, addr, "alice")
	bob := connect(t, ctx, addr, "bob")
	alice.waitFor(protocol.TypeInfo, "Match found")
	bob.waitFor(protocol.TypeInfo, "Match found")

	require.NoError(t, alice.ch.Send(protocol.TypePlaceShip, []byte("PLACE RANDOM")))
	require.NoError(t, bob.ch.Send(protocol.TypePlaceShip, []byte("PLACE RANDOM")))
	alice.waitFor(protocol.TypeInfo, "Your turn")

	bob.ch.Close()
	alice.waitFor(protocol.TypePauseNotice, "bob")

	over := alice.waitFor(protocol.TypeGameOver, "alice")
	require.Contains(t, string(over.Payload), "reconnect")
}

func TestRematchRequeuesPlayers(t *testing.T) {
	addr, ctx := startServer(t)

	alice := connect(t, ctx, addr, "alice")
	alice.waitFor(protocol.TypeInfo, "Waiting for an opponent")

	// Not in a game yet: REMATCH just re-queues, which is idempotent.
	require.NoError(t, alice.ch.Send(protocol.TypeRematch, nil))
	alice.waitFor(protocol.TypeInfo, "Back in the queue")
}

func TestShutdownDrainsCleanly(t *testing.T) {
	cfg := config.DefaultServer()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.RetransmitInterval = 20 * time.Millisecond
	cfg.RetransmitDeadline = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	o := server.New(cfg)
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()
	require.Eventually(t, func() bool { return o.Addr() != nil },
		2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}
