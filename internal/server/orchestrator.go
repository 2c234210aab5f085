// Package server implements the session orchestrator: it accepts
// connections, identifies players, routes them to the matchmaking queue, a
// resuming game, or spectator mode, and supervises the lifecycle of every
// concurrent game.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/salvo-net/salvo/internal/config"
	"github.com/salvo-net/salvo/internal/game"
	"github.com/salvo-net/salvo/internal/link"
	"github.com/salvo-net/salvo/internal/lobby"
	"github.com/salvo-net/salvo/internal/protocol"
	"github.com/salvo-net/salvo/internal/registry"
	"github.com/salvo-net/salvo/internal/util"
)

// Orchestrator owns the connection registry, the matchmaking queue and the
// set of live games. It is the only component that touches all three; games
// never see a transport handle and channels never see game state.
type Orchestrator struct {
	cfg config.Server

	reg   *registry.Registry
	queue *lobby.Queue

	mu         sync.Mutex
	games      map[string]*game.Session // by session ID
	watchers   map[string]*game.Session // spectator username → session
	parked     []string                 // spectators waiting for a game to start
	nextAssign int                      // round-robin cursor for spectator assignment
	draining   bool

	addr   net.Addr // bound TCP address, set once Run is listening
	wsAddr net.Addr // bound WebSocket gateway address, when enabled

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an orchestrator with empty registries.
func New(cfg config.Server) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		reg:      registry.New(),
		queue:    lobby.New(),
		games:    make(map[string]*game.Session),
		watchers: make(map[string]*game.Session),
	}
}

// Run listens on the configured TCP address (and WebSocket address, when
// set) and serves until ctx is cancelled, then drains.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.ctx, o.cancel = context.WithCancel(ctx)
	defer o.cancel()

	listener, err := net.Listen("tcp", o.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", o.cfg.ListenAddr, err)
	}

	o.mu.Lock()
	o.addr = listener.Addr()
	o.mu.Unlock()

	go func() {
		<-o.ctx.Done()
		o.drain()
		listener.Close()
	}()

	if o.cfg.WSAddr != "" {
		if err := o.startWSGateway(o.cfg.WSAddr); err != nil {
			listener.Close()
			return err
		}
	}

	util.LogInfo("salvo server listening on %s", o.cfg.ListenAddr)

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-o.ctx.Done():
				o.wg.Wait()
				return nil // normal shutdown
			default:
				return fmt.Errorf("accept error: %w", err)
			}
		}

		util.LogDebug("new connection from %s", conn.RemoteAddr())
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.HandleStream(conn)
		}()
	}
}

// Addr returns the bound TCP address, or nil before Run starts listening.
// Useful when listening on port 0.
func (o *Orchestrator) Addr() net.Addr {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.addr
}

// WSAddr returns the WebSocket gateway's bound address, or nil when the
// gateway is disabled or not yet listening.
func (o *Orchestrator) WSAddr() net.Addr {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.wsAddr
}

// linkOptions maps server config onto channel tuning.
func (o *Orchestrator) linkOptions() link.Options {
	return link.Options{
		RetransmitInterval: o.cfg.RetransmitInterval,
		RetransmitDeadline: o.cfg.RetransmitDeadline,
		MaxRetries:         o.cfg.MaxRetries,
		GapTimeout:         o.cfg.GapTimeout,
	}
}

// ---------------------------------------------------------------------------
// Per-connection lifecycle
// ---------------------------------------------------------------------------

// HandleStream runs the full lifecycle of one client stream: reliable
// channel setup, IDENTIFY handshake, routing, and disconnect handling.
// The stream may be a TCP connection or a WebSocket adapter.
func (o *Orchestrator) HandleStream(conn io.ReadWriteCloser) {
	ch := link.New(o.ctx, conn, o.linkOptions())

	username, spectate, err := o.identify(ch)
	if err != nil {
		util.LogDebug("identify failed: %v", err)
		ch.Flush(time.Second)
		ch.Close()
		return
	}

	if spectate {
		if !o.attachWatcher(username, ch) {
			return
		}
	} else if !o.attachPlayer(username, ch) {
		return
	}

	o.serve(username, spectate, ch)
}

// identify reads the first packet, which must be IDENTIFY with payload
// "<username>" or "<username> watch".
func (o *Orchestrator) identify(ch *link.Channel) (string, bool, error) {
	msg, err := ch.Receive(o.ctx)
	if err != nil {
		return "", false, err
	}
	if msg.Type != protocol.TypeIdentify {
		ch.Send(protocol.TypeError, []byte("expected IDENTIFY first"))
		return "", false, fmt.Errorf("first packet was %s", protocol.TypeName(msg.Type))
	}

	fields := strings.Fields(string(msg.Payload))
	if len(fields) == 0 || len(fields) > 2 {
		ch.Send(protocol.TypeError, []byte("IDENTIFY payload must be \"<username>\" or \"<username> watch\""))
		return "", false, errors.New("malformed IDENTIFY payload")
	}
	username := fields[0]
	spectate := len(fields) == 2 && strings.EqualFold(fields[1], "watch")
	if len(fields) == 2 && !spectate {
		ch.Send(protocol.TypeError, []byte("unknown IDENTIFY role"))
		return "", false, errors.New("unknown IDENTIFY role")
	}

	o.mu.Lock()
	draining := o.draining
	o.mu.Unlock()
	if draining {
		ch.Send(protocol.TypeError, []byte("server is shutting down"))
		return "", false, errors.New("draining, IDENTIFY rejected")
	}

	return username, spectate, nil
}

// attachPlayer binds the channel and routes the identity to a resuming game
// or the matchmaking queue. Returns false when the login was rejected.
func (o *Orchestrator) attachPlayer(username string, ch *link.Channel) bool {
	// A live duplicate login is rejected; a dead binding is exactly the
	// reconnection case and gets replaced.
	if prev, err := o.reg.Lookup(username); err == nil && prev.Err() == nil {
		ch.Send(protocol.TypeError, []byte("username already connected"))
		ch.Flush(time.Second)
		ch.Close()
		return false
	}

	if prev := o.reg.Register(username, ch); prev != nil {
		prev.Close()
	}

	if s := o.gameOf(username); s != nil {
		// Known player with a live game: re-bind and resume.
		util.LogInfo("%s reconnected, resuming game %s", username, s.ID)
		s.PlayerReturned(o.ctx, username)
		return true
	}

	ch.Send(protocol.TypeInfo, []byte(fmt.Sprintf("Welcome, %s. Waiting for an opponent...", username)))
	o.queue.Enqueue(username)
	o.tryStartGame()
	return true
}

// attachWatcher subscribes a spectator to a running game, round-robin across
// the live set; with no game running the spectator is parked until one starts.
// Returns false when the login was rejected.
func (o *Orchestrator) attachWatcher(username string, ch *link.Channel) bool {
	// A spectate login must never displace an existing identity: a known
	// username belongs to a queued, playing, disconnected-in-grace or
	// already-watching client, and registering over it would hijack the
	// binding that games send through.
	if o.reg.Known(username) {
		ch.Send(protocol.TypeError, []byte("username already connected"))
		ch.Flush(time.Second)
		ch.Close()
		return false
	}
	o.reg.Register(username, ch)

	o.mu.Lock()
	var target *game.Session
	if len(o.games) > 0 {
		ids := make([]string, 0, len(o.games))
		for id := range o.games {
			ids = append(ids, id)
		}
		target = o.games[ids[o.nextAssign%len(ids)]]
		o.nextAssign++
		o.watchers[username] = target
	} else {
		o.parked = append(o.parked, username)
	}
	o.mu.Unlock()

	if target != nil {
		target.AttachSpectator(o.ctx, username)
	} else {
		ch.Send(protocol.TypeSpectateNotice, []byte("No game in progress. You will be attached when one starts."))
	}
	return true
}

// serve is the read loop: in-order messages from the channel are routed to
// the player's game until the channel dies.
func (o *Orchestrator) serve(username string, spectate bool, ch *link.Channel) {
	for {
		msg, err := ch.Receive(o.ctx)
		if err != nil {
			o.handleDisconnect(username, spectate, ch, err)
			return
		}
		o.route(username, spectate, ch, msg)
	}
}

// route dispatches one in-order message.
func (o *Orchestrator) route(username string, spectate bool, ch *link.Channel, msg link.Message) {
	if spectate {
		// Spectators never affect a game: their packets are acknowledged by
		// the channel and dropped here.
		return
	}

	switch msg.Type {
	case protocol.TypeIdentify:
		ch.Send(protocol.TypeError, []byte("already identified"))

	case protocol.TypeRematch:
		if o.gameOf(username) != nil {
			ch.Send(protocol.TypeError, []byte("finish your current game first"))
			return
		}
		ch.Send(protocol.TypeInfo, []byte("Back in the queue. Waiting for an opponent..."))
		o.queue.Enqueue(username)
		o.tryStartGame()

	case protocol.TypePlaceShip, protocol.TypeFire, protocol.TypeChat:
		s := o.gameOf(username)
		if s == nil {
			ch.Send(protocol.TypeError, []byte("you are not in a game"))
			return
		}
		s.Deliver(o.ctx, game.Command{From: username, Type: msg.Type, Payload: msg.Payload})

	default:
		ch.Send(protocol.TypeError, []byte("unexpected packet "+protocol.TypeName(msg.Type)))
	}
}

// handleDisconnect reacts to a dead channel: spectators are detached,
// queued players removed, in-game players get the pause + grace treatment.
func (o *Orchestrator) handleDisconnect(username string, spectate bool, ch *link.Channel, cause error) {
	util.LogDebug("%s disconnected: %v", username, cause)

	// A reconnect may already have replaced this transport; the stale
	// connection's death must not disturb the fresh binding.
	if cur, err := o.reg.Lookup(username); err == nil && cur != ch {
		return
	}

	if spectate {
		o.mu.Lock()
		s := o.watchers[username]
		delete(o.watchers, username)
		for i, p := range o.parked {
			if p == username {
				o.parked = append(o.parked[:i], o.parked[i+1:]...)
				break
			}
		}
		o.mu.Unlock()
		if s != nil {
			s.DetachSpectator(o.ctx, username)
		}
		o.reg.Remove(username)
		return
	}

	s := o.gameOf(username)
	if s == nil {
		o.queue.Remove(username)
		o.reg.Remove(username)
		return
	}

	// In-game: never tear down server state. Unbind the transport, pause the
	// game, and give the player the grace period to come back.
	o.reg.Unbind(username)
	s.PlayerLost(o.ctx, username)
	o.reg.StartGrace(username, o.cfg.ReconnectGrace, func() {
		s.GraceExpired(o.ctx, username)
		// The player is forfeited; reap the identity unless a reconnect
		// raced the timer and bound a fresh channel.
		o.reg.RemoveIfUnbound(username)
	})
}

// ---------------------------------------------------------------------------
// Game lifecycle
// ---------------------------------------------------------------------------

// gameOf finds the live session a player belongs to, if any.
func (o *Orchestrator) gameOf(username string) *game.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, s := range o.games {
		if s.HasPlayer(username) {
			return s
		}
	}
	return nil
}

// tryStartGame pairs the two oldest queued players into a new session.
func (o *Orchestrator) tryStartGame() {
	p1, p2, ok := o.queue.TryPair()
	if !ok {
		return
	}

	opts := game.Options{
		TurnTimeout:    o.cfg.TurnTimeout,
		PlaceTimeout:   o.cfg.PlaceTimeout,
		ReconnectGrace: o.cfg.ReconnectGrace,
	}
	s := game.NewSession(p1, p2, o, opts, o.onGameFinished)

	o.mu.Lock()
	o.games[s.ID.String()] = s
	parked := o.parked
	o.parked = nil
	for _, w := range parked {
		o.watchers[w] = s
	}
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		s.Run(o.ctx)
	}()

	for _, w := range parked {
		s.AttachSpectator(o.ctx, w)
	}
}

// onGameFinished runs in the session goroutine after the terminal broadcast.
// Players stay registered so they can REMATCH; spectators are re-parked.
func (o *Orchestrator) onGameFinished(s *game.Session, winner, reason string) {
	o.mu.Lock()
	delete(o.games, s.ID.String())
	for w, ws := range o.watchers {
		if ws == s {
			delete(o.watchers, w)
			o.parked = append(o.parked, w)
		}
	}
	o.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Sender
// ---------------------------------------------------------------------------

// SendTo implements game.Sender: the channel is looked up by username at
// send time, so a reconnected player's fresh transport is picked up
// automatically and a disconnected player's sends are silently skipped.
func (o *Orchestrator) SendTo(username string, pktType uint8, payload []byte) {
	ch, err := o.reg.Lookup(username)
	if err != nil {
		return
	}
	if err := ch.Send(pktType, payload); err != nil {
		util.LogDebug("send %s to %s failed: %v", protocol.TypeName(pktType), username, err)
	}
}

// ---------------------------------------------------------------------------
// Shutdown
// ---------------------------------------------------------------------------

// drain rejects new IDENTIFYs and asks every live game to stop.
func (o *Orchestrator) drain() {
	o.mu.Lock()
	o.draining = true
	games := make([]*game.Session, 0, len(o.games))
	for _, s := range o.games {
		games = append(games, s)
	}
	o.mu.Unlock()

	background := context.Background()
	for _, s := range games {
		s.Shutdown(background)
	}
}
