package game

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/salvo-net/salvo/internal/protocol"
	"github.com/salvo-net/salvo/internal/util"
)

// Phase is the session state machine state.
type Phase int

const (
	PhaseAwaitingPlacement Phase = iota
	PhaseInProgress
	PhasePaused
	PhaseCompleted
	PhaseForfeited
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingPlacement:
		return "AWAITING_PLACEMENT"
	case PhaseInProgress:
		return "IN_PROGRESS"
	case PhasePaused:
		return "PAUSED"
	case PhaseCompleted:
		return "COMPLETED"
	case PhaseForfeited:
		return "FORFEITED"
	default:
		return "UNKNOWN"
	}
}

// maxTurnTimeouts is how many consecutive expired turns forfeit the game.
const maxTurnTimeouts = 3

// Sender delivers a packet to a named client. The session never holds a
// transport handle: the orchestrator looks the channel up by username at
// send time, which is what makes reconnection transparent.
type Sender interface {
	SendTo(username string, pktType uint8, payload []byte)
}

// Command is one game-affecting packet routed to the session.
type Command struct {
	From    string
	Type    uint8
	Payload []byte
}

// ctlKind enumerates orchestrator-originated control events.
type ctlKind int

const (
	ctlPlayerLost ctlKind = iota
	ctlPlayerReturned
	ctlGraceExpired
	ctlAttachSpectator
	ctlDetachSpectator
	ctlShutdown
)

type ctlMsg struct {
	kind ctlKind
	who  string
}

// Options tunes a session's timers.
type Options struct {
	TurnTimeout    time.Duration
	PlaceTimeout   time.Duration
	ReconnectGrace time.Duration // reported in pause notices; the timer itself is armed by the orchestrator
}

// Session owns the state of one match. All mutable state (boards, turn,
// phase, spectator set) is touched only by the Run goroutine; other
// goroutines communicate through the command and control channels.
type Session struct {
	ID      uuid.UUID
	players [2]string

	boards   [2]*Board
	ready    [2]bool
	turn     int // index of the turn owner
	timeouts [2]int

	spectators map[string]bool

	opts Options
	send Sender
	rng  *rand.Rand

	cmds chan Command
	ctl  chan ctlMsg

	mu    sync.RWMutex
	phase Phase

	// onFinish runs once in the Run goroutine after the terminal broadcast.
	onFinish func(s *Session, winner, reason string)

	createdAt time.Time
}

// NewSession creates a session for two matched players. Run must be started
// by the caller.
func NewSession(p1, p2 string, send Sender, opts Options, onFinish func(*Session, string, string)) *Session {
	return &Session{
		ID:         uuid.New(),
		players:    [2]string{p1, p2},
		boards:     [2]*Board{NewBoard(), NewBoard()},
		spectators: make(map[string]bool),
		opts:       opts,
		send:       send,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		cmds:       make(chan Command, 16),
		ctl:        make(chan ctlMsg, 16),
		phase:      PhaseAwaitingPlacement,
		onFinish:   onFinish,
		createdAt:  time.Now(),
	}
}

// ---------------------------------------------------------------------------
// Thread-safe accessors and inputs (called from orchestrator goroutines)
// ---------------------------------------------------------------------------

// Players returns the matched pair, in order.
func (s *Session) Players() [2]string {
	return s.players
}

// HasPlayer reports whether username is one of the two active players.
func (s *Session) HasPlayer(username string) bool {
	return s.players[0] == username || s.players[1] == username
}

// Phase returns a snapshot of the current phase.
func (s *Session) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

func (s *Session) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

// Deliver routes a game command to the session. Commands from usernames that
// are not active players are dropped here: spectators are acknowledged at
// the transport level but never act on a game.
func (s *Session) Deliver(ctx context.Context, cmd Command) {
	if !s.HasPlayer(cmd.From) {
		return
	}
	select {
	case s.cmds <- cmd:
	case <-ctx.Done():
	}
}

func (s *Session) control(ctx context.Context, msg ctlMsg) {
	select {
	case s.ctl <- msg:
	case <-ctx.Done():
	}
}

// PlayerLost tells the session a player's link died.
func (s *Session) PlayerLost(ctx context.Context, username string) {
	s.control(ctx, ctlMsg{kind: ctlPlayerLost, who: username})
}

// PlayerReturned tells the session a player reconnected within the grace period.
func (s *Session) PlayerReturned(ctx context.Context, username string) {
	s.control(ctx, ctlMsg{kind: ctlPlayerReturned, who: username})
}

// GraceExpired tells the session the reconnection timer fired.
func (s *Session) GraceExpired(ctx context.Context, username string) {
	s.control(ctx, ctlMsg{kind: ctlGraceExpired, who: username})
}

// AttachSpectator subscribes a client to the session's broadcasts.
func (s *Session) AttachSpectator(ctx context.Context, username string) {
	s.control(ctx, ctlMsg{kind: ctlAttachSpectator, who: username})
}

// DetachSpectator cancels a spectator's subscription; the game is unaffected.
func (s *Session) DetachSpectator(ctx context.Context, username string) {
	s.control(ctx, ctlMsg{kind: ctlDetachSpectator, who: username})
}

// Shutdown asks the session to stop without a winner (server drain).
func (s *Session) Shutdown(ctx context.Context) {
	s.control(ctx, ctlMsg{kind: ctlShutdown})
}

// ---------------------------------------------------------------------------
// Broadcast helpers (Run goroutine only)
// ---------------------------------------------------------------------------

func (s *Session) toPlayer(i int, pktType uint8, text string) {
	s.send.SendTo(s.players[i], pktType, []byte(text))
}

func (s *Session) toBoth(pktType uint8, text string) {
	s.toPlayer(0, pktType, text)
	s.toPlayer(1, pktType, text)
}

func (s *Session) toSpectators(pktType uint8, text string) {
	for spec := range s.spectators {
		s.send.SendTo(spec, pktType, []byte(text))
	}
}

// fanOut broadcasts a state-changing event to both players and every
// spectator, taken from the state snapshot at the moment of the transition.
func (s *Session) fanOut(pktType uint8, text string) {
	s.toBoth(pktType, text)
	s.toSpectators(protocol.TypeSpectateNotice, text)
}

func (s *Session) spectatorBoards() string {
	return RenderDual(s.players[0], s.boards[0], s.players[1], s.boards[1])
}

func (s *Session) playerIndex(username string) int {
	for i, p := range s.players {
		if p == username {
			return i
		}
	}
	return -1
}

// ---------------------------------------------------------------------------
// Run loop
// ---------------------------------------------------------------------------

// Run drives the session to completion. It is the only goroutine that
// mutates boards, turn order, phase and the spectator set.
func (s *Session) Run(ctx context.Context) {
	util.Stats.AddGameStarted()
	util.LogInfo("game %s: %s vs %s", s.ID, s.players[0], s.players[1])

	if !s.runPlacement(ctx) {
		return
	}
	s.runBattle(ctx)
}

// ---------------------------------------------------------------------------
// Placement phase
// ---------------------------------------------------------------------------

// runPlacement collects both fleets. Returns false when the session ended
// during placement (disconnect forfeit or shutdown).
func (s *Session) runPlacement(ctx context.Context) bool {
	s.toBoth(protocol.TypeInfo, fmt.Sprintf(
		"Match found: %s vs %s. Place your fleet with PLACE <coord> <H|V> <ship>, or PLACE RANDOM. You have %s.",
		s.players[0], s.players[1], s.opts.PlaceTimeout))
	for i := range s.boards {
		s.toPlayer(i, protocol.TypeBoardUpdate, s.boards[i].RenderOwn())
	}

	deadline := time.NewTimer(s.opts.PlaceTimeout)
	defer deadline.Stop()

	for {
		select {
		case cmd := <-s.cmds:
			s.handlePlacementCmd(cmd)
			if s.ready[0] && s.ready[1] {
				return s.startBattle()
			}

		case <-deadline.C:
			// Auto-place whatever is missing so a stalled player cannot
			// block the match.
			for i := range s.boards {
				if !s.ready[i] {
					s.boards[i].PlaceRemainingRandomly(s.rng)
					s.ready[i] = true
					s.toPlayer(i, protocol.TypeInfo, "Placement time is up: remaining ships were placed randomly.")
					s.toPlayer(i, protocol.TypeBoardUpdate, s.boards[i].RenderOwn())
				}
			}
			return s.startBattle()

		case msg := <-s.ctl:
			if done := s.handleCtl(ctx, msg, "placement"); done {
				return false
			}

		case <-ctx.Done():
			return false
		}
	}
}

func (s *Session) handlePlacementCmd(cmd Command) {
	i := s.playerIndex(cmd.From)

	switch cmd.Type {
	case protocol.TypePlaceShip:
		if s.ready[i] {
			s.toPlayer(i, protocol.TypeError, "your fleet is already placed")
			return
		}
		if err := s.applyPlacement(i, string(cmd.Payload)); err != nil {
			s.toPlayer(i, protocol.TypeError, err.Error())
			return
		}
		s.toPlayer(i, protocol.TypeBoardUpdate, s.boards[i].RenderOwn())
		if s.boards[i].FleetComplete() {
			s.ready[i] = true
			s.toPlayer(i, protocol.TypeInfo, "Fleet complete. Waiting for your opponent...")
			s.toPlayer(1-i, protocol.TypeInfo, fmt.Sprintf("%s has placed their fleet.", cmd.From))
			s.toSpectators(protocol.TypeSpectateNotice, fmt.Sprintf("%s has placed their fleet.", cmd.From))
		}

	case protocol.TypeFire:
		s.toPlayer(i, protocol.TypeError, "the battle has not started yet")

	case protocol.TypeChat:
		s.relayChat(cmd)
	}
}

// applyPlacement parses "PLACE <coord> <H|V> <ship>" or "PLACE RANDOM".
func (s *Session) applyPlacement(i int, text string) error {
	fields := strings.Fields(strings.ToUpper(strings.TrimSpace(text)))
	if len(fields) >= 1 && fields[0] == "PLACE" {
		fields = fields[1:]
	}
	if len(fields) == 1 && fields[0] == "RANDOM" {
		s.boards[i].PlaceRemainingRandomly(s.rng)
		return nil
	}
	if len(fields) < 3 {
		return fmt.Errorf("usage: PLACE <coord> <H|V> <ship>, or PLACE RANDOM")
	}

	row, col, err := ParseCoordinate(fields[0])
	if err != nil {
		return err
	}
	var horizontal bool
	switch fields[1] {
	case "H":
		horizontal = true
	case "V":
		horizontal = false
	default:
		return fmt.Errorf("orientation must be H or V")
	}
	return s.boards[i].PlaceShip(strings.Join(fields[2:], " "), row, col, horizontal)
}

// startBattle transitions AWAITING_PLACEMENT → IN_PROGRESS.
func (s *Session) startBattle() bool {
	s.setPhase(PhaseInProgress)
	s.turn = 0
	s.fanOut(protocol.TypeInfo, "All ships are placed. Battle stations!")
	s.toSpectators(protocol.TypeBoardUpdate, s.spectatorBoards())
	return true
}

// ---------------------------------------------------------------------------
// Battle phase
// ---------------------------------------------------------------------------

func (s *Session) runBattle(ctx context.Context) {
	turnTimer := time.NewTimer(s.opts.TurnTimeout)
	defer turnTimer.Stop()

	s.announceTurn()

	for {
		select {
		case cmd := <-s.cmds:
			if s.Phase() == PhasePaused {
				// Only chat flows while the game is paused.
				if cmd.Type == protocol.TypeChat {
					s.relayChat(cmd)
				} else {
					s.send.SendTo(cmd.From, protocol.TypeError, []byte("game is paused"))
				}
				continue
			}
			if s.handleBattleCmd(cmd) {
				// Turn passed or game ended.
				if s.Phase() != PhaseInProgress {
					return
				}
				resetTimer(turnTimer, s.opts.TurnTimeout)
				s.announceTurn()
			}

		case <-turnTimer.C:
			if s.Phase() != PhaseInProgress {
				continue
			}
			if s.expireTurn() {
				return
			}
			resetTimer(turnTimer, s.opts.TurnTimeout)
			s.announceTurn()

		case msg := <-s.ctl:
			wasPaused := s.Phase() == PhasePaused
			if done := s.handleCtl(ctx, msg, "battle"); done {
				return
			}
			switch {
			case !wasPaused && s.Phase() == PhasePaused:
				stopTimer(turnTimer)
			case wasPaused && s.Phase() == PhaseInProgress:
				// Turn state is unchanged across a pause; restart the clock.
				resetTimer(turnTimer, s.opts.TurnTimeout)
				s.announceTurn()
			}

		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) announceTurn() {
	owner := s.turn
	s.toPlayer(owner, protocol.TypeBoardUpdate,
		s.boards[owner].RenderOwn()+"\n"+s.boards[1-owner].RenderTracking())
	s.toPlayer(owner, protocol.TypeInfo,
		fmt.Sprintf("Your turn, %s. Fire with a coordinate (e.g. B5). You have %s.", s.players[owner], s.opts.TurnTimeout))
	s.toPlayer(1-owner, protocol.TypeInfo,
		fmt.Sprintf("Waiting for %s to fire...", s.players[owner]))
}

// handleBattleCmd applies one command. Returns true when the turn advanced
// or the game reached a terminal phase.
func (s *Session) handleBattleCmd(cmd Command) bool {
	i := s.playerIndex(cmd.From)

	switch cmd.Type {
	case protocol.TypeFire:
		if i != s.turn {
			// Off-turn fire: acknowledged at the transport level, rejected
			// here, and never queued.
			s.toPlayer(i, protocol.TypeError, "not your turn")
			return false
		}
		return s.resolveShot(i, string(cmd.Payload))

	case protocol.TypePlaceShip:
		s.toPlayer(i, protocol.TypeError, "placement is over")
		return false

	case protocol.TypeChat:
		s.relayChat(cmd)
		return false

	default:
		return false
	}
}

// resolveShot fires the turn owner's shot at the opponent board.
// Returns true when the turn passed or the game ended.
func (s *Session) resolveShot(shooter int, coord string) bool {
	defender := 1 - shooter
	row, col, err := ParseCoordinate(coord)
	if err != nil {
		s.toPlayer(shooter, protocol.TypeError, err.Error())
		return false
	}

	outcome, sunk := s.boards[defender].FireAt(row, col)
	coord = strings.ToUpper(strings.TrimSpace(coord))

	switch outcome {
	case FireInvalid:
		s.toPlayer(shooter, protocol.TypeError, "coordinate out of bounds")
		return false
	case FireRepeat:
		s.toPlayer(shooter, protocol.TypeError, "you already fired at "+coord)
		return false
	}

	// Only a resolved shot clears the consecutive-timeout streak.
	s.timeouts[shooter] = 0

	switch outcome {
	case FireMiss:
		s.toPlayer(shooter, protocol.TypeResult, "MISS")
		s.toPlayer(defender, protocol.TypeInfo, fmt.Sprintf("%s fired at %s and missed.", s.players[shooter], coord))
		s.toSpectators(protocol.TypeSpectateNotice, fmt.Sprintf("%s fired at %s and missed.", s.players[shooter], coord))

	case FireHit:
		s.toPlayer(shooter, protocol.TypeResult, "HIT")
		s.toPlayer(defender, protocol.TypeInfo, fmt.Sprintf("%s fired at %s and hit!", s.players[shooter], coord))
		s.toSpectators(protocol.TypeSpectateNotice, fmt.Sprintf("%s fired at %s and hit!", s.players[shooter], coord))

	case FireSunk:
		s.toPlayer(shooter, protocol.TypeResult, "SUNK "+sunk)
		s.toPlayer(defender, protocol.TypeInfo, fmt.Sprintf("%s fired at %s and sank your %s!", s.players[shooter], coord, sunk))
		s.toSpectators(protocol.TypeSpectateNotice, fmt.Sprintf("%s sank %s's %s!", s.players[shooter], s.players[defender], sunk))

	case FireWin:
		s.toPlayer(shooter, protocol.TypeResult, "WIN")
		s.finish(s.players[shooter], fmt.Sprintf("sank %s's entire fleet", s.players[defender]), PhaseCompleted)
		return true
	}

	s.toSpectators(protocol.TypeBoardUpdate, s.spectatorBoards())
	s.turn = defender
	return true
}

// expireTurn handles a turn timeout: it counts as a miss and passes the
// turn; too many in a row forfeit the game. Returns true on forfeit.
func (s *Session) expireTurn() bool {
	owner := s.turn
	s.timeouts[owner]++

	if s.timeouts[owner] >= maxTurnTimeouts {
		s.toPlayer(owner, protocol.TypeInfo, "You timed out too many times and forfeit the game.")
		s.finish(s.players[1-owner], fmt.Sprintf("%s repeatedly timed out", s.players[owner]), PhaseForfeited)
		return true
	}

	s.toPlayer(owner, protocol.TypeInfo,
		fmt.Sprintf("Time is up — your turn counts as a miss (%d timeouts remaining).", maxTurnTimeouts-s.timeouts[owner]))
	s.fanOut(protocol.TypeInfo, fmt.Sprintf("%s ran out of time; the turn passes.", s.players[owner]))
	s.turn = 1 - owner
	return false
}

// ---------------------------------------------------------------------------
// Control events (pause / resume / spectators / shutdown)
// ---------------------------------------------------------------------------

// handleCtl applies one control event. Returns true when the session reached
// a terminal state.
func (s *Session) handleCtl(ctx context.Context, msg ctlMsg, where string) bool {
	switch msg.kind {
	case ctlPlayerLost:
		i := s.playerIndex(msg.who)
		if i < 0 {
			s.removeSpectator(msg.who)
			return false
		}
		if where == "placement" {
			// No board state worth preserving yet: the opponent wins.
			s.finish(s.players[1-i], fmt.Sprintf("%s disconnected during placement", msg.who), PhaseForfeited)
			return true
		}
		s.setPhase(PhasePaused)
		notice := fmt.Sprintf("%s %d", msg.who, int(s.opts.ReconnectGrace.Seconds()))
		s.toPlayer(1-i, protocol.TypePauseNotice, notice)
		s.toSpectators(protocol.TypePauseNotice, notice)
		util.LogWarning("game %s paused: %s disconnected", s.ID, msg.who)
		return false

	case ctlPlayerReturned:
		if s.Phase() != PhasePaused {
			return false
		}
		s.setPhase(PhaseInProgress)
		s.fanOut(protocol.TypeResumeNotice, msg.who)
		i := s.playerIndex(msg.who)
		s.toPlayer(i, protocol.TypeInfo, "Welcome back. The game resumes where it left off.")
		util.LogInfo("game %s resumed: %s reconnected", s.ID, msg.who)
		return false

	case ctlGraceExpired:
		i := s.playerIndex(msg.who)
		if i < 0 || s.Phase() != PhasePaused {
			return false
		}
		s.finish(s.players[1-i], fmt.Sprintf("%s failed to reconnect in time", msg.who), PhaseForfeited)
		return true

	case ctlAttachSpectator:
		s.spectators[msg.who] = true
		s.send.SendTo(msg.who, protocol.TypeSpectateNotice,
			[]byte(fmt.Sprintf("You are spectating %s vs %s.", s.players[0], s.players[1])))
		s.send.SendTo(msg.who, protocol.TypeBoardUpdate, []byte(s.spectatorBoards()))
		return false

	case ctlDetachSpectator:
		s.removeSpectator(msg.who)
		return false

	case ctlShutdown:
		s.fanOut(protocol.TypeInfo, "Server is shutting down; the game is abandoned.")
		s.finish("", "server shutdown", PhaseCompleted)
		return true
	}
	return false
}

func (s *Session) removeSpectator(username string) {
	delete(s.spectators, username)
}

// ---------------------------------------------------------------------------
// Terminal transition
// ---------------------------------------------------------------------------

// finish broadcasts the result, releases spectators and reports back to the
// orchestrator. Terminal: the Run loop returns right after.
func (s *Session) finish(winner, reason string, phase Phase) {
	s.setPhase(phase)
	util.Stats.AddGameFinished()

	if winner != "" {
		msg := fmt.Sprintf("%s %s", winner, reason)
		s.fanOut(protocol.TypeGameOver, msg)
		s.toBoth(protocol.TypeInfo, "Send REMATCH to queue up for another game.")
		util.LogInfo("game %s over: %s wins (%s)", s.ID, winner, reason)
	} else {
		s.fanOut(protocol.TypeGameOver, "- "+reason)
	}

	s.spectators = make(map[string]bool)
	if s.onFinish != nil {
		s.onFinish(s, winner, reason)
	}
}

// ---------------------------------------------------------------------------
// Small helpers
// ---------------------------------------------------------------------------

func (s *Session) relayChat(cmd Command) {
	text := fmt.Sprintf("[%s] %s", cmd.From, string(cmd.Payload))
	i := s.playerIndex(cmd.From)
	if i >= 0 {
		s.toPlayer(1-i, protocol.TypeChat, text)
	}
	s.toSpectators(protocol.TypeChat, text)
}

// resetTimer safely re-arms a timer that may or may not have fired.
func resetTimer(t *time.Timer, d time.Duration) {
	stopTimer(t)
	t.Reset(d)
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
