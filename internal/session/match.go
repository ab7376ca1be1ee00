package session

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openarcade/arcade-backend/internal/broadcast"
	"github.com/openarcade/arcade-backend/internal/engine"
	"github.com/openarcade/arcade-backend/internal/lobby"
	"github.com/openarcade/arcade-backend/internal/render"
	"github.com/openarcade/arcade-backend/internal/timer"
)

// Role of a match participant.
type Role string

const (
	RolePlayer    Role = "player"
	RoleSpectator Role = "spectator"
)

// MatchView is the view model every match session renders: the
// viewer-specific game state plus lifecycle framing.
type MatchView struct {
	MatchID string           `json:"match_id"`
	Game    string           `json:"game"`
	You     string           `json:"you"`
	Role    Role             `json:"role"`
	Event   engine.EventType `json:"event,omitempty"`
	Actor   string           `json:"actor,omitempty"`
	State   any              `json:"state"`
	Over    bool             `json:"over,omitempty"`
	Reason  engine.EndReason `json:"reason,omitempty"`
	Outcome string           `json:"outcome,omitempty"`
}

// Launch is the lobby.Launch handoff: it constructs the game from the
// popped players in seating order, under the party creator's options,
// and spawns one match session per participant.
func (mg *Manager) Launch(ctx context.Context, info engine.Info, options json.RawMessage, players, spectators []lobby.Participant) {
	ids := make([]string, len(players))
	for i, p := range players {
		ids[i] = p.ID
	}
	game, err := info.New(ctx, ids, options)
	if err != nil {
		mg.log.Error("game construction failed",
			zap.String("game", info.Name), zap.Strings("players", ids), zap.Error(err))
		return
	}
	m := &Match{
		id:         uuid.NewString(),
		mg:         mg,
		info:       info,
		game:       game,
		channel:    broadcast.New[engine.Event](),
		players:    make(map[string]struct{}, len(players)),
		spectators: make(map[string]struct{}, len(spectators)),
	}
	for _, id := range ids {
		m.players[id] = struct{}{}
	}
	for _, p := range spectators {
		m.spectators[p.ID] = struct{}{}
	}
	mg.log.Info("match launched",
		zap.String("match", m.id), zap.String("game", info.Name),
		zap.Strings("players", ids))

	for _, p := range players {
		m.runSession(ctx, p, RolePlayer)
	}
	for _, p := range spectators {
		m.runSession(ctx, p, RoleSpectator)
	}
}

// Match owns one running game. The mutex serializes every call into the
// game instance.
type Match struct {
	id      string
	mg      *Manager
	info    engine.Info
	channel *broadcast.Channel[engine.Event]

	mu         sync.Mutex
	game       engine.Game
	players    map[string]struct{}
	spectators map[string]struct{}
	over       bool
	endReason  engine.EndReason
}

func (m *Match) ID() string        { return m.id }
func (m *Match) Game() engine.Info { return m.info }

func (m *Match) runSession(ctx context.Context, p lobby.Participant, role Role) {
	s := &MatchSession{
		id:       uuid.NewString(),
		match:    m,
		identity: p.ID,
		role:     role,
		handle:   p.Handle,
		consumer: m.channel.Register(),
		done:     make(chan struct{}),
	}
	s.idle = timer.After(m.mg.matchIdle, s.onIdle)
	if a, ok := p.Handle.(Attacher); ok {
		a.AttachMatch(s)
	}
	go s.loop(ctx)
}

// Submit applies one move and publishes the change.
func (m *Match) Submit(ctx context.Context, identity string, move any) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.over {
		return nil, engine.ErrMatchOver
	}
	if _, ok := m.players[identity]; !ok {
		return nil, engine.ErrNotPlaying
	}
	res, err := m.game.Update(identity, move)
	if err != nil {
		return nil, err
	}
	m.channel.Publish(engine.Event{Type: engine.EventMove, Actor: identity})
	if m.game.Ended() {
		m.finishLocked(ctx, engine.EndPlayed)
	}
	return res, nil
}

// Timeout handles one participant's inactivity per the game's policy.
func (m *Match) Timeout(ctx context.Context, identity string) {
	m.expel(ctx, identity, engine.EndTimeout)
}

// Abandon handles an explicit or implicit leave mid-match.
func (m *Match) Abandon(ctx context.Context, identity string) {
	m.expel(ctx, identity, engine.EndAbandoned)
}

func (m *Match) expel(ctx context.Context, identity string, reason engine.EndReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.over {
		return
	}
	if _, ok := m.spectators[identity]; ok {
		// a departing spectator never touches the game, but its session
		// must still see the exit and wind down
		delete(m.spectators, identity)
		m.channel.Publish(departure(identity, reason))
		return
	}
	if _, ok := m.players[identity]; !ok {
		return
	}
	m.channel.Publish(departure(identity, reason))
	if m.info.Timeout == engine.TimeoutDropsPlayer {
		if d, ok := m.game.(engine.Dropper); ok {
			d.DropParticipant(identity)
		}
		delete(m.players, identity)
		if len(m.players) >= 2 && !m.game.Ended() {
			return
		}
	}
	m.finishLocked(ctx, reason)
}

// departure frames one participant's exit. Timeouts keep their own event
// type so the remaining participants can tell a stall from a walk-out.
func departure(identity string, reason engine.EndReason) engine.Event {
	if reason == engine.EndTimeout {
		return engine.Event{Type: engine.EventTimeout, Actor: identity}
	}
	return engine.Event{Type: engine.EventPlayers, Actor: identity, Change: engine.ChangeLeave}
}

// finishLocked ends the match exactly once: flushes end-of-game side
// effects and publishes GAME_OVER.
func (m *Match) finishLocked(ctx context.Context, reason engine.EndReason) {
	m.over = true
	m.endReason = reason
	if f, ok := m.game.(engine.Finisher); ok {
		if err := f.Finish(ctx); err != nil {
			m.mg.log.Warn("match finish hook failed",
				zap.String("match", m.id), zap.Error(err))
		}
	}
	m.channel.Publish(engine.Event{Type: engine.EventGameOver, Reason: reason})
	m.mg.log.Info("match over",
		zap.String("match", m.id), zap.String("game", m.info.Name),
		zap.String("reason", string(reason)))
}

// View builds the framed view model for one participant.
func (m *Match) View(identity string, role Role, ev engine.Event) MatchView {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := MatchView{
		MatchID: m.id,
		Game:    m.info.Name,
		You:     identity,
		Role:    role,
		Event:   ev.Type,
		Actor:   ev.Actor,
		State:   m.game.View(identity),
		Over:    m.over,
		Reason:  m.endReason,
	}
	if m.over && role == RolePlayer {
		v.Outcome = m.game.Winner(identity).String()
	}
	return v
}

// Over reports whether the match has concluded.
func (m *Match) Over() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.over
}

// MatchSession is one seated participant's event loop.
type MatchSession struct {
	id       string
	match    *Match
	identity string
	role     Role
	handle   render.Handle
	consumer *broadcast.Consumer[engine.Event]
	idle     *timer.Timer
	done     chan struct{}
}

func (s *MatchSession) ID() string            { return s.id }
func (s *MatchSession) Identity() string      { return s.identity }
func (s *MatchSession) Match() *Match         { return s.match }
func (s *MatchSession) Done() <-chan struct{} { return s.done }

// Touch resets the inactivity timer; call it on any client activity.
func (s *MatchSession) Touch() { s.idle.Reset(s.match.mg.matchIdle) }

// Submit routes a move from this participant into the match.
func (s *MatchSession) Submit(ctx context.Context, move any) (any, error) {
	s.Touch()
	return s.match.Submit(ctx, s.identity, move)
}

// Leave withdraws this participant from the match.
func (s *MatchSession) Leave(ctx context.Context) { s.match.Abandon(ctx, s.identity) }

func (s *MatchSession) onIdle() {
	s.match.Timeout(context.Background(), s.identity)
}

func (s *MatchSession) loop(ctx context.Context) {
	defer close(s.done)
	defer s.idle.Stop()
	defer s.consumer.Close()

	if !s.render(ctx, engine.Event{}) {
		return
	}
	for ev := range s.consumer.Events() {
		if !s.render(ctx, ev) {
			return
		}
		if ev.Type == engine.EventGameOver {
			return
		}
		if ev.Actor == s.identity &&
			(ev.Type == engine.EventTimeout ||
				(ev.Type == engine.EventPlayers && ev.Change == engine.ChangeLeave)) {
			// own departure from a continuing match; the render above was
			// the goodbye frame
			return
		}
	}
}

func (s *MatchSession) render(ctx context.Context, ev engine.Event) bool {
	if err := s.handle.Update(ctx, s.match.View(s.identity, s.role, ev)); err != nil {
		s.match.mg.log.Debug("render failed, abandoning match",
			zap.String("identity", s.identity), zap.Error(err))
		s.match.Abandon(ctx, s.identity)
		return false
	}
	return true
}
