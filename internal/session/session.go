// Package session runs the per-participant lifecycle: one lobby session
// per queued identity, one match session per seated identity, each
// consuming its broadcast channel, re-rendering through its handle and
// owning an inactivity timer.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openarcade/arcade-backend/internal/broadcast"
	"github.com/openarcade/arcade-backend/internal/engine"
	"github.com/openarcade/arcade-backend/internal/lobby"
	"github.com/openarcade/arcade-backend/internal/render"
	"github.com/openarcade/arcade-backend/internal/timer"
)

const (
	// DefaultLobbyIdle is how long a queued participant may stay silent
	// before being treated as gone.
	DefaultLobbyIdle = 600 * time.Second
	// DefaultMatchIdle is the in-match inactivity limit.
	DefaultMatchIdle = 600 * time.Second
)

// Attacher is implemented by render handles that follow their
// participant from lobby to match; the websocket connection does, so it
// can route subsequent moves to the right match session.
type Attacher interface {
	AttachMatch(s *MatchSession)
}

// Config wires a Manager.
type Config struct {
	LobbyIdle time.Duration
	MatchIdle time.Duration
	Logger    *zap.Logger
}

// Manager creates sessions and receives start handoffs from the lobby
// registry.
type Manager struct {
	lobbyIdle time.Duration
	matchIdle time.Duration
	log       *zap.Logger
	reg       *lobby.Registry
}

func NewManager(cfg Config) *Manager {
	if cfg.LobbyIdle <= 0 {
		cfg.LobbyIdle = DefaultLobbyIdle
	}
	if cfg.MatchIdle <= 0 {
		cfg.MatchIdle = DefaultMatchIdle
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Manager{
		lobbyIdle: cfg.LobbyIdle,
		matchIdle: cfg.MatchIdle,
		log:       cfg.Logger,
	}
}

// Bind points the manager at the registry whose Launch it serves. Call
// once at wiring time, before any session exists.
func (mg *Manager) Bind(reg *lobby.Registry) { mg.reg = reg }

// JoinLobby queues identity as a player and runs a lobby session for it.
// options configure the game when this join creates the party.
func (mg *Manager) JoinLobby(ctx context.Context, gameID, hostID, identity string, h render.Handle, options json.RawMessage) (*LobbySession, error) {
	party, c, err := mg.reg.Join(ctx, gameID, hostID, identity, h, options)
	if err != nil {
		return nil, err
	}
	return mg.runLobbySession(ctx, party, c, gameID, hostID, identity, h), nil
}

// SpectateLobby queues identity as a spectator and runs a lobby session.
func (mg *Manager) SpectateLobby(ctx context.Context, gameID, hostID, identity string, h render.Handle) (*LobbySession, error) {
	party, c, err := mg.reg.Spectate(ctx, gameID, hostID, identity, h)
	if err != nil {
		return nil, err
	}
	return mg.runLobbySession(ctx, party, c, gameID, hostID, identity, h), nil
}

func (mg *Manager) runLobbySession(ctx context.Context, party *lobby.Party, c *broadcast.Consumer[engine.Event], gameID, hostID, identity string, h render.Handle) *LobbySession {
	s := &LobbySession{
		id:       uuid.NewString(),
		mg:       mg,
		party:    party,
		consumer: c,
		gameID:   gameID,
		hostID:   hostID,
		identity: identity,
		handle:   h,
		done:     make(chan struct{}),
	}
	s.idle = timer.After(mg.lobbyIdle, s.onIdle)
	go s.loop(ctx)
	return s
}

// LobbySession is one queued participant's event loop. It terminates
// when its own leave is observed or when a start pops it into a match.
type LobbySession struct {
	id       string
	mg       *Manager
	party    *lobby.Party
	consumer *broadcast.Consumer[engine.Event]
	gameID   string
	hostID   string
	identity string
	handle   render.Handle
	idle     *timer.Timer
	done     chan struct{}
}

func (s *LobbySession) ID() string       { return s.id }
func (s *LobbySession) Identity() string { return s.identity }

// Done is closed when the session has terminated.
func (s *LobbySession) Done() <-chan struct{} { return s.done }

// Touch resets the inactivity timer; call it on any client activity.
func (s *LobbySession) Touch() { s.idle.Reset(s.mg.lobbyIdle) }

// Leave withdraws this participant from its party.
func (s *LobbySession) Leave(ctx context.Context) error {
	return s.mg.reg.Leave(ctx, s.gameID, s.hostID, s.identity)
}

// Start force-starts the party; only an authorized host may.
func (s *LobbySession) Start(ctx context.Context) error {
	return s.mg.reg.Start(ctx, s.gameID, s.hostID, s.identity)
}

// onIdle treats a silent participant as having left. A fire racing the
// session's own teardown is harmless: Leave fails NotQueued.
func (s *LobbySession) onIdle() {
	if err := s.Leave(context.Background()); err != nil && !errors.Is(err, lobby.ErrNotQueued) {
		s.mg.log.Warn("idle leave failed",
			zap.String("identity", s.identity), zap.Error(err))
	}
}

func (s *LobbySession) loop(ctx context.Context) {
	defer close(s.done)
	defer s.idle.Stop()
	defer s.consumer.Close()

	if !s.renderLobby(ctx) {
		return
	}
	for ev := range s.consumer.Events() {
		switch ev.Type {
		case engine.EventPlayers:
			if ev.Actor == s.identity && ev.Change == engine.ChangeLeave {
				// final render shows the summary of the party we left
				_ = s.handle.Update(ctx, s.party.Snapshot(s.identity))
				return
			}
			if !s.renderLobby(ctx) {
				return
			}
		case engine.EventStarted:
			if contains(ev.Players, s.identity) || contains(ev.Spectators, s.identity) {
				// a match session took over, nothing more to do here
				return
			}
			// not popped this round, keep waiting
			if !s.renderLobby(ctx) {
				return
			}
		}
	}
}

// renderLobby pushes the current view; a failed render is an implicit
// leave for this participant only.
func (s *LobbySession) renderLobby(ctx context.Context) bool {
	if err := s.handle.Update(ctx, s.party.Snapshot(s.identity)); err != nil {
		s.mg.log.Debug("render failed, leaving lobby",
			zap.String("identity", s.identity), zap.Error(err))
		_ = s.Leave(ctx)
		return false
	}
	return true
}

func contains(ids []string, id string) bool {
	for _, other := range ids {
		if other == id {
			return true
		}
	}
	return false
}
