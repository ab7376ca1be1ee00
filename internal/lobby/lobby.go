// Package lobby implements matchmaking: a process-wide registry of
// waiting parties keyed by game and host, join/leave/spectate/start
// operations, and the threshold triggers that hand a full party off to a
// running match. The empty host id is the public matchmaking queue for
// that game.
package lobby

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openarcade/arcade-backend/internal/broadcast"
	"github.com/openarcade/arcade-backend/internal/engine"
	"github.com/openarcade/arcade-backend/internal/render"
	"github.com/openarcade/arcade-backend/internal/timer"
)

var ErrUnknownGame = errors.New("unknown game")
var ErrLobbyFull = errors.New("lobby is full")
var ErrAlreadyQueued = errors.New("already queued in this lobby")
var ErrNotQueued = errors.New("not queued in this lobby")
var ErrNotHost = errors.New("not the host of this lobby")
var ErrTooFewPlayers = errors.New("too few players to start")

// Participant is one queued identity together with its render target.
type Participant struct {
	ID     string
	Handle render.Handle
}

// Launch receives the popped participants of a started party, in join
// order, plus the party creator's game options. The registry calls it
// outside any lobby lock; the session layer constructs the game and
// match sessions from it.
type Launch func(ctx context.Context, info engine.Info, options json.RawMessage, players, spectators []Participant)

// Config wires a Registry.
type Config struct {
	// Games maps game id to its registered metadata.
	Games map[string]engine.Info
	// IsHost authorizes a forced start. Defaults to identity == host for
	// non-empty hosts; the public queue can never be force-started.
	IsHost func(identity, host string) bool
	// Launch is the start handoff. Nil means started parties go nowhere,
	// which is only useful in tests.
	Launch Launch
	Logger *zap.Logger
}

type partyKey struct{ game, host string }

// seat tracks one identity's membership in any party of one game.
type seat struct{ game, identity string }

// Registry is the process-wide table of waiting parties. The seat index
// enforces that an identity is queued in at most one party per game.
type Registry struct {
	cfg Config
	log *zap.Logger

	mu      sync.Mutex
	parties map[partyKey]*Party
	queued  map[seat]struct{}
}

func NewRegistry(cfg Config) *Registry {
	if cfg.IsHost == nil {
		cfg.IsHost = func(identity, host string) bool {
			return host != "" && identity == host
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Registry{
		cfg:     cfg,
		log:     cfg.Logger,
		parties: make(map[partyKey]*Party),
		queued:  make(map[seat]struct{}),
	}
}

// reserve claims identity's seat for a game; false means it is already
// queued somewhere for that game.
func (r *Registry) reserve(game, identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := seat{game: game, identity: identity}
	if _, taken := r.queued[s]; taken {
		return false
	}
	r.queued[s] = struct{}{}
	return true
}

func (r *Registry) release(game string, ids ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		delete(r.queued, seat{game: game, identity: id})
	}
}

// Games lists the registered game metadata.
func (r *Registry) Games() map[string]engine.Info { return r.cfg.Games }

// party returns the waiting party for (game, host), creating it if
// absent. A newly created party takes the creator's game options; on an
// existing party they are ignored. Callers must re-check removed under
// the party lock: a party can be started or emptied between lookup and
// lock.
func (r *Registry) party(gameID, hostID string, info engine.Info, options json.RawMessage) *Party {
	key := partyKey{game: gameID, host: hostID}
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.parties[key]; ok {
		return p
	}
	p := &Party{
		reg:     r,
		key:     key,
		info:    info,
		options: options,
		channel: broadcast.New[engine.Event](),
	}
	r.parties[key] = p
	return p
}

func (r *Registry) lookup(gameID, hostID string) *Party {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.parties[partyKey{game: gameID, host: hostID}]
}

// Join queues identity as a player. On success the returned consumer is
// already registered, so the caller observes its own join event. The
// triggering join may start the match before Join returns. options
// configure the game when this join creates the party.
func (r *Registry) Join(ctx context.Context, gameID, hostID, identity string, h render.Handle, options json.RawMessage) (*Party, *broadcast.Consumer[engine.Event], error) {
	info, ok := r.cfg.Games[gameID]
	if !ok {
		return nil, nil, ErrUnknownGame
	}
	for {
		p := r.party(gameID, hostID, info, options)
		p.mu.Lock()
		if p.removed {
			p.mu.Unlock()
			continue // started or emptied underneath us, take a fresh party
		}
		c, pd, err := p.joinLocked(identity, h)
		p.mu.Unlock()
		if err != nil {
			return nil, nil, err
		}
		if pd != nil {
			r.launch(ctx, pd)
		}
		r.log.Debug("player queued",
			zap.String("game", gameID), zap.String("host", hostID),
			zap.String("identity", identity))
		return p, c, nil
	}
}

// Spectate queues identity as a spectator.
func (r *Registry) Spectate(ctx context.Context, gameID, hostID, identity string, h render.Handle) (*Party, *broadcast.Consumer[engine.Event], error) {
	info, ok := r.cfg.Games[gameID]
	if !ok {
		return nil, nil, ErrUnknownGame
	}
	for {
		p := r.party(gameID, hostID, info, nil)
		p.mu.Lock()
		if p.removed {
			p.mu.Unlock()
			continue
		}
		c, pd, err := p.spectateLocked(identity, h)
		p.mu.Unlock()
		if err != nil {
			return nil, nil, err
		}
		if pd != nil {
			r.launch(ctx, pd)
		}
		return p, c, nil
	}
}

// Leave removes identity from the party. Leaving below the player
// threshold cancels a pending scheduled start; a party left with nobody
// in it is removed from the registry.
func (r *Registry) Leave(ctx context.Context, gameID, hostID, identity string) error {
	p := r.lookup(gameID, hostID)
	if p == nil {
		return ErrNotQueued
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.removed || !p.dropLocked(identity) {
		return ErrNotQueued
	}
	r.release(gameID, identity)
	p.channel.Publish(engine.Event{
		Type: engine.EventPlayers, Actor: identity, Change: engine.ChangeLeave,
	})
	if p.key.host == "" && len(p.players) < p.info.MinPlayers {
		p.stopTimerLocked()
	}
	if len(p.players) == 0 && len(p.spectators) == 0 {
		p.removeLocked()
	}
	r.log.Debug("player left",
		zap.String("game", gameID), zap.String("host", hostID),
		zap.String("identity", identity))
	return nil
}

// Start is a host-forced start.
func (r *Registry) Start(ctx context.Context, gameID, hostID, identity string) error {
	p := r.lookup(gameID, hostID)
	if p == nil {
		return ErrNotQueued
	}
	p.mu.Lock()
	if p.removed {
		p.mu.Unlock()
		return ErrNotQueued
	}
	if !r.cfg.IsHost(identity, p.key.host) {
		p.mu.Unlock()
		return ErrNotHost
	}
	if len(p.players) < p.info.MinPlayers {
		p.mu.Unlock()
		return ErrTooFewPlayers
	}
	pd := p.startLocked()
	p.mu.Unlock()
	r.launch(ctx, pd)
	return nil
}

func (r *Registry) launch(ctx context.Context, pd *pendingStart) {
	r.log.Info("match starting",
		zap.String("game", pd.info.Name),
		zap.Int("players", len(pd.players)),
		zap.Int("spectators", len(pd.spectators)))
	if r.cfg.Launch != nil {
		r.cfg.Launch(ctx, pd.info, pd.options, pd.players, pd.spectators)
	}
}

// Party is one waiting party: the queued players and spectators of a
// (game, host) pair, its event channel, and the pending start timer of
// the public queue.
type Party struct {
	reg     *Registry
	key     partyKey
	info    engine.Info
	options json.RawMessage // game options from the party creator
	channel *broadcast.Channel[engine.Event]

	mu         sync.Mutex
	players    []Participant
	spectators []Participant
	start      *timer.Timer
	startsAt   *time.Time
	removed    bool
}

// pendingStart is the popped membership of a started party, handed to
// Launch after the party lock is released.
type pendingStart struct {
	info       engine.Info
	options    json.RawMessage
	players    []Participant
	spectators []Participant
}

func (p *Party) Game() engine.Info { return p.info }

// Snapshot builds the lobby view model for one viewer.
func (p *Party) Snapshot(you string) render.LobbyView {
	p.mu.Lock()
	defer p.mu.Unlock()
	v := render.LobbyView{
		Game:       p.info.Name,
		Host:       p.key.host,
		Players:    identities(p.players),
		Spectators: identities(p.spectators),
		MinPlayers: p.info.MinPlayers,
		MaxPlayers: p.info.MaxPlayers,
		You:        you,
		CanStart:   p.reg.cfg.IsHost(you, p.key.host) && len(p.players) >= p.info.MinPlayers,
	}
	if p.startsAt != nil {
		at := *p.startsAt
		v.StartsAt = &at
	}
	if p.removed || !p.hasLocked(you) {
		v.Left = true
	}
	return v
}

func (p *Party) joinLocked(identity string, h render.Handle) (*broadcast.Consumer[engine.Event], *pendingStart, error) {
	if p.hasLocked(identity) {
		return nil, nil, ErrAlreadyQueued
	}
	if p.info.MaxPlayers != engine.Unlimited && len(p.players) >= p.info.MaxPlayers {
		return nil, nil, ErrLobbyFull
	}
	if !p.reg.reserve(p.key.game, identity) {
		// queued in another party of the same game
		return nil, nil, ErrAlreadyQueued
	}
	p.players = append(p.players, Participant{ID: identity, Handle: h})
	c := p.channel.Register()
	p.channel.Publish(engine.Event{
		Type: engine.EventPlayers, Actor: identity, Change: engine.ChangeJoin,
	})

	// Trigger order matters: a full party starts now, otherwise reaching
	// the minimum on the public queue arms the countdown.
	if p.info.MaxPlayers != engine.Unlimited &&
		len(p.players) == p.info.MaxPlayers &&
		len(p.spectators) >= capOrZero(p.info.MaxSpectators) {
		return c, p.startLocked(), nil
	}
	if p.key.host == "" && len(p.players) == p.info.MinPlayers &&
		p.info.WaitTime > 0 && p.start == nil {
		p.armTimerLocked()
	}
	return c, nil, nil
}

func (p *Party) spectateLocked(identity string, h render.Handle) (*broadcast.Consumer[engine.Event], *pendingStart, error) {
	if p.hasLocked(identity) {
		return nil, nil, ErrAlreadyQueued
	}
	if p.info.MaxSpectators != engine.Unlimited && len(p.spectators) >= p.info.MaxSpectators {
		return nil, nil, ErrLobbyFull
	}
	if !p.reg.reserve(p.key.game, identity) {
		return nil, nil, ErrAlreadyQueued
	}
	p.spectators = append(p.spectators, Participant{ID: identity, Handle: h})
	c := p.channel.Register()
	p.channel.Publish(engine.Event{
		Type: engine.EventPlayers, Actor: identity, Change: engine.ChangeSpectate,
	})

	if p.info.MaxSpectators != engine.Unlimited &&
		len(p.spectators) == p.info.MaxSpectators &&
		len(p.players) >= capOrZero(p.info.MaxPlayers) {
		return c, p.startLocked(), nil
	}
	return c, nil, nil
}

func (p *Party) armTimerLocked() {
	at := time.Now().Add(p.info.WaitTime)
	p.startsAt = &at
	p.start = timer.After(p.info.WaitTime, p.onTimer)
}

func (p *Party) stopTimerLocked() {
	if p.start != nil {
		p.start.Stop()
		p.start = nil
		p.startsAt = nil
	}
}

// onTimer is the scheduled public-queue start. The party may have
// changed arbitrarily since the countdown was armed, so everything is
// re-validated under the lock.
func (p *Party) onTimer() {
	p.mu.Lock()
	if p.removed {
		p.mu.Unlock()
		return
	}
	p.start = nil
	p.startsAt = nil
	if len(p.players) < p.info.MinPlayers {
		// scheduled start dropped, the lobby itself survives
		p.mu.Unlock()
		return
	}
	pd := p.startLocked()
	p.mu.Unlock()
	p.reg.launch(context.Background(), pd)
}

// startLocked runs the start sequence: cancel the countdown, pop players
// and spectators FIFO up to the caps, publish STARTED with the popped
// identities, and drop the party record when it is private or emptied.
// Leftover public-queue members stay queued.
func (p *Party) startLocked() *pendingStart {
	p.stopTimerLocked()

	np := len(p.players)
	if p.info.MaxPlayers != engine.Unlimited && p.info.MaxPlayers < np {
		np = p.info.MaxPlayers
	}
	ns := len(p.spectators)
	if p.info.MaxSpectators != engine.Unlimited && p.info.MaxSpectators < ns {
		ns = p.info.MaxSpectators
	}
	pd := &pendingStart{
		info:       p.info,
		options:    p.options,
		players:    append([]Participant(nil), p.players[:np]...),
		spectators: append([]Participant(nil), p.spectators[:ns]...),
	}
	p.channel.Publish(engine.Event{
		Type:       engine.EventStarted,
		Players:    identities(pd.players),
		Spectators: identities(pd.spectators),
	})
	p.players = append([]Participant(nil), p.players[np:]...)
	p.spectators = append([]Participant(nil), p.spectators[ns:]...)
	p.reg.release(p.key.game, identities(pd.players)...)
	p.reg.release(p.key.game, identities(pd.spectators)...)

	if p.key.host != "" || (len(p.players) == 0 && len(p.spectators) == 0) {
		p.removeLocked()
	}
	return pd
}

func (p *Party) dropLocked(identity string) bool {
	for i, m := range p.players {
		if m.ID == identity {
			p.players = append(p.players[:i], p.players[i+1:]...)
			return true
		}
	}
	for i, m := range p.spectators {
		if m.ID == identity {
			p.spectators = append(p.spectators[:i], p.spectators[i+1:]...)
			return true
		}
	}
	return false
}

func (p *Party) hasLocked(identity string) bool {
	for _, m := range p.players {
		if m.ID == identity {
			return true
		}
	}
	for _, m := range p.spectators {
		if m.ID == identity {
			return true
		}
	}
	return false
}

// removeLocked drops the party from the registry. Lock order is party
// then registry, the registry lock is never held while taking a party
// lock with work pending under it.
func (p *Party) removeLocked() {
	if p.removed {
		return
	}
	p.removed = true
	p.stopTimerLocked()
	p.reg.release(p.key.game, identities(p.players)...)
	p.reg.release(p.key.game, identities(p.spectators)...)
	p.reg.mu.Lock()
	delete(p.reg.parties, p.key)
	p.reg.mu.Unlock()
}

func capOrZero(n int) int {
	if n == engine.Unlimited {
		return 0
	}
	return n
}

func identities(ms []Participant) []string {
	ids := make([]string, len(ms))
	for i, m := range ms {
		ids[i] = m.ID
	}
	return ids
}
