package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openarcade/arcade-backend/internal/engine"
	"github.com/openarcade/arcade-backend/internal/engine/connect4"
	"github.com/openarcade/arcade-backend/internal/lobby"
)

// captureHandle records rendered views and the match session attachment.
type captureHandle struct {
	attached chan *MatchSession
	views    chan any
}

func newCaptureHandle() *captureHandle {
	return &captureHandle{
		attached: make(chan *MatchSession, 1),
		views:    make(chan any, 64),
	}
}

func (h *captureHandle) Update(_ context.Context, view any) error {
	select {
	case h.views <- view:
	default:
	}
	return nil
}

func (h *captureHandle) AttachMatch(s *MatchSession) { h.attached <- s }

func (h *captureHandle) waitAttach(t *testing.T) *MatchSession {
	t.Helper()
	select {
	case s := <-h.attached:
		return s
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for match attachment")
		return nil
	}
}

// waitMatchView drains rendered views until one satisfies ok.
func (h *captureHandle) waitMatchView(t *testing.T, ok func(MatchView) bool) MatchView {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case view := <-h.views:
			if mv, is := view.(MatchView); is && ok(mv) {
				return mv
			}
		case <-deadline:
			t.Fatal("timed out waiting for match view")
			return MatchView{}
		}
	}
}

// failHandle rejects every render, simulating a gone connection.
type failHandle struct{}

func (failHandle) Update(context.Context, any) error { return errors.New("connection gone") }

func newTestEnv(t *testing.T, cfg Config, infos ...engine.Info) *Manager {
	t.Helper()
	games := make(map[string]engine.Info, len(infos))
	for _, info := range infos {
		games[info.Name] = info
	}
	mgr := NewManager(cfg)
	reg := lobby.NewRegistry(lobby.Config{Games: games, Launch: mgr.Launch})
	mgr.Bind(reg)
	return mgr
}

func TestJoin_SecondJoinStartsMatchSynchronously(t *testing.T) {
	ctx := context.Background()
	mgr := newTestEnv(t, Config{}, connect4.Info())
	alice, bob := newCaptureHandle(), newCaptureHandle()

	ls, err := mgr.JoinLobby(ctx, "connect4", "", "alice", alice, nil)
	require.NoError(t, err)
	_, err = mgr.JoinLobby(ctx, "connect4", "", "bob", bob, nil)
	require.NoError(t, err)

	sa := alice.waitAttach(t)
	sb := bob.waitAttach(t)
	require.Equal(t, sa.Match(), sb.Match())

	// the superseded lobby session winds down on its own
	select {
	case <-ls.Done():
	case <-time.After(time.Second):
		t.Fatal("lobby session did not terminate after start")
	}

	// first popped player moves first on an empty board
	mv := alice.waitMatchView(t, func(v MatchView) bool { return v.Role == RolePlayer })
	state := mv.State.(connect4.View)
	require.Equal(t, "alice", state.Blue)
	require.Equal(t, "blue", state.Next)
	require.True(t, state.YourTurn)
	for _, row := range state.Board {
		require.Equal(t, ".......", row)
	}

	_, err = sb.Submit(ctx, connect4.Move{Column: 3})
	require.ErrorIs(t, err, engine.ErrWrongTurn)

	// four alternating stacked moves do not end anything
	for i, s := range []*MatchSession{sa, sb, sa, sb} {
		res, err := s.Submit(ctx, connect4.Move{Column: 3})
		require.NoError(t, err)
		require.Equal(t, connect4.MoveResult{Row: connect4.Dim - 1 - i, Column: 3}, res)
	}
	require.False(t, sa.Match().Over())
}

func TestMatch_WinPublishesGameOver(t *testing.T) {
	ctx := context.Background()
	mgr := newTestEnv(t, Config{}, connect4.Info())
	alice, bob := newCaptureHandle(), newCaptureHandle()

	_, err := mgr.JoinLobby(ctx, "connect4", "", "alice", alice, nil)
	require.NoError(t, err)
	_, err = mgr.JoinLobby(ctx, "connect4", "", "bob", bob, nil)
	require.NoError(t, err)
	sa, sb := alice.waitAttach(t), bob.waitAttach(t)

	// alice stacks column 0 to four while bob stacks column 1 to three
	for i := 0; i < 3; i++ {
		_, err = sa.Submit(ctx, connect4.Move{Column: 0})
		require.NoError(t, err)
		_, err = sb.Submit(ctx, connect4.Move{Column: 1})
		require.NoError(t, err)
	}
	_, err = sa.Submit(ctx, connect4.Move{Column: 0})
	require.NoError(t, err)

	over := alice.waitMatchView(t, func(v MatchView) bool { return v.Event == engine.EventGameOver })
	require.Equal(t, engine.EndPlayed, over.Reason)
	require.Equal(t, "won", over.Outcome)

	over = bob.waitMatchView(t, func(v MatchView) bool { return v.Event == engine.EventGameOver })
	require.Equal(t, "drawn_or_lost", over.Outcome)

	_, err = sb.Submit(ctx, connect4.Move{Column: 1})
	require.ErrorIs(t, err, engine.ErrMatchOver)
}

func TestMatchTimeout_EndsMatchPolicy(t *testing.T) {
	ctx := context.Background()
	mgr := newTestEnv(t, Config{MatchIdle: 40 * time.Millisecond}, connect4.Info())
	alice, bob := newCaptureHandle(), newCaptureHandle()

	_, err := mgr.JoinLobby(ctx, "connect4", "", "alice", alice, nil)
	require.NoError(t, err)
	_, err = mgr.JoinLobby(ctx, "connect4", "", "bob", bob, nil)
	require.NoError(t, err)
	alice.waitAttach(t)
	bob.waitAttach(t)

	over := alice.waitMatchView(t, func(v MatchView) bool { return v.Event == engine.EventGameOver })
	require.Equal(t, engine.EndTimeout, over.Reason)
}

// fakeGame is a minimal drops-player game for exercising the policy
// without a third seat in any real engine.
type fakeGame struct {
	mu      sync.Mutex
	ended   bool
	dropped []string
}

func (g *fakeGame) Update(actor string, move any) (any, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if move == "last" {
		g.ended = true
	}
	return move, nil
}

func (g *fakeGame) Ended() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ended
}

func (g *fakeGame) Winner(string) engine.Outcome {
	if g.Ended() {
		return engine.Won
	}
	return engine.NotOver
}

func (g *fakeGame) View(string) any { return "state" }

func (g *fakeGame) DropParticipant(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dropped = append(g.dropped, id)
}

func TestMatchTimeout_DropsPlayerPolicy(t *testing.T) {
	ctx := context.Background()
	game := &fakeGame{}
	info := engine.Info{
		Name: "trio", MinPlayers: 3, MaxPlayers: 3,
		Timeout: engine.TimeoutDropsPlayer,
		New: func(context.Context, []string, json.RawMessage) (engine.Game, error) {
			return game, nil
		},
	}
	mgr := newTestEnv(t, Config{}, info)

	handles := map[string]*captureHandle{
		"alice": newCaptureHandle(), "bob": newCaptureHandle(), "carol": newCaptureHandle(),
	}
	var players []lobby.Participant
	for _, id := range []string{"alice", "bob", "carol"} {
		players = append(players, lobby.Participant{ID: id, Handle: handles[id]})
	}
	mgr.Launch(ctx, info, nil, players, nil)
	m := handles["alice"].waitAttach(t).Match()

	// dropping one of three keeps the match alive
	m.Timeout(ctx, "bob")
	require.False(t, m.Over())
	require.Equal(t, []string{"bob"}, game.dropped)

	// dropping to a single player ends it
	m.Timeout(ctx, "carol")
	require.True(t, m.Over())
	over := handles["alice"].waitMatchView(t, func(v MatchView) bool { return v.Event == engine.EventGameOver })
	require.Equal(t, engine.EndTimeout, over.Reason)
}

// watchedMatch launches a fakeGame with two players and one spectator,
// bypassing the lobby.
func watchedMatch(t *testing.T, game *fakeGame) (alice, bob, carol *captureHandle) {
	t.Helper()
	info := engine.Info{
		Name: "watched", MinPlayers: 2, MaxPlayers: 2, MaxSpectators: 1,
		Timeout: engine.TimeoutEndsMatch,
		New: func(context.Context, []string, json.RawMessage) (engine.Game, error) {
			return game, nil
		},
	}
	mgr := newTestEnv(t, Config{}, info)
	alice, bob, carol = newCaptureHandle(), newCaptureHandle(), newCaptureHandle()
	players := []lobby.Participant{{ID: "alice", Handle: alice}, {ID: "bob", Handle: bob}}
	spectators := []lobby.Participant{{ID: "carol", Handle: carol}}
	mgr.Launch(context.Background(), info, nil, players, spectators)
	return alice, bob, carol
}

func TestMatchSpectator_LeaveEndsOnlyTheirSession(t *testing.T) {
	ctx := context.Background()
	game := &fakeGame{}
	alice, _, carol := watchedMatch(t, game)

	sa := alice.waitAttach(t)
	ss := carol.waitAttach(t)
	require.Equal(t, RoleSpectator, ss.role)

	ss.Leave(ctx)
	select {
	case <-ss.Done():
	case <-time.After(time.Second):
		t.Fatal("spectator session did not terminate after leaving")
	}

	// the match carries on untouched by the departure
	require.False(t, sa.Match().Over())
	_, err := sa.Submit(ctx, "move")
	require.NoError(t, err)
	require.Empty(t, game.dropped)
}

func TestMatchSpectator_TimeoutEndsOnlyTheirSession(t *testing.T) {
	ctx := context.Background()
	_, _, carol := watchedMatch(t, &fakeGame{})

	ss := carol.waitAttach(t)
	ss.match.Timeout(ctx, "carol")
	select {
	case <-ss.Done():
	case <-time.After(time.Second):
		t.Fatal("spectator session did not terminate after timing out")
	}
	require.False(t, ss.Match().Over())

	// the goodbye frame is timeout-flavored
	mv := carol.waitMatchView(t, func(v MatchView) bool { return v.Actor == "carol" })
	require.Equal(t, engine.EventTimeout, mv.Event)
	require.False(t, mv.Over)
}

func TestMatchAbandon_SiblingsSeeLeaveNotTimeout(t *testing.T) {
	ctx := context.Background()
	game := &fakeGame{}
	info := engine.Info{
		Name: "trio", MinPlayers: 3, MaxPlayers: 3,
		Timeout: engine.TimeoutDropsPlayer,
		New: func(context.Context, []string, json.RawMessage) (engine.Game, error) {
			return game, nil
		},
	}
	mgr := newTestEnv(t, Config{}, info)

	handles := map[string]*captureHandle{
		"alice": newCaptureHandle(), "bob": newCaptureHandle(), "carol": newCaptureHandle(),
	}
	var players []lobby.Participant
	for _, id := range []string{"alice", "bob", "carol"} {
		players = append(players, lobby.Participant{ID: id, Handle: handles[id]})
	}
	mgr.Launch(ctx, info, nil, players, nil)

	sb := handles["bob"].waitAttach(t)
	sb.Leave(ctx)
	select {
	case <-sb.Done():
	case <-time.After(time.Second):
		t.Fatal("leaving player's session did not terminate")
	}

	// a walk-out is framed as a leave, not a stall
	mv := handles["alice"].waitMatchView(t, func(v MatchView) bool { return v.Actor == "bob" })
	require.Equal(t, engine.EventPlayers, mv.Event)
	require.False(t, sb.Match().Over())
	require.Equal(t, []string{"bob"}, game.dropped)
}

func TestLobbySession_IdleLeaves(t *testing.T) {
	ctx := context.Background()
	mgr := newTestEnv(t, Config{LobbyIdle: 40 * time.Millisecond}, connect4.Info())
	alice := newCaptureHandle()

	ls, err := mgr.JoinLobby(ctx, "connect4", "", "alice", alice, nil)
	require.NoError(t, err)

	select {
	case <-ls.Done():
	case <-time.After(time.Second):
		t.Fatal("idle lobby session did not terminate")
	}
	// the party emptied out with it
	require.ErrorIs(t, ls.Leave(ctx), lobby.ErrNotQueued)
}

func TestLobbySession_RenderFailureIsImplicitLeave(t *testing.T) {
	ctx := context.Background()
	mgr := newTestEnv(t, Config{}, engine.Info{
		Name: "slow", MinPlayers: 3, MaxPlayers: 5,
	})
	alice := newCaptureHandle()

	_, err := mgr.JoinLobby(ctx, "slow", "", "alice", alice, nil)
	require.NoError(t, err)
	bobSess, err := mgr.JoinLobby(ctx, "slow", "", "bob", failHandle{}, nil)
	require.NoError(t, err)

	select {
	case <-bobSess.Done():
	case <-time.After(time.Second):
		t.Fatal("failing session did not terminate")
	}
	require.Eventually(t, func() bool {
		return !contains(partySnapshot(mgr, ctx, alice), "bob")
	}, time.Second, 10*time.Millisecond, "the unreachable participant must be dropped")
}

// partySnapshot joins a throwaway observer to read the queued players.
func partySnapshot(mgr *Manager, ctx context.Context, h *captureHandle) []string {
	ls, err := mgr.JoinLobby(ctx, "slow", "", "observer", h, nil)
	if err != nil {
		return nil
	}
	defer func() { _ = ls.Leave(ctx) }()
	v := ls.party.Snapshot("observer")
	return v.Players
}
