// Package engine defines the contract every turn-based game implements,
// the metadata the lobby needs to matchmake it, and the event vocabulary
// published on lobby and match broadcast channels.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var ErrWrongTurn = errors.New("not your turn")
var ErrIllegalMove = errors.New("illegal move")
var ErrUnknownMove = errors.New("unknown move type")
var ErrNotPlaying = errors.New("not a player in this game")
var ErrMatchOver = errors.New("match already over")

// Outcome is the result of a game for one participant. The base contract
// does not distinguish a draw from a loss.
type Outcome int

const (
	NotOver Outcome = iota
	Won
	DrawnOrLost
)

func (o Outcome) String() string {
	switch o {
	case Won:
		return "won"
	case DrawnOrLost:
		return "drawn_or_lost"
	default:
		return "not_over"
	}
}

// Game is the minimal state-machine surface the session layer drives.
// Implementations are not safe for concurrent use; the match that owns a
// Game serializes all calls.
type Game interface {
	// Update applies one move by actor. The move payload and result are
	// game-specific.
	Update(actor string, move any) (any, error)
	// Ended reports whether the game has concluded.
	Ended() bool
	// Winner reports the outcome for one participant.
	Winner(player string) Outcome
	// View builds the viewer-specific render model for the current state.
	View(viewer string) any
}

// Dropper is implemented by games that can lose a participant mid-match
// and keep going (TimeoutDropsPlayer policy).
type Dropper interface {
	DropParticipant(id string)
}

// Finisher is implemented by games with end-of-match side effects, such
// as persisting a new best score.
type Finisher interface {
	Finish(ctx context.Context) error
}

// TimeoutPolicy decides what a participant's inactivity timeout does to a
// running match.
type TimeoutPolicy int

const (
	// TimeoutEndsMatch terminates the match for everyone.
	TimeoutEndsMatch TimeoutPolicy = iota
	// TimeoutDropsPlayer removes the participant and continues; the match
	// ends once fewer than two players remain.
	TimeoutDropsPlayer
)

// Unlimited disables a player or spectator cap.
const Unlimited = -1

// Info describes one registered game type.
type Info struct {
	Name          string
	MinPlayers    int
	MaxPlayers    int // Unlimited for no cap
	MaxSpectators int // Unlimited for no cap, 0 for none
	// WaitTime is the public-queue start countdown armed when MinPlayers
	// is reached.
	WaitTime time.Duration
	Timeout  TimeoutPolicy
	// New constructs the game with the popped players in seating order.
	// options is the raw per-party options payload supplied by the party
	// creator, nil for defaults; games without options ignore it.
	New func(ctx context.Context, players []string, options json.RawMessage) (Game, error)
}

// EventType tags events published on lobby and match channels.
type EventType string

const (
	// EventPlayers: lobby membership changed.
	EventPlayers EventType = "PLAYERS"
	// EventStarted: the lobby handed its popped participants to a match.
	EventStarted EventType = "STARTED"
	// EventMove: a move was applied to the match.
	EventMove EventType = "MOVE_MADE"
	// EventTimeout: a participant's inactivity timer fired mid-match.
	EventTimeout EventType = "TIMEOUT"
	// EventGameOver: the match concluded.
	EventGameOver EventType = "GAME_OVER"
)

// ChangeKind qualifies an EventPlayers event.
type ChangeKind string

const (
	ChangeJoin     ChangeKind = "join"
	ChangeLeave    ChangeKind = "leave"
	ChangeSpectate ChangeKind = "spectate"
)

// EndReason qualifies an EventGameOver event.
type EndReason string

const (
	EndPlayed    EndReason = "played"
	EndTimeout   EndReason = "timeout"
	EndAbandoned EndReason = "abandoned"
)

// Event is one notification on a lobby or match channel.
type Event struct {
	Type  EventType
	Actor string

	// EventPlayers
	Change ChangeKind

	// EventStarted: identities popped into the match, FIFO by join order.
	Players    []string
	Spectators []string

	// EventGameOver
	Reason EndReason
}
