// Package numguess implements a binary-search number-guessing game: a
// secret in [1,100] and a fixed budget of tries. Guesses outside the
// already-narrowed bounds are refunded.
package numguess

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"

	"github.com/openarcade/arcade-backend/internal/engine"
)

const (
	DefaultTries = 7
	lowerBound   = 1
	upperBound   = 100
)

// Guess is the only move.
type Guess struct {
	Number int `json:"number"`
}

// Comparison results returned by Update: the sign orders guess against
// the secret, doubled when the guess fell outside the current bounds.
const (
	BelowBounds = -2
	TooLow      = -1
	Exact       = 0
	TooHigh     = +1
	AboveBounds = +2
)

type Game struct {
	player    string
	secret    int
	lastGuess int
	guessed   bool
	curMin    int
	curMax    int
	tries     int
}

// Info registers the game. The party options payload may set the try
// budget.
func Info() engine.Info {
	return engine.Info{
		Name:          "numguess",
		MinPlayers:    1,
		MaxPlayers:    1,
		MaxSpectators: 0,
		Timeout:       engine.TimeoutEndsMatch,
		New: func(ctx context.Context, players []string, raw json.RawMessage) (engine.Game, error) {
			tries := DefaultTries
			if len(raw) > 0 {
				var wire struct {
					Tries int `json:"tries"`
				}
				if err := json.Unmarshal(raw, &wire); err != nil {
					return nil, fmt.Errorf("numguess: bad options: %w", err)
				}
				if wire.Tries < 0 {
					return nil, fmt.Errorf("numguess: bad try budget %d", wire.Tries)
				}
				if wire.Tries > 0 {
					tries = wire.Tries
				}
			}
			return New(ctx, players, tries)
		},
	}
}

func New(_ context.Context, players []string, tries int) (*Game, error) {
	if len(players) != 1 {
		return nil, fmt.Errorf("numguess: want 1 player, got %d", len(players))
	}
	return &Game{
		player: players[0],
		secret: lowerBound + rand.Intn(upperBound-lowerBound+1),
		curMin: lowerBound,
		curMax: upperBound,
		tries:  tries,
	}, nil
}

// Update records a guess and returns the comparison result. Guesses at or
// beyond the narrowed bounds cost no try.
func (g *Game) Update(actor string, move any) (any, error) {
	if g.Ended() {
		panic("numguess: update after game end")
	}
	if actor != g.player {
		return nil, engine.ErrNotPlaying
	}
	mv, ok := move.(Guess)
	if !ok {
		return nil, engine.ErrUnknownMove
	}
	guess := mv.Number
	g.lastGuess = guess
	g.guessed = true
	result := Exact
	switch {
	case guess <= g.curMin:
		g.tries++ // refund for out-of-bounds input
		result = BelowBounds
	case guess < g.secret:
		g.curMin = guess
		result = TooLow
	case guess >= g.curMax:
		g.tries++
		result = AboveBounds
	case guess > g.secret:
		g.curMax = guess
		result = TooHigh
	}
	g.tries--
	return result, nil
}

func (g *Game) outcome() engine.Outcome {
	if g.guessed && g.lastGuess == g.secret {
		return engine.Won
	}
	if g.tries <= 0 {
		return engine.DrawnOrLost
	}
	return engine.NotOver
}

func (g *Game) Ended() bool { return g.outcome() != engine.NotOver }

func (g *Game) Winner(string) engine.Outcome { return g.outcome() }

// View is the per-viewer render model; the secret is only revealed once
// the game has ended.
type View struct {
	Min       int    `json:"min"`
	Max       int    `json:"max"`
	Tries     int    `json:"tries"`
	LastGuess *int   `json:"last_guess,omitempty"`
	Ended     bool   `json:"ended"`
	Outcome   string `json:"outcome,omitempty"`
	Secret    int    `json:"secret,omitempty"`
}

func (g *Game) View(string) any {
	v := View{
		Min:   g.curMin,
		Max:   g.curMax,
		Tries: g.tries,
		Ended: g.Ended(),
	}
	if g.guessed {
		last := g.lastGuess
		v.LastGuess = &last
	}
	if v.Ended {
		v.Outcome = g.outcome().String()
		v.Secret = g.secret
	}
	return v
}
