// Package connect4 implements a 7×7 four-in-a-row game. The first popped
// player takes blue and moves first.
package connect4

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openarcade/arcade-backend/internal/engine"
)

// Dim is the board dimension, rows and columns.
const Dim = 7

type Disc uint8

const (
	Empty Disc = iota
	Blue
	Red
)

func (d Disc) String() string {
	switch d {
	case Blue:
		return "blue"
	case Red:
		return "red"
	default:
		return "none"
	}
}

// Move drops a disc into a column, 0-indexed from the left.
type Move struct {
	Column int `json:"column"`
}

// MoveResult reports where the disc landed.
type MoveResult struct {
	Row    int `json:"row"`
	Column int `json:"column"`
}

type Game struct {
	board [Dim][Dim]Disc // [row][col], row 0 at the top
	next  Disc
	seats map[string]Disc
	blue  string
	red   string
}

// Info describes the game for the lobby. Spectators are uncapped, so a
// full pair of players starts the match immediately.
func Info() engine.Info {
	return engine.Info{
		Name:          "connect4",
		MinPlayers:    2,
		MaxPlayers:    2,
		MaxSpectators: engine.Unlimited,
		WaitTime:      0,
		Timeout:       engine.TimeoutEndsMatch,
		New:           New,
	}
}

func New(_ context.Context, players []string, _ json.RawMessage) (engine.Game, error) {
	if len(players) != 2 {
		return nil, fmt.Errorf("connect4: want 2 players, got %d", len(players))
	}
	return &Game{
		next:  Blue,
		seats: map[string]Disc{players[0]: Blue, players[1]: Red},
		blue:  players[0],
		red:   players[1],
	}, nil
}

func after(d Disc) Disc {
	if d == Blue {
		return Red
	}
	return Blue
}

func (g *Game) Update(actor string, move any) (any, error) {
	if g.Ended() {
		panic("connect4: update after game end")
	}
	color, ok := g.seats[actor]
	if !ok {
		return nil, engine.ErrNotPlaying
	}
	if color != g.next {
		return nil, engine.ErrWrongTurn
	}
	mv, ok := move.(Move)
	if !ok {
		return nil, engine.ErrUnknownMove
	}
	if mv.Column < 0 || mv.Column >= Dim {
		return nil, engine.ErrIllegalMove
	}
	row := -1
	for r := Dim - 1; r >= 0; r-- {
		if g.board[r][mv.Column] == Empty {
			row = r
			break
		}
	}
	if row < 0 {
		return nil, engine.ErrIllegalMove // column full
	}
	g.board[row][mv.Column] = color
	g.next = after(color)
	return MoveResult{Row: row, Column: mv.Column}, nil
}

func (g *Game) Ended() bool {
	if g.winningColor() != Empty {
		return true
	}
	return g.full()
}

func (g *Game) Winner(player string) engine.Outcome {
	if !g.Ended() {
		return engine.NotOver
	}
	if w := g.winningColor(); w != Empty && w == g.seats[player] {
		return engine.Won
	}
	return engine.DrawnOrLost
}

func (g *Game) full() bool {
	for _, row := range g.board {
		for _, cell := range row {
			if cell == Empty {
				return false
			}
		}
	}
	return true
}

func (g *Game) winningColor() Disc {
	for _, color := range []Disc{Blue, Red} {
		if g.hasRun(color) {
			return color
		}
	}
	return Empty
}

func (g *Game) hasRun(color Disc) bool {
	run := func(r, c, dr, dc int) bool {
		for i := 0; i < 4; i++ {
			if g.board[r+i*dr][c+i*dc] != color {
				return false
			}
		}
		return true
	}
	for r := 0; r < Dim; r++ {
		for c := 0; c < Dim-3; c++ {
			if run(r, c, 0, 1) { // -
				return true
			}
		}
	}
	for r := 0; r < Dim-3; r++ {
		for c := 0; c < Dim; c++ {
			if run(r, c, 1, 0) { // |
				return true
			}
		}
	}
	for r := 0; r < Dim-3; r++ {
		for c := 0; c < Dim-3; c++ {
			if run(r, c, 1, 1) { // \
				return true
			}
		}
	}
	for r := 3; r < Dim; r++ {
		for c := 0; c < Dim-3; c++ {
			if run(r, c, -1, 1) { // /
				return true
			}
		}
	}
	return false
}

// View is the per-viewer render model. Rows read top to bottom; cells are
// '.', 'B' or 'R'.
type View struct {
	Board    []string `json:"board"`
	Blue     string   `json:"blue"`
	Red      string   `json:"red"`
	Next     string   `json:"next"`
	You      string   `json:"you"` // your color, or "none" for spectators
	YourTurn bool     `json:"your_turn"`
	Ended    bool     `json:"ended"`
	Outcome  string   `json:"outcome,omitempty"`
}

func (g *Game) View(viewer string) any {
	rows := make([]string, Dim)
	for r := 0; r < Dim; r++ {
		line := make([]byte, Dim)
		for c := 0; c < Dim; c++ {
			switch g.board[r][c] {
			case Blue:
				line[c] = 'B'
			case Red:
				line[c] = 'R'
			default:
				line[c] = '.'
			}
		}
		rows[r] = string(line)
	}
	color := g.seats[viewer]
	v := View{
		Board:    rows,
		Blue:     g.blue,
		Red:      g.red,
		Next:     g.next.String(),
		You:      color.String(),
		YourTurn: color != Empty && color == g.next && !g.Ended(),
		Ended:    g.Ended(),
	}
	if v.Ended {
		v.Outcome = g.Winner(viewer).String()
	}
	return v
}
