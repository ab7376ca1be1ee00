// Package pow211 implements a 4×4 tile-merging game: slide tiles, merge
// equal neighbors, reach the winning tile. The win tile is configurable
// and a continue-past-win mode plays on until no legal move remains.
package pow211

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"

	"github.com/openarcade/arcade-backend/internal/engine"
	"github.com/openarcade/arcade-backend/internal/store"
)

const (
	Size = 4
	// chance a spawned tile is a 2 rather than a 4
	twoChance     = 0.9
	DefaultEnding = 2048
)

// Direction of one slide.
type Direction int

const (
	Left Direction = iota
	Up
	Down
	Right
)

var vectors = map[Direction][2]int{
	Left:  {0, -1},
	Up:    {-1, 0},
	Down:  {1, 0},
	Right: {0, 1},
}

// Move slides the whole board toward a direction.
type Move struct {
	Direction Direction `json:"direction"`
}

// Options tune a game beyond the registry defaults.
type Options struct {
	Ending        int // winning tile, DefaultEnding if zero
	AllowContinue bool
	Scores        store.Store // optional highscore persistence
}

type Game struct {
	board  [Size][Size]int // 0 = empty
	points int
	ending int
	cont   bool
	player string
	best   int
	scores store.Store
}

// Info registers the game as single-player with open spectating. The
// party options payload may set the win tile and continue-past-win mode.
func Info(scores store.Store) engine.Info {
	return engine.Info{
		Name:          "pow211",
		MinPlayers:    1,
		MaxPlayers:    1,
		MaxSpectators: engine.Unlimited,
		Timeout:       engine.TimeoutEndsMatch,
		New: func(ctx context.Context, players []string, raw json.RawMessage) (engine.Game, error) {
			opts, err := parseOptions(raw)
			if err != nil {
				return nil, err
			}
			opts.Scores = scores
			return New(ctx, players, opts)
		},
	}
}

func parseOptions(raw json.RawMessage) (Options, error) {
	if len(raw) == 0 {
		return Options{}, nil
	}
	var wire struct {
		Ending        int  `json:"ending"`
		AllowContinue bool `json:"allow_continue"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Options{}, fmt.Errorf("pow211: bad options: %w", err)
	}
	if wire.Ending < 0 {
		return Options{}, fmt.Errorf("pow211: bad ending tile %d", wire.Ending)
	}
	return Options{Ending: wire.Ending, AllowContinue: wire.AllowContinue}, nil
}

func New(ctx context.Context, players []string, opts Options) (*Game, error) {
	if len(players) != 1 {
		return nil, fmt.Errorf("pow211: want 1 player, got %d", len(players))
	}
	if opts.Ending == 0 {
		opts.Ending = DefaultEnding
	}
	g := &Game{
		ending: opts.Ending,
		cont:   opts.AllowContinue,
		player: players[0],
		scores: opts.Scores,
	}
	if g.scores != nil {
		best, err := g.scores.Best(ctx, g.player, "pow211")
		if err != nil {
			return nil, fmt.Errorf("pow211: read highscore: %w", err)
		}
		g.best = best
	}
	g.addRandomTile()
	g.addRandomTile()
	return g, nil
}

func (g *Game) Update(actor string, move any) (any, error) {
	if g.Ended() {
		panic("pow211: update after game end")
	}
	if actor != g.player {
		return nil, engine.ErrNotPlaying
	}
	mv, ok := move.(Move)
	if !ok {
		return nil, engine.ErrUnknownMove
	}
	vec, ok := vectors[mv.Direction]
	if !ok {
		return nil, engine.ErrIllegalMove
	}
	if g.slide(vec[0], vec[1]) {
		g.addRandomTile()
	}
	return g.Ended(), nil
}

// slide repeats fall-then-merge toward (dx, dy) until the board is
// stable, reporting whether anything moved. An unchanged board spawns no
// new tile.
func (g *Game) slide(dx, dy int) bool {
	xr := axisRange(dx)
	yr := axisRange(dy)
	movedOnce := false
	for {
		changed := g.fall(xr, yr, dx, dy)
		if !changed {
			changed = g.merge(xr, yr, dx, dy)
		}
		if !changed {
			break
		}
		movedOnce = true
	}
	return movedOnce
}

// axisRange orders cell visits so that cell+delta stays on the board.
func axisRange(delta int) []int {
	switch {
	case delta > 0:
		return []int{Size - 2, Size - 3, Size - 4}
	case delta < 0:
		return []int{1, 2, 3}
	default:
		return []int{0, 1, 2, 3}
	}
}

func (g *Game) fall(xr, yr []int, dx, dy int) bool {
	changedOnce := false
	for changed := true; changed; {
		changed = false
		for _, x := range xr {
			for _, y := range yr {
				if g.board[x][y] == 0 {
					continue
				}
				if g.board[x+dx][y+dy] == 0 {
					g.board[x+dx][y+dy] = g.board[x][y]
					g.board[x][y] = 0
					changed = true
					changedOnce = true
				}
			}
		}
	}
	return changedOnce
}

func (g *Game) merge(xr, yr []int, dx, dy int) bool {
	merged := make(map[[2]int]bool) // a tile merges at most once per slide
	changedOnce := false
	for changed := true; changed; {
		changed = false
		for _, x := range xr {
			for _, y := range yr {
				v := g.board[x][y]
				if v == 0 || merged[[2]int{x, y}] {
					continue
				}
				if g.board[x+dx][y+dy] == v {
					g.board[x+dx][y+dy] = v * 2
					g.board[x][y] = 0
					g.points += v * 2
					changed = true
					changedOnce = true
					merged[[2]int{x + dx, y + dy}] = true
					merged[[2]int{x, y}] = true
				}
			}
		}
	}
	return changedOnce
}

func (g *Game) hasLegalMove() bool {
	for x := 0; x < Size; x++ {
		for y := 0; y < Size; y++ {
			if g.board[x][y] == 0 {
				return true
			}
			if x > 0 && g.board[x][y] == g.board[x-1][y] ||
				x < Size-1 && g.board[x][y] == g.board[x+1][y] ||
				y > 0 && g.board[x][y] == g.board[x][y-1] ||
				y < Size-1 && g.board[x][y] == g.board[x][y+1] {
				return true
			}
		}
	}
	return false
}

func (g *Game) reachedEnding() bool {
	for x := 0; x < Size; x++ {
		for y := 0; y < Size; y++ {
			if g.board[x][y] >= g.ending {
				return true
			}
		}
	}
	return false
}

// outcome folds the board into the contract's tri-state. Under
// allow-continue a reached ending does not end the game while legal
// moves remain.
func (g *Game) outcome() engine.Outcome {
	if g.cont {
		if g.hasLegalMove() {
			return engine.NotOver
		}
		if g.reachedEnding() {
			return engine.Won
		}
		return engine.DrawnOrLost
	}
	if g.reachedEnding() {
		return engine.Won
	}
	if g.hasLegalMove() {
		return engine.NotOver
	}
	return engine.DrawnOrLost
}

func (g *Game) Ended() bool { return g.outcome() != engine.NotOver }

func (g *Game) Winner(string) engine.Outcome { return g.outcome() }

// Finish persists a beaten highscore at match end.
func (g *Game) Finish(ctx context.Context) error {
	if g.scores == nil || g.points <= g.best {
		return nil
	}
	return g.scores.SetBest(ctx, g.player, "pow211", g.points)
}

func (g *Game) randomSpace() (int, int, bool) {
	var choices [][2]int
	for x := 0; x < Size; x++ {
		for y := 0; y < Size; y++ {
			if g.board[x][y] == 0 {
				choices = append(choices, [2]int{x, y})
			}
		}
	}
	if len(choices) == 0 {
		return 0, 0, false
	}
	pick := choices[rand.Intn(len(choices))]
	return pick[0], pick[1], true
}

func (g *Game) addRandomTile() {
	x, y, ok := g.randomSpace()
	if !ok {
		return
	}
	value := 2
	if rand.Float64() >= twoChance {
		value = 4
	}
	g.board[x][y] = value
}

// Points is the accumulated merge score.
func (g *Game) Points() int { return g.points }

// View is the per-viewer render model.
type View struct {
	Board         [Size][Size]int `json:"board"`
	Points        int             `json:"points"`
	Best          int             `json:"best"`
	Ending        int             `json:"ending"`
	ReachedEnding bool            `json:"reached_ending"`
	Ended         bool            `json:"ended"`
	Outcome       string          `json:"outcome,omitempty"`
}

func (g *Game) View(string) any {
	v := View{
		Board:         g.board,
		Points:        g.points,
		Best:          g.best,
		Ending:        g.ending,
		ReachedEnding: g.reachedEnding(),
		Ended:         g.Ended(),
	}
	if v.Ended {
		v.Outcome = g.outcome().String()
	}
	return v
}
