package pow211

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openarcade/arcade-backend/internal/engine"
	"github.com/openarcade/arcade-backend/internal/store"
)

func newGame(t *testing.T, opts Options) *Game {
	t.Helper()
	g, err := New(context.Background(), []string{"alice"}, opts)
	require.NoError(t, err)
	return g
}

func countTiles(g *Game) (n int) {
	for x := 0; x < Size; x++ {
		for y := 0; y < Size; y++ {
			if g.board[x][y] != 0 {
				n++
			}
		}
	}
	return n
}

func TestNew_SpawnsExactlyTwoSmallTiles(t *testing.T) {
	// spawning is random; construction must always yield two 2-or-4 tiles
	for i := 0; i < 50; i++ {
		g := newGame(t, Options{})
		require.Equal(t, 2, countTiles(g))
		for x := 0; x < Size; x++ {
			for y := 0; y < Size; y++ {
				if v := g.board[x][y]; v != 0 && v != 2 && v != 4 {
					t.Fatalf("initial tile value %d at (%d,%d)", v, x, y)
				}
			}
		}
		require.False(t, g.Ended())
	}
}

func TestUpdate_NoLegalSlideLeavesBoardUntouched(t *testing.T) {
	g := newGame(t, Options{})
	// everything already packed against the left wall, nothing mergeable
	g.board = [Size][Size]int{
		{2, 0, 0, 0},
		{4, 0, 0, 0},
		{2, 0, 0, 0},
		{4, 0, 0, 0},
	}
	before := g.board

	done, err := g.Update("alice", Move{Direction: Left})
	require.NoError(t, err)
	require.Equal(t, false, done)
	require.Equal(t, before, g.board, "illegal-direction slide must not mutate")
	require.Equal(t, 2+4+2+4, countValues(g))
}

func countValues(g *Game) (sum int) {
	for x := 0; x < Size; x++ {
		for y := 0; y < Size; y++ {
			sum += g.board[x][y]
		}
	}
	return sum
}

func TestUpdate_MergesEqualNeighborsAndScores(t *testing.T) {
	g := newGame(t, Options{})
	g.board = [Size][Size]int{
		{2, 2, 0, 0},
		{0, 0, 0, 0},
		{0, 0, 0, 0},
		{0, 0, 0, 0},
	}
	g.points = 0

	_, err := g.Update("alice", Move{Direction: Left})
	require.NoError(t, err)

	require.Equal(t, 4, g.board[0][0])
	require.Equal(t, 4, g.points)
	// a changing move spawns exactly one new tile
	require.Equal(t, 2, countTiles(g))
}

func TestUpdate_SlideRunsToFixpoint(t *testing.T) {
	g := newGame(t, Options{})
	g.board = [Size][Size]int{
		{2, 2, 2, 2},
		{0, 0, 0, 0},
		{0, 0, 0, 0},
		{0, 0, 0, 0},
	}
	g.points = 0

	_, err := g.Update("alice", Move{Direction: Left})
	require.NoError(t, err)

	// fall and merge repeat until stable: 2 2 2 2 → 4 4 → 8
	require.Equal(t, 8, g.board[0][0])
	require.Equal(t, 4+4+8, g.points)
	require.Equal(t, 2, countTiles(g)) // the 8 plus one spawned tile
}

func TestOutcome_WinTileEndsGame(t *testing.T) {
	g := newGame(t, Options{Ending: 8})
	g.board = [Size][Size]int{
		{4, 4, 0, 0},
		{0, 0, 0, 0},
		{0, 0, 0, 0},
		{0, 0, 0, 0},
	}

	done, err := g.Update("alice", Move{Direction: Left})
	require.NoError(t, err)
	require.Equal(t, true, done)
	require.True(t, g.Ended())
	require.Equal(t, engine.Won, g.Winner("alice"))
}

func TestOutcome_AllowContinuePlaysPastWinTile(t *testing.T) {
	g := newGame(t, Options{Ending: 8, AllowContinue: true})
	g.board = [Size][Size]int{
		{8, 0, 0, 0},
		{0, 0, 0, 0},
		{0, 0, 0, 0},
		{0, 0, 0, 0},
	}

	require.False(t, g.Ended(), "continue mode defers the end while moves remain")
	require.Equal(t, engine.NotOver, g.Winner("alice"))

	v := g.View("alice").(View)
	require.True(t, v.ReachedEnding)

	// deadlock the board: game ends, and the win tile still counts
	g.board = [Size][Size]int{
		{8, 4, 2, 4},
		{4, 2, 4, 2},
		{2, 4, 2, 4},
		{4, 2, 4, 2},
	}
	require.True(t, g.Ended())
	require.Equal(t, engine.Won, g.Winner("alice"))
}

func TestOutcome_DeadBoardWithoutWinTileLoses(t *testing.T) {
	g := newGame(t, Options{})
	g.board = [Size][Size]int{
		{2, 4, 2, 4},
		{4, 2, 4, 2},
		{2, 4, 2, 4},
		{4, 2, 4, 2},
	}
	require.True(t, g.Ended())
	require.Equal(t, engine.DrawnOrLost, g.Winner("alice"))
}

func TestUpdate_RejectsStrangers(t *testing.T) {
	g := newGame(t, Options{})
	_, err := g.Update("mallory", Move{Direction: Up})
	require.ErrorIs(t, err, engine.ErrNotPlaying)
}

func TestInfo_PartyOptionsConfigureTheGame(t *testing.T) {
	ctx := context.Background()
	info := Info(nil)

	g, err := info.New(ctx, []string{"alice"}, json.RawMessage(`{"ending":8,"allow_continue":true}`))
	require.NoError(t, err)
	pg := g.(*Game)
	require.Equal(t, 8, pg.ending)
	require.True(t, pg.cont)

	g, err = info.New(ctx, []string{"alice"}, nil)
	require.NoError(t, err)
	require.Equal(t, DefaultEnding, g.(*Game).ending)

	_, err = info.New(ctx, []string{"alice"}, json.RawMessage(`{"ending":-4}`))
	require.Error(t, err)
	_, err = info.New(ctx, []string{"alice"}, json.RawMessage(`{"ending":"big"}`))
	require.Error(t, err)
}

func TestFinish_WritesBeatenHighscoreOnly(t *testing.T) {
	ctx := context.Background()
	scores := store.NewMemory()
	require.NoError(t, scores.SetBest(ctx, "alice", "pow211", 100))

	g := newGame(t, Options{Scores: scores})
	require.Equal(t, 100, g.best)

	g.points = 50
	require.NoError(t, g.Finish(ctx))
	best, _ := scores.Best(ctx, "alice", "pow211")
	require.Equal(t, 100, best, "lower score must not overwrite")

	g.points = 250
	require.NoError(t, g.Finish(ctx))
	best, _ = scores.Best(ctx, "alice", "pow211")
	require.Equal(t, 250, best)
}
