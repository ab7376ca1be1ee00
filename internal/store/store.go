// Package store persists per-identity best scores. The engine core owns
// no persistent state; games that track highscores read and write through
// this interface at match construction and match end.
package store

import (
	"context"
	"sync"
)

type Store interface {
	// Best returns the identity's best score for a game, 0 if none.
	Best(ctx context.Context, identity, game string) (int, error)
	// SetBest records a new best score.
	SetBest(ctx context.Context, identity, game string, score int) error
}

// Memory is an in-process Store for tests and storeless deployments.
type Memory struct {
	mu    sync.Mutex
	bests map[[2]string]int
}

func NewMemory() *Memory {
	return &Memory{bests: make(map[[2]string]int)}
}

func (m *Memory) Best(_ context.Context, identity, game string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bests[[2]string{identity, game}], nil
}

func (m *Memory) SetBest(_ context.Context, identity, game string, score int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bests[[2]string{identity, game}] = score
	return nil
}
