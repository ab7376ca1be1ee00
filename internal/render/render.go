// Package render abstracts the external rendering collaborator. The
// engine pushes view models through a Handle; what a view model looks
// like on screen is the front end's business.
package render

import (
	"context"
	"time"
)

// Handle is one participant's render target. Update must not block: real
// implementations enqueue to a writer (the websocket handle buffers to an
// outbox) and report failure when the participant is gone. An Update
// error is treated as an implicit leave for that participant only.
type Handle interface {
	Update(ctx context.Context, view any) error
}

// Func adapts a function to a Handle.
type Func func(ctx context.Context, view any) error

func (f Func) Update(ctx context.Context, view any) error { return f(ctx, view) }

// LobbyView is the view model for a waiting party.
type LobbyView struct {
	Game       string     `json:"game"`
	Host       string     `json:"host,omitempty"`
	Players    []string   `json:"players"`
	Spectators []string   `json:"spectators,omitempty"`
	MinPlayers int        `json:"min_players"`
	MaxPlayers int        `json:"max_players"`
	StartsAt   *time.Time `json:"starts_at,omitempty"` // pending countdown deadline
	CanStart   bool       `json:"can_start"`           // host may force a start
	You        string     `json:"you"`
	Left       bool       `json:"left,omitempty"` // final summary after leave/timeout
}
