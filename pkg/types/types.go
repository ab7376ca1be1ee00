// Package types defines the JSON messages exchanged with front ends over
// the websocket endpoint.
package types

import "encoding/json"

// Client message types.
const (
	ClientJoin     = "Join"
	ClientSpectate = "Spectate"
	ClientLeave    = "Leave"
	ClientStart    = "Start"
	ClientMove     = "Move"
)

// Server message types.
const (
	ServerLobby = "Lobby"
	ServerMatch = "Match"
	ServerError = "Error"
)

// ClientMessage is one command from the front end. Game and Host select
// a lobby for Join/Spectate, Options carries game settings honored when
// the Join creates the party, and Move carries the game-specific move
// payload.
type ClientMessage struct {
	Type    string          `json:"type"`
	Game    string          `json:"game,omitempty"`
	Host    string          `json:"host,omitempty"`
	Options json.RawMessage `json:"options,omitempty"`
	Move    json.RawMessage `json:"move,omitempty"`
}

// ServerMessage wraps everything pushed to the front end: lobby and
// match view models, or an error reply to a rejected command.
type ServerMessage struct {
	Type  string `json:"type"`
	Error string `json:"error,omitempty"`
	View  any    `json:"view,omitempty"`
}
