// Package ws serves one websocket per participant. The connection doubles
// as the participant's render handle: view models are queued to an outbox
// drained by a writer goroutine, and a client too slow to keep up is
// treated as gone.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/openarcade/arcade-backend/internal/engine/connect4"
	"github.com/openarcade/arcade-backend/internal/engine/gofish"
	"github.com/openarcade/arcade-backend/internal/engine/numguess"
	"github.com/openarcade/arcade-backend/internal/engine/pow211"
	"github.com/openarcade/arcade-backend/internal/session"
	"github.com/openarcade/arcade-backend/pkg/types"
)

const (
	outboxSize   = 32
	writeTimeout = 3 * time.Second
)

var errNoSession = errors.New("no active session")
var errBusy = errors.New("already in a session")

func Handler(mgr *session.Manager, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := r.URL.Query().Get("identity")
		if identity == "" {
			http.Error(w, "missing identity", http.StatusBadRequest)
			return
		}

		sock, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// In dev ONLY, you can loosen origin checks:
			// OriginPatterns: []string{"http://localhost:*", "http://127.0.0.1:*"},
		})
		if err != nil {
			return
		}
		defer sock.Close(websocket.StatusNormalClosure, "bye")

		log.Debug("websocket connected", zap.String("identity", identity))
		c := &conn{
			log:      log,
			identity: identity,
			out:      make(chan types.ServerMessage, outboxSize),
		}
		defer c.teardown()

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for {
				select {
				case msg := <-c.out:
					payload, _ := json.Marshal(msg)
					ctx, cancel := context.WithTimeout(writeCtx, writeTimeout)
					_ = sock.Write(ctx, websocket.MessageText, payload)
					cancel()
				case <-writeCtx.Done():
					return
				}
			}
		}()

		// Reader loop
		for {
			_, data, err := sock.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				// Dropped connection; teardown leaves whatever we were in.
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				c.reply(types.ServerMessage{Type: types.ServerError, Error: "bad json"})
				continue
			}
			if err := c.dispatch(r.Context(), mgr, cm); err != nil {
				c.reply(types.ServerMessage{Type: types.ServerError, Error: err.Error()})
			}
		}
	}
}

// conn is one participant's connection and render handle.
type conn struct {
	log      *zap.Logger
	identity string
	out      chan types.ServerMessage

	mu    sync.Mutex
	lobby *session.LobbySession
	match *session.MatchSession
}

// Update implements render.Handle. It must not block: a full outbox
// means the client stopped reading, and the error becomes an implicit
// leave.
func (c *conn) Update(_ context.Context, view any) error {
	msg := types.ServerMessage{Type: types.ServerLobby, View: view}
	if _, ok := view.(session.MatchView); ok {
		msg.Type = types.ServerMatch
	}
	select {
	case c.out <- msg:
		return nil
	default:
		return errors.New("outbox full, client too slow")
	}
}

// AttachMatch implements session.Attacher: the participant was popped
// into a match, superseding its lobby session.
func (c *conn) AttachMatch(s *session.MatchSession) {
	c.mu.Lock()
	c.lobby = nil
	c.match = s
	c.mu.Unlock()
	go func() {
		<-s.Done()
		c.mu.Lock()
		if c.match == s {
			c.match = nil
		}
		c.mu.Unlock()
	}()
}

func (c *conn) reply(msg types.ServerMessage) {
	select {
	case c.out <- msg:
	default:
	}
}

func (c *conn) sessions() (*session.LobbySession, *session.MatchSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lobby, c.match
}

func (c *conn) dispatch(ctx context.Context, mgr *session.Manager, m types.ClientMessage) error {
	ls, ms := c.sessions()
	if ls != nil {
		ls.Touch()
	}
	if ms != nil {
		ms.Touch()
	}

	switch m.Type {
	case types.ClientJoin, types.ClientSpectate:
		if ls != nil || ms != nil {
			return errBusy
		}
		var s *session.LobbySession
		var err error
		if m.Type == types.ClientSpectate {
			s, err = mgr.SpectateLobby(ctx, m.Game, m.Host, c.identity, c)
		} else {
			s, err = mgr.JoinLobby(ctx, m.Game, m.Host, c.identity, c, m.Options)
		}
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.lobby = s
		c.mu.Unlock()
		go func() {
			<-s.Done()
			c.mu.Lock()
			if c.lobby == s {
				c.lobby = nil
			}
			c.mu.Unlock()
		}()
		return nil

	case types.ClientLeave:
		if ms != nil {
			ms.Leave(ctx)
			return nil
		}
		if ls != nil {
			return ls.Leave(ctx)
		}
		return errNoSession

	case types.ClientStart:
		if ls == nil {
			return errNoSession
		}
		return ls.Start(ctx)

	case types.ClientMove:
		if ms == nil {
			return errNoSession
		}
		move, err := decodeMove(ms.Match().Game().Name, m.Move)
		if err != nil {
			return err
		}
		_, err = ms.Submit(ctx, move)
		return err

	default:
		return fmt.Errorf("unknown message type %q", m.Type)
	}
}

// teardown leaves whatever the connection was part of when it drops.
func (c *conn) teardown() {
	c.log.Debug("websocket closed", zap.String("identity", c.identity))
	ls, ms := c.sessions()
	if ms != nil {
		ms.Leave(context.Background())
	}
	if ls != nil {
		_ = ls.Leave(context.Background())
	}
}

// decodeMove unpacks the game-specific move payload.
func decodeMove(game string, raw json.RawMessage) (any, error) {
	switch game {
	case "connect4":
		var mv connect4.Move
		if err := json.Unmarshal(raw, &mv); err != nil {
			return nil, fmt.Errorf("bad move: %w", err)
		}
		return mv, nil
	case "pow211":
		var mv pow211.Move
		if err := json.Unmarshal(raw, &mv); err != nil {
			return nil, fmt.Errorf("bad move: %w", err)
		}
		return mv, nil
	case "gofish":
		var mv gofish.Ask
		if err := json.Unmarshal(raw, &mv); err != nil {
			return nil, fmt.Errorf("bad move: %w", err)
		}
		return mv, nil
	case "numguess":
		var mv numguess.Guess
		if err := json.Unmarshal(raw, &mv); err != nil {
			return nil, fmt.Errorf("bad move: %w", err)
		}
		return mv, nil
	default:
		return nil, fmt.Errorf("no move codec for game %q", game)
	}
}
