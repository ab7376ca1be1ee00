package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/openarcade/arcade-backend/internal/engine"
	"github.com/openarcade/arcade-backend/internal/session"
	"github.com/openarcade/arcade-backend/internal/ws"
)

func SetupRoutes(mgr *session.Manager, games map[string]engine.Info, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// Public routes
	r.Get("/healthz", Healthz)
	r.Get("/games", ListGames(games))
	r.Get("/ws", ws.Handler(mgr, log))
	return r
}
