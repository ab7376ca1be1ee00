package main

import (
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/openarcade/arcade-backend/internal/engine"
	"github.com/openarcade/arcade-backend/internal/engine/connect4"
	"github.com/openarcade/arcade-backend/internal/engine/gofish"
	"github.com/openarcade/arcade-backend/internal/engine/numguess"
	"github.com/openarcade/arcade-backend/internal/engine/pow211"
	"github.com/openarcade/arcade-backend/internal/httpapi"
	"github.com/openarcade/arcade-backend/internal/lobby"
	"github.com/openarcade/arcade-backend/internal/session"
	"github.com/openarcade/arcade-backend/internal/store"
)

func main() {
	_ = godotenv.Load()

	log := newLogger()
	defer log.Sync() //nolint:errcheck

	var scores store.Store = store.NewMemory()
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		db, err := store.Open(dsn)
		if err != nil {
			log.Fatal("open highscore store", zap.Error(err))
		}
		scores = db
		log.Info("highscores persisted to postgres")
	} else {
		log.Info("no DATABASE_URL, highscores held in memory")
	}

	games := registerGames(scores)

	mgr := session.NewManager(session.Config{Logger: log})
	reg := lobby.NewRegistry(lobby.Config{
		Games:  games,
		Launch: mgr.Launch,
		Logger: log,
	})
	mgr.Bind(reg)

	handler := httpapi.SetupRoutes(mgr, games, log)

	addr := os.Getenv("ADDR")
	if addr == "" {
		addr = ":8080"
	}
	log.Info("listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, handler); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func registerGames(scores store.Store) map[string]engine.Info {
	games := make(map[string]engine.Info)
	for _, info := range []engine.Info{
		connect4.Info(),
		pow211.Info(scores),
		gofish.Info(),
		numguess.Info(),
	} {
		games[info.Name] = info
	}
	return games
}

func newLogger() *zap.Logger {
	if os.Getenv("LOG_MODE") == "dev" {
		log, err := zap.NewDevelopment()
		if err != nil {
			panic(err)
		}
		return log
	}
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	return log
}
