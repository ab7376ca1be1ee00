package httpapi

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/openarcade/arcade-backend/internal/engine"
)

// GameSummary is one entry of the game listing. Caps of -1 mean
// unlimited.
type GameSummary struct {
	Name          string `json:"name"`
	MinPlayers    int    `json:"min_players"`
	MaxPlayers    int    `json:"max_players"`
	MaxSpectators int    `json:"max_spectators"`
	WaitSeconds   int    `json:"wait_seconds,omitempty"`
}

func ListGames(games map[string]engine.Info) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := make([]GameSummary, 0, len(games))
		for _, info := range games {
			out = append(out, GameSummary{
				Name:          info.Name,
				MinPlayers:    info.MinPlayers,
				MaxPlayers:    info.MaxPlayers,
				MaxSpectators: info.MaxSpectators,
				WaitSeconds:   int(info.WaitTime.Seconds()),
			})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
