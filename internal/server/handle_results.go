package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/playbeaver/encounter/internal/engine"
)

type ResultsResponse struct {
	Results []engine.TeamResult `json:"results"`
}

func handleResults(games *engine.GameService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gameID, err := strconv.ParseInt(chi.URLParam(r, "gameID"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid game id")
			return
		}

		results, err := games.Results(r.Context(), gameID)
		if errors.Is(err, engine.ErrNotFound) {
			writeError(w, http.StatusNotFound, "game not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if results == nil {
			results = []engine.TeamResult{}
		}

		writeJSON(w, http.StatusOK, ResultsResponse{Results: results})
	}
}
