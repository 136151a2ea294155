package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/playbeaver/encounter/internal/engine"
)

func handleTeamLookup(store *SQLiteStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := chi.URLParam(r, "joinToken")

		resp, err := store.TeamLookup(r.Context(), token)
		if errors.Is(err, engine.ErrNotFound) {
			writeError(w, http.StatusNotFound, "team not found or game already closed")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		writeJSON(w, http.StatusOK, resp)
	}
}
