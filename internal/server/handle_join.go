package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/playbeaver/encounter/internal/engine"
)

type JoinRequest struct {
	JoinToken string `json:"joinToken"`
	UserName  string `json:"userName"`
}

type JoinResponse struct {
	Token    string `json:"token"`
	UserID   int64  `json:"userId"`
	TeamID   int64  `json:"teamId"`
	TeamName string `json:"teamName"`
}

func handleJoin(store *SQLiteStore, broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req JoinRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		req.UserName = strings.TrimSpace(req.UserName)
		if req.UserName == "" || req.JoinToken == "" {
			writeError(w, http.StatusBadRequest, "joinToken and userName are required")
			return
		}

		team, err := store.TeamLookup(r.Context(), req.JoinToken)
		if errors.Is(err, engine.ErrNotFound) {
			writeError(w, http.StatusNotFound, "team not found or game already closed")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		userID, sessionID, err := store.JoinTeam(r.Context(), team.ID, req.UserName)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		broker.Publish(team.ID, Event{Type: "user_joined", UserName: req.UserName})

		writeJSON(w, http.StatusOK, JoinResponse{
			Token:    sessionID,
			UserID:   userID,
			TeamID:   team.ID,
			TeamName: team.Name,
		})
	}
}
