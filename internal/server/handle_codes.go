package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/playbeaver/encounter/internal/engine"
)

type SubmitCodesRequest struct {
	Codes string `json:"codes"`
}

type SubmitCodesResponse struct {
	ActiveTask *ActiveTaskView `json:"activeTask"`
	Finished   bool            `json:"finished"`
}

func handleSubmitCodes(store *SQLiteStore, games *engine.GameService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := userFromRequest(r, store)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or missing session token")
			return
		}

		var req SubmitCodesRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if strings.TrimSpace(req.Codes) == "" {
			writeError(w, http.StatusBadRequest, "codes are required")
			return
		}

		err = games.Submit(r.Context(), sess.GameID, sess.TeamID, sess.UserID, req.Codes, time.Now())
		if err != nil {
			writeSubmitError(w, err)
			return
		}

		// Report the post-submission view so the client sees accepted codes
		// and any newly assigned task without a second round trip.
		game, err := store.Game(r.Context(), sess.GameID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		resp := SubmitCodesResponse{}
		for _, team := range game.Teams {
			if team.ID != sess.TeamID || team.GameState == nil {
				continue
			}
			resp.Finished = team.GameState.GameDoneTime != nil
			if active := team.GameState.ActiveTaskState; active != nil {
				resp.ActiveTask = buildActiveTaskView(active)
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func writeSubmitError(w http.ResponseWriter, err error) {
	var stateErr *engine.StateError
	switch {
	case errors.Is(err, engine.ErrTooManyCodes):
		writeError(w, http.StatusBadRequest, "more codes than the task has")
	case errors.Is(err, engine.ErrNotFound):
		writeError(w, http.StatusConflict, "team is not playing")
	case errors.As(err, &stateErr):
		writeError(w, http.StatusConflict, stateErr.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func handleAccelerate(store *SQLiteStore, games *engine.GameService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := userFromRequest(r, store)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or missing session token")
			return
		}

		err = games.Accelerate(r.Context(), sess.GameID, sess.TeamID, time.Now())
		switch {
		case errors.Is(err, engine.ErrNotAccelerable):
			writeError(w, http.StatusConflict, "current task cannot be accelerated")
		case errors.Is(err, engine.ErrNotFound):
			writeError(w, http.StatusConflict, "no active task")
		case err != nil:
			writeError(w, http.StatusInternalServerError, "internal error")
		default:
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		}
	}
}
