package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/playbeaver/encounter/internal/engine"
)

// TipChoice is one selectable hint. The text stays hidden until the team
// takes the tip.
type TipChoice struct {
	ID          int64 `json:"id"`
	SuspendTime int   `json:"suspendTime"`
}

type SuggestTipsResponse struct {
	Tips []TipChoice `json:"tips"`
}

func handleSuggestTips(store *SQLiteStore, games *engine.GameService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := userFromRequest(r, store)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or missing session token")
			return
		}

		game, err := store.Game(r.Context(), sess.GameID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		resp := SuggestTipsResponse{Tips: []TipChoice{}}
		for _, team := range game.Teams {
			if team.ID != sess.TeamID || team.GameState == nil || team.GameState.ActiveTaskState == nil {
				continue
			}
			for _, tip := range games.GetSuggestTips(team.GameState.ActiveTaskState, time.Now()) {
				resp.Tips = append(resp.Tips, TipChoice{ID: tip.ID, SuspendTime: tip.SuspendTime})
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleTakeTip(store *SQLiteStore, games *engine.GameService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := userFromRequest(r, store)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or missing session token")
			return
		}

		tipID, err := strconv.ParseInt(chi.URLParam(r, "tipID"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid tip id")
			return
		}

		err = games.TakeTip(r.Context(), sess.GameID, sess.TeamID, tipID, time.Now())
		switch {
		case errors.Is(err, engine.ErrNotFound):
			writeError(w, http.StatusConflict, "tip is not available")
		case err != nil:
			writeError(w, http.StatusInternalServerError, "internal error")
		default:
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		}
	}
}
