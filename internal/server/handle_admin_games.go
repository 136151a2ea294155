package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/playbeaver/encounter/internal/encounter"
	"github.com/playbeaver/encounter/internal/engine"
)

func handleAdminListGames(store *SQLiteStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		games, err := store.ListGames(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, games)
	}
}

// AdminTeamStatus is the monitoring row for one team during a live game.
type AdminTeamStatus struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	Users          int    `json:"users"`
	Playing        bool   `json:"playing"`
	Finished       bool   `json:"finished"`
	ActiveTask     string `json:"activeTask,omitempty"`
	TasksCompleted int    `json:"tasksCompleted"`
	BadCodes       int    `json:"badCodes"`
}

type AdminGameDetail struct {
	Game  GameInfo          `json:"game"`
	Teams []AdminTeamStatus `json:"teams"`
}

func handleAdminGetGame(store *SQLiteStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gameID, ok := gameIDParam(w, r)
		if !ok {
			return
		}

		game, err := store.Game(r.Context(), gameID)
		if errors.Is(err, engine.ErrNotFound) {
			writeError(w, http.StatusNotFound, "game not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		writeJSON(w, http.StatusOK, buildAdminGameDetail(game))
	}
}

func buildAdminGameDetail(game *encounter.Game) AdminGameDetail {
	detail := AdminGameDetail{
		Game: GameInfo{
			ID:             game.ID,
			Name:           game.Name,
			State:          string(game.State),
			StartTime:      formatTime(game.StartTime),
			TotalMinutes:   game.TotalMinutes,
			PerTaskMinutes: game.PerTaskMinutes,
		},
		Teams: []AdminTeamStatus{},
	}

	for _, team := range game.Teams {
		status := AdminTeamStatus{
			ID:    team.ID,
			Name:  team.Name,
			Users: len(team.Users),
		}
		if state := team.GameState; state != nil {
			status.Playing = true
			status.Finished = state.GameDoneTime != nil
			for _, ts := range state.AcceptedTasks {
				if ts.Flag == encounter.FlagSuccess {
					status.TasksCompleted++
				}
			}
			if active := state.ActiveTaskState; active != nil {
				status.ActiveTask = active.Task.Name
				status.BadCodes = len(active.AcceptedBadCodes)
			}
		}
		detail.Teams = append(detail.Teams, status)
	}
	return detail
}

// handleAdminGameAction runs one lifecycle transition. The action name in
// the URL selects the transition; invalid transitions come back as 409 with
// the state machine's own message.
func handleAdminGameAction(logger *slog.Logger, games *engine.GameService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gameID, ok := gameIDParam(w, r)
		if !ok {
			return
		}

		action := chi.URLParam(r, "action")
		var err error
		switch action {
		case "startup":
			err = games.Startup(r.Context(), gameID)
		case "start":
			err = games.Start(r.Context(), gameID)
		case "stop":
			err = games.Stop(r.Context(), gameID, time.Now())
		case "close":
			err = games.Close(r.Context(), gameID)
		case "reset":
			err = games.Reset(r.Context(), gameID)
		default:
			writeError(w, http.StatusNotFound, "unknown action")
			return
		}

		var stateErr *engine.StateError
		switch {
		case errors.Is(err, engine.ErrNotFound):
			writeError(w, http.StatusNotFound, "game not found")
		case errors.Is(err, engine.ErrAnotherGameLive):
			writeError(w, http.StatusConflict, "another game is live")
		case errors.As(err, &stateErr):
			writeError(w, http.StatusConflict, stateErr.Error())
		case err != nil:
			logger.Error("game action failed", "game_id", gameID, "action", action, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		default:
			logger.Info("game action",
				"game_id", gameID, "action", action, "admin", adminFrom(r).Email)
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		}
	}
}

func gameIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	gameID, err := strconv.ParseInt(chi.URLParam(r, "gameID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid game id")
		return 0, false
	}
	return gameID, true
}
