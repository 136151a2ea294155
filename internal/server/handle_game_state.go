package server

import (
	"net/http"

	"github.com/playbeaver/encounter/internal/encounter"
)

type GameInfo struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	State          string `json:"state"`
	StartTime      string `json:"startTime"`
	TotalMinutes   int    `json:"totalMinutes"`
	PerTaskMinutes int    `json:"perTaskMinutes"`
}

type TeamInfo struct {
	ID    int64      `json:"id"`
	Name  string     `json:"name"`
	Users []UserInfo `json:"users"`
}

type UserInfo struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type TipView struct {
	ID         int64  `json:"id"`
	Text       string `json:"text"`
	RevealedAt string `json:"revealedAt"`
}

type ActiveTaskView struct {
	TaskID             int64     `json:"taskId"`
	Name               string    `json:"name"`
	Type               string    `json:"type"`
	StartedAt          string    `json:"startedAt"`
	Tips               []TipView `json:"tips"`
	MainCodes          int       `json:"mainCodes"`
	MainCodesAccepted  int       `json:"mainCodesAccepted"`
	BonusCodesAccepted int       `json:"bonusCodesAccepted"`
	BadCodes           int       `json:"badCodes"`
	Accelerated        bool      `json:"accelerated"`
}

type CompletedTaskView struct {
	TaskID     int64  `json:"taskId"`
	Name       string `json:"name"`
	Flag       string `json:"flag"`
	StartedAt  string `json:"startedAt"`
	FinishedAt string `json:"finishedAt,omitempty"`
}

type GameStateResponse struct {
	Game           GameInfo            `json:"game"`
	Team           TeamInfo            `json:"team"`
	ActiveTask     *ActiveTaskView     `json:"activeTask"`
	CompletedTasks []CompletedTaskView `json:"completedTasks"`
	Finished       bool                `json:"finished"`
	FinishedAt     string              `json:"finishedAt,omitempty"`
}

func handleGameState(store *SQLiteStore) http.HandlerFunc {
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

		var team *encounter.Team
		for _, t := range game.Teams {
			if t.ID == sess.TeamID {
				team = t
				break
			}
		}
		if team == nil {
			writeError(w, http.StatusNotFound, "team not found")
			return
		}

		writeJSON(w, http.StatusOK, buildGameStateResponse(game, team))
	}
}

func buildGameStateResponse(game *encounter.Game, team *encounter.Team) GameStateResponse {
	resp := GameStateResponse{
		Game: GameInfo{
			ID:             game.ID,
			Name:           game.Name,
			State:          string(game.State),
			StartTime:      formatTime(game.StartTime),
			TotalMinutes:   game.TotalMinutes,
			PerTaskMinutes: game.PerTaskMinutes,
		},
		Team: TeamInfo{
			ID:    team.ID,
			Name:  team.Name,
			Users: []UserInfo{},
		},
		CompletedTasks: []CompletedTaskView{},
	}
	for _, u := range team.Users {
		resp.Team.Users = append(resp.Team.Users, UserInfo{ID: u.ID, Name: u.Name})
	}

	state := team.GameState
	if state == nil {
		return resp
	}

	if state.GameDoneTime != nil {
		resp.Finished = true
		resp.FinishedAt = formatTime(*state.GameDoneTime)
	}

	for _, ts := range state.AcceptedTasks {
		view := CompletedTaskView{
			TaskID:    ts.Task.ID,
			Name:      ts.Task.Name,
			Flag:      string(ts.Flag),
			StartedAt: formatTime(ts.StartTime),
		}
		if ts.FinishTime != nil {
			view.FinishedAt = formatTime(*ts.FinishTime)
		}
		resp.CompletedTasks = append(resp.CompletedTasks, view)
	}

	if active := state.ActiveTaskState; active != nil {
		resp.ActiveTask = buildActiveTaskView(active)
	}
	return resp
}

func buildActiveTaskView(active *encounter.TeamTaskState) *ActiveTaskView {
	view := &ActiveTaskView{
		TaskID:             active.Task.ID,
		Name:               active.Task.Name,
		Type:               string(active.Task.Type),
		StartedAt:          formatTime(active.StartTime),
		Tips:               []TipView{},
		MainCodes:          active.Task.MainCodeCount(),
		MainCodesAccepted:  active.MainCodesAccepted(),
		BonusCodesAccepted: active.BonusCodesAccepted(),
		BadCodes:           len(active.AcceptedBadCodes),
		Accelerated:        active.AccelerationStartTime != nil,
	}
	for _, accepted := range active.AcceptedTips {
		view.Tips = append(view.Tips, TipView{
			ID:         accepted.Tip.ID,
			Text:       accepted.Tip.Text,
			RevealedAt: formatTime(accepted.AcceptTime),
		})
	}
	return view
}
