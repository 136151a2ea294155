package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/playbeaver/encounter/internal/encounter"
	"github.com/playbeaver/encounter/internal/engine"
)

// SQLiteStore implements engine.Store over a libSQL database, plus the
// session and listing queries the HTTP layer needs. A store is either bound
// to the database (and can open transactions) or to one transaction handed
// out by InTx.
type SQLiteStore struct {
	db *sql.DB // nil when transaction-bound
	q  querier
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, q: db}
}

const timeFormat = time.RFC3339Nano

func formatTime(t time.Time) string { return t.UTC().Format(timeFormat) }

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing time %q: %w", s, err)
	}
	return t, nil
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// InTx runs fn with a transaction-bound store, committing on nil and
// rolling back on error. Calling InTx on a transaction-bound store just
// runs fn in the same transaction.
func (s *SQLiteStore) InTx(ctx context.Context, fn func(engine.Store) error) error {
	if s.db == nil {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(&SQLiteStore{q: tx}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// GameStates returns the lifecycle state of every game, keyed by id.
func (s *SQLiteStore) GameStates(ctx context.Context) (map[int64]encounter.GameState, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, state FROM games`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	states := make(map[int64]encounter.GameState)
	for rows.Next() {
		var id int64
		var state string
		if err := rows.Scan(&id, &state); err != nil {
			return nil, err
		}
		states[id] = encounter.GameState(state)
	}
	return states, rows.Err()
}

// Game loads the full aggregate: the game, its tasks with tips and codes,
// its teams with rosters, and every team's current game state with the
// active and accepted task attempts.
func (s *SQLiteStore) Game(ctx context.Context, id int64) (*encounter.Game, error) {
	game := &encounter.Game{ID: id}
	var state, startTime string
	err := s.q.QueryRowContext(ctx, `
		SELECT name, state, start_time, total_minutes, per_task_minutes, main_prefix, bonus_prefix
		FROM games WHERE id = ?
	`, id).Scan(&game.Name, &state, &startTime, &game.TotalMinutes, &game.PerTaskMinutes, &game.MainPrefix, &game.BonusPrefix)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	game.State = encounter.GameState(state)
	if game.StartTime, err = parseTime(startTime); err != nil {
		return nil, err
	}

	tipByID, codeByID, err := s.loadTasks(ctx, game)
	if err != nil {
		return nil, err
	}
	taskByID := make(map[int64]*encounter.Task, len(game.Tasks))
	for _, t := range game.Tasks {
		taskByID[t.ID] = t
	}

	teamByID, err := s.loadTeams(ctx, game)
	if err != nil {
		return nil, err
	}

	if err := s.loadGameStates(ctx, game, teamByID, taskByID, tipByID, codeByID); err != nil {
		return nil, err
	}
	return game, nil
}

func (s *SQLiteStore) loadTasks(ctx context.Context, game *encounter.Game) (map[int64]*encounter.Tip, map[int64]*encounter.Code, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, name, task_type FROM tasks WHERE game_id = ? ORDER BY position, id
	`, game.ID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	taskByID := make(map[int64]*encounter.Task)
	for rows.Next() {
		task := &encounter.Task{}
		var taskType string
		if err := rows.Scan(&task.ID, &task.Name, &taskType); err != nil {
			return nil, nil, err
		}
		task.Type = encounter.TaskType(taskType)
		game.Tasks = append(game.Tasks, task)
		taskByID[task.ID] = task
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	tipRows, err := s.q.QueryContext(ctx, `
		SELECT t.id, t.task_id, t.text, t.suspend_time
		FROM tips t JOIN tasks k ON k.id = t.task_id
		WHERE k.game_id = ?
		ORDER BY t.suspend_time, t.id
	`, game.ID)
	if err != nil {
		return nil, nil, err
	}
	defer tipRows.Close()

	tipByID := make(map[int64]*encounter.Tip)
	for tipRows.Next() {
		tip := &encounter.Tip{}
		var taskID int64
		if err := tipRows.Scan(&tip.ID, &taskID, &tip.Text, &tip.SuspendTime); err != nil {
			return nil, nil, err
		}
		if task := taskByID[taskID]; task != nil {
			task.Tips = append(task.Tips, tip)
		}
		tipByID[tip.ID] = tip
	}
	if err := tipRows.Err(); err != nil {
		return nil, nil, err
	}

	codeRows, err := s.q.QueryContext(ctx, `
		SELECT c.id, c.task_id, c.value, c.is_bonus
		FROM codes c JOIN tasks k ON k.id = c.task_id
		WHERE k.game_id = ?
		ORDER BY c.id
	`, game.ID)
	if err != nil {
		return nil, nil, err
	}
	defer codeRows.Close()

	codeByID := make(map[int64]*encounter.Code)
	for codeRows.Next() {
		code := &encounter.Code{}
		var taskID int64
		var bonus int
		if err := codeRows.Scan(&code.ID, &taskID, &code.Value, &bonus); err != nil {
			return nil, nil, err
		}
		code.Bonus = bonus != 0
		if task := taskByID[taskID]; task != nil {
			task.Codes = append(task.Codes, code)
		}
		codeByID[code.ID] = code
	}
	return tipByID, codeByID, codeRows.Err()
}

func (s *SQLiteStore) loadTeams(ctx context.Context, game *encounter.Game) (map[int64]*encounter.Team, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, name, leader_id FROM teams WHERE game_id = ? ORDER BY position, id
	`, game.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	leaderIDs := make(map[int64]int64)
	for rows.Next() {
		team := &encounter.Team{Game: game}
		var leaderID sql.NullInt64
		if err := rows.Scan(&team.ID, &team.Name, &leaderID); err != nil {
			return nil, err
		}
		if leaderID.Valid {
			leaderIDs[team.ID] = leaderID.Int64
		}
		game.Teams = append(game.Teams, team)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	teamByID := make(map[int64]*encounter.Team, len(game.Teams))
	for _, t := range game.Teams {
		teamByID[t.ID] = t
	}

	userRows, err := s.q.QueryContext(ctx, `
		SELECT u.id, u.team_id, u.name, COALESCE(u.session_id, '')
		FROM users u JOIN teams t ON t.id = u.team_id
		WHERE t.game_id = ?
		ORDER BY u.id
	`, game.ID)
	if err != nil {
		return nil, err
	}
	defer userRows.Close()

	for userRows.Next() {
		user := &encounter.User{}
		var teamID int64
		if err := userRows.Scan(&user.ID, &teamID, &user.Name, &user.SessionID); err != nil {
			return nil, err
		}
		team := teamByID[teamID]
		if team == nil {
			continue
		}
		team.Users = append(team.Users, user)
		if leaderIDs[teamID] == user.ID {
			team.Leader = user
		}
	}
	return teamByID, userRows.Err()
}

func (s *SQLiteStore) loadGameStates(
	ctx context.Context,
	game *encounter.Game,
	teamByID map[int64]*encounter.Team,
	taskByID map[int64]*encounter.Task,
	tipByID map[int64]*encounter.Tip,
	codeByID map[int64]*encounter.Code,
) error {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, team_id, active_task_state_id, game_done_time
		FROM team_game_states
		WHERE game_id = ? AND is_current = 1
	`, game.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	stateByID := make(map[int64]*encounter.TeamGameState)
	activeIDs := make(map[int64]int64) // team game state id -> active task state id
	for rows.Next() {
		state := &encounter.TeamGameState{Game: game}
		var teamID int64
		var activeID sql.NullInt64
		var doneTime sql.NullString
		if err := rows.Scan(&state.ID, &teamID, &activeID, &doneTime); err != nil {
			return err
		}
		if state.GameDoneTime, err = parseTimePtr(doneTime); err != nil {
			return err
		}
		team := teamByID[teamID]
		if team == nil {
			continue
		}
		state.Team = team
		team.GameState = state
		team.History = append(team.History, state)
		if activeID.Valid {
			activeIDs[state.ID] = activeID.Int64
		}
		stateByID[state.ID] = state
	}
	if err := rows.Err(); err != nil {
		return err
	}

	taskStateRows, err := s.q.QueryContext(ctx, `
		SELECT ts.id, ts.team_game_state_id, ts.task_id, ts.start_time, ts.finish_time, ts.flag, ts.acceleration_start_time
		FROM team_task_states ts
		JOIN team_game_states gs ON gs.id = ts.team_game_state_id
		WHERE gs.game_id = ? AND gs.is_current = 1
		ORDER BY ts.id
	`, game.ID)
	if err != nil {
		return err
	}
	defer taskStateRows.Close()

	taskStateByID := make(map[int64]*encounter.TeamTaskState)
	for taskStateRows.Next() {
		ts := &encounter.TeamTaskState{}
		var gsID, taskID int64
		var startTime, flag string
		var finishTime, accelTime sql.NullString
		if err := taskStateRows.Scan(&ts.ID, &gsID, &taskID, &startTime, &finishTime, &flag, &accelTime); err != nil {
			return err
		}
		ts.Flag = encounter.TaskFlag(flag)
		ts.Task = taskByID[taskID]
		if ts.StartTime, err = parseTime(startTime); err != nil {
			return err
		}
		if ts.FinishTime, err = parseTimePtr(finishTime); err != nil {
			return err
		}
		if ts.AccelerationStartTime, err = parseTimePtr(accelTime); err != nil {
			return err
		}

		state := stateByID[gsID]
		if state == nil {
			continue
		}
		ts.GameState = state
		if activeIDs[gsID] == ts.ID {
			state.ActiveTaskState = ts
		} else {
			state.AcceptedTasks = append(state.AcceptedTasks, ts)
		}
		taskStateByID[ts.ID] = ts
	}
	if err := taskStateRows.Err(); err != nil {
		return err
	}

	return s.loadAccepted(ctx, game.ID, taskStateByID, tipByID, codeByID)
}

func (s *SQLiteStore) loadAccepted(
	ctx context.Context,
	gameID int64,
	taskStateByID map[int64]*encounter.TeamTaskState,
	tipByID map[int64]*encounter.Tip,
	codeByID map[int64]*encounter.Code,
) error {
	tipRows, err := s.q.QueryContext(ctx, `
		SELECT a.id, a.team_task_state_id, a.tip_id, a.accept_time
		FROM accepted_tips a
		JOIN team_task_states ts ON ts.id = a.team_task_state_id
		JOIN team_game_states gs ON gs.id = ts.team_game_state_id
		WHERE gs.game_id = ? AND gs.is_current = 1
		ORDER BY a.accept_time, a.id
	`, gameID)
	if err != nil {
		return err
	}
	defer tipRows.Close()

	for tipRows.Next() {
		accepted := &encounter.AcceptedTip{}
		var tsID, tipID int64
		var acceptTime string
		if err := tipRows.Scan(&accepted.ID, &tsID, &tipID, &acceptTime); err != nil {
			return err
		}
		if accepted.AcceptTime, err = parseTime(acceptTime); err != nil {
			return err
		}
		accepted.Tip = tipByID[tipID]
		if ts := taskStateByID[tsID]; ts != nil {
			accepted.TaskState = ts
			ts.AcceptedTips = append(ts.AcceptedTips, accepted)
		}
	}
	if err := tipRows.Err(); err != nil {
		return err
	}

	codeRows, err := s.q.QueryContext(ctx, `
		SELECT a.id, a.team_task_state_id, a.code_id, a.accept_time
		FROM accepted_codes a
		JOIN team_task_states ts ON ts.id = a.team_task_state_id
		JOIN team_game_states gs ON gs.id = ts.team_game_state_id
		WHERE gs.game_id = ? AND gs.is_current = 1
		ORDER BY a.accept_time, a.id
	`, gameID)
	if err != nil {
		return err
	}
	defer codeRows.Close()

	for codeRows.Next() {
		accepted := &encounter.AcceptedCode{}
		var tsID, codeID int64
		var acceptTime string
		if err := codeRows.Scan(&accepted.ID, &tsID, &codeID, &acceptTime); err != nil {
			return err
		}
		if accepted.AcceptTime, err = parseTime(acceptTime); err != nil {
			return err
		}
		accepted.Code = codeByID[codeID]
		if ts := taskStateByID[tsID]; ts != nil {
			accepted.TaskState = ts
			ts.AcceptedCodes = append(ts.AcceptedCodes, accepted)
		}
	}
	if err := codeRows.Err(); err != nil {
		return err
	}

	badRows, err := s.q.QueryContext(ctx, `
		SELECT a.id, a.team_task_state_id, a.text, a.accept_time
		FROM accepted_bad_codes a
		JOIN team_task_states ts ON ts.id = a.team_task_state_id
		JOIN team_game_states gs ON gs.id = ts.team_game_state_id
		WHERE gs.game_id = ? AND gs.is_current = 1
		ORDER BY a.accept_time, a.id
	`, gameID)
	if err != nil {
		return err
	}
	defer badRows.Close()

	for badRows.Next() {
		bad := &encounter.AcceptedBadCode{}
		var tsID int64
		var acceptTime string
		if err := badRows.Scan(&bad.ID, &tsID, &bad.Text, &acceptTime); err != nil {
			return err
		}
		if bad.AcceptTime, err = parseTime(acceptTime); err != nil {
			return err
		}
		if ts := taskStateByID[tsID]; ts != nil {
			bad.TaskState = ts
			ts.AcceptedBadCodes = append(ts.AcceptedBadCodes, bad)
		}
	}
	return badRows.Err()
}

func (s *SQLiteStore) SaveGame(ctx context.Context, g *encounter.Game) error {
	if g.ID == 0 {
		return s.q.QueryRowContext(ctx, `
			INSERT INTO games (name, state, start_time, total_minutes, per_task_minutes, main_prefix, bonus_prefix)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			RETURNING id
		`, g.Name, string(g.State), formatTime(g.StartTime), g.TotalMinutes, g.PerTaskMinutes, g.MainPrefix, g.BonusPrefix).Scan(&g.ID)
	}
	_, err := s.q.ExecContext(ctx, `
		UPDATE games
		SET name = ?, state = ?, start_time = ?, total_minutes = ?, per_task_minutes = ?, main_prefix = ?, bonus_prefix = ?
		WHERE id = ?
	`, g.Name, string(g.State), formatTime(g.StartTime), g.TotalMinutes, g.PerTaskMinutes, g.MainPrefix, g.BonusPrefix, g.ID)
	return err
}

func (s *SQLiteStore) SaveTeam(ctx context.Context, t *encounter.Team) error {
	var gameID any
	if t.Game != nil {
		gameID = t.Game.ID
	}
	var leaderID any
	if t.Leader != nil {
		leaderID = t.Leader.ID
	}

	if t.ID == 0 {
		if err := s.q.QueryRowContext(ctx, `
			INSERT INTO teams (game_id, name, leader_id) VALUES (?, ?, ?) RETURNING id
		`, gameID, t.Name, leaderID).Scan(&t.ID); err != nil {
			return err
		}
	} else {
		if _, err := s.q.ExecContext(ctx, `
			UPDATE teams SET game_id = ?, name = ?, leader_id = ? WHERE id = ?
		`, gameID, t.Name, leaderID, t.ID); err != nil {
			return err
		}
	}

	// A cleared current game state is persisted by retiring the row; the
	// history itself stays.
	if t.GameState == nil {
		_, err := s.q.ExecContext(ctx, `
			UPDATE team_game_states SET is_current = 0 WHERE team_id = ? AND is_current = 1
		`, t.ID)
		return err
	}
	return nil
}

func (s *SQLiteStore) SaveTeamGameState(ctx context.Context, state *encounter.TeamGameState) error {
	var activeID any
	if state.ActiveTaskState != nil {
		activeID = state.ActiveTaskState.ID
	}

	if state.ID == 0 {
		return s.q.QueryRowContext(ctx, `
			INSERT INTO team_game_states (team_id, game_id, active_task_state_id, game_done_time, is_current)
			VALUES (?, ?, ?, ?, 1)
			RETURNING id
		`, state.Team.ID, state.Game.ID, activeID, formatTimePtr(state.GameDoneTime)).Scan(&state.ID)
	}
	_, err := s.q.ExecContext(ctx, `
		UPDATE team_game_states SET active_task_state_id = ?, game_done_time = ? WHERE id = ?
	`, activeID, formatTimePtr(state.GameDoneTime), state.ID)
	return err
}

func (s *SQLiteStore) SaveTeamTaskState(ctx context.Context, state *encounter.TeamTaskState) error {
	if state.ID == 0 {
		return s.q.QueryRowContext(ctx, `
			INSERT INTO team_task_states (team_game_state_id, task_id, start_time, finish_time, flag, acceleration_start_time)
			VALUES (?, ?, ?, ?, ?, ?)
			RETURNING id
		`, state.GameState.ID, state.Task.ID, formatTime(state.StartTime),
			formatTimePtr(state.FinishTime), string(state.Flag), formatTimePtr(state.AccelerationStartTime)).Scan(&state.ID)
	}
	_, err := s.q.ExecContext(ctx, `
		UPDATE team_task_states
		SET finish_time = ?, flag = ?, acceleration_start_time = ?
		WHERE id = ?
	`, formatTimePtr(state.FinishTime), string(state.Flag), formatTimePtr(state.AccelerationStartTime), state.ID)
	return err
}

func (s *SQLiteStore) SaveAcceptedTip(ctx context.Context, a *encounter.AcceptedTip) error {
	if a.ID != 0 {
		return nil // accepted records are immutable
	}
	return s.q.QueryRowContext(ctx, `
		INSERT INTO accepted_tips (team_task_state_id, tip_id, accept_time)
		VALUES (?, ?, ?)
		RETURNING id
	`, a.TaskState.ID, a.Tip.ID, formatTime(a.AcceptTime)).Scan(&a.ID)
}

func (s *SQLiteStore) SaveAcceptedCode(ctx context.Context, a *encounter.AcceptedCode) error {
	if a.ID != 0 {
		return nil
	}
	return s.q.QueryRowContext(ctx, `
		INSERT INTO accepted_codes (team_task_state_id, code_id, accept_time)
		VALUES (?, ?, ?)
		RETURNING id
	`, a.TaskState.ID, a.Code.ID, formatTime(a.AcceptTime)).Scan(&a.ID)
}

func (s *SQLiteStore) SaveAcceptedBadCode(ctx context.Context, a *encounter.AcceptedBadCode) error {
	if a.ID != 0 {
		return nil
	}
	return s.q.QueryRowContext(ctx, `
		INSERT INTO accepted_bad_codes (team_task_state_id, text, accept_time)
		VALUES (?, ?, ?)
		RETURNING id
	`, a.TaskState.ID, a.Text, formatTime(a.AcceptTime)).Scan(&a.ID)
}
