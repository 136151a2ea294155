package server

import (
	"context"
	"database/sql"
	"errors"

	"github.com/playbeaver/encounter/internal/engine"
)

type sessionInfo struct {
	UserID int64
	TeamID int64
	GameID int64
}

// UserFromToken resolves a player's bearer token to their user, team, and
// game. Users whose team has no game assigned cannot have a session.
func (s *SQLiteStore) UserFromToken(ctx context.Context, token string) (sessionInfo, error) {
	var sess sessionInfo
	err := s.q.QueryRowContext(ctx, `
		SELECT u.id, u.team_id, t.game_id
		FROM users u
		JOIN teams t ON t.id = u.team_id
		WHERE u.session_id = ? AND t.game_id IS NOT NULL
	`, token).Scan(&sess.UserID, &sess.TeamID, &sess.GameID)
	if errors.Is(err, sql.ErrNoRows) {
		return sess, errNoSession
	}
	return sess, err
}

type TeamLookupResponse struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	GameName string `json:"gameName"`
	GameID   int64  `json:"-"`
}

// TeamLookup finds a team by its join token. Teams whose game is already
// closed are not joinable.
func (s *SQLiteStore) TeamLookup(ctx context.Context, joinToken string) (TeamLookupResponse, error) {
	var resp TeamLookupResponse
	err := s.q.QueryRowContext(ctx, `
		SELECT t.id, t.name, g.id, g.name
		FROM teams t
		JOIN games g ON g.id = t.game_id
		WHERE t.join_token = ? AND g.state != 'closed'
	`, joinToken).Scan(&resp.ID, &resp.Name, &resp.GameID, &resp.GameName)
	if errors.Is(err, sql.ErrNoRows) {
		return resp, engine.ErrNotFound
	}
	return resp, err
}

// JoinTeam adds a user to a team and mints their session token.
func (s *SQLiteStore) JoinTeam(ctx context.Context, teamID int64, userName string) (int64, string, error) {
	var userID int64
	var sessionID string
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO users (team_id, name, session_id)
		VALUES (?, ?, lower(hex(randomblob(16))))
		RETURNING id, session_id
	`, teamID, userName).Scan(&userID, &sessionID)
	return userID, sessionID, err
}

type AdminGameSummary struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	State          string `json:"state"`
	StartTime      string `json:"startTime"`
	TotalMinutes   int    `json:"totalMinutes"`
	PerTaskMinutes int    `json:"perTaskMinutes"`
	Teams          int    `json:"teams"`
	Tasks          int    `json:"tasks"`
}

// ListGames returns every game with its team and task counts.
func (s *SQLiteStore) ListGames(ctx context.Context) ([]AdminGameSummary, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT g.id, g.name, g.state, g.start_time, g.total_minutes, g.per_task_minutes,
			(SELECT COUNT(*) FROM teams t WHERE t.game_id = g.id),
			(SELECT COUNT(*) FROM tasks k WHERE k.game_id = g.id)
		FROM games g
		ORDER BY g.start_time DESC, g.id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	games := []AdminGameSummary{}
	for rows.Next() {
		var g AdminGameSummary
		if err := rows.Scan(&g.ID, &g.Name, &g.State, &g.StartTime, &g.TotalMinutes,
			&g.PerTaskMinutes, &g.Teams, &g.Tasks); err != nil {
			return nil, err
		}
		games = append(games, g)
	}
	return games, rows.Err()
}

// TeamIDsForGame returns the ids of every team assigned to a game, for
// fanning game-wide events out to per-team subscribers.
func (s *SQLiteStore) TeamIDsForGame(ctx context.Context, gameID int64) ([]int64, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id FROM teams WHERE game_id = ?`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
