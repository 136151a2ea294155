package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// SeedDemo creates a demo admin, a planned game with three tasks, and two
// joinable teams on an empty database. Idempotent: does nothing if any admin
// exists.
func SeedDemo(ctx context.Context, logger *slog.Logger, db *sql.DB) error {
	var admins int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM admins`).Scan(&admins); err != nil {
		return fmt.Errorf("counting admins: %w", err)
	}
	if admins > 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("admin"), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing demo password: %w", err)
	}
	if _, err := db.ExecContext(ctx, `
		INSERT INTO admins (email, password_hash) VALUES (?, ?)
	`, "admin@example.com", string(hash)); err != nil {
		return fmt.Errorf("creating demo admin: %w", err)
	}

	start := time.Now().Add(time.Hour).Truncate(time.Minute)
	var gameID int64
	if err := db.QueryRowContext(ctx, `
		INSERT INTO games (name, state, start_time, total_minutes, per_task_minutes, main_prefix, bonus_prefix)
		VALUES ('Demo Encounter', 'planned', ?, 180, 60, 'EN', 'BONUS')
		RETURNING id
	`, start.UTC().Format(timeFormat)).Scan(&gameID); err != nil {
		return fmt.Errorf("creating demo game: %w", err)
	}

	tasks := []struct {
		name     string
		taskType string
		tips     map[int]string // suspend minutes -> text
		codes    map[string]bool
	}{
		{
			name:     "The Old Watchtower",
			taskType: "normal",
			tips: map[int]string{
				0:  "Find the tower that watched over the northern gate.",
				20: "It stands where the tram line bends.",
				40: "Count the arrow slits on the east wall.",
			},
			codes: map[string]bool{"7TOWER": false, "GATE9": false, "SECRET1": true},
		},
		{
			name:     "Riverside Run",
			taskType: "need_for_speed",
			tips: map[int]string{
				0:  "Follow the river until the third bridge.",
				45: "The plaque under the bridge names a year.",
			},
			codes: map[string]bool{"1887": false},
		},
		{
			name:     "Roulette at the Depot",
			taskType: "russian_roulette",
			tips: map[int]string{
				0:  "The depot hides three numbers; only one opens the lock.",
				15: "Ignore anything painted red.",
				30: "The caretaker's door tells you where not to look.",
			},
			codes: map[string]bool{"DEPOT42": false, "RAIL7": false},
		},
	}

	for pos, task := range tasks {
		var taskID int64
		if err := db.QueryRowContext(ctx, `
			INSERT INTO tasks (game_id, name, task_type, position) VALUES (?, ?, ?, ?)
			RETURNING id
		`, gameID, task.name, task.taskType, pos).Scan(&taskID); err != nil {
			return fmt.Errorf("creating demo task: %w", err)
		}
		for suspend, text := range task.tips {
			if _, err := db.ExecContext(ctx, `
				INSERT INTO tips (task_id, text, suspend_time) VALUES (?, ?, ?)
			`, taskID, text, suspend); err != nil {
				return fmt.Errorf("creating demo tip: %w", err)
			}
		}
		for value, bonus := range task.codes {
			if _, err := db.ExecContext(ctx, `
				INSERT INTO codes (task_id, value, is_bonus) VALUES (?, ?, ?)
			`, taskID, value, bonus); err != nil {
				return fmt.Errorf("creating demo code: %w", err)
			}
		}
	}

	for i, name := range []string{"Night Owls", "Street Sweepers"} {
		if _, err := db.ExecContext(ctx, `
			INSERT INTO teams (game_id, name, join_token, position)
			VALUES (?, ?, lower(hex(randomblob(8))), ?)
		`, gameID, name, i); err != nil {
			return fmt.Errorf("creating demo team: %w", err)
		}
	}

	logger.Info("demo data seeded", "game_id", gameID, "admin", "admin@example.com")
	return nil
}
