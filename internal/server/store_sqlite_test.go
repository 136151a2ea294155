package server

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/playbeaver/encounter/internal/database"
	"github.com/playbeaver/encounter/internal/encounter"
	"github.com/playbeaver/encounter/internal/engine"
	"github.com/playbeaver/encounter/internal/migrations"
)

func newTestStore(t *testing.T) (*SQLiteStore, *sql.DB) {
	t.Helper()
	db, err := database.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := migrations.Run(db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}
	return NewSQLiteStore(db), db
}

func TestStoreRoundTrip(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 5, 1, 21, 0, 0, 0, time.UTC)

	game := &encounter.Game{
		Name:           "Round Trip",
		State:          encounter.GameStarted,
		StartTime:      start,
		TotalMinutes:   540,
		PerTaskMinutes: 90,
		MainPrefix:     "EN",
	}
	if err := store.SaveGame(ctx, game); err != nil {
		t.Fatalf("SaveGame: %v", err)
	}
	if game.ID == 0 {
		t.Fatal("SaveGame did not assign an id")
	}

	team := &encounter.Team{Name: "Owls", Game: game}
	if err := store.SaveTeam(ctx, team); err != nil {
		t.Fatalf("SaveTeam: %v", err)
	}

	var userID int64
	err := db.QueryRowContext(ctx, `
		INSERT INTO users (team_id, name, session_id) VALUES (?, 'alice', 'tok') RETURNING id
	`, team.ID).Scan(&userID)
	if err != nil {
		t.Fatalf("inserting user: %v", err)
	}
	team.Leader = &encounter.User{ID: userID}
	if err := store.SaveTeam(ctx, team); err != nil {
		t.Fatalf("SaveTeam with leader: %v", err)
	}

	var taskID, tipID, codeID int64
	if err := db.QueryRowContext(ctx, `
		INSERT INTO tasks (game_id, name, task_type, position) VALUES (?, 'First', 'normal', 0) RETURNING id
	`, game.ID).Scan(&taskID); err != nil {
		t.Fatalf("inserting task: %v", err)
	}
	if err := db.QueryRowContext(ctx, `
		INSERT INTO tips (task_id, text, suspend_time) VALUES (?, 'hint', 30) RETURNING id
	`, taskID).Scan(&tipID); err != nil {
		t.Fatalf("inserting tip: %v", err)
	}
	if err := db.QueryRowContext(ctx, `
		INSERT INTO codes (task_id, value, is_bonus) VALUES (?, 'X', 0) RETURNING id
	`, taskID).Scan(&codeID); err != nil {
		t.Fatalf("inserting code: %v", err)
	}

	state := &encounter.TeamGameState{Team: team, Game: game}
	if err := store.SaveTeamGameState(ctx, state); err != nil {
		t.Fatalf("SaveTeamGameState: %v", err)
	}
	ts := &encounter.TeamTaskState{
		Task:      &encounter.Task{ID: taskID},
		GameState: state,
		StartTime: start,
		Flag:      encounter.FlagExecuting,
	}
	if err := store.SaveTeamTaskState(ctx, ts); err != nil {
		t.Fatalf("SaveTeamTaskState: %v", err)
	}
	state.ActiveTaskState = ts
	if err := store.SaveTeamGameState(ctx, state); err != nil {
		t.Fatalf("SaveTeamGameState update: %v", err)
	}

	if err := store.SaveAcceptedTip(ctx, &encounter.AcceptedTip{
		Tip: &encounter.Tip{ID: tipID}, TaskState: ts, AcceptTime: start.Add(30 * time.Minute),
	}); err != nil {
		t.Fatalf("SaveAcceptedTip: %v", err)
	}
	if err := store.SaveAcceptedCode(ctx, &encounter.AcceptedCode{
		Code: &encounter.Code{ID: codeID}, TaskState: ts, AcceptTime: start.Add(40 * time.Minute),
	}); err != nil {
		t.Fatalf("SaveAcceptedCode: %v", err)
	}
	if err := store.SaveAcceptedBadCode(ctx, &encounter.AcceptedBadCode{
		Text: "WRONG", TaskState: ts, AcceptTime: start.Add(35 * time.Minute),
	}); err != nil {
		t.Fatalf("SaveAcceptedBadCode: %v", err)
	}

	loaded, err := store.Game(ctx, game.ID)
	if err != nil {
		t.Fatalf("Game: %v", err)
	}
	if loaded.Name != "Round Trip" || !loaded.StartTime.Equal(start) || loaded.MainPrefix != "EN" {
		t.Errorf("game = %+v", loaded)
	}
	if len(loaded.Teams) != 1 || len(loaded.Tasks) != 1 {
		t.Fatalf("teams=%d tasks=%d, want 1/1", len(loaded.Teams), len(loaded.Tasks))
	}

	lt := loaded.Teams[0]
	if lt.Leader == nil || lt.Leader.Name != "alice" {
		t.Errorf("leader = %+v, want alice", lt.Leader)
	}
	if lt.GameState == nil || lt.GameState.ActiveTaskState == nil {
		t.Fatal("active task state did not survive the round trip")
	}

	active := lt.GameState.ActiveTaskState
	if active.Task != loaded.Tasks[0] {
		t.Error("active task state should point at the loaded task")
	}
	if !active.HasTip(tipID) || !active.HasCode(codeID) || !active.HasBadCode("WRONG") {
		t.Errorf("accepted records missing: tips=%d codes=%d bad=%d",
			len(active.AcceptedTips), len(active.AcceptedCodes), len(active.AcceptedBadCodes))
	}
	if !active.AcceptedTips[0].AcceptTime.Equal(start.Add(30 * time.Minute)) {
		t.Errorf("tip accept time = %v", active.AcceptedTips[0].AcceptTime)
	}

	states, err := store.GameStates(ctx)
	if err != nil {
		t.Fatalf("GameStates: %v", err)
	}
	if states[game.ID] != encounter.GameStarted {
		t.Errorf("GameStates[%d] = %q, want started", game.ID, states[game.ID])
	}
}

func TestStoreRetiresClearedGameState(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	game := &encounter.Game{Name: "G", State: encounter.GameFinished, StartTime: time.Now()}
	if err := store.SaveGame(ctx, game); err != nil {
		t.Fatalf("SaveGame: %v", err)
	}
	team := &encounter.Team{Name: "T", Game: game}
	if err := store.SaveTeam(ctx, team); err != nil {
		t.Fatalf("SaveTeam: %v", err)
	}
	state := &encounter.TeamGameState{Team: team, Game: game}
	if err := store.SaveTeamGameState(ctx, state); err != nil {
		t.Fatalf("SaveTeamGameState: %v", err)
	}

	team.GameState = nil
	if err := store.SaveTeam(ctx, team); err != nil {
		t.Fatalf("SaveTeam after clearing: %v", err)
	}

	loaded, err := store.Game(ctx, game.ID)
	if err != nil {
		t.Fatalf("Game: %v", err)
	}
	if loaded.Teams[0].GameState != nil {
		t.Error("retired game state must not load as current")
	}
}

func TestStoreInTxRollsBack(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	var gameID int64
	err := store.InTx(ctx, func(tx engine.Store) error {
		game := &encounter.Game{Name: "Doomed", State: encounter.GamePlanned, StartTime: time.Now()}
		if err := tx.SaveGame(ctx, game); err != nil {
			return err
		}
		gameID = game.ID
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx error = %v, want the callback's error", err)
	}

	if _, err := store.Game(ctx, gameID); !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound after rollback", err)
	}
}

func TestStoreGameNotFound(t *testing.T) {
	store, _ := newTestStore(t)
	if _, err := store.Game(context.Background(), 12345); !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
