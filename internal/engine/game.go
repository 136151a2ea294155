package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/playbeaver/encounter/internal/encounter"
)

// GameService enforces the game lifecycle state machine and routes
// task-level operations to the task service. The bare *Game methods mutate
// a loaded aggregate and expect the caller to own the transaction; the
// ID-keyed wrappers below them are the interactive entry points used by the
// HTTP layer, each running under the game's pass lock inside one
// transaction so that live submissions and scheduled recalculation passes
// never interleave.
type GameService struct {
	store  Store
	tasks  *TaskService
	demons *Registry
	notify Notifier
	logger *slog.Logger
}

func NewGameService(store Store, tasks *TaskService, demons *Registry, notify Notifier, logger *slog.Logger) *GameService {
	if notify == nil {
		notify = NopNotifier{}
	}
	return &GameService{
		store:  store,
		tasks:  tasks,
		demons: demons,
		notify: notify,
		logger: logger,
	}
}

func (g *GameService) withStore(store Store) *GameService {
	cp := *g
	cp.store = store
	cp.tasks = g.tasks.withStore(store)
	return &cp
}

// demonFor returns the game's demon, creating it on first use. The demon is
// also the per-game mutual-exclusion domain for interactive operations.
func (g *GameService) demonFor(gameID int64) *Demon {
	return g.demons.Demon(NewRecalculator(gameID, g.store, g))
}

// StartupGame moves a planned game into the pre-start state and creates a
// fresh TeamGameState for every team that has at least one member. Only one
// game may be live (startup, started, or finished) at a time.
func (g *GameService) StartupGame(ctx context.Context, game *encounter.Game) error {
	if game.State != encounter.GamePlanned {
		return &StateError{Op: "start up the game", State: game.State}
	}

	states, err := g.store.GameStates(ctx)
	if err != nil {
		return fmt.Errorf("listing game states: %w", err)
	}
	for id, state := range states {
		if id != game.ID && state.Live() {
			return ErrAnotherGameLive
		}
	}

	for _, team := range game.Teams {
		if len(team.Users) == 0 {
			continue
		}
		state := &encounter.TeamGameState{Team: team, Game: game}
		team.GameState = state
		team.History = append(team.History, state)
		if err := g.store.SaveTeamGameState(ctx, state); err != nil {
			return fmt.Errorf("saving state for team %q: %w", team.Name, err)
		}
	}

	game.State = encounter.GameStartup
	return g.store.SaveGame(ctx, game)
}

// StartGame moves the game into the running state and starts its demon.
func (g *GameService) StartGame(ctx context.Context, game *encounter.Game) error {
	if game.State != encounter.GameStartup {
		return &StateError{Op: "start the game", State: game.State}
	}

	game.State = encounter.GameStarted
	if err := g.store.SaveGame(ctx, game); err != nil {
		return err
	}

	g.demonFor(game.ID).Start()
	return nil
}

// StopGame halts the game at the given time: the demon's ticker is stopped,
// every team that is still playing has its active task closed as overtime,
// and every unfinished team gets its game-done time stamped. The demon stays
// registered here so that it keeps serializing operations while the stopping
// transaction is still in flight; the ID-keyed Stop discards it once the
// transaction has committed.
func (g *GameService) StopGame(ctx context.Context, game *encounter.Game, at time.Time) error {
	if game.State != encounter.GameStarted {
		return &StateError{Op: "stop the game", State: game.State}
	}

	if d := g.demons.Lookup(game.ID); d != nil {
		d.Stop()
	}

	game.State = encounter.GameFinished
	if err := g.store.SaveGame(ctx, game); err != nil {
		return err
	}

	for _, team := range game.Teams {
		state := team.GameState
		if state == nil || state.GameDoneTime != nil {
			continue
		}
		if state.ActiveTaskState != nil {
			if err := g.tasks.CloseTaskForTeam(ctx, state.ActiveTaskState, encounter.FlagOvertime, at); err != nil {
				return err
			}
		}
		done := at
		state.GameDoneTime = &done
		if err := g.store.SaveTeamGameState(ctx, state); err != nil {
			return fmt.Errorf("saving state for team %q: %w", team.Name, err)
		}
	}

	g.notify.GameStopped(game, at)
	return nil
}

// CloseGame archives a finished game. Teams lose both their current game
// state and their game assignment; history stays persisted.
func (g *GameService) CloseGame(ctx context.Context, game *encounter.Game) error {
	if game.State != encounter.GameFinished {
		return &StateError{Op: "close the game", State: game.State}
	}

	game.State = encounter.GameClosed
	if err := g.store.SaveGame(ctx, game); err != nil {
		return err
	}

	for _, team := range game.Teams {
		team.GameState = nil
		team.Game = nil
		if err := g.store.SaveTeam(ctx, team); err != nil {
			return fmt.Errorf("saving team %q: %w", team.Name, err)
		}
	}
	return nil
}

// ResetGame returns the game to the planned state and drops every team's
// current game state. Unlike CloseGame, teams keep their game assignment.
func (g *GameService) ResetGame(ctx context.Context, game *encounter.Game) error {
	switch game.State {
	case encounter.GameStartup, encounter.GameFinished, encounter.GameClosed, encounter.GamePlanned:
	default:
		return &StateError{Op: "reset the game", State: game.State}
	}

	game.State = encounter.GamePlanned
	if err := g.store.SaveGame(ctx, game); err != nil {
		return err
	}

	for _, team := range game.Teams {
		team.GameState = nil
		if err := g.store.SaveTeam(ctx, team); err != nil {
			return fmt.Errorf("saving team %q: %w", team.Name, err)
		}
	}
	return nil
}

// Task-level pass-throughs. Recalculation and live submissions both land
// here, parameterized by an explicit timestamp from the caller.

func (g *GameService) SubmitCode(ctx context.Context, raw string, state *encounter.TeamGameState, user *encounter.User, now time.Time) error {
	return g.tasks.SubmitCode(ctx, raw, state, user, now)
}

func (g *GameService) CloseTaskForTeam(ctx context.Context, state *encounter.TeamTaskState, flag encounter.TaskFlag, now time.Time) error {
	return g.tasks.CloseTaskForTeam(ctx, state, flag, now)
}

func (g *GameService) AssignNewTask(ctx context.Context, state *encounter.TeamGameState, oldTask *encounter.Task, now time.Time) error {
	return g.tasks.AssignNewTask(ctx, state, oldTask, now)
}

func (g *GameService) AssignNewTaskTip(ctx context.Context, state *encounter.TeamTaskState, tip *encounter.Tip, now time.Time) error {
	return g.tasks.AssignNewTaskTip(ctx, state, tip, now)
}

func (g *GameService) AccelerateTask(ctx context.Context, state *encounter.TeamTaskState, now time.Time) error {
	return g.tasks.AccelerateTask(ctx, state, now)
}

func (g *GameService) CheckExceededBadCodes(ctx context.Context, state *encounter.TeamGameState, now time.Time) error {
	return g.tasks.CheckExceededBadCodes(ctx, state, now)
}

func (g *GameService) GetSuggestTips(state *encounter.TeamTaskState, now time.Time) []*encounter.Tip {
	return g.tasks.GetSuggestTips(state, now)
}

// Interactive entry points, keyed by IDs. Each one serializes against the
// game's recalculation passes and runs in one transaction.

// Startup looks up the game and runs StartupGame.
func (g *GameService) Startup(ctx context.Context, gameID int64) error {
	return g.guarded(ctx, gameID, func(ctx context.Context, svc *GameService, game *encounter.Game) error {
		return svc.StartupGame(ctx, game)
	})
}

// Start looks up the game and runs StartGame.
func (g *GameService) Start(ctx context.Context, gameID int64) error {
	return g.guarded(ctx, gameID, func(ctx context.Context, svc *GameService, game *encounter.Game) error {
		return svc.StartGame(ctx, game)
	})
}

// Stop looks up the game and runs StopGame at the given time. The game's
// demon is discarded only after the transaction has committed and the pass
// lock is released, so no second demon can run against the game while the
// stop is mid-flight.
func (g *GameService) Stop(ctx context.Context, gameID int64, at time.Time) error {
	err := g.guarded(ctx, gameID, func(ctx context.Context, svc *GameService, game *encounter.Game) error {
		return svc.StopGame(ctx, game, at)
	})
	if err != nil {
		return err
	}
	g.demons.Remove(gameID)
	return nil
}

// Close looks up the game and runs CloseGame.
func (g *GameService) Close(ctx context.Context, gameID int64) error {
	return g.guarded(ctx, gameID, func(ctx context.Context, svc *GameService, game *encounter.Game) error {
		return svc.CloseGame(ctx, game)
	})
}

// Reset looks up the game and runs ResetGame.
func (g *GameService) Reset(ctx context.Context, gameID int64) error {
	return g.guarded(ctx, gameID, func(ctx context.Context, svc *GameService, game *encounter.Game) error {
		return svc.ResetGame(ctx, game)
	})
}

// Submit runs an interactive code submission for one team.
func (g *GameService) Submit(ctx context.Context, gameID, teamID, userID int64, raw string, now time.Time) error {
	return g.guarded(ctx, gameID, func(ctx context.Context, svc *GameService, game *encounter.Game) error {
		team := findTeam(game, teamID)
		if team == nil || team.GameState == nil {
			return ErrNotFound
		}
		return svc.SubmitCode(ctx, raw, team.GameState, findUser(team, userID), now)
	})
}

// Accelerate runs an interactive need-for-speed acceleration for one team.
func (g *GameService) Accelerate(ctx context.Context, gameID, teamID int64, now time.Time) error {
	return g.guarded(ctx, gameID, func(ctx context.Context, svc *GameService, game *encounter.Game) error {
		team := findTeam(game, teamID)
		if team == nil || team.GameState == nil || team.GameState.ActiveTaskState == nil {
			return ErrNotFound
		}
		return svc.AccelerateTask(ctx, team.GameState.ActiveTaskState, now)
	})
}

// TakeTip reveals one of the currently suggested tips to the team. Tips
// outside the suggested set are rejected: a team cannot reach ahead of the
// hint schedule.
func (g *GameService) TakeTip(ctx context.Context, gameID, teamID, tipID int64, now time.Time) error {
	return g.guarded(ctx, gameID, func(ctx context.Context, svc *GameService, game *encounter.Game) error {
		team := findTeam(game, teamID)
		if team == nil || team.GameState == nil || team.GameState.ActiveTaskState == nil {
			return ErrNotFound
		}
		active := team.GameState.ActiveTaskState
		for _, tip := range svc.GetSuggestTips(active, now) {
			if tip.ID == tipID {
				return svc.AssignNewTaskTip(ctx, active, tip, now)
			}
		}
		return ErrNotFound
	})
}

// Resume restarts demons for games that were running when the process last
// exited. Called once at boot.
func (g *GameService) Resume(ctx context.Context) error {
	states, err := g.store.GameStates(ctx)
	if err != nil {
		return fmt.Errorf("listing game states: %w", err)
	}
	for id, state := range states {
		if state == encounter.GameStarted {
			g.logger.Info("resuming demon for running game", "game_id", id)
			g.demonFor(id).Start()
		}
	}
	return nil
}

func (g *GameService) guarded(ctx context.Context, gameID int64, fn func(context.Context, *GameService, *encounter.Game) error) error {
	return g.demonFor(gameID).Guard(func() error {
		return g.store.InTx(ctx, func(tx Store) error {
			game, err := tx.Game(ctx, gameID)
			if err != nil {
				return err
			}
			return fn(ctx, g.withStore(tx), game)
		})
	})
}

// TeamResult is one row of the results table: the rank inputs for a team
// that has finished the game.
type TeamResult struct {
	Rank       int           `json:"rank"`
	Team       string        `json:"team"`
	Tasks      int           `json:"tasks"`
	BonusCodes int           `json:"bonusCodes"`
	Time       time.Duration `json:"-"`
	TimeText   string        `json:"time"`
}

// Results returns, for every team that finished the game, its successful
// task count, collected bonus codes, and elapsed time to the last
// successful task completion, ranked best-first.
func (g *GameService) Results(ctx context.Context, gameID int64) ([]TeamResult, error) {
	game, err := g.store.Game(ctx, gameID)
	if err != nil {
		return nil, err
	}

	var results []TeamResult
	for _, team := range game.Teams {
		state := team.GameState
		if state == nil || state.GameDoneTime == nil {
			continue
		}

		tasks, bonus := 0, 0
		lastTaskTime := game.StartTime
		for _, ts := range state.AcceptedTasks {
			bonus += ts.BonusCodesAccepted()
			if ts.Flag == encounter.FlagSuccess {
				tasks++
				if ts.FinishTime != nil {
					lastTaskTime = *ts.FinishTime
				}
			}
		}

		elapsed := lastTaskTime.Sub(game.StartTime)
		results = append(results, TeamResult{
			Team:       team.Name,
			Tasks:      tasks,
			BonusCodes: bonus,
			Time:       elapsed,
			TimeText:   elapsed.String(),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Tasks != results[j].Tasks {
			return results[i].Tasks > results[j].Tasks
		}
		if results[i].Time != results[j].Time {
			return results[i].Time < results[j].Time
		}
		return results[i].BonusCodes > results[j].BonusCodes
	})
	for i := range results {
		results[i].Rank = i + 1
	}
	return results, nil
}

func findTeam(game *encounter.Game, teamID int64) *encounter.Team {
	for _, team := range game.Teams {
		if team.ID == teamID {
			return team
		}
	}
	return nil
}

func findUser(team *encounter.Team, userID int64) *encounter.User {
	for _, user := range team.Users {
		if user.ID == userID {
			return user
		}
	}
	return nil
}
