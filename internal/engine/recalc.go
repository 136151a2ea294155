package engine

import (
	"context"
	"time"

	"github.com/playbeaver/encounter/internal/encounter"
)

// RecalcService is what the demon drives: one recalculation pass for one
// game at one point in time.
type RecalcService interface {
	GameID() int64
	RecalcGameState(ctx context.Context, at time.Time) error
}

// Recalculator applies every time-dependent rule of one game at a given
// instant: the game-finish check first, then for each playing team the
// first-task, overtime, bad-code, and tip-release checks, in that order.
// The whole pass runs in a single transaction; any failure rolls it back
// and leaves the game exactly as it was.
type Recalculator struct {
	gameID int64
	store  Store
	games  *GameService
}

func NewRecalculator(gameID int64, store Store, games *GameService) *Recalculator {
	return &Recalculator{gameID: gameID, store: store, games: games}
}

func (r *Recalculator) GameID() int64 { return r.gameID }

// RecalcGameState runs one pass. Games that are not started are never
// recalculated. When the finish check stops the game, no per-team checks
// run in the same pass.
func (r *Recalculator) RecalcGameState(ctx context.Context, at time.Time) error {
	return r.store.InTx(ctx, func(tx Store) error {
		game, err := tx.Game(ctx, r.gameID)
		if err != nil {
			return err
		}
		if game.State != encounter.GameStarted {
			return nil
		}

		svc := r.games.withStore(tx)

		if at.Sub(game.StartTime).Minutes() >= float64(game.TotalMinutes) {
			return svc.StopGame(ctx, game, at)
		}

		for _, team := range game.Teams {
			state := team.GameState
			if state == nil {
				continue
			}
			if err := checkFirstTask(ctx, svc, state, at); err != nil {
				return err
			}
			if err := checkOvertime(ctx, svc, state, at); err != nil {
				return err
			}
			if err := svc.CheckExceededBadCodes(ctx, state, at); err != nil {
				return err
			}
			if err := checkNextTip(ctx, svc, state, at); err != nil {
				return err
			}
		}
		return nil
	})
}

// checkFirstTask assigns the team its first task once the game's start time
// has been reached.
func checkFirstTask(ctx context.Context, svc *GameService, state *encounter.TeamGameState, at time.Time) error {
	if state.Game.StartTime.After(at) {
		return nil
	}
	if len(state.AcceptedTasks) == 0 && state.ActiveTaskState == nil {
		return svc.AssignNewTask(ctx, state, nil, at)
	}
	return nil
}

// checkOvertime closes the active task once its allowed duration has run
// out. An accelerated need-for-speed task is measured from the acceleration
// time against a deadline shortened by the final hint's offset. A task
// whose non-bonus codes were all accepted before expiry still counts as a
// success.
func checkOvertime(ctx context.Context, svc *GameService, state *encounter.TeamGameState, at time.Time) error {
	active := state.ActiveTaskState
	if active == nil {
		return nil
	}

	elapsed := at.Sub(active.StartTime)
	allowed := state.Game.PerTaskMinutes

	if active.Task.Type == encounter.TaskNeedForSpeed && active.AccelerationStartTime != nil {
		elapsed = at.Sub(*active.AccelerationStartTime)
		if tip := active.Task.LastAcceleratedTip(); tip != nil {
			allowed = state.Game.PerTaskMinutes - tip.SuspendTime
		}
	}

	if elapsed.Minutes() < float64(allowed) {
		return nil
	}

	flag := encounter.FlagOvertime
	if active.MainCodesAccepted() == active.Task.MainCodeCount() {
		flag = encounter.FlagSuccess
	}

	oldTask := active.Task
	if err := svc.CloseTaskForTeam(ctx, active, flag, at); err != nil {
		return err
	}
	return svc.AssignNewTask(ctx, state, oldTask, at)
}

// checkNextTip reveals every tip whose suspend offset has elapsed. Tasks of
// the russian-roulette type pick their hints via GetSuggestTips instead and
// are skipped here.
func checkNextTip(ctx context.Context, svc *GameService, state *encounter.TeamGameState, at time.Time) error {
	active := state.ActiveTaskState
	if active == nil || active.Task.Type == encounter.TaskRussianRoulette {
		return nil
	}

	elapsed := at.Sub(active.StartTime).Minutes()
	for _, tip := range active.Task.Tips {
		if elapsed < float64(tip.SuspendTime) || active.HasTip(tip.ID) {
			continue
		}
		if err := svc.AssignNewTaskTip(ctx, active, tip, at); err != nil {
			return err
		}
	}
	return nil
}
