package engine

import (
	"context"

	"github.com/playbeaver/encounter/internal/encounter"
)

// TaskDispatcher picks the next task for a team. oldTask is the task the
// team just finished, nil for the very first assignment. A nil task with a
// nil error means the team has no tasks left and is done with the game.
type TaskDispatcher interface {
	NextTask(ctx context.Context, state *encounter.TeamGameState, oldTask *encounter.Task) (*encounter.Task, error)
}

// SequenceDispatcher hands out the game's tasks in their defined order,
// skipping every task the team has already attempted.
type SequenceDispatcher struct{}

func (SequenceDispatcher) NextTask(_ context.Context, state *encounter.TeamGameState, _ *encounter.Task) (*encounter.Task, error) {
	attempted := make(map[int64]bool, len(state.AcceptedTasks))
	for _, ts := range state.AcceptedTasks {
		attempted[ts.Task.ID] = true
	}
	if active := state.ActiveTaskState; active != nil {
		attempted[active.Task.ID] = true
	}
	for _, task := range state.Game.Tasks {
		if !attempted[task.ID] {
			return task, nil
		}
	}
	return nil, nil
}
