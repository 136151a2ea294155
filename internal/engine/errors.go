package engine

import (
	"errors"
	"fmt"

	"github.com/playbeaver/encounter/internal/encounter"
)

var (
	// ErrNotFound is returned when a game, team, or session cannot be resolved.
	ErrNotFound = errors.New("not found")

	// ErrTooManyCodes is returned when a single submission carries more
	// code tokens than the active task defines.
	ErrTooManyCodes = errors.New("more codes submitted at once than the task defines")

	// ErrTaskAlreadyAssigned is returned when a new task is requested for
	// a team that still has an active one.
	ErrTaskAlreadyAssigned = errors.New("team already has an active task")

	// ErrAnotherGameLive is returned by StartupGame when a different game
	// already holds the single live-game slot.
	ErrAnotherGameLive = errors.New("another game is already live")

	// ErrNotAccelerable is returned when acceleration is requested for a
	// task that is not of the need-for-speed type.
	ErrNotAccelerable = errors.New("task type does not support acceleration")
)

// StateError reports a lifecycle operation attempted in the wrong game
// state. The offending current state is always named.
type StateError struct {
	Op    string
	State encounter.GameState
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s while the game is in state %q", e.Op, e.State)
}
