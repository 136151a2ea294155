package engine

import (
	"time"

	"github.com/playbeaver/encounter/internal/encounter"
)

// Notifier receives state-machine events as they happen. Delivery to teams
// (SSE, bots, whatever the front end uses) is entirely the implementer's
// concern; the engine only reports.
type Notifier interface {
	TaskAssigned(state *encounter.TeamTaskState, at time.Time)
	TipRevealed(state *encounter.TeamTaskState, tip *encounter.Tip, at time.Time)
	TaskClosed(state *encounter.TeamTaskState, flag encounter.TaskFlag, at time.Time)
	TeamFinished(state *encounter.TeamGameState, at time.Time)
	GameStopped(game *encounter.Game, at time.Time)
}

// NopNotifier discards all events.
type NopNotifier struct{}

func (NopNotifier) TaskAssigned(*encounter.TeamTaskState, time.Time)                      {}
func (NopNotifier) TipRevealed(*encounter.TeamTaskState, *encounter.Tip, time.Time)       {}
func (NopNotifier) TaskClosed(*encounter.TeamTaskState, encounter.TaskFlag, time.Time)    {}
func (NopNotifier) TeamFinished(*encounter.TeamGameState, time.Time)                      {}
func (NopNotifier) GameStopped(*encounter.Game, time.Time)                                {}
