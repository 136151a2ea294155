package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/playbeaver/encounter/internal/encounter"
)

// Event is the payload published to team subscribers over SSE and
// websockets.
type Event struct {
	Type     string `json:"type"`
	TaskID   int64  `json:"taskId,omitempty"`
	TaskName string `json:"taskName,omitempty"`
	TipID    int64  `json:"tipId,omitempty"`
	TipText  string `json:"tipText,omitempty"`
	Flag     string `json:"flag,omitempty"`
	UserName string `json:"userName,omitempty"`
	At       string `json:"at,omitempty"`
}

// Broker is an in-process pub/sub keyed by team ID. It also implements
// engine.Notifier, turning state-machine events into wire events.
type Broker struct {
	store  *SQLiteStore
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[int64]map[chan []byte]struct{}
}

func NewBroker(store *SQLiteStore, logger *slog.Logger) *Broker {
	return &Broker{
		store:  store,
		logger: logger,
		subs:   make(map[int64]map[chan []byte]struct{}),
	}
}

// Subscribe returns a channel that receives JSON-encoded events for the
// given team.
func (b *Broker) Subscribe(teamID int64) chan []byte {
	ch := make(chan []byte, 16)
	b.mu.Lock()
	if b.subs[teamID] == nil {
		b.subs[teamID] = make(map[chan []byte]struct{})
	}
	b.subs[teamID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a channel from the team's subscribers.
func (b *Broker) Unsubscribe(teamID int64, ch chan []byte) {
	b.mu.Lock()
	delete(b.subs[teamID], ch)
	if len(b.subs[teamID]) == 0 {
		delete(b.subs, teamID)
	}
	b.mu.Unlock()
}

// Publish sends an event to all subscribers of the given team.
func (b *Broker) Publish(teamID int64, event Event) {
	data, _ := json.Marshal(event)
	b.mu.RLock()
	for ch := range b.subs[teamID] {
		select {
		case ch <- data:
		default:
			// Drop if subscriber is slow.
		}
	}
	b.mu.RUnlock()
}

// engine.Notifier implementation.

func (b *Broker) TaskAssigned(state *encounter.TeamTaskState, at time.Time) {
	b.Publish(state.GameState.Team.ID, Event{
		Type:     "task_assigned",
		TaskID:   state.Task.ID,
		TaskName: state.Task.Name,
		At:       at.UTC().Format(time.RFC3339Nano),
	})
}

func (b *Broker) TipRevealed(state *encounter.TeamTaskState, tip *encounter.Tip, at time.Time) {
	b.Publish(state.GameState.Team.ID, Event{
		Type:    "tip_revealed",
		TaskID:  state.Task.ID,
		TipID:   tip.ID,
		TipText: tip.Text,
		At:      at.UTC().Format(time.RFC3339Nano),
	})
}

func (b *Broker) TaskClosed(state *encounter.TeamTaskState, flag encounter.TaskFlag, at time.Time) {
	b.Publish(state.GameState.Team.ID, Event{
		Type:   "task_closed",
		TaskID: state.Task.ID,
		Flag:   string(flag),
		At:     at.UTC().Format(time.RFC3339Nano),
	})
}

func (b *Broker) TeamFinished(state *encounter.TeamGameState, at time.Time) {
	b.Publish(state.Team.ID, Event{
		Type: "team_finished",
		At:   at.UTC().Format(time.RFC3339Nano),
	})
}

// GameStopped fans out to every team of the game. The loaded aggregate
// carries the teams, so no extra query is needed for the common case; the
// store is the fallback when the event arrives detached.
func (b *Broker) GameStopped(game *encounter.Game, at time.Time) {
	event := Event{Type: "game_stopped", At: at.UTC().Format(time.RFC3339Nano)}

	if len(game.Teams) > 0 {
		for _, team := range game.Teams {
			b.Publish(team.ID, event)
		}
		return
	}

	ids, err := b.store.TeamIDsForGame(context.Background(), game.ID)
	if err != nil {
		b.logger.Error("listing teams for game_stopped event", "game_id", game.ID, "error", err)
		return
	}
	for _, id := range ids {
		b.Publish(id, event)
	}
}
