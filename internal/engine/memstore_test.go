package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/playbeaver/encounter/internal/encounter"
)

// memStore keeps aggregates in memory. Save methods only hand out ids; the
// engine mutates the shared object graph directly, which is exactly what
// these tests want to inspect.
type memStore struct {
	games  map[int64]*encounter.Game
	nextID int64
}

func newMemStore(games ...*encounter.Game) *memStore {
	m := &memStore{games: make(map[int64]*encounter.Game), nextID: 1000}
	for _, g := range games {
		m.games[g.ID] = g
	}
	return m
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) Game(_ context.Context, id int64) (*encounter.Game, error) {
	g, ok := m.games[id]
	if !ok {
		return nil, ErrNotFound
	}
	return g, nil
}

func (m *memStore) GameStates(context.Context) (map[int64]encounter.GameState, error) {
	states := make(map[int64]encounter.GameState, len(m.games))
	for id, g := range m.games {
		states[id] = g.State
	}
	return states, nil
}

func (m *memStore) SaveGame(_ context.Context, g *encounter.Game) error {
	if g.ID == 0 {
		g.ID = m.id()
	}
	m.games[g.ID] = g
	return nil
}

func (m *memStore) SaveTeam(context.Context, *encounter.Team) error { return nil }

func (m *memStore) SaveTeamGameState(_ context.Context, s *encounter.TeamGameState) error {
	if s.ID == 0 {
		s.ID = m.id()
	}
	return nil
}

func (m *memStore) SaveTeamTaskState(_ context.Context, s *encounter.TeamTaskState) error {
	if s.ID == 0 {
		s.ID = m.id()
	}
	return nil
}

func (m *memStore) SaveAcceptedTip(_ context.Context, a *encounter.AcceptedTip) error {
	if a.ID == 0 {
		a.ID = m.id()
	}
	return nil
}

func (m *memStore) SaveAcceptedCode(_ context.Context, a *encounter.AcceptedCode) error {
	if a.ID == 0 {
		a.ID = m.id()
	}
	return nil
}

func (m *memStore) SaveAcceptedBadCode(_ context.Context, a *encounter.AcceptedBadCode) error {
	if a.ID == 0 {
		a.ID = m.id()
	}
	return nil
}

func (m *memStore) InTx(_ context.Context, fn func(Store) error) error {
	return fn(m)
}

// recorder collects notifier events as readable strings.
type recorder struct {
	events []string
}

func (r *recorder) TaskAssigned(s *encounter.TeamTaskState, _ time.Time) {
	r.events = append(r.events, "assigned:"+s.Task.Name)
}

func (r *recorder) TipRevealed(s *encounter.TeamTaskState, tip *encounter.Tip, _ time.Time) {
	r.events = append(r.events, "tip:"+tip.Text)
}

func (r *recorder) TaskClosed(s *encounter.TeamTaskState, flag encounter.TaskFlag, _ time.Time) {
	r.events = append(r.events, fmt.Sprintf("closed:%s:%s", s.Task.Name, flag))
}

func (r *recorder) TeamFinished(s *encounter.TeamGameState, _ time.Time) {
	r.events = append(r.events, "finished:"+s.Team.Name)
}

func (r *recorder) GameStopped(g *encounter.Game, _ time.Time) {
	r.events = append(r.events, "stopped:"+g.Name)
}

func (r *recorder) has(event string) bool {
	for _, e := range r.events {
		if e == event {
			return true
		}
	}
	return false
}

// gameStart is the fixture's reference clock: every test offsets from it.
var gameStart = time.Date(2026, 5, 1, 21, 0, 0, 0, time.UTC)

func at(minutes float64) time.Time {
	return gameStart.Add(time.Duration(minutes * float64(time.Minute)))
}

// testGame builds a two-task game: "First" has hints at 0/30/60 minutes and
// the single code "1"; "Second" has one hint and the code "2". One team with
// one user. Nine-hour game, ninety minutes per task.
func testGame() *encounter.Game {
	game := &encounter.Game{
		ID:             1,
		Name:           "Test Game",
		State:          encounter.GameStarted,
		StartTime:      gameStart,
		TotalMinutes:   540,
		PerTaskMinutes: 90,
	}

	first := &encounter.Task{
		ID:   10,
		Name: "First",
		Type: encounter.TaskNormal,
		Tips: []*encounter.Tip{
			{ID: 101, Text: "first description", SuspendTime: 0},
			{ID: 102, Text: "hint at 30", SuspendTime: 30},
			{ID: 103, Text: "hint at 60", SuspendTime: 60},
		},
		Codes: []*encounter.Code{
			{ID: 201, Value: "1"},
		},
	}
	second := &encounter.Task{
		ID:   11,
		Name: "Second",
		Type: encounter.TaskNormal,
		Tips: []*encounter.Tip{
			{ID: 111, Text: "second description", SuspendTime: 0},
			{ID: 112, Text: "second hint", SuspendTime: 45},
		},
		Codes: []*encounter.Code{
			{ID: 211, Value: "2"},
		},
	}
	game.Tasks = []*encounter.Task{first, second}

	user := &encounter.User{ID: 301, Name: "alice"}
	team := &encounter.Team{ID: 31, Name: "Owls", Users: []*encounter.User{user}, Game: game}
	game.Teams = []*encounter.Team{team}

	return game
}

// startPlaying attaches a fresh in-progress game state to the game's first
// team, mirroring what StartupGame does.
func startPlaying(game *encounter.Game) *encounter.TeamGameState {
	team := game.Teams[0]
	state := &encounter.TeamGameState{ID: 41, Team: team, Game: game}
	team.GameState = state
	team.History = append(team.History, state)
	return state
}

func newTestEngine(game *encounter.Game) (*memStore, *recorder, *TaskService) {
	store := newMemStore(game)
	rec := &recorder{}
	return store, rec, NewTaskService(store, SequenceDispatcher{}, rec, 10)
}
