package engine

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/playbeaver/encounter/internal/encounter"
)

func TestAssignNewTaskOpensFirstTaskAndRevealsDescription(t *testing.T) {
	game := testGame()
	state := startPlaying(game)
	_, rec, tasks := newTestEngine(game)

	if err := tasks.AssignNewTask(context.Background(), state, nil, at(0)); err != nil {
		t.Fatalf("AssignNewTask: %v", err)
	}

	active := state.ActiveTaskState
	if active == nil || active.Task.Name != "First" {
		t.Fatalf("expected task First to be active, got %+v", active)
	}
	if active.Flag != encounter.FlagExecuting {
		t.Errorf("flag = %q, want executing", active.Flag)
	}
	if !active.HasTip(101) {
		t.Error("offset-0 tip should be revealed on assignment")
	}
	if !rec.has("assigned:First") || !rec.has("tip:first description") {
		t.Errorf("missing events, got %v", rec.events)
	}
}

func TestAssignNewTaskRejectsSecondActiveTask(t *testing.T) {
	game := testGame()
	state := startPlaying(game)
	_, _, tasks := newTestEngine(game)

	if err := tasks.AssignNewTask(context.Background(), state, nil, at(0)); err != nil {
		t.Fatalf("first assign: %v", err)
	}
	err := tasks.AssignNewTask(context.Background(), state, nil, at(1))
	if !errors.Is(err, ErrTaskAlreadyAssigned) {
		t.Fatalf("err = %v, want ErrTaskAlreadyAssigned", err)
	}
}

func TestAssignNewTaskFinishesTeamWhenNoTasksLeft(t *testing.T) {
	game := testGame()
	game.Tasks = nil
	state := startPlaying(game)
	_, rec, tasks := newTestEngine(game)

	if err := tasks.AssignNewTask(context.Background(), state, nil, at(5)); err != nil {
		t.Fatalf("AssignNewTask: %v", err)
	}

	if state.ActiveTaskState != nil {
		t.Error("no task should be active")
	}
	if state.GameDoneTime == nil || !state.GameDoneTime.Equal(at(5)) {
		t.Errorf("GameDoneTime = %v, want %v", state.GameDoneTime, at(5))
	}
	if !rec.has("finished:Owls") {
		t.Errorf("missing team_finished event, got %v", rec.events)
	}
}

func TestAssignNewTaskTipIsIdempotent(t *testing.T) {
	game := testGame()
	state := startPlaying(game)
	_, _, tasks := newTestEngine(game)

	if err := tasks.AssignNewTask(context.Background(), state, nil, at(0)); err != nil {
		t.Fatalf("AssignNewTask: %v", err)
	}
	active := state.ActiveTaskState
	tip := active.Task.Tips[1]

	for i := 0; i < 3; i++ {
		if err := tasks.AssignNewTaskTip(context.Background(), active, tip, at(31)); err != nil {
			t.Fatalf("AssignNewTaskTip: %v", err)
		}
	}

	revealed := 0
	for _, accepted := range active.AcceptedTips {
		if accepted.Tip.ID == tip.ID {
			revealed++
		}
	}
	if revealed != 1 {
		t.Errorf("tip revealed %d times, want once", revealed)
	}
}

func TestAccelerateTask(t *testing.T) {
	game := testGame()
	game.Tasks[0].Type = encounter.TaskNeedForSpeed
	state := startPlaying(game)
	_, _, tasks := newTestEngine(game)

	if err := tasks.AssignNewTask(context.Background(), state, nil, at(0)); err != nil {
		t.Fatalf("AssignNewTask: %v", err)
	}
	active := state.ActiveTaskState

	if err := tasks.AccelerateTask(context.Background(), active, at(10)); err != nil {
		t.Fatalf("AccelerateTask: %v", err)
	}
	if active.AccelerationStartTime == nil || !active.AccelerationStartTime.Equal(at(10)) {
		t.Errorf("AccelerationStartTime = %v, want %v", active.AccelerationStartTime, at(10))
	}
	// The final hint (largest positive offset) is force-revealed.
	if !active.HasTip(103) {
		t.Error("last hint should be revealed by acceleration")
	}
}

func TestAccelerateTaskRejectsNormalTasks(t *testing.T) {
	game := testGame()
	state := startPlaying(game)
	_, _, tasks := newTestEngine(game)

	if err := tasks.AssignNewTask(context.Background(), state, nil, at(0)); err != nil {
		t.Fatalf("AssignNewTask: %v", err)
	}
	err := tasks.AccelerateTask(context.Background(), state.ActiveTaskState, at(10))
	if !errors.Is(err, ErrNotAccelerable) {
		t.Fatalf("err = %v, want ErrNotAccelerable", err)
	}
}

func TestSubmitCodeSuccessAdvancesToNextTask(t *testing.T) {
	game := testGame()
	state := startPlaying(game)
	_, rec, tasks := newTestEngine(game)

	if err := tasks.AssignNewTask(context.Background(), state, nil, at(0)); err != nil {
		t.Fatalf("AssignNewTask: %v", err)
	}
	if err := tasks.SubmitCode(context.Background(), "1", state, game.Teams[0].Users[0], at(12)); err != nil {
		t.Fatalf("SubmitCode: %v", err)
	}

	if len(state.AcceptedTasks) != 1 {
		t.Fatalf("accepted tasks = %d, want 1", len(state.AcceptedTasks))
	}
	done := state.AcceptedTasks[0]
	if done.Flag != encounter.FlagSuccess {
		t.Errorf("flag = %q, want success", done.Flag)
	}
	if done.FinishTime == nil || !done.FinishTime.Equal(at(12)) {
		t.Errorf("FinishTime = %v, want %v", done.FinishTime, at(12))
	}
	if state.ActiveTaskState == nil || state.ActiveTaskState.Task.Name != "Second" {
		t.Fatalf("next task not assigned, active = %+v", state.ActiveTaskState)
	}
	if !rec.has("closed:First:success") || !rec.has("assigned:Second") {
		t.Errorf("missing events, got %v", rec.events)
	}
}

func TestSubmitCodeWithPrefixAndMixedCase(t *testing.T) {
	game := testGame()
	game.MainPrefix = "EN"
	game.Tasks[0].Codes[0].Value = "falcon"
	state := startPlaying(game)
	_, _, tasks := newTestEngine(game)

	if err := tasks.AssignNewTask(context.Background(), state, nil, at(0)); err != nil {
		t.Fatalf("AssignNewTask: %v", err)
	}
	if err := tasks.SubmitCode(context.Background(), "enFALcon", state, nil, at(5)); err != nil {
		t.Fatalf("SubmitCode: %v", err)
	}
	if len(state.AcceptedTasks) != 1 || state.AcceptedTasks[0].Flag != encounter.FlagSuccess {
		t.Fatal("prefixed, mixed-case code should be accepted")
	}
}

func TestSubmitCodeDuplicateAcceptedOnce(t *testing.T) {
	game := testGame()
	game.Tasks[0].Codes = []*encounter.Code{
		{ID: 201, Value: "1"},
		{ID: 202, Value: "2"},
	}
	state := startPlaying(game)
	_, _, tasks := newTestEngine(game)

	if err := tasks.AssignNewTask(context.Background(), state, nil, at(0)); err != nil {
		t.Fatalf("AssignNewTask: %v", err)
	}
	active := state.ActiveTaskState

	for i := 0; i < 3; i++ {
		if err := tasks.SubmitCode(context.Background(), "1", state, nil, at(float64(i+1))); err != nil {
			t.Fatalf("SubmitCode: %v", err)
		}
	}
	if len(active.AcceptedCodes) != 1 {
		t.Errorf("accepted codes = %d, want 1", len(active.AcceptedCodes))
	}
	if state.ActiveTaskState != active {
		t.Error("task should still be open with one of two codes accepted")
	}
}

func TestSubmitCodeRejectsMoreTokensThanCodes(t *testing.T) {
	game := testGame()
	state := startPlaying(game)
	_, _, tasks := newTestEngine(game)

	if err := tasks.AssignNewTask(context.Background(), state, nil, at(0)); err != nil {
		t.Fatalf("AssignNewTask: %v", err)
	}
	err := tasks.SubmitCode(context.Background(), "1, 2, 3", state, nil, at(1))
	if !errors.Is(err, ErrTooManyCodes) {
		t.Fatalf("err = %v, want ErrTooManyCodes", err)
	}
	if len(state.ActiveTaskState.AcceptedCodes) != 0 {
		t.Error("nothing should be accepted from an oversized submission")
	}
}

func TestSubmitCodeRecordsBadCodeOnce(t *testing.T) {
	game := testGame()
	state := startPlaying(game)
	_, _, tasks := newTestEngine(game)

	if err := tasks.AssignNewTask(context.Background(), state, nil, at(0)); err != nil {
		t.Fatalf("AssignNewTask: %v", err)
	}
	active := state.ActiveTaskState

	for _, raw := range []string{"wrong", "WRONG", " wrong "} {
		if err := tasks.SubmitCode(context.Background(), raw, state, nil, at(2)); err != nil {
			t.Fatalf("SubmitCode(%q): %v", raw, err)
		}
	}
	if len(active.AcceptedBadCodes) != 1 {
		t.Errorf("bad codes = %d, want 1 (normalized dedupe)", len(active.AcceptedBadCodes))
	}
}

func TestSubmitCodeIgnoredAfterBadCodeLimit(t *testing.T) {
	game := testGame()
	state := startPlaying(game)
	store := newMemStore(game)
	tasks := NewTaskService(store, SequenceDispatcher{}, nil, 2)

	if err := tasks.AssignNewTask(context.Background(), state, nil, at(0)); err != nil {
		t.Fatalf("AssignNewTask: %v", err)
	}
	active := state.ActiveTaskState

	// Two distinct bad codes reach the limit; the timing guard holds the
	// task open because the first hint is still 30 minutes away.
	for _, raw := range []string{"wrongA", "wrongB"} {
		if err := tasks.SubmitCode(context.Background(), raw, state, nil, at(1)); err != nil {
			t.Fatalf("SubmitCode: %v", err)
		}
	}
	if state.ActiveTaskState != active {
		t.Fatal("task should still be open before the cheat threshold")
	}

	// Even the correct code is ignored now.
	if err := tasks.SubmitCode(context.Background(), "1", state, nil, at(2)); err != nil {
		t.Fatalf("SubmitCode: %v", err)
	}
	if len(active.AcceptedCodes) != 0 {
		t.Error("submissions past the bad-code limit must be ignored")
	}
}

func TestCheckExceededBadCodesTiming(t *testing.T) {
	game := testGame()
	state := startPlaying(game)
	store := newMemStore(game)
	rec := &recorder{}
	tasks := NewTaskService(store, SequenceDispatcher{}, rec, 1)

	if err := tasks.AssignNewTask(context.Background(), state, nil, at(0)); err != nil {
		t.Fatalf("AssignNewTask: %v", err)
	}
	active := state.ActiveTaskState
	if err := tasks.SubmitCode(context.Background(), "wrong", state, nil, at(1)); err != nil {
		t.Fatalf("SubmitCode: %v", err)
	}

	// First hint is at minute 30; with the one-minute grace the close can
	// happen from minute 29 on.
	if err := tasks.CheckExceededBadCodes(context.Background(), state, at(28)); err != nil {
		t.Fatalf("CheckExceededBadCodes: %v", err)
	}
	if state.ActiveTaskState != active {
		t.Fatal("closed too early")
	}

	if err := tasks.CheckExceededBadCodes(context.Background(), state, at(29)); err != nil {
		t.Fatalf("CheckExceededBadCodes: %v", err)
	}
	if active.Flag != encounter.FlagCheat {
		t.Errorf("flag = %q, want cheat", active.Flag)
	}
	if state.ActiveTaskState == nil || state.ActiveTaskState.Task.Name != "Second" {
		t.Error("next task should be assigned after a cheat close")
	}
	if !rec.has("closed:First:cheat") {
		t.Errorf("missing cheat close event, got %v", rec.events)
	}
}

func TestCheckExceededBadCodesImmediateWithoutPositiveTip(t *testing.T) {
	game := testGame()
	game.Tasks[0].Tips = []*encounter.Tip{{ID: 101, Text: "only description", SuspendTime: 0}}
	state := startPlaying(game)
	store := newMemStore(game)
	tasks := NewTaskService(store, SequenceDispatcher{}, nil, 1)

	if err := tasks.AssignNewTask(context.Background(), state, nil, at(0)); err != nil {
		t.Fatalf("AssignNewTask: %v", err)
	}
	active := state.ActiveTaskState
	if err := tasks.SubmitCode(context.Background(), "wrong", state, nil, at(1)); err != nil {
		t.Fatalf("SubmitCode: %v", err)
	}
	if active.Flag != encounter.FlagCheat {
		t.Error("task without a positive hint should close as soon as the limit is hit")
	}
}

func TestGetSuggestTips(t *testing.T) {
	game := testGame()
	game.Tasks[0].Type = encounter.TaskRussianRoulette
	state := startPlaying(game)
	_, _, tasks := newTestEngine(game)

	if err := tasks.AssignNewTask(context.Background(), state, nil, at(0)); err != nil {
		t.Fatalf("AssignNewTask: %v", err)
	}
	active := state.ActiveTaskState

	if got := tasks.GetSuggestTips(active, at(10)); got != nil {
		t.Errorf("no tip due at minute 10, got %v", got)
	}

	// At minute 31 the offset-30 hint has become due: both remaining hints
	// are offered.
	got := tasks.GetSuggestTips(active, at(31))
	if len(got) != 2 || got[0].ID != 102 || got[1].ID != 103 {
		t.Fatalf("suggested tips = %v, want [102 103]", got)
	}

	// Taking one resets the offer until the next hint is due.
	if err := tasks.AssignNewTaskTip(context.Background(), active, got[1], at(32)); err != nil {
		t.Fatalf("AssignNewTaskTip: %v", err)
	}
	if got := tasks.GetSuggestTips(active, at(40)); got != nil {
		t.Errorf("no new tip due after taking one, got %v", got)
	}

	got = tasks.GetSuggestTips(active, at(61))
	if len(got) != 1 || got[0].ID != 102 {
		t.Fatalf("suggested tips = %v, want [102]", got)
	}
}

func TestParseCodes(t *testing.T) {
	cases := []struct {
		raw         string
		main, bonus string
		want        []string
	}{
		{"1", "", "", []string{"1"}},
		{"a, b c", "", "", []string{"A", "B", "C"}},
		{"en7tower", "EN", "", []string{"7TOWER"}},
		{"EN7tower bonusX", "en", "bonus", []string{"7TOWER", "X"}},
		{" ,  , ", "", "", nil},
		{"bonus", "", "bonus", nil},
	}
	for _, tc := range cases {
		got := ParseCodes(tc.raw, tc.main, tc.bonus)
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("ParseCodes(%q, %q, %q) = %v, want %v", tc.raw, tc.main, tc.bonus, got, tc.want)
		}
	}
}

func TestSubmitCodeNoActiveTaskIsNoop(t *testing.T) {
	game := testGame()
	state := startPlaying(game)
	_, _, tasks := newTestEngine(game)

	if err := tasks.SubmitCode(context.Background(), "1", state, nil, at(1)); err != nil {
		t.Fatalf("SubmitCode without active task: %v", err)
	}
}
