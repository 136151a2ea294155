package engine

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/playbeaver/encounter/internal/encounter"
)

// TaskService holds the task/code/tip state machine: pure rules for opening
// a task, accepting submitted codes, releasing hints by elapsed time,
// detecting cheating, and closing a task. All methods take an explicit
// timestamp; the service never reads the wall clock. Callers own the
// transactional boundary.
type TaskService struct {
	store         Store
	dispatcher    TaskDispatcher
	notify        Notifier
	badCodesLimit int
}

func NewTaskService(store Store, dispatcher TaskDispatcher, notify Notifier, badCodesLimit int) *TaskService {
	if notify == nil {
		notify = NopNotifier{}
	}
	return &TaskService{
		store:         store,
		dispatcher:    dispatcher,
		notify:        notify,
		badCodesLimit: badCodesLimit,
	}
}

// withStore returns a copy of the service bound to a different store,
// typically a transaction-scoped one.
func (s *TaskService) withStore(store Store) *TaskService {
	cp := *s
	cp.store = store
	return &cp
}

// AssignNewTask asks the dispatcher for the team's next task and opens it.
// If the dispatcher has nothing left, the team is finished: GameDoneTime is
// stamped and no task is assigned. The new task's first tip (by convention
// the task description at offset 0) is revealed immediately.
func (s *TaskService) AssignNewTask(ctx context.Context, state *encounter.TeamGameState, oldTask *encounter.Task, now time.Time) error {
	if state.ActiveTaskState != nil {
		return ErrTaskAlreadyAssigned
	}

	task, err := s.dispatcher.NextTask(ctx, state, oldTask)
	if err != nil {
		return fmt.Errorf("dispatching next task: %w", err)
	}
	if task == nil {
		done := now
		state.GameDoneTime = &done
		state.ActiveTaskState = nil
		if err := s.store.SaveTeamGameState(ctx, state); err != nil {
			return fmt.Errorf("saving finished team state: %w", err)
		}
		s.notify.TeamFinished(state, now)
		return nil
	}

	taskState := &encounter.TeamTaskState{
		Task:      task,
		GameState: state,
		StartTime: now,
		Flag:      encounter.FlagExecuting,
	}
	state.ActiveTaskState = taskState

	if err := s.store.SaveTeamTaskState(ctx, taskState); err != nil {
		return fmt.Errorf("saving task state: %w", err)
	}
	if err := s.store.SaveTeamGameState(ctx, state); err != nil {
		return fmt.Errorf("saving team state: %w", err)
	}
	s.notify.TaskAssigned(taskState, now)

	if tip := task.FirstTip(); tip != nil {
		return s.AssignNewTaskTip(ctx, taskState, tip, now)
	}
	return nil
}

// AssignNewTaskTip reveals a tip to the team. Revealing the same tip twice
// is a no-op: a tip appears at most once per task attempt.
func (s *TaskService) AssignNewTaskTip(ctx context.Context, state *encounter.TeamTaskState, tip *encounter.Tip, now time.Time) error {
	if state.HasTip(tip.ID) {
		return nil
	}

	accepted := &encounter.AcceptedTip{
		Tip:        tip,
		TaskState:  state,
		AcceptTime: now,
	}
	state.AcceptedTips = append(state.AcceptedTips, accepted)
	if err := s.store.SaveAcceptedTip(ctx, accepted); err != nil {
		return fmt.Errorf("saving accepted tip: %w", err)
	}
	s.notify.TipRevealed(state, tip, now)
	return nil
}

// AccelerateTask records the acceleration time for a need-for-speed task
// and force-reveals its final hint (the last tip with a positive offset),
// bypassing normal tip timing. The task's deadline is shortened accordingly
// by the overtime check.
func (s *TaskService) AccelerateTask(ctx context.Context, state *encounter.TeamTaskState, now time.Time) error {
	if state.Task.Type != encounter.TaskNeedForSpeed {
		return ErrNotAccelerable
	}

	accel := now
	state.AccelerationStartTime = &accel
	if err := s.store.SaveTeamTaskState(ctx, state); err != nil {
		return fmt.Errorf("saving acceleration: %w", err)
	}

	if tip := state.Task.LastAcceleratedTip(); tip != nil {
		return s.AssignNewTaskTip(ctx, state, tip, now)
	}
	return nil
}

// CloseTaskForTeam stamps the finish time and flag, detaches the attempt
// from the team's active slot, and appends it to the accepted-task history.
// It never assigns a replacement task; callers do that when the team is to
// continue.
func (s *TaskService) CloseTaskForTeam(ctx context.Context, state *encounter.TeamTaskState, flag encounter.TaskFlag, now time.Time) error {
	finish := now
	state.FinishTime = &finish
	state.Flag = flag

	gameState := state.GameState
	gameState.ActiveTaskState = nil
	gameState.AcceptedTasks = append(gameState.AcceptedTasks, state)

	if err := s.store.SaveTeamTaskState(ctx, state); err != nil {
		return fmt.Errorf("saving closed task: %w", err)
	}
	if err := s.store.SaveTeamGameState(ctx, gameState); err != nil {
		return fmt.Errorf("saving team state: %w", err)
	}
	s.notify.TaskClosed(state, flag, now)
	return nil
}

// SubmitCode processes a raw code submission from a team member. It is a
// no-op when the team has no active task or already hit the bad-code limit.
// When all non-bonus codes are in, the task closes as a success and the
// next one is assigned. The bad-code check runs unconditionally at the end.
func (s *TaskService) SubmitCode(ctx context.Context, raw string, state *encounter.TeamGameState, user *encounter.User, now time.Time) error {
	active := state.ActiveTaskState
	if active == nil || len(active.AcceptedBadCodes) >= s.badCodesLimit {
		return nil
	}

	tokens := ParseCodes(raw, state.Game.MainPrefix, state.Game.BonusPrefix)
	if len(tokens) == 0 {
		return nil
	}
	if len(tokens) > len(active.Task.Codes) {
		return ErrTooManyCodes
	}

	for _, code := range active.Task.Codes {
		idx := slices.Index(tokens, encounter.NormalizeCode(code.Value))
		if idx < 0 {
			continue
		}
		tokens = slices.Delete(tokens, idx, idx+1)
		if active.HasCode(code.ID) {
			continue
		}
		accepted := &encounter.AcceptedCode{
			Code:       code,
			TaskState:  active,
			AcceptTime: now,
		}
		active.AcceptedCodes = append(active.AcceptedCodes, accepted)
		if err := s.store.SaveAcceptedCode(ctx, accepted); err != nil {
			return fmt.Errorf("saving accepted code: %w", err)
		}
	}

	// Whatever matched no task code is a bad submission, recorded once per
	// normalized text.
	for _, token := range tokens {
		if active.HasBadCode(token) {
			continue
		}
		bad := &encounter.AcceptedBadCode{
			Text:       token,
			TaskState:  active,
			AcceptTime: now,
		}
		active.AcceptedBadCodes = append(active.AcceptedBadCodes, bad)
		if err := s.store.SaveAcceptedBadCode(ctx, bad); err != nil {
			return fmt.Errorf("saving bad code: %w", err)
		}
	}

	if active.MainCodesAccepted() == active.Task.MainCodeCount() && len(active.AcceptedCodes) > 0 {
		oldTask := active.Task
		if err := s.CloseTaskForTeam(ctx, active, encounter.FlagSuccess, now); err != nil {
			return err
		}
		if err := s.AssignNewTask(ctx, state, oldTask, now); err != nil {
			return err
		}
	}

	return s.CheckExceededBadCodes(ctx, state, now)
}

// CheckExceededBadCodes force-closes the active task as a cheat once the
// bad-code count reaches the limit. The close is timed to land just before
// the first hint would appear: elapsed task time plus a one-minute grace
// must have reached the first positive tip offset. Tasks without a positive
// tip close as soon as the limit is hit.
func (s *TaskService) CheckExceededBadCodes(ctx context.Context, state *encounter.TeamGameState, now time.Time) error {
	if state == nil || state.ActiveTaskState == nil {
		return nil
	}
	active := state.ActiveTaskState
	if len(active.AcceptedBadCodes) < s.badCodesLimit {
		return nil
	}

	threshold := 0
	if tip := active.Task.FirstPositiveTip(); tip != nil {
		threshold = tip.SuspendTime
	}
	if now.Sub(active.StartTime).Minutes()+1 < float64(threshold) {
		return nil
	}

	oldTask := active.Task
	if err := s.CloseTaskForTeam(ctx, active, encounter.FlagCheat, now); err != nil {
		return err
	}
	return s.AssignNewTask(ctx, state, oldTask, now)
}

// GetSuggestTips serves tasks where the team chooses its hints instead of
// receiving them on a timer. When at least one hint has newly become due
// since the last revealed one, it returns the full remaining hint set
// (everything except the free offset-0 hint and hints already revealed) for
// the team to choose from; otherwise nil.
func (s *TaskService) GetSuggestTips(state *encounter.TeamTaskState, now time.Time) []*encounter.Tip {
	if state == nil {
		return nil
	}

	spent := now.Sub(state.StartTime).Minutes()
	lastAccept := 0.0
	if n := len(state.AcceptedTips); n > 0 {
		lastAccept = state.AcceptedTips[n-1].AcceptTime.Sub(state.StartTime).Minutes()
	}

	due := false
	perTask := state.GameState.Game.PerTaskMinutes
	for _, tip := range state.Task.Tips {
		if float64(tip.SuspendTime) > lastAccept &&
			float64(tip.SuspendTime) <= spent &&
			tip.SuspendTime < perTask {
			due = true
			break
		}
	}
	if !due {
		return nil
	}

	var remaining []*encounter.Tip
	for _, tip := range state.Task.Tips {
		if tip.SuspendTime > 0 && !state.HasTip(tip.ID) {
			remaining = append(remaining, tip)
		}
	}
	return remaining
}

// ParseCodes splits a raw submission on commas and spaces, trims and
// upper-cases each token, and strips the game's main or bonus code prefix.
// Prefix matching is case-insensitive; the bonus prefix is only tried when
// configured. Empty tokens are dropped.
func ParseCodes(raw, mainPrefix, bonusPrefix string) []string {
	mainPrefix = strings.ToUpper(mainPrefix)
	bonusPrefix = strings.ToUpper(bonusPrefix)

	var tokens []string
	for _, part := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' }) {
		token := encounter.NormalizeCode(part)
		switch {
		case mainPrefix != "" && strings.HasPrefix(token, mainPrefix):
			token = token[len(mainPrefix):]
		case bonusPrefix != "" && strings.HasPrefix(token, bonusPrefix):
			token = token[len(bonusPrefix):]
		}
		if token != "" {
			tokens = append(tokens, token)
		}
	}
	return tokens
}
