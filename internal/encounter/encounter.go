// Package encounter defines the core domain types of a live encounter
// game: games, teams, tasks, tips, codes, and the per-team progress
// records.
package encounter

import (
	"strings"
	"time"
)

type GameState string

const (
	GamePlanned  GameState = "planned"
	GameStartup  GameState = "startup"
	GameStarted  GameState = "started"
	GameFinished GameState = "finished"
	GameClosed   GameState = "closed"
)

// Live reports whether the state claims the single live-game slot.
// At most one game may be live across the whole system.
func (s GameState) Live() bool {
	return s == GameStartup || s == GameStarted || s == GameFinished
}

type TaskType string

const (
	TaskNormal          TaskType = "normal"
	TaskNeedForSpeed    TaskType = "need_for_speed"
	TaskRussianRoulette TaskType = "russian_roulette"
)

// TaskFlag is the terminal (or current) state of one team's attempt at a task.
type TaskFlag string

const (
	FlagExecuting TaskFlag = "executing"
	FlagSuccess   TaskFlag = "success"
	FlagOvertime  TaskFlag = "overtime"
	FlagCheat     TaskFlag = "cheat"
)

type Game struct {
	ID             int64
	Name           string
	State          GameState
	StartTime      time.Time
	TotalMinutes   int // total game duration
	PerTaskMinutes int // standard per-task duration
	MainPrefix     string
	BonusPrefix    string
	Teams          []*Team // game-defined team order
	Tasks          []*Task // sequence order
}

type Team struct {
	ID        int64
	Name      string
	Users     []*User
	Leader    *User
	Game      *Game            // current game assignment, nil when unassigned
	GameState *TeamGameState   // current, nil between games
	History   []*TeamGameState // past game states, oldest first
}

type User struct {
	ID        int64
	Name      string
	SessionID string
}

type Task struct {
	ID    int64
	Name  string
	Type  TaskType
	Tips  []*Tip  // ordered by SuspendTime ascending
	Codes []*Code
}

// FirstTip returns the earliest-offset tip; by convention it carries the
// task description at offset 0. Nil if the task has no tips.
func (t *Task) FirstTip() *Tip {
	var first *Tip
	for _, tip := range t.Tips {
		if first == nil || tip.SuspendTime < first.SuspendTime {
			first = tip
		}
	}
	return first
}

// LastAcceleratedTip returns the last tip with a positive suspend offset,
// i.e. the final hint revealed by a need-for-speed acceleration.
func (t *Task) LastAcceleratedTip() *Tip {
	var last *Tip
	for _, tip := range t.Tips {
		if tip.SuspendTime > 0 {
			last = tip
		}
	}
	return last
}

// FirstPositiveTip returns the earliest tip with a positive suspend offset.
func (t *Task) FirstPositiveTip() *Tip {
	var first *Tip
	for _, tip := range t.Tips {
		if tip.SuspendTime > 0 && (first == nil || tip.SuspendTime < first.SuspendTime) {
			first = tip
		}
	}
	return first
}

// MainCodeCount counts the task's non-bonus codes.
func (t *Task) MainCodeCount() int {
	n := 0
	for _, c := range t.Codes {
		if !c.Bonus {
			n++
		}
	}
	return n
}

// Tip is a time-gated hint. SuspendTime is minutes from task start after
// which the tip becomes due.
type Tip struct {
	ID          int64
	Text        string
	SuspendTime int
}

type Code struct {
	ID    int64
	Value string
	Bonus bool
}

// TeamGameState is one team's progress within one game.
type TeamGameState struct {
	ID              int64
	Team            *Team
	Game            *Game
	ActiveTaskState *TeamTaskState
	AcceptedTasks   []*TeamTaskState // closed attempts, oldest first
	GameDoneTime    *time.Time
}

// TeamTaskState is one team's attempt at one task. It is owned by its
// TeamGameState while active and becomes immutable history once closed.
type TeamTaskState struct {
	ID                    int64
	Task                  *Task
	GameState             *TeamGameState
	StartTime             time.Time
	FinishTime            *time.Time
	Flag                  TaskFlag
	AccelerationStartTime *time.Time
	AcceptedTips          []*AcceptedTip
	AcceptedCodes         []*AcceptedCode
	AcceptedBadCodes      []*AcceptedBadCode
}

// HasTip reports whether the tip was already revealed to the team.
func (s *TeamTaskState) HasTip(tipID int64) bool {
	for _, at := range s.AcceptedTips {
		if at.Tip.ID == tipID {
			return true
		}
	}
	return false
}

// HasCode reports whether the code was already accepted.
func (s *TeamTaskState) HasCode(codeID int64) bool {
	for _, ac := range s.AcceptedCodes {
		if ac.Code.ID == codeID {
			return true
		}
	}
	return false
}

// HasBadCode reports whether the normalized bad-code text was already recorded.
func (s *TeamTaskState) HasBadCode(text string) bool {
	text = NormalizeCode(text)
	for _, bc := range s.AcceptedBadCodes {
		if NormalizeCode(bc.Text) == text {
			return true
		}
	}
	return false
}

// MainCodesAccepted counts distinct accepted non-bonus codes.
func (s *TeamTaskState) MainCodesAccepted() int {
	n := 0
	for _, ac := range s.AcceptedCodes {
		if !ac.Code.Bonus {
			n++
		}
	}
	return n
}

// BonusCodesAccepted counts distinct accepted bonus codes.
func (s *TeamTaskState) BonusCodesAccepted() int {
	n := 0
	for _, ac := range s.AcceptedCodes {
		if ac.Code.Bonus {
			n++
		}
	}
	return n
}

type AcceptedTip struct {
	ID         int64
	Tip        *Tip
	TaskState  *TeamTaskState
	AcceptTime time.Time
}

type AcceptedCode struct {
	ID         int64
	Code       *Code
	TaskState  *TeamTaskState
	AcceptTime time.Time
}

type AcceptedBadCode struct {
	ID         int64
	Text       string
	TaskState  *TeamTaskState
	AcceptTime time.Time
}

// NormalizeCode trims surrounding whitespace and upper-cases a code token.
func NormalizeCode(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
