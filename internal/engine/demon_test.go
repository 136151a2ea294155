package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// countingRecalc records every pass timestamp and can be told to fail or to
// re-enter the demon, mimicking an interactive operation triggered from
// inside a pass.
type countingRecalc struct {
	mu      sync.Mutex
	passes  []time.Time
	fail    error
	reenter *Demon
}

func (c *countingRecalc) GameID() int64 { return 1 }

func (c *countingRecalc) RecalcGameState(_ context.Context, at time.Time) error {
	c.mu.Lock()
	c.passes = append(c.passes, at)
	c.mu.Unlock()

	if c.reenter != nil {
		c.reenter.RecalcGameState(at.Add(time.Hour))
	}
	return c.fail
}

func (c *countingRecalc) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.passes)
}

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

func TestDemonThrottlesPasses(t *testing.T) {
	rc := &countingRecalc{}
	d := NewDemon(rc, time.Hour, 5*time.Second, discard())

	t0 := time.Date(2026, 5, 1, 21, 0, 0, 0, time.UTC)
	d.RecalcGameState(t0)
	d.RecalcGameState(t0.Add(time.Second)) // inside the minimal period
	d.RecalcGameState(t0.Add(6 * time.Second))

	if got := rc.count(); got != 2 {
		t.Fatalf("passes = %d, want 2 (middle request throttled)", got)
	}
}

func TestDemonDropsNestedRequests(t *testing.T) {
	rc := &countingRecalc{}
	d := NewDemon(rc, time.Hour, 0, discard())
	rc.reenter = d

	// Must neither deadlock nor run the nested pass.
	d.RecalcGameState(time.Date(2026, 5, 1, 21, 0, 0, 0, time.UTC))

	if got := rc.count(); got != 1 {
		t.Fatalf("passes = %d, want 1 (nested request dropped)", got)
	}
}

func TestDemonSurvivesFailingPasses(t *testing.T) {
	rc := &countingRecalc{fail: errors.New("boom")}
	d := NewDemon(rc, time.Hour, 0, discard())

	t0 := time.Date(2026, 5, 1, 21, 0, 0, 0, time.UTC)
	d.RecalcGameState(t0)
	d.RecalcGameState(t0.Add(time.Minute))

	if got := rc.count(); got != 2 {
		t.Fatalf("passes = %d, want 2 (errors must not stop later passes)", got)
	}
}

func TestDemonGuardRunsUnderPassLock(t *testing.T) {
	rc := &countingRecalc{}
	d := NewDemon(rc, time.Hour, 0, discard())

	ran := false
	err := d.Guard(func() error {
		ran = true
		// A pass requested while the guard holds the lock is dropped.
		d.RecalcGameState(time.Date(2026, 5, 1, 21, 0, 0, 0, time.UTC))
		return nil
	})
	if err != nil || !ran {
		t.Fatalf("Guard: err=%v ran=%v", err, ran)
	}
	if got := rc.count(); got != 0 {
		t.Fatalf("passes = %d, want 0 while guarded", got)
	}

	wantErr := errors.New("guarded failure")
	if err := d.Guard(func() error { return wantErr }); !errors.Is(err, wantErr) {
		t.Fatalf("Guard error = %v, want %v", err, wantErr)
	}
}

func TestDemonStartStop(t *testing.T) {
	rc := &countingRecalc{}
	d := NewDemon(rc, time.Millisecond, 0, discard())

	d.Start()
	d.Start() // idempotent

	deadline := time.After(time.Second)
	for rc.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("ticker loop never ran a pass")
		case <-time.After(5 * time.Millisecond):
		}
	}

	d.Stop()
	d.Stop() // idempotent

	n := rc.count()
	time.Sleep(20 * time.Millisecond)
	// One pass may already have been in flight at Stop; none may start after.
	if got := rc.count(); got > n+1 {
		t.Fatalf("passes grew from %d to %d after Stop", n, got)
	}
}

func TestDemonRefusesPassesAfterStop(t *testing.T) {
	rc := &countingRecalc{}
	d := NewDemon(rc, time.Hour, 0, discard())

	t0 := time.Date(2026, 5, 1, 21, 0, 0, 0, time.UTC)
	d.RecalcGameState(t0)
	d.Start()
	d.Stop()

	// A caller still holding the demon must not be able to start a pass.
	d.RecalcGameState(t0.Add(time.Minute))
	if got := rc.count(); got != 1 {
		t.Fatalf("passes = %d, want 1 (requests after Stop refused)", got)
	}

	// Start lifts the refusal.
	d.Start()
	d.Stop()
	d.Start()
	d.RecalcGameState(t0.Add(2 * time.Minute))
	if got := rc.count(); got != 2 {
		t.Fatalf("passes = %d, want 2 (Start re-enables passes)", got)
	}
	d.Stop()
}

// blockingRecalc parks inside the pass until released, to observe what
// happens around an in-flight pass.
type blockingRecalc struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingRecalc) GameID() int64 { return 1 }

func (b *blockingRecalc) RecalcGameState(context.Context, time.Time) error {
	b.entered <- struct{}{}
	<-b.release
	return nil
}

func TestRegistryRemoveWaitsForRunningPass(t *testing.T) {
	r := NewRegistry(time.Hour, 0, discard())
	rc := &blockingRecalc{entered: make(chan struct{}), release: make(chan struct{})}
	d := r.Demon(rc)

	go d.RecalcGameState(time.Date(2026, 5, 1, 21, 0, 0, 0, time.UTC))
	<-rc.entered

	removed := make(chan struct{})
	go func() {
		r.Remove(1)
		close(removed)
	}()

	select {
	case <-removed:
		t.Fatal("Remove returned while a pass was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(rc.release)
	select {
	case <-removed:
	case <-time.After(time.Second):
		t.Fatal("Remove never returned after the pass finished")
	}
	if r.Lookup(1) != nil {
		t.Fatal("Remove should discard the demon once the pass is done")
	}
}

func TestRegistryOneDemonPerGame(t *testing.T) {
	r := NewRegistry(time.Hour, 0, discard())
	rc := &countingRecalc{}

	d1 := r.Demon(rc)
	d2 := r.Demon(rc)
	if d1 != d2 {
		t.Fatal("registry must reuse the game's demon")
	}
	if r.Lookup(1) != d1 {
		t.Fatal("Lookup should find the created demon")
	}

	r.Remove(1)
	if r.Lookup(1) != nil {
		t.Fatal("Remove should discard the demon")
	}
}

func TestRegistryClose(t *testing.T) {
	r := NewRegistry(time.Millisecond, 0, discard())
	rc := &countingRecalc{}
	r.Demon(rc).Start()

	r.Close()
	if r.Lookup(1) != nil {
		t.Fatal("Close should discard every demon")
	}
}
