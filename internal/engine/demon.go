package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Demon is the background driver of one game's recalculation passes. It
// owns a ticker loop, throttles how often a pass may start, guarantees that
// at most one pass runs at a time, and never lets a failed pass stop the
// next one.
type Demon struct {
	recalc    RecalcService
	tick      time.Duration
	minPeriod time.Duration
	logger    *slog.Logger
	now       func() time.Time

	// passMu serializes passes with each other and with interactive
	// operations run through Guard.
	passMu sync.Mutex

	mu        sync.Mutex // guards started, stopped, stopCh, lastStart
	started   bool
	stopped   bool
	stopCh    chan struct{}
	lastStart time.Time
}

func NewDemon(recalc RecalcService, tick, minPeriod time.Duration, logger *slog.Logger) *Demon {
	return &Demon{
		recalc:    recalc,
		tick:      tick,
		minPeriod: minPeriod,
		logger:    logger,
		now:       time.Now,
	}
}

// Start launches the ticker loop and lifts a previous Stop. Starting a
// running demon is a no-op.
func (d *Demon) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = false
	if d.started {
		return
	}
	d.started = true
	d.stopCh = make(chan struct{})
	go d.loop(d.stopCh)
}

// Stop prevents any further passes from starting, including direct requests
// on this demon. A pass already in flight is allowed to finish. Stop never
// blocks on a running pass, so it is safe to call from inside one (a pass
// stopping its own game).
func (d *Demon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if !d.started {
		return
	}
	d.started = false
	close(d.stopCh)
}

func (d *Demon) loop(stop <-chan struct{}) {
	ticker := time.NewTicker(d.tick)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			d.RecalcGameState(time.Time{})
		}
	}
}

// RecalcGameState requests one recalculation pass at the given time; the
// zero time means "now". The call is a silent no-op when a pass is already
// running (including a nested request from inside the pass itself) or when
// the minimal recalc period has not elapsed since the last pass started.
// Errors and panics inside the pass are logged and never escape.
func (d *Demon) RecalcGameState(at time.Time) {
	if at.IsZero() {
		at = d.now()
	}

	if !d.passMu.TryLock() {
		return
	}
	defer d.passMu.Unlock()

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	if d.minPeriod > 0 && !d.lastStart.IsZero() && at.Sub(d.lastStart) < d.minPeriod {
		d.mu.Unlock()
		return
	}
	d.lastStart = at
	d.mu.Unlock()

	d.runPass(at)
}

// Guard runs fn under the pass lock, blocking until any in-flight pass has
// finished. Interactive state mutations go through here so they share the
// demon's mutual-exclusion domain.
func (d *Demon) Guard(fn func() error) error {
	d.passMu.Lock()
	defer d.passMu.Unlock()
	return fn()
}

func (d *Demon) runPass(at time.Time) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("recalc pass panicked",
				"game_id", d.recalc.GameID(), "panic", rec)
		}
	}()

	if err := d.recalc.RecalcGameState(context.Background(), at); err != nil {
		d.logger.Error("recalc pass failed",
			"game_id", d.recalc.GameID(), "error", err)
	}
}

// Registry holds at most one demon per game id, created on first use and
// removed when its game stops.
type Registry struct {
	tick      time.Duration
	minPeriod time.Duration
	logger    *slog.Logger

	mu     sync.Mutex
	demons map[int64]*Demon
}

func NewRegistry(tick, minPeriod time.Duration, logger *slog.Logger) *Registry {
	return &Registry{
		tick:      tick,
		minPeriod: minPeriod,
		logger:    logger,
		demons:    make(map[int64]*Demon),
	}
}

// Demon returns the demon for the recalc service's game, creating one from
// the service on first request. Later calls for the same game keep the
// original demon and ignore the passed service.
func (r *Registry) Demon(recalc RecalcService) *Demon {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.demons[recalc.GameID()]; ok {
		return d
	}
	d := NewDemon(recalc, r.tick, r.minPeriod, r.logger)
	r.demons[recalc.GameID()] = d
	return d
}

// Lookup returns the game's demon or nil.
func (r *Registry) Lookup(gameID int64) *Demon {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.demons[gameID]
}

// Remove stops and discards the game's demon, if any. It waits for an
// in-flight pass to finish and only then drops the registry entry, so a
// fresh demon for the same game can never run concurrently with the old
// one. Must not be called from inside a pass or a Guard callback.
func (r *Registry) Remove(gameID int64) {
	r.mu.Lock()
	d := r.demons[gameID]
	r.mu.Unlock()
	if d == nil {
		return
	}

	d.Stop()
	d.passMu.Lock()
	r.mu.Lock()
	if r.demons[gameID] == d {
		delete(r.demons, gameID)
	}
	r.mu.Unlock()
	d.passMu.Unlock()
}

// Close stops every demon. Used at shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	demons := make([]*Demon, 0, len(r.demons))
	for id, d := range r.demons {
		demons = append(demons, d)
		delete(r.demons, id)
	}
	r.mu.Unlock()

	for _, d := range demons {
		d.Stop()
	}
}
