package logdata

import (
	"sync"
	"time"
)

// Scheduler drives unattended refreshes with a single self-rescheduling
// timer. A tick is armed only while the scheduler is running and the
// engine is not mid-refresh, so slow refreshes never stack ticks.
type Scheduler struct {
	busy func() bool
	tick func()

	mu       sync.Mutex
	interval time.Duration
	paused   bool
	closed   bool
	timer    *time.Timer
	gen      uint64 // bumped on every cancel; stale timer callbacks compare against it
}

// NewScheduler returns a paused scheduler. busy reports whether a refresh
// is in flight; tick runs one refresh.
func NewScheduler(interval time.Duration, busy func() bool, tick func()) *Scheduler {
	return &Scheduler{
		busy:     busy,
		tick:     tick,
		interval: interval,
		paused:   true,
	}
}

// Start unpauses and arms one pending tick.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.paused = false
	s.scheduleLocked()
}

// Stop pauses and cancels any pending tick.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
	s.cancelLocked()
}

// Close stops the scheduler permanently.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.paused = true
	s.cancelLocked()
}

// Reschedule replaces any pending tick with a fresh one, or leaves none
// armed when paused or busy. The engine calls it at the end of every cycle.
func (s *Scheduler) Reschedule() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduleLocked()
}

// SetInterval changes the tick interval. A pending tick is replaced by one
// using the new interval.
func (s *Scheduler) SetInterval(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = d
	if s.timer != nil {
		s.scheduleLocked()
	}
}

// Interval returns the configured tick interval.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Paused reports whether automatic ticks are disabled.
func (s *Scheduler) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Pending reports whether a tick is armed.
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

// scheduleLocked cancels and re-arms in one critical section so two ticks
// are never pending at once.
func (s *Scheduler) scheduleLocked() {
	s.cancelLocked()
	if s.paused || s.closed || s.interval <= 0 {
		return
	}
	if s.busy != nil && s.busy() {
		return
	}
	gen := s.gen
	s.timer = time.AfterFunc(s.interval, func() { s.fire(gen) })
}

func (s *Scheduler) cancelLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
}

func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.paused || s.closed {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	tick := s.tick
	s.mu.Unlock()

	if tick != nil {
		tick()
	}
}
