package logdata

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduler_PausedUntilStarted(t *testing.T) {
	var ticks atomic.Int32
	s := NewScheduler(5*time.Millisecond, nil, func() { ticks.Add(1) })
	defer s.Close()

	s.Reschedule()
	if s.Pending() {
		t.Fatal("paused scheduler armed a tick")
	}
	time.Sleep(20 * time.Millisecond)
	if n := ticks.Load(); n != 0 {
		t.Fatalf("ticks=%d before Start, want 0", n)
	}

	s.Start()
	if !s.Pending() {
		t.Fatal("Start did not arm a tick")
	}
	waitFor(t, time.Second, "first tick", func() bool { return ticks.Load() == 1 })
	if s.Pending() {
		t.Fatal("tick still pending after firing without reschedule")
	}
}

func TestScheduler_RescheduleNeverStacks(t *testing.T) {
	var ticks atomic.Int32
	s := NewScheduler(20*time.Millisecond, nil, func() { ticks.Add(1) })
	defer s.Close()

	s.Start()
	for i := 0; i < 50; i++ {
		s.Reschedule()
	}
	time.Sleep(100 * time.Millisecond)
	if n := ticks.Load(); n != 1 {
		t.Fatalf("ticks=%d, want 1", n)
	}
}

func TestScheduler_BusySkipsArming(t *testing.T) {
	var busy atomic.Bool
	busy.Store(true)
	s := NewScheduler(5*time.Millisecond, busy.Load, func() {})
	defer s.Close()

	s.Start()
	if s.Pending() {
		t.Fatal("armed while busy")
	}

	busy.Store(false)
	s.Reschedule()
	if !s.Pending() {
		t.Fatal("Reschedule did not arm once idle")
	}
}

func TestScheduler_StopCancelsPendingTick(t *testing.T) {
	var ticks atomic.Int32
	s := NewScheduler(10*time.Millisecond, nil, func() { ticks.Add(1) })
	defer s.Close()

	s.Start()
	s.Stop()
	if !s.Paused() || s.Pending() {
		t.Fatalf("after Stop paused=%v pending=%v, want true false", s.Paused(), s.Pending())
	}
	time.Sleep(40 * time.Millisecond)
	if n := ticks.Load(); n != 0 {
		t.Fatalf("ticks=%d after Stop, want 0", n)
	}
}

func TestScheduler_SetIntervalReplacesPendingTick(t *testing.T) {
	var ticks atomic.Int32
	s := NewScheduler(time.Hour, nil, func() { ticks.Add(1) })
	defer s.Close()

	s.Start()
	s.SetInterval(5 * time.Millisecond)
	if got := s.Interval(); got != 5*time.Millisecond {
		t.Fatalf("Interval=%s, want 5ms", got)
	}
	waitFor(t, time.Second, "tick at new interval", func() bool { return ticks.Load() == 1 })
}

func TestScheduler_SetIntervalWhilePausedDoesNotArm(t *testing.T) {
	s := NewScheduler(time.Hour, nil, func() {})
	defer s.Close()

	s.SetInterval(time.Millisecond)
	if s.Pending() {
		t.Fatal("SetInterval armed a paused scheduler")
	}
}

func TestScheduler_CloseIsFinal(t *testing.T) {
	var ticks atomic.Int32
	s := NewScheduler(5*time.Millisecond, nil, func() { ticks.Add(1) })

	s.Close()
	s.Start()
	s.Reschedule()
	if s.Pending() {
		t.Fatal("closed scheduler armed a tick")
	}
	time.Sleep(20 * time.Millisecond)
	if n := ticks.Load(); n != 0 {
		t.Fatalf("ticks=%d after Close, want 0", n)
	}
}

func TestScheduler_SelfRescheduling(t *testing.T) {
	var ticks atomic.Int32
	var s *Scheduler
	s = NewScheduler(5*time.Millisecond, nil, func() {
		ticks.Add(1)
		s.Reschedule()
	})
	defer s.Close()

	s.Start()
	waitFor(t, time.Second, "three ticks", func() bool { return ticks.Load() >= 3 })
}
