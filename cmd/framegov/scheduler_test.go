package main

import (
	"context"
	"testing"
	"time"
)

func TestTimerScheduler_OneShotAndPeriodic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan Event, 16)
	s := newTimerScheduler(ctx, out)
	defer s.Stop()

	s.Start(TimerCalibrationDelay, 1, 10*time.Millisecond, false)

	select {
	case ev := <-out:
		if got := ev.(TimerFired); got.Timer != TimerCalibrationDelay || got.ID != 1 {
			t.Fatalf("unexpected tick %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("one-shot timer did not fire")
	}

	select {
	case ev := <-out:
		t.Fatalf("one-shot timer fired twice: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}

	s.Start(TimerSteady, 2, 5*time.Millisecond, true)
	for i := 0; i < 3; i++ {
		select {
		case ev := <-out:
			if got := ev.(TimerFired); got.Timer != TimerSteady || got.ID != 2 {
				t.Fatalf("unexpected tick %+v", got)
			}
		case <-time.After(time.Second):
			t.Fatalf("periodic timer tick %d missing", i)
		}
	}

	s.Cancel(TimerSteady)
	// One tick may already be in flight; after that the channel stays quiet.
	time.Sleep(20 * time.Millisecond)
	for len(out) > 0 {
		<-out
	}
	select {
	case ev := <-out:
		t.Fatalf("tick after cancel: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTimerScheduler_StartReplacesSameKind(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan Event, 16)
	s := newTimerScheduler(ctx, out)
	defer s.Stop()

	s.Start(TimerCalibration, 1, time.Hour, true)
	s.Start(TimerCalibration, 2, 5*time.Millisecond, true)

	select {
	case ev := <-out:
		if got := ev.(TimerFired); got.ID != 2 {
			t.Fatalf("expected replacement timer id 2, got %d", got.ID)
		}
	case <-time.After(time.Second):
		t.Fatalf("replacement timer did not fire")
	}

	s.Stop()
	s.Cancel(TimerCalibration) // no-op after Stop
}
