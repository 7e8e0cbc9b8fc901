package main

import (
	"context"
	"sync"
	"time"
)

// Scheduler runs the controller's timers and reports each expiry as a
// TimerFired event. Only the daemon goroutine calls it, through runEffect.
type Scheduler interface {
	Start(kind TimerKind, id TimerID, interval time.Duration, periodic bool)
	Cancel(kind TimerKind)
	Stop()
}

// timerScheduler is the real-time Scheduler. Each running timer is a goroutine
// posting into the daemon's event channel.
type timerScheduler struct {
	ctx context.Context
	out chan<- Event

	mu     sync.Mutex
	timers map[TimerKind]chan struct{}
}

func newTimerScheduler(ctx context.Context, out chan<- Event) *timerScheduler {
	return &timerScheduler{
		ctx:    ctx,
		out:    out,
		timers: make(map[TimerKind]chan struct{}),
	}
}

// Start replaces any running timer of the same kind.
func (s *timerScheduler) Start(kind TimerKind, id TimerID, interval time.Duration, periodic bool) {
	stop := make(chan struct{})

	s.mu.Lock()
	if prev, ok := s.timers[kind]; ok {
		close(prev)
	}
	s.timers[kind] = stop
	s.mu.Unlock()

	go s.run(kind, id, interval, periodic, stop)
}

// Cancel stops the timer. An expiry already queued in the event channel may
// still be delivered; the reducer rejects it by id.
func (s *timerScheduler) Cancel(kind TimerKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stop, ok := s.timers[kind]; ok {
		close(stop)
		delete(s.timers, kind)
	}
}

// Stop cancels every timer.
func (s *timerScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for kind, stop := range s.timers {
		close(stop)
		delete(s.timers, kind)
	}
}

func (s *timerScheduler) run(kind TimerKind, id TimerID, interval time.Duration, periodic bool, stop <-chan struct{}) {
	fire := func() bool {
		// A cancelled timer must not win the race against a ready channel.
		select {
		case <-stop:
			return false
		default:
		}
		select {
		case s.out <- TimerFired{Timer: kind, ID: id}:
			return true
		case <-stop:
			return false
		case <-s.ctx.Done():
			return false
		}
	}

	if !periodic {
		t := time.NewTimer(interval)
		defer t.Stop()
		select {
		case <-t.C:
			fire()
		case <-stop:
		case <-s.ctx.Done():
		}
		return
	}

	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !fire() {
				return
			}
		case <-stop:
			return
		case <-s.ctx.Done():
			return
		}
	}
}
