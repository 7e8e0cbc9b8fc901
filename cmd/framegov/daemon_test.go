package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// waitUntil polls cond until it holds or the timeout expires.
func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for: %s", msg)
}

// fakePlayer is an in-memory Player that records every mutation.
type fakePlayer struct {
	mu sync.Mutex

	image     bool
	imageErr  error
	fps       float64
	fpsErr    error
	drops     int64
	dropsErr  error
	paused    bool
	pausedErr error

	filters  []int
	clears   int
	displays []int
	// displayClears counts ClearDisplayFPS calls.
	displayClears int
	texts    []string
	closed   bool
}

func (p *fakePlayer) CurrentTrackIsImage() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.image, p.imageErr
}

func (p *fakePlayer) ContainerFPS() (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fps, p.fpsErr
}

func (p *fakePlayer) DroppedFrameCount() (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.drops, p.dropsErr
}

func (p *fakePlayer) Paused() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused, p.pausedErr
}

func (p *fakePlayer) SetRateFilter(fps int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filters = append(p.filters, fps)
	return nil
}

func (p *fakePlayer) ClearRateFilter() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clears++
	return nil
}

func (p *fakePlayer) SetDisplayFPS(fps int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.displays = append(p.displays, fps)
	return nil
}

func (p *fakePlayer) ClearDisplayFPS() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.displayClears++
	return nil
}

func (p *fakePlayer) ShowText(text string, d time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.texts = append(p.texts, text)
	return nil
}

func (p *fakePlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePlayer) addDrops(n int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drops += n
}

func (p *fakePlayer) lastFilter() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.filters) == 0 {
		return 0, false
	}
	return p.filters[len(p.filters)-1], true
}

func (p *fakePlayer) clearCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clears
}

// fakeScheduler records timer requests; tests fire timers by hand.
type fakeScheduler struct {
	mu      sync.Mutex
	running map[TimerKind]TimerID
	starts  []CmdStartTimer
	cancels []TimerKind
	stopped bool
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{running: make(map[TimerKind]TimerID)}
}

func (s *fakeScheduler) Start(kind TimerKind, id TimerID, interval time.Duration, periodic bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[kind] = id
	s.starts = append(s.starts, CmdStartTimer{Timer: kind, ID: id, Interval: interval, Periodic: periodic})
}

func (s *fakeScheduler) Cancel(kind TimerKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, kind)
	s.cancels = append(s.cancels, kind)
}

func (s *fakeScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = make(map[TimerKind]TimerID)
	s.stopped = true
}

func (s *fakeScheduler) id(kind TimerKind) TimerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running[kind]
}

func (s *fakeScheduler) runningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

func TestDaemon_EndToEndCalibrationAndSteadyState(t *testing.T) {
	cfg := DefaultControllerConfig()
	player := &fakePlayer{fps: 59.94}
	sched := newFakeScheduler()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan Event, 16)
	broadcasts := make(chan StateBroadcast, 256)
	done := make(chan struct{})
	go func() {
		runDaemon(ctx, events, player, sched, cfg, NewDaemonState(cfg), broadcasts, discardLogger())
		close(done)
	}()

	fire := func(kind TimerKind) {
		t.Helper()
		var id TimerID
		waitUntil(t, time.Second, func() bool {
			id = sched.id(kind)
			return id != 0
		}, kind.String()+" timer started")
		events <- TimerFired{Timer: kind, ID: id}
	}

	events <- FileLoaded{}
	fire(TimerCalibrationDelay)

	// Ten seconds at 12 drops/s: 60 - 12 snaps to 50.
	for i := 0; i < cfg.InitialSampleCount; i++ {
		waitUntil(t, time.Second, func() bool { return sched.id(TimerCalibration) != 0 }, "calibration timer")
		player.addDrops(12)
		fire(TimerCalibration)
	}

	waitUntil(t, time.Second, func() bool {
		fps, ok := player.lastFilter()
		return ok && fps == 50
	}, "rate filter set to 50")
	waitUntil(t, time.Second, func() bool { return sched.id(TimerSteady) != 0 }, "steady timer")
	if sched.id(TimerCalibration) != 0 {
		t.Fatalf("calibration timer still running in steady state")
	}

	// Clean playback from here: three zero-drop windows recover one step.
	for i := 0; i < 3; i++ {
		fire(TimerSteady)
	}
	waitUntil(t, time.Second, func() bool {
		fps, ok := player.lastFilter()
		return ok && fps == 55
	}, "rate filter raised to 55")

	clearsBefore := player.clearCount()
	events <- EndFile{Reason: "eof"}
	waitUntil(t, time.Second, func() bool { return sched.runningCount() == 0 }, "timers cancelled at end-file")
	if player.clearCount() != clearsBefore {
		t.Fatalf("end-file should leave the filter chain to mpv")
	}

	cancel()
	<-done

	sched.mu.Lock()
	stopped := sched.stopped
	sched.mu.Unlock()
	if !stopped {
		t.Fatalf("scheduler not stopped on exit")
	}

	var sawWarning, sawSession bool
	for len(broadcasts) > 0 {
		switch (<-broadcasts).(type) {
		case BroadcastSessionStarted:
			sawSession = true
		case BroadcastPerformanceWarning:
			sawWarning = true
		}
	}
	if !sawSession {
		t.Fatalf("expected session_started broadcast")
	}
	if sawWarning {
		t.Fatalf("unexpected performance warning for a clean run")
	}
}

func TestDaemon_ImageFileDoesNotArm(t *testing.T) {
	cfg := DefaultControllerConfig()
	player := &fakePlayer{image: true}
	sched := newFakeScheduler()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan Event, 4)
	done := make(chan struct{})
	state := NewDaemonState(cfg)
	go func() {
		runDaemon(ctx, events, player, sched, cfg, state, nil, discardLogger())
		close(done)
	}()

	events <- FileLoaded{}
	reply := make(chan StateSnapshot, 1)
	events <- RequestStateSnapshot{Reply: reply}

	select {
	case snap := <-reply:
		if snap.Phase != "idle" {
			t.Fatalf("expected idle for image file, got %s", snap.Phase)
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for snapshot")
	}

	close(events)
	<-done

	if len(sched.starts) != 0 {
		t.Fatalf("expected no timers, got %v", sched.starts)
	}
}

func TestDaemon_StopsWhenEventsClosed(t *testing.T) {
	cfg := DefaultControllerConfig()
	events := make(chan Event)
	done := make(chan struct{})

	go func() {
		runDaemon(context.Background(), events, &fakePlayer{}, newFakeScheduler(), cfg, NewDaemonState(cfg), nil, discardLogger())
		close(done)
	}()

	close(events)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("daemon did not stop after events channel closed")
	}
}

func TestRunEffect_NilPlayerReportsFailure(t *testing.T) {
	var got []Event
	runEffect(nil, nil, CmdSetRateFilter{FPS: 30}, discardLogger(), func(e Event) { got = append(got, e) })

	if len(got) != 1 {
		t.Fatalf("expected one event, got %v", got)
	}
	f, ok := got[0].(PlayerCommandFailed)
	if !ok {
		t.Fatalf("expected PlayerCommandFailed, got %T", got[0])
	}
	if _, ok := f.Err.(errNoPlayer); !ok {
		t.Fatalf("expected errNoPlayer, got %v", f.Err)
	}
}

func TestRunEffect_TimersAndLogsNeedNoPlayer(t *testing.T) {
	sched := newFakeScheduler()
	var got []Event
	onEvent := func(e Event) { got = append(got, e) }

	runEffect(nil, sched, CmdStartTimer{Timer: TimerSteady, ID: 3, Interval: time.Second, Periodic: true}, discardLogger(), onEvent)
	runEffect(nil, sched, CmdLog{Level: slog.LevelInfo, Msg: "hello"}, discardLogger(), onEvent)
	if sched.id(TimerSteady) != 3 {
		t.Fatalf("expected steady timer 3 started")
	}
	runEffect(nil, sched, CmdCancelTimer{Timer: TimerSteady}, discardLogger(), onEvent)
	if sched.id(TimerSteady) != 0 {
		t.Fatalf("expected steady timer cancelled")
	}
	if len(got) != 0 {
		t.Fatalf("expected no events, got %v", got)
	}
}

func TestRunEffect_DisplayOverrideSetAndCleared(t *testing.T) {
	player := &fakePlayer{}
	var got []Event
	onEvent := func(e Event) { got = append(got, e) }

	runEffect(player, nil, CmdSetDisplayFPS{FPS: 50}, discardLogger(), onEvent)
	runEffect(player, nil, CmdClearDisplayFPS{}, discardLogger(), onEvent)

	player.mu.Lock()
	defer player.mu.Unlock()
	if len(player.displays) != 1 || player.displays[0] != 50 {
		t.Fatalf("expected display override 50, got %v", player.displays)
	}
	if player.displayClears != 1 {
		t.Fatalf("expected one display clear, got %d", player.displayClears)
	}
	if len(got) != 0 {
		t.Fatalf("expected no events, got %v", got)
	}
}

func TestProbeMedia(t *testing.T) {
	tests := []struct {
		name      string
		player    *fakePlayer
		wantVideo bool
		wantKnown bool
	}{
		{"video", &fakePlayer{fps: 23.976}, true, true},
		{"album art", &fakePlayer{image: true}, false, false},
		{"no video track", &fakePlayer{imageErr: ErrPropertyUnavailable}, false, false},
		{"query failed", &fakePlayer{imageErr: errors.New("boom")}, false, false},
		{"fps unavailable", &fakePlayer{fpsErr: ErrPropertyUnavailable}, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := probeMedia(tt.player, discardLogger(), t0)
			if ev.IsVideo != tt.wantVideo || ev.FPSKnown != tt.wantKnown {
				t.Fatalf("got video=%v known=%v, want video=%v known=%v", ev.IsVideo, ev.FPSKnown, tt.wantVideo, tt.wantKnown)
			}
			if ev.SessionID == "" {
				t.Fatalf("expected a session id")
			}
		})
	}
}

func TestSampleTelemetry_DegradesOnErrors(t *testing.T) {
	p := &fakePlayer{drops: 7, pausedErr: errors.New("gone")}
	ev := sampleTelemetry(p, CmdSampleTelemetry{Purpose: SampleSteady, TimerID: 9}, discardLogger(), t0)
	if ev.Paused || !ev.DropCountKnown || ev.DropCount != 7 || ev.TimerID != 9 {
		t.Fatalf("unexpected sample: %+v", ev)
	}

	p = &fakePlayer{paused: true, dropsErr: ErrPropertyUnavailable}
	ev = sampleTelemetry(p, CmdSampleTelemetry{Purpose: SampleCalibration}, discardLogger(), t0)
	if !ev.Paused || ev.DropCountKnown {
		t.Fatalf("unexpected sample: %+v", ev)
	}

	// Baselines ignore the pause flag.
	ev = sampleTelemetry(&fakePlayer{paused: true}, CmdSampleTelemetry{Purpose: SampleBaseline}, discardLogger(), t0)
	if ev.Paused {
		t.Fatalf("baseline should not report pause")
	}
}
