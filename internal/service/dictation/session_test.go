package dictation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"voice-invoice-service/internal/service/stt"
)

// testDevice is a hand-driven stt.Device. Events are pushed with emit.
type testDevice struct {
	mu       sync.Mutex
	h        stt.Handler
	starts   int
	stops    int
	aborts   int
	startErr []error // consumed per Start call
	stopErr  error
	abortErr error
	onStart  func(n int) // called after Start, outside the device lock
}

func (d *testDevice) Start(ctx context.Context, h stt.Handler) error {
	d.mu.Lock()
	d.starts++
	n := d.starts
	var err error
	if len(d.startErr) > 0 {
		err, d.startErr = d.startErr[0], d.startErr[1:]
	}
	if err == nil {
		d.h = h
	}
	hook := d.onStart
	d.mu.Unlock()

	if err != nil {
		return err
	}
	h(stt.StartEvent{})
	if hook != nil {
		hook(n)
	}
	return nil
}

func (d *testDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stops++
	return d.stopErr
}

func (d *testDevice) Abort() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.aborts++
	return d.abortErr
}

func (d *testDevice) emit(ev stt.Event) {
	d.mu.Lock()
	h := d.h
	d.mu.Unlock()
	h(ev)
}

func (d *testDevice) counts() (starts, stops, aborts int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.starts, d.stops, d.aborts
}

// testClock records scheduled restarts and fires them on demand.
type testClock struct {
	mu     sync.Mutex
	timers []*testTimer
}

type testTimer struct {
	clock   *testClock
	delay   time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *testTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (c *testClock) afterFunc(d time.Duration, f func()) timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &testTimer{clock: c, delay: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

// pending returns the number of timers neither fired nor stopped.
func (c *testClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// fire runs every pending timer.
func (c *testClock) fire() {
	c.mu.Lock()
	var due []*testTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

// testSettled collects settlements.
type testSettled struct {
	mu  sync.Mutex
	all []Settlement
}

func (s *testSettled) handle(st Settlement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.all = append(s.all, st)
}

func (s *testSettled) list() []Settlement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Settlement(nil), s.all...)
}

type harness struct {
	dev     *testDevice
	clock   *testClock
	settled *testSettled
	session *Session
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		dev:     &testDevice{},
		clock:   &testClock{},
		settled: &testSettled{},
	}
	factory := func() (stt.Device, error) { return h.dev, nil }
	opts = append([]Option{
		withAfterFunc(h.clock.afterFunc),
		WithSettledHandler(h.settled.handle),
		WithProvider("test"),
	}, opts...)
	h.session = NewSession("sess-1", factory, opts...)
	t.Cleanup(h.session.Close)
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("Start: unexpected error: %v", err)
	}
}

func final(text string) stt.ResultEvent {
	return stt.ResultEvent{Segments: []stt.Segment{stt.FinalSegment(text)}}
}

func interim(text string) stt.ResultEvent {
	return stt.ResultEvent{Segments: []stt.Segment{stt.InterimSegment(text)}}
}

func netErr() stt.ErrorEvent {
	return stt.ErrorEvent{Kind: stt.ErrorNetwork, Err: errors.New("connection reset")}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateIdle, "IDLE"},
		{StateListening, "LISTENING"},
		{StateFinalizing, "FINALIZING"},
		{StateErrorTerminal, "ERROR_TERMINAL"},
		{State(99), "UNKNOWN(99)"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.state.String(); got != tt.expected {
				t.Errorf("State.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestStateIsCapturing(t *testing.T) {
	tests := []struct {
		state     State
		capturing bool
	}{
		{StateIdle, false},
		{StateListening, true},
		{StateFinalizing, true},
		{StateErrorTerminal, false},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			if got := tt.state.IsCapturing(); got != tt.capturing {
				t.Errorf("State.IsCapturing() = %v, want %v", got, tt.capturing)
			}
		})
	}
}

func TestTakeIDs(t *testing.T) {
	var g TakeIDs

	if got := g.Next("s"); got != "s-take-1" {
		t.Errorf("expected s-take-1, got %s", got)
	}
	if got := g.Next("s"); got != "s-take-2" {
		t.Errorf("expected s-take-2, got %s", got)
	}
}

func TestSession_StartListens(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	if h.session.State() != StateListening {
		t.Fatalf("expected LISTENING, got %v", h.session.State())
	}
	snap := h.session.Snapshot()
	if !snap.IsCapturing {
		t.Error("expected IsCapturing")
	}
	if snap.HasError() {
		t.Errorf("expected no error, got %v", snap.LastError)
	}
	if starts, _, _ := h.dev.counts(); starts != 1 {
		t.Errorf("expected 1 device start, got %d", starts)
	}
}

func TestSession_StartWhileListeningIsNoop(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.dev.emit(final("hello"))

	h.start(t)

	if starts, _, _ := h.dev.counts(); starts != 1 {
		t.Errorf("expected no second device start, got %d", starts)
	}
	if h.session.Snapshot().FinalText != "hello " {
		t.Error("second Start must not clear text")
	}
}

func TestSession_StartUnsupported(t *testing.T) {
	var states []TranscriptState
	s := NewSession("sess-u", func() (stt.Device, error) {
		return nil, stt.ErrCaptureUnsupported
	}, WithObserver(func(ts TranscriptState) { states = append(states, ts) }))
	defer s.Close()

	err := s.Start(context.Background())
	if !errors.Is(err, stt.ErrCaptureUnsupported) {
		t.Fatalf("expected ErrCaptureUnsupported, got %v", err)
	}
	if s.State() != StateIdle {
		t.Errorf("expected IDLE, got %v", s.State())
	}
	snap := s.Snapshot()
	if snap.LastError != stt.ErrorUnsupported {
		t.Errorf("expected unsupported error kind, got %q", snap.LastError)
	}
	if len(states) == 0 || states[len(states)-1].LastError != stt.ErrorUnsupported {
		t.Error("observer should see the unsupported error")
	}
}

func TestSession_FactoryErrorWrapsUnsupported(t *testing.T) {
	s := NewSession("sess-f", func() (stt.Device, error) {
		return nil, errors.New("no credentials")
	})
	defer s.Close()

	if err := s.Start(context.Background()); !errors.Is(err, stt.ErrCaptureUnsupported) {
		t.Fatalf("expected ErrCaptureUnsupported, got %v", err)
	}
}

func TestSession_DeviceStartFailure(t *testing.T) {
	h := newHarness(t)
	h.dev.startErr = []error{errors.New("mic busy")}

	if err := h.session.Start(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if h.session.State() != StateIdle {
		t.Errorf("expected IDLE, got %v", h.session.State())
	}

	h.start(t)
	if h.session.State() != StateListening {
		t.Errorf("expected retry from IDLE to succeed, got %v", h.session.State())
	}
}

func TestSession_StopSettlesOnEnd(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.dev.emit(interim("Create"))
	h.dev.emit(final("Create invoice for ABC Technologies"))
	h.dev.emit(interim("Add Web"))

	h.session.Stop()
	if h.session.State() != StateFinalizing {
		t.Fatalf("expected FINALIZING, got %v", h.session.State())
	}
	if _, stops, _ := h.dev.counts(); stops != 1 {
		t.Fatalf("expected 1 device stop, got %d", stops)
	}

	// The device flushes its last final before ending.
	h.dev.emit(final("Add Web Design"))
	h.dev.emit(stt.EndEvent{})

	if h.session.State() != StateIdle {
		t.Fatalf("expected IDLE, got %v", h.session.State())
	}
	if h.clock.pending() != 0 {
		t.Error("end after stop must not schedule a restart")
	}
	snap := h.session.Snapshot()
	if snap.InterimText != "" {
		t.Errorf("expected interim cleared, got %q", snap.InterimText)
	}

	settled := h.settled.list()
	if len(settled) != 1 {
		t.Fatalf("expected 1 settlement, got %d", len(settled))
	}
	want := "Create invoice for ABC Technologies Add Web Design"
	if settled[0].Transcript != want {
		t.Errorf("settled transcript %q, want %q", settled[0].Transcript, want)
	}
	if settled[0].Failed() {
		t.Errorf("expected clean settlement, got %v", settled[0].Err)
	}
	if settled[0].TakeID != "sess-1-take-1" {
		t.Errorf("unexpected take id %s", settled[0].TakeID)
	}
}

func TestSession_StopWhenNotListeningIsNoop(t *testing.T) {
	h := newHarness(t)

	h.session.Stop()

	if h.session.State() != StateIdle {
		t.Errorf("expected IDLE, got %v", h.session.State())
	}
	if _, stops, _ := h.dev.counts(); stops != 0 {
		t.Errorf("expected no device stop, got %d", stops)
	}

	h.start(t)
	h.session.Stop()
	h.session.Stop()
	if _, stops, _ := h.dev.counts(); stops != 1 {
		t.Errorf("second Stop while FINALIZING must be a no-op, got %d stops", stops)
	}
}

func TestSession_StopDeviceErrorSettles(t *testing.T) {
	h := newHarness(t)
	h.dev.stopErr = errors.New("already stopped")
	h.start(t)
	h.dev.emit(final("hello"))

	h.session.Stop()

	if h.session.State() != StateIdle {
		t.Errorf("expected IDLE, got %v", h.session.State())
	}
	if len(h.settled.list()) != 1 {
		t.Error("expected one settlement")
	}
	if _, _, aborts := h.dev.counts(); aborts != 1 {
		t.Errorf("expected the device to be aborted after a failed stop, got %d aborts", aborts)
	}
}

func TestSession_UnexpectedEndRestarts(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.dev.emit(final("Create invoice"))

	h.dev.emit(stt.EndEvent{})

	if h.session.State() != StateListening {
		t.Fatalf("expected to stay LISTENING, got %v", h.session.State())
	}
	if h.clock.pending() != 1 {
		t.Fatalf("expected a scheduled restart, got %d", h.clock.pending())
	}
	if d := h.clock.timers[0].delay; d != DefaultRestartDelay {
		t.Errorf("expected restart delay %v, got %v", DefaultRestartDelay, d)
	}

	h.clock.fire()

	if starts, _, _ := h.dev.counts(); starts != 2 {
		t.Fatalf("expected device restart, got %d starts", starts)
	}
	h.dev.emit(final("for ABC Technologies"))
	if got := h.session.Transcript(); got != "Create invoice for ABC Technologies" {
		t.Errorf("text must survive restart, got %q", got)
	}
	if len(h.settled.list()) != 0 {
		t.Error("restart must not settle")
	}
}

func TestSession_IgnoredErrorsRestart(t *testing.T) {
	for _, kind := range []stt.ErrorKind{stt.ErrorNoSpeech, stt.ErrorAborted} {
		t.Run(string(kind), func(t *testing.T) {
			h := newHarness(t)
			h.start(t)

			h.dev.emit(stt.ErrorEvent{Kind: kind})
			h.dev.emit(stt.EndEvent{})

			if h.session.State() != StateListening {
				t.Errorf("expected LISTENING, got %v", h.session.State())
			}
			if h.session.Snapshot().HasError() {
				t.Error("ignored error must not be recorded")
			}
			if h.clock.pending() != 1 {
				t.Error("expected restart to be scheduled")
			}
		})
	}
}

func TestSession_NetworkRetryExhaustion(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	for i := 1; i < DefaultMaxRetries; i++ {
		h.dev.emit(netErr())
		if h.session.Snapshot().HasError() {
			t.Fatalf("network error %d must be transparent", i)
		}
		h.dev.emit(stt.EndEvent{})
		if h.session.State() != StateListening {
			t.Fatalf("after error %d expected LISTENING, got %v", i, h.session.State())
		}
		h.clock.fire()
	}

	h.dev.emit(netErr())
	h.dev.emit(stt.EndEvent{})

	if h.session.State() != StateErrorTerminal {
		t.Fatalf("expected ERROR_TERMINAL, got %v", h.session.State())
	}
	if h.clock.pending() != 0 {
		t.Error("exhausted session must not restart again")
	}
	if starts, _, _ := h.dev.counts(); starts != DefaultMaxRetries {
		t.Errorf("expected %d device starts, got %d", DefaultMaxRetries, starts)
	}

	snap := h.session.Snapshot()
	if snap.LastError != stt.ErrorNetwork {
		t.Errorf("expected network error, got %q", snap.LastError)
	}
	if !strings.Contains(snap.ErrorMessage, "connectivity") {
		t.Errorf("expected actionable message, got %q", snap.ErrorMessage)
	}

	settled := h.settled.list()
	if len(settled) != 1 || settled[0].Err != stt.ErrorNetwork {
		t.Fatalf("expected one failed settlement, got %+v", settled)
	}
	if settled[0].Restarts != DefaultMaxRetries-1 {
		t.Errorf("expected %d restarts, got %d", DefaultMaxRetries-1, settled[0].Restarts)
	}
}

func TestSession_CustomMaxRetries(t *testing.T) {
	h := newHarness(t, WithMaxRetries(1))
	h.start(t)

	h.dev.emit(netErr())
	h.dev.emit(stt.EndEvent{})

	if h.session.State() != StateErrorTerminal {
		t.Errorf("expected ERROR_TERMINAL after one network error, got %v", h.session.State())
	}
}

func TestSession_PermissionDeniedIsTerminal(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.dev.emit(final("partial words"))

	h.dev.emit(stt.ErrorEvent{Kind: stt.ErrorPermissionDenied})
	h.dev.emit(stt.EndEvent{})

	if h.session.State() != StateErrorTerminal {
		t.Fatalf("expected ERROR_TERMINAL, got %v", h.session.State())
	}
	if h.clock.pending() != 0 {
		t.Error("fatal error must suppress auto-restart")
	}
	snap := h.session.Snapshot()
	if snap.IsCapturing {
		t.Error("terminal session must not be capturing")
	}
	if !strings.Contains(snap.ErrorMessage, "microphone permission") {
		t.Errorf("expected permission message, got %q", snap.ErrorMessage)
	}

	if err := h.session.Start(context.Background()); !errors.Is(err, ErrResetRequired) {
		t.Fatalf("expected ErrResetRequired, got %v", err)
	}
}

func TestSession_ResetThenStart(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.dev.emit(final("old take"))
	h.dev.emit(stt.ErrorEvent{Kind: stt.ErrorAudioCapture})
	h.dev.emit(stt.EndEvent{})

	h.session.Reset()

	snap := h.session.Snapshot()
	if snap.HasError() || snap.FinalText != "" {
		t.Fatalf("Reset must clear text and error, got %+v", snap)
	}
	if snap.State != StateErrorTerminal {
		t.Errorf("Reset must leave capture state alone, got %v", snap.State)
	}

	h.start(t)
	if h.session.State() != StateListening {
		t.Fatalf("expected LISTENING, got %v", h.session.State())
	}
	h.dev.emit(final("new take"))
	if got := h.session.Transcript(); got != "new take" {
		t.Errorf("expected fresh transcript, got %q", got)
	}
}

func TestSession_StartClearsPreviousTake(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.dev.emit(final("first"))
	h.session.Stop()
	h.dev.emit(stt.EndEvent{})

	h.start(t)

	if got := h.session.Snapshot().FinalText; got != "" {
		t.Errorf("expected cleared text on Start, got %q", got)
	}
}

func TestSession_StopCancelsPendingRestart(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.dev.emit(final("Apply 10 percent discount"))
	h.dev.emit(stt.EndEvent{})

	h.session.Stop()

	if h.session.State() != StateIdle {
		t.Fatalf("expected immediate settlement to IDLE, got %v", h.session.State())
	}
	if h.clock.pending() != 0 {
		t.Fatal("expected pending restart to be cancelled")
	}
	h.clock.fire()
	if starts, _, _ := h.dev.counts(); starts != 1 {
		t.Errorf("cancelled restart must not start device, got %d starts", starts)
	}
	if _, stops, _ := h.dev.counts(); stops != 0 {
		t.Errorf("ended device must not be stopped again, got %d stops", stops)
	}

	settled := h.settled.list()
	if len(settled) != 1 || settled[0].Transcript != "Apply 10 percent discount" {
		t.Errorf("unexpected settlements %+v", settled)
	}
}

func TestSession_StopDuringRestart(t *testing.T) {
	h := newHarness(t)
	h.dev.onStart = func(n int) {
		if n == 2 {
			h.session.Stop()
		}
	}
	h.start(t)
	h.dev.emit(stt.EndEvent{})

	h.clock.fire()

	if h.session.State() != StateFinalizing {
		t.Fatalf("expected FINALIZING, got %v", h.session.State())
	}
	if _, stops, _ := h.dev.counts(); stops != 2 {
		t.Errorf("expected the restarted device to be stopped, got %d stops", stops)
	}

	h.dev.emit(stt.EndEvent{})

	if h.session.State() != StateIdle {
		t.Errorf("expected IDLE, got %v", h.session.State())
	}
	if h.clock.pending() != 0 {
		t.Error("end after stop must never restart")
	}
}

func TestSession_StopBeforeDeviceRunning(t *testing.T) {
	h := newHarness(t)
	h.dev.onStart = func(n int) {
		if n == 1 {
			h.session.Stop()
		}
	}
	h.start(t)

	if h.session.State() != StateFinalizing {
		t.Fatalf("expected FINALIZING, got %v", h.session.State())
	}
	if _, stops, _ := h.dev.counts(); stops != 2 {
		t.Errorf("expected the started device to be stopped again, got %d stops", stops)
	}

	h.dev.emit(stt.EndEvent{})

	if h.session.State() != StateIdle {
		t.Errorf("expected IDLE, got %v", h.session.State())
	}
	if len(h.settled.list()) != 1 {
		t.Errorf("expected one settlement, got %d", len(h.settled.list()))
	}
	if h.clock.pending() != 0 {
		t.Error("end after stop must never restart")
	}
}

func TestSession_StartWithoutStopDoesNotStop(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	if _, stops, _ := h.dev.counts(); stops != 0 {
		t.Errorf("expected no stop requests, got %d", stops)
	}
}

func TestSession_RestartFailureGoesIdle(t *testing.T) {
	h := newHarness(t)
	h.dev.startErr = []error{nil, errors.New("device gone")}
	h.start(t)
	h.dev.emit(final("kept"))
	h.dev.emit(netErr())
	h.dev.emit(stt.EndEvent{})

	h.clock.fire()

	if h.session.State() != StateIdle {
		t.Fatalf("expected IDLE, got %v", h.session.State())
	}
	settled := h.settled.list()
	if len(settled) != 1 || settled[0].Transcript != "kept" {
		t.Fatalf("unexpected settlements %+v", settled)
	}

	// Retry state is cleared: a fresh take tolerates a full budget again.
	h.start(t)
	for i := 1; i < DefaultMaxRetries; i++ {
		h.dev.emit(netErr())
		h.dev.emit(stt.EndEvent{})
		h.clock.fire()
	}
	if h.session.State() != StateListening {
		t.Errorf("expected LISTENING, got %v", h.session.State())
	}
}

func TestSession_CloseAbortsAndIgnoresLateEvents(t *testing.T) {
	h := newHarness(t)
	h.dev.abortErr = errors.New("abort failed")
	h.start(t)
	h.dev.emit(final("before close"))

	h.session.Close()

	if _, _, aborts := h.dev.counts(); aborts != 1 {
		t.Errorf("expected 1 abort, got %d", aborts)
	}
	if h.session.State() != StateIdle {
		t.Errorf("expected IDLE, got %v", h.session.State())
	}

	h.dev.emit(final("after close"))
	h.dev.emit(stt.EndEvent{})
	if got := h.session.Transcript(); got != "before close" {
		t.Errorf("late events must be ignored, got %q", got)
	}
	if h.clock.pending() != 0 {
		t.Error("closed session must not restart")
	}

	if err := h.session.Start(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed, got %v", err)
	}

	h.session.Close()
	if _, _, aborts := h.dev.counts(); aborts != 1 {
		t.Error("Close must be idempotent")
	}
}

func TestSession_CloseCancelsPendingRestart(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.dev.emit(stt.EndEvent{})

	h.session.Close()
	h.clock.fire()

	if starts, _, _ := h.dev.counts(); starts != 1 {
		t.Errorf("expected no restart after close, got %d starts", starts)
	}
}

func TestSession_ResultsIgnoredWhenIdle(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.session.Stop()
	h.dev.emit(stt.EndEvent{})

	h.dev.emit(final("stray"))

	if got := h.session.Snapshot().FinalText; got != "" {
		t.Errorf("expected results ignored in IDLE, got %q", got)
	}
}

func TestSession_ObserverSeesTransitions(t *testing.T) {
	var mu sync.Mutex
	var seen []State
	h := newHarness(t, WithObserver(func(ts TranscriptState) {
		mu.Lock()
		defer mu.Unlock()
		if len(seen) == 0 || seen[len(seen)-1] != ts.State {
			seen = append(seen, ts.State)
		}
	}))

	h.start(t)
	h.dev.emit(interim("hi"))
	h.session.Stop()
	h.dev.emit(stt.EndEvent{})

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateListening, StateFinalizing, StateIdle}
	if len(seen) != len(want) {
		t.Fatalf("expected transitions %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, seen[i], want[i])
		}
	}
}
