package dictation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"voice-invoice-service/internal/observability/logging"
	"voice-invoice-service/internal/observability/metrics"
	"voice-invoice-service/internal/service/stt"
	"voice-invoice-service/internal/service/transcript"
)

const (
	// DefaultMaxRetries is the number of consecutive network errors tolerated
	// before a take fails.
	DefaultMaxRetries = 3
	// DefaultRestartDelay lets the device release the microphone before an
	// automatic restart.
	DefaultRestartDelay = 100 * time.Millisecond
)

type timer interface {
	Stop() bool
}

type afterFunc func(d time.Duration, f func()) timer

func stdAfterFunc(d time.Duration, f func()) timer {
	return time.AfterFunc(d, f)
}

// Option configures a Session.
type Option func(*Session)

// WithMaxRetries overrides DefaultMaxRetries. Non-positive values are ignored.
func WithMaxRetries(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// WithRestartDelay overrides DefaultRestartDelay.
func WithRestartDelay(d time.Duration) Option {
	return func(s *Session) {
		if d >= 0 {
			s.restartDelay = d
		}
	}
}

// WithObserver registers fn to receive every state change. fn runs with the
// session lock held and must not call back into the Session.
func WithObserver(fn func(TranscriptState)) Option {
	return func(s *Session) { s.observer = fn }
}

// WithSettledHandler registers fn to receive each settled take. fn runs
// outside the session lock.
func WithSettledHandler(fn func(Settlement)) Option {
	return func(s *Session) { s.onSettled = fn }
}

// WithProvider labels device metrics and logs with the backend name.
func WithProvider(name string) Option {
	return func(s *Session) { s.provider = name }
}

// WithMetrics overrides metrics.DefaultMetrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

func withAfterFunc(fn afterFunc) Option {
	return func(s *Session) { s.afterFunc = fn }
}

// Session drives one dictation device through
// IDLE → LISTENING → (FINALIZING | ERROR_TERMINAL) → IDLE.
// Thread-safe; device events may arrive on any goroutine.
//
// Rules:
//   - LISTENING restarts the device in place when it ends unexpectedly and the
//     retry budget is not spent.
//   - Stop sets the manual-stop flag before asking the device to stop, so an
//     end event that follows a stop always settles the take.
//   - No method blocks waiting on device events.
type Session struct {
	id           string
	factory      stt.Factory
	provider     string
	maxRetries   int
	restartDelay time.Duration
	afterFunc    afterFunc
	observer     func(TranscriptState)
	onSettled    func(Settlement)
	metrics      *metrics.Metrics
	logger       zerolog.Logger
	takes        TakeIDs

	mu             sync.RWMutex
	ctx            context.Context
	dev            stt.Device
	state          State
	agg            *transcript.Aggregator
	retries        int
	restarts       int
	manualStop     bool
	lastError      stt.ErrorKind
	errMessage     string
	restartTimer   timer
	restartPending bool
	restartSeq     uint64
	takeID         string
	startedAt      time.Time
	closed         bool
}

// NewSession creates an idle session. The device is created by factory on the
// first Start. An empty id is replaced with a random one.
func NewSession(id string, factory stt.Factory, opts ...Option) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	s := &Session{
		id:           id,
		factory:      factory,
		provider:     "unknown",
		maxRetries:   DefaultMaxRetries,
		restartDelay: DefaultRestartDelay,
		afterFunc:    stdAfterFunc,
		metrics:      metrics.DefaultMetrics,
		agg:          transcript.New(),
		state:        StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.WithComponent("dictation").With().
		Str("sessionId", id).
		Str("sttProvider", s.provider).
		Logger()
	s.metrics.RecordSessionOpen()
	return s
}

// ID returns the session ID.
func (s *Session) ID() string {
	return s.id
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Snapshot returns the observable transcript state.
func (s *Session) Snapshot() TranscriptState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Transcript returns the trimmed final text of the current or last take.
func (s *Session) Transcript() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.agg.Transcript()
}

// Start begins a new take. It is a no-op while a take is in progress and
// returns ErrResetRequired after a terminal error until Reset is called.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	switch s.state {
	case StateListening, StateFinalizing:
		s.mu.Unlock()
		return nil
	case StateErrorTerminal:
		if s.lastError != "" {
			s.mu.Unlock()
			return ErrResetRequired
		}
	}

	if s.dev == nil {
		dev, err := s.factory()
		if err != nil {
			if !errors.Is(err, stt.ErrCaptureUnsupported) {
				err = fmt.Errorf("%w: %v", stt.ErrCaptureUnsupported, err)
			}
			s.lastError = stt.ErrorUnsupported
			s.errMessage = stt.ErrorUnsupported.UserMessage()
			s.notifyLocked()
			s.mu.Unlock()
			s.logger.Error().Err(err).Msg("Dictation device unavailable")
			return fmt.Errorf("dictation: start: %w", err)
		}
		s.dev = dev
	}

	s.agg.Reset()
	s.retries = 0
	s.restarts = 0
	s.manualStop = false
	s.lastError = ""
	s.errMessage = ""
	s.state = StateListening
	s.takeID = s.takes.Next(s.id)
	s.startedAt = time.Now()
	s.ctx = ctx
	dev, takeID := s.dev, s.takeID
	s.notifyLocked()
	s.mu.Unlock()

	s.metrics.RecordCaptureStart()
	s.logger.Info().Str("takeId", takeID).Msg("Capture started")

	if err := dev.Start(ctx, s.handle); err != nil {
		s.mu.Lock()
		if !s.closed && s.takeID == takeID && s.state.IsCapturing() {
			s.state = StateIdle
			s.lastError = startErrorKind(err)
			s.errMessage = s.lastError.UserMessage()
			s.notifyLocked()
		}
		s.mu.Unlock()
		s.logger.Error().Err(err).Str("takeId", takeID).Msg("Failed to start dictation device")
		return fmt.Errorf("dictation: start device: %w", err)
	}

	s.mu.RLock()
	closed := s.closed
	stopNow := s.takeID == takeID && s.manualStop && s.state == StateFinalizing
	s.mu.RUnlock()
	if closed {
		_ = dev.Abort()
		return nil
	}
	if stopNow {
		// Stop ran before the device was running.
		if err := dev.Stop(); err != nil {
			s.logger.Warn().Err(err).Str("takeId", takeID).Msg("Device stop after start failed")
		}
	}
	return nil
}

// Stop requests the end of the current take. Only valid while LISTENING;
// otherwise a no-op. Settlement happens when the device reports its end.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.closed || s.state != StateListening {
		s.mu.Unlock()
		return
	}
	s.manualStop = true
	s.state = StateFinalizing

	if s.restartPending {
		st := s.settleLocked()
		s.notifyLocked()
		s.mu.Unlock()
		s.emitSettled(st)
		return
	}

	dev := s.dev
	s.notifyLocked()
	s.mu.Unlock()

	if err := dev.Stop(); err != nil {
		s.logger.Warn().Err(err).Msg("Device stop failed, settling take")
		if err := dev.Abort(); err != nil {
			s.logger.Debug().Err(err).Msg("Device abort after failed stop failed")
		}
		s.mu.Lock()
		var st *Settlement
		if !s.closed && s.state == StateFinalizing {
			st = s.settleLocked()
			s.notifyLocked()
		}
		s.mu.Unlock()
		s.emitSettled(st)
	}
}

// Reset clears transcript text and any recorded error. The capture state is
// left as is.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agg.Reset()
	s.lastError = ""
	s.errMessage = ""
	s.notifyLocked()
}

// Close tears the session down: pending restarts are cancelled and the device
// is aborted. Abort errors are logged and swallowed. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.manualStop = true
	s.cancelRestartLocked()
	wasCapturing := s.state.IsCapturing()
	s.state = StateIdle
	dev := s.dev
	s.mu.Unlock()

	if dev != nil && wasCapturing {
		if err := dev.Abort(); err != nil {
			s.logger.Debug().Err(err).Msg("Device abort failed during close")
		}
	}
	s.metrics.RecordSessionClose()
	s.logger.Info().Msg("Session closed")
}

// handle is the device event handler.
func (s *Session) handle(ev stt.Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	var st *Settlement
	switch e := ev.(type) {
	case stt.StartEvent:
		s.logger.Debug().Str("takeId", s.takeID).Msg("Device started")
		s.mu.Unlock()
		return
	case stt.ResultEvent:
		if !s.state.IsCapturing() {
			s.mu.Unlock()
			return
		}
		finals, interims := s.agg.Apply(e)
		s.metrics.RecordFinalTranscript(finals)
		s.metrics.RecordPartialTranscript(interims)
	case stt.ErrorEvent:
		if !s.state.IsCapturing() {
			s.mu.Unlock()
			return
		}
		s.onErrorLocked(e)
	case stt.EndEvent:
		if !s.state.IsCapturing() {
			s.mu.Unlock()
			return
		}
		st = s.onEndLocked()
	}
	s.notifyLocked()
	s.mu.Unlock()
	s.emitSettled(st)
}

func (s *Session) onErrorLocked(e stt.ErrorEvent) {
	s.metrics.RecordDeviceError(s.provider, string(e.Kind))

	switch e.Kind {
	case stt.ErrorNoSpeech, stt.ErrorAborted:
		s.logger.Debug().Str("kind", string(e.Kind)).Msg("Ignoring device error")
		return
	case stt.ErrorNetwork:
		s.retries++
		if s.retries < s.maxRetries {
			s.logger.Warn().
				Err(e.Err).
				Int("retry", s.retries).
				Int("maxRetries", s.maxRetries).
				Msg("Transient network error, awaiting restart")
			return
		}
	}

	s.lastError = e.Kind
	s.errMessage = e.Kind.UserMessage()
	s.manualStop = true
	s.logger.Error().
		Err(e.Err).
		Str("kind", string(e.Kind)).
		Int("retries", s.retries).
		Msg("Fatal dictation error")
}

func (s *Session) onEndLocked() *Settlement {
	if s.manualStop || s.retries >= s.maxRetries {
		return s.settleLocked()
	}

	s.restartSeq++
	seq := s.restartSeq
	s.restartPending = true
	s.restartTimer = s.afterFunc(s.restartDelay, func() { s.restart(seq) })
	s.logger.Debug().Dur("delay", s.restartDelay).Msg("Device ended unexpectedly, scheduling restart")
	return nil
}

func (s *Session) restart(seq uint64) {
	s.mu.Lock()
	if s.closed || !s.restartPending || seq != s.restartSeq || s.manualStop || s.state != StateListening {
		s.mu.Unlock()
		return
	}
	s.restartPending = false
	s.restartTimer = nil
	dev, ctx := s.dev, s.ctx
	s.mu.Unlock()

	err := dev.Start(ctx, s.handle)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		if err == nil {
			_ = dev.Abort()
		}
		return
	}
	if err != nil {
		var st *Settlement
		if s.state.IsCapturing() {
			st = s.settleLocked()
			s.retries = 0
			s.notifyLocked()
		}
		s.mu.Unlock()
		s.logger.Warn().Err(err).Msg("Restart failed, capture stopped")
		s.emitSettled(st)
		return
	}
	s.restarts++
	stopNow := s.manualStop
	s.mu.Unlock()

	s.metrics.RecordRestart()
	if stopNow {
		// Stop ran while the device was restarting.
		if err := dev.Stop(); err != nil {
			s.logger.Warn().Err(err).Msg("Device stop after restart failed")
		}
	}
}

func (s *Session) settleLocked() *Settlement {
	s.cancelRestartLocked()
	s.agg.ClearInterim()
	if s.lastError != "" {
		s.state = StateErrorTerminal
	} else {
		s.state = StateIdle
	}

	s.metrics.RecordCaptureSettled(s.state.String(), time.Since(s.startedAt).Seconds())
	s.logger.Info().
		Str("takeId", s.takeID).
		Str("state", s.state.String()).
		Int("restarts", s.restarts).
		Msg("Capture settled")

	return &Settlement{
		SessionID:  s.id,
		TakeID:     s.takeID,
		Transcript: s.agg.Transcript(),
		Restarts:   s.restarts,
		Err:        s.lastError,
	}
}

func (s *Session) cancelRestartLocked() {
	s.restartPending = false
	if s.restartTimer != nil {
		s.restartTimer.Stop()
		s.restartTimer = nil
	}
}

func (s *Session) snapshotLocked() TranscriptState {
	return TranscriptState{
		State:        s.state,
		FinalText:    s.agg.FinalText(),
		InterimText:  s.agg.InterimText(),
		IsCapturing:  s.state.IsCapturing(),
		LastError:    s.lastError,
		ErrorMessage: s.errMessage,
	}
}

func (s *Session) notifyLocked() {
	if s.observer != nil {
		s.observer(s.snapshotLocked())
	}
}

func (s *Session) emitSettled(st *Settlement) {
	if st != nil && s.onSettled != nil {
		s.onSettled(*st)
	}
}

func startErrorKind(err error) stt.ErrorKind {
	if errors.Is(err, stt.ErrCaptureUnsupported) {
		return stt.ErrorUnsupported
	}
	if errors.Is(err, context.Canceled) {
		return stt.ErrorAborted
	}
	return stt.ErrorUnknown
}
