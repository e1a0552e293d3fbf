// Package audio buffers client audio frames for a dictation device and
// enforces per-take backpressure limits.
package audio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"voice-invoice-service/internal/observability/logging"
	"voice-invoice-service/internal/observability/metrics"
)

// Errors returned by Send.
var (
	ErrFeedClosed    = errors.New("audio: feed closed")
	ErrBufferFull    = errors.New("audio: buffer full, frame dropped")
	ErrLimitExceeded = errors.New("audio: take limit exceeded")
)

// Limits bound the audio accepted for one take.
type Limits struct {
	MaxAudioBytes int64         // Max audio per take
	MaxDuration   time.Duration // Max take duration
	BufferFrames  int           // Frames queued ahead of the device
}

// DefaultLimits returns sensible default limits.
func DefaultLimits() Limits {
	return Limits{
		MaxAudioBytes: 10 * 1024 * 1024, // ~5 minutes at 16kHz 16-bit mono
		MaxDuration:   5 * time.Minute,
		BufferFrames:  64,
	}
}

// Stats holds usage of the current take.
type Stats struct {
	AudioBytes int64
	Frames     int
	Dropped    int
	Duration   time.Duration
}

// Feed is the audio source handed to a device. Frames sent by the client are
// queued without blocking; a full queue drops the frame.
type Feed struct {
	mu        sync.Mutex
	ch        chan []byte
	closed    bool
	limits    Limits
	takeStart time.Time
	stats     Stats
	now       func() time.Time
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// NewFeed creates a feed for the session sessionId.
func NewFeed(sessionId string, limits Limits) *Feed {
	if limits.BufferFrames <= 0 {
		limits.BufferFrames = DefaultLimits().BufferFrames
	}
	f := &Feed{
		ch:      make(chan []byte, limits.BufferFrames),
		limits:  limits,
		now:     time.Now,
		metrics: metrics.DefaultMetrics,
		logger:  logging.WithComponent("audio").With().Str("sessionId", sessionId).Logger(),
	}
	f.takeStart = f.now()
	return f
}

// Frames returns the channel a device reads audio from. It is closed by
// Close.
func (f *Feed) Frames() <-chan []byte {
	return f.ch
}

// BeginTake resets the per-take counters. Frames still queued from the
// previous take are discarded.
func (f *Feed) BeginTake() {
	f.mu.Lock()
	defer f.mu.Unlock()
drain:
	for !f.closed {
		select {
		case <-f.ch:
		default:
			break drain
		}
	}
	f.stats = Stats{}
	f.takeStart = f.now()
}

// Send queues one frame. It never blocks.
func (f *Feed) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrFeedClosed
	}

	n := int64(len(frame))
	if f.limits.MaxAudioBytes > 0 && f.stats.AudioBytes+n > f.limits.MaxAudioBytes {
		f.drop()
		return fmt.Errorf("%w: max audio bytes %d", ErrLimitExceeded, f.limits.MaxAudioBytes)
	}
	if elapsed := f.now().Sub(f.takeStart); f.limits.MaxDuration > 0 && elapsed > f.limits.MaxDuration {
		f.drop()
		return fmt.Errorf("%w: max duration %v", ErrLimitExceeded, f.limits.MaxDuration)
	}

	select {
	case f.ch <- frame:
		f.stats.AudioBytes += n
		f.stats.Frames++
		f.metrics.RecordAudioReceived(len(frame))
		return nil
	default:
		f.drop()
		return ErrBufferFull
	}
}

// Stats returns usage of the current take.
func (f *Feed) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.stats
	s.Duration = f.now().Sub(f.takeStart)
	return s
}

// Close closes the frame channel. Devices reading it see end of audio.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	close(f.ch)
	f.logger.Debug().
		Int64("bytes", f.stats.AudioBytes).
		Int("frames", f.stats.Frames).
		Int("dropped", f.stats.Dropped).
		Msg("Audio feed closed")
}

func (f *Feed) drop() {
	f.stats.Dropped++
	f.metrics.RecordAudioDropped()
	if f.stats.Dropped == 1 {
		f.logger.Warn().Int64("bytes", f.stats.AudioBytes).Msg("Dropping audio frames")
	}
}
