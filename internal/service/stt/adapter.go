// Package stt defines the continuous dictation device boundary and the events
// it emits.
package stt

import (
	"context"
	"errors"
)

// ErrCaptureUnsupported is returned when no dictation capability is available
// in the current environment.
var ErrCaptureUnsupported = errors.New("stt: dictation capability unavailable")

// Handler receives device events in delivery order.
type Handler func(Event)

// Device is a continuous dictation driver (browser recognizer, cloud
// streaming recognizer, mock). A Device may be started again after it has
// emitted an EndEvent.
type Device interface {
	// Start begins recognition. Events are delivered to h until EndEvent.
	Start(ctx context.Context, h Handler) error

	// Stop asks the device to finish; the last final result may still be
	// delivered before EndEvent.
	Stop() error

	// Abort ends recognition immediately, dropping pending results.
	Abort() error
}

// Factory creates a device for a capture session. It returns
// ErrCaptureUnsupported when the capability is missing.
type Factory func() (Device, error)

// Config is the recognizer configuration shared by device backends.
type Config struct {
	LanguageCode   string
	SampleRateHz   int32
	AudioEncoding  string
	InterimResults bool
	Continuous     bool
}

// DefaultConfig returns the dictation defaults: continuous mode with interim
// results for Indian English at 16 kHz LINEAR16.
func DefaultConfig() Config {
	return Config{
		LanguageCode:   "en-IN",
		SampleRateHz:   16000,
		AudioEncoding:  "LINEAR16",
		InterimResults: true,
		Continuous:     true,
	}
}
