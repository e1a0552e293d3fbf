// Package dictation implements the speech capture session: a state machine
// around a continuous dictation device that owns start, stop, error
// classification and auto-restart policy.
package dictation

import (
	"errors"
	"fmt"

	"voice-invoice-service/internal/service/stt"
)

// State represents the lifecycle state of a capture session.
type State int

const (
	// StateIdle - No capture in progress.
	StateIdle State = iota
	// StateListening - Device is capturing; may auto-restart in place.
	StateListening
	// StateFinalizing - Stop was requested, waiting for the device to end.
	StateFinalizing
	// StateErrorTerminal - A fatal error settled the take. Reset before
	// starting again.
	StateErrorTerminal
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateListening:
		return "LISTENING"
	case StateFinalizing:
		return "FINALIZING"
	case StateErrorTerminal:
		return "ERROR_TERMINAL"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsCapturing returns true while the device owns the microphone.
func (s State) IsCapturing() bool {
	return s == StateListening || s == StateFinalizing
}

// MarshalText renders the state name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name produced by MarshalText.
func (s *State) UnmarshalText(b []byte) error {
	for _, st := range []State{StateIdle, StateListening, StateFinalizing, StateErrorTerminal} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("dictation: unknown state %q", b)
}

// Errors returned by Session operations.
var (
	ErrSessionClosed = errors.New("dictation: session is closed")
	ErrResetRequired = errors.New("dictation: reset required after terminal error")
)

// TranscriptState is the observable state of a session.
type TranscriptState struct {
	State        State         `json:"state"`
	FinalText    string        `json:"finalText"`
	InterimText  string        `json:"interimText"`
	IsCapturing  bool          `json:"isCapturing"`
	LastError    stt.ErrorKind `json:"lastError,omitempty"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
}

// HasError reports whether a fatal error is recorded.
func (t TranscriptState) HasError() bool {
	return t.LastError != ""
}

// Settlement describes a capture take that reached Idle or ErrorTerminal.
type Settlement struct {
	SessionID  string
	TakeID     string
	Transcript string
	Restarts   int
	Err        stt.ErrorKind
}

// Failed reports whether the take settled with a fatal error.
func (s Settlement) Failed() bool {
	return s.Err != ""
}
