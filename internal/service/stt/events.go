package stt

import "fmt"

// Event is one of StartEvent, ResultEvent, ErrorEvent or EndEvent.
type Event interface {
	isEvent()
}

// StartEvent reports that the device began capturing audio.
type StartEvent struct{}

// Segment is one recognition hypothesis within a result batch.
type Segment struct {
	Text  string
	Final bool
}

// FinalSegment builds a segment flagged final.
func FinalSegment(text string) Segment { return Segment{Text: text, Final: true} }

// InterimSegment builds a segment that may still change.
func InterimSegment(text string) Segment { return Segment{Text: text} }

// ResultEvent is an ordered batch of segments.
type ResultEvent struct {
	Segments []Segment
}

// ErrorEvent reports a recognition failure. Err carries the backend error
// when one exists.
type ErrorEvent struct {
	Kind ErrorKind
	Err  error
}

// EndEvent reports that the device stopped for any reason.
type EndEvent struct{}

func (StartEvent) isEvent()  {}
func (ResultEvent) isEvent() {}
func (ErrorEvent) isEvent()  {}
func (EndEvent) isEvent()    {}

// ErrorKind classifies device errors.
type ErrorKind string

const (
	ErrorNoSpeech         ErrorKind = "no-speech"
	ErrorAborted          ErrorKind = "aborted"
	ErrorPermissionDenied ErrorKind = "permission-denied"
	ErrorNetwork          ErrorKind = "network"
	ErrorAudioCapture     ErrorKind = "audio-capture"
	ErrorUnsupported      ErrorKind = "unsupported"
	ErrorUnknown          ErrorKind = "unknown"
)

// UserMessage returns the actionable message shown for fatal errors.
func (k ErrorKind) UserMessage() string {
	switch k {
	case ErrorPermissionDenied:
		return "Microphone access was denied. Grant microphone permission and start dictation again."
	case ErrorNetwork:
		return "Speech recognition lost its network connection. Check connectivity and start dictation again."
	case ErrorAudioCapture:
		return "No microphone could be opened. Check the input device and start dictation again."
	case ErrorUnsupported:
		return "Voice dictation is not supported here."
	case ErrorNoSpeech, ErrorAborted:
		return ""
	default:
		return fmt.Sprintf("Speech recognition failed (%s). Start dictation again.", string(k))
	}
}
