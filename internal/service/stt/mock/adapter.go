// Package mock provides a scripted dictation device for running without cloud
// credentials. Each audio frame advances the script by one hypothesis:
// progressive interim segments, then exactly one final segment per utterance.
package mock

import (
	"context"
	"sync"

	"voice-invoice-service/internal/service/stt"
)

// SimulatedUtterance represents a mock utterance with progressive transcripts.
type SimulatedUtterance struct {
	Partials []string // Progressive interim hypotheses
	Final    string   // Final transcript text
}

// DefaultUtterances is a short invoice dictation.
var DefaultUtterances = []SimulatedUtterance{
	{
		Partials: []string{"Create invoice", "Create invoice for", "Create invoice for ABC"},
		Final:    "Create invoice for ABC Technologies",
	},
	{
		Partials: []string{"Add Web Design", "Add Web Design quantity 2", "Add Web Design quantity 2 at rate 1000"},
		Final:    "Add Web Design quantity 2 at rate 1000 with 18% GST",
	},
	{
		Partials: []string{"Apply", "Apply 10 percent"},
		Final:    "Apply 10 percent discount",
	},
}

// Device implements stt.Device with scripted responses.
type Device struct {
	audio      <-chan []byte
	utterances []SimulatedUtterance

	mu           sync.Mutex
	running      bool
	stopCh       chan struct{}
	abortCh      chan struct{}
	utterance    int // Next utterance to simulate
	partialIndex int // Next partial within the utterance
}

// New creates a device reading frames from audio and replaying utterances.
// A nil or empty script uses DefaultUtterances.
func New(audio <-chan []byte, utterances []SimulatedUtterance) *Device {
	if len(utterances) == 0 {
		utterances = DefaultUtterances
	}
	return &Device{audio: audio, utterances: utterances}
}

// Factory returns an stt.Factory for scripted devices.
func Factory(audio <-chan []byte, utterances []SimulatedUtterance) stt.Factory {
	return func() (stt.Device, error) {
		return New(audio, utterances), nil
	}
}

// Start begins a mock recognition run.
func (d *Device) Start(ctx context.Context, h stt.Handler) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = true
	d.stopCh = make(chan struct{})
	d.abortCh = make(chan struct{})
	stopCh, abortCh := d.stopCh, d.abortCh
	d.mu.Unlock()

	h(stt.StartEvent{})
	go d.run(ctx, h, stopCh, abortCh)
	return nil
}

// Stop flushes the utterance in progress as final, then ends the run.
func (d *Device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running && d.stopCh != nil {
		close(d.stopCh)
		d.stopCh = nil
	}
	return nil
}

// Abort ends the run without flushing.
func (d *Device) Abort() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running && d.abortCh != nil {
		close(d.abortCh)
		d.abortCh = nil
	}
	return nil
}

// run is the only goroutine emitting events for a run, so delivery is ordered.
func (d *Device) run(ctx context.Context, h stt.Handler, stopCh, abortCh <-chan struct{}) {
	defer func() {
		d.mu.Lock()
		d.running = false
		d.stopCh = nil
		d.abortCh = nil
		d.mu.Unlock()
		h(stt.EndEvent{})
	}()

	for {
		select {
		case <-ctx.Done():
			h(stt.ErrorEvent{Kind: stt.ErrorAborted, Err: ctx.Err()})
			return
		case <-abortCh:
			h(stt.ErrorEvent{Kind: stt.ErrorAborted})
			return
		case <-stopCh:
			d.drain(h)
			if seg, ok := d.flush(); ok {
				h(stt.ResultEvent{Segments: []stt.Segment{seg}})
			}
			return
		case _, ok := <-d.audio:
			if !ok {
				if seg, ok := d.flush(); ok {
					h(stt.ResultEvent{Segments: []stt.Segment{seg}})
				}
				return
			}
			if seg, ok := d.advance(); ok {
				h(stt.ResultEvent{Segments: []stt.Segment{seg}})
			}
		}
	}
}

// drain processes frames that were queued before the stop request.
func (d *Device) drain(h stt.Handler) {
	for {
		select {
		case _, ok := <-d.audio:
			if !ok {
				return
			}
			if seg, ok := d.advance(); ok {
				h(stt.ResultEvent{Segments: []stt.Segment{seg}})
			}
		default:
			return
		}
	}
}

// advance returns the next hypothesis of the script.
func (d *Device) advance() (stt.Segment, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.utterance >= len(d.utterances) {
		return stt.Segment{}, false
	}
	utt := d.utterances[d.utterance]
	if d.partialIndex < len(utt.Partials) {
		text := utt.Partials[d.partialIndex]
		d.partialIndex++
		return stt.InterimSegment(text), true
	}
	d.utterance++
	d.partialIndex = 0
	return stt.FinalSegment(utt.Final), true
}

// flush finalizes an utterance that was interrupted mid-way.
func (d *Device) flush() (stt.Segment, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.utterance >= len(d.utterances) || d.partialIndex == 0 {
		return stt.Segment{}, false
	}
	utt := d.utterances[d.utterance]
	d.utterance++
	d.partialIndex = 0
	return stt.FinalSegment(utt.Final), true
}
