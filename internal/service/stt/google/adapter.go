// Package google provides a continuous dictation device backed by Google Cloud
// Speech-to-Text streaming recognition.
package google

import (
	"context"
	"errors"
	"io"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"voice-invoice-service/internal/observability/logging"
	"voice-invoice-service/internal/service/stt"
)

// NewClient creates a Speech client.
// Requires GOOGLE_APPLICATION_CREDENTIALS environment variable to be set.
func NewClient(ctx context.Context) (*speech.Client, error) {
	return speech.NewClient(ctx)
}

// Device implements stt.Device on top of a streaming recognize call. Audio is
// read from the channel supplied at construction; closing that channel ends
// the current stream gracefully.
type Device struct {
	client *speech.Client
	cfg    stt.Config
	audio  <-chan []byte

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	cancel  context.CancelFunc
}

// NewDevice creates a device. The device owns no resources until Start.
func NewDevice(client *speech.Client, cfg stt.Config, audio <-chan []byte) *Device {
	return &Device{client: client, cfg: cfg, audio: audio}
}

// Factory returns an stt.Factory producing devices bound to audio. A nil client
// means credentials were not configured and yields stt.ErrCaptureUnsupported.
func Factory(client *speech.Client, cfg stt.Config, audio <-chan []byte) stt.Factory {
	return func() (stt.Device, error) {
		if client == nil {
			return nil, stt.ErrCaptureUnsupported
		}
		return NewDevice(client, cfg, audio), nil
	}
}

// Start opens a streaming recognize call and sends the recognition config.
func (d *Device) Start(ctx context.Context, h stt.Handler) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return nil
	}

	sctx, cancel := context.WithCancel(ctx)
	stream, err := d.client.StreamingRecognize(sctx)
	if err != nil {
		d.mu.Unlock()
		cancel()
		return err
	}

	err = stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   parseAudioEncoding(d.cfg.AudioEncoding),
					SampleRateHertz:            d.cfg.SampleRateHz,
					LanguageCode:               d.cfg.LanguageCode,
					EnableAutomaticPunctuation: true,
				},
				InterimResults:  d.cfg.InterimResults,
				SingleUtterance: !d.cfg.Continuous,
			},
		},
	})
	if err != nil {
		d.mu.Unlock()
		cancel()
		return err
	}

	stopCh := make(chan struct{})
	d.running = true
	d.stopCh = stopCh
	d.cancel = cancel
	d.mu.Unlock()

	h(stt.StartEvent{})
	go d.pump(sctx, stream, stopCh)
	go d.listen(stream, h, cancel)
	return nil
}

// Stop half-closes the stream so the recognizer flushes its last result.
func (d *Device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running && d.stopCh != nil {
		close(d.stopCh)
		d.stopCh = nil
	}
	return nil
}

// Abort cancels the stream; pending results are dropped.
func (d *Device) Abort() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
	}
	return nil
}

// pump forwards audio frames. It is the only goroutine that sends on stream.
func (d *Device) pump(ctx context.Context, stream speechpb.Speech_StreamingRecognizeClient, stopCh <-chan struct{}) {
	log := logging.WithComponent("stt.google")
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			_ = stream.CloseSend()
			return
		case frame, ok := <-d.audio:
			if !ok {
				_ = stream.CloseSend()
				return
			}
			err := stream.Send(&speechpb.StreamingRecognizeRequest{
				StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
					AudioContent: frame,
				},
			})
			if err != nil {
				// The receive side observes the same failure and reports it.
				log.Debug().Err(err).Msg("audio send failed")
				return
			}
		}
	}
}

// listen receives recognition responses and emits events until the stream
// ends. EndEvent is always the last event of a run.
func (d *Device) listen(stream speechpb.Speech_StreamingRecognizeClient, h stt.Handler, cancel context.CancelFunc) {
	defer func() {
		cancel()
		d.mu.Lock()
		d.running = false
		d.stopCh = nil
		d.cancel = nil
		d.mu.Unlock()
		h(stt.EndEvent{})
	}()

	for {
		resp, err := stream.Recv()
		if err == io.EOF {
			return
		}
		if err != nil {
			if kind, ok := classify(err); ok {
				h(stt.ErrorEvent{Kind: kind, Err: err})
			}
			return
		}

		segments := make([]stt.Segment, 0, len(resp.Results))
		for _, r := range resp.Results {
			if len(r.Alternatives) == 0 {
				continue
			}
			segments = append(segments, stt.Segment{
				Text:  r.Alternatives[0].Transcript,
				Final: r.IsFinal,
			})
		}
		if len(segments) > 0 {
			h(stt.ResultEvent{Segments: segments})
		}
	}
}

// classify maps a stream error to a device error kind. ok is false when the
// error is a plain end of stream (the recognizer's duration limit).
func classify(err error) (kind stt.ErrorKind, ok bool) {
	if errors.Is(err, context.Canceled) {
		return stt.ErrorAborted, true
	}
	switch status.Code(err) {
	case codes.Canceled:
		return stt.ErrorAborted, true
	case codes.OutOfRange:
		return "", false
	case codes.PermissionDenied, codes.Unauthenticated:
		return stt.ErrorPermissionDenied, true
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted:
		return stt.ErrorNetwork, true
	case codes.InvalidArgument:
		return stt.ErrorAudioCapture, true
	default:
		return stt.ErrorUnknown, true
	}
}

func parseAudioEncoding(encoding string) speechpb.RecognitionConfig_AudioEncoding {
	switch encoding {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}
