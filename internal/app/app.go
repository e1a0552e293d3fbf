// Package app wires configuration into the service components.
package app

import (
	"context"
	"fmt"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"github.com/rs/zerolog"

	"voice-invoice-service/internal/config"
	"voice-invoice-service/internal/events"
	"voice-invoice-service/internal/observability/logging"
	"voice-invoice-service/internal/observability/metrics"
	"voice-invoice-service/internal/service/audio"
	"voice-invoice-service/internal/service/catalog"
	"voice-invoice-service/internal/service/dictation"
	"voice-invoice-service/internal/service/extraction"
	"voice-invoice-service/internal/service/extraction/llm"
	"voice-invoice-service/internal/service/pipeline"
	"voice-invoice-service/internal/service/resolution"
	"voice-invoice-service/internal/service/stt"
	googlestt "voice-invoice-service/internal/service/stt/google"
	"voice-invoice-service/internal/service/stt/mock"
)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config

	Catalog   *catalog.Store
	Extractor extraction.Extractor
	Publisher *events.Publisher
	Pipeline  *pipeline.Service
	Metrics   *metrics.Metrics

	speech *speech.Client
	cancel context.CancelFunc
}

// New constructs the application from cfg. Only the Google speech client
// can fail to initialize.
func New(ctx context.Context, cfg *config.Config) (*Application, error) {
	a := &Application{
		Cfg:     cfg,
		Logger:  logging.WithComponent("application"),
		Metrics: metrics.DefaultMetrics,
	}

	a.Catalog = catalog.NewStore(newCatalogProvider(cfg.Catalog), catalog.NewMatcher(
		catalog.WithPhoneticThreshold(cfg.Catalog.PhoneticThreshold),
		catalog.WithFuzzyThreshold(cfg.Catalog.FuzzyThreshold),
	))

	ex, err := newExtractor(cfg.Extraction, a.Catalog)
	if err != nil {
		return nil, err
	}
	a.Extractor = ex

	a.Publisher = events.New(&events.Config{
		Enabled:          cfg.Kafka.Enabled,
		Brokers:          cfg.Kafka.Brokers,
		TopicTranscripts: cfg.Kafka.TopicTranscripts,
		TopicDrafts:      cfg.Kafka.TopicDrafts,
		TopicInvoices:    cfg.Kafka.TopicInvoices,
		Principal:        cfg.Kafka.Principal,
	})

	a.Pipeline = pipeline.New(a.Extractor,
		pipeline.WithCatalog(a.Catalog),
		pipeline.WithPublisher(a.Publisher),
		pipeline.WithPrincipal(cfg.Service.Principal),
		pipeline.WithEngine(resolution.New(resolution.WithAutoAdoptThreshold(cfg.Resolution.AutoAdoptThreshold))),
	)

	if cfg.Dictation.Provider == "google" {
		client, err := googlestt.NewClient(ctx)
		if err != nil {
			// Sessions report ErrCaptureUnsupported instead of failing startup.
			a.Logger.Error().Err(err).Msg("Google Speech client unavailable")
		} else {
			a.speech = client
		}
	}

	a.Logger.Info().
		Str("sttProvider", cfg.Dictation.Provider).
		Str("extractionProvider", cfg.Extraction.Provider).
		Str("catalogSource", cfg.Catalog.Source).
		Msg("Voice invoice service application created")
	return a, nil
}

func newCatalogProvider(cfg config.CatalogConfig) catalog.Provider {
	if cfg.Source == "http" {
		return catalog.NewHTTPProvider(cfg.BaseURL, cfg.Token, cfg.PageSize, cfg.Timeout)
	}
	return catalog.NewFileProvider(cfg.Path)
}

func newExtractor(cfg config.ExtractionConfig, m extraction.Matcher) (extraction.Extractor, error) {
	switch cfg.Provider {
	case "http":
		return extraction.NewClient(extraction.ClientConfig{
			URL:     cfg.URL,
			Token:   cfg.Token,
			Timeout: cfg.Timeout,
		}), nil
	case "openai":
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("app: extraction provider openai requires OPENAI_API_KEY")
		}
		return llm.NewWithKey(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, m), nil
	case "rules", "":
		return extraction.NewRules(m), nil
	default:
		return nil, fmt.Errorf("app: unknown extraction provider %q", cfg.Provider)
	}
}

// Start loads the catalog and begins periodic refreshes. A failed first
// load leaves the service unready but running.
func (a *Application) Start(ctx context.Context) error {
	a.StartupTime = time.Now().UTC()

	ctx, a.cancel = context.WithCancel(ctx)
	if err := a.Catalog.Refresh(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("Initial catalog load failed; will retry")
	}
	go a.Catalog.Run(ctx, a.Cfg.Catalog.RefreshInterval)

	a.Logger.Info().
		Time("startupTime", a.StartupTime).
		Msg("Voice invoice service starting")
	return nil
}

// Ready reports whether the service can resolve drafts.
func (a *Application) Ready() bool {
	return a.Catalog.Ready()
}

// NewDictation creates a capture session with its audio feed. The caller
// owns both and must close them.
func (a *Application) NewDictation(sessionID string, opts ...dictation.Option) (*dictation.Session, *audio.Feed) {
	dc := a.Cfg.Dictation
	feed := audio.NewFeed(sessionID, audio.Limits{
		MaxAudioBytes: dc.MaxAudioBytes,
		MaxDuration:   dc.MaxDuration,
		BufferFrames:  dc.BufferFrames,
	})

	sttCfg := stt.DefaultConfig()
	sttCfg.LanguageCode = dc.LanguageCode
	sttCfg.SampleRateHz = int32(dc.SampleRateHz)
	sttCfg.AudioEncoding = dc.AudioEncoding
	sttCfg.InterimResults = dc.InterimResults

	var factory stt.Factory
	switch dc.Provider {
	case "google":
		factory = googlestt.Factory(a.speech, sttCfg, feed.Frames())
	case "mock":
		factory = mock.Factory(feed.Frames(), nil)
	default:
		factory = func() (stt.Device, error) { return nil, stt.ErrCaptureUnsupported }
	}

	all := append([]dictation.Option{
		dictation.WithMaxRetries(dc.MaxRetries),
		dictation.WithRestartDelay(dc.RestartDelay),
		dictation.WithProvider(dc.Provider),
		dictation.WithMetrics(a.Metrics),
	}, opts...)
	return dictation.NewSession(sessionID, factory, all...), feed
}

// Shutdown releases background work and clients.
func (a *Application) Shutdown() {
	a.Logger.Info().Msg("Voice invoice service shutting down")
	if a.cancel != nil {
		a.cancel()
	}
	if err := a.Publisher.Close(); err != nil {
		a.Logger.Error().Err(err).Msg("Error closing publisher")
	}
	if a.speech != nil {
		_ = a.speech.Close()
	}
}
