// Package http exposes the draft pipeline and dictation over HTTP.
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"voice-invoice-service/internal/app"
	"voice-invoice-service/internal/observability"
	"voice-invoice-service/internal/observability/metrics"
	"voice-invoice-service/internal/service/audio"
	"voice-invoice-service/internal/service/dictation"
	"voice-invoice-service/internal/service/extraction"
	"voice-invoice-service/internal/service/pipeline"
)

// Deps are the components the router serves.
type Deps struct {
	Pipeline     *pipeline.Service
	Catalog      pipeline.Catalog
	Extractor    extraction.Extractor
	NewDictation func(sessionID string, opts ...dictation.Option) (*dictation.Session, *audio.Feed)
	Ready        func() bool
	Metrics      *metrics.Metrics
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(application *app.Application) http.Handler {
	return NewRouterWith(Deps{
		Pipeline:     application.Pipeline,
		Catalog:      application.Catalog,
		Extractor:    application.Extractor,
		NewDictation: application.NewDictation,
		Ready:        application.Ready,
		Metrics:      application.Metrics,
	})
}

// NewRouterWith constructs the router from explicit dependencies.
func NewRouterWith(d Deps) http.Handler {
	if d.Metrics == nil {
		d.Metrics = metrics.DefaultMetrics
	}
	h := &handlers{deps: d}
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observability.HTTPMiddleware(d.Metrics))

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if d.Ready != nil && !d.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Route("/drafts", func(r chi.Router) {
			r.Post("/", h.createDraft)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getDraft)
				r.Post("/resubmit", h.resubmitDraft)
				r.Put("/client", h.selectClient)
				r.Delete("/client", h.dismissClient)
				r.Put("/items/{line}/product", h.selectProduct)
				r.Delete("/items/{line}/product", h.dismissProduct)
				r.Put("/discount", h.updateDiscount)
				r.Post("/finalize", h.finalize)
			})
		})
		r.Get("/catalog/clients", h.searchClients)
		r.Get("/catalog/products", h.searchProducts)
		r.Get("/dictation", h.dictation)
	})

	return r
}
