// Package httpapi serves the sync protocol as JSON over HTTP.
package httpapi

import (
	"net/http"

	"github.com/dmitrijs2005/finkeeper/internal/common"
	"github.com/dmitrijs2005/finkeeper/internal/logging"
	"github.com/dmitrijs2005/finkeeper/internal/server/events"
	"github.com/dmitrijs2005/finkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/finkeeper/internal/server/services"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// Deps are the collaborators of the HTTP API. Events may be nil, which
// disables the change feed.
type Deps struct {
	Sync      *services.SyncService
	Events    *events.Hub
	Metrics   *metrics.Metrics
	Logger    logging.Logger
	SecretKey string
	Origins   []string
}

type handlers struct {
	sync    *services.SyncService
	events  *events.Hub
	metrics *metrics.Metrics
	logger  logging.Logger
	origins []string
}

func NewRouter(d Deps) http.Handler {
	l := d.Logger
	if l == nil {
		l = logging.Nop{}
	}
	h := &handlers{sync: d.Sync, events: d.Events, metrics: d.Metrics, logger: l, origins: d.Origins}

	r := chi.NewRouter()
	r.Use(requestID, recoverer(l), httpMetrics(d.Metrics))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: d.Origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", requestIDHeader, common.ClientIDHTTPHeader},
		ExposedHeaders: []string{requestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/health", h.health)
	r.Handle("/metrics", d.Metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(bearerAuth([]byte(d.SecretKey), l))
		r.Post("/sync", h.syncHandler)
		r.Get("/status", h.status)
		r.Get("/events", h.changeFeed)
	})

	return r
}
