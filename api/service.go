package api

import (
	"net/http"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"gitlab.com/Refeed/Worker/metrics"
)

// QueueDepther reports the refresh queue backlog.
type QueueDepther interface {
	QueueDepth() int
}

// New creates a new restful Web Service for reporting information about the worker
func New(queue QueueDepther) http.Handler {
	router := chi.NewRouter()

	router.Use(chiMiddleware.Recoverer)
	router.Use(render.SetContentType(render.ContentTypeJSON))

	router.Get("/healthz", getHealthz)
	router.Get("/stats", getStats(queue))

	return router
}

func getHealthz(w http.ResponseWriter, r *http.Request) {
	render.PlainText(w, r, "ok")
}

type statsResponse struct {
	Uptime int64 `json:"uptime"`

	RefreshesStarted int64 `json:"refreshes_started"`
	RefreshesFailed  int64 `json:"refreshes_failed"`
	RefreshesSkipped int64 `json:"refreshes_skipped"`

	EntriesImported int64 `json:"entries_imported"`
	PostsPublished  int64 `json:"posts_published"`
	PostsFailed     int64 `json:"posts_failed"`

	QueueDepth int `json:"queue_depth"`
}

func getStats(queue QueueDepther) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, statsResponse{
			Uptime:           metrics.Uptime.Value(),
			RefreshesStarted: metrics.RefreshesStarted.Value(),
			RefreshesFailed:  metrics.RefreshesFailed.Value(),
			RefreshesSkipped: metrics.RefreshesSkipped.Value(),
			EntriesImported:  metrics.EntriesImported.Value(),
			PostsPublished:   metrics.PostsPublished.Value(),
			PostsFailed:      metrics.PostsFailed.Value(),
			QueueDepth:       queue.QueueDepth(),
		})
	}
}
