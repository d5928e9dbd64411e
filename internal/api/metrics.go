package api

import (
	"context"
	"net/http"

	"github.com/gr8monk3ys/webhook-engine/internal/store"
)

// MetricsReader supplies engine-wide aggregates. Implemented by
// store.PostgresStore.
type MetricsReader interface {
	GetEngineMetrics(ctx context.Context) (*store.EngineMetrics, error)
}

// QueueDepther reports the current delivery queue depth. Implemented by
// engine.Queue.
type QueueDepther interface {
	Depth(ctx context.Context) (int64, error)
}

type MetricsHandler struct {
	store MetricsReader
	queue QueueDepther
}

func NewMetricsHandler(s MetricsReader, q QueueDepther) *MetricsHandler {
	return &MetricsHandler{store: s, queue: q}
}

// Metrics returns aggregated engine statistics plus the live queue depth.
func (h *MetricsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := h.store.GetEngineMetrics(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get metrics")
		return
	}

	queueDepth, err := h.queue.Depth(r.Context())
	if err != nil {
		queueDepth = 0
	}

	type metricsResponse struct {
		store.EngineMetrics
		QueueDepth int64 `json:"queue_depth"`
	}

	respondJSON(w, http.StatusOK, metricsResponse{
		EngineMetrics: *metrics,
		QueueDepth:    queueDepth,
	})
}
