package api

import (
	"context"
	"net/http"
	"time"
)

// Pinger probes a backing dependency. Implemented by store.PostgresStore
// and store.RedisStore.
type Pinger interface {
	Ping(ctx context.Context) error
}

type healthResponse struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies"`
}

// HealthHandler probes the backing stores. Postgres down means the engine
// cannot accept events (503); Redis down degrades dispatch but the polling
// surface still works, so it is reported without failing the check.
func HealthHandler(db, cache Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := healthResponse{
			Status:       "healthy",
			Dependencies: map[string]string{},
		}
		code := http.StatusOK

		if db != nil {
			if err := db.Ping(ctx); err != nil {
				resp.Dependencies["postgres"] = "down"
				resp.Status = "unhealthy"
				code = http.StatusServiceUnavailable
			} else {
				resp.Dependencies["postgres"] = "up"
			}
		}

		if cache != nil {
			if err := cache.Ping(ctx); err != nil {
				resp.Dependencies["redis"] = "down"
				if resp.Status == "healthy" {
					resp.Status = "degraded"
				}
			} else {
				resp.Dependencies["redis"] = "up"
			}
		}

		respondJSON(w, code, resp)
	}
}
