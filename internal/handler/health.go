package handler

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	db    *sql.DB
	cache pinger
}

// NewHealthHandler takes an optional cache; nil skips the redis check.
func NewHealthHandler(db *sql.DB, cache pinger) *HealthHandler {
	return &HealthHandler{db: db, cache: cache}
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"version":   "1.0.0",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	httpStatus := http.StatusOK
	checks := map[string]string{"database": "ok"}

	if err := h.db.PingContext(r.Context()); err != nil {
		slog.Warn("readiness check failed: database unreachable", "error", err)
		checks["database"] = "down"
		httpStatus = http.StatusServiceUnavailable
	}

	if h.cache != nil {
		checks["redis"] = "ok"
		if err := h.cache.Ping(r.Context()); err != nil {
			// The cache is bypassed on failure, so it degrades rather than fails readiness.
			slog.Warn("readiness check: redis unreachable", "error", err)
			checks["redis"] = "degraded"
		}
	}

	overallStatus := "ok"
	if httpStatus != http.StatusOK {
		overallStatus = "down"
	}

	RespondJSON(w, httpStatus, map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	})
}
