package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"
)

// HealthCheck は依存サービスの疎通を確認する。
type HealthCheck func(ctx context.Context) error

const healthCheckTimeout = 3 * time.Second

// HealthHandler は依存サービスの状態を返すハンドラー。
type HealthHandler struct {
	checks  map[string]HealthCheck
	started time.Time
	now     func() time.Time
}

// NewHealthHandler はHealthHandlerを生成する。checksのキーがサービス名になる。
func NewHealthHandler(checks map[string]HealthCheck) *HealthHandler {
	return &HealthHandler{
		checks:  checks,
		started: time.Now(),
		now:     time.Now,
	}
}

type healthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
	Uptime    float64           `json:"uptime"`
}

// ServeHTTP は全サービスが応答すれば200、いずれかが落ちていれば503を返す。
// GET /health
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	healthy := true
	services := make(map[string]string, len(h.checks))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			slog.Warn("health check failed",
				slog.String("service", name),
				slog.String("error", err.Error()),
			)
			services[name] = "down"
			healthy = false
			continue
		}
		services[name] = "up"
	}

	status, code := "ok", http.StatusOK
	if !healthy {
		status, code = "error", http.StatusServiceUnavailable
	}

	now := h.now()
	writeJSON(w, code, healthResponse{
		Status:    status,
		Timestamp: now.UTC(),
		Services:  services,
		Uptime:    now.Sub(h.started).Seconds(),
	})
}
