package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/taskman/internal/metrics"
)

type statusCollector struct {
	metrics.Noop
	statuses  []int
	latencies []time.Duration
}

func (c *statusCollector) RecordHTTPStatus(code int) { c.statuses = append(c.statuses, code) }
func (c *statusCollector) RecordRequestLatency(d time.Duration) {
	c.latencies = append(c.latencies, d)
}

func TestMetricsMiddleware_RecordsStatusAndLatency(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    int
	}{
		{"implicit 200", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("ok")) }, http.StatusOK},
		{"explicit 404", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) }, http.StatusNotFound},
		{"500 via error writer", func(w http.ResponseWriter, r *http.Request) {
			WriteInternalServerError(w)
		}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &statusCollector{}
			h := NewMetricsMiddleware(c)(tt.handler)
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/projects", nil))

			if len(c.statuses) != 1 || c.statuses[0] != tt.want {
				t.Errorf("statuses = %v, want [%d]", c.statuses, tt.want)
			}
			if len(c.latencies) != 1 {
				t.Errorf("latencies recorded = %d, want 1", len(c.latencies))
			}
		})
	}
}

func TestMetricsMiddleware_NilCollector(t *testing.T) {
	h := NewMetricsMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
}
