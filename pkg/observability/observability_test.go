package observability

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger(t *testing.T) {
	t.Run("emits JSON with fields", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(InfoLevel, &buf)

		logger.WithField("user_id", "user-1").Info("Something happened")

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "Something happened", entry["msg"])
		assert.Equal(t, "user-1", entry["user_id"])
	})

	t.Run("respects level", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(WarnLevel, &buf)

		logger.Info("hidden")
		logger.Warn("visible")

		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "visible")
	})

	t.Run("parse level", func(t *testing.T) {
		assert.Equal(t, DebugLevel, ParseLogLevel("debug"))
		assert.Equal(t, InfoLevel, ParseLogLevel("unknown"))
	})
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(metrics))
	router.HandleFunc("/api/history/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodDelete)
	RegisterMetricsEndpoint(router, registry)

	req := httptest.NewRequest(http.MethodDelete, "/api/history/abc-123", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	body := rec.Body.String()
	// The route template is the label, not the concrete ID
	assert.Contains(t, body, `path="/api/history/{id}"`)
	assert.NotContains(t, body, "abc-123")
}

func TestHealthChecker(t *testing.T) {
	t.Run("no dependencies is healthy", func(t *testing.T) {
		h := NewHealthChecker(nil, nil)

		rec := httptest.NewRecorder()
		h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, strings.Contains(rec.Body.String(), StatusHealthy))
	})

	t.Run("liveness always answers", func(t *testing.T) {
		h := NewHealthChecker(nil, nil)

		rec := httptest.NewRecorder()
		h.Liveness(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
