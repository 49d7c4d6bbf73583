package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"webhook-relay/internal/core/ports"
	"webhook-relay/internal/core/ports/mocks"
	"webhook-relay/pkg/apperror"
	"webhook-relay/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const testAPIKey = "test-internal-key"

func init() {
	gin.SetMode(gin.TestMode)
}

type stubWorker struct {
	summary ports.WorkerSummary
	err     error
	calls   int
}

func (s *stubWorker) ProcessQueue(ctx context.Context) (ports.WorkerSummary, error) {
	s.calls++
	return s.summary, s.err
}

type stubChecker struct {
	name string
	err  error
}

func (s *stubChecker) Ping(ctx context.Context) error { return s.err }
func (s *stubChecker) Name() string                   { return s.name }

func newTestRouter(t *testing.T, worker ports.QueueWorker, checkers ...ports.HealthChecker) *gin.Engine {
	t.Helper()
	ctrl := gomock.NewController(t)
	metrics := mocks.NewMockMetricsCollector(ctrl)
	metrics.EXPECT().Snapshot().Return(ports.MetricsSnapshot{Runs: 3, Delivered: 12}).AnyTimes()

	return SetupRouter(RouterDeps{
		Worker:         worker,
		Metrics:        metrics,
		InternalAPIKey: testAPIKey,
		HealthCheckers: checkers,
		Logger:         logger.Nop(),
	})
}

func TestWorkerHandler_Trigger(t *testing.T) {
	worker := &stubWorker{summary: ports.WorkerSummary{
		Processed: 5, Delivered: 3, Retried: 1, Dead: 1,
		Duration: 120 * time.Millisecond,
	}}
	r := newTestRouter(t, worker)

	req := httptest.NewRequest(http.MethodPost, "/internal/webhook-worker", nil)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, worker.calls)

	body := w.Body.String()
	assert.Contains(t, body, `"processed":5`)
	assert.Contains(t, body, `"delivered":3`)
	assert.Contains(t, body, `"retried":1`)
	assert.Contains(t, body, `"dead":1`)
	assert.Contains(t, body, `"skipped":0`)
	assert.Contains(t, body, `"processed_at"`)
}

func TestWorkerHandler_Trigger_WrongKey(t *testing.T) {
	worker := &stubWorker{}
	r := newTestRouter(t, worker)

	req := httptest.NewRequest(http.MethodPost, "/internal/webhook-worker", nil)
	req.Header.Set("Authorization", "Bearer not-the-key")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Zero(t, worker.calls, "an unauthenticated request must not touch the queue")
}

func TestWorkerHandler_Trigger_QueueStoreDown(t *testing.T) {
	worker := &stubWorker{err: apperror.ErrStoreUnavailable(errors.New("connection refused"))}
	r := newTestRouter(t, worker)

	req := httptest.NewRequest(http.MethodPost, "/internal/webhook-worker", nil)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "SYS_001")
	// The raw driver error stays out of the response body.
	assert.NotContains(t, w.Body.String(), "connection refused")
}

func TestWorkerHandler_Metrics(t *testing.T) {
	r := newTestRouter(t, &stubWorker{})

	req := httptest.NewRequest(http.MethodGet, "/internal/webhook-worker/metrics", nil)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"runs":3`)
	assert.Contains(t, w.Body.String(), `"delivered":12`)
}

func TestWorkerHandler_Metrics_NoAuth(t *testing.T) {
	r := newTestRouter(t, &stubWorker{})

	req := httptest.NewRequest(http.MethodGet, "/internal/webhook-worker/metrics", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHealthCheck_AllHealthy(t *testing.T) {
	r := newTestRouter(t, &stubWorker{},
		&stubChecker{name: "postgresql"},
		&stubChecker{name: "redis"},
	)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)
}

func TestHealthCheck_Degraded(t *testing.T) {
	r := newTestRouter(t, &stubWorker{},
		&stubChecker{name: "postgresql"},
		&stubChecker{name: "redis", err: errors.New("dial tcp: connection refused")},
	)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Contains(t, w.Body.String(), `"status":"degraded"`)
	assert.Contains(t, w.Body.String(), `"redis":{"status":"unhealthy"`)
}
