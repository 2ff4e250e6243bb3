package monitoring

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/idc-core/idc/engine/action"
	"github.com/idc-core/idc/engine/lock"
	"github.com/idc-core/idc/engine/task"
	"github.com/idc-core/idc/pkg/logger"
)

func testContext() context.Context {
	return logger.ContextWithLogger(context.Background(), logger.NewForTests())
}

func scrape(t *testing.T, s *Service) string {
	t.Helper()
	w := httptest.NewRecorder()
	s.ExporterHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	require.Equal(t, http.StatusOK, w.Code)
	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	return string(body)
}

func TestNewMonitoringService(t *testing.T) {
	t.Run("Should use no-op meter when disabled", func(t *testing.T) {
		service, err := NewMonitoringService(testContext(), &Config{Enabled: false, Path: "/metrics"})
		require.NoError(t, err)
		assert.False(t, service.IsInitialized())
		assert.NotNil(t, service.Meter())
		assert.NotNil(t, service.Engine())
		w := httptest.NewRecorder()
		service.ExporterHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
	t.Run("Should fail with invalid config", func(t *testing.T) {
		service, err := NewMonitoringService(testContext(), &Config{Enabled: true})
		assert.ErrorContains(t, err, "monitoring path cannot be empty")
		assert.Nil(t, service)
	})
	t.Run("Should fall back to a disabled service on invalid config", func(t *testing.T) {
		service := NewMonitoringServiceWithFallback(testContext(), &Config{Enabled: true, Path: "nope"})
		assert.False(t, service.IsInitialized())
	})
	t.Run("Should export engine metrics in Prometheus format", func(t *testing.T) {
		ctx := testContext()
		service, err := NewMonitoringService(ctx, nil)
		require.NoError(t, err)
		defer func() { _ = service.Shutdown(ctx) }()
		service.Engine().RecordAction(ctx, true, 20*time.Millisecond)
		service.Engine().LockEvent(lock.EventAcquired)
		body := scrape(t, service)
		assert.Contains(t, body, "idc_action_executions_total")
		assert.Contains(t, body, `success="true"`)
		assert.Contains(t, body, "idc_lock_events_total")
		assert.Contains(t, body, "idc_uptime_seconds")
	})
	t.Run("Should expose registered native collectors", func(t *testing.T) {
		ctx := testContext()
		service, err := NewMonitoringService(ctx, nil)
		require.NoError(t, err)
		gauge := prom.NewGauge(prom.GaugeOpts{Name: "idc_test_pool_connections"})
		gauge.Set(3)
		require.NoError(t, service.Register(gauge))
		require.NoError(t, service.Register(gauge))
		assert.True(t, strings.Contains(scrape(t, service), "idc_test_pool_connections 3"))
	})
}

func TestEngineMetrics(t *testing.T) {
	setup := func(t *testing.T) (*EngineMetrics, *sdkmetric.ManualReader) {
		t.Helper()
		reader := sdkmetric.NewManualReader()
		m, err := NewEngineMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test"))
		require.NoError(t, err)
		return m, reader
	}
	sums := func(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Sum[int64] {
		t.Helper()
		var rm metricdata.ResourceMetrics
		require.NoError(t, reader.Collect(context.Background(), &rm))
		out := make(map[string]metricdata.Sum[int64])
		for _, sm := range rm.ScopeMetrics {
			for _, m := range sm.Metrics {
				if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
					out[m.Name] = sum
				}
			}
		}
		return out
	}
	t.Run("Should count tasks by function and outcome", func(t *testing.T) {
		m, reader := setup(t)
		ctx := context.Background()
		m.RecordTask(ctx, task.FunctionSuccess, action.OutcomeSuccess, time.Millisecond)
		m.RecordTask(ctx, task.FunctionSuccess, action.OutcomeSuccess, time.Millisecond)
		m.RecordTask(ctx, task.FunctionError, action.OutcomeFailure, time.Millisecond)
		tasks := sums(t, reader)["idc_task_executions_total"]
		require.Len(t, tasks.DataPoints, 2)
		byOutcome := map[string]int64{}
		for _, dp := range tasks.DataPoints {
			outcome, _ := dp.Attributes.Value("outcome")
			byOutcome[outcome.AsString()] = dp.Value
		}
		assert.Equal(t, map[string]int64{"success": 2, "failure": 1}, byOutcome)
	})
	t.Run("Should count rollback commands and failures", func(t *testing.T) {
		m, reader := setup(t)
		m.RecordCompensations(context.Background(), 3, nil)
		m.RecordCompensations(context.Background(), 2, errors.New("boom"))
		got := sums(t, reader)
		assert.Equal(t, int64(5), got["idc_compensation_commands_total"].DataPoints[0].Value)
		assert.Equal(t, int64(1), got["idc_compensation_rollback_failures_total"].DataPoints[0].Value)
	})
	t.Run("Should label publish results", func(t *testing.T) {
		m, reader := setup(t)
		m.PublishResult("hash_string", nil)
		m.PublishResult("hash_string", errors.New("down"))
		assert.Len(t, sums(t, reader)["idc_publish_messages_total"].DataPoints, 2)
	})
}
