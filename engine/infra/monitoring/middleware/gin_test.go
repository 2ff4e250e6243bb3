package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestHTTPMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	t.Run("Should record request totals with route labels", func(t *testing.T) {
		reader := sdkmetric.NewManualReader()
		meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test")
		router := gin.New()
		router.Use(HTTPMetrics(context.Background(), meter))
		router.POST("/action", func(c *gin.Context) {
			c.Status(http.StatusBadRequest)
		})

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/action", http.NoBody))
		require.Equal(t, http.StatusBadRequest, w.Code)

		got := collect(t, reader)
		total, ok := got["idc_http_requests_total"]
		require.True(t, ok)
		sum, ok := total.Data.(metricdata.Sum[int64])
		require.True(t, ok)
		require.Len(t, sum.DataPoints, 1)
		attrs := sum.DataPoints[0].Attributes.ToSlice()
		assert.Contains(t, attrs, attribute.String("path", "/action"))
		assert.Contains(t, attrs, attribute.String("status_code", "400"))
		assert.Contains(t, got, "idc_http_request_duration_seconds")
	})
	t.Run("Should label unknown routes as unmatched", func(t *testing.T) {
		reader := sdkmetric.NewManualReader()
		meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test")
		router := gin.New()
		router.Use(HTTPMetrics(context.Background(), meter))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", http.NoBody))

		sum := collect(t, reader)["idc_http_requests_total"].Data.(metricdata.Sum[int64])
		assert.Contains(t, sum.DataPoints[0].Attributes.ToSlice(), attribute.String("path", "unmatched"))
	})
	t.Run("Should pass requests through without a meter", func(t *testing.T) {
		router := gin.New()
		router.Use(HTTPMetrics(context.Background(), nil))
		router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", http.NoBody))
		assert.Equal(t, "pong", w.Body.String())
	})
}
