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

func newRouter(t *testing.T) (*gin.Engine, *sdkmetric.ManualReader) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	router := gin.New()
	router.Use(HTTPMetrics(provider.Meter("test")))
	router.GET("/runs/:id", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": c.Param("id")})
	})
	router.POST("/fail", func(c *gin.Context) {
		c.Status(http.StatusBadRequest)
	})
	return router, reader
}

func findMetric(t *testing.T, reader *sdkmetric.ManualReader, name string) metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m
			}
		}
	}
	t.Fatalf("metric %s not found", name)
	return metricdata.Metrics{}
}

func TestHTTPMetrics(t *testing.T) {
	t.Run("Should record requests with the route template", func(t *testing.T) {
		router, reader := newRouter(t)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/runs/123", http.NoBody))
		require.Equal(t, http.StatusOK, w.Code)

		sum, ok := findMetric(t, reader, "agentmode_http_requests_total").Data.(metricdata.Sum[int64])
		require.True(t, ok)
		require.Len(t, sum.DataPoints, 1)
		dp := sum.DataPoints[0]
		assert.Equal(t, int64(1), dp.Value)
		path, _ := dp.Attributes.Value(attribute.Key("path"))
		assert.Equal(t, "/runs/:id", path.AsString())
		status, _ := dp.Attributes.Value(attribute.Key("status_code"))
		assert.Equal(t, "200", status.AsString())
	})

	t.Run("Should label unknown routes as unmatched", func(t *testing.T) {
		router, reader := newRouter(t)
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", http.NoBody))

		sum, ok := findMetric(t, reader, "agentmode_http_requests_total").Data.(metricdata.Sum[int64])
		require.True(t, ok)
		path, _ := sum.DataPoints[0].Attributes.Value(attribute.Key("path"))
		assert.Equal(t, "unmatched", path.AsString())
	})

	t.Run("Should return in-flight to zero after the request", func(t *testing.T) {
		router, reader := newRouter(t)
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/fail", http.NoBody))

		sum, ok := findMetric(t, reader, "agentmode_http_requests_in_flight").Data.(metricdata.Sum[int64])
		require.True(t, ok)
		require.Len(t, sum.DataPoints, 1)
		assert.Equal(t, int64(0), sum.DataPoints[0].Value)
	})

	t.Run("Should pass through with a nil meter", func(t *testing.T) {
		gin.SetMode(gin.TestMode)
		router := gin.New()
		router.Use(HTTPMetrics(nil))
		router.GET("/ok", func(c *gin.Context) { c.Status(http.StatusNoContent) })
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", http.NoBody))
		assert.Equal(t, http.StatusNoContent, w.Code)
	})
}
