package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	llmadapter "github.com/comfyflow/agentmode/engine/llm/adapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumValue(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetrics(t *testing.T) {
	t.Run("Should record run outcomes retries and tool calls", func(t *testing.T) {
		reader := sdkmetric.NewManualReader()
		provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
		metrics, err := NewMetrics(provider.Meter("test"))
		require.NoError(t, err)
		engine := &fakeEngine{attempts: []fakeAttempt{
			{events: []llmadapter.Event{toolStarted("search_nodes", `{}`)}, err: errors.New("socket hang up")},
			{events: []llmadapter.Event{toolStarted("save_workflow", `{}`), textDelta("done")}},
		}}
		clock := newFakeClock()
		sleeper := &sleepRecorder{}
		o := New(engine, DefaultConfig(), WithClock(clock.Now), WithSleeper(sleeper.Sleep), WithMetrics(metrics))

		_, err = o.Run(t.Context(), userRequest("make a workflow"), (&recorder{}).Emit)
		require.NoError(t, err)

		got := collect(t, reader)
		assert.Equal(t, int64(1), sumValue(t, got["agentmode_runs_total"]))
		assert.Equal(t, int64(1), sumValue(t, got["agentmode_retries_total"]))
		assert.Equal(t, int64(2), sumValue(t, got["agentmode_tool_calls_total"]))
		hist, ok := got["agentmode_run_duration_seconds"].Data.(metricdata.Histogram[float64])
		require.True(t, ok)
		require.Len(t, hist.DataPoints, 1)
		assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
	})

	t.Run("Should tolerate a nil receiver", func(t *testing.T) {
		var m *Metrics
		assert.NotPanics(t, func() {
			m.recordRun(t.Context(), StateCompleted, time.Second)
			m.recordFailure(t.Context(), CategoryTransient)
			m.recordToolCall(t.Context(), "x")
		})
	})

	t.Run("Should fall back to no-op instruments", func(t *testing.T) {
		m, err := NewMetrics(nil)
		require.NoError(t, err)
		assert.NotNil(t, m)
	})
}
