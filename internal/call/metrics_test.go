package call

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/voxcall/internal/endpoint"
	"github.com/MrWong99/voxcall/internal/observe"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumTotal(t *testing.T, data metricdata.Aggregation) int64 {
	t.Helper()
	sum, ok := data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("got %T, want Sum[int64]", data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestSession_RecordsMetrics(t *testing.T) {
	t.Parallel()
	reader := sdkmetric.NewManualReader()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	h := newHarness()
	h.cfg.Metrics = m
	h.cfg.Endpointing = endpoint.Config{DuplicateWindow: time.Minute}
	s := h.start(t)
	h.rec.waitState(t, StateListening)

	if got := sumTotal(t, collect(t, reader)["voxcall.active_calls"]); got != 1 {
		t.Errorf("active calls during call = %d, want 1", got)
	}

	h.final("hello there")
	h.rec.waitState(t, StateSpeaking)
	h.rec.waitState(t, StateListening)
	h.final("hello there")
	time.Sleep(50 * time.Millisecond)

	s.End()
	data := collect(t, reader)
	if got := sumTotal(t, data["voxcall.active_calls"]); got != 0 {
		t.Errorf("active calls after End = %d, want 0", got)
	}
	if got := sumTotal(t, data["voxcall.finalizations"]); got != 1 {
		t.Errorf("finalizations = %d, want 1", got)
	}
	if got := sumTotal(t, data["voxcall.duplicates_suppressed"]); got != 1 {
		t.Errorf("suppressed = %d, want 1", got)
	}
}
