package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Mindburn-Labs/actsafe/pkg/acterr"
)

func newRecordingProvider(t *testing.T) (*Provider, *tracetest.SpanRecorder, *sdkmetric.ManualReader) {
	t.Helper()
	spans := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		_ = mp.Shutdown(context.Background())
	})

	p, err := NewWithProviders(tp, mp)
	require.NoError(t, err)
	return p, spans, reader
}

func collectSums(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				out[m.Name] += dp.Value
			}
		}
	}
	return out
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "actsafe", config.ServiceName)
	require.Empty(t, config.OTLPEndpoint)
	require.Equal(t, 1.0, config.SampleRate)
}

func TestNew_WithoutEndpointIsNoop(t *testing.T) {
	p, err := New(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, p.Tracer())
	require.NotNil(t, p.Meter())

	ctx := context.Background()
	p.RecordTransition(ctx, "sol_transfer", "planned")
	p.RecordPolicyViolation(ctx, "daily_cap_exceeded")
	p.RecordReplayDuplicate(ctx)
	_, done := p.TrackOperation(ctx, "noop")
	done(errors.New("boom"))

	require.NoError(t, p.Shutdown(ctx))
}

func TestTrackOperation_RecordsSpanAndMetrics(t *testing.T) {
	p, spans, reader := newRecordingProvider(t)

	ctx, done := p.TrackOperation(context.Background(), "executor.Plan", ActionAttrs("abc", "sol_transfer")...)
	AddSpanEvent(ctx, "simulated", AttrReceiptStatus.String("simulated"))
	done(nil)

	ended := spans.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "executor.Plan", ended[0].Name())
	assert.Equal(t, codes.Unset, ended[0].Status().Code)
	assert.Contains(t, ended[0].Attributes(), AttrRequestID.String("abc"))
	require.Len(t, ended[0].Events(), 1)
	assert.Equal(t, "simulated", ended[0].Events()[0].Name)

	sums := collectSums(t, reader)
	assert.Equal(t, int64(1), sums["actsafe.operations.total"])
	assert.Equal(t, int64(0), sums["actsafe.operations.active"])
	assert.Equal(t, int64(0), sums["actsafe.errors.total"])
}

func TestTrackOperation_Error(t *testing.T) {
	p, spans, reader := newRecordingProvider(t)

	_, done := p.TrackOperation(context.Background(), "executor.Commit")
	done(acterr.New(acterr.KindExternal, "executor.Commit", "broadcast_failed", "rpc down"))

	ended := spans.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)

	sums := collectSums(t, reader)
	assert.Equal(t, int64(1), sums["actsafe.errors.total"])
}

func TestLedgerCounters(t *testing.T) {
	p, _, reader := newRecordingProvider(t)
	ctx := context.Background()

	p.RecordTransition(ctx, "sol_transfer", "planned")
	p.RecordTransition(ctx, "sol_transfer", "simulated")
	p.RecordPolicyViolation(ctx, "destination_not_allowlisted")
	p.RecordReplayDuplicate(ctx)
	p.RecordReplayDuplicate(ctx)

	sums := collectSums(t, reader)
	assert.Equal(t, int64(2), sums["actsafe.receipts.transitions.total"])
	assert.Equal(t, int64(1), sums["actsafe.policy.violations.total"])
	assert.Equal(t, int64(2), sums["actsafe.replay.duplicates.total"])
}

func TestActionAttrs(t *testing.T) {
	attrs := ActionAttrs("req-1", "spl_transfer")
	require.Len(t, attrs, 2)
	assert.Equal(t, attribute.Key("actsafe.request_id"), attrs[0].Key)
	assert.Equal(t, "spl_transfer", attrs[1].Value.AsString())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNewLogger_JSONAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "WARN")

	logger.Info("dropped")
	logger.Warn("kept", "request_id", "abc")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "kept", line["msg"])
	assert.Equal(t, "abc", line["request_id"])
}
