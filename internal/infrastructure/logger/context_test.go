package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func fieldMap(entry observer.LoggedEntry) map[string]string {
	out := make(map[string]string, len(entry.Context))
	for _, f := range entry.Context {
		out[f.Key] = f.String
	}
	return out
}

func spanContext(t *testing.T) context.Context {
	t.Helper()
	traceID, err := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("0102030405060708")
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	return trace.ContextWithSpanContext(context.Background(), sc)
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	log := zap.NewExample()
	assert.Same(t, log, FromContext(WithContext(context.Background(), log)))

	wrong := context.WithValue(context.Background(), LoggerKey, "not a logger")
	assert.NotNil(t, FromContext(wrong))
}

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetRequestID(ctx))
	assert.Empty(t, GetOperationID(ctx))
	assert.Empty(t, GetActor(ctx))

	ctx, enriched := WithRequestID(ctx, zap.NewNop(), "req-1")
	ctx = WithOperationID(ctx, "op-1")
	ctx = WithActor(ctx, "picker-7")

	assert.NotNil(t, enriched)
	assert.Same(t, enriched, FromContext(ctx))
	assert.Equal(t, "req-1", GetRequestID(ctx))
	assert.Equal(t, "op-1", GetOperationID(ctx))
	assert.Equal(t, "picker-7", GetActor(ctx))
}

func TestTraceCorrelation(t *testing.T) {
	assert.Empty(t, GetTraceID(context.Background()))

	ctx := spanContext(t)
	assert.Equal(t, "0102030405060708090a0b0c0d0e0f10", GetTraceID(ctx))

	core, recorded := observer.New(zapcore.InfoLevel)
	log := zap.New(core)

	WithTraceContext(context.Background(), log).Info("no span")
	WithTraceContext(ctx, log).Info("with span")

	entries := recorded.All()
	require.Len(t, entries, 2)
	assert.NotContains(t, fieldMap(entries[0]), "trace_id")
	assert.Equal(t, "0102030405060708", fieldMap(entries[1])["span_id"])
}

func TestContextLogger_EnrichesEveryEntry(t *testing.T) {
	core, recorded := observer.New(zapcore.DebugLevel)

	ctx := WithOperationID(spanContext(t), "op-42")
	ctx = WithActor(ctx, "svc-orders")
	ctx, _ = WithRequestID(ctx, zap.New(core), "req-9")

	cl := L(ctx).With(zap.String("item_id", "SKU-1"))
	cl.Debug("debug")
	cl.Info("info")
	cl.Warn("warn")
	cl.Error("error")

	entries := recorded.All()
	require.Len(t, entries, 4)
	for _, e := range entries {
		fields := fieldMap(e)
		assert.Equal(t, "op-42", fields["operation_id"])
		assert.Equal(t, "svc-orders", fields["actor"])
		assert.Equal(t, "req-9", fields["request_id"])
		assert.Equal(t, "SKU-1", fields["item_id"])
		assert.Equal(t, "0102030405060708090a0b0c0d0e0f10", fields["trace_id"])
	}
}

func TestContextLogger_NilLogger(t *testing.T) {
	cl := WithLogger(context.Background(), nil)
	assert.NotPanics(t, func() {
		cl.Info("dropped")
		cl.With(zap.Int("n", 1)).Warn("dropped")
	})
	assert.NotNil(t, cl.Zap())
}
