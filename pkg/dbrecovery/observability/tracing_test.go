package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// setupTracingTest creates a test tracer provider with an in-memory span recorder.
func setupTracingTest(t *testing.T) (*tracetest.InMemoryExporter, func()) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
	)

	originalProvider := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)

	// Update the package-level tracer
	tracer = otel.Tracer("dbrecovery")

	cleanup := func() {
		otel.SetTracerProvider(originalProvider)
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down tracer provider: %v", err)
		}
	}

	return exporter, cleanup
}

func TestStartRecoverySpan(t *testing.T) {
	exporter, cleanup := setupTracingTest(t)
	defer cleanup()

	_, span := StartRecoverySpan(context.Background(), "/data/app.db", "run-123")
	require.NotNil(t, span)
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "dbrecovery.recover", spans[0].Name)

	var dbPath, runID string
	for _, attr := range spans[0].Attributes {
		switch attr.Key {
		case "db.path":
			dbPath = attr.Value.AsString()
		case "run.id":
			runID = attr.Value.AsString()
		}
	}
	assert.Equal(t, "/data/app.db", dbPath)
	assert.Equal(t, "run-123", runID)
}

func TestStartStageSpan(t *testing.T) {
	exporter, cleanup := setupTracingTest(t)
	defer cleanup()

	t.Run("creates span with stage name suffix", func(t *testing.T) {
		_, span := StartStageSpan(context.Background(), "dump_and_restore")
		span.End()

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, "dbrecovery.stage.dump_and_restore", spans[0].Name)
	})

	t.Run("stage spans are children of the recovery span", func(t *testing.T) {
		exporter.Reset()

		ctx, runSpan := StartRecoverySpan(context.Background(), "/db", "run-1")
		_, stageSpan := StartStageSpan(ctx, "rebuild")
		stageSpan.End()
		runSpan.End()

		spans := exporter.GetSpans()
		require.Len(t, spans, 2)

		var stageData *tracetest.SpanStub
		for i := range spans {
			if spans[i].Name == "dbrecovery.stage.rebuild" {
				stageData = &spans[i]
			}
		}
		require.NotNil(t, stageData)
		assert.True(t, stageData.Parent.IsValid())
	})
}

func TestEndSpanWithError(t *testing.T) {
	exporter, cleanup := setupTracingTest(t)
	defer cleanup()

	t.Run("sets OK status for nil error", func(t *testing.T) {
		_, span := StartStageSpan(context.Background(), "finalize")
		EndSpanWithError(span, nil)

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, codes.Ok, spans[0].Status.Code)
	})

	t.Run("sets Error status and records error", func(t *testing.T) {
		exporter.Reset()

		_, span := StartStageSpan(context.Background(), "dump_and_restore")
		EndSpanWithError(span, errors.New("database or disk is full"))

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, codes.Error, spans[0].Status.Code)
		assert.Equal(t, "database or disk is full", spans[0].Status.Description)

		found := false
		for _, event := range spans[0].Events {
			if event.Name == "exception" {
				found = true
			}
		}
		assert.True(t, found, "Expected exception event")
	})

	t.Run("nil span does not panic", func(t *testing.T) {
		assert.NotPanics(t, func() {
			EndSpanWithError(nil, errors.New("test"))
		})
	})
}

func TestSpanManager_Interface(t *testing.T) {
	exporter, cleanup := setupTracingTest(t)
	defer cleanup()

	sm := NewSpanManager()

	ctx, span := sm.StartRecoverySpan(context.Background(), "/db", "run-if")
	sm.AddSpanEvent(ctx, "table_copied", attribute.String("table", "messages"))
	sm.EndSpanWithError(span, nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	require.NotEmpty(t, spans[0].Events)
	assert.Equal(t, "table_copied", spans[0].Events[0].Name)
}

func TestAddSpanEvent_NoSpan(t *testing.T) {
	assert.NotPanics(t, func() {
		AddSpanEvent(context.Background(), "test_event")
	})
}
