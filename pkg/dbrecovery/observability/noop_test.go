package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestNoopMetrics(t *testing.T) {
	m := NoopMetrics{}

	assert.NotPanics(t, func() {
		m.RecordStage(context.Background(), "rebuild", 100*time.Millisecond, nil)
		m.RecordStage(context.Background(), "rebuild", 0, errors.New("test"))
		m.RecordRecovery(context.Background(), "succeeded", time.Second)
		m.RecordTableCopy(context.Background(), "total_failure", 0, 0)
	})
}

func TestNoopSpanManager(t *testing.T) {
	sm := NoopSpanManager{}
	ctx := context.Background()

	t.Run("returns context unchanged", func(t *testing.T) {
		newCtx, span := sm.StartRecoverySpan(ctx, "/db", "run-1")
		assert.Equal(t, ctx, newCtx)
		assert.False(t, span.IsRecording())

		newCtx, span = sm.StartStageSpan(ctx, "rebuild")
		assert.Equal(t, ctx, newCtx)
		assert.False(t, span.IsRecording())
	})

	t.Run("does not panic", func(t *testing.T) {
		assert.NotPanics(t, func() {
			_, span := sm.StartStageSpan(ctx, "rebuild")
			sm.AddSpanEvent(ctx, "event", attribute.String("k", "v"))
			sm.EndSpanWithError(span, errors.New("test"))
		})
	})
}
