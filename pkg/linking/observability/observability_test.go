package observability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pferrors "github.com/otherjamesbrown/penf-linker/pkg/errors"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/model"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/resolver"
)

var key = model.DocumentKey{Repository: "default", DocumentID: "doc-1"}

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordQueueEvent("linking:serialization", QueueEventSuperseded)
	m.RecordQueueEvent("linking:serialization", QueueEventSuperseded)
	m.RecordQueueDepth("linking:analysis", 7)
	m.RecordQueueWait("linking:analysis", 250*time.Millisecond)
	m.RecordTask("analysis", TaskStatusFailed, "engine_unavailable", time.Second)
	m.ObserveLink(resolver.OutcomeCreated)
	m.ObserveLink(resolver.OutcomeSkippedAmbiguous)
	m.ObserveEngineRequest("503", 40*time.Millisecond)
	m.SetProgressEntries("linking_queued", 3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.QueueEventsTotal.WithLabelValues("linking:serialization", QueueEventSuperseded)))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.QueueDepth.WithLabelValues("linking:analysis")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TasksTotal.WithLabelValues("analysis", TaskStatusFailed, "engine_unavailable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LinkOutcomesTotal.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EngineRequestsTotal.WithLabelValues("503")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ProgressEntries.WithLabelValues("linking_queued")))
}

func TestMetrics_RegisterTwicePanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	assert.Panics(t, func() { NewMetrics(reg) })
}

func TestNewLinkingCompletedEvent(t *testing.T) {
	event := NewLinkingCompletedEvent(key, "alice", 4, 2, 1, 1, 0, 1500*time.Millisecond)

	assert.NotEmpty(t, event.EventID)
	assert.Equal(t, "linking.completed", event.EventType)
	assert.Equal(t, "doc-1", event.DocumentID)
	assert.Equal(t, int64(1500), event.DurationMs)

	data, err := json.Marshal(event)
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "default", decoded["repository"])
	assert.Equal(t, "penf-linker", decoded["source"])
	assert.Equal(t, 2.0, decoded["linked"])
}

func TestNewLinkingFailedEvent(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      string
		retryable bool
	}{
		{"engine down", fmt.Errorf("annotate: %w", pferrors.ErrUnavailable), "engine_unavailable", true},
		{"forbidden", pferrors.ErrForbidden, "permission_denied", false},
		{"conflict", pferrors.ErrConflict, "write_conflict", false},
		{"unknown", errors.New("boom"), "processing_error", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := NewLinkingFailedEvent(key, pferrors.StageAnnotate, tt.err)
			assert.Equal(t, tt.code, event.ErrorCode)
			assert.Equal(t, tt.retryable, event.Retryable)
			assert.Equal(t, "annotate", event.Stage)
		})
	}
}

func TestTracer_Spans(t *testing.T) {
	tracer := NewTracer()
	ctx, span := tracer.StartTaskSpan(context.Background(), "analysis", "task-1", key)
	helper := NewSpanHelper(span)
	_, stage := tracer.StartStageSpan(ctx, pferrors.StageLink)
	NewSpanHelper(stage).End(pferrors.ErrConflict)
	helper.SetGroups(3)
	helper.SetLinkCounts(1, 1, 1, 0)
	helper.End(nil)

	// The global provider is a no-op, so there is no trace ID to read.
	assert.Empty(t, GetTraceID(ctx))
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.PublishCompleted(context.Background(), NewLinkingCompletedEvent(key, "system", 0, 0, 0, 0, 0, 0)))
	assert.NoError(t, p.PublishFailed(context.Background(), NewLinkingFailedEvent(key, pferrors.StageLink, errors.New("x"))))
}
