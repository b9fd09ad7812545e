package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, ""},
		{"forbidden", ErrForbidden, CodePermissionDenied},
		{"not found", fmt.Errorf("get document: %w", ErrNotFound), CodeDocumentNotFound},
		{"conflict", ErrConflict, CodeWriteConflict},
		{"malformed graph", fmt.Errorf("decode: %w", ErrMalformedGraph), CodeMalformedAnnotation},
		{"deactivated", ErrDeactivated, CodeShuttingDown},
		{"unavailable", ErrUnavailable, CodeEngineUnavailable},
		{"deadline", context.DeadlineExceeded, CodeTimeout},
		{"cancelled", context.Canceled, CodeCancelled},
		{"connection refused message", errors.New("dial tcp: connection refused"), CodeEngineUnavailable},
		{"anything else", errors.New("boom"), CodeProcessingError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewStageError(t *testing.T) {
	if NewStageError(StageAnnotate, "doc", nil) != nil {
		t.Fatal("expected nil for nil error")
	}

	cause := fmt.Errorf("engine status 502: %w", ErrUnavailable)
	se := NewStageError(StageAnnotate, "default/doc-1", cause)

	if se.Code != CodeEngineUnavailable {
		t.Errorf("Code = %q, want %q", se.Code, CodeEngineUnavailable)
	}
	if se.Stage != StageAnnotate {
		t.Errorf("Stage = %q, want %q", se.Stage, StageAnnotate)
	}
	if !errors.Is(se, ErrUnavailable) {
		t.Error("StageError should unwrap to its cause")
	}
	if got := se.Error(); got != "engine_unavailable: annotate default/doc-1: engine status 502: unavailable" {
		t.Errorf("Error() = %q", got)
	}
	if !IsErrorRetryable(se) {
		t.Error("engine failures should be retryable")
	}
}

func TestNewStageError_KeepsExistingStage(t *testing.T) {
	inner := NewStageError(StageLink, "doc", ErrConflict)
	outer := NewStageError(StageLink, "doc", fmt.Errorf("group Person/Ada: %w", inner))

	if outer != inner {
		t.Error("expected the existing stage error to be reused")
	}
	if CodeOf(outer) != CodeWriteConflict {
		t.Errorf("CodeOf() = %q", CodeOf(outer))
	}
}
