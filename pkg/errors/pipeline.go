package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents a classified linking error.
type ErrorCode string

const (
	CodeEngineUnavailable   ErrorCode = "engine_unavailable"
	CodeTimeout             ErrorCode = "timeout"
	CodeCancelled           ErrorCode = "cancelled"
	CodePermissionDenied    ErrorCode = "permission_denied"
	CodeDocumentNotFound    ErrorCode = "document_not_found"
	CodeWriteConflict       ErrorCode = "write_conflict"
	CodeMalformedAnnotation ErrorCode = "malformed_annotation"
	CodeInvalidInput        ErrorCode = "invalid_input"
	CodeShuttingDown        ErrorCode = "shutting_down"
	CodeProcessingError     ErrorCode = "processing_error"
)

// Stage names a step of the linking pipeline.
type Stage string

const (
	StageExtract  Stage = "extract"
	StageAnnotate Stage = "annotate"
	StageParse    Stage = "parse"
	StageLink     Stage = "link"
	StagePersist  Stage = "persist"
)

// ErrMalformedGraph marks engine output that could not be decoded.
var ErrMalformedGraph = errors.New("malformed annotation graph")

// StageError is a structured error for a failed pipeline stage.
type StageError struct {
	Code     ErrorCode
	Stage    Stage
	Document string
	Cause    error
}

func (e *StageError) Error() string {
	if e.Document != "" {
		return fmt.Sprintf("%s: %s %s: %v", e.Code, e.Stage, e.Document, e.Cause)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Stage, e.Cause)
}

func (e *StageError) Unwrap() error {
	return e.Cause
}

// NewStageError wraps err with the stage it failed in and its classified code.
func NewStageError(stage Stage, document string, err error) *StageError {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) && se.Stage == stage {
		return se
	}
	return &StageError{
		Code:     CodeOf(err),
		Stage:    stage,
		Document: document,
		Cause:    err,
	}
}

// CodeOf classifies err. Sentinel errors win over message patterns.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}

	var se *StageError
	if errors.As(err, &se) && se.Code != "" {
		return se.Code
	}

	switch {
	case errors.Is(err, ErrForbidden):
		return CodePermissionDenied
	case errors.Is(err, ErrNotFound):
		return CodeDocumentNotFound
	case errors.Is(err, ErrConflict):
		return CodeWriteConflict
	case errors.Is(err, ErrValidation):
		return CodeInvalidInput
	case errors.Is(err, ErrMalformedGraph):
		return CodeMalformedAnnotation
	case errors.Is(err, ErrShuttingDown), errors.Is(err, ErrDeactivated):
		return CodeShuttingDown
	case errors.Is(err, ErrUnavailable):
		return CodeEngineUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, context.Canceled):
		return CodeCancelled
	}

	lower := strings.ToLower(err.Error())
	if strings.Contains(lower, "connection refused") || strings.Contains(lower, "no such host") ||
		strings.Contains(lower, "service unavailable") {
		return CodeEngineUnavailable
	}
	return CodeProcessingError
}

// IsErrorRetryable returns true if the error is likely transient.
func IsErrorRetryable(err error) bool {
	return IsRetryable(CodeOf(err))
}
