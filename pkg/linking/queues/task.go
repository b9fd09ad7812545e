package queues

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/otherjamesbrown/penf-linker/pkg/linking/model"
)

// TaskKind identifies the pipeline stage a task belongs to.
type TaskKind string

const (
	KindAnalysis      TaskKind = "analysis"
	KindSerialization TaskKind = "serialization"
)

// Task is one unit of pipeline work for a document.
type Task struct {
	ID        string            `json:"id"`
	Kind      TaskKind          `json:"kind"`
	Key       model.DocumentKey `json:"key"`
	Principal string            `json:"principal"`
	// Groups is the analysis result carried to the serialization stage.
	Groups     []model.OccurrenceGroup `json:"groups,omitempty"`
	EnqueuedAt time.Time               `json:"enqueuedAt"`
}

// NewAnalysisTask creates a task that analyzes the document at key.
func NewAnalysisTask(key model.DocumentKey, principal string) *Task {
	return &Task{
		ID:        uuid.NewString(),
		Kind:      KindAnalysis,
		Key:       key,
		Principal: principal,
	}
}

// NewSerializationTask creates a task that links groups to the document at
// key.
func NewSerializationTask(key model.DocumentKey, principal string, groups []model.OccurrenceGroup) *Task {
	return &Task{
		ID:        uuid.NewString(),
		Kind:      KindSerialization,
		Key:       key,
		Principal: principal,
		Groups:    groups,
	}
}

// Validate checks the fields every queue relies on.
func (t *Task) Validate() error {
	switch {
	case t == nil:
		return fmt.Errorf("%w: nil task", ErrInvalidTask)
	case t.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidTask)
	case t.Key.DocumentID == "":
		return fmt.Errorf("%w: missing document id", ErrInvalidTask)
	case t.Kind != KindAnalysis && t.Kind != KindSerialization:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidTask, t.Kind)
	}
	return nil
}

func encodeTask(t *Task) ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task: %w", err)
	}
	return data, nil
}

func decodeTask(data []byte) (*Task, error) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	return &t, nil
}
