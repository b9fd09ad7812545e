// Package progress tracks where each document is in the linking pipeline.
package progress

import (
	"fmt"
	"sync"
	"time"

	"github.com/otherjamesbrown/penf-linker/pkg/linking/model"
)

// DefaultTTL bounds how long an entry survives without an update. It only
// matters when a worker dies without clearing its entry.
const DefaultTTL = 30 * time.Minute

// State is a document's position in the pipeline.
type State int

const (
	StateNone State = iota
	StateAnalysisQueued
	StateAnalysisPending
	StateLinkingQueued
	StateLinkingPending
)

var stateNames = map[State]string{
	StateNone:            "none",
	StateAnalysisQueued:  "analysis_queued",
	StateAnalysisPending: "analysis_pending",
	StateLinkingQueued:   "linking_queued",
	StateLinkingPending:  "linking_pending",
}

var stateMessages = map[State]string{
	StateAnalysisQueued:  "Waiting for entity extraction",
	StateAnalysisPending: "Extracting entities",
	StateLinkingQueued:   "Waiting for entity linking",
	StateLinkingPending:  "Linking entities",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Message is the user-facing description of the state.
func (s State) Message() string {
	return stateMessages[s]
}

// Queued reports whether the document waits in a queue in this state.
func (s State) Queued() bool {
	return s == StateAnalysisQueued || s == StateLinkingQueued
}

// Status is what callers see for a document that is being processed.
type Status struct {
	State           State  `json:"-"`
	StateName       string `json:"state"`
	Message         string `json:"message"`
	PositionInQueue int    `json:"positionInQueue"`
	QueueSize       int    `json:"queueSize"`
}

// NewStatus builds the status for state. position is 1-based and 0 when the
// document is not waiting in a queue.
func NewStatus(state State, position, queueSize int) Status {
	return Status{
		State:           state,
		StateName:       state.String(),
		Message:         state.Message(),
		PositionInQueue: position,
		QueueSize:       queueSize,
	}
}

type entry struct {
	state     State
	updatedAt time.Time
}

// Tracker is a concurrent map from document key to pipeline state. Entries
// are set on enqueue, advanced by workers and removed on completion.
type Tracker struct {
	mu      sync.RWMutex
	entries map[model.DocumentKey]entry
	ttl     time.Duration
	clock   func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithTTL sets the soft expiry of entries. Zero disables expiry.
func WithTTL(ttl time.Duration) Option {
	return func(t *Tracker) {
		t.ttl = ttl
	}
}

// WithClock sets the time source.
func WithClock(clock func() time.Time) Option {
	return func(t *Tracker) {
		t.clock = clock
	}
}

// NewTracker creates an empty tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		entries: make(map[model.DocumentKey]entry),
		ttl:     DefaultTTL,
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Set records state for key. StateNone clears the entry.
func (t *Tracker) Set(key model.DocumentKey, state State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if state == StateNone {
		delete(t.entries, key)
		return
	}
	t.entries[key] = entry{state: state, updatedAt: t.clock()}
}

// Get returns the state of key. Expired entries read as absent.
func (t *Tracker) Get(key model.DocumentKey) (State, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[key]
	if !ok || t.expired(e) {
		return StateNone, false
	}
	return e.state, true
}

// Clear removes the entry for key.
func (t *Tracker) Clear(key model.DocumentKey) {
	t.Set(key, StateNone)
}

// Sweep drops expired entries and returns how many were removed.
func (t *Tracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for key, e := range t.entries {
		if t.expired(e) {
			delete(t.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked documents, expired ones included until
// the next Sweep.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Counts returns how many live entries are in each state.
func (t *Tracker) Counts() map[State]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	counts := make(map[State]int)
	for _, e := range t.entries {
		if !t.expired(e) {
			counts[e.state]++
		}
	}
	return counts
}

func (t *Tracker) expired(e entry) bool {
	return t.ttl > 0 && t.clock().Sub(e.updatedAt) > t.ttl
}
