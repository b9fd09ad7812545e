package errors

import (
	"errors"
	"fmt"
	"testing"
)

// Each predicate must match its own sentinel through any wrapping and
// nothing else.
func TestPredicates(t *testing.T) {
	predicates := map[string]struct {
		is      func(error) bool
		matches []error
	}{
		"IsNotFound":      {IsNotFound, []error{ErrNotFound}},
		"IsConflict":      {IsConflict, []error{ErrConflict}},
		"IsValidation":    {IsValidation, []error{ErrValidation}},
		"IsForbidden":     {IsForbidden, []error{ErrForbidden}},
		"IsAlreadyExists": {IsAlreadyExists, []error{ErrAlreadyExists}},
		"IsUnavailable":   {IsUnavailable, []error{ErrUnavailable}},
		"IsShuttingDown":  {IsShuttingDown, []error{ErrShuttingDown, ErrDeactivated}},
	}
	all := []error{
		ErrNotFound, ErrConflict, ErrValidation, ErrForbidden,
		ErrAlreadyExists, ErrUnavailable, ErrShuttingDown, ErrDeactivated,
	}

	for name, p := range predicates {
		t.Run(name, func(t *testing.T) {
			if p.is(nil) {
				t.Error("nil must not match")
			}
			if p.is(errors.New("unrelated")) {
				t.Error("unrelated error must not match")
			}
			for _, sentinel := range all {
				want := false
				for _, m := range p.matches {
					want = want || m == sentinel
				}
				wrapped := fmt.Errorf("resolver: %w", fmt.Errorf("store: %w", sentinel))
				if got := p.is(sentinel); got != want {
					t.Errorf("%s(%v) = %v, want %v", name, sentinel, got, want)
				}
				if got := p.is(wrapped); got != want {
					t.Errorf("%s(wrapped %v) = %v, want %v", name, sentinel, got, want)
				}
			}
		})
	}
}

func TestSentinelsAreDistinct(t *testing.T) {
	seen := map[string]bool{}
	for _, err := range []error{
		ErrNotFound, ErrConflict, ErrValidation, ErrForbidden,
		ErrAlreadyExists, ErrUnavailable, ErrShuttingDown, ErrDeactivated,
	} {
		if seen[err.Error()] {
			t.Errorf("duplicate sentinel message %q", err.Error())
		}
		seen[err.Error()] = true
	}
}
