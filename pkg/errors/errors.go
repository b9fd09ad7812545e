// Package errors holds the sentinel errors shared by the store, the resolver,
// the pipeline and the API. Wrap them with %w and test with the IsX helpers:
//
//	import pferrors "github.com/otherjamesbrown/penf-linker/pkg/errors"
//
//	return fmt.Errorf("document %s: %w", key, pferrors.ErrNotFound)
package errors

import "errors"

var (
	// ErrNotFound indicates the requested record was not found or is deleted.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a concurrent write changed the record first.
	ErrConflict = errors.New("write conflict")

	// ErrValidation indicates invalid input or validation failure.
	ErrValidation = errors.New("validation error")

	// ErrForbidden indicates the principal lacks the required permission.
	ErrForbidden = errors.New("permission denied")

	// ErrAlreadyExists indicates the record already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrUnavailable indicates a transient failure of an external collaborator,
	// such as the annotation engine.
	ErrUnavailable = errors.New("unavailable")

	// ErrShuttingDown indicates the pipeline no longer accepts tasks.
	ErrShuttingDown = errors.New("shutting down")

	// ErrDeactivated indicates the linking service was deactivated.
	ErrDeactivated = errors.New("service deactivated")
)

// IsNotFound reports whether any error in err's chain is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether any error in err's chain is ErrConflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsValidation reports whether any error in err's chain is ErrValidation.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsForbidden reports whether any error in err's chain is ErrForbidden.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}

// IsAlreadyExists reports whether any error in err's chain is ErrAlreadyExists.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsUnavailable reports whether any error in err's chain is ErrUnavailable.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// IsShuttingDown reports whether err means the pipeline refused new work,
// either because of shutdown or deactivation.
func IsShuttingDown(err error) bool {
	return errors.Is(err, ErrShuttingDown) || errors.Is(err, ErrDeactivated)
}
