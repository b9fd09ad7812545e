// Package store is the transactional record store the linker reads documents
// from and writes entities and occurrence relations to.
//
// All access goes through a Session opened for a principal. A session is one
// transaction: nothing it writes is visible to other sessions until Commit,
// and Rollback (or a failed Commit) discards every write. Savepoint runs a
// function in a nested transaction so that a failure undoes only the writes
// made inside it.
package store

import (
	"context"
	"sort"
	"strings"

	"github.com/otherjamesbrown/penf-linker/pkg/linking/model"
)

// Principal identifies who a session acts for.
type Principal string

// SystemPrincipal holds every permission. Pipeline tasks run as it.
const SystemPrincipal Principal = "system"

// Permission is a right a principal holds on a record.
type Permission string

const (
	PermRead          Permission = "read"
	PermWrite         Permission = "write"
	PermAddOccurrence Permission = "add_occurrence"
)

// Implies reports whether holding p grants want. Write implies both read
// and add-occurrence.
func (p Permission) Implies(want Permission) bool {
	if p == want {
		return true
	}
	return p == PermWrite && (want == PermRead || want == PermAddOccurrence)
}

// DefaultContainerTitle is the title of the lazily created entity container.
const DefaultContainerTitle = "Entities"

// EntityFilter selects entities. Keywords match when the normalized keywords
// equal one of the entity's normalized names, or when every keyword token
// occurs in them. Results are ordered by popularity descending, then title.
type EntityFilter struct {
	Keywords string
	Type     string
	Offset   int
	Limit    int
}

// Store opens sessions.
type Store interface {
	OpenSession(ctx context.Context, principal Principal) (Session, error)
}

// Session is one transaction against the store. Getters return ErrNotFound
// for missing or deleted records. Save methods compare Version and return
// ErrConflict when the stored record changed since it was read.
type Session interface {
	Principal() Principal

	Exists(ctx context.Context, id string) (bool, error)
	HasPermission(ctx context.Context, id string, perm Permission) (bool, error)

	GetDocument(ctx context.Context, key model.DocumentKey) (*model.Document, error)

	GetEntity(ctx context.Context, id string) (*model.Entity, error)
	QueryEntities(ctx context.Context, filter EntityFilter) ([]*model.Entity, error)
	CreateEntity(ctx context.Context, e *model.Entity) error
	SaveEntity(ctx context.Context, e *model.Entity) error

	// EntityContainer returns the singleton container of automatically
	// created entities, creating it on first use. It ignores the session's
	// permissions.
	EntityContainer(ctx context.Context) (*model.EntityContainer, error)

	// QueryRelations returns the live relations from sourceID to targetID,
	// oldest first. An empty targetID matches every target.
	QueryRelations(ctx context.Context, sourceID, targetID string) ([]*model.OccurrenceRelation, error)
	CountRelations(ctx context.Context, targetID string) (int, error)
	CreateRelation(ctx context.Context, r *model.OccurrenceRelation) error
	SaveRelation(ctx context.Context, r *model.OccurrenceRelation) error
	DeleteRelation(ctx context.Context, id string) error

	Savepoint(ctx context.Context, fn func(Session) error) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// MatchesKeywords reports whether e matches the keyword part of a filter.
func MatchesKeywords(e *model.Entity, keywords string) bool {
	query := model.NormalizeName(keywords)
	if query == "" {
		return true
	}
	names := e.NormalizedNames
	if len(names) == 0 {
		names = []string{model.NormalizeName(e.Title)}
	}

	tokens := make(map[string]bool)
	for _, name := range names {
		if name == query {
			return true
		}
		for _, tok := range strings.Fields(name) {
			tokens[tok] = true
		}
	}
	for _, tok := range strings.Fields(query) {
		if !tokens[tok] {
			return false
		}
	}
	return true
}

// SortEntities orders entities by popularity descending, then title.
func SortEntities(entities []*model.Entity) {
	sort.SliceStable(entities, func(i, j int) bool {
		if entities[i].Popularity != entities[j].Popularity {
			return entities[i].Popularity > entities[j].Popularity
		}
		return entities[i].Title < entities[j].Title
	})
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func cloneEntity(e *model.Entity) *model.Entity {
	c := *e
	c.AltNames = append([]string(nil), e.AltNames...)
	c.NormalizedNames = append([]string(nil), e.NormalizedNames...)
	c.SameAsURIs = append([]string(nil), e.SameAsURIs...)
	c.SameAsLabels = append([]string(nil), e.SameAsLabels...)
	return &c
}

func cloneRelation(r *model.OccurrenceRelation) *model.OccurrenceRelation {
	c := *r
	c.Occurrences = append([]model.OccurrenceInfo(nil), r.Occurrences...)
	return &c
}

func cloneDocument(d *model.Document) *model.Document {
	c := *d
	c.RelatedTexts = append([]string(nil), d.RelatedTexts...)
	return &c
}
