package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	pferrors "github.com/otherjamesbrown/penf-linker/pkg/errors"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/model"
)

// MemoryStore is an in-process Store. Sessions buffer their writes and apply
// them on Commit after checking that every record they wrote is still at the
// version they read.
type MemoryStore struct {
	mu        sync.RWMutex
	documents map[string]*model.Document
	entities  map[string]*model.Entity
	relations map[string]*model.OccurrenceRelation
	container *model.EntityContainer
	acl       map[string]map[Principal][]Permission

	clockMu sync.Mutex
	clock   func() time.Time
	last    time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock sets the time source for record timestamps.
func WithClock(clock func() time.Time) MemoryOption {
	return func(m *MemoryStore) {
		m.clock = clock
	}
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		documents: make(map[string]*model.Document),
		entities:  make(map[string]*model.Entity),
		relations: make(map[string]*model.OccurrenceRelation),
		acl:       make(map[string]map[Principal][]Permission),
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// PutDocument inserts or replaces a document.
func (m *MemoryStore) PutDocument(doc *model.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents[doc.ID] = cloneDocument(doc)
}

// Grant gives principal perms on the record with the given id.
func (m *MemoryStore) Grant(principal Principal, id string, perms ...Permission) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byPrincipal, ok := m.acl[id]
	if !ok {
		byPrincipal = make(map[Principal][]Permission)
		m.acl[id] = byPrincipal
	}
	byPrincipal[principal] = append(byPrincipal[principal], perms...)
}

// OpenSession starts a session for principal.
func (m *MemoryStore) OpenSession(_ context.Context, principal Principal) (Session, error) {
	return &memorySession{store: m, principal: principal, tx: newMemoryTx()}, nil
}

// now returns strictly increasing timestamps so that creation order is total.
func (m *MemoryStore) now() time.Time {
	m.clockMu.Lock()
	defer m.clockMu.Unlock()
	t := m.clock().UTC()
	if !t.After(m.last) {
		t = m.last.Add(time.Microsecond)
	}
	m.last = t
	return t
}

type memoryTx struct {
	entities      map[string]*model.Entity
	relations     map[string]*model.OccurrenceRelation // nil value: hard deleted
	baseEntities  map[string]int64                     // committed version at first write, 0 for new
	baseRelations map[string]int64
	container     *model.EntityContainer
}

func newMemoryTx() *memoryTx {
	return &memoryTx{
		entities:      make(map[string]*model.Entity),
		relations:     make(map[string]*model.OccurrenceRelation),
		baseEntities:  make(map[string]int64),
		baseRelations: make(map[string]int64),
	}
}

func (t *memoryTx) clone() *memoryTx {
	c := newMemoryTx()
	for id, e := range t.entities {
		c.entities[id] = cloneEntity(e)
	}
	for id, r := range t.relations {
		if r == nil {
			c.relations[id] = nil
			continue
		}
		c.relations[id] = cloneRelation(r)
	}
	for id, v := range t.baseEntities {
		c.baseEntities[id] = v
	}
	for id, v := range t.baseRelations {
		c.baseRelations[id] = v
	}
	c.container = t.container
	return c
}

type memorySession struct {
	store     *MemoryStore
	principal Principal
	tx        *memoryTx
	closed    bool
}

func (s *memorySession) Principal() Principal {
	return s.principal
}

func (s *memorySession) checkOpen() error {
	if s.closed {
		return fmt.Errorf("session closed")
	}
	return nil
}

func (s *memorySession) entity(id string) (*model.Entity, bool) {
	if e, ok := s.tx.entities[id]; ok {
		return e, true
	}
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	e, ok := s.store.entities[id]
	return e, ok
}

func (s *memorySession) relation(id string) (*model.OccurrenceRelation, bool) {
	if r, ok := s.tx.relations[id]; ok {
		return r, r != nil
	}
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	r, ok := s.store.relations[id]
	return r, ok
}

func (s *memorySession) Exists(_ context.Context, id string) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	if e, ok := s.entity(id); ok {
		return !e.Deleted, nil
	}
	if r, ok := s.relation(id); ok {
		return !r.Deleted, nil
	}
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	if d, ok := s.store.documents[id]; ok {
		return !d.Deleted, nil
	}
	return false, nil
}

func (s *memorySession) HasPermission(_ context.Context, id string, perm Permission) (bool, error) {
	if s.principal == SystemPrincipal {
		return true, nil
	}
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	for _, held := range s.store.acl[id][s.principal] {
		if held.Implies(perm) {
			return true, nil
		}
	}
	return false, nil
}

func (s *memorySession) GetDocument(ctx context.Context, key model.DocumentKey) (*model.Document, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	s.store.mu.RLock()
	doc, ok := s.store.documents[key.DocumentID]
	s.store.mu.RUnlock()
	if !ok || doc.Deleted || doc.Repository != key.Repository {
		return nil, fmt.Errorf("document %s: %w", key, pferrors.ErrNotFound)
	}
	allowed, err := s.HasPermission(ctx, doc.ID, PermRead)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, fmt.Errorf("reading document %s as %s: %w", key, s.principal, pferrors.ErrForbidden)
	}
	return cloneDocument(doc), nil
}

func (s *memorySession) GetEntity(_ context.Context, id string) (*model.Entity, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	e, ok := s.entity(id)
	if !ok || e.Deleted {
		return nil, fmt.Errorf("entity %s: %w", id, pferrors.ErrNotFound)
	}
	return cloneEntity(e), nil
}

func (s *memorySession) QueryEntities(_ context.Context, filter EntityFilter) ([]*model.Entity, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	visible := make(map[string]*model.Entity)
	s.store.mu.RLock()
	for id, e := range s.store.entities {
		visible[id] = e
	}
	s.store.mu.RUnlock()
	for id, e := range s.tx.entities {
		visible[id] = e
	}

	var out []*model.Entity
	for _, e := range visible {
		if e.Deleted {
			continue
		}
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		if !MatchesKeywords(e, filter.Keywords) {
			continue
		}
		out = append(out, cloneEntity(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	SortEntities(out)
	return paginate(out, filter.Offset, filter.Limit), nil
}

func (s *memorySession) CreateEntity(_ context.Context, e *model.Entity) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if _, exists := s.entity(e.ID); exists {
		return fmt.Errorf("entity %s: %w", e.ID, pferrors.ErrAlreadyExists)
	}
	now := s.store.now()
	e.Version = 1
	e.CreatedAt = now
	e.UpdatedAt = now
	e.Normalize()

	s.tx.entities[e.ID] = cloneEntity(e)
	if _, ok := s.tx.baseEntities[e.ID]; !ok {
		s.tx.baseEntities[e.ID] = 0
	}
	return nil
}

func (s *memorySession) SaveEntity(_ context.Context, e *model.Entity) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	current, ok := s.entity(e.ID)
	if !ok {
		return fmt.Errorf("entity %s: %w", e.ID, pferrors.ErrNotFound)
	}
	if current.Version != e.Version {
		return fmt.Errorf("entity %s at version %d, have %d: %w",
			e.ID, current.Version, e.Version, pferrors.ErrConflict)
	}
	if _, ok := s.tx.baseEntities[e.ID]; !ok {
		s.tx.baseEntities[e.ID] = current.Version
	}
	e.Version++
	e.UpdatedAt = s.store.now()
	e.Normalize()
	s.tx.entities[e.ID] = cloneEntity(e)
	return nil
}

func (s *memorySession) EntityContainer(_ context.Context) (*model.EntityContainer, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if s.tx.container != nil {
		c := *s.tx.container
		return &c, nil
	}
	s.store.mu.RLock()
	committed := s.store.container
	s.store.mu.RUnlock()
	if committed != nil {
		c := *committed
		return &c, nil
	}
	s.tx.container = &model.EntityContainer{ID: uuid.NewString(), Title: DefaultContainerTitle}
	c := *s.tx.container
	return &c, nil
}

func (s *memorySession) QueryRelations(_ context.Context, sourceID, targetID string) ([]*model.OccurrenceRelation, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.liveRelations(func(r *model.OccurrenceRelation) bool {
		return r.SourceID == sourceID && (targetID == "" || r.TargetID == targetID)
	}), nil
}

func (s *memorySession) CountRelations(_ context.Context, targetID string) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	return len(s.liveRelations(func(r *model.OccurrenceRelation) bool {
		return r.TargetID == targetID
	})), nil
}

func (s *memorySession) liveRelations(match func(*model.OccurrenceRelation) bool) []*model.OccurrenceRelation {
	visible := make(map[string]*model.OccurrenceRelation)
	s.store.mu.RLock()
	for id, r := range s.store.relations {
		visible[id] = r
	}
	s.store.mu.RUnlock()
	for id, r := range s.tx.relations {
		if r == nil {
			delete(visible, id)
			continue
		}
		visible[id] = r
	}

	var out []*model.OccurrenceRelation
	for _, r := range visible {
		if !r.Deleted && match(r) {
			out = append(out, cloneRelation(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *memorySession) CreateRelation(_ context.Context, r *model.OccurrenceRelation) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if r.SourceID == "" || r.TargetID == "" {
		return fmt.Errorf("relation needs source and target: %w", pferrors.ErrValidation)
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if _, exists := s.relation(r.ID); exists {
		return fmt.Errorf("relation %s: %w", r.ID, pferrors.ErrAlreadyExists)
	}
	r.Version = 1
	r.CreatedAt = s.store.now()
	s.tx.relations[r.ID] = cloneRelation(r)
	if _, ok := s.tx.baseRelations[r.ID]; !ok {
		s.tx.baseRelations[r.ID] = 0
	}
	return nil
}

func (s *memorySession) SaveRelation(_ context.Context, r *model.OccurrenceRelation) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	current, ok := s.relation(r.ID)
	if !ok {
		return fmt.Errorf("relation %s: %w", r.ID, pferrors.ErrNotFound)
	}
	if current.Version != r.Version {
		return fmt.Errorf("relation %s at version %d, have %d: %w",
			r.ID, current.Version, r.Version, pferrors.ErrConflict)
	}
	if _, ok := s.tx.baseRelations[r.ID]; !ok {
		s.tx.baseRelations[r.ID] = current.Version
	}
	r.Version++
	s.tx.relations[r.ID] = cloneRelation(r)
	return nil
}

func (s *memorySession) DeleteRelation(_ context.Context, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	current, ok := s.relation(id)
	if !ok {
		return fmt.Errorf("relation %s: %w", id, pferrors.ErrNotFound)
	}
	if _, ok := s.tx.baseRelations[id]; !ok {
		s.tx.baseRelations[id] = current.Version
	}
	s.tx.relations[id] = nil
	return nil
}

func (s *memorySession) Savepoint(_ context.Context, fn func(Session) error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	snapshot := s.tx.clone()
	if err := fn(s); err != nil {
		s.tx = snapshot
		return err
	}
	return nil
}

func (s *memorySession) Commit(_ context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.closed = true

	m := s.store
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, base := range s.tx.baseEntities {
		if err := checkBase("entity", id, base, versionOf(m.entities, id)); err != nil {
			return err
		}
	}
	for id, base := range s.tx.baseRelations {
		if err := checkBase("relation", id, base, versionOf(m.relations, id)); err != nil {
			return err
		}
	}
	if s.tx.container != nil && m.container != nil && m.container.ID != s.tx.container.ID {
		return fmt.Errorf("entity container created concurrently: %w", pferrors.ErrConflict)
	}

	if s.tx.container != nil && m.container == nil {
		c := *s.tx.container
		m.container = &c
	}
	for id, e := range s.tx.entities {
		m.entities[id] = e
	}
	for id, r := range s.tx.relations {
		if r == nil {
			delete(m.relations, id)
			continue
		}
		m.relations[id] = r
	}
	return nil
}

func (s *memorySession) Rollback(_ context.Context) error {
	s.closed = true
	s.tx = newMemoryTx()
	return nil
}

type versioned interface {
	*model.Entity | *model.OccurrenceRelation
}

func versionOf[T versioned](records map[string]T, id string) int64 {
	r, ok := records[id]
	if !ok {
		return 0
	}
	switch v := any(r).(type) {
	case *model.Entity:
		return v.Version
	case *model.OccurrenceRelation:
		return v.Version
	}
	return 0
}

func checkBase(kind, id string, base, committed int64) error {
	if base != committed {
		return fmt.Errorf("%s %s changed by another session (version %d, expected %d): %w",
			kind, id, committed, base, pferrors.ErrConflict)
	}
	return nil
}
