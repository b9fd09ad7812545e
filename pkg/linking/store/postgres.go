package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	pferrors "github.com/otherjamesbrown/penf-linker/pkg/errors"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/model"
	"github.com/otherjamesbrown/penf-linker/pkg/logging"
)

const entityColumns = `
	id, COALESCE(container_id, ''), title, type, alt_names, normalized_names,
	popularity, same_as_uris, same_as_labels, automatically_created, deleted,
	version, created_at, updated_at`

const relationColumns = `id, source_id, target_id, occurrences, deleted, version, created_at`

// PostgresStore is a Store backed by PostgreSQL. Each session is one
// database transaction; savepoints are nested transactions.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

// NewPostgresStore creates a store on pool.
func NewPostgresStore(pool *pgxpool.Pool, logger logging.Logger) *PostgresStore {
	return &PostgresStore{
		pool:   pool,
		logger: logger.With(logging.Component("postgres_store")),
	}
}

// OpenSession begins a transaction for principal.
func (p *PostgresStore) OpenSession(ctx context.Context, principal Principal) (Session, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", mapPgError(err))
	}
	return &pgSession{tx: tx, principal: principal, logger: p.logger}, nil
}

// PutDocument inserts or replaces a document. Documents are owned by the
// document repository; this is for imports and tests.
func (p *PostgresStore) PutDocument(ctx context.Context, doc *model.Document) error {
	format := doc.BodyFormat
	if format == "" {
		format = model.FormatText
	}
	related := doc.RelatedTexts
	if related == nil {
		related = []string{}
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO documents (id, repository, title, description, body, body_format, related_texts, deleted, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (id) DO UPDATE SET
			repository = EXCLUDED.repository,
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			body = EXCLUDED.body,
			body_format = EXCLUDED.body_format,
			related_texts = EXCLUDED.related_texts,
			deleted = EXCLUDED.deleted,
			updated_at = NOW()
	`, doc.ID, doc.Repository, doc.Title, doc.Description, doc.Body, format, related, doc.Deleted)
	if err != nil {
		return fmt.Errorf("failed to put document %s: %w", doc.ID, mapPgError(err))
	}
	return nil
}

// Grant gives principal perms on the record with the given id.
func (p *PostgresStore) Grant(ctx context.Context, principal Principal, id string, perms ...Permission) error {
	for _, perm := range perms {
		_, err := p.pool.Exec(ctx, `
			INSERT INTO acl (resource_id, principal, permission) VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING
		`, id, string(principal), string(perm))
		if err != nil {
			return fmt.Errorf("failed to grant %s on %s: %w", perm, id, mapPgError(err))
		}
	}
	return nil
}

type pgSession struct {
	tx        pgx.Tx
	principal Principal
	logger    logging.Logger
}

func (s *pgSession) Principal() Principal {
	return s.principal
}

func (s *pgSession) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM documents WHERE id = $1 AND NOT deleted)
			OR EXISTS (SELECT 1 FROM entities WHERE id = $1 AND NOT deleted)
			OR EXISTS (SELECT 1 FROM occurrence_relations WHERE id = $1 AND NOT deleted)
	`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check existence of %s: %w", id, mapPgError(err))
	}
	return exists, nil
}

func (s *pgSession) HasPermission(ctx context.Context, id string, perm Permission) (bool, error) {
	if s.principal == SystemPrincipal {
		return true, nil
	}
	granting := []string{string(perm)}
	if perm == PermRead || perm == PermAddOccurrence {
		granting = append(granting, string(PermWrite))
	}
	var allowed bool
	err := s.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM acl WHERE resource_id = $1 AND principal = $2 AND permission = ANY($3)
		)
	`, id, string(s.principal), granting).Scan(&allowed)
	if err != nil {
		return false, fmt.Errorf("failed to check permission on %s: %w", id, mapPgError(err))
	}
	return allowed, nil
}

func (s *pgSession) GetDocument(ctx context.Context, key model.DocumentKey) (*model.Document, error) {
	doc := &model.Document{}
	err := s.tx.QueryRow(ctx, `
		SELECT id, repository, title, description, body, body_format, related_texts, deleted
		FROM documents
		WHERE id = $1 AND repository = $2 AND NOT deleted
	`, key.DocumentID, key.Repository).Scan(
		&doc.ID, &doc.Repository, &doc.Title, &doc.Description,
		&doc.Body, &doc.BodyFormat, &doc.RelatedTexts, &doc.Deleted,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", key, pferrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s: %w", key, mapPgError(err))
	}

	allowed, err := s.HasPermission(ctx, doc.ID, PermRead)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, fmt.Errorf("reading document %s as %s: %w", key, s.principal, pferrors.ErrForbidden)
	}
	return doc, nil
}

func (s *pgSession) GetEntity(ctx context.Context, id string) (*model.Entity, error) {
	rows, err := s.tx.Query(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = $1 AND NOT deleted`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get entity %s: %w", id, mapPgError(err))
	}
	entities, err := scanEntities(rows)
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, fmt.Errorf("entity %s: %w", id, pferrors.ErrNotFound)
	}
	return entities[0], nil
}

func (s *pgSession) QueryEntities(ctx context.Context, filter EntityFilter) ([]*model.Entity, error) {
	keywords := model.NormalizeName(filter.Keywords)
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := s.tx.Query(ctx, `
		SELECT `+entityColumns+`
		FROM entities
		WHERE NOT deleted
		  AND ($1 = '' OR type = $1)
		  AND ($2 = '' OR $2 = ANY(normalized_names)
		       OR to_tsvector('simple', array_to_string(normalized_names, ' ')) @@ plainto_tsquery('simple', $2))
		ORDER BY popularity DESC, title ASC, id ASC
		OFFSET $3
		LIMIT NULLIF($4::int, 0)
	`, filter.Type, keywords, offset, filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", mapPgError(err))
	}
	return scanEntities(rows)
}

func (s *pgSession) CreateEntity(ctx context.Context, e *model.Entity) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.Normalize()
	e.Version = 1

	err := s.tx.QueryRow(ctx, `
		INSERT INTO entities (
			id, container_id, title, type, alt_names, normalized_names,
			popularity, same_as_uris, same_as_labels, automatically_created,
			deleted, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1, NOW(), NOW())
		RETURNING created_at, updated_at
	`,
		e.ID, nullIfEmpty(e.ContainerID), e.Title, e.Type,
		nonNil(e.AltNames), nonNil(e.NormalizedNames), e.Popularity,
		nonNil(e.SameAsURIs), nonNil(e.SameAsLabels), e.AutomaticallyCreated, e.Deleted,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create entity %q: %w", e.Title, mapPgError(err))
	}

	s.logger.Debug("Entity created", logging.F("id", e.ID), logging.F("title", e.Title))
	return nil
}

func (s *pgSession) SaveEntity(ctx context.Context, e *model.Entity) error {
	e.Normalize()

	err := s.tx.QueryRow(ctx, `
		UPDATE entities SET
			container_id = $3, title = $4, type = $5, alt_names = $6, normalized_names = $7,
			popularity = $8, same_as_uris = $9, same_as_labels = $10,
			automatically_created = $11, deleted = $12,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at
	`,
		e.ID, e.Version, nullIfEmpty(e.ContainerID), e.Title, e.Type,
		nonNil(e.AltNames), nonNil(e.NormalizedNames), e.Popularity,
		nonNil(e.SameAsURIs), nonNil(e.SameAsLabels), e.AutomaticallyCreated, e.Deleted,
	).Scan(&e.Version, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.missingOrConflict(ctx, "entities", "entity", e.ID, e.Version)
	}
	if err != nil {
		return fmt.Errorf("failed to save entity %s: %w", e.ID, mapPgError(err))
	}
	return nil
}

func (s *pgSession) EntityContainer(ctx context.Context) (*model.EntityContainer, error) {
	_, err := s.tx.Exec(ctx, `
		INSERT INTO entity_containers (id, title) VALUES ($1, $2)
		ON CONFLICT (singleton) DO NOTHING
	`, uuid.NewString(), DefaultContainerTitle)
	if err != nil {
		return nil, fmt.Errorf("failed to create entity container: %w", mapPgError(err))
	}

	c := &model.EntityContainer{}
	if err := s.tx.QueryRow(ctx, `SELECT id, title FROM entity_containers`).Scan(&c.ID, &c.Title); err != nil {
		return nil, fmt.Errorf("failed to get entity container: %w", mapPgError(err))
	}
	return c, nil
}

func (s *pgSession) QueryRelations(ctx context.Context, sourceID, targetID string) ([]*model.OccurrenceRelation, error) {
	rows, err := s.tx.Query(ctx, `
		SELECT `+relationColumns+`
		FROM occurrence_relations
		WHERE source_id = $1 AND ($2 = '' OR target_id = $2) AND NOT deleted
		ORDER BY created_at ASC, id ASC
	`, sourceID, targetID)
	if err != nil {
		return nil, fmt.Errorf("failed to query relations of %s: %w", sourceID, mapPgError(err))
	}
	return scanRelations(rows)
}

func (s *pgSession) CountRelations(ctx context.Context, targetID string) (int, error) {
	var n int
	err := s.tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM occurrence_relations WHERE target_id = $1 AND NOT deleted
	`, targetID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count relations to %s: %w", targetID, mapPgError(err))
	}
	return n, nil
}

func (s *pgSession) CreateRelation(ctx context.Context, r *model.OccurrenceRelation) error {
	if r.SourceID == "" || r.TargetID == "" {
		return fmt.Errorf("relation needs source and target: %w", pferrors.ErrValidation)
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	occurrences, err := json.Marshal(nonNilOccurrences(r.Occurrences))
	if err != nil {
		return fmt.Errorf("failed to encode occurrences: %w", err)
	}
	r.Version = 1

	err = s.tx.QueryRow(ctx, `
		INSERT INTO occurrence_relations (id, source_id, target_id, occurrences, deleted, version, created_at)
		VALUES ($1, $2, $3, $4, $5, 1, clock_timestamp())
		RETURNING created_at
	`, r.ID, r.SourceID, r.TargetID, occurrences, r.Deleted).Scan(&r.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create relation %s -> %s: %w", r.SourceID, r.TargetID, mapPgError(err))
	}
	return nil
}

func (s *pgSession) SaveRelation(ctx context.Context, r *model.OccurrenceRelation) error {
	occurrences, err := json.Marshal(nonNilOccurrences(r.Occurrences))
	if err != nil {
		return fmt.Errorf("failed to encode occurrences: %w", err)
	}

	err = s.tx.QueryRow(ctx, `
		UPDATE occurrence_relations SET
			occurrences = $3, deleted = $4, version = version + 1
		WHERE id = $1 AND version = $2
		RETURNING version
	`, r.ID, r.Version, occurrences, r.Deleted).Scan(&r.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.missingOrConflict(ctx, "occurrence_relations", "relation", r.ID, r.Version)
	}
	if err != nil {
		return fmt.Errorf("failed to save relation %s: %w", r.ID, mapPgError(err))
	}
	return nil
}

func (s *pgSession) DeleteRelation(ctx context.Context, id string) error {
	result, err := s.tx.Exec(ctx, `DELETE FROM occurrence_relations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete relation %s: %w", id, mapPgError(err))
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("relation %s: %w", id, pferrors.ErrNotFound)
	}
	return nil
}

func (s *pgSession) Savepoint(ctx context.Context, fn func(Session) error) error {
	sp, err := s.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to create savepoint: %w", mapPgError(err))
	}
	defer sp.Rollback(ctx) // nolint: errcheck

	if err := fn(&pgSession{tx: sp, principal: s.principal, logger: s.logger}); err != nil {
		return err
	}
	if err := sp.Commit(ctx); err != nil {
		return fmt.Errorf("failed to release savepoint: %w", mapPgError(err))
	}
	return nil
}

func (s *pgSession) Commit(ctx context.Context) error {
	if err := s.tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", mapPgError(err))
	}
	return nil
}

func (s *pgSession) Rollback(ctx context.Context) error {
	err := s.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("failed to roll back: %w", err)
	}
	return nil
}

// missingOrConflict explains why a versioned update matched no row.
func (s *pgSession) missingOrConflict(ctx context.Context, table, kind, id string, version int64) error {
	var current int64
	err := s.tx.QueryRow(ctx, `SELECT version FROM `+table+` WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, pferrors.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read %s version: %w", kind, mapPgError(err))
	}
	return fmt.Errorf("%s %s at version %d, have %d: %w", kind, id, current, version, pferrors.ErrConflict)
}

func scanEntities(rows pgx.Rows) ([]*model.Entity, error) {
	defer rows.Close()

	var entities []*model.Entity
	for rows.Next() {
		e := &model.Entity{}
		if err := rows.Scan(
			&e.ID, &e.ContainerID, &e.Title, &e.Type, &e.AltNames, &e.NormalizedNames,
			&e.Popularity, &e.SameAsURIs, &e.SameAsLabels, &e.AutomaticallyCreated, &e.Deleted,
			&e.Version, &e.CreatedAt, &e.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

func scanRelations(rows pgx.Rows) ([]*model.OccurrenceRelation, error) {
	defer rows.Close()

	var relations []*model.OccurrenceRelation
	for rows.Next() {
		r := &model.OccurrenceRelation{}
		var occurrences []byte
		if err := rows.Scan(&r.ID, &r.SourceID, &r.TargetID, &occurrences, &r.Deleted, &r.Version, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan relation: %w", err)
		}
		if err := json.Unmarshal(occurrences, &r.Occurrences); err != nil {
			return nil, fmt.Errorf("failed to decode occurrences of relation %s: %w", r.ID, err)
		}
		relations = append(relations, r)
	}
	return relations, rows.Err()
}

// mapPgError turns serialization failures and unique violations into domain
// errors.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "40001", "40P01":
		return fmt.Errorf("%s: %w", pgErr.Message, pferrors.ErrConflict)
	case "23505":
		return fmt.Errorf("%s: %w", pgErr.Message, pferrors.ErrAlreadyExists)
	}
	return err
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilOccurrences(o []model.OccurrenceInfo) []model.OccurrenceInfo {
	if o == nil {
		return []model.OccurrenceInfo{}
	}
	return o
}
