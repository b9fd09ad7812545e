//go:build integration

package store

import (
	"context"
	"log"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/penf-linker/internal/testdb"
	pferrors "github.com/otherjamesbrown/penf-linker/pkg/errors"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/model"
	"github.com/otherjamesbrown/penf-linker/pkg/logging"
)

var database *testdb.Database

func TestMain(m *testing.M) {
	var err error
	database, err = testdb.Start(context.Background())
	if err != nil {
		log.Fatalf("error starting postgres container: %v", err)
	}

	code := m.Run()

	if err := database.Stop(); err != nil {
		log.Printf("error tearing down postgres container: %v", err)
	}
	os.Exit(code)
}

func newPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	require.NoError(t, database.Reset(context.Background()))
	return NewPostgresStore(database.Pool, logging.NewNopLogger())
}

func TestPostgresStore_EntityLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newPostgresStore(t)

	sess := openSystem(t, s)
	container, err := sess.EntityContainer(ctx)
	require.NoError(t, err)

	e := &model.Entity{
		Title:       "John Lennon",
		Type:        model.TypePerson,
		ContainerID: container.ID,
		AltNames:    []string{"John"},
	}
	require.NoError(t, sess.CreateEntity(ctx, e))
	require.NoError(t, sess.Commit(ctx))

	sess = openSystem(t, s)
	got, err := sess.GetEntity(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"john lennon", "john"}, got.NormalizedNames)
	assert.Equal(t, container.ID, got.ContainerID)

	got.Popularity = 1
	require.NoError(t, sess.SaveEntity(ctx, got))
	assert.Equal(t, int64(2), got.Version)

	stale := *e
	err = sess.SaveEntity(ctx, &stale)
	assert.True(t, pferrors.IsConflict(err))
	require.NoError(t, sess.Rollback(ctx))
}

func TestPostgresStore_QueryEntities(t *testing.T) {
	ctx := context.Background()
	s := newPostgresStore(t)
	sess := openSystem(t, s)
	defer sess.Rollback(ctx) // nolint: errcheck

	for _, e := range []*model.Entity{
		{Title: "John Lennon", Type: model.TypePerson, Popularity: 5},
		{Title: "John Smith", Type: model.TypePerson, Popularity: 5},
		{Title: "Zoë Lennon", Type: model.TypePerson, Popularity: 1},
		{Title: "John Lewis", Type: model.TypeOrganization, Popularity: 9},
	} {
		require.NoError(t, sess.CreateEntity(ctx, e))
	}

	got, err := sess.QueryEntities(ctx, EntityFilter{Keywords: "John", Type: model.TypePerson, Limit: 3})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "John Lennon", got[0].Title)
	assert.Equal(t, "John Smith", got[1].Title)

	got, err = sess.QueryEntities(ctx, EntityFilter{Keywords: "zoe lennon"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Zoë Lennon", got[0].Title)
}

func TestPostgresStore_RelationsAndSavepoint(t *testing.T) {
	ctx := context.Background()
	s := newPostgresStore(t)
	sess := openSystem(t, s)

	e := &model.Entity{Title: "Liverpool", Type: model.TypePlace}
	require.NoError(t, sess.CreateEntity(ctx, e))

	occ, err := model.NewOccurrence("born in Liverpool", 8, 17)
	require.NoError(t, err)
	r := &model.OccurrenceRelation{SourceID: "doc-1", TargetID: e.ID, Occurrences: []model.OccurrenceInfo{occ}}
	require.NoError(t, sess.CreateRelation(ctx, r))

	err = sess.Savepoint(ctx, func(tx Session) error {
		if err := tx.DeleteRelation(ctx, r.ID); err != nil {
			return err
		}
		return pferrors.ErrConflict
	})
	require.True(t, pferrors.IsConflict(err))
	require.NoError(t, sess.Commit(ctx))

	sess = openSystem(t, s)
	defer sess.Rollback(ctx) // nolint: errcheck
	relations, err := sess.QueryRelations(ctx, "doc-1", e.ID)
	require.NoError(t, err)
	require.Len(t, relations, 1)
	assert.Equal(t, []model.OccurrenceInfo{occ}, relations[0].Occurrences)

	n, err := sess.CountRelations(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPostgresStore_DocumentsAndPermissions(t *testing.T) {
	ctx := context.Background()
	s := newPostgresStore(t)

	require.NoError(t, s.PutDocument(ctx, &model.Document{
		ID: "doc-1", Repository: "default", Title: "Beatles", Body: "John Lennon",
	}))
	require.NoError(t, s.Grant(ctx, "alice", "doc-1", PermWrite))

	alice, err := s.OpenSession(ctx, "alice")
	require.NoError(t, err)
	defer alice.Rollback(ctx) // nolint: errcheck

	doc, err := alice.GetDocument(ctx, model.DocumentKey{Repository: "default", DocumentID: "doc-1"})
	require.NoError(t, err)
	assert.Equal(t, "Beatles", doc.Title)
	assert.Equal(t, model.FormatText, doc.BodyFormat)

	ok, err := alice.HasPermission(ctx, "doc-1", PermAddOccurrence)
	require.NoError(t, err)
	assert.True(t, ok)

	bob, err := s.OpenSession(ctx, "bob")
	require.NoError(t, err)
	defer bob.Rollback(ctx) // nolint: errcheck
	_, err = bob.GetDocument(ctx, model.DocumentKey{Repository: "default", DocumentID: "doc-1"})
	assert.True(t, pferrors.IsForbidden(err))
}
