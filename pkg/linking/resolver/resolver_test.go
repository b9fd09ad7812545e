package resolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pferrors "github.com/otherjamesbrown/penf-linker/pkg/errors"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/model"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/store"
)

type recordingObserver struct {
	outcomes []Outcome
}

func (o *recordingObserver) ObserveLink(outcome Outcome) {
	o.outcomes = append(o.outcomes, outcome)
}

func occ(t *testing.T, mention, context string) model.OccurrenceInfo {
	t.Helper()
	o, err := model.LocateOccurrence(mention, context)
	require.NoError(t, err)
	return o
}

func seedEntity(t *testing.T, m *store.MemoryStore, e *model.Entity) *model.Entity {
	t.Helper()
	ctx := context.Background()
	sess, err := m.OpenSession(ctx, store.SystemPrincipal)
	require.NoError(t, err)
	require.NoError(t, sess.CreateEntity(ctx, e))
	require.NoError(t, sess.Commit(ctx))
	return e
}

func openSystem(t *testing.T, m *store.MemoryStore) store.Session {
	t.Helper()
	sess, err := m.OpenSession(context.Background(), store.SystemPrincipal)
	require.NoError(t, err)
	return sess
}

func TestResolver_LinkMergesMentionsIntoOneRelation(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemoryStore()
	lennon := seedEntity(t, m, &model.Entity{Title: "John Lennon", Type: model.TypePerson, Popularity: 4})

	group := model.OccurrenceGroup{
		Name: "John Lennon",
		Type: model.TypePerson,
		Occurrences: []model.OccurrenceInfo{
			occ(t, "John Lennon", "John Lennon was born in Liverpool."),
			occ(t, "John", "John wrote most of the lyrics."),
		},
	}

	obs := &recordingObserver{}
	r := New(WithObserver(obs))
	sess := openSystem(t, m)
	summary, err := r.Link(ctx, sess, "doc-1", []model.OccurrenceGroup{group}, DefaultPolicy())
	require.NoError(t, err)
	require.NoError(t, sess.Commit(ctx))

	assert.Equal(t, 1, summary.Linked)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, OutcomeLinked, summary.Results[0].Outcome)
	assert.Equal(t, []Outcome{OutcomeLinked}, obs.outcomes)

	reader := openSystem(t, m)
	relations, err := reader.QueryRelations(ctx, "doc-1", lennon.ID)
	require.NoError(t, err)
	require.Len(t, relations, 1)
	assert.Len(t, relations[0].Occurrences, 2)

	got, err := reader.GetEntity(ctx, lennon.ID)
	require.NoError(t, err)
	assert.Contains(t, got.AltNames, "John")
	assert.NotContains(t, got.AltNames, "John Lennon")
	assert.Equal(t, float64(5), got.Popularity)
}

func TestResolver_LinkTwiceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemoryStore()
	paris := seedEntity(t, m, &model.Entity{Title: "Paris", Type: model.TypePlace})

	group := model.OccurrenceGroup{
		Name:        "Paris",
		Type:        model.TypePlace,
		Occurrences: []model.OccurrenceInfo{occ(t, "Paris", "We flew to Paris in May.")},
	}

	r := New()
	for i := 0; i < 2; i++ {
		sess := openSystem(t, m)
		_, err := r.Link(ctx, sess, "doc-1", []model.OccurrenceGroup{group}, DefaultPolicy())
		require.NoError(t, err)
		require.NoError(t, sess.Commit(ctx))
	}

	reader := openSystem(t, m)
	relations, err := reader.QueryRelations(ctx, "doc-1", paris.ID)
	require.NoError(t, err)
	require.Len(t, relations, 1)
	assert.Len(t, relations[0].Occurrences, 1)

	got, err := reader.GetEntity(ctx, paris.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(1), got.Popularity)
}

func TestResolver_LinkGroupOutcomes(t *testing.T) {
	tests := []struct {
		name     string
		seed     []*model.Entity
		group    model.OccurrenceGroup
		policy   func(p *Policy)
		expected Outcome
	}{
		{
			name:     "short person name is skipped",
			group:    model.OccurrenceGroup{Name: "Ringo", Type: model.TypePerson},
			expected: OutcomeSkippedShortName,
		},
		{
			name:     "short person name is linked when allowed",
			group:    model.OccurrenceGroup{Name: "Ringo", Type: model.TypePerson},
			policy:   func(p *Policy) { p.LinkShortPersonNames = true },
			expected: OutcomeCreated,
		},
		{
			name:     "unknown name creates an entity",
			group:    model.OccurrenceGroup{Name: "Abbey Road", Type: model.TypePlace},
			expected: OutcomeCreated,
		},
		{
			name:     "unknown name is skipped when creation is disabled",
			group:    model.OccurrenceGroup{Name: "Abbey Road", Type: model.TypePlace},
			policy:   func(p *Policy) { p.LinkToUnrecognizedEntities = false },
			expected: OutcomeSkippedUnrecognized,
		},
		{
			name: "ambiguous name is skipped",
			seed: []*model.Entity{
				{Title: "Springfield", Type: model.TypePlace},
				{Title: "Springfield", Type: model.TypePlace, AltNames: []string{"Springfield, Illinois"}},
			},
			group:    model.OccurrenceGroup{Name: "Springfield", Type: model.TypePlace},
			expected: OutcomeSkippedAmbiguous,
		},
		{
			name: "ambiguous name is linked when allowed",
			seed: []*model.Entity{
				{Title: "Springfield", Type: model.TypePlace},
				{Title: "Springfield", Type: model.TypePlace},
			},
			group:    model.OccurrenceGroup{Name: "Springfield", Type: model.TypePlace},
			policy:   func(p *Policy) { p.LinkToAmbiguousEntities = true },
			expected: OutcomeLinked,
		},
		{
			name:     "type must match",
			seed:     []*model.Entity{{Title: "Liverpool", Type: model.TypeOrganization}},
			group:    model.OccurrenceGroup{Name: "Liverpool", Type: model.TypePlace},
			expected: OutcomeCreated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			m := store.NewMemoryStore()
			for _, e := range tt.seed {
				seedEntity(t, m, e)
			}
			policy := DefaultPolicy()
			if tt.policy != nil {
				tt.policy(&policy)
			}
			tt.group.Occurrences = []model.OccurrenceInfo{occ(t, tt.group.Name, tt.group.Name+" appears here.")}

			sess := openSystem(t, m)
			res, err := New().LinkGroup(ctx, sess, "doc-1", tt.group, policy)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, res.Outcome)
			if tt.expected.Skipped() {
				assert.Nil(t, res.Entity)
				assert.Nil(t, res.Relation)
			} else {
				require.NotNil(t, res.Entity)
				require.NotNil(t, res.Relation)
				assert.Equal(t, res.Entity.ID, res.Relation.TargetID)
			}
		})
	}
}

func TestResolver_CreatedEntityUsesContainerAndSameAs(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemoryStore()

	group := model.OccurrenceGroup{
		Name:        "Abbey Road",
		Type:        model.TypePlace,
		Occurrences: []model.OccurrenceInfo{occ(t, "Abbey Road", "They recorded at Abbey Road.")},
		EntitySuggestions: []model.EntitySuggestion{
			{Label: "Abbey Road (album)", RemoteURIs: []string{"http://dbpedia.org/resource/Abbey_Road_(album)"}},
			{Label: "Abbey Road", RemoteURIs: []string{"http://dbpedia.org/resource/Abbey_Road"}},
		},
	}

	sess := openSystem(t, m)
	res, err := New().LinkGroup(ctx, sess, "doc-1", group, DefaultPolicy())
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, res.Outcome)

	container, err := sess.EntityContainer(ctx)
	require.NoError(t, err)
	assert.Equal(t, container.ID, res.Entity.ContainerID)
	assert.True(t, res.Entity.AutomaticallyCreated)
	assert.Equal(t, float64(1), res.Entity.Popularity)
	assert.Equal(t, []string{"http://dbpedia.org/resource/Abbey_Road"}, res.Entity.SameAsURIs)
	assert.Equal(t, []string{"Abbey Road"}, res.Entity.SameAsLabels)
}

func TestResolver_AddOccurrencesRequiresPermission(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemoryStore()
	paris := seedEntity(t, m, &model.Entity{Title: "Paris", Type: model.TypePlace})
	m.Grant("alice", "doc-1", store.PermRead)
	m.Grant("bob", "doc-1", store.PermWrite)

	r := New()
	o := occ(t, "Paris", "Paris in spring.")

	alice, err := m.OpenSession(ctx, "alice")
	require.NoError(t, err)
	_, err = r.AddOccurrences(ctx, alice, "doc-1", paris.ID, []model.OccurrenceInfo{o})
	assert.True(t, pferrors.IsForbidden(err))

	bob, err := m.OpenSession(ctx, "bob")
	require.NoError(t, err)
	rel, err := r.AddOccurrences(ctx, bob, "doc-1", paris.ID, []model.OccurrenceInfo{o})
	require.NoError(t, err)
	assert.False(t, rel.IsNew())
}

func TestResolver_AddOccurrenceValidatesOffsets(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemoryStore()
	paris := seedEntity(t, m, &model.Entity{Title: "Paris", Type: model.TypePlace})
	sess := openSystem(t, m)
	r := New()

	_, err := r.AddOccurrence(ctx, sess, "doc-1", paris.ID, "Paris in spring.", 0, 40)
	assert.True(t, pferrors.IsValidation(err))

	rel, err := r.AddOccurrence(ctx, sess, "doc-1", paris.ID, "Paris in spring.", 0, 5)
	require.NoError(t, err)
	require.Len(t, rel.Occurrences, 1)
	assert.Equal(t, "Paris", rel.Occurrences[0].Mention)
}

func TestResolver_AddOccurrencesUnknownEntity(t *testing.T) {
	ctx := context.Background()
	sess := openSystem(t, store.NewMemoryStore())
	_, err := New().AddOccurrences(ctx, sess, "doc-1", "missing",
		[]model.OccurrenceInfo{occ(t, "Paris", "Paris in spring.")})
	assert.True(t, pferrors.IsNotFound(err))
}

func TestResolver_RemoveOccurrences(t *testing.T) {
	tests := []struct {
		name      string
		force     bool
		automatic bool
	}{
		{name: "soft delete keeps a curated entity", force: false, automatic: false},
		{name: "hard delete keeps a curated entity", force: true, automatic: false},
		{name: "soft delete drops an orphaned automatic entity", force: false, automatic: true},
		{name: "hard delete drops an orphaned automatic entity", force: true, automatic: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			m := store.NewMemoryStore()
			e := seedEntity(t, m, &model.Entity{Title: "Paris", Type: model.TypePlace, AutomaticallyCreated: tt.automatic})
			r := New()

			sess := openSystem(t, m)
			for _, doc := range []string{"doc-1", "doc-2"} {
				_, err := r.AddOccurrences(ctx, sess, doc, e.ID, []model.OccurrenceInfo{occ(t, "Paris", "Paris in spring.")})
				require.NoError(t, err)
			}
			require.NoError(t, sess.Commit(ctx))

			sess = openSystem(t, m)
			require.NoError(t, r.RemoveOccurrences(ctx, sess, "doc-1", e.ID, tt.force))
			require.NoError(t, sess.Commit(ctx))

			reader := openSystem(t, m)
			got, err := reader.GetEntity(ctx, e.ID)
			require.NoError(t, err)
			assert.Equal(t, float64(1), got.Popularity)
			remaining, err := reader.QueryRelations(ctx, "doc-1", e.ID)
			require.NoError(t, err)
			assert.Empty(t, remaining)

			sess = openSystem(t, m)
			require.NoError(t, r.RemoveOccurrences(ctx, sess, "doc-2", e.ID, tt.force))
			require.NoError(t, sess.Commit(ctx))

			_, err = openSystem(t, m).GetEntity(ctx, e.ID)
			if tt.automatic {
				assert.True(t, pferrors.IsNotFound(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestResolver_RemoveOccurrencesWithoutRelationIsNoop(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemoryStore()
	e := seedEntity(t, m, &model.Entity{Title: "Paris", Type: model.TypePlace, Popularity: 3})

	sess := openSystem(t, m)
	require.NoError(t, New().RemoveOccurrences(ctx, sess, "doc-1", e.ID, false))
	require.NoError(t, sess.Commit(ctx))

	got, err := openSystem(t, m).GetEntity(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(3), got.Popularity)
}

func TestResolver_SuggestLocalEntity(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemoryStore()
	seedEntity(t, m, &model.Entity{Title: "Paris Hilton", Type: model.TypePerson, Popularity: 9})
	seedEntity(t, m, &model.Entity{Title: "Paris", Type: model.TypePlace, Popularity: 1})
	seedEntity(t, m, &model.Entity{Title: "South Paris", Type: model.TypePlace, Popularity: 2})

	sess := openSystem(t, m)
	r := New()

	all, err := r.SuggestLocalEntity(ctx, sess, "Paris", "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Paris", all[0].Label)
	assert.Equal(t, 1.0, all[0].Score)
	assert.True(t, all[0].IsLocal())

	places, err := r.SuggestLocalEntity(ctx, sess, "Paris", model.TypePlace, 10)
	require.NoError(t, err)
	require.Len(t, places, 2)
	for _, s := range places {
		assert.Equal(t, model.TypePlace, s.Type)
	}

	none, err := r.SuggestLocalEntity(ctx, sess, "Lisbon", "", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestResolver_LinkContinuesAfterFailedGroup(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemoryStore()
	seedEntity(t, m, &model.Entity{Title: "Paris", Type: model.TypePlace})

	groups := []model.OccurrenceGroup{
		{Name: "Broken", Type: model.TypePlace, Occurrences: []model.OccurrenceInfo{{Mention: "Broken", Context: "x", Start: 0, End: 6}}},
		{Name: "Paris", Type: model.TypePlace, Occurrences: []model.OccurrenceInfo{occ(t, "Paris", "Paris in spring.")}},
	}

	sess := openSystem(t, m)
	summary, err := New().Link(ctx, sess, "doc-1", groups, DefaultPolicy())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Linked)
	assert.NotEmpty(t, summary.Results[0].Error)

	// The failed group's entity creation was rolled back with its savepoint.
	found, err := sess.QueryEntities(ctx, store.EntityFilter{Keywords: "Broken"})
	require.NoError(t, err)
	assert.Empty(t, found)
}
