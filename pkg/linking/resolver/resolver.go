// Package resolver links occurrence groups to stored entities.
//
// For each group the resolver looks up candidate entities by name and type,
// then links to the best candidate, creates a new entity, or skips the group
// according to a Policy. Linking merges the group's occurrences into the
// single occurrence relation between the source document and the entity,
// records mentions as alternative names and counts each new relation once in
// the entity's popularity.
package resolver

import (
	"context"
	"fmt"

	pferrors "github.com/otherjamesbrown/penf-linker/pkg/errors"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/model"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/store"
	"github.com/otherjamesbrown/penf-linker/pkg/logging"
)

// Observer is notified of each group's outcome.
type Observer interface {
	ObserveLink(outcome Outcome)
}

// Resolver links occurrence groups to entities.
type Resolver struct {
	logger   logging.Logger
	observer Observer
}

// Option configures the resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithObserver reports link outcomes, e.g. to metrics.
func WithObserver(o Observer) Option {
	return func(r *Resolver) {
		r.observer = o
	}
}

// New creates a resolver.
func New(opts ...Option) *Resolver {
	r := &Resolver{logger: logging.NewNopLogger()}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(logging.Component("entity_resolver"))
	return r
}

// LinkResult describes what happened to one group.
type LinkResult struct {
	Group    string                    `json:"group"`
	Type     string                    `json:"type"`
	Outcome  Outcome                   `json:"outcome"`
	Entity   *model.Entity             `json:"entity,omitempty"`
	Relation *model.OccurrenceRelation `json:"relation,omitempty"`
	Error    string                    `json:"error,omitempty"`
}

// LinkSummary aggregates the results of linking one document.
type LinkSummary struct {
	Results []LinkResult `json:"results"`
	Linked  int          `json:"linked"`
	Created int          `json:"created"`
	Skipped int          `json:"skipped"`
	Failed  int          `json:"failed"`
}

func (s *LinkSummary) add(res LinkResult) {
	s.Results = append(s.Results, res)
	switch {
	case res.Error != "":
		s.Failed++
	case res.Outcome == OutcomeLinked:
		s.Linked++
	case res.Outcome == OutcomeCreated:
		s.Created++
	default:
		s.Skipped++
	}
}

// Link links every group to the source document, each inside its own
// savepoint. A failing group is logged and skipped. A write conflict aborts
// the whole call because the session's view of the store is stale.
func (r *Resolver) Link(ctx context.Context, sess store.Session, sourceID string, groups []model.OccurrenceGroup, policy Policy) (*LinkSummary, error) {
	summary := &LinkSummary{}
	for _, group := range groups {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		var res LinkResult
		err := sess.Savepoint(ctx, func(tx store.Session) error {
			var err error
			res, err = r.LinkGroup(ctx, tx, sourceID, group, policy)
			return err
		})
		if err != nil {
			if pferrors.IsConflict(err) {
				r.logger.Error("Write conflict while linking, aborting document",
					logging.F("source", sourceID), logging.F("group", group.Name), logging.Err(err))
				return summary, err
			}
			r.logger.Warn("Failed to link group, continuing",
				logging.F("source", sourceID), logging.F("group", group.Name),
				logging.F("type", group.Type), logging.Err(err))
			res = LinkResult{Group: group.Name, Type: group.Type, Error: err.Error()}
		}
		summary.add(res)
	}
	return summary, nil
}

// LinkGroup links one group: skip, link to the top candidate or create a new
// entity, then add the group's occurrences.
func (r *Resolver) LinkGroup(ctx context.Context, sess store.Session, sourceID string, group model.OccurrenceGroup, policy Policy) (LinkResult, error) {
	res := LinkResult{Group: group.Name, Type: group.Type}

	if policy.IsShortPersonName(group) {
		res.Outcome = OutcomeSkippedShortName
		r.skipped(sourceID, res)
		return res, nil
	}

	limit := policy.CandidateLimit
	if limit <= 0 {
		limit = DefaultPolicy().CandidateLimit
	}
	candidates, err := sess.QueryEntities(ctx, store.EntityFilter{
		Keywords: group.Name,
		Type:     group.Type,
		Limit:    limit,
	})
	if err != nil {
		return res, fmt.Errorf("querying candidates for %q: %w", group.Name, err)
	}

	res.Outcome = policy.Decide(group, len(candidates))
	var target *model.Entity
	switch res.Outcome {
	case OutcomeCreated:
		target, err = r.createEntity(ctx, sess, group)
		if err != nil {
			return res, err
		}
	case OutcomeLinked:
		target = candidates[0]
	default:
		r.skipped(sourceID, res)
		return res, nil
	}

	relation, err := r.AddOccurrences(ctx, sess, sourceID, target.ID, group.Occurrences)
	if err != nil {
		return res, err
	}
	res.Entity, err = sess.GetEntity(ctx, target.ID)
	if err != nil {
		return res, err
	}
	res.Relation = relation

	r.logger.Debug("Group linked",
		logging.F("source", sourceID), logging.F("group", group.Name),
		logging.F("entity", target.ID), logging.F("outcome", string(res.Outcome)))
	r.observe(res.Outcome)
	return res, nil
}

func (r *Resolver) skipped(sourceID string, res LinkResult) {
	r.logger.Debug("Group skipped",
		logging.F("source", sourceID), logging.F("group", res.Group),
		logging.F("type", res.Type), logging.F("outcome", string(res.Outcome)))
	r.observe(res.Outcome)
}

func (r *Resolver) observe(o Outcome) {
	if r.observer != nil {
		r.observer.ObserveLink(o)
	}
}

// createEntity stores a new automatically created entity for group under the
// entity container. The best remote suggestion whose label matches the group
// name becomes its first same-as link.
func (r *Resolver) createEntity(ctx context.Context, sess store.Session, group model.OccurrenceGroup) (*model.Entity, error) {
	container, err := sess.EntityContainer(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting entity container: %w", err)
	}

	e := &model.Entity{
		ContainerID:          container.ID,
		Title:                group.Name,
		Type:                 group.Type,
		AutomaticallyCreated: true,
	}
	for _, s := range group.EntitySuggestions {
		if s.IsLocal() || len(s.RemoteURIs) == 0 {
			continue
		}
		if model.NormalizeName(s.Label) == model.NormalizeName(group.Name) {
			e.AddSameAs(s.RemoteURIs[0], s.Label)
			break
		}
	}

	if err := sess.CreateEntity(ctx, e); err != nil {
		return nil, fmt.Errorf("creating entity %q: %w", group.Name, err)
	}
	r.logger.Info("Entity created",
		logging.F("entity", e.ID), logging.F("title", e.Title), logging.F("type", e.Type))
	return e, nil
}

// AddOccurrence adds the mention at [start, end) of snippet.
func (r *Resolver) AddOccurrence(ctx context.Context, sess store.Session, sourceID, targetID, snippet string, start, end int) (*model.OccurrenceRelation, error) {
	occ, err := model.NewOccurrence(snippet, start, end)
	if err != nil {
		return nil, err
	}
	return r.AddOccurrences(ctx, sess, sourceID, targetID, []model.OccurrenceInfo{occ})
}

// AddOccurrences merges occurrences into the relation between source and
// target, creating it if needed. Mentions other than the entity title become
// alternative names. A new relation adds one to the entity's popularity.
// The entity and the relation are written together or not at all.
func (r *Resolver) AddOccurrences(ctx context.Context, sess store.Session, sourceID, targetID string, occurrences []model.OccurrenceInfo) (*model.OccurrenceRelation, error) {
	if err := r.checkPermission(ctx, sess, sourceID); err != nil {
		return nil, err
	}
	for _, occ := range occurrences {
		if err := occ.Validate(); err != nil {
			return nil, err
		}
	}

	entity, err := sess.GetEntity(ctx, targetID)
	if err != nil {
		return nil, err
	}
	relation, err := r.findRelation(ctx, sess, sourceID, targetID)
	if err != nil {
		return nil, err
	}

	isNew := relation.IsNew()
	added := relation.AddOccurrences(occurrences)

	entityChanged := false
	for _, occ := range occurrences {
		if entity.AddAltName(occ.Mention) {
			entityChanged = true
		}
	}
	if isNew {
		entity.Popularity++
		entityChanged = true
	}

	err = sess.Savepoint(ctx, func(tx store.Session) error {
		switch {
		case isNew:
			if err := tx.CreateRelation(ctx, relation); err != nil {
				return err
			}
		case added > 0:
			if err := tx.SaveRelation(ctx, relation); err != nil {
				return err
			}
		}
		if entityChanged {
			return tx.SaveEntity(ctx, entity)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("saving occurrences of %s in %s: %w", targetID, sourceID, err)
	}
	return relation, nil
}

// findRelation returns the oldest live relation from source to target, or a
// new unsaved one.
func (r *Resolver) findRelation(ctx context.Context, sess store.Session, sourceID, targetID string) (*model.OccurrenceRelation, error) {
	relations, err := sess.QueryRelations(ctx, sourceID, targetID)
	if err != nil {
		return nil, err
	}
	switch len(relations) {
	case 0:
		return &model.OccurrenceRelation{SourceID: sourceID, TargetID: targetID}, nil
	case 1:
		return relations[0], nil
	default:
		r.logger.Warn("Multiple occurrence relations for one document and entity, using the oldest",
			logging.F("source", sourceID), logging.F("target", targetID),
			logging.F("count", len(relations)), logging.F("relation", relations[0].ID))
		return relations[0], nil
	}
}

// RemoveOccurrences removes every relation between source and target and
// takes one off the entity's popularity per relation. With force the
// relations are deleted outright, otherwise they are marked deleted. An
// automatically created entity left without relations is marked deleted.
func (r *Resolver) RemoveOccurrences(ctx context.Context, sess store.Session, sourceID, targetID string, force bool) error {
	if err := r.checkPermission(ctx, sess, sourceID); err != nil {
		return err
	}

	relations, err := sess.QueryRelations(ctx, sourceID, targetID)
	if err != nil {
		return err
	}
	if len(relations) == 0 {
		return nil
	}

	entity, err := sess.GetEntity(ctx, targetID)
	if err != nil && !pferrors.IsNotFound(err) {
		return err
	}

	return sess.Savepoint(ctx, func(tx store.Session) error {
		for _, rel := range relations {
			if force {
				if err := tx.DeleteRelation(ctx, rel.ID); err != nil {
					return err
				}
			} else {
				rel.Deleted = true
				if err := tx.SaveRelation(ctx, rel); err != nil {
					return err
				}
			}
			if entity != nil {
				entity.Popularity--
			}
		}
		if entity == nil {
			return nil
		}

		if entity.AutomaticallyCreated {
			remaining, err := tx.CountRelations(ctx, targetID)
			if err != nil {
				return err
			}
			if remaining == 0 {
				entity.Deleted = true
				r.logger.Info("Automatically created entity lost its last relation, deleting",
					logging.F("entity", entity.ID), logging.F("title", entity.Title))
			}
		}
		return tx.SaveEntity(ctx, entity)
	})
}

// SuggestLocalEntity returns up to max stored entities matching keywords and
// type, scored by name similarity. Equal scores keep the popularity order.
func (r *Resolver) SuggestLocalEntity(ctx context.Context, sess store.Session, keywords, entityType string, max int) ([]model.EntitySuggestion, error) {
	entities, err := sess.QueryEntities(ctx, store.EntityFilter{
		Keywords: keywords,
		Type:     entityType,
		Limit:    max,
	})
	if err != nil {
		return nil, fmt.Errorf("querying entities for %q: %w", keywords, err)
	}

	suggestions := make([]model.EntitySuggestion, 0, len(entities))
	for _, e := range entities {
		suggestions = append(suggestions, model.SuggestionFromEntity(e, BestNameSimilarity(keywords, e)))
	}
	model.SortSuggestions(suggestions)
	return suggestions, nil
}

func (r *Resolver) checkPermission(ctx context.Context, sess store.Session, sourceID string) error {
	allowed, err := sess.HasPermission(ctx, sourceID, store.PermAddOccurrence)
	if err != nil {
		return err
	}
	if !allowed {
		return fmt.Errorf("%s may not add occurrences to %s: %w", sess.Principal(), sourceID, pferrors.ErrForbidden)
	}
	return nil
}
