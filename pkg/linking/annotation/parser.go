// Package annotation turns the enhancement graph produced by an annotation
// engine into occurrence groups.
//
// Text annotations with a semantic type become groups. Annotations that point
// at another text annotation through dc:relation are subsumed by it and only
// contribute occurrences to its group. Entity annotations related to a primary
// text annotation become pre-populated entity suggestions.
package annotation

import (
	"github.com/otherjamesbrown/penf-linker/pkg/linking/graph"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/model"
	"github.com/otherjamesbrown/penf-linker/pkg/logging"
)

// DefaultTypeMapping maps engine type IRIs to local entity types.
func DefaultTypeMapping() map[string]string {
	return map[string]string{
		graph.DBpediaPerson:       model.TypePerson,
		graph.FOAFPerson:          model.TypePerson,
		graph.SchemaPerson:        model.TypePerson,
		graph.DBpediaPlace:        model.TypePlace,
		graph.SchemaPlace:         model.TypePlace,
		graph.DBpediaOrganisation: model.TypeOrganization,
		graph.FOAFOrganization:    model.TypeOrganization,
		graph.SchemaOrganization:  model.TypeOrganization,
	}
}

// Parser converts enhancement graphs into occurrence groups.
type Parser struct {
	types  map[string]string
	logger logging.Logger
}

// Option configures a Parser.
type Option func(*Parser)

// WithTypeMapping replaces the type IRI mapping.
func WithTypeMapping(types map[string]string) Option {
	return func(p *Parser) {
		if len(types) > 0 {
			p.types = types
		}
	}
}

// WithLogger sets the parser's logger.
func WithLogger(logger logging.Logger) Option {
	return func(p *Parser) {
		p.logger = logger
	}
}

// NewParser creates a parser with the default type mapping.
func NewParser(opts ...Option) *Parser {
	p := &Parser{
		types:  DefaultTypeMapping(),
		logger: logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(logging.Component("annotation_parser"))
	return p
}

// LocalType maps a type IRI; ok is false for unmapped types.
func (p *Parser) LocalType(typeIRI string) (string, bool) {
	t, ok := p.types[typeIRI]
	return t, ok
}

// Parse returns one group per primary text annotation, in graph order.
// Malformed annotations are dropped without failing the parse.
func (p *Parser) Parse(g graph.Graph) []model.OccurrenceGroup {
	textAnnotations := g.SubjectsWith(graph.RDFType, graph.IRI(graph.FISETextAnnotation))
	isText := make(map[string]bool, len(textAnnotations))
	for _, s := range textAnnotations {
		isText[s] = true
	}

	var groups []model.OccurrenceGroup
	for _, subject := range textAnnotations {
		typeTerm, ok := g.Property(subject, graph.DCType)
		if !ok {
			continue
		}
		if p.isSubsumed(g, subject, isText) {
			continue
		}
		localType, ok := p.LocalType(typeTerm.Value)
		if !ok {
			p.logger.Debug("skipping annotation with unmapped type",
				logging.F("subject", subject), logging.F("type", typeTerm.Value))
			continue
		}
		primary, ok := occurrenceOf(g, subject)
		if !ok {
			p.logger.Debug("dropping annotation without mention", logging.F("subject", subject))
			continue
		}

		occurrences := []model.OccurrenceInfo{primary}
		related := g.SubjectsWith(graph.DCRelation, graph.IRI(subject))
		for _, rel := range related {
			if !isText[rel] || rel == subject {
				continue
			}
			if occ, ok := occurrenceOf(g, rel); ok {
				occurrences = append(occurrences, occ)
			}
		}
		occurrences, _ = model.MergeOccurrences(nil, occurrences)

		groups = append(groups, model.OccurrenceGroup{
			Name:              primary.Mention,
			Type:              localType,
			Occurrences:       occurrences,
			EntitySuggestions: p.suggestions(g, related, localType),
		})
	}
	return groups
}

// isSubsumed reports whether subject is related to another text annotation.
func (p *Parser) isSubsumed(g graph.Graph, subject string, isText map[string]bool) bool {
	for _, rel := range g.Objects(subject, graph.DCRelation) {
		if rel.Kind != graph.KindLiteral && rel.Value != subject && isText[rel.Value] {
			return true
		}
	}
	return false
}

// suggestions builds entity suggestions from the entity annotations among
// related, merging annotations that reference the same entity.
func (p *Parser) suggestions(g graph.Graph, related []string, groupType string) []model.EntitySuggestion {
	var out []model.EntitySuggestion
	index := make(map[string]int)
	for _, rel := range related {
		if !hasType(g, rel, graph.FISEEntityAnnotation) {
			continue
		}
		ref, ok := g.Property(rel, graph.FISEEntityReference)
		if !ok || ref.Value == "" {
			continue
		}
		label, _ := g.Property(rel, graph.FISEEntityLabel)
		score := 0.0
		if conf, ok := g.Property(rel, graph.FISEConfidence); ok {
			score, _ = conf.Float()
		}

		if i, seen := index[ref.Value]; seen {
			s := &out[i]
			if label.Value != "" && label.Value != s.Label {
				s.AddAlternativeName(label.Value)
			}
			if score > s.Score {
				s.Score = score
			}
			continue
		}

		s := model.EntitySuggestion{
			Label: label.Value,
			Type:  p.entityType(g, rel, groupType),
			Score: score,
		}
		if s.Label == "" {
			s.Label = ref.Value
		}
		s.AddRemoteURI(ref.Value)
		index[ref.Value] = len(out)
		out = append(out, s)
	}
	model.SortSuggestions(out)
	return out
}

func (p *Parser) entityType(g graph.Graph, subject, fallback string) string {
	for _, t := range g.Objects(subject, graph.FISEEntityType) {
		if local, ok := p.LocalType(t.Value); ok {
			return local
		}
	}
	return fallback
}

func hasType(g graph.Graph, subject, typeIRI string) bool {
	for _, t := range g.Objects(subject, graph.RDFType) {
		if t.Kind == graph.KindIRI && t.Value == typeIRI {
			return true
		}
	}
	return false
}

// occurrenceOf reads the mention and context literals of an annotation.
func occurrenceOf(g graph.Graph, subject string) (model.OccurrenceInfo, bool) {
	mention, ok := g.Property(subject, graph.FISESelectedText)
	if !ok || mention.Kind != graph.KindLiteral || mention.Value == "" {
		return model.OccurrenceInfo{}, false
	}
	context, _ := g.Property(subject, graph.FISESelectionContext)
	occ, err := model.LocateOccurrence(mention.Value, context.Value)
	if err != nil {
		return model.OccurrenceInfo{}, false
	}
	return occ, true
}
