package annotation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/penf-linker/pkg/linking/graph"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/model"
)

type fixture struct {
	g *graph.Memory
}

func newFixture() *fixture {
	return &fixture{g: graph.NewMemory()}
}

func (f *fixture) text(subject, typeIRI, mention, context string, relatedTo ...string) {
	f.g.Add(subject, graph.RDFType, graph.IRI(graph.FISETextAnnotation))
	if typeIRI != "" {
		f.g.Add(subject, graph.DCType, graph.IRI(typeIRI))
	}
	if mention != "" {
		f.g.Add(subject, graph.FISESelectedText, graph.Term{Kind: graph.KindLiteral, Value: mention, Lang: "en"})
	}
	if context != "" {
		f.g.Add(subject, graph.FISESelectionContext, graph.Literal(context))
	}
	for _, r := range relatedTo {
		f.g.Add(subject, graph.DCRelation, graph.IRI(r))
	}
}

func (f *fixture) entity(subject, relatedTo, ref, label, confidence string, types ...string) {
	f.g.Add(subject, graph.RDFType, graph.IRI(graph.FISEEntityAnnotation))
	f.g.Add(subject, graph.DCRelation, graph.IRI(relatedTo))
	f.g.Add(subject, graph.FISEEntityReference, graph.IRI(ref))
	if label != "" {
		f.g.Add(subject, graph.FISEEntityLabel, graph.Literal(label))
	}
	if confidence != "" {
		f.g.Add(subject, graph.FISEConfidence, graph.Literal(confidence))
	}
	for _, t := range types {
		f.g.Add(subject, graph.FISEEntityType, graph.IRI(t))
	}
}

const lennonText = "John Lennon was born in Liverpool"

func TestParse_SubsumedAnnotationsJoinPrimaryGroup(t *testing.T) {
	f := newFixture()
	f.text("urn:ta:1", graph.DBpediaPerson, "John Lennon", lennonText)
	f.text("urn:ta:2", graph.DBpediaPerson, "Lennon", lennonText, "urn:ta:1")
	f.text("urn:ta:3", graph.DBpediaPlace, "Liverpool", lennonText)

	groups := NewParser().Parse(f.g)
	require.Len(t, groups, 2)

	person := groups[0]
	assert.Equal(t, "John Lennon", person.Name)
	assert.Equal(t, model.TypePerson, person.Type)
	require.Len(t, person.Occurrences, 2)
	assert.Equal(t, "John Lennon", person.Occurrences[0].Mention)
	assert.Equal(t, "Lennon", person.Occurrences[1].Mention)
	assert.Equal(t, 5, person.Occurrences[1].Start)

	assert.Equal(t, "Liverpool", groups[1].Name)
	assert.Equal(t, model.TypePlace, groups[1].Type)
}

func TestParse_GroupsBySubjectNotText(t *testing.T) {
	f := newFixture()
	f.text("urn:ta:1", graph.DBpediaPerson, "John", "John met Paul")
	f.text("urn:ta:2", graph.DBpediaPerson, "John", "Later John left")

	groups := NewParser().Parse(f.g)
	require.Len(t, groups, 2)
	assert.Equal(t, "John met Paul", groups[0].Occurrences[0].Context)
	assert.Equal(t, "Later John left", groups[1].Occurrences[0].Context)
}

func TestParse_DropsMalformedAndUnknown(t *testing.T) {
	f := newFixture()
	f.text("urn:ta:unmapped", "http://dbpedia.org/ontology/Work", "Abbey Road", "Abbey Road is an album")
	f.text("urn:ta:notype", "", "Ringo", "Ringo Starr")
	f.text("urn:ta:nomention", graph.DBpediaPerson, "", "someone")
	f.text("urn:ta:ok", graph.DBpediaOrganisation, "The Beatles", "The Beatles formed in 1960")
	f.text("urn:ta:sub-nomention", graph.DBpediaOrganisation, "", "", "urn:ta:ok")

	groups := NewParser().Parse(f.g)
	require.Len(t, groups, 1)
	assert.Equal(t, "The Beatles", groups[0].Name)
	assert.Len(t, groups[0].Occurrences, 1)
}

func TestParse_ContextFallbacks(t *testing.T) {
	f := newFixture()
	f.text("urn:ta:1", graph.DBpediaPlace, "Hamburg", "a context that never names the city")
	f.text("urn:ta:2", graph.DBpediaPlace, "Paris", "")

	groups := NewParser().Parse(f.g)
	require.Len(t, groups, 2)
	assert.Equal(t, model.OccurrenceInfo{Mention: "Hamburg", Context: "Hamburg", Start: 0, End: 7}, groups[0].Occurrences[0])
	assert.Equal(t, "Paris", groups[1].Occurrences[0].Context)
}

func TestParse_DuplicateSubsumedOccurrencesCollapse(t *testing.T) {
	f := newFixture()
	f.text("urn:ta:1", graph.DBpediaPerson, "John Lennon", lennonText)
	f.text("urn:ta:2", graph.DBpediaPerson, "John Lennon", lennonText, "urn:ta:1")

	groups := NewParser().Parse(f.g)
	require.Len(t, groups, 1)
	assert.Len(t, groups[0].Occurrences, 1)
}

func TestParse_EntitySuggestions(t *testing.T) {
	f := newFixture()
	f.text("urn:ta:1", graph.DBpediaPerson, "John Lennon", lennonText)
	f.entity("urn:ea:1", "urn:ta:1", "http://dbpedia.org/resource/John_Lennon", "John Lennon", "0.9")
	f.entity("urn:ea:2", "urn:ta:1", "http://dbpedia.org/resource/John_Lennon", "Lennon", "0.95")
	f.entity("urn:ea:3", "urn:ta:1", "http://dbpedia.org/resource/John_Lennon_(album)", "", "0.4",
		"http://dbpedia.org/ontology/Album")
	f.entity("urn:ea:4", "urn:ta:1", "http://dbpedia.org/resource/Lennon_Wall", "Lennon Wall", "0.6",
		graph.DBpediaPlace)

	groups := NewParser().Parse(f.g)
	require.Len(t, groups, 1)

	s := groups[0].EntitySuggestions
	require.Len(t, s, 3)

	assert.Equal(t, "John Lennon", s[0].Label)
	assert.InDelta(t, 0.95, s[0].Score, 1e-9)
	assert.Equal(t, []string{"Lennon"}, s[0].AlternativeNames)
	assert.Equal(t, []string{"http://dbpedia.org/resource/John_Lennon"}, s[0].RemoteURIs)
	assert.False(t, s[0].IsLocal())

	assert.Equal(t, "Lennon Wall", s[1].Label)
	assert.Equal(t, model.TypePlace, s[1].Type)

	assert.Equal(t, "http://dbpedia.org/resource/John_Lennon_(album)", s[2].Label)
	assert.Equal(t, model.TypePerson, s[2].Type)
}

func TestParse_CustomTypeMapping(t *testing.T) {
	f := newFixture()
	f.text("urn:ta:1", "urn:type:band", "The Beatles", "The Beatles")
	f.text("urn:ta:2", graph.DBpediaPerson, "Ringo", "Ringo")

	p := NewParser(WithTypeMapping(map[string]string{"urn:type:band": model.TypeOrganization}))
	groups := p.Parse(f.g)
	require.Len(t, groups, 1)
	assert.Equal(t, model.TypeOrganization, groups[0].Type)
}

func TestParse_EmptyGraph(t *testing.T) {
	assert.Empty(t, NewParser().Parse(graph.NewMemory()))
}
