package engine

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/otherjamesbrown/penf-linker/pkg/linking/graph"
)

// Span is one named-entity span found by a local model. Start and End are
// byte offsets into the analyzed text.
type Span struct {
	Label string
	Text  string
	Start int
	End   int
	Score float64
}

// DefaultLabelTypes maps NER labels to semantic type IRIs.
func DefaultLabelTypes() map[string]string {
	return map[string]string{
		"PER":          graph.DBpediaPerson,
		"PERSON":       graph.DBpediaPerson,
		"LOC":          graph.DBpediaPlace,
		"LOCATION":     graph.DBpediaPlace,
		"GPE":          graph.DBpediaPlace,
		"ORG":          graph.DBpediaOrganisation,
		"ORGANIZATION": graph.DBpediaOrganisation,
	}
}

// BuildGraph renders spans as FISE text annotations so that locally detected
// entities go through the same parser as engine output. Spans with unknown
// labels are skipped.
func BuildGraph(text string, spans []Span, labelTypes map[string]string) *graph.Memory {
	g := graph.NewMemory()
	for _, span := range spans {
		typeIRI, ok := labelTypes[normalizeLabel(span.Label)]
		if !ok {
			continue
		}
		mention := span.Text
		if span.Start >= 0 && span.End <= len(text) && span.Start < span.End {
			mention = text[span.Start:span.End]
		}
		mention = strings.TrimSpace(mention)
		if mention == "" {
			continue
		}

		subject := "urn:penf-linker:text-annotation:" + uuid.NewString()
		g.Add(subject, graph.RDFType, graph.IRI(graph.FISETextAnnotation))
		g.Add(subject, graph.DCType, graph.IRI(typeIRI))
		g.Add(subject, graph.FISESelectedText, graph.Literal(mention))
		g.Add(subject, graph.FISESelectionContext, graph.Literal(sentenceAround(text, span.Start, span.End)))
		g.Add(subject, graph.FISEStart, graph.Literal(strconv.Itoa(span.Start)))
		g.Add(subject, graph.FISEEnd, graph.Literal(strconv.Itoa(span.End)))
		g.Add(subject, graph.FISEConfidence, graph.Literal(strconv.FormatFloat(span.Score, 'f', -1, 64)))
	}
	return g
}

// normalizeLabel strips BIO prefixes ("B-PER" -> "PER").
func normalizeLabel(label string) string {
	label = strings.ToUpper(strings.TrimSpace(label))
	if strings.HasPrefix(label, "B-") || strings.HasPrefix(label, "I-") {
		return label[2:]
	}
	return label
}

// sentenceAround returns the sentence of text containing [start, end).
func sentenceAround(text string, start, end int) string {
	if start < 0 || end > len(text) || start >= end {
		return ""
	}
	from := strings.LastIndexAny(text[:start], ".!?\n")
	from++
	to := strings.IndexAny(text[end:], ".!?\n")
	if to < 0 {
		to = len(text)
	} else {
		to = end + to + 1
	}
	return strings.TrimSpace(text[from:to])
}
