// Package graph is a minimal RDF graph abstraction: enough to ask "which
// subjects have property P with value V" and "what is property P of subject S".
// It decodes the RDF/JSON and N-Triples serializations returned by annotation
// engines.
package graph

import (
	"strconv"
)

// TermKind distinguishes IRIs, blank nodes and literals.
type TermKind int

const (
	KindIRI TermKind = iota
	KindBlank
	KindLiteral
)

// Term is an RDF node or literal.
type Term struct {
	Kind     TermKind
	Value    string
	Lang     string
	Datatype string
}

// IRI returns an IRI term.
func IRI(v string) Term { return Term{Kind: KindIRI, Value: v} }

// Literal returns a plain literal term.
func Literal(v string) Term { return Term{Kind: KindLiteral, Value: v} }

// Float parses a numeric literal. ok is false for non-numeric terms.
func (t Term) Float() (float64, bool) {
	if t.Kind != KindLiteral {
		return 0, false
	}
	f, err := strconv.ParseFloat(t.Value, 64)
	return f, err == nil
}

// Graph is read-only access to a set of triples. Iteration order follows the
// order triples were added.
type Graph interface {
	// SubjectsWith lists subjects that have predicate with the given object.
	SubjectsWith(predicate string, object Term) []string
	// Objects lists every object of subject's predicate.
	Objects(subject, predicate string) []Term
	// Property returns the first object of subject's predicate.
	Property(subject, predicate string) (Term, bool)
	// Len is the number of triples.
	Len() int
}

// Memory is an in-memory Graph.
type Memory struct {
	subjects []string
	props    map[string]map[string][]Term
	size     int
}

// NewMemory returns an empty graph.
func NewMemory() *Memory {
	return &Memory{props: make(map[string]map[string][]Term)}
}

// Add appends a triple. Duplicate triples are ignored.
func (g *Memory) Add(subject, predicate string, object Term) {
	preds, ok := g.props[subject]
	if !ok {
		preds = make(map[string][]Term)
		g.props[subject] = preds
		g.subjects = append(g.subjects, subject)
	}
	for _, existing := range preds[predicate] {
		if existing == object {
			return
		}
	}
	preds[predicate] = append(preds[predicate], object)
	g.size++
}

func (g *Memory) SubjectsWith(predicate string, object Term) []string {
	var out []string
	for _, s := range g.subjects {
		for _, o := range g.props[s][predicate] {
			if sameNode(o, object) {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

func (g *Memory) Objects(subject, predicate string) []Term {
	return g.props[subject][predicate]
}

func (g *Memory) Property(subject, predicate string) (Term, bool) {
	objs := g.props[subject][predicate]
	if len(objs) == 0 {
		return Term{}, false
	}
	return objs[0], true
}

func (g *Memory) Len() int {
	return g.size
}

// sameNode compares terms, treating IRIs and blank nodes by value only and
// literals by value, language and datatype.
func sameNode(a, b Term) bool {
	if a.Kind != b.Kind || a.Value != b.Value {
		return false
	}
	if a.Kind != KindLiteral {
		return true
	}
	return a.Lang == b.Lang && a.Datatype == b.Datatype
}
