package graph

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"strconv"
	"strings"

	pferrors "github.com/otherjamesbrown/penf-linker/pkg/errors"
)

// Supported serializations.
const (
	FormatRDFJSON   = "application/rdf+json"
	FormatNTriples  = "application/n-triples"
	formatPlainText = "text/plain"
)

// Supported reports whether Decode understands contentType.
func Supported(contentType string) bool {
	switch mediaTypeOf(contentType) {
	case FormatRDFJSON, "application/json", FormatNTriples, formatPlainText:
		return true
	}
	return false
}

func mediaTypeOf(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.TrimSpace(strings.ToLower(contentType))
	}
	return mediaType
}

// Decode reads a graph in the serialization named by contentType.
func Decode(contentType string, r io.Reader) (*Memory, error) {
	switch mediaTypeOf(contentType) {
	case FormatRDFJSON, "application/json":
		return DecodeRDFJSON(r)
	case FormatNTriples, formatPlainText:
		return DecodeNTriples(r)
	default:
		return nil, fmt.Errorf("unsupported graph format %q: %w", contentType, pferrors.ErrMalformedGraph)
	}
}

type rdfJSONValue struct {
	Type     string `json:"type"`
	Value    string `json:"value"`
	Lang     string `json:"lang"`
	Datatype string `json:"datatype"`
}

// DecodeRDFJSON reads the RDF/JSON serialization
// ({subject: {predicate: [{type, value, lang, datatype}]}}), keeping document
// order of subjects and predicates.
func DecodeRDFJSON(r io.Reader) (*Memory, error) {
	g := NewMemory()
	dec := json.NewDecoder(r)

	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}
	for dec.More() {
		subject, err := stringToken(dec)
		if err != nil {
			return nil, err
		}
		if err := expectDelim(dec, '{'); err != nil {
			return nil, err
		}
		for dec.More() {
			predicate, err := stringToken(dec)
			if err != nil {
				return nil, err
			}
			var values []rdfJSONValue
			if err := dec.Decode(&values); err != nil {
				return nil, fmt.Errorf("decoding objects of %s %s: %v: %w", subject, predicate, err, pferrors.ErrMalformedGraph)
			}
			for _, v := range values {
				g.Add(subject, predicate, v.term())
			}
		}
		if err := expectDelim(dec, '}'); err != nil {
			return nil, err
		}
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}
	return g, nil
}

func (v rdfJSONValue) term() Term {
	switch v.Type {
	case "uri":
		return IRI(v.Value)
	case "bnode":
		return Term{Kind: KindBlank, Value: strings.TrimPrefix(v.Value, "_:")}
	default:
		return Term{Kind: KindLiteral, Value: v.Value, Lang: v.Lang, Datatype: v.Datatype}
	}
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("reading graph: %v: %w", err, pferrors.ErrMalformedGraph)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected %q, got %v: %w", want, tok, pferrors.ErrMalformedGraph)
	}
	return nil
}

func stringToken(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", fmt.Errorf("reading graph: %v: %w", err, pferrors.ErrMalformedGraph)
	}
	s, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("expected key, got %v: %w", tok, pferrors.ErrMalformedGraph)
	}
	return s, nil
}

// DecodeNTriples reads the line-based N-Triples serialization.
func DecodeNTriples(r io.Reader) (*Memory, error) {
	g := NewMemory()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p := &ntParser{s: line}
		subject, err := p.node()
		if err != nil {
			return nil, fmt.Errorf("line %d: subject: %v: %w", lineNo, err, pferrors.ErrMalformedGraph)
		}
		predicate, err := p.node()
		if err != nil || predicate.Kind != KindIRI {
			return nil, fmt.Errorf("line %d: predicate must be an IRI: %w", lineNo, pferrors.ErrMalformedGraph)
		}
		object, err := p.term()
		if err != nil {
			return nil, fmt.Errorf("line %d: object: %v: %w", lineNo, err, pferrors.ErrMalformedGraph)
		}
		p.skipSpace()
		if !strings.HasPrefix(p.rest(), ".") {
			return nil, fmt.Errorf("line %d: missing terminating '.': %w", lineNo, pferrors.ErrMalformedGraph)
		}
		g.Add(subject.Value, predicate.Value, object)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading n-triples: %v: %w", err, pferrors.ErrMalformedGraph)
	}
	return g, nil
}

type ntParser struct {
	s   string
	pos int
}

func (p *ntParser) rest() string { return p.s[p.pos:] }

func (p *ntParser) skipSpace() {
	for p.pos < len(p.s) && (p.s[p.pos] == ' ' || p.s[p.pos] == '\t') {
		p.pos++
	}
}

// node parses an IRI or a blank node.
func (p *ntParser) node() (Term, error) {
	p.skipSpace()
	switch {
	case strings.HasPrefix(p.rest(), "<"):
		end := strings.IndexByte(p.rest(), '>')
		if end < 0 {
			return Term{}, fmt.Errorf("unterminated IRI")
		}
		v := p.rest()[1:end]
		p.pos += end + 1
		return IRI(v), nil
	case strings.HasPrefix(p.rest(), "_:"):
		start := p.pos + 2
		p.pos = start
		for p.pos < len(p.s) && p.s[p.pos] != ' ' && p.s[p.pos] != '\t' {
			p.pos++
		}
		return Term{Kind: KindBlank, Value: p.s[start:p.pos]}, nil
	}
	return Term{}, fmt.Errorf("expected IRI or blank node at %q", p.rest())
}

// term parses a node or a literal.
func (p *ntParser) term() (Term, error) {
	p.skipSpace()
	if !strings.HasPrefix(p.rest(), `"`) {
		return p.node()
	}
	end := p.pos + 1
	for ; end < len(p.s); end++ {
		if p.s[end] == '\\' {
			end++
			continue
		}
		if p.s[end] == '"' {
			break
		}
	}
	if end >= len(p.s) {
		return Term{}, fmt.Errorf("unterminated literal")
	}
	value, err := strconv.Unquote(p.s[p.pos : end+1])
	if err != nil {
		return Term{}, fmt.Errorf("bad literal escape: %v", err)
	}
	p.pos = end + 1
	t := Term{Kind: KindLiteral, Value: value}
	switch {
	case strings.HasPrefix(p.rest(), "@"):
		start := p.pos + 1
		p.pos = start
		for p.pos < len(p.s) && p.s[p.pos] != ' ' && p.s[p.pos] != '\t' && p.s[p.pos] != '.' {
			p.pos++
		}
		t.Lang = p.s[start:p.pos]
	case strings.HasPrefix(p.rest(), "^^"):
		p.pos += 2
		dt, err := p.node()
		if err != nil {
			return Term{}, err
		}
		t.Datatype = dt.Value
	}
	return t, nil
}
