package model

import (
	"fmt"
	"strings"
	"unicode/utf8"

	pferrors "github.com/otherjamesbrown/penf-linker/pkg/errors"
)

// MaxContextLength is the longest context snippet kept for an occurrence, in
// characters. Longer contexts are replaced by the mention itself.
const MaxContextLength = 500

// OccurrenceInfo is one textual mention of an entity inside a context snippet.
// Start and End are character (rune) offsets of Mention within Context.
//
// Two occurrences are the same occurrence when Mention and Context are equal;
// offsets are derived data.
type OccurrenceInfo struct {
	Mention string `json:"mention"`
	Context string `json:"context"`
	Start   int    `json:"start"`
	End     int    `json:"end"`
}

// OccurrenceKey is the identity of an occurrence.
type OccurrenceKey struct {
	Mention string
	Context string
}

// Key returns the identity used to deduplicate occurrence lists.
func (o OccurrenceInfo) Key() OccurrenceKey {
	return OccurrenceKey{Mention: o.Mention, Context: o.Context}
}

// Equal reports whether o and other denote the same occurrence.
func (o OccurrenceInfo) Equal(other OccurrenceInfo) bool {
	return o.Key() == other.Key()
}

// Validate checks that Context[Start:End] == Mention and both are non-empty.
func (o OccurrenceInfo) Validate() error {
	if o.Mention == "" || o.Context == "" {
		return fmt.Errorf("occurrence needs a mention and a context: %w", pferrors.ErrValidation)
	}
	runes := []rune(o.Context)
	if o.Start < 0 || o.Start >= o.End || o.End > len(runes) {
		return fmt.Errorf("occurrence offsets [%d:%d] out of range for context of %d characters: %w",
			o.Start, o.End, len(runes), pferrors.ErrValidation)
	}
	if string(runes[o.Start:o.End]) != o.Mention {
		return fmt.Errorf("context[%d:%d] is %q, not %q: %w",
			o.Start, o.End, string(runes[o.Start:o.End]), o.Mention, pferrors.ErrValidation)
	}
	return nil
}

// NewOccurrence builds an occurrence from a context snippet and the offsets of
// the mention inside it.
func NewOccurrence(context string, start, end int) (OccurrenceInfo, error) {
	runes := []rune(context)
	if start < 0 || start >= end || end > len(runes) {
		return OccurrenceInfo{}, fmt.Errorf("offsets [%d:%d] out of range for snippet of %d characters: %w",
			start, end, len(runes), pferrors.ErrValidation)
	}
	occ := OccurrenceInfo{
		Mention: string(runes[start:end]),
		Context: context,
		Start:   start,
		End:     end,
	}
	return occ, occ.Validate()
}

// LocateOccurrence finds mention in context and returns the occurrence. When
// the context does not contain the mention, or is longer than
// MaxContextLength characters, the mention becomes its own context.
func LocateOccurrence(mention, context string) (OccurrenceInfo, error) {
	if mention == "" {
		return OccurrenceInfo{}, fmt.Errorf("empty mention: %w", pferrors.ErrValidation)
	}
	idx := strings.Index(context, mention)
	if idx < 0 || utf8.RuneCountInString(context) > MaxContextLength {
		context = mention
		idx = 0
	}
	start := utf8.RuneCountInString(context[:idx])
	return OccurrenceInfo{
		Mention: mention,
		Context: context,
		Start:   start,
		End:     start + utf8.RuneCountInString(mention),
	}, nil
}

// MergeOccurrences appends the occurrences of added that are not already in
// existing, keeping the order of first appearance. It returns the merged list
// and how many occurrences were new.
func MergeOccurrences(existing, added []OccurrenceInfo) ([]OccurrenceInfo, int) {
	seen := make(map[OccurrenceKey]struct{}, len(existing)+len(added))
	merged := make([]OccurrenceInfo, 0, len(existing)+len(added))
	for _, occ := range existing {
		if _, dup := seen[occ.Key()]; dup {
			continue
		}
		seen[occ.Key()] = struct{}{}
		merged = append(merged, occ)
	}
	before := len(merged)
	for _, occ := range added {
		if _, dup := seen[occ.Key()]; dup {
			continue
		}
		seen[occ.Key()] = struct{}{}
		merged = append(merged, occ)
	}
	return merged, len(merged) - before
}
