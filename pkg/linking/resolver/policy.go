package resolver

import (
	"fmt"

	pferrors "github.com/otherjamesbrown/penf-linker/pkg/errors"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/model"
)

// Policy decides when a group is linked to a stored entity.
type Policy struct {
	// LinkToUnrecognizedEntities creates a new entity when no candidate
	// matches.
	LinkToUnrecognizedEntities bool `yaml:"link_to_unrecognized_entities"`
	// LinkToAmbiguousEntities links to the top candidate even when several
	// match.
	LinkToAmbiguousEntities bool `yaml:"link_to_ambiguous_entities"`
	// LinkShortPersonNames links person names of at most
	// ShortPersonNameMaxTokens words, such as a bare first name.
	LinkShortPersonNames bool `yaml:"link_short_person_names"`

	ShortPersonNameMaxTokens    int `yaml:"short_person_name_max_tokens"`
	AmbiguityCandidateThreshold int `yaml:"ambiguity_candidate_threshold"`
	CandidateLimit              int `yaml:"candidate_limit"`
}

// DefaultPolicy creates entities for unknown names and skips short person
// names and ambiguous matches.
func DefaultPolicy() Policy {
	return Policy{
		LinkToUnrecognizedEntities:  true,
		LinkToAmbiguousEntities:     false,
		LinkShortPersonNames:        false,
		ShortPersonNameMaxTokens:    1,
		AmbiguityCandidateThreshold: 2,
		CandidateLimit:              3,
	}
}

// Validate rejects thresholds that would make every group ambiguous or
// query no candidates.
func (p Policy) Validate() error {
	if p.ShortPersonNameMaxTokens < 0 {
		return fmt.Errorf("short_person_name_max_tokens must be >= 0: %w", pferrors.ErrValidation)
	}
	if p.AmbiguityCandidateThreshold < 2 {
		return fmt.Errorf("ambiguity_candidate_threshold must be >= 2: %w", pferrors.ErrValidation)
	}
	if p.CandidateLimit < p.AmbiguityCandidateThreshold {
		return fmt.Errorf("candidate_limit (%d) must be >= ambiguity_candidate_threshold (%d): %w",
			p.CandidateLimit, p.AmbiguityCandidateThreshold, pferrors.ErrValidation)
	}
	return nil
}

// Outcome is what linking did with one group.
type Outcome string

const (
	OutcomeLinked              Outcome = "linked"
	OutcomeCreated             Outcome = "created"
	OutcomeSkippedShortName    Outcome = "skipped_short_name"
	OutcomeSkippedUnrecognized Outcome = "skipped_unrecognized"
	OutcomeSkippedAmbiguous    Outcome = "skipped_ambiguous"
)

// Skipped reports whether the group was left unlinked.
func (o Outcome) Skipped() bool {
	return o != OutcomeLinked && o != OutcomeCreated
}

// IsShortPersonName reports whether the group must be skipped before any
// candidate lookup.
func (p Policy) IsShortPersonName(group model.OccurrenceGroup) bool {
	if p.LinkShortPersonNames || group.Type != model.TypePerson {
		return false
	}
	return len(model.NameTokens(group.Name)) <= p.ShortPersonNameMaxTokens
}

// Decide picks the outcome for a group given how many candidates matched.
func (p Policy) Decide(group model.OccurrenceGroup, candidates int) Outcome {
	switch {
	case p.IsShortPersonName(group):
		return OutcomeSkippedShortName
	case candidates == 0 && p.LinkToUnrecognizedEntities:
		return OutcomeCreated
	case candidates == 0:
		return OutcomeSkippedUnrecognized
	case candidates >= p.AmbiguityCandidateThreshold && !p.LinkToAmbiguousEntities:
		return OutcomeSkippedAmbiguous
	default:
		return OutcomeLinked
	}
}
