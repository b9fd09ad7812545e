package model

import "sort"

// EntitySuggestion is a scored candidate entity, either stored locally or only
// known through remote URIs.
type EntitySuggestion struct {
	Label                string   `json:"label"`
	Type                 string   `json:"type"`
	Score                float64  `json:"score"`
	AutomaticallyCreated bool     `json:"automaticallyCreated"`
	AlternativeNames     []string `json:"alternativeNames,omitempty"`
	RemoteURIs           []string `json:"remoteURIs,omitempty"`
	// EntityID references the local entity record, empty for remote-only
	// suggestions.
	EntityID string `json:"entityId,omitempty"`
}

// IsLocal reports whether the suggestion refers to a stored entity.
func (s EntitySuggestion) IsLocal() bool {
	return s.EntityID != ""
}

// AddAlternativeName records name unless it is already known.
func (s *EntitySuggestion) AddAlternativeName(name string) {
	s.AlternativeNames, _ = AppendUnique(s.AlternativeNames, name)
}

// AddRemoteURI records uri unless it is already known.
func (s *EntitySuggestion) AddRemoteURI(uri string) {
	s.RemoteURIs, _ = AppendUnique(s.RemoteURIs, uri)
}

// SuggestionFromEntity turns a stored entity into a local suggestion.
func SuggestionFromEntity(e *Entity, score float64) EntitySuggestion {
	s := EntitySuggestion{
		Label:                e.Title,
		Type:                 e.Type,
		Score:                score,
		AutomaticallyCreated: e.AutomaticallyCreated,
		EntityID:             e.ID,
	}
	for _, name := range e.AltNames {
		s.AddAlternativeName(name)
	}
	for _, uri := range e.SameAsURIs {
		s.AddRemoteURI(uri)
	}
	return s
}

// SortSuggestions orders suggestions by descending score, keeping the input
// order between equal scores.
func SortSuggestions(suggestions []EntitySuggestion) {
	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Score > suggestions[j].Score
	})
}

// AppendUnique appends the values not yet present in set, preserving
// insertion order. It returns the set and how many values were added.
func AppendUnique(set []string, values ...string) ([]string, int) {
	added := 0
	for _, v := range values {
		if v == "" || contains(set, v) {
			continue
		}
		set = append(set, v)
		added++
	}
	return set, added
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
