package model

import "time"

// Entity is a stored record describing a real-world person, place or
// organization.
type Entity struct {
	ID                   string    `json:"id"`
	ContainerID          string    `json:"containerId,omitempty"`
	Title                string    `json:"title"`
	Type                 string    `json:"type"`
	AltNames             []string  `json:"altNames,omitempty"`
	NormalizedNames      []string  `json:"normalizedNames,omitempty"`
	Popularity           float64   `json:"popularity"`
	SameAsURIs           []string  `json:"sameAsURIs,omitempty"`
	SameAsLabels         []string  `json:"sameAsLabels,omitempty"`
	AutomaticallyCreated bool      `json:"automaticallyCreated"`
	Deleted              bool      `json:"deleted"`
	Version              int64     `json:"version"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// AddAltName records name as an alternative name. The title itself is never
// an alternative name. Returns true when the entity changed.
func (e *Entity) AddAltName(name string) bool {
	if name == "" || name == e.Title {
		return false
	}
	var added int
	e.AltNames, added = AppendUnique(e.AltNames, name)
	return added > 0
}

// AddSameAs links a remote description; URIs and labels stay parallel.
func (e *Entity) AddSameAs(uri, label string) bool {
	if uri == "" || contains(e.SameAsURIs, uri) {
		return false
	}
	e.SameAsURIs = append(e.SameAsURIs, uri)
	e.SameAsLabels = append(e.SameAsLabels, label)
	return true
}

// Normalize drops the title from the alternative names and recomputes the
// normalized names used for accent-insensitive matching.
func (e *Entity) Normalize() {
	alt := e.AltNames[:0:0]
	for _, name := range e.AltNames {
		if name != e.Title {
			alt, _ = AppendUnique(alt, name)
		}
	}
	e.AltNames = alt

	var normalized []string
	normalized, _ = AppendUnique(normalized, NormalizeName(e.Title))
	for _, name := range e.AltNames {
		normalized, _ = AppendUnique(normalized, NormalizeName(name))
	}
	e.NormalizedNames = normalized
}

// EntityContainer is the singleton parent of automatically created entities.
type EntityContainer struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}
