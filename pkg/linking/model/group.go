package model

import "sort"

// Local entity types.
const (
	TypePerson       = "Person"
	TypePlace        = "Place"
	TypeOrganization = "Organization"
)

// OccurrenceGroup collects the mentions that one analysis run attributes to a
// single entity name and type.
type OccurrenceGroup struct {
	Name              string             `json:"name"`
	Type              string             `json:"type"`
	Occurrences       []OccurrenceInfo   `json:"occurrences"`
	EntitySuggestions []EntitySuggestion `json:"entitySuggestions,omitempty"`
}

// Less orders groups by type, then name.
func (g OccurrenceGroup) Less(other OccurrenceGroup) bool {
	if g.Type != other.Type {
		return g.Type < other.Type
	}
	return g.Name < other.Name
}

// SortGroups sorts groups in place by (type, name).
func SortGroups(groups []OccurrenceGroup) {
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Less(groups[j])
	})
}
