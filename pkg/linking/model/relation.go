package model

import "time"

// OccurrenceRelation links one source document to one target entity and
// carries the deduplicated occurrences of the entity in the document.
type OccurrenceRelation struct {
	ID          string           `json:"id"`
	SourceID    string           `json:"sourceId"`
	TargetID    string           `json:"targetId"`
	Occurrences []OccurrenceInfo `json:"occurrences"`
	Deleted     bool             `json:"deleted"`
	Version     int64            `json:"version"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// IsNew reports whether the relation has not been stored yet.
func (r *OccurrenceRelation) IsNew() bool {
	return r.ID == ""
}

// AddOccurrences merges occs into the relation with set semantics and returns
// how many were new.
func (r *OccurrenceRelation) AddOccurrences(occs []OccurrenceInfo) int {
	var added int
	r.Occurrences, added = MergeOccurrences(r.Occurrences, occs)
	return added
}

// SetOccurrences replaces the occurrence list wholesale, deduplicating it.
func (r *OccurrenceRelation) SetOccurrences(occs []OccurrenceInfo) {
	r.Occurrences, _ = MergeOccurrences(nil, occs)
}
