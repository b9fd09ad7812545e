// Package model holds the value types exchanged between the annotation parser,
// the entity resolver and the store: occurrences, occurrence groups, entity
// suggestions, occurrence relations, entities and source documents.
package model
