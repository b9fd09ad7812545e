package graph

// Namespaces and terms of the FISE enhancement structure.
const (
	NSRDF  = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
	NSDC   = "http://purl.org/dc/terms/"
	NSFISE = "http://fise.iks-project.eu/ontology/"

	RDFType = NSRDF + "type"

	DCType     = NSDC + "type"
	DCRelation = NSDC + "relation"

	FISETextAnnotation   = NSFISE + "TextAnnotation"
	FISEEntityAnnotation = NSFISE + "EntityAnnotation"
	FISESelectedText     = NSFISE + "selected-text"
	FISESelectionContext = NSFISE + "selection-context"
	FISEStart            = NSFISE + "start"
	FISEEnd              = NSFISE + "end"
	FISEConfidence       = NSFISE + "confidence"
	FISEEntityReference  = NSFISE + "entity-reference"
	FISEEntityLabel      = NSFISE + "entity-label"
	FISEEntityType       = NSFISE + "entity-type"
)

// Semantic type IRIs commonly emitted by annotation engines.
const (
	DBpediaPerson       = "http://dbpedia.org/ontology/Person"
	DBpediaPlace        = "http://dbpedia.org/ontology/Place"
	DBpediaOrganisation = "http://dbpedia.org/ontology/Organisation"
	FOAFPerson          = "http://xmlns.com/foaf/0.1/Person"
	FOAFOrganization    = "http://xmlns.com/foaf/0.1/Organization"
	SchemaPerson        = "http://schema.org/Person"
	SchemaPlace         = "http://schema.org/Place"
	SchemaOrganization  = "http://schema.org/Organization"
)
