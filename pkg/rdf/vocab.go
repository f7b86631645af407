package rdf

// Namespaces used by provenance trails.
const (
	NamespaceProv    = "http://www.w3.org/ns/prov#"
	NamespaceDCTerms = "http://purl.org/dc/terms/"
	NamespaceOCO     = "https://w3id.org/oc/ontology/"
	NamespaceRDF     = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
	NamespaceXSD     = "http://www.w3.org/2001/XMLSchema#"
)

// Provenance vocabulary.
const (
	ProvEntity            = NamespaceProv + "Entity"
	ProvGeneratedAtTime   = NamespaceProv + "generatedAtTime"
	ProvInvalidatedAtTime = NamespaceProv + "invalidatedAtTime"
	ProvSpecializationOf  = NamespaceProv + "specializationOf"
	ProvWasDerivedFrom    = NamespaceProv + "wasDerivedFrom"
	ProvHadPrimarySource  = NamespaceProv + "hadPrimarySource"
	ProvWasAttributedTo   = NamespaceProv + "wasAttributedTo"
	DCTermsDescription    = NamespaceDCTerms + "description"
	OCOHasUpdateQuery     = NamespaceOCO + "hasUpdateQuery"

	RDFType     = NamespaceRDF + "type"
	XSDString   = NamespaceXSD + "string"
	XSDDateTime = NamespaceXSD + "dateTime"
	XSDInteger  = NamespaceXSD + "integer"
	XSDBoolean  = NamespaceXSD + "boolean"
	XSDDecimal  = NamespaceXSD + "decimal"
	XSDDouble   = NamespaceXSD + "double"
)

var provenancePredicates = map[string]struct{}{
	ProvGeneratedAtTime:   {},
	ProvInvalidatedAtTime: {},
	ProvSpecializationOf:  {},
	ProvWasDerivedFrom:    {},
	ProvHadPrimarySource:  {},
	ProvWasAttributedTo:   {},
	DCTermsDescription:    {},
	OCOHasUpdateQuery:     {},
}

// IsProvenancePredicate reports whether uri is one of the snapshot
// properties stripped from materialized entity states.
func IsProvenancePredicate(uri string) bool {
	_, ok := provenancePredicates[uri]
	return ok
}

// IsTraversable reports whether a quad's object links to another entity
// that discovery should follow: a URI object reached through a predicate
// that is neither provenance nor rdf:type.
func IsTraversable(q Quad) bool {
	return q.Object.IsURI() && q.Predicate.Value != RDFType && !IsProvenancePredicate(q.Predicate.Value)
}
