package store

import (
	"fmt"
	"sort"
	"strings"

	"github.com/coolbeans/timeagnostic/pkg/rdf"
)

// PrefixMapping associates a short prefix label with its full namespace URI.
type PrefixMapping struct {
	Prefix    string
	Namespace string
}

func defaultPrefixMappings() []PrefixMapping {
	return []PrefixMapping{
		{Prefix: "rdf", Namespace: rdf.NamespaceRDF},
		{Prefix: "xsd", Namespace: rdf.NamespaceXSD},
		{Prefix: "prov", Namespace: rdf.NamespaceProv},
		{Prefix: "dcterms", Namespace: rdf.NamespaceDCTerms},
		{Prefix: "oco", Namespace: rdf.NamespaceOCO},
	}
}

// TriGSerializer writes quads as TriG: one block per named graph, with
// triples grouped by subject.
type TriGSerializer struct {
	prefixMappings []PrefixMapping
	namespaceIndex map[string]string // namespace -> prefix
}

// TriGOption is a functional option for configuring the TriGSerializer.
type TriGOption func(*TriGSerializer)

// NewTriGSerializer creates a TriGSerializer with standard prefix declarations.
func NewTriGSerializer(options ...TriGOption) *TriGSerializer {
	serializer := &TriGSerializer{
		prefixMappings: defaultPrefixMappings(),
	}

	for _, option := range options {
		option(serializer)
	}

	serializer.namespaceIndex = make(map[string]string, len(serializer.prefixMappings))
	for _, mapping := range serializer.prefixMappings {
		serializer.namespaceIndex[mapping.Namespace] = mapping.Prefix
	}

	return serializer
}

// WithPrefix adds or overrides a prefix mapping.
func WithPrefix(prefix, namespace string) TriGOption {
	return func(serializer *TriGSerializer) {
		serializer.prefixMappings = append(serializer.prefixMappings, PrefixMapping{
			Prefix:    prefix,
			Namespace: namespace,
		})
	}
}

// WithoutDefaultPrefixes clears default prefixes so only custom ones are used.
func WithoutDefaultPrefixes() TriGOption {
	return func(serializer *TriGSerializer) {
		serializer.prefixMappings = nil
	}
}

// Serialize renders set as TriG. Default-graph triples come first, outside
// any graph block.
func (serializer *TriGSerializer) Serialize(set *rdf.QuadSet) string {
	var builder strings.Builder

	serializer.writePrefixDeclarations(&builder)

	byGraph := make(map[rdf.Term][]rdf.Quad)
	for _, q := range set.Quads() {
		byGraph[q.Graph] = append(byGraph[q.Graph], q)
	}

	graphs := make([]rdf.Term, 0, len(byGraph))
	for g := range byGraph {
		graphs = append(graphs, g)
	}
	sort.Slice(graphs, func(i, j int) bool {
		return graphs[i].Canonical() < graphs[j].Canonical()
	})

	for graphIndex, graph := range graphs {
		if graphIndex > 0 {
			builder.WriteString("\n")
		}
		indent := ""
		if !graph.IsZero() {
			builder.WriteString(serializer.formatTerm(graph))
			builder.WriteString(" {\n")
			indent = "    "
		}
		serializer.writeSubjectGroups(&builder, byGraph[graph], indent)
		if !graph.IsZero() {
			builder.WriteString("}\n")
		}
	}

	return builder.String()
}

func (serializer *TriGSerializer) writePrefixDeclarations(builder *strings.Builder) {
	sortedPrefixes := make([]PrefixMapping, len(serializer.prefixMappings))
	copy(sortedPrefixes, serializer.prefixMappings)
	sort.Slice(sortedPrefixes, func(i, j int) bool {
		return sortedPrefixes[i].Prefix < sortedPrefixes[j].Prefix
	})

	for _, mapping := range sortedPrefixes {
		fmt.Fprintf(builder, "@prefix %s: <%s> .\n", mapping.Prefix, mapping.Namespace)
	}

	if len(serializer.prefixMappings) > 0 {
		builder.WriteString("\n")
	}
}

// writeSubjectGroups expects quads sorted by canonical form, which keeps
// each subject's statements contiguous.
func (serializer *TriGSerializer) writeSubjectGroups(builder *strings.Builder, quads []rdf.Quad, indent string) {
	for i := 0; i < len(quads); {
		subject := quads[i].Subject
		j := i
		for j < len(quads) && quads[j].Subject == subject {
			j++
		}
		serializer.writeSubjectGroup(builder, quads[i:j], indent)
		i = j
	}
}

func (serializer *TriGSerializer) writeSubjectGroup(builder *strings.Builder, quads []rdf.Quad, indent string) {
	builder.WriteString(indent)
	builder.WriteString(serializer.formatTerm(quads[0].Subject))

	predicates := make(map[rdf.Term][]rdf.Term)
	for _, q := range quads {
		predicates[q.Predicate] = append(predicates[q.Predicate], q.Object)
	}

	for predicateIndex, predicate := range sortPredicatesTypeFirst(predicates) {
		if predicateIndex == 0 {
			builder.WriteString(" ")
		} else {
			builder.WriteString(" ;\n" + indent + "    ")
		}
		builder.WriteString(serializer.formatPredicate(predicate))

		for objectIndex, object := range predicates[predicate] {
			if objectIndex > 0 {
				builder.WriteString(" ,\n" + indent + "        ")
			} else {
				builder.WriteString(" ")
			}
			builder.WriteString(serializer.formatTerm(object))
		}
	}

	builder.WriteString(" .\n")
}

// formatPredicate formats a predicate, using "a" shorthand for rdf:type.
func (serializer *TriGSerializer) formatPredicate(predicate rdf.Term) string {
	if predicate.Value == rdf.RDFType {
		return "a"
	}
	return serializer.formatTerm(predicate)
}

func (serializer *TriGSerializer) formatTerm(term rdf.Term) string {
	switch term.Kind {
	case rdf.KindURI:
		if compacted, ok := serializer.compactURI(term.Value); ok {
			return compacted
		}
		return term.Canonical()
	case rdf.KindTypedLiteral:
		if term.Datatype == rdf.XSDString {
			return rdf.NewLiteral(term.Value).Canonical()
		}
		lexical := rdf.NewLiteral(term.Value).Canonical()
		if compacted, ok := serializer.compactURI(term.Datatype); ok {
			return lexical + "^^" + compacted
		}
		return lexical + "^^<" + term.Datatype + ">"
	default:
		return term.Canonical()
	}
}

// compactURI replaces a full namespace URI with its prefix form.
func (serializer *TriGSerializer) compactURI(fullURI string) (string, bool) {
	// Longest namespace wins.
	bestPrefix := ""
	bestNamespace := ""
	for namespace, prefix := range serializer.namespaceIndex {
		if strings.HasPrefix(fullURI, namespace) && len(namespace) > len(bestNamespace) {
			localName := fullURI[len(namespace):]
			if isValidLocalName(localName) {
				bestPrefix = prefix
				bestNamespace = namespace
			}
		}
	}

	if bestNamespace != "" {
		return bestPrefix + ":" + fullURI[len(bestNamespace):], true
	}
	return "", false
}

// sortPredicatesTypeFirst sorts predicates with rdf:type first, then by IRI.
func sortPredicatesTypeFirst(predicateObjectMap map[rdf.Term][]rdf.Term) []rdf.Term {
	predicates := make([]rdf.Term, 0, len(predicateObjectMap))
	hasRDFType := false

	for predicate := range predicateObjectMap {
		if predicate.Value == rdf.RDFType {
			hasRDFType = true
		} else {
			predicates = append(predicates, predicate)
		}
	}

	sort.Slice(predicates, func(i, j int) bool {
		return predicates[i].Value < predicates[j].Value
	})

	if hasRDFType {
		predicates = append([]rdf.Term{rdf.NewURI(rdf.RDFType)}, predicates...)
	}

	return predicates
}

// isValidLocalName checks if a string can be written as a prefixed local
// name without escaping.
func isValidLocalName(localName string) bool {
	if localName == "" {
		return false
	}
	if strings.HasSuffix(localName, ".") {
		return false
	}
	return !strings.ContainsAny(localName, " \t\n\r<>\"{}|^`\\/#?&=%:~'()")
}
