package store

import (
	"fmt"
	"sort"
	"strings"

	"github.com/coolbeans/timeagnostic/pkg/rdf"
)

// RDFXMLSerializer writes the triples of a quad set as RDF/XML. Graph
// names are dropped: RDF/XML has no named graphs.
type RDFXMLSerializer struct {
	prefixMappings []PrefixMapping
	namespaceIndex map[string]string // namespace -> prefix
}

// RDFXMLOption is a functional option for configuring the RDFXMLSerializer.
type RDFXMLOption func(*RDFXMLSerializer)

// NewRDFXMLSerializer creates an RDFXMLSerializer with standard namespace declarations.
func NewRDFXMLSerializer(options ...RDFXMLOption) *RDFXMLSerializer {
	serializer := &RDFXMLSerializer{
		prefixMappings: defaultPrefixMappings(),
	}

	for _, option := range options {
		option(serializer)
	}

	return serializer
}

// WithRDFXMLPrefix adds or overrides a namespace prefix mapping.
func WithRDFXMLPrefix(prefix, namespace string) RDFXMLOption {
	return func(serializer *RDFXMLSerializer) {
		serializer.prefixMappings = append(serializer.prefixMappings, PrefixMapping{
			Prefix:    prefix,
			Namespace: namespace,
		})
	}
}

// Serialize renders the triples of set. Predicates outside every known
// namespace get generated ns0, ns1, ... prefixes, since an XML element
// name cannot hold a full IRI.
func (serializer *RDFXMLSerializer) Serialize(set *rdf.QuadSet) string {
	triples := set.WithoutGraphs().Quads()
	prefixes := serializer.prefixesFor(triples)

	var builder strings.Builder
	writeXMLHeader(&builder, prefixes)

	for i := 0; i < len(triples); {
		subject := triples[i].Subject
		j := i
		for j < len(triples) && triples[j].Subject == subject {
			j++
		}
		serializer.writeDescription(&builder, triples[i:j], prefixes)
		i = j
	}

	builder.WriteString("</rdf:RDF>\n")
	return builder.String()
}

// prefixesFor returns namespace -> prefix for the configured mappings
// plus one generated prefix for every other predicate namespace.
func (serializer *RDFXMLSerializer) prefixesFor(triples []rdf.Quad) map[string]string {
	prefixes := make(map[string]string, len(serializer.prefixMappings))
	for _, mapping := range serializer.prefixMappings {
		prefixes[mapping.Namespace] = mapping.Prefix
	}
	prefixes[rdf.NamespaceRDF] = "rdf"

	generated := 0
	for _, q := range triples {
		if _, _, ok := splitQName(q.Predicate.Value, prefixes); ok {
			continue
		}
		namespace, _ := splitNamespace(q.Predicate.Value)
		if namespace == "" {
			continue
		}
		prefixes[namespace] = fmt.Sprintf("ns%d", generated)
		generated++
	}
	return prefixes
}

func writeXMLHeader(builder *strings.Builder, prefixes map[string]string) {
	builder.WriteString("<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n")
	builder.WriteString("<rdf:RDF")

	namespaces := make([]string, 0, len(prefixes))
	for namespace := range prefixes {
		namespaces = append(namespaces, namespace)
	}
	sort.Slice(namespaces, func(i, j int) bool {
		return prefixes[namespaces[i]] < prefixes[namespaces[j]]
	})

	for _, namespace := range namespaces {
		fmt.Fprintf(builder, "\n    xmlns:%s=\"%s\"", prefixes[namespace], escapeXMLAttribute(namespace))
	}

	builder.WriteString(">\n")
}

// writeDescription writes an rdf:Description block for one subject's
// triples, which arrive sorted and contiguous.
func (serializer *RDFXMLSerializer) writeDescription(builder *strings.Builder, triples []rdf.Quad, prefixes map[string]string) {
	subject := triples[0].Subject

	builder.WriteString("\n")
	if subject.Kind == rdf.KindBlankNode {
		fmt.Fprintf(builder, "  <rdf:Description rdf:nodeID=\"%s\">\n", escapeXMLAttribute(subject.Value))
	} else {
		fmt.Fprintf(builder, "  <rdf:Description rdf:about=\"%s\">\n", escapeXMLAttribute(subject.Value))
	}

	predicates := make(map[rdf.Term][]rdf.Term)
	for _, q := range triples {
		predicates[q.Predicate] = append(predicates[q.Predicate], q.Object)
	}
	for _, predicate := range sortPredicatesTypeFirst(predicates) {
		for _, object := range predicates[predicate] {
			writeProperty(builder, elementName(predicate.Value, prefixes), object)
		}
	}

	builder.WriteString("  </rdf:Description>\n")
}

// writeProperty writes a single predicate-object pair as an XML element.
func writeProperty(builder *strings.Builder, element string, object rdf.Term) {
	switch object.Kind {
	case rdf.KindURI:
		fmt.Fprintf(builder, "    <%s rdf:resource=\"%s\"/>\n", element, escapeXMLAttribute(object.Value))
	case rdf.KindBlankNode:
		fmt.Fprintf(builder, "    <%s rdf:nodeID=\"%s\"/>\n", element, escapeXMLAttribute(object.Value))
	case rdf.KindTypedLiteral:
		fmt.Fprintf(builder, "    <%s rdf:datatype=\"%s\">%s</%s>\n",
			element, escapeXMLAttribute(object.Datatype), escapeXMLText(object.Value), element)
	case rdf.KindLangLiteral:
		fmt.Fprintf(builder, "    <%s xml:lang=\"%s\">%s</%s>\n",
			element, escapeXMLAttribute(object.Lang), escapeXMLText(object.Value), element)
	default:
		fmt.Fprintf(builder, "    <%s>%s</%s>\n", element, escapeXMLText(object.Value), element)
	}
}

func elementName(predicate string, prefixes map[string]string) string {
	if prefix, local, ok := splitQName(predicate, prefixes); ok {
		return prefix + ":" + local
	}
	// Not expressible as a QName; preserve the data.
	return predicate
}

// splitQName splits a full URI into the longest registered namespace and
// a local name that is a valid XML name.
func splitQName(fullURI string, prefixes map[string]string) (string, string, bool) {
	bestNamespace := ""
	for namespace := range prefixes {
		if strings.HasPrefix(fullURI, namespace) && len(namespace) > len(bestNamespace) &&
			isXMLName(fullURI[len(namespace):]) {
			bestNamespace = namespace
		}
	}
	if bestNamespace == "" {
		return "", "", false
	}
	return prefixes[bestNamespace], fullURI[len(bestNamespace):], true
}

// splitNamespace cuts a URI after its last '#' or '/' when the rest is a
// valid XML name.
func splitNamespace(uri string) (string, string) {
	cut := strings.LastIndexAny(uri, "#/")
	if cut < 0 || !isXMLName(uri[cut+1:]) {
		return "", ""
	}
	return uri[:cut+1], uri[cut+1:]
}

func isXMLName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
		case i > 0 && (r == '-' || r == '.' || (r >= '0' && r <= '9')):
		default:
			return false
		}
	}
	return true
}

// escapeXMLText escapes characters that are special in XML text content.
func escapeXMLText(text string) string {
	var builder strings.Builder
	builder.Grow(len(text) + len(text)/8)

	for _, char := range text {
		switch char {
		case '&':
			builder.WriteString("&amp;")
		case '<':
			builder.WriteString("&lt;")
		case '>':
			builder.WriteString("&gt;")
		default:
			builder.WriteRune(char)
		}
	}

	return builder.String()
}

// escapeXMLAttribute escapes characters that are special in XML attribute values.
func escapeXMLAttribute(text string) string {
	return strings.ReplaceAll(escapeXMLText(text), `"`, "&quot;")
}
