package store

import (
	"encoding/json"
	"io"
	"sort"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/piprate/json-gold/ld"

	"github.com/coolbeans/timeagnostic/pkg/errors"
	"github.com/coolbeans/timeagnostic/pkg/rdf"
)

// jsonldDocumentLoader fetches remote @context documents, retrying
// transient failures.
var jsonldDocumentLoader ld.DocumentLoader = newJSONLDDocumentLoader()

func newJSONLDDocumentLoader() ld.DocumentLoader {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.Logger = nil
	return ld.NewDefaultDocumentLoader(client.StandardClient())
}

// ParseJSONLD reads a JSON-LD document from r and converts it to quads.
// Remote contexts are fetched. Blank nodes are relabelled.
func ParseJSONLD(r io.Reader) ([]rdf.Quad, error) {
	doc, err := ld.DocumentFromReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "decode json-ld")
	}

	options := ld.NewJsonLdOptions("")
	options.DocumentLoader = jsonldDocumentLoader
	out, err := ld.NewJsonLdProcessor().ToRDF(doc, options)
	if err != nil {
		return nil, errors.WithHint(errors.Wrap(err, "expand json-ld"),
			"check that every @context is reachable and the document is valid JSON-LD")
	}
	dataset, ok := out.(*ld.RDFDataset)
	if !ok {
		return nil, errors.Newf("unexpected json-ld result %T", out)
	}

	names := make([]string, 0, len(dataset.Graphs))
	for name := range dataset.Graphs {
		names = append(names, name)
	}
	sort.Strings(names)

	var quads []rdf.Quad
	for _, name := range names {
		var graph rdf.Term
		switch {
		case name == "@default":
		case strings.HasPrefix(name, "_:"):
			graph = rdf.NewBlankNode(name)
		default:
			graph = rdf.NewURI(name)
		}
		for _, q := range dataset.Graphs[name] {
			quads = append(quads, rdf.NewQuad(
				fromJSONLDNode(q.Subject),
				fromJSONLDNode(q.Predicate),
				fromJSONLDNode(q.Object),
				graph,
			))
		}
	}
	return quads, nil
}

// fromJSONLDNode maps a json-gold node to a term. xsd:string literals
// become plain literals, matching the N-Quads loader.
func fromJSONLDNode(node ld.Node) rdf.Term {
	switch n := node.(type) {
	case *ld.IRI:
		return rdf.NewURI(n.Value)
	case *ld.BlankNode:
		return rdf.NewBlankNode(n.Attribute)
	case *ld.Literal:
		switch {
		case n.Language != "":
			return rdf.NewLangLiteral(n.Value, n.Language)
		case n.Datatype == "" || n.Datatype == rdf.XSDString:
			return rdf.NewLiteral(n.Value)
		default:
			return rdf.NewTypedLiteral(n.Value, n.Datatype)
		}
	default:
		return rdf.NewLiteral(node.GetValue())
	}
}

// JSONLDSerializer writes quads as expanded JSON-LD, one top-level object
// per named graph.
type JSONLDSerializer struct {
	indent string
}

// JSONLDOption is a functional option for configuring the JSONLDSerializer.
type JSONLDOption func(*JSONLDSerializer)

// WithIndent sets the indentation used for output.
func WithIndent(indent string) JSONLDOption {
	return func(serializer *JSONLDSerializer) {
		serializer.indent = indent
	}
}

// NewJSONLDSerializer creates a JSONLDSerializer.
func NewJSONLDSerializer(options ...JSONLDOption) *JSONLDSerializer {
	serializer := &JSONLDSerializer{indent: "  "}
	for _, option := range options {
		option(serializer)
	}
	return serializer
}

// Serialize converts set to expanded JSON-LD.
func (serializer *JSONLDSerializer) Serialize(set *rdf.QuadSet) ([]byte, error) {
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

	doc := make([]map[string]interface{}, 0, len(graphs))
	for _, g := range graphs {
		nodes := serializer.buildNodes(byGraph[g])
		if g.IsZero() {
			for _, n := range nodes {
				doc = append(doc, n)
			}
			continue
		}
		doc = append(doc, map[string]interface{}{
			"@id":    jsonldID(g),
			"@graph": nodes,
		})
	}

	return json.MarshalIndent(doc, "", serializer.indent)
}

func (serializer *JSONLDSerializer) buildNodes(quads []rdf.Quad) []map[string]interface{} {
	var nodes []map[string]interface{}
	var current map[string]interface{}
	var currentSubject rdf.Term

	for _, q := range quads {
		if current == nil || q.Subject != currentSubject {
			current = map[string]interface{}{"@id": jsonldID(q.Subject)}
			currentSubject = q.Subject
			nodes = append(nodes, current)
		}
		if q.Predicate.Value == rdf.RDFType && q.Object.IsURI() {
			types, _ := current["@type"].([]string)
			current["@type"] = append(types, q.Object.Value)
			continue
		}
		values, _ := current[q.Predicate.Value].([]map[string]string)
		current[q.Predicate.Value] = append(values, jsonldValue(q.Object))
	}
	return nodes
}

func jsonldID(t rdf.Term) string {
	if t.IsBlank() {
		return "_:" + t.Value
	}
	return t.Value
}

func jsonldValue(t rdf.Term) map[string]string {
	switch t.Kind {
	case rdf.KindURI, rdf.KindBlankNode:
		return map[string]string{"@id": jsonldID(t)}
	case rdf.KindTypedLiteral:
		return map[string]string{"@value": t.Value, "@type": t.Datatype}
	case rdf.KindLangLiteral:
		return map[string]string{"@value": t.Value, "@language": t.Lang}
	default:
		return map[string]string{"@value": t.Value}
	}
}
