package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/coolbeans/timeagnostic/pkg/rdf"
)

// GraphNode represents a node in the graph visualization.
type GraphNode struct {
	ID       string            `json:"id"`
	Label    string            `json:"label"`
	Type     string            `json:"type"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// GraphEdge represents an edge in the graph visualization.
type GraphEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label"`
	Type   string `json:"type"`
}

// GraphExport represents the complete graph for visualization.
type GraphExport struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
	Stats GraphStats  `json:"stats"`
}

// GraphStats contains summary statistics for the graph.
type GraphStats struct {
	TotalNodes  int            `json:"total_nodes"`
	TotalEdges  int            `json:"total_edges"`
	NodesByType map[string]int `json:"nodes_by_type"`
	EdgesByType map[string]int `json:"edges_by_type"`
}

var labelPredicates = []string{
	"http://www.w3.org/2000/01/rdf-schema#label",
	rdf.NamespaceDCTerms + "title",
	"http://xmlns.com/foaf/0.1/name",
}

// ExportGraph turns the triples of set into nodes and edges: every IRI or
// blank node is a node, every statement linking two of them is an edge,
// and short literals become node metadata.
func ExportGraph(set *rdf.QuadSet) *GraphExport {
	export := &GraphExport{
		Nodes: make([]GraphNode, 0),
		Edges: make([]GraphEdge, 0),
		Stats: GraphStats{
			NodesByType: make(map[string]int),
			EdgesByType: make(map[string]int),
		},
	}

	triples := set.WithoutGraphs()
	nodes := make(map[rdf.Term]bool)
	var order []rdf.Term
	addNode := func(t rdf.Term) {
		if !nodes[t] {
			nodes[t] = true
			order = append(order, t)
		}
	}

	for _, q := range triples.Quads() {
		addNode(q.Subject)
		if !isResource(q.Object) || q.Predicate.Value == rdf.RDFType {
			continue
		}
		addNode(q.Object)
		export.Edges = append(export.Edges, GraphEdge{
			Source: q.Subject.Value,
			Target: q.Object.Value,
			Label:  localName(q.Predicate.Value),
			Type:   q.Predicate.Value,
		})
		export.Stats.EdgesByType[q.Predicate.Value]++
	}

	for _, t := range order {
		node := createNode(t, triples)
		export.Nodes = append(export.Nodes, node)
		export.Stats.NodesByType[node.Type]++
	}

	export.Stats.TotalNodes = len(export.Nodes)
	export.Stats.TotalEdges = len(export.Edges)
	return export
}

func isResource(t rdf.Term) bool {
	return t.Kind == rdf.KindURI || t.Kind == rdf.KindBlankNode
}

// createNode describes t from its own statements in set.
func createNode(t rdf.Term, set *rdf.QuadSet) GraphNode {
	node := GraphNode{
		ID:       t.Value,
		Label:    localName(t.Value),
		Metadata: make(map[string]string),
	}

	statements := set.Find(rdf.QuadPattern{Subject: t})
	for _, q := range statements {
		switch {
		case q.Predicate.Value == rdf.RDFType && node.Type == "":
			node.Type = localName(q.Object.Value)
		case !isResource(q.Object) && len(q.Object.Value) < 100:
			node.Metadata[localName(q.Predicate.Value)] = q.Object.Value
		}
	}
	for _, p := range labelPredicates {
		if label, ok := node.Metadata[localName(p)]; ok {
			node.Label = label
			break
		}
	}
	if node.Type == "" {
		node.Type = "Resource"
	}
	return node
}

// localName returns the segment after the last '#' or '/'.
func localName(uri string) string {
	if idx := strings.LastIndexAny(uri, "#/"); idx != -1 && idx < len(uri)-1 {
		return uri[idx+1:]
	}
	return uri
}

// ToJSON serializes the graph export to JSON.
func (g *GraphExport) ToJSON() ([]byte, error) {
	return json.MarshalIndent(g, "", "  ")
}

// ToDOT exports the graph in DOT format for Graphviz, one fill colour per
// node type.
func (g *GraphExport) ToDOT(name string) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "digraph %q {\n", name)
	sb.WriteString("  rankdir=LR;\n")
	sb.WriteString("  node [shape=box];\n\n")

	palette := []string{"lightblue", "lightgreen", "lightyellow", "lightpink", "lightcoral", "lavender", "lightsalmon", "gold"}
	typeColors := make(map[string]string)
	types := make([]string, 0, len(g.Stats.NodesByType))
	for typ := range g.Stats.NodesByType {
		types = append(types, typ)
	}
	sort.Strings(types)
	for i, typ := range types {
		typeColors[typ] = palette[i%len(palette)]
	}

	for _, node := range g.Nodes {
		label := node.Label
		if len(label) > 30 {
			label = label[:30] + "..."
		}
		fmt.Fprintf(&sb, "  %q [label=%q style=filled fillcolor=%s];\n", node.ID, label, typeColors[node.Type])
	}

	sb.WriteString("\n")

	for _, edge := range g.Edges {
		fmt.Fprintf(&sb, "  %q -> %q [label=%q];\n", edge.Source, edge.Target, edge.Label)
	}

	sb.WriteString("}\n")
	return sb.String()
}
