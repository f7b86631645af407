// Package textsearch finds provenance update statements that mention a set
// of URIs.
//
// The default strategy filters update texts with CONTAINS on the store. The
// index-backed strategies push the lookup to a full-text index that a
// triplestore maintains, and the local strategy pulls every update text and
// scans it client-side. Whatever the engine, a text is only returned when
// it contains every requested URI in angle brackets.
package textsearch

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/coolbeans/timeagnostic/pkg/errors"
	"github.com/coolbeans/timeagnostic/pkg/rdf"
	"github.com/coolbeans/timeagnostic/pkg/sparql"
)

// Engine names a search strategy.
type Engine string

const (
	EngineContains   Engine = "contains"
	EngineBlazegraph Engine = "blazegraph"
	EngineGraphDB    Engine = "graphdb"
	EngineFuseki     Engine = "fuseki"
	EngineVirtuoso   Engine = "virtuoso"
	EngineLocal      Engine = "local"
)

// Searcher returns the update statements mentioning all of uris.
type Searcher interface {
	Search(ctx context.Context, uris []string) ([]string, error)
	Engine() Engine
}

// Selection is the full-text backend configuration. At most one engine may
// be enabled; with none, the CONTAINS strategy is used.
type Selection struct {
	Blazegraph       bool
	GraphDBConnector string
	Fuseki           bool
	Virtuoso         bool
	Local            bool
}

// Engines lists the enabled engines.
func (s Selection) Engines() []Engine {
	var out []Engine
	if s.Blazegraph {
		out = append(out, EngineBlazegraph)
	}
	if s.GraphDBConnector != "" {
		out = append(out, EngineGraphDB)
	}
	if s.Fuseki {
		out = append(out, EngineFuseki)
	}
	if s.Virtuoso {
		out = append(out, EngineVirtuoso)
	}
	if s.Local {
		out = append(out, EngineLocal)
	}
	return out
}

// Validate rejects a selection that enables more than one engine.
func (s Selection) Validate() error {
	if engines := s.Engines(); len(engines) > 1 {
		return errors.WithHint(
			errors.Wrapf(errors.ErrInvalidConfig, "more than one full-text engine configured: %v", engines),
			"enable at most one of blazegraph, graphdb, fuseki, virtuoso, local")
	}
	return nil
}

// New builds the searcher for sel over the provenance client.
func New(client sparql.Client, sel Selection) (Searcher, error) {
	if err := sel.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, errors.Wrap(errors.ErrInvalidConfig, "text search needs a provenance client")
	}
	engines := sel.Engines()
	if len(engines) == 0 {
		return &querySearcher{client: client, engine: EngineContains, build: containsQuery}, nil
	}
	switch engines[0] {
	case EngineBlazegraph:
		return &querySearcher{client: client, engine: EngineBlazegraph, build: blazegraphQuery}, nil
	case EngineGraphDB:
		connector := sel.GraphDBConnector
		return &querySearcher{client: client, engine: EngineGraphDB, build: func(uris []string) string {
			return graphDBQuery(connector, uris)
		}}, nil
	case EngineFuseki:
		return &querySearcher{client: client, engine: EngineFuseki, build: fusekiQuery}, nil
	case EngineVirtuoso:
		return &querySearcher{client: client, engine: EngineVirtuoso, build: virtuosoQuery}, nil
	default:
		return NewLocal(client), nil
	}
}

// querySearcher sends one engine-specific SELECT and keeps the texts that
// really contain every URI, since index engines tokenize their input.
type querySearcher struct {
	client sparql.Client
	engine Engine
	build  func(uris []string) string
}

func (s *querySearcher) Engine() Engine { return s.engine }

func (s *querySearcher) Search(ctx context.Context, uris []string) ([]string, error) {
	uris = unique(uris)
	if len(uris) == 0 {
		return nil, nil
	}
	matcher, err := newURIMatcher(uris)
	if err != nil {
		return nil, err
	}
	res, err := s.client.Select(ctx, s.build(uris))
	if err != nil {
		return nil, errors.Wrapf(err, "%s text search", s.engine)
	}
	return keepMatching(res.Column("updateQuery"), matcher), nil
}

// keepMatching returns the distinct texts that mention every URI, sorted.
func keepMatching(terms []rdf.Term, matcher *uriMatcher) []string {
	seen := make(map[string]struct{}, len(terms))
	var out []string
	for _, t := range terms {
		if _, ok := seen[t.Value]; ok {
			continue
		}
		seen[t.Value] = struct{}{}
		if matcher.mentionsAll(t.Value) {
			out = append(out, t.Value)
		}
	}
	sort.Strings(out)
	return out
}

func unique(uris []string) []string {
	seen := make(map[string]struct{}, len(uris))
	out := make([]string, 0, len(uris))
	for _, u := range uris {
		if _, ok := seen[u]; ok || u == "" {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

func quoted(s string) string {
	return `"` + rdf.EscapeN3(s) + `"`
}

const updateQueryPattern = "?snapshot <" + rdf.OCOHasUpdateQuery + "> ?updateQuery ."

func containsQuery(uris []string) string {
	var b strings.Builder
	b.WriteString("SELECT DISTINCT ?updateQuery WHERE {\n  " + updateQueryPattern + "\n")
	for _, u := range uris {
		fmt.Fprintf(&b, "  FILTER CONTAINS(STR(?updateQuery), %s)\n", quoted("<"+u+">"))
	}
	b.WriteString("}")
	return b.String()
}

func bracketed(uris []string) string {
	parts := make([]string, len(uris))
	for i, u := range uris {
		parts[i] = "<" + u + ">"
	}
	return strings.Join(parts, " ")
}

func blazegraphQuery(uris []string) string {
	return "PREFIX bds: <http://www.bigdata.com/rdf/search#>\n" +
		"SELECT DISTINCT ?updateQuery WHERE {\n  " + updateQueryPattern + "\n" +
		"  ?updateQuery bds:search " + quoted(bracketed(uris)) + " .\n" +
		"  ?updateQuery bds:matchAllTerms \"true\" .\n}"
}

func graphDBQuery(connector string, uris []string) string {
	terms := make([]string, len(uris))
	for i, u := range uris {
		terms[i] = `"` + u + `"`
	}
	return "PREFIX con: <http://www.ontotext.com/connectors/lucene#>\n" +
		"PREFIX con-inst: <http://www.ontotext.com/connectors/lucene/instance#>\n" +
		"SELECT DISTINCT ?updateQuery WHERE {\n" +
		"  ?search a con-inst:" + connector + " ;\n" +
		"    con:query " + quoted(strings.Join(terms, " AND ")) + " ;\n" +
		"    con:entities ?snapshot .\n  " + updateQueryPattern + "\n}"
}

func fusekiQuery(uris []string) string {
	terms := make([]string, len(uris))
	for i, u := range uris {
		terms[i] = `"` + u + `"`
	}
	return "PREFIX text: <http://jena.apache.org/text#>\n" +
		"SELECT DISTINCT ?updateQuery WHERE {\n" +
		"  ?snapshot text:query (<" + rdf.OCOHasUpdateQuery + "> " + quoted(strings.Join(terms, " AND ")) + ") .\n  " +
		updateQueryPattern + "\n}"
}

func virtuosoQuery(uris []string) string {
	terms := make([]string, len(uris))
	for i, u := range uris {
		terms[i] = `"` + u + `"`
	}
	return "SELECT DISTINCT ?updateQuery WHERE {\n  " + updateQueryPattern + "\n" +
		"  ?updateQuery bif:contains " + quoted(strings.Join(terms, " AND ")) + " .\n}"
}
