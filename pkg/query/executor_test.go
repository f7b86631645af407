package query

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coolbeans/timeagnostic/pkg/errors"
	"github.com/coolbeans/timeagnostic/pkg/rdf"
	"github.com/coolbeans/timeagnostic/pkg/store"
)

const (
	ex      = "http://example.org/"
	dcTitle = "http://purl.org/dc/terms/title"
)

func exIRI(local string) rdf.Term { return rdf.NewURI(ex + local) }

// newTestStore builds a small bibliographic dataset spread over two graphs.
func newTestStore(t *testing.T) *store.QuadStore {
	t.Helper()
	g1, g2 := exIRI("g1"), exIRI("g2")
	typ := rdf.NewURI(rdf.RDFType)
	quads := []rdf.Quad{
		rdf.NewQuad(exIRI("br1"), typ, exIRI("Article"), g1),
		rdf.NewQuad(exIRI("br1"), rdf.NewURI(dcTitle), rdf.NewLiteral("Alpha"), g1),
		rdf.NewQuad(exIRI("br1"), exIRI("pages"), rdf.NewTypedLiteral("12", rdf.XSDInteger), g1),
		rdf.NewQuad(exIRI("br1"), exIRI("cites"), exIRI("br2"), g1),
		rdf.NewQuad(exIRI("br2"), typ, exIRI("Article"), g2),
		rdf.NewQuad(exIRI("br2"), rdf.NewURI(dcTitle), rdf.NewLangLiteral("Beta", "en"), g2),
		rdf.NewQuad(exIRI("br2"), exIRI("pages"), rdf.NewTypedLiteral("30", rdf.XSDInteger), g2),
		rdf.NewQuad(exIRI("br3"), typ, exIRI("Book"), g2),
		rdf.NewQuad(exIRI("br3"), exIRI("pages"), rdf.NewTypedLiteral("200", rdf.XSDInteger), g2),
		// The same triple in a second graph.
		rdf.NewQuad(exIRI("br3"), typ, exIRI("Book"), g1),
		rdf.NewTriple(exIRI("br3"), rdf.NewURI(dcTitle), rdf.NewLiteral("Gamma")),
	}
	s := store.NewQuadStore()
	require.Equal(t, len(quads), s.BulkAdd(quads))
	return s
}

func run(t *testing.T, s *store.QuadStore, q string) *QueryResult {
	t.Helper()
	result, err := NewExecutor(s).ExecuteStringWithContext(context.Background(), q)
	require.NoError(t, err, q)
	return result
}

func column(result *QueryResult, v string) []string {
	out := make([]string, 0, len(result.Bindings))
	for _, b := range result.Bindings {
		out = append(out, b[v].Value)
	}
	return out
}

func TestExecutor_BasicPatterns(t *testing.T) {
	s := newTestStore(t)

	result := run(t, s, `PREFIX ex: <http://example.org/>
		SELECT ?s WHERE { ?s a ex:Article }`)
	assert.Equal(t, []string{"s"}, result.Variables)
	assert.ElementsMatch(t, []string{ex + "br1", ex + "br2"}, column(result, "s"))

	result = run(t, s, `PREFIX ex: <http://example.org/>
		SELECT ?title WHERE { ?s ex:cites ?o . ?o <http://purl.org/dc/terms/title> ?title }`)
	require.Equal(t, 1, result.Count)
	assert.Equal(t, rdf.NewLangLiteral("Beta", "en"), result.Bindings[0]["title"])
}

func TestExecutor_TripleAcrossGraphsMatchesOnce(t *testing.T) {
	s := newTestStore(t)

	result := run(t, s, `PREFIX ex: <http://example.org/> SELECT ?s WHERE { ?s a ex:Book }`)
	assert.Equal(t, 1, result.Count)

	result = run(t, s, `PREFIX ex: <http://example.org/> SELECT ?g WHERE { GRAPH ?g { ex:br3 a ex:Book } }`)
	assert.ElementsMatch(t, []string{ex + "g1", ex + "g2"}, column(result, "g"))
}

func TestExecutor_GraphVariableSkipsDefaultGraph(t *testing.T) {
	s := newTestStore(t)

	result := run(t, s, `SELECT ?g WHERE { GRAPH ?g { <http://example.org/br3> <http://purl.org/dc/terms/title> ?t } }`)
	assert.Equal(t, 0, result.Count)

	result = run(t, s, `SELECT ?t WHERE { <http://example.org/br3> <http://purl.org/dc/terms/title> ?t }`)
	assert.Equal(t, []string{"Gamma"}, column(result, "t"))
}

func TestExecutor_Optional(t *testing.T) {
	s := newTestStore(t)

	result := run(t, s, `PREFIX ex: <http://example.org/>
		SELECT ?s ?cited WHERE { ?s ex:pages ?p OPTIONAL { ?s ex:cites ?cited } } ORDER BY ?s`)
	require.Equal(t, 3, result.Count)
	assert.Equal(t, exIRI("br2"), result.Bindings[0]["cited"])
	_, bound := result.Bindings[1]["cited"]
	assert.False(t, bound)
}

func TestExecutor_Filters(t *testing.T) {
	s := newTestStore(t)

	tests := []struct {
		name   string
		filter string
		want   []string
	}{
		{"numeric comparison", "?p > 20", []string{ex + "br2", ex + "br3"}},
		{"conjunction", "?p > 20 && ?p < 100", []string{ex + "br2"}},
		{"disjunction", "?p = 12 || ?p = 200", []string{ex + "br1", ex + "br3"}},
		{"negation", "!(?p >= 30)", []string{ex + "br1"}},
		{"iri equality", "?s != <http://example.org/br1>", []string{ex + "br2", ex + "br3"}},
		{"string functions", `CONTAINS(STR(?s), "br3")`, []string{ex + "br3"}},
		{"regex", `REGEX(STR(?s), "BR[12]$", "i")`, []string{ex + "br1", ex + "br2"}},
		{"unbound variable rejects row", "?missing = 1", []string{}},
		{"bound", "BOUND(?p)", []string{ex + "br1", ex + "br2", ex + "br3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := run(t, s, `PREFIX ex: <http://example.org/>
				SELECT ?s WHERE { ?s ex:pages ?p FILTER(`+tt.filter+`) }`)
			assert.ElementsMatch(t, tt.want, column(result, "s"))
		})
	}
}

func TestExecutor_LanguageFilter(t *testing.T) {
	s := newTestStore(t)

	result := run(t, s, `SELECT ?t WHERE { ?s <http://purl.org/dc/terms/title> ?t FILTER(LANG(?t) = "en") }`)
	assert.Equal(t, []string{"Beta"}, column(result, "t"))

	result = run(t, s, `SELECT ?t WHERE { ?s <http://purl.org/dc/terms/title> ?t FILTER(?t = "Alpha") }`)
	assert.Equal(t, []string{"Alpha"}, column(result, "t"))
}

func TestExecutor_Values(t *testing.T) {
	s := newTestStore(t)

	result := run(t, s, `PREFIX ex: <http://example.org/>
		SELECT ?s ?p WHERE { VALUES ?s { ex:br1 ex:br3 ex:unknown } ?s ex:pages ?p } ORDER BY ?p`)
	assert.Equal(t, []string{"12", "200"}, column(result, "p"))
}

func TestExecutor_OrderDistinctLimitOffset(t *testing.T) {
	s := newTestStore(t)

	result := run(t, s, `PREFIX ex: <http://example.org/>
		SELECT ?p WHERE { ?s ex:pages ?p } ORDER BY DESC(?p)`)
	assert.Equal(t, []string{"200", "30", "12"}, column(result, "p"))

	result = run(t, s, `SELECT DISTINCT ?type WHERE { ?s a ?type } ORDER BY ?type`)
	assert.Equal(t, []string{ex + "Article", ex + "Book"}, column(result, "type"))

	result = run(t, s, `PREFIX ex: <http://example.org/>
		SELECT ?p WHERE { ?s ex:pages ?p } ORDER BY ?p LIMIT 1 OFFSET 1`)
	assert.Equal(t, []string{"30"}, column(result, "p"))

	result = run(t, s, `PREFIX ex: <http://example.org/>
		SELECT ?p WHERE { ?s ex:pages ?p } OFFSET 10`)
	assert.Equal(t, 0, result.Count)
}

func TestExecutor_Aggregates(t *testing.T) {
	s := newTestStore(t)

	result := run(t, s, `SELECT ?type (COUNT(?s) AS ?n) WHERE { ?s a ?type } GROUP BY ?type ORDER BY ?type`)
	assert.Equal(t, []string{"type", "n"}, result.Variables)
	require.Equal(t, 2, result.Count)
	assert.Equal(t, rdf.NewTypedLiteral("2", rdf.XSDInteger), result.Bindings[0]["n"])
	assert.Equal(t, rdf.NewTypedLiteral("1", rdf.XSDInteger), result.Bindings[1]["n"])

	result = run(t, s, `PREFIX ex: <http://example.org/>
		SELECT (SUM(?p) AS ?total) (MAX(?p) AS ?max) (MIN(?p) AS ?min) (AVG(?p) AS ?avg) WHERE { ?s ex:pages ?p }`)
	require.Equal(t, 1, result.Count)
	row := result.Bindings[0]
	assert.Equal(t, "242", row["total"].Value)
	assert.Equal(t, "200", row["max"].Value)
	assert.Equal(t, "12", row["min"].Value)
	assert.Equal(t, rdf.XSDDecimal, row["avg"].Datatype)

	result = run(t, s, `SELECT (COUNT(*) AS ?n) WHERE { ?s <http://example.org/missing> ?o }`)
	require.Equal(t, 1, result.Count)
	assert.Equal(t, "0", result.Bindings[0]["n"].Value)
}

func TestExecutor_SelectStarHidesBlankVariables(t *testing.T) {
	s := newTestStore(t)

	result := run(t, s, `PREFIX ex: <http://example.org/> SELECT * WHERE { ?s ex:cites _:x . _:x ex:pages ?p }`)
	assert.Equal(t, []string{"p", "s"}, result.Variables)
	require.Equal(t, 1, result.Count)
	assert.Equal(t, "30", result.Bindings[0]["p"].Value)
}

func TestExecutor_PatternOrderDoesNotChangeResults(t *testing.T) {
	s := newTestStore(t)
	forward := run(t, s, `PREFIX ex: <http://example.org/>
		SELECT ?s ?title WHERE { ?s ex:pages ?p . ?s a ex:Article . ?s <http://purl.org/dc/terms/title> ?title }`)
	backward := run(t, s, `PREFIX ex: <http://example.org/>
		SELECT ?s ?title WHERE { ?s <http://purl.org/dc/terms/title> ?title . ?s a ex:Article . ?s ex:pages ?p }`)
	assert.ElementsMatch(t, forward.Bindings, backward.Bindings)
	assert.Equal(t, 2, forward.Count)
}

func TestExecutor_Errors(t *testing.T) {
	s := newTestStore(t)
	e := NewExecutor(s)

	_, err := e.ExecuteStringWithContext(context.Background(), "ASK { ?s ?p ?o }")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnsupportedQuery))

	_, err = e.ExecuteStringWithContext(context.Background(), "SELECT ?s WHERE { ?s ?p")
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	_, err = e.Execute(&Query{Type: ConstructQueryType})
	assert.True(t, errors.Is(err, errors.ErrUnsupportedQuery))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.ExecuteStringWithContext(ctx, "SELECT ?s WHERE { ?s ?p ?o }")
	assert.Error(t, err)
}

func TestExecutor_SeesStatementsAddedBeforeConstruction(t *testing.T) {
	s := store.NewQuadStore()
	require.NoError(t, s.Add(rdf.NewTriple(exIRI("a"), exIRI("p"), exIRI("b"))))

	result, err := NewExecutor(s, WithTimeout(time.Second)).ExecuteStringWithContext(context.Background(),
		"SELECT ?o WHERE { <http://example.org/a> ?p ?o }")
	require.NoError(t, err)
	assert.Equal(t, []string{ex + "b"}, column(result, "o"))
	assert.Equal(t, 1, result.Metrics.ResultCount)
}

func TestQueryPlanner_OrderPatterns(t *testing.T) {
	s := newTestStore(t)
	planner := NewQueryPlanner(s.Stats())

	broad := TriplePattern{Subject: Variable("s"), Predicate: Variable("p"), Object: Variable("o")}
	narrow := TriplePattern{Subject: Variable("s"), Predicate: Bound(exIRI("cites")), Object: Variable("c")}
	unrelated := TriplePattern{Subject: Variable("x"), Predicate: Bound(exIRI("pages")), Object: Variable("n")}

	ordered := planner.OrderPatterns([]TriplePattern{broad, unrelated, narrow})
	require.Len(t, ordered, 3)
	assert.Equal(t, narrow, ordered[0])
	// The broad pattern shares ?s with the first one and is joined before
	// the disconnected pattern.
	assert.Equal(t, broad, ordered[1])
	assert.Equal(t, unrelated, ordered[2])
}

func TestQueryResult_Formats(t *testing.T) {
	result := &QueryResult{
		Variables: []string{"s", "label"},
		Bindings: []Binding{
			{"s": exIRI("a"), "label": rdf.NewLangLiteral("uno, due", "it")},
			{"s": exIRI("b")},
		},
		Count: 2,
	}

	table, err := result.Format(FormatTable)
	require.NoError(t, err)
	assert.Contains(t, table, "| s ")
	assert.Contains(t, table, `"uno, due"@it`)
	assert.True(t, strings.HasSuffix(table, "2 rows\n"))

	csvOut, err := result.Format(FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "s,label\nhttp://example.org/a,\"uno, due\"\nhttp://example.org/b,\n", csvOut)

	_, err = result.Format("xml")
	assert.Error(t, err)

	assert.Equal(t, "No results (0 rows)\n", RenderTable([]string{"s"}, nil))
}
