package query

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coolbeans/timeagnostic/pkg/errors"
	"github.com/coolbeans/timeagnostic/pkg/rdf"
)

const fabio = "http://purl.org/spar/fabio/"

func TestParseQuery_BasicSelect(t *testing.T) {
	q, err := ParseQuery(`
		PREFIX fabio: <http://purl.org/spar/fabio/>
		PREFIX dcterms: <http://purl.org/dc/terms/>
		SELECT DISTINCT ?br ?title WHERE {
			?br a fabio:Expression ;
			    dcterms:title ?title .
		} ORDER BY DESC(?title) LIMIT 10 OFFSET 2`)
	require.NoError(t, err)
	require.Equal(t, SelectQueryType, q.Type)

	sel := q.Select
	assert.True(t, sel.Distinct)
	assert.Equal(t, []string{"?br", "?title"}, sel.Variables)
	require.Len(t, sel.Where.Patterns, 2)

	first := sel.Where.Patterns[0]
	assert.Equal(t, Variable("br"), first.Subject)
	assert.Equal(t, Bound(rdf.NewURI(rdf.RDFType)), first.Predicate)
	assert.Equal(t, Bound(rdf.NewURI(fabio+"Expression")), first.Object)

	second := sel.Where.Patterns[1]
	assert.Equal(t, Variable("br"), second.Subject)
	assert.Equal(t, rdf.NewURI("http://purl.org/dc/terms/title"), second.Predicate.Term)

	assert.Equal(t, []OrderBy{{Variable: "?title", Descending: true}}, sel.OrderBy)
	assert.Equal(t, 10, sel.Limit)
	assert.Equal(t, 2, sel.Offset)
	assert.Empty(t, q.Validate())
}

func TestParseQuery_ObjectLists(t *testing.T) {
	q, err := ParseQuery(`SELECT ?s WHERE { ?s <http://example.org/p> <http://example.org/a>, <http://example.org/b> }`)
	require.NoError(t, err)
	require.Len(t, q.Select.Where.Patterns, 2)
	assert.Equal(t, "http://example.org/b", q.Select.Where.Patterns[1].Object.Term.Value)
}

func TestParseQuery_Literals(t *testing.T) {
	q, err := ParseQuery(`
		PREFIX xsd: <http://www.w3.org/2001/XMLSchema#>
		SELECT ?s WHERE {
			?s <http://example.org/title> "a {brace} and \"quote\"" .
			?s <http://example.org/label> 'ciao'@IT .
			?s <http://example.org/date> "2021-05-07"^^xsd:date .
			?s <http://example.org/count> 42 .
			?s <http://example.org/ratio> 0.5 .
			?s <http://example.org/flag> true .
		}`)
	require.NoError(t, err)
	objects := make([]rdf.Term, 0, 6)
	for _, p := range q.Select.Where.Patterns {
		objects = append(objects, p.Object.Term)
	}
	assert.Equal(t, []rdf.Term{
		rdf.NewLiteral(`a {brace} and "quote"`),
		rdf.NewLangLiteral("ciao", "it"),
		rdf.NewTypedLiteral("2021-05-07", rdf.NamespaceXSD+"date"),
		rdf.NewTypedLiteral("42", rdf.XSDInteger),
		rdf.NewTypedLiteral("0.5", rdf.XSDDecimal),
		rdf.NewTypedLiteral("true", rdf.XSDBoolean),
	}, objects)
}

func TestParseQuery_GroupStructure(t *testing.T) {
	q, err := ParseQuery(`
		SELECT ?s ?g ?label WHERE {
			VALUES ?s { <http://example.org/a> <http://example.org/b> }
			GRAPH ?g { ?s <http://example.org/p> ?o . }
			OPTIONAL { ?s <http://example.org/label> ?label . FILTER(LANG(?label) = "en") }
			FILTER CONTAINS(STR(?o), "x")
		}`)
	require.NoError(t, err)

	where := q.Select.Where
	require.Len(t, where.Values, 1)
	assert.Equal(t, []string{"s"}, where.Values[0].Variables)
	assert.Len(t, where.Values[0].Rows, 2)

	require.Len(t, where.Patterns, 1)
	assert.Equal(t, Variable("g"), where.Patterns[0].Graph)

	require.Len(t, where.Optional, 1)
	assert.Len(t, where.Optional[0].Filters, 1)

	require.Len(t, where.Filters, 1)
	assert.Equal(t, `CONTAINS(STR(?o), "x")`, where.Filters[0].Expression)
	assert.Len(t, where.AllPatterns(), 2)
}

func TestParseQuery_MultiVariableValues(t *testing.T) {
	q, err := ParseQuery(`SELECT * WHERE { VALUES (?a ?b) { (<http://x/1> UNDEF) (<http://x/2> "two") } ?a ?p ?b }`)
	require.NoError(t, err)
	block := q.Select.Where.Values[0]
	assert.Equal(t, []string{"a", "b"}, block.Variables)
	assert.True(t, block.Rows[0][1].IsZero())
	assert.Equal(t, rdf.NewLiteral("two"), block.Rows[1][1])
}

func TestParseQuery_Aggregates(t *testing.T) {
	q, err := ParseQuery(`
		SELECT ?type (COUNT(DISTINCT ?s) AS ?count) WHERE {
			?s a ?type .
		} GROUP BY ?type ORDER BY DESC(?count)`)
	require.NoError(t, err)

	sel := q.Select
	require.Len(t, sel.Aggregates, 1)
	assert.Equal(t, AggregateExpression{Function: AggregateCOUNT, Variable: "?s", Alias: "?count", Distinct: true}, sel.Aggregates[0])
	assert.Equal(t, []string{"?type"}, sel.GroupBy)
	assert.True(t, sel.IsAggregateAlias("?count"))
	assert.Equal(t, []string{"?type", "?count"}, sel.AllOutputVariables())
	assert.Empty(t, q.Validate())
}

func TestParseQuery_Unsupported(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"construct", "CONSTRUCT { ?s ?p ?o } WHERE { ?s ?p ?o }"},
		{"ask", "ASK { ?s ?p ?o }"},
		{"describe", "DESCRIBE <http://example.org/a>"},
		{"union", "SELECT ?s WHERE { { ?s ?p ?o } UNION { ?o ?p ?s } }"},
		{"minus", "SELECT ?s WHERE { ?s ?p ?o MINUS { ?s a ?t } }"},
		{"bind", `SELECT ?s WHERE { ?s ?p ?o BIND("x" AS ?y) }`},
		{"subquery", "SELECT ?s WHERE { { SELECT ?s WHERE { ?s ?p ?o } } }"},
		{"from", "SELECT ?s FROM <http://g> WHERE { ?s ?p ?o }"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseQuery(tt.query)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrUnsupportedQuery), err.Error())
		})
	}
}

func TestParseQuery_Malformed(t *testing.T) {
	tests := []string{
		"",
		"SELECT",
		"SELECT ?s",
		"SELECT ?s WHERE { ?s ?p ?o",
		"SELECT ?s WHERE { ?s ex:p ?o }",
		`SELECT ?s WHERE { ?s ?p "unterminated }`,
		"SELECT WHERE { ?s ?p ?o }",
	}
	for _, input := range tests {
		_, err := ParseQuery(input)
		assert.Error(t, err, input)
	}
}

func TestParseQuery_Comments(t *testing.T) {
	q, err := ParseQuery("# leading comment\nSELECT ?s WHERE {\n  ?s ?p <http://example.org/o> # trailing\n}")
	require.NoError(t, err)
	assert.Len(t, q.Select.Where.Patterns, 1)
}

func TestSelectQueryValidate(t *testing.T) {
	q, err := ParseQuery("SELECT ?missing WHERE { ?s ?p ?o } ORDER BY ?other")
	require.NoError(t, err)
	errs := q.Validate()
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0].Error(), "?missing")
	assert.Contains(t, errs[1].Error(), "?other")
}

func TestSelectQueryStringReparses(t *testing.T) {
	q, err := ParseQuery(`
		PREFIX dcterms: <http://purl.org/dc/terms/>
		SELECT DISTINCT ?s ?t WHERE {
			VALUES ?s { <http://example.org/a> }
			?s dcterms:title ?t .
			OPTIONAL { ?s dcterms:creator ?c }
			FILTER(STRSTARTS(?t, "A"))
		} ORDER BY ?t LIMIT 5`)
	require.NoError(t, err)

	rendered := q.String()
	assert.True(t, strings.HasPrefix(rendered, "PREFIX dcterms: <http://purl.org/dc/terms/>\nSELECT DISTINCT ?s ?t WHERE {"))

	again, err := ParseQuery(rendered)
	require.NoError(t, err, rendered)
	assert.Equal(t, q.Select.Where.Patterns, again.Select.Where.Patterns)
	assert.Equal(t, q.Select.Where.Values, again.Select.Where.Values)
	assert.Equal(t, q.Select.Limit, again.Select.Limit)
}

func TestTriplePatternHelpers(t *testing.T) {
	p := TriplePattern{
		Subject:   Variable("?s"),
		Predicate: Bound(rdf.NewURI("http://example.org/p")),
		Object:    Variable("o"),
	}
	assert.Equal(t, []string{"s", "o"}, p.Variables())
	assert.False(t, p.AllVariables())
	assert.Equal(t, "?s <http://example.org/p> ?o .", p.String())

	sub := p.Substitute(Binding{"s": rdf.NewURI("http://example.org/a")})
	assert.Equal(t, "<http://example.org/a> <http://example.org/p> ?o .", sub.String())

	p.Graph = Bound(rdf.NewURI("http://example.org/g"))
	assert.Equal(t, "GRAPH <http://example.org/g> { ?s <http://example.org/p> ?o . }", p.String())
}

// FuzzParseQuery checks the parser never panics on arbitrary input.
// Run with: go test -fuzz=FuzzParseQuery -fuzztime=30s ./pkg/query/...
func FuzzParseQuery(f *testing.F) {
	seeds := []string{
		"SELECT ?s WHERE { ?s ?p ?o }",
		"SELECT * WHERE { ?s ?p ?o } LIMIT 10 OFFSET 5",
		"SELECT ?s WHERE { ?s ?p ?o } ORDER BY DESC(?s)",
		`PREFIX ex: <http://example.org/> SELECT ?s WHERE { ?s a ex:T ; ex:p "x"@en, 3 . }`,
		`SELECT ?s WHERE { ?s ?p ?o FILTER(?o > 3 && !BOUND(?x) || REGEX(STR(?o), "^a", "i")) }`,
		`SELECT ?s WHERE { GRAPH ?g { ?s ?p ?o } OPTIONAL { ?s ?q ?r } VALUES ?s { <a> } }`,
		"SELECT ?s WHERE { ?s ?p ?o",
		"SELECT ?s WHERE { ?s ?p \"",
		"SELECT (COUNT(*) AS ?n) WHERE { ?s ?p ?o }",
		"",
	}
	for _, seed := range seeds {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, input string) {
		q, err := ParseQuery(input)
		if err != nil {
			return
		}
		if q.Select == nil {
			t.Fatal("parsed query without SELECT clause")
		}
		_ = q.String()
		_ = q.Validate()
	})
}
