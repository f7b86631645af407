package agnostic

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coolbeans/timeagnostic/pkg/instant"
	"github.com/coolbeans/timeagnostic/pkg/query"
	"github.com/coolbeans/timeagnostic/pkg/rdf"
	"github.com/coolbeans/timeagnostic/pkg/sparql"
	"github.com/coolbeans/timeagnostic/pkg/store"
	"github.com/coolbeans/timeagnostic/pkg/textsearch"
	"github.com/coolbeans/timeagnostic/pkg/timeline"
)

const (
	meta   = "https://w3id.org/oc/meta/"
	br1    = meta + "br/1"
	br2    = meta + "br/2"
	br3    = meta + "br/3"
	ra1    = meta + "ra/1"
	title  = "http://purl.org/dc/terms/title"
	cites  = "http://purl.org/spar/cito/cites"
	author = "http://purl.org/dc/terms/creator"
	name   = "http://xmlns.com/foaf/0.1/name"
	expr   = "http://purl.org/spar/fabio/Expression"
)

var (
	t1 = mustTime("2021-05-07T09:59:15Z")
	tb = mustTime("2021-05-20T00:00:00Z")
	t2 = mustTime("2021-05-31T18:19:47Z")
	t3 = mustTime("2021-06-30T19:26:15Z")
)

func mustTime(s string) time.Time {
	t, err := instant.Parse(s)
	if err != nil {
		panic(err)
	}
	return t
}

func ptr(t time.Time) *time.Time { return &t }

func u(s string) rdf.Term { return rdf.NewURI(s) }

type snapshot struct {
	uri, entity string
	at          time.Time
	update      string
	description string
}

var (
	retitle = `DELETE DATA { <` + br1 + `> <` + title + `> "Old" . } ; INSERT DATA { <` + br1 + `> <` + title + `> "New" . }`
	cite    = `INSERT DATA { <` + br1 + `> <` + cites + `> <` + br2 + `> . }`
	erase   = `DELETE DATA { <` + br3 + `> <` + title + `> "Gone" . <` + br3 + `> <` + cites + `> <` + br2 + `> . }`
)

// trail: br1 is created at t1, retitled at t2 and starts citing br2 at
// t3. br2 is created at tb and described as modified at t3. br3 is
// created at t1 and erased at t2. ra1 is created at t1.
var trail = []snapshot{
	{uri: br1 + "/prov/se/1", entity: br1, at: t1, description: "The entity has been created."},
	{uri: br1 + "/prov/se/2", entity: br1, at: t2, update: retitle},
	{uri: br1 + "/prov/se/3", entity: br1, at: t3, update: cite},
	{uri: br2 + "/prov/se/1", entity: br2, at: tb, description: "The entity has been created."},
	{uri: br2 + "/prov/se/2", entity: br2, at: t3, description: "The entity has been modified."},
	{uri: br3 + "/prov/se/1", entity: br3, at: t1, description: "The entity has been created."},
	{uri: br3 + "/prov/se/2", entity: br3, at: t2, update: erase, description: "The entity has been deleted."},
	{uri: ra1 + "/prov/se/1", entity: ra1, at: t1},
}

func provenanceStore() *store.QuadStore {
	qs := store.NewQuadStore()
	for _, s := range trail {
		quads := []rdf.Quad{
			rdf.NewTriple(u(s.uri), u(rdf.RDFType), u(rdf.ProvEntity)),
			rdf.NewTriple(u(s.uri), u(rdf.ProvSpecializationOf), u(s.entity)),
			rdf.NewTriple(u(s.uri), u(rdf.ProvGeneratedAtTime), rdf.NewTypedLiteral(instant.Format(s.at), rdf.XSDDateTime)),
		}
		if s.update != "" {
			quads = append(quads, rdf.NewTriple(u(s.uri), u(rdf.OCOHasUpdateQuery), rdf.NewLiteral(s.update)))
		}
		if s.description != "" {
			quads = append(quads, rdf.NewTriple(u(s.uri), u(rdf.DCTermsDescription), rdf.NewLiteral(s.description)))
		}
		qs.BulkAdd(quads)
	}
	return qs
}

func datasetStore() *store.QuadStore {
	qs := store.NewQuadStore()
	qs.BulkAdd([]rdf.Quad{
		rdf.NewTriple(u(br1), u(rdf.RDFType), u(expr)),
		rdf.NewTriple(u(br1), u(title), rdf.NewLiteral("New")),
		rdf.NewTriple(u(br1), u(cites), u(br2)),
		rdf.NewTriple(u(br2), u(title), rdf.NewLiteral("Two")),
		rdf.NewTriple(u(br2), u(author), u(ra1)),
		rdf.NewTriple(u(ra1), u(name), rdf.NewLiteral("Ann")),
	})
	return qs
}

func newEngineWith(t *testing.T, dataset, provenance sparql.Client, search textsearch.Searcher) *Engine {
	t.Helper()
	tl, err := timeline.NewEngine(dataset, provenance)
	require.NoError(t, err)
	e, err := NewEngine(tl, search)
	require.NoError(t, err)
	return e
}

func newEngine(t *testing.T) *Engine {
	t.Helper()
	return newEngineWith(t,
		sparql.NewLocalClient(datasetStore()),
		sparql.NewLocalClient(provenanceStore()),
		nil)
}

// failingClient fails every request.
type failingClient struct{}

func (failingClient) Select(context.Context, string) (*sparql.Results, error) {
	return nil, context.DeadlineExceeded
}

func (failingClient) SelectQuads(context.Context, string) (*rdf.QuadSet, error) {
	return nil, context.DeadlineExceeded
}

// brokenSearch fails every search.
type brokenSearch struct{}

func (brokenSearch) Search(context.Context, []string) ([]string, error) {
	return nil, context.DeadlineExceeded
}

func (brokenSearch) Engine() textsearch.Engine { return textsearch.EngineContains }

func literals(rows []query.Binding, v string) []string {
	var out []string
	for _, row := range rows {
		out = append(out, row[v].Value)
	}
	return out
}
