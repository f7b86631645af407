package timeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coolbeans/timeagnostic/pkg/instant"
	"github.com/coolbeans/timeagnostic/pkg/rdf"
	"github.com/coolbeans/timeagnostic/pkg/sparql"
	"github.com/coolbeans/timeagnostic/pkg/store"
)

const (
	meta   = "https://w3id.org/oc/meta/"
	br1    = meta + "br/1"
	br2    = meta + "br/2"
	br5    = meta + "br/5"
	br9    = meta + "br/9"
	ra1    = meta + "ra/1"
	title  = "http://purl.org/dc/terms/title"
	cites  = "http://purl.org/spar/cito/cites"
	author = "http://purl.org/dc/terms/creator"
	name   = "http://xmlns.com/foaf/0.1/name"
	agent  = "https://orcid.org/0000-0002-8420-0696"
	expr   = "http://purl.org/spar/fabio/Expression"
)

var (
	t0 = mustTime("2021-04-01T00:00:00Z")
	t1 = mustTime("2021-05-07T09:59:15Z")
	t2 = mustTime("2021-05-31T18:19:47Z")
	t3 = mustTime("2021-06-30T19:26:15Z")
	tb = mustTime("2021-05-20T00:00:00Z")
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

type snapshotSpec struct {
	uri, entity string
	at          time.Time
	update      string
	derived     []string
	description string
}

func provenanceStore(t *testing.T, snaps ...snapshotSpec) *store.QuadStore {
	t.Helper()
	qs := store.NewQuadStore()
	for _, s := range snaps {
		quads := []rdf.Quad{
			rdf.NewTriple(u(s.uri), u(rdf.RDFType), u(rdf.ProvEntity)),
			rdf.NewTriple(u(s.uri), u(rdf.ProvSpecializationOf), u(s.entity)),
			rdf.NewTriple(u(s.uri), u(rdf.ProvGeneratedAtTime), rdf.NewTypedLiteral(instant.Format(s.at), rdf.XSDDateTime)),
			rdf.NewTriple(u(s.uri), u(rdf.ProvWasAttributedTo), u(agent)),
		}
		if s.update != "" {
			quads = append(quads, rdf.NewTriple(u(s.uri), u(rdf.OCOHasUpdateQuery), rdf.NewLiteral(s.update)))
		}
		if s.description != "" {
			quads = append(quads, rdf.NewTriple(u(s.uri), u(rdf.DCTermsDescription), rdf.NewLiteral(s.description)))
		}
		for _, d := range s.derived {
			quads = append(quads, rdf.NewTriple(u(s.uri), u(rdf.ProvWasDerivedFrom), u(d)))
		}
		qs.BulkAdd(quads)
	}
	return qs
}

var trail = []snapshotSpec{
	{uri: br1 + "/prov/se/1", entity: br1, at: t1, description: "The entity has been created."},
	{
		uri: br1 + "/prov/se/2", entity: br1, at: t2,
		update:      `DELETE DATA { <` + br1 + `> <` + title + `> "Old" . } ; INSERT DATA { <` + br1 + `> <` + title + `> "New" . }`,
		derived:     []string{br1 + "/prov/se/1", br9 + "/prov/se/1"},
		description: "The entity has been modified.",
	},
	{
		uri: br1 + "/prov/se/3", entity: br1, at: t3,
		update:  `INSERT DATA { <` + br1 + `> <` + cites + `> <` + br2 + `> . }`,
		derived: []string{br1 + "/prov/se/2"},
	},
	{uri: br9 + "/prov/se/1", entity: br9, at: t0},
	{uri: br2 + "/prov/se/1", entity: br2, at: tb},
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
		rdf.NewTriple(u(br5), u(cites), u(br1)),
	})
	return qs
}

func newEngine(t *testing.T, snaps ...snapshotSpec) *Engine {
	t.Helper()
	if len(snaps) == 0 {
		snaps = trail
	}
	e, err := NewEngine(
		sparql.NewLocalClient(datasetStore()),
		sparql.NewLocalClient(provenanceStore(t, snaps...)))
	require.NoError(t, err)
	return e
}

func stateAtT1() *rdf.QuadSet {
	return rdf.NewQuadSet(
		rdf.NewTriple(u(br1), u(rdf.RDFType), u(expr)),
		rdf.NewTriple(u(br1), u(title), rdf.NewLiteral("Old")),
	)
}

func stateAtT2() *rdf.QuadSet {
	return rdf.NewQuadSet(
		rdf.NewTriple(u(br1), u(rdf.RDFType), u(expr)),
		rdf.NewTriple(u(br1), u(title), rdf.NewLiteral("New")),
	)
}

func stateAtT3() *rdf.QuadSet {
	s := stateAtT2()
	s.Add(rdf.NewTriple(u(br1), u(cites), u(br2)))
	return s
}

// failingClient fails every request.
type failingClient struct{}

func (failingClient) Select(context.Context, string) (*sparql.Results, error) {
	return nil, context.DeadlineExceeded
}

func (failingClient) SelectQuads(context.Context, string) (*rdf.QuadSet, error) {
	return nil, context.DeadlineExceeded
}
