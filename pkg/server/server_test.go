package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coolbeans/timeagnostic/pkg/agnostic"
	"github.com/coolbeans/timeagnostic/pkg/errors"
	"github.com/coolbeans/timeagnostic/pkg/instant"
	"github.com/coolbeans/timeagnostic/pkg/rdf"
	"github.com/coolbeans/timeagnostic/pkg/sparql"
	"github.com/coolbeans/timeagnostic/pkg/store"
	"github.com/coolbeans/timeagnostic/pkg/timeline"
)

const (
	br1   = "https://w3id.org/oc/meta/br/1"
	br2   = "https://w3id.org/oc/meta/br/2"
	title = "http://purl.org/dc/terms/title"
	cites = "http://purl.org/spar/cito/cites"
)

var (
	t1 = mustTime("2021-05-07T09:59:15Z")
	t2 = mustTime("2021-05-31T18:19:47Z")
)

func mustTime(s string) time.Time {
	t, err := instant.Parse(s)
	if err != nil {
		panic(err)
	}
	return t
}

func u(s string) rdf.Term { return rdf.NewURI(s) }

// br1 is created at t1 with title "Old" and retitled "New" at t2. br2
// is created at t1 and never changes.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	retitle := `DELETE DATA { <` + br1 + `> <` + title + `> "Old" . } ; INSERT DATA { <` + br1 + `> <` + title + `> "New" . }`

	prov := store.NewQuadStore()
	for _, s := range []struct {
		uri, entity, update string
		at                  time.Time
	}{
		{br1 + "/prov/se/1", br1, "", t1},
		{br1 + "/prov/se/2", br1, retitle, t2},
		{br2 + "/prov/se/1", br2, "", t1},
	} {
		quads := []rdf.Quad{
			rdf.NewTriple(u(s.uri), u(rdf.RDFType), u(rdf.ProvEntity)),
			rdf.NewTriple(u(s.uri), u(rdf.ProvSpecializationOf), u(s.entity)),
			rdf.NewTriple(u(s.uri), u(rdf.ProvGeneratedAtTime), rdf.NewTypedLiteral(instant.Format(s.at), rdf.XSDDateTime)),
		}
		if s.update != "" {
			quads = append(quads, rdf.NewTriple(u(s.uri), u(rdf.OCOHasUpdateQuery), rdf.NewLiteral(s.update)))
		}
		prov.BulkAdd(quads)
	}

	data := store.NewQuadStore()
	data.BulkAdd([]rdf.Quad{
		rdf.NewTriple(u(br1), u(title), rdf.NewLiteral("New")),
		rdf.NewTriple(u(br1), u(cites), u(br2)),
		rdf.NewTriple(u(br2), u(title), rdf.NewLiteral("Two")),
	})

	tl, err := timeline.NewEngine(sparql.NewLocalClient(data), sparql.NewLocalClient(prov))
	require.NoError(t, err)
	engine, err := agnostic.NewEngine(tl, nil)
	require.NoError(t, err)
	srv, err := New(engine, WithQueryTimeout(time.Minute))
	require.NoError(t, err)
	return srv
}

func do(t *testing.T, srv *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, into interface{}) {
	t.Helper()
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	require.NoError(t, json.NewDecoder(w.Body).Decode(into))
}

// entityBody mirrors EntityDocument with quad sets decoded as statements.
type entityBody struct {
	Entity     string                             `json:"entity"`
	States     map[string][]string                `json:"states"`
	Satellites []string                           `json:"satellites"`
	Metadata   map[string]timeline.SnapshotRecord `json:"metadata"`
	Overhead   int                                `json:"overhead"`
}

func TestNewRequiresEngine(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestHealthCheck(t *testing.T) {
	w := do(t, newTestServer(t), http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	decodeBody(t, w, &resp)
	assert.Equal(t, "ok", resp["status"])
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
}

func TestRequestIDIsPropagated(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	newTestServer(t).Router().ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
}

func TestEntityHistory(t *testing.T) {
	w := do(t, newTestServer(t), http.MethodGet, "/api/entities/history?uri="+br1+"&prov=true", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var doc entityBody
	decodeBody(t, w, &doc)
	assert.Equal(t, br1, doc.Entity)
	require.Len(t, doc.States, 2)
	assert.Contains(t, strings.Join(doc.States[instant.Format(t1)], "\n"), `"Old"`)
	assert.Contains(t, strings.Join(doc.States[instant.Format(t2)], "\n"), `"New"`)
	assert.Len(t, doc.Metadata, 2)
	assert.Equal(t, 1, doc.Overhead)
}

func TestEntityHistoryWithRelated(t *testing.T) {
	w := do(t, newTestServer(t), http.MethodGet, "/api/entities/history?uri="+br1+"&related=objects&depth=1", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var doc entityBody
	decodeBody(t, w, &doc)
	assert.Equal(t, []string{br2}, doc.Satellites)
	assert.Contains(t, strings.Join(doc.States[instant.Format(t2)], "\n"), `"Two"`)
}

func TestEntityState(t *testing.T) {
	w := do(t, newTestServer(t), http.MethodGet, "/api/entities/state?uri="+br1+"&after=2021-05-20&before=2021-05-25", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var doc entityBody
	decodeBody(t, w, &doc)
	require.Len(t, doc.States, 1)
	assert.Contains(t, strings.Join(doc.States[instant.Format(t1)], "\n"), `"Old"`)
}

func TestEntityParamErrors(t *testing.T) {
	srv := newTestServer(t)
	for _, target := range []string{
		"/api/entities/history",
		"/api/entities/history?uri=" + br1 + "&related=siblings",
		"/api/entities/history?uri=" + br1 + "&depth=-2",
		"/api/entities/history?uri=" + br1 + "&prov=maybe",
		"/api/entities/state?uri=" + br1 + "&after=yesterday",
		"/api/entities/state?uri=" + br1 + "&after=2021-06-01&before=2021-05-01",
	} {
		w := do(t, srv, http.MethodGet, target, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, target)

		var resp ErrorResponse
		decodeBody(t, w, &resp)
		assert.NotEmpty(t, resp.Error, target)
		assert.NotEmpty(t, resp.RequestID, target)
	}
}

func TestVersionQueryRoute(t *testing.T) {
	body := `{"query": "SELECT ?t WHERE { <` + br1 + `> <` + title + `> ?t }"}`
	w := do(t, newTestServer(t), http.MethodPost, "/api/query/version", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var doc agnostic.VersionDocument
	decodeBody(t, w, &doc)
	assert.Equal(t, []string{"t"}, doc.Variables)
	require.Len(t, doc.Results, 2)
	assert.Equal(t, "Old", doc.Results[instant.Format(t1)].Results.Bindings[0]["t"].Value)
	assert.Equal(t, "New", doc.Results[instant.Format(t2)].Results.Bindings[0]["t"].Value)
}

func TestVersionQueryRouteWithInterval(t *testing.T) {
	body := `{"query": "SELECT ?t WHERE { <` + br1 + `> <` + title + `> ?t }", "after": "2021-06-01"}`
	w := do(t, newTestServer(t), http.MethodPost, "/api/query/version", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var doc agnostic.VersionDocument
	decodeBody(t, w, &doc)
	require.Len(t, doc.Results, 1)
	assert.Equal(t, "New", doc.Results[instant.Format(t2)].Results.Bindings[0]["t"].Value)
}

func TestVersionQueryRejectsUnsupportedQuery(t *testing.T) {
	body := `{"query": "ASK { ?s ?p ?o }"}`
	w := do(t, newTestServer(t), http.MethodPost, "/api/query/version", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, newTestServer(t), http.MethodPost, "/api/query/version", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeltaQueryRoute(t *testing.T) {
	body := `{"query": "SELECT ?s WHERE { ?s <` + title + `> ?t }", "properties": ["` + title + `"]}`
	w := do(t, newTestServer(t), http.MethodPost, "/api/query/delta", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var doc DeltaDocument
	decodeBody(t, w, &doc)
	require.Contains(t, doc.Entities, br1)
	assert.Equal(t, instant.Format(t1), doc.Entities[br1].Created)
	assert.Contains(t, doc.Entities[br1].Modified[instant.Format(t2)], `"New"`)
	assert.Empty(t, doc.Entities[br1].Deleted)
	require.Contains(t, doc.Entities, br2)
	assert.Empty(t, doc.Entities[br2].Modified)
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusGatewayTimeout, statusOf(context.DeadlineExceeded))
	assert.Equal(t, http.StatusBadRequest, statusOf(errors.Wrap(errors.ErrInvalidInput, "missing uri parameter")))
	assert.Equal(t, http.StatusBadRequest, statusOf(errors.Wrap(errors.ErrUnsupportedQuery, "ASK")))
	assert.Equal(t, http.StatusNotFound, statusOf(errors.ErrNotFound))
	assert.Equal(t, http.StatusBadGateway, statusOf(errors.Wrap(errors.ErrStoreAccess, "dataset")))
	// A misconfigured server is not the client's fault.
	assert.Equal(t, http.StatusInternalServerError, statusOf(errors.Wrap(errors.ErrInvalidConfig, "dataset")))
	assert.Equal(t, http.StatusInternalServerError, statusOf(assert.AnError))
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	srv := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, "127.0.0.1:0") }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}
