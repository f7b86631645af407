// Package sparql is the store access layer: it runs SELECT queries against
// a quad store and returns typed rows or quad sets.
//
// Three implementations share the Client interface. LocalClient evaluates
// queries over an in-memory store.QuadStore loaded from files, HTTPClient
// speaks the SPARQL 1.1 protocol to a remote endpoint, and MultiClient
// unions the answers of several clients.
package sparql

import (
	"context"

	"github.com/coolbeans/timeagnostic/pkg/errors"
	"github.com/coolbeans/timeagnostic/pkg/query"
	"github.com/coolbeans/timeagnostic/pkg/rdf"
)

// Client runs read-only queries against one logical store.
type Client interface {
	// Select runs a SELECT query and returns its rows.
	Select(ctx context.Context, q string) (*Results, error)
	// SelectQuads runs a SELECT query projecting ?s ?p ?o [?g] and
	// returns the rows as quads.
	SelectQuads(ctx context.Context, q string) (*rdf.QuadSet, error)
}

// Results is a SELECT answer. Variables are listed without "?".
type Results struct {
	Vars []string
	Rows []query.Binding
}

// Len returns the number of rows.
func (r *Results) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// Column returns the bound values of variable v, skipping unbound rows.
func (r *Results) Column(v string) []rdf.Term {
	var out []rdf.Term
	for _, row := range r.Rows {
		if t, ok := row[v]; ok && !t.IsZero() {
			out = append(out, t)
		}
	}
	return out
}

// Quads interprets the rows as quads: the first three projected variables
// are subject, predicate and object, and a fourth, when projected, is the
// graph. Rows with an unbound position are skipped.
func (r *Results) Quads() (*rdf.QuadSet, error) {
	if len(r.Vars) < 3 {
		return nil, errors.Newf("quad results need at least 3 variables, got %d", len(r.Vars))
	}
	set := rdf.NewQuadSet()
	for _, row := range r.Rows {
		s, p, o := row[r.Vars[0]], row[r.Vars[1]], row[r.Vars[2]]
		if s.IsZero() || p.IsZero() || o.IsZero() {
			continue
		}
		var g rdf.Term
		if len(r.Vars) > 3 {
			g = row[r.Vars[3]]
		}
		set.Add(rdf.NewQuad(s, p, o, g))
	}
	return set, nil
}

// selectQuads is the SelectQuads implementation shared by all clients.
func selectQuads(ctx context.Context, c Client, q string) (*rdf.QuadSet, error) {
	res, err := c.Select(ctx, q)
	if err != nil {
		return nil, err
	}
	return res.Quads()
}
