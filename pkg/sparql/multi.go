package sparql

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/coolbeans/timeagnostic/pkg/errors"
	"github.com/coolbeans/timeagnostic/pkg/rdf"
)

// MultiClient sends every query to all of its clients concurrently and
// returns the union of the answers. Any failing client fails the query.
type MultiClient struct {
	clients []Client
}

// NewMultiClient returns a client over clients. A single client is
// returned as is.
func NewMultiClient(clients ...Client) (Client, error) {
	switch len(clients) {
	case 0:
		return nil, errors.Wrap(errors.ErrInvalidConfig, "no store clients configured")
	case 1:
		return clients[0], nil
	}
	return &MultiClient{clients: clients}, nil
}

// Select runs q on every client and merges the rows, dropping duplicates.
func (m *MultiClient) Select(ctx context.Context, q string) (*Results, error) {
	answers := make([]*Results, len(m.clients))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range m.clients {
		g.Go(func() error {
			res, err := c.Select(gctx, q)
			if err != nil {
				return err
			}
			answers[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := &Results{}
	seenVar := make(map[string]bool)
	for _, res := range answers {
		for _, v := range res.Vars {
			if !seenVar[v] {
				seenVar[v] = true
				merged.Vars = append(merged.Vars, v)
			}
		}
	}
	seenRow := make(map[string]bool)
	for _, res := range answers {
		for _, row := range res.Rows {
			key := row.Key(merged.Vars)
			if seenRow[key] {
				continue
			}
			seenRow[key] = true
			merged.Rows = append(merged.Rows, row)
		}
	}
	return merged, nil
}

// SelectQuads runs q on every client and returns the union of the quads.
func (m *MultiClient) SelectQuads(ctx context.Context, q string) (*rdf.QuadSet, error) {
	return selectQuads(ctx, m, q)
}
