package sparql

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/coolbeans/timeagnostic/pkg/errors"
	"github.com/coolbeans/timeagnostic/pkg/logger"
	"github.com/coolbeans/timeagnostic/pkg/query"
	"github.com/coolbeans/timeagnostic/pkg/rdf"
	"github.com/coolbeans/timeagnostic/pkg/store"
)

// LocalClient evaluates queries over an in-memory quad store. The store
// can be replaced while queries run; each query sees one store.
type LocalClient struct {
	store  atomic.Pointer[store.QuadStore]
	logger *zap.SugaredLogger
}

// NewLocalClient returns a client over qs.
func NewLocalClient(qs *store.QuadStore) *LocalClient {
	c := &LocalClient{logger: logger.ComponentLogger("sparql.local")}
	c.store.Store(qs)
	return c
}

// Store returns the store currently served.
func (c *LocalClient) Store() *store.QuadStore {
	return c.store.Load()
}

// Swap replaces the served store. It has the store.ReloadCallback shape
// so a Watcher can drive it.
func (c *LocalClient) Swap(qs *store.QuadStore) error {
	if qs == nil {
		return errors.New("nil store")
	}
	c.store.Store(qs)
	c.logger.Infow("Store swapped", logger.FieldCount, qs.Count())
	return nil
}

// Select parses q and executes it against the current store.
func (c *LocalClient) Select(ctx context.Context, q string) (*Results, error) {
	// The engine carries no timeouts of its own; callers bound ctx.
	executor := query.NewExecutor(c.store.Load(), query.WithTimeout(0))
	result, err := executor.ExecuteStringWithContext(ctx, q)
	if err != nil {
		if errors.IsAny(err, errors.ErrInvalidInput, errors.ErrUnsupportedQuery) {
			return nil, err
		}
		return nil, errors.Mark(errors.Wrap(err, "execute query"), errors.ErrStoreAccess)
	}
	return &Results{Vars: result.Variables, Rows: result.Bindings}, nil
}

// SelectQuads runs q and returns the rows as quads.
func (c *LocalClient) SelectQuads(ctx context.Context, q string) (*rdf.QuadSet, error) {
	return selectQuads(ctx, c, q)
}
