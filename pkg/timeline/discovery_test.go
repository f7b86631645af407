package timeline

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coolbeans/timeagnostic/pkg/rdf"
	"github.com/coolbeans/timeagnostic/pkg/sparql"
)

func TestRelatedObjects(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	found, err := e.RelatedObjects(ctx, br1, UnlimitedDepth)
	require.NoError(t, err)
	assert.Equal(t, []string{br2, ra1}, found)

	found, err = e.RelatedObjects(ctx, br1, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{br2}, found)

	for _, depth := range []int{0, -3} {
		found, err = e.RelatedObjects(ctx, br1, depth)
		require.NoError(t, err)
		assert.Empty(t, found)
	}
}

func TestRelatedObjectsFailurePropagates(t *testing.T) {
	e, err := NewEngine(failingClient{}, failingClient{})
	require.NoError(t, err)
	_, err = e.RelatedObjects(context.Background(), br1, UnlimitedDepth)
	assert.Error(t, err)
}

func TestReverseRelations(t *testing.T) {
	e := newEngine(t)
	found, err := e.ReverseRelations(context.Background(), br2, UnlimitedDepth)
	require.NoError(t, err)
	assert.Equal(t, []string{br1, br5}, found)

	found, err = e.ReverseRelations(context.Background(), br2, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{br1}, found)
}

func TestMergedEntities(t *testing.T) {
	e := newEngine(t)
	found, err := e.MergedEntities(context.Background(), br1, UnlimitedDepth)
	require.NoError(t, err)
	assert.Equal(t, []string{br9}, found)
}

func TestPeripheralDiscoveryDegrades(t *testing.T) {
	e, err := NewEngine(failingClient{}, failingClient{})
	require.NoError(t, err)

	found, warn := e.MergedEntities(context.Background(), br1, UnlimitedDepth)
	assert.Empty(t, found)
	assert.Error(t, warn)

	found, warn = e.ReverseRelations(context.Background(), br1, UnlimitedDepth)
	assert.Empty(t, found)
	assert.Error(t, warn)
}

func TestAsOfMerge(t *testing.T) {
	primaryQuad := rdf.NewTriple(u(br1), u(title), rdf.NewLiteral("primary"))
	satQuad := rdf.NewTriple(u(ra1), u(name), rdf.NewLiteral("satellite"))
	primary := Timeline{t1: rdf.NewQuadSet(primaryQuad), t3: rdf.NewQuadSet(primaryQuad)}
	satellite := Timeline{t2: rdf.NewQuadSet(satQuad)}

	merged := AsOfMerge(primary, satellite)
	assert.Equal(t, []time.Time{t1, t3}, merged.Timestamps())
	assert.False(t, merged[t1].Contains(satQuad))
	assert.True(t, merged[t3].Contains(satQuad))
	assert.True(t, merged[t3].Contains(primaryQuad))

	// Inputs stay untouched.
	assert.Equal(t, 1, primary[t3].Len())
}

func TestHistoryWithRelated(t *testing.T) {
	e := newEngine(t)
	m, err := e.HistoryWithRelated(context.Background(), br1, DiscoveryOptions{
		Related: true, Merged: true, Reverse: true, Depth: UnlimitedDepth,
	})
	require.NoError(t, err)
	assert.Empty(t, m.Warnings)
	assert.Equal(t, []string{br2, br5, br9, ra1}, m.Satellites())
	assert.Equal(t, []time.Time{t1, t2, t3}, m.Timeline.Timestamps())

	br2Title := rdf.NewTriple(u(br2), u(title), rdf.NewLiteral("Two"))
	// br2 was created at tb, between t1 and t2.
	assert.False(t, m.Timeline[t1].Contains(br2Title))
	assert.True(t, m.Timeline[t2].Contains(br2Title))
	assert.True(t, m.Timeline[t3].Contains(br2Title))
}

func TestHistoryWithRelatedDegradesOnProvenanceFailure(t *testing.T) {
	good := newEngine(t)
	dataset := good.Dataset()
	flaky := &flakyClient{Client: good.Provenance(), failOn: "wasDerivedFrom> ?source"}
	e, err := NewEngine(dataset, flaky)
	require.NoError(t, err)

	m, err := e.HistoryWithRelated(context.Background(), br1, DiscoveryOptions{Merged: true, Depth: UnlimitedDepth})
	require.NoError(t, err)
	require.Len(t, m.Warnings, 1)
	assert.Empty(t, m.Satellites())
	assert.Len(t, m.Timeline, 3)
}

func TestStateAtWithRelated(t *testing.T) {
	e := newEngine(t)
	m, err := e.StateAtWithRelated(context.Background(), br1, At(t2), DiscoveryOptions{Related: true, Depth: 1})
	require.NoError(t, err)
	require.Contains(t, m.Timeline, t2)
	assert.True(t, m.Timeline[t2].Contains(rdf.NewTriple(u(br2), u(title), rdf.NewLiteral("Two"))))
	assert.Contains(t, m.States, br2)
}

// flakyClient fails queries containing failOn.
type flakyClient struct {
	sparql.Client
	failOn string
}

func (c *flakyClient) Select(ctx context.Context, q string) (*sparql.Results, error) {
	if strings.Contains(q, c.failOn) {
		return nil, context.DeadlineExceeded
	}
	return c.Client.Select(ctx, q)
}

