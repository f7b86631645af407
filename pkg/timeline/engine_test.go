package timeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coolbeans/timeagnostic/pkg/errors"
	"github.com/coolbeans/timeagnostic/pkg/rdf"
	"github.com/coolbeans/timeagnostic/pkg/sparql"
	"github.com/coolbeans/timeagnostic/pkg/store"
)

func TestNewEngineRequiresStores(t *testing.T) {
	_, err := NewEngine(nil, sparql.NewLocalClient(store.NewQuadStore()))
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestSnapshots(t *testing.T) {
	e := newEngine(t)
	snaps, err := e.Snapshots(context.Background(), br1)
	require.NoError(t, err)
	require.Len(t, snaps, 3)

	assert.Equal(t, t1, snaps[0].GeneratedAt)
	assert.Equal(t, "The entity has been created.", snaps[0].Description)
	assert.Empty(t, snaps[0].UpdateQuery)
	assert.Equal(t, agent, snaps[0].AttributedTo)
	assert.Equal(t, []string{br1 + "/prov/se/1", br9 + "/prov/se/1"}, snaps[1].DerivedFrom)
	assert.Contains(t, snaps[2].UpdateQuery, "INSERT DATA")
}

func TestHistory(t *testing.T) {
	e := newEngine(t)
	h, err := e.History(context.Background(), br1, HistoryOptions{IncludeMetadata: true})
	require.NoError(t, err)

	assert.Equal(t, []time.Time{t1, t2, t3}, h.Timestamps())
	assert.True(t, stateAtT1().Equal(h.States[t1]), h.States[t1].NQuads())
	assert.True(t, stateAtT2().Equal(h.States[t2]), h.States[t2].NQuads())
	assert.True(t, stateAtT3().Equal(h.States[t3]), h.States[t3].NQuads())
	assert.Equal(t, 2, h.Overhead())
	assert.Empty(t, h.Warnings)

	require.Len(t, h.Metadata, 3)
	assert.Equal(t, t2, h.Metadata[br1+"/prov/se/2"].GeneratedAt)
}

func TestHistoryTimestampsAreMonotonic(t *testing.T) {
	e := newEngine(t)
	h, err := e.History(context.Background(), br1, HistoryOptions{})
	require.NoError(t, err)
	ts := h.Timestamps()
	for i := 1; i < len(ts); i++ {
		assert.True(t, ts[i-1].Before(ts[i]))
	}
	assert.Nil(t, h.Metadata)
}

func TestHistoryWithoutSnapshotsIsEmpty(t *testing.T) {
	e := newEngine(t)
	h, err := e.History(context.Background(), ra1, HistoryOptions{IncludeMetadata: true})
	require.NoError(t, err)
	assert.Empty(t, h.States)
	assert.Empty(t, h.Metadata)
}

func TestHistoryOfSnapshotCarriesNoMetadata(t *testing.T) {
	snap := meta + "br/7/prov/se/1"
	dataset := store.NewQuadStore()
	dataset.BulkAdd([]rdf.Quad{rdf.NewTriple(u(snap), u(rdf.RDFType), u(rdf.ProvEntity))})
	prov := provenanceStore(t, snapshotSpec{uri: snap + "/meta", entity: snap, at: t1})
	e, err := NewEngine(sparql.NewLocalClient(dataset), sparql.NewLocalClient(prov))
	require.NoError(t, err)

	h, err := e.History(context.Background(), snap, HistoryOptions{IncludeMetadata: true})
	require.NoError(t, err)
	assert.Len(t, h.States, 1)
	assert.Nil(t, h.Metadata)
}

func TestHistoryKeepsGoingPastMalformedStatement(t *testing.T) {
	snaps := append([]snapshotSpec{}, trail...)
	snaps[2].update = `INSERT DATA { <` + br1 + `> <` + cites + `> <` + br2 + `> . `
	e := newEngine(t, snaps...)

	h, err := e.History(context.Background(), br1, HistoryOptions{})
	require.NoError(t, err)
	require.Len(t, h.Warnings, 1)
	assert.ErrorIs(t, h.Warnings[0], errors.ErrMalformedDelta)
	// The malformed statement is skipped: t2 keeps the citation.
	assert.True(t, stateAtT3().Equal(h.States[t2]))
	assert.Len(t, h.States, 3)
}

func TestStateAtInterval(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		iv    Interval
		want  map[time.Time]*rdf.QuadSet
		snaps []string
	}{
		{
			name: "before first snapshot",
			iv:   Between(mustTime("2021-05-01"), mustTime("2021-05-01")),
			want: map[time.Time]*rdf.QuadSet{},
		},
		{
			name:  "upper bound only",
			iv:    Interval{Before: ptr(mustTime("2021-05-20"))},
			want:  map[time.Time]*rdf.QuadSet{t1: stateAtT1()},
			snaps: []string{br1 + "/prov/se/1"},
		},
		{
			name:  "falls back to latest earlier snapshot",
			iv:    Between(mustTime("2021-06-01"), mustTime("2021-06-10")),
			want:  map[time.Time]*rdf.QuadSet{t2: stateAtT2()},
			snaps: []string{br1 + "/prov/se/2"},
		},
		{
			name:  "closed interval on exact instants",
			iv:    Between(t1, t2),
			want:  map[time.Time]*rdf.QuadSet{t1: stateAtT1(), t2: stateAtT2()},
			snaps: []string{br1 + "/prov/se/1", br1 + "/prov/se/2"},
		},
		{
			name:  "single instant",
			iv:    At(t3),
			want:  map[time.Time]*rdf.QuadSet{t3: stateAtT3()},
			snaps: []string{br1 + "/prov/se/3"},
		},
		{
			name:  "unbounded",
			iv:    Interval{},
			want:  map[time.Time]*rdf.QuadSet{t1: stateAtT1(), t2: stateAtT2(), t3: stateAtT3()},
			snaps: []string{br1 + "/prov/se/1", br1 + "/prov/se/2", br1 + "/prov/se/3"},
		},
		{
			name: "no lower bound and nothing inside",
			iv:   Interval{Before: ptr(mustTime("2020-01-01"))},
			want: map[time.Time]*rdf.QuadSet{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := e.StateAt(ctx, br1, tt.iv, false)
			require.NoError(t, err)
			require.Len(t, st.States, len(tt.want))
			for ts, want := range tt.want {
				require.Contains(t, st.States, ts)
				assert.True(t, want.Equal(st.States[ts]), st.States[ts].NQuads())
			}
			var returned []string
			for uri := range st.Returned {
				returned = append(returned, uri)
			}
			assert.ElementsMatch(t, tt.snaps, returned)
			assert.Nil(t, st.Others)
		})
	}
}

func TestStateAtMetadata(t *testing.T) {
	e := newEngine(t)
	st, err := e.StateAt(context.Background(), br1, Between(t1, t2), true)
	require.NoError(t, err)
	assert.Len(t, st.Returned, 2)
	require.Len(t, st.Others, 1)
	assert.Contains(t, st.Others, br1+"/prov/se/3")
	assert.Equal(t, 2, st.Overhead())
}

func TestStateAtMatchesHistory(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	h, err := e.History(ctx, br1, HistoryOptions{})
	require.NoError(t, err)
	for _, ts := range h.Timestamps() {
		st, err := e.StateAt(ctx, br1, At(ts), false)
		require.NoError(t, err)
		assert.True(t, h.States[ts].Equal(st.States[ts]), "at %s", ts)
	}
}

func TestVersionsNewestFirst(t *testing.T) {
	e := newEngine(t)
	seq, err := e.Versions(context.Background(), br1)
	require.NoError(t, err)

	var order []time.Time
	for ts, v := range seq {
		order = append(order, ts)
		assert.Empty(t, v.Warnings)
		v.State.Add(rdf.NewTriple(u(br1), u(title), rdf.NewLiteral("scribble")))
	}
	assert.Equal(t, []time.Time{t3, t2, t1}, order)

	// A second range starts again from the present.
	for ts, v := range seq {
		assert.Equal(t, t3, ts)
		assert.True(t, stateAtT3().Equal(v.State))
		break
	}
}

func TestVersionsReportMalformedStatements(t *testing.T) {
	snaps := append([]snapshotSpec{}, trail...)
	snaps[2].update = `INSERT DATA { <` + br1 + `> <` + cites + `> <` + br2 + `> . `
	e := newEngine(t, snaps...)

	seq, err := e.Versions(context.Background(), br1)
	require.NoError(t, err)

	warnings := map[time.Time][]error{}
	for ts, v := range seq {
		warnings[ts] = v.Warnings
	}
	assert.Empty(t, warnings[t3])
	require.Len(t, warnings[t2], 1)
	assert.ErrorIs(t, warnings[t2][0], errors.ErrMalformedDelta)
	// Older states were reconstructed past the same skipped statement.
	require.Len(t, warnings[t1], 1)
}

func TestVersionsWithoutSnapshots(t *testing.T) {
	e := newEngine(t)
	seq, err := e.Versions(context.Background(), ra1)
	require.NoError(t, err)
	for range seq {
		t.Fatal("no versions expected")
	}
}
