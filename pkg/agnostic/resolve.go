package agnostic

import (
	"context"
	"sort"
	"time"

	"github.com/coolbeans/timeagnostic/pkg/delta"
	"github.com/coolbeans/timeagnostic/pkg/errors"
	"github.com/coolbeans/timeagnostic/pkg/logger"
	"github.com/coolbeans/timeagnostic/pkg/parallel"
	"github.com/coolbeans/timeagnostic/pkg/query"
	"github.com/coolbeans/timeagnostic/pkg/rdf"
	"github.com/coolbeans/timeagnostic/pkg/store"
	"github.com/coolbeans/timeagnostic/pkg/timeline"
)

// resolution is what a query touches: every entity found, the timelines
// reconstructed for them and their alignment.
type resolution struct {
	entities  map[string]struct{}
	timelines map[string]timeline.Timeline
	aligned   timeline.Timeline
	warnings  []error
}

func (r *resolution) add(uris ...string) {
	for _, u := range uris {
		r.entities[u] = struct{}{}
	}
}

// Entities returns the entities found, sorted.
func (r *resolution) Entities() []string {
	out := make([]string, 0, len(r.entities))
	for u := range r.entities {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

func (r *resolution) pending() []string {
	var out []string
	for u := range r.entities {
		if _, done := r.timelines[u]; !done {
			out = append(out, u)
		}
	}
	sort.Strings(out)
	return out
}

// resolver finds and reconstructs the entities a prepared query needs.
type resolver struct {
	engine   *Engine
	prep     *Prepared
	interval timeline.Interval
}

// discovery is what one pattern contributes: entity URIs and an
// optional warning from the update-text search.
type discovery struct {
	uris    []string
	warning error
}

// resolve discovers the entities of every seed pattern. When reconstruct
// is set, or the query has joins, the entities are reconstructed,
// aligned and the joins solved.
func (r *resolver) resolve(ctx context.Context, reconstruct bool) (*resolution, error) {
	res := &resolution{
		entities:  map[string]struct{}{},
		timelines: map[string]timeline.Timeline{},
	}
	for _, p := range r.prep.Patterns {
		res.add(boundEntities(p)...)
	}

	seeds := append(r.prep.Isolated(), r.prep.Roots()...)
	found, err := parallel.Map(ctx, seeds, r.discover, r.engine.timeline.Parallelism())
	if err != nil {
		return nil, err
	}
	for _, p := range seeds {
		d := found[p]
		res.add(d.uris...)
		if d.warning != nil {
			res.warnings = append(res.warnings, d.warning)
		}
	}

	if !reconstruct && !r.prep.HasJoins() {
		return res, nil
	}
	if err := r.reconstruct(ctx, res); err != nil {
		return nil, err
	}
	res.aligned = Align(res.timelines)
	if r.prep.HasJoins() {
		if err := r.solve(ctx, res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// discover collects the entities a pattern matches now, from the
// dataset, and the entities it matched in the past, from update texts.
// The two searches run as a pair.
func (r *resolver) discover(ctx context.Context, p query.TriplePattern) (discovery, error) {
	present, past, err := parallel.Pair(ctx,
		func(ctx context.Context) ([]string, error) { return r.presentMatches(ctx, p) },
		func(ctx context.Context) (discovery, error) { return r.pastMatches(ctx, p), nil },
	)
	if err != nil {
		return discovery{}, err
	}
	past.uris = append(past.uris, present...)
	return past, nil
}

func (r *resolver) presentMatches(ctx context.Context, p query.TriplePattern) ([]string, error) {
	clause := p.String()
	if p.Graph.IsZero() && r.engine.timeline.DatasetQuads() {
		clause = "GRAPH ?discoveryGraph { " + clause + " }"
	}
	res, err := r.engine.timeline.Dataset().Select(ctx, "SELECT * WHERE { "+clause+" }")
	if err != nil {
		return nil, errors.Wrapf(err, "present matches of %s", p.String())
	}
	var out []string
	for _, n := range []query.Node{p.Subject, p.Object} {
		if !n.IsVariable() {
			continue
		}
		for _, t := range res.Column(n.Var) {
			if t.IsURI() {
				out = append(out, t.Value)
			}
		}
	}
	return out, nil
}

// pastMatches searches the update texts that mention every URI of the
// pattern and keeps the subjects and objects of the statements that
// match it. A failed search degrades to no entities.
func (r *resolver) pastMatches(ctx context.Context, p query.TriplePattern) discovery {
	var uris []string
	for _, n := range p.Nodes() {
		if !n.IsVariable() && n.Term.IsURI() {
			uris = append(uris, n.Term.Value)
		}
	}
	if len(uris) == 0 {
		return discovery{}
	}
	texts, err := r.engine.search.Search(ctx, uris)
	if err != nil {
		r.engine.logger.Warnw("Update text search failed",
			logger.FieldQuery, p.String(),
			logger.FieldError, err)
		return discovery{warning: errors.Wrapf(err, "update text search for %s", p.String())}
	}

	var d discovery
	for _, text := range texts {
		parsed, err := delta.Parse(text)
		if err != nil {
			r.engine.logger.Debugw("Skipping unparseable update", logger.FieldError, err)
			continue
		}
		for _, q := range parsed.Quads() {
			if !matches(p, q) {
				continue
			}
			for _, t := range []rdf.Term{q.Subject, q.Object} {
				if t.IsURI() {
					d.uris = append(d.uris, t.Value)
				}
			}
		}
	}
	return d
}

// matches reports whether q agrees with every bound position of p.
func matches(p query.TriplePattern, q rdf.Quad) bool {
	for i, n := range p.Nodes() {
		if n.IsVariable() {
			continue
		}
		t := [3]rdf.Term{q.Subject, q.Predicate, q.Object}[i]
		if !n.Term.Equal(t) && !n.Term.LooseEqual(t) {
			return false
		}
	}
	return true
}

func boundEntities(p query.TriplePattern) []string {
	var out []string
	for _, n := range []query.Node{p.Subject, p.Object} {
		if !n.IsVariable() && n.Term.IsURI() {
			out = append(out, n.Term.Value)
		}
	}
	return out
}

// reconstructed is one entity's contribution to the aligned timeline.
type reconstructed struct {
	states   timeline.Timeline
	warnings []error
}

// reconstruct builds the timeline of every pending entity: the full
// history, or the states selected by the interval when one is set.
func (r *resolver) reconstruct(ctx context.Context, res *resolution) error {
	tl := r.engine.timeline
	built, err := parallel.Map(ctx, res.pending(), func(ctx context.Context, entity string) (reconstructed, error) {
		if r.interval.IsZero() {
			h, err := tl.History(ctx, entity, timeline.HistoryOptions{})
			if err != nil {
				return reconstructed{}, err
			}
			return reconstructed{states: h.States, warnings: h.Warnings}, nil
		}
		st, err := tl.StateAt(ctx, entity, r.interval, false)
		if err != nil {
			return reconstructed{}, err
		}
		return reconstructed{states: st.States, warnings: st.Warnings}, nil
	}, tl.Parallelism())
	if err != nil {
		return errors.Wrap(err, "reconstruct query entities")
	}
	for entity, b := range built {
		res.timelines[entity] = b.states
		res.warnings = append(res.warnings, b.warnings...)
	}
	return nil
}

// solve evaluates the joined patterns on every aligned state. Bindings
// substituted into the query's patterns reveal subjects that were not
// reconstructed yet; those are reconstructed and the alignment redone
// until nothing new appears.
func (r *resolver) solve(ctx context.Context, res *resolution) error {
	joined := r.prep.Joined()
	for round := 1; ; round++ {
		revealed := map[string]struct{}{}
		for _, set := range res.aligned {
			ex := query.NewExecutor(store.FromQuadSet(set), query.WithTimeout(0))
			for _, p := range joined {
				out, err := ex.ExecuteWithContext(ctx, singlePattern(p))
				if err != nil {
					return errors.Wrapf(err, "solve %s", p.String())
				}
				for _, row := range out.Bindings {
					for _, other := range r.prep.Patterns {
						s := other.Substitute(row).Subject
						if s.IsVariable() || !s.Term.IsURI() {
							continue
						}
						if _, done := res.timelines[s.Term.Value]; !done {
							revealed[s.Term.Value] = struct{}{}
						}
					}
				}
			}
		}
		if len(revealed) == 0 {
			return nil
		}
		for u := range revealed {
			res.add(u)
		}
		r.engine.logger.Debugw("Join revealed new entities",
			"round", round,
			logger.FieldCount, len(revealed))
		if err := r.reconstruct(ctx, res); err != nil {
			return err
		}
		res.aligned = Align(res.timelines)
	}
}

func singlePattern(p query.TriplePattern) *query.Query {
	return &query.Query{
		Type: query.SelectQueryType,
		Select: &query.SelectQuery{
			Variables: []string{"*"},
			Where:     query.Group{Patterns: []query.TriplePattern{p}},
		},
	}
}

// Align joins entity timelines on the union of their instants. At each
// instant every entity contributes its state as of that instant; an
// entity with no state yet contributes nothing.
func Align(timelines map[string]timeline.Timeline) timeline.Timeline {
	instants := map[time.Time]struct{}{}
	for _, tl := range timelines {
		for t := range tl {
			instants[t] = struct{}{}
		}
	}
	out := make(timeline.Timeline, len(instants))
	for t := range instants {
		set := rdf.NewQuadSet()
		for _, tl := range timelines {
			if state, ok := tl.AsOf(t); ok {
				set.AddAll(state)
			}
		}
		out[t] = set
	}
	return out
}
