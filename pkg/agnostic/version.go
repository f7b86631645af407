package agnostic

import (
	"context"
	"time"

	"github.com/coolbeans/timeagnostic/pkg/errors"
	"github.com/coolbeans/timeagnostic/pkg/instant"
	"github.com/coolbeans/timeagnostic/pkg/logger"
	"github.com/coolbeans/timeagnostic/pkg/parallel"
	"github.com/coolbeans/timeagnostic/pkg/query"
	"github.com/coolbeans/timeagnostic/pkg/rdf"
	"github.com/coolbeans/timeagnostic/pkg/store"
	"github.com/coolbeans/timeagnostic/pkg/timeline"
)

// VersionQuery runs a SELECT query against past states of the data.
type VersionQuery struct {
	engine *Engine
	prep   *Prepared
	settings
}

// VersionResult holds the query's rows at every instant it was answered.
type VersionResult struct {
	Variables []string                      `json:"variables" yaml:"variables"`
	Results   map[time.Time][]query.Binding `json:"-" yaml:"-"`
	Entities  []string                      `json:"entities" yaml:"entities"`
	Warnings  []error                       `json:"-" yaml:"-"`
}

// Timestamps returns the answered instants in ascending order.
func (r *VersionResult) Timestamps() []time.Time {
	out := make([]time.Time, 0, len(r.Results))
	for t := range r.Results {
		out = append(out, t)
	}
	sortTimes(out)
	return out
}

// VersionDocument is the serializable form of a VersionResult: rows in
// SPARQL JSON results form keyed by formatted instant.
type VersionDocument struct {
	Variables []string                      `json:"variables" yaml:"variables"`
	Results   map[string]*query.JSONResults `json:"results" yaml:"results"`
	Entities  []string                      `json:"entities" yaml:"entities"`
	Warnings  []string                      `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// Document converts r for encoding.
func (r *VersionResult) Document() *VersionDocument {
	doc := &VersionDocument{
		Variables: r.Variables,
		Results:   make(map[string]*query.JSONResults, len(r.Results)),
		Entities:  r.Entities,
		Warnings:  warningTexts(r.Warnings),
	}
	for t, rows := range r.Results {
		doc.Results[instant.Format(t)] = query.NewJSONResults(r.Variables, rows)
	}
	return doc
}

func warningTexts(warnings []error) []string {
	var out []string
	for _, w := range warnings {
		out = append(out, w.Error())
	}
	return out
}

// VersionQuery prepares text as a version query. Unsupported query
// shapes are rejected here, before any store is contacted.
func (e *Engine) VersionQuery(text string, opts ...Option) (*VersionQuery, error) {
	prep, err := Prepare(text)
	if err != nil {
		return nil, err
	}
	return &VersionQuery{engine: e, prep: prep, settings: newSettings(opts)}, nil
}

// Prepared returns the classified query.
func (q *VersionQuery) Prepared() *Prepared { return q.prep }

// Run answers the query. Without an interval every instant of the
// aligned timeline is answered; with one, the instants inside it, or the
// latest instant at or before its lower bound when none is inside.
func (q *VersionQuery) Run(ctx context.Context) (*VersionResult, error) {
	r := &resolver{engine: q.engine, prep: q.prep, interval: q.interval}
	res, err := r.resolve(ctx, true)
	if err != nil {
		return nil, err
	}

	instants := res.aligned.Timestamps()
	if !q.interval.IsZero() {
		instants = timeline.SelectInstants(instants, q.interval)
	}
	answers, err := parallel.Map(ctx, instants, func(ctx context.Context, t time.Time) (*query.QueryResult, error) {
		ex := query.NewExecutor(store.FromQuadSet(res.aligned[t]), query.WithTimeout(0))
		return ex.ExecuteWithContext(ctx, q.prep.Query)
	}, q.engine.timeline.Parallelism())
	if err != nil {
		return nil, errors.Wrap(err, "evaluate query on past states")
	}

	out := &VersionResult{
		Results:  make(map[time.Time][]query.Binding, len(answers)),
		Entities: res.Entities(),
		Warnings: res.warnings,
	}
	for t, a := range answers {
		out.Results[t] = a.Bindings
		if out.Variables == nil {
			out.Variables = a.Variables
		}
	}
	if out.Variables == nil {
		out.Variables = declaredVariables(q.prep.Query.Select)
	}

	if q.fillGaps {
		if warn := q.fill(ctx, out); warn != nil {
			out.Warnings = append(out.Warnings, warn)
		}
	}
	q.engine.logger.Infow("Version query answered",
		logger.FieldCount, len(out.Results),
		"entities", len(out.Entities),
		"warnings", len(out.Warnings))
	return out, nil
}

func declaredVariables(sq *query.SelectQuery) []string {
	var out []string
	for _, v := range sq.AllOutputVariables() {
		if v != "*" {
			out = append(out, query.StripVariable(v))
		}
	}
	return out
}

// fill carries results forward to every instant the provenance store
// records that has no answer of its own, starting at the first answered
// instant. A failing store degrades to no filling.
func (q *VersionQuery) fill(ctx context.Context, out *VersionResult) error {
	tl := q.engine.timeline
	clause := "?snapshot <" + rdf.ProvGeneratedAtTime + "> ?time ."
	if tl.ProvenanceQuads() {
		clause = "GRAPH ?provGraph { " + clause + " }"
	}
	res, err := tl.Provenance().Select(ctx, "SELECT DISTINCT ?time WHERE { "+clause+" }")
	if err != nil {
		q.engine.logger.Warnw("Gap filling skipped", logger.FieldError, err)
		return errors.Wrap(err, "list provenance instants")
	}

	known := map[time.Time]struct{}{}
	for t := range out.Results {
		known[t] = struct{}{}
	}
	for _, term := range res.Column("time") {
		t, err := tl.Instants().Parse(term.Value)
		if err != nil {
			continue
		}
		if !q.interval.IsZero() && !q.interval.Contains(t) {
			continue
		}
		known[t] = struct{}{}
	}
	all := make([]time.Time, 0, len(known))
	for t := range known {
		all = append(all, t)
	}
	sortTimes(all)

	var last []query.Binding
	carrying := false
	for _, t := range all {
		if rows, ok := out.Results[t]; ok {
			last, carrying = rows, true
			continue
		}
		if carrying {
			out.Results[t] = append([]query.Binding(nil), last...)
		}
	}
	return nil
}
