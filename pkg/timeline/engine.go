package timeline

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/coolbeans/timeagnostic/pkg/delta"
	"github.com/coolbeans/timeagnostic/pkg/errors"
	"github.com/coolbeans/timeagnostic/pkg/instant"
	"github.com/coolbeans/timeagnostic/pkg/logger"
	"github.com/coolbeans/timeagnostic/pkg/parallel"
	"github.com/coolbeans/timeagnostic/pkg/rdf"
	"github.com/coolbeans/timeagnostic/pkg/sparql"
)

// Engine reconstructs entity timelines. The dataset client answers for
// current facts and the provenance client for snapshot trails; both may
// be the same client. An Engine holds no per-call state and is safe for
// concurrent use.
type Engine struct {
	dataset         sparql.Client
	provenance      sparql.Client
	datasetQuads    bool
	provenanceQuads bool
	instants        *instant.Cache
	pool            parallel.Options
	logger          *zap.SugaredLogger
}

// Option configures an Engine.
type Option func(*Engine)

// WithQuadstores declares which stores are partitioned into named graphs.
func WithQuadstores(dataset, provenance bool) Option {
	return func(e *Engine) {
		e.datasetQuads = dataset
		e.provenanceQuads = provenance
	}
}

// WithInstantCache shares a parse memo across engines.
func WithInstantCache(c *instant.Cache) Option {
	return func(e *Engine) { e.instants = c }
}

// WithParallelism tunes the pool used to reconstruct several entities.
func WithParallelism(opts parallel.Options) Option {
	return func(e *Engine) { e.pool = opts }
}

// WithLogger replaces the component logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine returns an engine over the two stores.
func NewEngine(dataset, provenance sparql.Client, opts ...Option) (*Engine, error) {
	if dataset == nil || provenance == nil {
		return nil, errors.WithHint(
			errors.Wrap(errors.ErrInvalidConfig, "timeline engine needs dataset and provenance stores"),
			"configure dataset and provenance locations")
	}
	e := &Engine{
		dataset:    dataset,
		provenance: provenance,
		logger:     logger.ComponentLogger("timeline"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.instants == nil {
		cache, err := instant.NewCache(instant.DefaultCacheSize)
		if err != nil {
			return nil, err
		}
		e.instants = cache
	}
	return e, nil
}

// Dataset returns the client for current facts.
func (e *Engine) Dataset() sparql.Client { return e.dataset }

// Provenance returns the client for snapshot trails.
func (e *Engine) Provenance() sparql.Client { return e.provenance }

// DatasetQuads reports whether the dataset is partitioned into graphs.
func (e *Engine) DatasetQuads() bool { return e.datasetQuads }

// ProvenanceQuads reports whether the provenance store is partitioned
// into graphs.
func (e *Engine) ProvenanceQuads() bool { return e.provenanceQuads }

// Instants returns the shared instant cache.
func (e *Engine) Instants() *instant.Cache { return e.instants }

// Parallelism returns the pool options.
func (e *Engine) Parallelism() parallel.Options { return e.pool }

func iri(uri string) string {
	return "<" + uri + ">"
}

func valuesList(uris []string) string {
	parts := make([]string, len(uris))
	for i, u := range uris {
		parts[i] = iri(u)
	}
	return strings.Join(parts, " ")
}

func (e *Engine) snapshotsQuery(entity string) string {
	required := "?snapshot " + iri(rdf.ProvSpecializationOf) + " " + iri(entity) + " ;\n" +
		"    " + iri(rdf.ProvGeneratedAtTime) + " ?time ."
	if e.provenanceQuads {
		required = "GRAPH ?provGraph { " + required + " }"
	}
	var b strings.Builder
	b.WriteString("SELECT ?snapshot ?time ?agent ?invalidated ?description ?updateQuery ?primarySource ?derived WHERE {\n  ")
	b.WriteString(required)
	b.WriteString("\n")
	for _, opt := range []struct{ predicate, variable string }{
		{rdf.ProvWasAttributedTo, "agent"},
		{rdf.ProvInvalidatedAtTime, "invalidated"},
		{rdf.DCTermsDescription, "description"},
		{rdf.OCOHasUpdateQuery, "updateQuery"},
		{rdf.ProvHadPrimarySource, "primarySource"},
		{rdf.ProvWasDerivedFrom, "derived"},
	} {
		b.WriteString("  OPTIONAL { ?snapshot " + iri(opt.predicate) + " ?" + opt.variable + " . }\n")
	}
	b.WriteString("}")
	return b.String()
}

// Snapshots returns the provenance trail of entity, oldest first.
// Snapshots whose generation time cannot be parsed are skipped with a
// warning.
func (e *Engine) Snapshots(ctx context.Context, entity string) ([]SnapshotRecord, error) {
	res, err := e.provenance.Select(ctx, e.snapshotsQuery(entity))
	if err != nil {
		return nil, errors.Wrapf(err, "snapshots of %s", entity)
	}

	byURI := make(map[string]*SnapshotRecord)
	for _, row := range res.Rows {
		uri := row["snapshot"].Value
		rec, ok := byURI[uri]
		if !ok {
			generated, err := e.instants.Parse(row["time"].Value)
			if err != nil {
				e.logger.Warnw("Skipping snapshot with unparseable time",
					logger.FieldEntity, entity,
					logger.FieldSnapshot, uri,
					logger.FieldError, err)
				continue
			}
			rec = &SnapshotRecord{URI: uri, GeneratedAt: generated}
			byURI[uri] = rec
		}
		e.fillRecord(rec, row)
	}

	out := make([]SnapshotRecord, 0, len(byURI))
	for _, rec := range byURI {
		sort.Strings(rec.DerivedFrom)
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].GeneratedAt.Equal(out[j].GeneratedAt) {
			return out[i].URI < out[j].URI
		}
		return out[i].GeneratedAt.Before(out[j].GeneratedAt)
	})
	return out, nil
}

func (e *Engine) fillRecord(rec *SnapshotRecord, row map[string]rdf.Term) {
	set := func(field *string, v string) {
		if t, ok := row[v]; ok && !t.IsZero() && *field == "" {
			*field = t.Value
		}
	}
	set(&rec.AttributedTo, "agent")
	set(&rec.Description, "description")
	set(&rec.UpdateQuery, "updateQuery")
	set(&rec.PrimarySource, "primarySource")

	if t, ok := row["invalidated"]; ok && !t.IsZero() && rec.InvalidatedAt == nil {
		if inv, err := e.instants.Parse(t.Value); err == nil {
			rec.InvalidatedAt = &inv
		}
	}
	if t, ok := row["derived"]; ok && t.IsURI() {
		for _, d := range rec.DerivedFrom {
			if d == t.Value {
				return
			}
		}
		rec.DerivedFrom = append(rec.DerivedFrom, t.Value)
	}
}

func (e *Engine) presentQuery(entities []string) string {
	if e.datasetQuads {
		return "SELECT DISTINCT ?s ?p ?o ?g WHERE {\n  VALUES ?s { " + valuesList(entities) + " }\n  GRAPH ?g { ?s ?p ?o . }\n}"
	}
	return "SELECT DISTINCT ?s ?p ?o WHERE {\n  VALUES ?s { " + valuesList(entities) + " }\n  ?s ?p ?o .\n}"
}

// Present returns the current quads of entity with provenance
// predicates stripped.
func (e *Engine) Present(ctx context.Context, entity string) (*rdf.QuadSet, error) {
	set, err := e.dataset.SelectQuads(ctx, e.presentQuery([]string{entity}))
	if err != nil {
		return nil, errors.Wrapf(err, "current state of %s", entity)
	}
	return stripProvenance(set), nil
}

func stripProvenance(set *rdf.QuadSet) *rdf.QuadSet {
	return set.Filter(func(q rdf.Quad) bool {
		return !rdf.IsProvenancePredicate(q.Predicate.Value)
	})
}

// isProvEntity reports whether the entity is itself a snapshot.
func isProvEntity(entity string, present *rdf.QuadSet) bool {
	return len(present.Find(rdf.QuadPattern{
		Subject:   rdf.NewURI(entity),
		Predicate: rdf.NewURI(rdf.RDFType),
		Object:    rdf.NewURI(rdf.ProvEntity),
	})) > 0
}

// revert undoes one snapshot's statement on set. A malformed statement
// leaves set unchanged and is logged and returned as a warning.
func (e *Engine) revert(set *rdf.QuadSet, entity string, snap SnapshotRecord) error {
	if snap.UpdateQuery == "" {
		return nil
	}
	if err := delta.Revert(set, snap.UpdateQuery, e.datasetQuads); err != nil {
		e.logger.Warnw("Ignoring malformed update statement",
			logger.FieldEntity, entity,
			logger.FieldSnapshot, snap.URI,
			logger.FieldError, err)
		return errors.Wrapf(err, "snapshot %s", snap.URI)
	}
	return nil
}
