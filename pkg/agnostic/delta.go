package agnostic

import (
	"context"
	"strings"
	"time"

	"github.com/coolbeans/timeagnostic/pkg/errors"
	"github.com/coolbeans/timeagnostic/pkg/logger"
	"github.com/coolbeans/timeagnostic/pkg/parallel"
	"github.com/coolbeans/timeagnostic/pkg/timeline"
)

// EntityDelta summarizes how one entity changed. Modified maps each
// change instant to the update statement, or to the snapshot
// description when the statement is not recorded.
type EntityDelta struct {
	Created  *time.Time           `json:"created" yaml:"created"`
	Modified map[time.Time]string `json:"modified" yaml:"modified"`
	Deleted  *time.Time           `json:"deleted" yaml:"deleted"`
}

// DeltaQuery reports the changes of the entities a SELECT query touches.
type DeltaQuery struct {
	engine *Engine
	prep   *Prepared
	settings
}

// DeltaQuery prepares text as a delta query.
func (e *Engine) DeltaQuery(text string, opts ...Option) (*DeltaQuery, error) {
	prep, err := Prepare(text)
	if err != nil {
		return nil, err
	}
	return &DeltaQuery{engine: e, prep: prep, settings: newSettings(opts)}, nil
}

// Prepared returns the classified query.
func (q *DeltaQuery) Prepared() *Prepared { return q.prep }

// Run computes a delta for every entity the query touches that has a
// provenance trail. Peripheral failures come back as warnings.
func (q *DeltaQuery) Run(ctx context.Context) (map[string]*EntityDelta, []error, error) {
	r := &resolver{engine: q.engine, prep: q.prep}
	res, err := r.resolve(ctx, false)
	if err != nil {
		return nil, nil, err
	}

	tl := q.engine.timeline
	computed, err := parallel.Map(ctx, res.Entities(), func(ctx context.Context, entity string) (*EntityDelta, error) {
		snaps, err := tl.Snapshots(ctx, entity)
		if err != nil || len(snaps) == 0 {
			return nil, err
		}
		present, err := tl.Present(ctx, entity)
		if err != nil {
			return nil, err
		}
		return q.entityDelta(snaps, present.Len() > 0), nil
	}, tl.Parallelism())
	if err != nil {
		return nil, nil, errors.Wrap(err, "compute entity deltas")
	}

	out := make(map[string]*EntityDelta, len(computed))
	for entity, d := range computed {
		if d != nil {
			out[entity] = d
		}
	}
	q.engine.logger.Infow("Delta query answered",
		logger.FieldCount, len(out),
		"warnings", len(res.warnings))
	return out, res.warnings, nil
}

// entityDelta reads one trail, oldest first. Deletion is judged on the
// present state and so ignores the interval.
func (q *DeltaQuery) entityDelta(snaps []timeline.SnapshotRecord, exists bool) *EntityDelta {
	created := snaps[0].GeneratedAt
	d := &EntityDelta{Modified: map[time.Time]string{}}
	if !exists {
		deleted := snaps[len(snaps)-1].GeneratedAt
		d.Deleted = &deleted
	}
	for _, s := range snaps {
		if !q.interval.Contains(s.GeneratedAt) {
			continue
		}
		if s.GeneratedAt.Equal(created) {
			c := created
			d.Created = &c
			continue
		}
		switch {
		case s.UpdateQuery != "" && len(q.properties) > 0:
			if mentionsAny(s.UpdateQuery, q.properties) {
				d.Modified[s.GeneratedAt] = s.UpdateQuery
			}
		case s.UpdateQuery != "":
			d.Modified[s.GeneratedAt] = s.UpdateQuery
		case len(q.properties) == 0 && s.Description != "":
			d.Modified[s.GeneratedAt] = s.Description
		}
	}
	return d
}

func mentionsAny(text string, properties []string) bool {
	for _, p := range properties {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}
