package timeline

import (
	"context"
	"iter"
	"time"

	"github.com/coolbeans/timeagnostic/pkg/logger"
	"github.com/coolbeans/timeagnostic/pkg/rdf"
)

// HistoryOptions tunes History.
type HistoryOptions struct {
	IncludeMetadata bool
}

// History is the full timeline of one entity. States may share quad sets
// between instants where nothing changed; treat them as read-only.
type History struct {
	Entity   string                    `json:"entity" yaml:"entity"`
	States   Timeline                  `json:"states" yaml:"states"`
	Metadata map[string]SnapshotRecord `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	// Warnings holds the non-fatal problems met while reconstructing,
	// such as malformed update statements that were skipped.
	Warnings []error `json:"-" yaml:"-"`

	materializations int
}

// Timestamps returns the instants of the history in ascending order.
func (h *History) Timestamps() []time.Time { return h.States.Timestamps() }

// Overhead returns how many update statements were undone to build the
// history.
func (h *History) Overhead() int { return h.materializations }

// State is an entity's state at the snapshots selected by an interval.
type State struct {
	Entity string   `json:"entity" yaml:"entity"`
	States Timeline `json:"states" yaml:"states"`
	// Returned describes the snapshots whose states are in States.
	Returned map[string]SnapshotRecord `json:"returned" yaml:"returned"`
	// Others describes the remaining snapshots. It is only filled when
	// metadata was requested.
	Others   map[string]SnapshotRecord `json:"others,omitempty" yaml:"others,omitempty"`
	Warnings []error                   `json:"-" yaml:"-"`

	materializations int
}

// Timestamps returns the instants of the state in ascending order.
func (s *State) Timestamps() []time.Time { return s.States.Timestamps() }

// Overhead returns how many update statements were undone to build the
// state.
func (s *State) Overhead() int { return s.materializations }

// step groups the snapshots generated at the same instant.
type step struct {
	at    time.Time
	snaps []SnapshotRecord
}

// groupByInstant folds an ascending trail into ascending steps.
func groupByInstant(snaps []SnapshotRecord) []step {
	var steps []step
	for _, s := range snaps {
		if n := len(steps); n > 0 && steps[n-1].at.Equal(s.GeneratedAt) {
			steps[n-1].snaps = append(steps[n-1].snaps, s)
			continue
		}
		steps = append(steps, step{at: s.GeneratedAt, snaps: []SnapshotRecord{s}})
	}
	return steps
}

func hasStatements(snaps []SnapshotRecord) bool {
	for _, s := range snaps {
		if s.UpdateQuery != "" {
			return true
		}
	}
	return false
}

func metadataOf(snaps []SnapshotRecord) map[string]SnapshotRecord {
	out := make(map[string]SnapshotRecord, len(snaps))
	for _, s := range snaps {
		out[s.URI] = s
	}
	return out
}

// History reconstructs every state of entity, one per distinct snapshot
// instant. The newest state is the present one; each older state is the
// next newer state with that newer snapshot's statement undone. An entity
// without snapshots has an empty history.
func (e *Engine) History(ctx context.Context, entity string, opts HistoryOptions) (*History, error) {
	h := &History{Entity: entity, States: Timeline{}}
	snaps, err := e.Snapshots(ctx, entity)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return h, nil
	}
	present, err := e.Present(ctx, entity)
	if err != nil {
		return nil, err
	}

	steps := groupByInstant(snaps)
	working := present
	h.States[steps[len(steps)-1].at] = working
	for i := len(steps) - 2; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		newer := steps[i+1].snaps
		if hasStatements(newer) {
			working = working.Clone()
			for _, snap := range newer {
				if warn := e.revert(working, entity, snap); warn != nil {
					h.Warnings = append(h.Warnings, warn)
				}
			}
			h.materializations++
		}
		h.States[steps[i].at] = working
	}

	if opts.IncludeMetadata && !isProvEntity(entity, present) {
		h.Metadata = metadataOf(snaps)
	}
	e.logger.Debugw("Reconstructed history",
		logger.FieldEntity, entity,
		logger.FieldCount, len(h.States))
	return h, nil
}

// SelectInstants returns the instants inside iv, in input order. With
// none inside and a lower bound set, the state persists from the latest
// instant at or before that bound, which is returned alone.
func SelectInstants(instants []time.Time, iv Interval) []time.Time {
	var out []time.Time
	for _, t := range instants {
		if iv.Contains(t) {
			out = append(out, t)
		}
	}
	if len(out) > 0 || iv.After == nil {
		return out
	}

	var latest *time.Time
	for i := range instants {
		if instants[i].After(*iv.After) {
			continue
		}
		if latest == nil || instants[i].After(*latest) {
			latest = &instants[i]
		}
	}
	if latest == nil {
		return nil
	}
	return []time.Time{*latest}
}

// selectSnapshots returns the snapshots generated at the instants
// SelectInstants picks for iv.
func selectSnapshots(snaps []SnapshotRecord, iv Interval) []SnapshotRecord {
	instants := make([]time.Time, len(snaps))
	for i, s := range snaps {
		instants[i] = s.GeneratedAt
	}
	picked := SelectInstants(instants, iv)
	var out []SnapshotRecord
	for _, s := range snaps {
		for _, t := range picked {
			if s.GeneratedAt.Equal(t) {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

// StateAt reconstructs entity at every snapshot selected by iv. Each
// selected state is the present state with the statements of all
// strictly newer snapshots undone.
func (e *Engine) StateAt(ctx context.Context, entity string, iv Interval, includeMetadata bool) (*State, error) {
	st := &State{Entity: entity, States: Timeline{}, Returned: map[string]SnapshotRecord{}}
	if includeMetadata {
		st.Others = map[string]SnapshotRecord{}
	}
	snaps, err := e.Snapshots(ctx, entity)
	if err != nil {
		return nil, err
	}

	matched := selectSnapshots(snaps, iv)
	for _, s := range matched {
		st.Returned[s.URI] = s
	}
	if includeMetadata {
		for _, s := range snaps {
			if _, ok := st.Returned[s.URI]; !ok {
				st.Others[s.URI] = s
			}
		}
	}
	if len(matched) == 0 {
		return st, nil
	}

	present, err := e.Present(ctx, entity)
	if err != nil {
		return nil, err
	}
	oldest := matched[0].GeneratedAt
	for _, s := range matched {
		if s.GeneratedAt.Before(oldest) {
			oldest = s.GeneratedAt
		}
	}

	// Walk newest to oldest, recording a copy at each selected instant
	// before undoing that instant's own statements.
	steps := groupByInstant(snaps)
	working := present.Clone()
	for i := len(steps) - 1; i >= 0 && !steps[i].at.Before(oldest); i-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, s := range steps[i].snaps {
			if _, ok := st.Returned[s.URI]; ok {
				st.States[steps[i].at] = working.Clone()
				break
			}
		}
		if steps[i].at.Equal(oldest) || !hasStatements(steps[i].snaps) {
			continue
		}
		for _, snap := range steps[i].snaps {
			if warn := e.revert(working, entity, snap); warn != nil {
				st.Warnings = append(st.Warnings, warn)
			}
		}
		st.materializations++
	}
	return st, nil
}

// Version is one past state yielded by Versions. Warnings lists every
// update statement that could not be reverted on the way back to it, newest
// first; the state still holds the effects of those statements.
type Version struct {
	State    *rdf.QuadSet
	Warnings []error
}

// Versions returns a lazy sequence of the entity's states, newest first.
// The trail and present state are fetched once; every range over the
// sequence starts again from a fresh copy of the present and yields sets
// the caller owns.
func (e *Engine) Versions(ctx context.Context, entity string) (iter.Seq2[time.Time, Version], error) {
	snaps, err := e.Snapshots(ctx, entity)
	if err != nil {
		return nil, err
	}
	present := rdf.NewQuadSet()
	if len(snaps) > 0 {
		if present, err = e.Present(ctx, entity); err != nil {
			return nil, err
		}
	}
	steps := groupByInstant(snaps)

	return func(yield func(time.Time, Version) bool) {
		working := present.Clone()
		var warnings []error
		for i := len(steps) - 1; i >= 0; i-- {
			if i < len(steps)-1 {
				for _, snap := range steps[i+1].snaps {
					if warn := e.revert(working, entity, snap); warn != nil {
						warnings = append(warnings, warn)
					}
				}
			}
			v := Version{State: working.Clone(), Warnings: append([]error(nil), warnings...)}
			if !yield(steps[i].at, v) {
				return
			}
		}
	}, nil
}
