// Package timeline reconstructs the past states of an entity from its
// current state and its provenance trail.
//
// Every snapshot of an entity may record the update statement that
// produced it. Starting from the present, the engine walks the trail
// backward and undoes those statements one snapshot at a time, so any
// past state can be materialized on demand without the store ever
// keeping old copies.
package timeline

import (
	"math"
	"sort"
	"time"

	"github.com/coolbeans/timeagnostic/pkg/errors"
	"github.com/coolbeans/timeagnostic/pkg/instant"
	"github.com/coolbeans/timeagnostic/pkg/rdf"
)

// UnlimitedDepth lets discovery follow links until no new entity appears.
const UnlimitedDepth = math.MaxInt

// SnapshotRecord is one provenance snapshot of an entity.
type SnapshotRecord struct {
	URI           string     `json:"uri" yaml:"uri"`
	GeneratedAt   time.Time  `json:"generatedAtTime" yaml:"generatedAtTime"`
	InvalidatedAt *time.Time `json:"invalidatedAtTime,omitempty" yaml:"invalidatedAtTime,omitempty"`
	AttributedTo  string     `json:"wasAttributedTo,omitempty" yaml:"wasAttributedTo,omitempty"`
	PrimarySource string     `json:"hadPrimarySource,omitempty" yaml:"hadPrimarySource,omitempty"`
	Description   string     `json:"description,omitempty" yaml:"description,omitempty"`
	UpdateQuery   string     `json:"hasUpdateQuery,omitempty" yaml:"hasUpdateQuery,omitempty"`
	DerivedFrom   []string   `json:"wasDerivedFrom,omitempty" yaml:"wasDerivedFrom,omitempty"`
}

// Interval selects snapshots by generation time. Both bounds are
// inclusive and either may be nil.
type Interval struct {
	After  *time.Time
	Before *time.Time
}

// At returns the interval holding exactly t.
func At(t time.Time) Interval {
	return Interval{After: &t, Before: &t}
}

// Between returns the closed interval [after, before].
func Between(after, before time.Time) Interval {
	return Interval{After: &after, Before: &before}
}

// ParseInterval builds an interval from optional textual bounds.
func ParseInterval(after, before string) (Interval, error) {
	var iv Interval
	if after != "" {
		t, err := instant.Parse(after)
		if err != nil {
			return Interval{}, errors.Wrap(errors.Mark(err, errors.ErrInvalidInput), "lower bound")
		}
		iv.After = &t
	}
	if before != "" {
		t, err := instant.Parse(before)
		if err != nil {
			return Interval{}, errors.Wrap(errors.Mark(err, errors.ErrInvalidInput), "upper bound")
		}
		iv.Before = &t
	}
	if iv.After != nil && iv.Before != nil && iv.Before.Before(*iv.After) {
		return Interval{}, errors.Wrapf(errors.ErrInvalidInput, "interval %s is empty", iv)
	}
	return iv, nil
}

// Contains reports whether t falls inside the interval.
func (iv Interval) Contains(t time.Time) bool {
	if iv.After != nil && t.Before(*iv.After) {
		return false
	}
	if iv.Before != nil && t.After(*iv.Before) {
		return false
	}
	return true
}

// IsZero reports whether neither bound is set.
func (iv Interval) IsZero() bool {
	return iv.After == nil && iv.Before == nil
}

// String renders the interval with open bounds shown as "..".
func (iv Interval) String() string {
	after, before := "..", ".."
	if iv.After != nil {
		after = instant.Format(*iv.After)
	}
	if iv.Before != nil {
		before = instant.Format(*iv.Before)
	}
	return "[" + after + ", " + before + "]"
}

// Timeline maps normalized instants to the quads valid from that instant.
type Timeline map[time.Time]*rdf.QuadSet

// Timestamps returns the instants in ascending order.
func (tl Timeline) Timestamps() []time.Time {
	out := make([]time.Time, 0, len(tl))
	for t := range tl {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// AsOf returns the state at the latest instant not after t.
func (tl Timeline) AsOf(t time.Time) (*rdf.QuadSet, bool) {
	var (
		best  time.Time
		state *rdf.QuadSet
	)
	for ts, set := range tl {
		if ts.After(t) {
			continue
		}
		if state == nil || ts.After(best) {
			best, state = ts, set
		}
	}
	return state, state != nil
}

// MergedTimeline is a primary entity's timeline with satellite entities
// joined in at each primary instant.
type MergedTimeline = Timeline

// AsOfMerge joins satellites onto the primary timeline. At each primary
// instant T, every satellite contributes its state at the latest of its
// own instants not after T; a satellite with no such instant contributes
// nothing. Inputs are not modified.
func AsOfMerge(primary Timeline, satellites ...Timeline) MergedTimeline {
	merged := make(MergedTimeline, len(primary))
	for t, state := range primary {
		set := state.Clone()
		for _, sat := range satellites {
			if other, ok := sat.AsOf(t); ok {
				set.AddAll(other)
			}
		}
		merged[t] = set
	}
	return merged
}
