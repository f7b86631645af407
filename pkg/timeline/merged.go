package timeline

import (
	"context"
	"sort"
	"strings"

	"github.com/coolbeans/timeagnostic/pkg/errors"
	"github.com/coolbeans/timeagnostic/pkg/parallel"
)

// DiscoveryOptions selects which neighbours are joined onto an entity's
// timeline. Depth bounds every traversal; use UnlimitedDepth for no bound.
// A zero or negative depth discovers nothing.
type DiscoveryOptions struct {
	Related         bool
	Merged          bool
	Reverse         bool
	Depth           int
	IncludeMetadata bool
}

// Any reports whether any traversal is enabled.
func (o DiscoveryOptions) Any() bool {
	return o.Related || o.Merged || o.Reverse
}

// ParseDiscovery enables the traversals named in kinds: "objects" (or
// "related"), "merged" and "reverse". Depth starts unlimited.
func ParseDiscovery(kinds []string) (DiscoveryOptions, error) {
	opts := DiscoveryOptions{Depth: UnlimitedDepth}
	for _, kind := range kinds {
		switch strings.ToLower(strings.TrimSpace(kind)) {
		case "":
		case "objects", "related":
			opts.Related = true
		case "merged":
			opts.Merged = true
		case "reverse":
			opts.Reverse = true
		default:
			return DiscoveryOptions{}, errors.WithHint(
				errors.Wrapf(errors.ErrInvalidInput, "unknown discovery kind %q", kind),
				"use objects, merged or reverse")
		}
	}
	return opts, nil
}

// MergedHistory is an entity's history with its neighbours joined in.
type MergedHistory struct {
	Entity    string
	Timeline  MergedTimeline
	Histories map[string]*History
	Warnings  []error
}

// Satellites returns the joined entities, sorted.
func (m *MergedHistory) Satellites() []string {
	var out []string
	for uri := range m.Histories {
		if uri != m.Entity {
			out = append(out, uri)
		}
	}
	sort.Strings(out)
	return out
}

// Overhead sums the reconstruction work of every entity involved.
func (m *MergedHistory) Overhead() int {
	n := 0
	for _, h := range m.Histories {
		n += h.Overhead()
	}
	return n
}

// MergedState is an entity's state in an interval with its neighbours
// joined in.
type MergedState struct {
	Entity   string
	Timeline MergedTimeline
	States   map[string]*State
	Warnings []error
}

// Overhead sums the reconstruction work of every entity involved.
func (m *MergedState) Overhead() int {
	n := 0
	for _, s := range m.States {
		n += s.Overhead()
	}
	return n
}

// Discover runs the traversals selected by opts and returns the union of
// the entities found. Related-object failures are fatal; merged and
// reverse failures come back as warnings next to what was found.
func (e *Engine) Discover(ctx context.Context, entity string, opts DiscoveryOptions) ([]string, []error, error) {
	seen := map[string]struct{}{}
	var warnings []error
	add := func(uris []string) {
		for _, u := range uris {
			if u != entity {
				seen[u] = struct{}{}
			}
		}
	}

	if opts.Related {
		uris, err := e.RelatedObjects(ctx, entity, opts.Depth)
		if err != nil {
			return nil, nil, err
		}
		add(uris)
	}
	if opts.Merged {
		uris, warn := e.MergedEntities(ctx, entity, opts.Depth)
		if warn != nil {
			warnings = append(warnings, warn)
		}
		add(uris)
	}
	if opts.Reverse {
		uris, warn := e.ReverseRelations(ctx, entity, opts.Depth)
		if warn != nil {
			warnings = append(warnings, warn)
		}
		add(uris)
	}

	out := make([]string, 0, len(seen))
	for u := range seen {
		out = append(out, u)
	}
	sort.Strings(out)
	return out, warnings, nil
}

// HistoryWithRelated reconstructs entity and every discovered neighbour,
// then joins the neighbours onto the entity's instants with AsOfMerge.
// Neighbours are reconstructed on their own, without discovery of their
// own.
func (e *Engine) HistoryWithRelated(ctx context.Context, entity string, opts DiscoveryOptions) (*MergedHistory, error) {
	primary, err := e.History(ctx, entity, HistoryOptions{IncludeMetadata: opts.IncludeMetadata})
	if err != nil {
		return nil, err
	}
	satellites, warnings, err := e.Discover(ctx, entity, opts)
	if err != nil {
		return nil, err
	}

	histories, err := parallel.Map(ctx, satellites, func(ctx context.Context, uri string) (*History, error) {
		return e.History(ctx, uri, HistoryOptions{IncludeMetadata: opts.IncludeMetadata})
	}, e.pool)
	if err != nil {
		return nil, errors.Wrapf(err, "history of entities related to %s", entity)
	}

	merged := &MergedHistory{Entity: entity, Histories: histories, Warnings: append(append([]error{}, primary.Warnings...), warnings...)}
	timelines := make([]Timeline, 0, len(satellites))
	for _, uri := range satellites {
		h := histories[uri]
		timelines = append(timelines, h.States)
		merged.Warnings = append(merged.Warnings, h.Warnings...)
	}
	histories[entity] = primary
	merged.Timeline = AsOfMerge(primary.States, timelines...)
	return merged, nil
}

// StateAtWithRelated is StateAt with discovered neighbours joined onto
// the selected instants.
func (e *Engine) StateAtWithRelated(ctx context.Context, entity string, iv Interval, opts DiscoveryOptions) (*MergedState, error) {
	primary, err := e.StateAt(ctx, entity, iv, opts.IncludeMetadata)
	if err != nil {
		return nil, err
	}
	satellites, warnings, err := e.Discover(ctx, entity, opts)
	if err != nil {
		return nil, err
	}

	states, err := parallel.Map(ctx, satellites, func(ctx context.Context, uri string) (*State, error) {
		return e.StateAt(ctx, uri, iv, opts.IncludeMetadata)
	}, e.pool)
	if err != nil {
		return nil, errors.Wrapf(err, "state of entities related to %s", entity)
	}

	merged := &MergedState{Entity: entity, States: states, Warnings: append(append([]error{}, primary.Warnings...), warnings...)}
	timelines := make([]Timeline, 0, len(satellites))
	for _, uri := range satellites {
		s := states[uri]
		timelines = append(timelines, s.States)
		merged.Warnings = append(merged.Warnings, s.Warnings...)
	}
	states[entity] = primary
	merged.Timeline = AsOfMerge(primary.States, timelines...)
	return merged, nil
}
