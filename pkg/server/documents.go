package server

import (
	"sort"
	"time"

	"github.com/coolbeans/timeagnostic/pkg/agnostic"
	"github.com/coolbeans/timeagnostic/pkg/instant"
	"github.com/coolbeans/timeagnostic/pkg/rdf"
	"github.com/coolbeans/timeagnostic/pkg/timeline"
)

// EntityDocument is the encoded form of a history or a state: quad sets
// keyed by formatted instant.
type EntityDocument struct {
	Entity     string                             `json:"entity" yaml:"entity"`
	States     map[string]*rdf.QuadSet            `json:"states" yaml:"states"`
	Satellites []string                           `json:"satellites,omitempty" yaml:"satellites,omitempty"`
	Metadata   map[string]timeline.SnapshotRecord `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Others     map[string]timeline.SnapshotRecord `json:"others,omitempty" yaml:"others,omitempty"`
	Overhead   int                                `json:"overhead" yaml:"overhead"`
	Warnings   []string                           `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// Timestamps returns the document's instants in ascending order.
func (d *EntityDocument) Timestamps() []string {
	out := make([]string, 0, len(d.States))
	for k := range d.States {
		out = append(out, k)
	}
	// Fixed-width UTC keys sort chronologically.
	sort.Strings(out)
	return out
}

func keyed(tl timeline.Timeline) map[string]*rdf.QuadSet {
	out := make(map[string]*rdf.QuadSet, len(tl))
	for t, set := range tl {
		out[instant.Format(t)] = set
	}
	return out
}

func texts(errs []error) []string {
	var out []string
	for _, err := range errs {
		out = append(out, err.Error())
	}
	return out
}

// HistoryDocument encodes a single-entity history.
func HistoryDocument(h *timeline.History) *EntityDocument {
	return &EntityDocument{
		Entity:   h.Entity,
		States:   keyed(h.States),
		Metadata: h.Metadata,
		Overhead: h.Overhead(),
		Warnings: texts(h.Warnings),
	}
}

// MergedHistoryDocument encodes a history with its neighbours joined in.
func MergedHistoryDocument(m *timeline.MergedHistory) *EntityDocument {
	doc := &EntityDocument{
		Entity:     m.Entity,
		States:     keyed(m.Timeline),
		Satellites: m.Satellites(),
		Overhead:   m.Overhead(),
		Warnings:   texts(m.Warnings),
	}
	if primary := m.Histories[m.Entity]; primary != nil {
		doc.Metadata = primary.Metadata
	}
	return doc
}

// StateDocument encodes the states of one entity in an interval.
func StateDocument(s *timeline.State) *EntityDocument {
	return &EntityDocument{
		Entity:   s.Entity,
		States:   keyed(s.States),
		Metadata: s.Returned,
		Others:   s.Others,
		Overhead: s.Overhead(),
		Warnings: texts(s.Warnings),
	}
}

// MergedStateDocument encodes states with neighbours joined in.
func MergedStateDocument(m *timeline.MergedState) *EntityDocument {
	doc := &EntityDocument{
		Entity:   m.Entity,
		States:   keyed(m.Timeline),
		Overhead: m.Overhead(),
		Warnings: texts(m.Warnings),
	}
	for uri := range m.States {
		if uri != m.Entity {
			doc.Satellites = append(doc.Satellites, uri)
		}
	}
	sort.Strings(doc.Satellites)
	if primary := m.States[m.Entity]; primary != nil {
		doc.Metadata = primary.Returned
		doc.Others = primary.Others
	}
	return doc
}

// DeltaEntry is the encoded change summary of one entity.
type DeltaEntry struct {
	Created  string            `json:"created,omitempty" yaml:"created,omitempty"`
	Modified map[string]string `json:"modified" yaml:"modified"`
	Deleted  string            `json:"deleted,omitempty" yaml:"deleted,omitempty"`
}

// DeltaDocument is the encoded result of a delta query.
type DeltaDocument struct {
	Entities map[string]DeltaEntry `json:"entities" yaml:"entities"`
	Warnings []string              `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// NewDeltaDocument encodes delta query output.
func NewDeltaDocument(deltas map[string]*agnostic.EntityDelta, warnings []error) *DeltaDocument {
	doc := &DeltaDocument{Entities: make(map[string]DeltaEntry, len(deltas)), Warnings: texts(warnings)}
	format := func(t *time.Time) string {
		if t == nil {
			return ""
		}
		return instant.Format(*t)
	}
	for uri, d := range deltas {
		entry := DeltaEntry{
			Created:  format(d.Created),
			Modified: make(map[string]string, len(d.Modified)),
			Deleted:  format(d.Deleted),
		}
		for t, text := range d.Modified {
			entry.Modified[instant.Format(t)] = text
		}
		doc.Entities[uri] = entry
	}
	return doc
}
