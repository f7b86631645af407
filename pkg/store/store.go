// Package store provides the in-memory quad store used for file-backed
// datasets and for evaluating queries over reconstructed entity states.
package store

import (
	"fmt"
	"sync"

	"github.com/coolbeans/timeagnostic/pkg/errors"
	"github.com/coolbeans/timeagnostic/pkg/rdf"
)

// IndexStats contains statistics about the quad store for query optimization.
// Counts are keyed by canonical term.
type IndexStats struct {
	TotalQuads       int            `json:"total_quads"`
	UniqueSubjects   int            `json:"unique_subjects"`
	UniquePredicates int            `json:"unique_predicates"`
	UniqueObjects    int            `json:"unique_objects"`
	UniqueGraphs     int            `json:"unique_graphs"`
	PredicateCounts  map[string]int `json:"predicate_counts"`
	SubjectCounts    map[string]int `json:"subject_counts"`
	ObjectCounts     map[string]int `json:"object_counts"`
}

type graphSet map[rdf.Term]struct{}

// QuadStore is an in-memory RDF quad store with multiple indexes.
// It provides efficient lookups via three indexes:
//   - SPO: Subject -> Predicate -> Object (facts about a subject)
//   - POS: Predicate -> Object -> Subject (subjects with property=value)
//   - OSP: Object -> Subject -> Predicate (subjects pointing to an object)
//
// Each index leaf holds the set of graphs the statement appears in; the
// zero Term stands for the default graph.
type QuadStore struct {
	mu sync.RWMutex

	spo map[rdf.Term]map[rdf.Term]map[rdf.Term]graphSet
	pos map[rdf.Term]map[rdf.Term]map[rdf.Term]graphSet
	osp map[rdf.Term]map[rdf.Term]map[rdf.Term]graphSet

	graphs map[rdf.Term]int

	count int

	predicateCounts map[rdf.Term]int
	subjectCounts   map[rdf.Term]int
	objectCounts    map[rdf.Term]int
}

// NewQuadStore creates a new in-memory quad store with all indexes initialized.
func NewQuadStore() *QuadStore {
	return &QuadStore{
		spo:             make(map[rdf.Term]map[rdf.Term]map[rdf.Term]graphSet),
		pos:             make(map[rdf.Term]map[rdf.Term]map[rdf.Term]graphSet),
		osp:             make(map[rdf.Term]map[rdf.Term]map[rdf.Term]graphSet),
		graphs:          make(map[rdf.Term]int),
		predicateCounts: make(map[rdf.Term]int),
		subjectCounts:   make(map[rdf.Term]int),
		objectCounts:    make(map[rdf.Term]int),
	}
}

// FromQuadSet builds a store holding every quad of set.
func FromQuadSet(set *rdf.QuadSet) *QuadStore {
	qs := NewQuadStore()
	qs.BulkAdd(set.Quads())
	return qs
}

// Add inserts a quad into the store. Adding an existing quad is a no-op.
func (qs *QuadStore) Add(q rdf.Quad) error {
	if !q.IsValid() {
		return errors.Newf("quad components cannot be empty: %s", q)
	}

	qs.mu.Lock()
	defer qs.mu.Unlock()

	qs.addUnsafe(q)
	return nil
}

// BulkAdd inserts multiple quads under a single write lock. Invalid quads
// are skipped. It returns the number of quads added.
func (qs *QuadStore) BulkAdd(quads []rdf.Quad) int {
	qs.mu.Lock()
	defer qs.mu.Unlock()

	added := 0
	for _, q := range quads {
		if !q.IsValid() {
			continue
		}
		if qs.addUnsafe(q) {
			added++
		}
	}
	return added
}

// MergeFrom copies all quads from the source store into this store.
// Returns the number of new quads added.
func (qs *QuadStore) MergeFrom(source *QuadStore) int {
	return qs.BulkAdd(source.All())
}

func (qs *QuadStore) addUnsafe(q rdf.Quad) bool {
	s, p, o, g := q.Subject, q.Predicate, q.Object, q.Graph
	if qs.existsUnsafe(s, p, o, g) {
		return false
	}

	insert(qs.spo, s, p, o, g)
	insert(qs.pos, p, o, s, g)
	insert(qs.osp, o, s, p, g)

	qs.graphs[g]++
	qs.predicateCounts[p]++
	qs.subjectCounts[s]++
	qs.objectCounts[o]++
	qs.count++
	return true
}

func insert(index map[rdf.Term]map[rdf.Term]map[rdf.Term]graphSet, a, b, c, g rdf.Term) {
	if index[a] == nil {
		index[a] = make(map[rdf.Term]map[rdf.Term]graphSet)
	}
	if index[a][b] == nil {
		index[a][b] = make(map[rdf.Term]graphSet)
	}
	if index[a][b][c] == nil {
		index[a][b][c] = make(graphSet)
	}
	index[a][b][c][g] = struct{}{}
}

func remove(index map[rdf.Term]map[rdf.Term]map[rdf.Term]graphSet, a, b, c, g rdf.Term) {
	bMap, ok := index[a]
	if !ok {
		return
	}
	if cMap, ok := bMap[b]; ok {
		if gs, ok := cMap[c]; ok {
			delete(gs, g)
			if len(gs) == 0 {
				delete(cMap, c)
			}
		}
		if len(cMap) == 0 {
			delete(bMap, b)
		}
	}
	if len(bMap) == 0 {
		delete(index, a)
	}
}

// Find returns the quads matching pattern. Zero terms are wildcards; a
// zero Graph matches every graph including the default one.
func (qs *QuadStore) Find(pattern rdf.QuadPattern) []rdf.Quad {
	qs.mu.RLock()
	defer qs.mu.RUnlock()

	return qs.findUnsafe(pattern)
}

// Exists checks if a specific quad exists in the store.
func (qs *QuadStore) Exists(q rdf.Quad) bool {
	qs.mu.RLock()
	defer qs.mu.RUnlock()

	return qs.existsUnsafe(q.Subject, q.Predicate, q.Object, q.Graph)
}

// Delete removes matching quads and returns how many were removed.
func (qs *QuadStore) Delete(pattern rdf.QuadPattern) int {
	qs.mu.Lock()
	defer qs.mu.Unlock()

	matches := qs.findUnsafe(pattern)
	for _, q := range matches {
		qs.deleteUnsafe(q)
	}
	return len(matches)
}

// Clear removes all quads from the store.
func (qs *QuadStore) Clear() {
	qs.mu.Lock()
	defer qs.mu.Unlock()

	qs.spo = make(map[rdf.Term]map[rdf.Term]map[rdf.Term]graphSet)
	qs.pos = make(map[rdf.Term]map[rdf.Term]map[rdf.Term]graphSet)
	qs.osp = make(map[rdf.Term]map[rdf.Term]map[rdf.Term]graphSet)
	qs.graphs = make(map[rdf.Term]int)
	qs.count = 0
	qs.predicateCounts = make(map[rdf.Term]int)
	qs.subjectCounts = make(map[rdf.Term]int)
	qs.objectCounts = make(map[rdf.Term]int)
}

// Count returns the total number of quads in the store.
func (qs *QuadStore) Count() int {
	qs.mu.RLock()
	defer qs.mu.RUnlock()
	return qs.count
}

// Graphs returns the named graphs in the store.
func (qs *QuadStore) Graphs() []rdf.Term {
	qs.mu.RLock()
	defer qs.mu.RUnlock()

	graphs := make([]rdf.Term, 0, len(qs.graphs))
	for g := range qs.graphs {
		if !g.IsZero() {
			graphs = append(graphs, g)
		}
	}
	return graphs
}

// Stats returns statistics about the store for query optimization.
func (qs *QuadStore) Stats() IndexStats {
	qs.mu.RLock()
	defer qs.mu.RUnlock()

	return IndexStats{
		TotalQuads:       qs.count,
		UniqueSubjects:   len(qs.spo),
		UniquePredicates: len(qs.pos),
		UniqueObjects:    len(qs.osp),
		UniqueGraphs:     len(qs.graphs),
		PredicateCounts:  canonicalCounts(qs.predicateCounts),
		SubjectCounts:    canonicalCounts(qs.subjectCounts),
		ObjectCounts:     canonicalCounts(qs.objectCounts),
	}
}

func canonicalCounts(counts map[rdf.Term]int) map[string]int {
	out := make(map[string]int, len(counts))
	for k, v := range counts {
		out[k.Canonical()] = v
	}
	return out
}

// String returns a string representation of the store statistics.
func (qs *QuadStore) String() string {
	qs.mu.RLock()
	defer qs.mu.RUnlock()

	return fmt.Sprintf("QuadStore{quads: %d, subjects: %d, predicates: %d, objects: %d, graphs: %d}",
		qs.count, len(qs.spo), len(qs.pos), len(qs.osp), len(qs.graphs))
}

// All returns all quads in the store.
func (qs *QuadStore) All() []rdf.Quad {
	return qs.Find(rdf.QuadPattern{})
}

// QuadSet returns the content of the store as a set.
func (qs *QuadStore) QuadSet() *rdf.QuadSet {
	return rdf.NewQuadSet(qs.All()...)
}

func (qs *QuadStore) existsUnsafe(s, p, o, g rdf.Term) bool {
	if pMap, ok := qs.spo[s]; ok {
		if oMap, ok := pMap[p]; ok {
			if gs, ok := oMap[o]; ok {
				_, found := gs[g]
				return found
			}
		}
	}
	return false
}

// findUnsafe picks the most specific index for the bound positions.
func (qs *QuadStore) findUnsafe(pattern rdf.QuadPattern) []rdf.Quad {
	var results []rdf.Quad
	s, p, o, g := pattern.Subject, pattern.Predicate, pattern.Object, pattern.Graph

	emit := func(subject, predicate, object rdf.Term, gs graphSet) {
		if !g.IsZero() {
			if _, ok := gs[g]; ok {
				results = append(results, rdf.NewQuad(subject, predicate, object, g))
			}
			return
		}
		for graph := range gs {
			results = append(results, rdf.NewQuad(subject, predicate, object, graph))
		}
	}

	switch {
	case !s.IsZero():
		pMap, ok := qs.spo[s]
		if !ok {
			return results
		}
		for pred, oMap := range pMap {
			if !p.IsZero() && pred != p {
				continue
			}
			if !o.IsZero() {
				if gs, ok := oMap[o]; ok {
					emit(s, pred, o, gs)
				}
				continue
			}
			for obj, gs := range oMap {
				emit(s, pred, obj, gs)
			}
		}
	case !p.IsZero():
		oMap, ok := qs.pos[p]
		if !ok {
			return results
		}
		for obj, sMap := range oMap {
			if !o.IsZero() && obj != o {
				continue
			}
			for subj, gs := range sMap {
				emit(subj, p, obj, gs)
			}
		}
	case !o.IsZero():
		if sMap, ok := qs.osp[o]; ok {
			for subj, pMap := range sMap {
				for pred, gs := range pMap {
					emit(subj, pred, o, gs)
				}
			}
		}
	default:
		for subj, pMap := range qs.spo {
			for pred, oMap := range pMap {
				for obj, gs := range oMap {
					emit(subj, pred, obj, gs)
				}
			}
		}
	}

	return results
}

func (qs *QuadStore) deleteUnsafe(q rdf.Quad) {
	s, p, o, g := q.Subject, q.Predicate, q.Object, q.Graph
	if !qs.existsUnsafe(s, p, o, g) {
		return
	}

	remove(qs.spo, s, p, o, g)
	remove(qs.pos, p, o, s, g)
	remove(qs.osp, o, s, p, g)

	decrement(qs.graphs, g)
	decrement(qs.predicateCounts, p)
	decrement(qs.subjectCounts, s)
	decrement(qs.objectCounts, o)
	qs.count--
}

func decrement(counts map[rdf.Term]int, key rdf.Term) {
	counts[key]--
	if counts[key] <= 0 {
		delete(counts, key)
	}
}
