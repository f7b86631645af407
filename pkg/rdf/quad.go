package rdf

import (
	"encoding/json"
	"sort"
	"strings"
)

// Quad is a subject-predicate-object statement with an optional graph.
// A zero Graph means the default graph.
type Quad struct {
	Subject   Term
	Predicate Term
	Object    Term
	Graph     Term
}

// NewQuad creates a quad.
func NewQuad(subject, predicate, object, graph Term) Quad {
	return Quad{Subject: subject, Predicate: predicate, Object: object, Graph: graph}
}

// NewTriple creates a quad in the default graph.
func NewTriple(subject, predicate, object Term) Quad {
	return Quad{Subject: subject, Predicate: predicate, Object: object}
}

// Triple returns the quad with its graph removed.
func (q Quad) Triple() Quad {
	q.Graph = Term{}
	return q
}

// Key returns the canonical N-Quads line without the trailing dot. It is
// the identity used by QuadSet.
func (q Quad) Key() string {
	var b strings.Builder
	b.WriteString(q.Subject.Canonical())
	b.WriteByte(' ')
	b.WriteString(q.Predicate.Canonical())
	b.WriteByte(' ')
	b.WriteString(q.Object.Canonical())
	if !q.Graph.IsZero() {
		b.WriteByte(' ')
		b.WriteString(q.Graph.Canonical())
	}
	return b.String()
}

// String returns the quad as an N-Quads statement.
func (q Quad) String() string {
	return q.Key() + " ."
}

// IsValid reports whether subject, predicate and object are all set.
func (q Quad) IsValid() bool {
	return !q.Subject.IsZero() && !q.Predicate.IsZero() && !q.Object.IsZero()
}

// QuadPattern matches quads. Zero terms act as wildcards.
type QuadPattern struct {
	Subject   Term
	Predicate Term
	Object    Term
	Graph     Term
}

// Matches checks if a quad matches this pattern.
func (p QuadPattern) Matches(q Quad) bool {
	if !p.Subject.IsZero() && p.Subject != q.Subject {
		return false
	}
	if !p.Predicate.IsZero() && p.Predicate != q.Predicate {
		return false
	}
	if !p.Object.IsZero() && p.Object != q.Object {
		return false
	}
	if !p.Graph.IsZero() && p.Graph != q.Graph {
		return false
	}
	return true
}

// QuadSet is a set of quads keyed by canonical form. The zero value is not
// usable; create sets with NewQuadSet.
type QuadSet struct {
	quads map[string]Quad
}

// NewQuadSet returns a set holding the given quads.
func NewQuadSet(quads ...Quad) *QuadSet {
	s := &QuadSet{quads: make(map[string]Quad, len(quads))}
	for _, q := range quads {
		s.Add(q)
	}
	return s
}

// Add inserts q. It reports whether the set changed.
func (s *QuadSet) Add(q Quad) bool {
	k := q.Key()
	if _, ok := s.quads[k]; ok {
		return false
	}
	s.quads[k] = q
	return true
}

// AddAll inserts every quad of other.
func (s *QuadSet) AddAll(other *QuadSet) {
	if other == nil {
		return
	}
	for k, q := range other.quads {
		s.quads[k] = q
	}
}

// Remove deletes q. It reports whether the set changed.
func (s *QuadSet) Remove(q Quad) bool {
	k := q.Key()
	if _, ok := s.quads[k]; !ok {
		return false
	}
	delete(s.quads, k)
	return true
}

// RemoveMatching deletes every quad for which match returns true and
// returns how many were removed.
func (s *QuadSet) RemoveMatching(match func(Quad) bool) int {
	removed := 0
	for k, q := range s.quads {
		if match(q) {
			delete(s.quads, k)
			removed++
		}
	}
	return removed
}

// Contains reports whether q is in the set.
func (s *QuadSet) Contains(q Quad) bool {
	_, ok := s.quads[q.Key()]
	return ok
}

// Len returns the number of quads.
func (s *QuadSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.quads)
}

// Clone returns an independent copy.
func (s *QuadSet) Clone() *QuadSet {
	c := &QuadSet{quads: make(map[string]Quad, s.Len())}
	if s == nil {
		return c
	}
	for k, q := range s.quads {
		c.quads[k] = q
	}
	return c
}

// Equal reports whether both sets hold the same quads.
func (s *QuadSet) Equal(other *QuadSet) bool {
	if s.Len() != other.Len() {
		return false
	}
	if s == nil || other == nil {
		return true
	}
	for k := range s.quads {
		if _, ok := other.quads[k]; !ok {
			return false
		}
	}
	return true
}

// Find returns the quads that match pattern, sorted.
func (s *QuadSet) Find(pattern QuadPattern) []Quad {
	var out []Quad
	if s == nil {
		return out
	}
	for _, q := range s.quads {
		if pattern.Matches(q) {
			out = append(out, q)
		}
	}
	sortQuads(out)
	return out
}

// Quads returns every quad in canonical order.
func (s *QuadSet) Quads() []Quad {
	return s.Find(QuadPattern{})
}

// Filter returns a new set with the quads for which keep returns true.
func (s *QuadSet) Filter(keep func(Quad) bool) *QuadSet {
	out := NewQuadSet()
	if s == nil {
		return out
	}
	for k, q := range s.quads {
		if keep(q) {
			out.quads[k] = q
		}
	}
	return out
}

// WithoutGraphs returns a copy with every graph component dropped.
func (s *QuadSet) WithoutGraphs() *QuadSet {
	out := NewQuadSet()
	if s == nil {
		return out
	}
	for _, q := range s.quads {
		out.Add(q.Triple())
	}
	return out
}

// Subjects returns the distinct subjects in canonical order.
func (s *QuadSet) Subjects() []Term {
	seen := make(map[Term]struct{})
	var out []Term
	for _, q := range s.Quads() {
		if _, ok := seen[q.Subject]; ok {
			continue
		}
		seen[q.Subject] = struct{}{}
		out = append(out, q.Subject)
	}
	return out
}

// NQuads renders the set as sorted N-Quads lines.
func (s *QuadSet) NQuads() string {
	var b strings.Builder
	for _, q := range s.Quads() {
		b.WriteString(q.String())
		b.WriteByte('\n')
	}
	return b.String()
}

// Statements returns the sorted N-Quads statements of the set.
func (s *QuadSet) Statements() []string {
	quads := s.Quads()
	out := make([]string, len(quads))
	for i, q := range quads {
		out[i] = q.String()
	}
	return out
}

// MarshalJSON encodes the set as a sorted array of N-Quads statements.
func (s *QuadSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Statements())
}

// MarshalYAML encodes the set as a sorted sequence of N-Quads statements.
func (s *QuadSet) MarshalYAML() (interface{}, error) {
	return s.Statements(), nil
}

func sortQuads(quads []Quad) {
	sort.Slice(quads, func(i, j int) bool {
		return quads[i].Key() < quads[j].Key()
	})
}
