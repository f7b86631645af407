// Package agnostic answers SELECT queries across time. A query is split
// into its triple patterns; the entities those patterns can touch are
// discovered in the present dataset and in the update texts of the
// provenance trail, reconstructed independently, aligned on a common
// timeline and finally queried instant by instant.
package agnostic

import (
	"github.com/coolbeans/timeagnostic/pkg/errors"
	"github.com/coolbeans/timeagnostic/pkg/query"
)

// Prepared is a parsed query with its patterns classified.
type Prepared struct {
	Text     string
	Query    *query.Query
	Patterns []query.TriplePattern
	isolated []bool
}

// Prepare parses text and classifies its patterns. Only SELECT queries
// are accepted, and no pattern may be made of variables alone: such a
// pattern would require reconstructing the whole store.
func Prepare(text string) (*Prepared, error) {
	q, err := query.ParseQuery(text)
	if err != nil {
		return nil, err
	}
	if q.Type != query.SelectQueryType || q.Select == nil {
		return nil, errors.Wrapf(errors.ErrUnsupportedQuery, "%s queries cannot be run across time", q.Type)
	}
	patterns := q.Select.Where.AllPatterns()
	if len(patterns) == 0 {
		return nil, errors.Wrap(errors.ErrUnsupportedQuery, "query has no triple patterns")
	}
	for _, p := range patterns {
		if p.AllVariables() {
			return nil, errors.WithHint(
				errors.Wrapf(errors.ErrUnsupportedQuery, "pattern %s has no bound term", p.String()),
				"bind the subject, predicate or object of every triple pattern")
		}
	}

	prep := &Prepared{Text: text, Query: q, Patterns: patterns, isolated: make([]bool, len(patterns))}
	for i, p := range patterns {
		prep.isolated[i] = IsIsolated(p, patterns)
	}
	return prep, nil
}

// Isolated returns the patterns that can be resolved on their own.
func (p *Prepared) Isolated() []query.TriplePattern {
	return p.pick(true)
}

// Joined returns the patterns that depend on bindings of other patterns.
func (p *Prepared) Joined() []query.TriplePattern {
	return p.pick(false)
}

// HasJoins reports whether any pattern is joined.
func (p *Prepared) HasJoins() bool {
	return len(p.Joined()) > 0
}

func (p *Prepared) pick(isolated bool) []query.TriplePattern {
	var out []query.TriplePattern
	for i, pat := range p.Patterns {
		if p.isolated[i] == isolated {
			out = append(out, pat)
		}
	}
	return out
}

// Roots returns the joined patterns that start a join chain: their
// subject variable is not the object of any other pattern, so nothing
// upstream will ever bind it.
func (p *Prepared) Roots() []query.TriplePattern {
	var out []query.TriplePattern
	for i, pat := range p.Patterns {
		if p.isolated[i] {
			continue
		}
		fed := false
		for j, other := range p.Patterns {
			if i != j && pat.Subject.IsVariable() && other.Object.Var == pat.Subject.Var {
				fed = true
				break
			}
		}
		if !fed {
			out = append(out, pat)
		}
	}
	return out
}

// IsIsolated reports whether pattern can be resolved without the
// bindings of the other patterns in all. A bound subject isolates the
// pattern. Otherwise a variable that is closed, or that links the
// pattern subject-to-object with another pattern, joins it.
func IsIsolated(pattern query.TriplePattern, all []query.TriplePattern) bool {
	if !pattern.Subject.IsVariable() {
		return true
	}
	vars := positionVariables(pattern)
	if len(vars) == 0 {
		return false
	}
	others := without(all, pattern)
	for _, v := range vars {
		if hasTransitiveClosure(v, others) {
			return false
		}
	}
	for _, v := range vars {
		for _, other := range others {
			if (pattern.Subject.Var == v && other.Object.Var == v) ||
				(pattern.Object.Var == v && other.Subject.Var == v) {
				return false
			}
		}
	}
	return true
}

// hasTransitiveClosure reports whether v sits in object position of a
// pattern whose subject is bound, directly or through a chain of
// variable subjects.
func hasTransitiveClosure(v string, patterns []query.TriplePattern) bool {
	for _, p := range patterns {
		if p.Object.Var != v {
			continue
		}
		if !p.Subject.IsVariable() {
			if p.Subject.Term.IsURI() {
				return true
			}
			continue
		}
		if hasTransitiveClosure(p.Subject.Var, without(patterns, p)) {
			return true
		}
	}
	return false
}

func positionVariables(p query.TriplePattern) []string {
	var vars []string
	for _, n := range p.Nodes() {
		if n.IsVariable() {
			vars = append(vars, n.Var)
		}
	}
	return vars
}

// without returns patterns minus the first occurrence of p.
func without(patterns []query.TriplePattern, p query.TriplePattern) []query.TriplePattern {
	out := make([]query.TriplePattern, 0, len(patterns))
	removed := false
	for _, other := range patterns {
		if !removed && other == p {
			removed = true
			continue
		}
		out = append(out, other)
	}
	return out
}
