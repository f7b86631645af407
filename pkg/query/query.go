// Package query provides SPARQL query parsing and data structures.
package query

import (
	"strings"

	"github.com/coolbeans/timeagnostic/pkg/rdf"
)

// Query represents a parsed SPARQL query.
type Query struct {
	Type   QueryType
	Select *SelectQuery
}

// QueryType represents the type of SPARQL query.
type QueryType string

const (
	// SelectQueryType represents a SELECT query.
	SelectQueryType QueryType = "SELECT"
	// ConstructQueryType represents a CONSTRUCT query.
	ConstructQueryType QueryType = "CONSTRUCT"
	// DescribeQueryType represents a DESCRIBE query.
	DescribeQueryType QueryType = "DESCRIBE"
	// AskQueryType represents an ASK query.
	AskQueryType QueryType = "ASK"
)

// AggregateFunction represents a SPARQL aggregate function.
type AggregateFunction string

const (
	AggregateCOUNT AggregateFunction = "COUNT"
	AggregateSUM   AggregateFunction = "SUM"
	AggregateAVG   AggregateFunction = "AVG"
	AggregateMIN   AggregateFunction = "MIN"
	AggregateMAX   AggregateFunction = "MAX"
)

// AggregateExpression represents a parsed aggregate expression like (COUNT(?x) AS ?count).
type AggregateExpression struct {
	Function AggregateFunction // COUNT, SUM, AVG, MIN, MAX
	Variable string            // Source variable (e.g., "?x"), "*" for COUNT(*)
	Alias    string            // Result alias (e.g., "?count")
	Distinct bool              // COUNT(DISTINCT ?x)
}

// SelectQuery represents a parsed SELECT query.
type SelectQuery struct {
	Variables  []string              // Variables to select (e.g., ["?subject", "?predicate"]) or ["*"]
	Aggregates []AggregateExpression // Aggregate expressions (e.g., COUNT(?x) AS ?count)
	GroupBy    []string              // GROUP BY variables (e.g., ["?entity"])
	Distinct   bool                  // DISTINCT modifier
	Where      Group                 // WHERE clause
	OrderBy    []OrderBy             // ORDER BY clauses
	Limit      int                   // LIMIT (0 = no limit)
	Offset     int                   // OFFSET (0 = no offset)
	Prefixes   map[string]string     // Prefix declarations
}

// Group is a group graph pattern: a basic graph pattern plus the
// OPTIONAL groups, FILTER constraints and inline VALUES scoped to it.
type Group struct {
	Patterns []TriplePattern
	Optional []Group
	Filters  []Filter
	Values   []ValuesBlock
}

// AllPatterns returns the patterns of the group followed by those of its
// OPTIONAL groups, depth first.
func (g Group) AllPatterns() []TriplePattern {
	out := append([]TriplePattern(nil), g.Patterns...)
	for _, opt := range g.Optional {
		out = append(out, opt.AllPatterns()...)
	}
	return out
}

func (g *Group) setGraph(graph Node) {
	for i := range g.Patterns {
		if g.Patterns[i].Graph.IsZero() {
			g.Patterns[i].Graph = graph
		}
	}
	for i := range g.Optional {
		g.Optional[i].setGraph(graph)
	}
}

func (g *Group) merge(other Group) {
	g.Patterns = append(g.Patterns, other.Patterns...)
	g.Optional = append(g.Optional, other.Optional...)
	g.Filters = append(g.Filters, other.Filters...)
	g.Values = append(g.Values, other.Values...)
}

// HasAggregates returns true if the query uses aggregate functions.
func (q *SelectQuery) HasAggregates() bool {
	return len(q.Aggregates) > 0
}

// AllOutputVariables returns all variables that appear in the query output,
// including both plain SELECT variables and aggregate aliases.
func (q *SelectQuery) AllOutputVariables() []string {
	var outputVars []string
	outputVars = append(outputVars, q.Variables...)
	for _, agg := range q.Aggregates {
		outputVars = append(outputVars, agg.Alias)
	}
	return outputVars
}

// IsAggregateAlias checks if a variable is an alias for an aggregate expression.
func (q *SelectQuery) IsAggregateAlias(variable string) bool {
	for _, agg := range q.Aggregates {
		if agg.Alias == variable {
			return true
		}
	}
	return false
}

// Node is one position of a triple pattern: either a variable or a
// concrete term. The zero Node is unset and only appears as a Graph.
type Node struct {
	Var  string // variable name without "?"
	Term rdf.Term
}

// Variable returns a variable node.
func Variable(name string) Node {
	return Node{Var: StripVariable(name)}
}

// Bound returns a node holding a concrete term.
func Bound(t rdf.Term) Node {
	return Node{Term: t}
}

// IsVariable reports whether n is a variable.
func (n Node) IsVariable() bool { return n.Var != "" }

// IsZero reports whether n is unset.
func (n Node) IsZero() bool { return n.Var == "" && n.Term.IsZero() }

// String renders n in SPARQL syntax.
func (n Node) String() string {
	if n.Var != "" {
		if strings.HasPrefix(n.Var, "_:") {
			return n.Var
		}
		return "?" + n.Var
	}
	return n.Term.Canonical()
}

// TriplePattern represents a triple pattern in a WHERE clause. A zero
// Graph matches statements in any graph.
type TriplePattern struct {
	Subject   Node
	Predicate Node
	Object    Node
	Graph     Node
}

// Nodes returns subject, predicate and object.
func (p TriplePattern) Nodes() [3]Node {
	return [3]Node{p.Subject, p.Predicate, p.Object}
}

// Variables returns the distinct variable names of the pattern, in
// position order.
func (p TriplePattern) Variables() []string {
	var vars []string
	seen := make(map[string]bool)
	for _, n := range []Node{p.Subject, p.Predicate, p.Object, p.Graph} {
		if n.IsVariable() && !seen[n.Var] {
			seen[n.Var] = true
			vars = append(vars, n.Var)
		}
	}
	return vars
}

// AllVariables reports whether subject, predicate and object are all
// variables.
func (p TriplePattern) AllVariables() bool {
	return p.Subject.IsVariable() && p.Predicate.IsVariable() && p.Object.IsVariable()
}

// Substitute replaces variables bound in b by their values.
func (p TriplePattern) Substitute(b Binding) TriplePattern {
	sub := func(n Node) Node {
		if n.IsVariable() {
			if t, ok := b[n.Var]; ok {
				return Bound(t)
			}
		}
		return n
	}
	return TriplePattern{
		Subject:   sub(p.Subject),
		Predicate: sub(p.Predicate),
		Object:    sub(p.Object),
		Graph:     sub(p.Graph),
	}
}

// String renders the pattern as a SPARQL triple, wrapped in a GRAPH block
// when the graph is set.
func (p TriplePattern) String() string {
	triple := p.Subject.String() + " " + p.Predicate.String() + " " + p.Object.String() + " ."
	if p.Graph.IsZero() {
		return triple
	}
	return "GRAPH " + p.Graph.String() + " { " + triple + " }"
}

// Filter represents a FILTER clause.
type Filter struct {
	Expression string // Filter expression (e.g., "CONTAINS(?title, \"erasure\")")
	expr       expression
}

// ValuesBlock is an inline VALUES table. A zero Term in a row is UNDEF.
type ValuesBlock struct {
	Variables []string // variable names without "?"
	Rows      [][]rdf.Term
}

// OrderBy represents an ORDER BY clause.
type OrderBy struct {
	Variable   string
	Descending bool
}

// Binding maps variable names (without "?") to terms.
type Binding map[string]rdf.Term

// Clone returns an independent copy of b.
func (b Binding) Clone() Binding {
	c := make(Binding, len(b)+2)
	for k, v := range b {
		c[k] = v
	}
	return c
}

// Key renders b deterministically over vars, for deduplication.
func (b Binding) Key(vars []string) string {
	var sb strings.Builder
	for _, v := range vars {
		sb.WriteString(b[v].Canonical())
		sb.WriteByte('\x1f')
	}
	return sb.String()
}

// IsVariable checks if a string is a SPARQL variable.
func IsVariable(s string) bool {
	return len(s) > 1 && (s[0] == '?' || s[0] == '$')
}

// StripVariable removes the ? prefix from a variable.
func StripVariable(s string) string {
	if IsVariable(s) {
		return s[1:]
	}
	return s
}
