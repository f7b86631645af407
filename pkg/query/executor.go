// Package query provides SPARQL query parsing and execution.
package query

import (
	"context"
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/coolbeans/timeagnostic/pkg/errors"
	"github.com/coolbeans/timeagnostic/pkg/rdf"
	"github.com/coolbeans/timeagnostic/pkg/store"
)

// Executor executes SPARQL queries against a quad store.
type Executor struct {
	store   *store.QuadStore
	planner *QueryPlanner
	timeout time.Duration
}

// ExecutorOption configures an executor.
type ExecutorOption func(*Executor)

// WithTimeout sets the query execution timeout. Zero disables it.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.timeout = d
	}
}

// NewExecutor creates a new query executor.
func NewExecutor(quadStore *store.QuadStore, opts ...ExecutorOption) *Executor {
	e := &Executor{
		store:   quadStore,
		planner: NewQueryPlanner(quadStore.Stats()),
		timeout: 30 * time.Second,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// QueryResult represents the result of a query execution.
type QueryResult struct {
	Variables []string  // Variable names (without ?)
	Bindings  []Binding // Variable bindings for each result row
	Count     int       // Number of result rows
	Metrics   QueryMetrics
}

// QueryMetrics contains performance metrics for query execution.
type QueryMetrics struct {
	ParseTime     time.Duration `json:"parse_time"`
	PlanTime      time.Duration `json:"plan_time"`
	ExecuteTime   time.Duration `json:"execute_time"`
	TotalTime     time.Duration `json:"total_time"`
	PatternsCount int           `json:"patterns_count"`
	ResultCount   int           `json:"result_count"`
}

// Execute executes a parsed query.
func (e *Executor) Execute(query *Query) (*QueryResult, error) {
	return e.ExecuteWithContext(context.Background(), query)
}

// ExecuteWithContext executes a parsed query with context for cancellation.
func (e *Executor) ExecuteWithContext(ctx context.Context, query *Query) (*QueryResult, error) {
	startTime := time.Now()
	metrics := QueryMetrics{}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	if query.Type != SelectQueryType || query.Select == nil {
		return nil, errors.Wrapf(errors.ErrUnsupportedQuery, "query type %s", query.Type)
	}

	result, err := e.executeSelect(ctx, query.Select, &metrics)
	if err != nil {
		return nil, err
	}
	metrics.TotalTime = time.Since(startTime)
	result.Metrics = metrics
	return result, nil
}

// ExecuteStringWithContext parses and executes a SPARQL query string with
// context. Syntax errors are marked errors.ErrInvalidInput.
func (e *Executor) ExecuteStringWithContext(ctx context.Context, queryStr string) (*QueryResult, error) {
	startTime := time.Now()

	query, err := ParseQuery(queryStr)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "parse query"), errors.ErrInvalidInput)
	}
	parseTime := time.Since(startTime)

	result, err := e.ExecuteWithContext(ctx, query)
	if err != nil {
		return nil, err
	}

	result.Metrics.ParseTime = parseTime
	result.Metrics.TotalTime += parseTime
	return result, nil
}

// executeSelect executes a SELECT query.
func (e *Executor) executeSelect(ctx context.Context, query *SelectQuery, metrics *QueryMetrics) (*QueryResult, error) {
	executeStart := time.Now()

	bindings, err := e.evalGroup(ctx, query.Where, []Binding{{}}, metrics)
	if err != nil {
		return nil, err
	}

	if query.HasAggregates() {
		bindings = e.applyAggregates(query, bindings)
	}

	// ORDER BY before DISTINCT to get consistent ordering
	if len(query.OrderBy) > 0 {
		bindings = e.applyOrderBy(query.OrderBy, bindings)
	}

	variables := projectedVariables(query, bindings)
	bindings = project(bindings, variables)

	if query.Distinct {
		bindings = e.applyDistinct(bindings, variables)
	}

	if query.Offset > 0 {
		if query.Offset < len(bindings) {
			bindings = bindings[query.Offset:]
		} else {
			bindings = []Binding{}
		}
	}

	if query.Limit > 0 && query.Limit < len(bindings) {
		bindings = bindings[:query.Limit]
	}

	metrics.ExecuteTime = time.Since(executeStart) - metrics.PlanTime
	metrics.ResultCount = len(bindings)

	return &QueryResult{
		Variables: variables,
		Bindings:  bindings,
		Count:     len(bindings),
	}, nil
}

// evalGroup evaluates a group graph pattern against the incoming
// bindings: VALUES joins first, then the basic graph pattern, then the
// OPTIONAL groups, then the filters.
func (e *Executor) evalGroup(ctx context.Context, group Group, bindings []Binding, metrics *QueryMetrics) ([]Binding, error) {
	for _, block := range group.Values {
		bindings = joinValues(block, bindings)
	}

	planStart := time.Now()
	patterns := group.Patterns
	if len(patterns) > 1 {
		patterns = e.planner.OrderPatterns(patterns)
	}
	metrics.PlanTime += time.Since(planStart)
	metrics.PatternsCount += len(patterns)

	for _, pattern := range patterns {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "query cancelled")
		}
		bindings = e.matchPattern(pattern, bindings)
		if len(bindings) == 0 {
			break // No matches, short-circuit
		}
	}

	for _, opt := range group.Optional {
		var err error
		bindings, err = e.processOptional(ctx, opt, bindings, metrics)
		if err != nil {
			return nil, err
		}
	}

	for _, filter := range group.Filters {
		bindings = e.applyFilter(filter, bindings)
	}
	return bindings, nil
}

// joinValues joins bindings with an inline data table. UNDEF cells and
// variables absent from a binding are compatible with anything.
func joinValues(block ValuesBlock, bindings []Binding) []Binding {
	var out []Binding
	for _, binding := range bindings {
		for _, row := range block.Rows {
			joined := binding.Clone()
			compatible := true
			for i, v := range block.Variables {
				if row[i].IsZero() {
					continue
				}
				if existing, ok := joined[v]; ok {
					if existing != row[i] {
						compatible = false
						break
					}
					continue
				}
				joined[v] = row[i]
			}
			if compatible {
				out = append(out, joined)
			}
		}
	}
	return out
}

// matchPattern matches a triple pattern against the store, extending each
// binding with every consistent match.
func (e *Executor) matchPattern(pattern TriplePattern, currentBindings []Binding) []Binding {
	var newBindings []Binding

	for _, binding := range currentBindings {
		quadPattern := rdf.QuadPattern{
			Subject:   resolveNode(pattern.Subject, binding),
			Predicate: resolveNode(pattern.Predicate, binding),
			Object:    resolveNode(pattern.Object, binding),
			Graph:     resolveNode(pattern.Graph, binding),
		}

		// Without a graph, the same triple in several graphs is one match.
		var seen map[string]struct{}
		if pattern.Graph.IsZero() {
			seen = make(map[string]struct{})
		}

		for _, q := range e.store.Find(quadPattern) {
			if seen != nil {
				key := q.Triple().Key()
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
			}
			if pattern.Graph.IsVariable() && q.Graph.IsZero() {
				continue // GRAPH ?g never matches the default graph
			}

			newBinding := binding.Clone()
			if !bindNode(newBinding, pattern.Subject, q.Subject) ||
				!bindNode(newBinding, pattern.Predicate, q.Predicate) ||
				!bindNode(newBinding, pattern.Object, q.Object) ||
				!bindNode(newBinding, pattern.Graph, q.Graph) {
				continue
			}
			newBindings = append(newBindings, newBinding)
		}
	}

	return newBindings
}

// resolveNode returns the term for a node, or the zero Term (wildcard) for
// an unbound variable.
func resolveNode(n Node, binding Binding) rdf.Term {
	if n.IsVariable() {
		return binding[n.Var]
	}
	return n.Term
}

// bindNode records value for a variable node, checking consistency with
// an existing binding.
func bindNode(binding Binding, n Node, value rdf.Term) bool {
	if !n.IsVariable() {
		return true
	}
	if existing, ok := binding[n.Var]; ok {
		return existing == value
	}
	binding[n.Var] = value
	return true
}

// processOptional processes an OPTIONAL group (left outer join).
func (e *Executor) processOptional(ctx context.Context, opt Group, currentBindings []Binding, metrics *QueryMetrics) ([]Binding, error) {
	var result []Binding

	for _, binding := range currentBindings {
		optBindings, err := e.evalGroup(ctx, opt, []Binding{binding}, metrics)
		if err != nil {
			return nil, err
		}

		if len(optBindings) > 0 {
			result = append(result, optBindings...)
		} else {
			result = append(result, binding)
		}
	}

	return result, nil
}

// applyFilter applies a FILTER clause to bindings.
func (e *Executor) applyFilter(filter Filter, bindings []Binding) []Binding {
	var filtered []Binding

	for _, binding := range bindings {
		if e.evaluateFilter(filter, binding) {
			filtered = append(filtered, binding)
		}
	}

	return filtered
}

// evaluateFilter evaluates a filter; evaluation errors reject the row.
func (e *Executor) evaluateFilter(filter Filter, binding Binding) bool {
	if filter.expr == nil {
		return true
	}
	ok, err := evalBool(filter.expr, binding)
	return err == nil && ok
}

// applyAggregates groups bindings by the GROUP BY variables and computes
// each aggregate per group.
func (e *Executor) applyAggregates(query *SelectQuery, bindings []Binding) []Binding {
	groupVars := make([]string, len(query.GroupBy))
	for i, v := range query.GroupBy {
		groupVars[i] = StripVariable(v)
	}

	type group struct {
		key  Binding
		rows []Binding
	}
	var order []string
	groups := make(map[string]*group)
	for _, b := range bindings {
		k := b.Key(groupVars)
		g, ok := groups[k]
		if !ok {
			key := make(Binding, len(groupVars))
			for _, v := range groupVars {
				if t, bound := b[v]; bound {
					key[v] = t
				}
			}
			g = &group{key: key}
			groups[k] = g
			order = append(order, k)
		}
		g.rows = append(g.rows, b)
	}
	// Aggregating without GROUP BY over no rows still yields one row.
	if len(groupVars) == 0 && len(order) == 0 {
		groups[""] = &group{key: Binding{}}
		order = append(order, "")
	}

	out := make([]Binding, 0, len(order))
	for _, k := range order {
		g := groups[k]
		row := g.key.Clone()
		for _, agg := range query.Aggregates {
			if value, ok := computeAggregate(agg, g.rows); ok {
				row[StripVariable(agg.Alias)] = value
			}
		}
		out = append(out, row)
	}
	return out
}

func computeAggregate(agg AggregateExpression, rows []Binding) (rdf.Term, bool) {
	varName := StripVariable(agg.Variable)
	var values []rdf.Term
	seen := make(map[rdf.Term]bool)
	for _, row := range rows {
		if agg.Variable == "*" {
			values = append(values, rdf.Term{})
			continue
		}
		t, ok := row[varName]
		if !ok {
			continue
		}
		if agg.Distinct {
			if seen[t] {
				continue
			}
			seen[t] = true
		}
		values = append(values, t)
	}

	switch agg.Function {
	case AggregateCOUNT:
		return rdf.NewTypedLiteral(strconv.Itoa(len(values)), rdf.XSDInteger), true
	case AggregateSUM, AggregateAVG:
		sum := 0.0
		integral := true
		for _, v := range values {
			f, err := strconv.ParseFloat(v.Value, 64)
			if err != nil || !isNumeric(v) {
				continue
			}
			if v.Datatype != rdf.XSDInteger {
				integral = false
			}
			sum += f
		}
		if agg.Function == AggregateAVG {
			if len(values) == 0 {
				return rdf.NewTypedLiteral("0", rdf.XSDInteger), true
			}
			return rdf.NewTypedLiteral(strconv.FormatFloat(sum/float64(len(values)), 'f', -1, 64), rdf.XSDDecimal), true
		}
		if integral {
			return rdf.NewTypedLiteral(strconv.FormatInt(int64(sum), 10), rdf.XSDInteger), true
		}
		return rdf.NewTypedLiteral(strconv.FormatFloat(sum, 'f', -1, 64), rdf.XSDDecimal), true
	case AggregateMIN, AggregateMAX:
		if len(values) == 0 {
			return rdf.Term{}, false
		}
		best := values[0]
		for _, v := range values[1:] {
			cmp, err := compareTerms(v, best, false)
			if err != nil {
				continue
			}
			if (agg.Function == AggregateMIN && cmp < 0) || (agg.Function == AggregateMAX && cmp > 0) {
				best = v
			}
		}
		return best, true
	}
	return rdf.Term{}, false
}

// applyOrderBy sorts bindings by variables. Unbound values sort first.
func (e *Executor) applyOrderBy(orderBys []OrderBy, bindings []Binding) []Binding {
	if len(orderBys) == 0 {
		return bindings
	}

	sort.SliceStable(bindings, func(i, j int) bool {
		for _, ob := range orderBys {
			varName := StripVariable(ob.Variable)
			valI, okI := bindings[i][varName]
			valJ, okJ := bindings[j][varName]

			var cmp int
			switch {
			case !okI && !okJ:
				continue
			case !okI:
				cmp = -1
			case !okJ:
				cmp = 1
			default:
				c, err := compareTerms(valI, valJ, false)
				if err != nil {
					c = strings.Compare(valI.Canonical(), valJ.Canonical())
				}
				cmp = c
			}
			if cmp == 0 {
				continue // Try next sort key
			}

			if ob.Descending {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})

	return bindings
}

// applyDistinct removes duplicate bindings over the projected variables.
func (e *Executor) applyDistinct(bindings []Binding, variables []string) []Binding {
	seen := make(map[string]bool)
	var unique []Binding

	for _, binding := range bindings {
		key := binding.Key(variables)
		if !seen[key] {
			seen[key] = true
			unique = append(unique, binding)
		}
	}

	return unique
}

// projectedVariables returns the output variable names. SELECT * yields
// every bound variable except blank-node placeholders, sorted.
func projectedVariables(query *SelectQuery, bindings []Binding) []string {
	if len(query.Variables) == 1 && query.Variables[0] == "*" {
		varSet := make(map[string]bool)
		for _, p := range query.Where.AllPatterns() {
			for _, v := range p.Variables() {
				varSet[v] = true
			}
		}
		for _, binding := range bindings {
			for v := range binding {
				varSet[v] = true
			}
		}
		var vars []string
		for v := range varSet {
			if !strings.HasPrefix(v, "_:") {
				vars = append(vars, v)
			}
		}
		sort.Strings(vars)
		return vars
	}

	var vars []string
	for _, v := range query.AllOutputVariables() {
		vars = append(vars, StripVariable(v))
	}
	return vars
}

func project(bindings []Binding, variables []string) []Binding {
	out := make([]Binding, len(bindings))
	for i, b := range bindings {
		row := make(Binding, len(variables))
		for _, v := range variables {
			if t, ok := b[v]; ok {
				row[v] = t
			}
		}
		out[i] = row
	}
	return out
}

// Output format types.
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatCSV   OutputFormat = "csv"
)

// Format formats the query result in the specified format.
func (r *QueryResult) Format(format OutputFormat) (string, error) {
	switch format {
	case FormatCSV:
		return r.FormatCSV()
	case FormatTable:
		return r.FormatTable(), nil
	default:
		return "", errors.Newf("unsupported format: %s", format)
	}
}

// FormatTable formats the result as an ASCII table.
func (r *QueryResult) FormatTable() string {
	return RenderTable(r.Variables, r.Bindings)
}

// RenderTable renders bindings as an ASCII table.
func RenderTable(variables []string, bindings []Binding) string {
	if len(variables) == 0 || len(bindings) == 0 {
		return fmt.Sprintf("No results (%d rows)\n", len(bindings))
	}

	var sb strings.Builder

	cell := func(b Binding, v string) string {
		if t, ok := b[v]; ok {
			return t.Canonical()
		}
		return ""
	}

	widths := make([]int, len(variables))
	for i, v := range variables {
		widths[i] = len(v)
	}
	for _, binding := range bindings {
		for i, v := range variables {
			if n := len(cell(binding, v)); n > widths[i] {
				widths[i] = n
			}
		}
	}

	var sep strings.Builder
	sep.WriteString("+")
	for _, w := range widths {
		sep.WriteString(strings.Repeat("-", w+2))
		sep.WriteString("+")
	}
	sep.WriteString("\n")

	sb.WriteString(sep.String())

	sb.WriteString("|")
	for i, v := range variables {
		fmt.Fprintf(&sb, " %-*s |", widths[i], v)
	}
	sb.WriteString("\n")
	sb.WriteString(sep.String())

	for _, binding := range bindings {
		sb.WriteString("|")
		for i, v := range variables {
			fmt.Fprintf(&sb, " %-*s |", widths[i], cell(binding, v))
		}
		sb.WriteString("\n")
	}
	sb.WriteString(sep.String())

	fmt.Fprintf(&sb, "%d rows\n", len(bindings))
	return sb.String()
}

// FormatCSV formats the result as CSV with plain lexical values.
func (r *QueryResult) FormatCSV() (string, error) {
	var sb strings.Builder
	writer := csv.NewWriter(&sb)

	if err := writer.Write(r.Variables); err != nil {
		return "", errors.Wrap(err, "write csv header")
	}

	for _, binding := range r.Bindings {
		row := make([]string, len(r.Variables))
		for i, v := range r.Variables {
			row[i] = binding[v].Value
		}
		if err := writer.Write(row); err != nil {
			return "", errors.Wrap(err, "write csv row")
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return "", errors.Wrap(err, "flush csv")
	}

	return sb.String(), nil
}

// QueryPlanner orders triple patterns using index statistics.
type QueryPlanner struct {
	stats store.IndexStats
}

// NewQueryPlanner creates a new query planner with index statistics.
func NewQueryPlanner(stats store.IndexStats) *QueryPlanner {
	return &QueryPlanner{
		stats: stats,
	}
}

// OrderPatterns returns the patterns sorted most selective first. A
// pattern sharing no variable with those already placed is deferred while
// a connected one is available, to avoid cross products.
func (qp *QueryPlanner) OrderPatterns(patterns []TriplePattern) []TriplePattern {
	if len(patterns) <= 1 {
		return patterns
	}

	type patternWithSelectivity struct {
		pattern     TriplePattern
		selectivity float64
	}

	remaining := make([]patternWithSelectivity, len(patterns))
	for i, pattern := range patterns {
		remaining[i] = patternWithSelectivity{
			pattern:     pattern,
			selectivity: qp.estimateSelectivity(pattern),
		}
	}
	sort.SliceStable(remaining, func(i, j int) bool {
		return remaining[i].selectivity < remaining[j].selectivity
	})

	ordered := make([]TriplePattern, 0, len(patterns))
	bound := make(map[string]bool)
	for len(remaining) > 0 {
		pick := 0
		for i, candidate := range remaining {
			if connected(candidate.pattern, bound) {
				pick = i
				break
			}
		}
		chosen := remaining[pick].pattern
		ordered = append(ordered, chosen)
		for _, v := range chosen.Variables() {
			bound[v] = true
		}
		remaining = append(remaining[:pick], remaining[pick+1:]...)
	}
	return ordered
}

func connected(p TriplePattern, bound map[string]bool) bool {
	if len(bound) == 0 {
		return true
	}
	for _, v := range p.Variables() {
		if bound[v] {
			return true
		}
	}
	return len(p.Variables()) == 0
}

// estimateSelectivity estimates the selectivity of a triple pattern.
// Lower values = more selective (fewer results expected).
func (qp *QueryPlanner) estimateSelectivity(pattern TriplePattern) float64 {
	if qp.stats.TotalQuads == 0 {
		return 1.0
	}

	total := float64(qp.stats.TotalQuads)
	selectivity := total
	boundCount := 0

	apply := func(n Node, counts map[string]int) {
		if n.IsVariable() {
			return
		}
		boundCount++
		count, ok := counts[n.Term.Canonical()]
		switch {
		case !ok:
			selectivity *= 0.1 // Unknown term is very selective
		case boundCount == 1:
			selectivity = float64(count)
		default:
			selectivity *= float64(count) / total
		}
	}
	apply(pattern.Subject, qp.stats.SubjectCounts)
	apply(pattern.Predicate, qp.stats.PredicateCounts)
	apply(pattern.Object, qp.stats.ObjectCounts)

	if selectivity < 0.1 {
		selectivity = 0.1
	}
	return selectivity
}
