package query

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/coolbeans/timeagnostic/pkg/errors"
	"github.com/coolbeans/timeagnostic/pkg/rdf"
)

// ParseQuery parses a SPARQL query string and returns a Query object.
// Only SELECT queries are accepted; other forms and unsupported graph
// pattern operators return an error wrapping errors.ErrUnsupportedQuery.
func ParseQuery(queryStr string) (*Query, error) {
	queryStr = strings.TrimSpace(queryStr)
	if queryStr == "" {
		return nil, errors.New("empty query")
	}

	toks, err := lex(queryStr)
	if err != nil {
		return nil, errors.Wrap(err, "tokenize query")
	}

	p := &parser{src: queryStr, toks: toks, prefixes: make(map[string]string)}
	if err := p.prologue(); err != nil {
		return nil, err
	}

	form := p.next()
	switch {
	case form.isWord("SELECT"):
		selectQuery, err := p.selectQuery()
		if err != nil {
			return nil, err
		}
		return &Query{Type: SelectQueryType, Select: selectQuery}, nil
	case form.isWord("CONSTRUCT"), form.isWord("DESCRIBE"), form.isWord("ASK"):
		return nil, errors.Wrapf(errors.ErrUnsupportedQuery, "%s queries are not supported", strings.ToUpper(form.text))
	default:
		return nil, errors.Wrapf(errors.ErrUnsupportedQuery, "expected SELECT, found %q", form.text)
	}
}

type parser struct {
	src      string
	toks     []token
	pos      int
	prefixes map[string]string
	base     string
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) peekAt(offset int) token {
	if p.pos+offset >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+offset]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) expectPunct(text string) error {
	t := p.next()
	if !t.is(tokPunct, text) {
		return p.errorAt(t, "expected %q", text)
	}
	return nil
}

func (p *parser) errorAt(t token, format string, args ...interface{}) error {
	found := t.text
	if t.kind == tokEOF {
		found = "end of query"
	}
	return errors.Newf("%s at offset %d (found %q)", fmt.Sprintf(format, args...), t.pos, found)
}

func unsupported(format string, args ...interface{}) error {
	return errors.Wrapf(errors.ErrUnsupportedQuery, format, args...)
}

func (p *parser) prologue() error {
	for {
		t := p.peek()
		switch {
		case t.isWord("PREFIX"):
			p.next()
			name := p.next()
			if name.kind != tokPName || !strings.HasSuffix(name.text, ":") {
				return p.errorAt(name, "expected prefix name")
			}
			iri := p.next()
			if iri.kind != tokIRI {
				return p.errorAt(iri, "expected prefix IRI")
			}
			p.prefixes[strings.TrimSuffix(name.text, ":")] = p.resolveIRI(iri.text)
		case t.isWord("BASE"):
			p.next()
			iri := p.next()
			if iri.kind != tokIRI {
				return p.errorAt(iri, "expected base IRI")
			}
			p.base = iri.text
		default:
			return nil
		}
	}
}

func (p *parser) resolveIRI(iri string) string {
	if p.base == "" || strings.Contains(iri, ":") {
		return iri
	}
	return p.base + iri
}

func (p *parser) expandPName(t token) (string, error) {
	idx := strings.Index(t.text, ":")
	prefix, local := t.text[:idx], t.text[idx+1:]
	ns, ok := p.prefixes[prefix]
	if !ok {
		if prefix == "rdf" || prefix == "xsd" {
			ns = map[string]string{"rdf": rdf.NamespaceRDF, "xsd": rdf.NamespaceXSD}[prefix]
		} else {
			return "", p.errorAt(t, "undeclared prefix %q", prefix)
		}
	}
	return ns + local, nil
}

// selectQuery parses everything after the SELECT keyword.
func (p *parser) selectQuery() (*SelectQuery, error) {
	query := &SelectQuery{Prefixes: p.prefixes}

	if t := p.peek(); t.isWord("DISTINCT") || t.isWord("REDUCED") {
		p.next()
		query.Distinct = true
	}

	if err := p.projection(query); err != nil {
		return nil, err
	}

	if t := p.peek(); t.isWord("FROM") {
		return nil, unsupported("FROM clauses are not supported")
	}
	if p.peek().isWord("WHERE") {
		p.next()
	}
	if err := p.expectPunct("{"); err != nil {
		return nil, errors.Wrap(err, "invalid WHERE clause")
	}
	where, err := p.group()
	if err != nil {
		return nil, err
	}
	query.Where = where

	if err := p.solutionModifiers(query); err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, p.errorAt(t, "unexpected trailing input")
	}
	return query, nil
}

func (p *parser) projection(query *SelectQuery) error {
	if t := p.peek(); t.is(tokOp, "*") {
		p.next()
		query.Variables = []string{"*"}
		return nil
	}
	for {
		t := p.peek()
		switch {
		case t.kind == tokVar:
			p.next()
			query.Variables = append(query.Variables, "?"+t.text)
		case t.is(tokPunct, "("):
			agg, err := p.aggregate()
			if err != nil {
				return err
			}
			query.Aggregates = append(query.Aggregates, agg)
		default:
			if len(query.Variables) == 0 && len(query.Aggregates) == 0 {
				return p.errorAt(t, "no variables found in SELECT clause")
			}
			return nil
		}
	}
}

// aggregate parses "(FUNC([DISTINCT] ?x | *) AS ?alias)".
func (p *parser) aggregate() (AggregateExpression, error) {
	var agg AggregateExpression
	p.next() // (
	fn := p.next()
	switch name := AggregateFunction(strings.ToUpper(fn.text)); {
	case fn.kind != tokWord:
		return agg, p.errorAt(fn, "expected aggregate function")
	case name == AggregateCOUNT || name == AggregateSUM || name == AggregateAVG ||
		name == AggregateMIN || name == AggregateMAX:
		agg.Function = name
	default:
		return agg, unsupported("projection expression %s", fn.text)
	}
	if err := p.expectPunct("("); err != nil {
		return agg, err
	}
	if p.peek().isWord("DISTINCT") {
		p.next()
		agg.Distinct = true
	}
	arg := p.next()
	switch {
	case arg.kind == tokVar:
		agg.Variable = "?" + arg.text
	case arg.is(tokOp, "*") && agg.Function == AggregateCOUNT:
		agg.Variable = "*"
	default:
		return agg, p.errorAt(arg, "expected variable in %s", agg.Function)
	}
	if err := p.expectPunct(")"); err != nil {
		return agg, err
	}
	if as := p.next(); !as.isWord("AS") {
		return agg, p.errorAt(as, "expected AS")
	}
	alias := p.next()
	if alias.kind != tokVar {
		return agg, p.errorAt(alias, "expected alias variable")
	}
	agg.Alias = "?" + alias.text
	return agg, p.expectPunct(")")
}

func (p *parser) solutionModifiers(query *SelectQuery) error {
	for {
		t := p.peek()
		switch {
		case t.isWord("GROUP"):
			p.next()
			if by := p.next(); !by.isWord("BY") {
				return p.errorAt(by, "expected BY")
			}
			for p.peek().kind == tokVar {
				query.GroupBy = append(query.GroupBy, "?"+p.next().text)
			}
			if len(query.GroupBy) == 0 {
				return p.errorAt(p.peek(), "expected GROUP BY variable")
			}
		case t.isWord("HAVING"):
			return unsupported("HAVING is not supported")
		case t.isWord("ORDER"):
			p.next()
			if by := p.next(); !by.isWord("BY") {
				return p.errorAt(by, "expected BY")
			}
			orderBys, err := p.orderConditions()
			if err != nil {
				return err
			}
			query.OrderBy = orderBys
		case t.isWord("LIMIT"), t.isWord("OFFSET"):
			p.next()
			n := p.next()
			value, err := strconv.Atoi(n.text)
			if n.kind != tokNumber || err != nil {
				return p.errorAt(n, "expected integer after %s", strings.ToUpper(t.text))
			}
			if t.isWord("LIMIT") {
				query.Limit = value
			} else {
				query.Offset = value
			}
		default:
			return nil
		}
	}
}

// orderConditions parses both ASC/DESC(?var) and simple ?var forms.
func (p *parser) orderConditions() ([]OrderBy, error) {
	var orderBys []OrderBy
	for {
		t := p.peek()
		switch {
		case t.kind == tokVar:
			p.next()
			orderBys = append(orderBys, OrderBy{Variable: "?" + t.text})
		case t.isWord("ASC") || t.isWord("DESC"):
			p.next()
			if err := p.expectPunct("("); err != nil {
				return nil, err
			}
			v := p.next()
			if v.kind != tokVar {
				return nil, p.errorAt(v, "expected variable in ORDER BY")
			}
			if err := p.expectPunct(")"); err != nil {
				return nil, err
			}
			orderBys = append(orderBys, OrderBy{Variable: "?" + v.text, Descending: t.isWord("DESC")})
		default:
			if len(orderBys) == 0 {
				return nil, p.errorAt(t, "expected ORDER BY condition")
			}
			return orderBys, nil
		}
	}
}

// group parses a group graph pattern; the opening brace is consumed.
func (p *parser) group() (Group, error) {
	var g Group
	for {
		t := p.peek()
		switch {
		case t.kind == tokEOF:
			return g, p.errorAt(t, "unterminated group pattern")
		case t.is(tokPunct, "}"):
			p.next()
			return g, nil
		case t.is(tokPunct, "."):
			p.next()
		case t.isWord("OPTIONAL"):
			p.next()
			if err := p.expectPunct("{"); err != nil {
				return g, err
			}
			opt, err := p.group()
			if err != nil {
				return g, errors.Wrap(err, "error parsing OPTIONAL clause")
			}
			g.Optional = append(g.Optional, opt)
		case t.isWord("FILTER"):
			p.next()
			f, err := p.filter()
			if err != nil {
				return g, err
			}
			g.Filters = append(g.Filters, f)
		case t.isWord("VALUES"):
			p.next()
			v, err := p.values()
			if err != nil {
				return g, err
			}
			g.Values = append(g.Values, v)
		case t.isWord("GRAPH"):
			p.next()
			graph, err := p.node()
			if err != nil {
				return g, err
			}
			if graph.Term.IsLiteral() {
				return g, p.errorAt(t, "GRAPH name must be an IRI or variable")
			}
			if err := p.expectPunct("{"); err != nil {
				return g, err
			}
			inner, err := p.group()
			if err != nil {
				return g, err
			}
			inner.setGraph(graph)
			g.merge(inner)
		case t.is(tokPunct, "{"):
			p.next()
			inner, err := p.group()
			if err != nil {
				return g, err
			}
			if p.peek().isWord("UNION") {
				return g, unsupported("UNION is not supported")
			}
			g.merge(inner)
		case t.isWord("UNION"), t.isWord("MINUS"), t.isWord("BIND"), t.isWord("SERVICE"), t.isWord("SELECT"):
			return g, unsupported("%s is not supported", strings.ToUpper(t.text))
		default:
			patterns, err := p.triplesBlock()
			if err != nil {
				return g, err
			}
			g.Patterns = append(g.Patterns, patterns...)
		}
	}
}

// triplesBlock parses "s p o [, o] [; p o]" up to the closing dot.
func (p *parser) triplesBlock() ([]TriplePattern, error) {
	var patterns []TriplePattern
	subject, err := p.node()
	if err != nil {
		return nil, err
	}
	for {
		predicate, err := p.predicate()
		if err != nil {
			return nil, err
		}
		for {
			object, err := p.node()
			if err != nil {
				return nil, err
			}
			patterns = append(patterns, TriplePattern{Subject: subject, Predicate: predicate, Object: object})
			if !p.peek().is(tokPunct, ",") {
				break
			}
			p.next()
		}
		if !p.peek().is(tokPunct, ";") {
			break
		}
		for p.peek().is(tokPunct, ";") {
			p.next()
		}
		// A trailing ';' before '.' or '}' is allowed.
		if t := p.peek(); t.is(tokPunct, ".") || t.is(tokPunct, "}") {
			break
		}
	}
	if p.peek().is(tokPunct, ".") {
		p.next()
	}
	return patterns, nil
}

func (p *parser) predicate() (Node, error) {
	if t := p.peek(); t.kind == tokWord && t.text == "a" {
		p.next()
		return Bound(rdf.NewURI(rdf.RDFType)), nil
	}
	n, err := p.node()
	if err != nil {
		return n, err
	}
	if !n.IsVariable() && !n.Term.IsURI() {
		return n, errors.Newf("predicate must be an IRI or variable, got %s", n)
	}
	return n, nil
}

// node parses one term position.
func (p *parser) node() (Node, error) {
	t := p.next()
	switch t.kind {
	case tokVar:
		return Variable(t.text), nil
	case tokBlank:
		// Blank nodes in patterns are non-distinguished variables.
		return Node{Var: "_:" + t.text}, nil
	case tokIRI:
		return Bound(rdf.NewURI(p.resolveIRI(t.text))), nil
	case tokPName:
		iri, err := p.expandPName(t)
		if err != nil {
			return Node{}, err
		}
		return Bound(rdf.NewURI(iri)), nil
	case tokString:
		term, err := p.literal(t)
		return Bound(term), err
	case tokNumber:
		return Bound(numberTerm(t.text)), nil
	case tokOp:
		if (t.text == "-" || t.text == "+") && p.peek().kind == tokNumber {
			n := p.next()
			return Bound(numberTerm(t.text + n.text)), nil
		}
	case tokWord:
		switch strings.ToLower(t.text) {
		case "true", "false":
			return Bound(rdf.NewTypedLiteral(strings.ToLower(t.text), rdf.XSDBoolean)), nil
		}
	case tokPunct:
		if t.text == "[" {
			return Node{}, unsupported("anonymous blank nodes are not supported")
		}
	}
	return Node{}, p.errorAt(t, "expected term")
}

func (p *parser) literal(t token) (rdf.Term, error) {
	switch {
	case t.lang != "":
		return rdf.NewLangLiteral(t.text, t.lang), nil
	case t.datatype != "" && t.dtPName:
		dt, err := p.expandPName(token{text: t.datatype, pos: t.pos})
		if err != nil {
			return rdf.Term{}, err
		}
		return rdf.NewTypedLiteral(t.text, dt), nil
	case t.datatype != "":
		return rdf.NewTypedLiteral(t.text, p.resolveIRI(t.datatype)), nil
	default:
		return rdf.NewLiteral(t.text), nil
	}
}

func numberTerm(text string) rdf.Term {
	switch {
	case strings.ContainsAny(text, "eE"):
		return rdf.NewTypedLiteral(text, rdf.XSDDouble)
	case strings.Contains(text, "."):
		return rdf.NewTypedLiteral(text, rdf.XSDDecimal)
	default:
		return rdf.NewTypedLiteral(text, rdf.XSDInteger)
	}
}

// values parses "?v { t ... }" or "(?a ?b) { (t t) ... }".
func (p *parser) values() (ValuesBlock, error) {
	var block ValuesBlock
	multi := false
	if p.peek().is(tokPunct, "(") {
		multi = true
		p.next()
		for p.peek().kind == tokVar {
			block.Variables = append(block.Variables, p.next().text)
		}
		if err := p.expectPunct(")"); err != nil {
			return block, err
		}
	} else {
		v := p.next()
		if v.kind != tokVar {
			return block, p.errorAt(v, "expected VALUES variable")
		}
		block.Variables = []string{v.text}
	}
	if err := p.expectPunct("{"); err != nil {
		return block, err
	}
	for !p.peek().is(tokPunct, "}") {
		if p.peek().kind == tokEOF {
			return block, p.errorAt(p.peek(), "unterminated VALUES block")
		}
		if !multi {
			term, err := p.valuesTerm()
			if err != nil {
				return block, err
			}
			block.Rows = append(block.Rows, []rdf.Term{term})
			continue
		}
		if err := p.expectPunct("("); err != nil {
			return block, err
		}
		row := make([]rdf.Term, 0, len(block.Variables))
		for !p.peek().is(tokPunct, ")") {
			term, err := p.valuesTerm()
			if err != nil {
				return block, err
			}
			row = append(row, term)
		}
		p.next()
		if len(row) != len(block.Variables) {
			return block, errors.Newf("VALUES row has %d terms for %d variables", len(row), len(block.Variables))
		}
		block.Rows = append(block.Rows, row)
	}
	p.next()
	return block, nil
}

func (p *parser) valuesTerm() (rdf.Term, error) {
	if p.peek().isWord("UNDEF") {
		p.next()
		return rdf.Term{}, nil
	}
	n, err := p.node()
	if err != nil {
		return rdf.Term{}, err
	}
	if n.IsVariable() {
		return rdf.Term{}, errors.Newf("variable %s in VALUES data", n)
	}
	return n.Term, nil
}

// filter parses "( expr )" or a bare function call such as
// "CONTAINS(?x, "y")". The raw text is kept for display.
func (p *parser) filter() (Filter, error) {
	start := p.peek()
	var expr expression
	var err error
	if start.is(tokPunct, "(") {
		p.next()
		expr, err = p.orExpr()
		if err == nil {
			err = p.expectPunct(")")
		}
	} else if start.kind == tokWord {
		expr, err = p.primaryExpr()
	} else {
		return Filter{}, p.errorAt(start, "expected FILTER constraint")
	}
	if err != nil {
		return Filter{}, errors.Wrap(err, "invalid FILTER")
	}
	end := p.toks[p.pos-1].end
	text := strings.TrimSpace(p.src[start.pos:end])
	if start.is(tokPunct, "(") {
		text = strings.TrimSpace(text[1 : len(text)-1])
	}
	return Filter{Expression: text, expr: expr}, nil
}

// Validate checks if the query is well-formed and returns validation errors.
func (q *Query) Validate() []error {
	var errs []error
	if q.Type == "" {
		errs = append(errs, errors.New("query type is not set"))
	}
	if q.Select == nil && q.Type == SelectQueryType {
		errs = append(errs, errors.New("SELECT query missing select clause"))
		return errs
	}
	if q.Select != nil {
		errs = append(errs, q.Select.Validate()...)
	}
	return errs
}

// Validate checks if the SELECT query is well-formed.
func (q *SelectQuery) Validate() []error {
	var errs []error

	if len(q.Variables) == 0 && len(q.Aggregates) == 0 {
		errs = append(errs, errors.New("SELECT clause has no variables"))
	}
	if len(q.Where.AllPatterns()) == 0 && len(q.Where.Values) == 0 {
		errs = append(errs, errors.New("WHERE clause has no triple patterns"))
	}

	boundVars := make(map[string]bool)
	for _, p := range q.Where.AllPatterns() {
		for _, v := range p.Variables() {
			boundVars["?"+v] = true
		}
	}
	for _, block := range q.Where.Values {
		for _, v := range block.Variables {
			boundVars["?"+v] = true
		}
	}
	for _, agg := range q.Aggregates {
		boundVars[agg.Alias] = true
	}

	if len(q.Variables) > 0 && q.Variables[0] != "*" {
		for _, v := range q.Variables {
			if !boundVars[v] {
				errs = append(errs, errors.Newf("variable %s in SELECT is not bound in WHERE clause", v))
			}
		}
	}

	for _, ob := range q.OrderBy {
		if !boundVars[ob.Variable] {
			errs = append(errs, errors.Newf("ORDER BY variable %s is not bound in WHERE clause", ob.Variable))
		}
	}

	if q.HasAggregates() {
		grouped := make(map[string]bool, len(q.GroupBy))
		for _, v := range q.GroupBy {
			grouped[v] = true
		}
		for _, v := range q.Variables {
			if v != "*" && !grouped[v] {
				errs = append(errs, errors.Newf("variable %s must appear in GROUP BY", v))
			}
		}
	}

	if q.Limit < 0 {
		errs = append(errs, errors.New("LIMIT cannot be negative"))
	}
	if q.Offset < 0 {
		errs = append(errs, errors.New("OFFSET cannot be negative"))
	}
	return errs
}

// String returns a string representation of the query (for debugging).
func (q *Query) String() string {
	if q.Select != nil {
		return q.Select.String()
	}
	return "<unknown query type>"
}

// String renders the SELECT query in SPARQL syntax. Patterns use full
// IRIs; the prefixes are declared for the benefit of filter text.
func (q *SelectQuery) String() string {
	var sb strings.Builder

	prefixes := make([]string, 0, len(q.Prefixes))
	for prefix := range q.Prefixes {
		prefixes = append(prefixes, prefix)
	}
	sort.Strings(prefixes)
	for _, prefix := range prefixes {
		fmt.Fprintf(&sb, "PREFIX %s: <%s>\n", prefix, q.Prefixes[prefix])
	}

	sb.WriteString("SELECT ")
	if q.Distinct {
		sb.WriteString("DISTINCT ")
	}
	if len(q.Variables) == 1 && q.Variables[0] == "*" {
		sb.WriteString("*")
	} else {
		sb.WriteString(strings.Join(q.Variables, " "))
	}
	for _, agg := range q.Aggregates {
		distinct := ""
		if agg.Distinct {
			distinct = "DISTINCT "
		}
		fmt.Fprintf(&sb, " (%s(%s%s) AS %s)", agg.Function, distinct, agg.Variable, agg.Alias)
	}

	sb.WriteString(" WHERE {\n")
	writeGroup(&sb, q.Where, "  ")
	sb.WriteString("}")

	if len(q.GroupBy) > 0 {
		sb.WriteString(" GROUP BY " + strings.Join(q.GroupBy, " "))
	}
	if len(q.OrderBy) > 0 {
		sb.WriteString(" ORDER BY")
		for _, ob := range q.OrderBy {
			if ob.Descending {
				fmt.Fprintf(&sb, " DESC(%s)", ob.Variable)
			} else {
				fmt.Fprintf(&sb, " %s", ob.Variable)
			}
		}
	}
	if q.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", q.Limit)
	}
	if q.Offset > 0 {
		fmt.Fprintf(&sb, " OFFSET %d", q.Offset)
	}
	return sb.String()
}

func writeGroup(sb *strings.Builder, g Group, indent string) {
	for _, block := range g.Values {
		sb.WriteString(indent + "VALUES (")
		for i, v := range block.Variables {
			if i > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString("?" + v)
		}
		sb.WriteString(") {")
		for _, row := range block.Rows {
			sb.WriteString(" (")
			for i, t := range row {
				if i > 0 {
					sb.WriteByte(' ')
				}
				if t.IsZero() {
					sb.WriteString("UNDEF")
				} else {
					sb.WriteString(t.Canonical())
				}
			}
			sb.WriteString(")")
		}
		sb.WriteString(" }\n")
	}
	for _, p := range g.Patterns {
		sb.WriteString(indent + p.String() + "\n")
	}
	for _, f := range g.Filters {
		fmt.Fprintf(sb, "%sFILTER(%s)\n", indent, f.Expression)
	}
	for _, opt := range g.Optional {
		sb.WriteString(indent + "OPTIONAL {\n")
		writeGroup(sb, opt, indent+"  ")
		sb.WriteString(indent + "}\n")
	}
}
