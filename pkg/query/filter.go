package query

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/coolbeans/timeagnostic/pkg/errors"
	"github.com/coolbeans/timeagnostic/pkg/instant"
	"github.com/coolbeans/timeagnostic/pkg/rdf"
)

// expression is a parsed FILTER expression. Evaluation errors make the
// enclosing filter reject the row.
type expression interface {
	eval(b Binding) (rdf.Term, error)
}

var errUnbound = errors.New("unbound variable")

type varExpr struct{ name string }

func (e varExpr) eval(b Binding) (rdf.Term, error) {
	if t, ok := b[e.name]; ok {
		return t, nil
	}
	return rdf.Term{}, errUnbound
}

type constExpr struct{ term rdf.Term }

func (e constExpr) eval(Binding) (rdf.Term, error) { return e.term, nil }

type notExpr struct{ inner expression }

func (e notExpr) eval(b Binding) (rdf.Term, error) {
	v, err := e.inner.eval(b)
	if err != nil {
		return rdf.Term{}, err
	}
	ebv, err := effectiveBoolean(v)
	if err != nil {
		return rdf.Term{}, err
	}
	return boolTerm(!ebv), nil
}

type logicalExpr struct {
	and         bool
	left, right expression
}

// eval follows SPARQL's three-valued logic: an error on one side is
// absorbed when the other side decides the result.
func (e logicalExpr) eval(b Binding) (rdf.Term, error) {
	l, lerr := evalBool(e.left, b)
	r, rerr := evalBool(e.right, b)
	if e.and {
		switch {
		case lerr == nil && rerr == nil:
			return boolTerm(l && r), nil
		case lerr == nil && !l, rerr == nil && !r:
			return boolTerm(false), nil
		}
	} else {
		switch {
		case lerr == nil && rerr == nil:
			return boolTerm(l || r), nil
		case lerr == nil && l, rerr == nil && r:
			return boolTerm(true), nil
		}
	}
	if lerr != nil {
		return rdf.Term{}, lerr
	}
	return rdf.Term{}, rerr
}

type compareExpr struct {
	op          string
	left, right expression
}

func (e compareExpr) eval(b Binding) (rdf.Term, error) {
	l, err := e.left.eval(b)
	if err != nil {
		return rdf.Term{}, err
	}
	r, err := e.right.eval(b)
	if err != nil {
		return rdf.Term{}, err
	}
	cmp, err := compareTerms(l, r, e.op == "=" || e.op == "!=")
	if err != nil {
		return rdf.Term{}, err
	}
	switch e.op {
	case "=":
		return boolTerm(cmp == 0), nil
	case "!=":
		return boolTerm(cmp != 0), nil
	case "<":
		return boolTerm(cmp < 0), nil
	case "<=":
		return boolTerm(cmp <= 0), nil
	case ">":
		return boolTerm(cmp > 0), nil
	default:
		return boolTerm(cmp >= 0), nil
	}
}

type callExpr struct {
	name string
	args []expression
}

func (e callExpr) eval(b Binding) (rdf.Term, error) {
	if e.name == "BOUND" {
		v, ok := e.args[0].(varExpr)
		if !ok {
			return rdf.Term{}, errors.New("BOUND expects a variable")
		}
		_, bound := b[v.name]
		return boolTerm(bound), nil
	}

	args := make([]rdf.Term, len(e.args))
	for i, a := range e.args {
		v, err := a.eval(b)
		if err != nil {
			return rdf.Term{}, err
		}
		args[i] = v
	}

	switch e.name {
	case "STR":
		return rdf.NewLiteral(args[0].Value), nil
	case "LANG":
		return rdf.NewLiteral(args[0].Lang), nil
	case "DATATYPE":
		switch args[0].Kind {
		case rdf.KindTypedLiteral:
			return rdf.NewURI(args[0].Datatype), nil
		case rdf.KindPlainLiteral:
			return rdf.NewURI(rdf.XSDString), nil
		case rdf.KindLangLiteral:
			return rdf.NewURI(rdf.NamespaceRDF + "langString"), nil
		}
		return rdf.Term{}, errors.New("DATATYPE of a non-literal")
	case "LCASE":
		return withLexical(args[0], strings.ToLower(args[0].Value)), nil
	case "UCASE":
		return withLexical(args[0], strings.ToUpper(args[0].Value)), nil
	case "STRLEN":
		return rdf.NewTypedLiteral(strconv.Itoa(len([]rune(args[0].Value))), rdf.XSDInteger), nil
	case "CONTAINS":
		return boolTerm(strings.Contains(args[0].Value, args[1].Value)), nil
	case "STRSTARTS":
		return boolTerm(strings.HasPrefix(args[0].Value, args[1].Value)), nil
	case "STRENDS":
		return boolTerm(strings.HasSuffix(args[0].Value, args[1].Value)), nil
	case "REGEX":
		pattern := args[1].Value
		if len(args) == 3 && strings.Contains(args[2].Value, "i") {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return rdf.Term{}, errors.Wrap(err, "REGEX pattern")
		}
		return boolTerm(re.MatchString(args[0].Value)), nil
	case "ISIRI", "ISURI":
		return boolTerm(args[0].IsURI()), nil
	case "ISLITERAL":
		return boolTerm(args[0].IsLiteral()), nil
	case "ISBLANK":
		return boolTerm(args[0].IsBlank()), nil
	case "SAMETERM":
		return boolTerm(args[0] == args[1]), nil
	}
	return rdf.Term{}, errors.Newf("unknown function %s", e.name)
}

// functionArity lists supported functions with their minimum and maximum
// argument counts.
var functionArity = map[string][2]int{
	"BOUND": {1, 1}, "STR": {1, 1}, "LANG": {1, 1}, "DATATYPE": {1, 1},
	"LCASE": {1, 1}, "UCASE": {1, 1}, "STRLEN": {1, 1},
	"CONTAINS": {2, 2}, "STRSTARTS": {2, 2}, "STRENDS": {2, 2}, "REGEX": {2, 3},
	"ISIRI": {1, 1}, "ISURI": {1, 1}, "ISLITERAL": {1, 1}, "ISBLANK": {1, 1},
	"SAMETERM": {2, 2},
}

func withLexical(t rdf.Term, lexical string) rdf.Term {
	t.Value = lexical
	return t
}

func boolTerm(v bool) rdf.Term {
	return rdf.NewTypedLiteral(strconv.FormatBool(v), rdf.XSDBoolean)
}

func evalBool(e expression, b Binding) (bool, error) {
	v, err := e.eval(b)
	if err != nil {
		return false, err
	}
	return effectiveBoolean(v)
}

// effectiveBoolean computes the SPARQL effective boolean value.
func effectiveBoolean(t rdf.Term) (bool, error) {
	switch {
	case t.Kind == rdf.KindTypedLiteral && t.Datatype == rdf.XSDBoolean:
		return t.Value == "true" || t.Value == "1", nil
	case isNumeric(t):
		f, err := strconv.ParseFloat(t.Value, 64)
		if err != nil {
			return false, nil
		}
		return f != 0 && !math.IsNaN(f), nil
	case t.Kind == rdf.KindPlainLiteral, t.Kind == rdf.KindLangLiteral,
		t.Kind == rdf.KindTypedLiteral && t.Datatype == rdf.XSDString:
		return t.Value != "", nil
	}
	return false, errors.Newf("no boolean value for %s", t)
}

func isNumeric(t rdf.Term) bool {
	if t.Kind != rdf.KindTypedLiteral {
		return false
	}
	switch t.Datatype {
	case rdf.XSDInteger, rdf.XSDDecimal, rdf.XSDDouble,
		rdf.NamespaceXSD + "float", rdf.NamespaceXSD + "int", rdf.NamespaceXSD + "long",
		rdf.NamespaceXSD + "nonNegativeInteger", rdf.NamespaceXSD + "positiveInteger":
		return true
	}
	return false
}

// compareTerms orders two terms: numerically, then as instants, then by
// lexical form. Equality tests fall back to term identity so that IRIs
// and literals never compare equal.
func compareTerms(l, r rdf.Term, equality bool) (int, error) {
	if isNumeric(l) && isNumeric(r) {
		lf, lerr := strconv.ParseFloat(l.Value, 64)
		rf, rerr := strconv.ParseFloat(r.Value, 64)
		if lerr == nil && rerr == nil {
			switch {
			case lf < rf:
				return -1, nil
			case lf > rf:
				return 1, nil
			}
			return 0, nil
		}
	}
	if l.Datatype == rdf.XSDDateTime && r.Datatype == rdf.XSDDateTime {
		lt, lerr := instant.Parse(l.Value)
		rt, rerr := instant.Parse(r.Value)
		if lerr == nil && rerr == nil {
			return lt.Compare(rt), nil
		}
	}
	if equality {
		if l.IsLiteral() && r.IsLiteral() && l.Lang == r.Lang && stringLike(l) && stringLike(r) {
			return strings.Compare(l.Value, r.Value), nil
		}
		if l == r {
			return 0, nil
		}
		return 1, nil
	}
	if l.IsLiteral() != r.IsLiteral() {
		return 0, errors.New("cannot order IRI against literal")
	}
	return strings.Compare(l.Value, r.Value), nil
}

func stringLike(t rdf.Term) bool {
	return t.Kind == rdf.KindPlainLiteral || t.Kind == rdf.KindLangLiteral ||
		(t.Kind == rdf.KindTypedLiteral && t.Datatype == rdf.XSDString)
}

// orExpr parses: and ('||' and)*
func (p *parser) orExpr() (expression, error) {
	left, err := p.andExpr()
	if err != nil {
		return nil, err
	}
	for p.peek().is(tokOp, "||") {
		p.next()
		right, err := p.andExpr()
		if err != nil {
			return nil, err
		}
		left = logicalExpr{left: left, right: right}
	}
	return left, nil
}

// andExpr parses: relational ('&&' relational)*
func (p *parser) andExpr() (expression, error) {
	left, err := p.relationalExpr()
	if err != nil {
		return nil, err
	}
	for p.peek().is(tokOp, "&&") {
		p.next()
		right, err := p.relationalExpr()
		if err != nil {
			return nil, err
		}
		left = logicalExpr{and: true, left: left, right: right}
	}
	return left, nil
}

func (p *parser) relationalExpr() (expression, error) {
	left, err := p.unaryExpr()
	if err != nil {
		return nil, err
	}
	t := p.peek()
	if t.kind == tokOp {
		switch t.text {
		case "=", "!=", "<", "<=", ">", ">=":
			p.next()
			right, err := p.unaryExpr()
			if err != nil {
				return nil, err
			}
			return compareExpr{op: t.text, left: left, right: right}, nil
		}
	}
	return left, nil
}

func (p *parser) unaryExpr() (expression, error) {
	if p.peek().is(tokOp, "!") {
		p.next()
		inner, err := p.unaryExpr()
		if err != nil {
			return nil, err
		}
		return notExpr{inner: inner}, nil
	}
	return p.primaryExpr()
}

func (p *parser) primaryExpr() (expression, error) {
	t := p.peek()
	switch {
	case t.is(tokPunct, "("):
		p.next()
		inner, err := p.orExpr()
		if err != nil {
			return nil, err
		}
		return inner, p.expectPunct(")")
	case t.kind == tokVar:
		p.next()
		return varExpr{name: t.text}, nil
	case t.kind == tokWord && p.peekAt(1).is(tokPunct, "("):
		return p.functionCall()
	case t.isWord("EXISTS") || t.isWord("NOT"):
		return nil, unsupported("EXISTS filters are not supported")
	}
	n, err := p.node()
	if err != nil {
		return nil, err
	}
	if n.IsVariable() {
		return varExpr{name: n.Var}, nil
	}
	return constExpr{term: n.Term}, nil
}

func (p *parser) functionCall() (expression, error) {
	nameTok := p.next()
	name := strings.ToUpper(nameTok.text)
	arity, ok := functionArity[name]
	if !ok {
		return nil, unsupported("function %s", nameTok.text)
	}
	p.next() // (
	var args []expression
	for !p.peek().is(tokPunct, ")") {
		if len(args) > 0 {
			if err := p.expectPunct(","); err != nil {
				return nil, err
			}
		}
		arg, err := p.orExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	p.next()
	if len(args) < arity[0] || len(args) > arity[1] {
		return nil, p.errorAt(nameTok, "%s takes %d to %d arguments, got %d", name, arity[0], arity[1], len(args))
	}
	return callExpr{name: name, args: args}, nil
}
