// Package rdf defines the term and quad model shared by every other package.
//
// A Term is a closed tagged value: exactly one of URI, typed literal,
// language-tagged literal, plain literal or blank node. Two terms are equal
// iff their canonical N3 encodings are equal, so Term values can be compared
// with == and used as map keys.
package rdf

import (
	"regexp"
	"strings"

	"github.com/coolbeans/timeagnostic/pkg/errors"
)

// Kind identifies which variant a Term holds.
type Kind uint8

const (
	KindNone Kind = iota
	KindURI
	KindTypedLiteral
	KindLangLiteral
	KindPlainLiteral
	KindBlankNode
)

// String returns the kind name used in SPARQL JSON results.
func (k Kind) String() string {
	switch k {
	case KindURI:
		return "uri"
	case KindTypedLiteral, KindLangLiteral, KindPlainLiteral:
		return "literal"
	case KindBlankNode:
		return "bnode"
	default:
		return "none"
	}
}

// Term is an RDF term. Value holds the URI, the unescaped lexical form of a
// literal, or the blank node label.
type Term struct {
	Kind     Kind
	Value    string
	Datatype string
	Lang     string
}

// NewURI returns a URI term.
func NewURI(uri string) Term {
	return Term{Kind: KindURI, Value: uri}
}

// NewLiteral returns a plain literal with the given lexical form.
func NewLiteral(lexical string) Term {
	return Term{Kind: KindPlainLiteral, Value: lexical}
}

// NewTypedLiteral returns a literal with a datatype. An empty datatype
// yields a plain literal.
func NewTypedLiteral(lexical, datatype string) Term {
	if datatype == "" {
		return NewLiteral(lexical)
	}
	return Term{Kind: KindTypedLiteral, Value: lexical, Datatype: datatype}
}

// NewLangLiteral returns a language-tagged literal. Tags are compared
// case-insensitively, so they are stored lower-cased.
func NewLangLiteral(lexical, lang string) Term {
	if lang == "" {
		return NewLiteral(lexical)
	}
	return Term{Kind: KindLangLiteral, Value: lexical, Lang: strings.ToLower(lang)}
}

// NewBlankNode returns a blank node with the given label.
func NewBlankNode(label string) Term {
	return Term{Kind: KindBlankNode, Value: strings.TrimPrefix(label, "_:")}
}

// IsZero reports whether the term is unset.
func (t Term) IsZero() bool { return t.Kind == KindNone }

// IsURI reports whether the term is a URI.
func (t Term) IsURI() bool { return t.Kind == KindURI }

// IsLiteral reports whether the term is any kind of literal.
func (t Term) IsLiteral() bool {
	return t.Kind == KindTypedLiteral || t.Kind == KindLangLiteral || t.Kind == KindPlainLiteral
}

// IsBlank reports whether the term is a blank node.
func (t Term) IsBlank() bool { return t.Kind == KindBlankNode }

// Canonical returns the N3 encoding of the term.
func (t Term) Canonical() string {
	switch t.Kind {
	case KindURI:
		return "<" + t.Value + ">"
	case KindTypedLiteral:
		return `"` + escapeLexical(t.Value) + `"^^<` + t.Datatype + ">"
	case KindLangLiteral:
		return `"` + escapeLexical(t.Value) + `"@` + t.Lang
	case KindPlainLiteral:
		return `"` + escapeLexical(t.Value) + `"`
	case KindBlankNode:
		return "_:" + t.Value
	default:
		return ""
	}
}

// String implements fmt.Stringer.
func (t Term) String() string { return t.Canonical() }

// Equal reports whether two terms have the same canonical form.
func (t Term) Equal(other Term) bool { return t == other }

// LooseEqual is the equality used when removing quads named by an update
// statement: a literal without datatype or language also matches a stored
// literal with the same lexical form and any datatype.
func (t Term) LooseEqual(stored Term) bool {
	if t == stored {
		return true
	}
	if t.Kind == KindPlainLiteral && stored.Kind == KindTypedLiteral {
		return t.Value == stored.Value
	}
	return false
}

const (
	quotedDouble = `"((?:[^"\\]|\\.)*)"`
	quotedSingle = `'((?:[^'\\]|\\.)*)'`
)

var (
	uriPattern       = regexp.MustCompile(`^<([^<>"{}|^` + "`" + `\\\s]*)>$`)
	typedDoubleRegex = regexp.MustCompile(`^` + quotedDouble + `\^\^<([^>]*)>$`)
	typedSingleRegex = regexp.MustCompile(`^` + quotedSingle + `\^\^<([^>]*)>$`)
	langDoubleRegex  = regexp.MustCompile(`^` + quotedDouble + `@([a-zA-Z]+(?:-[a-zA-Z0-9]+)*)$`)
	langSingleRegex  = regexp.MustCompile(`^` + quotedSingle + `@([a-zA-Z]+(?:-[a-zA-Z0-9]+)*)$`)
	plainDoubleRegex = regexp.MustCompile(`^` + quotedDouble + `$`)
	plainSingleRegex = regexp.MustCompile(`^` + quotedSingle + `$`)
	blankNodeRegex   = regexp.MustCompile(`^_:([A-Za-z0-9_][A-Za-z0-9_\-.]*)$`)
)

// ParseTerm parses the N3 form of a single term. Forms are tried longest
// match first: URI, typed literal, language literal, quoted literal, blank
// node.
func ParseTerm(text string) (Term, error) {
	text = strings.TrimSpace(text)
	if m := uriPattern.FindStringSubmatch(text); m != nil {
		return NewURI(m[1]), nil
	}
	for _, re := range []*regexp.Regexp{typedDoubleRegex, typedSingleRegex} {
		if m := re.FindStringSubmatch(text); m != nil {
			return NewTypedLiteral(UnescapeN3(m[1]), m[2]), nil
		}
	}
	for _, re := range []*regexp.Regexp{langDoubleRegex, langSingleRegex} {
		if m := re.FindStringSubmatch(text); m != nil {
			return NewLangLiteral(UnescapeN3(m[1]), m[2]), nil
		}
	}
	for _, re := range []*regexp.Regexp{plainDoubleRegex, plainSingleRegex} {
		if m := re.FindStringSubmatch(text); m != nil {
			return NewLiteral(UnescapeN3(m[1])), nil
		}
	}
	if m := blankNodeRegex.FindStringSubmatch(text); m != nil {
		return NewBlankNode(m[1]), nil
	}
	return Term{}, errors.Wrapf(ErrUnparseable, "%q", text)
}

// ParseTermLenient parses text as a term and falls back to an opaque plain
// literal when it is not a recognised form.
func ParseTermLenient(text string) Term {
	t, err := ParseTerm(text)
	if err != nil {
		return NewLiteral(strings.TrimSpace(text))
	}
	return t
}

// ErrUnparseable is returned by ParseTerm.
var ErrUnparseable = errors.ErrUnparseableTerm
