package delta

import (
	"regexp"
	"strings"

	"github.com/coolbeans/timeagnostic/pkg/rdf"
)

const (
	langTag   = `[a-zA-Z]+(?:-[a-zA-Z0-9]+)*`
	pname     = `[A-Za-z][\w\-.]*:[\w\-]*|:[\w\-]+`
	dqContent = `(?:[^"\\]|\\.)*`
	sqContent = `(?:[^'\\]|\\.)*`
	datatype  = `\^\^(?:<([^>]*)>|(` + pname + `))`
)

// termRegex matches one term or separator. Alternatives are tried in
// priority order: URI, typed literal, language literal, double-quoted,
// single-quoted, blank node, then the Turtle shorthands.
var termRegex = regexp.MustCompile(strings.Join([]string{
	`<([^<>\s]*)>`,
	`"""([\s\S]*?)"""(?:` + datatype + `|@(` + langTag + `))?`,
	`"(` + dqContent + `)"` + datatype,
	`"(` + dqContent + `)"@(` + langTag + `)`,
	`"(` + dqContent + `)"`,
	`'(` + sqContent + `)'` + datatype,
	`'(` + sqContent + `)'@(` + langTag + `)`,
	`'(` + sqContent + `)'`,
	`_:([A-Za-z0-9_][A-Za-z0-9_\-]*)`,
	`(` + pname + `)`,
	`([+-]?\d+(?:\.\d+)?(?:[eE][+-]?\d+)?)`,
	`\b(true|false|a)\b`,
	`([.;,])`,
}, "|"))

// Submatch group indexes of termRegex.
const (
	gURI = 1 + iota
	gLong
	gLongDT
	gLongDTName
	gLongLang
	gTypedDQ
	gTypedDQDT
	gTypedDQDTName
	gLangDQ
	gLangDQTag
	gDQ
	gTypedSQ
	gTypedSQDT
	gTypedSQDTName
	gLangSQ
	gLangSQTag
	gSQ
	gBlank
	gPName
	gNumber
	gKeyword
	gPunct
)

type token struct {
	term  rdf.Term
	punct byte
}

func tokenize(text string, prefixes map[string]string) []token {
	var tokens []token
	for _, m := range termRegex.FindAllStringSubmatchIndex(text, -1) {
		group := func(g int) (string, bool) {
			if m[2*g] < 0 {
				return "", false
			}
			return text[m[2*g]:m[2*g+1]], true
		}
		dt := func(uriGroup, nameGroup int) string {
			if v, ok := group(uriGroup); ok {
				return v
			}
			v, _ := group(nameGroup)
			return expandPrefixed(v, prefixes).Value
		}

		switch {
		case m[2*gURI] >= 0:
			v, _ := group(gURI)
			tokens = append(tokens, token{term: rdf.NewURI(v)})
		case m[2*gLong] >= 0:
			v, _ := group(gLong)
			lex := rdf.UnescapeN3(v)
			switch {
			case m[2*gLongDT] >= 0 || m[2*gLongDTName] >= 0:
				tokens = append(tokens, token{term: rdf.NewTypedLiteral(lex, dt(gLongDT, gLongDTName))})
			case m[2*gLongLang] >= 0:
				lang, _ := group(gLongLang)
				tokens = append(tokens, token{term: rdf.NewLangLiteral(lex, lang)})
			default:
				tokens = append(tokens, token{term: rdf.NewLiteral(lex)})
			}
		case m[2*gTypedDQ] >= 0:
			v, _ := group(gTypedDQ)
			tokens = append(tokens, token{term: rdf.NewTypedLiteral(rdf.UnescapeN3(v), dt(gTypedDQDT, gTypedDQDTName))})
		case m[2*gLangDQ] >= 0:
			v, _ := group(gLangDQ)
			lang, _ := group(gLangDQTag)
			tokens = append(tokens, token{term: rdf.NewLangLiteral(rdf.UnescapeN3(v), lang)})
		case m[2*gDQ] >= 0:
			v, _ := group(gDQ)
			tokens = append(tokens, token{term: rdf.NewLiteral(rdf.UnescapeN3(v))})
		case m[2*gTypedSQ] >= 0:
			v, _ := group(gTypedSQ)
			tokens = append(tokens, token{term: rdf.NewTypedLiteral(rdf.UnescapeN3(v), dt(gTypedSQDT, gTypedSQDTName))})
		case m[2*gLangSQ] >= 0:
			v, _ := group(gLangSQ)
			lang, _ := group(gLangSQTag)
			tokens = append(tokens, token{term: rdf.NewLangLiteral(rdf.UnescapeN3(v), lang)})
		case m[2*gSQ] >= 0:
			v, _ := group(gSQ)
			tokens = append(tokens, token{term: rdf.NewLiteral(rdf.UnescapeN3(v))})
		case m[2*gBlank] >= 0:
			v, _ := group(gBlank)
			tokens = append(tokens, token{term: rdf.NewBlankNode(v)})
		case m[2*gPName] >= 0:
			v, _ := group(gPName)
			tokens = append(tokens, token{term: expandPrefixed(v, prefixes)})
		case m[2*gNumber] >= 0:
			v, _ := group(gNumber)
			tokens = append(tokens, token{term: numericLiteral(v)})
		case m[2*gKeyword] >= 0:
			v, _ := group(gKeyword)
			if v == "a" {
				tokens = append(tokens, token{term: rdf.NewURI(rdf.RDFType)})
			} else {
				tokens = append(tokens, token{term: rdf.NewTypedLiteral(v, rdf.XSDBoolean)})
			}
		case m[2*gPunct] >= 0:
			tokens = append(tokens, token{punct: text[m[2*gPunct]]})
		}
	}
	return tokens
}

func numericLiteral(v string) rdf.Term {
	switch {
	case strings.ContainsAny(v, "eE"):
		return rdf.NewTypedLiteral(v, rdf.XSDDouble)
	case strings.Contains(v, "."):
		return rdf.NewTypedLiteral(v, rdf.XSDDecimal)
	default:
		return rdf.NewTypedLiteral(v, rdf.XSDInteger)
	}
}

// parseTriples groups terms into triples. Terms are consumed in runs of
// three; ';' keeps the subject and ',' keeps subject and predicate. A
// partial triple left when a '.' or the end of the block is reached is
// dropped.
func parseTriples(text string, prefixes map[string]string) []rdf.Quad {
	var quads []rdf.Quad
	var current []rdf.Term

	for _, tok := range tokenize(text, prefixes) {
		if tok.punct != 0 {
			switch tok.punct {
			case '.':
				current = current[:0]
			case ';':
				if len(current) == 3 {
					current = current[:1]
				}
			case ',':
				if len(current) == 3 {
					current = current[:2]
				}
			}
			continue
		}
		if len(current) == 3 {
			current = current[:0]
		}
		current = append(current, tok.term)
		if len(current) == 3 {
			quads = append(quads, rdf.NewTriple(current[0], current[1], current[2]))
		}
	}
	return quads
}
