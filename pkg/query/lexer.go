package query

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/coolbeans/timeagnostic/pkg/errors"
	"github.com/coolbeans/timeagnostic/pkg/rdf"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIRI
	tokPName
	tokVar
	tokBlank
	tokString
	tokNumber
	tokWord
	tokPunct
	tokOp
)

// token is one lexical unit. Strings keep their language tag or datatype
// (as IRI or unexpanded prefixed name) so the parser can resolve them
// once the prologue is known.
type token struct {
	kind     tokenKind
	text     string
	lang     string
	datatype string
	dtPName  bool
	pos      int
	end      int
}

func (t token) is(kind tokenKind, text string) bool {
	return t.kind == kind && t.text == text
}

func (t token) isWord(word string) bool {
	return t.kind == tokWord && strings.EqualFold(t.text, word)
}

// lex splits a query into tokens. A '<' opens an IRI only when a '>'
// follows with no whitespace in between; otherwise it is an operator.
func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
			continue
		case c == '#':
			for i < len(src) && src[i] != '\n' {
				i++
			}
			continue
		}

		start := i
		switch {
		case c == '?' || c == '$':
			j := i + 1
			for j < len(src) && isNameByte(src[j]) {
				j++
			}
			if j == i+1 {
				return nil, errors.Newf("empty variable name at offset %d", i)
			}
			toks = append(toks, token{kind: tokVar, text: src[i+1 : j], pos: start, end: j})
			i = j

		case c == '<':
			if end, ok := iriEnd(src, i); ok {
				toks = append(toks, token{kind: tokIRI, text: src[i+1 : end-1], pos: start, end: end})
				i = end
				continue
			}
			if strings.HasPrefix(src[i:], "<=") {
				toks = append(toks, token{kind: tokOp, text: "<=", pos: start, end: i + 2})
				i += 2
			} else {
				toks = append(toks, token{kind: tokOp, text: "<", pos: start, end: i + 1})
				i++
			}

		case c == '"' || c == '\'':
			tok, end, err := lexString(src, i)
			if err != nil {
				return nil, err
			}
			tok.pos, tok.end = start, end
			toks = append(toks, tok)
			i = end

		case c >= '0' && c <= '9':
			j := i
			for j < len(src) && (src[j] >= '0' && src[j] <= '9') {
				j++
			}
			if j+1 < len(src) && src[j] == '.' && src[j+1] >= '0' && src[j+1] <= '9' {
				j++
				for j < len(src) && src[j] >= '0' && src[j] <= '9' {
					j++
				}
			}
			if j < len(src) && (src[j] == 'e' || src[j] == 'E') {
				k := j + 1
				if k < len(src) && (src[k] == '+' || src[k] == '-') {
					k++
				}
				if k < len(src) && src[k] >= '0' && src[k] <= '9' {
					for k < len(src) && src[k] >= '0' && src[k] <= '9' {
						k++
					}
					j = k
				}
			}
			toks = append(toks, token{kind: tokNumber, text: src[i:j], pos: start, end: j})
			i = j

		case strings.HasPrefix(src[i:], "_:"):
			j := i + 2
			for j < len(src) && isNameByte(src[j]) {
				j++
			}
			toks = append(toks, token{kind: tokBlank, text: src[i+2 : j], pos: start, end: j})
			i = j

		case c == ':' || isNameStart(src, i):
			j := i
			for j < len(src) && (isNameByte(src[j]) || src[j] == ':' || src[j] == '.' || src[j] == '-' || src[j] == '%' || src[j] >= utf8.RuneSelf) {
				j++
			}
			// A local name never ends with a dot.
			for j > i+1 && src[j-1] == '.' {
				j--
			}
			text := src[i:j]
			kind := tokWord
			if strings.Contains(text, ":") {
				kind = tokPName
			}
			toks = append(toks, token{kind: kind, text: text, pos: start, end: j})
			i = j

		default:
			if op := matchOperator(src[i:]); op != "" {
				toks = append(toks, token{kind: tokOp, text: op, pos: start, end: i + len(op)})
				i += len(op)
				continue
			}
			if strings.ContainsRune("{}().;,[]", rune(c)) {
				toks = append(toks, token{kind: tokPunct, text: string(c), pos: start, end: i + 1})
				i++
				continue
			}
			return nil, errors.Newf("unexpected character %q at offset %d", c, i)
		}
	}
	toks = append(toks, token{kind: tokEOF, pos: len(src), end: len(src)})
	return toks, nil
}

func matchOperator(s string) string {
	for _, op := range []string{"&&", "||", "!=", ">=", "=", "!", ">", "+", "-", "*", "/"} {
		if strings.HasPrefix(s, op) {
			return op
		}
	}
	return ""
}

func iriEnd(src string, start int) (int, bool) {
	for j := start + 1; j < len(src); j++ {
		switch src[j] {
		case '>':
			return j + 1, true
		case ' ', '\t', '\n', '\r', '<', '"', '{', '}', '|', '^', '`', '\\':
			return 0, false
		}
	}
	return 0, false
}

func lexString(src string, start int) (token, int, error) {
	quote := src[start]
	delim := string(quote)
	if strings.HasPrefix(src[start:], strings.Repeat(delim, 3)) {
		delim = strings.Repeat(delim, 3)
	}
	i := start + len(delim)
	bodyStart := i
	for {
		if i >= len(src) {
			return token{}, 0, errors.Newf("unterminated string starting at offset %d", start)
		}
		if src[i] == '\\' {
			i += 2
			continue
		}
		if strings.HasPrefix(src[i:], delim) {
			break
		}
		i++
	}
	tok := token{kind: tokString, text: rdf.UnescapeN3(src[bodyStart:i])}
	i += len(delim)

	switch {
	case i < len(src) && src[i] == '@':
		j := i + 1
		for j < len(src) && (isNameByte(src[j]) || src[j] == '-') {
			j++
		}
		tok.lang = src[i+1 : j]
		i = j
	case strings.HasPrefix(src[i:], "^^"):
		j := i + 2
		if end, ok := iriEnd(src, j); ok && j < len(src) && src[j] == '<' {
			tok.datatype = src[j+1 : end-1]
			i = end
			break
		}
		k := j
		for k < len(src) && (isNameByte(src[k]) || src[k] == ':' || src[k] == '-') {
			k++
		}
		if k == j {
			return token{}, 0, errors.Newf("missing datatype at offset %d", j)
		}
		tok.datatype = src[j:k]
		tok.dtPName = true
		i = k
	}
	return tok, i, nil
}

func isNameByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c >= utf8.RuneSelf
}

func isNameStart(src string, i int) bool {
	r, _ := utf8.DecodeRuneInString(src[i:])
	return unicode.IsLetter(r) || r == '_'
}
