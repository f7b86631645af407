package store

import (
	"bufio"
	"io"
	"strings"

	"github.com/coolbeans/timeagnostic/pkg/errors"
	"github.com/coolbeans/timeagnostic/pkg/rdf"
)

// ParseNQuads reads N-Quads (or N-Triples) statements from r. Blank and
// comment lines are skipped; a malformed line aborts with its line number.
func ParseNQuads(r io.Reader) ([]rdf.Quad, error) {
	var quads []rdf.Quad
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		q, err := parseStatement(line)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", lineNumber)
		}
		quads = append(quads, q)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read n-quads")
	}
	return quads, nil
}

func parseStatement(line string) (rdf.Quad, error) {
	line = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(line), "."))
	var terms []rdf.Term
	for rest := line; strings.TrimSpace(rest) != ""; {
		rest = strings.TrimLeft(rest, " \t")
		end := termEnd(rest)
		term, err := rdf.ParseTerm(rest[:end])
		if err != nil {
			return rdf.Quad{}, err
		}
		terms = append(terms, term)
		rest = rest[end:]
	}
	switch len(terms) {
	case 3:
		return rdf.NewTriple(terms[0], terms[1], terms[2]), nil
	case 4:
		return rdf.NewQuad(terms[0], terms[1], terms[2], terms[3]), nil
	default:
		return rdf.Quad{}, errors.Newf("expected 3 or 4 terms, found %d", len(terms))
	}
}

// termEnd returns the length of the term at the start of s.
func termEnd(s string) int {
	switch s[0] {
	case '<':
		if i := strings.IndexByte(s, '>'); i >= 0 {
			return i + 1
		}
		return len(s)
	case '"':
		i := 1
		for i < len(s) {
			if s[i] == '\\' {
				i += 2
				continue
			}
			if s[i] == '"' {
				break
			}
			i++
		}
		i++
		// Datatype or language suffix.
		if strings.HasPrefix(s[min(i, len(s)):], "^^<") {
			if j := strings.IndexByte(s[i:], '>'); j >= 0 {
				return i + j + 1
			}
		}
		if i < len(s) && s[i] == '@' {
			j := i + 1
			for j < len(s) && s[j] != ' ' && s[j] != '\t' {
				j++
			}
			return j
		}
		return min(i, len(s))
	default:
		if i := strings.IndexAny(s, " \t"); i >= 0 {
			return i
		}
		return len(s)
	}
}

// WriteNQuads writes set to w as sorted N-Quads.
func WriteNQuads(w io.Writer, set *rdf.QuadSet) error {
	_, err := io.WriteString(w, set.NQuads())
	return errors.Wrap(err, "write n-quads")
}
