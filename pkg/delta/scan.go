package delta

import "strings"

// skipSpan returns the index just past the quoted literal or bracketed IRI
// starting at i. It returns i when no such span starts there, and -1 when a
// quote is opened but never closed.
func skipSpan(text string, i int) int {
	switch text[i] {
	case '"', '\'':
		q := text[i]
		if strings.HasPrefix(text[i:], strings.Repeat(string(q), 3)) {
			return closeQuote(text, i+3, strings.Repeat(string(q), 3))
		}
		return closeQuote(text, i+1, string(q))
	case '<':
		end := strings.IndexAny(text[i+1:], "<>\n")
		if end < 0 || text[i+1+end] != '>' {
			return i
		}
		return i + 1 + end + 1
	}
	return i
}

// closeQuote finds the first unescaped occurrence of delim at or after
// start. A quote preceded by an odd run of backslashes is escaped.
func closeQuote(text string, start int, delim string) int {
	for j := start; j < len(text); {
		k := strings.Index(text[j:], delim)
		if k < 0 {
			return -1
		}
		pos := j + k
		backslashes := 0
		for b := pos - 1; b >= start && text[b] == '\\'; b-- {
			backslashes++
		}
		if backslashes%2 == 0 {
			return pos + len(delim)
		}
		j = pos + 1
	}
	return -1
}

// matchBrace returns the index of the brace closing the one at open,
// ignoring braces inside quoted literals and IRIs.
func matchBrace(text string, open int) (int, bool) {
	depth := 0
	for i := open; i < len(text); {
		switch text[i] {
		case '"', '\'', '<':
			next := skipSpan(text, i)
			if next < 0 {
				return -1, false
			}
			if next > i {
				i = next
				continue
			}
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
		i++
	}
	return -1, false
}

// literalSpans returns the [start, end) ranges of the quoted literals in
// text, so keyword matches inside literal values can be ignored.
func literalSpans(text string) [][2]int {
	var spans [][2]int
	for i := 0; i < len(text); {
		if text[i] == '"' || text[i] == '\'' {
			next := skipSpan(text, i)
			if next < 0 {
				spans = append(spans, [2]int{i, len(text)})
				break
			}
			spans = append(spans, [2]int{i, next})
			i = next
			continue
		}
		if text[i] == '<' {
			if next := skipSpan(text, i); next > i {
				i = next
				continue
			}
		}
		i++
	}
	return spans
}

func insideSpan(spans [][2]int, pos int) bool {
	for _, s := range spans {
		if pos >= s[0] && pos < s[1] {
			return true
		}
		if s[0] > pos {
			break
		}
	}
	return false
}
