package rdf

import "strings"

var lexicalEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

func escapeLexical(raw string) string {
	return lexicalEscaper.Replace(raw)
}

// EscapeN3 escapes raw for use inside a double-quoted N3 literal. Text that
// is already escaped is unescaped first, so EscapeN3(EscapeN3(s)) equals
// EscapeN3(s).
func EscapeN3(raw string) string {
	return escapeLexical(UnescapeN3(raw))
}

// UnescapeN3 resolves the N3 string escapes \n \r \t \b \f \" \' \\ and
// \uXXXX / \UXXXXXXXX. Unknown escapes are kept verbatim.
func UnescapeN3(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		next := s[i+1]
		switch next {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case '"', '\'', '\\':
			b.WriteByte(next)
		case 'u', 'U':
			width := 4
			if next == 'U' {
				width = 8
			}
			if r, ok := parseHexRune(s, i+2, width); ok {
				b.WriteRune(r)
				i += 1 + width
				continue
			}
			b.WriteByte(c)
			b.WriteByte(next)
		default:
			b.WriteByte(c)
			b.WriteByte(next)
		}
		i++
	}
	return b.String()
}

func parseHexRune(s string, start, width int) (rune, bool) {
	if start+width > len(s) {
		return 0, false
	}
	var r rune
	for _, c := range s[start : start+width] {
		switch {
		case c >= '0' && c <= '9':
			r = r<<4 | (c - '0')
		case c >= 'a' && c <= 'f':
			r = r<<4 | (c - 'a' + 10)
		case c >= 'A' && c <= 'F':
			r = r<<4 | (c - 'A' + 10)
		default:
			return 0, false
		}
	}
	return r, true
}
