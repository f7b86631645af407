// Package delta parses the ground update statements recorded on provenance
// snapshots and applies them to quad sets, forward or in reverse.
//
// The accepted grammar is one or more DELETE DATA / INSERT DATA operations,
// separated by ';', each holding GRAPH blocks or bare triples made of ground
// terms. Operations outside that grammar contribute no quads.
package delta

import (
	"regexp"
	"strings"

	"github.com/coolbeans/timeagnostic/pkg/errors"
	"github.com/coolbeans/timeagnostic/pkg/rdf"
)

// OpKind is the kind of a data operation.
type OpKind uint8

const (
	Insert OpKind = iota + 1
	Delete
)

// String implements fmt.Stringer.
func (k OpKind) String() string {
	switch k {
	case Insert:
		return "INSERT DATA"
	case Delete:
		return "DELETE DATA"
	default:
		return "UNKNOWN"
	}
}

// Operation is one INSERT DATA or DELETE DATA block.
type Operation struct {
	Kind  OpKind
	Quads []rdf.Quad
}

// Delta is an ordered list of operations parsed from one update statement.
type Delta struct {
	Operations []Operation
}

var (
	prefixRegex    = regexp.MustCompile(`(?i)\bPREFIX\s+([A-Za-z][\w\-.]*)?:\s*<([^>]*)>`)
	operationRegex = regexp.MustCompile(`(?i)\b(INSERT|DELETE)\s+DATA\s*\{`)
	graphRegex     = regexp.MustCompile(`(?i)\bGRAPH\s+(<[^<>\s]*>|[A-Za-z][\w\-.]*:[\w\-]*)\s*\{`)
)

// Parse extracts the operations of an update statement. It returns
// errors.ErrMalformedDelta when a DATA or GRAPH block is not closed, or
// when non-blank text contains no data operation at all.
func Parse(text string) (*Delta, error) {
	d := &Delta{}
	if strings.TrimSpace(text) == "" {
		return d, nil
	}

	spans := literalSpans(text)
	prefixes := map[string]string{}
	for _, m := range prefixRegex.FindAllStringSubmatchIndex(text, -1) {
		if insideSpan(spans, m[0]) {
			continue
		}
		name := ""
		if m[2] >= 0 {
			name = text[m[2]:m[3]]
		}
		prefixes[name] = text[m[4]:m[5]]
	}

	cursor := 0
	for _, m := range operationRegex.FindAllStringSubmatchIndex(text, -1) {
		if m[0] < cursor || insideSpan(spans, m[0]) {
			continue
		}
		open := m[1] - 1
		end, ok := matchBrace(text, open)
		if !ok {
			return nil, errors.Wrapf(errors.ErrMalformedDelta, "unterminated %s block at offset %d", strings.ToUpper(text[m[2]:m[3]]), m[0])
		}
		kind := Insert
		if strings.EqualFold(text[m[2]:m[3]], "DELETE") {
			kind = Delete
		}
		quads, err := parseBody(text[open+1:end], prefixes)
		if err != nil {
			return nil, err
		}
		d.Operations = append(d.Operations, Operation{Kind: kind, Quads: quads})
		cursor = end + 1
	}

	if len(d.Operations) == 0 && hasStatementText(text) {
		return nil, errors.Wrap(errors.ErrMalformedDelta, "no INSERT DATA or DELETE DATA operation")
	}
	return d, nil
}

// hasStatementText reports whether text holds anything besides prefix
// declarations, separators and comments.
func hasStatementText(text string) bool {
	stripped := prefixRegex.ReplaceAllString(text, "")
	for _, line := range strings.Split(stripped, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.Trim(line, "; ") != "" {
			return true
		}
	}
	return false
}

func parseBody(body string, prefixes map[string]string) ([]rdf.Quad, error) {
	var quads []rdf.Quad
	spans := literalSpans(body)
	cursor := 0
	var outside strings.Builder

	for _, m := range graphRegex.FindAllStringSubmatchIndex(body, -1) {
		if m[0] < cursor || insideSpan(spans, m[0]) {
			continue
		}
		open := m[1] - 1
		end, ok := matchBrace(body, open)
		if !ok {
			return nil, errors.Wrapf(errors.ErrMalformedDelta, "unterminated GRAPH block %s", body[m[2]:m[3]])
		}
		outside.WriteString(body[cursor:m[0]])
		outside.WriteByte(' ')

		graph := resolveName(body[m[2]:m[3]], prefixes)
		for _, q := range parseTriples(body[open+1:end], prefixes) {
			q.Graph = graph
			quads = append(quads, q)
		}
		cursor = end + 1
	}
	outside.WriteString(body[cursor:])

	// Triples outside any GRAPH block belong to the default graph.
	quads = append(quads, parseTriples(outside.String(), prefixes)...)
	return quads, nil
}

func resolveName(name string, prefixes map[string]string) rdf.Term {
	if strings.HasPrefix(name, "<") {
		return rdf.NewURI(strings.TrimSuffix(strings.TrimPrefix(name, "<"), ">"))
	}
	return expandPrefixed(name, prefixes)
}

func expandPrefixed(name string, prefixes map[string]string) rdf.Term {
	idx := strings.Index(name, ":")
	if idx < 0 {
		return rdf.NewURI(name)
	}
	if ns, ok := prefixes[name[:idx]]; ok {
		return rdf.NewURI(ns + name[idx+1:])
	}
	if name[:idx] == "xsd" {
		return rdf.NewURI(rdf.NamespaceXSD + name[idx+1:])
	}
	return rdf.NewURI(name)
}

// Quads returns every quad of every operation, in order.
func (d *Delta) Quads() []rdf.Quad {
	var out []rdf.Quad
	for _, op := range d.Operations {
		out = append(out, op.Quads...)
	}
	return out
}

// WithoutGraphs returns a copy whose quads carry no graph, for stores that
// are not graph-partitioned.
func (d *Delta) WithoutGraphs() *Delta {
	out := &Delta{Operations: make([]Operation, len(d.Operations))}
	for i, op := range d.Operations {
		quads := make([]rdf.Quad, len(op.Quads))
		for j, q := range op.Quads {
			quads[j] = q.Triple()
		}
		out.Operations[i] = Operation{Kind: op.Kind, Quads: quads}
	}
	return out
}

// ApplyForward replays the statement: delete quads are removed, then
// insert quads added, one operation at a time.
func (d *Delta) ApplyForward(set *rdf.QuadSet) {
	for _, op := range d.Operations {
		switch op.Kind {
		case Delete:
			for _, q := range op.Quads {
				removeLoose(set, q)
			}
		case Insert:
			for _, q := range op.Quads {
				set.Add(q)
			}
		}
	}
}

// ApplyInverse undoes the statement: delete quads are added back and insert
// quads removed. Operations are visited left to right, each inverted in
// place.
func (d *Delta) ApplyInverse(set *rdf.QuadSet) {
	for _, op := range d.Operations {
		switch op.Kind {
		case Delete:
			for _, q := range op.Quads {
				set.Add(q)
			}
		case Insert:
			for _, q := range op.Quads {
				removeLoose(set, q)
			}
		}
	}
}

// removeLoose removes q, letting a plain literal object also match the
// same lexical form stored with a datatype.
func removeLoose(set *rdf.QuadSet, q rdf.Quad) {
	if set.Remove(q) || q.Object.Kind != rdf.KindPlainLiteral {
		return
	}
	set.RemoveMatching(func(stored rdf.Quad) bool {
		return stored.Subject == q.Subject &&
			stored.Predicate == q.Predicate &&
			stored.Graph == q.Graph &&
			q.Object.LooseEqual(stored.Object)
	})
}

// Revert parses text and applies its inverse to set. On a malformed
// statement set is left unchanged and the ErrMalformedDelta error is
// returned for the caller to report.
func Revert(set *rdf.QuadSet, text string, graphs bool) error {
	d, err := Parse(text)
	if err != nil {
		return err
	}
	if !graphs {
		d = d.WithoutGraphs()
	}
	d.ApplyInverse(set)
	return nil
}
