package query

import (
	"encoding/json"
	"io"

	"github.com/coolbeans/timeagnostic/pkg/errors"
	"github.com/coolbeans/timeagnostic/pkg/rdf"
)

// JSONResults is the SPARQL 1.1 Query Results JSON document.
type JSONResults struct {
	Head    JSONHead     `json:"head"`
	Results JSONBindings `json:"results"`
}

// JSONHead lists the result variables.
type JSONHead struct {
	Vars []string `json:"vars"`
}

// JSONBindings holds the result rows.
type JSONBindings struct {
	Bindings []map[string]JSONTerm `json:"bindings"`
}

// JSONTerm is one RDF term in SPARQL JSON form.
type JSONTerm struct {
	Type     string `json:"type"`
	Value    string `json:"value"`
	Datatype string `json:"datatype,omitempty"`
	Lang     string `json:"xml:lang,omitempty"`
}

// NewJSONResults builds the JSON document for a result table.
func NewJSONResults(variables []string, bindings []Binding) *JSONResults {
	doc := &JSONResults{
		Head:    JSONHead{Vars: append([]string{}, variables...)},
		Results: JSONBindings{Bindings: make([]map[string]JSONTerm, 0, len(bindings))},
	}
	for _, b := range bindings {
		row := make(map[string]JSONTerm, len(b))
		for v, t := range b {
			if t.IsZero() {
				continue
			}
			row[v] = TermToJSON(t)
		}
		doc.Results.Bindings = append(doc.Results.Bindings, row)
	}
	return doc
}

// DecodeJSONResults reads a SPARQL JSON results document.
func DecodeJSONResults(r io.Reader) (*JSONResults, error) {
	var doc JSONResults
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "decode sparql json results")
	}
	return &doc, nil
}

// Marshal encodes the document with indentation.
func (doc *JSONResults) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "encode sparql json results")
	}
	return data, nil
}

// Rows converts the document rows to bindings. A term of an unknown type
// is kept as an opaque value and reported in the returned warnings.
func (doc *JSONResults) Rows() ([]Binding, []error) {
	rows := make([]Binding, 0, len(doc.Results.Bindings))
	var warnings []error
	for i, raw := range doc.Results.Bindings {
		row := make(Binding, len(raw))
		for v, jt := range raw {
			t, known := jt.Term()
			if !known {
				warnings = append(warnings, errors.Newf("row %d variable %s: unknown term type %q kept as %s", i, v, jt.Type, t))
			}
			row[v] = t
		}
		rows = append(rows, row)
	}
	return rows, warnings
}

// TermToJSON converts a term to its SPARQL JSON form.
func TermToJSON(t rdf.Term) JSONTerm {
	switch t.Kind {
	case rdf.KindURI:
		return JSONTerm{Type: "uri", Value: t.Value}
	case rdf.KindBlankNode:
		return JSONTerm{Type: "bnode", Value: t.Value}
	case rdf.KindTypedLiteral:
		return JSONTerm{Type: "literal", Value: t.Value, Datatype: t.Datatype}
	case rdf.KindLangLiteral:
		return JSONTerm{Type: "literal", Value: t.Value, Lang: t.Lang}
	default:
		return JSONTerm{Type: "literal", Value: t.Value}
	}
}

// Term converts a SPARQL JSON term back to an rdf.Term. The legacy
// "typed-literal" type is accepted. For any other type the value is parsed
// leniently, falling back to a plain literal, and known is false.
func (jt JSONTerm) Term() (t rdf.Term, known bool) {
	switch jt.Type {
	case "uri":
		return rdf.NewURI(jt.Value), true
	case "bnode":
		return rdf.NewBlankNode(jt.Value), true
	case "literal", "typed-literal":
		switch {
		case jt.Lang != "":
			return rdf.NewLangLiteral(jt.Value, jt.Lang), true
		case jt.Datatype != "":
			return rdf.NewTypedLiteral(jt.Value, jt.Datatype), true
		default:
			return rdf.NewLiteral(jt.Value), true
		}
	default:
		return rdf.ParseTermLenient(jt.Value), false
	}
}
