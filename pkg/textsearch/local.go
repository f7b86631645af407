package textsearch

import (
	"context"

	"github.com/coregx/ahocorasick"

	"github.com/coolbeans/timeagnostic/pkg/errors"
	"github.com/coolbeans/timeagnostic/pkg/rdf"
	"github.com/coolbeans/timeagnostic/pkg/sparql"
)

const allUpdatesQuery = "SELECT DISTINCT ?updateQuery WHERE { ?snapshot <" + rdf.OCOHasUpdateQuery + "> ?updateQuery . }"

// Local fetches every update text once per search and scans them with an
// Aho-Corasick automaton built from the requested URIs. It suits
// file-backed provenance where no index exists.
type Local struct {
	client sparql.Client
}

// NewLocal returns a client-side scanner over client.
func NewLocal(client sparql.Client) *Local {
	return &Local{client: client}
}

// Engine implements Searcher.
func (l *Local) Engine() Engine { return EngineLocal }

// Search implements Searcher.
func (l *Local) Search(ctx context.Context, uris []string) ([]string, error) {
	uris = unique(uris)
	if len(uris) == 0 {
		return nil, nil
	}
	matcher, err := newURIMatcher(uris)
	if err != nil {
		return nil, err
	}
	res, err := l.client.Select(ctx, allUpdatesQuery)
	if err != nil {
		return nil, errors.Wrap(err, "local text search")
	}
	return keepMatching(res.Column("updateQuery"), matcher), nil
}

// uriMatcher reports whether a text mentions every URI of a set, each in
// angle brackets. One pass over the text finds all of them.
type uriMatcher struct {
	automaton *ahocorasick.Automaton
	want      int
}

func newURIMatcher(uris []string) (*uriMatcher, error) {
	patterns := make([]string, len(uris))
	for i, u := range uris {
		patterns[i] = "<" + u + ">"
	}
	automaton, err := ahocorasick.NewBuilder().
		AddStrings(patterns).
		SetMatchKind(ahocorasick.LeftmostLongest).
		SetPrefilter(true).
		Build()
	if err != nil {
		return nil, errors.Wrap(err, "build uri automaton")
	}
	return &uriMatcher{automaton: automaton, want: len(patterns)}, nil
}

func (m *uriMatcher) mentionsAll(text string) bool {
	found := make(map[int]struct{}, m.want)
	for _, match := range m.automaton.FindAllOverlapping([]byte(text)) {
		found[match.PatternID] = struct{}{}
		if len(found) == m.want {
			return true
		}
	}
	return false
}
