package agnostic

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/coolbeans/timeagnostic/pkg/errors"
	"github.com/coolbeans/timeagnostic/pkg/logger"
	"github.com/coolbeans/timeagnostic/pkg/textsearch"
	"github.com/coolbeans/timeagnostic/pkg/timeline"
)

// Engine builds version and delta queries on top of a timeline engine.
// It is safe for concurrent use.
type Engine struct {
	timeline *timeline.Engine
	search   textsearch.Searcher
	logger   *zap.SugaredLogger
}

// NewEngine returns a query engine. A nil searcher selects the portable
// CONTAINS search over the provenance store.
func NewEngine(tl *timeline.Engine, search textsearch.Searcher) (*Engine, error) {
	if tl == nil {
		return nil, errors.Wrap(errors.ErrInvalidConfig, "query engine needs a timeline engine")
	}
	if search == nil {
		var err error
		if search, err = textsearch.New(tl.Provenance(), textsearch.Selection{}); err != nil {
			return nil, err
		}
	}
	return &Engine{
		timeline: tl,
		search:   search,
		logger:   logger.ComponentLogger("agnostic"),
	}, nil
}

// Timeline returns the underlying reconstruction engine.
func (e *Engine) Timeline() *timeline.Engine { return e.timeline }

// Option configures a version or delta query.
type Option func(*settings)

type settings struct {
	interval   timeline.Interval
	fillGaps   bool
	properties []string
}

// WithInterval restricts a query to an interval. timeline.At selects a
// single instant.
func WithInterval(iv timeline.Interval) Option {
	return func(s *settings) { s.interval = iv }
}

// WithGapFilling makes a version query carry results forward across
// every instant the provenance store knows of.
func WithGapFilling() Option {
	return func(s *settings) { s.fillGaps = true }
}

// WithChangedProperties restricts the modifications a delta query
// reports to updates that mention one of the given predicates.
func WithChangedProperties(properties ...string) Option {
	return func(s *settings) { s.properties = append(s.properties, properties...) }
}

func newSettings(opts []Option) settings {
	var s settings
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

func sortTimes(ts []time.Time) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].Before(ts[j]) })
}
