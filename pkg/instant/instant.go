// Package instant parses provenance timestamps into normalized UTC times.
//
// Snapshot times arrive as xsd:dateTime literals in whatever form the store
// produced them, with or without zone and fractional seconds. Parsing is
// memoized in a bounded Cache that callers share by pointer.
package instant

import (
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/coolbeans/timeagnostic/pkg/errors"
)

// DefaultCacheSize bounds the memo when no size is configured.
const DefaultCacheSize = 4096

// KeyLayout renders timestamps used as result keys.
const KeyLayout = "2006-01-02T15:04:05Z07:00"

var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006-01",
	"2006",
}

// Parse converts text to a UTC time. Values without a zone are read as UTC.
func Parse(text string) (time.Time, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.Newf("unrecognised timestamp %q", text)
}

// Format renders t in UTC with second precision, or with its fractional
// part when present.
func Format(t time.Time) string {
	t = t.UTC()
	if t.Nanosecond() != 0 {
		return t.Format(time.RFC3339Nano)
	}
	return t.Format(KeyLayout)
}

// Cache memoizes Parse. It is safe for concurrent use.
type Cache struct {
	entries *lru.Cache
}

type cached struct {
	t   time.Time
	err error
}

// NewCache returns a memo holding at most size parsed instants.
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	entries, err := lru.New(size)
	if err != nil {
		return nil, errors.Wrap(err, "create instant cache")
	}
	return &Cache{entries: entries}, nil
}

// Parse returns the memoized result of Parse(text). A nil Cache parses
// without memoization.
func (c *Cache) Parse(text string) (time.Time, error) {
	if c == nil {
		return Parse(text)
	}
	if v, ok := c.entries.Get(text); ok {
		e := v.(cached)
		return e.t, e.err
	}
	t, err := Parse(text)
	c.entries.Add(text, cached{t: t, err: err})
	return t, err
}

// Len returns the number of memoized entries.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.entries.Len()
}
