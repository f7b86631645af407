package instant

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNormalizesToUTC(t *testing.T) {
	want := time.Date(2021, 5, 7, 9, 59, 15, 0, time.UTC)
	for _, in := range []string{
		"2021-05-07T09:59:15Z",
		"2021-05-07T09:59:15",
		"2021-05-07T11:59:15+02:00",
		"2021-05-07 09:59:15",
	} {
		got, err := Parse(in)
		require.NoError(t, err, in)
		assert.True(t, want.Equal(got), in)
		assert.Equal(t, time.UTC, got.Location(), in)
	}
}

func TestParseDateOnly(t *testing.T) {
	got, err := Parse("2021-05-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2021, 5, 1, 0, 0, 0, 0, time.UTC), got)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse("yesterday")
	assert.Error(t, err)
	_, err = Parse("  ")
	assert.Error(t, err)
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "2021-05-31T18:19:47Z", Format(time.Date(2021, 5, 31, 18, 19, 47, 0, time.UTC)))
	assert.Equal(t, "2021-05-31T18:19:47.5Z", Format(time.Date(2021, 5, 31, 18, 19, 47, 500000000, time.UTC)))
}

func TestCacheIsBoundedAndConcurrent(t *testing.T) {
	c, err := NewCache(2)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Parse("2021-05-07T09:59:15Z")
			_, _ = c.Parse("2021-05-31T18:19:47Z")
			_, _ = c.Parse("2022-01-01")
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 2)

	_, err = c.Parse("not a time")
	assert.Error(t, err)
}

func TestNilCacheParses(t *testing.T) {
	var c *Cache
	got, err := c.Parse("2021-05-07T09:59:15Z")
	require.NoError(t, err)
	assert.Equal(t, 2021, got.Year())
}
