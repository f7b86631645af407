package timeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coolbeans/timeagnostic/pkg/errors"
)

func TestParseInterval(t *testing.T) {
	iv, err := ParseInterval("", "")
	require.NoError(t, err)
	assert.True(t, iv.IsZero())

	iv, err = ParseInterval("2021-05-07T09:59:15Z", "2021-06-30")
	require.NoError(t, err)
	assert.Equal(t, t1, *iv.After)
	assert.Equal(t, mustTime("2021-06-30T00:00:00Z"), *iv.Before)

	iv, err = ParseInterval("", "2021-05-31T18:19:47+00:00")
	require.NoError(t, err)
	assert.Nil(t, iv.After)
	assert.Equal(t, t2, *iv.Before)

	_, err = ParseInterval("yesterday", "")
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
	_, err = ParseInterval("2021-06-30", "2021-05-01")
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestParseDiscovery(t *testing.T) {
	opts, err := ParseDiscovery([]string{"objects", " Merged", "reverse"})
	require.NoError(t, err)
	assert.Equal(t, DiscoveryOptions{Related: true, Merged: true, Reverse: true, Depth: UnlimitedDepth}, opts)

	opts, err = ParseDiscovery(nil)
	require.NoError(t, err)
	assert.False(t, opts.Any())

	_, err = ParseDiscovery([]string{"siblings"})
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}
