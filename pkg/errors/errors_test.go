package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelsSurviveWrapping(t *testing.T) {
	err := Wrapf(ErrMalformedDelta, "entity %s", "https://example.org/br/1")
	assert.True(t, Is(err, ErrMalformedDelta))
	assert.False(t, Is(err, ErrUnsupportedQuery))
	assert.Contains(t, err.Error(), "https://example.org/br/1")
}

func TestHintsAreCollected(t *testing.T) {
	err := WithHint(Wrap(ErrInvalidConfig, "dataset"), "set triplestore_urls or file_paths")
	assert.True(t, Is(err, ErrInvalidConfig))
	assert.Contains(t, FlattenHints(err), "triplestore_urls")
}

func TestInvalidInputIsDistinctFromConfig(t *testing.T) {
	err := Wrapf(ErrInvalidInput, "invalid depth %q", "-1")
	assert.True(t, Is(err, ErrInvalidInput))
	assert.False(t, Is(err, ErrInvalidConfig))
}

func TestMarkKeepsCause(t *testing.T) {
	cause := New("connection refused")
	err := Mark(Wrap(cause, "POST http://localhost:9999/sparql"), ErrStoreAccess)
	assert.True(t, Is(err, ErrStoreAccess))
	assert.True(t, Is(err, cause))
	assert.Contains(t, err.Error(), "connection refused")
}
