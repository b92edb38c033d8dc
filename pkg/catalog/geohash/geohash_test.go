package geohash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeKnownPoint(t *testing.T) {
	// Moscow, approximately.
	hash := Encode(55.7558, 37.6173, 6)
	assert.Len(t, hash, 6)
	assert.Equal(t, hash[:3], Encode(55.7558, 37.6173, 3))
}

func TestEncodeDefaultsPrecision(t *testing.T) {
	assert.Len(t, Encode(0, 0, 0), MaxPrecision)
}

func TestEncodeDeterministic(t *testing.T) {
	a := Encode(51.5074, -0.1278, 7)
	b := Encode(51.5074, -0.1278, 7)
	assert.Equal(t, a, b)
}

func TestCoverNonEmpty(t *testing.T) {
	prefixes := Cover(55.9, 55.7, 37.8, 37.5)
	require.NotEmpty(t, prefixes)
	for _, p := range prefixes {
		assert.NotEmpty(t, p)
	}
}

func TestCoverContainsCenter(t *testing.T) {
	north, south, east, west := 10.0, 0.0, 10.0, 0.0
	prefixes := Cover(north, south, east, west)
	centerPrefix := Encode(5, 5, precisionFor(north, south, east, west))

	found := false
	for _, p := range prefixes {
		if p == centerPrefix {
			found = true
			break
		}
	}
	assert.True(t, found, "expected %v to contain center prefix %q", prefixes, centerPrefix)
}

func TestCoverDegenerateBoxReturnsSingleCell(t *testing.T) {
	prefixes := Cover(1, 1, 1, 1)
	require.Len(t, prefixes, 1)
}

func TestPrecisionForShrinksWithSpan(t *testing.T) {
	assert.Equal(t, 1, precisionFor(80, -80, 170, -170))
	assert.Equal(t, 6, precisionFor(0.01, 0, 0.01, 0))
}
