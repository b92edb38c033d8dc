package placement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geogrid/routingtier/pkg/routeerr"
)

func TestTierForColdBands(t *testing.T) {
	for _, b := range []string{"B01", "B05", "B06", "B07", "B8A", "B09", "B10", "B12"} {
		assert.Equal(t, Cold, TierFor(b), b)
	}
}

func TestTierForHotBandsAndUnknown(t *testing.T) {
	for _, b := range []string{"B02", "B03", "B04", "B08", "B11", "unknown-band", ""} {
		assert.Equal(t, Hot, TierFor(b), b)
	}
}

// TestSelectTieBreak encodes spec §8 scenario 2: two servers tie on free
// capacity (100 each); the smaller server_id wins.
func TestSelectTieBreak(t *testing.T) {
	a := Candidate{ServerID: 1, SSDVolume: 100, SSDFull: 50, HDDVolume: 200, HDDFull: 75} // free=50+50=100
	b := Candidate{ServerID: 2, SSDVolume: 50, SSDFull: 0, HDDVolume: 50, HDDFull: 0}      // free=50+50=100

	require.Equal(t, int64(100), a.FreeBytes())
	require.Equal(t, int64(100), b.FreeBytes())

	picked, err := Select([]Candidate{b, a}, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), picked.ServerID)
}

func TestSelectPicksMaxFree(t *testing.T) {
	low := Candidate{ServerID: 1, SSDVolume: 10, SSDFull: 90, HDDVolume: 10, HDDFull: 90}
	high := Candidate{ServerID: 2, SSDVolume: 1000, SSDFull: 10, HDDVolume: 1000, HDDFull: 10}

	picked, err := Select([]Candidate{low, high}, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(2), picked.ServerID)
}

func TestSelectNoCapacityEmptySet(t *testing.T) {
	_, err := Select(nil, 1)
	assert.Equal(t, routeerr.NoCapacity, routeerr.KindOf(err))
}

func TestSelectNoCapacityPayloadTooLarge(t *testing.T) {
	small := Candidate{ServerID: 1, SSDVolume: 10, SSDFull: 0, HDDVolume: 0, HDDFull: 0}
	_, err := Select([]Candidate{small}, 1000)
	assert.Equal(t, routeerr.NoCapacity, routeerr.KindOf(err))
}
