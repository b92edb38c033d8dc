// Package placement implements the hot/cold tier classification and
// optimal-server selection of spec §4.3, grounded on
// determine_storage_type/select_optimal_server in the original
// routing_server.cpp.
package placement

import (
	"sort"

	"github.com/geogrid/routingtier/pkg/catalog"
	"github.com/geogrid/routingtier/pkg/routeerr"
)

// Tier is the storage class a spectral band is placed into.
type Tier string

const (
	Hot  Tier = "hot"
	Cold Tier = "cold"
)

// coldBands is the fixed compile-time enumeration of spec §4.3: every band
// not listed here is hot, including unknown bands.
var coldBands = map[string]struct{}{
	"B01": {}, "B05": {}, "B06": {}, "B07": {},
	"B8A": {}, "B09": {}, "B10": {}, "B12": {},
}

// TierFor classifies a spectral band. Unknown bands fall back to Hot, per
// spec §4.3.
func TierFor(band string) Tier {
	if _, ok := coldBands[band]; ok {
		return Cold
	}
	return Hot
}

// Candidate is the subset of a StorageNode's catalog record placement
// needs to score it.
type Candidate struct {
	ServerID   int64
	Location   string
	Class      string
	SSDVolume  int64
	SSDFull    int
	HDDVolume  int64
	HDDFull    int
}

// FreeBytes computes the free-capacity score of spec §4.3 step 1.
func (c Candidate) FreeBytes() int64 {
	freeSSD := c.SSDVolume * int64(100-c.SSDFull) / 100
	freeHDD := c.HDDVolume * int64(100-c.HDDFull) / 100
	return freeSSD + freeHDD
}

// Select picks the best candidate for a payload of payloadSize bytes: the
// candidate with the greatest free capacity, ties broken by the smaller
// ServerID, per spec §4.3 steps 2-3. Returns routeerr.NoCapacity if
// candidates is empty or the best candidate cannot fit the payload.
func Select(candidates []Candidate, payloadSize int64) (Candidate, error) {
	if len(candidates) == 0 {
		return Candidate{}, routeerr.New(routeerr.NoCapacity, "no candidate storage nodes for tier")
	}

	best := candidates[0]
	bestFree := best.FreeBytes()
	for _, c := range candidates[1:] {
		free := c.FreeBytes()
		if free > bestFree || (free == bestFree && c.ServerID < best.ServerID) {
			best = c
			bestFree = free
		}
	}

	if bestFree < payloadSize {
		return Candidate{}, routeerr.New(routeerr.NoCapacity, "no storage node has sufficient free capacity")
	}
	return best, nil
}

// CandidatesFromCatalog adapts catalog.StorageNode rows (as returned by
// GetServersByClass) into placement.Candidate values, sorted by ServerID so
// Select's tie-break is deterministic regardless of catalog ordering.
func CandidatesFromCatalog(servers []catalog.StorageNode) []Candidate {
	out := make([]Candidate, len(servers))
	for i, s := range servers {
		out[i] = Candidate{
			ServerID:  s.ServerID,
			Location:  s.Location,
			Class:     s.Class,
			SSDVolume: s.SSDVolume,
			SSDFull:   s.SSDFullness,
			HDDVolume: s.HDDVolume,
			HDDFull:   s.HDDFullness,
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServerID < out[j].ServerID })
	return out
}
