// Package geohash implements the variable-length base-32 geohash encoding
// used by the Images table (spec §3, §6) and computes the prefix set that
// covers a bounding box, for GET /images?north=&south=&east=&west= (spec
// §4.4 step 5).
//
// No example repo or original_source file in the retrieval pack implements
// geohashing or depends on a geohash library, so this is a from-scratch
// standard-algorithm implementation rather than an adapted one; see
// DESIGN.md.
package geohash

const base32 = "0123456789bcdefghjkmnpqrstuvwxyz"

// MaxPrecision bounds the length of geohashes this package produces.
const MaxPrecision = 9

// Encode returns the base-32 geohash of (lat, lon) at the given precision
// (number of characters).
func Encode(lat, lon float64, precision int) string {
	if precision <= 0 {
		precision = MaxPrecision
	}

	latRange := [2]float64{-90, 90}
	lonRange := [2]float64{-180, 180}

	out := make([]byte, 0, precision)
	var bit, ch uint
	evenBit := true

	for len(out) < precision {
		if evenBit {
			mid := (lonRange[0] + lonRange[1]) / 2
			if lon >= mid {
				ch |= 1 << (4 - bit)
				lonRange[0] = mid
			} else {
				lonRange[1] = mid
			}
		} else {
			mid := (latRange[0] + latRange[1]) / 2
			if lat >= mid {
				ch |= 1 << (4 - bit)
				latRange[0] = mid
			} else {
				latRange[1] = mid
			}
		}
		evenBit = !evenBit

		if bit < 4 {
			bit++
		} else {
			out = append(out, base32[ch])
			bit, ch = 0, 0
		}
	}
	return string(out)
}

// Cover returns a de-duplicated set of geohash prefixes whose union covers
// the rectangle [west,east] x [south,north]. The prefix length is chosen
// once from the box's larger span (precisionFor), coarse enough that the
// set stays small enough for a practical SQL prefix predicate; the set is
// not reduced further, so it is not guaranteed to be minimal.
func Cover(north, south, east, west float64) []string {
	precision := precisionFor(north, south, east, west)
	if precision <= 0 {
		return []string{Encode((north+south)/2, (east+west)/2, 1)}
	}

	seen := make(map[string]struct{})
	var prefixes []string

	// Step one cell at a time and clamp the last step to the box edge, so
	// every cell row and column the box crosses gets a sample.
	latBits := 5 * precision / 2
	latStep := 180 / float64(uint64(1)<<uint(latBits))
	lonStep := 360 / float64(uint64(1)<<uint(5*precision-latBits))

	for lat := south; lat < north+latStep; lat += latStep {
		for lon := west; lon < east+lonStep; lon += lonStep {
			p := Encode(min(lat, north), min(lon, east), precision)
			if _, ok := seen[p]; !ok {
				seen[p] = struct{}{}
				prefixes = append(prefixes, p)
			}
		}
	}
	// Always include the box's four corners, in case the step grid
	// skipped past a boundary cell due to floating point drift.
	for _, corner := range [][2]float64{
		{north, east}, {north, west}, {south, east}, {south, west},
	} {
		p := Encode(corner[0], corner[1], precision)
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			prefixes = append(prefixes, p)
		}
	}
	return prefixes
}

// precisionFor picks a geohash length coarse enough that the bounding box is
// covered by a small number of cells (at most a handful of characters of
// precision for a city-sized box, fewer for a continent-sized one).
func precisionFor(north, south, east, west float64) int {
	latSpan := north - south
	lonSpan := east - west
	span := latSpan
	if lonSpan > span {
		span = lonSpan
	}
	switch {
	case span > 40:
		return 1
	case span > 10:
		return 2
	case span > 2.5:
		return 3
	case span > 0.6:
		return 4
	case span > 0.15:
		return 5
	default:
		return 6
	}
}

func stepsFor(hi, lo float64, precision int) int {
	cells := 1 << uint(precision)
	if cells > 8 {
		cells = 8
	}
	if hi <= lo {
		return 1
	}
	return cells
}
