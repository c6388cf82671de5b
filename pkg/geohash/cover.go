package geohash

import "sort"

// Cover returns every geohash of the requested precision whose cell
// intersects the target rectangle, sorted for determinism.
//
// The search seeds from the rectangle's center and four corners at a coarse
// precision of min(precision, 4) and refines each seed recursively: cells
// that do not intersect the target are pruned, cells already at the target
// precision are emitted, anything else expands into its 32 children. Visited
// prefixes are memoized so overlapping seeds do not re-enter the same
// subtree. If nothing was emitted (degenerate or inverted rectangle) the
// cover falls back to the single cell containing the center.
func Cover(target Box, precision int) []string {
	cells, _ := CoverCapped(target, precision, 0)
	return cells
}

// CoverCapped behaves like Cover but abandons the search once more than
// maxCells prefixes have been emitted, returning (nil, false). A maxCells of
// zero or less means unlimited. The cap lets callers bail out of covers that
// would be too large to use as a filter set without paying for the full
// expansion first.
func CoverCapped(target Box, precision int, maxCells int) ([]string, bool) {
	if precision < MinPrecision {
		precision = MinPrecision
	}
	if precision > MaxPrecision {
		precision = MaxPrecision
	}

	seedPrecision := precision
	if seedPrecision > 4 {
		seedPrecision = 4
	}
	centerLat, centerLon := target.Center()
	seeds := []string{
		Encode(centerLat, centerLon, seedPrecision),
		Encode(target.MinLat, target.MinLon, seedPrecision),
		Encode(target.MinLat, target.MaxLon, seedPrecision),
		Encode(target.MaxLat, target.MinLon, seedPrecision),
		Encode(target.MaxLat, target.MaxLon, seedPrecision),
	}

	visited := make(map[string]struct{})
	emitted := make(map[string]struct{})
	overflow := false

	var refine func(prefix string)
	refine = func(prefix string) {
		if overflow {
			return
		}
		if _, seen := visited[prefix]; seen {
			return
		}
		visited[prefix] = struct{}{}

		cell, err := Decode(prefix)
		if err != nil {
			// undecodable prefix is treated as non-intersecting
			return
		}
		if !cell.Intersects(target) {
			return
		}
		if len(prefix) >= precision {
			emitted[prefix] = struct{}{}
			if maxCells > 0 && len(emitted) > maxCells {
				overflow = true
			}
			return
		}
		for i := 0; i < len(alphabet); i++ {
			refine(prefix + string(alphabet[i]))
		}
	}

	for _, seed := range seeds {
		refine(seed)
	}
	if overflow {
		return nil, false
	}
	if len(emitted) == 0 {
		return []string{Encode(centerLat, centerLon, precision)}, true
	}

	cells := make([]string, 0, len(emitted))
	for gh := range emitted {
		cells = append(cells, gh)
	}
	sort.Strings(cells)
	return cells, true
}
