package segmentation

import (
	"log/slog"
	"sort"

	"github.com/pthm-cable/contour/grid"
)

// Reinitialize rebuilds distances and the active list from the current zero crossings only.
// Values at the crossings are clamped to one cell; every other band value is an integer
// number of layers away from them. The result depends only on the crossings, so applying it
// twice gives the same field.
func (b *NarrowBand) Reinitialize() {
	f := b.f
	d := f.dims

	// Crossings lie inside the band; neighbours are scanned too in case the band lags the front.
	b.gen++
	var seeds []int
	consider := func(idx int) {
		if b.mark[idx] == b.gen {
			return
		}
		b.mark[idx] = b.gen
		if f.isBoundary(idx) {
			seeds = append(seeds, idx)
		}
	}
	for _, e := range b.entries {
		consider(e.Index)
		c := d.Coord(e.Index)
		for _, off := range grid.Offsets6 {
			n := c.Add(off)
			if d.InBounds(n.I, n.J, n.K) {
				consider(d.IndexOf(n))
			}
		}
	}
	sort.Ints(seeds)

	b.expand(seeds, false)
	removed := 0
	for _, e := range b.entries {
		if b.mark[e.Index] != b.gen {
			f.setDistance(e.Index, b.maxDist)
			removed++
		}
	}
	b.install()
	if removed > 0 {
		slog.Debug("reinitialize dropped stale band cells", "removed", removed)
	}
}
