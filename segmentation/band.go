package segmentation

import (
	"sort"

	"github.com/pthm-cable/contour/grid"
)

// Entry is one narrow band member: a cell and the object whose wavefront claimed it.
// Cells inside an object are owned by that object; background cells by the nearest object.
type Entry struct {
	Index int
	Owner int32
}

// fields holds the current and swap buffers. Outside of a step both buffers agree.
type fields struct {
	dims         grid.Dims
	levelSet     *grid.Scalar
	swapLevelSet *grid.Scalar
	labels       *grid.Labels
	swapLabels   *grid.Labels
}

func newFields(d grid.Dims) *fields {
	return &fields{
		dims:         d,
		levelSet:     grid.NewScalar(d),
		swapLevelSet: grid.NewScalar(d),
		labels:       grid.NewLabels(d),
		swapLabels:   grid.NewLabels(d),
	}
}

func (f *fields) swap() {
	f.levelSet, f.swapLevelSet = f.swapLevelSet, f.levelSet
	f.labels, f.swapLabels = f.swapLabels, f.labels
}

// setDistance writes both buffers.
func (f *fields) setDistance(idx int, v float32) {
	f.levelSet.Data[idx] = v
	f.swapLevelSet.Data[idx] = v
}

// signed returns object l's signed distance at idx: negative inside l, positive elsewhere.
func (f *fields) signed(idx int, l int32) float32 {
	d := f.levelSet.Data[idx]
	if f.labels.Data[idx] == l {
		return -d
	}
	return d
}

// isBoundary reports whether a face neighbour carries a different label.
func (f *fields) isBoundary(idx int) bool {
	c := f.dims.Coord(idx)
	l := f.labels.Data[idx]
	for _, off := range grid.Offsets6 {
		n := c.Add(off)
		if f.dims.InBounds(n.I, n.J, n.K) && f.labels.Data[f.dims.IndexOf(n)] != l {
			return true
		}
	}
	return false
}

// boundaryOwner is the cell's own object, or for background the smallest adjacent object.
func (f *fields) boundaryOwner(idx int) int32 {
	if l := f.labels.Data[idx]; l != 0 {
		return l
	}
	c := f.dims.Coord(idx)
	var owner int32
	for _, off := range grid.Offsets6 {
		n := c.Add(off)
		if !f.dims.InBounds(n.I, n.J, n.K) {
			continue
		}
		if l := f.labels.Data[f.dims.IndexOf(n)]; l != 0 && (owner == 0 || l < owner) {
			owner = l
		}
	}
	return owner
}

type proposal struct {
	index int
	value float32
	owner int32
}

// sortProposals orders by cell, then distance, then object id so the first
// proposal per cell is the winning claim.
func sortProposals(props []proposal) {
	sort.Slice(props, func(a, b int) bool {
		pa, pb := props[a], props[b]
		if pa.index != pb.index {
			return pa.index < pb.index
		}
		if pa.value != pb.value {
			return pa.value < pb.value
		}
		return pa.owner < pb.owner
	})
}

// NarrowBand maintains the active list: every cell within MaxLayers layers of a zero crossing.
// Each cell appears at most once, so no cell is ever claimed by two objects.
type NarrowBand struct {
	f         *fields
	maxLayers int
	maxDist   float32

	entries []Entry
	layers  []int8  // parallel to entries
	slot    []int32 // cell -> position in entries + 1, 0 outside the band

	// Scratch for the layered wavefront.
	mark       []uint32
	gen        uint32
	next       []Entry
	nextLayers []int8
	proposals  []proposal

	quiet int
}

func newNarrowBand(f *fields, maxLayers int) *NarrowBand {
	n := f.dims.Len()
	return &NarrowBand{
		f:         f,
		maxLayers: maxLayers,
		maxDist:   float32(maxLayers + 1),
		slot:      make([]int32, n),
		mark:      make([]uint32, n),
	}
}

// Len returns the number of active cells.
func (b *NarrowBand) Len() int { return len(b.entries) }

// Entries returns the active list. The slice is owned by the band.
func (b *NarrowBand) Entries() []Entry { return b.entries }

// Layer returns the layer of the i-th entry (0 at a zero crossing).
func (b *NarrowBand) Layer(i int) int { return int(b.layers[i]) }

// Contains reports whether a cell is in the band.
func (b *NarrowBand) Contains(idx int) bool { return b.slot[idx] != 0 }

// Stable reports whether the last two AddElements calls admitted nothing.
func (b *NarrowBand) Stable() bool { return b.quiet >= 2 }

// MaxLayers returns the band half-width in layers.
func (b *NarrowBand) MaxLayers() int { return b.maxLayers }

// Rebuild constructs the band from scratch with one full-grid scan.
// A nil distance field seeds every zero crossing at half a cell.
func (b *NarrowBand) Rebuild(distance *grid.Scalar, labels *grid.Labels) {
	f := b.f
	f.labels.CopyFrom(labels)
	f.swapLabels.CopyFrom(labels)
	for idx := range f.levelSet.Data {
		v := float32(0.5)
		if distance != nil {
			v = abs32(distance.Data[idx])
		}
		f.setDistance(idx, min32(v, b.maxDist))
	}

	var seeds []int
	for idx := range f.labels.Data {
		if f.isBoundary(idx) {
			seeds = append(seeds, idx)
		}
	}

	b.expand(seeds, false)
	b.install()

	for idx := range f.levelSet.Data {
		if b.slot[idx] == 0 {
			f.setDistance(idx, b.maxDist)
		}
	}
	b.quiet = 0
}

// updateDistanceField recomputes layer values inside the current band after a commit.
// Entries the wavefront does not reach stay in the band at the out-of-band distance, past
// the last layer, until DeleteElements drops them.
func (b *NarrowBand) updateDistanceField() {
	var seeds []int
	for _, e := range b.entries {
		if b.f.isBoundary(e.Index) {
			seeds = append(seeds, e.Index)
		}
	}
	sort.Ints(seeds)
	b.expand(seeds, true)

	stale := int8(b.maxLayers + 1)
	for _, e := range b.entries {
		if b.mark[e.Index] != b.gen {
			b.f.setDistance(e.Index, b.maxDist)
			b.next = append(b.next, e)
			b.nextLayers = append(b.nextLayers, stale)
		}
	}
	b.install()
}

// DeleteElements removes entries that are no longer within MaxLayers of a zero crossing
// and resets their distance to the out-of-band value. Returns the number removed.
func (b *NarrowBand) DeleteElements() int {
	kept := 0
	for p, e := range b.entries {
		if int(b.layers[p]) > b.maxLayers {
			b.f.setDistance(e.Index, b.maxDist)
			b.slot[e.Index] = 0
			continue
		}
		b.entries[kept] = e
		b.layers[kept] = b.layers[p]
		b.slot[e.Index] = int32(kept + 1)
		kept++
	}
	removed := len(b.entries) - kept
	b.entries = b.entries[:kept]
	b.layers = b.layers[:kept]
	return removed
}

// AddElements admits face neighbours of band cells that fall within range. Proposals are
// merged so the claim nearest its own zero crossing wins, ties going to the smaller id.
// Returns the number of cells added.
func (b *NarrowBand) AddElements() int {
	f := b.f
	d := f.dims
	props := b.proposals[:0]
	for p, e := range b.entries {
		if int(b.layers[p]) >= b.maxLayers {
			continue
		}
		v := f.levelSet.Data[e.Index]
		l := f.labels.Data[e.Index]
		c := d.Coord(e.Index)
		for _, off := range grid.Offsets6 {
			n := c.Add(off)
			if !d.InBounds(n.I, n.J, n.K) {
				continue
			}
			ni := d.IndexOf(n)
			if b.slot[ni] != 0 || f.labels.Data[ni] != l {
				continue
			}
			props = append(props, proposal{index: ni, value: v + 1, owner: e.Owner})
		}
	}
	sortProposals(props)

	added := 0
	for i, p := range props {
		if i > 0 && props[i-1].index == p.index {
			continue
		}
		layer := int8(p.value) // layer k values lie in [k, k+1]
		if int(layer) > b.maxLayers {
			layer = int8(b.maxLayers)
		}
		f.setDistance(p.index, min32(p.value, b.maxDist))
		b.entries = append(b.entries, Entry{Index: p.index, Owner: p.owner})
		b.layers = append(b.layers, layer)
		b.slot[p.index] = int32(len(b.entries))
		added++
	}
	b.proposals = props

	if added == 0 {
		b.quiet++
	} else {
		b.quiet = 0
	}
	return added
}

// expand runs the layered wavefront from the given zero-crossing cells (ascending order).
// Layer 0 values are clamped to [0,1]; a layer k cell takes one plus the smallest value among
// its layer k-1 neighbours of the same label, and inherits that neighbour's owner. A cell
// claimed in an earlier layer is never reclaimed. With restrict set the wavefront stays
// inside the current band. The result is left in next/nextLayers and marked with gen.
func (b *NarrowBand) expand(seeds []int, restrict bool) {
	f := b.f
	d := f.dims
	b.gen++
	out := b.next[:0]
	layers := b.nextLayers[:0]

	for _, idx := range seeds {
		v := f.levelSet.Data[idx]
		if v > 1 {
			v = 1
		} else if v < 0 {
			v = 0
		}
		f.setDistance(idx, v)
		b.mark[idx] = b.gen
		out = append(out, Entry{Index: idx, Owner: f.boundaryOwner(idx)})
		layers = append(layers, 0)
	}

	start, end := 0, len(out)
	for layer := 1; layer <= b.maxLayers && start < end; layer++ {
		props := b.proposals[:0]
		for p := start; p < end; p++ {
			e := out[p]
			v := f.levelSet.Data[e.Index]
			l := f.labels.Data[e.Index]
			c := d.Coord(e.Index)
			for _, off := range grid.Offsets6 {
				n := c.Add(off)
				if !d.InBounds(n.I, n.J, n.K) {
					continue
				}
				ni := d.IndexOf(n)
				if b.mark[ni] == b.gen || f.labels.Data[ni] != l {
					continue
				}
				if restrict && b.slot[ni] == 0 {
					continue
				}
				props = append(props, proposal{index: ni, value: v + 1, owner: e.Owner})
			}
		}
		sortProposals(props)
		for i, p := range props {
			if i > 0 && props[i-1].index == p.index {
				continue
			}
			b.mark[p.index] = b.gen
			f.setDistance(p.index, p.value)
			out = append(out, Entry{Index: p.index, Owner: p.owner})
			layers = append(layers, int8(layer))
		}
		b.proposals = props
		start, end = end, len(out)
	}

	b.next = out
	b.nextLayers = layers
}

// install makes the last wavefront result the active list.
func (b *NarrowBand) install() {
	for _, e := range b.entries {
		b.slot[e.Index] = 0
	}
	b.entries, b.next = b.next, b.entries[:0]
	b.layers, b.nextLayers = b.nextLayers, b.layers[:0]
	for i, e := range b.entries {
		b.slot[e.Index] = int32(i + 1)
	}
}

// objectStats counts band and boundary cells per owner.
func (b *NarrowBand) objectStats() map[int32]BandStats {
	stats := make(map[int32]BandStats)
	for i, e := range b.entries {
		s := stats[e.Owner]
		s.BandCells++
		if b.layers[i] == 0 {
			s.BoundaryCells++
		}
		stats[e.Owner] = s
	}
	return stats
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

func min32(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}
