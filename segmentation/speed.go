package segmentation

import (
	"math"

	"github.com/pthm-cable/contour/grid"
)

// maxCandidates bounds the objects considered at one cell: its own label, six face
// neighbours and the band owner.
const maxCandidates = 8

// gradientFloor keeps normalised gradients finite on flat neighbourhoods.
const gradientFloor = 1e-6

// pressureRangeFloor is the smallest half-range used to normalise the pressure image.
const pressureRangeFloor = 1e-4

// cellDelta holds the rate of change of each candidate object's level set at one cell.
// Labels are ascending.
type cellDelta struct {
	n      int
	labels [maxCandidates]int32
	delta  [maxCandidates]float32
}

func (c *cellDelta) add(l int32) {
	if l == 0 || c.n == maxCandidates {
		return
	}
	pos := c.n
	for k := 0; k < c.n; k++ {
		if c.labels[k] == l {
			return
		}
		if c.labels[k] > l {
			pos = k
			break
		}
	}
	copy(c.labels[pos+1:c.n+1], c.labels[pos:c.n])
	c.labels[pos] = l
	c.n++
}

// maxAbs returns the largest absolute rate at this cell.
func (c *cellDelta) maxAbs() float32 {
	var m float32
	for k := 0; k < c.n; k++ {
		m = max(m, abs32(c.delta[k]))
	}
	return m
}

// pressureNorm scales image values below and above an object's target pressure.
type pressureNorm struct {
	below, above float64
}

// forceContext is the read-only state shared by evaluation workers for one step.
type forceContext struct {
	f       *fields
	entries []Entry
	params  paramTable
	maxDist float64

	pressure *grid.Scalar
	norms    map[int32]pressureNorm
	vectors  *grid.Vector

	clampSpeed bool
	maxSpeed   float64
}

// newPressureNorms computes per-object normalisation so that (image - target) spans [-1,1].
func newPressureNorms(params paramTable, lo, hi float64) map[int32]pressureNorm {
	norms := make(map[int32]pressureNorm, len(params))
	for l, p := range params {
		below := math.Abs(lo - p.TargetPressure)
		above := math.Abs(hi - p.TargetPressure)
		norms[l] = pressureNorm{
			below: 1 / math.Max(below, pressureRangeFloor),
			above: 1 / math.Max(above, pressureRangeFloor),
		}
	}
	return norms
}

// evaluateRange fills deltas[i0:i1] for entries[i0:i1]. Only the fields are read.
func (fc *forceContext) evaluateRange(i0, i1 int, deltas []cellDelta) {
	var phi [27]float64
	for i := i0; i < i1; i++ {
		fc.evaluate(fc.entries[i], &deltas[i], &phi)
	}
}

func (fc *forceContext) evaluate(e Entry, out *cellDelta, phi *[27]float64) {
	f := fc.f
	d := f.dims
	idx := e.Index
	c := d.Coord(idx)

	out.n = 0
	out.add(f.labels.Data[idx])
	for _, off := range grid.Offsets6 {
		n := c.Add(off)
		if d.InBounds(n.I, n.J, n.K) {
			out.add(f.labels.Data[d.IndexOf(n)])
		}
	}
	out.add(e.Owner)

	for k := 0; k < out.n; k++ {
		l := out.labels[k]
		fc.sample(c, l, phi)
		out.delta[k] = float32(fc.speed(idx, l, phi))
	}
}

// sample fills the 3x3x3 neighbourhood of object l's signed distance around c.
// Cells outside the grid replicate the nearest edge cell.
func (fc *forceContext) sample(c grid.Coord, l int32, phi *[27]float64) {
	f := fc.f
	d := f.dims
	n := 0
	for dz := -1; dz <= 1; dz++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				i, j, k := d.Clamp(c.I+dx, c.J+dy, c.K+dz)
				v := float64(f.signed(d.Index(i, j, k), l))
				phi[n] = math.Max(-fc.maxDist, math.Min(fc.maxDist, v))
				n++
			}
		}
	}
}

// speed returns dphi/dt for object l at the centre of phi.
func (fc *forceContext) speed(idx int, l int32, phi *[27]float64) float64 {
	p := fc.params[l]
	var v float64

	if p.PressureWeight != 0 {
		F := p.PressureWeight * fc.pressureAt(idx, l)
		if fc.clampSpeed {
			F = math.Max(-fc.maxSpeed, math.Min(fc.maxSpeed, F))
		}
		v -= F * upwindGradient(phi, F)
	}
	if p.CurvatureWeight != 0 {
		v += p.CurvatureWeight * meanCurvature(phi)
	}
	if p.AdvectionWeight != 0 && fc.vectors != nil {
		vec := fc.vectors.Data[idx]
		v -= p.AdvectionWeight * advection(phi, vec.X, vec.Y, vec.Z)
	}
	return v
}

// pressureAt returns the normalised pressure for object l. Without an image every cell pushes outward.
func (fc *forceContext) pressureAt(idx int, l int32) float64 {
	if fc.pressure == nil {
		return 1
	}
	raw := float64(fc.pressure.Data[idx]) - fc.params[l].TargetPressure
	norm := fc.norms[l]
	if raw < 0 {
		return raw * norm.below
	}
	return raw * norm.above
}

// at indexes a 3x3x3 neighbourhood by offset.
func at(phi *[27]float64, dx, dy, dz int) float64 {
	return phi[(dx+1)+3*(dy+1)+9*(dz+1)]
}

// upwindGradient is the Osher-Sethian gradient magnitude for a front moving with speed F.
func upwindGradient(phi *[27]float64, F float64) float64 {
	c := at(phi, 0, 0, 0)
	var sum float64
	for axis := 0; axis < 3; axis++ {
		var o [3]int
		o[axis] = 1
		back := c - at(phi, -o[0], -o[1], -o[2])
		fwd := at(phi, o[0], o[1], o[2]) - c
		if F > 0 {
			back, fwd = math.Max(back, 0), math.Min(fwd, 0)
		} else {
			back, fwd = math.Min(back, 0), math.Max(fwd, 0)
		}
		sum += back*back + fwd*fwd
	}
	return math.Sqrt(sum)
}

// meanCurvature is the divergence of the unit normal, from normals at the six cell faces.
// Positive on convex regions of the inside, so adding it shrinks bumps.
func meanCurvature(phi *[27]float64) float64 {
	centre := at(phi, 0, 0, 0)
	var k float64
	for axis := 0; axis < 3; axis++ {
		for _, s := range [2]int{1, -1} {
			var o [3]int
			o[axis] = s
			var g [3]float64
			g[axis] = float64(s) * (at(phi, o[0], o[1], o[2]) - centre)
			for b := 0; b < 3; b++ {
				if b == axis {
					continue
				}
				var p, m [3]int
				p[b], m[b] = 1, -1
				ps, ms := p, m
				ps[axis], ms[axis] = s, s
				g[b] = (at(phi, p[0], p[1], p[2]) - at(phi, m[0], m[1], m[2]) +
					at(phi, ps[0], ps[1], ps[2]) - at(phi, ms[0], ms[1], ms[2])) / 4
			}
			norm := math.Sqrt(g[0]*g[0] + g[1]*g[1] + g[2]*g[2] + gradientFloor)
			k += float64(s) * g[axis] / norm
		}
	}
	return k
}

// advection returns V.grad(phi) with one-sided differences taken upwind of V.
func advection(phi *[27]float64, vx, vy, vz float64) float64 {
	c := at(phi, 0, 0, 0)
	v := [3]float64{vx, vy, vz}
	var sum float64
	for axis := 0; axis < 3; axis++ {
		if v[axis] == 0 {
			continue
		}
		var o [3]int
		o[axis] = 1
		var g float64
		if v[axis] > 0 {
			g = c - at(phi, -o[0], -o[1], -o[2])
		} else {
			g = at(phi, o[0], o[1], o[2]) - c
		}
		sum += v[axis] * g
	}
	return sum
}
