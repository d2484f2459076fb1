package mesh

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/contour/grid"
)

// inset keeps touching objects from sharing vertices.
const inset = 0.02

// maxShift bounds how far a vertex may move off its lattice corner.
const maxShift = 0.45

// faceCorners lists, per axis, the two in-plane axes in cyclic order.
var faceAxes = [3][2]int{{1, 2}, {2, 0}, {0, 1}}

// quadOrder walks the face corners counter-clockwise around +axis.
var quadOrder = [4][2]int{{0, 0}, {1, 0}, {1, 1}, {0, 1}}

type vertexAccum struct {
	normal r3.Vec
	shift  float64
	faces  int
}

// Extract converts a distance field and label field into one closed manifold per object.
// Faces are emitted between a cell of an object and any cell of another label (or the grid border);
// each vertex is moved along its averaged normal to the interface position implied by the
// distance values on both sides of its faces. Pure function of its inputs.
func Extract(levelSet *grid.Scalar, labels *grid.Labels) []Manifold {
	d := labels.Dims
	var out []Manifold
	for _, l := range labels.Distinct() {
		out = append(out, extractLabel(levelSet, labels, l, d))
	}
	return out
}

func extractLabel(levelSet *grid.Scalar, labels *grid.Labels, l int32, d grid.Dims) Manifold {
	cd := grid.Dims{Rows: d.Rows + 1, Cols: d.Cols + 1, Slices: d.Slices + 1}
	vertexOf := make(map[int]int32)
	var corners []grid.Coord
	var accum []vertexAccum
	m := Manifold{Label: l}

	for k := 0; k < d.Slices; k++ {
		for j := 0; j < d.Cols; j++ {
			for i := 0; i < d.Rows; i++ {
				idx := d.Index(i, j, k)
				if labels.Data[idx] != l {
					continue
				}
				c := grid.Coord{I: i, J: j, K: k}
				for n, off := range grid.Offsets6 {
					nb := c.Add(off)
					outside := !d.InBounds(nb.I, nb.J, nb.K)
					if !outside && labels.At(nb.I, nb.J, nb.K) == l {
						continue
					}

					// Interface position along the face normal, relative to the face plane.
					shift := 0.0
					if !outside {
						dc := float64(levelSet.Data[idx])
						dn := float64(levelSet.At(nb.I, nb.J, nb.K))
						if dc+dn > 1e-6 {
							shift = dc/(dc+dn) - 0.5
						}
					}
					shift -= inset

					axis, sign := n/2, n%2
					normal := axisVec(axis, sign)
					var quad [4]int32
					for q, o := range quadOrder {
						var cc [3]int
						cc[0], cc[1], cc[2] = i, j, k
						cc[axis] += sign
						cc[faceAxes[axis][0]] += o[0]
						cc[faceAxes[axis][1]] += o[1]
						key := cd.Index(cc[0], cc[1], cc[2])
						v, ok := vertexOf[key]
						if !ok {
							v = int32(len(corners))
							vertexOf[key] = v
							corners = append(corners, grid.Coord{I: cc[0], J: cc[1], K: cc[2]})
							accum = append(accum, vertexAccum{})
						}
						a := &accum[v]
						a.normal = r3.Add(a.normal, normal)
						a.shift += shift
						a.faces++
						quad[q] = v
					}
					if sign == 0 {
						quad[1], quad[3] = quad[3], quad[1]
					}
					m.Triangles = append(m.Triangles,
						[3]int32{quad[0], quad[1], quad[2]},
						[3]int32{quad[0], quad[2], quad[3]})
				}
			}
		}
	}

	m.Vertices = make([]r3.Vec, len(corners))
	for v, c := range corners {
		p := r3.Vec{X: float64(c.I) - 0.5, Y: float64(c.J) - 0.5, Z: float64(c.K) - 0.5}
		a := accum[v]
		if r3.Norm(a.normal) > 1e-9 {
			s := a.shift / float64(a.faces)
			if s > maxShift {
				s = maxShift
			} else if s < -maxShift {
				s = -maxShift
			}
			p = r3.Add(p, r3.Scale(s, r3.Unit(a.normal)))
		}
		m.Vertices[v] = p
	}
	return m
}

func axisVec(axis, sign int) r3.Vec {
	s := 1.0
	if sign == 0 {
		s = -1
	}
	switch axis {
	case 0:
		return r3.Vec{X: s}
	case 1:
		return r3.Vec{Y: s}
	default:
		return r3.Vec{Z: s}
	}
}
