// Package mesh holds the polygonal boundary produced from a level set and label field.
package mesh

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Manifold is a triangle mesh bounding one labelled object.
// Triangles are wound counter-clockwise seen from outside.
type Manifold struct {
	Label     int32
	Color     [3]uint8
	Vertices  []r3.Vec
	Triangles [][3]int32
}

// Empty reports whether the manifold has no faces.
func (m *Manifold) Empty() bool { return len(m.Triangles) == 0 }

// Bounds returns the axis-aligned bounding box of the vertices.
func (m *Manifold) Bounds() (lo, hi r3.Vec) {
	if len(m.Vertices) == 0 {
		return r3.Vec{}, r3.Vec{}
	}
	lo, hi = m.Vertices[0], m.Vertices[0]
	for _, v := range m.Vertices[1:] {
		lo = r3.Vec{X: math.Min(lo.X, v.X), Y: math.Min(lo.Y, v.Y), Z: math.Min(lo.Z, v.Z)}
		hi = r3.Vec{X: math.Max(hi.X, v.X), Y: math.Max(hi.Y, v.Y), Z: math.Max(hi.Z, v.Z)}
	}
	return lo, hi
}

// Volume returns the enclosed volume by the divergence theorem.
// Positive for outward-facing triangles.
func (m *Manifold) Volume() float64 {
	var sum float64
	for _, t := range m.Triangles {
		a, b, c := m.Vertices[t[0]], m.Vertices[t[1]], m.Vertices[t[2]]
		sum += r3.Dot(a, r3.Cross(b, c))
	}
	return sum / 6
}

// IsClosed reports whether every directed edge is matched by its reverse,
// i.e. the surface is watertight and consistently oriented.
func (m *Manifold) IsClosed() bool {
	if m.Empty() {
		return false
	}
	type edge struct{ a, b int32 }
	count := make(map[edge]int, len(m.Triangles)*3)
	for _, t := range m.Triangles {
		for e := 0; e < 3; e++ {
			a, b := t[e], t[(e+1)%3]
			count[edge{a, b}]++
		}
	}
	for e, n := range count {
		if count[edge{e.b, e.a}] != n {
			return false
		}
	}
	return true
}

// Equal reports whether two manifolds share topology and their vertices agree within tol.
func (m *Manifold) Equal(o *Manifold, tol float64) bool {
	if m.Label != o.Label || len(m.Vertices) != len(o.Vertices) || len(m.Triangles) != len(o.Triangles) {
		return false
	}
	for i, t := range m.Triangles {
		if t != o.Triangles[i] {
			return false
		}
	}
	for i, v := range m.Vertices {
		if r3.Norm(r3.Sub(v, o.Vertices[i])) > tol {
			return false
		}
	}
	return true
}
