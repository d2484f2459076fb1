package mesh

import (
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/contour/grid"
)

func uniformFields(d grid.Dims, v float32) (*grid.Scalar, *grid.Labels) {
	ls := grid.NewScalar(d)
	ls.Fill(v)
	return ls, grid.NewLabels(d)
}

func TestExtractSingleVoxel(t *testing.T) {
	d := grid.Dims{Rows: 3, Cols: 3, Slices: 3}
	ls, labels := uniformFields(d, 0.5)
	labels.Set(1, 1, 1, 1)

	ms := Extract(ls, labels)
	if len(ms) != 1 {
		t.Fatalf("expected 1 manifold, got %d", len(ms))
	}
	m := ms[0]

	if len(m.Vertices) != 8 {
		t.Errorf("expected 8 vertices, got %d", len(m.Vertices))
	}
	if len(m.Triangles) != 12 {
		t.Errorf("expected 12 triangles, got %d", len(m.Triangles))
	}
	if !m.IsClosed() {
		t.Error("expected a closed manifold")
	}

	vol := m.Volume()
	if vol < 0.8 || vol > 1.0 {
		t.Errorf("expected volume just under 1, got %f", vol)
	}
}

func TestExtractFollowsInterfaceOffset(t *testing.T) {
	d := grid.Dims{Rows: 5, Cols: 5, Slices: 5}
	ls, labels := uniformFields(d, 0.5)
	for k := 1; k < 4; k++ {
		for j := 1; j < 4; j++ {
			for i := 1; i < 4; i++ {
				labels.Set(i, j, k, 1)
			}
		}
	}
	base := Extract(ls, labels)[0].Volume()

	// Push every outside neighbour's distance up: the interface moves outward.
	for idx, l := range labels.Data {
		if l == 0 {
			ls.Data[idx] = 0.1
		} else {
			ls.Data[idx] = 0.9
		}
	}
	grown := Extract(ls, labels)[0].Volume()

	if grown <= base {
		t.Errorf("expected larger volume when the interface sits outside the cells: base=%f grown=%f", base, grown)
	}
}

func TestExtractTouchingObjectsStaySeparate(t *testing.T) {
	d := grid.Dims{Rows: 6, Cols: 3, Slices: 3}
	ls, labels := uniformFields(d, 0.5)
	labels.Set(2, 1, 1, 1)
	labels.Set(3, 1, 1, 2)

	ms := Extract(ls, labels)
	if len(ms) != 2 {
		t.Fatalf("expected 2 manifolds, got %d", len(ms))
	}
	for _, m := range ms {
		if !m.IsClosed() {
			t.Errorf("manifold %d not closed", m.Label)
		}
		if m.Volume() <= 0 {
			t.Errorf("manifold %d has non-positive volume %f", m.Label, m.Volume())
		}
	}

	for _, a := range ms[0].Vertices {
		for _, b := range ms[1].Vertices {
			if r3.Norm(r3.Sub(a, b)) < 1e-3 {
				t.Fatalf("objects share vertex position %v", a)
			}
		}
	}
	_, hiA := ms[0].Bounds()
	loB, _ := ms[1].Bounds()
	if hiA.X >= loB.X {
		t.Errorf("expected object 1 to end before object 2 starts along x: %f >= %f", hiA.X, loB.X)
	}
}

func TestManifoldEqual(t *testing.T) {
	d := grid.Dims{Rows: 3, Cols: 3, Slices: 3}
	ls, labels := uniformFields(d, 0.5)
	labels.Set(1, 1, 1, 4)
	a := Extract(ls, labels)[0]
	b := Extract(ls, labels)[0]

	if !a.Equal(&b, 1e-9) {
		t.Error("expected identical extractions to be equal")
	}
	b.Vertices[0].X += 0.5
	if a.Equal(&b, 1e-3) {
		t.Error("expected moved vertex to break equality")
	}
}
