package segmentation

import (
	"math"
	"sort"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/mlange-42/ark/ecs"
)

// ObjectID tags an entity with its label value.
type ObjectID struct {
	Label int32
}

// ObjectParams are the per-object force weights. Any finite value is accepted;
// out-of-range values degrade stability rather than being rejected.
type ObjectParams struct {
	PressureWeight  float64
	CurvatureWeight float64
	AdvectionWeight float64
	TargetPressure  float64
}

// Appearance is the display colour of an object.
type Appearance struct {
	Color colorful.Color
}

// BandStats counts the band cells owned by an object after a step.
type BandStats struct {
	BandCells     int
	BoundaryCells int
}

// Registry is the set of live objects, one ECS entity per label.
type Registry struct {
	world    *ecs.World
	mapper   *ecs.Map4[ObjectID, ObjectParams, Appearance, BandStats]
	filter   *ecs.Filter2[ObjectID, BandStats]
	params   *ecs.Map1[ObjectParams]
	looks    *ecs.Map1[Appearance]
	stats    *ecs.Map1[BandStats]
	entities map[int32]ecs.Entity
}

// newRegistry creates one object per label with the given default parameters.
func newRegistry(labels []int32, defaults ObjectParams) *Registry {
	r := &Registry{
		world:    ecs.NewWorld(),
		entities: make(map[int32]ecs.Entity, len(labels)),
	}
	r.mapper = ecs.NewMap4[ObjectID, ObjectParams, Appearance, BandStats](r.world)
	r.filter = ecs.NewFilter2[ObjectID, BandStats](r.world)
	r.params = ecs.NewMap1[ObjectParams](r.world)
	r.looks = ecs.NewMap1[Appearance](r.world)
	r.stats = ecs.NewMap1[BandStats](r.world)

	for n, l := range labels {
		id := ObjectID{Label: l}
		p := defaults
		look := Appearance{Color: objectColor(n)}
		stats := BandStats{}
		r.entities[l] = r.mapper.NewEntity(&id, &p, &look, &stats)
	}
	return r
}

// objectColor spreads hues by the golden angle so neighbouring ids contrast.
func objectColor(n int) colorful.Color {
	hue := math.Mod(float64(n)*137.508, 360)
	return colorful.Hsv(hue, 0.65, 0.9)
}

// Len returns the number of live objects.
func (r *Registry) Len() int { return len(r.entities) }

// IDs returns the live labels in ascending order.
func (r *Registry) IDs() []int32 {
	ids := make([]int32, 0, len(r.entities))
	for l := range r.entities {
		ids = append(ids, l)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Alive reports whether an object with this label exists.
func (r *Registry) Alive(label int32) bool {
	e, ok := r.entities[label]
	return ok && r.world.Alive(e)
}

// Params returns an object's force weights.
func (r *Registry) Params(label int32) (ObjectParams, bool) {
	e, ok := r.entities[label]
	if !ok {
		return ObjectParams{}, false
	}
	return *r.params.Get(e), true
}

// Update applies fn to one object's parameters. Returns false if the object is gone.
func (r *Registry) Update(label int32, fn func(p *ObjectParams)) bool {
	e, ok := r.entities[label]
	if !ok {
		return false
	}
	fn(r.params.Get(e))
	return true
}

// UpdateAll applies fn to every live object's parameters.
func (r *Registry) UpdateAll(fn func(p *ObjectParams)) {
	for _, e := range r.entities {
		fn(r.params.Get(e))
	}
}

// Color returns an object's display colour.
func (r *Registry) Color(label int32) (colorful.Color, bool) {
	e, ok := r.entities[label]
	if !ok {
		return colorful.Color{}, false
	}
	return r.looks.Get(e).Color, true
}

// Stats returns an object's band statistics from the last step.
func (r *Registry) Stats(label int32) (BandStats, bool) {
	e, ok := r.entities[label]
	if !ok {
		return BandStats{}, false
	}
	return *r.stats.Get(e), true
}

// paramTable is a read-only snapshot of object parameters for parallel evaluation.
type paramTable map[int32]ObjectParams

func (r *Registry) snapshot() paramTable {
	t := make(paramTable, len(r.entities))
	for l, e := range r.entities {
		t[l] = *r.params.Get(e)
	}
	return t
}

// record stores per-object band counts and destroys objects whose band is empty.
// Returns the labels destroyed.
func (r *Registry) record(band map[int32]BandStats) []int32 {
	var empty []ecs.Entity
	var gone []int32

	query := r.filter.Query()
	for query.Next() {
		id, stats := query.Get()
		*stats = band[id.Label]
		if stats.BandCells == 0 {
			empty = append(empty, query.Entity())
			gone = append(gone, id.Label)
		}
	}

	// Remove after the query has finished.
	for i, e := range empty {
		r.world.RemoveEntity(e)
		delete(r.entities, gone[i])
	}
	sort.Slice(gone, func(i, j int) bool { return gone[i] < gone[j] })
	return gone
}
