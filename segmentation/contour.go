// Package segmentation evolves labelled objects in a volume with a multi-object
// narrow-band level set.
package segmentation

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pthm-cable/contour/cache"
	"github.com/pthm-cable/contour/config"
	"github.com/pthm-cable/contour/grid"
	"github.com/pthm-cable/contour/mesh"
	"github.com/pthm-cable/contour/telemetry"
)

// ErrNoLabels is returned by Init when no initial label field was supplied.
var ErrNoLabels = errors.New("no initial labels")

// PhaseTimer receives phase boundaries during a step. telemetry.PerfCollector satisfies it.
type PhaseTimer interface {
	StartPhase(phase string)
}

// MultiActiveContour segments several objects at once, each with its own force weights.
// Objects never overlap: each cell belongs to at most one object.
type MultiActiveContour struct {
	name  string
	cfg   *config.Config
	cache *cache.Cache
	perf  PhaseTimer

	dims    grid.Dims
	fields  *fields
	band    *NarrowBand
	objects *Registry
	pool    *evalPool
	deltas  []cellDelta

	initialDistance *grid.Scalar
	initialLabels   *grid.Labels

	pressure      *grid.Scalar
	pressureRange [2]float64
	vectors       *grid.Vector

	defaults   ObjectParams
	clampSpeed bool
	maxSpeed   float64

	// contourLock guards the fields from commit through rebanding, and the surface.
	contourLock   sync.Mutex
	surface       []mesh.Manifold
	surfaceStale  bool
	cacheFailures int

	state     atomic.Int32
	iteration int
	time      float64
	last      StepStats
	completed bool
}

// New creates a contour with force defaults from cfg. The cache may be nil.
func New(name string, cfg *config.Config, c *cache.Cache) *MultiActiveContour {
	return &MultiActiveContour{
		name:  name,
		cfg:   cfg,
		cache: c,
		dims:  cfg.Grid,
		defaults: ObjectParams{
			PressureWeight:  cfg.Forces.PressureWeight,
			CurvatureWeight: cfg.Forces.CurvatureWeight,
			AdvectionWeight: cfg.Forces.AdvectionWeight,
			TargetPressure:  cfg.Forces.TargetPressure,
		},
		clampSpeed: cfg.Evolve.ClampSpeed,
		maxSpeed:   cfg.Evolve.MaxSpeed,
	}
}

// SetPerf attaches a phase timer. Pass nil to disable timing.
func (mc *MultiActiveContour) SetPerf(p PhaseTimer) { mc.perf = p }

func (mc *MultiActiveContour) phase(name string) {
	if mc.perf != nil {
		mc.perf.StartPhase(name)
	}
}

// SetInitialDistanceField supplies the unsigned distance to the initial interfaces.
// Signed inputs are accepted; only magnitudes are used.
func (mc *MultiActiveContour) SetInitialDistanceField(d *grid.Scalar) {
	mc.initialDistance = d
	if d != nil {
		mc.dims = d.Dims
	}
}

// SetInitialLabels supplies the initial object labels (0 = background). Without a distance
// field the interfaces start half a cell from each boundary cell.
func (mc *MultiActiveContour) SetInitialLabels(l *grid.Labels) {
	mc.initialLabels = l
	if l != nil {
		mc.dims = l.Dims
	}
}

// SetPressure sets the pressure image and the pressure weight and target of every object.
func (mc *MultiActiveContour) SetPressure(img *grid.Scalar, weight, target float64) {
	mc.SetPressureImage(img)
	mc.updateAll(func(p *ObjectParams) {
		p.PressureWeight = weight
		p.TargetPressure = target
	})
}

// SetPressureImage replaces the pressure image only. A nil image makes every object inflate.
func (mc *MultiActiveContour) SetPressureImage(img *grid.Scalar) {
	mc.pressure = img
	if img != nil {
		lo, hi := img.MinMax()
		mc.pressureRange = [2]float64{lo, hi}
	}
}

// SetPressureWeight sets every object's pressure weight.
func (mc *MultiActiveContour) SetPressureWeight(w float64) {
	mc.updateAll(func(p *ObjectParams) { p.PressureWeight = w })
}

// SetTargetPressure sets every object's target pressure.
func (mc *MultiActiveContour) SetTargetPressure(t float64) {
	mc.updateAll(func(p *ObjectParams) { p.TargetPressure = t })
}

// SetVectorField sets the advection field and every object's advection weight.
func (mc *MultiActiveContour) SetVectorField(v *grid.Vector, weight float64) {
	mc.vectors = v
	mc.SetAdvection(weight)
}

// SetAdvection sets every object's advection weight.
func (mc *MultiActiveContour) SetAdvection(w float64) {
	mc.updateAll(func(p *ObjectParams) { p.AdvectionWeight = w })
}

// SetCurvature sets every object's curvature weight.
func (mc *MultiActiveContour) SetCurvature(w float64) {
	mc.updateAll(func(p *ObjectParams) { p.CurvatureWeight = w })
}

// SetClampSpeed enables clamping of the pressure speed to the configured maximum.
func (mc *MultiActiveContour) SetClampSpeed(on bool) { mc.clampSpeed = on }

// SetObjectParams overrides one object's weights. Returns false if the object does not exist.
// Before Init every object is pending, so the call fails.
func (mc *MultiActiveContour) SetObjectParams(label int32, p ObjectParams) bool {
	if mc.objects == nil {
		return false
	}
	return mc.objects.Update(label, func(dst *ObjectParams) { *dst = p })
}

func (mc *MultiActiveContour) updateAll(fn func(p *ObjectParams)) {
	fn(&mc.defaults)
	if mc.objects != nil {
		mc.objects.UpdateAll(fn)
	}
}

// Name returns the simulation name.
func (mc *MultiActiveContour) Name() string { return mc.name }

// Init builds the fields, the band and the object registry from the initial volumes.
func (mc *MultiActiveContour) Init() error {
	if mc.initialLabels == nil {
		return fmt.Errorf("%s: %w", mc.name, ErrNoLabels)
	}
	dims := []grid.Dims{mc.initialLabels.Dims}
	if mc.initialDistance != nil {
		dims = append(dims, mc.initialDistance.Dims)
	}
	if mc.pressure != nil {
		dims = append(dims, mc.pressure.Dims)
	}
	if mc.vectors != nil {
		dims = append(dims, mc.vectors.Dims)
	}
	if !grid.SameDims(mc.dims, dims...) {
		return fmt.Errorf("%s: input volumes have different dimensions", mc.name)
	}

	mc.fields = newFields(mc.dims)
	mc.band = newNarrowBand(mc.fields, mc.cfg.Band.MaxLayers)
	mc.band.Rebuild(mc.initialDistance, mc.initialLabels)
	mc.objects = newRegistry(mc.initialLabels.Distinct(), mc.defaults)
	mc.objects.record(mc.band.objectStats())
	mc.pool = newEvalPool(mc.cfg.Evolve.Workers, mc.cfg.Evolve.ParallelThreshold)

	mc.iteration = 0
	mc.time = 0
	mc.completed = false
	mc.surfaceStale = true
	mc.state.Store(int32(Idle))

	slog.Info("contour initialized",
		"name", mc.name,
		"rows", mc.dims.Rows, "cols", mc.dims.Cols, "slices", mc.dims.Slices,
		"objects", mc.objects.Len(),
		"band", mc.band.Len(),
	)
	return nil
}

// Step advances one iteration, refreshes the surface and caches it every Cache.Every steps.
// Returns false once the simulation is complete.
func (mc *MultiActiveContour) Step() bool {
	if mc.completed {
		return false
	}
	if mc.Evolve(mc.cfg.Evolve.MaxStep) == 0 {
		mc.completed = true
		return false
	}

	if mc.cache != nil && mc.iteration%mc.cfg.Cache.Every == 0 {
		mc.cacheSurface()
	}

	if limit := mc.cfg.Evolve.MaxSteps; limit > 0 && mc.iteration >= limit {
		mc.completed = true
		return false
	}
	return true
}

// cacheSurface pushes the current surface under the iteration index and trims the cache.
// Cache failures are logged; the run continues without that frame.
func (mc *MultiActiveContour) cacheSurface() {
	surface := mc.Surface()
	mc.phase(telemetry.PhaseCache)
	if _, err := mc.cache.Set(mc.iteration, surface); err != nil {
		mc.cacheFailures++
		slog.Warn("caching surface failed", "iteration", mc.iteration, "error", err)
		return
	}
	if n := mc.cache.Unload(); n > 0 {
		slog.Debug("cache evicted", "count", n, "resident", mc.cache.Resident())
	}
}

// Cleanup stops the evaluation workers.
func (mc *MultiActiveContour) Cleanup() {
	if mc.pool != nil {
		mc.pool.stopWorkers()
	}
}

// Iteration returns the number of completed steps.
func (mc *MultiActiveContour) Iteration() int { return mc.iteration }

// Time returns the accumulated pseudo-time.
func (mc *MultiActiveContour) Time() float64 { return mc.time }

// Completed reports whether the band has emptied or the step limit was reached.
func (mc *MultiActiveContour) Completed() bool { return mc.completed }

// Dims returns the grid dimensions.
func (mc *MultiActiveContour) Dims() grid.Dims { return mc.dims }

// LevelSet returns the current unsigned distance field. It is replaced by the next step.
func (mc *MultiActiveContour) LevelSet() *grid.Scalar { return mc.fields.levelSet }

// Labels returns the current label field. It is replaced by the next step.
func (mc *MultiActiveContour) Labels() *grid.Labels { return mc.fields.labels }

// UnionLevelSet returns a signed copy: negative inside any object, positive in background.
func (mc *MultiActiveContour) UnionLevelSet() *grid.Scalar {
	out := mc.fields.levelSet.Clone()
	for i, l := range mc.fields.labels.Data {
		if l != 0 {
			out.Data[i] = -out.Data[i]
		}
	}
	return out
}

// PressureImage returns the pressure image, or nil.
func (mc *MultiActiveContour) PressureImage() *grid.Scalar { return mc.pressure }

// VectorField returns the advection field, or nil.
func (mc *MultiActiveContour) VectorField() *grid.Vector { return mc.vectors }

// Band returns the narrow band.
func (mc *MultiActiveContour) Band() *NarrowBand { return mc.band }

// Objects returns the object registry.
func (mc *MultiActiveContour) Objects() *Registry { return mc.objects }

// Cache returns the surface cache, or nil.
func (mc *MultiActiveContour) Cache() *cache.Cache { return mc.cache }

// CacheFailures returns the number of surfaces that could not be cached.
func (mc *MultiActiveContour) CacheFailures() int { return mc.cacheFailures }

// Surface returns one manifold per object, extracting it again if the fields changed.
func (mc *MultiActiveContour) Surface() []mesh.Manifold {
	mc.contourLock.Lock()
	defer mc.contourLock.Unlock()
	if mc.surfaceStale {
		mc.phase(telemetry.PhaseExtract)
		mc.surface = mesh.Extract(mc.fields.levelSet, mc.fields.labels)
		for i := range mc.surface {
			if c, ok := mc.objects.Color(mc.surface[i].Label); ok {
				r, g, b := c.RGB255()
				mc.surface[i].Color = [3]uint8{r, g, b}
			}
		}
		mc.surfaceStale = false
	}
	return mc.surface
}
