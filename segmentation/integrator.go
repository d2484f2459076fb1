package segmentation

import (
	"log/slog"
	"math"

	"github.com/pthm-cable/contour/telemetry"
)

// State is the integrator's position within a step.
type State int32

const (
	Idle State = iota
	Evaluating
	Committing
	Rebanding
	Reinitializing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Evaluating:
		return "evaluating"
	case Committing:
		return "committing"
	case Rebanding:
		return "rebanding"
	case Reinitializing:
		return "reinitializing"
	default:
		return "unknown"
	}
}

// stepFloor is the smallest speed treated as motion when choosing the step.
const stepFloor = 1e-12

// StepStats summarises one call to Evolve.
type StepStats struct {
	Iteration     int
	Time          float64
	Step          float64
	ActiveCells   int
	Added         int
	Removed       int
	Objects       int
	MaxDelta      float64 // largest |dphi/dt| over the band
	MaxChange     float64 // largest committed |dphi|
	Reinitialized bool
	Destroyed     []int32
}

// LogValue implements slog.LogValuer for structured logging.
func (s StepStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("iteration", s.Iteration),
		slog.Float64("time", s.Time),
		slog.Float64("step", s.Step),
		slog.Int("active", s.ActiveCells),
		slog.Int("added", s.Added),
		slog.Int("removed", s.Removed),
		slog.Int("objects", s.Objects),
		slog.Float64("max_delta", s.MaxDelta),
	)
}

// State returns the current integrator state. Safe to call from another goroutine.
func (mc *MultiActiveContour) State() State { return State(mc.state.Load()) }

// LastStep returns the statistics of the most recent step.
func (mc *MultiActiveContour) LastStep() StepStats { return mc.last }

// Evolve advances the level sets by one step of at most maxStep and returns the step taken.
// The step is shrunk so no cell changes by more than the CFL number. Returns 0 when the
// band is empty, which ends the segmentation.
func (mc *MultiActiveContour) Evolve(maxStep float64) float64 {
	band := mc.band
	if band == nil || band.Len() == 0 || maxStep <= 0 {
		return 0
	}

	// Evaluate
	mc.state.Store(int32(Evaluating))
	mc.phase(telemetry.PhaseEvaluate)
	ctx := mc.forceContext()
	n := band.Len()
	if cap(mc.deltas) < n {
		mc.deltas = make([]cellDelta, n)
	}
	mc.deltas = mc.deltas[:n]
	mc.pool.evaluate(ctx, mc.deltas)

	var maxDelta float64
	for i := range mc.deltas {
		maxDelta = math.Max(maxDelta, float64(mc.deltas[i].maxAbs()))
	}
	step := maxStep
	if maxDelta > stepFloor {
		step = math.Min(maxStep, mc.cfg.Band.CFL/maxDelta)
	}

	mc.contourLock.Lock()

	// Commit
	mc.state.Store(int32(Committing))
	mc.phase(telemetry.PhaseCommit)
	maxChange := mc.commit(step)

	// Reband
	mc.state.Store(int32(Rebanding))
	mc.phase(telemetry.PhaseReband)
	band.updateDistanceField()
	removed := band.DeleteElements()
	added := band.AddElements()

	mc.iteration++
	mc.time += step

	reinit := false
	if interval := mc.cfg.Band.ReinitInterval; interval > 0 && mc.iteration%interval == 0 {
		mc.state.Store(int32(Reinitializing))
		mc.phase(telemetry.PhaseReinitialize)
		band.Reinitialize()
		reinit = true
	}

	destroyed := mc.objects.record(band.objectStats())
	mc.surfaceStale = true
	mc.contourLock.Unlock()
	mc.state.Store(int32(Idle))

	for _, l := range destroyed {
		slog.Info("object vanished", "label", l, "iteration", mc.iteration)
	}

	mc.last = StepStats{
		Iteration:     mc.iteration,
		Time:          mc.time,
		Step:          step,
		ActiveCells:   band.Len(),
		Added:         added,
		Removed:       removed,
		Objects:       mc.objects.Len(),
		MaxDelta:      maxDelta,
		MaxChange:     maxChange,
		Reinitialized: reinit,
		Destroyed:     destroyed,
	}
	return step
}

func (mc *MultiActiveContour) forceContext() *forceContext {
	params := mc.objects.snapshot()
	ctx := &forceContext{
		f:          mc.fields,
		entries:    mc.band.Entries(),
		params:     params,
		maxDist:    float64(mc.band.maxDist),
		vectors:    mc.vectors,
		clampSpeed: mc.clampSpeed,
		maxSpeed:   mc.maxSpeed,
	}
	if mc.pressure != nil {
		ctx.pressure = mc.pressure
		ctx.norms = newPressureNorms(params, mc.pressureRange[0], mc.pressureRange[1])
	}
	return ctx
}

// commit writes old + step*delta for every band cell into the swap buffers, decides each
// cell's label, then swaps. Returns the largest committed change.
func (mc *MultiActiveContour) commit(step float64) float64 {
	f := mc.fields
	maxDist := float64(mc.band.maxDist)
	var maxChange float64
	var updated [maxCandidates]float64

	for p, e := range mc.band.entries {
		idx := e.Index
		cd := &mc.deltas[p]
		label := f.labels.Data[idx]
		dist := float64(f.levelSet.Data[idx])

		newLabel, newDist := label, dist
		if cd.n > 0 {
			for k := 0; k < cd.n; k++ {
				change := step * float64(cd.delta[k])
				maxChange = math.Max(maxChange, math.Abs(change))
				updated[k] = float64(f.signed(idx, cd.labels[k])) + change
			}
			newLabel, newDist = claim(label, cd.labels[:cd.n], updated[:cd.n])
		}

		f.swapLabels.Data[idx] = newLabel
		f.swapLevelSet.Data[idx] = float32(math.Max(0, math.Min(maxDist, newDist)))
	}

	f.swap()
	for _, e := range mc.band.entries {
		f.swapLevelSet.Data[e.Index] = f.levelSet.Data[e.Index]
		f.swapLabels.Data[e.Index] = f.labels.Data[e.Index]
	}
	return maxChange
}

// claim decides a cell's label from the updated signed values of its candidates (ascending ids).
// An object keeps its cell while it stays inside; otherwise the most negative candidate takes
// it, ties going to the smaller id, or it becomes background at the nearest front's distance.
// An object never takes a cell another object is still inside.
func claim(label int32, labels []int32, updated []float64) (int32, float64) {
	if label != 0 {
		for k, l := range labels {
			if l == label && updated[k] <= 0 {
				return label, -updated[k]
			}
		}
	}

	best := -1
	for k, l := range labels {
		if l == label {
			continue
		}
		if updated[k] < 0 && (best < 0 || updated[k] < updated[best]) {
			best = k
		}
	}
	if best >= 0 {
		return labels[best], -updated[best]
	}

	nearest := math.Inf(1)
	for _, v := range updated {
		nearest = math.Min(nearest, math.Abs(v))
	}
	return 0, nearest
}
