package telemetry

import "math"

// Collector accumulates step records within windows and produces WindowStats.
type Collector struct {
	windowSteps int

	// Current window tracking
	windowStart int

	steps    int
	stepSum  float64
	minStep  float64
	maxDelta float64
	added    int
	removed  int
	vanished int
}

// NewCollector creates a collector that flushes every windowSteps steps.
func NewCollector(windowSteps int) *Collector {
	if windowSteps < 1 {
		windowSteps = 1
	}
	return &Collector{
		windowSteps: windowSteps,
		minStep:     math.Inf(1),
	}
}

// Record adds one step to the current window.
func (c *Collector) Record(r StepRecord) {
	c.steps++
	c.stepSum += r.Step
	c.minStep = math.Min(c.minStep, r.Step)
	c.maxDelta = math.Max(c.maxDelta, r.MaxDelta)
	c.added += r.Added
	c.removed += r.Removed
	c.vanished += r.Vanished
}

// ShouldFlush returns true if enough steps have passed to flush the window.
func (c *Collector) ShouldFlush(iteration int) bool {
	return iteration-c.windowStart >= c.windowSteps
}

// Flush produces a WindowStats and resets counters for the next window.
// last is the final step of the window; bandCells holds band cells per live object.
func (c *Collector) Flush(last StepRecord, bandCells []float64) WindowStats {
	var meanStep, minStep float64
	if c.steps > 0 {
		meanStep = c.stepSum / float64(c.steps)
		minStep = c.minStep
	}
	bandMean, bandStd, p10, p50, p90 := ComputeBandStats(bandCells)

	stats := WindowStats{
		WindowStart: c.windowStart,
		WindowEnd:   last.Iteration,
		Time:        last.Time,

		Steps:    c.steps,
		MeanStep: meanStep,
		MinStep:  minStep,
		MaxDelta: c.maxDelta,

		Added:   c.added,
		Removed: c.removed,

		ActiveCells: last.ActiveCells,
		Objects:     last.Objects,
		Vanished:    c.vanished,

		BandMean: bandMean,
		BandStd:  bandStd,
		BandP10:  p10,
		BandP50:  p50,
		BandP90:  p90,
	}

	// Reset for next window
	c.windowStart = last.Iteration
	c.steps = 0
	c.stepSum = 0
	c.minStep = math.Inf(1)
	c.maxDelta = 0
	c.added = 0
	c.removed = 0
	c.vanished = 0

	return stats
}

// WindowSteps returns the number of steps per window.
func (c *Collector) WindowSteps() int {
	return c.windowSteps
}
