package telemetry

import (
	"log/slog"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// StepRecord is one row of steps.csv.
type StepRecord struct {
	Iteration     int     `csv:"iteration"`
	Time          float64 `csv:"time"`
	Step          float64 `csv:"step"`
	ActiveCells   int     `csv:"active"`
	Added         int     `csv:"added"`
	Removed       int     `csv:"removed"`
	Objects       int     `csv:"objects"`
	MaxDelta      float64 `csv:"max_delta"`
	MaxChange     float64 `csv:"max_change"`
	Reinitialized bool    `csv:"reinitialized"`
	Vanished      int     `csv:"vanished"`
}

// LogValue implements slog.LogValuer for structured logging.
func (r StepRecord) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("iteration", r.Iteration),
		slog.Float64("time", r.Time),
		slog.Float64("step", r.Step),
		slog.Int("active", r.ActiveCells),
		slog.Int("added", r.Added),
		slog.Int("removed", r.Removed),
		slog.Int("objects", r.Objects),
		slog.Float64("max_delta", r.MaxDelta),
	)
}

// WindowStats holds aggregated statistics for a window of steps.
type WindowStats struct {
	WindowStart int     `csv:"-"`
	WindowEnd   int     `csv:"window_end"`
	Time        float64 `csv:"time"`

	// Steps taken during the window
	Steps    int     `csv:"steps"`
	MeanStep float64 `csv:"mean_step"`
	MinStep  float64 `csv:"min_step"`
	MaxDelta float64 `csv:"max_delta"`

	// Band churn during the window
	Added   int `csv:"added"`
	Removed int `csv:"removed"`

	// State at window end
	ActiveCells int `csv:"active"`
	Objects     int `csv:"objects"`
	Vanished    int `csv:"vanished"`

	// Band cells per object at window end
	BandMean float64 `csv:"band_mean"`
	BandStd  float64 `csv:"band_std"`
	BandP10  float64 `csv:"band_p10"`
	BandP50  float64 `csv:"band_p50"`
	BandP90  float64 `csv:"band_p90"`
}

// Percentile calculates the p-th percentile of a sorted slice.
// p should be in [0, 1]. Returns 0 if slice is empty.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}

	// Linear interpolation
	idx := p * float64(n-1)
	lo := int(idx)
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}

	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// ComputeBandStats calculates mean, population std and percentiles of per-object band sizes.
func ComputeBandStats(values []float64) (mean, std, p10, p50, p90 float64) {
	if len(values) == 0 {
		return 0, 0, 0, 0, 0
	}

	mean, std = stat.PopMeanStdDev(values, nil)

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	p10 = Percentile(sorted, 0.10)
	p50 = Percentile(sorted, 0.50)
	p90 = Percentile(sorted, 0.90)

	return mean, std, p10, p50, p90
}

// LogValue implements slog.LogValuer for structured logging.
func (s WindowStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("window_start", s.WindowStart),
		slog.Int("window_end", s.WindowEnd),
		slog.Float64("time", s.Time),
		slog.Int("steps", s.Steps),
		slog.Float64("mean_step", s.MeanStep),
		slog.Float64("min_step", s.MinStep),
		slog.Float64("max_delta", s.MaxDelta),
		slog.Int("added", s.Added),
		slog.Int("removed", s.Removed),
		slog.Int("active", s.ActiveCells),
		slog.Int("objects", s.Objects),
		slog.Int("vanished", s.Vanished),
		slog.Float64("band_mean", s.BandMean),
		slog.Float64("band_std", s.BandStd),
		slog.Float64("band_p50", s.BandP50),
	)
}

// LogStats logs the window stats using slog.
func (s WindowStats) LogStats() {
	slog.Info("stats", "window", s)
}
