package session

import (
	"log/slog"

	"github.com/pthm-cable/contour/telemetry"
)

// flushTelemetry checks if the stats window should be flushed and handles bookmarks.
func (s *Session) flushTelemetry(last telemetry.StepRecord) {
	if !s.collector.ShouldFlush(last.Iteration) {
		return
	}

	stats := s.collector.Flush(last, s.sampleBandCells())
	perfStats := s.perf.Stats()

	// Log stats if enabled (console output)
	if s.logStats {
		stats.LogStats()
		perfStats.LogStats()
	}

	if err := s.output.WriteWindow(stats); err != nil {
		slog.Error("failed to write window", "error", err)
	}
	if err := s.output.WritePerf(perfStats, stats.WindowEnd); err != nil {
		slog.Error("failed to write perf", "error", err)
	}

	for _, bm := range s.bookmarks.Check(stats) {
		if s.logStats {
			bm.LogBookmark()
		}
		if err := s.output.WriteBookmark(bm); err != nil {
			slog.Error("failed to write bookmark", "error", err)
		}
	}
}

// sampleBandCells collects the band size of every live object.
func (s *Session) sampleBandCells() []float64 {
	objects := s.contour.Objects()
	ids := objects.IDs()
	cells := make([]float64, 0, len(ids))
	for _, l := range ids {
		if st, ok := objects.Stats(l); ok {
			cells = append(cells, float64(st.BandCells))
		}
	}
	return cells
}
