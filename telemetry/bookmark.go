package telemetry

import (
	"fmt"
	"log/slog"
)

// BookmarkType identifies the type of bookmark.
type BookmarkType string

const (
	BookmarkObjectVanished BookmarkType = "object_vanished"
	BookmarkBandSurge      BookmarkType = "band_surge"
	BookmarkFrontSlowdown  BookmarkType = "front_slowdown"
	BookmarkBandStable     BookmarkType = "band_stable"
)

// Bookmark represents an automatically triggered bookmark.
type Bookmark struct {
	Type        BookmarkType `csv:"type"`
	Iteration   int          `csv:"iteration"`
	Description string       `csv:"description"`
}

// LogBookmark logs the bookmark using slog.
func (b Bookmark) LogBookmark() {
	slog.Info("bookmark",
		"type", string(b.Type),
		"iteration", b.Iteration,
		"description", b.Description,
	)
}

// BookmarkDetector detects notable moments in a run from window stats.
type BookmarkDetector struct {
	// Rolling history (circular buffer)
	history     []WindowStats
	historySize int
	historyIdx  int
	historyFull bool

	// Set once band_stable fires; cleared when the band moves again.
	stableReported bool
}

// NewBookmarkDetector creates a detector with the given history size.
func NewBookmarkDetector(historySize int) *BookmarkDetector {
	if historySize < 4 {
		historySize = 4 // minimum for band stability detection
	}
	return &BookmarkDetector{
		history:     make([]WindowStats, historySize),
		historySize: historySize,
	}
}

// Check analyzes the latest stats and returns any triggered bookmarks.
func (bd *BookmarkDetector) Check(stats WindowStats) []Bookmark {
	var bookmarks []Bookmark

	if stats.Vanished > 0 {
		bookmarks = append(bookmarks, Bookmark{
			Type:        BookmarkObjectVanished,
			Iteration:   stats.WindowEnd,
			Description: fmt.Sprintf("%d object(s) vanished, %d remain", stats.Vanished, stats.Objects),
		})
	}

	if bd.historyFull || bd.historyIdx > 0 {
		// Band surge: cells admitted > 2x rolling average
		if b := bd.checkBandSurge(stats); b != nil {
			bookmarks = append(bookmarks, *b)
		}

		// Front slowdown: fastest front below a quarter of its rolling average
		if b := bd.checkFrontSlowdown(stats); b != nil {
			bookmarks = append(bookmarks, *b)
		}
	}

	// Update history before the stability check so it sees this window
	bd.addToHistory(stats)

	if b := bd.checkBandStable(stats); b != nil {
		bookmarks = append(bookmarks, *b)
	}

	return bookmarks
}

func (bd *BookmarkDetector) addToHistory(stats WindowStats) {
	bd.history[bd.historyIdx] = stats
	bd.historyIdx = (bd.historyIdx + 1) % bd.historySize
	if bd.historyIdx == 0 {
		bd.historyFull = true
	}
}

// getHistory returns windows oldest first.
func (bd *BookmarkDetector) getHistory() []WindowStats {
	if !bd.historyFull {
		return bd.history[:bd.historyIdx]
	}
	ordered := make([]WindowStats, 0, bd.historySize)
	ordered = append(ordered, bd.history[bd.historyIdx:]...)
	return append(ordered, bd.history[:bd.historyIdx]...)
}

func (bd *BookmarkDetector) checkBandSurge(stats WindowStats) *Bookmark {
	history := bd.getHistory()
	if len(history) < 3 {
		return nil
	}

	var total int
	for _, h := range history {
		total += h.Added
	}
	avgAdded := float64(total) / float64(len(history))
	if avgAdded == 0 {
		return nil
	}

	if float64(stats.Added) > avgAdded*2.0 && stats.Added >= 50 {
		return &Bookmark{
			Type:        BookmarkBandSurge,
			Iteration:   stats.WindowEnd,
			Description: fmt.Sprintf("Band admitted %d cells, %.1fx average (%.0f)", stats.Added, float64(stats.Added)/avgAdded, avgAdded),
		}
	}

	return nil
}

func (bd *BookmarkDetector) checkFrontSlowdown(stats WindowStats) *Bookmark {
	history := bd.getHistory()
	if len(history) < 3 {
		return nil
	}

	var total float64
	for _, h := range history {
		total += h.MaxDelta
	}
	avgDelta := total / float64(len(history))
	if avgDelta == 0 {
		return nil
	}

	if stats.MaxDelta < avgDelta*0.25 {
		return &Bookmark{
			Type:        BookmarkFrontSlowdown,
			Iteration:   stats.WindowEnd,
			Description: fmt.Sprintf("Max speed %.3f fell below a quarter of average (%.3f)", stats.MaxDelta, avgDelta),
		}
	}

	return nil
}

func (bd *BookmarkDetector) checkBandStable(stats WindowStats) *Bookmark {
	if stats.Added > 0 || stats.Removed > 0 {
		bd.stableReported = false
		return nil
	}
	if bd.stableReported {
		return nil
	}

	history := bd.getHistory()
	if len(history) < 4 {
		return nil
	}

	// The last four windows admitted and dropped nothing
	for _, h := range history[len(history)-4:] {
		if h.Added > 0 || h.Removed > 0 {
			return nil
		}
	}

	bd.stableReported = true
	return &Bookmark{
		Type:        BookmarkBandStable,
		Iteration:   stats.WindowEnd,
		Description: fmt.Sprintf("Band unchanged for 4 windows at %d cells", stats.ActiveCells),
	}
}
