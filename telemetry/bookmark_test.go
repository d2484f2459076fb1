package telemetry

import "testing"

func hasBookmark(bookmarks []Bookmark, typ BookmarkType) bool {
	for _, bm := range bookmarks {
		if bm.Type == typ {
			return true
		}
	}
	return false
}

func TestBookmarkDetector_ObjectVanished(t *testing.T) {
	bd := NewBookmarkDetector(10)

	bookmarks := bd.Check(WindowStats{WindowEnd: 50, Vanished: 1, Objects: 2})
	if !hasBookmark(bookmarks, BookmarkObjectVanished) {
		t.Error("expected object_vanished bookmark")
	}
}

func TestBookmarkDetector_BandSurge(t *testing.T) {
	bd := NewBookmarkDetector(10)

	// Add some history with steady growth
	for i := 0; i < 5; i++ {
		bd.Check(WindowStats{WindowEnd: i * 50, Added: 100, MaxDelta: 1})
	}

	bookmarks := bd.Check(WindowStats{WindowEnd: 300, Added: 400, MaxDelta: 1})
	if !hasBookmark(bookmarks, BookmarkBandSurge) {
		t.Error("expected band_surge bookmark")
	}
}

func TestBookmarkDetector_FrontSlowdown(t *testing.T) {
	bd := NewBookmarkDetector(10)

	for i := 0; i < 5; i++ {
		bd.Check(WindowStats{WindowEnd: i * 50, Added: 10, MaxDelta: 2})
	}

	bookmarks := bd.Check(WindowStats{WindowEnd: 300, Added: 10, MaxDelta: 0.1})
	if !hasBookmark(bookmarks, BookmarkFrontSlowdown) {
		t.Error("expected front_slowdown bookmark")
	}
}

func TestBookmarkDetector_BandStableFiresOnce(t *testing.T) {
	bd := NewBookmarkDetector(10)

	fired := 0
	for i := 0; i < 8; i++ {
		bookmarks := bd.Check(WindowStats{WindowEnd: i * 50, ActiveCells: 900, MaxDelta: 1})
		if hasBookmark(bookmarks, BookmarkBandStable) {
			fired++
			if i < 3 {
				t.Errorf("band_stable fired after only %d windows", i+1)
			}
		}
	}
	if fired != 1 {
		t.Errorf("band_stable fired %d times, want 1", fired)
	}

	// Movement re-arms the detector
	bd.Check(WindowStats{WindowEnd: 450, Added: 5, ActiveCells: 905, MaxDelta: 1})
	for i := 0; i < 4; i++ {
		bookmarks := bd.Check(WindowStats{WindowEnd: 500 + i*50, ActiveCells: 905, MaxDelta: 1})
		if hasBookmark(bookmarks, BookmarkBandStable) {
			return
		}
	}
	t.Error("expected band_stable after the band settled again")
}
