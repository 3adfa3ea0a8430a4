package model

import "testing"

func entry(uri string, confidence int) Entry {
	return Entry{URI: uri, MatchConfidence: confidence}
}

func TestPlaylistCursorInvariant(t *testing.T) {
	p := NewPlaylist()

	if _, ok := p.Current(); ok {
		t.Fatal("empty playlist should have no current entry")
	}

	p.Add(entry("a", 0), entry("b", 0), entry("c", 0))
	idx, size := p.Position()
	if idx != 0 || size != 3 {
		t.Fatalf("got position %d/%d, want 0/3", idx, size)
	}

	// Cursor preserved across Add.
	p.GotoIndex(2)
	p.Add(entry("d", 0))
	idx, _ = p.Position()
	if idx != 2 {
		t.Fatalf("cursor moved on Add: got %d, want 2", idx)
	}

	// Clear resets cursor to 0.
	p.Clear()
	idx, size = p.Position()
	if idx != 0 || size != 0 {
		t.Fatalf("got position %d/%d after clear, want 0/0", idx, size)
	}
}

func TestPlaylistNextPrevRoundTrip(t *testing.T) {
	p := NewPlaylist()
	p.Add(entry("a", 0), entry("b", 0), entry("c", 0))

	next, ok := p.Next()
	if !ok || next.URI != "b" {
		t.Fatalf("Next: got %q ok=%v, want b", next.URI, ok)
	}
	prev, ok := p.Prev()
	if !ok || prev.URI != "a" {
		t.Fatalf("Prev: got %q ok=%v, want a", prev.URI, ok)
	}
}

func TestPlaylistNextStopsAtEnd(t *testing.T) {
	p := NewPlaylist()
	p.Add(entry("a", 0), entry("b", 0))
	p.GotoIndex(1)

	if _, ok := p.Next(); ok {
		t.Fatal("Next at last track should not advance")
	}
	if !p.IsLastTrack() {
		t.Fatal("cursor should remain at last track")
	}
}

func TestPlaylistPrevStopsAtStart(t *testing.T) {
	p := NewPlaylist()
	p.Add(entry("a", 0), entry("b", 0))

	if _, ok := p.Prev(); ok {
		t.Fatal("Prev at first track should not move")
	}
	if !p.IsFirstTrack() {
		t.Fatal("cursor should remain at first track")
	}
}

func TestSortByConfidenceStableDescending(t *testing.T) {
	p := NewPlaylist()
	p.Add(
		Entry{URI: "low", MatchConfidence: 10},
		Entry{URI: "high-1", MatchConfidence: 90},
		Entry{URI: "mid", MatchConfidence: 50},
		Entry{URI: "high-2", MatchConfidence: 90},
	)
	p.SortByConfidence()

	items := p.Items()
	for i := 1; i < len(items); i++ {
		if items[i].MatchConfidence > items[i-1].MatchConfidence {
			t.Fatalf("confidence increased at %d: %v", i, items)
		}
	}
	// Equal confidences keep their original relative order.
	if items[0].URI != "high-1" || items[1].URI != "high-2" {
		t.Fatalf("sort not stable: %q, %q", items[0].URI, items[1].URI)
	}
}

func TestPlaylistDedupKeepsFirstOccurrence(t *testing.T) {
	p := NewPlaylist()
	p.Add(
		Entry{URI: "a", Title: "first"},
		Entry{URI: "b"},
		Entry{URI: "a", Title: "second"},
	)
	p.Dedup()

	items := p.Items()
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[0].Title != "first" {
		t.Fatalf("dedup kept the wrong occurrence: %q", items[0].Title)
	}
}

func TestGotoEntryByURI(t *testing.T) {
	p := NewPlaylist()
	p.Add(entry("a", 0), entry("b", 0))

	if !p.GotoEntry(Entry{URI: "b", Title: "different metadata"}) {
		t.Fatal("GotoEntry should match by URI alone")
	}
	cur, _ := p.Current()
	if cur.URI != "b" {
		t.Fatalf("got current %q, want b", cur.URI)
	}
	if p.GotoEntry(Entry{URI: "missing"}) {
		t.Fatal("GotoEntry should fail for an unqueued URI")
	}
}
