package model

import (
	"sort"
	"sync"
)

// ChangeCallback is invoked whenever a Playlist's contents or cursor change.
type ChangeCallback func()

// Playlist is an ordered sequence of Entry with a cursor. It backs both
// the play queue and the disambiguation ("search") list, so it carries a
// confidence sort and first/last predicates alongside cursor navigation.
type Playlist struct {
	mu       sync.RWMutex
	items    []Entry
	position int
	onChange ChangeCallback
}

// NewPlaylist returns an empty playlist with the cursor at 0.
func NewPlaylist() *Playlist {
	return &Playlist{items: make([]Entry, 0)}
}

// SetOnChange registers a callback fired after any mutation.
func (p *Playlist) SetOnChange(cb ChangeCallback) {
	p.mu.Lock()
	p.onChange = cb
	p.mu.Unlock()
}

func (p *Playlist) notify() {
	p.mu.RLock()
	cb := p.onChange
	p.mu.RUnlock()
	if cb != nil {
		cb()
	}
}

// Add appends entries to the end of the playlist. The cursor is preserved.
func (p *Playlist) Add(entries ...Entry) {
	p.mu.Lock()
	p.items = append(p.items, entries...)
	p.mu.Unlock()
	p.notify()
}

// Replace swaps the entire contents of the playlist, resetting the cursor
// to 0 (or leaving the playlist empty if entries is empty).
func (p *Playlist) Replace(entries []Entry) {
	p.mu.Lock()
	p.items = append([]Entry(nil), entries...)
	p.position = 0
	p.mu.Unlock()
	p.notify()
}

// Clear empties the playlist and resets the cursor to 0.
func (p *Playlist) Clear() {
	p.mu.Lock()
	p.items = p.items[:0]
	p.position = 0
	p.mu.Unlock()
	p.notify()
}

// Len returns the number of entries.
func (p *Playlist) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.items)
}

// Items returns a defensive copy of the playlist contents.
func (p *Playlist) Items() []Entry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Entry, len(p.items))
	copy(out, p.items)
	return out
}

// Current returns the entry at the cursor and true, or the zero Entry and
// false if the playlist is empty.
func (p *Playlist) Current() (Entry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.items) == 0 {
		return Entry{}, false
	}
	return p.items[p.position], true
}

// Position reports the cursor and playlist size, satisfying the
// 0 <= position < len invariant whenever the playlist is non-empty.
func (p *Playlist) Position() (index, size int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.position, len(p.items)
}

// IndexOf returns the index of the first entry matching by URI, or -1.
func (p *Playlist) IndexOf(e Entry) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for i, item := range p.items {
		if item.Is(e) {
			return i
		}
	}
	return -1
}

// Contains reports whether an entry with the same URI is already queued.
func (p *Playlist) Contains(e Entry) bool {
	return p.IndexOf(e) >= 0
}

// GotoIndex moves the cursor to index, returning false if out of range.
func (p *Playlist) GotoIndex(index int) bool {
	p.mu.Lock()
	if index < 0 || index >= len(p.items) {
		p.mu.Unlock()
		return false
	}
	p.position = index
	p.mu.Unlock()
	p.notify()
	return true
}

// GotoEntry moves the cursor to the entry matching by URI, returning false
// if it isn't queued.
func (p *Playlist) GotoEntry(e Entry) bool {
	idx := p.IndexOf(e)
	if idx < 0 {
		return false
	}
	return p.GotoIndex(idx)
}

// Next advances the cursor by one and returns the new current entry.
// It does not wrap; callers implementing loop/shuffle semantics (Player)
// decide what happens at the end — Next simply reports whether it moved.
func (p *Playlist) Next() (Entry, bool) {
	p.mu.Lock()
	if len(p.items) == 0 || p.position >= len(p.items)-1 {
		p.mu.Unlock()
		return Entry{}, false
	}
	p.position++
	e := p.items[p.position]
	p.mu.Unlock()
	p.notify()
	return e, true
}

// Prev moves the cursor back by one and returns the new current entry.
func (p *Playlist) Prev() (Entry, bool) {
	p.mu.Lock()
	if len(p.items) == 0 || p.position <= 0 {
		p.mu.Unlock()
		return Entry{}, false
	}
	p.position--
	e := p.items[p.position]
	p.mu.Unlock()
	p.notify()
	return e, true
}

// IsFirstTrack reports whether the cursor is at index 0.
func (p *Playlist) IsFirstTrack() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.position == 0
}

// IsLastTrack reports whether the cursor is at the final index.
func (p *Playlist) IsLastTrack() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.items) == 0 || p.position == len(p.items)-1
}

// RandomIndex returns a uniformly random valid index using the supplied
// source of randomness (Player owns the *rand.Rand so its seeding and use
// are auditable in one place).
func (p *Playlist) RandomIndex(intn func(n int) int) (int, bool) {
	p.mu.RLock()
	n := len(p.items)
	p.mu.RUnlock()
	if n == 0 {
		return 0, false
	}
	return intn(n), true
}

// SortByConfidence sorts the playlist in place, descending by
// MatchConfidence, stably.
func (p *Playlist) SortByConfidence() {
	p.mu.Lock()
	sort.SliceStable(p.items, func(i, j int) bool {
		return p.items[i].MatchConfidence > p.items[j].MatchConfidence
	})
	p.mu.Unlock()
	p.notify()
}

// Dedup removes entries with duplicate URIs, keeping the first occurrence
// and preserving order — used when merging disambiguation results.
func (p *Playlist) Dedup() {
	p.mu.Lock()
	seen := make(map[string]struct{}, len(p.items))
	out := p.items[:0:0]
	for _, item := range p.items {
		if _, ok := seen[item.URI]; ok {
			continue
		}
		seen[item.URI] = struct{}{}
		out = append(out, item)
	}
	p.items = out
	if p.position >= len(p.items) {
		p.position = 0
	}
	p.mu.Unlock()
	p.notify()
}
