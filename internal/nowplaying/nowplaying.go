// Package nowplaying maintains the single mutable view of the currently
// active track: a field-level merge with skip/newonly controls for
// metadata arriving piecemeal from skills, extractors, and backends.
package nowplaying

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ocp-media/ocp/internal/model"
)

// Extractor resolves a logical URI (e.g. a `youtube//...` SEI form) into
// a concrete playable URI plus any metadata the extractor can supply.
type Extractor interface {
	Extract(uri string) (model.Entry, error)

	// SupportedSEIs lists the stream-extractor identifiers this extractor
	// understands, for the SEI.get bus reply.
	SupportedSEIs() []string
}

// ErrInvalidStream is returned by ExtractStream when the resolved URI is
// not a playable form.
var ErrInvalidStream = fmt.Errorf("nowplaying: invalid stream")

// NowPlaying is the live, mutable "now playing" view. Its fields
// are mutated only from the bus-delivery goroutine handling track.state /
// media.state / play / playback_time; other readers must use
// Snapshot.
type NowPlaying struct {
	mu        sync.RWMutex
	entry     model.Entry
	length    int64 // ms
	position  int64 // ms
	status    model.TrackStatus
	extractor Extractor
}

// New returns a NowPlaying in its reset state.
func New(extractor Extractor) *NowPlaying {
	n := &NowPlaying{extractor: extractor}
	n.resetLocked()
	return n
}

// Snapshot is the read-only view handed to the GUI and other readers that
// need a consistent multi-field view.
type Snapshot struct {
	model.Entry
	Length   int64
	Position int64
	Status   model.TrackStatus
}

// Snapshot returns a consistent copy of the current now-playing view.
func (n *NowPlaying) Snapshot() Snapshot {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return Snapshot{
		Entry:    n.entry,
		Length:   n.length,
		Position: n.position,
		Status:   n.status,
	}
}

// URI returns the current track URI.
func (n *NowPlaying) URI() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.entry.URI
}

// Update merges entry's non-zero fields into NowPlaying.
//
// skipKeys names fields to leave untouched regardless of newonly/entry
// content (matched against the lowercase field name: "uri", "title", ...).
//
// When newonly is true, only uri is written, and it is always overwritten —
// this lets stream extraction rewrite the URI to a resolved URL while
// keeping title/artwork supplied earlier by a skill. Every other field
// keeps its current value even where that value is empty, so metadata
// that arrives alongside the URI is not applied.
func (n *NowPlaying) Update(entry model.Entry, skipKeys []string, newonly bool) {
	skip := make(map[string]bool, len(skipKeys))
	for _, k := range skipKeys {
		skip[strings.ToLower(k)] = true
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	set := func(key string, apply func()) {
		if skip[key] {
			return
		}
		if newonly && key != "uri" {
			return
		}
		apply()
	}

	set("uri", func() {
		if entry.URI != "" {
			n.entry.URI = entry.URI
		}
	})
	set("original_uri", func() {
		if entry.OriginalURI != "" {
			n.entry.OriginalURI = entry.OriginalURI
		}
	})
	set("title", func() {
		if entry.Title != "" {
			n.entry.Title = entry.Title
		}
	})
	set("artist", func() {
		if entry.Artist != "" {
			n.entry.Artist = entry.Artist
		}
	})
	set("image", func() {
		if entry.Image != "" {
			n.entry.Image = entry.Image
		}
	})
	set("background_image", func() {
		if entry.BackgroundImage != "" {
			n.entry.BackgroundImage = entry.BackgroundImage
		}
	})
	set("duration_ms", func() {
		if entry.DurationMs != 0 {
			n.entry.DurationMs = entry.DurationMs
		}
	})
	set("playback_kind", func() {
		if entry.PlaybackKind != "" {
			n.entry.PlaybackKind = entry.PlaybackKind
		}
	})
	set("media_type", func() {
		if entry.MediaType != "" {
			n.entry.MediaType = entry.MediaType
		}
	})
	set("skill_id", func() {
		if entry.SkillID != "" {
			n.entry.SkillID = entry.SkillID
		}
	})
	set("skill_icon", func() {
		if entry.SkillIcon != "" {
			n.entry.SkillIcon = entry.SkillIcon
		}
	})
	set("match_confidence", func() {
		if entry.MatchConfidence != 0 {
			n.entry.MatchConfidence = entry.MatchConfidence
		}
	})
	set("javascript", func() {
		if entry.Javascript != "" {
			n.entry.Javascript = entry.Javascript
		}
	})
}

// Replace unconditionally installs entry as the current track — used by
// the `play` bus event, which must never let the previous track's fields
// bleed through.
func (n *NowPlaying) Replace(entry model.Entry) {
	n.mu.Lock()
	n.entry = entry
	n.length = entry.DurationMs
	n.position = entry.PositionMs
	n.mu.Unlock()
}

// SetStatus sets the track status field (driven by track.state events).
func (n *NowPlaying) SetStatus(status model.TrackStatus) {
	n.mu.Lock()
	n.status = status
	n.entry.TrackState = status
	n.mu.Unlock()
}

// SetPlaybackTime updates length/position (driven by playback_time
// events).
func (n *NowPlaying) SetPlaybackTime(length, position int64) {
	n.mu.Lock()
	n.length = length
	n.position = position
	n.mu.Unlock()
}

// Reset clears the view back to its empty state.
func (n *NowPlaying) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resetLocked()
}

func (n *NowPlaying) resetLocked() {
	n.entry = model.Entry{
		PlaybackKind: model.PlaybackUndefined,
		MediaType:    model.MediaGeneric,
		TrackState:   model.StatusDisambiguation,
	}
	n.length = 0
	n.position = 0
	n.status = model.StatusDisambiguation
}

// SupportedSEIs reports the extractor's stream-extractor identifiers, or
// nil when no extractor is wired.
func (n *NowPlaying) SupportedSEIs() []string {
	if n.extractor == nil {
		return nil
	}
	return n.extractor.SupportedSEIs()
}

// ExtractStream consults the stream extractor for the current track's
// URI. On success it applies the result with newonly=true and
// records OriginalURI as the URI that was just resolved. On failure, or if
// the resolved URI is not one of http(s)/file/an absolute path, it returns
// ErrInvalidStream and leaves NowPlaying untouched.
func (n *NowPlaying) ExtractStream() error {
	if n.extractor == nil {
		return nil
	}

	n.mu.RLock()
	preURI := n.entry.URI
	n.mu.RUnlock()

	resolved, err := n.extractor.Extract(preURI)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidStream, err)
	}

	if !isPlayableURI(resolved.URI) {
		return fmt.Errorf("%w: unsupported scheme for %q", ErrInvalidStream, resolved.URI)
	}

	resolved.OriginalURI = preURI
	n.Update(resolved, nil, true)
	n.mu.Lock()
	n.entry.OriginalURI = preURI
	n.mu.Unlock()
	return nil
}

func isPlayableURI(uri string) bool {
	switch {
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		return true
	case strings.HasPrefix(uri, "file://"):
		return true
	case strings.HasPrefix(uri, "/"):
		return true
	default:
		return false
	}
}
