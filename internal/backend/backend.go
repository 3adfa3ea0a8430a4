// Package backend defines the Backend contract that every audio/video/web
// player implementation satisfies, plus Registry, the per-family router
// that owns backend selection, locals-first ordering, and the 1000ms stop
// rate-limit. Audio, video, and web backends share the single Registry
// type; only the family name and the loaded plugin set differ.
package backend

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ocp-media/ocp/internal/bus"
	"github.com/ocp-media/ocp/internal/model"
)

// TrackInfo is the snapshot a backend reports back for the `.track_info`
// bus event.
type TrackInfo struct {
	URI          string
	LengthMs     int64
	PositionMs   int64
	Status       model.TrackStatus
}

// Backend is the contract every concrete player (local audio, local video,
// webview, external stream) implements.
type Backend interface {
	// Name identifies the backend for list_backends/preferred-backend
	// selection (the configured player name).
	Name() string

	// SupportedURIs returns the set of schemes/prefixes this backend
	// claims (e.g. "file", "http", "https"). A nil/empty return means
	// "matches anything" — used by catch-all backends.
	SupportedURIs() []string

	// Aliases returns human-spoken names used for preference matching
	// against a play utterance.
	Aliases() []string

	// IsRemote marks a backend whose playback lives outside this
	// process (an MPRIS peer) so Registry orders locals first.
	IsRemote() bool

	LoadTrack(ctx context.Context, entry model.Entry) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Stop(ctx context.Context) error
	SeekForward(ctx context.Context, ms int64) error
	SeekBackward(ctx context.Context, ms int64) error
	SetTrackPosition(ctx context.Context, ms int64) error
	TrackPosition(ctx context.Context) (int64, error)
	TrackLength(ctx context.Context) (int64, error)
	TrackInfo(ctx context.Context) (TrackInfo, error)

	// LowerVolume/RestoreVolume implement ducking; distinct
	// from a user-driven volume change, which backends may ignore here.
	LowerVolume(ctx context.Context) error
	RestoreVolume(ctx context.Context) error

	Shutdown(ctx context.Context) error
}

// TrackStartNotifier is implemented by backends that can report when a
// new track actually begins or the queue runs dry. Registry wires it up at registration; backends that can't tell
// (e.g. the webview, which doesn't own its media elements) simply don't
// implement it.
type TrackStartNotifier interface {
	SetTrackStartCallback(func(*model.Entry))
}

// Registry owns one Backend family (audio, video, or web) and implements
// the routing and rate-limit rules for it.
type Registry struct {
	mu       sync.Mutex
	family   string
	backends map[string]Backend
	order    []string // registration order, locals first by construction
	current  string
	bus      *bus.Bus

	playStart time.Time // for the 1000ms stale-stop window
}

const stopRateLimit = 1000 * time.Millisecond

// NewRegistry returns an empty Registry for the given family name
// ("audio", "video", or "web" — used only for logging/bus topic prefixes).
func NewRegistry(family string, b *bus.Bus) *Registry {
	return &Registry{family: family, backends: make(map[string]Backend), bus: b}
}

// Register adds a backend under its Name(). Locals should be registered
// before remotes so the registry's default ordered-first-match keeps
// locals-first.
func (r *Registry) Register(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := b.Name()
	if _, exists := r.backends[name]; !exists {
		r.order = append(r.order, name)
	}
	r.backends[name] = b

	if tn, ok := b.(TrackStartNotifier); ok {
		tn.SetTrackStartCallback(r.onTrackStart)
	}
}

// onTrackStart relays a backend's track-start/queue-end signal onto the
// bus: playing_track with the entry, or queue_end plus END_OF_MEDIA when
// the backend ran out.
func (r *Registry) onTrackStart(entry *model.Entry) {
	if r.bus == nil {
		return
	}
	if entry == nil {
		r.bus.Publish("queue_end", bus.Message{
			Type: "queue_end",
			Data: map[string]interface{}{"family": r.family},
		})
		r.bus.Publish("media.state", bus.Message{
			Type: "media.state",
			Data: map[string]interface{}{"state": string(model.MediaEndOfMedia), "family": r.family},
		})
		return
	}
	r.bus.Publish("playing_track", bus.Message{
		Type: "playing_track",
		Data: map[string]interface{}{
			"family": r.family,
			"uri":    entry.URI,
			"title":  entry.Title,
			"artist": entry.Artist,
		},
	})
}

// Unregister removes a backend (e.g. an MPRIS peer that vanished).
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.backends, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if r.current == name {
		r.current = ""
	}
}

// Select resolves which backend should handle uri: preferred (if given
// and it claims the URI), else the current backend (if it still claims
// the URI), else the first registered backend (in registration order)
// that claims it. Returns ok=false if nothing can serve the URI — callers
// must refuse silently, not fall back to an arbitrary backend.
func (r *Registry) Select(uri string, preferred string) (Backend, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if preferred != "" {
		if b, ok := r.backends[preferred]; ok && claims(b, uri) {
			return b, true
		}
	}
	if r.current != "" {
		if b, ok := r.backends[r.current]; ok && claims(b, uri) {
			return b, true
		}
	}
	for _, name := range r.order {
		b := r.backends[name]
		if claims(b, uri) {
			return b, true
		}
	}
	return nil, false
}

// PreferredByUtterance matches utterance (case-insensitive substring)
// against each registered backend's aliases, in registration order, and
// returns the first hit's name.
func (r *Registry) PreferredByUtterance(utterance string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u := strings.ToLower(utterance)
	if u == "" {
		return "", false
	}
	for _, name := range r.order {
		for _, alias := range r.backends[name].Aliases() {
			if alias == "" {
				continue
			}
			if strings.Contains(u, strings.ToLower(alias)) {
				return name, true
			}
		}
	}
	return "", false
}

func claims(b Backend, uri string) bool {
	schemes := b.SupportedURIs()
	if len(schemes) == 0 {
		return true
	}
	for _, scheme := range schemes {
		if strings.HasPrefix(uri, scheme) {
			return true
		}
	}
	return false
}

// SetCurrent records which backend is presently playing, so future
// Select calls prefer it over re-scanning registration order.
func (r *Registry) SetCurrent(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = name
}

// Current returns the name of the backend currently selected, if any.
func (r *Registry) Current() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current, r.current != ""
}

// SupportedSchemes returns the union of URI prefixes claimed by the
// registered backends, in registration order, deduplicated.
func (r *Registry) SupportedSchemes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]struct{})
	var out []string
	for _, name := range r.order {
		for _, scheme := range r.backends[name].SupportedURIs() {
			if _, ok := seen[scheme]; ok {
				continue
			}
			seen[scheme] = struct{}{}
			out = append(out, scheme)
		}
	}
	return out
}

// Backends returns the registered backend names in registration order,
// for the `.list_backends` bus event.
func (r *Registry) Backends() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Stop stops the current backend. A stop arriving within 1000ms of the
// last play is dropped silently, which protects against stale stops
// arriving after a fresh play.
func (r *Registry) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.playStart.IsZero() && time.Since(r.playStart) < stopRateLimit {
		r.mu.Unlock()
		log.Printf("[%s-backend] stop suppressed (rate limit)", r.family)
		return nil
	}
	name := r.current
	r.mu.Unlock()

	if name == "" {
		return nil
	}
	b, ok := r.backendByName(name)
	if !ok {
		return nil
	}
	return b.Stop(ctx)
}

func (r *Registry) backendByName(name string) (Backend, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.backends[name]
	return b, ok
}

// ShutdownAll calls Shutdown (not Stop) on every registered backend, in
// sorted name order, continuing past failures and returning the first
// error.
func (r *Registry) ShutdownAll(ctx context.Context) error {
	r.mu.Lock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	r.mu.Unlock()

	sort.Strings(names) // deterministic shutdown order for logs/tests
	var firstErr error
	for _, name := range names {
		b, ok := r.backendByName(name)
		if !ok {
			continue
		}
		if err := b.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("backend %s shutdown: %w", name, err)
		}
	}
	return firstErr
}
