// Package mpris bridges OCP onto the desktop media-player bus: discovery
// and mirroring of peer media players, plus exporting OCP itself as an
// org.mpris.MediaPlayer2 peer other tools can control.
package mpris

import (
	"context"
	"time"
)

// Meta is the subset of MPRIS Metadata OCP mirrors into NowPlaying on
// takeover.
type Meta struct {
	Title    string
	Artist   string
	ArtURL   string
	LengthUs int64
}

// PlaybackStatus/LoopStatus string values, matching the MPRIS v2 wire
// vocabulary verbatim.
const (
	PlaybackStatusPlaying = "Playing"
	PlaybackStatusPaused  = "Paused"
	PlaybackStatusStopped = "Stopped"

	LoopStatusNone     = "None"
	LoopStatusTrack    = "Track"
	LoopStatusPlaylist = "Playlist"
)

// PropChange is one PropertiesChanged notification from a peer, demuxed by
// the transport and delivered to the Bridge's discovery loop.
type PropChange struct {
	BusName   string
	Interface string
	Changed   map[string]interface{}
}

// Peer is a handle to one external media player discovered on the bus.
type Peer interface {
	BusName() string
	Introspect(ctx context.Context) error
	Metadata(ctx context.Context) (Meta, error)
	PlaybackStatus(ctx context.Context) (string, error)
	LoopStatus(ctx context.Context) (string, error)
	Shuffle(ctx context.Context) (bool, error)
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Stop(ctx context.Context) error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error
	Close() error
}

// RootObject is what Bridge exports under the well-known OCP bus name; it
// answers both the root identity interface and the player control
// interface. Bridge itself implements RootObject,
// delegating to the PlayerCommands it was constructed with.
type RootObject interface {
	Identity() string
	SupportedURISchemes() []string
	SupportedMimeTypes() []string

	PlaybackStatus() string
	LoopStatus() string
	SetLoopStatus(string)
	Shuffle() bool
	SetShuffle(bool)
	Metadata() map[string]interface{}
	CanGoNext() bool
	CanGoPrevious() bool
	CanPause() bool
	CanPlay() bool

	Previous()
	Next()
	Stop()
	Play()
	Pause()
	PlayPause()

	GetVolume() float64
	SetVolume(float64)
}

// Transport is the desktop-bus connection OCP rides on. A linux build
// backs it with godbus against org.mpris.MediaPlayer2.*; other platforms
// get a disabled stub.
type Transport interface {
	// Connect dials the configured bus (session or system, per
	// media.dbus_type) and exports self under the well-known OCP name.
	Connect(ctx context.Context, dbusType string, self RootObject) error
	Close() error

	// ListPeers enumerates current bus names matching the MPRIS prefix,
	// excluding ignored names.
	ListPeers(ctx context.Context, ignored map[string]bool) ([]string, error)
	NewPeer(busName string) Peer

	// WatchPropertyChanges subscribes once to PropertiesChanged signals
	// bus-wide; the transport filters nothing itself — Bridge discards
	// notifications from senders it doesn't track.
	WatchPropertyChanges(ctx context.Context) (<-chan PropChange, error)

	// EmitSelfPropertiesChanged notifies listeners that Bridge's own
	// exported player properties changed.
	EmitSelfPropertiesChanged(props map[string]interface{}) error
}

// ErrUnsupported is returned by Connect on platforms with no desktop media
// bus.
var ErrUnsupported = unsupportedError{}

type unsupportedError struct{}

func (unsupportedError) Error() string { return "mpris: desktop media-player bus not supported on this platform" }

// tickInterval is the discovery loop's cooperative poll period.
const tickInterval = time.Second
