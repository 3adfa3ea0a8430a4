// Package player implements the central playback state machine. Player
// owns NowPlaying, the playlist, the media catalog, and the three backend
// registries, and drives external-player takeover logic: one method per
// inbound bus event, delegating into the small collaborators.
package player

import (
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/ocp-media/ocp/internal/backend"
	"github.com/ocp-media/ocp/internal/bus"
	"github.com/ocp-media/ocp/internal/catalog"
	"github.com/ocp-media/ocp/internal/config"
	"github.com/ocp-media/ocp/internal/model"
	"github.com/ocp-media/ocp/internal/mpris"
	"github.com/ocp-media/ocp/internal/nowplaying"
)

// Registries groups the three per-medium backend registries Player
// multiplexes over.
type Registries struct {
	Audio *backend.Registry
	Video *backend.Registry
	Web   *backend.Registry
}

func (r Registries) forKind(kind model.PlaybackKind) *backend.Registry {
	switch kind {
	case model.PlaybackAudio:
		return r.Audio
	case model.PlaybackVideo:
		return r.Video
	case model.PlaybackWebview:
		return r.Web
	default:
		return nil
	}
}

// Player is the central state machine.
type Player struct {
	mu sync.Mutex

	state      model.PlayerState
	mediaState model.MediaState
	loopState  model.LoopState
	shuffle    bool

	pausedOnDuck bool
	hasGUI       bool

	// volume is the last value observed or set through the bus volume
	// round-trip; Snapshot reports it to MPRIS clients.
	volume float64

	// externalMain mirrors bridge.MainPlayer(): non-empty while playback
	// is MPRIS-sourced, naming the bus name of the peer in control.
	externalMain string

	trackHistory map[string]int // uri -> play_count

	// playStarted backs the player-level stale-stop window:
	// a stop arriving within a second of the last play request is dropped.
	playStarted time.Time

	// lastUtterance is the spoken phrase from the most recent play
	// request, forwarded to registries for alias matching.
	lastUtterance string

	playlist   *model.Playlist
	nowPlaying *nowplaying.NowPlaying
	catalog    *catalog.Catalog
	registries Registries
	bridge     *mpris.Bridge
	bus        *bus.Bus
	cfg        *config.Config

	rng *rand.Rand
}

// New constructs a Player. bridge may be nil until Service starts it;
// SetBridge wires it in afterward to avoid a construction-order cycle
// (Bridge needs a PlayerCommands, which is this Player).
func New(cfg *config.Config, b *bus.Bus, np *nowplaying.NowPlaying, cat *catalog.Catalog, regs Registries) *Player {
	return &Player{
		state:        model.StateStopped,
		mediaState:   model.MediaNoMedia,
		loopState:    model.LoopNone,
		volume:       1.0,
		trackHistory: make(map[string]int),
		playlist:     model.NewPlaylist(),
		nowPlaying:   np,
		catalog:      cat,
		registries:   regs,
		bus:          b,
		cfg:          cfg,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetBridge wires in the ExternalPlayerBridge after construction.
func (p *Player) SetBridge(br *mpris.Bridge) {
	p.mu.Lock()
	p.bridge = br
	p.mu.Unlock()
}

// SetHasGUI records whether a GUI is attached, consulted by validateStream
// to decide whether to coerce playback_kind to AUDIO.
func (p *Player) SetHasGUI(has bool) {
	p.mu.Lock()
	p.hasGUI = has
	p.mu.Unlock()
}

// State/MediaState/LoopState/Shuffle are read-only accessors for Service
// and tests; mutation always goes through the transition methods below so
// every state change can publish its accompanying bus event.
func (p *Player) State() model.PlayerState { p.mu.Lock(); defer p.mu.Unlock(); return p.state }
func (p *Player) MediaState() model.MediaState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mediaState
}
func (p *Player) LoopState() model.LoopState { p.mu.Lock(); defer p.mu.Unlock(); return p.loopState }
func (p *Player) Shuffle() bool              { p.mu.Lock(); defer p.mu.Unlock(); return p.shuffle }

// Playlist/NowPlaying/Catalog expose the owned collaborators read-only to
// Service wiring and tests.
func (p *Player) Playlist() *model.Playlist      { return p.playlist }
func (p *Player) NowPlaying() *nowplaying.NowPlaying { return p.nowPlaying }
func (p *Player) Catalog() *catalog.Catalog      { return p.catalog }

// setState transitions PlayerState and publishes player.state.
func (p *Player) setState(state model.PlayerState) {
	p.mu.Lock()
	changed := p.state != state
	p.state = state
	p.mu.Unlock()

	if !changed {
		return
	}
	if p.bus != nil {
		p.bus.Publish("player.state", bus.Message{
			Type: "player.state",
			Data: map[string]interface{}{"state": string(state)},
		})
	}
	p.refreshBridgeProperties()
	p.broadcastStatus()
}

// setMediaState assigns media_state *before* emitting media.state.
func (p *Player) setMediaState(state model.MediaState) {
	p.mu.Lock()
	p.mediaState = state
	p.mu.Unlock()

	if p.bus != nil {
		p.bus.Publish("media.state", bus.Message{
			Type: "media.state",
			Data: map[string]interface{}{"state": string(state)},
		})
	}
	p.broadcastStatus()
}

// refreshBridgeProperties updates the exported CanPause/CanPlay/
// PlaybackStatus properties on the bridge.
func (p *Player) refreshBridgeProperties() {
	p.mu.Lock()
	br := p.bridge
	p.mu.Unlock()
	if br == nil {
		return
	}
	snap := p.StatusSnapshot()
	br.PublishSelfChanged(map[string]interface{}{
		"PlaybackStatus": mprisPlaybackStatus(snap.PlayerState),
		"CanGoNext":      p.canGoNext(),
		"CanGoPrevious":  p.canGoPrevious(),
	})
}

func mprisPlaybackStatus(s model.PlayerState) string {
	switch s {
	case model.StatePlaying:
		return mpris.PlaybackStatusPlaying
	case model.StatePaused:
		return mpris.PlaybackStatusPaused
	default:
		return mpris.PlaybackStatusStopped
	}
}

func (p *Player) canGoNext() bool {
	p.mu.Lock()
	loop := p.loopState
	p.mu.Unlock()
	if p.playlist.Len() == 0 {
		return loop != model.LoopNone
	}
	return !p.playlist.IsLastTrack() || loop != model.LoopNone
}

func (p *Player) canGoPrevious() bool {
	return !p.playlist.IsFirstTrack()
}

// playingMPRIS reports whether the current track is an external takeover.
func (p *Player) playingMPRIS() bool {
	return p.nowPlaying.Snapshot().PlaybackKind == model.PlaybackMPRIS
}

// playingSkill reports whether the current track is skill-owned.
func (p *Player) playingSkill() (skillID string, ok bool) {
	snap := p.nowPlaying.Snapshot()
	if snap.PlaybackKind == model.PlaybackSkill {
		return snap.SkillID, true
	}
	return "", false
}

func logf(format string, args ...interface{}) {
	log.Printf("[PLAYER] "+format, args...)
}
