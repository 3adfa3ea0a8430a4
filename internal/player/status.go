package player

import (
	"github.com/ocp-media/ocp/internal/bus"
	"github.com/ocp-media/ocp/internal/model"
	"github.com/ocp-media/ocp/internal/mpris"
)

// Status is the record broadcast on every player-state or now-playing
// change.
type Status struct {
	PlaybackKind    model.PlaybackKind
	MediaType       model.MediaType
	PlayerState     model.PlayerState
	LoopState       model.LoopState
	MediaState      model.MediaState
	Shuffle         bool
	PlaylistPosition int
	PlaylistSize     int
	Title           string
	Artist          string
	Image           string
}

// StatusSnapshot returns the current Status record.
func (p *Player) StatusSnapshot() Status {
	p.mu.Lock()
	state := p.state
	mediaState := p.mediaState
	loopState := p.loopState
	shuffle := p.shuffle
	p.mu.Unlock()

	now := p.nowPlaying.Snapshot()
	pos, size := p.playlist.Position()

	return Status{
		PlaybackKind:     now.PlaybackKind,
		MediaType:        now.MediaType,
		PlayerState:      state,
		LoopState:        loopState,
		MediaState:       mediaState,
		Shuffle:          shuffle,
		PlaylistPosition: pos,
		PlaylistSize:     size,
		Title:            now.Title,
		Artist:           now.Artist,
		Image:            now.Image,
	}
}

func (s Status) toData() map[string]interface{} {
	return map[string]interface{}{
		"playback_kind":    string(s.PlaybackKind),
		"media_type":       string(s.MediaType),
		"player_state":     string(s.PlayerState),
		"loop_state":       string(s.LoopState),
		"media_state":      string(s.MediaState),
		"shuffle":          s.Shuffle,
		"playlist_position": s.PlaylistPosition,
		"playlist_size":     s.PlaylistSize,
		"title":            s.Title,
		"artist":           s.Artist,
		"image":            s.Image,
	}
}

// broadcastStatus publishes the current status unconditionally on
// "status". Handlers that reply to a specific "status" request
// additionally publish to the requester's reply_to topic; see subscribe.go.
func (p *Player) broadcastStatus() {
	if p.bus == nil {
		return
	}
	p.bus.Publish("status", bus.Message{Type: "status", Data: p.StatusSnapshot().toData()})
}

// mprisSnapshot adapts Status into the narrower view
// mpris.PlayerSnapshot wants, satisfying PlayerCommands.Snapshot.
func (p *Player) mprisSnapshot() mpris.PlayerSnapshot {
	s := p.StatusSnapshot()
	now := p.nowPlaying.Snapshot()
	p.mu.Lock()
	volume := p.volume
	p.mu.Unlock()
	return mpris.PlayerSnapshot{
		PlaybackStatus: mprisPlaybackStatus(s.PlayerState),
		LoopStatus:     mprisLoopStatus(s.LoopState),
		Shuffle:        s.Shuffle,
		Volume:         volume,
		CanGoNext:      p.canGoNext(),
		CanGoPrevious:  p.canGoPrevious(),
		CanPlay:        true,
		CanPause:       s.PlayerState == model.StatePlaying,
		Meta: mpris.Meta{
			Title:    now.Title,
			Artist:   now.Artist,
			ArtURL:   now.Image,
			LengthUs: now.Length * 1000,
		},
	}
}

func mprisLoopStatus(l model.LoopState) string {
	switch l {
	case model.LoopRepeatTrack:
		return mpris.LoopStatusTrack
	case model.LoopRepeatPlaylist:
		return mpris.LoopStatusPlaylist
	default:
		return mpris.LoopStatusNone
	}
}
