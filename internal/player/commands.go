package player

import (
	"context"
	"strings"
	"time"

	"github.com/ocp-media/ocp/internal/backend"
	"github.com/ocp-media/ocp/internal/bus"
	"github.com/ocp-media/ocp/internal/model"
	"github.com/ocp-media/ocp/internal/mpris"
)

// This file is Player's half of the Bridge<->Player cycle: Bridge
// drives Player only through the mpris.PlayerCommands interface below, and
// reads it only through Snapshot. No Player field is ever shared directly.

// Play implements mpris.PlayerCommands: resume if paused, otherwise
// (re)start the current track if there is one.
func (p *Player) Play(ctx context.Context) {
	switch p.State() {
	case model.StatePaused:
		p.Resume(ctx)
	default:
		if p.nowPlaying.URI() == "" {
			return
		}
		p.play(ctx)
	}
}

// Next/Previous adapt the bridge's transport controls onto the playlist
// navigation rules.
func (p *Player) Next(ctx context.Context)     { p.PlayNext(ctx) }
func (p *Player) Previous(ctx context.Context) { p.PlayPrev(ctx) }

// PlayPause toggles between PLAYING and PAUSED.
func (p *Player) PlayPause(ctx context.Context) {
	if p.State() == model.StatePlaying {
		p.Pause(ctx)
	} else {
		p.Play(ctx)
	}
}

// SetShuffle is the bridge-inbound shuffle setter. Unlike the bus-driven
// toggles it never forwards back to the bridge — the request originated
// there, and bouncing it back would loop.
func (p *Player) SetShuffle(v bool) {
	p.mu.Lock()
	p.shuffle = v
	p.mu.Unlock()
	p.broadcastStatus()
}

// SetLoopStatus maps the MPRIS LoopStatus vocabulary onto LoopState, again without bridge forwarding.
func (p *Player) SetLoopStatus(s string) {
	var loop model.LoopState
	switch s {
	case mpris.LoopStatusTrack:
		loop = model.LoopRepeatTrack
	case mpris.LoopStatusPlaylist:
		loop = model.LoopRepeatPlaylist
	default:
		loop = model.LoopNone
	}
	p.mu.Lock()
	p.loopState = loop
	p.mu.Unlock()
	p.broadcastStatus()
}

// SetVolume round-trips the volume through the bus and caches the last value
// for Snapshot.
func (p *Player) SetVolume(v float64) {
	p.mu.Lock()
	p.volume = v
	b := p.bus
	p.mu.Unlock()
	if b == nil {
		return
	}
	b.Publish("volume.set", bus.Message{
		Type: "volume.set",
		Data: map[string]interface{}{"percent": v * 100},
	})
}

// RefreshVolume asks the system volume service what the current volume is
// and caches the answer for Snapshot. Best-effort: on timeout the cached
// value stands.
func (p *Player) RefreshVolume(ctx context.Context) {
	p.mu.Lock()
	b := p.bus
	p.mu.Unlock()
	if b == nil {
		return
	}
	reply, err := b.Request(ctx, "volume.get", "volume.get.response", bus.Message{Type: "volume.get"}, 300*time.Millisecond)
	if err != nil {
		return
	}
	percent, ok := reply.Data["percent"].(float64)
	if !ok {
		return
	}
	p.mu.Lock()
	p.volume = percent / 100
	p.mu.Unlock()
}

// Snapshot implements mpris.PlayerCommands' read side.
func (p *Player) Snapshot() mpris.PlayerSnapshot {
	return p.mprisSnapshot()
}

// SupportedURISchemes reports the union of URI schemes the loaded
// backends claim, for the exported root interface's advertisement.
// Prefixes are normalized to bare scheme names; the absolute-path prefix
// has no scheme and is skipped.
func (p *Player) SupportedURISchemes() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range []*backend.Registry{p.registries.Audio, p.registries.Video, p.registries.Web} {
		if r == nil {
			continue
		}
		for _, prefix := range r.SupportedSchemes() {
			scheme := strings.TrimSuffix(prefix, "://")
			if scheme == "" || strings.HasPrefix(scheme, "/") {
				continue
			}
			if _, ok := seen[scheme]; ok {
				continue
			}
			seen[scheme] = struct{}{}
			out = append(out, scheme)
		}
	}
	return out
}

// HandleExternalTakeover adopts an external player's playback as the
// current media: local
// backends are stopped first, any skill playback is told to stop, and only
// then is the mirrored metadata installed in NowPlaying.
func (p *Player) HandleExternalTakeover(ctx context.Context, busName string, entry model.Entry) {
	if busName == "" {
		return
	}

	p.registries.Audio.Stop(ctx)
	p.registries.Video.Stop(ctx)
	p.registries.Web.Stop(ctx)
	if p.bus != nil {
		p.bus.Publish("skill.stop", bus.Message{Type: "skill.stop"})
	}

	entry.PlaybackKind = model.PlaybackMPRIS
	entry.SkillID = busName
	entry.TrackState = model.StatusPlayingMPRIS
	p.nowPlaying.Replace(entry)
	p.nowPlaying.SetStatus(model.StatusPlayingMPRIS)

	p.mu.Lock()
	p.externalMain = busName
	p.mu.Unlock()

	p.setState(model.StatePlaying)
	logf("external takeover by %s", busName)
}

// HandleExternalLost reacts to the promoted peer vanishing from the bus:
// NowPlaying is reset and the player returns to STOPPED, but only if the
// current playback really was that peer's.
func (p *Player) HandleExternalLost(busName string) {
	p.mu.Lock()
	if p.externalMain != busName {
		p.mu.Unlock()
		return
	}
	p.externalMain = ""
	p.mu.Unlock()

	if p.playingMPRIS() {
		p.nowPlaying.Reset()
		p.setState(model.StateStopped)
		p.setMediaState(model.MediaNoMedia)
	}
}

// Shutdown is the single cancellation point: reset NowPlaying, shut
// down every backend, then shut down the bridge. Per-backend errors are
// logged, never propagated.
func (p *Player) Shutdown(ctx context.Context) {
	p.nowPlaying.Reset()

	for _, r := range []*backend.Registry{p.registries.Audio, p.registries.Video, p.registries.Web} {
		if r == nil {
			continue
		}
		if err := r.ShutdownAll(ctx); err != nil {
			logf("backend shutdown: %v", err)
		}
	}

	p.mu.Lock()
	br := p.bridge
	p.bridge = nil
	p.mu.Unlock()
	if br != nil {
		if err := br.Stop(); err != nil {
			logf("bridge shutdown: %v", err)
		}
	}
}
