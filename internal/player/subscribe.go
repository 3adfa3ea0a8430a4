package player

import (
	"context"

	"github.com/ocp-media/ocp/internal/bus"
	"github.com/ocp-media/ocp/internal/model"
)

// Prefix is the inbound bus namespace for Player commands.
const Prefix = "ovos.common_play."

// Subscribe wires every inbound bus event to its handler. All
// handlers are source-gated through bus.SourceAllowed with the configured
// native_sources, so a message addressed to another host's player never
// mutates this one.
func (p *Player) Subscribe(ctx context.Context) (cancel func(), err error) {
	if p.bus == nil {
		return func() {}, nil
	}

	var nativeSources []string
	if p.cfg != nil {
		nativeSources = p.cfg.Media.NativeSources
	}

	var cancels []func()
	addSub := func(topic string, h bus.Handler) error {
		c, err := p.bus.Subscribe(ctx, topic, func(ctx context.Context, msg bus.Message) {
			if !bus.SourceAllowed(msg, nativeSources) {
				return
			}
			h(ctx, msg)
		})
		if err != nil {
			return err
		}
		cancels = append(cancels, c)
		return nil
	}

	handlers := map[string]bus.Handler{
		Prefix + "play":     p.handlePlay,
		Prefix + "pause":    func(ctx context.Context, _ bus.Message) { p.Pause(ctx) },
		Prefix + "resume":   func(ctx context.Context, _ bus.Message) { p.Resume(ctx) },
		Prefix + "stop":     func(ctx context.Context, _ bus.Message) { p.Stop(ctx) },
		Prefix + "next":     func(ctx context.Context, _ bus.Message) { p.PlayNext(ctx) },
		Prefix + "previous": func(ctx context.Context, _ bus.Message) { p.PlayPrev(ctx) },

		Prefix + "seek":               p.handleSeek,
		Prefix + "set_track_position": p.forwardToFamily("set_track_position"),
		Prefix + "get_track_position": p.forwardToFamily("get_track_position"),
		Prefix + "get_track_length":   p.forwardToFamily("get_track_length"),
		Prefix + "track_info":         p.forwardToFamily("track_info"),
		Prefix + "list_backends":      p.handleListBackends,

		Prefix + "playlist.set":   p.handlePlaylistSet,
		Prefix + "playlist.queue": p.handlePlaylistQueue,
		Prefix + "playlist.clear": p.handlePlaylistClear,

		Prefix + "duck":   func(ctx context.Context, _ bus.Message) { p.Duck(ctx) },
		Prefix + "unduck": func(ctx context.Context, _ bus.Message) { p.Unduck(ctx) },
		Prefix + "cork":   func(ctx context.Context, _ bus.Message) { p.Cork(ctx) },
		Prefix + "uncork": func(ctx context.Context, _ bus.Message) { p.Uncork(ctx) },

		Prefix + "shuffle.set":    func(ctx context.Context, _ bus.Message) { p.SetShuffleState(true) },
		Prefix + "shuffle.unset":  func(ctx context.Context, _ bus.Message) { p.SetShuffleState(false) },
		Prefix + "shuffle.toggle": func(ctx context.Context, _ bus.Message) { p.ToggleShuffle() },
		Prefix + "repeat.set":     func(ctx context.Context, _ bus.Message) { p.SetRepeatState(model.LoopRepeatTrack) },
		Prefix + "repeat.unset":   func(ctx context.Context, _ bus.Message) { p.SetRepeatState(model.LoopNone) },
		Prefix + "repeat.toggle":  func(ctx context.Context, _ bus.Message) { p.ToggleRepeat() },

		Prefix + "SEI.get": p.handleSEIGet,
		Prefix + "like":    p.handleLike,
		Prefix + "unlike":  p.handleUnlike,
		Prefix + "status":  p.handleStatusRequest,

		"media.state":  p.handleMediaState,
		"mycroft.stop": p.handleGlobalStop,

		"now_playing.external":      p.handleExternalEvent,
		"now_playing.external.lost": p.handleExternalLostEvent,

		"ovos.common_play.skill.announce": func(_ context.Context, msg bus.Message) { p.catalog.HandleSkillAnnounce(msg) },
		"ovos.common_play.skill.detach":   func(_ context.Context, msg bus.Message) { p.catalog.HandleSkillDetach(msg) },
	}

	for topic, h := range handlers {
		if err := addSub(topic, h); err != nil {
			for _, c := range cancels {
				c()
			}
			return nil, err
		}
	}

	return func() {
		for _, c := range cancels {
			c()
		}
	}, nil
}

// handlePlay is the inbound edge of play_media: normalize the
// duck-typed media payload into typed entries before anything else
// touches it.
func (p *Player) handlePlay(ctx context.Context, msg bus.Message) {
	media, ok := msg.Data["media"].(map[string]interface{})
	if !ok {
		logf("play: %v (no media)", ErrBadMessage)
		return
	}
	track := model.EntryFromMap(media)
	if track.URI == "" {
		logf("play: %v (media without uri)", ErrBadMessage)
		return
	}

	playlist := model.EntriesFromMapSlice(msg.Data["playlist"])
	disambiguation := model.EntriesFromMapSlice(msg.Data["disambiguation"])

	if repeat, _ := msg.Data["repeat"].(bool); repeat {
		p.SetRepeatState(model.LoopRepeatPlaylist)
	}

	// Carry the raw utterance along so the registry can match it against
	// backend aliases.
	utterance, _ := msg.Data["utterance"].(string)
	p.mu.Lock()
	p.lastUtterance = utterance
	p.mu.Unlock()

	p.PlayMedia(ctx, track, playlist, disambiguation)
}

// handleSeek translates {seconds: ±n} or {seekValue: ms} into the family
// registry's seek events. Seeking a non-audio playback kind is a no-op.
func (p *Player) handleSeek(ctx context.Context, msg bus.Message) {
	if p.nowPlaying.Snapshot().PlaybackKind != model.PlaybackAudio {
		return
	}
	if ms, ok := msg.Data["seekValue"].(float64); ok {
		p.publishFamilyData("set_track_position", map[string]interface{}{"ms": ms})
		return
	}
	seconds, ok := msg.Data["seconds"].(float64)
	if !ok {
		logf("seek: %v", ErrBadMessage)
		return
	}
	if seconds >= 0 {
		p.publishFamilyData("seek_forward", map[string]interface{}{"seconds": seconds})
	} else {
		p.publishFamilyData("seek_backward", map[string]interface{}{"seconds": -seconds})
	}
}

// forwardToFamily re-publishes a command (payload intact, reply_to
// included) onto the current playback family's service namespace, where
// the registry's own gated handler picks it up.
func (p *Player) forwardToFamily(event string) bus.Handler {
	return func(ctx context.Context, msg bus.Message) {
		p.publishFamilyData(event, msg.Data)
	}
}

func (p *Player) publishFamilyData(event string, data map[string]interface{}) {
	if p.bus == nil {
		return
	}
	family := familyTopic(p.nowPlaying.Snapshot().PlaybackKind)
	if family == "" {
		return
	}
	p.bus.Publish(family+".service."+event, bus.Message{
		Type: family + ".service." + event,
		Data: data,
	})
}

// handleListBackends fans the request out to all three families rather
// than just the current one — a GUI asking "what can play things" wants
// the full set.
func (p *Player) handleListBackends(ctx context.Context, msg bus.Message) {
	if p.bus == nil {
		return
	}
	for _, family := range []string{"audio", "video", "web"} {
		p.bus.Publish(family+".service.list_backends", bus.Message{
			Type: family + ".service.list_backends",
			Data: msg.Data,
		})
	}
}

func (p *Player) handlePlaylistSet(ctx context.Context, msg bus.Message) {
	tracks := model.EntriesFromMapSlice(msg.Data["tracks"])
	p.playlist.Replace(tracks)
	p.broadcastStatus()
}

func (p *Player) handlePlaylistQueue(ctx context.Context, msg bus.Message) {
	tracks := model.EntriesFromMapSlice(msg.Data["tracks"])
	if len(tracks) == 0 {
		return
	}
	p.playlist.Add(tracks...)
	p.broadcastStatus()
}

func (p *Player) handlePlaylistClear(ctx context.Context, msg bus.Message) {
	p.playlist.Clear()
	p.broadcastStatus()
}

// handleSEIGet replies with the stream-extractor identifier list.
func (p *Player) handleSEIGet(ctx context.Context, msg bus.Message) {
	if p.bus == nil {
		return
	}
	replyTo, _ := msg.Data["reply_to"].(string)
	if replyTo == "" {
		replyTo = Prefix + "SEI.get.response"
	}
	seis := p.nowPlaying.SupportedSEIs()
	list := make([]interface{}, len(seis))
	for i, s := range seis {
		list[i] = s
	}
	p.bus.Publish(replyTo, bus.Message{
		Type: Prefix + "SEI.get.response",
		Data: map[string]interface{}{"SEI": list},
	})
}

// handleLike/handleUnlike default missing fields from NowPlaying.
func (p *Player) handleLike(ctx context.Context, msg bus.Message) {
	entry := model.EntryFromMap(msg.Data)
	if entry.URI == "" {
		snap := p.nowPlaying.Snapshot()
		entry.URI = snap.URI
		entry.OriginalURI = snap.OriginalURI
		if entry.Title == "" {
			entry.Title = snap.Title
		}
		if entry.Artist == "" {
			entry.Artist = snap.Artist
		}
		if entry.Image == "" {
			entry.Image = snap.Image
		}
	}
	if entry.URI == "" {
		return
	}
	if err := p.catalog.Like(entry); err != nil {
		logf("like %s: %v", entry.URI, err)
	}
}

func (p *Player) handleUnlike(ctx context.Context, msg bus.Message) {
	uri, _ := msg.Data["uri"].(string)
	if uri == "" {
		snap := p.nowPlaying.Snapshot()
		uri = snap.OriginalURI
		if uri == "" {
			uri = snap.URI
		}
	}
	if uri == "" {
		return
	}
	if err := p.catalog.Unlike(uri); err != nil {
		logf("unlike %s: %v", uri, err)
	}
}

// handleStatusRequest replies with the full status record.
func (p *Player) handleStatusRequest(ctx context.Context, msg bus.Message) {
	if p.bus == nil {
		return
	}
	replyTo, _ := msg.Data["reply_to"].(string)
	if replyTo == "" {
		replyTo = Prefix + "status.response"
	}
	p.bus.Publish(replyTo, bus.Message{
		Type: Prefix + "status.response",
		Data: p.StatusSnapshot().toData(),
	})
}

// handleMediaState syncs Player's media-readiness sub-state with what the
// backends report, and drives the END_OF_MEDIA / INVALID transitions.
// The state is assigned directly (not via setMediaState)
// because the event is already on the bus — re-publishing it would echo.
func (p *Player) handleMediaState(ctx context.Context, msg bus.Message) {
	raw, ok := msg.Data["state"].(string)
	if !ok || raw == "" {
		logf("media.state: %v", ErrBadMessage)
		return
	}
	state := model.MediaState(raw)

	p.mu.Lock()
	prev := p.mediaState
	p.mediaState = state
	autoplay := p.cfg != nil && p.cfg.OCP.Autoplay
	p.mu.Unlock()

	if prev == state {
		return
	}

	switch state {
	case model.MediaEndOfMedia:
		if p.State() != model.StatePlaying {
			return
		}
		if autoplay && p.canGoNext() {
			p.PlayNext(ctx)
		} else {
			p.setState(model.StateStopped)
		}
	case model.MediaInvalid:
		// The INVALID row only advances out of PLAYING; a bad load while
		// paused or stopped stays put. onInvalidStream handles the local
		// extractor-failure path including the ≥3s GUI hold.
		if p.State() == model.StatePlaying && autoplay {
			p.PlayNext(ctx)
		}
	}
}

// handleGlobalStop answers the assistant-wide stop broadcast: if this
// process was actually playing something and the stop isn't stale, stop
// and claim it with a stop.handled reply.
func (p *Player) handleGlobalStop(ctx context.Context, msg bus.Message) {
	if p.State() == model.StateStopped {
		return
	}
	if !p.Stop(ctx) {
		return
	}
	if p.bus != nil {
		p.bus.Publish("mycroft.stop.handled", bus.Message{
			Type: "mycroft.stop.handled",
			Data: map[string]interface{}{"by": "OCP"},
		})
	}
}

// handleExternalEvent is the bus-side edge of bridge promotion:
// the bridge mirrors a peer's metadata onto the bus, and Player installs
// it as the current track.
func (p *Player) handleExternalEvent(ctx context.Context, msg bus.Message) {
	source, _ := msg.Data["source"].(string)
	title, _ := msg.Data["title"].(string)
	artist, _ := msg.Data["artist"].(string)
	artURL, _ := msg.Data["art_url"].(string)
	lengthMs, _ := msg.Data["length_ms"].(float64)

	p.HandleExternalTakeover(ctx, source, model.Entry{
		URI:        "mpris://" + source,
		Title:      title,
		Artist:     artist,
		Image:      artURL,
		DurationMs: int64(lengthMs),
	})
}

func (p *Player) handleExternalLostEvent(ctx context.Context, msg bus.Message) {
	source, _ := msg.Data["source"].(string)
	p.HandleExternalLost(source)
}
