package player

import (
	"context"
	"time"

	"github.com/ocp-media/ocp/internal/bus"
	"github.com/ocp-media/ocp/internal/config"
	"github.com/ocp-media/ocp/internal/model"
)

// invalidStreamVisibility is how long an INVALID media_state must stay
// visible to the GUI before autoplay is allowed to advance.
const invalidStreamVisibility = 3 * time.Second

// playMediaLoadDelay mirrors the ~0.5s the original sleeps after
// requesting play, giving the backend's async load time to begin before
// any other command races ahead of it.
const playMediaLoadDelay = 500 * time.Millisecond

// PlayMedia implements play_media: normalize track, optionally
// install a new playlist and disambiguation (search) list, then call play.
func (p *Player) PlayMedia(ctx context.Context, track model.Entry, playlist []model.Entry, disambiguation []model.Entry) {
	p.stopExternalIfAny(ctx)

	if len(disambiguation) > 0 {
		p.catalog.SetSearchResults(disambiguation)
	}
	if playlist != nil {
		p.playlist.Replace(playlist)
	}

	if p.playlist.Contains(track) {
		p.playlist.GotoEntry(track)
	} else {
		p.playlist.Add(track)
		p.playlist.GotoEntry(track)
	}

	p.nowPlaying.Replace(track)
	p.play(ctx)

	// Let the backend's async load begin before anything else races it.
	select {
	case <-time.After(playMediaLoadDelay):
	case <-ctx.Done():
	}
}

// play implements play(): validate the stream, bump liked play
// count, route to the matching registry or skill, and publish PLAYING.
func (p *Player) play(ctx context.Context) {
	p.stopExternalIfAny(ctx)

	entry := p.nowPlaying.Snapshot().Entry
	key := entry.OriginalURI
	if key == "" {
		key = entry.URI
	}
	if key != "" {
		p.catalog.BumpPlayCount(key)
	}
	p.mu.Lock()
	p.trackHistory[entry.URI]++
	p.playStarted = time.Now()
	p.mu.Unlock()

	if err := p.validateStream(); err != nil {
		p.onInvalidStream(ctx, err)
		return
	}

	entry = p.nowPlaying.Snapshot().Entry // may have been rewritten by extraction

	switch entry.PlaybackKind {
	case model.PlaybackAudio, model.PlaybackVideo, model.PlaybackWebview:
		if p.registries.forKind(entry.PlaybackKind) == nil {
			logf("no registry configured for %s, refusing", entry.PlaybackKind)
			return
		}
		p.dispatchPlay(entry)
	case model.PlaybackSkill:
		p.playSkill(entry)
	default:
		logf("play: %v", errUndefinedPlaybackKind)
		return
	}

	p.setState(model.StatePlaying)
}

// dispatchPlay publishes the family-scoped "play" event the Registry's
// Subscribe handler consumes, rather than calling the registry directly,
// so routing and rate-limiting stay in one place (handlePlay).
func (p *Player) dispatchPlay(entry model.Entry) {
	if p.bus == nil {
		return
	}
	family := familyTopic(entry.PlaybackKind)
	data := entryToData(entry)
	p.mu.Lock()
	if p.lastUtterance != "" {
		data["utterance"] = p.lastUtterance
	}
	p.mu.Unlock()
	p.bus.Publish(family+".service.play", bus.Message{
		Type: family + ".service.play",
		Data: data,
	})
}

func familyTopic(kind model.PlaybackKind) string {
	switch kind {
	case model.PlaybackAudio:
		return "audio"
	case model.PlaybackVideo:
		return "video"
	case model.PlaybackWebview:
		return "web"
	default:
		return ""
	}
}

func entryToData(e model.Entry) map[string]interface{} {
	return map[string]interface{}{
		"uri":               e.URI,
		"original_uri":      e.OriginalURI,
		"title":             e.Title,
		"artist":            e.Artist,
		"image":             e.Image,
		"background_image":  e.BackgroundImage,
		"duration_ms":       float64(e.DurationMs),
		"position_ms":       float64(e.PositionMs),
		"playback_kind":     string(e.PlaybackKind),
		"media_type":        string(e.MediaType),
		"skill_id":          e.SkillID,
		"skill_icon":        e.SkillIcon,
		"match_confidence":  float64(e.MatchConfidence),
		"javascript":        e.Javascript,
	}
}

func (p *Player) playSkill(entry model.Entry) {
	if p.bus == nil || entry.SkillID == "" {
		return
	}
	p.bus.Publish(entry.SkillID+".play", bus.Message{
		Type: entry.SkillID + ".play",
		Data: entryToData(entry),
	})
	p.nowPlaying.SetStatus(model.StatusPlayingSkill)
}

// validateStream resolves the current track through the stream extractor
// collaborator and, if configured (no GUI, or force_audioservice +
// FORCE_AUDIO), coerces playback_kind to AUDIO.
func (p *Player) validateStream() error {
	if err := p.nowPlaying.ExtractStream(); err != nil {
		return err
	}

	p.mu.Lock()
	hasGUI := p.hasGUI
	p.mu.Unlock()

	forceAudio := p.cfg != nil && p.cfg.OCP.ForceAudioService && p.cfg.OCP.PlaybackMode == config.ForceAudioPlaybackMode
	if !hasGUI || forceAudio {
		snap := p.nowPlaying.Snapshot()
		if snap.PlaybackKind != model.PlaybackSkill && snap.PlaybackKind != model.PlaybackMPRIS {
			p.nowPlaying.Update(model.Entry{PlaybackKind: model.PlaybackAudio}, nil, false)
		}
	}
	return nil
}

// onInvalidStream implements the InvalidStream error kind: surface
// media.state=INVALID, hold it visible for ≥3s, then autoplay if enabled.
func (p *Player) onInvalidStream(ctx context.Context, err error) {
	logf("invalid stream: %v", err)
	p.setMediaState(model.MediaInvalid)

	go func() {
		select {
		case <-time.After(invalidStreamVisibility):
		case <-ctx.Done():
			return
		}
		if p.cfg != nil && p.cfg.OCP.Autoplay {
			p.PlayNext(context.Background())
		}
	}()
}

// PlayNext implements play_next(), trying each rule in order.
func (p *Player) PlayNext(ctx context.Context) {
	if p.playingMPRIS() {
		p.forwardToBridge(requestNext)
		return
	}
	if skillID, ok := p.playingSkill(); ok {
		if p.bus != nil {
			p.bus.Publish(skillID+".next", bus.Message{Type: skillID + ".next"})
		}
		return
	}

	p.mu.Lock()
	loop := p.loopState
	shuffle := p.shuffle
	mergeSearch := p.cfg != nil && p.cfg.OCP.MergeSearch
	p.mu.Unlock()

	if loop == model.LoopRepeatTrack {
		p.play(ctx)
		return
	}

	if shuffle {
		if idx, ok := p.playlist.RandomIndex(p.rng.Intn); ok {
			p.playlist.GotoIndex(idx)
			p.nowPlaying.Replace(mustCurrent(p.playlist))
			p.play(ctx)
			return
		}
		if p.advanceFromSearch() {
			p.play(ctx)
			return
		}
		return
	}

	if _, ok := p.playlist.Next(); ok {
		p.nowPlaying.Replace(mustCurrent(p.playlist))
		p.play(ctx)
		return
	}

	if mergeSearch && p.advanceFromSearch() {
		p.play(ctx)
		return
	}

	if loop == model.LoopRepeatPlaylist && p.playlist.Len() > 0 {
		p.playlist.GotoIndex(0)
		p.nowPlaying.Replace(mustCurrent(p.playlist))
		p.play(ctx)
		return
	}

	// Nothing left to play; stay at the current position.
}

// advanceFromSearch is the merge-search-into-playlist overflow: append
// the first not-yet-queued search result to the playlist and move the
// cursor to it, so a further next continues naturally from the playlist.
func (p *Player) advanceFromSearch() bool {
	for _, candidate := range p.catalog.SearchResults() {
		if p.playlist.Contains(candidate) {
			continue
		}
		p.playlist.Add(candidate)
		p.playlist.GotoEntry(candidate)
		p.nowPlaying.Replace(candidate)
		return true
	}
	return false
}

// PlayPrev implements the previous-track command. Under shuffle it
// reuses the shuffle-next behavior, so "previous" picks another random
// track rather than rewinding history.
func (p *Player) PlayPrev(ctx context.Context) {
	if p.playingMPRIS() {
		p.forwardToBridge(requestPrevious)
		return
	}
	if skillID, ok := p.playingSkill(); ok {
		if p.bus != nil {
			p.bus.Publish(skillID+".prev", bus.Message{Type: skillID + ".prev"})
		}
		return
	}

	p.mu.Lock()
	shuffle := p.shuffle
	p.mu.Unlock()

	if shuffle {
		p.PlayNext(ctx)
		return
	}

	if p.playlist.IsFirstTrack() {
		return
	}
	if _, ok := p.playlist.Prev(); ok {
		p.nowPlaying.Replace(mustCurrent(p.playlist))
		p.play(ctx)
	}
}

func mustCurrent(pl *model.Playlist) model.Entry {
	e, _ := pl.Current()
	return e
}

// stopSuppression is the stale-stop window: stops arriving within it of
// the last play request are dropped as stale.
const stopSuppression = 1000 * time.Millisecond

// Stop implements the stop command. It reports whether a stop actually
// happened: a stop arriving within 1s of the last play request is dropped
// silently, and the per-registry rate limit guards each registry besides.
func (p *Player) Stop(ctx context.Context) bool {
	if p.playingMPRIS() {
		p.forwardToBridge(requestStopAll)
		return true
	}

	p.mu.Lock()
	started := p.playStarted
	p.mu.Unlock()
	if !started.IsZero() && time.Since(started) < stopSuppression {
		logf("stop suppressed, %s after play", time.Since(started).Round(time.Millisecond))
		return false
	}

	p.registries.Audio.Stop(ctx)
	p.registries.Video.Stop(ctx)
	p.registries.Web.Stop(ctx)
	p.setState(model.StateStopped)
	p.setMediaState(model.MediaNoMedia)
	return true
}

// Pause implements pause.
func (p *Player) Pause(ctx context.Context) {
	if p.playingMPRIS() {
		p.forwardToBridge(requestPauseAll)
		return
	}
	if p.State() != model.StatePlaying {
		return
	}
	p.publishFamilyEvent("pause")
	p.setState(model.StatePaused)
}

// Resume implements resume.
func (p *Player) Resume(ctx context.Context) {
	if p.playingMPRIS() {
		p.forwardToBridge(requestResume)
		return
	}
	if p.State() != model.StatePaused {
		return
	}
	p.publishFamilyEvent("resume")
	p.setState(model.StatePlaying)
}

// Cork/Uncork implement the listen-window pause. Cork pauses and
// remembers it did so; uncork resumes only if still paused from corking.
// Duck/unduck (volume attenuation) is a separate contract below.
func (p *Player) Cork(ctx context.Context) {
	if p.State() != model.StatePlaying {
		return
	}
	p.Pause(ctx)
	p.mu.Lock()
	p.pausedOnDuck = true
	p.mu.Unlock()
}

func (p *Player) Uncork(ctx context.Context) {
	p.mu.Lock()
	was := p.pausedOnDuck
	p.pausedOnDuck = false
	p.mu.Unlock()
	if was && p.State() == model.StatePaused {
		p.Resume(ctx)
	}
}

// Duck/Unduck lower/restore volume without pausing.
func (p *Player) Duck(ctx context.Context) {
	p.publishFamilyEvent("duck")
}

func (p *Player) Unduck(ctx context.Context) {
	p.publishFamilyEvent("unduck")
}

func (p *Player) publishFamilyEvent(event string) {
	if p.bus == nil {
		return
	}
	kind := p.nowPlaying.Snapshot().PlaybackKind
	family := familyTopic(kind)
	if family == "" {
		return
	}
	p.bus.Publish(family+".service."+event, bus.Message{Type: family + ".service." + event})
}

// ToggleShuffle/SetShuffleState implement the shuffle toggle. If current
// playback is MPRIS, delegate to the bridge instead.
func (p *Player) ToggleShuffle() {
	if p.playingMPRIS() {
		p.forwardToBridge(requestToggleShuffle)
		return
	}
	p.mu.Lock()
	p.shuffle = !p.shuffle
	p.mu.Unlock()
	p.broadcastStatus()
}

func (p *Player) SetShuffleState(v bool) {
	if p.playingMPRIS() {
		p.forwardToBridge(requestToggleShuffle)
		return
	}
	p.mu.Lock()
	p.shuffle = v
	p.mu.Unlock()
	p.broadcastStatus()
}

// ToggleRepeat cycles NONE -> REPEAT_PLAYLIST -> REPEAT_TRACK -> NONE.
// If current playback is MPRIS, delegate to the bridge.
func (p *Player) ToggleRepeat() {
	if p.playingMPRIS() {
		p.forwardToBridge(requestToggleLoop)
		return
	}
	p.mu.Lock()
	switch p.loopState {
	case model.LoopNone:
		p.loopState = model.LoopRepeatPlaylist
	case model.LoopRepeatPlaylist:
		p.loopState = model.LoopRepeatTrack
	default:
		p.loopState = model.LoopNone
	}
	p.mu.Unlock()
	p.broadcastStatus()
}

func (p *Player) SetRepeatState(s model.LoopState) {
	if p.playingMPRIS() {
		p.forwardToBridge(requestToggleLoop)
		return
	}
	p.mu.Lock()
	p.loopState = s
	p.mu.Unlock()
	p.broadcastStatus()
}

// stopExternalIfAny stops external playback before a fresh play: just as
// an external promotion preempts local playback, a fresh local play must
// first relinquish any MPRIS takeover.
func (p *Player) stopExternalIfAny(ctx context.Context) {
	p.mu.Lock()
	br := p.bridge
	main := p.externalMain
	p.externalMain = ""
	p.mu.Unlock()
	if br == nil || main == "" {
		return
	}
	br.RequestStopAll()
}

type bridgeRequest int

const (
	requestNext bridgeRequest = iota
	requestPrevious
	requestResume
	requestPauseAll
	requestStopAll
	requestToggleShuffle
	requestToggleLoop
)

func (p *Player) forwardToBridge(req bridgeRequest) {
	p.mu.Lock()
	br := p.bridge
	p.mu.Unlock()
	if br == nil {
		return
	}
	switch req {
	case requestNext:
		br.RequestNext()
	case requestPrevious:
		br.RequestPrevious()
	case requestResume:
		br.RequestResume()
	case requestPauseAll:
		br.RequestPauseAll()
	case requestStopAll:
		br.RequestStopAll()
	case requestToggleShuffle:
		br.RequestToggleShuffle()
	case requestToggleLoop:
		br.RequestToggleLoop()
	}
}
