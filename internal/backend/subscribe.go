package backend

import (
	"context"
	"log"
	"time"

	"github.com/ocp-media/ocp/internal/bus"
	"github.com/ocp-media/ocp/internal/model"
)

// PlayResult carries the routing decision back to callers that need to
// react to a successful load (the Player status broadcast).
type PlayResult struct {
	Backend string
	Entry   model.Entry
}

// Subscribe wires the bus event surface for this registry's namespace
// (topics are prefixed "{family}.service."). nativeSources feeds the
// source gate via bus.SourceAllowed.
func (r *Registry) Subscribe(ctx context.Context, nativeSources []string, onLoaded func(PlayResult)) (cancel func(), err error) {
	if r.bus == nil {
		return func() {}, nil
	}

	var cancels []func()
	prefix := r.family + ".service."

	gated := func(h bus.Handler) bus.Handler {
		return func(ctx context.Context, msg bus.Message) {
			if !bus.SourceAllowed(msg, nativeSources) {
				return
			}
			h(ctx, msg)
		}
	}

	addSub := func(topic string, h bus.Handler) error {
		c, err := r.bus.Subscribe(ctx, topic, gated(h))
		if err != nil {
			return err
		}
		cancels = append(cancels, c)
		return nil
	}

	if err := addSub(prefix+"play", func(ctx context.Context, msg bus.Message) {
		r.handlePlay(ctx, msg, onLoaded)
	}); err != nil {
		return nil, err
	}
	if err := addSub(prefix+"pause", func(ctx context.Context, _ bus.Message) {
		r.withCurrent(ctx, func(b Backend) error { return b.Pause(ctx) })
	}); err != nil {
		return nil, err
	}
	if err := addSub(prefix+"resume", func(ctx context.Context, _ bus.Message) {
		r.withCurrent(ctx, func(b Backend) error { return b.Resume(ctx) })
	}); err != nil {
		return nil, err
	}
	if err := addSub(prefix+"stop", func(ctx context.Context, _ bus.Message) {
		if err := r.Stop(ctx); err != nil {
			log.Printf("[%s-backend] stop: %v", r.family, err)
		}
	}); err != nil {
		return nil, err
	}
	if err := addSub(prefix+"duck", func(ctx context.Context, _ bus.Message) {
		r.withCurrent(ctx, func(b Backend) error { return b.LowerVolume(ctx) })
	}); err != nil {
		return nil, err
	}
	if err := addSub(prefix+"unduck", func(ctx context.Context, _ bus.Message) {
		r.withCurrent(ctx, func(b Backend) error { return b.RestoreVolume(ctx) })
	}); err != nil {
		return nil, err
	}
	if err := addSub(prefix+"seek_forward", func(ctx context.Context, msg bus.Message) {
		r.withCurrent(ctx, func(b Backend) error { return b.SeekForward(ctx, msgSecondsMs(msg)) })
	}); err != nil {
		return nil, err
	}
	if err := addSub(prefix+"seek_backward", func(ctx context.Context, msg bus.Message) {
		r.withCurrent(ctx, func(b Backend) error { return b.SeekBackward(ctx, msgSecondsMs(msg)) })
	}); err != nil {
		return nil, err
	}
	if err := addSub(prefix+"set_track_position", func(ctx context.Context, msg bus.Message) {
		r.withCurrent(ctx, func(b Backend) error { return b.SetTrackPosition(ctx, msgMs(msg)) })
	}); err != nil {
		return nil, err
	}
	if err := addSub(prefix+"get_track_position", func(ctx context.Context, msg bus.Message) {
		r.replyInt64(ctx, msg, "position_ms", Backend.TrackPosition)
	}); err != nil {
		return nil, err
	}
	if err := addSub(prefix+"get_track_length", func(ctx context.Context, msg bus.Message) {
		r.replyInt64(ctx, msg, "length_ms", Backend.TrackLength)
	}); err != nil {
		return nil, err
	}
	if err := addSub(prefix+"track_info", func(ctx context.Context, msg bus.Message) {
		r.replyTrackInfo(ctx, msg)
	}); err != nil {
		return nil, err
	}
	if err := addSub(prefix+"list_backends", func(ctx context.Context, msg bus.Message) {
		r.replyListBackends(ctx, msg)
	}); err != nil {
		return nil, err
	}
	// media.state is published bus-wide; only react when it names this
	// registry's family, per the routing rule's "for this registry's
	// family" qualifier.
	if err := addSub("media.state", func(ctx context.Context, msg bus.Message) {
		r.onMediaState(ctx, msg, onLoaded)
	}); err != nil {
		return nil, err
	}

	return func() {
		for _, c := range cancels {
			c()
		}
	}, nil
}

func (r *Registry) withCurrent(ctx context.Context, fn func(Backend) error) {
	name, ok := r.Current()
	if !ok {
		return
	}
	b, ok := r.backendByName(name)
	if !ok {
		return
	}
	if err := fn(b); err != nil {
		log.Printf("[%s-backend] %v", r.family, err)
	}
}

func (r *Registry) handlePlay(ctx context.Context, msg bus.Message, onLoaded func(PlayResult)) {
	uri, _ := msg.Data["uri"].(string)
	if uri == "" {
		log.Printf("[%s-backend] play with no uri, ignoring", r.family)
		return
	}
	preferred, _ := msg.Data["preferred_backend"].(string)
	if preferred == "" {
		if utterance, ok := msg.Data["utterance"].(string); ok {
			if name, ok := r.PreferredByUtterance(utterance); ok {
				preferred = name
			}
		}
	}

	b, ok := r.Select(uri, preferred)
	if !ok {
		log.Printf("[%s-backend] no backend claims uri %q, refusing silently", r.family, uri)
		return
	}

	entry := model.EntryFromMap(msg.Data)
	entry.URI = uri

	r.mu.Lock()
	r.playStart = time.Now() // opens the stale-stop suppression window
	name := b.Name()
	r.current = name
	r.mu.Unlock()

	if r.bus != nil {
		r.bus.Publish("track.state", bus.Message{
			Type: "track.state",
			Data: map[string]interface{}{"state": string(queuedStatus(r.family))},
		})
	}

	if err := b.LoadTrack(ctx, entry); err != nil {
		log.Printf("[%s-backend] load_track %q: %v", r.family, uri, err)
		if r.bus != nil {
			r.bus.Publish("media.state", bus.Message{
				Type: "media.state",
				Data: map[string]interface{}{"state": string(model.MediaInvalid), "family": r.family},
			})
		}
		return
	}
	if onLoaded != nil {
		onLoaded(PlayResult{Backend: name, Entry: entry})
	}

	// The backend's load is complete; report LOADED on the bus. The
	// registry's own media.state handler picks this up and calls Play,
	// preserving the load_track -> LOADED -> play() ordering.
	if r.bus != nil {
		r.bus.Publish("media.state", bus.Message{
			Type: "media.state",
			Data: map[string]interface{}{"state": string(model.MediaLoaded), "family": r.family},
		})
	}
}

// onMediaState reacts to `media.state = LOADED` for this family by
// calling current.Play() and emitting track.state = PLAYING_{family}.
func (r *Registry) onMediaState(ctx context.Context, msg bus.Message, onLoaded func(PlayResult)) {
	family, _ := msg.Data["family"].(string)
	state, _ := msg.Data["state"].(string)
	if family != r.family || model.MediaState(state) != model.MediaLoaded {
		return
	}
	name, ok := r.Current()
	if !ok {
		return
	}
	b, ok := r.backendByName(name)
	if !ok {
		return
	}
	if err := b.Play(ctx); err != nil {
		log.Printf("[%s-backend] play after load: %v", r.family, err)
		return
	}
	if r.bus != nil {
		r.bus.Publish("track.state", bus.Message{
			Type: "track.state",
			Data: map[string]interface{}{"state": string(playingStatus(r.family))},
		})
	}
}

func queuedStatus(family string) model.TrackStatus {
	switch family {
	case "audio":
		return model.StatusQueuedAudio
	case "video":
		return model.StatusQueuedVideo
	case "web":
		return model.StatusQueuedWebview
	default:
		return model.StatusDisambiguation
	}
}

func playingStatus(family string) model.TrackStatus {
	switch family {
	case "audio":
		return model.StatusPlayingAudio
	case "video":
		return model.StatusPlayingVideo
	case "web":
		return model.StatusPlayingWebview
	default:
		return model.StatusDisambiguation
	}
}

// replyInt64 answers a get_track_position/get_track_length request from
// the current backend, keyed by reply_to like the other request/reply
// events.
func (r *Registry) replyInt64(ctx context.Context, msg bus.Message, key string, get func(Backend, context.Context) (int64, error)) {
	replyTo, _ := msg.Data["reply_to"].(string)
	if replyTo == "" || r.bus == nil {
		return
	}
	name, ok := r.Current()
	if !ok {
		r.bus.Publish(replyTo, bus.Message{Type: key, Data: map[string]interface{}{key: float64(0)}})
		return
	}
	b, ok := r.backendByName(name)
	if !ok {
		return
	}
	v, err := get(b, ctx)
	if err != nil {
		log.Printf("[%s-backend] %s: %v", r.family, key, err)
		return
	}
	r.bus.Publish(replyTo, bus.Message{Type: key, Data: map[string]interface{}{key: float64(v)}})
}

func (r *Registry) replyTrackInfo(ctx context.Context, msg bus.Message) {
	replyTo, _ := msg.Data["reply_to"].(string)
	if replyTo == "" || r.bus == nil {
		return
	}
	name, ok := r.Current()
	if !ok {
		r.bus.Publish(replyTo, bus.Message{Type: "track_info", Data: map[string]interface{}{}})
		return
	}
	b, ok := r.backendByName(name)
	if !ok {
		return
	}
	info, err := b.TrackInfo(ctx)
	if err != nil {
		log.Printf("[%s-backend] track_info: %v", r.family, err)
		return
	}
	r.bus.Publish(replyTo, bus.Message{
		Type: "track_info",
		Data: map[string]interface{}{
			"uri":         info.URI,
			"length_ms":   info.LengthMs,
			"position_ms": info.PositionMs,
			"status":      string(info.Status),
		},
	})
}

func (r *Registry) replyListBackends(ctx context.Context, msg bus.Message) {
	replyTo, _ := msg.Data["reply_to"].(string)
	if replyTo == "" || r.bus == nil {
		return
	}
	names := r.Backends()
	list := make([]interface{}, len(names))
	for i, n := range names {
		list[i] = n
	}
	r.bus.Publish(replyTo, bus.Message{Type: "list_backends", Data: map[string]interface{}{"backends": list}})
}

func msgSecondsMs(msg bus.Message) int64 {
	f, _ := msg.Data["seconds"].(float64)
	return int64(f * 1000)
}

func msgMs(msg bus.Message) int64 {
	f, _ := msg.Data["ms"].(float64)
	return int64(f)
}
