package nowplaying

import (
	"context"
	"log"

	"github.com/ocp-media/ocp/internal/bus"
	"github.com/ocp-media/ocp/internal/model"
)

// Subscribe wires NowPlaying to the bus events that keep it current. Its
// lifetime equals the Player's — callers invoke the returned cancel func
// from Service shutdown.
func (n *NowPlaying) Subscribe(ctx context.Context, b *bus.Bus) (cancel func(), err error) {
	var cancels []func()
	addSub := func(topic string, h bus.Handler) error {
		c, err := b.Subscribe(ctx, topic, h)
		if err != nil {
			return err
		}
		cancels = append(cancels, c)
		return nil
	}

	if err := addSub("track.state", n.onTrackState); err != nil {
		return nil, err
	}
	if err := addSub("media.state", n.onMediaState); err != nil {
		return nil, err
	}
	if err := addSub("play", n.onPlay); err != nil {
		return nil, err
	}
	if err := addSub("playback_time", n.onPlaybackTime); err != nil {
		return nil, err
	}

	return func() {
		for _, c := range cancels {
			c()
		}
	}, nil
}

func (n *NowPlaying) onTrackState(_ context.Context, msg bus.Message) {
	state, ok := msg.Data["state"].(string)
	if !ok || state == "" {
		log.Printf("[NOWPLAYING] track.state missing state field, ignoring")
		return
	}
	n.SetStatus(model.TrackStatus(state))
}

func (n *NowPlaying) onMediaState(_ context.Context, msg bus.Message) {
	state, ok := msg.Data["state"].(string)
	if !ok {
		log.Printf("[NOWPLAYING] media.state missing state field, ignoring")
		return
	}
	if model.MediaState(state) == model.MediaEndOfMedia {
		n.Reset()
	}
}

func (n *NowPlaying) onPlay(_ context.Context, msg bus.Message) {
	entry := model.EntryFromMap(msg.Data)
	n.Replace(entry)
}

func (n *NowPlaying) onPlaybackTime(_ context.Context, msg bus.Message) {
	length, _ := msg.Data["length"].(float64)
	position, _ := msg.Data["position"].(float64)
	n.SetPlaybackTime(int64(length), int64(position))
}
