// Package audio implements the local-audio Backend: an ffmpeg-decoded,
// oto-rendered player reachable over file/http/https URIs, with HLS
// manifest duration probing and local tag-based metadata lookup.
// OS-media-session and visualization concerns live elsewhere (the MPRIS
// bridge and the GUI respectively); this backend only decodes and renders.
package audio

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ocp-media/ocp/internal/backend"
	"github.com/ocp-media/ocp/internal/model"
)

type state string

const (
	stateStopped state = "stopped"
	statePlaying state = "playing"
	statePaused  state = "paused"
)

// Backend is OCP's built-in local audio player.
type Backend struct {
	name    string
	aliases []string

	mu          sync.Mutex
	st          state
	entry       model.Entry
	positionMs  int64
	lengthMs    int64
	preDuckVol  float64
	cancel      context.CancelFunc
	sessionDone chan struct{}

	output  *otoOutput
	decoder *ffmpegDecoder

	onTrackStart func(*model.Entry)
}

// SetTrackStartCallback implements backend.TrackStartNotifier: cb is
// invoked with the entry when playback actually starts, and with nil when
// a decode session drains naturally (queue end).
func (b *Backend) SetTrackStartCallback(cb func(*model.Entry)) {
	b.mu.Lock()
	b.onTrackStart = cb
	b.mu.Unlock()
}

// New constructs the local audio backend. name is the registry-facing
// player name (e.g. "local" in the default config, whose module is
// "ocp-audio-local"); aliases are the spoken names matched against
// utterances for preferred-backend selection.
func New(name string, aliases ...string) (*Backend, error) {
	out, err := newOtoOutput()
	if err != nil {
		return nil, fmt.Errorf("audio backend: %w", err)
	}
	dec, err := newFFmpegDecoder()
	if err != nil {
		out.Close()
		return nil, fmt.Errorf("audio backend: %w", err)
	}
	return &Backend{name: name, aliases: aliases, st: stateStopped, output: out, decoder: dec}, nil
}

func (b *Backend) Name() string         { return b.name }
func (b *Backend) Aliases() []string    { return b.aliases }

func (b *Backend) SupportedURIs() []string {
	return []string{"file://", "http://", "https://", "/"}
}

func (b *Backend) IsRemote() bool { return false }

func (b *Backend) LoadTrack(ctx context.Context, entry model.Entry) error {
	b.mu.Lock()
	b.entry = entry
	b.positionMs = 0
	if entry.DurationMs > 0 {
		b.lengthMs = entry.DurationMs
	} else {
		b.lengthMs = 0
	}
	b.mu.Unlock()

	if isHLSManifest(entry.URI) {
		if ms, ok := hlsDurationMs(ctx, entry.URI); ok {
			b.mu.Lock()
			b.lengthMs = ms
			b.mu.Unlock()
			return nil
		}
	}
	if strings.HasPrefix(entry.URI, "file://") || strings.HasPrefix(entry.URI, "/") {
		path := strings.TrimPrefix(entry.URI, "file://")
		if title, artist := readLocalTags(path); title != "" {
			b.mu.Lock()
			if b.entry.Title == "" {
				b.entry.Title = title
			}
			if b.entry.Artist == "" && artist != "" {
				b.entry.Artist = artist
			}
			b.mu.Unlock()
		}
	}
	if ms, err := b.decoder.durationMs(localPath(entry.URI)); err == nil && ms > 0 {
		b.mu.Lock()
		if b.lengthMs == 0 {
			b.lengthMs = ms
		}
		b.mu.Unlock()
	}
	return nil
}

func localPath(uri string) string {
	return strings.TrimPrefix(uri, "file://")
}

func (b *Backend) Play(ctx context.Context) error {
	return b.playFrom(ctx, 0)
}

func (b *Backend) playFrom(ctx context.Context, startMs int64) error {
	b.mu.Lock()
	if b.cancel != nil {
		b.cancel()
	}
	playCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	done := make(chan struct{})
	b.sessionDone = done
	uri := b.entry.URI
	entry := b.entry
	b.st = statePlaying
	b.positionMs = startMs
	cb := b.onTrackStart
	b.mu.Unlock()

	b.output.Stop()
	b.output.Resume()

	if cb != nil {
		cb(&entry)
	}

	go func() {
		defer close(done)
		path := localPath(uri)
		if isHLSManifest(uri) {
			path = uri // ffmpeg reads http(s) URLs directly
		}
		_ = b.decoder.decodeFrom(playCtx, path, b.output, startMs)
		b.mu.Lock()
		drained := b.st == statePlaying && playCtx.Err() == nil
		if b.st == statePlaying {
			b.st = stateStopped
		}
		cb := b.onTrackStart
		b.mu.Unlock()
		if drained && cb != nil {
			cb(nil)
		}
	}()
	return nil
}

func (b *Backend) Pause(ctx context.Context) error {
	b.mu.Lock()
	b.st = statePaused
	b.mu.Unlock()
	b.output.Pause()
	return nil
}

func (b *Backend) Resume(ctx context.Context) error {
	b.mu.Lock()
	b.st = statePlaying
	b.mu.Unlock()
	b.output.Resume()
	return nil
}

func (b *Backend) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.cancel != nil {
		b.cancel()
	}
	b.st = stateStopped
	b.positionMs = 0
	b.mu.Unlock()
	b.output.Stop()
	return nil
}

func (b *Backend) SeekForward(ctx context.Context, ms int64) error {
	b.mu.Lock()
	target := b.positionMs + ms
	b.mu.Unlock()
	return b.SetTrackPosition(ctx, target)
}

func (b *Backend) SeekBackward(ctx context.Context, ms int64) error {
	b.mu.Lock()
	target := b.positionMs - ms
	if target < 0 {
		target = 0
	}
	b.mu.Unlock()
	return b.SetTrackPosition(ctx, target)
}

func (b *Backend) SetTrackPosition(ctx context.Context, ms int64) error {
	if ms < 0 {
		ms = 0
	}
	return b.playFrom(ctx, ms)
}

func (b *Backend) TrackPosition(ctx context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.positionMs, nil
}

func (b *Backend) TrackLength(ctx context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lengthMs, nil
}

func (b *Backend) TrackInfo(ctx context.Context) (backend.TrackInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	status := model.StatusQueuedAudio
	switch b.st {
	case statePlaying:
		status = model.StatusPlayingAudio
	case statePaused:
		status = model.StatusPlayingAudio
	}
	return backend.TrackInfo{
		URI:        b.entry.URI,
		LengthMs:   b.lengthMs,
		PositionMs: b.positionMs,
		Status:     status,
	}, nil
}

// LowerVolume implements ducking: lower the output volume to 30% of its
// current level, remembering the pre-duck level so RestoreVolume can
// reinstate it (a remembered level of 0 restores to full volume).
func (b *Backend) LowerVolume(ctx context.Context) error {
	b.mu.Lock()
	b.preDuckVol = b.output.Volume()
	b.mu.Unlock()
	b.output.SetVolume(b.output.Volume() * 0.3)
	return nil
}

func (b *Backend) RestoreVolume(ctx context.Context) error {
	b.mu.Lock()
	vol := b.preDuckVol
	b.mu.Unlock()
	if vol <= 0 {
		vol = 1.0
	}
	b.output.SetVolume(vol)
	return nil
}

func (b *Backend) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	if b.cancel != nil {
		b.cancel()
	}
	b.mu.Unlock()
	return b.output.Close()
}

// Tick advances the reported position by d while playing. The decode
// loop itself doesn't report incremental progress and nothing in this
// module calls Tick, so TrackPosition only moves between explicit seeks
// when a caller drives Tick from a ticker.
func (b *Backend) Tick(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.st == statePlaying {
		b.positionMs += d.Milliseconds()
	}
}

var _ backend.Backend = (*Backend)(nil)
