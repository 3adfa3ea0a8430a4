package player

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ocp-media/ocp/internal/backend"
	"github.com/ocp-media/ocp/internal/bus"
	"github.com/ocp-media/ocp/internal/catalog"
	"github.com/ocp-media/ocp/internal/config"
	"github.com/ocp-media/ocp/internal/model"
	"github.com/ocp-media/ocp/internal/nowplaying"
)

type fakeBackend struct {
	name    string
	stopped int
}

func (f *fakeBackend) Name() string                                      { return f.name }
func (f *fakeBackend) SupportedURIs() []string                           { return []string{"http", "https", "file"} }
func (f *fakeBackend) Aliases() []string                                 { return nil }
func (f *fakeBackend) IsRemote() bool                                    { return false }
func (f *fakeBackend) LoadTrack(context.Context, model.Entry) error      { return nil }
func (f *fakeBackend) Play(context.Context) error                        { return nil }
func (f *fakeBackend) Pause(context.Context) error                       { return nil }
func (f *fakeBackend) Resume(context.Context) error                      { return nil }
func (f *fakeBackend) Stop(context.Context) error                        { f.stopped++; return nil }
func (f *fakeBackend) SeekForward(context.Context, int64) error          { return nil }
func (f *fakeBackend) SeekBackward(context.Context, int64) error         { return nil }
func (f *fakeBackend) SetTrackPosition(context.Context, int64) error     { return nil }
func (f *fakeBackend) TrackPosition(context.Context) (int64, error)      { return 0, nil }
func (f *fakeBackend) TrackLength(context.Context) (int64, error)        { return 0, nil }
func (f *fakeBackend) TrackInfo(context.Context) (backend.TrackInfo, error) {
	return backend.TrackInfo{}, nil
}
func (f *fakeBackend) LowerVolume(context.Context) error   { return nil }
func (f *fakeBackend) RestoreVolume(context.Context) error { return nil }
func (f *fakeBackend) Shutdown(context.Context) error      { return nil }

func newTestPlayer(t *testing.T, b *bus.Bus) *Player {
	t.Helper()
	cfg := config.DefaultConfig()

	regs := Registries{
		Audio: backend.NewRegistry("audio", b),
		Video: backend.NewRegistry("video", b),
		Web:   backend.NewRegistry("web", b),
	}
	regs.Audio.Register(&fakeBackend{name: "local"})

	np := nowplaying.New(nil)
	cat := catalog.New(b, t.TempDir())
	return New(cfg, b, np, cat, regs)
}

func audioEntry(uri string) model.Entry {
	return model.Entry{URI: uri, PlaybackKind: model.PlaybackAudio}
}

// playNow drives PlayMedia with a pre-cancelled context so the post-play
// settling delay is skipped in tests.
func playNow(p *Player, track model.Entry, playlist, disambiguation []model.Entry) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.PlayMedia(ctx, track, playlist, disambiguation)
}

func TestPlayMediaTransitionsToPlaying(t *testing.T) {
	p := newTestPlayer(t, nil)

	playNow(p, audioEntry("http://x/s.mp3"), nil, nil)

	if p.State() != model.StatePlaying {
		t.Fatalf("state = %s, want PLAYING", p.State())
	}
	if got := p.NowPlaying().URI(); got != "http://x/s.mp3" {
		t.Fatalf("now playing = %q", got)
	}
	if pos, size := p.Playlist().Position(); size != 1 || pos != 0 {
		t.Fatalf("playlist %d/%d, want 0/1", pos, size)
	}
}

func TestCorkUncork(t *testing.T) {
	p := newTestPlayer(t, nil)
	ctx := context.Background()
	playNow(p, audioEntry("http://x/s.mp3"), nil, nil)

	p.Cork(ctx)
	if p.State() != model.StatePaused {
		t.Fatalf("state after cork = %s, want PAUSED", p.State())
	}
	if !p.pausedOnDuck {
		t.Fatal("paused_on_duck not set by cork")
	}

	p.Uncork(ctx)
	if p.State() != model.StatePlaying {
		t.Fatalf("state after uncork = %s, want PLAYING", p.State())
	}
	if p.pausedOnDuck {
		t.Fatal("paused_on_duck not cleared by uncork")
	}
}

func TestCorkWhilePausedIsNoOp(t *testing.T) {
	p := newTestPlayer(t, nil)
	ctx := context.Background()
	playNow(p, audioEntry("http://x/s.mp3"), nil, nil)
	p.Pause(ctx)

	p.Cork(ctx)
	if p.pausedOnDuck {
		t.Fatal("cork while paused must not claim the pause")
	}

	// Uncork must therefore not resume a user-initiated pause.
	p.Uncork(ctx)
	if p.State() != model.StatePaused {
		t.Fatalf("state = %s, want PAUSED", p.State())
	}
}

func TestRepeatToggleCycles(t *testing.T) {
	p := newTestPlayer(t, nil)

	want := []model.LoopState{model.LoopRepeatPlaylist, model.LoopRepeatTrack, model.LoopNone}
	for i, expect := range want {
		p.ToggleRepeat()
		if got := p.LoopState(); got != expect {
			t.Fatalf("toggle %d: got %s, want %s", i+1, got, expect)
		}
	}
}

func TestPauseTwiceEmitsOneStateEvent(t *testing.T) {
	b := bus.New()
	defer b.Close()
	p := newTestPlayer(t, b)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var events []string
	unsub, err := b.Subscribe(ctx, "player.state", func(_ context.Context, msg bus.Message) {
		mu.Lock()
		events = append(events, msg.Data["state"].(string))
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsub()

	playNow(p, audioEntry("http://x/s.mp3"), nil, nil)
	p.Pause(ctx)
	p.Pause(ctx)

	time.Sleep(200 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	paused := 0
	for _, e := range events {
		if e == string(model.StatePaused) {
			paused++
		}
	}
	if paused != 1 {
		t.Fatalf("got %d PAUSED events, want 1 (events: %v)", paused, events)
	}
	if p.State() != model.StatePaused {
		t.Fatalf("state = %s, want PAUSED", p.State())
	}
}

func TestNextWithMergeSearch(t *testing.T) {
	p := newTestPlayer(t, nil)

	a, b_, c, d := audioEntry("http://x/a"), audioEntry("http://x/b"), audioEntry("http://x/c"), audioEntry("http://x/d")
	playNow(p, b_, []model.Entry{a, b_}, []model.Entry{b_, c, d})

	p.PlayNext(context.Background())

	// B is already queued, so the merge skips to C and appends it.
	if got := p.NowPlaying().URI(); got != "http://x/c" {
		t.Fatalf("now playing = %q, want http://x/c", got)
	}
	if p.Playlist().Len() != 3 {
		t.Fatalf("playlist len = %d, want 3", p.Playlist().Len())
	}
	if p.State() != model.StatePlaying {
		t.Fatalf("state = %s", p.State())
	}
}

func TestNextThenPrevReturnsToSameTrack(t *testing.T) {
	p := newTestPlayer(t, nil)
	ctx := context.Background()

	a, b_, c := audioEntry("http://x/a"), audioEntry("http://x/b"), audioEntry("http://x/c")
	playNow(p, a, []model.Entry{a, b_, c}, nil)

	p.PlayNext(ctx)
	if got := p.NowPlaying().URI(); got != "http://x/b" {
		t.Fatalf("after next: %q", got)
	}
	p.PlayPrev(ctx)
	if got := p.NowPlaying().URI(); got != "http://x/a" {
		t.Fatalf("after prev: %q, want http://x/a", got)
	}
}

func TestNextOnEmptyPlayerIsSafe(t *testing.T) {
	p := newTestPlayer(t, nil)

	p.PlayNext(context.Background())

	if p.State() != model.StateStopped {
		t.Fatalf("state = %s, want STOPPED", p.State())
	}
	if p.NowPlaying().URI() != "" {
		t.Fatal("now playing should stay empty")
	}
}

func TestRepeatPlaylistWrapsCursor(t *testing.T) {
	p := newTestPlayer(t, nil)
	ctx := context.Background()
	p.cfg.OCP.MergeSearch = false

	a, b_ := audioEntry("http://x/a"), audioEntry("http://x/b")
	playNow(p, b_, []model.Entry{a, b_}, nil)
	p.SetRepeatState(model.LoopRepeatPlaylist)

	p.PlayNext(ctx)
	if got := p.NowPlaying().URI(); got != "http://x/a" {
		t.Fatalf("repeat playlist should wrap to first track, got %q", got)
	}
}

func TestStaleStopSuppressed(t *testing.T) {
	p := newTestPlayer(t, nil)
	ctx := context.Background()
	playNow(p, audioEntry("http://x/s.mp3"), nil, nil)

	if p.Stop(ctx) {
		t.Fatal("stop within the window should be dropped")
	}
	if p.State() != model.StatePlaying {
		t.Fatalf("state = %s, want PLAYING", p.State())
	}

	p.mu.Lock()
	p.playStarted = time.Now().Add(-1100 * time.Millisecond)
	p.mu.Unlock()

	if !p.Stop(ctx) {
		t.Fatal("stop past the window should go through")
	}
	if p.State() != model.StateStopped {
		t.Fatalf("state = %s, want STOPPED", p.State())
	}
}

func TestExternalTakeover(t *testing.T) {
	p := newTestPlayer(t, nil)
	ctx := context.Background()
	playNow(p, audioEntry("http://x/s.mp3"), nil, nil)

	p.HandleExternalTakeover(ctx, "org.mpris.MediaPlayer2.vlc", model.Entry{
		URI:    "mpris://org.mpris.MediaPlayer2.vlc",
		Title:  "T",
		Artist: "A",
	})

	snap := p.NowPlaying().Snapshot()
	if snap.PlaybackKind != model.PlaybackMPRIS {
		t.Fatalf("playback_kind = %s, want MPRIS", snap.PlaybackKind)
	}
	if snap.SkillID != "org.mpris.MediaPlayer2.vlc" {
		t.Fatalf("skill_id = %q", snap.SkillID)
	}
	if snap.Status != model.StatusPlayingMPRIS {
		t.Fatalf("status = %s", snap.Status)
	}
	if p.State() != model.StatePlaying {
		t.Fatalf("state = %s", p.State())
	}

	// Transport commands now delegate to the bridge instead of the
	// playlist; with no bridge wired they must not touch local state.
	p.PlayNext(ctx)
	if got := p.NowPlaying().Snapshot().PlaybackKind; got != model.PlaybackMPRIS {
		t.Fatalf("play_next escaped MPRIS delegation: %s", got)
	}
}

func TestExternalLostResetsState(t *testing.T) {
	p := newTestPlayer(t, nil)
	ctx := context.Background()

	p.HandleExternalTakeover(ctx, "peer", model.Entry{URI: "mpris://peer", Title: "T"})
	p.HandleExternalLost("peer")

	if p.State() != model.StateStopped {
		t.Fatalf("state = %s, want STOPPED", p.State())
	}
	if p.NowPlaying().URI() != "" {
		t.Fatal("now playing should be reset after the peer vanished")
	}
}

func TestSeekIgnoredForNonAudio(t *testing.T) {
	b := bus.New()
	defer b.Close()
	p := newTestPlayer(t, b)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seeks := make(chan struct{}, 1)
	unsub, err := b.Subscribe(ctx, "audio.service.seek_forward", func(_ context.Context, _ bus.Message) {
		seeks <- struct{}{}
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsub()

	p.NowPlaying().Replace(model.Entry{URI: "mpris://peer", PlaybackKind: model.PlaybackMPRIS})
	p.handleSeek(ctx, bus.Message{Data: map[string]interface{}{"seconds": float64(10)}})

	select {
	case <-seeks:
		t.Fatal("seek on a non-audio playback kind must be a no-op")
	case <-time.After(150 * time.Millisecond):
	}
}
