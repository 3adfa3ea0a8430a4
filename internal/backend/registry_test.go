package backend

import (
	"context"
	"testing"
	"time"

	"github.com/ocp-media/ocp/internal/config"
	"github.com/ocp-media/ocp/internal/model"
)

// fakeBackend records calls so routing decisions are observable.
type fakeBackend struct {
	name    string
	schemes []string
	aliases []string
	remote  bool

	loaded  []string
	played  int
	stopped int
}

func (f *fakeBackend) Name() string            { return f.name }
func (f *fakeBackend) SupportedURIs() []string { return f.schemes }
func (f *fakeBackend) Aliases() []string       { return f.aliases }
func (f *fakeBackend) IsRemote() bool          { return f.remote }

func (f *fakeBackend) LoadTrack(_ context.Context, e model.Entry) error {
	f.loaded = append(f.loaded, e.URI)
	return nil
}
func (f *fakeBackend) Play(context.Context) error   { f.played++; return nil }
func (f *fakeBackend) Pause(context.Context) error  { return nil }
func (f *fakeBackend) Resume(context.Context) error { return nil }
func (f *fakeBackend) Stop(context.Context) error   { f.stopped++; return nil }

func (f *fakeBackend) SeekForward(context.Context, int64) error      { return nil }
func (f *fakeBackend) SeekBackward(context.Context, int64) error     { return nil }
func (f *fakeBackend) SetTrackPosition(context.Context, int64) error { return nil }
func (f *fakeBackend) TrackPosition(context.Context) (int64, error)  { return 0, nil }
func (f *fakeBackend) TrackLength(context.Context) (int64, error)    { return 0, nil }
func (f *fakeBackend) TrackInfo(context.Context) (TrackInfo, error)  { return TrackInfo{}, nil }
func (f *fakeBackend) LowerVolume(context.Context) error             { return nil }
func (f *fakeBackend) RestoreVolume(context.Context) error           { return nil }
func (f *fakeBackend) Shutdown(context.Context) error                { return nil }

func TestSelectPrefersPreferredBackend(t *testing.T) {
	r := NewRegistry("audio", nil)
	first := &fakeBackend{name: "first", schemes: []string{"http"}}
	second := &fakeBackend{name: "second", schemes: []string{"http"}}
	r.Register(first)
	r.Register(second)

	b, ok := r.Select("http://x/s.mp3", "second")
	if !ok || b.Name() != "second" {
		t.Fatalf("got %v ok=%v, want second", b, ok)
	}
}

func TestSelectKeepsCurrentBackend(t *testing.T) {
	r := NewRegistry("audio", nil)
	first := &fakeBackend{name: "first", schemes: []string{"http"}}
	second := &fakeBackend{name: "second", schemes: []string{"http"}}
	r.Register(first)
	r.Register(second)
	r.SetCurrent("second")

	b, ok := r.Select("http://x/s.mp3", "")
	if !ok || b.Name() != "second" {
		t.Fatalf("current backend not preferred: got %v", b.Name())
	}
}

func TestSelectFallsBackToRegistrationOrder(t *testing.T) {
	r := NewRegistry("audio", nil)
	r.Register(&fakeBackend{name: "spotify-only", schemes: []string{"spotify"}})
	r.Register(&fakeBackend{name: "http-player", schemes: []string{"http"}})

	b, ok := r.Select("http://x/s.mp3", "")
	if !ok || b.Name() != "http-player" {
		t.Fatalf("got %v ok=%v, want http-player", b, ok)
	}
}

func TestSelectRefusesUnclaimedScheme(t *testing.T) {
	r := NewRegistry("audio", nil)
	r.Register(&fakeBackend{name: "http-only", schemes: []string{"http"}})

	if _, ok := r.Select("rtsp://camera/stream", ""); ok {
		t.Fatal("expected no backend for rtsp")
	}
}

func TestPreferredByUtterance(t *testing.T) {
	r := NewRegistry("audio", nil)
	r.Register(&fakeBackend{name: "local", aliases: []string{"local player"}})
	r.Register(&fakeBackend{name: "spotify", aliases: []string{"spotify", "premium"}})

	name, ok := r.PreferredByUtterance("play dire straits on Spotify")
	if !ok || name != "spotify" {
		t.Fatalf("got %q ok=%v, want spotify", name, ok)
	}

	if _, ok := r.PreferredByUtterance("play some jazz"); ok {
		t.Fatal("no alias should match")
	}
}

func TestStopRateLimit(t *testing.T) {
	r := NewRegistry("audio", nil)
	b := &fakeBackend{name: "local", schemes: []string{"http"}}
	r.Register(b)
	r.SetCurrent("local")

	// A stop right after play is stale and must be dropped.
	r.mu.Lock()
	r.playStart = time.Now()
	r.mu.Unlock()
	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if b.stopped != 0 {
		t.Fatal("stale stop reached the backend")
	}

	// Past the window it goes through.
	r.mu.Lock()
	r.playStart = time.Now().Add(-1100 * time.Millisecond)
	r.mu.Unlock()
	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if b.stopped != 1 {
		t.Fatalf("stop count = %d, want 1", b.stopped)
	}
}

func TestLoadSkipsInactiveAndUnknown(t *testing.T) {
	r := NewRegistry("audio", nil)
	factoryCalls := 0

	r.Load(
		map[string]config.BackendSpec{
			"enabled":  {Module: "known", Active: true},
			"disabled": {Module: "known", Active: false},
			"broken":   {Module: "no-such-module", Active: true},
		},
		map[string]Factory{
			"known": func(name string, aliases []string) (Backend, error) {
				factoryCalls++
				return &fakeBackend{name: name}, nil
			},
		},
	)

	if factoryCalls != 1 {
		t.Fatalf("factory called %d times, want 1", factoryCalls)
	}
	names := r.Backends()
	if len(names) != 1 || names[0] != "enabled" {
		t.Fatalf("backends = %v", names)
	}
}

func TestLoadOrdersLocalsFirst(t *testing.T) {
	r := NewRegistry("audio", nil)
	r.Load(
		map[string]config.BackendSpec{
			"a-remote": {Module: "remote", Active: true},
			"z-local":  {Module: "local", Active: true},
		},
		map[string]Factory{
			"remote": func(name string, aliases []string) (Backend, error) {
				return &fakeBackend{name: name, remote: true}, nil
			},
			"local": func(name string, aliases []string) (Backend, error) {
				return &fakeBackend{name: name}, nil
			},
		},
	)

	names := r.Backends()
	if len(names) != 2 || names[0] != "z-local" || names[1] != "a-remote" {
		t.Fatalf("backends = %v, want locals first", names)
	}
}
