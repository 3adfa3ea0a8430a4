// Package web implements the webview Backend: playback of
// `javascript`-driven entries that a skill expects to run inside an
// embedded web view the GUI owns. The core process has no browser engine
// of its own, so this backend tracks playback state and forwards the
// entry's javascript payload to whatever runtime the GUI registers via
// SetExecutor, rather than owning the side effect itself.
package web

import (
	"context"
	"strconv"
	"sync"

	"github.com/ocp-media/ocp/internal/backend"
	"github.com/ocp-media/ocp/internal/model"
)

// Executor runs a webview-bound command. The GUI process implements
// this against its actual embedded browser.
type Executor interface {
	RunJavascript(ctx context.Context, js string) error
	LoadURL(ctx context.Context, uri string) error
}

// Backend is the webview player.
type Backend struct {
	name     string
	aliases  []string
	executor Executor

	mu      sync.Mutex
	entry   model.Entry
	playing bool
}

// New constructs the webview backend. executor may be nil until a GUI
// attaches; LoadTrack/Play then no-op rather than error, since a detached
// webview is a valid (if silent) state, not a misconfiguration.
func New(name string, executor Executor, aliases ...string) *Backend {
	return &Backend{name: name, aliases: aliases, executor: executor}
}

// SetExecutor attaches (or detaches, with nil) the active webview runtime.
func (b *Backend) SetExecutor(executor Executor) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.executor = executor
}

func (b *Backend) Name() string            { return b.name }
func (b *Backend) Aliases() []string       { return b.aliases }
func (b *Backend) SupportedURIs() []string { return nil } // catch-all within its family
func (b *Backend) IsRemote() bool          { return false }

func (b *Backend) LoadTrack(ctx context.Context, entry model.Entry) error {
	b.mu.Lock()
	b.entry = entry
	executor := b.executor
	b.mu.Unlock()

	if executor == nil {
		return nil
	}
	if entry.URI != "" {
		if err := executor.LoadURL(ctx, entry.URI); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) Play(ctx context.Context) error {
	b.mu.Lock()
	b.playing = true
	executor := b.executor
	js := b.entry.Javascript
	b.mu.Unlock()

	if executor == nil || js == "" {
		return nil
	}
	return executor.RunJavascript(ctx, js)
}

func (b *Backend) Pause(ctx context.Context) error {
	b.mu.Lock()
	b.playing = false
	executor := b.executor
	b.mu.Unlock()
	if executor == nil {
		return nil
	}
	return executor.RunJavascript(ctx, "document.querySelectorAll('video,audio').forEach(e=>e.pause())")
}

func (b *Backend) Resume(ctx context.Context) error {
	b.mu.Lock()
	b.playing = true
	executor := b.executor
	b.mu.Unlock()
	if executor == nil {
		return nil
	}
	return executor.RunJavascript(ctx, "document.querySelectorAll('video,audio').forEach(e=>e.play())")
}

func (b *Backend) Stop(ctx context.Context) error {
	b.mu.Lock()
	b.playing = false
	executor := b.executor
	b.mu.Unlock()
	if executor == nil {
		return nil
	}
	return executor.RunJavascript(ctx, "document.querySelectorAll('video,audio').forEach(e=>{e.pause();e.currentTime=0})")
}

func (b *Backend) SeekForward(ctx context.Context, ms int64) error  { return b.seekRelative(ctx, ms) }
func (b *Backend) SeekBackward(ctx context.Context, ms int64) error { return b.seekRelative(ctx, -ms) }

func (b *Backend) seekRelative(ctx context.Context, ms int64) error {
	b.mu.Lock()
	executor := b.executor
	b.mu.Unlock()
	if executor == nil {
		return nil
	}
	sec := float64(ms) / 1000.0
	return executor.RunJavascript(ctx, jsSeekRelative(sec))
}

func jsSeekRelative(sec float64) string {
	return "document.querySelectorAll('video,audio').forEach(e=>{e.currentTime+=(" +
		formatFloat(sec) + ")})"
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 3, 64)
}

func (b *Backend) SetTrackPosition(ctx context.Context, ms int64) error {
	b.mu.Lock()
	executor := b.executor
	b.mu.Unlock()
	if executor == nil {
		return nil
	}
	sec := float64(ms) / 1000.0
	return executor.RunJavascript(ctx, "document.querySelectorAll('video,audio').forEach(e=>{e.currentTime="+formatFloat(sec)+"})")
}

func (b *Backend) TrackPosition(ctx context.Context) (int64, error) { return 0, nil }
func (b *Backend) TrackLength(ctx context.Context) (int64, error)   { return 0, nil }

func (b *Backend) TrackInfo(ctx context.Context) (backend.TrackInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	status := model.StatusQueuedWebview
	if b.playing {
		status = model.StatusPlayingWebview
	}
	return backend.TrackInfo{URI: b.entry.URI, Status: status}, nil
}

func (b *Backend) LowerVolume(ctx context.Context) error {
	b.mu.Lock()
	executor := b.executor
	b.mu.Unlock()
	if executor == nil {
		return nil
	}
	return executor.RunJavascript(ctx, "document.querySelectorAll('video,audio').forEach(e=>{e.volume=0.3})")
}

func (b *Backend) RestoreVolume(ctx context.Context) error {
	b.mu.Lock()
	executor := b.executor
	b.mu.Unlock()
	if executor == nil {
		return nil
	}
	return executor.RunJavascript(ctx, "document.querySelectorAll('video,audio').forEach(e=>{e.volume=1.0})")
}

func (b *Backend) Shutdown(ctx context.Context) error { return nil }

var _ backend.Backend = (*Backend)(nil)
