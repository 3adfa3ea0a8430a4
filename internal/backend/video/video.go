// Package video implements the local-video Backend. Playback is delegated
// to an external player process (mpv, in its JSON-IPC mode) rather than
// reimplementing video decode/render: a headless coordinator has no
// business rendering frames, but driving a player binary over a pipe is
// squarely in scope.
package video

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/ocp-media/ocp/internal/backend"
	"github.com/ocp-media/ocp/internal/model"
)

// Backend drives mpv over its --input-ipc-server control socket.
type Backend struct {
	name       string
	aliases    []string
	mpvPath    string
	socketPath string

	mu      sync.Mutex
	cmd     *exec.Cmd
	conn    net.Conn
	entry   model.Entry
	playing bool
}

// New locates mpv in PATH. If mpv isn't installed, New still succeeds —
// LoadTrack/Play will fail at call time, which Registry.Select never
// routes around because video URIs simply aren't claimed by any other
// registered backend.
func New(name string, aliases ...string) *Backend {
	path, _ := exec.LookPath("mpv")
	return &Backend{
		name:       name,
		aliases:    aliases,
		mpvPath:    path,
		socketPath: filepath.Join(os.TempDir(), fmt.Sprintf("ocp-mpv-%d.sock", os.Getpid())),
	}
}

func (b *Backend) Name() string            { return b.name }
func (b *Backend) Aliases() []string       { return b.aliases }
func (b *Backend) SupportedURIs() []string { return []string{"file://", "http://", "https://"} }
func (b *Backend) IsRemote() bool          { return false }

func (b *Backend) LoadTrack(ctx context.Context, entry model.Entry) error {
	if b.mpvPath == "" {
		return fmt.Errorf("video backend: mpv not installed")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cmd != nil {
		b.stopLocked()
	}
	b.entry = entry

	os.Remove(b.socketPath)
	cmd := exec.CommandContext(context.Background(), b.mpvPath,
		"--no-terminal",
		"--idle=yes",
		"--input-ipc-server="+b.socketPath,
		entry.URI,
	)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("video backend: start mpv: %w", err)
	}
	b.cmd = cmd

	var conn net.Conn
	var err error
	for i := 0; i < 20; i++ {
		conn, err = net.Dial("unix", b.socketPath)
		if err == nil {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if err != nil {
		cmd.Process.Kill()
		b.cmd = nil
		return fmt.Errorf("video backend: connect mpv ipc: %w", err)
	}
	b.conn = conn
	return nil
}

func (b *Backend) command(cmd []interface{}) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("video backend: no active mpv session")
	}
	payload, err := json.Marshal(map[string]interface{}{"command": cmd})
	if err != nil {
		return err
	}
	_, err = conn.Write(append(payload, '\n'))
	return err
}

func (b *Backend) Play(ctx context.Context) error {
	b.mu.Lock()
	b.playing = true
	b.mu.Unlock()
	return b.command([]interface{}{"set_property", "pause", false})
}

func (b *Backend) Pause(ctx context.Context) error {
	b.mu.Lock()
	b.playing = false
	b.mu.Unlock()
	return b.command([]interface{}{"set_property", "pause", true})
}

func (b *Backend) Resume(ctx context.Context) error { return b.Play(ctx) }

func (b *Backend) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopLocked()
	return nil
}

func (b *Backend) stopLocked() {
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
	if b.cmd != nil && b.cmd.Process != nil {
		b.cmd.Process.Kill()
		b.cmd.Wait()
	}
	b.cmd = nil
	b.playing = false
	os.Remove(b.socketPath)
}

func (b *Backend) SeekForward(ctx context.Context, ms int64) error {
	return b.command([]interface{}{"seek", float64(ms) / 1000.0, "relative"})
}

func (b *Backend) SeekBackward(ctx context.Context, ms int64) error {
	return b.command([]interface{}{"seek", -float64(ms) / 1000.0, "relative"})
}

func (b *Backend) SetTrackPosition(ctx context.Context, ms int64) error {
	return b.command([]interface{}{"seek", float64(ms) / 1000.0, "absolute"})
}

func (b *Backend) TrackPosition(ctx context.Context) (int64, error) {
	return b.queryMs("time-pos")
}

func (b *Backend) TrackLength(ctx context.Context) (int64, error) {
	return b.queryMs("duration")
}

// queryMs round-trips get_property over the mpv IPC socket. mpv's
// protocol replies asynchronously on the same connection, so this reads
// exactly one line back — acceptable because nothing else is issuing
// concurrent IPC calls against this connection.
func (b *Backend) queryMs(property string) (int64, error) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return 0, nil
	}
	req, _ := json.Marshal(map[string]interface{}{"command": []interface{}{"get_property", property}})
	if _, err := conn.Write(append(req, '\n')); err != nil {
		return 0, err
	}
	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		return 0, err
	}
	var reply struct {
		Data float64 `json:"data"`
	}
	if err := json.Unmarshal([]byte(line), &reply); err != nil {
		return 0, nil
	}
	return int64(reply.Data * 1000), nil
}

func (b *Backend) TrackInfo(ctx context.Context) (backend.TrackInfo, error) {
	pos, _ := b.TrackPosition(ctx)
	length, _ := b.TrackLength(ctx)
	b.mu.Lock()
	uri := b.entry.URI
	playing := b.playing
	b.mu.Unlock()
	status := model.StatusQueuedVideo
	if playing {
		status = model.StatusPlayingVideo
	}
	return backend.TrackInfo{URI: uri, LengthMs: length, PositionMs: pos, Status: status}, nil
}

// LowerVolume/RestoreVolume: video ducking lowers mpv's own volume
// property rather than the OS mixer, matching the "backend owns its
// output" boundary the audio backend also respects.
func (b *Backend) LowerVolume(ctx context.Context) error {
	return b.command([]interface{}{"set_property", "volume", 30})
}

func (b *Backend) RestoreVolume(ctx context.Context) error {
	return b.command([]interface{}{"set_property", "volume", 100})
}

func (b *Backend) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopLocked()
	return nil
}

var _ backend.Backend = (*Backend)(nil)
