package mpris

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/ocp-media/ocp/internal/bus"
)

type fakePeer struct {
	busName   string
	status    string
	statusErr error
	meta      Meta
}

func (p *fakePeer) BusName() string                           { return p.busName }
func (p *fakePeer) Introspect(ctx context.Context) error       { return nil }
func (p *fakePeer) Metadata(ctx context.Context) (Meta, error) { return p.meta, nil }
func (p *fakePeer) PlaybackStatus(ctx context.Context) (string, error) {
	if p.statusErr != nil {
		return "", p.statusErr
	}
	return p.status, nil
}
func (p *fakePeer) LoopStatus(ctx context.Context) (string, error)      { return LoopStatusNone, nil }
func (p *fakePeer) Shuffle(ctx context.Context) (bool, error)           { return false, nil }
func (p *fakePeer) Play(ctx context.Context) error                      { return nil }
func (p *fakePeer) Pause(ctx context.Context) error                     { return nil }
func (p *fakePeer) Stop(ctx context.Context) error                      { return nil }
func (p *fakePeer) Next(ctx context.Context) error                      { return nil }
func (p *fakePeer) Previous(ctx context.Context) error                  { return nil }
func (p *fakePeer) Close() error                                        { return nil }

type fakeTransport struct {
	peers   map[string]*fakePeer
	changes chan PropChange
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{peers: make(map[string]*fakePeer), changes: make(chan PropChange, 8)}
}

func (t *fakeTransport) Connect(ctx context.Context, dbusType string, self RootObject) error {
	return nil
}
func (t *fakeTransport) Close() error { return nil }

func (t *fakeTransport) ListPeers(ctx context.Context, ignored map[string]bool) ([]string, error) {
	names := make([]string, 0, len(t.peers))
	for n := range t.peers {
		if !ignored[n] {
			names = append(names, n)
		}
	}
	return names, nil
}

func (t *fakeTransport) NewPeer(busName string) Peer { return t.peers[busName] }

func (t *fakeTransport) WatchPropertyChanges(ctx context.Context) (<-chan PropChange, error) {
	return t.changes, nil
}

func (t *fakeTransport) EmitSelfPropertiesChanged(props map[string]interface{}) error { return nil }

func TestBridgeDiscoversAndPromotesPlayingPeer(t *testing.T) {
	is := is.New(t)
	tr := newFakeTransport()
	tr.peers["org.mpris.MediaPlayer2.vlc"] = &fakePeer{
		busName: "org.mpris.MediaPlayer2.vlc",
		status:  PlaybackStatusPlaying,
		meta:    Meta{Title: "Track One", Artist: "Artist"},
	}

	br := New(bus.New(), nil, "session", nil)
	br.transport = tr

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	br.discover(ctx)

	is.Equal(br.mainPlayer, "org.mpris.MediaPlayer2.vlc")
}

func TestBridgeDropsVanishedPeer(t *testing.T) {
	is := is.New(t)
	tr := newFakeTransport()
	tr.peers["a"] = &fakePeer{busName: "a", status: PlaybackStatusPlaying}

	br := New(bus.New(), nil, "session", nil)
	br.transport = tr

	ctx := context.Background()
	br.discover(ctx)
	is.Equal(br.mainPlayer, "a")

	delete(tr.peers, "a")
	br.discover(ctx)
	is.Equal(br.mainPlayer, "")
}

func TestBridgeDropsUnresponsivePeer(t *testing.T) {
	is := is.New(t)
	tr := newFakeTransport()
	tr.peers["org.mpris.MediaPlayer2.hung"] = &fakePeer{
		busName:   "org.mpris.MediaPlayer2.hung",
		statusErr: errors.New("no reply"),
	}

	b := bus.New()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lost := make(chan string, 1)
	unsub, err := b.Subscribe(ctx, "now_playing.external.lost", func(_ context.Context, msg bus.Message) {
		if source, ok := msg.Data["source"].(string); ok {
			lost <- source
		}
	})
	is.NoErr(err)
	defer unsub()

	br := New(b, nil, "session", nil)
	br.transport = tr

	// The peer stays enumerated on the bus but never answers; after
	// maxFail failed query rounds it must be dropped and reported lost.
	for i := 0; i < maxFail; i++ {
		br.discover(ctx)
	}

	br.mu.Lock()
	_, tracked := br.peers["org.mpris.MediaPlayer2.hung"]
	br.mu.Unlock()
	is.True(!tracked)

	select {
	case source := <-lost:
		is.Equal(source, "org.mpris.MediaPlayer2.hung")
	case <-time.After(2 * time.Second):
		t.Fatal("lost-player event never published")
	}
}

func TestBridgeIgnoresConfiguredPeers(t *testing.T) {
	is := is.New(t)
	tr := newFakeTransport()
	tr.peers["org.mpris.MediaPlayer2.kdeconnect.device"] = &fakePeer{
		busName: "org.mpris.MediaPlayer2.kdeconnect.device",
		status:  PlaybackStatusPlaying,
	}

	br := New(bus.New(), nil, "session", []string{"org.mpris.MediaPlayer2.kdeconnect.device"})
	br.transport = tr

	br.discover(context.Background())
	is.Equal(br.mainPlayer, "")
}

func TestBridgeRootObjectDefaultsWithNoCommands(t *testing.T) {
	is := is.New(t)
	br := New(bus.New(), nil, "session", nil)

	is.Equal(br.PlaybackStatus(), PlaybackStatusStopped)
	is.Equal(br.LoopStatus(), LoopStatusNone)
	is.Equal(br.Identity(), "OCP Media Player")
}
