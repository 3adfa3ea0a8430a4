// Package service is the process supervisor: it wires the Player to the
// bus, loads the configured backends into their registries, runs the
// ExternalPlayerBridge under a supervision tree, and reports the
// STARTED -> ALIVE -> READY -> STOPPING lifecycle.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/ocp-media/ocp/internal/backend"
	"github.com/ocp-media/ocp/internal/backend/audio"
	"github.com/ocp-media/ocp/internal/backend/video"
	"github.com/ocp-media/ocp/internal/backend/web"
	"github.com/ocp-media/ocp/internal/bus"
	"github.com/ocp-media/ocp/internal/catalog"
	"github.com/ocp-media/ocp/internal/config"
	"github.com/ocp-media/ocp/internal/mpris"
	"github.com/ocp-media/ocp/internal/nowplaying"
	"github.com/ocp-media/ocp/internal/player"
)

// State is the service lifecycle.
type State string

const (
	StateStarted  State = "STARTED"
	StateAlive    State = "ALIVE"
	StateReady    State = "READY"
	StateStopping State = "STOPPING"
)

// bridgeRestartLimit is the bridge supervisor's suture failure threshold:
// once more than this many recent failures pile up (decaying over five
// minutes), the supervisor waits out its backoff and then restarts the
// bridge again. It does not give up.
const bridgeRestartLimit = 5

// Service owns process lifecycle and component wiring.
type Service struct {
	cfg *config.Config
	bus *bus.Bus

	seis       *nowplaying.SEIRegistry
	nowPlaying *nowplaying.NowPlaying
	catalog    *catalog.Catalog
	player     *player.Player
	bridge     *mpris.Bridge
	registries player.Registries
	notifier   *Notifier

	supervisor *suture.Supervisor
	supDone    <-chan error
	supCancel  context.CancelFunc

	cancels []func()
}

// New constructs the full component graph but starts nothing. configDir
// holds the liked-songs store alongside the config file.
func New(cfg *config.Config, b *bus.Bus, configDir string) *Service {
	seis := nowplaying.NewSEIRegistry()
	np := nowplaying.New(seis)
	cat := catalog.New(b, configDir)

	regs := player.Registries{
		Audio: backend.NewRegistry("audio", b),
		Video: backend.NewRegistry("video", b),
		Web:   backend.NewRegistry("web", b),
	}
	regs.Audio.Load(cfg.Media.AudioPlayers, audioFactories())
	regs.Video.Load(cfg.Media.VideoPlayers, videoFactories())
	regs.Web.Load(cfg.Media.WebPlayers, webFactories())

	p := player.New(cfg, b, np, cat, regs)

	s := &Service{
		cfg:        cfg,
		bus:        b,
		seis:       seis,
		nowPlaying: np,
		catalog:    cat,
		player:     p,
		registries: regs,
		notifier:   NewNotifier(b),
	}

	if !cfg.OCP.DisableMPRIS {
		br := mpris.New(b, p, cfg.Media.DBusType, nil)
		br.SetManageExternal(cfg.OCP.ManageExternalPlayers)
		p.SetBridge(br)
		s.bridge = br
	}
	return s
}

// SEIs exposes the stream-extractor registry so the entry point can
// register resolvers before Start.
func (s *Service) SEIs() *nowplaying.SEIRegistry { return s.seis }

// Player exposes the player for tests and embedders.
func (s *Service) Player() *player.Player { return s.player }

func audioFactories() map[string]backend.Factory {
	return map[string]backend.Factory{
		"ocp-audio-local": func(name string, aliases []string) (backend.Backend, error) {
			return audio.New(name, aliases...)
		},
	}
}

func videoFactories() map[string]backend.Factory {
	return map[string]backend.Factory{
		"ocp-video-local": func(name string, aliases []string) (backend.Backend, error) {
			return video.New(name, aliases...), nil
		},
	}
}

func webFactories() map[string]backend.Factory {
	return map[string]backend.Factory{
		"ocp-web-local": func(name string, aliases []string) (backend.Backend, error) {
			return web.New(name, nil, aliases...), nil
		},
	}
}

// Start subscribes every component to the bus, starts the bridge under
// supervision, and walks the lifecycle to READY.
func (s *Service) Start(ctx context.Context) error {
	s.publishState(StateStarted)

	cancel, err := s.nowPlaying.Subscribe(ctx, s.bus)
	if err != nil {
		return fmt.Errorf("service: nowplaying subscribe: %w", err)
	}
	s.cancels = append(s.cancels, cancel)

	native := s.cfg.Media.NativeSources
	for _, r := range []*backend.Registry{s.registries.Audio, s.registries.Video, s.registries.Web} {
		cancel, err := r.Subscribe(ctx, native, s.onTrackLoaded)
		if err != nil {
			return fmt.Errorf("service: registry subscribe: %w", err)
		}
		s.cancels = append(s.cancels, cancel)
	}

	cancel, err = s.player.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("service: player subscribe: %w", err)
	}
	s.cancels = append(s.cancels, cancel)

	if err := s.subscribeAdmin(ctx); err != nil {
		return err
	}

	s.publishState(StateAlive)

	if s.bridge != nil {
		s.startBridgeSupervised(ctx)
	}
	s.player.RefreshVolume(ctx)

	s.publishState(StateReady)
	log.Printf("[SERVICE] ready")
	return nil
}

// onTrackLoaded republishes a routed play onto the "play" topic so
// NowPlaying merges its metadata even when the play request entered
// through a family namespace directly rather than through the Player.
func (s *Service) onTrackLoaded(res backend.PlayResult) {
	s.bus.Publish("play", bus.Message{
		Type: "play",
		Data: map[string]interface{}{
			"uri":           res.Entry.URI,
			"original_uri":  res.Entry.OriginalURI,
			"title":         res.Entry.Title,
			"artist":        res.Entry.Artist,
			"image":         res.Entry.Image,
			"duration_ms":   float64(res.Entry.DurationMs),
			"playback_kind": string(res.Entry.PlaybackKind),
			"media_type":    string(res.Entry.MediaType),
			"skill_id":      res.Entry.SkillID,
		},
	})
}

// subscribeAdmin registers the small admin surface: ping/pong and the
// GUI's search spinner hooks.
func (s *Service) subscribeAdmin(ctx context.Context) error {
	subs := map[string]bus.Handler{
		"ocp.ping": func(_ context.Context, _ bus.Message) {
			s.bus.Publish("ocp.pong", bus.Message{Type: "ocp.pong"})
		},
		player.Prefix + "search.start": func(_ context.Context, _ bus.Message) {
			s.notifier.Show("Searching...")
		},
		player.Prefix + "search.end": func(_ context.Context, _ bus.Message) {
			s.notifier.Dismiss()
		},
	}
	for topic, h := range subs {
		cancel, err := s.bus.Subscribe(ctx, topic, h)
		if err != nil {
			return fmt.Errorf("service: subscribe %s: %w", topic, err)
		}
		s.cancels = append(s.cancels, cancel)
	}
	return nil
}

// bridgeRunner adapts Bridge's Start/Stop lifecycle to suture's Serve.
type bridgeRunner struct {
	br *mpris.Bridge
}

func (r bridgeRunner) Serve(ctx context.Context) error {
	if err := r.br.Start(ctx); err != nil {
		if errors.Is(err, mpris.ErrUnsupported) {
			log.Printf("[SERVICE] desktop media bus unavailable, running without external-player integration")
			return suture.ErrDoNotRestart
		}
		return fmt.Errorf("bridge start: %w", err)
	}
	<-ctx.Done()
	r.br.Stop()
	return ctx.Err()
}

// startBridgeSupervised runs the bridge under a suture supervisor that
// restarts it after each failure, pausing 3s once more than
// bridgeRestartLimit recent failures pile up. Restarts stop only when
// Start reports ErrUnsupported (no desktop bus).
func (s *Service) startBridgeSupervised(ctx context.Context) {
	hook := (&sutureslog.Handler{Logger: slog.Default()}).MustHook()
	sup := suture.New("ocp-bridge", suture.Spec{
		EventHook:        hook,
		FailureThreshold: bridgeRestartLimit,
		FailureDecay:     float64((5 * time.Minute) / time.Second),
		FailureBackoff:   3 * time.Second,
	})
	sup.Add(bridgeRunner{br: s.bridge})

	supCtx, cancel := context.WithCancel(ctx)
	s.supervisor = sup
	s.supCancel = cancel
	s.supDone = sup.ServeBackground(supCtx)
}

// Shutdown walks the lifecycle to STOPPING and tears everything down:
// Player reset and backend shutdown, bridge stop, bus unsubscription.
// Errors are logged, never propagated.
func (s *Service) Shutdown(ctx context.Context) {
	s.publishState(StateStopping)
	s.notifier.Dismiss()

	if s.supCancel != nil {
		s.supCancel()
		select {
		case <-s.supDone:
		case <-time.After(5 * time.Second):
			log.Printf("[SERVICE] bridge supervisor did not stop in time")
		}
	}

	s.player.Shutdown(ctx)

	for _, cancel := range s.cancels {
		cancel()
	}
	s.cancels = nil
	log.Printf("[SERVICE] stopped")
}

func (s *Service) publishState(state State) {
	s.bus.Publish("ocp.service.state", bus.Message{
		Type: "ocp.service.state",
		Data: map[string]interface{}{"state": string(state)},
	})
}
