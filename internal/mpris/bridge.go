package mpris

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/ocp-media/ocp/internal/bus"
)

// PlayerCommands is the slice of the Player state machine Bridge drives
// when it promotes a peer to "main" or forwards a desktop-bus control
// signal (Play/Pause/Next/...) back into OCP. It is satisfied by
// *internal/player.Player; Bridge depends only on this narrow interface
// so it can be unit tested with a fake.
type PlayerCommands interface {
	Play(ctx context.Context)
	Pause(ctx context.Context)
	Next(ctx context.Context)
	Previous(ctx context.Context)
	PlayPause(ctx context.Context)
	SetShuffle(bool)
	SetLoopStatus(string)
	SetVolume(float64)

	// Snapshot reports OCP's own current state, used to answer the
	// exported RootObject's property getters.
	Snapshot() PlayerSnapshot
}

// PlayerSnapshot is the read side of PlayerCommands: the subset of player
// state MPRIS properties are derived from.
type PlayerSnapshot struct {
	PlaybackStatus string
	LoopStatus     string
	Shuffle        bool
	Volume         float64
	CanGoNext      bool
	CanGoPrevious  bool
	CanPlay        bool
	CanPause       bool
	Meta           Meta
}

// maxFail is how many consecutive failed status queries a peer gets
// before it is declared lost and dropped from the maps.
const maxFail = 3

// peerState tracks what Bridge knows about one discovered external
// player. failCount counts consecutive failed queries (a success resets
// it); at maxFail the peer is dropped and reported lost.
type peerState struct {
	peer       Peer
	lastStatus string
	lastMeta   Meta
	failCount  int
}

// pendingFlags is the "ocp wants to control external" mailbox: each field is a level-triggered,
// idempotent command set by a bus-handling goroutine and drained once per
// discovery-loop tick. Setting a flag twice before it drains has the same
// effect as setting it once.
type pendingFlags struct {
	mu            sync.Mutex
	stopAll       bool
	pauseAll      bool
	prev          bool
	next          bool
	resume        bool
	toggleShuffle bool
	toggleRepeat  bool
}

func (f *pendingFlags) set(which *bool) {
	f.mu.Lock()
	*which = true
	f.mu.Unlock()
}

// drain reports which flags were set and clears them atomically.
func (f *pendingFlags) drain() pendingFlags {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := pendingFlags{
		stopAll:       f.stopAll,
		pauseAll:      f.pauseAll,
		prev:          f.prev,
		next:          f.next,
		resume:        f.resume,
		toggleShuffle: f.toggleShuffle,
		toggleRepeat:  f.toggleRepeat,
	}
	f.stopAll, f.pauseAll, f.prev, f.next, f.resume, f.toggleShuffle, f.toggleRepeat = false, false, false, false, false, false, false
	return out
}

// Bridge is ExternalPlayerBridge: it discovers peers on the
// desktop media-player bus, mirrors the most relevant one into
// NowPlaying, optionally promotes a peer to "main" (taking control
// commands from OCP's own UI and forwarding them to the peer instead),
// and exports OCP itself as a peer other tools can see and control.
type Bridge struct {
	transport Transport
	bus       *bus.Bus
	commands  PlayerCommands
	dbusType  string
	ignored   map[string]bool

	// manageExternal mirrors OCP.manage_external_players: when set, a
	// promotion stops every *other* tracked peer.
	manageExternal bool

	mu         sync.Mutex
	peers      map[string]*peerState
	mainPlayer string // busName of the peer currently promoted, "" if none

	breakers map[string]*gobreaker.CircuitBreaker[any]

	// flag wakes the loop early; pending carries which control(s) should
	// be forwarded to the main player on the next tick.
	flag    chan struct{}
	pending pendingFlags

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Bridge. commands may be nil in which case takeover
// and self-export both degrade to observe-only mirroring.
func New(b *bus.Bus, commands PlayerCommands, dbusType string, ignoredPeers []string) *Bridge {
	ignored := make(map[string]bool, len(ignoredPeers))
	for _, n := range ignoredPeers {
		ignored[n] = true
	}
	return &Bridge{
		transport: newTransport(),
		bus:       b,
		commands:  commands,
		dbusType:  dbusType,
		ignored:   ignored,
		peers:     make(map[string]*peerState),
		breakers:  make(map[string]*gobreaker.CircuitBreaker[any]),
		flag:      make(chan struct{}, 1),
	}
}

// SetManageExternal controls whether a promotion stops the other tracked
// peers. Call before Start.
func (br *Bridge) SetManageExternal(v bool) {
	br.mu.Lock()
	br.manageExternal = v
	br.mu.Unlock()
}

// Start connects the transport, exports self, and begins the discovery
// loop. A non-nil ErrUnsupported return is non-fatal: callers should log
// and continue running OCP without external-player integration.
func (br *Bridge) Start(ctx context.Context) error {
	if err := br.transport.Connect(ctx, br.dbusType, br); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	br.cancel = cancel
	br.done = make(chan struct{})

	changes, err := br.transport.WatchPropertyChanges(runCtx)
	if err != nil {
		cancel()
		return err
	}

	go br.loop(runCtx, changes)
	return nil
}

func (br *Bridge) Stop() error {
	if br.cancel != nil {
		br.cancel()
		<-br.done
	}
	return br.transport.Close()
}

// Nudge wakes the discovery loop immediately instead of waiting for the
// next tick, used when OCP's own playback state changes in a way that
// might affect promotion (e.g. OCP itself just started playing).
func (br *Bridge) Nudge() {
	select {
	case br.flag <- struct{}{}:
	default:
	}
}

// RequestStopAll/RequestPauseAll/RequestNext/RequestPrevious/
// RequestResume/RequestToggleShuffle/RequestToggleLoop set the
// corresponding control flag and wake the loop. Safe to
// call from any goroutine, typically a bus handler forwarding a Player
// command while the current playback is MPRIS.
func (br *Bridge) RequestStopAll()       { br.pending.set(&br.pending.stopAll); br.Nudge() }
func (br *Bridge) RequestPauseAll()      { br.pending.set(&br.pending.pauseAll); br.Nudge() }
func (br *Bridge) RequestNext()          { br.pending.set(&br.pending.next); br.Nudge() }
func (br *Bridge) RequestPrevious()      { br.pending.set(&br.pending.prev); br.Nudge() }
func (br *Bridge) RequestResume()        { br.pending.set(&br.pending.resume); br.Nudge() }
func (br *Bridge) RequestToggleShuffle() { br.pending.set(&br.pending.toggleShuffle); br.Nudge() }
func (br *Bridge) RequestToggleLoop()    { br.pending.set(&br.pending.toggleRepeat); br.Nudge() }

// MainPlayer returns the bus name of the currently promoted peer, or ""
// if none (used by Player to decide whether next/prev/stop should
// forward to the bridge instead of a local registry).
func (br *Bridge) MainPlayer() string {
	br.mu.Lock()
	defer br.mu.Unlock()
	return br.mainPlayer
}

func (br *Bridge) loop(ctx context.Context, changes <-chan PropChange) {
	defer close(br.done)

	limiter := rate.NewLimiter(rate.Every(tickInterval), 1)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	br.discover(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			br.drainPending(ctx)
			if limiter.Allow() {
				br.discover(ctx)
			}
		case <-br.flag:
			br.drainPending(ctx)
			if limiter.Allow() {
				br.discover(ctx)
			}
		case ch, ok := <-changes:
			if !ok {
				return
			}
			br.handlePropChange(ctx, ch)
		}
	}
}

func (br *Bridge) breakerFor(busName string) *gobreaker.CircuitBreaker[any] {
	br.mu.Lock()
	defer br.mu.Unlock()
	if cb, ok := br.breakers[busName]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        busName,
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFail
		},
	})
	br.breakers[busName] = cb
	return cb
}

// drainPending executes any outstanding control request against the
// current main player. stopAll/pauseAll apply to every
// tracked peer, not just main, mirroring "stop other players on takeover".
func (br *Bridge) drainPending(ctx context.Context) {
	flags := br.pending.drain()
	if !(flags.stopAll || flags.pauseAll || flags.prev || flags.next || flags.resume || flags.toggleShuffle || flags.toggleRepeat) {
		return
	}

	if flags.stopAll || flags.pauseAll {
		br.mu.Lock()
		peers := make([]*peerState, 0, len(br.peers))
		for _, st := range br.peers {
			peers = append(peers, st)
		}
		br.mu.Unlock()
		for _, st := range peers {
			var err error
			if flags.stopAll {
				err = st.peer.Stop(ctx)
			} else {
				err = st.peer.Pause(ctx)
			}
			if err != nil {
				log.Printf("[mpris] stop/pause peer %s: %v", st.peer.BusName(), err)
			}
		}
	}

	main, ok := br.mainPeer()
	if !ok {
		return
	}

	if flags.next {
		br.callWithRetry(ctx, main.BusName(), func() error { return main.Next(ctx) })
	}
	if flags.prev {
		br.callWithRetry(ctx, main.BusName(), func() error { return main.Previous(ctx) })
	}
	if flags.resume {
		br.callWithRetry(ctx, main.BusName(), func() error { return main.Play(ctx) })
	}
	// Shuffle/LoopStatus toggling on a peer requires a write-property
	// call the Peer interface doesn't expose (most MPRIS players treat
	// them as settable properties, not methods); Bridge mirrors the
	// *read* side only, so toggling an external player's shuffle/repeat from
	// OCP's UI is not wired through to the peer here.
}

func (br *Bridge) mainPeer() (Peer, bool) {
	br.mu.Lock()
	defer br.mu.Unlock()
	st, ok := br.peers[br.mainPlayer]
	if !ok {
		return nil, false
	}
	return st.peer, true
}

// execWithRetry runs one per-player call through the peer's circuit
// breaker, retrying once on failure. Peer probes, status queries and the
// next/previous/resume requests go through here; the stop/pause fan-out
// in drainPending and stopOthers and mirror's Metadata query call the
// peer directly, once, without the breaker.
func (br *Bridge) execWithRetry(busName string, fn func() (any, error)) (any, error) {
	cb := br.breakerFor(busName)
	res, err := cb.Execute(fn)
	if err == nil {
		return res, nil
	}
	return cb.Execute(fn)
}

func (br *Bridge) callWithRetry(ctx context.Context, busName string, fn func() error) {
	if _, err := br.execWithRetry(busName, func() (any, error) { return nil, fn() }); err != nil {
		log.Printf("[mpris] %s: %v", busName, err)
	}
}

// discover enumerates peers, drops ones that vanished, adds new ones, and
// re-evaluates which peer (if any) should be promoted to main.
func (br *Bridge) discover(ctx context.Context) {
	names, err := br.transport.ListPeers(ctx, br.ignored)
	if err != nil {
		log.Printf("[mpris] list peers: %v", err)
		return
	}

	seen := make(map[string]bool, len(names))
	for _, name := range names {
		seen[name] = true
		br.ensurePeer(ctx, name)
	}

	br.mu.Lock()
	for name := range br.peers {
		if !seen[name] {
			delete(br.peers, name)
			delete(br.breakers, name)
			if br.mainPlayer == name {
				br.mainPlayer = ""
			}
		}
	}
	br.mu.Unlock()

	br.reconcileMain(ctx)
}

func (br *Bridge) ensurePeer(ctx context.Context, name string) {
	br.mu.Lock()
	_, exists := br.peers[name]
	br.mu.Unlock()
	if exists {
		return
	}

	peer := br.transport.NewPeer(name)
	_, err := br.execWithRetry(name, func() (any, error) {
		return nil, peer.Introspect(ctx)
	})
	if err != nil {
		// Transient probe failures are expected for players that are
		// starting up or shutting down; don't track a peer we can't
		// talk to yet.
		return
	}

	br.mu.Lock()
	br.peers[name] = &peerState{peer: peer}
	br.mu.Unlock()
}

// reconcileMain picks the single peer to mirror/promote: the current main
// peer while it is still playing, otherwise the first playing peer met
// while walking the peer map (an arbitrary order), or none. Keeping a
// still-playing main keeps the promotion target stable rather than
// thrashing between two peers that are both playing.
func (br *Bridge) reconcileMain(ctx context.Context) {
	br.mu.Lock()
	current := br.mainPlayer
	candidates := make([]*peerState, 0, len(br.peers))
	names := make([]string, 0, len(br.peers))
	for name, st := range br.peers {
		candidates = append(candidates, st)
		names = append(names, name)
	}
	br.mu.Unlock()

	var promote string
	for i, st := range candidates {
		res, err := br.execWithRetry(names[i], func() (any, error) {
			return st.peer.PlaybackStatus(ctx)
		})
		if err != nil {
			br.mu.Lock()
			st.failCount++
			br.mu.Unlock()
			continue
		}
		status, _ := res.(string)
		br.mu.Lock()
		st.lastStatus = status
		st.failCount = 0
		br.mu.Unlock()
		if status == PlaybackStatusPlaying && (promote == "" || names[i] == current) {
			promote = names[i]
		}
	}

	br.dropLostPeers()

	br.mu.Lock()
	previous := br.mainPlayer
	changed := br.mainPlayer != promote
	br.mainPlayer = promote
	manage := br.manageExternal
	br.mu.Unlock()

	if !changed {
		return
	}
	if promote != "" {
		if manage {
			br.stopOthers(ctx, promote)
		}
		br.mirror(ctx, promote)
	} else if previous != "" && br.bus != nil {
		br.bus.Publish("now_playing.external.lost", bus.Message{
			Type: "now_playing.external.lost",
			Data: map[string]interface{}{"source": previous},
		})
	}
}

// dropLostPeers removes every peer whose consecutive query failures
// reached maxFail and reports each as lost. This catches players that
// stay enumerated on the bus but no longer answer — a hung process keeps
// its bus name while serving nothing.
func (br *Bridge) dropLostPeers() {
	br.mu.Lock()
	var lost []string
	for name, st := range br.peers {
		if st.failCount >= maxFail {
			lost = append(lost, name)
			delete(br.peers, name)
			delete(br.breakers, name)
			if br.mainPlayer == name {
				br.mainPlayer = ""
			}
		}
	}
	br.mu.Unlock()

	for _, name := range lost {
		log.Printf("[mpris] peer %s lost after %d failed queries", name, maxFail)
		if br.bus != nil {
			br.bus.Publish("now_playing.external.lost", bus.Message{
				Type: "now_playing.external.lost",
				Data: map[string]interface{}{"source": name},
			})
		}
	}
}

// stopOthers stops every tracked peer except busName, so a freshly
// promoted player doesn't fight with whatever else was still going.
func (br *Bridge) stopOthers(ctx context.Context, busName string) {
	br.mu.Lock()
	others := make([]*peerState, 0, len(br.peers))
	for name, st := range br.peers {
		if name != busName {
			others = append(others, st)
		}
	}
	br.mu.Unlock()

	for _, st := range others {
		if err := st.peer.Stop(ctx); err != nil {
			log.Printf("[mpris] stop peer %s on takeover: %v", st.peer.BusName(), err)
		}
	}
}

// mirror pulls the promoted peer's metadata and publishes it onto the
// bus as a NowPlaying update.
func (br *Bridge) mirror(ctx context.Context, busName string) {
	br.mu.Lock()
	st, ok := br.peers[busName]
	br.mu.Unlock()
	if !ok {
		return
	}

	meta, err := st.peer.Metadata(ctx)
	if err != nil {
		return
	}
	br.mu.Lock()
	st.lastMeta = meta
	br.mu.Unlock()

	if br.bus == nil {
		return
	}
	br.bus.Publish("now_playing.external", bus.Message{
		Type: "now_playing.external",
		Data: map[string]interface{}{
			"source":    busName,
			"title":     meta.Title,
			"artist":    meta.Artist,
			"art_url":   meta.ArtURL,
			"length_ms": meta.LengthUs / 1000,
		},
	})
}

func (br *Bridge) handlePropChange(ctx context.Context, ch PropChange) {
	br.mu.Lock()
	_, tracked := br.peers[ch.BusName]
	br.mu.Unlock()
	if !tracked {
		return
	}
	if ch.Interface != mprisPlayerIfaceName() {
		return
	}
	br.Nudge()
}

// mprisPlayerIfaceName avoids a platform-specific constant leaking into
// this file's non-linux build (transport_linux.go owns mprisPlayerIface).
func mprisPlayerIfaceName() string { return "org.mpris.MediaPlayer2.Player" }

// --- RootObject: self-export surface, delegating to commands when set ---

func (br *Bridge) Identity() string { return "OCP Media Player" }

// schemeLister is implemented by a PlayerCommands that can report which
// URI schemes its loaded backends claim; the exported root interface
// advertises that union instead of a hardcoded list.
type schemeLister interface {
	SupportedURISchemes() []string
}

func (br *Bridge) SupportedURISchemes() []string {
	if lister, ok := br.commands.(schemeLister); ok {
		if schemes := lister.SupportedURISchemes(); len(schemes) > 0 {
			return schemes
		}
	}
	return []string{"http", "https", "file"}
}

func (br *Bridge) SupportedMimeTypes() []string {
	return []string{"audio/mpeg", "audio/ogg", "audio/flac", "video/mp4", "video/webm"}
}

func (br *Bridge) snapshot() PlayerSnapshot {
	if br.commands == nil {
		return PlayerSnapshot{PlaybackStatus: PlaybackStatusStopped, LoopStatus: LoopStatusNone}
	}
	return br.commands.Snapshot()
}

func (br *Bridge) PlaybackStatus() string { return br.snapshot().PlaybackStatus }
func (br *Bridge) LoopStatus() string     { return br.snapshot().LoopStatus }
func (br *Bridge) Shuffle() bool          { return br.snapshot().Shuffle }
func (br *Bridge) CanGoNext() bool        { return br.snapshot().CanGoNext }
func (br *Bridge) CanGoPrevious() bool    { return br.snapshot().CanGoPrevious }
func (br *Bridge) CanPlay() bool          { return br.snapshot().CanPlay }
func (br *Bridge) CanPause() bool         { return br.snapshot().CanPause }
func (br *Bridge) GetVolume() float64     { return br.snapshot().Volume }

func (br *Bridge) Metadata() map[string]interface{} {
	m := br.snapshot().Meta
	return map[string]interface{}{
		"title":  m.Title,
		"artist": m.Artist,
		"artUrl": m.ArtURL,
		"length": m.LengthUs,
	}
}

func (br *Bridge) SetShuffle(v bool) {
	if br.commands != nil {
		br.commands.SetShuffle(v)
	}
	br.PublishSelfChanged(map[string]interface{}{"Shuffle": v})
}

func (br *Bridge) SetLoopStatus(v string) {
	if br.commands != nil {
		br.commands.SetLoopStatus(v)
	}
	br.PublishSelfChanged(map[string]interface{}{"LoopStatus": v})
}

func (br *Bridge) SetVolume(v float64) {
	if br.commands != nil {
		br.commands.SetVolume(v)
	}
	br.PublishSelfChanged(map[string]interface{}{"Volume": v})
}

func (br *Bridge) Previous() { br.dispatch(func(ctx context.Context) { br.commands.Previous(ctx) }) }
func (br *Bridge) Next()     { br.dispatch(func(ctx context.Context) { br.commands.Next(ctx) }) }

// Stop maps to pause rather than a hard stop: MPRIS clients send Stop for
// what OCP users usually mean as "pause", so the current track stays
// loaded and resumable. The player's own bus stop command, by contrast,
// stops playback.
func (br *Bridge) Stop() { br.dispatch(func(ctx context.Context) { br.commands.Pause(ctx) }) }

func (br *Bridge) Play()      { br.dispatch(func(ctx context.Context) { br.commands.Play(ctx) }) }
func (br *Bridge) Pause()     { br.dispatch(func(ctx context.Context) { br.commands.Pause(ctx) }) }
func (br *Bridge) PlayPause() { br.dispatch(func(ctx context.Context) { br.commands.PlayPause(ctx) }) }

func (br *Bridge) dispatch(fn func(ctx context.Context)) {
	if br.commands == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	fn(ctx)
	br.Nudge()
}

// PublishSelfChanged notifies desktop-bus listeners that one of OCP's own
// exported properties changed.
func (br *Bridge) PublishSelfChanged(props map[string]interface{}) {
	if err := br.transport.EmitSelfPropertiesChanged(props); err != nil {
		log.Printf("[mpris] emit self properties changed: %v", err)
	}
}
