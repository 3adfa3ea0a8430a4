//go:build linux

package mpris

import (
	"context"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	mprisIface       = "org.mpris.MediaPlayer2"
	mprisPlayerIface = "org.mpris.MediaPlayer2.Player"
	mprisPropsIface  = "org.freedesktop.DBus.Properties"
	mprisPath        = "/org/mpris/MediaPlayer2"
	mprisPrefix      = "org.mpris.MediaPlayer2."
	ocpBusName       = "org.mpris.MediaPlayer2.OCP"
)

// linuxTransport is the godbus-backed Transport: RequestName + Export +
// PropertiesChanged emission for the self-export half, plus name
// enumeration and property subscription for the peer-observing half.
type linuxTransport struct {
	conn *dbus.Conn
}

func newTransport() Transport { return &linuxTransport{} }

func (t *linuxTransport) Connect(ctx context.Context, dbusType string, self RootObject) error {
	var conn *dbus.Conn
	var err error
	if dbusType == "system" {
		conn, err = dbus.ConnectSystemBus()
	} else {
		conn, err = dbus.SessionBus()
	}
	if err != nil {
		return fmt.Errorf("mpris: connect bus: %w", err)
	}

	reply, err := conn.RequestName(ocpBusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return fmt.Errorf("mpris: request name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return fmt.Errorf("mpris: bus name %s already owned", ocpBusName)
	}

	export := &selfExport{root: self}
	if err := conn.Export(export, mprisPath, mprisIface); err != nil {
		conn.Close()
		return fmt.Errorf("mpris: export root interface: %w", err)
	}
	if err := conn.Export(export, mprisPath, mprisPlayerIface); err != nil {
		conn.Close()
		return fmt.Errorf("mpris: export player interface: %w", err)
	}
	if err := conn.Export(export, mprisPath, mprisPropsIface); err != nil {
		conn.Close()
		return fmt.Errorf("mpris: export properties interface: %w", err)
	}

	t.conn = conn
	return nil
}

func (t *linuxTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	return t.conn.Close()
}

func (t *linuxTransport) ListPeers(ctx context.Context, ignored map[string]bool) ([]string, error) {
	var names []string
	bus := t.conn.BusObject()
	if err := bus.CallWithContext(ctx, "org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		return nil, fmt.Errorf("mpris: list names: %w", err)
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !strings.HasPrefix(n, mprisPrefix) {
			continue
		}
		if ignored[n] {
			continue
		}
		// KDE Connect publishes proxy names like
		// org.mpris.MediaPlayer2.kdeconnect.mpris_<device>; these shadow
		// the real player and aren't independently controllable.
		if strings.Contains(n, "kdeconnect") {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func (t *linuxTransport) NewPeer(busName string) Peer {
	return &dbusPeer{conn: t.conn, busName: busName, obj: t.conn.Object(busName, mprisPath)}
}

func (t *linuxTransport) WatchPropertyChanges(ctx context.Context) (<-chan PropChange, error) {
	rule := fmt.Sprintf("type='signal',interface='%s',member='PropertiesChanged'", mprisPropsIface)
	if err := t.conn.AddMatchSignal(dbus.WithMatchInterface(mprisPropsIface), dbus.WithMatchMember("PropertiesChanged")); err != nil {
		return nil, fmt.Errorf("mpris: add match %q: %w", rule, err)
	}

	raw := make(chan *dbus.Signal, 64)
	t.conn.Signal(raw)

	out := make(chan PropChange, 64)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-raw:
				if !ok {
					return
				}
				if sig == nil || len(sig.Body) < 2 {
					continue
				}
				iface, _ := sig.Body[0].(string)
				changed, _ := sig.Body[1].(map[string]dbus.Variant)
				if changed == nil {
					continue
				}
				plain := make(map[string]interface{}, len(changed))
				for k, v := range changed {
					plain[k] = v.Value()
				}
				select {
				case out <- PropChange{BusName: string(sig.Sender), Interface: iface, Changed: plain}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (t *linuxTransport) EmitSelfPropertiesChanged(props map[string]interface{}) error {
	variants := make(map[string]dbus.Variant, len(props))
	for k, v := range props {
		variants[k] = dbus.MakeVariant(v)
	}
	return t.conn.Emit(mprisPath, mprisPropsIface+".PropertiesChanged", mprisPlayerIface, variants, []string{})
}

// dbusPeer is a remote control handle for one external player, round-
// tripping MPRIS method calls and Properties.Get over godbus.
type dbusPeer struct {
	conn    *dbus.Conn
	busName string
	obj     dbus.BusObject
}

func (p *dbusPeer) BusName() string { return p.busName }

func (p *dbusPeer) Introspect(ctx context.Context) error {
	// A cheap reachability probe standing in for full XML introspection:
	// fetching one property confirms the peer answers the Player
	// interface at all.
	var v dbus.Variant
	return p.obj.CallWithContext(ctx, mprisPropsIface+".Get", 0, mprisPlayerIface, "PlaybackStatus").Store(&v)
}

func (p *dbusPeer) getProp(ctx context.Context, iface, name string) (dbus.Variant, error) {
	var v dbus.Variant
	call := p.obj.CallWithContext(ctx, mprisPropsIface+".Get", 0, iface, name)
	if call.Err != nil {
		return dbus.Variant{}, call.Err
	}
	if err := call.Store(&v); err != nil {
		return dbus.Variant{}, err
	}
	return v, nil
}

func (p *dbusPeer) Metadata(ctx context.Context) (Meta, error) {
	v, err := p.getProp(ctx, mprisPlayerIface, "Metadata")
	if err != nil {
		return Meta{}, err
	}
	raw, ok := v.Value().(map[string]dbus.Variant)
	if !ok {
		return Meta{}, nil
	}
	return decodeMetadata(raw), nil
}

func decodeMetadata(raw map[string]dbus.Variant) Meta {
	var m Meta
	if v, ok := raw["xesam:title"]; ok {
		m.Title, _ = v.Value().(string)
	}
	if v, ok := raw["xesam:artist"]; ok {
		if artists, ok := v.Value().([]string); ok && len(artists) > 0 {
			m.Artist = artists[0]
		}
	}
	if v, ok := raw["mpris:artUrl"]; ok {
		m.ArtURL, _ = v.Value().(string)
	}
	if v, ok := raw["mpris:length"]; ok {
		switch n := v.Value().(type) {
		case int64:
			m.LengthUs = n
		case uint64:
			m.LengthUs = int64(n)
		}
	}
	return m
}

func (p *dbusPeer) PlaybackStatus(ctx context.Context) (string, error) {
	v, err := p.getProp(ctx, mprisPlayerIface, "PlaybackStatus")
	if err != nil {
		return "", err
	}
	s, _ := v.Value().(string)
	return s, nil
}

func (p *dbusPeer) LoopStatus(ctx context.Context) (string, error) {
	v, err := p.getProp(ctx, mprisPlayerIface, "LoopStatus")
	if err != nil {
		return LoopStatusNone, nil // absent property is common; not every player implements it
	}
	s, _ := v.Value().(string)
	if s == "" {
		s = LoopStatusNone
	}
	return s, nil
}

func (p *dbusPeer) Shuffle(ctx context.Context) (bool, error) {
	v, err := p.getProp(ctx, mprisPlayerIface, "Shuffle")
	if err != nil {
		return false, nil
	}
	b, _ := v.Value().(bool)
	return b, nil
}

func (p *dbusPeer) call(ctx context.Context, method string) error {
	return p.obj.CallWithContext(ctx, mprisPlayerIface+"."+method, 0).Err
}

func (p *dbusPeer) Play(ctx context.Context) error     { return p.call(ctx, "Play") }
func (p *dbusPeer) Pause(ctx context.Context) error     { return p.call(ctx, "Pause") }
func (p *dbusPeer) Stop(ctx context.Context) error      { return p.call(ctx, "Stop") }
func (p *dbusPeer) Next(ctx context.Context) error      { return p.call(ctx, "Next") }
func (p *dbusPeer) Previous(ctx context.Context) error  { return p.call(ctx, "Previous") }
func (p *dbusPeer) Close() error                        { return nil }

// selfExport is the object godbus dispatches method calls to for the
// well-known OCP name; it adapts RootObject's typed methods to the
// loosely-typed *dbus.Error return convention MPRIS methods use.
type selfExport struct {
	root RootObject
}

func (e *selfExport) Raise() *dbus.Error { return nil }
func (e *selfExport) Quit() *dbus.Error  { return nil }

func (e *selfExport) Previous() *dbus.Error { e.root.Previous(); return nil }
func (e *selfExport) Next() *dbus.Error     { e.root.Next(); return nil }
func (e *selfExport) Stop() *dbus.Error     { e.root.Stop(); return nil }
func (e *selfExport) Play() *dbus.Error     { e.root.Play(); return nil }
func (e *selfExport) Pause() *dbus.Error    { e.root.Pause(); return nil }
func (e *selfExport) PlayPause() *dbus.Error {
	e.root.PlayPause()
	return nil
}

func (e *selfExport) Seek(offsetUs int64) *dbus.Error     { return nil } // no-op: OCP seeks via the registry, not MPRIS Seek
func (e *selfExport) SetPosition(trackID dbus.ObjectPath, position int64) *dbus.Error {
	return nil
}

func (e *selfExport) Get(iface, prop string) (dbus.Variant, *dbus.Error) {
	switch iface {
	case mprisIface:
		return e.getRootProp(prop)
	case mprisPlayerIface:
		return e.getPlayerProp(prop)
	}
	return dbus.Variant{}, dbus.MakeFailedError(fmt.Errorf("unknown interface: %s", iface))
}

func (e *selfExport) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	switch iface {
	case mprisIface:
		return e.allRootProps(), nil
	case mprisPlayerIface:
		return e.allPlayerProps(), nil
	}
	return nil, dbus.MakeFailedError(fmt.Errorf("unknown interface: %s", iface))
}

func (e *selfExport) Set(iface, prop string, value dbus.Variant) *dbus.Error {
	if iface != mprisPlayerIface {
		return nil
	}
	switch prop {
	case "Shuffle":
		if b, ok := value.Value().(bool); ok {
			e.root.SetShuffle(b)
		}
	case "LoopStatus":
		if s, ok := value.Value().(string); ok {
			e.root.SetLoopStatus(s)
		}
	case "Volume":
		if f, ok := value.Value().(float64); ok {
			e.root.SetVolume(f)
		}
	}
	return nil
}

func (e *selfExport) getRootProp(prop string) (dbus.Variant, *dbus.Error) {
	switch prop {
	case "CanQuit", "CanRaise", "HasTrackList":
		return dbus.MakeVariant(false), nil
	case "Identity":
		return dbus.MakeVariant(e.root.Identity()), nil
	case "DesktopEntry":
		return dbus.MakeVariant("ocp"), nil
	case "SupportedUriSchemes":
		return dbus.MakeVariant(e.root.SupportedURISchemes()), nil
	case "SupportedMimeTypes":
		return dbus.MakeVariant(e.root.SupportedMimeTypes()), nil
	}
	return dbus.Variant{}, dbus.MakeFailedError(fmt.Errorf("unknown property: %s", prop))
}

func (e *selfExport) allRootProps() map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"CanQuit":             dbus.MakeVariant(false),
		"CanRaise":            dbus.MakeVariant(false),
		"HasTrackList":        dbus.MakeVariant(false),
		"Identity":            dbus.MakeVariant(e.root.Identity()),
		"DesktopEntry":        dbus.MakeVariant("ocp"),
		"SupportedUriSchemes": dbus.MakeVariant(e.root.SupportedURISchemes()),
		"SupportedMimeTypes":  dbus.MakeVariant(e.root.SupportedMimeTypes()),
	}
}

// getPlayerProp/allPlayerProps fall back to safe defaults instead of a
// D-Bus error when no track is loaded, so naive MPRIS clients don't trip
// over an empty player.
func (e *selfExport) getPlayerProp(prop string) (dbus.Variant, *dbus.Error) {
	switch prop {
	case "PlaybackStatus":
		return dbus.MakeVariant(e.root.PlaybackStatus()), nil
	case "Metadata":
		return dbus.MakeVariant(e.metadataVariantMap()), nil
	case "Position":
		return dbus.MakeVariant(int64(0)), nil
	case "Rate", "MinimumRate", "MaximumRate":
		return dbus.MakeVariant(1.0), nil
	case "CanGoNext":
		return dbus.MakeVariant(e.root.CanGoNext()), nil
	case "CanGoPrevious":
		return dbus.MakeVariant(e.root.CanGoPrevious()), nil
	case "CanPlay":
		return dbus.MakeVariant(e.root.CanPlay()), nil
	case "CanPause":
		return dbus.MakeVariant(e.root.CanPause()), nil
	case "CanSeek":
		return dbus.MakeVariant(false), nil
	case "CanControl":
		return dbus.MakeVariant(true), nil
	case "Volume":
		return dbus.MakeVariant(e.root.GetVolume()), nil
	case "Shuffle":
		return dbus.MakeVariant(e.root.Shuffle()), nil
	case "LoopStatus":
		return dbus.MakeVariant(e.root.LoopStatus()), nil
	}
	return dbus.Variant{}, dbus.MakeFailedError(fmt.Errorf("unknown property: %s", prop))
}

func (e *selfExport) allPlayerProps() map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"PlaybackStatus": dbus.MakeVariant(e.root.PlaybackStatus()),
		"Metadata":       dbus.MakeVariant(e.metadataVariantMap()),
		"Position":       dbus.MakeVariant(int64(0)),
		"Rate":           dbus.MakeVariant(1.0),
		"MinimumRate":    dbus.MakeVariant(1.0),
		"MaximumRate":    dbus.MakeVariant(1.0),
		"CanGoNext":      dbus.MakeVariant(e.root.CanGoNext()),
		"CanGoPrevious":  dbus.MakeVariant(e.root.CanGoPrevious()),
		"CanPlay":        dbus.MakeVariant(e.root.CanPlay()),
		"CanPause":       dbus.MakeVariant(e.root.CanPause()),
		"CanSeek":        dbus.MakeVariant(false),
		"CanControl":     dbus.MakeVariant(true),
		"Volume":         dbus.MakeVariant(e.root.GetVolume()),
		"Shuffle":        dbus.MakeVariant(e.root.Shuffle()),
		"LoopStatus":     dbus.MakeVariant(e.root.LoopStatus()),
	}
}

func (e *selfExport) metadataVariantMap() map[string]dbus.Variant {
	meta := e.root.Metadata()
	if len(meta) == 0 {
		return map[string]dbus.Variant{
			"mpris:trackid": dbus.MakeVariant(dbus.ObjectPath("/org/ocp/track/none")),
		}
	}
	out := map[string]dbus.Variant{
		"mpris:trackid": dbus.MakeVariant(dbus.ObjectPath("/org/ocp/track/1")),
	}
	if v, ok := meta["title"].(string); ok && v != "" {
		out["xesam:title"] = dbus.MakeVariant(v)
	}
	if v, ok := meta["artist"].(string); ok && v != "" {
		out["xesam:artist"] = dbus.MakeVariant([]string{v})
	}
	if v, ok := meta["artUrl"].(string); ok && v != "" {
		out["mpris:artUrl"] = dbus.MakeVariant(v)
	}
	if v, ok := meta["length"].(int64); ok && v > 0 {
		out["mpris:length"] = dbus.MakeVariant(v)
	}
	return out
}
