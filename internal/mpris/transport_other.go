//go:build !linux

package mpris

import "context"

// noopTransport is the non-linux stand-in: every call fails with
// ErrUnsupported so Bridge.Start can treat it as a non-fatal disablement.
type noopTransport struct{}

func newTransport() Transport { return noopTransport{} }

func (noopTransport) Connect(ctx context.Context, dbusType string, self RootObject) error {
	return ErrUnsupported
}

func (noopTransport) Close() error { return nil }

func (noopTransport) ListPeers(ctx context.Context, ignored map[string]bool) ([]string, error) {
	return nil, ErrUnsupported
}

func (noopTransport) NewPeer(busName string) Peer { return nil }

func (noopTransport) WatchPropertyChanges(ctx context.Context) (<-chan PropChange, error) {
	return nil, ErrUnsupported
}

func (noopTransport) EmitSelfPropertiesChanged(props map[string]interface{}) error {
	return ErrUnsupported
}
