package player

import "errors"

// Sentinel errors for the failure kinds Player is responsible for.
// Bridge and registry errors (ErrBridgeTransient, ErrBridgeFatal,
// ErrBackendLoadFailure) are declared here too since Player is where they
// ultimately surface as state transitions or log lines.
var (
	// ErrNoBackend means no registered backend claims a URI's scheme.
	// Handlers log and return without changing player state.
	ErrNoBackend = errors.New("player: no backend claims this uri")

	// ErrStaleStop means a stop arrived within the 1000ms rate-limit
	// window and was silently ignored.
	ErrStaleStop = errors.New("player: stop suppressed, too soon after play")

	// ErrBadMessage means a bus payload was missing a required field
	//. The handler must leave player state untouched.
	ErrBadMessage = errors.New("player: malformed bus message")

	// ErrBridgeTransient means a single ExternalPlayerBridge call to a
	// peer failed; callers retry once before counting it as a failure.
	ErrBridgeTransient = errors.New("player: external bridge call failed")

	// ErrBridgeFatal means the bridge's discovery loop itself crashed;
	// Service is responsible for restart-with-backoff.
	ErrBridgeFatal = errors.New("player: external bridge event loop failed")

	// ErrBackendLoadFailure means a configured backend plugin could not
	// be instantiated; the registry excludes it and continues.
	ErrBackendLoadFailure = errors.New("player: backend failed to load")

	// errUndefinedPlaybackKind is returned internally by play() when an
	// entry's playback_kind never got normalized to a concrete kind.
	errUndefinedPlaybackKind = errors.New("player: undefined playback kind")
)
