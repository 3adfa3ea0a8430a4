// Package config loads the OCP.* and media.* configuration keys the
// daemon consumes. github.com/knadh/koanf/v2 resolves them by layering a
// YAML file under the per-user config directory with an environment
// overlay, so container deployments can override single keys without
// editing the file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// BackendSpec is one entry of media.{audio|video|web}_players.
type BackendSpec struct {
	Module  string   `koanf:"module"`
	Aliases []string `koanf:"aliases"`
	Active  bool     `koanf:"active"`
}

// Config is the full set of configuration keys OCP consumes. All fields
// are optional; DefaultConfig supplies the defaults.
type Config struct {
	OCP struct {
		ManageExternalPlayers bool   `koanf:"manage_external_players"`
		DisableMPRIS          bool   `koanf:"disable_mpris"`
		ForceAudioService     bool   `koanf:"force_audioservice"`
		PlaybackMode          string `koanf:"playback_mode"`
		Autoplay              bool   `koanf:"autoplay"`
		MergeSearch           bool   `koanf:"merge_search"`
	} `koanf:"ocp"`

	Media struct {
		AudioPlayers  map[string]BackendSpec `koanf:"audio_players"`
		VideoPlayers  map[string]BackendSpec `koanf:"video_players"`
		WebPlayers    map[string]BackendSpec `koanf:"web_players"`
		NativeSources []string               `koanf:"native_sources"`
		DBusType      string                 `koanf:"dbus_type"`
	} `koanf:"media"`
}

// ForceAudioPlaybackMode is the sentinel value of OCP.playback_mode that,
// combined with ForceAudioService, coerces every play to PlaybackAudio.
const ForceAudioPlaybackMode = "FORCE_AUDIO"

// DefaultConfig returns the configuration OCP runs with when no config
// file is present: MPRIS enabled and managed, autoplay and merge-search on,
// a single built-in "local" backend per family.
func DefaultConfig() *Config {
	c := &Config{}
	c.OCP.ManageExternalPlayers = true
	c.OCP.Autoplay = true
	c.OCP.MergeSearch = true
	c.Media.NativeSources = []string{"audio"}
	c.Media.DBusType = "session"
	c.Media.AudioPlayers = map[string]BackendSpec{
		"local": {Module: "ocp-audio-local", Active: true},
	}
	c.Media.VideoPlayers = map[string]BackendSpec{
		"local": {Module: "ocp-video-local", Active: true},
	}
	c.Media.WebPlayers = map[string]BackendSpec{
		"local": {Module: "ocp-web-local", Active: true},
	}
	return c
}

// Load reads configDir/ocp.yaml if present, overlays OCP_/MEDIA_-prefixed
// environment variables (the first underscore separates section from key,
// so OCP_MERGE_SEARCH sets ocp.merge_search), and returns the resolved
// Config. Callers pass the result into Player and each registry at
// construction.
func Load(configDir string) (*Config, error) {
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return nil, fmt.Errorf("config: create dir: %w", err)
	}

	k := koanf.New(".")
	defaults := DefaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	path := filepath.Join(configDir, "ocp.yaml")
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load file %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: stat %s: %w", path, err)
	}

	envProvider := env.Provider("", ".", func(s string) string {
		if !strings.HasPrefix(s, "OCP_") && !strings.HasPrefix(s, "MEDIA_") {
			return ""
		}
		return strings.Replace(strings.ToLower(s), "_", ".", 1)
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}
