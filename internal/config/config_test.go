package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWhenNoFile(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.OCP.Autoplay || !cfg.OCP.MergeSearch || !cfg.OCP.ManageExternalPlayers {
		t.Fatalf("defaults not applied: %+v", cfg.OCP)
	}
	if cfg.Media.DBusType != "session" {
		t.Fatalf("dbus_type = %q, want session", cfg.Media.DBusType)
	}
	if _, ok := cfg.Media.AudioPlayers["local"]; !ok {
		t.Fatal("default audio player missing")
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	content := []byte(`ocp:
  autoplay: false
  disable_mpris: true
media:
  native_sources:
    - audio
    - debug_cli
  audio_players:
    spotify:
      module: ocp-spotify
      aliases: ["spotify"]
      active: true
`)
	if err := os.WriteFile(filepath.Join(dir, "ocp.yaml"), content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.OCP.Autoplay {
		t.Fatal("autoplay should be overridden to false")
	}
	if !cfg.OCP.DisableMPRIS {
		t.Fatal("disable_mpris should be true")
	}
	if len(cfg.Media.NativeSources) != 2 || cfg.Media.NativeSources[1] != "debug_cli" {
		t.Fatalf("native_sources = %v", cfg.Media.NativeSources)
	}
	spec, ok := cfg.Media.AudioPlayers["spotify"]
	if !ok || spec.Module != "ocp-spotify" || !spec.Active {
		t.Fatalf("spotify player spec = %+v ok=%v", spec, ok)
	}
}
