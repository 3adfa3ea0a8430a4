// Package main is the entry point for the ocpd daemon: a headless,
// bus-driven media player core that coordinates voice-assistant skills,
// pluggable playback backends, and external desktop media players.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ocp-media/ocp/internal/bus"
	"github.com/ocp-media/ocp/internal/config"
	"github.com/ocp-media/ocp/internal/service"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	var configDir string
	var verbose bool
	flag.StringVar(&configDir, "config", "", "Configuration directory (default: ~/.config/ocp)")
	flag.BoolVar(&verbose, "verbose", false, "Enable verbose logging")
	flag.Parse()

	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			log.Fatalf("Failed to get home directory: %v", err)
		}
		configDir = home + "/.config/ocp"
	}

	if verbose {
		log.Printf("ocpd version %s starting...", Version)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	if err := run(ctx, configDir); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run(ctx context.Context, configDir string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return err
	}

	b := bus.New()
	defer b.Close()

	svc := service.New(cfg, b, configDir)
	if err := svc.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	svc.Shutdown(shutdownCtx)
	return nil
}
