package service

import (
	"context"
	"testing"
	"time"

	"github.com/ocp-media/ocp/internal/bus"
	"github.com/ocp-media/ocp/internal/config"
)

func TestServiceLifecycle(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.OCP.DisableMPRIS = true

	b := bus.New()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	states := make(chan string, 8)
	unsub, err := b.Subscribe(ctx, "ocp.service.state", func(_ context.Context, msg bus.Message) {
		if s, ok := msg.Data["state"].(string); ok {
			states <- s
		}
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsub()

	svc := New(cfg, b, t.TempDir())
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	want := []string{string(StateStarted), string(StateAlive), string(StateReady)}
	for _, expect := range want {
		select {
		case got := <-states:
			if got != expect {
				t.Fatalf("lifecycle state = %s, want %s", got, expect)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("never saw lifecycle state %s", expect)
		}
	}

	svc.Shutdown(context.Background())
	select {
	case got := <-states:
		if got != string(StateStopping) {
			t.Fatalf("shutdown state = %s, want STOPPING", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("never saw STOPPING")
	}
}

func TestServicePingPong(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.OCP.DisableMPRIS = true

	b := bus.New()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc := New(cfg, b, t.TempDir())
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer svc.Shutdown(context.Background())

	reply, err := b.Request(ctx, "ocp.ping", "ocp.pong", bus.Message{Type: "ocp.ping"}, 2*time.Second)
	if err != nil {
		t.Fatalf("ping: %v", err)
	}
	if reply.Type != "ocp.pong" {
		t.Fatalf("reply type = %s", reply.Type)
	}
}

func TestNotifierCancelThenReschedule(t *testing.T) {
	b := bus.New()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shown := make(chan string, 4)
	dismissed := make(chan struct{}, 4)
	if _, err := b.Subscribe(ctx, "ocp.gui.notification", func(_ context.Context, msg bus.Message) {
		text, _ := msg.Data["text"].(string)
		shown <- text
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := b.Subscribe(ctx, "ocp.gui.notification.dismiss", func(_ context.Context, _ bus.Message) {
		dismissed <- struct{}{}
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	n := NewNotifier(b)
	n.Show("first")
	n.Show("second") // cancels the first timer

	for i := 0; i < 2; i++ {
		select {
		case <-shown:
		case <-time.After(time.Second):
			t.Fatal("notification never published")
		}
	}

	n.Dismiss()
	select {
	case <-dismissed:
	case <-time.After(time.Second):
		t.Fatal("dismissal never published")
	}

	// A late fire from the replaced timer must not dismiss again.
	select {
	case <-dismissed:
		t.Fatal("stale timer fired after dismissal")
	case <-time.After(200 * time.Millisecond):
	}
}
