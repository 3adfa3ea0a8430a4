package bus

import (
	"context"
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Message, 1)
	unsub, err := b.Subscribe(ctx, "test.topic", func(_ context.Context, msg Message) {
		got <- msg
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsub()

	if err := b.Publish("test.topic", Message{
		Type: "test.topic",
		Data: map[string]interface{}{"value": "hello"},
	}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-got:
		if msg.Data["value"] != "hello" {
			t.Fatalf("got %v, want hello", msg.Data["value"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message never delivered")
	}
}

func TestRequestReply(t *testing.T) {
	b := New()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	unsub, err := b.Subscribe(ctx, "echo", func(_ context.Context, msg Message) {
		b.Publish("echo.response", Message{
			Type: "echo.response",
			Data: msg.Data,
		})
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsub()

	reply, err := b.Request(ctx, "echo", "echo.response", Message{
		Type: "echo",
		Data: map[string]interface{}{"n": float64(42)},
	}, 2*time.Second)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if reply.Data["n"] != float64(42) {
		t.Fatalf("got %v, want 42", reply.Data["n"])
	}
}

func TestRequestTimesOut(t *testing.T) {
	b := New()
	defer b.Close()

	_, err := b.Request(context.Background(), "nobody.listens", "nobody.replies", Message{Type: "nobody.listens"}, 50*time.Millisecond)
	if err == nil {
		t.Fatal("expected a timeout error")
	}
}

func TestSourceAllowed(t *testing.T) {
	tests := []struct {
		name          string
		destination   interface{}
		nativeSources []string
		want          bool
	}{
		{"no destination", nil, []string{"audio"}, true},
		{"matching destination", []interface{}{"audio"}, []string{"audio"}, true},
		{"one of several matches", []interface{}{"remote", "audio"}, []string{"audio"}, true},
		{"foreign destination", []interface{}{"remote"}, []string{"audio"}, false},
		{"no native sources", []interface{}{"remote"}, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := Message{Context: map[string]interface{}{}}
			if tt.destination != nil {
				msg.Context["destination"] = tt.destination
			}
			if got := SourceAllowed(msg, tt.nativeSources); got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}
