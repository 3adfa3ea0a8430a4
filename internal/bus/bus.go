// Package bus implements the publish/subscribe message bus the daemon's
// components communicate over. Messages carry a {type, data, context}
// envelope; context.destination is the source-gate destination list. A
// topic can have any number of subscribers, which is how the GUI,
// NowPlaying, and the registries all follow playback independently.
//
// Transport is github.com/ThreeDotsLabs/watermill's gochannel pub/sub —
// an in-memory implementation of watermill's Publisher/Subscriber pair.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
)

// Message is the envelope every bus event carries: a type name, a
// free-form data dictionary, and a context dictionary.
type Message struct {
	Type    string                 `json:"type"`
	Data    map[string]interface{} `json:"data"`
	Context map[string]interface{} `json:"context"`
}

// Destination returns the context.destination list, or nil if absent.
func (m Message) Destination() []string {
	raw, ok := m.Context["destination"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Handler processes an inbound Message. Handlers must be cheap and
// non-blocking; blocking work (stream extraction, waits) is permitted but
// must never hold a cross-component lock while blocked.
type Handler func(ctx context.Context, msg Message)

// Bus is the pub/sub surface components depend on. It is deliberately
// narrow: Publish, Subscribe, and Request (a reply-topic convenience for
// the handful of request/response events like "status" and "SEI.get").
type Bus struct {
	logger    watermill.LoggerAdapter
	pub       message.Publisher
	sub       message.Subscriber
	closeOnce sync.Once
}

// New creates a Bus backed by an in-memory gochannel pub/sub.
func New() *Bus {
	logger := watermill.NopLogger{}
	gc := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 256,
		Persistent:          false,
	}, logger)
	return &Bus{logger: logger, pub: gc, sub: gc}
}

// Close releases the underlying pub/sub resources.
func (b *Bus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		if closer, ok := b.pub.(interface{ Close() error }); ok {
			err = closer.Close()
		}
	})
	return err
}

// Publish encodes msg as JSON and publishes it on topic.
func (b *Bus) Publish(topic string, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("bus: marshal %s: %w", topic, err)
	}
	wm := message.NewMessage(uuid.NewString(), payload)
	if err := b.pub.Publish(topic, wm); err != nil {
		return fmt.Errorf("bus: publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers handler for topic and returns an unsubscribe func.
// Each subscription runs its own delivery goroutine, so one slow handler
// cannot stall the others.
func (b *Bus) Subscribe(ctx context.Context, topic string, handler Handler) (func(), error) {
	messages, err := b.sub.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("bus: subscribe %s: %w", topic, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	go func() {
		for {
			select {
			case <-subCtx.Done():
				return
			case wm, ok := <-messages:
				if !ok {
					return
				}
				var msg Message
				if err := json.Unmarshal(wm.Payload, &msg); err != nil {
					log.Printf("[BUS] dropping malformed message on %s: %v", topic, err)
					wm.Ack()
					continue
				}
				handler(subCtx, msg)
				wm.Ack()
			}
		}
	}()

	return cancel, nil
}

// Request publishes msg on topic and waits for a single reply on
// replyTopic. Player.RefreshVolume uses it for the volume.get
// round-trip.
func (b *Bus) Request(ctx context.Context, topic, replyTopic string, msg Message, timeout time.Duration) (Message, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	replies, err := b.sub.Subscribe(waitCtx, replyTopic)
	if err != nil {
		return Message{}, fmt.Errorf("bus: subscribe reply %s: %w", replyTopic, err)
	}

	if err := b.Publish(topic, msg); err != nil {
		return Message{}, err
	}

	select {
	case wm, ok := <-replies:
		if !ok {
			return Message{}, fmt.Errorf("bus: reply channel closed for %s", replyTopic)
		}
		defer wm.Ack()
		var reply Message
		if err := json.Unmarshal(wm.Payload, &reply); err != nil {
			return Message{}, fmt.Errorf("bus: malformed reply on %s: %w", replyTopic, err)
		}
		return reply, nil
	case <-waitCtx.Done():
		return Message{}, fmt.Errorf("bus: request %s timed out: %w", topic, waitCtx.Err())
	}
}
