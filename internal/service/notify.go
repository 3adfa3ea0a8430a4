package service

import (
	"sync"
	"time"

	"github.com/ocp-media/ocp/internal/bus"
)

// notificationTTL is how long a GUI notification stays up before
// auto-dismissal.
const notificationTTL = 60 * time.Second

// Notifier publishes transient GUI notifications with auto-dismissal. A
// new Show cancels the previous dismissal timer before scheduling its
// own; a late fire from an already-cancelled timer no-ops because the
// generation counter no longer matches.
type Notifier struct {
	bus *bus.Bus

	mu    sync.Mutex
	timer *time.Timer
	gen   int
}

// NewNotifier returns a Notifier publishing on the GUI notification topics.
func NewNotifier(b *bus.Bus) *Notifier {
	return &Notifier{bus: b}
}

// Show publishes a notification and schedules its dismissal.
func (n *Notifier) Show(text string) {
	n.mu.Lock()
	if n.timer != nil {
		n.timer.Stop()
	}
	n.gen++
	gen := n.gen
	n.timer = time.AfterFunc(notificationTTL, func() {
		n.dismissIfCurrent(gen)
	})
	n.mu.Unlock()

	if n.bus != nil {
		n.bus.Publish("ocp.gui.notification", bus.Message{
			Type: "ocp.gui.notification",
			Data: map[string]interface{}{"text": text},
		})
	}
}

// Dismiss clears the current notification immediately.
func (n *Notifier) Dismiss() {
	n.mu.Lock()
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	n.gen++
	n.mu.Unlock()
	n.publishDismiss()
}

func (n *Notifier) dismissIfCurrent(gen int) {
	n.mu.Lock()
	current := n.gen == gen
	if current {
		n.timer = nil
	}
	n.mu.Unlock()
	if current {
		n.publishDismiss()
	}
}

func (n *Notifier) publishDismiss() {
	if n.bus != nil {
		n.bus.Publish("ocp.gui.notification.dismiss", bus.Message{
			Type: "ocp.gui.notification.dismiss",
		})
	}
}
