// Package events provides the host's fault/event stream. Components
// publish typed events (collision rejections, invalid transitions,
// completed mode switches, fault stops) and the operational logging layer
// and API server subscribe to them.
package events

import (
	"sync"
	"time"
)

// Type identifies the kind of event.
type Type string

const (
	// TypeCollisionRejected is published when SafetyGuard rejects a move.
	TypeCollisionRejected Type = "collision_rejected"

	// TypeInvalidTransition is published when a mode change is rejected or
	// treated as an idempotent no-op.
	TypeInvalidTransition Type = "invalid_transition"

	// TypeHomingOrderWarning is published when a separation check is
	// skipped because the other carriage has not homed.
	TypeHomingOrderWarning Type = "homing_order_warning"

	// TypeBindingChanged is published when a motion-queue binding is
	// applied or removed.
	TypeBindingChanged Type = "binding_changed"

	// TypeModeSwitched is published after a completed carriage mode switch.
	TypeModeSwitched Type = "mode_switched"

	// TypeToolActivated is published after a completed tool activation.
	TypeToolActivated Type = "tool_activated"

	// TypeToolActivationFailed is published after a rolled-back activation.
	TypeToolActivationFailed Type = "tool_activation_failed"

	// TypeFaultStop is published when a safety-triggered fault stop flushes
	// pending motion.
	TypeFaultStop Type = "fault_stop"
)

// Event is a single entry on the fault/event stream.
type Event struct {
	Type    Type
	Time    time.Time
	Message string
	Data    map[string]interface{}
}

// Handler receives published events. Handlers run synchronously on the
// publishing goroutine; command processing is single-threaded, so handlers
// must not re-enter the motion layer.
type Handler func(Event)

// Bus fans events out to registered handlers and keeps a bounded history
// for status queries.
type Bus struct {
	mu       sync.Mutex
	handlers []Handler
	history  []Event
	maxKeep  int
}

// NewBus creates an event bus retaining the last maxKeep events
// (default 64 when maxKeep <= 0).
func NewBus(maxKeep int) *Bus {
	if maxKeep <= 0 {
		maxKeep = 64
	}
	return &Bus{maxKeep: maxKeep}
}

// Subscribe registers a handler for all subsequent events.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish records the event and invokes all handlers.
func (b *Bus) Publish(t Type, message string, data map[string]interface{}) {
	ev := Event{
		Type:    t,
		Time:    time.Now(),
		Message: message,
		Data:    data,
	}

	b.mu.Lock()
	b.history = append(b.history, ev)
	if len(b.history) > b.maxKeep {
		b.history = b.history[len(b.history)-b.maxKeep:]
	}
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

// History returns a copy of the retained events, oldest first.
func (b *Bus) History() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.history))
	copy(out, b.history)
	return out
}
