// Package events provides the typed event bus that replaces ad-hoc
// notification broadcast between the sync engine, dispatcher, relay, and UI.
//
// The event vocabulary is a closed enum so publishers and subscribers agree
// statically on what can be observed. Delivery is per-subscriber buffered;
// a slow subscriber drops messages rather than blocking a publisher.
package events

import (
	"log"
	"sync"
	"time"
)

// Type identifies an event kind.
type Type string

const (
	// TypePhrasesChanged fires when the phrase board contents changed.
	TypePhrasesChanged Type = "phrases_changed"
	// TypeSettingsChanged fires when the settings record changed.
	TypeSettingsChanged Type = "settings_changed"
	// TypeSyncCompleted fires at the end of every sync pass.
	TypeSyncCompleted Type = "sync_completed"
	// TypeSpeakRequested fires when a phrase should be spoken.
	TypeSpeakRequested Type = "speak_requested"
	// TypeEmergencyActivated fires when the emergency board was applied.
	TypeEmergencyActivated Type = "emergency_activated"
	// TypeInstructionHandled fires after the dispatcher processed an instruction.
	TypeInstructionHandled Type = "instruction_handled"
	// TypeContextReceived fires when the relay accepted a peer context update.
	TypeContextReceived Type = "context_received"
)

// Event is one bus message.
type Event struct {
	Type      Type
	Timestamp time.Time
	// Data carries event-specific detail. Subscribers that only care about
	// the fact of the event may ignore it.
	Data any
}

// subscriber holds one delivery channel and its type filter.
type subscriber struct {
	ch    chan Event
	types map[Type]bool // nil = all types
}

// Bus fans events out to subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*subscriber
	nextID int
	logger *log.Logger
}

// NewBus creates an event bus. If logger is nil, dropped-event warnings go
// to the default logger.
func NewBus(logger *log.Logger) *Bus {
	if logger == nil {
		logger = log.Default()
	}
	return &Bus{
		subs:   make(map[int]*subscriber),
		logger: logger,
	}
}

// Subscribe registers interest in the given event types (all types when
// none are named). The returned cancel func must be called to release the
// subscription; after cancel returns, the channel is closed.
func (b *Bus) Subscribe(types ...Type) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, 32)}
	if len(types) > 0 {
		sub.types = make(map[Type]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if s, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.ch)
		}
		b.mu.Unlock()
	}

	return sub.ch, cancel
}

// Publish delivers the event to every matching subscriber. Each subscriber
// observes each published event at most once; a full subscriber buffer
// drops the event for that subscriber only.
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.types != nil && !sub.types[evt.Type] {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			b.logger.Printf("Warning: subscriber buffer full, dropping %s event", evt.Type)
		}
	}
}
