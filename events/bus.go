// Package events is a typed observer bus for session lifecycle and capability
// outcomes.
package events

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Kind is a closed set of event types.
type Kind int

const (
	Ready Kind = iota + 1
	Configured
	Error
	AuthSuccess
	AuthFailed
	TokenRefreshed
	LoggedOut
	ShareSuccess
	ShareFailed
	LocationSuccess
	LocationFailed
	ImageSuccess
	ImageFailed
	ScanSuccess
	ScanFailed
)

var kindNames = map[Kind]string{
	Ready:           "ready",
	Configured:      "configured",
	Error:           "error",
	AuthSuccess:     "authSuccess",
	AuthFailed:      "authFailed",
	TokenRefreshed:  "tokenRefreshed",
	LoggedOut:       "loggedOut",
	ShareSuccess:    "shareSuccess",
	ShareFailed:     "shareFailed",
	LocationSuccess: "locationSuccess",
	LocationFailed:  "locationFailed",
	ImageSuccess:    "imageSuccess",
	ImageFailed:     "imageFailed",
	ScanSuccess:     "scanSuccess",
	ScanFailed:      "scanFailed",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Event is delivered to listeners.
type Event struct {
	Kind    Kind
	Payload any
}

// Listener receives events. Listeners run on the emitting goroutine.
type Listener func(Event)

// Subscription identifies a registered listener for Off.
type Subscription uint64

// Bus fans events out to every listener registered for their kind.
type Bus struct {
	mu        sync.RWMutex
	next      Subscription
	listeners map[Kind]map[Subscription]Listener
	logger    zerolog.Logger
}

// NewBus creates an empty bus.
func NewBus(logger ...zerolog.Logger) *Bus {
	b := &Bus{
		listeners: make(map[Kind]map[Subscription]Listener),
		logger:    log.Logger,
	}
	if len(logger) > 0 {
		b.logger = logger[0]
	}
	return b
}

// On registers listener for kind.
func (b *Bus) On(kind Kind, listener Listener) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	if b.listeners[kind] == nil {
		b.listeners[kind] = make(map[Subscription]Listener)
	}
	b.listeners[kind][b.next] = listener
	return b.next
}

// Off removes a listener. Unknown subscriptions are ignored.
func (b *Bus) Off(kind Kind, sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.listeners[kind]
	if !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(b.listeners, kind)
	}
}

// Emit synchronously notifies the listeners registered when Emit is called.
// A panicking listener is logged and does not stop the others.
func (b *Bus) Emit(kind Kind, payload any) {
	b.mu.RLock()
	snapshot := make([]Listener, 0, len(b.listeners[kind]))
	for _, l := range b.listeners[kind] {
		snapshot = append(snapshot, l)
	}
	b.mu.RUnlock()

	event := Event{Kind: kind, Payload: payload}
	for _, l := range snapshot {
		b.deliver(l, event)
	}
}

func (b *Bus) deliver(l Listener, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Str("event", event.Kind.String()).Interface("panic", r).Msg("event listener panicked")
		}
	}()
	l(event)
}

// Count returns the number of listeners for kind.
func (b *Bus) Count(kind Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[kind])
}

// Clear removes every listener.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = make(map[Kind]map[Subscription]Listener)
}
