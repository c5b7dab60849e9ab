// Package hub fans out sensor updates to every live subscriber session.
package hub

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"procodus.dev/water-monitor/pkg/logger"
	"procodus.dev/water-monitor/pkg/metrics"
)

// EventName is the channel name viewers listen on.
const EventName = "sensor-update"

// Event is the payload pushed to subscribers after a reading is stored.
type Event struct {
	Timestamp  time.Time `json:"timestamp"`
	WaterLevel float64   `json:"waterLevel"`
	WaterFlow  float64   `json:"waterFlow"`
}

// Envelope is the frame sent to live clients and relays for every event.
type Envelope struct {
	Event string `json:"event"`
	Data  Event  `json:"data"`
}

// Envelope wraps e with its event name.
func (e Event) Envelope() Envelope {
	return Envelope{Event: EventName, Data: e}
}

// Subscriber is a live session. Deliver must not block; an error tells the
// hub that the session is gone and should be dropped.
type Subscriber interface {
	Deliver(Event) error
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(Event) error

// Deliver implements Subscriber.
func (f SubscriberFunc) Deliver(e Event) error { return f(e) }

// Handle identifies a subscription.
type Handle uuid.UUID

func (h Handle) String() string { return uuid.UUID(h).String() }

// Hub is a registry of subscribers. It is safe for concurrent use.
type Hub struct {
	mu      sync.RWMutex
	subs    map[Handle]Subscriber
	log     *slog.Logger
	metrics *metrics.APIMetrics
}

// New creates an empty hub. m may be nil.
func New(log *slog.Logger, m *metrics.APIMetrics) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		subs:    make(map[Handle]Subscriber),
		log:     logger.ForComponent(log, "hub"),
		metrics: m,
	}
}

// Subscribe registers s and returns its handle.
func (h *Hub) Subscribe(s Subscriber) Handle {
	handle := Handle(uuid.New())

	h.mu.Lock()
	h.subs[handle] = s
	n := len(h.subs)
	h.mu.Unlock()

	h.setSessions(n)
	h.log.Info("client connected", "session", handle.String(), "sessions", n)
	return handle
}

// Unsubscribe removes the session. Unknown handles are ignored.
func (h *Hub) Unsubscribe(handle Handle) {
	if h.remove(handle) {
		h.log.Info("client disconnected", "session", handle.String())
	}
}

func (h *Hub) remove(handle Handle) bool {
	h.mu.Lock()
	_, ok := h.subs[handle]
	delete(h.subs, handle)
	n := len(h.subs)
	h.mu.Unlock()

	if ok {
		h.setSessions(n)
	}
	return ok
}

// Broadcast delivers e to every session registered when it is called and
// returns how many accepted it. Sessions that fail are unsubscribed.
func (h *Hub) Broadcast(e Event) int {
	type entry struct {
		handle Handle
		sub    Subscriber
	}

	h.mu.RLock()
	snapshot := make([]entry, 0, len(h.subs))
	for handle, sub := range h.subs {
		snapshot = append(snapshot, entry{handle, sub})
	}
	h.mu.RUnlock()

	delivered := 0
	for _, en := range snapshot {
		if err := en.sub.Deliver(e); err != nil {
			h.log.Debug("dropping session", "session", en.handle.String(), "error", err)
			h.remove(en.handle)
			h.count("dropped")
			continue
		}
		delivered++
		h.count("delivered")
	}
	return delivered
}

// Len returns the number of registered sessions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) setSessions(n int) {
	if h.metrics != nil {
		h.metrics.ActiveSessions.Set(float64(n))
	}
}

func (h *Hub) count(result string) {
	if h.metrics != nil {
		h.metrics.BroadcastDeliveries.WithLabelValues(result).Inc()
	}
}
