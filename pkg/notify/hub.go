package notify

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lsclear/sandbox/pkg/log"
	"github.com/lsclear/sandbox/pkg/metrics"
	"github.com/lsclear/sandbox/pkg/types"
)

// DefaultPingInterval is how often an idle subscriber is pinged. A socket
// that stays silent for two intervals is considered dead and cleaned up.
const DefaultPingInterval = 30 * time.Second

// Conn is the slice of *websocket.Conn the hub uses, split out so tests can
// substitute a fake.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// subscriber serializes writes to one socket; the ping loop and publishers
// write concurrently.
type subscriber struct {
	conn Conn
	mu   sync.Mutex
}

func (s *subscriber) write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub holds the set of update-subscription sockets per user and fans out
// file-change events to them. Broken subscribers are dropped silently;
// publishing never fails.
type Hub struct {
	mu           sync.RWMutex
	subs         map[string]map[*subscriber]struct{}
	pingInterval time.Duration
}

// NewHub creates an empty hub.
func NewHub(pingInterval time.Duration) *Hub {
	if pingInterval <= 0 {
		pingInterval = DefaultPingInterval
	}
	return &Hub{
		subs:         make(map[string]map[*subscriber]struct{}),
		pingInterval: pingInterval,
	}
}

func (h *Hub) add(userID string, sub *subscriber) {
	h.mu.Lock()
	set, ok := h.subs[userID]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[userID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()
	metrics.NotifySubscribers.Inc()
}

func (h *Hub) remove(userID string, sub *subscriber) {
	h.mu.Lock()
	if set, ok := h.subs[userID]; ok {
		if _, present := set[sub]; present {
			delete(set, sub)
			metrics.NotifySubscribers.Dec()
		}
		if len(set) == 0 {
			delete(h.subs, userID)
		}
	}
	h.mu.Unlock()
}

// SubscriberCount returns the number of open sockets for one user.
func (h *Hub) SubscriberCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

// Publish sends the event to every subscriber of the user. Subscribers whose
// send fails are removed and closed.
func (h *Hub) Publish(userID string, event types.FileEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.WithComponent("notify").Error().Err(err).Msg("failed to encode event")
		return
	}

	h.mu.RLock()
	targets := make([]*subscriber, 0, len(h.subs[userID]))
	for sub := range h.subs[userID] {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		if err := sub.write(data); err != nil {
			h.remove(userID, sub)
			_ = sub.conn.Close()
		}
	}
	if len(targets) > 0 {
		metrics.NotifyEventsTotal.Inc()
	}

	log.WithUserID(userID).Debug().
		Str("action", string(event.Action)).
		Str("path", event.Path).
		Int("subscribers", len(targets)).
		Msg("published file event")
}

// Serve registers the socket and blocks serving it until either peer closes:
// it answers client "ping" frames with "pong", refreshes the liveness
// deadline on every inbound frame, and emits a JSON ping each idle interval.
func (h *Hub) Serve(userID string, conn Conn) {
	sub := &subscriber{conn: conn}
	h.add(userID, sub)
	defer func() {
		h.remove(userID, sub)
		_ = conn.Close()
	}()

	stopPing := make(chan struct{})
	defer close(stopPing)
	go h.pingLoop(sub, stopPing)

	for {
		// Two missed ping intervals with no traffic ends the read.
		if err := conn.SetReadDeadline(time.Now().Add(2 * h.pingInterval)); err != nil {
			return
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if string(msg) == "ping" {
			if err := sub.write([]byte("pong")); err != nil {
				return
			}
		}
	}
}

func (h *Hub) pingLoop(sub *subscriber, stop <-chan struct{}) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := sub.write([]byte(`{"type":"ping"}`)); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}
