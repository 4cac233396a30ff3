package ws

import (
	"sync"
	"time"

	"arena-shooter/server/internal/game"
	"arena-shooter/server/internal/net/proto"
	"arena-shooter/server/internal/sim"
	"arena-shooter/server/internal/telemetry"
)

const (
	broadcastBytesMetricKey   = "arena_broadcast_bytes_total"
	broadcastFramesMetricKey  = "arena_broadcast_frames_total"
	broadcastDroppedMetricKey = "arena_broadcast_dropped_total"
	broadcastErrorsMetricKey  = "arena_broadcast_errors_total"
)

// Hub groups subscribers by instance and fans snapshots out to them.
type Hub struct {
	mu        sync.RWMutex
	rooms     map[string]map[string]*subscriber
	logger    telemetry.Logger
	metrics   telemetry.Metrics
	now       func() time.Time
	queueSize int
}

// NewHub returns an empty hub. logger and metrics may be nil.
func NewHub(logger telemetry.Logger, metrics telemetry.Metrics) *Hub {
	return &Hub{
		rooms:     make(map[string]map[string]*subscriber),
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
		queueSize: defaultSendQueue,
	}
}

// attach wraps conn in a subscriber and starts its writer. The subscriber
// receives no broadcasts until subscribe is called, so frames sent before
// that, such as the welcome, are written first.
func (h *Hub) attach(id, sessionID string, conn frameConn, encoding proto.Encoding, writeWait time.Duration) *subscriber {
	sub := newSubscriber(id, sessionID, conn, encoding, writeWait, h.queueSize)
	go sub.writeLoop(h.writeFailed)
	return sub
}

func (h *Hub) writeFailed(sub *subscriber, err error) {
	if h.metrics != nil {
		h.metrics.Add(broadcastErrorsMetricKey, 1)
	}
	if h.logger != nil {
		h.logger.Printf("[ws] failed to send update to %s: %v", sub.id, err)
	}
}

func (h *Hub) subscribe(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[sub.sessionID]
	if !ok {
		room = make(map[string]*subscriber)
		h.rooms[sub.sessionID] = room
	}
	room[sub.id] = sub
}

func (h *Hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[sub.sessionID]
	if !ok {
		return
	}
	delete(room, sub.id)
	if len(room) == 0 {
		delete(h.rooms, sub.sessionID)
	}
}

// Subscribers reports how many connections follow sessionID.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionID])
}

func (h *Hub) members(sessionID string) []*subscriber {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room := h.rooms[sessionID]
	if len(room) == 0 {
		return nil
	}
	subs := make([]*subscriber, 0, len(room))
	for _, sub := range room {
		subs = append(subs, sub)
	}
	return subs
}

// Broadcast queues snapshot for every subscriber of sessionID without
// blocking. Each encoding is serialized once. A subscriber whose queue is
// full misses this state; the next tick supersedes it. A failed write closes
// that connection and its read loop performs the disconnect.
func (h *Hub) Broadcast(sessionID string, snapshot game.Snapshot) {
	subs := h.members(sessionID)
	if len(subs) == 0 {
		return
	}
	msg := proto.NewGameState(sessionID, snapshot, h.now())
	frames := make(map[proto.Encoding][]byte, 2)

	for _, sub := range subs {
		if sub.closed() {
			continue
		}
		data, ok := frames[sub.encoding]
		if !ok {
			encoded, err := sub.encoding.Marshal(msg)
			if err != nil {
				if h.logger != nil {
					h.logger.Printf("[ws] failed to encode %s state for %s: %v", sub.encoding, sessionID, err)
				}
				continue
			}
			frames[sub.encoding] = encoded
			data = encoded
		}
		if !sub.enqueue(data) {
			if h.metrics != nil {
				h.metrics.Add(broadcastDroppedMetricKey, 1)
			}
			continue
		}
		if h.metrics != nil {
			h.metrics.Add(broadcastBytesMetricKey, uint64(len(data)))
			h.metrics.Add(broadcastFramesMetricKey, 1)
		}
	}
}

// CloseAll closes every connection. Their read loops then detach the
// players.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	var subs []*subscriber
	for _, room := range h.rooms {
		for _, sub := range room {
			subs = append(subs, sub)
		}
	}
	h.mu.RUnlock()
	for _, sub := range subs {
		sub.close()
	}
}

var _ sim.SnapshotSink = (*Hub)(nil)
