// Package realtime pushes queue snapshots to websocket subscribers.  A
// client subscribes to one queue and receives the current snapshot on
// connect and a fresh one after every booking event in that queue.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/iliyamo/token-queue/internal/model"
	"github.com/iliyamo/token-queue/internal/queue"
	"github.com/iliyamo/token-queue/internal/scheduling"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 8
)

// SnapshotSource provides the snapshot pushed to subscribers.
type SnapshotSource interface {
	Snapshot(ctx context.Context, key model.QueueKey) (*scheduling.Snapshot, error)
}

// Message is the frame written to subscribers.  Event is nil for the
// initial frame sent on connect.
type Message struct {
	Event    *queue.BookingEvent  `json:"event,omitempty"`
	Snapshot *scheduling.Snapshot `json:"snapshot"`
}

// subscriber is one websocket client.  rev is the newest snapshot
// revision queued to it and is guarded by Hub.mu.
type subscriber struct {
	conn *websocket.Conn
	send chan []byte
	rev  int64
}

// Hub tracks subscribers per capacity pool.
type Hub struct {
	source   SnapshotSource
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{}
}

// NewHub returns an empty hub reading snapshots from source.
func NewHub(source SnapshotSource, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		source: source,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		subs: make(map[string]map[*subscriber]struct{}),
	}
}

// Subscribers returns how many clients watch key.
func (h *Hub) Subscribers(key model.QueueKey) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[key.Pool().String()])
}

func (h *Hub) add(key string, s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[key]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[key] = set
	}
	set[s] = struct{}{}
}

// remove drops s and closes its send channel.  It is safe to call twice.
func (h *Hub) remove(key string, s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subs[key]
	if _, ok := set[s]; !ok {
		return
	}
	delete(set, s)
	close(s.send)
	if len(set) == 0 {
		delete(h.subs, key)
	}
}

// Serve upgrades the request and streams snapshots of key until the
// client goes away.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, key model.QueueKey) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	s := &subscriber{conn: conn, send: make(chan []byte, sendBuffer)}
	key = key.Pool()
	k := key.String()

	// Registered before the first read so no event can fall in between.
	// An event frame that wins the race carries a newer revision and the
	// initial frame is then dropped.
	h.add(k, s)
	if snap, err := h.source.Snapshot(r.Context(), key); err == nil {
		if frame, err := json.Marshal(Message{Snapshot: snap}); err == nil {
			h.mu.Lock()
			if _, ok := h.subs[k][s]; ok {
				h.deliver(s, snap.Revision, frame)
			}
			h.mu.Unlock()
		}
	}

	go h.writePump(s)
	h.readPump(s)
	h.remove(k, s)
	return nil
}

// readPump discards client frames and keeps the pong deadline fresh.  It
// returns when the connection fails.
func (h *Hub) readPump(s *subscriber) {
	s.conn.SetReadLimit(512)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(s *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// deliver queues frame unless s already has a newer revision.  It reports
// false when the send buffer is full.  The caller holds h.mu and s is
// still registered.
func (h *Hub) deliver(s *subscriber, rev int64, frame []byte) bool {
	if rev < s.rev {
		return true
	}
	select {
	case s.send <- frame:
		s.rev = rev
		return true
	default:
		return false
	}
}

// Publish pushes a fresh snapshot of the event's queue to its subscribers.
// A subscriber too slow to keep up is disconnected.
func (h *Hub) Publish(ctx context.Context, ev queue.BookingEvent) error {
	key := model.QueueKey{UnitID: ev.CapacityUnitID, SlotID: ev.SlotID, Day: ev.QueueDay}.Pool()
	k := key.String()
	if h.Subscribers(key) == 0 {
		return nil
	}
	snap, err := h.source.Snapshot(ctx, key)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(Message{Event: &ev, Snapshot: snap})
	if err != nil {
		return err
	}

	h.mu.Lock()
	var slow []*subscriber
	for s := range h.subs[k] {
		if !h.deliver(s, snap.Revision, frame) {
			slow = append(slow, s)
		}
	}
	h.mu.Unlock()

	for _, s := range slow {
		h.logger.Info("dropping slow subscriber", zap.String("queue_key", k))
		h.remove(k, s)
	}
	return nil
}
