package socket

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"agri-trace-api-server/internal/models"
)

const (
	EventBatchCreated = "batch.created"
	EventBatchUpdated = "batch.updated"

	// AllBatches subscribes to every batch.
	AllBatches = "*"
)

// Event is pushed to subscribers as JSON.
type Event struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	BatchID      string    `json:"batchId"`
	Status       string    `json:"status"`
	CurrentOwner string    `json:"currentOwner"`
	HistoryLen   int       `json:"historyLength"`
	At           time.Time `json:"at"`
}

// NewEvent describes rec after a write.
func NewEvent(kind string, rec *models.BatchRecord) Event {
	return Event{
		ID:           uuid.NewString(),
		Type:         kind,
		BatchID:      rec.BatchID,
		Status:       rec.Status,
		CurrentOwner: rec.CurrentOwner,
		HistoryLen:   len(rec.History),
		At:           time.Now().UTC(),
	}
}

// DefaultWriteWait bounds a single event write to one subscriber.
const DefaultWriteWait = 10 * time.Second

// Conn is the part of *websocket.Conn the hub writes to.
type Conn interface {
	SetWriteDeadline(t time.Time) error
	WriteJSON(v any) error
	Close() error
}

type client struct {
	id      string
	batchID string
	conn    Conn
	writeMu sync.Mutex
}

// Hub fans batch events out to websocket subscribers.
type Hub struct {
	clients   map[string]*client
	mu        sync.RWMutex
	writeWait time.Duration
	logger    *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{clients: make(map[string]*client), writeWait: DefaultWriteWait, logger: logger}
}

// Subscribe registers conn for one batch id, or AllBatches. It returns the
// client id used to unsubscribe.
func (h *Hub) Subscribe(batchID string, conn Conn) string {
	if batchID == "" {
		batchID = AllBatches
	}
	c := &client{id: uuid.NewString(), batchID: batchID, conn: conn}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	h.logger.Debug("websocket client registered", zap.String("client_id", c.id), zap.String("batch_id", batchID))
	return c.id
}

func (h *Hub) Unsubscribe(clientID string) {
	h.mu.Lock()
	c, ok := h.clients[clientID]
	delete(h.clients, clientID)
	h.mu.Unlock()
	if ok {
		_ = c.conn.Close()
		h.logger.Debug("websocket client unregistered", zap.String("client_id", clientID))
	}
}

// Publish writes ev to every matching subscriber in parallel. A write that
// fails or outlives the write deadline drops that client.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		if c.batchID == AllBatches || c.batchID == ev.BatchID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	var wg sync.WaitGroup
	for _, c := range targets {
		wg.Add(1)
		go func(c *client) {
			defer wg.Done()
			if err := h.write(c, ev); err != nil {
				h.logger.Debug("dropping websocket client", zap.String("client_id", c.id), zap.Error(err))
				h.Unsubscribe(c.id)
			}
		}(c)
	}
	wg.Wait()
}

func (h *Hub) write(c *client, ev Event) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(h.writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(ev)
}

// Count reports connected subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
