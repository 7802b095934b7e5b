package analytics

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/terminal-bench/vitalflow/shared/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Feed broadcasts raised alerts to WebSocket subscribers.
type Feed struct {
	log *logrus.Entry

	mu      sync.RWMutex
	clients map[uuid.UUID]*feedClient
}

type feedClient struct {
	id       uuid.UUID
	conn     *websocket.Conn
	severity string // when set, only alerts of this severity
	send     chan []byte
	done     chan struct{}
	once     sync.Once
}

// NewFeed builds an empty alert feed.
func NewFeed(log *logrus.Entry) *Feed {
	return &Feed{log: log, clients: make(map[uuid.UUID]*feedClient)}
}

// Broadcast fans an alert out to connected subscribers. Slow readers are
// skipped rather than allowed to stall the consumer.
func (f *Feed) Broadcast(alert *events.AlertEvent) {
	data, err := events.Encode(alert)
	if err != nil {
		f.log.WithError(err).Error("Failed to encode alert for feed")
		return
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, client := range f.clients {
		if client.severity != "" && client.severity != alert.Severity {
			continue
		}
		select {
		case client.send <- data:
		case <-client.done:
		default:
			feedDrops.Inc()
		}
	}
}

// Subscribers returns the number of connected clients.
func (f *Feed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}

// ServeWS upgrades the request and streams alerts until the client
// disconnects. An optional severity query parameter filters the stream.
func (f *Feed) ServeWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	client := &feedClient{
		id:       uuid.New(),
		conn:     conn,
		severity: c.Query("severity"),
		send:     make(chan []byte, 16),
		done:     make(chan struct{}),
	}

	f.mu.Lock()
	f.clients[client.id] = client
	f.mu.Unlock()
	feedClients.Inc()

	f.log.WithField("client_id", client.id).Info("Alert feed client connected")

	go f.readPump(client)
	go f.writePump(client)
}

func (f *Feed) readPump(client *feedClient) {
	defer f.drop(client)
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (f *Feed) writePump(client *feedClient) {
	defer f.drop(client)
	for {
		select {
		case data := <-client.send:
			if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-client.done:
			return
		}
	}
}

// drop disconnects a client exactly once, whichever pump exits first.
func (f *Feed) drop(client *feedClient) {
	client.once.Do(func() {
		f.mu.Lock()
		delete(f.clients, client.id)
		f.mu.Unlock()

		close(client.done)
		client.conn.Close()
		feedClients.Dec()

		f.log.WithField("client_id", client.id).Info("Alert feed client disconnected")
	})
}
