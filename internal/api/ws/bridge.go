package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/termdeck/backend/internal/domain/console"
	"github.com/termdeck/backend/internal/infrastructure/monitoring"
	"github.com/termdeck/backend/internal/shared/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in dev
	},
}

// Bridge forwards session-tagged transport events to front-end websocket
// clients. Each client subscribes to the session ids it is rendering;
// events for one session are delivered in transport order.
type Bridge struct {
	console *console.Service
	metrics *monitoring.Metrics
	log     *zap.Logger
}

// NewBridge creates a new event bridge.
func NewBridge(svc *console.Service, metrics *monitoring.Metrics, log *zap.Logger) *Bridge {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bridge{console: svc, metrics: metrics, log: log}
}

// client is one attached websocket with its subscription set.
type client struct {
	conn *websocket.Conn

	mu       sync.Mutex
	sessions map[string]bool
	all      bool
}

func (cl *client) wants(sessionID string) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.all || cl.sessions[sessionID]
}

// send serializes writes; gorilla connections allow one writer at a time.
func (cl *client) send(v interface{}) error {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.conn.WriteJSON(v)
}

// HandleConnection handles WebSocket upgrade and the subscription
// protocol.
func (b *Bridge) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		b.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	b.metrics.IncBridgeConnections()
	defer b.metrics.DecBridgeConnections()

	cl := &client{conn: conn, sessions: make(map[string]bool)}

	dispose := b.console.OnEvent(func(ev console.Event) {
		if !cl.wants(ev.SessionID) {
			return
		}
		if err := cl.send(ev); err != nil {
			b.log.Debug("bridge write failed", zap.Error(err))
		}
	})
	defer dispose()

	_ = cl.send(map[string]interface{}{
		"type":    "system",
		"message": "connected",
	})

	for {
		var msg types.WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "subscribe":
			if msg.SessionID == "" {
				cl.mu.Lock()
				cl.all = true
				cl.mu.Unlock()
			} else {
				cl.mu.Lock()
				cl.sessions[msg.SessionID] = true
				cl.mu.Unlock()
			}
			_ = cl.send(map[string]interface{}{
				"type":       "subscribed",
				"session_id": msg.SessionID,
			})
		case "unsubscribe":
			cl.mu.Lock()
			if msg.SessionID == "" {
				cl.all = false
			}
			delete(cl.sessions, msg.SessionID)
			cl.mu.Unlock()
		case "ping":
			_ = cl.send(map[string]interface{}{
				"type":      "pong",
				"timestamp": time.Now().Unix(),
			})
		default:
			_ = cl.send(map[string]interface{}{
				"type":    "error",
				"message": "unknown message type",
			})
		}
	}
}
