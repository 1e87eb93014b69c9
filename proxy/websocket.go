package proxy

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// WebSocketClient represents a connected receipt subscriber
type WebSocketClient struct {
	conn *websocket.Conn
	send chan []byte
	log  *logrus.Logger
	mu   sync.Mutex
}

// WebSocketManager fans every new receipt out to the connected clients
type WebSocketManager struct {
	mu         sync.RWMutex
	clients    map[*WebSocketClient]bool
	broadcast  chan []byte
	register   chan *WebSocketClient
	unregister chan *WebSocketClient
	quit       chan struct{}
	stopOnce   sync.Once
	log        *logrus.Logger
}

// NewWebSocketManager creates a new WebSocket manager
func NewWebSocketManager(log *logrus.Logger) *WebSocketManager {
	return &WebSocketManager{
		clients:    make(map[*WebSocketClient]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *WebSocketClient),
		unregister: make(chan *WebSocketClient),
		quit:       make(chan struct{}),
		log:        log,
	}
}

// Run starts the WebSocket manager. It returns once Stop is called.
func (manager *WebSocketManager) Run() {
	for {
		select {
		case <-manager.quit:
			manager.mu.Lock()
			for client := range manager.clients {
				close(client.send)
				delete(manager.clients, client)
			}
			manager.mu.Unlock()
			manager.log.Info("WebSocket manager stopped")
			return
		case client := <-manager.register:
			manager.mu.Lock()
			manager.clients[client] = true
			n := len(manager.clients)
			manager.mu.Unlock()
			manager.log.Infof("New WebSocket client connected. Total clients: %d", n)
		case client := <-manager.unregister:
			manager.mu.Lock()
			if _, ok := manager.clients[client]; ok {
				delete(manager.clients, client)
				close(client.send)
				manager.log.Infof("WebSocket client disconnected. Total clients: %d", len(manager.clients))
			}
			manager.mu.Unlock()
		case message := <-manager.broadcast:
			manager.mu.Lock()
			for client := range manager.clients {
				select {
				case client.send <- message:
				default:
					// slow consumer
					close(client.send)
					delete(manager.clients, client)
				}
			}
			manager.mu.Unlock()
		}
	}
}

// Stop ends Run and disconnects every client. It is safe to call more than once.
func (manager *WebSocketManager) Stop() {
	manager.stopOnce.Do(func() {
		close(manager.quit)
	})
}

// ClientCount returns the number of registered clients
func (manager *WebSocketManager) ClientCount() int {
	manager.mu.RLock()
	defer manager.mu.RUnlock()
	return len(manager.clients)
}

// BroadcastReceipt queues a ledger_receipt notification for every client
func (manager *WebSocketManager) BroadcastReceipt(receipt *ethtypes.Receipt) {
	notification := map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "ledger_receipt",
		"params": map[string]interface{}{
			"result": receipt,
		},
	}
	data, err := json.Marshal(notification)
	if err != nil {
		manager.log.Errorf("Failed to marshal receipt notification: %v", err)
		return
	}
	select {
	case manager.broadcast <- data:
	default:
		manager.log.Warnf("Dropping receipt notification for %s, broadcast queue full", receipt.TxHash.Hex())
	}
}

func handleWebSocket(c *gin.Context, upgrader websocket.Upgrader, manager *WebSocketManager) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		manager.log.Errorf("Failed to upgrade connection to WebSocket: %v", err)
		return
	}

	client := &WebSocketClient{
		conn: conn,
		send: make(chan []byte, 256),
		log:  manager.log,
	}
	select {
	case manager.register <- client:
	case <-manager.quit:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(manager)
}

func newUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// readPump only watches for pongs and the close frame; subscribers never send requests
func (c *WebSocketClient) readPump(manager *WebSocketManager) {
	defer func() {
		select {
		case manager.unregister <- c:
		case <-manager.quit:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Errorf("WebSocket read error: %v", err)
			}
			return
		}
	}
}

func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.mu.Lock()
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				c.mu.Unlock()
				return
			}
			err := c.conn.WriteMessage(websocket.TextMessage, message)
			c.mu.Unlock()
			if err != nil {
				return
			}
		case <-ticker.C:
			c.mu.Lock()
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
