// Package websocket pushes batch lifecycle and settlement events to
// subscribed clients. It never drives state itself — internal/batch.Engine
// is the sole authority; this hub only fans out what already happened.
package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Hub fans out batch/settlement events to subscribed clients, grouped by
// topic ("batch.<pair_id>", "settlement.<pair_id>").
type Hub struct {
	clients       map[*Client]bool
	broadcast     chan []byte
	register      chan *Client
	unregister    chan *Client
	subscriptions map[string]map[*Client]bool
	mu            sync.RWMutex
	logger        *logrus.Logger
}

// Client is one connected WebSocket peer.
type Client struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]bool
	mu            sync.RWMutex
}

// Message is the envelope every pushed event is wrapped in.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// SubscribeMessage is a client's subscribe/unsubscribe request.
type SubscribeMessage struct {
	Action  string `json:"action"` // subscribe/unsubscribe
	Channel string `json:"channel"` // "batch" or "settlement"
	PairID  string `json:"pair_id,omitempty"`
}

// BatchUpdate is pushed whenever a batch transitions phase.
type BatchUpdate struct {
	BatchID   uuid.UUID `json:"batch_id"`
	PairID    string    `json:"pair_id"`
	Phase     string    `json:"phase"`
	EventType string    `json:"event_type"` // opened/closed/settled/aborted
	Timestamp time.Time `json:"timestamp"`
}

// SettlementUpdate is pushed once a batch settles or aborts.
type SettlementUpdate struct {
	BatchID            uuid.UUID `json:"batch_id"`
	PairID             string    `json:"pair_id"`
	ClearingPrice      string    `json:"clearing_price"`
	TotalMatchedVolume string    `json:"total_matched_volume"`
	FillCount          int       `json:"fill_count"`
	Aborted            bool      `json:"aborted"`
	Reason             string    `json:"reason,omitempty"`
	Timestamp          time.Time `json:"timestamp"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NewHub builds an unstarted Hub; call Run to drive it.
func NewHub(logger *logrus.Logger) *Hub {
	if logger == nil {
		logger = logrus.New()
	}
	return &Hub{
		clients:       make(map[*Client]bool),
		broadcast:     make(chan []byte, 256),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		subscriptions: make(map[string]map[*Client]bool),
		logger:        logger,
	}
}

// Run drives the hub's register/unregister/broadcast loop. Call it once in
// its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("websocket: client connected")

			welcome := Message{Type: "connected", Data: map[string]interface{}{"timestamp": time.Now()}}
			if data, err := json.Marshal(welcome); err == nil {
				select {
				case client.send <- data:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				for topic, clients := range h.subscriptions {
					delete(clients, client)
					if len(clients) == 0 {
						delete(h.subscriptions, topic)
					}
				}
			}
			h.mu.Unlock()
			h.logger.Debug("websocket: client disconnected")

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// HandleWebSocket upgrades an HTTP request to a WebSocket connection and
// registers the resulting client.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("websocket: upgrade failed")
		return
	}

	client := &Client{
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, 256),
		subscriptions: make(map[string]bool),
	}

	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}

// Subscribe adds client to topic.
func (h *Hub) Subscribe(client *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subscriptions[topic] == nil {
		h.subscriptions[topic] = make(map[*Client]bool)
	}
	h.subscriptions[topic][client] = true

	client.mu.Lock()
	client.subscriptions[topic] = true
	client.mu.Unlock()
}

// Unsubscribe removes client from topic.
func (h *Hub) Unsubscribe(client *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, exists := h.subscriptions[topic]; exists {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.subscriptions, topic)
		}
	}

	client.mu.Lock()
	delete(client.subscriptions, topic)
	client.mu.Unlock()
}

// PublishBatchUpdate notifies subscribers of "batch.<pair_id>" that a batch
// changed phase.
func (h *Hub) PublishBatchUpdate(update BatchUpdate) {
	h.publishToTopic("batch."+update.PairID, Message{Type: "batch_update", Data: update})
}

// PublishSettlementUpdate notifies subscribers of "settlement.<pair_id>"
// that a batch produced a Settlement (§4.8).
func (h *Hub) PublishSettlementUpdate(update SettlementUpdate) {
	h.publishToTopic("settlement."+update.PairID, Message{Type: "settlement_update", Data: update})
}

func (h *Hub) publishToTopic(topic string, message Message) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.WithError(err).Error("websocket: failed to marshal message")
		return
	}

	h.mu.RLock()
	clients, exists := h.subscriptions[topic]
	if !exists {
		h.mu.RUnlock()
		return
	}
	targetClients := make([]*Client, 0, len(clients))
	for client := range clients {
		targetClients = append(targetClients, client)
	}
	h.mu.RUnlock()

	for _, client := range targetClients {
		select {
		case client.send <- data:
		default:
			h.unregister <- client
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.WithError(err).Debug("websocket: read error")
			}
			break
		}

		var subMsg SubscribeMessage
		if err := json.Unmarshal(message, &subMsg); err != nil {
			continue
		}
		c.handleSubscriptionMessage(&subMsg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleSubscriptionMessage(msg *SubscribeMessage) {
	var topic string
	switch msg.Channel {
	case "batch":
		if msg.PairID == "" {
			return
		}
		topic = "batch." + msg.PairID
	case "settlement":
		if msg.PairID == "" {
			return
		}
		topic = "settlement." + msg.PairID
	default:
		return
	}

	switch msg.Action {
	case "subscribe":
		c.hub.Subscribe(c, topic)
		c.ack("subscription_success", msg, topic)
	case "unsubscribe":
		c.hub.Unsubscribe(c, topic)
		c.ack("unsubscription_success", msg, topic)
	}
}

func (c *Client) ack(msgType string, msg *SubscribeMessage, topic string) {
	response := Message{
		Type: msgType,
		Data: map[string]interface{}{"channel": msg.Channel, "pair_id": msg.PairID, "topic": topic},
	}
	if data, err := json.Marshal(response); err == nil {
		select {
		case c.send <- data:
		default:
		}
	}
}

// ConnectedClients reports the current live connection count.
func (h *Hub) ConnectedClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SubscriptionStats reports the current per-topic subscriber count.
func (h *Hub) SubscriptionStats() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := make(map[string]int)
	for topic, clients := range h.subscriptions {
		stats[topic] = len(clients)
	}
	return stats
}
