package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yegors/livemap/internal/airport"
	"github.com/yegors/livemap/internal/weather"
	"github.com/yegors/livemap/pkg/logger"
)

// Message types exchanged with web clients
const (
	MessageTypeAirportUpdate       = "airport_update"
	MessageTypeAirportBulkRequest  = "airport_bulk_request"  // Client requests the web view
	MessageTypeAirportBulkResponse = "airport_bulk_response" // Server sends the web view
	MessageTypeFilterUpdate        = "filter_update"         // Client sends filter preferences
)

const (
	sendBufferSize      = 256
	broadcastBufferSize = 64
)

// Message represents a WebSocket message
type Message struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// MessageHandler handles incoming client messages
type MessageHandler interface {
	HandleMessage(client *Client, messageType string, data map[string]any) error
}

// ClientFilters narrows the airport updates a client receives
type ClientFilters struct {
	Categories map[weather.Category]bool `json:"categories"`
	ICAO       []string                  `json:"icao"`
}

// Client represents a WebSocket client
type Client struct {
	conn      *websocket.Conn
	send      chan *Message
	server    *Server
	mu        sync.Mutex
	closed    bool
	closeChan chan struct{}
	filters   *ClientFilters
}

// Server is the push hub for live airport updates
type Server struct {
	clients        map[*Client]bool
	register       chan *Client
	unregister     chan *Client
	broadcast      chan *Message
	upgrader       websocket.Upgrader
	logger         *logger.Logger
	mu             sync.RWMutex
	messageHandler MessageHandler
	done           chan struct{}
}

// NewServer creates a new WebSocket server
func NewServer(log *logger.Logger) *Server {
	return &Server{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message, broadcastBufferSize),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: log.Named("web-socket"),
		done:   make(chan struct{}),
	}
}

// SetMessageHandler sets the handler for incoming messages
func (s *Server) SetMessageHandler(handler MessageHandler) {
	s.messageHandler = handler
}

// ClientCount returns the number of registered clients
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Run serves the hub until ctx is cancelled
func (s *Server) Run(ctx context.Context) {
	s.logger.Info("Starting WebSocket server")

	for {
		select {
		case <-ctx.Done():
			close(s.done)
			s.closeAll()
			s.logger.Info("WebSocket server stopped")
			return

		case client := <-s.register:
			s.mu.Lock()
			s.clients[client] = true
			count := len(s.clients)
			s.mu.Unlock()
			s.logger.Debug("Client registered", logger.Int("client_count", count))

		case client := <-s.unregister:
			s.mu.Lock()
			s.remove(client)
			count := len(s.clients)
			s.mu.Unlock()
			s.logger.Debug("Client unregistered", logger.Int("client_count", count))

		case message := <-s.broadcast:
			s.deliver(message)
		}
	}
}

func (s *Server) deliver(message *Message) {
	s.mu.RLock()
	var failed []*Client
	for client := range s.clients {
		client.mu.Lock()
		closed := client.closed
		client.mu.Unlock()
		if closed {
			failed = append(failed, client)
			continue
		}

		if !client.MatchesFilters(message) {
			continue
		}

		select {
		case client.send <- message:
		default:
			// slow consumer
			failed = append(failed, client)
		}
	}
	s.mu.RUnlock()

	if len(failed) > 0 {
		s.mu.Lock()
		for _, client := range failed {
			s.remove(client)
		}
		s.mu.Unlock()
	}
}

// remove drops a client; the caller holds s.mu
func (s *Server) remove(client *Client) {
	if _, ok := s.clients[client]; !ok {
		return
	}
	delete(s.clients, client)
	client.mu.Lock()
	client.closed = true
	close(client.send)
	client.mu.Unlock()
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for client := range s.clients {
		s.remove(client)
	}
}

// HandleConnection upgrades the request and registers the client
func (s *Server) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection",
			logger.Error(err),
			logger.String("remote_addr", r.RemoteAddr))
		return
	}

	s.logger.Debug("WebSocket connection established",
		logger.String("remote_addr", r.RemoteAddr))

	client := &Client{
		conn:      conn,
		send:      make(chan *Message, sendBufferSize),
		server:    s,
		closeChan: make(chan struct{}),
	}

	select {
	case s.register <- client:
	case <-s.done:
		conn.Close()
		return
	}

	go client.readPump()
	go client.writePump()
}

// Broadcast queues a message for every client. The message is dropped when the
// hub is backed up.
func (s *Server) Broadcast(message *Message) {
	select {
	case s.broadcast <- message:
	default:
		s.logger.Warn("Broadcast queue full, dropping message",
			logger.String("message_type", message.Type))
	}
}

// HandleChanges pushes one airport_update per change
func (s *Server) HandleChanges(_ context.Context, changes []airport.Change) error {
	for _, c := range changes {
		s.Broadcast(UpdateMessage(c))
	}
	return nil
}

// UpdateMessage builds the airport_update message of a change
func UpdateMessage(c airport.Change) *Message {
	data := map[string]any{
		"key":               c.Key,
		"icao":              c.ICAO,
		"led":               c.LED,
		"purpose":           string(c.Purpose),
		"flight_category":   string(c.Category),
		"previous_category": string(c.PreviousCategory),
		"raw_text":          c.RawText,
		"raw_changed":       c.RawChanged,
	}
	if !c.ObservedAt.IsZero() {
		data["observation_time"] = c.ObservedAt.UTC().Format(time.RFC3339)
	}
	return &Message{Type: MessageTypeAirportUpdate, Data: data}
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.server.unregister <- c:
		case <-c.server.done:
		}
		c.conn.Close()
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.server.logger.Error("WebSocket read error", logger.Error(err))
			}
			return
		}

		var message Message
		if err := json.Unmarshal(raw, &message); err != nil {
			c.server.logger.Warn("Failed to parse WebSocket message", logger.Error(err))
			continue
		}

		if message.Type == MessageTypeFilterUpdate {
			c.UpdateFilters(parseFilters(message.Data))
			continue
		}

		if c.server.messageHandler != nil {
			if err := c.server.messageHandler.HandleMessage(c, message.Type, message.Data); err != nil {
				c.server.logger.Error("Failed to handle WebSocket message",
					logger.Error(err),
					logger.String("type", message.Type))
			}
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(message)
			if err != nil {
				c.server.logger.Error("Failed to marshal message", logger.Error(err))
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-c.closeChan:
			return
		}
	}
}

// Close closes the client connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.closeChan)
	c.conn.Close()
}

// SendMessage queues a message for this client only
func (c *Client) SendMessage(message *Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

// UpdateFilters replaces the client's filters
func (c *Client) UpdateFilters(filters *ClientFilters) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filters = filters
}

// MatchesFilters reports whether an airport_update passes the client's filters.
// Other message types always pass.
func (c *Client) MatchesFilters(message *Message) bool {
	if message.Type != MessageTypeAirportUpdate {
		return true
	}

	c.mu.Lock()
	filters := c.filters
	c.mu.Unlock()
	if filters == nil {
		return true
	}

	if len(filters.ICAO) > 0 {
		icao, _ := message.Data["icao"].(string)
		found := false
		for _, want := range filters.ICAO {
			if airport.NormalizeICAO(want) == icao {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(filters.Categories) > 0 {
		category, _ := message.Data["flight_category"].(string)
		if !filters.Categories[weather.Category(category)] {
			return false
		}
	}
	return true
}

func parseFilters(data map[string]any) *ClientFilters {
	filters := &ClientFilters{Categories: make(map[weather.Category]bool)}

	if list, ok := data["categories"].([]any); ok {
		for _, v := range list {
			s, _ := v.(string)
			if c, ok := weather.ParseCategory(strings.TrimSpace(s)); ok {
				filters.Categories[c] = true
			}
		}
	}
	if list, ok := data["icao"].([]any); ok {
		for _, v := range list {
			if s, ok := v.(string); ok && s != "" {
				filters.ICAO = append(filters.ICAO, s)
			}
		}
	}
	return filters
}
