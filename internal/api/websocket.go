package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/hbastian/fieldline-core/internal/auth"
	"github.com/hbastian/fieldline-core/internal/device"
	"github.com/hbastian/fieldline-core/internal/infrastructure/config"
	"github.com/hbastian/fieldline-core/internal/infrastructure/logging"
	"github.com/hbastian/fieldline-core/internal/infrastructure/metrics"
	"github.com/hbastian/fieldline-core/internal/room"
)

// WebSocket message types.
const (
	WSTypeSnapshot = "devices_snapshot"
	WSTypeUpdate   = "device_update"
	WSTypePing     = "ping"
	WSTypePong     = "pong"
	WSTypeError    = "error"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256
)

// WSMessage is one frame on the room feed. Snapshot frames carry the
// devices list, update frames carry the single changed device, error
// frames carry a message. Devices is a pointer so an empty room still
// serialises as an empty list rather than dropping the key.
type WSMessage struct {
	Type      string           `json:"type"`
	RoomID    string           `json:"room_id,omitempty"`
	Timestamp string           `json:"timestamp,omitempty"`
	Devices   *[]device.Device `json:"devices,omitempty"`
	Device    *device.Device   `json:"device,omitempty"`
	Message   string           `json:"message,omitempty"`
}

// Hub groups WebSocket clients by room and fans device updates out to
// the clients watching the device's room.
//
// Thread Safety: All methods are safe for concurrent use.
type Hub struct {
	logger *logging.Logger

	// rooms maps a room ID to the clients watching it. A client
	// belongs to exactly one room for its whole lifetime.
	rooms map[string]map[*WSClient]struct{}
	mu    sync.RWMutex
}

// WSClient is one connected WebSocket client, pinned to a single room.
type WSClient struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	roomID string
	userID string
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		logger: logger.With("component", "websocket"),
		rooms:  make(map[string]map[*WSClient]struct{}),
	}
}

// Run blocks until the context is cancelled, then disconnects all clients.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to its room's group.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	group, ok := h.rooms[client.roomID]
	if !ok {
		group = make(map[*WSClient]struct{})
		h.rooms[client.roomID] = group
	}
	group[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client joined room",
		"room", client.roomID, "clients", h.ClientCount())
}

// Unregister removes a client from its room's group.
// Only the goroutine that successfully removes the client from the map
// closes the send channel, preventing double-close panics during shutdown.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	group := h.rooms[client.roomID]
	_, existed := group[client]
	delete(group, client)
	if len(group) == 0 {
		delete(h.rooms, client.roomID)
	}
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("websocket client left room",
		"room", client.roomID, "clients", h.ClientCount())
}

// BroadcastDeviceUpdate sends a device_update frame to every client
// watching the device's room. Clients in other rooms never see it.
func (h *Hub) BroadcastDeviceUpdate(roomID string, d *device.Device) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeUpdate,
		RoomID:    roomID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Device:    d,
	})
	if err != nil {
		h.logger.Error("failed to marshal device update", "error", err)
		return
	}

	// Snapshot the room's client list under the hub lock, then release
	// before sending.
	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.rooms[roomID]))
	for client := range h.rooms[roomID] {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		client.trySend(data)
	}
	if len(clients) > 0 {
		metrics.BroadcastsSent.Inc()
		h.logger.Debug("device update broadcast",
			"room", roomID, "device", d.ID, "recipients", len(clients))
	}
}

// ClientCount returns the number of connected clients across all rooms.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, group := range h.rooms {
		n += len(group)
	}
	return n
}

// closeAll disconnects all clients and closes their send channels
// so writePump goroutines can exit cleanly.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for roomID, group := range h.rooms {
		for client := range group {
			close(client.send)
			if client.conn != nil {
				client.conn.Close()
			}
		}
		delete(h.rooms, roomID)
	}
}

// handleWebSocket upgrades the connection and joins the client to the
// requested room's feed. The first frame sent is a devices_snapshot of
// the room's current device states.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeUnauthorized(w, "token query parameter is required")
		return
	}
	claims, err := auth.ParseToken(token, s.secCfg.JWT.Secret)
	if err != nil {
		writeUnauthorized(w, "invalid or expired token")
		return
	}

	roomID := chi.URLParam(r, "id")
	rm, err := s.rooms.GetByID(r.Context(), roomID)
	if err != nil {
		if errors.Is(err, room.ErrRoomNotFound) {
			writeNotFound(w, "room not found")
		} else {
			writeInternalError(w, "failed to load room")
		}
		return
	}
	if !canAccess(claims, rm.UserID) {
		writeForbidden(w, "room belongs to another user")
		return
	}

	devices, err := s.devices.ListByRoom(r.Context(), roomID)
	if err != nil {
		writeInternalError(w, "failed to load room devices")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:    s.hub,
		conn:   conn,
		send:   make(chan []byte, wsSendBufferSize),
		roomID: roomID,
		userID: claims.Subject,
	}

	s.hub.Register(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)

	if devices == nil {
		devices = []device.Device{}
	}
	client.sendMessage(WSMessage{
		Type:      WSTypeSnapshot,
		RoomID:    roomID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Devices:   &devices,
	})
}

// readPump reads frames from the connection. Clients only ever send
// pings; everything else is rejected.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Any client message resets the read deadline (keeps connection alive
		// even if browser doesn't respond to protocol-level pings).
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump writes frames to the connection and sends protocol pings.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	pongWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Hub closed the channel
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming frame.
func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendMessage(WSMessage{Type: WSTypeError, Message: "invalid JSON message"})
		return
	}

	switch msg.Type {
	case WSTypePing:
		c.sendMessage(WSMessage{Type: WSTypePong, Timestamp: time.Now().UTC().Format(time.RFC3339)})
	default:
		c.sendMessage(WSMessage{Type: WSTypeError, Message: "unknown message type: " + msg.Type})
	}
}

// trySend attempts to queue data for the client. A full buffer means a
// slow consumer; the frame is dropped rather than stalling the
// broadcast.
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
		metrics.ClientsDroppedFrames.Inc()
	}
}

// sendMessage marshals and queues a frame for the client.
func (c *WSClient) sendMessage(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}
