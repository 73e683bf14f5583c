package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hbastian/fieldline-core/internal/device"
	"github.com/hbastian/fieldline-core/internal/infrastructure/config"
	"github.com/hbastian/fieldline-core/internal/infrastructure/logging"
)

func testClient(roomID string) *WSClient {
	return &WSClient{
		send:   make(chan []byte, wsSendBufferSize),
		roomID: roomID,
	}
}

func TestHubBroadcastIsRoomScoped(t *testing.T) {
	logger := logging.New(config.LoggingConfig{Level: "error", Format: "text"}, "test")
	hub := NewHub(logger)

	livingA := testClient("room-a")
	livingB := testClient("room-a")
	kitchen := testClient("room-b")
	for _, c := range []*WSClient{livingA, livingB, kitchen} {
		c.hub = hub
		hub.Register(c)
	}

	if got := hub.ClientCount(); got != 3 {
		t.Fatalf("client count = %d, want 3", got)
	}

	v := 21.5
	hub.BroadcastDeviceUpdate("room-a", &device.Device{
		ID:     "dev-1",
		RoomID: "room-a",
		Name:   "Thermostat",
		Value:  &v,
	})

	for _, c := range []*WSClient{livingA, livingB} {
		select {
		case data := <-c.send:
			var msg WSMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				t.Fatalf("unmarshal frame: %v", err)
			}
			if msg.Type != WSTypeUpdate {
				t.Errorf("type = %q, want %q", msg.Type, WSTypeUpdate)
			}
			if msg.RoomID != "room-a" {
				t.Errorf("room_id = %q, want room-a", msg.RoomID)
			}
			if msg.Device == nil || msg.Device.ID != "dev-1" {
				t.Errorf("device = %+v, want the updated device under the device key", msg.Device)
			}
		default:
			t.Error("room-a client received no frame")
		}
	}

	select {
	case <-kitchen.send:
		t.Error("room-b client received a frame for room-a")
	default:
	}
}

func TestHubUnregisterRemovesClient(t *testing.T) {
	logger := logging.New(config.LoggingConfig{Level: "error", Format: "text"}, "test")
	hub := NewHub(logger)

	c := testClient("room-a")
	c.hub = hub
	hub.Register(c)
	hub.Unregister(c)

	if got := hub.ClientCount(); got != 0 {
		t.Errorf("client count = %d, want 0", got)
	}

	// Broadcasting after the client left must not panic.
	hub.BroadcastDeviceUpdate("room-a", &device.Device{ID: "dev-1", RoomID: "room-a"})
}

func TestHubSlowClientDropsFrames(t *testing.T) {
	logger := logging.New(config.LoggingConfig{Level: "error", Format: "text"}, "test")
	hub := NewHub(logger)

	c := &WSClient{send: make(chan []byte, 1), roomID: "room-a", hub: hub}
	hub.Register(c)

	d := &device.Device{ID: "dev-1", RoomID: "room-a"}
	hub.BroadcastDeviceUpdate("room-a", d)
	hub.BroadcastDeviceUpdate("room-a", d) // buffer full, dropped

	if got := len(c.send); got != 1 {
		t.Errorf("buffered frames = %d, want 1", got)
	}
}

func TestWebSocketJoinSendsSnapshot(t *testing.T) {
	srv := testServer(t)
	router := srv.buildRouter()

	token, _ := registerAndLogin(t, router, "alice")

	w := doJSON(t, router, http.MethodPost, "/api/v1/rooms",
		map[string]string{"name": "Living Room"}, token)
	if w.Code != http.StatusCreated {
		t.Fatalf("create room: %d", w.Code)
	}
	var rm struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &rm); err != nil {
		t.Fatalf("unmarshal room: %v", err)
	}

	w = doJSON(t, router, http.MethodPost, "/api/v1/rooms/"+rm.ID+"/devices", map[string]string{
		"name":        "Ceiling Light",
		"signal_type": "digital_output",
	}, token)
	if w.Code != http.StatusCreated {
		t.Fatalf("create device: %d; body: %s", w.Code, w.Body.String())
	}

	ts := httptest.NewServer(router)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") +
		"/api/v1/rooms/" + rm.ID + "/ws?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v (resp: %+v)", err, resp)
	}
	defer conn.Close()

	//nolint:errcheck // test deadline
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}

	var msg struct {
		Type    string          `json:"type"`
		RoomID  string          `json:"room_id"`
		Devices []device.Device `json:"devices"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if msg.Type != WSTypeSnapshot {
		t.Errorf("first frame type = %q, want %q", msg.Type, WSTypeSnapshot)
	}
	if msg.RoomID != rm.ID {
		t.Errorf("room_id = %q, want %q", msg.RoomID, rm.ID)
	}
	if len(msg.Devices) != 1 || msg.Devices[0].Name != "Ceiling Light" {
		t.Errorf("snapshot devices = %+v, want the room's one device", msg.Devices)
	}

	// A device update for this room reaches the connected client.
	hubDevice := &device.Device{ID: msg.Devices[0].ID, RoomID: rm.ID, Name: "Ceiling Light", IsOn: true}
	srv.hub.BroadcastDeviceUpdate(rm.ID, hubDevice)

	//nolint:errcheck // test deadline
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("read update: %v", err)
	}
	var update WSMessage
	if err := json.Unmarshal(data, &update); err != nil {
		t.Fatalf("unmarshal update: %v", err)
	}
	if update.Type != WSTypeUpdate {
		t.Errorf("second frame type = %q, want %q", update.Type, WSTypeUpdate)
	}
	if update.Device == nil || !update.Device.IsOn {
		t.Errorf("update frame device = %+v, want the changed device under the device key", update.Device)
	}
}

func TestWebSocketRejectsMissingToken(t *testing.T) {
	srv := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/rooms/room-1/ws", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}
