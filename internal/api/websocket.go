package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"github.com/predictform/server/internal/models"
)

// WebSocket message types for the state stream
const (
	// Client -> Server messages
	MsgTypePing = "ping"

	// Server -> Client messages
	MsgTypeConnected = "connected"
	MsgTypeState     = "state"
	MsgTypeError     = "error"
	MsgTypePong      = "pong"
)

const (
	// pongWait bounds how long a silent client stays connected.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	writeWait  = 10 * time.Second
)

// WebSocket message structure
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// WebSocket error response
type WSErrorResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// WebSocketHandler pushes form snapshots to the page as they change
type WebSocketHandler struct {
	forms    FormManager
	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates a new state stream handler
func NewWebSocketHandler(forms FormManager) *WebSocketHandler {
	return &WebSocketHandler{
		forms: forms,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Allow connections from dev server
				return true
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
		},
	}
}

// wsConn serializes writes; gorilla allows one concurrent writer.
type wsConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) send(msg WSMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(msg)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// HandleStateStream upgrades the connection and streams state snapshots for
// one form until the client leaves or the form is unmounted.
func (wsh *WebSocketHandler) HandleStateStream(c echo.Context) error {
	id := c.Param("id")

	updates, cancel, err := wsh.forms.Subscribe(id)
	if err != nil {
		return formError(err, id)
	}
	defer cancel()

	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	conn := &wsConn{ws: ws}
	log.Debugf("[WebSocket] client connected to form %s", id)

	conn.send(WSMessage{
		Type:      MsgTypeConnected,
		ID:        id,
		Timestamp: time.Now().UnixMilli(),
	})

	done := make(chan struct{})
	go wsh.readLoop(conn, id, done)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case state, open := <-updates:
			if !open {
				// Form was unmounted
				conn.send(WSMessage{Type: MsgTypeError, ID: id, Timestamp: time.Now().UnixMilli(),
					Payload: mustJSON(WSErrorResponse{Type: MsgTypeError, Message: "form unmounted", Code: "NOT_FOUND"})})
				return nil
			}
			if err := conn.send(stateMessage(state)); err != nil {
				log.Debugf("[WebSocket] send failed for form %s: %v", id, err)
				return nil
			}
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				return nil
			}
		case <-done:
			log.Debugf("[WebSocket] client disconnected from form %s", id)
			return nil
		}
	}
}

// readLoop answers client pings and keeps the form alive. It closes done when
// the connection ends.
func (wsh *WebSocketHandler) readLoop(conn *wsConn, id string, done chan<- struct{}) {
	defer close(done)

	conn.ws.SetReadLimit(4 * 1024)
	conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		conn.ws.SetReadDeadline(time.Now().Add(pongWait))
		wsh.forms.Touch(id)
		return nil
	})

	for {
		var msg WSMessage
		if err := conn.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warnf("[WebSocket] connection error on form %s: %v", id, err)
			}
			return
		}
		conn.ws.SetReadDeadline(time.Now().Add(pongWait))

		switch msg.Type {
		case MsgTypePing:
			wsh.forms.Touch(id)
			conn.send(WSMessage{Type: MsgTypePong, ID: id, Timestamp: time.Now().UnixMilli()})
		default:
			conn.send(WSMessage{Type: MsgTypeError, ID: id, Timestamp: time.Now().UnixMilli(),
				Payload: mustJSON(WSErrorResponse{Type: MsgTypeError, Message: "Unknown message type: " + msg.Type, Code: "INVALID_TYPE"})})
		}
	}
}

func stateMessage(state models.FormState) WSMessage {
	return WSMessage{
		Type:      MsgTypeState,
		ID:        state.ID,
		Payload:   mustJSON(state),
		Timestamp: time.Now().UnixMilli(),
	}
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
