package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/predictform/server/internal/models"
	"github.com/predictform/server/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialStream(t *testing.T, env *testEnv, id string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(env.e)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/forms/" + id + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readMessage(t *testing.T, ws *websocket.Conn) WSMessage {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg WSMessage
	require.NoError(t, ws.ReadJSON(&msg))
	return msg
}

func TestWebSocketHandler_StreamsState(t *testing.T) {
	env := newTestEnv(t, testutil.RespondJSON(http.StatusOK, `{"digit": 1}`))
	state := env.mount(t)
	ws := dialStream(t, env, state.ID)

	msg := readMessage(t, ws)
	assert.Equal(t, MsgTypeConnected, msg.Type)
	assert.Equal(t, state.ID, msg.ID)

	msg = readMessage(t, ws)
	require.Equal(t, MsgTypeState, msg.Type)
	var initial models.FormState
	require.NoError(t, json.Unmarshal(msg.Payload, &initial))
	assert.Equal(t, "No response yet...", initial.ResponseText)

	// Ping is answered with pong
	require.NoError(t, ws.WriteJSON(WSMessage{Type: MsgTypePing}))
	msg = readMessage(t, ws)
	assert.Equal(t, MsgTypePong, msg.Type)

	// Submitting without a file pushes the no-file message
	env.submit(t, state.ID)
	msg = readMessage(t, ws)
	require.Equal(t, MsgTypeState, msg.Type)
	var updated models.FormState
	require.NoError(t, json.Unmarshal(msg.Payload, &updated))
	assert.Equal(t, "Please select a file first.", updated.ResponseText)
}

func TestWebSocketHandler_ClosesOnUnmount(t *testing.T) {
	env := newTestEnv(t, testutil.RespondJSON(http.StatusOK, `{}`))
	state := env.mount(t)
	ws := dialStream(t, env, state.ID)

	assert.Equal(t, MsgTypeConnected, readMessage(t, ws).Type)
	assert.Equal(t, MsgTypeState, readMessage(t, ws).Type)

	require.NoError(t, env.forms.Unmount(state.ID))

	msg := readMessage(t, ws)
	require.Equal(t, MsgTypeError, msg.Type)
	var payload WSErrorResponse
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, "NOT_FOUND", payload.Code)
}

func TestWebSocketHandler_UnknownForm(t *testing.T) {
	env := newTestEnv(t, testutil.RespondJSON(http.StatusOK, `{}`))

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/forms/missing/ws", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
