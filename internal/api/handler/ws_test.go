package handler_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"relaychat/backend/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, srv *httptest.Server, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	return websocket.DefaultDialer.Dial(url, header)
}

func bearer(token string) http.Header {
	return http.Header{"Authorization": []string{"Bearer " + token}}
}

// readUntil reads envelopes until one named event arrives.
func readUntil(t *testing.T, conn *websocket.Conn, event models.EventName) models.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var env models.Envelope
		require.NoError(t, conn.ReadJSON(&env))
		if env.Event == event {
			return env
		}
	}
}

func TestServeWebSocket_SendRoundTrip(t *testing.T) {
	s := newTestServer(t)
	conv := s.seed(t, "alice", "bob")
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	alice, _, err := dial(t, srv, bearer(s.token(t, "alice")))
	require.NoError(t, err)
	defer alice.Close()
	bob, _, err := dial(t, srv, bearer(s.token(t, "bob")))
	require.NoError(t, err)
	defer bob.Close()
	require.Eventually(t, func() bool { return s.hub.IsOnline("alice") && s.hub.IsOnline("bob") }, time.Second, 5*time.Millisecond)

	payload, err := json.Marshal(models.SendMessagePayload{ConversationID: conv.ID, Content: "hi", TempID: "T1"})
	require.NoError(t, err)
	require.NoError(t, alice.WriteJSON(models.Envelope{Event: models.EventSendMessage, Data: payload}))

	var ack models.MessageSent
	require.NoError(t, json.Unmarshal(readUntil(t, alice, models.EventMessageSent).Data, &ack))
	assert.Equal(t, "T1", ack.TempID)
	assert.True(t, ack.Message.Delivered)

	var msg models.Message
	require.NoError(t, json.Unmarshal(readUntil(t, bob, models.EventNewMessage).Data, &msg))
	assert.Equal(t, ack.Message.ID, msg.ID)
	assert.Equal(t, "alice", msg.SenderID)
}

func TestServeWebSocket_DisconnectGoesOffline(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	conn, _, err := dial(t, srv, bearer(s.token(t, "alice")))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.hub.IsOnline("alice") }, time.Second, 5*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool { return !s.hub.IsOnline("alice") }, 2*time.Second, 10*time.Millisecond)
}

func TestServeWebSocket_TokenInQuery(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + s.token(t, "alice")

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)

	require.NoError(t, err)
	conn.Close()
}

func TestServeWebSocket_Rejections(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	_, resp, err := dial(t, srv, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	header := bearer(s.token(t, "alice"))
	header.Set("Origin", "https://evil.example")
	_, resp, err = dial(t, srv, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.False(t, s.hub.IsOnline("alice"))
}
