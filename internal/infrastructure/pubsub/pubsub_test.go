package pubsub_test

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opena2a/wot/internal/domain"
	"github.com/opena2a/wot/internal/infrastructure/pubsub"
)

func TestWebSocketHub_RelaysNotifyToConnectedClient(t *testing.T) {
	hub := pubsub.NewWebSocketHub()
	server := httptest.NewServer(hub)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give ServeHTTP's registration goroutine a moment to record the
	// connection before we publish.
	time.Sleep(50 * time.Millisecond)

	hub.Notify(domain.ChangeEvent{Kind: domain.ChangeKindTrust, After: "bob"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var event domain.ChangeEvent
	require.NoError(t, json.Unmarshal(payload, &event))
	assert.Equal(t, domain.ChangeKindTrust, event.Kind)
}

func TestWebSocketHub_DisconnectIsNoOp(t *testing.T) {
	hub := pubsub.NewWebSocketHub()
	assert.NotPanics(t, func() { hub.Disconnect() })
}
