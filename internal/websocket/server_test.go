package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yegors/livemap/internal/airport"
	"github.com/yegors/livemap/internal/weather"
	"github.com/yegors/livemap/pkg/logger"
)

func startHub(t *testing.T, handler MessageHandler) (*Server, string) {
	t.Helper()
	hub := NewServer(logger.NewNop())
	if handler != nil {
		hub.SetMessageHandler(handler)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleConnection))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, hub *Server, url string) *websocket.Conn {
	t.Helper()
	before := hub.ClientCount()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return hub.ClientCount() == before+1 }, 2*time.Second, 5*time.Millisecond)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestServer_BroadcastsChanges(t *testing.T) {
	hub, url := startHub(t, nil)
	conn := dial(t, hub, url)

	observed := time.Date(2024, 5, 12, 18, 53, 0, 0, time.UTC)
	require.NoError(t, hub.HandleChanges(context.Background(), []airport.Change{{
		Key: "ksea", ICAO: "ksea", LED: 3, Purpose: airport.PurposeAll,
		PreviousCategory: weather.CategoryVFR, Category: weather.CategoryIFR,
		RawText: "KSEA 121853Z 2SM BR OVC008", ObservedAt: observed, RawChanged: true,
	}}))

	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeAirportUpdate, msg.Type)
	assert.Equal(t, "ksea", msg.Data["icao"])
	assert.Equal(t, "IFR", msg.Data["flight_category"])
	assert.Equal(t, "VFR", msg.Data["previous_category"])
	assert.EqualValues(t, 3, msg.Data["led"])
	assert.Equal(t, "2024-05-12T18:53:00Z", msg.Data["observation_time"])
}

func TestServer_FilterUpdate(t *testing.T) {
	hub, url := startHub(t, nil)
	conn := dial(t, hub, url)

	require.NoError(t, conn.WriteJSON(Message{
		Type: MessageTypeFilterUpdate,
		Data: map[string]any{"categories": []string{"IFR", "LIFR"}},
	}))

	// the filter lands asynchronously, so keep sending until the VFR update is held back
	require.Eventually(t, func() bool {
		var client *Client
		hub.mu.RLock()
		for c := range hub.clients {
			client = c
		}
		hub.mu.RUnlock()
		return client != nil && !client.MatchesFilters(UpdateMessage(airport.Change{ICAO: "kpae", Category: weather.CategoryVFR}))
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, hub.HandleChanges(context.Background(), []airport.Change{
		{ICAO: "kpae", Category: weather.CategoryVFR},
		{ICAO: "ksea", Category: weather.CategoryLIFR},
	}))

	msg := readMessage(t, conn)
	assert.Equal(t, "ksea", msg.Data["icao"], "VFR update filtered out")
}

func TestClient_MatchesFilters(t *testing.T) {
	c := &Client{}
	update := UpdateMessage(airport.Change{ICAO: "ksea", Category: weather.CategoryMVFR})

	assert.True(t, c.MatchesFilters(update), "no filters")

	c.UpdateFilters(parseFilters(map[string]any{"icao": []any{"KSEA"}}))
	assert.True(t, c.MatchesFilters(update))
	assert.False(t, c.MatchesFilters(UpdateMessage(airport.Change{ICAO: "kpae"})))

	c.UpdateFilters(parseFilters(map[string]any{"categories": []any{"ifr", "bogus"}}))
	assert.False(t, c.MatchesFilters(update))
	assert.True(t, c.MatchesFilters(&Message{Type: MessageTypeAirportBulkResponse}))
}

func TestBulkHandler(t *testing.T) {
	dir := airport.NewDirectory(logger.NewNop())
	dir.MergeConfig([]airport.Config{
		{ICAO: "KSEA", LED: 0, Active: true, Purpose: airport.PurposeAll},
		{ICAO: "KPAE", LED: 1, Active: true, Purpose: airport.PurposeLED},
		{ICAO: "KBFI", LED: 2, Active: true, Purpose: airport.PurposeWeb},
	})

	hub, url := startHub(t, NewBulkHandler(dir, time.Hour))
	conn := dial(t, hub, url)

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypeAirportBulkRequest}))
	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeAirportBulkResponse, msg.Type)
	assert.EqualValues(t, 2, msg.Data["count"])

	list, ok := msg.Data["airports"].([]any)
	require.True(t, ok)
	require.Len(t, list, 2)
	first := list[0].(map[string]any)
	assert.Contains(t, []any{"kbfi", "ksea"}, first["icao"])
	assert.Equal(t, "UNKN", first["display_category"])
}

func TestBulkHandler_UnsupportedType(t *testing.T) {
	h := NewBulkHandler(airport.NewDirectory(logger.NewNop()), time.Hour)
	assert.Error(t, h.HandleMessage(&Client{}, "aircraft_update", nil))
}
