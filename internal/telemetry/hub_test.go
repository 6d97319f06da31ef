// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package telemetry

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Serve(conn)
	}))
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForCount(t *testing.T, hub *Hub, want int) {
	t.Helper()
	for i := 0; i < 500; i++ {
		if hub.Count() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("subscriber count %d; want %d", hub.Count(), want)
}

func TestBroadcastReachesAllSubscribers(t *testing.T) {
	hub, srv := newTestServer(t)

	// broadcasting into the void must not fail
	hub.Broadcast(SenderScheduler, MsgStatus, "slewing")

	c1 := dial(t, srv)
	c2 := dial(t, srv)
	waitForCount(t, hub, 2)

	hub.Broadcast(SenderScheduler, MsgStatus, "capturing")
	for _, c := range []*websocket.Conn{c1, c2} {
		c.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, payload, err := c.ReadMessage()
		require.NoError(t, err)

		var msg Message
		require.NoError(t, json.Unmarshal(payload, &msg))
		assert.Equal(t, SenderScheduler, msg.Sender)
		assert.Equal(t, MsgStatus, msg.Message)
		assert.Equal(t, "capturing", msg.Data)
	}
}

func TestBroadcastStructuredData(t *testing.T) {
	hub, srv := newTestServer(t)
	c := dial(t, srv)
	waitForCount(t, hub, 1)

	hub.Broadcast(SenderFocuser, MsgStatus, map[string]interface{}{"status": "focused", "position": 25200})

	c.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, payload, err := c.ReadMessage()
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(payload, &msg))
	data, ok := msg.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "focused", data["status"])
	assert.Equal(t, float64(25200), data["position"])
}

func TestDisconnectRemovesSubscriber(t *testing.T) {
	hub, srv := newTestServer(t)
	c1 := dial(t, srv)
	c2 := dial(t, srv)
	waitForCount(t, hub, 2)

	c1.Close()
	waitForCount(t, hub, 1)

	// the survivor still receives broadcasts
	hub.Broadcast(SenderDarkManager, MsgTemperature, "-9 / -10°C")
	c2.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, payload, err := c2.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(payload), "TEMPERATURE")
}
