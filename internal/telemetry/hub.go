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

// Package telemetry fans out status events from the automation workers to
// all connected WebSocket clients.
package telemetry

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Well-known event senders
const (
	SenderScheduler   = "SCHEDULER"
	SenderDarkManager = "DARKMANAGER"
	SenderFocuser     = "FOCUSER"
	SenderSystem      = "system"
)

// Well-known event messages
const (
	MsgStatus      = "STATUS"
	MsgNewImage    = "NEWIMAGE"
	MsgTemperature = "TEMPERATURE"
	MsgRefreshInfo = "REFRESHINFO"
	MsgPing        = "ping"
)

const (
	pingInterval  = 60 * time.Second
	writeDeadline = 10 * time.Second
	sendQueueSize = 64
)

// A telemetry event as delivered on the wire
type Message struct {
	Sender  string      `json:"sender"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
	done chan struct{}
}

// Hub broadcasts messages to all subscribers. Broadcast is safe to call
// from any goroutine; per subscriber, messages are delivered in submission
// order by a dedicated writer goroutine. A subscriber whose send fails or
// whose queue overflows is dropped
type Hub struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
	log  *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		subs: make(map[*subscriber]struct{}),
		log:  log,
	}
}

// Registers the connection and services it until the client disconnects
// or a write fails. Blocks; intended to be called from the HTTP handler
// goroutine owning the connection
func (h *Hub) Serve(conn *websocket.Conn) {
	sub := &subscriber{
		conn: conn,
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	h.log.Info("telemetry client connected", "remote", conn.RemoteAddr().String(), "clients", n)

	go h.writeLoop(sub)
	h.readLoop(sub)
}

func (h *Hub) remove(sub *subscriber) {
	sub.once.Do(func() {
		h.mu.Lock()
		delete(h.subs, sub)
		n := len(h.subs)
		h.mu.Unlock()
		close(sub.done)
		sub.conn.Close()
		h.log.Info("telemetry client disconnected", "remote", sub.conn.RemoteAddr().String(), "clients", n)
	})
}

// Drains the send queue and emits keep-alive pings
func (h *Hub) writeLoop(sub *subscriber) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case msg := <-sub.send:
			sub.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := sub.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(sub)
				return
			}
		case <-ticker.C:
			ping, _ := json.Marshal(Message{Sender: SenderSystem, Message: MsgPing})
			sub.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := sub.conn.WriteMessage(websocket.TextMessage, ping); err != nil {
				h.remove(sub)
				return
			}
		case <-sub.done:
			return
		}
	}
}

// Consumes inbound frames so close and pong handling keep working.
// Client payloads are ignored
func (h *Hub) readLoop(sub *subscriber) {
	defer h.remove(sub)
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Sends the message to every subscriber. Subscribers whose queue is full
// are dropped rather than blocking the calling worker
func (h *Hub) Broadcast(sender, message string, data interface{}) {
	payload, err := json.Marshal(Message{Sender: sender, Message: message, Data: data})
	if err != nil {
		h.log.Warn("telemetry marshal failed", "error", err)
		return
	}
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.send <- payload:
		default:
			h.log.Warn("telemetry client too slow, dropping", "remote", sub.conn.RemoteAddr().String())
			h.remove(sub)
		}
	}
}

// Number of connected subscribers
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
