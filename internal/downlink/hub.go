// Package downlink streams scheduler output to websocket clients: released
// telecommands, schedule reports and verification reports.
package downlink

import (
	"context"
	"encoding/hex"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/gyaneshwarpardhi/tcsched/internal/metrics"
	"github.com/gyaneshwarpardhi/tcsched/internal/obtime"
	"github.com/gyaneshwarpardhi/tcsched/internal/pus"
	"github.com/gyaneshwarpardhi/tcsched/internal/report"
	"github.com/gyaneshwarpardhi/tcsched/internal/schedule"
	"github.com/gyaneshwarpardhi/tcsched/internal/verify"
)

const (
	TypeRelease      = "release"
	TypeReport       = "report"
	TypeVerification = "verification"
)

const (
	sendBuffer = 64
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Message is one frame on the stream.
type Message struct {
	Type      string    `json:"type"`
	RequestID string    `json:"request_id,omitempty"`
	At        time.Time `json:"at"`

	// Release frames.
	ID          string       `json:"id,omitempty"`
	ReleaseTime *obtime.Time `json:"release_time,omitempty"`

	// Subtype and Data carry the TM[11,x] application data of a report,
	// or the released telecommand packet, hex encoded.
	Subtype uint8  `json:"subtype,omitempty"`
	Data    string `json:"data,omitempty"`

	Report       *report.Report  `json:"report,omitempty"`
	Verification []verify.Report `json:"verification,omitempty"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan Message
}

// Hub fans messages out to every connected client. Publishing never
// blocks: a client that cannot keep up is disconnected.
type Hub struct {
	upgrader  websocket.Upgrader
	clients   map[*client]bool
	clientsMu sync.RWMutex
	log       *slog.Logger
	now       func() time.Time
}

// NewHub returns a Hub with no clients.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]bool),
		log:     log,
		now:     time.Now,
	}
}

// Name implements release.Sink.
func (h *Hub) Name() string { return "stream" }

// Release implements release.Sink.
func (h *Hub) Release(_ context.Context, a schedule.Activity) error {
	t := a.ReleaseTime
	h.broadcast(Message{
		Type:        TypeRelease,
		At:          h.now(),
		ID:          a.ID.String(),
		ReleaseTime: &t,
		Data:        hex.EncodeToString(a.Payload),
	})
	return nil
}

// PublishReport sends a detail or summary report.
func (h *Hub) PublishReport(_ context.Context, requestID string, r report.Report) error {
	subtype, data := pus.EncodeReport(r)
	h.broadcast(Message{
		Type:      TypeReport,
		RequestID: requestID,
		At:        h.now(),
		Subtype:   subtype,
		Data:      hex.EncodeToString(data),
		Report:    &r,
	})
	return nil
}

// PublishVerification implements verify.Publisher.
func (h *Hub) PublishVerification(_ context.Context, reports []verify.Report) error {
	if len(reports) == 0 {
		return nil
	}
	h.broadcast(Message{
		Type:         TypeVerification,
		RequestID:    reports[0].RequestID,
		At:           h.now(),
		Verification: reports,
	})
	return nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcast(m Message) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- m:
		default:
			h.log.Warn("stream client too slow, dropping", "client", c.id, "type", m.Type)
			h.removeLocked(c)
		}
	}
}

func (h *Hub) removeLocked(c *client) {
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
		metrics.StreamClients.Set(float64(len(h.clients)))
	}
}

func (h *Hub) remove(c *client) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	h.removeLocked(c)
}

// ServeHTTP upgrades the request and streams messages until the client
// goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("stream upgrade failed", "err", err)
		return
	}
	c := &client{id: uuid.New().String(), conn: conn, send: make(chan Message, sendBuffer)}

	h.clientsMu.Lock()
	h.clients[c] = true
	metrics.StreamClients.Set(float64(len(h.clients)))
	h.clientsMu.Unlock()
	h.log.Info("stream client connected", "client", c.id, "remote", r.RemoteAddr)

	go h.writePump(c)
	h.readPump(c)
}

// readPump only handles control frames; clients do not send data.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		_ = c.conn.Close()
		h.log.Info("stream client disconnected", "client", c.id)
	}()
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case m, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(m); err != nil {
				h.log.Debug("stream write failed", "client", c.id, "err", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
