package server

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/nguyentranbao-ct/consult-live/internal/config"
	"github.com/nguyentranbao-ct/consult-live/internal/models"
	"github.com/nguyentranbao-ct/consult-live/internal/usecase"
	"github.com/nguyentranbao-ct/consult-live/pkg/util"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	StreamChat         = "chat"
	StreamSession      = "session"
	StreamNotification = "notification"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
	streamBuffer     = 64
)

// StreamEvent is one frame pushed to connected UIs.
type StreamEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

var _ usecase.Notifier = (*StreamHub)(nil)

// StreamHub fans chat snapshots, session snapshots and notifications out to
// every connected UI. A new connection first receives the latest snapshots.
// Publishing never blocks: a client that cannot keep up is disconnected.
type StreamHub struct {
	log      *zap.SugaredLogger
	upgrader websocket.Upgrader
	events   *prometheus.CounterVec

	mu      sync.Mutex
	clients map[*streamClient]struct{}
	chat    *StreamEvent
	session *StreamEvent
	closed  bool
}

type streamClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (sc *streamClient) close() {
	sc.once.Do(func() { close(sc.send) })
}

func NewStreamHub(conf *config.Config, log *zap.SugaredLogger) (*StreamHub, error) {
	origin, err := regexp.Compile(conf.Server.AllowedOrigin)
	if err != nil {
		return nil, fmt.Errorf("compile allowed origin: %w", err)
	}
	return &StreamHub{
		log: log.Named("stream"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				o := r.Header.Get("Origin")
				return o == "" || origin.MatchString(o)
			},
		},
		events:  util.MustCounterVec("stream_events_total", "UI stream events by type and result", "type", "result"),
		clients: make(map[*streamClient]struct{}),
	}, nil
}

func (h *StreamHub) Notify(n models.Notification) {
	h.broadcast(&StreamEvent{Type: StreamNotification, Data: n})
}

func (h *StreamHub) PublishChat(snap usecase.ChatSnapshot) {
	ev := &StreamEvent{Type: StreamChat, Data: snap}
	h.mu.Lock()
	h.chat = ev
	h.mu.Unlock()
	h.broadcast(ev)
}

// PublishSession sends the session snapshot; nil means the session ended.
func (h *StreamHub) PublishSession(snap *models.SessionSnapshot) {
	ev := &StreamEvent{Type: StreamSession, Data: snap}
	h.mu.Lock()
	h.session = ev
	h.mu.Unlock()
	h.broadcast(ev)
}

// Handle upgrades the request and serves the connection until it closes.
func (h *StreamHub) Handle(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader has already written the error response
		h.log.Debugw("upgrade stream", "error", err)
		return nil
	}
	sc := &streamClient{conn: conn, send: make(chan []byte, streamBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	h.clients[sc] = struct{}{}
	initial := make([]*StreamEvent, 0, 2)
	for _, ev := range []*StreamEvent{h.chat, h.session} {
		if ev != nil {
			initial = append(initial, ev)
		}
	}
	for _, ev := range initial {
		if data, err := json.Marshal(ev); err == nil {
			sc.send <- data
		}
	}
	h.mu.Unlock()
	h.log.Debugw("stream connected", "remote", c.RealIP())

	go h.writePump(sc)
	h.readPump(sc)
	return nil
}

// Close disconnects every client.
func (h *StreamHub) Close(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for sc := range h.clients {
		delete(h.clients, sc)
		sc.close()
	}
	return nil
}

func (h *StreamHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *StreamHub) broadcast(ev *StreamEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Errorw("encode stream event", "type", ev.Type, "error", err)
		h.events.WithLabelValues(ev.Type, "encode_error").Inc()
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for sc := range h.clients {
		select {
		case sc.send <- data:
			h.events.WithLabelValues(ev.Type, "sent").Inc()
		default:
			h.log.Warnw("stream client too slow, disconnecting", "type", ev.Type)
			h.events.WithLabelValues(ev.Type, "dropped").Inc()
			delete(h.clients, sc)
			sc.close()
		}
	}
}

func (h *StreamHub) remove(sc *streamClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[sc]; ok {
		delete(h.clients, sc)
		sc.close()
	}
}

// readPump discards client frames and keeps the read deadline moving. The
// stream is push only.
func (h *StreamHub) readPump(sc *streamClient) {
	defer h.remove(sc)
	sc.conn.SetReadLimit(4096)
	_ = sc.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	sc.conn.SetPongHandler(func(string) error {
		return sc.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := sc.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debugw("stream read", "error", err)
			}
			return
		}
	}
}

func (h *StreamHub) writePump(sc *streamClient) {
	ticker := time.NewTicker(streamPingPeriod)
	defer func() {
		ticker.Stop()
		_ = sc.conn.Close()
	}()
	for {
		select {
		case data, ok := <-sc.send:
			_ = sc.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if !ok {
				_ = sc.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := sc.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.log.Debugw("stream write", "error", err)
				return
			}
		case <-ticker.C:
			_ = sc.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := sc.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
