package socket

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/nguyentranbao-ct/consult-live/internal/config"
	"github.com/nguyentranbao-ct/consult-live/internal/models"
	"github.com/nguyentranbao-ct/consult-live/internal/repo/auth"
	"github.com/nguyentranbao-ct/consult-live/pkg/util"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Handler receives the raw data of one event. Handlers run on the read loop
// in arrival order and must not block.
type Handler func(data json.RawMessage)

// Transport is the process-wide realtime connection. Every consumer removes
// exactly the handlers it registered.
type Transport interface {
	Emit(ctx context.Context, event string, payload any) error
	On(event string, h Handler) (off func())
	// OnReconnect runs fn every time the connection is established.
	OnReconnect(fn func()) (off func())
	Connected() bool
}

type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type listener struct {
	id int
	fn Handler
}

type hook struct {
	id int
	fn func()
}

type Client struct {
	conf        config.SocketConfig
	session     auth.Session
	dialer      *websocket.Dialer
	log         *zap.SugaredLogger
	connections *prometheus.CounterVec

	mu       sync.RWMutex
	handlers map[string][]listener
	hooks    []hook
	nextID   int

	writeMu sync.Mutex
	conn    *websocket.Conn

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

var _ Transport = (*Client)(nil)

func NewClient(conf *config.Config, session auth.Session, log *zap.SugaredLogger) *Client {
	sc := conf.Socket
	if sc.WriteTimeout <= 0 {
		sc.WriteTimeout = 10 * time.Second
	}
	if sc.ReconnectBaseDelay <= 0 {
		sc.ReconnectBaseDelay = time.Second
	}
	if sc.ReconnectMaxDelay < sc.ReconnectBaseDelay {
		sc.ReconnectMaxDelay = sc.ReconnectBaseDelay
	}
	c := &Client{
		conf:    sc,
		session: session,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: sc.WriteTimeout,
		},
		log:         log.Named("socket"),
		connections: util.MustCounterVec("socket_connections_total", "Realtime socket connection attempts by result", "result"),
		handlers:    make(map[string][]listener),
	}
	session.OnLogout(func() { c.halt() })
	return c
}

// Start connects in the background and keeps reconnecting until Stop. It is
// a no-op while already running.
func (c *Client) Start() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.done != nil {
		select {
		case <-c.done:
		default:
			return
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(ctx, c.done)
}

// Stop closes the connection and waits for the read loop to exit.
func (c *Client) Stop(ctx context.Context) error {
	done := c.halt()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) halt() <-chan struct{} {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	return c.done
}

func (c *Client) Connected() bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn != nil
}

// Emit writes one event. It returns models.ErrNotConnected while the
// connection is down; nothing is queued.
func (c *Client) Emit(ctx context.Context, event string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event, err)
	}
	msg, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return models.ErrNotConnected
	}
	deadline := time.Now().Add(c.conf.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	return nil
}

func (c *Client) On(event string, h Handler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.handlers[event] = append(c.handlers[event], listener{id: id, fn: h})

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			list := c.handlers[event]
			for i, l := range list {
				if l.id == id {
					c.handlers[event] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
			if len(c.handlers[event]) == 0 {
				delete(c.handlers, event)
			}
		})
	}
}

func (c *Client) OnReconnect(fn func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.hooks = append(c.hooks, hook{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, h := range c.hooks {
				if h.id == id {
					c.hooks = append(c.hooks[:i:i], c.hooks[i+1:]...)
					break
				}
			}
		})
	}
}

// HandlerCount reports the number of handlers registered for event.
func (c *Client) HandlerCount(event string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.handlers[event])
}

func (c *Client) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	attempt := 0
	for {
		conn, err := c.dial(ctx)
		if errors.Is(err, models.ErrUnauthenticated) {
			c.connections.WithLabelValues("rejected").Inc()
			c.log.Warnw("socket handshake rejected, signing out", "url", c.conf.URL)
			c.session.Logout()
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.connections.WithLabelValues("dial_failed").Inc()
			attempt++
			if c.conf.MaxReconnectAttempts > 0 && attempt > c.conf.MaxReconnectAttempts {
				c.log.Errorw("giving up reconnecting", "attempts", attempt-1, "error", err)
				return
			}
			delay := backoff(c.conf.ReconnectBaseDelay, c.conf.ReconnectMaxDelay, attempt)
			c.log.Warnw("socket dial failed", "attempt", attempt, "retry_in", delay, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		attempt = 0
		c.connections.WithLabelValues("connected").Inc()
		c.serve(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		c.connections.WithLabelValues("dropped").Inc()
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	token := c.session.Token()
	if token == "" {
		return nil, models.ErrUnauthenticated
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := c.dialer.DialContext(ctx, c.conf.URL, header)
	if resp != nil && resp.StatusCode == http.StatusUnauthorized {
		return nil, models.ErrUnauthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.conf.URL, err)
	}
	return conn, nil
}

func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.setConn(conn)
	defer c.setConn(nil)

	go func() {
		<-connCtx.Done()
		_ = conn.Close()
	}()

	if c.conf.PingInterval > 0 {
		pongWait := 2 * c.conf.PingInterval
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		go c.pingLoop(connCtx, conn)
	}

	c.log.Infow("socket connected", "url", c.conf.URL)
	c.runHooks()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.log.Warnw("socket disconnected", "error", err)
			}
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Warnw("drop malformed event", "error", err)
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if conn == nil && c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = conn
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.conf.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.conf.WriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.log.Debugw("ping failed", "error", err)
				return
			}
		}
	}
}

func (c *Client) runHooks() {
	c.mu.RLock()
	hooks := make([]hook, len(c.hooks))
	copy(hooks, c.hooks)
	c.mu.RUnlock()
	for _, h := range hooks {
		c.safeCall("reconnect hook", func() { h.fn() })
	}
}

func (c *Client) dispatch(env Envelope) {
	c.mu.RLock()
	list := make([]listener, len(c.handlers[env.Event]))
	copy(list, c.handlers[env.Event])
	c.mu.RUnlock()
	if len(list) == 0 {
		c.log.Debugw("no handler for event", "event", env.Event)
		return
	}
	for _, l := range list {
		c.safeCall(env.Event, func() { l.fn(env.Data) })
	}
}

func (c *Client) safeCall(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Errorw("socket handler panicked", "event", name, "panic", r)
		}
	}()
	fn()
}

// backoff is an exponential delay with jitter in [d/2, d).
func backoff(base, maxDelay time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt && d < maxDelay; i++ {
		d *= 2
	}
	if d > maxDelay {
		d = maxDelay
	}
	half := d / 2
	if half <= 0 {
		return d
	}
	return half + rand.N(half)
}
