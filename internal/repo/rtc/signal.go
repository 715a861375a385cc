package rtc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nguyentranbao-ct/consult-live/internal/config"
	"github.com/nguyentranbao-ct/consult-live/internal/models"
	"go.uber.org/zap"
)

// SignalFactory creates clients speaking the video service's JSON
// signaling protocol over a websocket.
type SignalFactory struct {
	url     string
	timeout time.Duration
	log     *zap.SugaredLogger
}

var _ ClientFactory = (*SignalFactory)(nil)

func NewSignalFactory(conf *config.Config, log *zap.SugaredLogger) *SignalFactory {
	timeout := conf.RTC.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &SignalFactory{
		url:     conf.RTC.SignalURL,
		timeout: timeout,
		log:     log.Named("rtc"),
	}
}

func (f *SignalFactory) NewClient(creds models.Credentials) (Client, error) {
	if f.url == "" {
		return nil, fmt.Errorf("rtc signaling url is not configured")
	}
	return &SignalClient{
		url:      f.url,
		timeout:  f.timeout,
		log:      f.log.With("channel", creds.ChannelName),
		handlers: make(map[EventName][]eventListener),
		pending:  make(map[int64]chan signalFrame),
	}, nil
}

type signalRequest struct {
	ID        int64            `json:"id"`
	Op        string           `json:"op"`
	AppID     string           `json:"app_id,omitempty"`
	Channel   string           `json:"channel,omitempty"`
	Token     string           `json:"token,omitempty"`
	UID       string           `json:"uid,omitempty"`
	Kind      models.MediaKind `json:"kind,omitempty"`
	TrackID   string           `json:"track_id,omitempty"`
	TargetUID string           `json:"target_uid,omitempty"`
}

type signalFrame struct {
	ID      int64            `json:"id,omitempty"`
	OK      bool             `json:"ok,omitempty"`
	Error   string           `json:"error,omitempty"`
	Event   EventName        `json:"event,omitempty"`
	UID     string           `json:"uid,omitempty"`
	Name    string           `json:"name,omitempty"`
	Kind    models.MediaKind `json:"kind,omitempty"`
	TrackID string           `json:"track_id,omitempty"`
}

type eventListener struct {
	id int
	fn EventHandler
}

type SignalClient struct {
	url     string
	timeout time.Duration
	log     *zap.SugaredLogger

	mu       sync.Mutex
	handlers map[EventName][]eventListener
	nextID   int
	pending  map[int64]chan signalFrame
	seq      int64
	joined   bool
	done     chan struct{}

	writeMu sync.Mutex
	conn    *websocket.Conn
}

var _ Client = (*SignalClient)(nil)

func (c *SignalClient) On(event EventName, h EventHandler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.handlers[event] = append(c.handlers[event], eventListener{id: id, fn: h})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		list := c.handlers[event]
		for i, l := range list {
			if l.id == id {
				c.handlers[event] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

func (c *SignalClient) RemoveAllListeners() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = make(map[EventName][]eventListener)
}

func (c *SignalClient) Join(ctx context.Context, creds models.Credentials) error {
	c.mu.Lock()
	if c.joined {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	header := http.Header{}
	if creds.Token != "" {
		header.Set("Authorization", "Bearer "+creds.Token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.url, header)
	if err != nil {
		return fmt.Errorf("dial signaling: %w", err)
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.done = done
	c.mu.Unlock()
	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()
	go c.readLoop(conn, done)

	_, err = c.call(ctx, signalRequest{
		Op:      "join",
		AppID:   creds.AppID,
		Channel: creds.ChannelName,
		Token:   creds.Token,
		UID:     creds.UID,
	})
	if err != nil {
		c.closeConn()
		return fmt.Errorf("join channel %s: %w", creds.ChannelName, err)
	}

	c.mu.Lock()
	c.joined = true
	c.mu.Unlock()
	c.log.Infow("joined channel", "uid", creds.UID)
	return nil
}

func (c *SignalClient) Publish(ctx context.Context, tracks ...Track) error {
	var errs []error
	for _, t := range tracks {
		if _, err := c.call(ctx, signalRequest{Op: "publish", Kind: t.Kind(), TrackID: t.ID()}); err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", t.ID(), err))
		}
	}
	return errors.Join(errs...)
}

func (c *SignalClient) Unpublish(ctx context.Context, tracks ...Track) error {
	var errs []error
	for _, t := range tracks {
		if _, err := c.call(ctx, signalRequest{Op: "unpublish", Kind: t.Kind(), TrackID: t.ID()}); err != nil {
			errs = append(errs, fmt.Errorf("unpublish %s: %w", t.ID(), err))
		}
	}
	return errors.Join(errs...)
}

func (c *SignalClient) Subscribe(ctx context.Context, uid string, kind models.MediaKind) (RemoteTrack, error) {
	reply, err := c.call(ctx, signalRequest{Op: "subscribe", TargetUID: uid, Kind: kind})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s %s: %w", uid, kind, err)
	}
	id := reply.TrackID
	if id == "" {
		id = fmt.Sprintf("%s-%s", uid, kind)
	}
	return &remoteTrack{id: id, uid: uid, kind: kind}, nil
}

// Leave tells the service we are gone and closes the connection. The leave
// request is best effort; the connection is closed regardless.
func (c *SignalClient) Leave(ctx context.Context) error {
	c.mu.Lock()
	joined := c.joined
	c.joined = false
	c.mu.Unlock()
	if !joined {
		c.closeConn()
		return nil
	}
	_, err := c.call(ctx, signalRequest{Op: "leave"})
	c.closeConn()
	if err != nil {
		return fmt.Errorf("leave channel: %w", err)
	}
	return nil
}

func (c *SignalClient) call(ctx context.Context, req signalRequest) (signalFrame, error) {
	c.mu.Lock()
	done := c.done
	if done == nil {
		c.mu.Unlock()
		return signalFrame{}, ErrNotJoined
	}
	c.seq++
	req.ID = c.seq
	reply := make(chan signalFrame, 1)
	c.pending[req.ID] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	if err := c.write(req); err != nil {
		return signalFrame{}, err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case f := <-reply:
		if f.Error != "" {
			return f, errors.New(f.Error)
		}
		return f, nil
	case <-done:
		return signalFrame{}, ErrNotJoined
	case <-timer.C:
		return signalFrame{}, fmt.Errorf("%s timed out", req.Op)
	case <-ctx.Done():
		return signalFrame{}, ctx.Err()
	}
}

func (c *SignalClient) write(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return ErrNotJoined
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	return c.conn.WriteJSON(v)
}

func (c *SignalClient) closeConn() {
	c.writeMu.Lock()
	conn := c.conn
	c.conn = nil
	c.writeMu.Unlock()
	if conn == nil {
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = conn.Close()
}

func (c *SignalClient) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		var f signalFrame
		if err := conn.ReadJSON(&f); err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) {
				c.log.Debugw("signaling read stopped", "error", err)
			}
			return
		}
		if f.ID != 0 {
			c.mu.Lock()
			ch, ok := c.pending[f.ID]
			c.mu.Unlock()
			if ok {
				ch <- f
			}
			continue
		}
		if f.Event != "" {
			c.dispatch(f)
		}
	}
}

func (c *SignalClient) dispatch(f signalFrame) {
	c.mu.Lock()
	list := make([]eventListener, len(c.handlers[f.Event]))
	copy(list, c.handlers[f.Event])
	c.mu.Unlock()
	user := RemoteUser{UID: f.UID, Name: f.Name}
	for _, l := range list {
		l.fn(user, f.Kind)
	}
}

type remoteTrack struct {
	id   string
	uid  string
	kind models.MediaKind

	mu      sync.Mutex
	surface string
}

func (t *remoteTrack) ID() string             { return t.id }
func (t *remoteTrack) UID() string            { return t.uid }
func (t *remoteTrack) Kind() models.MediaKind { return t.kind }

func (t *remoteTrack) Play(surface string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.surface = surface
	return nil
}

func (t *remoteTrack) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.surface = ""
}
