package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/nguyentranbao-ct/consult-live/internal/config"
	"github.com/nguyentranbao-ct/consult-live/internal/models"
	"github.com/nguyentranbao-ct/consult-live/internal/repo/rtc"
	"github.com/nguyentranbao-ct/consult-live/internal/repo/socket"
	"github.com/stretchr/testify/require"
)

type emitted struct {
	Event   string
	Payload any
}

type fakeTransport struct {
	mu       sync.Mutex
	next     int
	handlers map[string]map[int]socket.Handler
	hooks    map[int]func()
	emits    []emitted
	emitErr  error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		handlers: make(map[string]map[int]socket.Handler),
		hooks:    make(map[int]func()),
	}
}

func (f *fakeTransport) Emit(_ context.Context, event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emitErr != nil {
		return f.emitErr
	}
	f.emits = append(f.emits, emitted{Event: event, Payload: payload})
	return nil
}

func (f *fakeTransport) On(event string, h socket.Handler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	if f.handlers[event] == nil {
		f.handlers[event] = make(map[int]socket.Handler)
	}
	f.handlers[event][id] = h
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers[event], id)
	}
}

func (f *fakeTransport) OnReconnect(fn func()) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	f.hooks[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.hooks, id)
	}
}

func (f *fakeTransport) Connected() bool { return true }

func (f *fakeTransport) setEmitErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emitErr = err
}

func (f *fakeTransport) deliver(t *testing.T, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	f.mu.Lock()
	hs := make([]socket.Handler, 0, len(f.handlers[event]))
	for _, h := range f.handlers[event] {
		hs = append(hs, h)
	}
	f.mu.Unlock()
	for _, h := range hs {
		h(data)
	}
}

func (f *fakeTransport) reconnect() {
	f.mu.Lock()
	hooks := make([]func(), 0, len(f.hooks))
	for _, fn := range f.hooks {
		hooks = append(hooks, fn)
	}
	f.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

func (f *fakeTransport) handlerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.hooks)
	for _, hs := range f.handlers {
		n += len(hs)
	}
	return n
}

func (f *fakeTransport) emitted(event string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []any
	for _, e := range f.emits {
		if e.Event == event {
			out = append(out, e.Payload)
		}
	}
	return out
}

type fakeBackend struct {
	mu          sync.Mutex
	direct      map[string][]models.ChatPayload
	forum       map[string][]models.ChatPayload
	historyErr  error
	block       map[string]chan struct{}
	fetches     []string
	contacts    []models.Contact
	courses     []models.Course
	contactRole models.Role
	creds       *models.Credentials
	joinErr     error
	reports     []models.AttendanceReport
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		direct: make(map[string][]models.ChatPayload),
		forum:  make(map[string][]models.ChatPayload),
		block:  make(map[string]chan struct{}),
	}
}

func (f *fakeBackend) history(ctx context.Context, src map[string][]models.ChatPayload, key string) ([]models.ChatPayload, error) {
	f.mu.Lock()
	f.fetches = append(f.fetches, key)
	wait := f.block[key]
	f.mu.Unlock()
	if wait != nil {
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return append([]models.ChatPayload(nil), src[key]...), nil
}

func (f *fakeBackend) DirectHistory(ctx context.Context, selfID, peerID string) ([]models.ChatPayload, error) {
	return f.history(ctx, f.direct, peerID)
}

func (f *fakeBackend) ForumHistory(ctx context.Context, courseID string) ([]models.ChatPayload, error) {
	return f.history(ctx, f.forum, courseID)
}

func (f *fakeBackend) Contacts(_ context.Context, role models.Role) ([]models.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contactRole = role
	return f.contacts, nil
}

func (f *fakeBackend) Courses(context.Context) ([]models.Course, error) {
	return f.courses, nil
}

func (f *fakeBackend) JoinSession(_ context.Context, sessionID string) (*models.Credentials, error) {
	if f.joinErr != nil {
		return nil, f.joinErr
	}
	c := *f.creds
	return &c, nil
}

func (f *fakeBackend) ReportAttendance(_ context.Context, report models.AttendanceReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, report)
	return nil
}

func (f *fakeBackend) AttendanceURL(sessionID string) (string, error) {
	return "http://backend/api/live-sessions/" + sessionID + "/attendance", nil
}

func (f *fakeBackend) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetches)
}

func (f *fakeBackend) attendance() []models.AttendanceReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.AttendanceReport(nil), f.reports...)
}

type fakeNotifier struct {
	mu    sync.Mutex
	notes []models.Notification
}

func (f *fakeNotifier) Notify(n models.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, n)
}

func (f *fakeNotifier) codes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.notes))
	for _, n := range f.notes {
		out = append(out, n.Code)
	}
	return out
}

type fakeSession struct {
	identity models.Identity
	mu       sync.Mutex
	hooks    []func()
}

func (s *fakeSession) Token() string                            { return "token" }
func (s *fakeSession) Identity() models.Identity                { return s.identity }
func (s *fakeSession) SetToken(string) (models.Identity, error) { return s.identity, nil }
func (s *fakeSession) Logout() {
	s.mu.Lock()
	hooks := s.hooks
	s.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

func (s *fakeSession) OnLogout(fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
	return func() {}
}

type fakeRemoteTrack struct {
	id   string
	uid  string
	kind models.MediaKind

	mu      sync.Mutex
	playing string
	stopped bool
}

func (t *fakeRemoteTrack) ID() string             { return t.id }
func (t *fakeRemoteTrack) UID() string            { return t.uid }
func (t *fakeRemoteTrack) Kind() models.MediaKind { return t.kind }

func (t *fakeRemoteTrack) Play(surface string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.playing = surface
	return nil
}

func (t *fakeRemoteTrack) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

type fakeRTCClient struct {
	mu              sync.Mutex
	handlers        map[rtc.EventName][]rtc.EventHandler
	handlersAtJoin  int
	calls           []string
	published       []string
	unpublishErr    error
	leaveCount      int
	removeListeners int

	// when set, Join reports on joinStarted and blocks until joinGate closes
	joinGate    chan struct{}
	joinStarted chan struct{}
}

func newFakeRTCClient() *fakeRTCClient {
	return &fakeRTCClient{handlers: make(map[rtc.EventName][]rtc.EventHandler)}
}

func (c *fakeRTCClient) On(event rtc.EventName, h rtc.EventHandler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], h)
	return func() {}
}

func (c *fakeRTCClient) RemoveAllListeners() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = make(map[rtc.EventName][]rtc.EventHandler)
	c.removeListeners++
}

func (c *fakeRTCClient) Join(context.Context, models.Credentials) error {
	c.mu.Lock()
	for _, hs := range c.handlers {
		c.handlersAtJoin += len(hs)
	}
	c.calls = append(c.calls, "join")
	gate, started := c.joinGate, c.joinStarted
	c.joinGate, c.joinStarted = nil, nil
	c.mu.Unlock()
	if gate != nil {
		close(started)
		<-gate
	}
	return nil
}

// blockJoin makes the next Join wait for the returned release func.
func (c *fakeRTCClient) blockJoin() (started <-chan struct{}, release func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joinGate = make(chan struct{})
	c.joinStarted = make(chan struct{})
	gate := c.joinGate
	return c.joinStarted, func() { close(gate) }
}

func (c *fakeRTCClient) Publish(_ context.Context, tracks ...rtc.Track) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range tracks {
		c.calls = append(c.calls, "publish:"+t.ID())
		c.published = append(c.published, t.ID())
	}
	return nil
}

func (c *fakeRTCClient) Unpublish(_ context.Context, tracks ...rtc.Track) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unpublishErr != nil {
		return c.unpublishErr
	}
	for _, t := range tracks {
		c.calls = append(c.calls, "unpublish:"+t.ID())
		for i, id := range c.published {
			if id == t.ID() {
				c.published = append(c.published[:i], c.published[i+1:]...)
				break
			}
		}
	}
	return nil
}

func (c *fakeRTCClient) Subscribe(_ context.Context, uid string, kind models.MediaKind) (rtc.RemoteTrack, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "subscribe:"+uid+":"+string(kind))
	return &fakeRemoteTrack{id: uid + "-" + string(kind), uid: uid, kind: kind}, nil
}

func (c *fakeRTCClient) Leave(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leaveCount++
	c.calls = append(c.calls, "leave")
	return nil
}

func (c *fakeRTCClient) fire(event rtc.EventName, uid, name string, kind models.MediaKind) {
	c.mu.Lock()
	hs := append([]rtc.EventHandler(nil), c.handlers[event]...)
	c.mu.Unlock()
	for _, h := range hs {
		h(rtc.RemoteUser{UID: uid, Name: name}, kind)
	}
}

func (c *fakeRTCClient) publishedIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.published...)
}

func (c *fakeRTCClient) leaves() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.leaveCount
}

type fakeFactory struct {
	client *fakeRTCClient
}

func (f *fakeFactory) NewClient(models.Credentials) (rtc.Client, error) {
	return f.client, nil
}

type fakeBeacon struct {
	mu      sync.Mutex
	reports []models.AttendanceReport
}

func (b *fakeBeacon) Send(r models.AttendanceReport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reports = append(b.reports, r)
}

func (b *fakeBeacon) sent() []models.AttendanceReport {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.AttendanceReport(nil), b.reports...)
}

func testConfig() *config.Config {
	return &config.Config{
		Chat: config.ChatConfig{HistoryTTL: time.Minute},
		RTC:  config.RTCConfig{Camera: true, Microphone: true, Screen: true},
		Session: config.SessionConfig{
			VideoAttachRetries:  20,
			VideoAttachInterval: 10 * time.Millisecond,
			StepTimeout:         time.Second,
			LeftNotice:          `{{default "A participant" .Name}} left the session`,
		},
	}
}

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
