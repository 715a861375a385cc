package usecase

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/nguyentranbao-ct/consult-live/internal/models"
	"github.com/nguyentranbao-ct/consult-live/internal/repo/backend"
	"github.com/nguyentranbao-ct/consult-live/internal/repo/socket"
	"github.com/nguyentranbao-ct/consult-live/pkg/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"
)

type ConversationState string

const (
	StateIdle    ConversationState = "idle"
	StateJoining ConversationState = "joining"
	StateActive  ConversationState = "active"
)

// Room is the identity a conversation is opened for.
type Room struct {
	Self   models.Identity
	Target string
	Key    models.RoomKey
}

// RoomProfile holds the socket events and payload rules of one kind of room.
type RoomProfile struct {
	Kind models.RoomKind

	JoinEvent    string
	LeaveEvent   string
	SendEvent    string
	ReceiveEvent string
	SavedEvent   string
	ErrorEvent   string

	Key         func(self models.Identity, target string) models.RoomKey
	JoinPayload func(r Room) any
	SendPayload func(r Room, tempID, text string, at time.Time) any
	// Addressed reports whether an incoming payload belongs to r.
	Addressed func(r Room, p models.ChatPayload) bool
	History   func(ctx context.Context, r Room) ([]models.ChatPayload, error)
	Label     models.SenderLabel
}

func DirectRoomProfile(be backend.Client) RoomProfile {
	return RoomProfile{
		Kind:         models.RoomDirect,
		JoinEvent:    models.EventJoinRoom,
		LeaveEvent:   models.EventLeaveRoom,
		SendEvent:    models.EventSendMessage,
		ReceiveEvent: models.EventReceiveMessage,
		SavedEvent:   models.EventMessageSaved,
		ErrorEvent:   models.EventMessageError,
		Key: func(self models.Identity, target string) models.RoomKey {
			return models.DirectRoom(self.ID, target)
		},
		JoinPayload: func(r Room) any {
			return models.RoomJoin{UserID: r.Self.ID, PeerID: r.Target, RoomID: r.Key.ID}
		},
		SendPayload: func(r Room, tempID, text string, at time.Time) any {
			return models.ChatPayload{
				TempID:     tempID,
				RoomID:     r.Key.ID,
				SenderID:   r.Self.ID,
				SenderName: r.Self.Name,
				ReceiverID: r.Target,
				Text:       text,
				CreatedAt:  at,
			}
		},
		Addressed: func(r Room, p models.ChatPayload) bool {
			if p.RoomID != "" {
				return p.RoomID == r.Key.ID
			}
			return p.SenderID == r.Target && (p.ReceiverID == "" || p.ReceiverID == r.Self.ID)
		},
		History: func(ctx context.Context, r Room) ([]models.ChatPayload, error) {
			return be.DirectHistory(ctx, r.Self.ID, r.Target)
		},
		Label: models.DirectLabel,
	}
}

func ForumRoomProfile(be backend.Client) RoomProfile {
	return RoomProfile{
		Kind:         models.RoomForum,
		JoinEvent:    models.EventJoinForum,
		LeaveEvent:   models.EventLeaveForum,
		SendEvent:    models.EventSendForumMessage,
		ReceiveEvent: models.EventReceiveForumMessage,
		SavedEvent:   models.EventForumMessageSaved,
		ErrorEvent:   models.EventForumMessageError,
		Key: func(_ models.Identity, target string) models.RoomKey {
			return models.ForumRoom(target)
		},
		JoinPayload: func(r Room) any {
			return models.RoomJoin{UserID: r.Self.ID, CourseID: r.Target, RoomID: r.Key.ID}
		},
		SendPayload: func(r Room, tempID, text string, at time.Time) any {
			return models.ChatPayload{
				TempID:     tempID,
				RoomID:     r.Key.ID,
				SenderID:   r.Self.ID,
				SenderName: r.Self.Name,
				CourseID:   r.Target,
				Text:       text,
				CreatedAt:  at,
			}
		},
		Addressed: func(r Room, p models.ChatPayload) bool {
			if p.CourseID != "" {
				return p.CourseID == r.Target
			}
			return p.RoomID == r.Key.ID
		},
		History: func(ctx context.Context, r Room) ([]models.ChatPayload, error) {
			return be.ForumHistory(ctx, r.Target)
		},
		Label: models.ForumLabel,
	}
}

// ConversationSnapshot is the rendered state of a conversation. Version
// increases with every change so observers can drop stale snapshots.
type ConversationSnapshot struct {
	Kind     models.RoomKind      `json:"kind"`
	Target   string               `json:"target,omitempty"`
	State    ConversationState    `json:"state"`
	Version  uint64               `json:"version"`
	Messages []models.MessageView `json:"messages"`
}

type conversationMetrics struct {
	messages   *prometheus.CounterVec
	ackLatency *prometheus.HistogramVec
}

func newConversationMetrics() conversationMetrics {
	return conversationMetrics{
		messages:   util.MustCounterVec("chat_messages_total", "Chat messages by room kind, direction and result", "room_kind", "direction", "result"),
		ackLatency: util.MustHistogramVec("chat_ack_latency_seconds", "Time from optimistic insert to server acknowledgement", "room_kind"),
	}
}

// Conversation is the state of one room-scoped chat: the local message list,
// optimistic sends and their reconciliation with server acknowledgements.
// At most one room is open at a time; opening another replaces the list.
type Conversation struct {
	profile   RoomProfile
	transport socket.Transport
	notifier  Notifier
	ttl       time.Duration
	log       *zap.SugaredLogger
	metrics   conversationMetrics
	now       func() time.Time
	newTempID func() string

	mu        sync.Mutex
	state     ConversationState
	room      Room
	gen       uint64
	version   uint64
	messages  []models.Message
	sentAt    map[string]time.Time
	fetchedAt time.Time
	offs      []func()
	observers observers[ConversationSnapshot]
}

func NewConversation(profile RoomProfile, transport socket.Transport, notifier Notifier, ttl time.Duration, log *zap.SugaredLogger) *Conversation {
	return &Conversation{
		profile:   profile,
		transport: transport,
		notifier:  notifier,
		ttl:       ttl,
		log:       log.Named(string(profile.Kind)),
		metrics:   newConversationMetrics(),
		now:       time.Now,
		newTempID: func() string { return "tmp-" + ksuid.New().String() },
		state:     StateIdle,
		sentAt:    make(map[string]time.Time),
	}
}

// Open makes target the active room. It is a no-op when either id is blank,
// or when the same room is already active and its history is fresh.
func (c *Conversation) Open(ctx context.Context, self models.Identity, target string) {
	target = strings.TrimSpace(target)
	if self.IsZero() || target == "" {
		c.log.Debugw("open refused, missing identity", "self", self.ID, "target", target)
		return
	}

	c.mu.Lock()
	if c.state != StateIdle && c.room.Self.ID == self.ID && c.room.Target == target &&
		!c.fetchedAt.IsZero() && c.now().Sub(c.fetchedAt) < c.ttl {
		c.mu.Unlock()
		return
	}
	prev, wasOpen := c.room, c.state != StateIdle
	c.detachLocked()

	c.gen++
	gen := c.gen
	room := Room{Self: self, Target: target, Key: c.profile.Key(self, target)}
	c.room = room
	c.state = StateJoining
	// on a stale reopen of the same room, confirmed entries are replaced by
	// the history; only sends still in flight or failed carry over
	stale := make(map[int]struct{})
	if !wasOpen || prev.Key != room.Key || prev.Self.ID != self.ID {
		c.messages = nil
		c.sentAt = make(map[string]time.Time)
	} else {
		for i, m := range c.messages {
			if !m.IsPending() && !m.IsFailed() {
				stale[i] = struct{}{}
			}
		}
	}
	c.fetchedAt = time.Time{}
	c.offs = []func(){
		c.transport.On(c.profile.ReceiveEvent, c.guard(gen, c.onIncoming)),
		c.transport.On(c.profile.SavedEvent, c.guard(gen, c.onSaved)),
		c.transport.On(c.profile.ErrorEvent, c.guard(gen, c.onError)),
		c.transport.OnReconnect(func() { c.rejoin(gen) }),
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.publish(snap)

	if wasOpen && prev.Key != room.Key {
		c.emit(ctx, c.profile.LeaveEvent, c.profile.JoinPayload(prev))
	}
	c.emit(ctx, c.profile.JoinEvent, c.profile.JoinPayload(room))

	history, err := c.profile.History(ctx, room)

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		c.log.Debugw("discarding late history", "room", room.Key.String())
		return
	}
	c.state = StateActive
	if err != nil {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.log.Warnw("fetch history", "room", room.Key.String(), "error", err)
		c.notifier.Notify(models.Notification{
			Level:   models.LevelError,
			Code:    models.CodeHistoryFailed,
			Message: "Could not load the conversation history",
		})
		c.publish(snap)
		return
	}
	merged := make([]models.Message, 0, len(history)+len(c.messages))
	seen := make(map[string]struct{}, len(history))
	for _, p := range history {
		m := c.fromPayload(room, p)
		seen[m.ID()] = struct{}{}
		merged = append(merged, m)
	}
	// live events and sends that raced the fetch stay after the history
	for i, m := range c.messages {
		if _, ok := stale[i]; ok {
			continue
		}
		if _, ok := seen[m.ID()]; !ok {
			merged = append(merged, m)
		}
	}
	c.messages = merged
	c.fetchedAt = c.now()
	snap = c.snapshotLocked()
	c.mu.Unlock()
	c.publish(snap)
}

// Send appends an optimistic entry and emits it. It returns the temp id, or
// an empty string when the send was refused.
func (c *Conversation) Send(ctx context.Context, text string) string {
	text = strings.TrimSpace(text)
	c.mu.Lock()
	if text == "" || c.state == StateIdle || c.room.Self.IsZero() {
		c.mu.Unlock()
		c.log.Debugw("send refused", "state", c.state, "blank", text == "")
		return ""
	}
	room := c.room
	tempID := c.newTempID()
	at := c.now()
	c.messages = append(c.messages, models.Message{
		Sender:   models.Sender{ID: room.Self.ID, Name: room.Self.Name, Self: true},
		Text:     text,
		SentAt:   at,
		Delivery: models.Pending{TempID: tempID},
	})
	c.sentAt[tempID] = at
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.publish(snap)

	c.deliver(ctx, room, tempID, text, at)
	return tempID
}

// Retry re-emits a failed message in place.
func (c *Conversation) Retry(ctx context.Context, tempID string) error {
	c.mu.Lock()
	i := c.indexLocked(tempID)
	if i < 0 {
		c.mu.Unlock()
		return models.ErrMessageNotFound
	}
	m := c.messages[i]
	if !m.IsFailed() {
		c.mu.Unlock()
		return models.ErrNotRetryable
	}
	room := c.room
	m.Delivery = models.Pending{TempID: tempID}
	c.messages[i] = m
	c.sentAt[tempID] = c.now()
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.publish(snap)

	c.deliver(ctx, room, tempID, m.Text, m.SentAt)
	return nil
}

func (c *Conversation) deliver(ctx context.Context, room Room, tempID, text string, at time.Time) {
	err := c.transport.Emit(ctx, c.profile.SendEvent, c.profile.SendPayload(room, tempID, text, at))
	if err == nil {
		c.metrics.messages.WithLabelValues(string(c.profile.Kind), "out", "sent").Inc()
		return
	}
	c.metrics.messages.WithLabelValues(string(c.profile.Kind), "out", "failed").Inc()
	c.log.Warnw("send message", "room", room.Key.String(), "temp_id", tempID, "error", err)
	c.fail(tempID, err.Error())
	c.notifier.Notify(models.Notification{
		Level:   models.LevelError,
		Code:    models.CodeSendFailed,
		Message: "Message could not be sent",
	})
}

func (c *Conversation) fail(tempID, reason string) bool {
	c.mu.Lock()
	i := c.indexLocked(tempID)
	if i < 0 || !c.messages[i].IsPending() {
		c.mu.Unlock()
		return false
	}
	c.messages[i].Delivery = models.Failed{TempID: tempID, Reason: reason}
	delete(c.sentAt, tempID)
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.publish(snap)
	return true
}

// Close leaves the room and discards the list.
func (c *Conversation) Close(ctx context.Context) {
	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		return
	}
	room := c.room
	c.detachLocked()
	c.gen++
	c.state = StateIdle
	c.room = Room{}
	c.messages = nil
	c.sentAt = make(map[string]time.Time)
	c.fetchedAt = time.Time{}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.publish(snap)

	c.emit(ctx, c.profile.LeaveEvent, c.profile.JoinPayload(room))
}

func (c *Conversation) State() ConversationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conversation) Target() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room.Target
}

func (c *Conversation) Messages() []models.MessageView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewsLocked()
}

func (c *Conversation) Snapshot() ConversationSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buildLocked()
}

// OnChange registers an observer for snapshots. Observers run outside the
// conversation lock and must not block.
func (c *Conversation) OnChange(fn func(ConversationSnapshot)) (off func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.observers.add(fn)
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.observers.remove(id)
	}
}

func (c *Conversation) guard(gen uint64, fn func(models.ChatPayload)) socket.Handler {
	return func(data json.RawMessage) {
		var p models.ChatPayload
		if err := json.Unmarshal(data, &p); err != nil {
			c.log.Warnw("decode chat event", "error", err)
			return
		}
		c.mu.Lock()
		current := c.gen == gen
		c.mu.Unlock()
		if current {
			fn(p)
		}
	}
}

func (c *Conversation) onIncoming(p models.ChatPayload) {
	c.mu.Lock()
	room := c.room
	if p.SenderID == room.Self.ID {
		c.mu.Unlock()
		return
	}
	if !c.profile.Addressed(room, p) {
		c.mu.Unlock()
		c.metrics.messages.WithLabelValues(string(c.profile.Kind), "in", "other_room").Inc()
		return
	}
	m := c.fromPayload(room, p)
	if c.indexLocked(m.ID()) >= 0 {
		c.mu.Unlock()
		c.metrics.messages.WithLabelValues(string(c.profile.Kind), "in", "duplicate").Inc()
		return
	}
	c.messages = append(c.messages, m)
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.metrics.messages.WithLabelValues(string(c.profile.Kind), "in", "appended").Inc()
	c.publish(snap)
}

func (c *Conversation) onSaved(p models.ChatPayload) {
	if p.TempID == "" {
		return
	}
	c.mu.Lock()
	i := c.indexLocked(p.TempID)
	if i < 0 {
		c.mu.Unlock()
		return
	}
	m := c.messages[i]
	if !m.IsPending() && !m.IsFailed() {
		c.mu.Unlock()
		return
	}
	c.messages[i] = m.Confirm(p.ID)
	sentAt, ok := c.sentAt[p.TempID]
	delete(c.sentAt, p.TempID)
	snap := c.snapshotLocked()
	c.mu.Unlock()
	if ok {
		c.metrics.ackLatency.WithLabelValues(string(c.profile.Kind)).Observe(c.now().Sub(sentAt).Seconds())
	}
	c.publish(snap)
}

func (c *Conversation) onError(p models.ChatPayload) {
	reason := p.Error
	if reason == "" {
		reason = "message could not be delivered"
	}
	if p.TempID != "" {
		c.fail(p.TempID, reason)
	}
	c.log.Warnw("transport reported send error", "temp_id", p.TempID, "error", reason)
	c.notifier.Notify(models.Notification{
		Level:   models.LevelError,
		Code:    models.CodeTransportError,
		Message: reason,
	})
}

// rejoin re-issues the join after a reconnect and marks the history stale,
// since events may have been missed while down.
func (c *Conversation) rejoin(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.state == StateIdle {
		c.mu.Unlock()
		return
	}
	room := c.room
	c.fetchedAt = time.Time{}
	c.mu.Unlock()
	c.emit(context.Background(), c.profile.JoinEvent, c.profile.JoinPayload(room))
}

func (c *Conversation) emit(ctx context.Context, event string, payload any) {
	if err := c.transport.Emit(ctx, event, payload); err != nil {
		c.log.Warnw("emit", "event", event, "error", err)
	}
}

func (c *Conversation) fromPayload(room Room, p models.ChatPayload) models.Message {
	id := p.ID
	if id == "" {
		id = ksuid.New().String()
	}
	at := p.CreatedAt
	if at.IsZero() {
		at = c.now()
	}
	return models.Message{
		Sender:   models.Sender{ID: p.SenderID, Name: p.SenderName, Self: p.SenderID == room.Self.ID},
		Text:     p.Text,
		SentAt:   at,
		Delivery: models.Confirmed{ServerID: id},
	}
}

func (c *Conversation) detachLocked() {
	for _, off := range c.offs {
		off()
	}
	c.offs = nil
}

func (c *Conversation) indexLocked(id string) int {
	for i, m := range c.messages {
		if m.ID() == id {
			return i
		}
	}
	return -1
}

func (c *Conversation) viewsLocked() []models.MessageView {
	return util.ConvertList(c.messages, func(m models.Message) models.MessageView {
		return m.View(c.profile.Label)
	})
}

// snapshotLocked records a change and returns the new snapshot.
func (c *Conversation) snapshotLocked() ConversationSnapshot {
	c.version++
	return c.buildLocked()
}

func (c *Conversation) buildLocked() ConversationSnapshot {
	return ConversationSnapshot{
		Kind:     c.profile.Kind,
		Target:   c.room.Target,
		State:    c.state,
		Version:  c.version,
		Messages: c.viewsLocked(),
	}
}

func (c *Conversation) publish(snap ConversationSnapshot) {
	c.mu.Lock()
	fns := c.observers.list()
	c.mu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}
