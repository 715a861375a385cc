package models

import "time"

// Delivery is the delivery state of a chat message. It is one of Pending,
// Confirmed or Failed.
type Delivery interface {
	isDelivery()
}

// Pending is a locally sent message the server has not acknowledged yet.
type Pending struct {
	TempID string
}

// Confirmed is a message known to the server.
type Confirmed struct {
	ServerID string
}

// Failed is a locally sent message that could not be delivered. It can be
// retried with the same temp id.
type Failed struct {
	TempID string
	Reason string
}

func (Pending) isDelivery()   {}
func (Confirmed) isDelivery() {}
func (Failed) isDelivery()    {}

type Sender struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Self bool   `json:"self"`
}

type Message struct {
	Sender   Sender
	Text     string
	SentAt   time.Time
	Delivery Delivery
}

// ID is the reconciliation key of the message: the temp id while it is not
// confirmed, the server id afterwards.
func (m Message) ID() string {
	switch d := m.Delivery.(type) {
	case Pending:
		return d.TempID
	case Failed:
		return d.TempID
	case Confirmed:
		return d.ServerID
	}
	return ""
}

func (m Message) IsPending() bool {
	_, ok := m.Delivery.(Pending)
	return ok
}

func (m Message) IsFailed() bool {
	_, ok := m.Delivery.(Failed)
	return ok
}

// Confirm returns a copy of the message confirmed under serverID. An empty
// serverID promotes the temp id.
func (m Message) Confirm(serverID string) Message {
	if serverID == "" {
		serverID = m.ID()
	}
	m.Delivery = Confirmed{ServerID: serverID}
	return m
}

type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryConfirmed DeliveryStatus = "confirmed"
	DeliveryFailed    DeliveryStatus = "failed"
)

// MessageView is the rendered form of a message handed to the UI.
type MessageView struct {
	ID        string         `json:"id"`
	SenderID  string         `json:"sender_id"`
	Sender    string         `json:"sender"`
	Text      string         `json:"text"`
	SentAt    time.Time      `json:"sent_at"`
	Status    DeliveryStatus `json:"status"`
	IsPending bool           `json:"is_pending"`
	Error     string         `json:"error,omitempty"`
	Retryable bool           `json:"retryable,omitempty"`
}

// SenderLabel renders the sender of a message for a room kind.
type SenderLabel func(Sender) string

// DirectLabel renders "me" or "them".
func DirectLabel(s Sender) string {
	if s.Self {
		return "me"
	}
	return "them"
}

// ForumLabel renders "me" or the sender's display name.
func ForumLabel(s Sender) string {
	if s.Self {
		return "me"
	}
	if s.Name == "" {
		return s.ID
	}
	return s.Name
}

func (m Message) View(label SenderLabel) MessageView {
	v := MessageView{
		ID:       m.ID(),
		SenderID: m.Sender.ID,
		Sender:   label(m.Sender),
		Text:     m.Text,
		SentAt:   m.SentAt,
	}
	switch d := m.Delivery.(type) {
	case Pending:
		v.Status = DeliveryPending
		v.IsPending = true
	case Failed:
		v.Status = DeliveryFailed
		v.Error = d.Reason
		v.Retryable = true
	default:
		v.Status = DeliveryConfirmed
	}
	return v
}
