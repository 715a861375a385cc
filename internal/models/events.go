package models

import "time"

// Realtime transport event names.
const (
	EventJoinRoom       = "join_room"
	EventLeaveRoom      = "leave_room"
	EventSendMessage    = "send_message"
	EventReceiveMessage = "receive_message"
	EventMessageSaved   = "message_saved"
	EventMessageError   = "message_error"

	EventJoinForum           = "join_forum"
	EventLeaveForum          = "leave_forum"
	EventSendForumMessage    = "send_forum_message"
	EventReceiveForumMessage = "receive_forum_message"
	EventForumMessageSaved   = "forum_message_saved"
	EventForumMessageError   = "forum_message_error"

	EventSessionModerate = "session_moderate"
)

// ChatPayload is the body of every chat event on the transport. The backend
// history endpoints return lists of the same shape.
type ChatPayload struct {
	ID         string    `json:"id,omitempty"`
	TempID     string    `json:"temp_id,omitempty"`
	RoomID     string    `json:"room_id,omitempty"`
	SenderID   string    `json:"sender_id,omitempty"`
	SenderName string    `json:"sender_name,omitempty"`
	ReceiverID string    `json:"receiver_id,omitempty"`
	CourseID   string    `json:"course_id,omitempty"`
	Text       string    `json:"text,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	Error      string    `json:"error,omitempty"`
}

// RoomJoin is sent on join and leave events.
type RoomJoin struct {
	UserID   string `json:"user_id"`
	PeerID   string `json:"peer_id,omitempty"`
	CourseID string `json:"course_id,omitempty"`
	RoomID   string `json:"room_id"`
}

type ModerateAction string

const (
	ModerateMute   ModerateAction = "mute"
	ModerateRemove ModerateAction = "remove"
)

type ModeratePayload struct {
	SessionID   string         `json:"session_id"`
	ChannelName string         `json:"channel_name"`
	TargetUID   string         `json:"target_uid"`
	Action      ModerateAction `json:"action"`
	ByUID       string         `json:"by_uid"`
}
