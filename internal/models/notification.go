package models

type NotificationLevel string

const (
	LevelInfo    NotificationLevel = "info"
	LevelWarning NotificationLevel = "warning"
	LevelError   NotificationLevel = "error"
)

// Notification is a one-shot message for the user, the gateway's toast.
type Notification struct {
	Level   NotificationLevel `json:"level"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
}

const (
	CodeSendFailed       = "send_failed"
	CodeHistoryFailed    = "history_failed"
	CodeTransportError   = "transport_error"
	CodeMediaUnavailable = "media_unavailable"
	CodeParticipantLeft  = "participant_left"
	CodeRemoved          = "removed"
	CodeLoggedOut        = "logged_out"
)
