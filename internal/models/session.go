package models

import "time"

// Credentials are issued by the backend for joining one live session.
type Credentials struct {
	AppID       string `json:"appId"`
	ChannelName string `json:"channelName" validate:"required"`
	Token       string `json:"token"`
	UID         string `json:"uid" validate:"required"`
	HostUID     string `json:"hostUid,omitempty"`
	HostName    string `json:"hostName,omitempty"`
}

// IsHost reports whether the local user is the host of the session.
func (c Credentials) IsHost() bool {
	return c.HostUID != "" && c.HostUID == c.UID
}

type MediaKind string

const (
	MediaVideo MediaKind = "video"
	MediaAudio MediaKind = "audio"
)

type Participant struct {
	UID      string `json:"uid"`
	Name     string `json:"name,omitempty"`
	IsHost   bool   `json:"is_host"`
	HasVideo bool   `json:"has_video"`
	HasAudio bool   `json:"has_audio"`
}

type LocalMedia struct {
	VideoEnabled  bool `json:"video_enabled"`
	AudioEnabled  bool `json:"audio_enabled"`
	HasCamera     bool `json:"has_camera"`
	HasMicrophone bool `json:"has_microphone"`
	ScreenSharing bool `json:"screen_sharing"`
}

type SessionSnapshot struct {
	SessionID      string        `json:"session_id"`
	ChannelName    string        `json:"channel_name"`
	UID            string        `json:"uid"`
	IsHost         bool          `json:"is_host"`
	HostUID        string        `json:"host_uid,omitempty"`
	HostName       string        `json:"host_name,omitempty"`
	JoinedAt       time.Time     `json:"joined_at"`
	Local          LocalMedia    `json:"local"`
	Participants   []Participant `json:"participants"`
	WaitingForHost bool          `json:"waiting_for_host"`
}

type LeaveReason string

const (
	LeaveReasonUser   LeaveReason = "leave"
	LeaveReasonRoute  LeaveReason = "route_change"
	LeaveReasonUnload LeaveReason = "unload"
)

type AttendanceReport struct {
	SessionID          string      `json:"-"`
	DurationMinutes    float64     `json:"durationMinutes"`
	ParticipationScore int         `json:"participationScore"`
	Reason             LeaveReason `json:"reason"`
}

type SessionLogKind string

const (
	SessionLogJoined SessionLogKind = "joined"
	SessionLogLeft   SessionLogKind = "left"
	SessionLogSystem SessionLogKind = "system"
)

type SessionLogEntry struct {
	ID        ObjectID       `bson:"_id,omitempty" json:"id"`
	SessionID string         `bson:"session_id,omitempty" json:"session_id"`
	Kind      SessionLogKind `bson:"kind,omitempty" json:"kind"`
	UID       string         `bson:"uid,omitempty" json:"uid,omitempty"`
	Text      string         `bson:"text,omitempty" json:"text"`

	CreatedAt time.Time `bson:"created_at,omitempty" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at,omitempty" json:"-"`
}

func (SessionLogEntry) CollectionName() string {
	return "session_logs"
}
