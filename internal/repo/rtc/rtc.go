// Package rtc adapts the managed video service. Media itself never flows
// through this process: tracks are handles whose lifecycle the live session
// drives, and all protocol details stay behind Client.
package rtc

import (
	"context"
	"errors"

	"github.com/nguyentranbao-ct/consult-live/internal/models"
)

type EventName string

const (
	EventUserPublished   EventName = "user-published"
	EventUserUnpublished EventName = "user-unpublished"
	EventUserLeft        EventName = "user-left"
)

var (
	ErrDeviceUnavailable = errors.New("rtc: device unavailable")
	ErrSurfaceMissing    = errors.New("rtc: surface not mounted")
	ErrTrackClosed       = errors.New("rtc: track closed")
	ErrNotJoined         = errors.New("rtc: not joined")
)

// RemoteUser is the peer an event is about.
type RemoteUser struct {
	UID  string `json:"uid"`
	Name string `json:"name,omitempty"`
}

// EventHandler runs on the signaling read loop. It must not call back into
// the client synchronously.
type EventHandler func(user RemoteUser, kind models.MediaKind)

// Track is a local media handle: camera, microphone or screen capture.
type Track interface {
	ID() string
	Kind() models.MediaKind
	Enabled() bool
	SetEnabled(enabled bool) error
	Play(surface string) error
	Stop()
	Close() error
}

type RemoteTrack interface {
	ID() string
	UID() string
	Kind() models.MediaKind
	Play(surface string) error
	Stop()
}

// Client is one connection to a video channel. A new client is created for
// every session.
type Client interface {
	On(event EventName, h EventHandler) (off func())
	RemoveAllListeners()
	Join(ctx context.Context, creds models.Credentials) error
	Publish(ctx context.Context, tracks ...Track) error
	Unpublish(ctx context.Context, tracks ...Track) error
	Subscribe(ctx context.Context, uid string, kind models.MediaKind) (RemoteTrack, error)
	Leave(ctx context.Context) error
}

type ClientFactory interface {
	NewClient(creds models.Credentials) (Client, error)
}

// Devices acquires local media.
type Devices interface {
	Microphone(ctx context.Context) (Track, error)
	Camera(ctx context.Context) (Track, error)
	Screen(ctx context.Context) (Track, error)
}

// Surfaces are the render targets of video tracks, keyed by name. The UI
// mounts them; a surface for a new participant may appear only after the
// participant does.
type Surfaces interface {
	Mount(key string)
	Unmount(key string)
	Exists(key string) bool
	Attach(key string, track interface{ ID() string }) error
	Clear(key string)
}

const LocalSurface = "local"

func RemoteSurface(uid string) string {
	return "remote-" + uid
}
