package rtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/nguyentranbao-ct/consult-live/internal/config"
	"github.com/nguyentranbao-ct/consult-live/internal/models"
	"github.com/segmentio/ksuid"
)

// VirtualDevices hands out track handles for the media the host machine
// declares available.
type VirtualDevices struct {
	camera     bool
	microphone bool
	screen     bool
}

var _ Devices = (*VirtualDevices)(nil)

func NewVirtualDevices(conf *config.Config) *VirtualDevices {
	return &VirtualDevices{
		camera:     conf.RTC.Camera,
		microphone: conf.RTC.Microphone,
		screen:     conf.RTC.Screen,
	}
}

func (d *VirtualDevices) Microphone(ctx context.Context) (Track, error) {
	return d.open(ctx, d.microphone, models.MediaAudio, "microphone")
}

func (d *VirtualDevices) Camera(ctx context.Context) (Track, error) {
	return d.open(ctx, d.camera, models.MediaVideo, "camera")
}

func (d *VirtualDevices) Screen(ctx context.Context) (Track, error) {
	return d.open(ctx, d.screen, models.MediaVideo, "screen")
}

func (d *VirtualDevices) open(ctx context.Context, available bool, kind models.MediaKind, name string) (Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !available {
		return nil, fmt.Errorf("%w: %s", ErrDeviceUnavailable, name)
	}
	return NewLocalTrack(kind, name), nil
}

type LocalTrack struct {
	id     string
	kind   models.MediaKind
	source string

	mu      sync.Mutex
	enabled bool
	playing string
	stopped bool
	closed  bool
}

var _ Track = (*LocalTrack)(nil)

func NewLocalTrack(kind models.MediaKind, source string) *LocalTrack {
	return &LocalTrack{
		id:      source + "-" + ksuid.New().String(),
		kind:    kind,
		source:  source,
		enabled: true,
	}
}

func (t *LocalTrack) ID() string             { return t.id }
func (t *LocalTrack) Kind() models.MediaKind { return t.kind }
func (t *LocalTrack) Source() string         { return t.source }

func (t *LocalTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled && !t.closed
}

func (t *LocalTrack) SetEnabled(enabled bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTrackClosed
	}
	t.enabled = enabled
	return nil
}

func (t *LocalTrack) Play(surface string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTrackClosed
	}
	t.playing = surface
	t.stopped = false
	return nil
}

func (t *LocalTrack) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.playing = ""
	t.stopped = true
}

// Close releases the device. Closing twice is an error.
func (t *LocalTrack) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTrackClosed
	}
	t.closed = true
	t.playing = ""
	return nil
}

func (t *LocalTrack) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
