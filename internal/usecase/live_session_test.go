package usecase

import (
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nguyentranbao-ct/consult-live/internal/config"
	"github.com/nguyentranbao-ct/consult-live/internal/models"
	"github.com/nguyentranbao-ct/consult-live/internal/repo/mongodb"
	"github.com/nguyentranbao-ct/consult-live/internal/repo/rtc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	participantCreds = models.Credentials{ChannelName: "ch-1", UID: "a", HostUID: "h", HostName: "Host"}
	hostCreds        = models.Credentials{ChannelName: "ch-1", UID: "h", HostUID: "h", HostName: "Host"}
)

type sessionFixture struct {
	session   *fakeSession
	backend   *fakeBackend
	client    *fakeRTCClient
	surfaces  *rtc.SurfaceRegistry
	transport *fakeTransport
	beacon    *fakeBeacon
	logs      mongodb.SessionLogRepository
	notifier  *fakeNotifier
	clock     *clock
	uc        SessionUsecase

	// manualMount leaves remote surfaces to the test
	manualMount bool

	mu    sync.Mutex
	snaps []*models.SessionSnapshot
}

func newSessionFixture(t *testing.T, creds models.Credentials, conf *config.Config) *sessionFixture {
	t.Helper()
	f := &sessionFixture{
		session:   &fakeSession{identity: models.Identity{ID: creds.UID, Name: "Self", Role: models.RoleUser}},
		backend:   newFakeBackend(),
		client:    newFakeRTCClient(),
		surfaces:  rtc.NewSurfaceRegistry(),
		transport: newFakeTransport(),
		beacon:    &fakeBeacon{},
		logs:      mongodb.NewMemorySessionLogRepository(),
		notifier:  &fakeNotifier{},
		clock:     newClock(),
	}
	f.backend.creds = &creds
	uc, err := NewSessionUsecase(conf, f.session, f.backend, &fakeFactory{client: f.client},
		rtc.NewVirtualDevices(conf), f.surfaces, f.transport, f.beacon, f.logs, f.notifier, zap.NewNop().Sugar())
	require.NoError(t, err)
	uc.(*sessionUsecase).now = f.clock.Now
	f.uc = uc

	// mounts a surface for every participant with video, the way the UI does
	uc.Observe(func(s *models.SessionSnapshot) {
		f.mu.Lock()
		f.snaps = append(f.snaps, s)
		f.mu.Unlock()
		if s == nil || f.manualMount {
			return
		}
		for _, p := range s.Participants {
			if p.HasVideo {
				f.surfaces.Mount(rtc.RemoteSurface(p.UID))
			} else {
				f.surfaces.Unmount(rtc.RemoteSurface(p.UID))
			}
		}
	})
	return f
}

func (f *sessionFixture) join(t *testing.T) *models.SessionSnapshot {
	t.Helper()
	snap, err := f.uc.Join(t.Context(), "s-1")
	require.NoError(t, err)
	return snap
}

func (f *sessionFixture) lastSnapshot() *models.SessionSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.snaps) == 0 {
		return nil
	}
	return f.snaps[len(f.snaps)-1]
}

func (f *sessionFixture) participant(uid string) (models.Participant, bool) {
	snap, err := f.uc.Current()
	if err != nil {
		return models.Participant{}, false
	}
	for _, p := range snap.Participants {
		if p.UID == uid {
			return p, true
		}
	}
	return models.Participant{}, false
}

func withPrefix(ids []string, prefix string) int {
	n := 0
	for _, id := range ids {
		if strings.HasPrefix(id, prefix) {
			n++
		}
	}
	return n
}

func TestSessionLeaveDuringJoin(t *testing.T) {
	tests := []struct {
		name  string
		leave func(f *sessionFixture)
	}{
		{"leave call", func(f *sessionFixture) { f.uc.Leave(t.Context(), models.LeaveReasonRoute) }},
		{"logout", func(f *sessionFixture) { f.session.Logout() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSessionFixture(t, participantCreds, testConfig())
			started, release := f.client.blockJoin()

			errc := make(chan error, 1)
			go func() {
				_, err := f.uc.Join(t.Context(), "s-1")
				errc <- err
			}()
			<-started
			tt.leave(f)
			require.Eventually(t, f.uc.(*sessionUsecase).leavePending, time.Second, 5*time.Millisecond)
			release()

			require.ErrorIs(t, <-errc, models.ErrJoinAborted)
			_, err := f.uc.Current()
			assert.ErrorIs(t, err, models.ErrNoSession)
			assert.Equal(t, 1, f.client.leaves())
			assert.Empty(t, f.client.publishedIDs())
			assert.Zero(t, f.transport.handlerCount())
			assert.Nil(t, f.lastSnapshot())

			f.backend.mu.Lock()
			require.Len(t, f.backend.reports, 1)
			assert.Equal(t, models.LeaveReasonRoute, f.backend.reports[0].Reason)
			f.backend.mu.Unlock()

			// the next join starts clean
			f.join(t)
			_, err = f.uc.Current()
			assert.NoError(t, err)
		})
	}
}

func TestSessionJoin(t *testing.T) {
	f := newSessionFixture(t, participantCreds, testConfig())

	snap := f.join(t)

	assert.Equal(t, 3, f.client.handlersAtJoin)
	assert.Equal(t, "s-1", snap.SessionID)
	assert.False(t, snap.IsHost)
	assert.Equal(t, "Host", snap.HostName)
	assert.True(t, snap.WaitingForHost)
	assert.True(t, snap.Local.HasCamera)
	assert.True(t, snap.Local.HasMicrophone)
	assert.True(t, snap.Local.VideoEnabled)
	assert.True(t, snap.Local.AudioEnabled)

	published := f.client.publishedIDs()
	assert.Equal(t, 1, withPrefix(published, "camera-"))
	assert.Equal(t, 1, withPrefix(published, "microphone-"))
	assert.True(t, strings.HasPrefix(f.surfaces.Attached(rtc.LocalSurface), "camera-"))
	assert.Equal(t, 1, f.transport.handlerCount())

	_, err := f.uc.Join(t.Context(), "s-2")
	assert.ErrorIs(t, err, models.ErrAlreadyInSession)

	logs, err := f.uc.Log(t.Context(), "s-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, logs.Data, 1)
	assert.Equal(t, models.SessionLogJoined, logs.Data[0].Kind)
}

func TestSessionJoinRequiresIdentity(t *testing.T) {
	f := newSessionFixture(t, participantCreds, testConfig())
	f.session.identity = models.Identity{}

	_, err := f.uc.Join(t.Context(), "s-1")
	assert.ErrorIs(t, err, models.ErrUnauthenticated)

	_, err = f.uc.Current()
	assert.ErrorIs(t, err, models.ErrNoSession)
}

func TestSessionJoinBackendFailure(t *testing.T) {
	f := newSessionFixture(t, participantCreds, testConfig())
	f.backend.joinErr = errors.New("forbidden")

	_, err := f.uc.Join(t.Context(), "s-1")
	require.Error(t, err)
	assert.Empty(t, f.client.calls)

	// the joining guard is released
	f.backend.joinErr = nil
	f.join(t)
}

func TestSessionJoinWithoutCamera(t *testing.T) {
	conf := testConfig()
	conf.RTC.Camera = false
	f := newSessionFixture(t, participantCreds, conf)

	snap := f.join(t)

	assert.Equal(t, []string{models.CodeMediaUnavailable}, f.notifier.codes())
	assert.False(t, snap.Local.HasCamera)
	assert.True(t, snap.Local.HasMicrophone)
	published := f.client.publishedIDs()
	require.Len(t, published, 1)
	assert.True(t, strings.HasPrefix(published[0], "microphone-"))

	assert.ErrorIs(t, f.uc.SetVideoEnabled(t.Context(), false), models.ErrNoLocalMedia)
	require.NoError(t, f.uc.SetAudioEnabled(t.Context(), false))
	cur, err := f.uc.Current()
	require.NoError(t, err)
	assert.False(t, cur.Local.AudioEnabled)
}

func TestSessionRemoteParticipants(t *testing.T) {
	f := newSessionFixture(t, participantCreds, testConfig())
	f.join(t)

	f.client.fire(rtc.EventUserPublished, "h", "", models.MediaVideo)
	require.Eventually(t, func() bool {
		return f.surfaces.Attached(rtc.RemoteSurface("h")) == "h-video"
	}, time.Second, 5*time.Millisecond)

	host, ok := f.participant("h")
	require.True(t, ok)
	assert.True(t, host.IsHost)
	assert.Equal(t, "Host", host.Name)
	assert.True(t, host.HasVideo)
	cur, err := f.uc.Current()
	require.NoError(t, err)
	assert.False(t, cur.WaitingForHost)

	f.client.fire(rtc.EventUserPublished, "h", "", models.MediaAudio)
	f.client.fire(rtc.EventUserUnpublished, "h", "", models.MediaVideo)
	require.Eventually(t, func() bool {
		p, ok := f.participant("h")
		return ok && !p.HasVideo && p.HasAudio
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, f.surfaces.Attached(rtc.RemoteSurface("h")))

	f.client.fire(rtc.EventUserLeft, "h", "", "")
	require.Eventually(t, func() bool {
		return slices.Contains(f.notifier.codes(), models.CodeParticipantLeft)
	}, time.Second, 5*time.Millisecond)
	_, ok = f.participant("h")
	assert.False(t, ok)

	logs, err := f.uc.Log(t.Context(), "s-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, logs.Data, 2)
	assert.Equal(t, models.SessionLogLeft, logs.Data[1].Kind)
	assert.Equal(t, "Host left the session", logs.Data[1].Text)
}

func TestSessionRemoteVideoWaitsForSurface(t *testing.T) {
	conf := testConfig()
	conf.Session.VideoAttachRetries = 100
	f := newSessionFixture(t, participantCreds, conf)
	f.manualMount = true
	f.join(t)

	f.client.fire(rtc.EventUserPublished, "x", "Guest", models.MediaVideo)
	require.Eventually(t, func() bool {
		_, ok := f.participant("x")
		return ok
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, f.surfaces.Attached(rtc.RemoteSurface("x")))

	f.surfaces.Mount(rtc.RemoteSurface("x"))
	require.Eventually(t, func() bool {
		return f.surfaces.Attached(rtc.RemoteSurface("x")) == "x-video"
	}, time.Second, 5*time.Millisecond)
}

func TestSessionLeave(t *testing.T) {
	f := newSessionFixture(t, participantCreds, testConfig())
	f.join(t)

	f.uc.Leave(t.Context(), models.LeaveReasonUser)
	f.uc.Leave(t.Context(), models.LeaveReasonUser)

	assert.Equal(t, 1, f.client.leaves())
	assert.Equal(t, 1, f.client.removeListeners)
	assert.Empty(t, f.client.publishedIDs())
	assert.Zero(t, f.transport.handlerCount())
	assert.Empty(t, f.surfaces.Attached(rtc.LocalSurface))
	assert.Nil(t, f.lastSnapshot())

	reports := f.backend.attendance()
	require.Len(t, reports, 1)
	assert.Equal(t, "s-1", reports[0].SessionID)
	assert.Equal(t, models.LeaveReasonUser, reports[0].Reason)
	assert.Empty(t, f.beacon.sent())

	_, err := f.uc.Current()
	assert.ErrorIs(t, err, models.ErrNoSession)

	logs, err := f.uc.Log(t.Context(), "s-1", 50, 0)
	require.NoError(t, err)
	require.Len(t, logs.Data, 2)
	assert.Equal(t, models.SessionLogLeft, logs.Data[1].Kind)
}

func TestSessionLeaveOnUnload(t *testing.T) {
	f := newSessionFixture(t, participantCreds, testConfig())
	f.join(t)

	f.uc.Leave(t.Context(), models.LeaveReasonUnload)

	assert.Empty(t, f.backend.attendance())
	sent := f.beacon.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, models.LeaveReasonUnload, sent[0].Reason)
}

func TestSessionParticipationScore(t *testing.T) {
	f := newSessionFixture(t, participantCreds, testConfig())
	f.join(t)

	f.clock.Advance(30 * time.Minute)
	require.NoError(t, f.uc.SetVideoEnabled(t.Context(), false))
	require.NoError(t, f.uc.SetAudioEnabled(t.Context(), false))
	f.clock.Advance(30 * time.Minute)
	f.uc.Leave(t.Context(), models.LeaveReasonUser)

	reports := f.backend.attendance()
	require.Len(t, reports, 1)
	assert.InDelta(t, 60.0, reports[0].DurationMinutes, 0.001)
	assert.Equal(t, 50, reports[0].ParticipationScore)
}

func TestSessionHostReportsNoAttendance(t *testing.T) {
	f := newSessionFixture(t, hostCreds, testConfig())
	snap := f.join(t)
	assert.True(t, snap.IsHost)

	f.uc.Leave(t.Context(), models.LeaveReasonUnload)

	assert.Empty(t, f.backend.attendance())
	assert.Empty(t, f.beacon.sent())
	assert.Equal(t, 1, f.client.leaves())
}

func TestSessionTeardownContinuesPastErrors(t *testing.T) {
	f := newSessionFixture(t, participantCreds, testConfig())
	f.join(t)
	f.client.unpublishErr = errors.New("signaling closed")

	f.uc.Leave(t.Context(), models.LeaveReasonUser)

	assert.Equal(t, 1, f.client.leaves())
	assert.Len(t, f.backend.attendance(), 1)
	assert.Nil(t, f.lastSnapshot())
}

func TestSessionScreenShare(t *testing.T) {
	t.Run("host swaps camera and screen", func(t *testing.T) {
		f := newSessionFixture(t, hostCreds, testConfig())
		f.join(t)

		require.NoError(t, f.uc.SetScreenShare(t.Context(), true))
		published := f.client.publishedIDs()
		assert.Zero(t, withPrefix(published, "camera-"))
		assert.Equal(t, 1, withPrefix(published, "screen-"))
		assert.True(t, strings.HasPrefix(f.surfaces.Attached(rtc.LocalSurface), "screen-"))
		cur, err := f.uc.Current()
		require.NoError(t, err)
		assert.True(t, cur.Local.ScreenSharing)

		// already sharing
		require.NoError(t, f.uc.SetScreenShare(t.Context(), true))
		assert.Equal(t, 1, withPrefix(f.client.publishedIDs(), "screen-"))

		require.NoError(t, f.uc.SetScreenShare(t.Context(), false))
		published = f.client.publishedIDs()
		assert.Equal(t, 1, withPrefix(published, "camera-"))
		assert.Zero(t, withPrefix(published, "screen-"))
		assert.True(t, strings.HasPrefix(f.surfaces.Attached(rtc.LocalSurface), "camera-"))
	})

	t.Run("participant is refused", func(t *testing.T) {
		f := newSessionFixture(t, participantCreds, testConfig())
		f.join(t)
		assert.ErrorIs(t, f.uc.SetScreenShare(t.Context(), true), models.ErrNotHost)
	})

	t.Run("no session", func(t *testing.T) {
		f := newSessionFixture(t, hostCreds, testConfig())
		assert.ErrorIs(t, f.uc.SetScreenShare(t.Context(), true), models.ErrNoSession)
	})
}

func TestSessionModerate(t *testing.T) {
	t.Run("host emits", func(t *testing.T) {
		f := newSessionFixture(t, hostCreds, testConfig())
		f.join(t)

		assert.ErrorIs(t, f.uc.Moderate(t.Context(), "a", models.ModerateMute), models.ErrNotFound)

		f.client.fire(rtc.EventUserPublished, "a", "Alice", models.MediaAudio)
		require.Eventually(t, func() bool {
			_, ok := f.participant("a")
			return ok
		}, time.Second, 5*time.Millisecond)

		require.NoError(t, f.uc.Moderate(t.Context(), "a", models.ModerateMute))
		sent := f.transport.emitted(models.EventSessionModerate)
		require.Len(t, sent, 1)
		assert.Equal(t, models.ModeratePayload{
			SessionID:   "s-1",
			ChannelName: "ch-1",
			TargetUID:   "a",
			Action:      models.ModerateMute,
			ByUID:       "h",
		}, sent[0])
	})

	t.Run("participant is refused", func(t *testing.T) {
		f := newSessionFixture(t, participantCreds, testConfig())
		f.join(t)
		assert.ErrorIs(t, f.uc.Moderate(t.Context(), "h", models.ModerateRemove), models.ErrNotHost)
	})

	t.Run("participant is muted", func(t *testing.T) {
		f := newSessionFixture(t, participantCreds, testConfig())
		f.join(t)

		// ignored: not sent by the host
		f.transport.deliver(t, models.EventSessionModerate, models.ModeratePayload{
			ChannelName: "ch-1", TargetUID: "a", Action: models.ModerateMute, ByUID: "x",
		})
		f.transport.deliver(t, models.EventSessionModerate, models.ModeratePayload{
			ChannelName: "ch-1", TargetUID: "a", Action: models.ModerateMute, ByUID: "h",
		})
		require.Eventually(t, func() bool {
			cur, err := f.uc.Current()
			return err == nil && !cur.Local.AudioEnabled
		}, time.Second, 5*time.Millisecond)
		cur, err := f.uc.Current()
		require.NoError(t, err)
		assert.True(t, cur.Local.VideoEnabled)
	})

	t.Run("participant is removed", func(t *testing.T) {
		f := newSessionFixture(t, participantCreds, testConfig())
		f.join(t)

		f.transport.deliver(t, models.EventSessionModerate, models.ModeratePayload{
			ChannelName: "ch-1", TargetUID: "a", Action: models.ModerateRemove, ByUID: "h",
		})
		require.Eventually(t, func() bool { return f.client.leaves() == 1 }, time.Second, 5*time.Millisecond)
		assert.Contains(t, f.notifier.codes(), models.CodeRemoved)
		_, err := f.uc.Current()
		assert.ErrorIs(t, err, models.ErrNoSession)
	})
}

func TestSessionLeavesOnLogout(t *testing.T) {
	f := newSessionFixture(t, participantCreds, testConfig())
	f.join(t)

	f.session.Logout()

	require.Eventually(t, func() bool { return len(f.backend.attendance()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, models.LeaveReasonRoute, f.backend.attendance()[0].Reason)
	assert.Equal(t, 1, f.client.leaves())
}
