package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/nguyentranbao-ct/consult-live/internal/config"
	"github.com/nguyentranbao-ct/consult-live/internal/models"
	"github.com/nguyentranbao-ct/consult-live/internal/repo/auth"
	"github.com/nguyentranbao-ct/consult-live/internal/repo/backend"
	"github.com/nguyentranbao-ct/consult-live/internal/repo/beacon"
	"github.com/nguyentranbao-ct/consult-live/internal/repo/mongodb"
	"github.com/nguyentranbao-ct/consult-live/internal/repo/rtc"
	"github.com/nguyentranbao-ct/consult-live/internal/repo/socket"
	"github.com/nguyentranbao-ct/consult-live/pkg/tmplx"
	"github.com/nguyentranbao-ct/consult-live/pkg/util"
	"go.uber.org/zap"
)

type SessionUsecase interface {
	Join(ctx context.Context, sessionID string) (*models.SessionSnapshot, error)
	// Leave ends the current session. It runs the teardown at most once and
	// does nothing when there is no session.
	Leave(ctx context.Context, reason models.LeaveReason)
	Current() (*models.SessionSnapshot, error)
	SetVideoEnabled(ctx context.Context, enabled bool) error
	SetAudioEnabled(ctx context.Context, enabled bool) error
	SetScreenShare(ctx context.Context, enabled bool) error
	Moderate(ctx context.Context, uid string, action models.ModerateAction) error
	Log(ctx context.Context, sessionID string, limit, skip int64) (*mongodb.Page[models.SessionLogEntry], error)
	// Observe receives a snapshot after every change, and nil when the
	// session ends.
	Observe(fn func(*models.SessionSnapshot)) (off func())
}

type sessionUsecase struct {
	conf       config.SessionConfig
	session    auth.Session
	backend    backend.Client
	rtc        rtc.ClientFactory
	devices    rtc.Devices
	surfaces   rtc.Surfaces
	transport  socket.Transport
	beacon     beacon.Beacon
	logs       mongodb.SessionLogRepository
	notifier   Notifier
	leftNotice *tmplx.Template
	log        *zap.SugaredLogger
	now        func() time.Time

	mu           sync.Mutex
	current      *LiveSession
	joining      bool
	pendingLeave *models.LeaveReason // set by Leave while a Join is in flight
	cancelJoin   context.CancelFunc
	observers    observers[*models.SessionSnapshot]
}

func NewSessionUsecase(
	conf *config.Config,
	session auth.Session,
	be backend.Client,
	factory rtc.ClientFactory,
	devices rtc.Devices,
	surfaces rtc.Surfaces,
	transport socket.Transport,
	b beacon.Beacon,
	logs mongodb.SessionLogRepository,
	notifier Notifier,
	log *zap.SugaredLogger,
) (SessionUsecase, error) {
	notice, err := tmplx.Parse("left_notice", conf.Session.LeftNotice)
	if err != nil {
		return nil, fmt.Errorf("parse left notice: %w", err)
	}
	sc := conf.Session
	if sc.StepTimeout <= 0 {
		sc.StepTimeout = 5 * time.Second
	}
	if sc.VideoAttachInterval <= 0 {
		sc.VideoAttachInterval = 200 * time.Millisecond
	}
	uc := &sessionUsecase{
		conf:       sc,
		session:    session,
		backend:    be,
		rtc:        factory,
		devices:    devices,
		surfaces:   surfaces,
		transport:  transport,
		beacon:     b,
		logs:       logs,
		notifier:   notifier,
		leftNotice: notice,
		log:        log.Named("session"),
		now:        time.Now,
	}
	session.OnLogout(func() {
		go uc.Leave(context.Background(), models.LeaveReasonRoute)
	})
	return uc, nil
}

type participant struct {
	models.Participant
	tracks map[models.MediaKind]rtc.RemoteTrack
}

// LiveSession is the state of one joined session. Local tracks are owned
// here and touched by nothing else.
type LiveSession struct {
	id       string
	creds    models.Credentials
	client   rtc.Client
	joinedAt time.Time
	ctx      context.Context
	cancel   context.CancelFunc
	left     atomic.Bool
	offs     []func()
	events   *eventQueue

	mu           sync.Mutex
	mic          rtc.Track
	camera       rtc.Track
	screen       rtc.Track
	published    []rtc.Track
	participants map[string]*participant
	order        []string
	activeSince  time.Time
	activeTotal  time.Duration
}

func (uc *sessionUsecase) Join(ctx context.Context, sessionID string) (*models.SessionSnapshot, error) {
	sessionID = strings.TrimSpace(sessionID)
	if uc.session.Identity().IsZero() {
		return nil, models.ErrUnauthenticated
	}
	if sessionID == "" {
		return nil, models.ErrNoSession
	}

	jctx, cancelJoin := context.WithCancel(ctx)
	defer cancelJoin()

	uc.mu.Lock()
	if uc.current != nil || uc.joining {
		uc.mu.Unlock()
		return nil, models.ErrAlreadyInSession
	}
	uc.joining = true
	uc.pendingLeave = nil
	uc.cancelJoin = cancelJoin
	uc.mu.Unlock()
	defer func() {
		uc.mu.Lock()
		uc.joining = false
		uc.pendingLeave = nil
		uc.cancelJoin = nil
		uc.mu.Unlock()
	}()

	creds, err := uc.backend.JoinSession(jctx, sessionID)
	if err != nil {
		if uc.leavePending() {
			return nil, models.ErrJoinAborted
		}
		return nil, fmt.Errorf("join session %s: %w", sessionID, err)
	}
	client, err := uc.rtc.NewClient(*creds)
	if err != nil {
		return nil, fmt.Errorf("new rtc client: %w", err)
	}

	sctx, cancel := context.WithCancel(context.Background())
	ls := &LiveSession{
		id:           sessionID,
		creds:        *creds,
		client:       client,
		ctx:          sctx,
		cancel:       cancel,
		participants: make(map[string]*participant),
	}
	ls.events = newEventQueue(sctx)

	// handlers go in before the join so early publications are not missed
	client.On(rtc.EventUserPublished, func(u rtc.RemoteUser, kind models.MediaKind) {
		ls.events.push(func() { uc.onPublished(ls, u, kind) })
	})
	client.On(rtc.EventUserUnpublished, func(u rtc.RemoteUser, kind models.MediaKind) {
		ls.events.push(func() { uc.onUnpublished(ls, u, kind) })
	})
	client.On(rtc.EventUserLeft, func(u rtc.RemoteUser, _ models.MediaKind) {
		ls.events.push(func() { uc.onLeft(ls, u) })
	})

	if err := client.Join(jctx, *creds); err != nil {
		client.RemoveAllListeners()
		cancel()
		if uc.leavePending() {
			return nil, models.ErrJoinAborted
		}
		return nil, fmt.Errorf("join channel: %w", err)
	}

	if !uc.leavePending() {
		uc.acquireMedia(jctx, ls)
	}

	ls.mu.Lock()
	ls.joinedAt = uc.now()
	ls.accountLocked(ls.joinedAt)
	ls.mu.Unlock()

	ls.offs = append(ls.offs, uc.transport.On(models.EventSessionModerate, func(data json.RawMessage) {
		uc.onModerate(ls, data)
	}))

	uc.mu.Lock()
	uc.current = ls
	reason := uc.pendingLeave
	uc.mu.Unlock()

	// the channel is joined, so a leave asked for meanwhile runs the full
	// sequence now
	if reason != nil {
		uc.log.Infow("leave requested while joining", "session_id", sessionID, "reason", *reason)
		uc.Leave(context.WithoutCancel(ctx), *reason)
		return nil, models.ErrJoinAborted
	}

	uc.log.Infow("joined session",
		"session_id", sessionID, "channel", creds.ChannelName, "uid", creds.UID, "host", creds.IsHost())
	uc.appendLog(ls, models.SessionLogJoined, creds.UID, "joined the session")

	snap := uc.snapshot(ls)
	uc.publish(snap)
	return snap, nil
}

func (uc *sessionUsecase) leavePending() bool {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.pendingLeave != nil
}

// acquireMedia opens the microphone and camera independently. A missing
// device is reported and the session goes on without it.
func (uc *sessionUsecase) acquireMedia(ctx context.Context, ls *LiveSession) {
	mic, err := uc.devices.Microphone(ctx)
	if err != nil {
		uc.mediaUnavailable("microphone", err)
	}
	camera, err := uc.devices.Camera(ctx)
	if err != nil {
		uc.mediaUnavailable("camera", err)
	}

	var tracks []rtc.Track
	if camera != nil {
		if err := camera.Play(rtc.LocalSurface); err != nil {
			uc.log.Warnw("play local video", "error", err)
		}
		if err := uc.surfaces.Attach(rtc.LocalSurface, camera); err != nil {
			uc.log.Warnw("attach local video", "error", err)
		}
		tracks = append(tracks, camera)
	}
	if mic != nil {
		tracks = append(tracks, mic)
	}

	ls.mu.Lock()
	ls.mic, ls.camera = mic, camera
	ls.mu.Unlock()
	if len(tracks) == 0 {
		return
	}
	if err := ls.client.Publish(ctx, tracks...); err != nil {
		uc.log.Warnw("publish local tracks", "session_id", ls.id, "error", err)
		uc.notifier.Notify(models.Notification{
			Level:   models.LevelWarning,
			Code:    models.CodeMediaUnavailable,
			Message: "Your camera and microphone could not be shared",
		})
		return
	}
	ls.mu.Lock()
	ls.published = append(ls.published, tracks...)
	ls.mu.Unlock()
}

func (uc *sessionUsecase) mediaUnavailable(device string, err error) {
	uc.log.Warnw("acquire media", "device", device, "error", err)
	uc.notifier.Notify(models.Notification{
		Level:   models.LevelWarning,
		Code:    models.CodeMediaUnavailable,
		Message: fmt.Sprintf("Your %s is not available", device),
	})
}

func (uc *sessionUsecase) onPublished(ls *LiveSession, u rtc.RemoteUser, kind models.MediaKind) {
	track, err := ls.client.Subscribe(ls.ctx, u.UID, kind)
	if err != nil {
		uc.log.Warnw("subscribe", "uid", u.UID, "kind", kind, "error", err)
		return
	}

	ls.mu.Lock()
	p, ok := ls.participants[u.UID]
	if !ok {
		p = &participant{
			Participant: models.Participant{UID: u.UID, IsHost: u.UID == ls.creds.HostUID},
			tracks:      make(map[models.MediaKind]rtc.RemoteTrack),
		}
		ls.participants[u.UID] = p
		ls.order = append(ls.order, u.UID)
	}
	if u.Name != "" {
		p.Name = u.Name
	} else if p.IsHost && p.Name == "" {
		p.Name = ls.creds.HostName
	}
	if prev, ok := p.tracks[kind]; ok {
		prev.Stop()
	}
	p.tracks[kind] = track
	switch kind {
	case models.MediaVideo:
		p.HasVideo = true
	case models.MediaAudio:
		p.HasAudio = true
	}
	ls.mu.Unlock()

	// the snapshot goes out first so the UI can mount the remote surface
	uc.publish(uc.snapshot(ls))

	if kind == models.MediaAudio {
		if err := track.Play(""); err != nil {
			uc.log.Warnw("play remote audio", "uid", u.UID, "error", err)
		}
		return
	}
	go uc.attachRemoteVideo(ls, u.UID, track)
}

// attachRemoteVideo retries while the surface for uid is not mounted yet.
func (uc *sessionUsecase) attachRemoteVideo(ls *LiveSession, uid string, track rtc.RemoteTrack) {
	key := rtc.RemoteSurface(uid)
	for attempt := 1; ; attempt++ {
		err := uc.surfaces.Attach(key, track)
		if err == nil {
			if err := track.Play(key); err != nil {
				uc.log.Warnw("play remote video", "uid", uid, "error", err)
			}
			return
		}
		if !errors.Is(err, rtc.ErrSurfaceMissing) || attempt >= uc.conf.VideoAttachRetries {
			uc.log.Warnw("attach remote video", "uid", uid, "attempts", attempt, "error", err)
			return
		}
		select {
		case <-ls.ctx.Done():
			return
		case <-time.After(uc.conf.VideoAttachInterval):
		}
	}
}

// onUnpublished keeps the participant so a camera turned off is told apart
// from a participant who left.
func (uc *sessionUsecase) onUnpublished(ls *LiveSession, u rtc.RemoteUser, kind models.MediaKind) {
	ls.mu.Lock()
	p, ok := ls.participants[u.UID]
	if !ok {
		ls.mu.Unlock()
		return
	}
	if t, ok := p.tracks[kind]; ok {
		t.Stop()
		delete(p.tracks, kind)
	}
	switch kind {
	case models.MediaVideo:
		p.HasVideo = false
	case models.MediaAudio:
		p.HasAudio = false
	}
	ls.mu.Unlock()

	if kind == models.MediaVideo {
		uc.surfaces.Clear(rtc.RemoteSurface(u.UID))
	}
	uc.publish(uc.snapshot(ls))
}

func (uc *sessionUsecase) onLeft(ls *LiveSession, u rtc.RemoteUser) {
	ls.mu.Lock()
	p, ok := ls.participants[u.UID]
	if ok {
		for _, t := range p.tracks {
			t.Stop()
		}
		delete(ls.participants, u.UID)
		ls.order = slices.DeleteFunc(ls.order, func(uid string) bool { return uid == u.UID })
	}
	ls.mu.Unlock()
	if !ok {
		return
	}
	uc.surfaces.Clear(rtc.RemoteSurface(u.UID))

	name := p.Name
	if name == "" {
		name = u.Name
	}
	text, err := uc.leftNotice.RenderString(map[string]any{"Name": name, "UID": u.UID})
	if err != nil {
		uc.log.Warnw("render left notice", "error", err)
		text = u.UID + " left the session"
	}
	uc.appendLog(ls, models.SessionLogLeft, u.UID, text)
	uc.notifier.Notify(models.Notification{
		Level:   models.LevelInfo,
		Code:    models.CodeParticipantLeft,
		Message: text,
	})
	uc.publish(uc.snapshot(ls))
}

// onModerate applies a host action addressed to the local user.
func (uc *sessionUsecase) onModerate(ls *LiveSession, data json.RawMessage) {
	var p models.ModeratePayload
	if err := json.Unmarshal(data, &p); err != nil {
		uc.log.Warnw("decode moderation event", "error", err)
		return
	}
	if p.ChannelName != ls.creds.ChannelName || p.TargetUID != ls.creds.UID || p.ByUID != ls.creds.HostUID {
		return
	}
	uc.log.Infow("moderated by host", "session_id", ls.id, "action", p.Action)
	switch p.Action {
	case models.ModerateMute:
		go func() {
			if err := uc.SetAudioEnabled(ls.ctx, false); err != nil {
				uc.log.Warnw("mute on host request", "error", err)
			}
		}()
	case models.ModerateRemove:
		uc.notifier.Notify(models.Notification{
			Level:   models.LevelWarning,
			Code:    models.CodeRemoved,
			Message: "The host removed you from the session",
		})
		go uc.Leave(context.Background(), models.LeaveReasonUser)
	}
}

func (uc *sessionUsecase) Leave(ctx context.Context, reason models.LeaveReason) {
	uc.mu.Lock()
	ls := uc.current
	uc.current = nil
	if ls == nil && uc.joining {
		if uc.pendingLeave == nil {
			uc.pendingLeave = &reason
		}
		if uc.cancelJoin != nil {
			uc.cancelJoin()
		}
	}
	uc.mu.Unlock()
	if ls == nil || !ls.left.CompareAndSwap(false, true) {
		return
	}
	leftAt := uc.now()

	steps := []TeardownStep{
		{Name: "unpublish", Run: func(ctx context.Context) error {
			ls.mu.Lock()
			tracks := ls.published
			ls.published = nil
			ls.accountLocked(leftAt)
			ls.mu.Unlock()
			if len(tracks) == 0 {
				return nil
			}
			return ls.client.Unpublish(ctx, tracks...)
		}},
		{Name: "close_tracks", Run: func(context.Context) error {
			ls.mu.Lock()
			tracks := []rtc.Track{ls.camera, ls.mic, ls.screen}
			ls.camera, ls.mic, ls.screen = nil, nil, nil
			ls.mu.Unlock()
			var errs []error
			for _, t := range tracks {
				if t == nil {
					continue
				}
				t.Stop()
				if err := t.Close(); err != nil {
					errs = append(errs, fmt.Errorf("close %s: %w", t.ID(), err))
				}
			}
			return errors.Join(errs...)
		}},
		{Name: "clear_surfaces", Run: func(context.Context) error {
			uc.surfaces.Clear(rtc.LocalSurface)
			ls.mu.Lock()
			remote := ls.participants
			ls.participants = make(map[string]*participant)
			ls.order = nil
			ls.mu.Unlock()
			for uid, p := range remote {
				for _, t := range p.tracks {
					t.Stop()
				}
				uc.surfaces.Clear(rtc.RemoteSurface(uid))
			}
			return nil
		}},
		{Name: "leave_channel", Run: func(ctx context.Context) error {
			for _, off := range ls.offs {
				off()
			}
			ls.client.RemoveAllListeners()
			ls.cancel()
			return ls.client.Leave(ctx)
		}},
	}
	if !ls.creds.IsHost() {
		steps = append(steps, TeardownStep{Name: "attendance", Run: func(ctx context.Context) error {
			return uc.reportAttendance(ctx, ls.attendance(leftAt, reason))
		}})
	}

	err := RunTeardown(ctx, uc.log, uc.withStepTimeout(steps)...)
	if err != nil {
		uc.log.Warnw("session teardown finished with errors", "session_id", ls.id, "error", err)
	}
	uc.log.Infow("left session", "session_id", ls.id, "reason", reason)
	uc.appendLog(ls, models.SessionLogLeft, ls.creds.UID, "left the session")
	uc.publish(nil)
}

func (uc *sessionUsecase) withStepTimeout(steps []TeardownStep) []TeardownStep {
	out := make([]TeardownStep, len(steps))
	for i, s := range steps {
		run := s.Run
		out[i] = TeardownStep{Name: s.Name, Run: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, uc.conf.StepTimeout)
			defer cancel()
			return run(ctx)
		}}
	}
	return out
}

// reportAttendance sends the report over the backend, or hands it to the
// beacon when the process is going away and must not wait.
func (uc *sessionUsecase) reportAttendance(ctx context.Context, report models.AttendanceReport) error {
	uc.log.Infow("attendance",
		"session_id", report.SessionID,
		"duration_minutes", report.DurationMinutes,
		"participation_score", report.ParticipationScore,
		"reason", report.Reason)
	if report.Reason == models.LeaveReasonUnload {
		uc.beacon.Send(report)
		return nil
	}
	return uc.backend.ReportAttendance(ctx, report)
}

func (uc *sessionUsecase) Current() (*models.SessionSnapshot, error) {
	uc.mu.Lock()
	ls := uc.current
	uc.mu.Unlock()
	if ls == nil {
		return nil, models.ErrNoSession
	}
	return uc.snapshot(ls), nil
}

func (uc *sessionUsecase) SetVideoEnabled(_ context.Context, enabled bool) error {
	return uc.setEnabled(func(ls *LiveSession) rtc.Track { return ls.camera }, enabled)
}

func (uc *sessionUsecase) SetAudioEnabled(_ context.Context, enabled bool) error {
	return uc.setEnabled(func(ls *LiveSession) rtc.Track { return ls.mic }, enabled)
}

// setEnabled flips the enabled flag of a local track. Nothing is
// republished.
func (uc *sessionUsecase) setEnabled(pick func(*LiveSession) rtc.Track, enabled bool) error {
	ls, err := uc.live()
	if err != nil {
		return err
	}
	ls.mu.Lock()
	track := pick(ls)
	if track == nil {
		ls.mu.Unlock()
		return models.ErrNoLocalMedia
	}
	now := uc.now()
	ls.accountLocked(now)
	if err := track.SetEnabled(enabled); err != nil {
		ls.mu.Unlock()
		return fmt.Errorf("set %s enabled: %w", track.Kind(), err)
	}
	ls.accountLocked(now)
	ls.mu.Unlock()
	uc.publish(uc.snapshot(ls))
	return nil
}

// SetScreenShare swaps the published camera for a screen capture, and back.
func (uc *sessionUsecase) SetScreenShare(ctx context.Context, enabled bool) error {
	ls, err := uc.live()
	if err != nil {
		return err
	}
	if !ls.creds.IsHost() {
		return models.ErrNotHost
	}
	if enabled {
		err = uc.startScreenShare(ctx, ls)
	} else {
		err = uc.stopScreenShare(ctx, ls)
	}
	if err != nil {
		return err
	}
	uc.publish(uc.snapshot(ls))
	return nil
}

func (uc *sessionUsecase) startScreenShare(ctx context.Context, ls *LiveSession) error {
	ls.mu.Lock()
	sharing, camera := ls.screen != nil, ls.camera
	cameraPublished := camera != nil && ls.isPublishedLocked(camera)
	ls.mu.Unlock()
	if sharing {
		return nil
	}

	screen, err := uc.devices.Screen(ctx)
	if err != nil {
		return fmt.Errorf("open screen capture: %w", err)
	}
	if cameraPublished {
		if err := ls.client.Unpublish(ctx, camera); err != nil {
			_ = screen.Close()
			return fmt.Errorf("unpublish camera: %w", err)
		}
	}
	if err := ls.client.Publish(ctx, screen); err != nil {
		_ = screen.Close()
		if cameraPublished {
			if rerr := ls.client.Publish(ctx, camera); rerr != nil {
				uc.log.Warnw("republish camera", "error", rerr)
			}
		}
		return fmt.Errorf("publish screen: %w", err)
	}
	if err := screen.Play(rtc.LocalSurface); err != nil {
		uc.log.Warnw("play screen locally", "error", err)
	}
	if err := uc.surfaces.Attach(rtc.LocalSurface, screen); err != nil {
		uc.log.Warnw("attach screen locally", "error", err)
	}

	now := uc.now()
	ls.mu.Lock()
	ls.accountLocked(now)
	ls.screen = screen
	if cameraPublished {
		ls.removePublishedLocked(camera)
	}
	ls.published = append(ls.published, screen)
	ls.accountLocked(now)
	ls.mu.Unlock()
	return nil
}

func (uc *sessionUsecase) stopScreenShare(ctx context.Context, ls *LiveSession) error {
	ls.mu.Lock()
	screen, camera := ls.screen, ls.camera
	ls.mu.Unlock()
	if screen == nil {
		return nil
	}

	if err := ls.client.Unpublish(ctx, screen); err != nil {
		return fmt.Errorf("unpublish screen: %w", err)
	}
	screen.Stop()
	if err := screen.Close(); err != nil {
		uc.log.Warnw("close screen capture", "error", err)
	}

	now := uc.now()
	ls.mu.Lock()
	ls.accountLocked(now)
	ls.screen = nil
	ls.removePublishedLocked(screen)
	ls.accountLocked(now)
	ls.mu.Unlock()

	uc.surfaces.Clear(rtc.LocalSurface)
	if camera == nil {
		return nil
	}
	if err := camera.Play(rtc.LocalSurface); err != nil {
		uc.log.Warnw("play local video", "error", err)
	}
	if err := uc.surfaces.Attach(rtc.LocalSurface, camera); err != nil {
		uc.log.Warnw("attach local video", "error", err)
	}
	if err := ls.client.Publish(ctx, camera); err != nil {
		return fmt.Errorf("republish camera: %w", err)
	}
	ls.mu.Lock()
	ls.accountLocked(now)
	ls.published = append(ls.published, camera)
	ls.accountLocked(now)
	ls.mu.Unlock()
	return nil
}

// Moderate asks the participant uid to mute or leave. Only the host may.
func (uc *sessionUsecase) Moderate(ctx context.Context, uid string, action models.ModerateAction) error {
	ls, err := uc.live()
	if err != nil {
		return err
	}
	if !ls.creds.IsHost() {
		return models.ErrNotHost
	}
	ls.mu.Lock()
	_, ok := ls.participants[uid]
	ls.mu.Unlock()
	if !ok {
		return models.ErrNotFound
	}
	err = uc.transport.Emit(ctx, models.EventSessionModerate, models.ModeratePayload{
		SessionID:   ls.id,
		ChannelName: ls.creds.ChannelName,
		TargetUID:   uid,
		Action:      action,
		ByUID:       ls.creds.UID,
	})
	if err != nil {
		return fmt.Errorf("%s participant %s: %w", action, uid, err)
	}
	uc.log.Infow("moderated participant", "session_id", ls.id, "uid", uid, "action", action)
	return nil
}

func (uc *sessionUsecase) Log(ctx context.Context, sessionID string, limit, skip int64) (*mongodb.Page[models.SessionLogEntry], error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return uc.logs.ListBySession(ctx, sessionID, limit, max(skip, 0))
}

func (uc *sessionUsecase) Observe(fn func(*models.SessionSnapshot)) func() {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	id := uc.observers.add(fn)
	return func() {
		uc.mu.Lock()
		defer uc.mu.Unlock()
		uc.observers.remove(id)
	}
}

func (uc *sessionUsecase) live() (*LiveSession, error) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	if uc.current == nil {
		return nil, models.ErrNoSession
	}
	return uc.current, nil
}

func (uc *sessionUsecase) appendLog(ls *LiveSession, kind models.SessionLogKind, uid, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), uc.conf.StepTimeout)
	defer cancel()
	_, err := uc.logs.Append(ctx, models.SessionLogEntry{
		SessionID: ls.id,
		Kind:      kind,
		UID:       uid,
		Text:      text,
	})
	if err != nil {
		uc.log.Warnw("append session log", "session_id", ls.id, "kind", kind, "error", err)
	}
}

func (uc *sessionUsecase) snapshot(ls *LiveSession) *models.SessionSnapshot {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	snap := &models.SessionSnapshot{
		SessionID:    ls.id,
		ChannelName:  ls.creds.ChannelName,
		UID:          ls.creds.UID,
		IsHost:       ls.creds.IsHost(),
		HostUID:      ls.creds.HostUID,
		HostName:     ls.creds.HostName,
		JoinedAt:     ls.joinedAt,
		Participants: make([]models.Participant, 0, len(ls.order)),
		Local: models.LocalMedia{
			HasCamera:     ls.camera != nil,
			HasMicrophone: ls.mic != nil,
			VideoEnabled:  ls.camera != nil && ls.camera.Enabled(),
			AudioEnabled:  ls.mic != nil && ls.mic.Enabled(),
			ScreenSharing: ls.screen != nil,
		},
	}
	for _, uid := range ls.order {
		snap.Participants = append(snap.Participants, ls.participants[uid].Participant)
	}
	snap.WaitingForHost = len(snap.Participants) == 0
	return snap
}

func (uc *sessionUsecase) publish(snap *models.SessionSnapshot) {
	uc.mu.Lock()
	fns := uc.observers.list()
	uc.mu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}

func (ls *LiveSession) isPublishedLocked(t rtc.Track) bool {
	return slices.Contains(ls.published, t)
}

func (ls *LiveSession) removePublishedLocked(t rtc.Track) {
	ls.published = slices.DeleteFunc(ls.published, func(p rtc.Track) bool { return p == t })
}

// mediaActiveLocked reports whether the user is currently seen or heard.
func (ls *LiveSession) mediaActiveLocked() bool {
	for _, t := range ls.published {
		if t.Enabled() {
			return true
		}
	}
	return false
}

// accountLocked closes the running interval of active media at now and
// opens a new one if media is still active. Call it on both sides of every
// change to the local tracks.
func (ls *LiveSession) accountLocked(now time.Time) {
	if ls.joinedAt.IsZero() {
		return
	}
	if !ls.activeSince.IsZero() {
		ls.activeTotal += now.Sub(ls.activeSince)
		ls.activeSince = time.Time{}
	}
	if ls.mediaActiveLocked() {
		ls.activeSince = now
	}
}

func (ls *LiveSession) attendance(leftAt time.Time, reason models.LeaveReason) models.AttendanceReport {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.accountLocked(leftAt)
	elapsed := leftAt.Sub(ls.joinedAt)
	score := 0
	if elapsed > 0 {
		score = int(math.Round(float64(ls.activeTotal) / float64(elapsed) * 100))
		score = min(max(score, 0), 100)
	}
	return models.AttendanceReport{
		SessionID:          ls.id,
		DurationMinutes:    util.Round(max(elapsed, 0).Minutes(), 2),
		ParticipationScore: score,
		Reason:             reason,
	}
}

// eventQueue runs video service events one at a time, in arrival order, off
// the signaling read loop.
type eventQueue struct {
	mu      sync.Mutex
	pending []func()
	wake    chan struct{}
}

func newEventQueue(ctx context.Context) *eventQueue {
	q := &eventQueue{wake: make(chan struct{}, 1)}
	go q.run(ctx)
	return q
}

func (q *eventQueue) push(fn func()) {
	q.mu.Lock()
	q.pending = append(q.pending, fn)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *eventQueue) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		}
		for {
			q.mu.Lock()
			if len(q.pending) == 0 {
				q.mu.Unlock()
				break
			}
			fn := q.pending[0]
			q.pending = q.pending[1:]
			q.mu.Unlock()
			if ctx.Err() != nil {
				return
			}
			fn()
		}
	}
}
