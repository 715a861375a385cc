package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/nguyentranbao-ct/consult-live/internal/config"
	"github.com/nguyentranbao-ct/consult-live/internal/models"
	"github.com/nguyentranbao-ct/consult-live/internal/repo/auth"
	"github.com/nguyentranbao-ct/consult-live/internal/repo/backend"
	"github.com/nguyentranbao-ct/consult-live/internal/repo/socket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ChatSnapshot is the state of the chat panel: which section is active,
// what is selected in each, and the active conversation.
type ChatSnapshot struct {
	Section      models.Section       `json:"section"`
	PeerID       string               `json:"peer_id,omitempty"`
	CourseID     string               `json:"course_id,omitempty"`
	Conversation ConversationSnapshot `json:"conversation"`
}

type ChatUsecase interface {
	Directory(ctx context.Context) (*models.Directory, error)
	SetSection(ctx context.Context, section models.Section) error
	SelectPeer(ctx context.Context, peerID string) error
	SelectCourse(ctx context.Context, courseID string) error
	// Send returns the temp id of the optimistic entry, or an empty string
	// when the message was refused.
	Send(ctx context.Context, text string) (string, error)
	Retry(ctx context.Context, tempID string) error
	Messages() []models.MessageView
	Snapshot() ChatSnapshot
	Observe(fn func(ChatSnapshot)) (off func())
	Close(ctx context.Context)
}

type chatUsecase struct {
	session auth.Session
	backend backend.Client
	direct  *Conversation
	forum   *Conversation
	log     *zap.SugaredLogger

	// selMu guards the selection only; it is never held across a
	// conversation call.
	selMu    sync.RWMutex
	section  models.Section
	peerID   string
	courseID string

	obsMu     sync.Mutex
	observers observers[ChatSnapshot]
}

func NewChatUsecase(
	conf *config.Config,
	session auth.Session,
	transport socket.Transport,
	be backend.Client,
	notifier Notifier,
	log *zap.SugaredLogger,
) ChatUsecase {
	log = log.Named("chat")
	uc := &chatUsecase{
		session: session,
		backend: be,
		direct:  NewConversation(DirectRoomProfile(be), transport, notifier, conf.Chat.HistoryTTL, log),
		forum:   NewConversation(ForumRoomProfile(be), transport, notifier, conf.Chat.HistoryTTL, log),
		log:     log,
		section: models.SectionChat,
	}
	uc.direct.OnChange(uc.relay(models.SectionChat))
	uc.forum.OnChange(uc.relay(models.SectionForum))
	session.OnLogout(func() { uc.Close(context.Background()) })
	return uc
}

// Directory lists the counterparts the user can chat with and the courses
// whose forums they can open.
func (uc *chatUsecase) Directory(ctx context.Context) (*models.Directory, error) {
	self := uc.session.Identity()
	if self.IsZero() {
		return nil, models.ErrUnauthenticated
	}
	var dir models.Directory
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		contacts, err := uc.backend.Contacts(ctx, self.Role.Counterpart())
		if err != nil {
			return fmt.Errorf("list contacts: %w", err)
		}
		dir.Contacts = contacts
		return nil
	})
	g.Go(func() error {
		courses, err := uc.backend.Courses(ctx)
		if err != nil {
			return fmt.Errorf("list courses: %w", err)
		}
		dir.Courses = courses
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &dir, nil
}

func (uc *chatUsecase) SetSection(ctx context.Context, section models.Section) error {
	if !section.Valid() {
		return models.ErrInvalidSection
	}
	uc.selMu.Lock()
	uc.section = section
	peerID, courseID := uc.peerID, uc.courseID
	uc.selMu.Unlock()

	self := uc.session.Identity()
	switch section {
	case models.SectionChat:
		uc.direct.Open(ctx, self, peerID)
	case models.SectionForum:
		uc.forum.Open(ctx, self, courseID)
	}
	uc.publish()
	return nil
}

func (uc *chatUsecase) SelectPeer(ctx context.Context, peerID string) error {
	self := uc.session.Identity()
	if self.IsZero() {
		return models.ErrUnauthenticated
	}
	peerID = strings.TrimSpace(peerID)
	uc.selMu.Lock()
	uc.section = models.SectionChat
	uc.peerID = peerID
	uc.selMu.Unlock()

	uc.direct.Open(ctx, self, peerID)
	uc.publish()
	return nil
}

func (uc *chatUsecase) SelectCourse(ctx context.Context, courseID string) error {
	self := uc.session.Identity()
	if self.IsZero() {
		return models.ErrUnauthenticated
	}
	courseID = strings.TrimSpace(courseID)
	uc.selMu.Lock()
	uc.section = models.SectionForum
	uc.courseID = courseID
	uc.selMu.Unlock()

	uc.forum.Open(ctx, self, courseID)
	uc.publish()
	return nil
}

func (uc *chatUsecase) Send(ctx context.Context, text string) (string, error) {
	conv := uc.active()
	if conv.State() == StateIdle {
		return "", models.ErrNoRoom
	}
	return conv.Send(ctx, text), nil
}

func (uc *chatUsecase) Retry(ctx context.Context, tempID string) error {
	return uc.active().Retry(ctx, tempID)
}

func (uc *chatUsecase) Messages() []models.MessageView {
	return uc.active().Messages()
}

func (uc *chatUsecase) Snapshot() ChatSnapshot {
	uc.selMu.RLock()
	snap := ChatSnapshot{Section: uc.section, PeerID: uc.peerID, CourseID: uc.courseID}
	uc.selMu.RUnlock()
	snap.Conversation = uc.conversation(snap.Section).Snapshot()
	return snap
}

func (uc *chatUsecase) Observe(fn func(ChatSnapshot)) func() {
	uc.obsMu.Lock()
	defer uc.obsMu.Unlock()
	id := uc.observers.add(fn)
	return func() {
		uc.obsMu.Lock()
		defer uc.obsMu.Unlock()
		uc.observers.remove(id)
	}
}

// Close leaves both rooms. The selection is kept so the panel can reopen
// where it was.
func (uc *chatUsecase) Close(ctx context.Context) {
	uc.direct.Close(ctx)
	uc.forum.Close(ctx)
}

func (uc *chatUsecase) active() *Conversation {
	uc.selMu.RLock()
	defer uc.selMu.RUnlock()
	return uc.conversation(uc.section)
}

func (uc *chatUsecase) conversation(section models.Section) *Conversation {
	if section == models.SectionForum {
		return uc.forum
	}
	return uc.direct
}

// relay forwards changes of the conversation behind section while that
// section is the active one.
func (uc *chatUsecase) relay(section models.Section) func(ConversationSnapshot) {
	return func(cs ConversationSnapshot) {
		uc.selMu.RLock()
		snap := ChatSnapshot{Section: uc.section, PeerID: uc.peerID, CourseID: uc.courseID, Conversation: cs}
		uc.selMu.RUnlock()
		if snap.Section != section {
			return
		}
		uc.emit(snap)
	}
}

func (uc *chatUsecase) publish() {
	uc.emit(uc.Snapshot())
}

func (uc *chatUsecase) emit(snap ChatSnapshot) {
	uc.obsMu.Lock()
	fns := uc.observers.list()
	uc.obsMu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}
