package usecase

import (
	"testing"

	"github.com/nguyentranbao-ct/consult-live/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type chatFixture struct {
	session   *fakeSession
	transport *fakeTransport
	backend   *fakeBackend
	uc        ChatUsecase
}

func newChatFixture(t *testing.T, self models.Identity) *chatFixture {
	t.Helper()
	f := &chatFixture{
		session:   &fakeSession{identity: self},
		transport: newFakeTransport(),
		backend:   newFakeBackend(),
	}
	f.uc = NewChatUsecase(testConfig(), f.session, f.transport, f.backend, &fakeNotifier{}, zap.NewNop().Sugar())
	return f
}

func TestChatDirectory(t *testing.T) {
	t.Run("user sees admins", func(t *testing.T) {
		f := newChatFixture(t, alice)
		f.backend.contacts = []models.Contact{{ID: "b", Name: "Bob", Role: models.RoleAdmin}}
		f.backend.courses = []models.Course{{ID: "42", Title: "Go"}}

		dir, err := f.uc.Directory(t.Context())
		require.NoError(t, err)
		assert.Equal(t, models.RoleAdmin, f.backend.contactRole)
		assert.Len(t, dir.Contacts, 1)
		assert.Equal(t, "Go", dir.Courses[0].Title)
	})

	t.Run("admin sees users", func(t *testing.T) {
		f := newChatFixture(t, bob)
		_, err := f.uc.Directory(t.Context())
		require.NoError(t, err)
		assert.Equal(t, models.RoleUser, f.backend.contactRole)
	})

	t.Run("signed out", func(t *testing.T) {
		f := newChatFixture(t, models.Identity{})
		_, err := f.uc.Directory(t.Context())
		assert.ErrorIs(t, err, models.ErrUnauthenticated)
	})
}

func TestChatSendWithoutRoom(t *testing.T) {
	f := newChatFixture(t, alice)

	tempID, err := f.uc.Send(t.Context(), "hello")
	assert.ErrorIs(t, err, models.ErrNoRoom)
	assert.Empty(t, tempID)

	assert.ErrorIs(t, f.uc.SetSection(t.Context(), "video"), models.ErrInvalidSection)
}

func TestChatSectionsAreIsolated(t *testing.T) {
	f := newChatFixture(t, alice)
	f.backend.direct["b"] = []models.ChatPayload{{ID: "d1", SenderID: "b", Text: "direct"}}
	f.backend.forum["42"] = []models.ChatPayload{{ID: "f1", SenderID: "c", SenderName: "Carol", Text: "forum"}}

	require.NoError(t, f.uc.SelectPeer(t.Context(), "b"))
	assert.Equal(t, []string{"direct"}, texts(f.uc.Messages()))

	require.NoError(t, f.uc.SelectCourse(t.Context(), "42"))
	assert.Equal(t, []string{"forum"}, texts(f.uc.Messages()))

	// a direct message arriving while the forum is shown stays in the direct list
	f.transport.deliver(t, models.EventReceiveMessage, models.ChatPayload{ID: "d2", RoomID: "a_b", SenderID: "b", Text: "ping"})
	assert.Equal(t, []string{"forum"}, texts(f.uc.Messages()))

	require.NoError(t, f.uc.SetSection(t.Context(), models.SectionChat))
	assert.Equal(t, []string{"direct", "ping"}, texts(f.uc.Messages()))

	snap := f.uc.Snapshot()
	assert.Equal(t, models.SectionChat, snap.Section)
	assert.Equal(t, "b", snap.PeerID)
	assert.Equal(t, "42", snap.CourseID)
	assert.Equal(t, models.RoomDirect, snap.Conversation.Kind)
}

func TestChatSendGoesToActiveSection(t *testing.T) {
	f := newChatFixture(t, alice)
	require.NoError(t, f.uc.SelectPeer(t.Context(), "b"))
	require.NoError(t, f.uc.SelectCourse(t.Context(), "42"))

	tempID, err := f.uc.Send(t.Context(), "to the forum")
	require.NoError(t, err)
	require.NotEmpty(t, tempID)

	assert.Empty(t, f.transport.emitted(models.EventSendMessage))
	sent := f.transport.emitted(models.EventSendForumMessage)
	require.Len(t, sent, 1)
	assert.Equal(t, "42", sent[0].(models.ChatPayload).CourseID)

	assert.ErrorIs(t, f.uc.Retry(t.Context(), tempID), models.ErrNotRetryable)
}

func TestChatObserveRelaysActiveSection(t *testing.T) {
	f := newChatFixture(t, alice)
	var got []ChatSnapshot
	off := f.uc.Observe(func(s ChatSnapshot) { got = append(got, s) })
	defer off()

	require.NoError(t, f.uc.SelectPeer(t.Context(), "b"))
	require.NoError(t, f.uc.SelectCourse(t.Context(), "42"))
	got = nil

	f.transport.deliver(t, models.EventReceiveMessage, models.ChatPayload{ID: "d1", RoomID: "a_b", SenderID: "b", Text: "hidden"})
	assert.Empty(t, got)

	f.transport.deliver(t, models.EventReceiveForumMessage, models.ChatPayload{ID: "f1", CourseID: "42", SenderID: "c", Text: "shown"})
	require.Len(t, got, 1)
	assert.Equal(t, models.SectionForum, got[0].Section)
	assert.Equal(t, []string{"shown"}, texts(got[0].Conversation.Messages))
}

func TestChatLogoutClosesRooms(t *testing.T) {
	f := newChatFixture(t, alice)
	require.NoError(t, f.uc.SelectPeer(t.Context(), "b"))
	require.NoError(t, f.uc.SelectCourse(t.Context(), "42"))

	f.session.Logout()

	assert.Zero(t, f.transport.handlerCount())
	assert.Len(t, f.transport.emitted(models.EventLeaveRoom), 1)
	assert.Len(t, f.transport.emitted(models.EventLeaveForum), 1)
	assert.Empty(t, f.uc.Messages())
}
