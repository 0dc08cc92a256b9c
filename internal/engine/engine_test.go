package engine_test

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"client_go/internal/clock"
	"client_go/internal/domain"
	"client_go/internal/engine"
	"client_go/internal/protocol"
)

var (
	alice = &domain.User{ID: 1, Username: "alice", DisplayName: "Alice"}
	bob   = &domain.User{ID: 2, Username: "bob", DisplayName: "Bob"}
	carol = &domain.User{ID: 3, Username: "carol", DisplayName: "Carol"}

	t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
)

type recordedRequest struct {
	event   string
	payload any
}

// fakeChannel satisfies engine.Requester with scripted responses per event.
type fakeChannel struct {
	mu       sync.Mutex
	requests []recordedRequest
	notices  []string
	respond  map[string]func(payload any) *protocol.Envelope
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{respond: make(map[string]func(any) *protocol.Envelope)}
}

func (f *fakeChannel) Request(_ context.Context, event string, payload any) *protocol.Envelope {
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{event: event, payload: payload})
	fn := f.respond[event]
	f.mu.Unlock()
	if fn != nil {
		return fn(payload)
	}
	return mustEnvelope(map[string]any{"ok": true})
}

func (f *fakeChannel) Notify(event string, _ any) {
	f.mu.Lock()
	f.notices = append(f.notices, event)
	f.mu.Unlock()
}

func (f *fakeChannel) requestEvents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.requests))
	for i, r := range f.requests {
		out[i] = r.event
	}
	return out
}

func (f *fakeChannel) sentNotices() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.notices...)
}

func mustEnvelope(body map[string]any) *protocol.Envelope {
	data, err := json.Marshal(body)
	if err != nil {
		panic(err)
	}
	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		panic(err)
	}
	return env
}

func newTestEngine(t *testing.T, hooks engine.Hooks) (*engine.Engine, *fakeChannel, *clock.Fake) {
	t.Helper()
	ch := newFakeChannel()
	clk := clock.NewFake(t0)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	eng := engine.New(ch, hooks, engine.Options{Logger: logger, Clock: clk})
	return eng, ch, clk
}

func baseSnapshot() domain.Snapshot {
	return domain.Snapshot{
		User: alice,
		Chats: []*domain.Chat{
			{ID: 42, Partner: bob},
			{ID: 7, Name: "Team", IsGroup: true, Members: []domain.ChatMember{
				{User: alice, IsAdmin: true},
				{User: bob},
				{User: carol},
			}},
		},
		Contacts: &domain.Contacts{},
	}
}

func seedSnapshot(t *testing.T, eng *engine.Engine, snap domain.Snapshot) {
	t.Helper()
	data, err := json.Marshal(snap)
	require.NoError(t, err)
	eng.ApplySnapshot(data)
}

func pushMessage(t *testing.T, eng *engine.Engine, msg *domain.Message) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	eng.HandlePush(protocol.PushNewMessage, data)
}

func pushUpdate(t *testing.T, eng *engine.Engine, event string, msg *domain.Message) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	eng.HandlePush(event, data)
}

func TestSendMessageConfirmed(t *testing.T) {
	eng, ch, _ := newTestEngine(t, engine.Hooks{})
	seedSnapshot(t, eng, baseSnapshot())

	ch.respond[protocol.ReqSendMessage] = func(payload any) *protocol.Envelope {
		req := payload.(protocol.SendMessageRequest)
		assert.Equal(t, int64(42), req.ChatID)
		assert.NotEmpty(t, req.ClientRef)
		return mustEnvelope(map[string]any{
			"ok": true,
			"message": &domain.Message{
				ID:        101,
				ChatID:    42,
				Sender:    alice,
				Body:      req.Body,
				CreatedAt: t0,
			},
		})
	}

	msg, err := eng.SendMessage(context.Background(), 42, "hello", nil)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, int64(101), msg.ID)
	assert.Equal(t, domain.StatusDelivered, msg.Status)
	assert.NotEmpty(t, msg.ClientRef)

	msgs := eng.Messages(42)
	require.Len(t, msgs, 1, "confirmation must merge into the optimistic entry")
	assert.Equal(t, int64(101), msgs[0].ID)

	chats := eng.Chats()
	assert.Equal(t, int64(42), chats[0].ID, "send moves the chat to the roster front")
	require.NotNil(t, chats[0].LastMessage)
	assert.Equal(t, int64(101), chats[0].LastMessage.ID)
}

func TestSendMessageTimeoutThenLatePush(t *testing.T) {
	eng, ch, _ := newTestEngine(t, engine.Hooks{})
	seedSnapshot(t, eng, baseSnapshot())

	ch.respond[protocol.ReqSendMessage] = func(any) *protocol.Envelope {
		return protocol.Fail("timeout")
	}

	msg, err := eng.SendMessage(context.Background(), 42, "hello", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.Nil(t, msg)

	msgs := eng.Messages(42)
	require.Len(t, msgs, 1, "timed-out send stays visible")
	assert.Equal(t, domain.StatusError, msgs[0].Status)
	ref := msgs[0].ClientRef
	require.NotEmpty(t, ref)

	// The server processed the send after all; the push is the alternate
	// completion and must not create a duplicate.
	pushMessage(t, eng, &domain.Message{
		ID:        202,
		ChatID:    42,
		Sender:    alice,
		Body:      "hello",
		CreatedAt: t0,
		ClientRef: ref,
	})

	msgs = eng.Messages(42)
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(202), msgs[0].ID)
	assert.Equal(t, domain.StatusDelivered, msgs[0].Status)
}

func TestSendMessageRejected(t *testing.T) {
	eng, ch, _ := newTestEngine(t, engine.Hooks{})
	seedSnapshot(t, eng, baseSnapshot())

	ch.respond[protocol.ReqSendMessage] = func(any) *protocol.Envelope {
		return mustEnvelope(map[string]any{"ok": false, "error": "muted"})
	}

	_, err := eng.SendMessage(context.Background(), 42, "hello", nil)
	assert.ErrorIs(t, err, domain.ErrRejected)

	msgs := eng.Messages(42)
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.StatusError, msgs[0].Status)
}

func TestSendMessageValidation(t *testing.T) {
	eng, ch, _ := newTestEngine(t, engine.Hooks{})
	seedSnapshot(t, eng, baseSnapshot())

	t.Run("Empty", func(t *testing.T) {
		_, err := eng.SendMessage(context.Background(), 42, "   ", nil)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("TooManyAttachments", func(t *testing.T) {
		uploads := make([]domain.AttachmentUpload, 7)
		for i := range uploads {
			uploads[i] = domain.AttachmentUpload{Name: "a.png", Mimetype: "image/png"}
		}
		_, err := eng.SendMessage(context.Background(), 42, "pics", uploads)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("NonImageAttachment", func(t *testing.T) {
		_, err := eng.SendMessage(context.Background(), 42, "doc", []domain.AttachmentUpload{
			{Name: "a.pdf", Mimetype: "application/pdf"},
		})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("UnknownChat", func(t *testing.T) {
		_, err := eng.SendMessage(context.Background(), 999, "hello", nil)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	assert.Empty(t, ch.requestEvents(), "rejected input never reaches the channel")
}

func TestIncomingMessageNotification(t *testing.T) {
	var notified []*domain.Message
	eng, _, _ := newTestEngine(t, engine.Hooks{
		OnNotification: func(msg *domain.Message) { notified = append(notified, msg) },
	})
	snap := baseSnapshot()
	snap.UI.ActiveChatID = 42
	seedSnapshot(t, eng, snap)
	require.Equal(t, int64(42), eng.ActiveChatID())

	// Inactive chat: notify.
	pushMessage(t, eng, &domain.Message{ID: 10, ChatID: 7, Sender: bob, Body: "hey", CreatedAt: t0})
	require.Len(t, notified, 1)
	assert.Equal(t, int64(10), notified[0].ID)

	// Active chat: no notification.
	pushMessage(t, eng, &domain.Message{ID: 11, ChatID: 42, Sender: bob, Body: "hi", CreatedAt: t0.Add(time.Second)})
	assert.Len(t, notified, 1)

	// Self-authored echo from another session: no notification.
	pushMessage(t, eng, &domain.Message{ID: 12, ChatID: 7, Sender: alice, Body: "me", CreatedAt: t0.Add(2 * time.Second)})
	assert.Len(t, notified, 1)
}

func TestRosterReordersOnlyOnTraffic(t *testing.T) {
	eng, ch, _ := newTestEngine(t, engine.Hooks{})
	seedSnapshot(t, eng, baseSnapshot())

	pushMessage(t, eng, &domain.Message{ID: 10, ChatID: 7, Sender: bob, Body: "hey", CreatedAt: t0})
	chats := eng.Chats()
	require.Len(t, chats, 2)
	assert.Equal(t, int64(7), chats[0].ID, "receive moves the chat to the front")

	ch.respond[protocol.ReqOpenChat] = func(any) *protocol.Envelope {
		return mustEnvelope(map[string]any{"ok": true})
	}
	require.NoError(t, eng.OpenChat(context.Background(), 42))
	chats = eng.Chats()
	assert.Equal(t, int64(7), chats[0].ID, "opening a chat does not reorder the roster")
}

func TestMessageDeletedPushTombstones(t *testing.T) {
	eng, _, _ := newTestEngine(t, engine.Hooks{})
	seedSnapshot(t, eng, baseSnapshot())

	for i, id := range []int64{7, 8, 9} {
		pushMessage(t, eng, &domain.Message{
			ID: id, ChatID: 42, Sender: bob, Body: "m", CreatedAt: t0.Add(time.Duration(i) * time.Second),
		})
	}

	pushUpdate(t, eng, protocol.PushMessageDeleted, &domain.Message{ID: 8, ChatID: 42, IsDeleted: true})

	msgs := eng.Messages(42)
	require.Len(t, msgs, 3, "tombstoning keeps the record")
	assert.Equal(t, int64(8), msgs[1].ID, "tombstoning keeps the position")
	assert.True(t, msgs[1].IsDeleted)
	assert.Empty(t, msgs[1].Body)
	assert.False(t, msgs[0].IsDeleted)
	assert.False(t, msgs[2].IsDeleted)
}

func TestMessageUpdatedPush(t *testing.T) {
	eng, _, _ := newTestEngine(t, engine.Hooks{})
	seedSnapshot(t, eng, baseSnapshot())
	pushMessage(t, eng, &domain.Message{ID: 5, ChatID: 42, Sender: bob, Body: "typo", CreatedAt: t0})

	pushUpdate(t, eng, protocol.PushMessageUpdated, &domain.Message{
		ID: 5, ChatID: 42, Body: "fixed", Edited: true, Revision: 2,
	})

	msgs := eng.Messages(42)
	require.Len(t, msgs, 1)
	assert.Equal(t, "fixed", msgs[0].Body)
	assert.True(t, msgs[0].Edited)
}

func TestSnapshotReplacesLocalState(t *testing.T) {
	eng, _, _ := newTestEngine(t, engine.Hooks{})
	snap := baseSnapshot()
	snap.UI.ActiveChatID = 7
	seedSnapshot(t, eng, snap)
	pushMessage(t, eng, &domain.Message{ID: 5, ChatID: 7, Sender: bob, Body: "old", CreatedAt: t0})

	// Reconnect snapshot no longer contains chat 7.
	resync := domain.Snapshot{
		User:     alice,
		Chats:    []*domain.Chat{{ID: 42, Partner: bob}},
		Contacts: &domain.Contacts{},
	}
	seedSnapshot(t, eng, resync)

	chats := eng.Chats()
	require.Len(t, chats, 1, "local-only chats are discarded, never merged")
	assert.Equal(t, int64(42), chats[0].ID)
	assert.Empty(t, eng.Messages(7))
	assert.Zero(t, eng.ActiveChatID(), "active selection cleared with its chat")
}

func TestSnapshotDuringSendDropsPendingEntry(t *testing.T) {
	eng, ch, _ := newTestEngine(t, engine.Hooks{})
	seedSnapshot(t, eng, baseSnapshot())

	// The channel drops mid-send; a reconnect snapshot lands before the
	// request resolves. The still-pending optimistic entry must go with it.
	ch.respond[protocol.ReqSendMessage] = func(any) *protocol.Envelope {
		data, err := json.Marshal(baseSnapshot())
		require.NoError(t, err)
		eng.ApplySnapshot(data)
		return protocol.Fail("offline")
	}

	_, err := eng.SendMessage(context.Background(), 42, "hello", nil)
	assert.ErrorIs(t, err, domain.ErrTransport)
	assert.Empty(t, eng.Messages(42), "pending entries do not survive a resync")
}

func TestSnapshotKeepsErrorEntries(t *testing.T) {
	eng, ch, _ := newTestEngine(t, engine.Hooks{})
	seedSnapshot(t, eng, baseSnapshot())

	ch.respond[protocol.ReqSendMessage] = func(any) *protocol.Envelope {
		return protocol.Fail("timeout")
	}
	_, err := eng.SendMessage(context.Background(), 42, "hello", nil)
	require.Error(t, err)

	seedSnapshot(t, eng, baseSnapshot())

	msgs := eng.Messages(42)
	require.Len(t, msgs, 1, "failed sends stay visible for manual retry")
	assert.Equal(t, domain.StatusError, msgs[0].Status)
}

func TestOpenChatRequestsHistory(t *testing.T) {
	eng, ch, _ := newTestEngine(t, engine.Hooks{})
	seedSnapshot(t, eng, baseSnapshot())

	require.NoError(t, eng.OpenChat(context.Background(), 42))
	assert.Equal(t, int64(42), eng.ActiveChatID())
	assert.Equal(t, []string{protocol.ReqOpenChat}, ch.requestEvents())

	history := protocol.ChatHistoryPush{
		OK:     true,
		ChatID: 42,
		Messages: []*domain.Message{
			{ID: 1, ChatID: 42, Sender: alice, Body: "mine", CreatedAt: t0},
			{ID: 2, ChatID: 42, Sender: bob, Body: "theirs", CreatedAt: t0.Add(time.Second), Status: domain.StatusReceived},
		},
	}
	data, err := json.Marshal(history)
	require.NoError(t, err)
	eng.HandlePush(protocol.PushChatHistory, data)

	msgs := eng.Messages(42)
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.StatusDelivered, msgs[0].Status, "own history entries read as delivered")
	assert.Equal(t, domain.StatusReceived, msgs[1].Status)
}

func TestChatDeletedPush(t *testing.T) {
	eng, _, _ := newTestEngine(t, engine.Hooks{})
	snap := baseSnapshot()
	snap.UI.ActiveChatID = 7
	seedSnapshot(t, eng, snap)
	pushMessage(t, eng, &domain.Message{ID: 5, ChatID: 7, Sender: bob, Body: "hey", CreatedAt: t0})

	data, err := json.Marshal(protocol.ChatDeletedPush{ChatID: 7})
	require.NoError(t, err)
	eng.HandlePush(protocol.PushChatDeleted, data)

	for _, c := range eng.Chats() {
		assert.NotEqual(t, int64(7), c.ID)
	}
	assert.Empty(t, eng.Messages(7))
	assert.Zero(t, eng.ActiveChatID())
}

func TestMalformedPushDropped(t *testing.T) {
	eng, _, _ := newTestEngine(t, engine.Hooks{})
	seedSnapshot(t, eng, baseSnapshot())

	eng.HandlePush(protocol.PushNewMessage, json.RawMessage(`{"body":"no chat id"}`))
	eng.HandlePush("mystery:event", json.RawMessage(`{}`))
	eng.HandlePush(protocol.PushNewMessage, json.RawMessage(`not json`))

	assert.Empty(t, eng.Messages(42))
	assert.Len(t, eng.Chats(), 2)
}

func TestCreateChatDeduplicatesRoster(t *testing.T) {
	eng, ch, _ := newTestEngine(t, engine.Hooks{})
	seedSnapshot(t, eng, baseSnapshot())

	// Server returns the already-existing direct chat.
	ch.respond[protocol.ReqCreateChat] = func(any) *protocol.Envelope {
		return mustEnvelope(map[string]any{
			"ok":   true,
			"chat": &domain.Chat{ID: 42, Partner: bob},
		})
	}

	chat, err := eng.CreateChat(context.Background(), bob.ID, "", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(42), chat.ID)

	chats := eng.Chats()
	require.Len(t, chats, 2, "no duplicate roster entry")
	assert.Equal(t, int64(42), chats[0].ID)
}

func TestGroupInvitePermissions(t *testing.T) {
	eng, ch, _ := newTestEngine(t, engine.Hooks{})
	seedSnapshot(t, eng, baseSnapshot())

	assert.True(t, eng.CanInviteToGroup(7), "admins can invite")
	assert.False(t, eng.CanInviteToGroup(42), "direct chats have no invites")

	err := eng.InviteToGroup(context.Background(), 7, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	require.NoError(t, eng.InviteToGroup(context.Background(), 7, []int64{9}))
	assert.Equal(t, []string{protocol.ReqGroupInvite}, ch.requestEvents())
}

func TestContactsUpdatePush(t *testing.T) {
	eng, _, _ := newTestEngine(t, engine.Hooks{})
	seedSnapshot(t, eng, baseSnapshot())

	pending, invites := 3, 1
	data, err := json.Marshal(protocol.ContactsUpdatePush{
		Contacts:            &domain.Contacts{Friends: []domain.ContactEntry{{User: bob}}},
		PendingCount:        &pending,
		PendingGroupInvites: &invites,
	})
	require.NoError(t, err)
	eng.HandlePush(protocol.PushContactsUpdate, data)

	gotPending, gotInvites := eng.PendingCounts()
	assert.Equal(t, 3, gotPending)
	assert.Equal(t, 1, gotInvites)
	require.Len(t, eng.Contacts().Friends, 1)
}

func TestUpdateProfileValidatesAvatar(t *testing.T) {
	eng, ch, _ := newTestEngine(t, engine.Hooks{})
	seedSnapshot(t, eng, baseSnapshot())

	err := eng.UpdateProfile(context.Background(), "Alice", "", &protocol.AvatarPayload{
		Name: "cv.pdf", Mimetype: "application/pdf", Data: "AAAA",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Empty(t, ch.requestEvents())

	ch.respond[protocol.ReqUpdateProfile] = func(any) *protocol.Envelope {
		return mustEnvelope(map[string]any{
			"ok":   true,
			"user": &domain.User{ID: 1, Username: "alice", DisplayName: "Alice A."},
		})
	}
	require.NoError(t, eng.UpdateProfile(context.Background(), "Alice A.", "", nil))
	assert.Equal(t, "Alice A.", eng.User().DisplayName)
}
