package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"client_go/internal/channel"
	"client_go/internal/clock"
	"client_go/internal/domain"
	"client_go/internal/protocol"
)

const (
	maxMessageRunes = 5000
	maxAttachments  = 6
	maxAvatarBytes  = 5 * 1024 * 1024

	typingQuietDefault  = 1800 * time.Millisecond
	typingExpiryDefault = 2500 * time.Millisecond
)

// Requester dispatches requests and notices over the channel. Satisfied
// by *channel.Supervisor; faked in tests.
type Requester interface {
	Request(ctx context.Context, event string, payload any) *protocol.Envelope
	Notify(event string, payload any)
}

// Hooks are the engine's change subscriptions. All fields optional.
type Hooks struct {
	// OnConversation fires after a chat's message sequence changed.
	OnConversation func(chatID int64)
	// OnRoster fires after the chat roster, contacts or counts changed.
	OnRoster func()
	// OnTyping fires after typing presence changed for a chat.
	OnTyping func(chatID int64)
	// OnNotice surfaces a short, user-visible line of text.
	OnNotice func(text string)
	// OnNotification fires once per incoming message for an inactive
	// chat; never for self-authored messages.
	OnNotification func(msg *domain.Message)
	// OnPresence reports channel lifecycle changes.
	OnPresence func(state channel.State)
}

// Options tune the engine.
type Options struct {
	TypingQuiet  time.Duration // silence before stop-typing is sent
	TypingExpiry time.Duration // staleness bound for incoming indicators
	Logger       *logrus.Logger
	Clock        clock.Clock
}

func (o *Options) normalize() {
	if o.TypingQuiet <= 0 {
		o.TypingQuiet = typingQuietDefault
	}
	if o.TypingExpiry <= 0 {
		o.TypingExpiry = typingExpiryDefault
	}
	if o.Logger == nil {
		o.Logger = logrus.New()
	}
	if o.Clock == nil {
		o.Clock = clock.NewSystem()
	}
}

// Engine keeps the local view of chats and messages consistent with
// server truth. One mutex guards all state; mutations therefore run one
// at a time, while request waits happen outside the lock.
type Engine struct {
	channel Requester
	hooks   Hooks
	log     *logrus.Logger
	clk     clock.Clock
	opts    Options

	mu       sync.Mutex
	user     *domain.User
	chats    []*domain.Chat
	contacts *domain.Contacts
	store    *Store

	pendingCount        int
	pendingGroupInvites int
	activeChatID        int64

	editing   *editSession
	outTyping map[int64]*outgoingTyping
	inTyping  map[int64]map[int64]*incomingTyping
}

func New(ch Requester, hooks Hooks, opts Options) *Engine {
	opts.normalize()
	return &Engine{
		channel:   ch,
		hooks:     hooks,
		log:       opts.Logger,
		clk:       opts.Clock,
		opts:      opts,
		contacts:  &domain.Contacts{},
		store:     NewStore(),
		outTyping: make(map[int64]*outgoingTyping),
		inTyping:  make(map[int64]map[int64]*incomingTyping),
	}
}

// ── accessors ───────────────────────────────────────────────────────────

// User returns the session owner, nil before the first snapshot.
func (e *Engine) User() *domain.User {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.user
}

// Chats returns the roster in display order.
func (e *Engine) Chats() []*domain.Chat {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*domain.Chat, len(e.chats))
	copy(out, e.chats)
	return out
}

// Contacts returns the social graph.
func (e *Engine) Contacts() *domain.Contacts {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.contacts
}

// PendingCounts returns (friend requests, group invites).
func (e *Engine) PendingCounts() (int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pendingCount, e.pendingGroupInvites
}

// ActiveChatID returns the currently open chat, zero when none.
func (e *Engine) ActiveChatID() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeChatID
}

// Messages returns a copy of the sequence for a chat.
func (e *Engine) Messages(chatID int64) []*domain.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	seq := e.store.Get(chatID)
	out := make([]*domain.Message, len(seq))
	copy(out, seq)
	return out
}

// ── snapshot resync ─────────────────────────────────────────────────────

// ApplySnapshot replaces the entire local view with server truth. Wired
// as the supervisor's OnSnapshot hook; also reachable directly in tests.
// State accumulated while disconnected is not merged: local-only chats
// are discarded and still-pending optimistic entries are dropped, since
// their outcome is unknowable. Error-tagged entries stay visible.
func (e *Engine) ApplySnapshot(data json.RawMessage) {
	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		e.log.WithError(err).Warn("malformed snapshot")
		return
	}

	e.mu.Lock()
	if snap.User != nil {
		e.user = snap.User
	}
	e.chats = snap.Chats
	if snap.Contacts != nil {
		e.contacts = snap.Contacts
	}
	e.pendingCount = snap.UI.PendingCount
	e.pendingGroupInvites = snap.UI.PendingGroupInvites
	if e.activeChatID == 0 && snap.UI.ActiveChatID != 0 {
		e.activeChatID = snap.UI.ActiveChatID
	}

	keep := make(map[int64]struct{}, len(e.chats))
	for _, c := range e.chats {
		keep[c.ID] = struct{}{}
	}
	if _, ok := keep[e.activeChatID]; !ok {
		e.activeChatID = 0
	}
	e.store.Retain(keep)
	e.store.DropPending()
	e.discardEditLocked()
	e.clearIncomingTypingLocked()
	e.mu.Unlock()

	e.log.WithField("chats", len(snap.Chats)).Info("snapshot applied")
	e.fireRoster()
	e.fireConversation(e.ActiveChatID())
}

// HandleState is wired as the supervisor's OnState hook.
func (e *Engine) HandleState(s channel.State) {
	if e.hooks.OnPresence != nil {
		e.hooks.OnPresence(s)
	}
}

// ── message send path ───────────────────────────────────────────────────

// SendMessage inserts an optimistic entry and dispatches the send. It
// blocks until the single terminal result: server confirmation merges
// into the optimistic entry (status delivered), failure or timeout tags
// it error and keeps it visible. There is no automatic retry.
func (e *Engine) SendMessage(ctx context.Context, chatID int64, body string, attachments []domain.AttachmentUpload) (*domain.Message, error) {
	body = strings.TrimSpace(body)
	if err := validateOutgoing(body, attachments); err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.findChatLocked(chatID) == nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("chat %d: %w", chatID, domain.ErrNotFound)
	}
	optimistic := &domain.Message{
		ChatID:    chatID,
		Sender:    e.user,
		Body:      body,
		CreatedAt: e.clk.Now(),
		Status:    domain.StatusPending,
		ClientRef: uuid.NewString(),
	}
	for _, a := range attachments {
		optimistic.Attachments = append(optimistic.Attachments, domain.Attachment{
			Filename: a.Name,
			Mimetype: a.Mimetype,
		})
	}
	e.store.AppendOrMerge(optimistic)
	e.touchChatLocked(chatID, optimistic)
	e.mu.Unlock()
	e.fireConversation(chatID)
	e.fireRoster()

	env := e.channel.Request(ctx, protocol.ReqSendMessage, protocol.SendMessageRequest{
		ChatID:      chatID,
		Body:        body,
		Attachments: attachments,
		ClientRef:   optimistic.ClientRef,
	})

	e.mu.Lock()
	if !env.OK {
		if msg, ok := e.store.FindByRef(chatID, optimistic.ClientRef); ok {
			msg.Status = domain.StatusError
		}
		e.mu.Unlock()
		e.fireConversation(chatID)
		e.log.WithFields(logrus.Fields{"chat_id": chatID, "error": env.Error}).Warn("send failed")
		return nil, fmt.Errorf("send message: %w", env.Err())
	}

	var resp protocol.MessageResponse
	confirmed := optimistic
	if err := env.Decode(&resp); err == nil && resp.Message != nil {
		resp.Message.ClientRef = optimistic.ClientRef
		resp.Message.Status = domain.StatusDelivered
		confirmed = e.store.AppendOrMerge(resp.Message)
		e.touchChatLocked(chatID, confirmed)
	} else if msg, ok := e.store.FindByRef(chatID, optimistic.ClientRef); ok {
		msg.Status = domain.StatusDelivered
		confirmed = msg
	}
	e.mu.Unlock()
	e.fireConversation(chatID)
	e.fireRoster()
	return confirmed, nil
}

func validateOutgoing(body string, attachments []domain.AttachmentUpload) error {
	if body == "" && len(attachments) == 0 {
		return fmt.Errorf("message cannot be empty: %w", domain.ErrInvalidInput)
	}
	if len([]rune(body)) > maxMessageRunes {
		return fmt.Errorf("message exceeds %d characters: %w", maxMessageRunes, domain.ErrInvalidInput)
	}
	if len(attachments) > maxAttachments {
		return fmt.Errorf("more than %d attachments: %w", maxAttachments, domain.ErrInvalidInput)
	}
	for _, a := range attachments {
		if !strings.HasPrefix(a.Mimetype, "image/") {
			return fmt.Errorf("attachment %q is not an image: %w", a.Name, domain.ErrInvalidInput)
		}
	}
	return nil
}

// handleIncomingMessage processes a new_message push: decorate, merge,
// move the chat to the roster front and raise at most one notification.
func (e *Engine) handleIncomingMessage(msg *domain.Message) {
	e.mu.Lock()
	self := msg.SelfAuthored(e.selfIDLocked())
	if msg.Status == "" {
		if self {
			msg.Status = domain.StatusDelivered
		} else {
			msg.Status = domain.StatusReceived
		}
	}
	merged := e.store.AppendOrMerge(msg)
	e.touchChatLocked(msg.ChatID, merged)
	notify := !self && e.activeChatID != msg.ChatID
	e.mu.Unlock()

	e.fireConversation(msg.ChatID)
	e.fireRoster()
	if notify && e.hooks.OnNotification != nil {
		e.hooks.OnNotification(merged)
	}
}

// ── chat open / close ───────────────────────────────────────────────────

// OpenChat makes a chat active and requests its history. Cached
// sequences display immediately; the chat:history push refreshes them.
func (e *Engine) OpenChat(ctx context.Context, chatID int64) error {
	e.mu.Lock()
	if e.findChatLocked(chatID) == nil {
		e.mu.Unlock()
		return fmt.Errorf("chat %d: %w", chatID, domain.ErrNotFound)
	}
	changed := e.activeChatID != chatID
	e.activeChatID = chatID
	if changed {
		e.discardEditLocked()
		e.clearIncomingTypingLocked()
	}
	e.mu.Unlock()
	e.fireRoster()
	e.fireConversation(chatID)

	env := e.channel.Request(ctx, protocol.ReqOpenChat, protocol.OpenChatRequest{ChatID: chatID})
	if !env.OK {
		return fmt.Errorf("open chat: %w", env.Err())
	}
	return nil
}

// CloseChat clears the active selection. Purely local.
func (e *Engine) CloseChat() {
	e.mu.Lock()
	e.activeChatID = 0
	e.discardEditLocked()
	e.clearIncomingTypingLocked()
	e.mu.Unlock()
	e.fireRoster()
}

// ── push dispatch ───────────────────────────────────────────────────────

// HandlePush is wired as the supervisor's OnPush hook. Payloads are
// validated at this boundary; malformed pushes are logged and dropped.
func (e *Engine) HandlePush(event string, data json.RawMessage) {
	payload, err := protocol.DecodePush(event, data)
	if err != nil {
		e.log.WithError(err).WithField("event", event).Warn("dropping malformed push")
		return
	}
	switch event {
	case protocol.PushNewMessage:
		e.handleIncomingMessage(payload.(*domain.Message))
	case protocol.PushMessageUpdated, protocol.PushMessageDeleted:
		e.applyMessageUpdate(payload.(*domain.Message))
	case protocol.PushChatHistory:
		e.handleChatHistory(payload.(*protocol.ChatHistoryPush))
	case protocol.PushContactsUpdate:
		e.handleContactsUpdate(payload.(*protocol.ContactsUpdatePush))
	case protocol.PushFriendUpdate:
		e.handleFriendUpdate(payload.(*protocol.FriendUpdatePush))
	case protocol.PushProfileUpdate:
		e.handleProfileUpdate(payload.(*protocol.ProfileUpdatePush))
	case protocol.PushChatMemberUpdate:
		e.handleChatMemberUpdate(payload.(*protocol.ChatMemberUpdatePush))
	case protocol.PushChatDeleted:
		e.handleChatDeleted(payload.(*protocol.ChatDeletedPush))
	case protocol.PushTyping:
		e.handleTyping(payload.(*protocol.TypingPush), true)
	case protocol.PushStopTyping:
		e.handleTyping(payload.(*protocol.TypingPush), false)
	}
}

// ── internal helpers (callers hold e.mu) ────────────────────────────────

func (e *Engine) selfIDLocked() int64 {
	if e.user == nil {
		return 0
	}
	return e.user.ID
}

func (e *Engine) findChatLocked(chatID int64) *domain.Chat {
	for _, c := range e.chats {
		if c.ID == chatID {
			return c
		}
	}
	return nil
}

// touchChatLocked records the latest message on a chat and moves it to
// the roster front. Only sends and receives reorder the roster.
func (e *Engine) touchChatLocked(chatID int64, msg *domain.Message) {
	for i, c := range e.chats {
		if c.ID != chatID {
			continue
		}
		c.LastMessage = msg
		c.UpdatedAt = msg.CreatedAt
		copy(e.chats[1:i+1], e.chats[:i])
		e.chats[0] = c
		return
	}
}

func (e *Engine) fireConversation(chatID int64) {
	if chatID != 0 && e.hooks.OnConversation != nil {
		e.hooks.OnConversation(chatID)
	}
}

func (e *Engine) fireRoster() {
	if e.hooks.OnRoster != nil {
		e.hooks.OnRoster()
	}
}

func (e *Engine) fireTyping(chatID int64) {
	if e.hooks.OnTyping != nil {
		e.hooks.OnTyping(chatID)
	}
}

func (e *Engine) notice(text string) {
	if e.hooks.OnNotice != nil {
		e.hooks.OnNotice(text)
	}
}
