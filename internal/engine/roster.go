package engine

import (
	"context"
	"fmt"
	"strings"

	"client_go/internal/domain"
	"client_go/internal/protocol"
)

// ── roster push handlers ────────────────────────────────────────────────

// handleChatHistory installs the server's history for a chat (the
// response to chat:open arrives as a push).
func (e *Engine) handleChatHistory(p *protocol.ChatHistoryPush) {
	if !p.OK {
		if p.Error != "" {
			e.notice(p.Error)
		}
		return
	}

	e.mu.Lock()
	self := e.selfIDLocked()
	for _, m := range p.Messages {
		if m.Status == "" && m.SelfAuthored(self) {
			m.Status = domain.StatusDelivered
		}
	}
	e.store.ReplaceHistory(p.ChatID, p.Messages)
	if e.editing != nil && e.editing.chatID == p.ChatID {
		e.discardEditLocked()
	}
	rosterChanged := false
	if p.Chat != nil {
		if existing := e.findChatLocked(p.ChatID); existing != nil {
			*existing = *p.Chat
		} else {
			e.chats = append([]*domain.Chat{p.Chat}, e.chats...)
		}
		rosterChanged = true
	}
	e.mu.Unlock()

	e.fireConversation(p.ChatID)
	if rosterChanged {
		e.fireRoster()
	}
}

func (e *Engine) handleContactsUpdate(p *protocol.ContactsUpdatePush) {
	e.mu.Lock()
	if p.Contacts != nil {
		e.contacts = p.Contacts
	}
	if p.PendingCount != nil {
		e.pendingCount = *p.PendingCount
	}
	if p.PendingGroupInvites != nil {
		e.pendingGroupInvites = *p.PendingGroupInvites
	}
	e.mu.Unlock()
	e.fireRoster()
}

func (e *Engine) handleFriendUpdate(p *protocol.FriendUpdatePush) {
	e.mu.Lock()
	if p.PendingCount != nil {
		e.pendingCount = *p.PendingCount
	}
	e.mu.Unlock()
	e.fireRoster()

	name := "A user"
	if p.FromUser != nil && p.FromUser.DisplayName != "" {
		name = p.FromUser.DisplayName
	}
	switch p.Action {
	case "request_received":
		e.notice(name + " sent you a friend request.")
	case "request_accepted":
		e.notice(name + " accepted your friend request.")
	case "request_declined":
		e.notice(name + " declined your friend request.")
	case "friend_removed":
		e.notice(name + " removed you as a friend.")
	default:
		if p.Message != "" {
			e.notice(p.Message)
		}
	}
}

func (e *Engine) handleProfileUpdate(p *protocol.ProfileUpdatePush) {
	e.mu.Lock()
	e.user = p.User
	e.mu.Unlock()
	e.fireRoster()
}

// handleChatMemberUpdate replaces the member list without touching the
// chat's message history.
func (e *Engine) handleChatMemberUpdate(p *protocol.ChatMemberUpdatePush) {
	e.mu.Lock()
	chat := e.findChatLocked(p.ChatID)
	if chat == nil {
		e.mu.Unlock()
		return
	}
	if p.Members != nil {
		chat.Members = p.Members
	}
	if p.Chat != nil {
		p.Chat.Members = chat.Members
		if p.Chat.LastMessage == nil {
			p.Chat.LastMessage = chat.LastMessage
		}
		*chat = *p.Chat
	}
	e.mu.Unlock()
	e.fireRoster()
}

func (e *Engine) handleChatDeleted(p *protocol.ChatDeletedPush) {
	e.removeChat(p.ChatID)
}

// removeChat drops a chat from the roster along with its cached
// sequence; the active selection is cleared when it pointed here.
func (e *Engine) removeChat(chatID int64) {
	e.mu.Lock()
	filtered := e.chats[:0]
	removed := false
	for _, c := range e.chats {
		if c.ID == chatID {
			removed = true
			continue
		}
		filtered = append(filtered, c)
	}
	e.chats = filtered
	if !removed {
		e.mu.Unlock()
		return
	}
	e.store.Drop(chatID)
	if e.activeChatID == chatID {
		e.activeChatID = 0
		e.discardEditLocked()
		e.clearIncomingTypingLocked()
	}
	e.mu.Unlock()
	e.fireRoster()
}

// ── chat lifecycle requests ─────────────────────────────────────────────

// CreateChat starts a direct conversation (or group when memberIDs are
// given). The server may return an already-existing chat; the roster is
// de-duplicated and the chat moved to the front either way.
func (e *Engine) CreateChat(ctx context.Context, userID int64, name string, memberIDs []int64) (*domain.Chat, error) {
	req := protocol.CreateChatRequest{Type: "direct", UserID: userID}
	if len(memberIDs) > 0 {
		req = protocol.CreateChatRequest{Type: "group", Name: name, MemberIDs: memberIDs}
	}
	env := e.channel.Request(ctx, protocol.ReqCreateChat, req)
	if !env.OK {
		return nil, fmt.Errorf("create chat: %w", env.Err())
	}
	var resp protocol.ChatResponse
	if err := env.Decode(&resp); err != nil || resp.Chat == nil {
		return nil, fmt.Errorf("create chat response missing chat: %w", domain.ErrInvalidInput)
	}

	e.mu.Lock()
	filtered := e.chats[:0]
	for _, c := range e.chats {
		if c.ID != resp.Chat.ID {
			filtered = append(filtered, c)
		}
	}
	e.chats = append([]*domain.Chat{resp.Chat}, filtered...)
	e.mu.Unlock()
	e.fireRoster()
	return resp.Chat, nil
}

// DeleteChat removes (or for groups, leaves) a conversation.
func (e *Engine) DeleteChat(ctx context.Context, chatID int64) error {
	env := e.channel.Request(ctx, protocol.ReqDeleteChat, protocol.DeleteChatRequest{ChatID: chatID})
	if !env.OK {
		return fmt.Errorf("delete chat: %w", env.Err())
	}
	e.removeChat(chatID)
	return nil
}

// ── contacts and social requests ────────────────────────────────────────

// SearchContacts looks up users by name or @username.
func (e *Engine) SearchContacts(ctx context.Context, query string) ([]*domain.User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty search query: %w", domain.ErrInvalidInput)
	}
	env := e.channel.Request(ctx, protocol.ReqSearchContacts, protocol.SearchContactsRequest{Query: query})
	if !env.OK {
		return nil, fmt.Errorf("search contacts: %w", env.Err())
	}
	var resp protocol.SearchContactsResponse
	if err := env.Decode(&resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// SendFriendRequest asks another user to become a friend.
func (e *Engine) SendFriendRequest(ctx context.Context, userID int64) error {
	env := e.channel.Request(ctx, protocol.ReqFriendRequest, protocol.FriendSendRequest{UserID: userID})
	if !env.OK {
		return fmt.Errorf("send friend request: %w", env.Err())
	}
	return nil
}

// RespondFriendRequest accepts or declines an incoming request. The
// contacts:update push carries the resulting roster change.
func (e *Engine) RespondFriendRequest(ctx context.Context, requestID int64, accept bool) error {
	action := "decline"
	if accept {
		action = "accept"
	}
	env := e.channel.Request(ctx, protocol.ReqFriendRespond, protocol.FriendRespondRequest{
		RequestID: requestID,
		Action:    action,
	})
	if !env.OK {
		return fmt.Errorf("respond to friend request: %w", env.Err())
	}
	return nil
}

// CancelFriendRequest withdraws an outgoing request.
func (e *Engine) CancelFriendRequest(ctx context.Context, requestID int64) error {
	env := e.channel.Request(ctx, protocol.ReqFriendCancel, protocol.FriendCancelRequest{RequestID: requestID})
	if !env.OK {
		return fmt.Errorf("cancel friend request: %w", env.Err())
	}
	return nil
}

// RemoveFriend ends a friendship.
func (e *Engine) RemoveFriend(ctx context.Context, friendID int64) error {
	env := e.channel.Request(ctx, protocol.ReqFriendRemove, protocol.FriendRemoveRequest{FriendID: friendID})
	if !env.OK {
		return fmt.Errorf("remove friend: %w", env.Err())
	}
	return nil
}

// ── group invites ───────────────────────────────────────────────────────

// CanInviteToGroup reports whether the session owner administers the
// group, derived from the member list.
func (e *Engine) CanInviteToGroup(chatID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	chat := e.findChatLocked(chatID)
	if chat == nil || !chat.IsGroup {
		return false
	}
	self := e.selfIDLocked()
	for _, m := range chat.Members {
		if m.User != nil && m.User.ID == self {
			return m.IsAdmin
		}
	}
	return false
}

// InviteToGroup invites users into a group chat.
func (e *Engine) InviteToGroup(ctx context.Context, chatID int64, invitees []int64) error {
	if len(invitees) == 0 {
		return fmt.Errorf("no invitees: %w", domain.ErrInvalidInput)
	}
	if !e.CanInviteToGroup(chatID) {
		return fmt.Errorf("not a group admin: %w", domain.ErrState)
	}
	env := e.channel.Request(ctx, protocol.ReqGroupInvite, protocol.GroupInviteRequest{
		ChatID:   chatID,
		Invitees: invitees,
	})
	if !env.OK {
		return fmt.Errorf("invite to group: %w", env.Err())
	}
	return nil
}

// RespondGroupInvite accepts or declines a group invitation.
func (e *Engine) RespondGroupInvite(ctx context.Context, inviteID int64, accept bool) error {
	action := "decline"
	if accept {
		action = "accept"
	}
	env := e.channel.Request(ctx, protocol.ReqGroupRespond, protocol.GroupRespondRequest{
		InviteID: inviteID,
		Action:   action,
	})
	if !env.OK {
		return fmt.Errorf("respond to group invite: %w", env.Err())
	}
	return nil
}

// CancelGroupInvite withdraws an outgoing group invitation.
func (e *Engine) CancelGroupInvite(ctx context.Context, inviteID int64) error {
	env := e.channel.Request(ctx, protocol.ReqGroupCancel, protocol.GroupCancelRequest{InviteID: inviteID})
	if !env.OK {
		return fmt.Errorf("cancel group invite: %w", env.Err())
	}
	return nil
}

// ── profile ─────────────────────────────────────────────────────────────

// UpdateProfile saves display name, bio and optionally a new avatar.
// Avatar payloads are validated before dispatch: images only, 5MB cap.
func (e *Engine) UpdateProfile(ctx context.Context, displayName, bio string, avatar *protocol.AvatarPayload) error {
	if avatar != nil && !avatar.Remove {
		if !strings.HasPrefix(avatar.Mimetype, "image/") {
			return fmt.Errorf("avatar must be an image: %w", domain.ErrInvalidInput)
		}
		if len(avatar.Data) > maxAvatarBytes {
			return fmt.Errorf("avatar too large: %w", domain.ErrInvalidInput)
		}
	}
	env := e.channel.Request(ctx, protocol.ReqUpdateProfile, protocol.UpdateProfileRequest{
		DisplayName: displayName,
		Bio:         bio,
		Avatar:      avatar,
	})
	if !env.OK {
		return fmt.Errorf("update profile: %w", env.Err())
	}
	var resp protocol.ProfileResponse
	if err := env.Decode(&resp); err == nil && resp.User != nil {
		e.mu.Lock()
		e.user = resp.User
		e.mu.Unlock()
		e.fireRoster()
	}
	return nil
}
