package protocol

import (
	"encoding/json"
	"fmt"

	"client_go/internal/domain"
)

// ── request payloads ────────────────────────────────────────────────────

type SendMessageRequest struct {
	ChatID      int64                     `json:"chat_id"`
	Body        string                    `json:"body"`
	Attachments []domain.AttachmentUpload `json:"attachments,omitempty"`
	ClientRef   string                    `json:"client_ref"`
}

type EditMessageRequest struct {
	MessageID int64  `json:"message_id"`
	ChatID    int64  `json:"chat_id"`
	Body      string `json:"body"`
}

type DeleteMessageRequest struct {
	MessageID int64 `json:"message_id"`
	ChatID    int64 `json:"chat_id"`
}

type OpenChatRequest struct {
	ChatID int64 `json:"chat_id"`
}

type CreateChatRequest struct {
	Type      string  `json:"type"` // "direct" | "group"
	UserID    int64   `json:"user_id,omitempty"`
	Name      string  `json:"name,omitempty"`
	MemberIDs []int64 `json:"member_ids,omitempty"`
}

type DeleteChatRequest struct {
	ChatID int64 `json:"chat_id"`
}

type SearchContactsRequest struct {
	Query string `json:"query"`
}

type FriendSendRequest struct {
	UserID int64 `json:"user_id"`
}

type FriendRespondRequest struct {
	RequestID int64  `json:"request_id"`
	Action    string `json:"action"` // "accept" | "decline"
}

type FriendCancelRequest struct {
	RequestID int64 `json:"request_id"`
}

type FriendRemoveRequest struct {
	FriendID int64 `json:"friend_id"`
}

type GroupInviteRequest struct {
	ChatID   int64   `json:"chat_id"`
	Invitees []int64 `json:"invitees"`
}

type GroupRespondRequest struct {
	InviteID int64  `json:"invite_id"`
	Action   string `json:"action"` // "accept" | "decline"
}

type GroupCancelRequest struct {
	InviteID int64 `json:"invite_id"`
}

// AvatarPayload carries a new avatar image or a removal request.
type AvatarPayload struct {
	Name     string `json:"name,omitempty"`
	Mimetype string `json:"mimetype,omitempty"`
	Data     string `json:"data,omitempty"`
	Remove   bool   `json:"remove,omitempty"`
}

type UpdateProfileRequest struct {
	DisplayName string         `json:"display_name"`
	Bio         string         `json:"bio"`
	Avatar      *AvatarPayload `json:"avatar,omitempty"`
}

type TypingNotice struct {
	ChatID int64 `json:"chat_id"`
}

// ── response bodies ─────────────────────────────────────────────────────

type InitializeResponse struct {
	State *domain.Snapshot `json:"state"`
}

type MessageResponse struct {
	Message *domain.Message `json:"message"`
}

type ChatResponse struct {
	Chat *domain.Chat `json:"chat"`
}

type SearchContactsResponse struct {
	Results []*domain.User `json:"results"`
}

type ProfileResponse struct {
	User *domain.User `json:"user"`
}

// ── push payloads ───────────────────────────────────────────────────────

type ChatHistoryPush struct {
	OK       bool              `json:"ok"`
	Error    string            `json:"error,omitempty"`
	ChatID   int64             `json:"chat_id"`
	Chat     *domain.Chat      `json:"chat,omitempty"`
	Messages []*domain.Message `json:"messages"`
}

type ContactsUpdatePush struct {
	Contacts            *domain.Contacts `json:"contacts,omitempty"`
	PendingCount        *int             `json:"pendingCount,omitempty"`
	PendingGroupInvites *int             `json:"pendingGroupInvites,omitempty"`
}

type FriendUpdatePush struct {
	PendingCount *int         `json:"pending_count,omitempty"`
	Action       string       `json:"action,omitempty"`
	FromUser     *domain.User `json:"from_user,omitempty"`
	Message      string       `json:"message,omitempty"`
}

type ProfileUpdatePush struct {
	User *domain.User `json:"user"`
}

type ChatMemberUpdatePush struct {
	ChatID  int64               `json:"chat_id"`
	Members []domain.ChatMember `json:"members,omitempty"`
	Chat    *domain.Chat        `json:"chat,omitempty"`
}

type ChatDeletedPush struct {
	ChatID int64 `json:"chat_id"`
}

type TypingPush struct {
	ChatID int64        `json:"chat_id"`
	User   *domain.User `json:"user"`
}

// DecodePush validates and decodes a push frame body into its typed
// payload. Unknown events return ErrInvalidInput; payloads missing their
// identifying fields are rejected before they can enter the store.
func DecodePush(event string, data json.RawMessage) (any, error) {
	unmarshal := func(v any) error {
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("decode %s: %w", event, domain.ErrInvalidInput)
		}
		return nil
	}

	switch event {
	case PushNewMessage, PushMessageUpdated, PushMessageDeleted:
		var msg domain.Message
		if err := unmarshal(&msg); err != nil {
			return nil, err
		}
		if msg.ChatID == 0 {
			return nil, fmt.Errorf("%s without chat_id: %w", event, domain.ErrInvalidInput)
		}
		return &msg, nil
	case PushChatHistory:
		var p ChatHistoryPush
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		if p.OK && p.ChatID == 0 {
			return nil, fmt.Errorf("chat:history without chat_id: %w", domain.ErrInvalidInput)
		}
		return &p, nil
	case PushContactsUpdate:
		var p ContactsUpdatePush
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		return &p, nil
	case PushFriendUpdate:
		var p FriendUpdatePush
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		return &p, nil
	case PushProfileUpdate:
		var p ProfileUpdatePush
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		if p.User == nil {
			return nil, fmt.Errorf("profile:update without user: %w", domain.ErrInvalidInput)
		}
		return &p, nil
	case PushChatMemberUpdate:
		var p ChatMemberUpdatePush
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		if p.ChatID == 0 {
			return nil, fmt.Errorf("chat:member_update without chat_id: %w", domain.ErrInvalidInput)
		}
		return &p, nil
	case PushChatDeleted:
		var p ChatDeletedPush
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		if p.ChatID == 0 {
			return nil, fmt.Errorf("chat:deleted without chat_id: %w", domain.ErrInvalidInput)
		}
		return &p, nil
	case PushTyping, PushStopTyping:
		var p TypingPush
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		if p.ChatID == 0 || p.User == nil {
			return nil, fmt.Errorf("%s without chat_id or user: %w", event, domain.ErrInvalidInput)
		}
		return &p, nil
	default:
		return nil, fmt.Errorf("unknown push event %q: %w", event, domain.ErrInvalidInput)
	}
}
