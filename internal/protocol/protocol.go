package protocol

import (
	"encoding/json"
	"fmt"

	"client_go/internal/domain"
)

// Request event names. Each expects exactly one envelope in response.
const (
	ReqInitialize     = "initialize"
	ReqSendMessage    = "send_message"
	ReqEditMessage    = "message:edit"
	ReqDeleteMessage  = "message:delete"
	ReqOpenChat       = "chat:open"
	ReqCreateChat     = "chat:create"
	ReqDeleteChat     = "chat:delete"
	ReqSearchContacts = "contacts:search"
	ReqFriendRequest  = "friend:send_request"
	ReqFriendRespond  = "friend:respond"
	ReqFriendCancel   = "friend:cancel"
	ReqFriendRemove   = "friend:remove"
	ReqGroupInvite    = "group:invite"
	ReqGroupRespond   = "group:respond"
	ReqGroupCancel    = "group:cancel"
	ReqUpdateProfile  = "me:update"
)

// Fire-and-forget notices; no acknowledgement is expected.
const (
	NoticeTyping     = "chat:typing"
	NoticeStopTyping = "chat:stop_typing"
)

// Server-to-client push event names.
const (
	PushNewMessage       = "new_message"
	PushMessageUpdated   = "message:updated"
	PushMessageDeleted   = "message:deleted"
	PushChatHistory      = "chat:history"
	PushContactsUpdate   = "contacts:update"
	PushFriendUpdate     = "friend:update"
	PushProfileUpdate    = "profile:update"
	PushChatMemberUpdate = "chat:member_update"
	PushChatDeleted      = "chat:deleted"
	PushTyping           = "chat:typing"
	PushStopTyping       = "chat:stop_typing"
)

// Frame is the JSON unit exchanged over the websocket. Requests carry a
// fresh Seq; the matching response carries Ack == Seq. Pushes carry neither.
type Frame struct {
	Event string          `json:"event"`
	Seq   uint64          `json:"seq,omitempty"`
	Ack   uint64          `json:"ack,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Envelope is the terminal result of a request: ok/error plus the
// response body itself (the remaining fields of the same JSON object).
type Envelope struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`

	raw json.RawMessage
}

// ParseEnvelope splits a response body into its ok/error header while
// keeping the raw bytes for Decode.
func ParseEnvelope(data json.RawMessage) (*Envelope, error) {
	env := &Envelope{raw: data}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty response body: %w", domain.ErrInvalidInput)
	}
	if err := json.Unmarshal(data, env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", domain.ErrInvalidInput)
	}
	return env, nil
}

// Fail builds a locally synthesized failure envelope (e.g. timeout).
func Fail(reason string) *Envelope {
	return &Envelope{OK: false, Error: reason}
}

// Decode unmarshals the response body into v.
func (e *Envelope) Decode(v any) error {
	if len(e.raw) == 0 {
		return fmt.Errorf("envelope has no body: %w", domain.ErrInvalidInput)
	}
	if err := json.Unmarshal(e.raw, v); err != nil {
		return fmt.Errorf("decode response: %w", domain.ErrInvalidInput)
	}
	return nil
}

// Err converts a failed envelope into the engine error taxonomy.
func (e *Envelope) Err() error {
	if e.OK {
		return nil
	}
	switch e.Error {
	case "timeout":
		return fmt.Errorf("%s: %w", e.Error, domain.ErrTimeout)
	case "offline":
		return fmt.Errorf("%s: %w", e.Error, domain.ErrTransport)
	default:
		if e.Error == "" {
			return domain.ErrRejected
		}
		return fmt.Errorf("%s: %w", e.Error, domain.ErrRejected)
	}
}
