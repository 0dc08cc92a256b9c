package domain

import "time"

// DeliveryStatus tracks the lifecycle of a locally visible message.
type DeliveryStatus string

const (
	StatusPending   DeliveryStatus = "pending"
	StatusDelivered DeliveryStatus = "delivered"
	StatusError     DeliveryStatus = "error"
	StatusReceived  DeliveryStatus = "received"
)

// UserSettings holds per-user presentation preferences.
type UserSettings struct {
	TimezoneMode   string `json:"timezone_mode,omitempty"`
	TimezoneOffset int    `json:"timezone_offset,omitempty"`
	DatetimeFormat string `json:"datetime_format,omitempty"`
}

// User represents an application user. The session owner is replaced
// wholesale on profile updates and snapshot refreshes.
type User struct {
	ID          int64         `json:"id"`
	Username    string        `json:"username"`
	DisplayName string        `json:"display_name"`
	Avatar      *string       `json:"avatar,omitempty"`
	Bio         string        `json:"bio,omitempty"`
	Email       *string       `json:"email,omitempty"`
	Settings    *UserSettings `json:"settings,omitempty"`
}

// ChatMember is a group chat participant with its admin flag.
type ChatMember struct {
	User    *User `json:"user"`
	IsAdmin bool  `json:"is_admin"`
}

// Chat represents a conversation (direct or group).
type Chat struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name,omitempty"`
	IsGroup     bool         `json:"is_group"`
	Avatar      *string      `json:"avatar,omitempty"`
	Partner     *User        `json:"partner,omitempty"`
	Members     []ChatMember `json:"members,omitempty"`
	LastMessage *Message     `json:"last_message,omitempty"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Attachment references an uploaded (or locally previewed) image.
type Attachment struct {
	URL        string `json:"url,omitempty"`
	PreviewURL string `json:"preview_url,omitempty"`
	Filename   string `json:"filename,omitempty"`
	Mimetype   string `json:"mimetype,omitempty"`
}

// AttachmentUpload is the outgoing payload for a new attachment.
type AttachmentUpload struct {
	Name     string `json:"name"`
	Mimetype string `json:"mimetype"`
	Data     string `json:"data"`
}

// Message represents a single chat message. ID is zero until the server
// has persisted the message; ClientRef correlates an optimistic entry
// with its eventual persisted counterpart.
type Message struct {
	ID          int64          `json:"id,omitempty"`
	ChatID      int64          `json:"chat_id"`
	Sender      *User          `json:"sender,omitempty"`
	Body        string         `json:"body,omitempty"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	Edited      bool           `json:"edited,omitempty"`
	IsDeleted   bool           `json:"is_deleted,omitempty"`
	Status      DeliveryStatus `json:"status,omitempty"`
	ClientRef   string         `json:"client_ref,omitempty"`
	Revision    int64          `json:"revision,omitempty"`
}

// Persisted reports whether the message has a permanent server id.
func (m *Message) Persisted() bool {
	return m != nil && m.ID > 0
}

// SenderID returns the author id, or zero when unknown.
func (m *Message) SenderID() int64 {
	if m == nil || m.Sender == nil {
		return 0
	}
	return m.Sender.ID
}

// SelfAuthored reports whether the message was written by the given user.
func (m *Message) SelfAuthored(userID int64) bool {
	return userID != 0 && m.SenderID() == userID
}

// ContactEntry is a friend-list or friend-request entry.
type ContactEntry struct {
	ID        int64      `json:"id,omitempty"`
	User      *User      `json:"user,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	Since     *time.Time `json:"since,omitempty"`
	Status    string     `json:"status,omitempty"`
}

// GroupInvite is a pending group membership invitation.
type GroupInvite struct {
	ID        int64      `json:"id"`
	ChatID    int64      `json:"chat_id"`
	ChatName  string     `json:"chat_name,omitempty"`
	From      *User      `json:"from,omitempty"`
	To        *User      `json:"to,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// GroupInvites splits invites by direction.
type GroupInvites struct {
	Incoming []GroupInvite `json:"incoming"`
	Outgoing []GroupInvite `json:"outgoing"`
}

// Contacts is the social graph visible to the session owner.
type Contacts struct {
	Friends      []ContactEntry `json:"friends"`
	Incoming     []ContactEntry `json:"incoming"`
	Outgoing     []ContactEntry `json:"outgoing"`
	GroupInvites GroupInvites   `json:"group_invites"`
}

// SnapshotUI carries the server's view of transient UI state.
type SnapshotUI struct {
	ActiveChatID        int64 `json:"activeChatId,omitempty"`
	PendingCount        int   `json:"pendingCount"`
	PendingGroupInvites int   `json:"pendingGroupInvites"`
}

// Snapshot is the full authoritative state delivered by initialize.
// It replaces local state wholesale on every connect.
type Snapshot struct {
	User     *User      `json:"user"`
	Chats    []*Chat    `json:"chats"`
	Contacts *Contacts  `json:"contacts"`
	UI       SnapshotUI `json:"ui"`
}
