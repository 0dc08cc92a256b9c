package engine

import (
	"context"
	"fmt"

	"client_go/internal/domain"
	"client_go/internal/protocol"
)

// editSession is the single live edit. Engine-wide at most one exists;
// opening another discards the previous draft without persisting it.
type editSession struct {
	messageID int64
	chatID    int64
	draft     string
	saving    bool
}

// EditingMessageID returns the id of the message under edit, zero when
// no session is open.
func (e *Engine) EditingMessageID() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.editing == nil {
		return 0
	}
	return e.editing.messageID
}

// BeginEdit opens an edit session for a message. The message must be
// self-authored, persisted and not deleted. Any prior session is
// superseded; its unsaved draft is discarded.
func (e *Engine) BeginEdit(messageID int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	msg, ok := e.store.Find(messageID)
	if !ok {
		return fmt.Errorf("message %d: %w", messageID, domain.ErrNotFound)
	}
	if !msg.SelfAuthored(e.selfIDLocked()) {
		return fmt.Errorf("cannot edit another user's message: %w", domain.ErrState)
	}
	if !msg.Persisted() {
		return fmt.Errorf("message not yet persisted: %w", domain.ErrState)
	}
	if msg.IsDeleted {
		return fmt.Errorf("message is deleted: %w", domain.ErrState)
	}

	e.editing = &editSession{
		messageID: messageID,
		chatID:    msg.ChatID,
		draft:     msg.Body,
	}
	return nil
}

// CancelEdit closes the live session. Purely local, no round trip.
func (e *Engine) CancelEdit() {
	e.mu.Lock()
	e.discardEditLocked()
	e.mu.Unlock()
}

// SaveEdit submits the edit. Saving an unchanged body just closes the
// session. On rejection or timeout the session reverts to editing so
// the draft is not lost; the eventual message:updated push is an
// alternate completion source and will end the session idempotently.
func (e *Engine) SaveEdit(ctx context.Context, text string) error {
	e.mu.Lock()
	if e.editing == nil {
		e.mu.Unlock()
		return fmt.Errorf("no edit session open: %w", domain.ErrState)
	}
	if e.editing.saving {
		e.mu.Unlock()
		return fmt.Errorf("edit already saving: %w", domain.ErrState)
	}
	if text == "" {
		e.mu.Unlock()
		return fmt.Errorf("message cannot be empty: %w", domain.ErrInvalidInput)
	}
	messageID := e.editing.messageID
	chatID := e.editing.chatID
	if msg, ok := e.store.Find(messageID); ok && msg.Body == text {
		e.discardEditLocked()
		e.mu.Unlock()
		e.fireConversation(chatID)
		return nil
	}
	e.editing.saving = true
	e.editing.draft = text
	e.mu.Unlock()

	env := e.channel.Request(ctx, protocol.ReqEditMessage, protocol.EditMessageRequest{
		MessageID: messageID,
		ChatID:    chatID,
		Body:      text,
	})

	if !env.OK {
		e.mu.Lock()
		if e.editing != nil && e.editing.messageID == messageID {
			e.editing.saving = false
		}
		e.mu.Unlock()
		return fmt.Errorf("edit message: %w", env.Err())
	}

	var resp protocol.MessageResponse
	if err := env.Decode(&resp); err == nil && resp.Message != nil {
		e.applyMessageUpdate(resp.Message)
	}
	return nil
}

// DeleteMessage tombstones a message: confirmed deletions keep the
// record and its position but clear the displayed content. The
// message:deleted push doubles as completion when the ack is lost.
func (e *Engine) DeleteMessage(ctx context.Context, messageID int64) error {
	e.mu.Lock()
	msg, ok := e.store.Find(messageID)
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("message %d: %w", messageID, domain.ErrNotFound)
	}
	if !msg.SelfAuthored(e.selfIDLocked()) {
		e.mu.Unlock()
		return fmt.Errorf("cannot delete another user's message: %w", domain.ErrState)
	}
	if !msg.Persisted() {
		e.mu.Unlock()
		return fmt.Errorf("message not yet persisted: %w", domain.ErrState)
	}
	if msg.IsDeleted {
		e.mu.Unlock()
		return fmt.Errorf("message already deleted: %w", domain.ErrState)
	}
	chatID := msg.ChatID
	e.mu.Unlock()

	env := e.channel.Request(ctx, protocol.ReqDeleteMessage, protocol.DeleteMessageRequest{
		MessageID: messageID,
		ChatID:    chatID,
	})
	if !env.OK {
		return fmt.Errorf("delete message: %w", env.Err())
	}

	var resp protocol.MessageResponse
	if err := env.Decode(&resp); err == nil && resp.Message != nil {
		e.applyMessageUpdate(resp.Message)
	} else {
		e.applyMessageUpdate(&domain.Message{ID: messageID, ChatID: chatID, IsDeleted: true})
	}
	return nil
}

// applyMessageUpdate merges an edit or tombstone into the store in
// place. It completes both the ack and the push paths, so it must be
// idempotent: stale revisions are no-ops. A live edit session for the
// updated message is silently discarded, which also settles the
// edit-vs-delete race in favour of whichever update lands first.
func (e *Engine) applyMessageUpdate(update *domain.Message) {
	e.mu.Lock()
	merged, changed := e.store.ApplyUpdate(update)
	if e.editing != nil && e.editing.messageID == merged.ID {
		e.discardEditLocked()
	}
	chat := e.findChatLocked(merged.ChatID)
	rosterChanged := false
	if chat != nil && chat.LastMessage != nil && chat.LastMessage.ID == merged.ID {
		chat.LastMessage = merged
		rosterChanged = true
	}
	e.mu.Unlock()

	if changed {
		e.fireConversation(merged.ChatID)
	}
	if rosterChanged {
		e.fireRoster()
	}
}

// discardEditLocked drops the live session without persisting the draft.
func (e *Engine) discardEditLocked() {
	e.editing = nil
}
