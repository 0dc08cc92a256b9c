package engine

import (
	"client_go/internal/domain"
)

// Store holds the per-chat message sequences: ordered by created-at
// (ties broken by arrival) and unique by id. It is not safe for
// concurrent use; the engine mutex serializes every mutation.
type Store struct {
	sequences map[int64][]*domain.Message
}

func NewStore() *Store {
	return &Store{sequences: make(map[int64][]*domain.Message)}
}

// Get returns the sequence for a chat, empty if none exists yet.
func (s *Store) Get(chatID int64) []*domain.Message {
	return s.sequences[chatID]
}

// Has reports whether a history has been cached for the chat.
func (s *Store) Has(chatID int64) bool {
	_, ok := s.sequences[chatID]
	return ok
}

// AppendOrMerge inserts a message, matching an existing entry first by
// id, then by client reference. Merging preserves position; the sequence
// never ends up with duplicate ids.
func (s *Store) AppendOrMerge(msg *domain.Message) *domain.Message {
	seq := s.sequences[msg.ChatID]
	idx := s.indexOf(seq, msg.ID, msg.ClientRef)
	if idx >= 0 {
		merged := mergeMessage(seq[idx], msg)
		seq[idx] = merged
		s.sequences[msg.ChatID] = seq
		return merged
	}
	s.sequences[msg.ChatID] = insertOrdered(seq, msg)
	return msg
}

// ApplyUpdate mutates an existing entry in place, keyed by id. Position
// is always preserved; edits and deletes never reorder a sequence. A
// stale update (lower revision than what is already stored) is a no-op.
// Updates for unknown ids are inserted, covering pushes that originate
// in another session.
func (s *Store) ApplyUpdate(msg *domain.Message) (*domain.Message, bool) {
	seq := s.sequences[msg.ChatID]
	idx := s.indexOf(seq, msg.ID, msg.ClientRef)
	if idx < 0 {
		s.sequences[msg.ChatID] = insertOrdered(seq, msg)
		return msg, true
	}
	current := seq[idx]
	if msg.Revision != 0 && current.Revision != 0 && msg.Revision <= current.Revision {
		return current, false
	}
	merged := mergeMessage(current, msg)
	seq[idx] = merged
	return merged, true
}

// ReplaceHistory swaps in the server's full history for a chat.
func (s *Store) ReplaceHistory(chatID int64, msgs []*domain.Message) {
	seq := make([]*domain.Message, 0, len(msgs))
	for _, m := range msgs {
		seq = insertOrdered(seq, m)
	}
	s.sequences[chatID] = seq
}

// Drop discards the cached sequence for a chat.
func (s *Store) Drop(chatID int64) {
	delete(s.sequences, chatID)
}

// Retain drops every cached sequence whose chat id is absent from keep.
func (s *Store) Retain(keep map[int64]struct{}) {
	for chatID := range s.sequences {
		if _, ok := keep[chatID]; !ok {
			delete(s.sequences, chatID)
		}
	}
}

// DropPending removes optimistic entries that never reached a terminal
// state. Used after a full resync, when their outcome is unknowable.
func (s *Store) DropPending() {
	for chatID, seq := range s.sequences {
		filtered := seq[:0]
		for _, m := range seq {
			if !m.Persisted() && m.Status == domain.StatusPending {
				continue
			}
			filtered = append(filtered, m)
		}
		s.sequences[chatID] = filtered
	}
}

// Find locates a message by id across all chats.
func (s *Store) Find(messageID int64) (*domain.Message, bool) {
	for _, seq := range s.sequences {
		for _, m := range seq {
			if m.ID == messageID {
				return m, true
			}
		}
	}
	return nil, false
}

// FindByRef locates a message by client reference within a chat.
func (s *Store) FindByRef(chatID int64, clientRef string) (*domain.Message, bool) {
	if clientRef == "" {
		return nil, false
	}
	for _, m := range s.sequences[chatID] {
		if m.ClientRef == clientRef {
			return m, true
		}
	}
	return nil, false
}

func (s *Store) indexOf(seq []*domain.Message, id int64, clientRef string) int {
	if id > 0 {
		for i, m := range seq {
			if m.ID == id {
				return i
			}
		}
	}
	if clientRef != "" {
		for i, m := range seq {
			if m.ClientRef == clientRef {
				return i
			}
		}
	}
	return -1
}

// insertOrdered keeps created-at ordering with ties broken by arrival:
// the new entry goes after every message that does not sort strictly
// later.
func insertOrdered(seq []*domain.Message, msg *domain.Message) []*domain.Message {
	pos := len(seq)
	for pos > 0 && seq[pos-1].CreatedAt.After(msg.CreatedAt) {
		pos--
	}
	seq = append(seq, nil)
	copy(seq[pos+1:], seq[pos:])
	seq[pos] = msg
	return seq
}

// mergeMessage overlays server-confirmed values onto an existing entry.
// Identity fields survive when the update omits them, and a tombstone
// clears displayed content while the record itself is retained.
func mergeMessage(current, update *domain.Message) *domain.Message {
	merged := *update
	if merged.ID == 0 {
		merged.ID = current.ID
	}
	if merged.ClientRef == "" {
		merged.ClientRef = current.ClientRef
	}
	if merged.Sender == nil {
		merged.Sender = current.Sender
	}
	if merged.CreatedAt.IsZero() {
		merged.CreatedAt = current.CreatedAt
	}
	if merged.Status == "" {
		merged.Status = current.Status
	}
	if merged.Revision < current.Revision {
		merged.Revision = current.Revision
	}
	if !merged.IsDeleted {
		merged.IsDeleted = current.IsDeleted
	}
	if merged.IsDeleted {
		merged.Body = ""
		merged.Attachments = nil
	}
	return &merged
}
