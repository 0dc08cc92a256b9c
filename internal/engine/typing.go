package engine

import (
	"client_go/internal/clock"
	"client_go/internal/domain"
	"client_go/internal/protocol"
)

// outgoingTyping is the open "we are typing" session for one chat. The
// quiet timer resets on every keystroke; firing sends stop-typing.
type outgoingTyping struct {
	timer clock.Timer
}

// incomingTyping is another user's typing indicator with its fallback
// expiry, bounding staleness when the stop notice is lost.
type incomingTyping struct {
	user  *domain.User
	timer clock.Timer
}

// NotifyTypingActivity reports composition activity in a chat. The
// start notice is sent once per session; repeats only rearm the quiet
// timer. Typing state never enters the conversation store.
func (e *Engine) NotifyTypingActivity(chatID int64) {
	e.mu.Lock()
	session, open := e.outTyping[chatID]
	if open {
		session.timer.Stop()
	} else {
		session = &outgoingTyping{}
		e.outTyping[chatID] = session
	}
	session.timer = e.clk.AfterFunc(e.opts.TypingQuiet, func() {
		e.stopTyping(chatID)
	})
	e.mu.Unlock()

	if !open {
		e.channel.Notify(protocol.NoticeTyping, protocol.TypingNotice{ChatID: chatID})
	}
}

func (e *Engine) stopTyping(chatID int64) {
	e.mu.Lock()
	_, open := e.outTyping[chatID]
	delete(e.outTyping, chatID)
	e.mu.Unlock()
	if open {
		e.channel.Notify(protocol.NoticeStopTyping, protocol.TypingNotice{ChatID: chatID})
	}
}

// handleTyping processes incoming typing notices. Only the active chat
// displays presence; everything else is ignored.
func (e *Engine) handleTyping(p *protocol.TypingPush, start bool) {
	e.mu.Lock()
	if p.ChatID != e.activeChatID || p.User == nil || p.User.ID == e.selfIDLocked() {
		e.mu.Unlock()
		return
	}
	users := e.inTyping[p.ChatID]
	if entry, ok := users[p.User.ID]; ok {
		entry.timer.Stop()
	}
	if start {
		if users == nil {
			users = make(map[int64]*incomingTyping)
			e.inTyping[p.ChatID] = users
		}
		chatID, userID := p.ChatID, p.User.ID
		users[userID] = &incomingTyping{
			user: p.User,
			timer: e.clk.AfterFunc(e.opts.TypingExpiry, func() {
				e.expireTyping(chatID, userID)
			}),
		}
	} else {
		delete(users, p.User.ID)
	}
	e.mu.Unlock()
	e.fireTyping(p.ChatID)
}

func (e *Engine) expireTyping(chatID, userID int64) {
	e.mu.Lock()
	users := e.inTyping[chatID]
	_, ok := users[userID]
	delete(users, userID)
	e.mu.Unlock()
	if ok {
		e.fireTyping(chatID)
	}
}

// TypingUsers lists users currently typing in a chat.
func (e *Engine) TypingUsers(chatID int64) []*domain.User {
	e.mu.Lock()
	defer e.mu.Unlock()
	users := e.inTyping[chatID]
	out := make([]*domain.User, 0, len(users))
	for _, entry := range users {
		out = append(out, entry.user)
	}
	return out
}

// clearIncomingTypingLocked drops all displayed indicators; used when
// the active chat changes or a snapshot replaces the session.
func (e *Engine) clearIncomingTypingLocked() {
	for _, users := range e.inTyping {
		for _, entry := range users {
			entry.timer.Stop()
		}
	}
	e.inTyping = make(map[int64]map[int64]*incomingTyping)
}
