package engine_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"client_go/internal/engine"
	"client_go/internal/protocol"
)

func pushTyping(t *testing.T, eng *engine.Engine, event string, p protocol.TypingPush) {
	t.Helper()
	data, err := json.Marshal(p)
	require.NoError(t, err)
	eng.HandlePush(event, data)
}

func TestOutgoingTypingQuietTimer(t *testing.T) {
	eng, ch, clk := newTestEngine(t, engine.Hooks{})
	seedSnapshot(t, eng, baseSnapshot())

	eng.NotifyTypingActivity(42)
	assert.Equal(t, []string{protocol.NoticeTyping}, ch.sentNotices(), "start notice sent once per session")

	// Continued activity only rearms the quiet timer.
	clk.Advance(time.Second)
	eng.NotifyTypingActivity(42)
	clk.Advance(time.Second)
	assert.Equal(t, []string{protocol.NoticeTyping}, ch.sentNotices())

	// Silence past the quiet window ends the session.
	clk.Advance(800 * time.Millisecond)
	assert.Equal(t, []string{protocol.NoticeTyping, protocol.NoticeStopTyping}, ch.sentNotices())

	// The next keystroke opens a fresh session.
	eng.NotifyTypingActivity(42)
	assert.Equal(t, []string{protocol.NoticeTyping, protocol.NoticeStopTyping, protocol.NoticeTyping}, ch.sentNotices())
}

func TestIncomingTypingExpiry(t *testing.T) {
	var typingEvents int
	eng, _, clk := newTestEngine(t, engine.Hooks{
		OnTyping: func(chatID int64) { typingEvents++ },
	})
	snap := baseSnapshot()
	snap.UI.ActiveChatID = 42
	seedSnapshot(t, eng, snap)

	pushTyping(t, eng, protocol.PushTyping, protocol.TypingPush{ChatID: 42, User: bob})
	require.Len(t, eng.TypingUsers(42), 1)
	assert.Equal(t, 1, typingEvents)

	// The stop notice never arrives; the indicator must still expire.
	clk.Advance(2500 * time.Millisecond)
	assert.Empty(t, eng.TypingUsers(42))
	assert.Equal(t, 2, typingEvents)
}

func TestIncomingTypingStopClearsImmediately(t *testing.T) {
	eng, _, _ := newTestEngine(t, engine.Hooks{})
	snap := baseSnapshot()
	snap.UI.ActiveChatID = 42
	seedSnapshot(t, eng, snap)

	pushTyping(t, eng, protocol.PushTyping, protocol.TypingPush{ChatID: 42, User: bob})
	require.Len(t, eng.TypingUsers(42), 1)

	pushTyping(t, eng, protocol.PushStopTyping, protocol.TypingPush{ChatID: 42, User: bob})
	assert.Empty(t, eng.TypingUsers(42))
}

func TestIncomingTypingRepeatExtendsExpiry(t *testing.T) {
	eng, _, clk := newTestEngine(t, engine.Hooks{})
	snap := baseSnapshot()
	snap.UI.ActiveChatID = 42
	seedSnapshot(t, eng, snap)

	pushTyping(t, eng, protocol.PushTyping, protocol.TypingPush{ChatID: 42, User: bob})
	clk.Advance(2 * time.Second)
	pushTyping(t, eng, protocol.PushTyping, protocol.TypingPush{ChatID: 42, User: bob})
	clk.Advance(2 * time.Second)
	assert.Len(t, eng.TypingUsers(42), 1, "repeat notices rearm the expiry")

	clk.Advance(time.Second)
	assert.Empty(t, eng.TypingUsers(42))
}

func TestIncomingTypingIgnored(t *testing.T) {
	eng, _, _ := newTestEngine(t, engine.Hooks{})
	snap := baseSnapshot()
	snap.UI.ActiveChatID = 42
	seedSnapshot(t, eng, snap)

	t.Run("InactiveChat", func(t *testing.T) {
		pushTyping(t, eng, protocol.PushTyping, protocol.TypingPush{ChatID: 7, User: bob})
		assert.Empty(t, eng.TypingUsers(7))
	})

	t.Run("SelfEcho", func(t *testing.T) {
		pushTyping(t, eng, protocol.PushTyping, protocol.TypingPush{ChatID: 42, User: alice})
		assert.Empty(t, eng.TypingUsers(42))
	})
}

func TestSwitchingChatClearsIndicators(t *testing.T) {
	eng, _, _ := newTestEngine(t, engine.Hooks{})
	snap := baseSnapshot()
	snap.UI.ActiveChatID = 42
	seedSnapshot(t, eng, snap)

	pushTyping(t, eng, protocol.PushTyping, protocol.TypingPush{ChatID: 42, User: bob})
	require.Len(t, eng.TypingUsers(42), 1)

	require.NoError(t, eng.OpenChat(context.Background(), 7))
	assert.Empty(t, eng.TypingUsers(42))
}

func TestMultipleUsersTyping(t *testing.T) {
	eng, _, _ := newTestEngine(t, engine.Hooks{})
	snap := baseSnapshot()
	snap.UI.ActiveChatID = 7
	seedSnapshot(t, eng, snap)

	pushTyping(t, eng, protocol.PushTyping, protocol.TypingPush{ChatID: 7, User: bob})
	pushTyping(t, eng, protocol.PushTyping, protocol.TypingPush{ChatID: 7, User: carol})
	assert.Len(t, eng.TypingUsers(7), 2)

	pushTyping(t, eng, protocol.PushStopTyping, protocol.TypingPush{ChatID: 7, User: bob})
	users := eng.TypingUsers(7)
	require.Len(t, users, 1)
	assert.Equal(t, carol.ID, users[0].ID)
}
