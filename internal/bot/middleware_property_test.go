package bot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v3"
	"pgregory.net/rapid"

	"courtqueue/internal/config"
)

// fakeContext implements the parts of tele.Context the middleware touches.
type fakeContext struct {
	tele.Context
	sender  *tele.User
	chat    *tele.Chat
	text     string
	callback *tele.Callback
	replies  []string
	toasts   []string
}

func (f *fakeContext) Sender() *tele.User { return f.sender }
func (f *fakeContext) Chat() *tele.Chat   { return f.chat }
func (f *fakeContext) Text() string       { return f.text }

func (f *fakeContext) Callback() *tele.Callback { return f.callback }

func (f *fakeContext) Respond(resp ...*tele.CallbackResponse) error {
	for _, r := range resp {
		f.toasts = append(f.toasts, r.Text)
	}
	return nil
}

func (f *fakeContext) Reply(what interface{}, _ ...interface{}) error {
	if s, ok := what.(string); ok {
		f.replies = append(f.replies, s)
	}
	return nil
}

func passThrough(called *bool) tele.HandlerFunc {
	return func(tele.Context) error {
		*called = true
		return nil
	}
}

// TestAdminPermissionCheckProperty checks that a user is admin exactly when
// their id is configured.
func TestAdminPermissionCheckProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		adminIDs := rapid.SliceOfN(rapid.Int64Range(1, 1000000000), 1, 10).Draw(t, "adminIDs")
		cfg := &config.Config{Admin: config.AdminConfig{IDs: adminIDs}}

		userID := rapid.Int64Range(1, 1000000000).Draw(t, "userID")

		expected := false
		for _, id := range adminIDs {
			if id == userID {
				expected = true
				break
			}
		}
		if cfg.IsAdmin(userID) != expected {
			t.Fatalf("admin check mismatch: userID=%d adminIDs=%v expected=%v", userID, adminIDs, expected)
		}

		known := adminIDs[rapid.IntRange(0, len(adminIDs)-1).Draw(t, "adminIndex")]
		if !cfg.IsAdmin(known) {
			t.Fatalf("known admin %d not recognized", known)
		}
	})
}

// TestWhitelistEnforcementProperty checks that a group chat is allowed exactly
// when it is whitelisted.
func TestWhitelistEnforcementProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		chatIDs := rapid.SliceOfN(rapid.Int64Range(-1000000000, -1), 1, 10).Draw(t, "chatIDs")
		cfg := &config.Config{Whitelist: config.WhitelistConfig{Chats: chatIDs}}

		chatID := rapid.Int64Range(-1000000000, -1).Draw(t, "chatID")

		expected := false
		for _, id := range chatIDs {
			if id == chatID {
				expected = true
				break
			}
		}

		ctx := &fakeContext{
			sender: &tele.User{ID: rapid.Int64Range(1, 1000).Draw(t, "userID")},
			chat:   &tele.Chat{ID: chatID, Type: tele.ChatGroup},
		}
		called := false
		err := newChatGate(cfg).Middleware()(passThrough(&called))(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if called != expected {
			t.Fatalf("whitelist mismatch: chatID=%d chats=%v expected=%v", chatID, chatIDs, expected)
		}
	})
}

// TestEmptyWhitelistAllowsAllChatsProperty checks the empty whitelist case.
func TestEmptyWhitelistAllowsAllChatsProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cfg := &config.Config{}
		chatID := rapid.Int64Range(-1000000000, -1).Draw(t, "chatID")
		if !cfg.IsChatAllowed(chatID) {
			t.Fatalf("with empty whitelist chat %d should be allowed", chatID)
		}
	})
}

func TestChatGate_PrivateChatAfterGroup(t *testing.T) {
	cfg := &config.Config{Whitelist: config.WhitelistConfig{Chats: []int64{-100}}}
	gate := newChatGate(cfg)
	mw := gate.Middleware()
	user := &tele.User{ID: 42}

	called := false
	dm := &fakeContext{sender: user, chat: &tele.Chat{ID: 42, Type: tele.ChatPrivate}}
	require.NoError(t, mw(passThrough(&called))(dm))
	assert.False(t, called, "unknown user must be ignored in private chat")

	group := &fakeContext{sender: user, chat: &tele.Chat{ID: -100, Type: tele.ChatSuperGroup}}
	require.NoError(t, mw(passThrough(&called))(group))
	assert.True(t, called)
	assert.True(t, gate.Seen(42))

	called = false
	require.NoError(t, mw(passThrough(&called))(dm))
	assert.True(t, called, "user seen in a whitelisted group may use private chat")
}

func TestAdminMiddleware(t *testing.T) {
	mw := AdminMiddleware(func(id int64) bool { return id == 7 })

	called := false
	admin := &fakeContext{sender: &tele.User{ID: 7}, text: "/revert 1"}
	require.NoError(t, mw(passThrough(&called))(admin))
	assert.True(t, called)
	assert.Empty(t, admin.replies)

	called = false
	other := &fakeContext{sender: &tele.User{ID: 8}, text: "/revert 1"}
	require.NoError(t, mw(passThrough(&called))(other))
	assert.False(t, called)
	require.Len(t, other.replies, 1)
	assert.Contains(t, other.replies[0], "admins")

	called = false
	press := &fakeContext{sender: &tele.User{ID: 8}, callback: &tele.Callback{Data: "court_refresh"}}
	require.NoError(t, mw(passThrough(&called))(press))
	assert.False(t, called)
	assert.Empty(t, press.replies)
	require.Len(t, press.toasts, 1, "button presses are answered with a toast")

	called = false
	require.NoError(t, mw(passThrough(&called))(&fakeContext{}))
	assert.False(t, called)
}

func TestChatGate_EmptyWhitelistAllowsPrivateChat(t *testing.T) {
	mw := newChatGate(&config.Config{}).Middleware()
	called := false
	dm := &fakeContext{sender: &tele.User{ID: 5}, chat: &tele.Chat{ID: 5, Type: tele.ChatPrivate}}
	require.NoError(t, mw(passThrough(&called))(dm))
	assert.True(t, called)
}

func TestRecoveryMiddleware(t *testing.T) {
	ctx := &fakeContext{sender: &tele.User{ID: 1}}
	panicking := func(tele.Context) error { panic("boom") }

	assert.NotPanics(t, func() {
		_ = RecoveryMiddleware()(panicking)(ctx)
	})
	require.Len(t, ctx.replies, 1)
}
