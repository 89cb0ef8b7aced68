package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Akash16-Sharma/Conversa/internal/config"
	"github.com/Akash16-Sharma/Conversa/internal/livesync"
	"github.com/Akash16-Sharma/Conversa/internal/memstore"
	"github.com/Akash16-Sharma/Conversa/internal/models"
	"github.com/Akash16-Sharma/Conversa/internal/pool"
	"github.com/Akash16-Sharma/Conversa/internal/realtime"
	"github.com/Akash16-Sharma/Conversa/internal/utils"
)

const testSecret = "handlers-test-secret"

type testServer struct {
	*httptest.Server
	store   *memstore.Store
	screens *pool.Pool
}

func newTestServer(t *testing.T, maxScreens int) *testServer {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	transport := realtime.NewMemoryTransport(log)
	clock := clockwork.NewRealClock()
	store := memstore.New(transport, clock, log)
	screens := pool.New(maxScreens, log)

	cfg := &config.Config{
		Service: config.ServiceConfig{Name: "conversa", Env: "test"},
		Auth:    config.AuthConfig{JWTSecret: testSecret, TokenTTL: time.Hour},
		Sync:    config.SyncConfig{TypingIdle: time.Second, WriteTimeout: time.Second},
		Pool:    config.PoolConfig{MaxScreensPerUser: maxScreens},
	}
	h := New(Deps{
		Config:    cfg,
		Users:     store,
		Profiles:  store,
		Chats:     store,
		Transport: transport,
		Screens:   screens,
		Clock:     clock,
		Log:       log,
	})

	srv := httptest.NewServer(h.Routes())
	t.Cleanup(func() {
		screens.CloseAll()
		srv.Close()
		_ = transport.Close()
	})
	return &testServer{Server: srv, store: store, screens: screens}
}

func (s *testServer) do(t *testing.T, method, path, token string, body, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

type account struct {
	id    uuid.UUID
	token string
}

func (s *testServer) register(t *testing.T, email string, native, learning string) account {
	t.Helper()
	var res tokenResponse
	status := s.do(t, http.MethodPost, "/register", "", credentials{Email: email, Password: "password123"}, &res)
	require.Equal(t, http.StatusCreated, status)

	acc := account{id: uuid.MustParse(res.UserID), token: res.Token}
	if native != "" {
		update := models.ProfileUpdate{NativeLanguage: &native, LearningLanguage: &learning}
		require.Equal(t, http.StatusOK, s.do(t, http.MethodPut, "/api/profile", acc.token, update, nil))
	}
	return acc
}

func (s *testServer) conversation(t *testing.T, from, to account) models.Conversation {
	t.Helper()
	var conv models.Conversation
	status := s.do(t, http.MethodPost, "/api/conversations", from.token, map[string]any{"partner_id": to.id}, &conv)
	require.Equal(t, http.StatusOK, status)
	return conv
}

func TestRegisterAndLogin(t *testing.T) {
	s := newTestServer(t, 0)
	s.register(t, "ana@example.com", "", "")

	var body map[string]string
	status := s.do(t, http.MethodPost, "/register", "", credentials{Email: "ANA@example.com", Password: "password123"}, &body)
	assert.Equal(t, http.StatusConflict, status)

	status = s.do(t, http.MethodPost, "/register", "", credentials{Email: "ben@example.com", Password: "short"}, &body)
	assert.Equal(t, http.StatusBadRequest, status)

	status = s.do(t, http.MethodPost, "/login", "", credentials{Email: "ana@example.com", Password: "wrong-password"}, &body)
	assert.Equal(t, http.StatusUnauthorized, status)

	var res tokenResponse
	status = s.do(t, http.MethodPost, "/login", "", credentials{Email: "ana@example.com", Password: "password123"}, &res)
	require.Equal(t, http.StatusOK, status)
	claims, err := utils.ParseToken([]byte(testSecret), res.Token)
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", claims.Email)
}

func TestSessionResolver(t *testing.T) {
	s := newTestServer(t, 0)

	var redirect map[string]string
	status := s.do(t, http.MethodGet, "/api/session", "", nil, &redirect)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "/login", redirect["redirect"])

	ana := s.register(t, "ana@example.com", "", "")
	var session sessionResponse
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/session", ana.token, nil, &session))
	assert.Equal(t, ana.id.String(), session.UserID)
	assert.True(t, session.HasProfile)

	// A signed-in user whose profile was never created.
	ghost := uuid.New()
	token, err := utils.IssueToken([]byte(testSecret), ghost, "ghost@example.com", time.Hour)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/session", token, nil, &session))
	assert.False(t, session.HasProfile)

	status = s.do(t, http.MethodGet, "/api/matches", token, nil, &redirect)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "/profile", redirect["redirect"])
}

func TestProfileAndMatches(t *testing.T) {
	s := newTestServer(t, 0)
	ana := s.register(t, "ana@example.com", "Spanish", "English")
	ben := s.register(t, "ben@example.com", "English", "Spanish")
	s.register(t, "cai@example.com", "Spanish", "English")

	var profile models.Profile
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/profile", ana.token, nil, &profile))
	assert.Equal(t, "ana", profile.FullName)
	assert.Equal(t, "Spanish", profile.NativeLanguage)

	bad := "Klingon"
	var body map[string]string
	status := s.do(t, http.MethodPut, "/api/profile", ana.token, models.ProfileUpdate{LearningLanguage: &bad}, &body)
	assert.Equal(t, http.StatusBadRequest, status)

	var matches []models.Profile
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/matches", ana.token, nil, &matches))
	require.Len(t, matches, 1)
	assert.Equal(t, ben.id, matches[0].ID)
}

func TestConversationLifecycle(t *testing.T) {
	s := newTestServer(t, 0)
	ana := s.register(t, "ana@example.com", "Spanish", "English")
	ben := s.register(t, "ben@example.com", "English", "Spanish")
	cai := s.register(t, "cai@example.com", "French", "German")

	conv := s.conversation(t, ana, ben)
	again := s.conversation(t, ben, ana)
	assert.Equal(t, conv.ID, again.ID)

	var body map[string]string
	assert.Equal(t, http.StatusBadRequest,
		s.do(t, http.MethodPost, "/api/conversations", ana.token, map[string]any{"partner_id": ana.id}, &body))
	assert.Equal(t, http.StatusNotFound,
		s.do(t, http.MethodPost, "/api/conversations", ana.token, map[string]any{"partner_id": uuid.New()}, &body))

	path := "/api/conversations/" + conv.ID.String()
	var msg models.Message
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, path+"/messages", ana.token, map[string]string{"content": " hola "}, &msg))
	assert.Equal(t, "hola", msg.Content)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, path+"/messages", ana.token, map[string]string{"content": "  "}, &body))
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, path+"/messages", cai.token, map[string]string{"content": "hi"}, &body))
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, path+"/messages", cai.token, nil, &body))

	var messages []models.Message
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, path+"/messages", ben.token, nil, &messages))
	require.Len(t, messages, 1)
	assert.Equal(t, msg.ID, messages[0].ID)

	var inbox []livesync.InboxItem
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/conversations", ben.token, nil, &inbox))
	require.Len(t, inbox, 1)
	assert.Equal(t, "hola", inbox[0].Preview)
	assert.Equal(t, 1, inbox[0].Unread)
	assert.Equal(t, ana.id, inbox[0].Conversation.Counterpart.ID)

	require.Equal(t, http.StatusNoContent, s.do(t, http.MethodPost, path+"/read", ben.token, nil, nil))
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/conversations", ben.token, nil, &inbox))
	assert.Zero(t, inbox[0].Unread)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/conversations/not-a-uuid/messages", ben.token, nil, &body))
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/conversations/"+uuid.NewString()+"/messages", ben.token, nil, &body))
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, 0)
	var body map[string]string
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/healthz", "", nil, &body))
	assert.Equal(t, "ok", body["status"])
}

func TestErrorStatus(t *testing.T) {
	assert.Equal(t, http.StatusTooManyRequests, errorStatus(models.ErrTooManyScreens))
	assert.Equal(t, http.StatusNotFound, errorStatus(models.ErrConversationNotFound))
	assert.Equal(t, http.StatusInternalServerError, errorStatus(io.ErrUnexpectedEOF))
}

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (s *testServer) dial(t *testing.T, path, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.URL, "http") + path + "?token=" + token
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

// readUntil reads frames of frameType until match accepts one.
func readUntil[T any](t *testing.T, ws *websocket.Conn, frameType string, match func(T) bool) T {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var f frame
		require.NoError(t, ws.ReadJSON(&f))
		if f.Type != frameType {
			continue
		}
		var v T
		require.NoError(t, json.Unmarshal(f.Data, &v))
		if match(v) {
			return v
		}
	}
}

func TestChatAndInboxSockets(t *testing.T) {
	s := newTestServer(t, 0)
	ana := s.register(t, "ana@example.com", "Spanish", "English")
	ben := s.register(t, "ben@example.com", "English", "Spanish")
	conv := s.conversation(t, ana, ben)

	benInbox := s.dial(t, "/ws/inbox", ben.token)
	readUntil(t, benInbox, "inbox_state", func(v livesync.InboxView) bool { return len(v.Conversations) == 1 })

	anaChat := s.dial(t, "/ws/chats/"+conv.ID.String(), ana.token)
	benChat := s.dial(t, "/ws/chats/"+conv.ID.String(), ben.token)
	readUntil(t, anaChat, "chat_state", func(v livesync.ChatView) bool { return true })
	readUntil(t, benChat, "chat_state", func(v livesync.ChatView) bool { return true })

	require.NoError(t, anaChat.WriteJSON(inboundFrame{Type: "input", Text: "Hel"}))
	typing := readUntil(t, benChat, "chat_state", func(v livesync.ChatView) bool { return v.OtherTyping })
	assert.Empty(t, typing.Messages)

	require.NoError(t, anaChat.WriteJSON(inboundFrame{Type: "send", Text: "Hello"}))
	for _, ws := range []*websocket.Conn{anaChat, benChat} {
		v := readUntil(t, ws, "chat_state", func(v livesync.ChatView) bool { return len(v.Messages) > 0 })
		require.Len(t, v.Messages, 1)
		assert.Equal(t, "Hello", v.Messages[0].Content)
		assert.Equal(t, ana.id, v.Messages[0].SenderID)
	}

	inbox := readUntil(t, benInbox, "inbox_state", func(v livesync.InboxView) bool { return v.Preview(conv.ID) == "Hello" })
	assert.Equal(t, 1, inbox.Unread(conv.ID))

	// Ben's open chat screen marks the message read.
	require.Eventually(t, func() bool {
		var items []livesync.InboxItem
		s.do(t, http.MethodGet, "/api/conversations", ben.token, nil, &items)
		return len(items) == 1 && items[0].Unread == 0
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, benInbox.WriteJSON(inboundFrame{Type: "refocus"}))
	readUntil(t, benInbox, "inbox_state", func(v livesync.InboxView) bool { return v.Unread(conv.ID) == 0 })
}

func TestChatSocketRejectsOutsiders(t *testing.T) {
	s := newTestServer(t, 0)
	ana := s.register(t, "ana@example.com", "Spanish", "English")
	ben := s.register(t, "ben@example.com", "English", "Spanish")
	cai := s.register(t, "cai@example.com", "English", "Spanish")
	conv := s.conversation(t, ana, ben)

	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws/chats/" + conv.ID.String() + "?token=" + cai.token
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestScreenBudget(t *testing.T) {
	s := newTestServer(t, 1)
	ana := s.register(t, "ana@example.com", "Spanish", "English")

	first := s.dial(t, "/ws/inbox", ana.token)
	readUntil(t, first, "inbox_state", func(v livesync.InboxView) bool { return true })

	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws/inbox?token=" + ana.token
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	require.NoError(t, first.Close())
	require.Eventually(t, func() bool { return s.screens.ScreensOf(ana.id) == 0 }, 3*time.Second, 10*time.Millisecond)
}
