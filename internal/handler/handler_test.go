package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"health-coach-go/internal/middleware"
	"health-coach-go/internal/model"
	"health-coach-go/internal/service"
	"health-coach-go/internal/stream"
	"health-coach-go/pkg/token"
)

const testSecret = "handler-secret"

// fakeChatService 校验消息后逐个输出 tokens。
type fakeChatService struct {
	tokens    []string
	validator *service.MessageValidator
	engine    *stream.Engine
	lastTurn  service.ChatTurn
	hold      chan struct{}
}

func newFakeChatService(tokens ...string) *fakeChatService {
	return &fakeChatService{tokens: tokens, validator: service.NewMessageValidator(50, 8000), engine: stream.NewEngine(4)}
}

func (f *fakeChatService) Start(ctx context.Context, turn service.ChatTurn) (*stream.Stream, error) {
	if _, err := f.validator.Validate(turn.Messages); err != nil {
		return nil, err
	}
	f.lastTurn = turn
	gen := func(ctx context.Context, emit stream.EmitFunc) (string, error) {
		for _, tok := range f.tokens {
			if err := emit(model.TokenEvent(turn.RequestID, tok)); err != nil {
				return "", err
			}
		}
		if f.hold != nil {
			select {
			case <-f.hold:
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		return "fake", nil
	}
	return f.engine.Start(ctx, turn.RequestID, nil, gen, nil), nil
}

func newTestEngine(t *testing.T, chat service.ChatService, history service.HistoryService) (*gin.Engine, *token.JWTManager) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	jwtManager := token.NewJWTManager(testSecret)
	chatHandler := NewChatHandler(chat, jwtManager, nil, nil, true, 1<<16, nil)

	r := gin.New()
	r.Use(middleware.RequestID())
	api := r.Group("/api/v1/coach", middleware.AuthMiddleware(jwtManager))
	api.POST("/chat", middleware.RequireJSON(), middleware.BodyLimit(1<<16), chatHandler.Chat)
	if history != nil {
		api.GET("/threads/:threadId", NewHistoryHandler(history).GetThread)
	}
	r.GET("/chat/:token", chatHandler.HandleWebSocket)
	return r, jwtManager
}

func signed(t *testing.T, m *token.JWTManager, userID uint) string {
	t.Helper()
	tok, err := m.GenerateToken(userID, "u", "USER", time.Hour)
	require.NoError(t, err)
	return tok
}

func readNDJSON(t *testing.T, body string) []model.StreamEvent {
	t.Helper()
	var events []model.StreamEvent
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		var ev model.StreamEvent
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		events = append(events, ev)
	}
	return events
}

func TestChatHandler_StreamsNDJSON(t *testing.T) {
	chat := newFakeChatService("Hel", "lo")
	r, m := newTestEngine(t, chat, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/coach/chat",
		strings.NewReader(`{"messages":[{"role":"user","content":"hi"}],"threadId":"t-1","domain":"sleep"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+signed(t, m, 5))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, stream.ContentTypeNDJSON, w.Header().Get("Content-Type"))
	events := readNDJSON(t, w.Body.String())
	require.Len(t, events, 3)
	assert.Equal(t, "Hel", events[0].Value)
	assert.Equal(t, model.EventDone, events[2].Type)
	assert.Equal(t, w.Header().Get(middleware.HeaderRequestID), events[0].RequestID)

	assert.Equal(t, uint(5), chat.lastTurn.UserID)
	assert.Equal(t, "t-1", chat.lastTurn.ThreadID)
	assert.Equal(t, "sleep", chat.lastTurn.Domain)
}

func TestChatHandler_ValidationErrorIs400(t *testing.T) {
	r, m := newTestEngine(t, newFakeChatService(), nil)

	for _, body := range []string{`{"messages":[]}`, `{"messages":`, `{"messages":[{"role":"user","content":""}]}`} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/coach/chat", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+signed(t, m, 5))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		var eb middleware.ErrorBody
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &eb))
		assert.Equal(t, http.StatusBadRequest, eb.Code)
		assert.NotEmpty(t, eb.RequestID)
	}
}

type fakeHistory struct {
	items []model.HistoryItem
	user  uint
	limit int
}

func (f *fakeHistory) SaveExchange(context.Context, service.Exchange) error { return nil }
func (f *fakeHistory) SaveExchangeAsync(service.Exchange)                   {}
func (f *fakeHistory) ListThread(_ context.Context, userID uint, _ string, limit int) ([]model.HistoryItem, error) {
	f.user, f.limit = userID, limit
	return f.items, nil
}

func TestHistoryHandler_GetThread(t *testing.T) {
	hist := &fakeHistory{items: []model.HistoryItem{{Role: "user", Content: "hi"}}}
	r, m := newTestEngine(t, newFakeChatService(), hist)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/coach/threads/t-1?limit=10", nil)
	req.Header.Set("Authorization", "Bearer "+signed(t, m, 3))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, uint(3), hist.user)
	assert.Equal(t, 10, hist.limit)
	var body struct {
		Code int                 `json:"code"`
		Data []model.HistoryItem `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, "hi", body.Data[0].Content)
}

func wsURL(srv *httptest.Server, tok string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat/" + tok
}

func readUntilTerminal(t *testing.T, conn *websocket.Conn) []model.StreamEvent {
	t.Helper()
	var events []model.StreamEvent
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var ev model.StreamEvent
		require.NoError(t, conn.ReadJSON(&ev))
		events = append(events, ev)
		if ev.IsTerminal() {
			return events
		}
	}
}

func TestChatHandler_WebSocketRoundTrip(t *testing.T) {
	r, m := newTestEngine(t, newFakeChatService("a", "b"), nil)
	srv := httptest.NewServer(r)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, signed(t, m, 4)), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"messages":[{"role":"user","content":"hi"}]}`)))
	events := readUntilTerminal(t, conn)
	require.Len(t, events, 3)
	assert.Equal(t, model.EventDone, events[2].Type)

	// 同一连接上的第二个请求，以及校验失败的请求
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"messages":[]}`)))
	events = readUntilTerminal(t, conn)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventError, events[0].Type)
}

func TestChatHandler_WebSocketStop(t *testing.T) {
	chat := newFakeChatService("first")
	chat.hold = make(chan struct{})
	r, m := newTestEngine(t, chat, nil)
	srv := httptest.NewServer(r)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, signed(t, m, 4)), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"messages":[{"role":"user","content":"hi"}]}`)))
	var first model.StreamEvent
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "first", first.Value)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"stop"}`)))
	events := readUntilTerminal(t, conn)
	last := events[len(events)-1]
	assert.Equal(t, model.EventError, last.Type)
	assert.Equal(t, stream.AbortedMessage, last.Error)
}

func TestChatHandler_WebSocketRejectsBadToken(t *testing.T) {
	r, _ := newTestEngine(t, newFakeChatService(), nil)
	srv := httptest.NewServer(r)
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "not-a-token"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
