package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatbot-api/internal/auth"
	"chatbot-api/internal/cache"
	"chatbot-api/internal/domain"
	"chatbot-api/internal/metrics"
	"chatbot-api/internal/ratelimit"
	"chatbot-api/internal/repository"
	"chatbot-api/internal/repository/sqlstore"
	"chatbot-api/internal/service"
	"chatbot-api/internal/upstream"
)

type stubCompleter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *stubCompleter) Complete(_ context.Context, message string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return "echo: " + message, nil
}

type brokenChats struct {
	repository.ChatRepository
}

func (brokenChats) Create(context.Context, *domain.Chat) (int64, error) {
	return 0, errors.New("disk full")
}

type testServer struct {
	router    *gin.Engine
	completer *stubCompleter
	tokens    *auth.TokenManager
	metrics   *metrics.Metrics
}

type serverOptions struct {
	maxRequests  int
	brokenWrites bool
	throttleRPS  float64
}

func newTestServer(t *testing.T, opts serverOptions) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	db, err := sqlstore.Open(sqlstore.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	userRepo := sqlstore.NewUserRepository(db)
	var chatRepo repository.ChatRepository = sqlstore.NewChatRepository(db)
	require.NoError(t, userRepo.Init(ctx))
	require.NoError(t, chatRepo.Init(ctx))
	if opts.brokenWrites {
		chatRepo = brokenChats{ChatRepository: chatRepo}
	}

	if opts.maxRequests == 0 {
		opts.maxRequests = 10
	}

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	tokens, err := auth.NewTokenManager("test-secret", "HS256", time.Minute)
	require.NoError(t, err)

	m := metrics.New()
	completer := &stubCompleter{}
	users := service.NewUserService(userRepo, db)
	chats := service.NewChatService(
		chatRepo,
		db,
		ratelimit.NewSlidingWindow(time.Minute, opts.maxRequests),
		cache.NewResponseCache(5*time.Minute, 100),
		completer,
		m,
		logger,
	)
	exports := service.NewExportService(chatRepo, nil, "", "")

	handler := NewHandler(users, chats, exports, tokens, logger, Options{
		Metrics:       m,
		MetricsPath:   "/metrics",
		ThrottleRPS:   opts.throttleRPS,
		ThrottleBurst: 2,
	})
	router := gin.New()
	handler.RegisterRoutes(router)

	return &testServer{router: router, completer: completer, tokens: tokens, metrics: m}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) postJSON(path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return s.do(req)
}

func (s *testServer) get(path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return s.do(req)
}

func (s *testServer) login(username, password string) *httptest.ResponseRecorder {
	form := url.Values{"username": {username}, "password": {password}}
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return s.do(req)
}

func (s *testServer) registerAndLogin(t *testing.T, username, email string) string {
	t.Helper()
	rec := s.postJSON("/api/auth/register",
		fmt.Sprintf(`{"username":%q,"email":%q,"password":"pw123"}`, username, email), "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.login(username, "pw123")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var tok tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tok))
	require.Equal(t, "bearer", tok.TokenType)
	require.NotEmpty(t, tok.AccessToken)
	return tok.AccessToken
}

func decodeDetail(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestChatFlow(t *testing.T) {
	srv := newTestServer(t, serverOptions{})
	token := srv.registerAndLogin(t, "alice", "a@x.com")

	rec := srv.postJSON("/api/chat/chat", `{"message":"hello"}`, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var first ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, "hello", first.Message)
	assert.Equal(t, "echo: hello", first.Response)
	_, err := time.Parse(time.RFC3339, first.CreatedAt)
	assert.NoError(t, err)

	rec = srv.postJSON("/api/chat/chat", `{"message":"again"}`, token)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = srv.get("/api/chat/chats", token)
	require.Equal(t, http.StatusOK, rec.Code)
	var history []ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history, 2)
	assert.Equal(t, "again", history[0].Message)
	assert.Equal(t, "hello", history[1].Message)
}

func TestHistoryIsScopedToUser(t *testing.T) {
	srv := newTestServer(t, serverOptions{})
	alice := srv.registerAndLogin(t, "alice", "a@x.com")
	bob := srv.registerAndLogin(t, "bob", "b@x.com")

	rec := srv.postJSON("/api/chat/chat", `{"message":"hello"}`, alice)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = srv.get("/api/chat/chats", bob)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestRegisterDuplicate(t *testing.T) {
	srv := newTestServer(t, serverOptions{})
	srv.registerAndLogin(t, "alice", "a@x.com")

	rec := srv.postJSON("/api/auth/register", `{"username":"alice","email":"other@x.com","password":"pw"}`, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, service.ErrUserAlreadyExists.Error(), decodeDetail(t, rec).Detail)

	rec = srv.postJSON("/api/auth/register", `{"username":"carol","email":"a@x.com","password":"pw"}`, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterValidation(t *testing.T) {
	srv := newTestServer(t, serverOptions{})

	cases := map[string]string{
		"missing password": `{"username":"alice","email":"a@x.com"}`,
		"bad email":        `{"username":"alice","email":"nope","password":"pw"}`,
		"long username":    fmt.Sprintf(`{"username":%q,"email":"a@x.com","password":"pw"}`, strings.Repeat("u", 51)),
		"malformed":        `{"username":`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := srv.postJSON("/api/auth/register", body, "")
			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
		})
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	srv := newTestServer(t, serverOptions{})
	srv.registerAndLogin(t, "alice", "a@x.com")

	for _, tc := range []struct{ username, password string }{
		{"alice", "wrong"},
		{"nobody", "pw123"},
	} {
		rec := srv.login(tc.username, tc.password)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
		assert.Equal(t, service.ErrInvalidCredentials.Error(), decodeDetail(t, rec).Detail)
	}
}

func TestChatRequiresValidToken(t *testing.T) {
	srv := newTestServer(t, serverOptions{})
	srv.registerAndLogin(t, "alice", "a@x.com")

	other, err := auth.NewTokenManager("another-secret", "HS256", time.Minute)
	require.NoError(t, err)
	forged, err := other.Issue("alice", 0)
	require.NoError(t, err)
	ghost, err := srv.tokens.Issue("ghost", 0)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"missing":      "",
		"garbage":      "not-a-token",
		"wrong secret": forged,
		"unknown user": ghost,
	} {
		t.Run(name, func(t *testing.T) {
			rec := srv.postJSON("/api/chat/chat", `{"message":"hello"}`, token)
			require.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
			assert.Equal(t, auth.ErrUnauthenticated.Error(), decodeDetail(t, rec).Detail)
		})
	}
	assert.Zero(t, srv.completer.calls)
}

func TestChatValidation(t *testing.T) {
	srv := newTestServer(t, serverOptions{})
	token := srv.registerAndLogin(t, "alice", "a@x.com")

	for name, body := range map[string]string{
		"empty":     `{"message":""}`,
		"missing":   `{}`,
		"too long":  fmt.Sprintf(`{"message":%q}`, strings.Repeat("x", domain.MaxMessageLength+1)),
		"malformed": `{"message":`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := srv.postJSON("/api/chat/chat", body, token)
			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
		})
	}

	rec := srv.postJSON("/api/chat/chat", fmt.Sprintf(`{"message":%q}`, strings.Repeat("x", domain.MaxMessageLength)), token)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestChatRateLimit(t *testing.T) {
	srv := newTestServer(t, serverOptions{maxRequests: 2})
	token := srv.registerAndLogin(t, "alice", "a@x.com")

	for i := 0; i < 2; i++ {
		rec := srv.postJSON("/api/chat/chat", fmt.Sprintf(`{"message":"m%d"}`, i), token)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := srv.postJSON("/api/chat/chat", `{"message":"m2"}`, token)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	body := decodeDetail(t, rec)
	assert.Equal(t, 2, body.Limit)
	assert.Equal(t, 60, body.WindowSeconds)
	assert.Equal(t, 2, srv.completer.calls)

	rec = srv.get("/api/chat/chats", token)
	var history []ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	assert.Len(t, history, 2)
}

func TestChatCachedResponse(t *testing.T) {
	srv := newTestServer(t, serverOptions{})
	token := srv.registerAndLogin(t, "alice", "a@x.com")

	for i := 0; i < 2; i++ {
		rec := srv.postJSON("/api/chat/chat", `{"message":"same"}`, token)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, 1, srv.completer.calls)

	rec := srv.get("/api/chat/chats", token)
	var history []ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history, 2)
	assert.NotEqual(t, history[0].ID, history[1].ID)
}

func TestChatUpstreamFailures(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		detail string
	}{
		{"timeout", upstream.ErrTimeout, http.StatusGatewayTimeout, "upstream service timed out"},
		{"status", &upstream.StatusError{Status: 502, Message: "bad gateway"}, http.StatusInternalServerError, "upstream service error (status 502)"},
		{"unauthorized", upstream.ErrUnauthorized, http.StatusInternalServerError, "upstream service error"},
		{"malformed", upstream.ErrMalformedResponse, http.StatusInternalServerError, "upstream service error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(t, serverOptions{})
			token := srv.registerAndLogin(t, "alice", "a@x.com")
			srv.completer.err = tc.err

			rec := srv.postJSON("/api/chat/chat", `{"message":"hello"}`, token)
			require.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.detail, decodeDetail(t, rec).Detail)

			rec = srv.get("/api/chat/chats", token)
			assert.JSONEq(t, `[]`, rec.Body.String())
		})
	}
}

func TestChatPersistenceFailure(t *testing.T) {
	srv := newTestServer(t, serverOptions{brokenWrites: true})
	token := srv.registerAndLogin(t, "alice", "a@x.com")

	rec := srv.postJSON("/api/chat/chat", `{"message":"hello"}`, token)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, internalErrorDetail, decodeDetail(t, rec).Detail)
	assert.NotContains(t, rec.Body.String(), "echo: hello")
}

func TestExportDisabled(t *testing.T) {
	srv := newTestServer(t, serverOptions{})
	token := srv.registerAndLogin(t, "alice", "a@x.com")

	rec := srv.postJSON("/api/chat/export", `{}`, token)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, service.ErrExportDisabled.Error(), decodeDetail(t, rec).Detail)
}

func TestAuthThrottle(t *testing.T) {
	srv := newTestServer(t, serverOptions{throttleRPS: 0.001})

	var last int
	for i := 0; i < 3; i++ {
		last = srv.login("nobody", "pw").Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestHealthMetricsAndCORS(t *testing.T) {
	srv := newTestServer(t, serverOptions{})

	rec := srv.get("/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	req := httptest.NewRequest(http.MethodOptions, "/api/chat/chat", nil)
	rec = srv.do(req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = srv.get("/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "chatbot_http_requests_total")
}
