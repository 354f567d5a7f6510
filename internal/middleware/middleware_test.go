package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/lifeline/internal/model"
	"github.com/capitalize-ai/lifeline/pkg/logger"
)

func userEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(GetUserID(r.Context())))
	})
}

func TestAuth(t *testing.T) {
	const secret = "test-secret"
	h := Auth(secret)(userEcho())

	token, err := IssueToken(secret, "user-42", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-42", rec.Body.String())

	cases := map[string]string{
		"missing":      "",
		"wrong scheme": "Basic " + token,
		"garbage":      "Bearer not-a-token",
	}
	other, err := IssueToken("other-secret", "user-42", time.Hour)
	require.NoError(t, err)
	cases["wrong secret"] = "Bearer " + other
	expired, err := IssueToken(secret, "user-42", -time.Minute)
	require.NoError(t, err)
	cases["expired"] = "Bearer " + expired

	for name, header := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, name)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"), name)
	}
}

func TestIssueToken_RequiresSecret(t *testing.T) {
	_, err := IssueToken("", "u", time.Hour)
	assert.Error(t, err)
}

func TestDefaultUser(t *testing.T) {
	rec := httptest.NewRecorder()
	DefaultUser(model.DefaultUserID)(userEcho()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, model.DefaultUserID, rec.Body.String())
}

func TestLogging_CorrelationID(t *testing.T) {
	var seen string
	h := Logging(logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetCorrelationID(r.Context())
		assert.NotNil(t, LoggerFrom(r.Context(), nil))
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Correlation-ID", "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Correlation-ID"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Correlation-ID"))
}

func TestLogging_CapturesUserFromInnerMiddleware(t *testing.T) {
	var info *requestInfo
	h := Logging(logger.NewNop())(DefaultUser("u1")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info = requestInfoFrom(r.Context())
	})))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	require.NotNil(t, info)
	assert.Equal(t, "u1", info.userID)
}

func TestLoggerFrom_FallbackOutsideRequest(t *testing.T) {
	fallback := logger.NewNop()
	assert.Same(t, fallback, LoggerFrom(context.Background(), fallback))
}

func TestRecover(t *testing.T) {
	h := Recover(logger.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Something went wrong", body["error"])
}

func TestUserRateLimit(t *testing.T) {
	r := chi.NewRouter()
	r.Use(DefaultUser("limited"))
	r.With(UserRateLimit(2, time.Minute)).Post("/send", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/send", nil))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)
}

func TestCORS_Preflight(t *testing.T) {
	h := CORS([]string{"https://app.example.com"})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/agents", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestValidateMessageContent(t *testing.T) {
	text, err := ValidateMessageContent("hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	text, err = ValidateMessageContent(strings.Repeat("é", model.MaxInputLength+10))
	require.NoError(t, err)
	assert.Equal(t, model.MaxInputLength, len([]rune(text)))

	_, err = ValidateMessageContent(string([]byte{0xff, 0xfe}))
	assert.Error(t, err)
}

func TestValidateIDs(t *testing.T) {
	assert.NoError(t, ValidateAgentID(string(model.AgentMaya)))
	assert.NoError(t, ValidateSessionID("maya-wellness-coach_1700000000000"))
	assert.Error(t, ValidateSessionID(""))
	assert.Error(t, ValidateSessionID("a.b"))
	assert.Error(t, ValidateAgentID("../etc"))
	assert.Error(t, ValidateSessionID(strings.Repeat("x", 129)))
}
