package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/sindi-homes/assistant/internal/model"
	"github.com/sindi-homes/assistant/pkg/logger"
)

const secret = "test-secret"

func profileEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(GetProfileID(r.Context())))
	})
}

func TestAuth(t *testing.T) {
	valid, err := IssueToken(secret, "profile-42", time.Hour)
	require.NoError(t, err)
	expired, err := IssueToken(secret, "profile-42", -time.Hour)
	require.NoError(t, err)
	wrongKey, err := IssueToken("other", "profile-42", time.Hour)
	require.NoError(t, err)
	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(secret))
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"valid", "Bearer " + valid, http.StatusOK, "profile-42"},
		{"lowercase scheme", "bearer " + valid, http.StatusOK, "profile-42"},
		{"missing", "", http.StatusUnauthorized, `{"error":"missing authorization header"}`},
		{"basic", "Basic abc", http.StatusUnauthorized, `{"error":"invalid authorization header format"}`},
		{"expired", "Bearer " + expired, http.StatusUnauthorized, `{"error":"invalid token"}`},
		{"wrong key", "Bearer " + wrongKey, http.StatusUnauthorized, `{"error":"invalid token"}`},
		{"no subject", "Bearer " + noSubject, http.StatusUnauthorized, `{"error":"token has no subject"}`},
	}

	handler := Auth(secret)(profileEcho())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			require.Equal(t, tt.status, rec.Code)
			require.Equal(t, tt.body, rec.Body.String())
			if tt.status == http.StatusUnauthorized {
				require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			}
		})
	}
}

func TestAuthRejectsNoneAlgorithm(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "p"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	Auth(secret)(profileEcho()).ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoggingSetsCorrelationID(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Logging(logger.NewNop()))
	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(GetCorrelationID(r.Context())))
	})

	req := httptest.NewRequest(http.MethodGet, "/items/1", nil)
	req.Header.Set("X-Correlation-ID", "corr-1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, "corr-1", rec.Header().Get("X-Correlation-ID"))
	require.Equal(t, "corr-1", rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items/2", nil))
	require.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))
	require.Equal(t, rec.Header().Get("X-Correlation-ID"), rec.Body.String())
}

func TestLoggingKeepsFlusher(t *testing.T) {
	var flushable bool
	h := Logging(logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, flushable = w.(http.Flusher)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.True(t, flushable)
}

func TestRateLimitPerProfile(t *testing.T) {
	limited := RateLimit(2, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	h := Auth(secret)(limited)

	call := func(profile string) *httptest.ResponseRecorder {
		token, err := IssueToken(secret, profile, time.Hour)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusOK, call("a").Code)
	require.Equal(t, http.StatusOK, call("a").Code)
	rec := call("a")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "60", rec.Header().Get("Retry-After"))
	require.Equal(t, http.StatusOK, call("b").Code)
}

func TestValidateChatRequest(t *testing.T) {
	ok := &model.ChatRequest{Messages: []model.ChatMessage{{Role: model.RoleUser, Content: "hi"}}}
	require.NoError(t, ValidateChatRequest(ok))

	require.Error(t, ValidateChatRequest(&model.ChatRequest{}))
	require.Error(t, ValidateChatRequest(&model.ChatRequest{Messages: []model.ChatMessage{{Role: "wizard", Content: "hi"}}}))
	require.Error(t, ValidateChatRequest(&model.ChatRequest{Messages: []model.ChatMessage{{Role: model.RoleAssistant, Content: "hi"}}}))
	require.Error(t, ValidateChatRequest(&model.ChatRequest{Messages: []model.ChatMessage{{Role: model.RoleUser, Content: "   "}}}))
	require.Error(t, ValidateChatRequest(&model.ChatRequest{Messages: []model.ChatMessage{{Role: model.RoleUser, Content: strings.Repeat("a", maxContentBytes+1)}}}))
}

func TestValidateShareToken(t *testing.T) {
	require.NoError(t, ValidateShareToken("Zm9vYmFyYmF6cXV4cXV1eF8tMTIz"))
	require.Error(t, ValidateShareToken("short"))
	require.Error(t, ValidateShareToken("has spaces in the token!!"))
	require.Error(t, ValidateShareToken(strings.Repeat("a", maxShareTokenLen+1)))
}

func TestValidateTitle(t *testing.T) {
	require.NoError(t, ValidateTitle("Berlin flats"))
	require.Error(t, ValidateTitle(strings.Repeat("ä", maxTitleRunes+1)))
	require.Error(t, ValidateTitle(string([]byte{0xff, 0xfe})))
}
