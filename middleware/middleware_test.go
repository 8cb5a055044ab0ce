package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockdash/models"
	"stockdash/services/auth"
)

var testSecret = []byte("middleware-test-secret")

func init() {
	gin.SetMode(gin.TestMode)
}

func token(t *testing.T, role string) string {
	t.Helper()
	user := &models.User{ID: "user-1", Email: "a@example.com", Role: role}
	signed, _, err := auth.IssueAccessToken(testSecret, user, "s1", time.Hour, time.Now())
	require.NoError(t, err)
	return signed
}

func perform(r *gin.Engine, method, path, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	req.RemoteAddr = "10.0.0.1:1234"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func echoUser(c *gin.Context) {
	id, _ := GetUserID(c)
	c.JSON(http.StatusOK, gin.H{"user_id": id, "authenticated": c.GetBool(ContextAuthed)})
}

func TestJWTAuth(t *testing.T) {
	r := gin.New()
	r.GET("/me", JWTAuth(testSecret), echoUser)

	w := perform(r, http.MethodGet, "/me", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = perform(r, http.MethodGet, "/me", "garbage")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Token abc")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = perform(r, http.MethodGet, "/me", token(t, models.RoleUser))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":"user-1","authenticated":true}`, w.Body.String())
}

func TestJWTAuthRejectsForeignSecret(t *testing.T) {
	r := gin.New()
	r.GET("/me", JWTAuth([]byte("other-secret")), echoUser)

	w := perform(r, http.MethodGet, "/me", token(t, models.RoleUser))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOptionalJWTAuth(t *testing.T) {
	r := gin.New()
	r.GET("/quote", OptionalJWTAuth(testSecret), echoUser)

	w := perform(r, http.MethodGet, "/quote", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":"","authenticated":false}`, w.Body.String())

	w = perform(r, http.MethodGet, "/quote", "garbage")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":"","authenticated":false}`, w.Body.String())

	w = perform(r, http.MethodGet, "/quote", token(t, models.RoleUser))
	assert.JSONEq(t, `{"user_id":"user-1","authenticated":true}`, w.Body.String())
}

func TestAdminRole(t *testing.T) {
	r := gin.New()
	r.GET("/admin", JWTAuth(testSecret), AdminRole(), echoUser)

	w := perform(r, http.MethodGet, "/admin", token(t, models.RoleUser))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = perform(r, http.MethodGet, "/admin", token(t, models.RoleAdmin))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLoginLimiterLocksAndExpires(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	rl := NewLoginLimiter(3, 15*time.Minute, 30*time.Minute)
	rl.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		rl.Record("1.2.3.4", false)
	}
	allowed, remaining, _ := rl.Check("1.2.3.4")
	assert.True(t, allowed)
	assert.Equal(t, 1, remaining)

	rl.Record("1.2.3.4", false)
	allowed, _, retry := rl.Check("1.2.3.4")
	assert.False(t, allowed)
	assert.Equal(t, 30*time.Minute, retry)

	other, _, _ := rl.Check("5.6.7.8")
	assert.True(t, other)

	now = now.Add(31 * time.Minute)
	allowed, remaining, _ = rl.Check("1.2.3.4")
	assert.True(t, allowed)
	assert.Equal(t, 3, remaining)
}

func TestLoginLimiterSuccessResets(t *testing.T) {
	rl := NewLoginLimiter(3, 15*time.Minute, 30*time.Minute)
	rl.Record("1.2.3.4", false)
	rl.Record("1.2.3.4", false)
	rl.Record("1.2.3.4", true)

	_, remaining, _ := rl.Check("1.2.3.4")
	assert.Equal(t, 3, remaining)
}

func TestLoginLimiterCleanup(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	rl := NewLoginLimiter(5, 15*time.Minute, 30*time.Minute)
	rl.now = func() time.Time { return now }
	rl.Record("1.2.3.4", false)

	assert.Equal(t, 0, rl.Cleanup())
	now = now.Add(16 * time.Minute)
	assert.Equal(t, 1, rl.Cleanup())
}

func TestLoginRateLimitMiddleware(t *testing.T) {
	rl := NewLoginLimiter(1, 15*time.Minute, 30*time.Minute)
	r := gin.New()
	r.POST("/signin", LoginRateLimit(rl), func(c *gin.Context) {
		rl.Record(c.ClientIP(), false)
		c.Status(http.StatusUnauthorized)
	})

	w := perform(r, http.MethodPost, "/signin", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = perform(r, http.MethodPost, "/signin", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "rate_limited")
}

func TestRateLimit(t *testing.T) {
	r := gin.New()
	r.GET("/quote", RateLimit(NewIPRateLimiter(0.001, 2)), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	assert.Equal(t, http.StatusOK, perform(r, http.MethodGet, "/quote", "").Code)
	assert.Equal(t, http.StatusOK, perform(r, http.MethodGet, "/quote", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, perform(r, http.MethodGet, "/quote", "").Code)
}

func TestIPRateLimiterCleanup(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	l := NewIPRateLimiter(10, 5)
	l.now = func() time.Time { return now }

	for i := 0; i < 1000; i++ {
		l.get(fmt.Sprintf("10.0.%d.%d", i/256, i%256))
	}
	now = now.Add(5 * time.Minute)
	l.get("10.0.0.1")
	require.Len(t, l.buckets, 1000)

	now = now.Add(10 * time.Minute)
	assert.Equal(t, 999, l.Cleanup(12*time.Minute))
	assert.Len(t, l.buckets, 1)

	now = now.Add(time.Hour)
	assert.Equal(t, 1, l.Cleanup(12*time.Minute))
	assert.Empty(t, l.buckets)
}

func TestCORS(t *testing.T) {
	r := gin.New()
	r.Use(CORS("https://app.example.com"))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := perform(r, http.MethodOptions, "/x", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	w = perform(r, http.MethodGet, "/x", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
