package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockdash/models"
	"stockdash/services"
	"stockdash/testutil"
)

var testSecret = []byte("test-secret-with-enough-length!!")

func TestIssueAndParseToken(t *testing.T) {
	user := &models.User{ID: "u-1", Email: "a@b.co", Role: models.RoleAdmin, Plan: models.PlanFree}
	token, expires, err := IssueAccessToken(testSecret, user, "s-1", time.Hour, time.Now())
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, 5*time.Second)

	claims, err := ParseToken(testSecret, token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.Subject)
	assert.Equal(t, "a@b.co", claims.Email)
	assert.Equal(t, RoleAuthenticated, claims.Role)
	assert.True(t, claims.IsAdmin())

	_, err = ParseToken([]byte("other-secret"), token)
	assert.ErrorIs(t, err, services.ErrUnauthorized)
}

func TestParseTokenRejectsExpiredAndUnsigned(t *testing.T) {
	user := &models.User{ID: "u-1", Role: models.RoleUser}
	token, _, err := IssueAccessToken(testSecret, user, "", time.Minute, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	_, err = ParseToken(testSecret, token)
	assert.ErrorIs(t, err, services.ErrUnauthorized)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "u-1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = ParseToken(testSecret, unsigned)
	assert.ErrorIs(t, err, services.ErrUnauthorized)

	_, err = ParseToken(nil, token)
	assert.ErrorIs(t, err, services.ErrUnauthorized)
}

func TestLocalProviderLifecycle(t *testing.T) {
	db := testutil.NewDB(t)
	p := NewLocalProvider(db, testSecret, NewMemoryRefreshStore())
	ctx := context.Background()

	session, err := p.SignUp(ctx, " Trader@Example.com ", "hunter2hunter2", "Tess Trader")
	require.NoError(t, err)
	assert.Equal(t, "trader@example.com", session.User.Email)
	assert.NotEmpty(t, session.AccessToken)
	assert.NotEmpty(t, session.RefreshToken)
	assert.Equal(t, 3600, session.ExpiresIn)

	_, err = p.SignUp(ctx, "trader@example.com", "another-password", "")
	assert.ErrorIs(t, err, services.ErrConflict)

	_, err = p.SignIn(ctx, "trader@example.com", "wrong-password")
	assert.ErrorIs(t, err, services.ErrUnauthorized)
	_, err = p.SignIn(ctx, "nobody@example.com", "hunter2hunter2")
	assert.ErrorIs(t, err, services.ErrUnauthorized)

	signedIn, err := p.SignIn(ctx, "TRADER@example.com", "hunter2hunter2")
	require.NoError(t, err)

	user, err := p.User(ctx, signedIn.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, user.ID)
	assert.NotNil(t, user.LastLoginAt)

	refreshed, err := p.Refresh(ctx, signedIn.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, signedIn.RefreshToken, refreshed.RefreshToken)

	_, err = p.Refresh(ctx, signedIn.RefreshToken)
	assert.ErrorIs(t, err, services.ErrUnauthorized, "refresh tokens are single use")

	require.NoError(t, p.SignOut(ctx, refreshed.AccessToken, refreshed.RefreshToken))
	_, err = p.Refresh(ctx, refreshed.RefreshToken)
	assert.ErrorIs(t, err, services.ErrUnauthorized)
}

func TestLocalProviderValidation(t *testing.T) {
	p := NewLocalProvider(testutil.NewDB(t), testSecret, NewMemoryRefreshStore())
	ctx := context.Background()

	_, err := p.SignUp(ctx, "not-an-email", "hunter2hunter2", "")
	assert.ErrorIs(t, err, services.ErrInvalidInput)
	_, err = p.SignUp(ctx, "ok@example.com", "short", "")
	assert.ErrorIs(t, err, services.ErrInvalidInput)
	_, err = p.Refresh(ctx, "")
	assert.ErrorIs(t, err, services.ErrInvalidInput)
}

func TestSeededAdminCanSignIn(t *testing.T) {
	db := testutil.NewDB(t)
	var hashed models.User
	require.NoError(t, hashed.SetPassword("admin-password"))
	require.NoError(t, models.SeedAdminUser(db, "admin@example.com", hashed.PasswordHash))

	p := NewLocalProvider(db, testSecret, NewMemoryRefreshStore())
	session, err := p.SignIn(context.Background(), "admin@example.com", "admin-password")
	require.NoError(t, err)

	claims, err := ParseToken(testSecret, session.AccessToken)
	require.NoError(t, err)
	assert.True(t, claims.IsAdmin())
}

func TestMemoryRefreshStoreExpiry(t *testing.T) {
	store := NewMemoryRefreshStore()
	now := time.Now()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "tok", "u-1", time.Minute))
	now = now.Add(2 * time.Minute)
	_, err := store.Consume(ctx, "tok")
	assert.ErrorIs(t, err, services.ErrUnauthorized)
}

func gotrueStub(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "anon", r.Header.Get("apikey"))
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.URL.Path == "/auth/v1/token" && r.URL.Query().Get("grant_type") == "password":
			var body map[string]string
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			if body["password"] != "correct-horse" {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid login credentials"}`))
				return
			}
			w.Write([]byte(`{"access_token":"at","token_type":"bearer","expires_in":3600,"refresh_token":"rt",
				"user":{"id":"11111111-2222-3333-4444-555555555555","email":"sb@example.com","user_metadata":{"full_name":"Supa User"}}}`))
		case r.URL.Path == "/auth/v1/signup":
			w.Write([]byte(`{"id":"22222222-2222-3333-4444-555555555555","email":"new@example.com","user_metadata":{}}`))
		case r.URL.Path == "/auth/v1/user":
			if r.Header.Get("Authorization") != "Bearer at" {
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"msg":"invalid JWT"}`))
				return
			}
			w.Write([]byte(`{"id":"11111111-2222-3333-4444-555555555555","email":"sb@example.com"}`))
		case r.URL.Path == "/auth/v1/logout":
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSupabaseProvider(t *testing.T) {
	db := testutil.NewDB(t)
	srv := gotrueStub(t)
	p := NewSupabaseProvider(srv.URL+"/", "anon", db)
	ctx := context.Background()

	_, err := p.SignIn(ctx, "sb@example.com", "wrong")
	assert.ErrorIs(t, err, services.ErrUnauthorized)

	session, err := p.SignIn(ctx, "sb@example.com", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, "at", session.AccessToken)
	assert.Equal(t, "Supa User", session.User.FullName)
	assert.Equal(t, models.PlanFree, session.User.Plan)

	user, err := p.User(ctx, "at")
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, user.ID)

	_, err = p.User(ctx, "bad")
	assert.ErrorIs(t, err, services.ErrUnauthorized)

	pending, err := p.SignUp(ctx, "new@example.com", "long-enough-pw", "")
	require.NoError(t, err)
	assert.Empty(t, pending.AccessToken)
	assert.Equal(t, "new@example.com", pending.User.Email)

	require.NoError(t, p.SignOut(ctx, "at", ""))

	_, err = p.Refresh(ctx, "rt")
	assert.ErrorIs(t, err, services.ErrProviderUnavailable)

	var count int64
	require.NoError(t, db.Model(&models.User{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}
