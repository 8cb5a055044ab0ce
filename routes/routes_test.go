package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockdash/config"
	"stockdash/models"
	"stockdash/services/auth"
	"stockdash/testutil"
)

const testSecret = "routes-test-secret"

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Auth:      config.AuthConfig{JWTSecret: testSecret},
		Providers: config.ProvidersConfig{RatePerSecond: 5},
		Orders:    config.OrdersConfig{PollInterval: time.Second, FillProbability: 1},
		Relay:     config.RelayConfig{Window: time.Second, MaxClients: 2},
	}
	deps := NewDependencies(context.Background(), cfg, testutil.NewDB(t), nil)

	router := gin.New()
	SetupRoutes(router, deps)
	return router
}

type response struct {
	Code int
	Body map[string]interface{}
}

func call(t *testing.T, r *gin.Engine, method, path, token string, body interface{}) response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	out := response{Code: w.Code}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out.Body), w.Body.String())
	}
	return out
}

func data(t *testing.T, res response) map[string]interface{} {
	t.Helper()
	d, ok := res.Body["data"].(map[string]interface{})
	require.True(t, ok, "%v", res.Body)
	return d
}

func signUp(t *testing.T, r *gin.Engine, email string) string {
	t.Helper()
	res := call(t, r, http.MethodPost, "/api/v1/auth/signup", "", gin.H{
		"email": email, "password": "correct-horse", "full_name": "Test User",
	})
	require.Equal(t, http.StatusCreated, res.Code, "%v", res.Body)
	return data(t, res)["access_token"].(string)
}

func TestAuthFlow(t *testing.T) {
	r := newRouter(t)
	signUp(t, r, "ada@example.com")

	res := call(t, r, http.MethodPost, "/api/v1/auth/signup", "", gin.H{"email": "ada@example.com", "password": "correct-horse"})
	assert.Equal(t, http.StatusConflict, res.Code)

	res = call(t, r, http.MethodPost, "/api/v1/auth/signin", "", gin.H{"email": "ada@example.com", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, res.Code)

	res = call(t, r, http.MethodPost, "/api/v1/auth/signin", "", gin.H{"email": "ADA@example.com", "password": "correct-horse"})
	require.Equal(t, http.StatusOK, res.Code)
	session := data(t, res)
	token := session["access_token"].(string)

	res = call(t, r, http.MethodPost, "/api/v1/auth/refresh", "", gin.H{"refresh_token": session["refresh_token"]})
	require.Equal(t, http.StatusOK, res.Code)

	res = call(t, r, http.MethodGet, "/api/v1/account/profile", token, nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "ada@example.com", data(t, res)["email"])

	res = call(t, r, http.MethodPut, "/api/v1/account/profile", token, gin.H{"full_name": "Ada L."})
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "Ada L.", data(t, res)["full_name"])
}

func TestSignInLockout(t *testing.T) {
	r := newRouter(t)
	signUp(t, r, "bob@example.com")

	for i := 0; i < loginMaxAttempts; i++ {
		res := call(t, r, http.MethodPost, "/api/v1/auth/signin", "", gin.H{"email": "bob@example.com", "password": "nope-nope"})
		require.Equal(t, http.StatusUnauthorized, res.Code)
	}
	res := call(t, r, http.MethodPost, "/api/v1/auth/signin", "", gin.H{"email": "bob@example.com", "password": "correct-horse"})
	assert.Equal(t, http.StatusTooManyRequests, res.Code)
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	r := newRouter(t)
	for _, path := range []string{"/api/v1/portfolio/holdings", "/api/v1/watchlists", "/api/v1/orders", "/api/v1/account/profile"} {
		assert.Equal(t, http.StatusUnauthorized, call(t, r, http.MethodGet, path, "", nil).Code, path)
	}
}

func TestPortfolioAndOrders(t *testing.T) {
	r := newRouter(t)
	token := signUp(t, r, "cy@example.com")

	res := call(t, r, http.MethodPost, "/api/v1/portfolio/holdings", token, gin.H{"symbol": "aapl", "quantity": 10, "average_cost": "100"})
	require.Equal(t, http.StatusCreated, res.Code, "%v", res.Body)
	holdingID := data(t, res)["id"]

	res = call(t, r, http.MethodGet, "/api/v1/portfolio/summary", token, nil)
	require.Equal(t, http.StatusOK, res.Code)
	positions := data(t, res)["positions"].([]interface{})
	assert.Len(t, positions, 1)

	res = call(t, r, http.MethodPost, "/api/v1/orders", token, gin.H{"symbol": "AAPL", "side": "sell", "quantity": 50})
	assert.Equal(t, http.StatusUnprocessableEntity, res.Code)

	res = call(t, r, http.MethodPost, "/api/v1/orders", token, gin.H{"symbol": "AAPL", "side": "buy", "order_type": "limit", "quantity": 5, "price": "90"})
	require.Equal(t, http.StatusCreated, res.Code, "%v", res.Body)
	orderID := data(t, res)["id"]

	res = call(t, r, http.MethodGet, "/api/v1/orders?status=pending", token, nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Len(t, res.Body["data"], 1)

	res = call(t, r, http.MethodPost, fmt.Sprintf("/api/v1/orders/%v/cancel", orderID), token, nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, models.OrderStatusCancelled, data(t, res)["status"])

	res = call(t, r, http.MethodPost, fmt.Sprintf("/api/v1/orders/%v/cancel", orderID), token, nil)
	assert.Equal(t, http.StatusConflict, res.Code)

	other := signUp(t, r, "dee@example.com")
	res = call(t, r, http.MethodGet, fmt.Sprintf("/api/v1/orders/%v", orderID), other, nil)
	assert.Equal(t, http.StatusNotFound, res.Code)
	res = call(t, r, http.MethodDelete, fmt.Sprintf("/api/v1/portfolio/holdings/%v", holdingID), other, nil)
	assert.Equal(t, http.StatusNotFound, res.Code)

	res = call(t, r, http.MethodDelete, fmt.Sprintf("/api/v1/portfolio/holdings/%v", holdingID), token, nil)
	assert.Equal(t, http.StatusOK, res.Code)

	res = call(t, r, http.MethodGet, "/api/v1/portfolio/transactions?limit=1", token, nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, float64(2), res.Body["pagination"].(map[string]interface{})["total"])
}

func TestWatchlists(t *testing.T) {
	r := newRouter(t)
	token := signUp(t, r, "eve@example.com")

	res := call(t, r, http.MethodPost, "/api/v1/watchlists", token, gin.H{"name": "Tech"})
	require.Equal(t, http.StatusCreated, res.Code)
	id := data(t, res)["id"]

	res = call(t, r, http.MethodPost, fmt.Sprintf("/api/v1/watchlists/%v/items", id), token, gin.H{"symbol": "msft"})
	require.Equal(t, http.StatusCreated, res.Code)
	res = call(t, r, http.MethodPost, fmt.Sprintf("/api/v1/watchlists/%v/items", id), token, gin.H{"symbol": "MSFT"})
	assert.Equal(t, http.StatusConflict, res.Code)

	res = call(t, r, http.MethodGet, fmt.Sprintf("/api/v1/watchlists/%v/quotes", id), token, nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Len(t, res.Body["data"], 1)

	res = call(t, r, http.MethodDelete, fmt.Sprintf("/api/v1/watchlists/%v/items/MSFT", id), token, nil)
	assert.Equal(t, http.StatusOK, res.Code)
	res = call(t, r, http.MethodDelete, fmt.Sprintf("/api/v1/watchlists/%v", id), token, nil)
	assert.Equal(t, http.StatusOK, res.Code)
	res = call(t, r, http.MethodPut, "/api/v1/watchlists/abc", token, gin.H{"name": "x"})
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestMarketIsPublic(t *testing.T) {
	r := newRouter(t)

	res := call(t, r, http.MethodGet, "/api/v1/market/quote/AAPL", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "mock", data(t, res)["source"])

	res = call(t, r, http.MethodGet, "/api/v1/market/quote/not%20a%20symbol", "", nil)
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = call(t, r, http.MethodGet, "/api/v1/market/history/AAPL?days=10", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Len(t, data(t, res)["bars"], 10)

	res = call(t, r, http.MethodGet, "/api/v1/market/indices", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "live", res.Body["source"])

	res = call(t, r, http.MethodGet, "/api/v1/market/news", "", nil)
	assert.Equal(t, http.StatusOK, res.Code)

	res = call(t, r, http.MethodGet, "/api/v1/market/realtime?symbols=AAPL", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, res.Code)
}

func TestAdminRoutes(t *testing.T) {
	r := newRouter(t)
	token := signUp(t, r, "frank@example.com")

	res := call(t, r, http.MethodPost, "/api/v1/admin/orders/process", token, nil)
	assert.Equal(t, http.StatusForbidden, res.Code)

	admin := &models.User{ID: "admin-1", Email: "admin@example.com", Role: models.RoleAdmin}
	adminToken, _, err := auth.IssueAccessToken([]byte(testSecret), admin, "s", time.Hour, time.Now())
	require.NoError(t, err)

	res = call(t, r, http.MethodPost, "/api/v1/orders", token, gin.H{"symbol": "AAPL", "side": "buy", "quantity": 1})
	require.Equal(t, http.StatusCreated, res.Code)

	res = call(t, r, http.MethodPost, "/api/v1/admin/orders/process", adminToken, nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, float64(1), data(t, res)["filled"])

	res = call(t, r, http.MethodPost, "/api/v1/admin/indices/refresh", adminToken, nil)
	require.Equal(t, http.StatusOK, res.Code)

	res = call(t, r, http.MethodGet, "/api/v1/market/indices", "", nil)
	assert.Equal(t, "stored", res.Body["source"])

	res = call(t, r, http.MethodGet, "/api/v1/admin/users?search=FRANK", adminToken, nil)
	require.Equal(t, http.StatusOK, res.Code)
	users := res.Body["data"].([]interface{})
	require.Len(t, users, 1)
	userID := users[0].(map[string]interface{})["id"]

	res = call(t, r, http.MethodPatch, fmt.Sprintf("/api/v1/admin/users/%v", userID), adminToken, gin.H{"plan": "pro"})
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, models.PlanPro, data(t, res)["plan"])

	res = call(t, r, http.MethodPatch, "/api/v1/admin/users/missing", adminToken, gin.H{"role": "admin"})
	assert.Equal(t, http.StatusNotFound, res.Code)

	res = call(t, r, http.MethodGet, "/api/v1/admin/realtime/status", adminToken, nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, false, data(t, res)["relay_configured"])
}

func TestBillingWithoutStripe(t *testing.T) {
	r := newRouter(t)
	token := signUp(t, r, "gil@example.com")

	assert.Equal(t, http.StatusServiceUnavailable, call(t, r, http.MethodPost, "/api/v1/account/checkout", token, nil).Code)
	assert.Equal(t, http.StatusNotFound, call(t, r, http.MethodGet, "/api/v1/account/subscription", token, nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, call(t, r, http.MethodPost, "/billing/webhook", "", gin.H{}).Code)
}
