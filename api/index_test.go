package handler

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandlerRetriesFailedSetup(t *testing.T) {
	calls := 0
	build = func() (http.Handler, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("database ping failed")
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}), nil
	}
	t.Cleanup(func() {
		mu.Lock()
		router = nil
		build = setup
		mu.Unlock()
	})

	w := httptest.NewRecorder()
	Handler(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"service_unavailable","message":"Service is starting, please retry"}`, w.Body.String())

	w = httptest.NewRecorder()
	Handler(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	Handler(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, calls)
}
