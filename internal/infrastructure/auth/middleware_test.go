package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMiddleware(t *testing.T) {
	tm, err := NewTokenManager("secret", 0)
	assert.NoError(t, err)

	var gotCaller VerifiedUserID
	var reached bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		gotCaller, _ = UserIDFromContext(r.Context())
	})
	protected := Middleware(tm)(next)

	t.Run("valid token reaches the handler with the caller id", func(t *testing.T) {
		reached = false
		token, err := tm.Issue("u-1")
		assert.NoError(t, err)

		req := httptest.NewRequest(http.MethodPut, "/update", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)

		assert.True(t, reached)
		assert.Equal(t, VerifiedUserID("u-1"), gotCaller)
	})

	t.Run("missing header short-circuits", func(t *testing.T) {
		reached = false
		req := httptest.NewRequest(http.MethodPut, "/update", nil)
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)

		assert.False(t, reached)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("malformed header short-circuits", func(t *testing.T) {
		reached = false
		req := httptest.NewRequest(http.MethodPut, "/update", nil)
		req.Header.Set("Authorization", "Token abc")
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)

		assert.False(t, reached)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("bad signature short-circuits", func(t *testing.T) {
		reached = false
		other, err := NewTokenManager("othersecret", 0)
		assert.NoError(t, err)
		token, err := other.Issue("u-1")
		assert.NoError(t, err)

		req := httptest.NewRequest(http.MethodPut, "/update", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)

		assert.False(t, reached)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
