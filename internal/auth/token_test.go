// ABOUTME: Tests for JWT and static bearer-token verification.
// ABOUTME: Validates signature checks, expiry handling, and the HTTP middleware.

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTVerifier_RoundTrip(t *testing.T) {
	v, err := NewJWTVerifier([]byte("test-secret-test-secret-test-1234"))
	require.NoError(t, err)

	token, err := v.Generate("client-1", time.Hour)
	require.NoError(t, err)

	assert.NoError(t, v.Verify(token))
}

func TestJWTVerifier_RejectsWrongSecret(t *testing.T) {
	a, err := NewJWTVerifier([]byte("secret-a-secret-a-secret-a-12345"))
	require.NoError(t, err)
	b, err := NewJWTVerifier([]byte("secret-b-secret-b-secret-b-12345"))
	require.NoError(t, err)

	token, err := a.Generate("client-1", time.Hour)
	require.NoError(t, err)

	assert.ErrorIs(t, b.Verify(token), ErrInvalidToken)
}

func TestJWTVerifier_RejectsExpired(t *testing.T) {
	v, err := NewJWTVerifier([]byte("test-secret-test-secret-test-1234"))
	require.NoError(t, err)

	token, err := v.Generate("client-1", -time.Minute)
	require.NoError(t, err)

	assert.ErrorIs(t, v.Verify(token), ErrExpiredToken)
}

func TestStaticVerifier(t *testing.T) {
	v, err := NewStaticVerifier("hunter2")
	require.NoError(t, err)

	assert.NoError(t, v.Verify("hunter2"))
	assert.ErrorIs(t, v.Verify("hunter3"), ErrInvalidToken)
	assert.ErrorIs(t, v.Verify(""), ErrInvalidToken)
}

func TestMiddleware(t *testing.T) {
	verifier, err := NewStaticVerifier("hunter2")
	require.NoError(t, err)

	var reached bool
	handler := Middleware(verifier, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("missing header", func(t *testing.T) {
		reached = false
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.False(t, reached)
	})

	t.Run("wrong scheme", func(t *testing.T) {
		reached = false
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Authorization", "Basic abc")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.False(t, reached)
	})

	t.Run("bad token", func(t *testing.T) {
		reached = false
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Authorization", "Bearer nope")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.False(t, reached)
	})

	t.Run("valid token", func(t *testing.T) {
		reached = false
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Authorization", "Bearer hunter2")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.True(t, reached)
	})
}
