package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestAuthenticator() *Authenticator {
	return NewAuthenticator(Config{
		Enabled:   true,
		Username:  "operator",
		Password:  "hunter2",
		JWTSecret: "test-secret",
		JWTExpiry: time.Hour,
	})
}

func TestAuthenticateAndValidate(t *testing.T) {
	a := newTestAuthenticator()

	token, expiresAt, err := a.Authenticate("operator", "hunter2")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.Greater(t, expiresAt, time.Now().Unix())

	claims, err := a.ValidateToken(token)
	require.NoError(t, err)
	require.Equal(t, "operator", claims.Username)
	require.Equal(t, "cardscan", claims.Issuer)
	require.NotEmpty(t, claims.ID)
}

func TestAuthenticateRejectsBadCredentials(t *testing.T) {
	a := newTestAuthenticator()

	_, _, err := a.Authenticate("operator", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = a.Authenticate("nobody", "hunter2")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticateWhenDisabled(t *testing.T) {
	a := NewAuthenticator(Config{Enabled: false})

	_, _, err := a.Authenticate("operator", "hunter2")
	require.ErrorIs(t, err, ErrAuthDisabled)
}

func TestBcryptHashAcceptedAsPassword(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	require.Len(t, hash, 60)

	a := NewAuthenticator(Config{
		Enabled:   true,
		Username:  "operator",
		Password:  hash,
		JWTSecret: "test-secret",
	})

	_, _, err = a.Authenticate("operator", "hunter2")
	require.NoError(t, err)
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	m := NewJWTManager("test-secret", time.Nanosecond)
	token, _, err := m.GenerateToken("operator")
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	_, err = m.ValidateToken(token)
	require.ErrorIs(t, err, ErrExpiredToken)
}

func TestValidateRejectsForeignToken(t *testing.T) {
	token, _, err := NewJWTManager("other-secret", time.Hour).GenerateToken("operator")
	require.NoError(t, err)

	_, err = NewJWTManager("test-secret", time.Hour).ValidateToken(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddleware(t *testing.T) {
	a := newTestAuthenticator()
	token, _, err := a.Authenticate("operator", "hunter2")
	require.NoError(t, err)

	var gotUser string
	handler := Middleware(a)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims := UserFromContext(r.Context()); claims != nil {
			gotUser = claims.Username
		}
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("bearer header", func(t *testing.T) {
		gotUser = ""
		req := httptest.NewRequest(http.MethodGet, "/status", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "operator", gotUser)
	})

	t.Run("query token", func(t *testing.T) {
		gotUser = ""
		req := httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "operator", gotUser)
	})

	t.Run("missing credentials", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/status", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/status", nil)
		req.Header.Set("Authorization", "Bearer not-a-token")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("disabled passes through", func(t *testing.T) {
		disabled := Middleware(NewAuthenticator(Config{Enabled: false}))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		req := httptest.NewRequest(http.MethodGet, "/status", nil)
		rec := httptest.NewRecorder()

		disabled.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	})
}
