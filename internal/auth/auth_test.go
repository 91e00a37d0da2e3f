package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/postmint/postmint/pkg/config"
)

func testManager(t *testing.T, ttl time.Duration) *Manager {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	require.NoError(t, err)
	return NewManager(config.AuthConfig{
		JWTSecret:         "test-secret",
		AdminPasswordHash: string(hash),
		TokenTTL:          ttl,
	})
}

func TestLogin(t *testing.T) {
	m := testManager(t, time.Hour)

	resp, err := m.Login("correct horse")
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, int64(3600), resp.ExpiresIn)

	_, err = m.Login("wrong")
	assert.Error(t, err)
}

func TestTokenRoundTrip(t *testing.T) {
	m := testManager(t, time.Hour)

	token, err := m.GenerateToken()
	require.NoError(t, err)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "postmint", claims.Issuer)
	assert.Equal(t, "operator", claims.Subject)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	m := testManager(t, time.Hour)
	other := NewManager(config.AuthConfig{JWTSecret: "other-secret", TokenTTL: time.Hour})

	token, err := other.GenerateToken()
	require.NoError(t, err)

	_, err = m.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	m := testManager(t, -time.Minute)

	token, err := m.GenerateToken()
	require.NoError(t, err)

	_, err = m.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateRejectsGarbage(t *testing.T) {
	m := testManager(t, time.Hour)
	_, err := m.ValidateToken("not.a.token")
	assert.Error(t, err)
}

func TestDefaultCredentials(t *testing.T) {
	m := NewManager(config.AuthConfig{})

	resp, err := m.Login("admin")
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Token)

	_, err = m.Login("not admin")
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	m := testManager(t, time.Hour)
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	token, err := m.GenerateToken()
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid token", "Bearer " + token, http.StatusNoContent},
		{"missing header", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"invalid token", "Bearer bogus", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/stock", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
