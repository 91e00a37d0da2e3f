// Package auth guards the mutating API surface with JWT bearer tokens.
// There is a single operator identity; multi-user management is out of
// scope for a single-tenant pipeline.
package auth

import (
	"crypto/rand"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/postmint/postmint/pkg/config"
)

// Claims carried by an issued token.
type Claims struct {
	jwt.RegisteredClaims
}

// LoginResponse is returned by a successful login.
type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
}

// Manager issues and validates operator tokens.
type Manager struct {
	jwtSecret    string
	passwordHash string
	tokenTTL     time.Duration
}

// NewManager creates an auth manager. Without a configured secret a random
// session-scoped one is generated; tokens then stop working on restart.
func NewManager(cfg config.AuthConfig) *Manager {
	secret := cfg.JWTSecret
	if secret == "" {
		secret = generateRandomSecret(32)
		log.Printf("[Auth] generated random JWT secret for session (not persistent)")
	}
	hash := cfg.AdminPasswordHash
	if hash == "" {
		// Default password: admin
		h, _ := bcrypt.GenerateFromPassword([]byte("admin"), bcrypt.DefaultCost)
		hash = string(h)
		log.Printf("[Auth] no admin password hash configured, using default credentials")
	}
	ttl := cfg.TokenTTL
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{jwtSecret: secret, passwordHash: hash, tokenTTL: ttl}
}

// Login verifies the operator password and returns a signed token.
func (m *Manager) Login(password string) (*LoginResponse, error) {
	if err := bcrypt.CompareHashAndPassword([]byte(m.passwordHash), []byte(password)); err != nil {
		return nil, fmt.Errorf("invalid password")
	}
	token, err := m.GenerateToken()
	if err != nil {
		return nil, err
	}
	return &LoginResponse{Token: token, ExpiresIn: int64(m.tokenTTL.Seconds())}, nil
}

// GenerateToken signs a fresh operator token.
func (m *Manager) GenerateToken() (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "postmint",
			Subject:   "operator",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(m.jwtSecret))
}

// ValidateToken parses and verifies a token string.
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(m.jwtSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return claims, nil
}

// Middleware rejects requests without a valid bearer token.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			http.Error(w, `{"error":"missing bearer token"}`, http.StatusUnauthorized)
			return
		}
		if _, err := m.ValidateToken(strings.TrimPrefix(header, prefix)); err != nil {
			http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func generateRandomSecret(length int) string {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		panic(err)
	}
	return fmt.Sprintf("%x", bytes)
}
