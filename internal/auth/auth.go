// Package auth authenticates display clients with username/password
// credentials and short-lived JWT tokens.
package auth

import (
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAuthDisabled       = errors.New("authentication is disabled")
)

// Config holds the authenticator settings.
type Config struct {
	Enabled  bool
	Username string
	// Password is either plaintext or an existing bcrypt hash.
	Password  string
	JWTSecret string
	JWTExpiry time.Duration
}

// Authenticator handles display client authentication.
type Authenticator struct {
	enabled      bool
	username     string
	passwordHash []byte
	jwtManager   *JWTManager
}

// NewAuthenticator creates an authenticator from config.
func NewAuthenticator(cfg Config) *Authenticator {
	username := cfg.Username
	if username == "" {
		username = "admin"
	}

	var passwordHash []byte
	if cfg.Enabled && cfg.Password != "" {
		if len(cfg.Password) == 60 && cfg.Password[0] == '$' {
			passwordHash = []byte(cfg.Password)
		} else {
			hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Password), bcrypt.DefaultCost)
			if err == nil {
				passwordHash = hash
			}
		}
	}

	return &Authenticator{
		enabled:      cfg.Enabled,
		username:     username,
		passwordHash: passwordHash,
		jwtManager:   NewJWTManager(cfg.JWTSecret, cfg.JWTExpiry),
	}
}

// IsEnabled returns whether authentication is enabled.
func (a *Authenticator) IsEnabled() bool {
	return a.enabled
}

// Authenticate validates credentials and returns a JWT token with its
// expiry as a Unix timestamp.
func (a *Authenticator) Authenticate(username, password string) (string, int64, error) {
	if !a.enabled {
		return "", 0, ErrAuthDisabled
	}

	if username != a.username {
		return "", 0, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)); err != nil {
		return "", 0, ErrInvalidCredentials
	}

	token, expiresAt, err := a.jwtManager.GenerateToken(username)
	if err != nil {
		return "", 0, err
	}

	return token, expiresAt.Unix(), nil
}

// ValidateToken validates a JWT token.
func (a *Authenticator) ValidateToken(token string) (*Claims, error) {
	return a.jwtManager.ValidateToken(token)
}

// HashPassword creates a bcrypt hash of a password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
