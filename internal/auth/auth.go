package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/tjfontaine/polyglot-lingua/internal/pkg/config"
)

// User is an authenticated caller.
type User struct {
	ID          string
	Admin       bool
	Description string
	keyHash     string
}

// Authenticator validates API keys against the configured users. The user
// table can be replaced at runtime with Reload.
type Authenticator struct {
	users atomic.Pointer[map[string]*User] // keyhash -> user
}

// NewAuthenticator creates a new authenticator with user mappings
func NewAuthenticator(users []config.UserConfig) *Authenticator {
	a := &Authenticator{}
	a.Reload(users)
	return a
}

// Reload swaps the user table. Requests already authenticated keep the
// user they resolved.
func (a *Authenticator) Reload(users []config.UserConfig) {
	table := make(map[string]*User, len(users))
	for _, u := range users {
		if u.ID == "" || u.KeyHash == "" {
			continue
		}
		hash := strings.ToLower(u.KeyHash)
		table[hash] = &User{ID: u.ID, Admin: u.Admin, Description: u.Description, keyHash: hash}
	}
	a.users.Store(&table)
}

// Len returns the number of configured keys.
func (a *Authenticator) Len() int {
	return len(*a.users.Load())
}

// ValidateAPIKey validates an API key and returns the associated user
func (a *Authenticator) ValidateAPIKey(apiKey string) (*User, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("invalid API key")
	}
	keyHash := HashAPIKey(apiKey)

	u, ok := (*a.users.Load())[keyHash]
	if !ok {
		return nil, fmt.Errorf("invalid API key")
	}

	// Constant-time comparison to prevent timing attacks
	if subtle.ConstantTimeCompare([]byte(keyHash), []byte(u.keyHash)) != 1 {
		return nil, fmt.Errorf("invalid API key")
	}
	return u, nil
}

// ExtractAPIKey extracts the API key from the Authorization header
func ExtractAPIKey(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", fmt.Errorf("missing Authorization header")
	}

	// Support "Bearer <key>" format
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid Authorization header format")
	}

	if strings.ToLower(parts[0]) != "bearer" {
		return "", fmt.Errorf("unsupported authorization scheme")
	}

	return parts[1], nil
}

// HashAPIKey creates a SHA-256 hash of an API key for storage
func HashAPIKey(apiKey string) string {
	hash := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(hash[:])
}

type contextKey struct{}

// WithUser stores u in ctx.
func WithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, contextKey{}, u)
}

// UserFromContext returns the authenticated user, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(contextKey{}).(*User)
	return u
}
