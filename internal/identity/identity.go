// Package identity holds the client's external collaborators: who the user
// is, and a small key-value store for their preferences.
package identity

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coder/quartz"
	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken indicates the token could not be read as a JWT.
var ErrInvalidToken = errors.New("identity: invalid token")

// Model is the user record behind an identity.
type Model struct {
	UserID    string
	Username  string
	ExpiresAt time.Time // zero when the token never expires
}

// Identity reports who the user is and whether that is still established.
type Identity interface {
	IsValid() bool
	Model() Model
}

// TokenIdentity is an identity read from a JWT issued by the account
// service. The signature is not checked here; the game server does that.
// The client only needs the claims and the expiry.
type TokenIdentity struct {
	token string
	model Model
	clock quartz.Clock
}

// ParseToken reads the claims of token. The username is taken from the
// "username" claim, falling back to "name" and then to the subject.
func ParseToken(token string, clock quartz.Clock) (*TokenIdentity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	if clock == nil {
		clock = quartz.NewReal()
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}

	model := Model{UserID: sub, Username: sub}
	for _, key := range []string{"username", "name"} {
		if v, ok := claims[key].(string); ok && v != "" {
			model.Username = v
			break
		}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if exp != nil {
		model.ExpiresAt = exp.Time
	}

	return &TokenIdentity{token: token, model: model, clock: clock}, nil
}

// IsValid reports whether the token has not yet expired.
func (t *TokenIdentity) IsValid() bool {
	if t == nil {
		return false
	}
	return t.model.ExpiresAt.IsZero() || t.clock.Now().Before(t.model.ExpiresAt)
}

func (t *TokenIdentity) Model() Model {
	return t.model
}

// Header returns the handshake header carrying the token.
func (t *TokenIdentity) Header() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+t.token)
	return h
}

// Guest is an identity for a player who has not signed in. It is never
// valid, but still carries the name the player chose.
type Guest struct {
	Username string
}

func (Guest) IsValid() bool { return false }

func (g Guest) Model() Model { return Model{Username: g.Username} }

// Username picks the display name for a session: an explicit name wins,
// then a valid identity's username, then the stored preference.
func Username(explicit string, id Identity, store Store) string {
	if name := strings.TrimSpace(explicit); name != "" {
		return name
	}
	if id != nil && id.IsValid() {
		if name := id.Model().Username; name != "" {
			return name
		}
	}
	if store != nil {
		if name, ok := store.Get(KeyUsername); ok {
			return name
		}
	}
	if id != nil {
		return id.Model().Username
	}
	return ""
}
