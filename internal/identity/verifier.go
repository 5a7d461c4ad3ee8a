package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"campus-chat-server/internal/users"
)

var (
	// ErrMissingToken is returned when no credential was presented.
	ErrMissingToken = errors.New("token required")
	// ErrUnknownUser is returned when a valid token names a user that no
	// longer exists.
	ErrUnknownUser = errors.New("user not found")
)

// Identity is an authenticated user.
type Identity struct {
	UserID      string
	DisplayName string
}

// Verifier validates bearer tokens and resolves them to identities.
type Verifier struct {
	tokens *TokenManager
	lookup users.Lookup
}

// NewVerifier creates a Verifier backed by the token manager and directory.
func NewVerifier(tokens *TokenManager, lookup users.Lookup) *Verifier {
	return &Verifier{tokens: tokens, lookup: lookup}
}

// Verify checks token and loads the user it names. Errors are one of
// ErrMissingToken, ErrInvalidToken, ErrExpiredToken, ErrUnknownUser or a
// wrapped directory failure.
func (v *Verifier) Verify(ctx context.Context, token string) (Identity, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return Identity{}, ErrMissingToken
	}

	claims, err := v.tokens.Validate(token)
	if err != nil {
		return Identity{}, err
	}

	u, err := v.lookup.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			return Identity{}, ErrUnknownUser
		}
		return Identity{}, fmt.Errorf("lookup user %s: %w", claims.UserID, err)
	}
	return Identity{UserID: u.ID, DisplayName: u.Name()}, nil
}
