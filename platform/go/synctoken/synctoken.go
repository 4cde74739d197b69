// Package synctoken encodes and verifies the workspace tokens that
// authenticate webhook calls and dead-letter replays. Tokens are HMAC-signed
// with the Copilot API key and carry only the workspace (portal) identity.
package synctoken

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken indicates a token that failed signature or shape validation.
	ErrInvalidToken = errors.New("invalid workspace token")
	// ErrMissingWorkspace indicates a valid signature with no workspace claim.
	ErrMissingWorkspace = errors.New("workspace token missing workspaceId claim")
)

// Claims is the payload carried by a workspace token.
type Claims struct {
	WorkspaceID string `json:"workspaceId"`
	jwt.RegisteredClaims
}

// Codec signs and verifies workspace tokens with a shared API key.
type Codec struct {
	secret []byte
}

// NewCodec constructs a Codec from the Copilot API key.
func NewCodec(apiKey string) (*Codec, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("api key is required")
	}
	return &Codec{secret: []byte(apiKey)}, nil
}

// Encode builds a signed token for the given workspace. Used by the retry loop
// to re-derive an actor token for a dead-lettered portal.
func (c *Codec) Encode(workspaceID string) (string, error) {
	if strings.TrimSpace(workspaceID) == "" {
		return "", errors.New("workspace id is required")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{WorkspaceID: workspaceID})
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign workspace token: %w", err)
	}
	return signed, nil
}

// Decode verifies the token signature and returns the workspace id it carries.
func (c *Codec) Decode(tokenString string) (string, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return c.secret, nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}
	if strings.TrimSpace(claims.WorkspaceID) == "" {
		return "", ErrMissingWorkspace
	}
	return claims.WorkspaceID, nil
}
