package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrInvalidToken is returned for malformed or tampered tokens.
var ErrInvalidToken = errors.New("invalid token")

// HMACVerifier validates tokens of the form <userID>.<hex hmac-sha256>. The
// upstream identity provider issues them with the shared secret; this
// service only verifies.
type HMACVerifier struct {
	secret []byte
}

// NewHMACVerifier creates a verifier over the shared secret.
// Parameters:
//   - secret: shared signing secret; must be non-empty.
// Returns:
//   - *HMACVerifier: initialized verifier.
//   - error: non-nil if the secret is empty.
func NewHMACVerifier(secret string) (*HMACVerifier, error) {
	if secret == "" {
		return nil, errors.New("auth secret must not be empty")
	}
	return &HMACVerifier{secret: []byte(secret)}, nil
}

// Verify checks a token's signature and returns the user it identifies.
// Parameters:
//   - ctx: unused, present for interface compatibility.
//   - token: token to validate.
// Returns:
//   - string: authenticated user ID.
//   - error: ErrInvalidToken on any validation failure.
func (v *HMACVerifier) Verify(ctx context.Context, token string) (string, error) {
	idx := strings.LastIndexByte(token, '.')
	if idx <= 0 || idx == len(token)-1 {
		return "", ErrInvalidToken
	}
	userID, sig := token[:idx], token[idx+1:]
	if !hmac.Equal([]byte(sig), []byte(v.sign(userID))) {
		return "", ErrInvalidToken
	}
	return userID, nil
}

// Issue produces a token for a user. Used by tests and local development;
// production tokens come from the identity provider.
// Parameters:
//   - userID: user to issue for.
// Returns:
//   - string: signed token.
func (v *HMACVerifier) Issue(userID string) string {
	return userID + "." + v.sign(userID)
}

func (v *HMACVerifier) sign(userID string) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(userID))
	return hex.EncodeToString(mac.Sum(nil))
}
