package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultMinTokenLength = 20
	MinTokenLengthFloor   = 10

	mockTokenMarker = "mock"
)

type TokenDefect string

const (
	TokenOK        TokenDefect = ""
	TokenSentinel  TokenDefect = "sentinel"
	TokenMock      TokenDefect = "mock_marker"
	TokenTooShort  TokenDefect = "too_short"
	TokenLegacyKey TokenDefect = "legacy_key"
	TokenRejected  TokenDefect = "rejected_by_server"
)

var tokenSentinels = map[string]struct{}{
	"undefined": {},
	"null":      {},
	"":          {},
	"false":     {},
	"true":      {},
	"0":         {},
}

// CheckToken runs the offline well-formedness check. minLen outside
// [MinTokenLengthFloor, DefaultMinTokenLength] is clamped into it.
func CheckToken(token string, minLen int) TokenDefect {
	trimmed := strings.TrimSpace(token)
	if _, ok := tokenSentinels[strings.ToLower(trimmed)]; ok {
		return TokenSentinel
	}
	if strings.Contains(strings.ToLower(trimmed), mockTokenMarker) {
		return TokenMock
	}
	if len(trimmed) < ClampMinTokenLength(minLen) {
		return TokenTooShort
	}
	return TokenOK
}

func ClampMinTokenLength(minLen int) int {
	if minLen < MinTokenLengthFloor {
		return MinTokenLengthFloor
	}
	if minLen > DefaultMinTokenLength {
		return DefaultMinTokenLength
	}
	return minLen
}

// NewCredential builds a credential for token. When the token is a JWT its
// iat and exp claims are read without verifying the signature; the client
// holds no key and the server remains the authority.
func NewCredential(token string, acquiredAt time.Time) SessionCredential {
	cred := SessionCredential{Token: token, IssuedAt: acquiredAt.UTC()}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return cred
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		cred.IssuedAt = iat.UTC()
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		cred.ExpiresAt = exp.UTC()
	}
	return cred
}

// TokenFingerprint is a stable, non-reversible handle for a token, safe to
// log and to keep in memory after the token itself is gone.
func TokenFingerprint(token string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(token)))
	return hex.EncodeToString(sum[:8])
}
