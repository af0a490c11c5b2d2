package auth

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

// TokenVerifier checks candidates against the shared access token. Only the
// bcrypt hash is kept in memory after construction.
type TokenVerifier struct {
	hash []byte
}

// MaxTokenLength is the longest access token bcrypt can hash, in bytes.
const MaxTokenLength = 72

// NewTokenVerifier hashes token.
func NewTokenVerifier(token string) (*TokenVerifier, error) {
	if len(token) > MaxTokenLength {
		return nil, fmt.Errorf("access token is %d bytes, at most %d are supported", len(token), MaxTokenLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing access token: %w", err)
	}
	return &TokenVerifier{hash: hash}, nil
}

// Verify compares a plaintext candidate with the stored hash.
func (v *TokenVerifier) Verify(candidate string) bool {
	if v == nil || candidate == "" {
		return false
	}
	err := bcrypt.CompareHashAndPassword(v.hash, []byte(candidate))
	if err != nil {
		if err != bcrypt.ErrMismatchedHashAndPassword {
			// Log unexpected errors, but still return false for security
			log.Error().Err(err).Msg("comparing access token hash")
		}
		return false
	}
	return true
}
