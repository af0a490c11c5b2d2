package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	token, exp, err := NewAccessToken("cli", "s3cret", time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	claims, err := ParseAccessToken(token, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "cli", claims.Subject)
	assert.Equal(t, "chat", claims.Scope)

	_, err = ParseAccessToken(token, "other")
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
}

func TestParseAccessToken_Expired(t *testing.T) {
	token, _, err := NewAccessToken("cli", "s3cret", -time.Minute)
	require.NoError(t, err)
	_, err = ParseAccessToken(token, "s3cret")
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestParseAccessToken_Malformed(t *testing.T) {
	_, err := ParseAccessToken("not-a-jwt", "s3cret")
	assert.ErrorIs(t, err, jwt.ErrTokenMalformed)
}

func TestTokenVerifier(t *testing.T) {
	v, err := NewTokenVerifier("shared-token")
	require.NoError(t, err)
	assert.True(t, v.Verify("shared-token"))
	assert.False(t, v.Verify("wrong"))
	assert.False(t, v.Verify(""))

	var nilVerifier *TokenVerifier
	assert.False(t, nilVerifier.Verify("shared-token"))

	_, err = NewTokenVerifier(strings.Repeat("x", MaxTokenLength+1))
	assert.ErrorContains(t, err, "at most 72")
}

func TestSubjectContext(t *testing.T) {
	_, ok := GetSubjectFromContext(context.Background())
	assert.False(t, ok)

	sub, ok := GetSubjectFromContext(WithSubject(context.Background(), "cli"))
	assert.True(t, ok)
	assert.Equal(t, "cli", sub)
}
