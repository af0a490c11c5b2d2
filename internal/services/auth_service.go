package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"chatrelay-backend/internal/auth"
	"chatrelay-backend/internal/models"
)

var (
	ErrInvalidCredentials = errors.New("invalid access token")
	ErrCreatingToken      = errors.New("failed to create session token")
)

// tokenSubject is the subject of every issued session token; there is a
// single shared credential.
const tokenSubject = "client"

// AuthService exchanges the shared access token for session JWTs and
// validates bearer credentials.
type AuthService struct {
	verifier   *auth.TokenVerifier
	jwtSecret  string
	expiration time.Duration
	logger     zerolog.Logger
}

// NewAuthService creates a new AuthService. The access token is hashed
// immediately; an empty token disables the exchange.
func NewAuthService(accessToken, jwtSecret string, expiration time.Duration, logger zerolog.Logger) (*AuthService, error) {
	s := &AuthService{
		jwtSecret:  jwtSecret,
		expiration: expiration,
		logger:     logger.With().Str("component", "auth").Logger(),
	}
	if accessToken != "" {
		v, err := auth.NewTokenVerifier(accessToken)
		if err != nil {
			return nil, err
		}
		s.verifier = v
	}
	return s, nil
}

// Exchange trades the shared access token for a session token.
func (s *AuthService) Exchange(token string) (*models.TokenResponse, error) {
	if !s.verifier.Verify(token) {
		s.logger.Warn().Msg("rejected token exchange")
		return nil, ErrInvalidCredentials
	}
	return s.Issue()
}

// Issue signs a fresh session token.
func (s *AuthService) Issue() (*models.TokenResponse, error) {
	signed, expiresAt, err := auth.NewAccessToken(tokenSubject, s.jwtSecret, s.expiration)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreatingToken, err)
	}
	return &models.TokenResponse{AccessToken: signed, ExpiresAt: expiresAt}, nil
}

// Authenticate accepts a session token or, as a fallback, the raw shared
// access token, and returns the subject.
func (s *AuthService) Authenticate(bearer string) (string, error) {
	claims, err := auth.ParseAccessToken(bearer, s.jwtSecret)
	if err == nil {
		return claims.Subject, nil
	}
	if s.verifier.Verify(bearer) {
		return tokenSubject, nil
	}
	return "", fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
}
