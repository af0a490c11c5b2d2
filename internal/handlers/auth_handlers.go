package handlers

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	api_models "chatrelay-backend/internal/models"
	"chatrelay-backend/internal/services"
	"chatrelay-backend/pkg/httputil"
)

// AuthService defines the interface expected from the auth service.
type AuthService interface {
	Exchange(token string) (*api_models.TokenResponse, error)
}

type AuthHandler struct {
	authService AuthService
	logger      zerolog.Logger
}

func NewAuthHandler(authSvc AuthService, logger zerolog.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authSvc,
		logger:      logger.With().Str("handler", "auth").Logger(),
	}
}

// HandleToken handles the POST /v1/auth/token request.
func (h *AuthHandler) HandleToken(w http.ResponseWriter, r *http.Request) {
	var req api_models.TokenRequest
	if !decodeRequest(w, r, &req, false) {
		return
	}

	resp, err := h.authService.Exchange(req.Token)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidCredentials):
			httputil.RespondError(w, http.StatusUnauthorized, err.Error()) // 401
		default:
			h.logger.Error().Err(err).Msg("token exchange failed")
			httputil.RespondError(w, http.StatusInternalServerError, "Token exchange failed due to an internal error") // 500
		}
		return
	}
	httputil.RespondJSON(w, http.StatusOK, resp)
}
