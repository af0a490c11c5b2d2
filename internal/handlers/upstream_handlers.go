package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"chatrelay-backend/internal/llm"
	"chatrelay-backend/internal/models"
	"chatrelay-backend/pkg/httputil"
)

// Upstream is the provider passthrough surface. Implemented by *llm.Client.
type Upstream interface {
	ListModels(ctx context.Context) ([]llm.Model, error)
	Health(ctx context.Context) error
}

type UpstreamHandler struct {
	upstream Upstream
	logger   zerolog.Logger
}

func NewUpstreamHandler(upstream Upstream, logger zerolog.Logger) *UpstreamHandler {
	return &UpstreamHandler{
		upstream: upstream,
		logger:   logger.With().Str("handler", "upstream").Logger(),
	}
}

// HandleModels handles GET /v1/models.
func (h *UpstreamHandler) HandleModels(w http.ResponseWriter, r *http.Request) {
	list, err := h.upstream.ListModels(r.Context())
	if err != nil {
		h.logger.Warn().Err(err).Msg("listing upstream models")
		var se *llm.StatusError
		if errors.As(err, &se) {
			httputil.RespondError(w, http.StatusBadGateway, "Upstream returned an error") // 502
			return
		}
		httputil.RespondError(w, http.StatusBadGateway, "Upstream unavailable") // 502
		return
	}
	resp := make([]models.ModelResponse, 0, len(list))
	for _, m := range list {
		resp = append(resp, models.ModelResponse{ID: m.ID, OwnedBy: m.OwnedBy})
	}
	httputil.RespondJSON(w, http.StatusOK, resp)
}

// HandleHealth handles GET /v1/upstream/health. The body reports the
// outcome; the status is 200 either way.
func (h *UpstreamHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.upstream.Health(r.Context()); err != nil {
		httputil.RespondJSON(w, http.StatusOK, models.UpstreamHealthResponse{OK: false, Error: err.Error()})
		return
	}
	httputil.RespondJSON(w, http.StatusOK, models.UpstreamHealthResponse{OK: true})
}
