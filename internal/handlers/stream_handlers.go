package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"chatrelay-backend/internal/streams"
	"chatrelay-backend/pkg/httputil"
)

// StreamRegistry hands out abortable contexts for streamed operations.
type StreamRegistry interface {
	Register(parent context.Context) (ctx context.Context, id string, release func())
	Abort(ctx context.Context, id string) (streams.AbortResult, error)
}

type StreamHandler struct {
	streams StreamRegistry
	logger  zerolog.Logger
}

func NewStreamHandler(streams StreamRegistry, logger zerolog.Logger) *StreamHandler {
	return &StreamHandler{
		streams: streams,
		logger:  logger.With().Str("handler", "streams").Logger(),
	}
}

// HandleAbort handles POST /v1/streams/{streamId}/abort.
func (h *StreamHandler) HandleAbort(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "streamId")
	res, err := h.streams.Abort(r.Context(), id)
	if err != nil {
		h.logger.Error().Err(err).Str("stream_id", id).Msg("broadcasting abort")
		httputil.RespondError(w, http.StatusInternalServerError, "Abort failed") // 500
		return
	}
	switch res {
	case streams.AbortLocal:
		w.WriteHeader(http.StatusNoContent) // 204
	case streams.AbortForwarded:
		w.WriteHeader(http.StatusAccepted) // 202
	default:
		httputil.RespondError(w, http.StatusNotFound, "Stream not found") // 404
	}
}
