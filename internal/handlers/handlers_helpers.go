package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chatrelay-backend/internal/relay"
	"chatrelay-backend/internal/services"
	"chatrelay-backend/internal/store"
	"chatrelay-backend/pkg/httputil"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// decodeRequest decodes and validates a JSON body, writing a 400 on failure.
func decodeRequest(w http.ResponseWriter, r *http.Request, dst interface{}, allowEmpty bool) bool {
	if err := httputil.DecodeJSON(w, r, dst, allowEmpty); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "Invalid request payload"
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s", fe.Namespace(), fe.Tag()))
		}
	}
	return "Invalid request: " + strings.Join(parts, "; ")
}

// pathID parses a UUID path parameter, writing a 400 on failure.
func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// respondServiceError maps service and store errors to HTTP responses.
func respondServiceError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	switch {
	case errors.Is(err, context.Canceled):
		// Client went away; nothing to write.
		logger.Debug().Err(err).Msg("request cancelled")
	case errors.Is(err, store.ErrNotFound):
		httputil.RespondError(w, http.StatusNotFound, "Not found") // 404
	case errors.Is(err, store.ErrVariantMismatch),
		errors.Is(err, services.ErrNotAssistant),
		errors.Is(err, services.ErrValidation):
		httputil.RespondError(w, http.StatusBadRequest, rootMessage(err)) // 400
	case errors.Is(err, store.ErrActiveVariantConflict):
		httputil.RespondError(w, http.StatusConflict, store.ErrActiveVariantConflict.Error()) // 409
	case errors.Is(err, services.ErrEmptyResult):
		httputil.RespondError(w, http.StatusBadGateway, "Empty response from model") // 502
	case errors.Is(err, relay.ErrUpstreamUnavailable), errors.Is(err, context.DeadlineExceeded):
		logger.Warn().Err(err).Msg("upstream request failed")
		httputil.RespondError(w, http.StatusBadGateway, "Upstream request failed") // 502
	default:
		logger.Error().Err(err).Msg("request failed")
		httputil.RespondError(w, http.StatusInternalServerError, "Internal server error") // 500
	}
}

// rootMessage returns the text of the sentinel at the bottom of err.
func rootMessage(err error) string {
	for _, sentinel := range []error{store.ErrVariantMismatch, services.ErrNotAssistant} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}

// serveStream runs one streamed operation under a registered stream id.
// Errors have already been reported to the client as an error event.
func serveStream(w http.ResponseWriter, r *http.Request, registry StreamRegistry, logger zerolog.Logger, opts services.Options,
	run func(ctx context.Context, opts services.Options, sink relay.Sink) error) {
	sse, err := NewSSEWriter(w)
	if err != nil {
		httputil.RespondError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	ctx, streamID, release := registry.Register(r.Context())
	defer release()
	opts.StreamID = streamID

	if err := run(ctx, opts, sse); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug().Str("stream_id", streamID).Msg("stream aborted")
			return
		}
		logger.Warn().Err(err).Str("stream_id", streamID).Msg("stream ended with error")
	}
}
