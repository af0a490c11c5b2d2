package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chatrelay-backend/internal/models"
	"chatrelay-backend/internal/relay"
	"chatrelay-backend/internal/services"
	"chatrelay-backend/pkg/httputil"
)

// VariantService produces regenerated and continued variants.
type VariantService interface {
	Regenerate(ctx context.Context, messageID uuid.UUID, opts services.Options) (*models.VariantResultResponse, error)
	Continue(ctx context.Context, messageID uuid.UUID, opts services.Options) (*models.VariantResultResponse, error)
	RegenerateStream(ctx context.Context, messageID uuid.UUID, opts services.Options, sink relay.Sink) error
	ContinueStream(ctx context.Context, messageID uuid.UUID, opts services.Options, sink relay.Sink) error
}

type MessageHandler struct {
	conversations ConversationService
	variants      VariantService
	streams       StreamRegistry
	logger        zerolog.Logger
}

func NewMessageHandler(conversations ConversationService, variants VariantService, streams StreamRegistry, logger zerolog.Logger) *MessageHandler {
	return &MessageHandler{
		conversations: conversations,
		variants:      variants,
		streams:       streams,
		logger:        logger.With().Str("handler", "messages").Logger(),
	}
}

// HandleGet handles GET /v1/messages/{id}.
func (h *MessageHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	resp, err := h.conversations.GetMessage(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, resp)
}

// HandleDelete handles DELETE /v1/messages/{id}.
func (h *MessageHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.conversations.DeleteMessage(r.Context(), id); err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleListVariants handles GET /v1/messages/{id}/variants.
func (h *MessageHandler) HandleListVariants(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	resp, err := h.conversations.ListVariants(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, resp)
}

// HandleSetActive handles PATCH /v1/messages/{id}/active-variant.
func (h *MessageHandler) HandleSetActive(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req models.SetActiveVariantRequest
	if !decodeRequest(w, r, &req, false) {
		return
	}
	if err := h.conversations.SetActiveVariant(r.Context(), id, req); err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MessageHandler) generateRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, services.Options, bool) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return uuid.Nil, services.Options{}, false
	}
	var req models.GenerateOptions
	if !decodeRequest(w, r, &req, true) {
		return uuid.Nil, services.Options{}, false
	}
	return id, services.Options{Model: req.Model, Temperature: req.Temperature}, true
}

// HandleRegenerate handles POST /v1/messages/{id}/variants/regenerate.
func (h *MessageHandler) HandleRegenerate(w http.ResponseWriter, r *http.Request) {
	h.blocking(w, r, h.variants.Regenerate)
}

// HandleContinue handles POST /v1/messages/{id}/variants/continue.
func (h *MessageHandler) HandleContinue(w http.ResponseWriter, r *http.Request) {
	h.blocking(w, r, h.variants.Continue)
}

// HandleRegenerateStream handles POST /v1/messages/{id}/variants/regenerate/stream.
func (h *MessageHandler) HandleRegenerateStream(w http.ResponseWriter, r *http.Request) {
	h.streaming(w, r, h.variants.RegenerateStream)
}

// HandleContinueStream handles POST /v1/messages/{id}/variants/continue/stream.
func (h *MessageHandler) HandleContinueStream(w http.ResponseWriter, r *http.Request) {
	h.streaming(w, r, h.variants.ContinueStream)
}

func (h *MessageHandler) blocking(w http.ResponseWriter, r *http.Request,
	run func(context.Context, uuid.UUID, services.Options) (*models.VariantResultResponse, error)) {
	id, opts, ok := h.generateRequest(w, r)
	if !ok {
		return
	}
	resp, err := run(r.Context(), id, opts)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, resp)
}

func (h *MessageHandler) streaming(w http.ResponseWriter, r *http.Request,
	run func(context.Context, uuid.UUID, services.Options, relay.Sink) error) {
	id, opts, ok := h.generateRequest(w, r)
	if !ok {
		return
	}
	serveStream(w, r, h.streams, h.logger, opts, func(ctx context.Context, opts services.Options, sink relay.Sink) error {
		return run(ctx, id, opts, sink)
	})
}
