package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chatrelay-backend/internal/models"
	"chatrelay-backend/pkg/httputil"
)

// ConversationService is the bookkeeping surface used by the conversation
// and message handlers.
type ConversationService interface {
	CreateConversation(ctx context.Context, req models.CreateConversationRequest) (*models.CreatedResponse, error)
	ListConversations(ctx context.Context) ([]models.ConversationResponse, error)
	RenameConversation(ctx context.Context, id uuid.UUID, req models.RenameConversationRequest) error
	DeleteConversation(ctx context.Context, id uuid.UUID) error
	ListMessages(ctx context.Context, conversationID uuid.UUID) ([]models.MessageResponse, error)
	GetMessage(ctx context.Context, id uuid.UUID) (*models.MessageResponse, error)
	DeleteMessage(ctx context.Context, id uuid.UUID) error
	ListVariants(ctx context.Context, messageID uuid.UUID) (*models.ListVariantsResponse, error)
	SetActiveVariant(ctx context.Context, messageID uuid.UUID, req models.SetActiveVariantRequest) error
}

type ConversationHandler struct {
	service ConversationService
	logger  zerolog.Logger
}

func NewConversationHandler(service ConversationService, logger zerolog.Logger) *ConversationHandler {
	return &ConversationHandler{
		service: service,
		logger:  logger.With().Str("handler", "conversations").Logger(),
	}
}

// HandleCreate handles POST /v1/conversations.
func (h *ConversationHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req models.CreateConversationRequest
	if !decodeRequest(w, r, &req, true) {
		return
	}
	resp, err := h.service.CreateConversation(r.Context(), req)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	httputil.RespondJSON(w, http.StatusCreated, resp)
}

// HandleList handles GET /v1/conversations.
func (h *ConversationHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.ListConversations(r.Context())
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, resp)
}

// HandleRename handles PATCH /v1/conversations/{id}.
func (h *ConversationHandler) HandleRename(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req models.RenameConversationRequest
	if !decodeRequest(w, r, &req, false) {
		return
	}
	if err := h.service.RenameConversation(r.Context(), id, req); err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDelete handles DELETE /v1/conversations/{id}.
func (h *ConversationHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.DeleteConversation(r.Context(), id); err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleListMessages handles GET /v1/conversations/{id}/messages.
func (h *ConversationHandler) HandleListMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	resp, err := h.service.ListMessages(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, resp)
}
