package handlers

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"chatrelay-backend/internal/models"
	"chatrelay-backend/internal/relay"
	"chatrelay-backend/internal/services"
	"chatrelay-backend/pkg/httputil"
)

// ChatService runs new conversation turns.
type ChatService interface {
	Chat(ctx context.Context, req models.ChatRequest, opts services.Options) (*models.ChatResponse, error)
	ChatStream(ctx context.Context, req models.ChatRequest, opts services.Options, sink relay.Sink) error
}

type ChatHandler struct {
	chat    ChatService
	streams StreamRegistry
	logger  zerolog.Logger
}

func NewChatHandler(chat ChatService, streams StreamRegistry, logger zerolog.Logger) *ChatHandler {
	return &ChatHandler{
		chat:    chat,
		streams: streams,
		logger:  logger.With().Str("handler", "chat").Logger(),
	}
}

// HandleChat handles POST /v1/chat.
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if !decodeRequest(w, r, &req, false) {
		return
	}
	resp, err := h.chat.Chat(r.Context(), req, services.Options{Model: req.Model, Temperature: req.Temperature})
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, resp)
}

// HandleChatStream handles POST /v1/chat/stream.
func (h *ChatHandler) HandleChatStream(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if !decodeRequest(w, r, &req, false) {
		return
	}
	opts := services.Options{Model: req.Model, Temperature: req.Temperature}
	serveStream(w, r, h.streams, h.logger, opts, func(ctx context.Context, opts services.Options, sink relay.Sink) error {
		return h.chat.ChatStream(ctx, req, opts, sink)
	})
}
