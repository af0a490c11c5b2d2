package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chatrelay-backend/internal/models"
	"chatrelay-backend/internal/store"
)

// ConversationService handles conversation, message and variant bookkeeping
// that does not involve the model.
type ConversationService struct {
	store  store.Store
	logger zerolog.Logger
}

// NewConversationService creates a new ConversationService.
func NewConversationService(store store.Store, logger zerolog.Logger) *ConversationService {
	return &ConversationService{
		store:  store,
		logger: logger.With().Str("component", "conversations").Logger(),
	}
}

func mapConversation(c *models.Conversation) models.ConversationResponse {
	return models.ConversationResponse{
		ID:        c.ID,
		Title:     c.Title,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func mapMessage(m *models.MessageWithContent) models.MessageResponse {
	return models.MessageResponse{
		ID:              m.ID,
		ConversationID:  m.ConversationID,
		Role:            m.Role,
		CreatedAt:       m.CreatedAt,
		DeletedAt:       m.DeletedAt,
		ParentMessageID: m.ParentMessageID,
		ActiveVariantID: m.ActiveVariantID,
		Content:         m.Content,
		Reasoning:       m.Reasoning,
		VariantCount:    m.VariantCount,
	}
}

// CreateConversation creates an empty conversation.
func (s *ConversationService) CreateConversation(ctx context.Context, req models.CreateConversationRequest) (*models.CreatedResponse, error) {
	conv, err := s.store.CreateConversation(ctx, req.Title)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	s.logger.Info().Str("conversation_id", conv.ID.String()).Msg("conversation created")
	return &models.CreatedResponse{ID: conv.ID}, nil
}

// ListConversations returns non-deleted conversations, most recently active first.
func (s *ConversationService) ListConversations(ctx context.Context) ([]models.ConversationResponse, error) {
	convs, err := s.store.ListConversations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	resp := make([]models.ConversationResponse, 0, len(convs))
	for i := range convs {
		resp = append(resp, mapConversation(&convs[i]))
	}
	return resp, nil
}

// RenameConversation sets the title, or clears it when title is nil.
func (s *ConversationService) RenameConversation(ctx context.Context, id uuid.UUID, req models.RenameConversationRequest) error {
	if err := s.store.RenameConversation(ctx, id, req.Title); err != nil {
		return fmt.Errorf("failed to rename conversation: %w", err)
	}
	return nil
}

func (s *ConversationService) DeleteConversation(ctx context.Context, id uuid.UUID) error {
	if err := s.store.SoftDeleteConversation(ctx, id); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	s.logger.Info().Str("conversation_id", id.String()).Msg("conversation deleted")
	return nil
}

// ListMessages returns the visible slots of a conversation with their active content.
func (s *ConversationService) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]models.MessageResponse, error) {
	if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	msgs, err := s.store.ListActiveForConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	resp := make([]models.MessageResponse, 0, len(msgs))
	for i := range msgs {
		if msgs[i].Content == nil {
			// Pointer does not resolve; surfaced as null content.
			s.logger.Warn().Str("message_id", msgs[i].ID.String()).Msg("message without active content")
		}
		resp = append(resp, mapMessage(&msgs[i]))
	}
	return resp, nil
}

// GetMessage returns one slot. Deleted slots are reported as not found.
func (s *ConversationService) GetMessage(ctx context.Context, id uuid.UUID) (*models.MessageResponse, error) {
	msg, err := s.store.GetMessage(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	if msg.DeletedAt != nil {
		return nil, fmt.Errorf("failed to get message: %w", store.ErrNotFound)
	}
	resp := mapMessage(msg)
	return &resp, nil
}

func (s *ConversationService) DeleteMessage(ctx context.Context, id uuid.UUID) error {
	if err := s.store.SoftDeleteMessage(ctx, id); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// ListVariants returns every variant of a slot in creation order, including
// those of soft-deleted slots.
func (s *ConversationService) ListVariants(ctx context.Context, messageID uuid.UUID) (*models.ListVariantsResponse, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	variants, err := s.store.ListVariants(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to list variants: %w", err)
	}

	resp := &models.ListVariantsResponse{
		MessageID:       messageID,
		ActiveVariantID: msg.ActiveVariantID,
		Variants:        make([]models.VariantResponse, 0, len(variants)),
	}
	for _, v := range variants {
		resp.Variants = append(resp.Variants, models.VariantResponse{
			ID:        v.ID,
			MessageID: v.MessageID,
			Content:   v.Content,
			Reasoning: v.Reasoning,
			Kind:      v.Kind,
			CreatedAt: v.CreatedAt,
			IsActive:  msg.ActiveVariantID != nil && *msg.ActiveVariantID == v.ID,
		})
	}
	return resp, nil
}

// SetActiveVariant moves the active pointer of a slot to one of its variants.
func (s *ConversationService) SetActiveVariant(ctx context.Context, messageID uuid.UUID, req models.SetActiveVariantRequest) error {
	if err := s.store.SetActiveVariant(ctx, messageID, req.VariantID, req.ExpectedActiveVariantID); err != nil {
		return fmt.Errorf("failed to set active variant: %w", err)
	}
	s.logger.Info().
		Str("message_id", messageID.String()).
		Str("variant_id", req.VariantID.String()).
		Msg("active variant changed")
	return nil
}
