package models

import (
	"time"

	"github.com/google/uuid"
)

// --- Auth ---

// TokenRequest exchanges the shared access token for a session JWT.
type TokenRequest struct {
	Token string `json:"token" validate:"required"`
}

type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// --- Conversations ---

type CreateConversationRequest struct {
	Title *string `json:"title,omitempty" validate:"omitempty,min=1,max=200"`
}

// RenameConversationRequest sets or clears the title. A JSON null clears it.
type RenameConversationRequest struct {
	Title *string `json:"title" validate:"omitempty,min=1,max=200"`
}

type CreatedResponse struct {
	ID uuid.UUID `json:"id"`
}

type ConversationResponse struct {
	ID        uuid.UUID `json:"id"`
	Title     *string   `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// --- Messages & variants ---

type MessageResponse struct {
	ID              uuid.UUID  `json:"id"`
	ConversationID  uuid.UUID  `json:"conversation_id"`
	Role            Role       `json:"role"`
	CreatedAt       time.Time  `json:"created_at"`
	DeletedAt       *time.Time `json:"deleted_at,omitempty"`
	ParentMessageID *uuid.UUID `json:"parent_message_id,omitempty"`
	ActiveVariantID *uuid.UUID `json:"active_variant_id"`
	Content         *string    `json:"content"`
	Reasoning       *string    `json:"reasoning,omitempty"`
	VariantCount    int        `json:"variant_count"`
}

type VariantResponse struct {
	ID        uuid.UUID   `json:"id"`
	MessageID uuid.UUID   `json:"message_id"`
	Content   string      `json:"content"`
	Reasoning *string     `json:"reasoning,omitempty"`
	Kind      VariantKind `json:"kind"`
	CreatedAt time.Time   `json:"created_at"`
	IsActive  bool        `json:"is_active"`
}

type ListVariantsResponse struct {
	MessageID       uuid.UUID         `json:"message_id"`
	ActiveVariantID *uuid.UUID        `json:"active_variant_id"`
	Variants        []VariantResponse `json:"variants"`
}

// SetActiveVariantRequest switches the active variant. When
// ExpectedActiveVariantID is set the switch only applies if it is still current.
type SetActiveVariantRequest struct {
	VariantID               uuid.UUID  `json:"variant_id" validate:"required"`
	ExpectedActiveVariantID *uuid.UUID `json:"expected_active_variant_id,omitempty"`
}

// GenerateOptions are the optional knobs of regenerate and continue.
type GenerateOptions struct {
	Model       string   `json:"model,omitempty" validate:"omitempty,max=200"`
	Temperature *float64 `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
}

// VariantResultResponse is returned by the blocking regenerate and continue endpoints.
type VariantResultResponse struct {
	MessageID     uuid.UUID `json:"message_id"`
	VariantID     uuid.UUID `json:"variant_id"`
	VariantCount  int       `json:"variant_count"`
	Active        bool      `json:"active"`
	AssistantText string    `json:"assistant_text"`
	Reasoning     *string   `json:"reasoning,omitempty"`
}

// --- Chat ---

type ChatMessageInput struct {
	Role    Role   `json:"role" validate:"required,oneof=system user assistant tool"`
	Content string `json:"content" validate:"required,min=1"`
}

type ChatRequest struct {
	ConversationID *uuid.UUID         `json:"conversation_id,omitempty"`
	Model          string             `json:"model,omitempty" validate:"omitempty,max=200"`
	Temperature    *float64           `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	Messages       []ChatMessageInput `json:"messages" validate:"required,min=1,dive"`
}

type ChatResponse struct {
	ConversationID            uuid.UUID   `json:"conversation_id"`
	CreatedUserMessageIDs     []uuid.UUID `json:"created_user_message_ids"`
	CreatedAssistantMessageID uuid.UUID   `json:"created_assistant_message_id"`
	AssistantText             string      `json:"assistant_text"`
	Reasoning                 *string     `json:"reasoning,omitempty"`
	Title                     *string     `json:"title,omitempty"`
}

// --- Stream events ---

type ChatMetaEvent struct {
	StreamID              string      `json:"stream_id"`
	ConversationID        uuid.UUID   `json:"conversation_id"`
	CreatedUserMessageIDs []uuid.UUID `json:"created_user_message_ids"`
}

type VariantMetaEvent struct {
	StreamID       string    `json:"stream_id"`
	MessageID      uuid.UUID `json:"message_id"`
	ConversationID uuid.UUID `json:"conversation_id"`
}

type TitleEvent struct {
	Title string `json:"title"`
}

type ChatFinalEvent struct {
	CreatedAssistantMessageID uuid.UUID `json:"created_assistant_message_id"`
}

type VariantFinalEvent struct {
	MessageID    uuid.UUID `json:"message_id"`
	VariantID    uuid.UUID `json:"variant_id"`
	VariantCount int       `json:"variant_count"`
	Active       bool      `json:"active"`
}

// --- Upstream ---

type ModelResponse struct {
	ID      string `json:"id"`
	OwnedBy string `json:"owned_by,omitempty"`
}

type UpstreamHealthResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}
