package service

import (
	"context"
	"strings"
	"time"

	"github.com/tessellate-ai/querymesh/internal/domain"
	"github.com/tessellate-ai/querymesh/internal/telemetry"
)

const conversationTitleMaxChars = 120

// ConversationService manages conversation grouping for follow-up queries
type ConversationService struct {
	conversationRepo ConversationRepositoryInterface
	uuidGen          UUIDGenerator
}

// NewConversationService creates a new ConversationService instance
func NewConversationService(conversationRepo ConversationRepositoryInterface) *ConversationService {
	return &ConversationService{
		conversationRepo: conversationRepo,
		uuidGen:          &DefaultUUIDGenerator{},
	}
}

// CreateConversationInput represents the input for starting a conversation
type CreateConversationInput struct {
	TenantID string
	UserID   string
	Title    string
}

// CreateConversation starts a new conversation for a user
func (s *ConversationService) CreateConversation(ctx context.Context, input CreateConversationInput) (*domain.Conversation, error) {
	ctx, span := telemetry.StartSpan(ctx, "ConversationService.CreateConversation", telemetry.SpanAttributes{
		TenantID:  input.TenantID,
		UserID:    input.UserID,
		Operation: "create_conversation",
	})
	defer span.End()

	if input.TenantID == "" || input.UserID == "" {
		return nil, domain.ErrMissingRequiredField
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = "Untitled conversation"
	}
	if len(title) > conversationTitleMaxChars {
		title = title[:conversationTitleMaxChars]
	}

	now := time.Now().UTC()
	conversation := &domain.Conversation{
		ID:           s.uuidGen.NewString(),
		TenantID:     input.TenantID,
		UserID:       input.UserID,
		Title:        title,
		Context:      []domain.ContextTurn{},
		LastActivity: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.conversationRepo.Create(ctx, conversation); err != nil {
		return nil, err
	}

	return conversation, nil
}

// GetConversation retrieves a conversation, enforcing ownership
func (s *ConversationService) GetConversation(ctx context.Context, id, tenantID, userID string) (*domain.Conversation, error) {
	conversation, err := s.conversationRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if conversation.TenantID != tenantID || conversation.UserID != userID {
		return nil, domain.ErrConversationNotFound
	}
	return conversation, nil
}

// ListConversations retrieves a user's conversations, most recent activity first
func (s *ConversationService) ListConversations(ctx context.Context, tenantID, userID string, includeArchived bool) ([]*domain.Conversation, error) {
	return s.conversationRepo.ListByUser(ctx, tenantID, userID, includeArchived)
}

// ArchiveConversation marks a conversation archived. Archived conversations
// reject new queries but keep their history readable.
func (s *ConversationService) ArchiveConversation(ctx context.Context, id, tenantID, userID string) error {
	ctx, span := telemetry.StartSpan(ctx, "ConversationService.ArchiveConversation", telemetry.SpanAttributes{
		TenantID:  tenantID,
		UserID:    userID,
		Operation: "archive_conversation",
	})
	defer span.End()

	conversation, err := s.GetConversation(ctx, id, tenantID, userID)
	if err != nil {
		return err
	}
	if conversation.IsArchived {
		return domain.ErrConversationArchived
	}

	return s.conversationRepo.Archive(ctx, id)
}
