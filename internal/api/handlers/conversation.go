package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tessellate-ai/querymesh/internal/api"
	"github.com/tessellate-ai/querymesh/internal/api/middleware"
	"github.com/tessellate-ai/querymesh/internal/domain"
	"github.com/tessellate-ai/querymesh/internal/service"
)

type ConversationService interface {
	CreateConversation(ctx context.Context, input service.CreateConversationInput) (*domain.Conversation, error)
	GetConversation(ctx context.Context, id, tenantID, userID string) (*domain.Conversation, error)
	ListConversations(ctx context.Context, tenantID, userID string, includeArchived bool) ([]*domain.Conversation, error)
	ArchiveConversation(ctx context.Context, id, tenantID, userID string) error
}

type ConversationHandler struct {
	svc ConversationService
}

func NewConversationHandler(svc ConversationService) *ConversationHandler {
	return &ConversationHandler{svc: svc}
}

type CreateConversationRequest struct {
	Title string `json:"title"`
}

type ConversationResponse struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	QueryCount   int    `json:"query_count"`
	IsArchived   bool   `json:"is_archived"`
	LastActivity string `json:"last_activity"`
	CreatedAt    string `json:"created_at"`
}

func conversationToResponse(c *domain.Conversation) *ConversationResponse {
	return &ConversationResponse{
		ID:           c.ID,
		Title:        c.Title,
		QueryCount:   c.QueryCount,
		IsArchived:   c.IsArchived,
		LastActivity: c.LastActivity.Format("2006-01-02T15:04:05Z"),
		CreatedAt:    c.CreatedAt.Format("2006-01-02T15:04:05Z"),
	}
}

func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	if identity == nil {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	conversation, err := h.svc.CreateConversation(r.Context(), service.CreateConversationInput{
		TenantID: identity.TenantID,
		UserID:   identity.UserID,
		Title:    req.Title,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, conversationToResponse(conversation))
}

func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	if identity == nil {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	conversation, err := h.svc.GetConversation(r.Context(), id, identity.TenantID, identity.UserID)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, conversationToResponse(conversation))
}

func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	if identity == nil {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	includeArchived := r.URL.Query().Get("include_archived") == "true"

	conversations, err := h.svc.ListConversations(r.Context(), identity.TenantID, identity.UserID, includeArchived)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := make([]*ConversationResponse, 0, len(conversations))
	for _, c := range conversations {
		resp = append(resp, conversationToResponse(c))
	}

	api.Success(w, http.StatusOK, resp)
}

func (h *ConversationHandler) Archive(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	if identity == nil {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	if err := h.svc.ArchiveConversation(r.Context(), id, identity.TenantID, identity.UserID); err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, map[string]string{"status": "archived"})
}
