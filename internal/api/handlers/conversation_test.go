package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tessellate-ai/querymesh/internal/domain"
	"github.com/tessellate-ai/querymesh/internal/service"
)

type MockConversationService struct {
	mock.Mock
}

func (m *MockConversationService) CreateConversation(ctx context.Context, input service.CreateConversationInput) (*domain.Conversation, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Conversation), args.Error(1)
}

func (m *MockConversationService) GetConversation(ctx context.Context, id, tenantID, userID string) (*domain.Conversation, error) {
	args := m.Called(ctx, id, tenantID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Conversation), args.Error(1)
}

func (m *MockConversationService) ListConversations(ctx context.Context, tenantID, userID string, includeArchived bool) ([]*domain.Conversation, error) {
	args := m.Called(ctx, tenantID, userID, includeArchived)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Conversation), args.Error(1)
}

func (m *MockConversationService) ArchiveConversation(ctx context.Context, id, tenantID, userID string) error {
	args := m.Called(ctx, id, tenantID, userID)
	return args.Error(0)
}

func newTestConversation() *domain.Conversation {
	return &domain.Conversation{
		ID:           "conv-1",
		TenantID:     "tenant-1",
		UserID:       "user-1",
		Title:        "Credential rotation",
		QueryCount:   2,
		LastActivity: time.Now().UTC(),
		CreatedAt:    time.Now().UTC(),
	}
}

func TestConversationHandler_Create_Success(t *testing.T) {
	mockSvc := new(MockConversationService)
	handler := NewConversationHandler(mockSvc)

	mockSvc.On("CreateConversation", mock.Anything, mock.MatchedBy(func(input service.CreateConversationInput) bool {
		return input.TenantID == "tenant-1" && input.UserID == "user-1" && input.Title == "Credential rotation"
	})).Return(newTestConversation(), nil)

	body := `{"title":"Credential rotation"}`
	req := requestWithIdentity(http.MethodPost, "/conversations", []byte(body))
	w := httptest.NewRecorder()

	handler.Create(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	var resp map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, "conv-1", data["id"])
	mockSvc.AssertExpectations(t)
}

func TestConversationHandler_Create_Unauthorized(t *testing.T) {
	mockSvc := new(MockConversationService)
	handler := NewConversationHandler(mockSvc)

	req := httptest.NewRequest(http.MethodPost, "/conversations", bytes.NewReader([]byte(`{}`)))
	w := httptest.NewRecorder()

	handler.Create(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestConversationHandler_List_IncludeArchived(t *testing.T) {
	mockSvc := new(MockConversationService)
	handler := NewConversationHandler(mockSvc)

	mockSvc.On("ListConversations", mock.Anything, "tenant-1", "user-1", true).
		Return([]*domain.Conversation{newTestConversation()}, nil)

	req := requestWithIdentity(http.MethodGet, "/conversations?include_archived=true", nil)
	w := httptest.NewRecorder()

	handler.List(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	mockSvc.AssertExpectations(t)
}

func TestConversationHandler_Get_NotFound(t *testing.T) {
	mockSvc := new(MockConversationService)
	handler := NewConversationHandler(mockSvc)

	mockSvc.On("GetConversation", mock.Anything, "conv-9", "tenant-1", "user-1").
		Return(nil, domain.ErrConversationNotFound)

	req := withURLParam(requestWithIdentity(http.MethodGet, "/conversations/conv-9", nil), "id", "conv-9")
	w := httptest.NewRecorder()

	handler.Get(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	mockSvc.AssertExpectations(t)
}

func TestConversationHandler_Archive_Success(t *testing.T) {
	mockSvc := new(MockConversationService)
	handler := NewConversationHandler(mockSvc)

	mockSvc.On("ArchiveConversation", mock.Anything, "conv-1", "tenant-1", "user-1").Return(nil)

	req := withURLParam(requestWithIdentity(http.MethodPost, "/conversations/conv-1/archive", nil), "id", "conv-1")
	w := httptest.NewRecorder()

	handler.Archive(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	mockSvc.AssertExpectations(t)
}

func TestConversationHandler_Archive_AlreadyArchived(t *testing.T) {
	mockSvc := new(MockConversationService)
	handler := NewConversationHandler(mockSvc)

	mockSvc.On("ArchiveConversation", mock.Anything, "conv-1", "tenant-1", "user-1").
		Return(domain.ErrConversationArchived)

	req := withURLParam(requestWithIdentity(http.MethodPost, "/conversations/conv-1/archive", nil), "id", "conv-1")
	w := httptest.NewRecorder()

	handler.Archive(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
	mockSvc.AssertExpectations(t)
}
