package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tessellate-ai/querymesh/internal/api/handlers"
	"github.com/tessellate-ai/querymesh/internal/domain"
	"github.com/tessellate-ai/querymesh/internal/service"
)

type MockAuthValidator struct {
	mock.Mock
}

func (m *MockAuthValidator) ValidateAPIKey(ctx context.Context, token string) (*domain.Identity, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Identity), args.Error(1)
}

type MockQueryService struct {
	mock.Mock
}

func (m *MockQueryService) SubmitQuery(ctx context.Context, input service.SubmitQueryInput) (*service.QueryResult, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.QueryResult), args.Error(1)
}

func (m *MockQueryService) GetQuery(ctx context.Context, id, tenantID, userID string) (*service.QueryResult, error) {
	args := m.Called(ctx, id, tenantID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.QueryResult), args.Error(1)
}

func (m *MockQueryService) ListQueries(ctx context.Context, input service.ListQueriesInput) (*service.QueryPageResult, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.QueryPageResult), args.Error(1)
}

func (m *MockQueryService) CancelQuery(ctx context.Context, id, tenantID, userID string) error {
	args := m.Called(ctx, id, tenantID, userID)
	return args.Error(0)
}

func (m *MockQueryService) RecordFeedback(ctx context.Context, input service.FeedbackInput) error {
	args := m.Called(ctx, input)
	return args.Error(0)
}

func (m *MockQueryService) RecordCitationClick(ctx context.Context, queryID, citationID, tenantID, userID string) error {
	args := m.Called(ctx, queryID, citationID, tenantID, userID)
	return args.Error(0)
}

func (m *MockQueryService) QueryAnalytics(ctx context.Context, tenantID, userID string, days int) (*domain.QueryAnalytics, error) {
	args := m.Called(ctx, tenantID, userID, days)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.QueryAnalytics), args.Error(1)
}

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

type MockRegistryService struct {
	mock.Mock
}

func (m *MockRegistryService) CreatePartition(ctx context.Context, input service.CreatePartitionInput) (*domain.Partition, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Partition), args.Error(1)
}

func (m *MockRegistryService) GetPartition(ctx context.Context, key domain.PartitionKey) (*domain.Partition, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Partition), args.Error(1)
}

func (m *MockRegistryService) ListPartitions(ctx context.Context, tenantID string) ([]*domain.Partition, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Partition), args.Error(1)
}

func (m *MockRegistryService) DeactivatePartition(ctx context.Context, tenantID string, key domain.PartitionKey) error {
	args := m.Called(ctx, tenantID, key)
	return args.Error(0)
}

func setupRouter() (http.Handler, *MockAuthValidator, *MockQueryService, *MockConversationService, *MockRegistryService) {
	authValidator := new(MockAuthValidator)
	querySvc := new(MockQueryService)
	conversationSvc := new(MockConversationService)
	registrySvc := new(MockRegistryService)

	cfg := RouterConfig{
		AuthValidator:       authValidator,
		QueryHandler:        handlers.NewQueryHandler(querySvc),
		ConversationHandler: handlers.NewConversationHandler(conversationSvc),
		PartitionHandler:    handlers.NewPartitionHandler(registrySvc),
	}

	return NewRouter(cfg), authValidator, querySvc, conversationSvc, registrySvc
}

const testToken = "qm_0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func TestRouter_HealthEndpoint(t *testing.T) {
	router, _, _, _, _ := setupRouter()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, "ok", data["status"])
}

func TestRouter_AuthenticatedRoutes_RequireAuth(t *testing.T) {
	router, authValidator, _, _, _ := setupRouter()

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/queries"},
		{http.MethodGet, "/queries"},
		{http.MethodGet, "/queries/123"},
		{http.MethodPost, "/queries/123/cancel"},
		{http.MethodPost, "/queries/123/feedback"},
		{http.MethodPost, "/queries/123/citations/456/click"},
		{http.MethodPost, "/conversations"},
		{http.MethodGet, "/conversations"},
		{http.MethodPost, "/conversations/123/archive"},
		{http.MethodPost, "/partitions"},
		{http.MethodGet, "/partitions"},
		{http.MethodDelete, "/partitions/project/proj-a"},
	}

	for _, route := range routes {
		t.Run(route.method+" "+route.path, func(t *testing.T) {
			req := httptest.NewRequest(route.method, route.path, nil)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}

	authValidator.AssertExpectations(t)
}

func TestRouter_AuthenticatedRoutes_WithValidAuth(t *testing.T) {
	router, authValidator, querySvc, _, _ := setupRouter()

	identity := &domain.Identity{TenantID: "tenant-1", UserID: "user-1"}
	authValidator.On("ValidateAPIKey", mock.Anything, testToken).Return(identity, nil)

	result := &service.QueryResult{
		Query: &domain.Query{
			ID:        "q-123",
			TenantID:  "tenant-1",
			UserID:    "user-1",
			Text:      "test",
			Scope:     domain.QueryScopePrivate,
			Status:    domain.QueryStatusCompleted,
			CreatedAt: time.Now().UTC(),
		},
	}
	querySvc.On("GetQuery", mock.Anything, "q-123", "tenant-1", "user-1").Return(result, nil)

	req := httptest.NewRequest(http.MethodGet, "/queries/q-123", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	authValidator.AssertExpectations(t)
	querySvc.AssertExpectations(t)
}

func TestRouter_InvalidToken(t *testing.T) {
	router, authValidator, _, _, _ := setupRouter()

	authValidator.On("ValidateAPIKey", mock.Anything, "qm_bad").Return(nil, domain.ErrInvalidAPIKey)

	req := httptest.NewRequest(http.MethodGet, "/queries", nil)
	req.Header.Set("Authorization", "Bearer qm_bad")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	authValidator.AssertExpectations(t)
}
