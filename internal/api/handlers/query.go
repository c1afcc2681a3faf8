package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/tessellate-ai/querymesh/internal/api"
	"github.com/tessellate-ai/querymesh/internal/api/middleware"
	"github.com/tessellate-ai/querymesh/internal/domain"
	"github.com/tessellate-ai/querymesh/internal/service"
)

type QueryService interface {
	SubmitQuery(ctx context.Context, input service.SubmitQueryInput) (*service.QueryResult, error)
	GetQuery(ctx context.Context, id, tenantID, userID string) (*service.QueryResult, error)
	ListQueries(ctx context.Context, input service.ListQueriesInput) (*service.QueryPageResult, error)
	CancelQuery(ctx context.Context, id, tenantID, userID string) error
	RecordFeedback(ctx context.Context, input service.FeedbackInput) error
	RecordCitationClick(ctx context.Context, queryID, citationID, tenantID, userID string) error
	QueryAnalytics(ctx context.Context, tenantID, userID string, days int) (*domain.QueryAnalytics, error)
}

type QueryHandler struct {
	svc QueryService
}

func NewQueryHandler(svc QueryService) *QueryHandler {
	return &QueryHandler{svc: svc}
}

type SubmitQueryRequest struct {
	Text           string   `json:"text"`
	Scope          string   `json:"scope"`
	ScopeTargets   []string `json:"scope_targets,omitempty"`
	ConversationID string   `json:"conversation_id,omitempty"`
	FollowUpTo     string   `json:"follow_up_to,omitempty"`
	Limit          int      `json:"limit,omitempty"`
}

type FeedbackRequest struct {
	Rating             *int     `json:"rating,omitempty"`
	Save               *bool    `json:"save,omitempty"`
	SavedTitle         string   `json:"saved_title,omitempty"`
	HelpfulCitationIDs []string `json:"helpful_citation_ids,omitempty"`
}

type PartitionFailureResponse struct {
	Partition string `json:"partition"`
	Reason    string `json:"reason"`
}

type QueryResponse struct {
	ID                string                     `json:"id"`
	Text              string                     `json:"text"`
	Scope             string                     `json:"scope"`
	ScopeTargets      []string                   `json:"scope_targets,omitempty"`
	Status            string                     `json:"status"`
	Answer            string                     `json:"answer,omitempty"`
	Confidence        float32                    `json:"confidence"`
	Error             string                     `json:"error,omitempty"`
	Degraded          bool                       `json:"degraded"`
	PartitionsQueried []string                   `json:"partitions_queried,omitempty"`
	PartitionErrors   []PartitionFailureResponse `json:"partition_errors,omitempty"`
	CitedDocuments    int                        `json:"cited_documents"`
	RetrievalMS       int64                      `json:"retrieval_ms"`
	SynthesisMS       int64                      `json:"synthesis_ms"`
	TotalMS           int64                      `json:"total_ms"`
	ConversationID    string                     `json:"conversation_id,omitempty"`
	FollowUpTo        string                     `json:"follow_up_to,omitempty"`
	IsSaved           bool                       `json:"is_saved"`
	SavedTitle        string                     `json:"saved_title,omitempty"`
	UserRating        *int                       `json:"user_rating,omitempty"`
	CreatedAt         string                     `json:"created_at"`
}

type CitationResponse struct {
	ID             string  `json:"id"`
	ChunkID        string  `json:"chunk_id"`
	DocumentID     string  `json:"document_id"`
	Content        string  `json:"content"`
	RelevanceScore float32 `json:"relevance_score"`
	RankPosition   int     `json:"rank_position"`
	SourceKind     string  `json:"source_kind"`
	Partition      string  `json:"partition"`
	PageNumber     *int    `json:"page_number,omitempty"`
	SectionTitle   string  `json:"section_title,omitempty"`
	Clicked        bool    `json:"clicked"`
	HelpfulRating  *int    `json:"helpful_rating,omitempty"`
}

type QueryResultResponse struct {
	Query     *QueryResponse      `json:"query"`
	Citations []*CitationResponse `json:"citations"`
	Warnings  []string            `json:"warnings,omitempty"`
}

type QueryAnalyticsResponse struct {
	TotalQueries      int64            `json:"total_queries"`
	AvgResponseMS     float64          `json:"avg_response_ms"`
	AvgConfidence     float64          `json:"avg_confidence"`
	AvgRating         float64          `json:"avg_rating"`
	SavedQueries      int64            `json:"saved_queries"`
	ScopeDistribution map[string]int64 `json:"scope_distribution"`
}

type QueryPageResponse struct {
	Queries    []*QueryResponse `json:"queries"`
	NextCursor string           `json:"next_cursor,omitempty"`
	HasMore    bool             `json:"has_more"`
}

func queryToResponse(q *domain.Query) *QueryResponse {
	resp := &QueryResponse{
		ID:                q.ID,
		Text:              q.Text,
		Scope:             string(q.Scope),
		ScopeTargets:      q.ScopeTargets,
		Status:            string(q.Status),
		Answer:            q.Answer,
		Confidence:        q.Confidence,
		Error:             q.Error,
		Degraded:          q.Degraded,
		PartitionsQueried: q.PartitionsQueried,
		CitedDocuments:    q.CitedDocuments,
		RetrievalMS:       q.RetrievalMS,
		SynthesisMS:       q.SynthesisMS,
		TotalMS:           q.TotalMS,
		ConversationID:    q.ConversationID,
		FollowUpTo:        q.FollowUpTo,
		IsSaved:           q.IsSaved,
		SavedTitle:        q.SavedTitle,
		UserRating:        q.UserRating,
		CreatedAt:         q.CreatedAt.Format("2006-01-02T15:04:05Z"),
	}
	for _, pe := range q.PartitionErrors {
		resp.PartitionErrors = append(resp.PartitionErrors, PartitionFailureResponse{
			Partition: pe.Partition,
			Reason:    pe.Reason,
		})
	}
	return resp
}

func citationToResponse(c *domain.Citation) *CitationResponse {
	return &CitationResponse{
		ID:             c.ID,
		ChunkID:        c.ChunkID,
		DocumentID:     c.DocumentID,
		Content:        c.Content,
		RelevanceScore: c.RelevanceScore,
		RankPosition:   c.RankPosition,
		SourceKind:     string(c.SourceKind),
		Partition:      c.Partition,
		PageNumber:     c.PageNumber,
		SectionTitle:   c.SectionTitle,
		Clicked:        c.Clicked,
		HelpfulRating:  c.HelpfulRating,
	}
}

func resultToResponse(result *service.QueryResult) *QueryResultResponse {
	resp := &QueryResultResponse{
		Query:     queryToResponse(result.Query),
		Citations: make([]*CitationResponse, 0, len(result.Citations)),
		Warnings:  result.Warnings,
	}
	for _, c := range result.Citations {
		resp.Citations = append(resp.Citations, citationToResponse(c))
	}
	return resp
}

func (h *QueryHandler) Submit(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	if identity == nil {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req SubmitQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Text == "" {
		api.Error(w, http.StatusBadRequest, "text is required")
		return
	}
	if req.Scope == "" {
		api.Error(w, http.StatusBadRequest, "scope is required")
		return
	}

	result, err := h.svc.SubmitQuery(r.Context(), service.SubmitQueryInput{
		TenantID:           identity.TenantID,
		UserID:             identity.UserID,
		ProjectMemberships: identity.ProjectMemberships,
		Text:               req.Text,
		Scope:              domain.QueryScope(req.Scope),
		ScopeTargets:       req.ScopeTargets,
		ConversationID:     req.ConversationID,
		FollowUpTo:         req.FollowUpTo,
		Limit:              req.Limit,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, resultToResponse(result))
}

func (h *QueryHandler) Get(w http.ResponseWriter, r *http.Request) {
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

	result, err := h.svc.GetQuery(r.Context(), id, identity.TenantID, identity.UserID)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, resultToResponse(result))
}

func (h *QueryHandler) List(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	if identity == nil {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			api.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	page, err := h.svc.ListQueries(r.Context(), service.ListQueriesInput{
		TenantID:       identity.TenantID,
		UserID:         identity.UserID,
		ConversationID: r.URL.Query().Get("conversation_id"),
		Cursor:         r.URL.Query().Get("cursor"),
		Limit:          limit,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := &QueryPageResponse{
		Queries:    make([]*QueryResponse, 0, len(page.Items)),
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore,
	}
	for _, q := range page.Items {
		resp.Queries = append(resp.Queries, queryToResponse(q))
	}

	api.Success(w, http.StatusOK, resp)
}

func (h *QueryHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	if identity == nil {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	days := 0
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			api.Error(w, http.StatusBadRequest, "invalid days")
			return
		}
		days = parsed
	}

	analytics, err := h.svc.QueryAnalytics(r.Context(), identity.TenantID, identity.UserID, days)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := &QueryAnalyticsResponse{
		TotalQueries:      analytics.TotalQueries,
		AvgResponseMS:     analytics.AvgResponseMS,
		AvgConfidence:     analytics.AvgConfidence,
		AvgRating:         analytics.AvgRating,
		SavedQueries:      analytics.SavedQueries,
		ScopeDistribution: make(map[string]int64, len(analytics.ScopeDistribution)),
	}
	for scope, count := range analytics.ScopeDistribution {
		resp.ScopeDistribution[string(scope)] = count
	}

	api.Success(w, http.StatusOK, resp)
}

func (h *QueryHandler) Cancel(w http.ResponseWriter, r *http.Request) {
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

	if err := h.svc.CancelQuery(r.Context(), id, identity.TenantID, identity.UserID); err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (h *QueryHandler) Feedback(w http.ResponseWriter, r *http.Request) {
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

	var req FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Rating == nil && req.Save == nil && len(req.HelpfulCitationIDs) == 0 {
		api.Error(w, http.StatusBadRequest, "feedback payload is empty")
		return
	}

	err := h.svc.RecordFeedback(r.Context(), service.FeedbackInput{
		QueryID:            id,
		TenantID:           identity.TenantID,
		UserID:             identity.UserID,
		Rating:             req.Rating,
		Save:               req.Save,
		SavedTitle:         req.SavedTitle,
		HelpfulCitationIDs: req.HelpfulCitationIDs,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, map[string]string{"status": "recorded"})
}

func (h *QueryHandler) CitationClick(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	if identity == nil {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	queryID := chi.URLParam(r, "id")
	citationID := chi.URLParam(r, "citationID")
	if queryID == "" || citationID == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	if err := h.svc.RecordCitationClick(r.Context(), queryID, citationID, identity.TenantID, identity.UserID); err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, map[string]string{"status": "recorded"})
}
