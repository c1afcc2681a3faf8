package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/tessellate-ai/querymesh/internal/domain"
	"github.com/tessellate-ai/querymesh/internal/pagination"
	"github.com/tessellate-ai/querymesh/internal/telemetry"
)

const (
	// DefaultOverallTimeout bounds the whole query pipeline.
	DefaultOverallTimeout = 30 * time.Second
	// DefaultContextMaxTurns bounds a conversation's accumulated context.
	DefaultContextMaxTurns = 10
	// citationExcerptChars bounds the excerpt stored on each citation.
	citationExcerptChars = 500
)

// EmbeddingClient defines the interface for generating embeddings
type EmbeddingClient interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// QueryRepositoryInterface defines the repository interface for query
// persistence. Status-changing updates are guarded by the current status in
// SQL so terminal states can never be overwritten.
type QueryRepositoryInterface interface {
	Create(ctx context.Context, q *domain.Query) error
	GetByID(ctx context.Context, id string) (*domain.Query, error)
	ListByUser(ctx context.Context, tenantID, userID string, cursor *pagination.Cursor, limit int) (*QueryPageResult, error)
	ListByConversation(ctx context.Context, tenantID, conversationID string) ([]*domain.Query, error)
	MarkProcessing(ctx context.Context, id string) error
	Complete(ctx context.Context, q *domain.Query) error
	MarkFailed(ctx context.Context, id, reason string, totalMS int64) error
	MarkCancelled(ctx context.Context, id string) (bool, error)
	UpdateFeedback(ctx context.Context, id string, rating *int, saved *bool, savedTitle string) error
	UserAnalytics(ctx context.Context, tenantID, userID string, since time.Time) (*domain.QueryAnalytics, error)
}

// CitationRepositoryInterface defines the repository interface for citation persistence
type CitationRepositoryInterface interface {
	CreateBatch(ctx context.Context, citations []*domain.Citation) error
	ListByQuery(ctx context.Context, queryID string) ([]*domain.Citation, error)
	SetHelpfulRating(ctx context.Context, queryID string, citationIDs []string, rating int) error
	MarkClicked(ctx context.Context, queryID, citationID string) error
}

// ConversationRepositoryInterface defines the repository interface for conversation persistence
type ConversationRepositoryInterface interface {
	Create(ctx context.Context, c *domain.Conversation) error
	GetByID(ctx context.Context, id string) (*domain.Conversation, error)
	ListByUser(ctx context.Context, tenantID, userID string, includeArchived bool) ([]*domain.Conversation, error)
	Archive(ctx context.Context, id string) error
	AppendTurn(ctx context.Context, id string, turn domain.ContextTurn, maxTurns int) error
}

// ChunkUsageRepositoryInterface updates chunk usage counters
type ChunkUsageRepositoryInterface interface {
	IncrementRetrieved(ctx context.Context, chunkIDs []string) error
	IncrementCited(ctx context.Context, chunkIDs []string) error
}

// QueryPageResult is one page of a user's query history
type QueryPageResult struct {
	Items      []*domain.Query
	NextCursor string
	HasMore    bool
}

// QueryServiceConfig tunes the lifecycle manager
type QueryServiceConfig struct {
	OverallTimeout  time.Duration
	ContextMaxTurns int
}

// DefaultQueryServiceConfig returns the lifecycle defaults
func DefaultQueryServiceConfig() QueryServiceConfig {
	return QueryServiceConfig{
		OverallTimeout:  DefaultOverallTimeout,
		ContextMaxTurns: DefaultContextMaxTurns,
	}
}

// SubmitQueryInput represents the input for submitting a query
type SubmitQueryInput struct {
	TenantID           string
	UserID             string
	ProjectMemberships []string
	Text               string
	Scope              domain.QueryScope
	ScopeTargets       []string
	ConversationID     string
	FollowUpTo         string
	Limit              int
}

// FeedbackInput represents user feedback on a query and its citations
type FeedbackInput struct {
	QueryID            string
	TenantID           string
	UserID             string
	Rating             *int
	Save               *bool
	SavedTitle         string
	HelpfulCitationIDs []string
}

// QueryResult is a query together with its citations and any scope warnings
type QueryResult struct {
	Query     *domain.Query
	Citations []*domain.Citation
	Warnings  []string
}

// cancelRegistry maps in-flight query IDs to their cancellation functions
// so CancelQuery can reach a pipeline running in another request.
type cancelRegistry struct {
	mu sync.Mutex
	m  map[string]context.CancelFunc
}

func newCancelRegistry() *cancelRegistry {
	return &cancelRegistry{m: make(map[string]context.CancelFunc)}
}

func (r *cancelRegistry) register(id string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[id] = cancel
}

func (r *cancelRegistry) cancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cancel, ok := r.m[id]
	if ok {
		cancel()
	}
	return ok
}

func (r *cancelRegistry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.m, id)
}

// QueryService owns the query lifecycle state machine: it submits queries
// through the retrieval pipeline, persists results atomically, and guards
// terminal-state immutability.
type QueryService struct {
	queryRepo        QueryRepositoryInterface
	citationRepo     CitationRepositoryInterface
	conversationRepo ConversationRepositoryInterface
	txRunner         TxRunner
	scope            *ScopeResolver
	fanout           *FanoutCoordinator
	ranker           *Ranker
	synthesizer      *Synthesizer
	embedding        EmbeddingClient
	uuidGen          UUIDGenerator
	cancels          *cancelRegistry
	cfg              QueryServiceConfig
}

// NewQueryService creates a new QueryService instance
func NewQueryService(
	queryRepo QueryRepositoryInterface,
	citationRepo CitationRepositoryInterface,
	conversationRepo ConversationRepositoryInterface,
	txRunner TxRunner,
	scope *ScopeResolver,
	fanout *FanoutCoordinator,
	ranker *Ranker,
	synthesizer *Synthesizer,
	embedding EmbeddingClient,
) *QueryService {
	return NewQueryServiceWithConfig(queryRepo, citationRepo, conversationRepo, txRunner, scope, fanout, ranker, synthesizer, embedding, DefaultQueryServiceConfig())
}

// NewQueryServiceWithConfig creates a QueryService with explicit tuning
func NewQueryServiceWithConfig(
	queryRepo QueryRepositoryInterface,
	citationRepo CitationRepositoryInterface,
	conversationRepo ConversationRepositoryInterface,
	txRunner TxRunner,
	scope *ScopeResolver,
	fanout *FanoutCoordinator,
	ranker *Ranker,
	synthesizer *Synthesizer,
	embedding EmbeddingClient,
	cfg QueryServiceConfig,
) *QueryService {
	if cfg.OverallTimeout <= 0 {
		cfg.OverallTimeout = DefaultOverallTimeout
	}
	if cfg.ContextMaxTurns <= 0 {
		cfg.ContextMaxTurns = DefaultContextMaxTurns
	}
	return &QueryService{
		queryRepo:        queryRepo,
		citationRepo:     citationRepo,
		conversationRepo: conversationRepo,
		txRunner:         txRunner,
		scope:            scope,
		fanout:           fanout,
		ranker:           ranker,
		synthesizer:      synthesizer,
		embedding:        embedding,
		uuidGen:          &DefaultUUIDGenerator{},
		cancels:          newCancelRegistry(),
		cfg:              cfg,
	}
}

// SubmitQuery runs the full pipeline synchronously: scope resolution,
// embedding, fan-out retrieval, ranking, synthesis, and atomic persistence.
// Scope failures are returned before any query record exists. Hard pipeline
// failures persist the query as failed and surface the domain error.
func (s *QueryService) SubmitQuery(ctx context.Context, input SubmitQueryInput) (*QueryResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "QueryService.SubmitQuery", telemetry.SpanAttributes{
		TenantID:  input.TenantID,
		UserID:    input.UserID,
		Operation: "submit_query",
	})
	defer span.End()

	resolved, err := s.scope.Resolve(ctx, ResolveInput{
		TenantID:           input.TenantID,
		UserID:             input.UserID,
		ProjectMemberships: input.ProjectMemberships,
		Scope:              input.Scope,
		Targets:            input.ScopeTargets,
	})
	if err != nil {
		return nil, err
	}

	var conversation *domain.Conversation
	if input.ConversationID != "" {
		conversation, err = s.loadConversation(ctx, input.ConversationID, input.TenantID, input.UserID)
		if err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	query := &domain.Query{
		ID:             s.uuidGen.NewString(),
		TenantID:       input.TenantID,
		UserID:         input.UserID,
		Text:           input.Text,
		Scope:          input.Scope,
		ScopeTargets:   input.ScopeTargets,
		Status:         domain.QueryStatusPending,
		ConversationID: input.ConversationID,
		FollowUpTo:     input.FollowUpTo,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := domain.ValidateQuery(query); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid query", err)
	}

	if err := s.queryRepo.Create(ctx, query); err != nil {
		return nil, err
	}

	// persistCtx survives pipeline cancellation: a cancelled query still
	// persists its terminal status.
	persistCtx := context.WithoutCancel(ctx)

	pipelineCtx, cancel := context.WithTimeout(ctx, s.cfg.OverallTimeout)
	defer cancel()
	s.cancels.register(query.ID, cancel)
	defer s.cancels.remove(query.ID)

	if err := s.queryRepo.MarkProcessing(ctx, query.ID); err != nil {
		return nil, err
	}
	query.Status = domain.QueryStatusProcessing

	started := time.Now()

	embedding, err := s.embedding.GenerateEmbedding(pipelineCtx, query.Text)
	if err != nil {
		if pipelineCtx.Err() != nil {
			return s.finishCancelled(persistCtx, query)
		}
		return nil, s.failQuery(persistCtx, query, domain.NewDomainErrorWithCause(
			domain.ErrCodeEmbeddingUnavailable, "embedding backend unavailable", err), started)
	}

	retrievalStart := time.Now()
	fanned, err := s.fanout.Dispatch(pipelineCtx, resolved.Partitions, embedding)
	if err != nil {
		if pipelineCtx.Err() != nil {
			return s.finishCancelled(persistCtx, query)
		}
		return nil, s.failQuery(persistCtx, query, err, started)
	}
	query.RetrievalMS = time.Since(retrievalStart).Milliseconds()

	ranked := s.ranker.Rank(fanned.Hits, input.Limit)

	var turns []domain.ContextTurn
	if conversation != nil {
		turns = conversation.Context
	}

	synthesisStart := time.Now()
	synthesis := s.synthesizer.Synthesize(pipelineCtx, query.Text, ranked, turns)
	query.SynthesisMS = time.Since(synthesisStart).Milliseconds()

	if pipelineCtx.Err() != nil {
		return s.finishCancelled(persistCtx, query)
	}

	citations := s.buildCitations(query, ranked)

	query.Status = domain.QueryStatusCompleted
	query.Answer = synthesis.Answer
	query.Confidence = synthesis.Confidence
	query.Degraded = len(fanned.PartitionErrors) > 0
	query.PartitionsQueried = sortedCopy(fanned.PartitionsQueried)
	query.PartitionErrors = fanned.PartitionErrors
	query.CitedDocuments = distinctDocuments(citations)
	query.TotalMS = time.Since(started).Milliseconds()
	query.UpdatedAt = time.Now().UTC()

	err = s.txRunner.WithTx(persistCtx, func(repos TxRepositories) error {
		if err := repos.Queries().Complete(persistCtx, query); err != nil {
			return err
		}
		if len(citations) > 0 {
			if err := repos.Citations().CreateBatch(persistCtx, citations); err != nil {
				return err
			}
			if err := repos.Chunks().IncrementCited(persistCtx, chunkIDs(citations)); err != nil {
				return err
			}
		}
		if conversation != nil {
			turn := domain.ContextTurn{Question: query.Text, Answer: query.Answer}
			if err := repos.Conversations().AppendTurn(persistCtx, conversation.ID, turn, s.cfg.ContextMaxTurns); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrQueryTerminal) {
			// Lost the race against a concurrent cancellation: the terminal
			// status stands and no citations were persisted.
			return s.finishCancelled(persistCtx, query)
		}
		return nil, err
	}

	return &QueryResult{Query: query, Citations: citations, Warnings: resolved.Warnings}, nil
}

// GetQuery retrieves a query with its citations, enforcing ownership
func (s *QueryService) GetQuery(ctx context.Context, id, tenantID, userID string) (*QueryResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "QueryService.GetQuery", telemetry.SpanAttributes{
		TenantID:  tenantID,
		UserID:    userID,
		QueryID:   id,
		Operation: "get_query",
	})
	defer span.End()

	query, err := s.ownedQuery(ctx, id, tenantID, userID)
	if err != nil {
		return nil, err
	}

	citations, err := s.citationRepo.ListByQuery(ctx, id)
	if err != nil {
		return nil, err
	}

	return &QueryResult{Query: query, Citations: citations}, nil
}

// ListQueriesInput filters a user's query history
type ListQueriesInput struct {
	TenantID       string
	UserID         string
	ConversationID string
	Cursor         string
	Limit          int
}

// ListQueries retrieves a user's queries, optionally filtered to one conversation
func (s *QueryService) ListQueries(ctx context.Context, input ListQueriesInput) (*QueryPageResult, error) {
	if input.ConversationID != "" {
		items, err := s.queryRepo.ListByConversation(ctx, input.TenantID, input.ConversationID)
		if err != nil {
			return nil, err
		}
		filtered := make([]*domain.Query, 0, len(items))
		for _, q := range items {
			if q.UserID == input.UserID {
				filtered = append(filtered, q)
			}
		}
		return &QueryPageResult{Items: filtered}, nil
	}

	cursor, err := pagination.DecodeCursor(input.Cursor)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid cursor", err)
	}
	limit := input.Limit
	if limit <= 0 {
		limit = 20
	}

	return s.queryRepo.ListByUser(ctx, input.TenantID, input.UserID, cursor, limit)
}

// CancelQuery aborts an in-flight query. The cancellation signal reaches
// the fan-out coordinator, which stops issuing new partition calls. A
// cancelled query persists only its terminal status, never partial results.
func (s *QueryService) CancelQuery(ctx context.Context, id, tenantID, userID string) error {
	ctx, span := telemetry.StartSpan(ctx, "QueryService.CancelQuery", telemetry.SpanAttributes{
		TenantID:  tenantID,
		UserID:    userID,
		QueryID:   id,
		Operation: "cancel_query",
	})
	defer span.End()

	query, err := s.ownedQuery(ctx, id, tenantID, userID)
	if err != nil {
		return err
	}

	if query.Status.IsTerminal() {
		return domain.ErrQueryNotCancellable
	}

	s.cancels.cancel(id)

	cancelled, err := s.queryRepo.MarkCancelled(ctx, id)
	if err != nil {
		return err
	}
	if !cancelled {
		// Raced a concurrent completion: the terminal status stands.
		return domain.ErrQueryNotCancellable
	}
	return nil
}

// QueryAnalytics summarizes the user's query activity over the last N days
// (default 30).
func (s *QueryService) QueryAnalytics(ctx context.Context, tenantID, userID string, days int) (*domain.QueryAnalytics, error) {
	ctx, span := telemetry.StartSpan(ctx, "QueryService.QueryAnalytics", telemetry.SpanAttributes{
		TenantID:  tenantID,
		UserID:    userID,
		Operation: "query_analytics",
	})
	defer span.End()

	if days <= 0 {
		days = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -days)

	return s.queryRepo.UserAnalytics(ctx, tenantID, userID, since)
}

// RecordFeedback mutates the feedback fields of a query: rating, saved
// flag/title, and helpfulness of the listed citations. Lifecycle status is
// never touched.
func (s *QueryService) RecordFeedback(ctx context.Context, input FeedbackInput) error {
	ctx, span := telemetry.StartSpan(ctx, "QueryService.RecordFeedback", telemetry.SpanAttributes{
		TenantID:  input.TenantID,
		UserID:    input.UserID,
		QueryID:   input.QueryID,
		Operation: "record_feedback",
	})
	defer span.End()

	if input.Rating != nil && (*input.Rating < 1 || *input.Rating > 5) {
		return domain.ErrInvalidRating
	}

	if _, err := s.ownedQuery(ctx, input.QueryID, input.TenantID, input.UserID); err != nil {
		return err
	}

	if input.Rating != nil || input.Save != nil {
		if err := s.queryRepo.UpdateFeedback(ctx, input.QueryID, input.Rating, input.Save, input.SavedTitle); err != nil {
			return err
		}
	}

	if len(input.HelpfulCitationIDs) > 0 {
		rating := 5
		if input.Rating != nil {
			rating = *input.Rating
		}
		if err := s.citationRepo.SetHelpfulRating(ctx, input.QueryID, input.HelpfulCitationIDs, rating); err != nil {
			return err
		}
	}

	return nil
}

// RecordCitationClick marks one citation of a query as clicked
func (s *QueryService) RecordCitationClick(ctx context.Context, queryID, citationID, tenantID, userID string) error {
	if _, err := s.ownedQuery(ctx, queryID, tenantID, userID); err != nil {
		return err
	}
	return s.citationRepo.MarkClicked(ctx, queryID, citationID)
}

// ownedQuery fetches a query and hides it from other tenants and users.
func (s *QueryService) ownedQuery(ctx context.Context, id, tenantID, userID string) (*domain.Query, error) {
	query, err := s.queryRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if query.TenantID != tenantID || query.UserID != userID {
		return nil, domain.ErrQueryNotFound
	}
	return query, nil
}

func (s *QueryService) loadConversation(ctx context.Context, id, tenantID, userID string) (*domain.Conversation, error) {
	conversation, err := s.conversationRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if conversation.TenantID != tenantID || conversation.UserID != userID {
		return nil, domain.ErrConversationNotFound
	}
	if conversation.IsArchived {
		return nil, domain.ErrConversationArchived
	}
	return conversation, nil
}

// failQuery persists a terminal failed status with the failure reason and
// returns the original error for the caller.
func (s *QueryService) failQuery(ctx context.Context, query *domain.Query, cause error, started time.Time) error {
	if err := s.queryRepo.MarkFailed(ctx, query.ID, cause.Error(), time.Since(started).Milliseconds()); err != nil {
		telemetry.CaptureError(ctx, err)
	}
	query.Status = domain.QueryStatusFailed
	query.Error = cause.Error()
	return cause
}

// finishCancelled persists the cancelled status (idempotently, the caller
// may have done it already) and returns a result carrying only the terminal
// status.
func (s *QueryService) finishCancelled(ctx context.Context, query *domain.Query) (*QueryResult, error) {
	if _, err := s.queryRepo.MarkCancelled(ctx, query.ID); err != nil {
		telemetry.CaptureError(ctx, err)
	}
	query.Status = domain.QueryStatusCancelled
	query.Answer = ""
	query.Confidence = 0
	return &QueryResult{Query: query}, nil
}

// buildCitations turns the ranked chunks into citations with unique
// 1-based rank positions.
func (s *QueryService) buildCitations(query *domain.Query, ranked []*RetrievedChunk) []*domain.Citation {
	citations := make([]*domain.Citation, 0, len(ranked))
	now := time.Now().UTC()
	for i, chunk := range ranked {
		citations = append(citations, &domain.Citation{
			ID:                s.uuidGen.NewString(),
			QueryID:           query.ID,
			ChunkID:           chunk.ChunkID,
			DocumentID:        chunk.DocumentID,
			DocumentVersionID: chunk.DocumentVersionID,
			Content:           excerpt(chunk.Content, citationExcerptChars),
			RelevanceScore:    chunk.NormalizedScore,
			RankPosition:      i + 1,
			SourceKind:        chunk.Partition.Kind,
			Partition:         chunk.Partition.String(),
			PageNumber:        chunk.PageNumber,
			SectionTitle:      chunk.SectionTitle,
			CreatedAt:         now,
		})
	}
	return citations
}

func sortedCopy(values []string) []string {
	out := make([]string, len(values))
	copy(out, values)
	sort.Strings(out)
	return out
}

func distinctDocuments(citations []*domain.Citation) int {
	seen := make(map[string]bool, len(citations))
	for _, c := range citations {
		seen[c.DocumentID] = true
	}
	return len(seen)
}

func chunkIDs(citations []*domain.Citation) []string {
	ids := make([]string, 0, len(citations))
	for _, c := range citations {
		ids = append(ids, c.ChunkID)
	}
	return ids
}
