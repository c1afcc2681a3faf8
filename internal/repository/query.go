package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tessellate-ai/querymesh/internal/domain"
	"github.com/tessellate-ai/querymesh/internal/pagination"
	"github.com/tessellate-ai/querymesh/internal/service"
)

// QueryRepository persists queries. Lifecycle transitions are guarded in SQL
// so a terminal status can never be overwritten, even by racing writers.
type QueryRepository struct {
	db dbtx
}

func NewQueryRepository(pool *pgxpool.Pool) *QueryRepository {
	return &QueryRepository{db: pool}
}

func NewQueryRepositoryWithTx(tx pgx.Tx) *QueryRepository {
	return &QueryRepository{db: tx}
}

const queryColumns = `id, tenant_id, user_id, query_text, scope, scope_targets, status, answer,
	confidence, error_message, degraded, partitions_queried, partition_errors, cited_documents_count,
	retrieval_ms, synthesis_ms, total_ms, conversation_id, follow_up_to, is_saved, saved_title,
	user_rating, created_at, updated_at`

func (r *QueryRepository) Create(ctx context.Context, q *domain.Query) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO queries (id, tenant_id, user_id, query_text, scope, scope_targets, status, conversation_id, follow_up_to, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		q.ID, q.TenantID, q.UserID, q.Text, q.Scope, q.ScopeTargets, q.Status,
		nullableString(q.ConversationID), nullableString(q.FollowUpTo), q.CreatedAt, q.UpdatedAt,
	)
	return err
}

func (r *QueryRepository) GetByID(ctx context.Context, id string) (*domain.Query, error) {
	row := r.db.QueryRow(ctx, `SELECT `+queryColumns+` FROM queries WHERE id = $1`, id)
	return scanQuery(row)
}

func (r *QueryRepository) ListByUser(ctx context.Context, tenantID, userID string, cursor *pagination.Cursor, limit int) (*service.QueryPageResult, error) {
	if limit <= 0 {
		limit = 20
	}

	var rows pgx.Rows
	var err error

	if cursor != nil {
		rows, err = r.db.Query(ctx,
			`SELECT `+queryColumns+` FROM queries
			 WHERE tenant_id = $1 AND user_id = $2 AND (created_at, id) < ($3, $4)
			 ORDER BY created_at DESC, id DESC
			 LIMIT $5`,
			tenantID, userID, cursor.Timestamp, cursor.LastID, limit+1,
		)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT `+queryColumns+` FROM queries
			 WHERE tenant_id = $1 AND user_id = $2
			 ORDER BY created_at DESC, id DESC
			 LIMIT $3`,
			tenantID, userID, limit+1,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items, err := scanQueryRows(rows)
	if err != nil {
		return nil, err
	}

	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}

	result := &service.QueryPageResult{Items: items, HasMore: hasMore}
	if hasMore && len(items) > 0 {
		last := items[len(items)-1]
		result.NextCursor = pagination.EncodeCursor(last.ID, last.CreatedAt)
	}
	return result, nil
}

func (r *QueryRepository) ListByConversation(ctx context.Context, tenantID, conversationID string) ([]*domain.Query, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+queryColumns+` FROM queries
		 WHERE tenant_id = $1 AND conversation_id = $2
		 ORDER BY created_at ASC`,
		tenantID, conversationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanQueryRows(rows)
}

// MarkProcessing moves a pending query to processing.
func (r *QueryRepository) MarkProcessing(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE queries SET status = 'processing', updated_at = now()
		 WHERE id = $1 AND status = 'pending'`,
		id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrQueryTerminal
	}
	return nil
}

// Complete writes the full result set of a processing query. A query that
// already reached a terminal state (a racing cancellation) is left untouched
// and ErrQueryTerminal is returned so the caller can discard partial results.
func (r *QueryRepository) Complete(ctx context.Context, q *domain.Query) error {
	partitionErrors, err := json.Marshal(q.PartitionErrors)
	if err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE queries
		 SET status = 'completed', answer = $2, confidence = $3, degraded = $4,
		     partitions_queried = $5, partition_errors = $6, cited_documents_count = $7,
		     retrieval_ms = $8, synthesis_ms = $9, total_ms = $10, updated_at = now()
		 WHERE id = $1 AND status = 'processing'`,
		q.ID, q.Answer, q.Confidence, q.Degraded,
		q.PartitionsQueried, partitionErrors, q.CitedDocuments,
		q.RetrievalMS, q.SynthesisMS, q.TotalMS,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrQueryTerminal
	}
	return nil
}

func (r *QueryRepository) MarkFailed(ctx context.Context, id, reason string, totalMS int64) error {
	_, err := r.db.Exec(ctx,
		`UPDATE queries SET status = 'failed', error_message = $2, total_ms = $3, updated_at = now()
		 WHERE id = $1 AND status IN ('pending', 'processing')`,
		id, reason, totalMS,
	)
	return err
}

// MarkCancelled is idempotent against terminal states: it reports whether
// this call performed the transition.
func (r *QueryRepository) MarkCancelled(ctx context.Context, id string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE queries SET status = 'cancelled', updated_at = now()
		 WHERE id = $1 AND status IN ('pending', 'processing')`,
		id,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// UserAnalytics aggregates one user's query activity since the given time.
func (r *QueryRepository) UserAnalytics(ctx context.Context, tenantID, userID string, since time.Time) (*domain.QueryAnalytics, error) {
	analytics := &domain.QueryAnalytics{
		ScopeDistribution: make(map[domain.QueryScope]int64),
	}

	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*),
		        COALESCE(AVG(total_ms), 0)::float8,
		        COALESCE(AVG(confidence), 0)::float8,
		        COALESCE(AVG(user_rating), 0)::float8,
		        COUNT(*) FILTER (WHERE is_saved)
		 FROM queries
		 WHERE tenant_id = $1 AND user_id = $2 AND created_at >= $3`,
		tenantID, userID, since,
	).Scan(
		&analytics.TotalQueries, &analytics.AvgResponseMS, &analytics.AvgConfidence,
		&analytics.AvgRating, &analytics.SavedQueries,
	)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx,
		`SELECT scope, COUNT(*)
		 FROM queries
		 WHERE tenant_id = $1 AND user_id = $2 AND created_at >= $3
		 GROUP BY scope`,
		tenantID, userID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var scope domain.QueryScope
		var count int64
		if err := rows.Scan(&scope, &count); err != nil {
			return nil, err
		}
		analytics.ScopeDistribution[scope] = count
	}
	return analytics, rows.Err()
}

func (r *QueryRepository) UpdateFeedback(ctx context.Context, id string, rating *int, saved *bool, savedTitle string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE queries
		 SET user_rating = COALESCE($2, user_rating),
		     is_saved = COALESCE($3, is_saved),
		     saved_title = CASE WHEN $3 IS NOT NULL THEN $4 ELSE saved_title END,
		     updated_at = now()
		 WHERE id = $1`,
		id, rating, saved, nullableString(savedTitle),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrQueryNotFound
	}
	return nil
}

func scanQuery(row pgx.Row) (*domain.Query, error) {
	q, err := scanQueryFrom(row.Scan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrQueryNotFound
		}
		return nil, err
	}
	return q, nil
}

func scanQueryRows(rows pgx.Rows) ([]*domain.Query, error) {
	queries := make([]*domain.Query, 0)
	for rows.Next() {
		q, err := scanQueryFrom(rows.Scan)
		if err != nil {
			return nil, err
		}
		queries = append(queries, q)
	}
	return queries, rows.Err()
}

func scanQueryFrom(scan func(dest ...any) error) (*domain.Query, error) {
	var q domain.Query
	var answer, errorMessage, conversationID, followUpTo, savedTitle *string
	var partitionErrors []byte

	err := scan(
		&q.ID, &q.TenantID, &q.UserID, &q.Text, &q.Scope, &q.ScopeTargets, &q.Status, &answer,
		&q.Confidence, &errorMessage, &q.Degraded, &q.PartitionsQueried, &partitionErrors, &q.CitedDocuments,
		&q.RetrievalMS, &q.SynthesisMS, &q.TotalMS, &conversationID, &followUpTo, &q.IsSaved, &savedTitle,
		&q.UserRating, &q.CreatedAt, &q.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	q.Answer = stringValue(answer)
	q.Error = stringValue(errorMessage)
	q.ConversationID = stringValue(conversationID)
	q.FollowUpTo = stringValue(followUpTo)
	q.SavedTitle = stringValue(savedTitle)

	if len(partitionErrors) > 0 {
		if err := json.Unmarshal(partitionErrors, &q.PartitionErrors); err != nil {
			return nil, err
		}
	}

	return &q, nil
}
