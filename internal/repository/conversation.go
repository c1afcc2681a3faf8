package repository

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tessellate-ai/querymesh/internal/domain"
)

// ConversationRepository persists conversations. The accumulated context is
// a JSONB array bounded at write time so it never grows past the turn cap.
type ConversationRepository struct {
	db dbtx
}

func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{db: pool}
}

func NewConversationRepositoryWithTx(tx pgx.Tx) *ConversationRepository {
	return &ConversationRepository{db: tx}
}

const conversationColumns = `id, tenant_id, user_id, title, query_count, context, is_archived,
	last_activity, created_at, updated_at`

func (r *ConversationRepository) Create(ctx context.Context, c *domain.Conversation) error {
	contextJSON, err := json.Marshal(c.Context)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO conversations (`+conversationColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, c.TenantID, c.UserID, c.Title, c.QueryCount, contextJSON, c.IsArchived,
		c.LastActivity, c.CreatedAt, c.UpdatedAt,
	)
	return err
}

func (r *ConversationRepository) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)

	c, err := scanConversation(row.Scan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrConversationNotFound
		}
		return nil, err
	}
	return c, nil
}

func (r *ConversationRepository) ListByUser(ctx context.Context, tenantID, userID string, includeArchived bool) ([]*domain.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations
		 WHERE tenant_id = $1 AND user_id = $2`
	if !includeArchived {
		query += ` AND NOT is_archived`
	}
	query += ` ORDER BY last_activity DESC`

	rows, err := r.db.Query(ctx, query, tenantID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conversations := make([]*domain.Conversation, 0)
	for rows.Next() {
		c, err := scanConversation(rows.Scan)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, c)
	}
	return conversations, rows.Err()
}

func (r *ConversationRepository) Archive(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE conversations SET is_archived = true, updated_at = now() WHERE id = $1`,
		id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConversationNotFound
	}
	return nil
}

// AppendTurn appends one question/answer pair and trims the context to the
// most recent maxTurns entries in a single statement.
func (r *ConversationRepository) AppendTurn(ctx context.Context, id string, turn domain.ContextTurn, maxTurns int) error {
	turnJSON, err := json.Marshal([]domain.ContextTurn{turn})
	if err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE conversations
		 SET context = (
		     SELECT COALESCE(jsonb_agg(elem ORDER BY ord), '[]'::jsonb)
		     FROM (
		         SELECT elem, ord
		         FROM jsonb_array_elements(context || $2::jsonb) WITH ORDINALITY AS e(elem, ord)
		         ORDER BY ord DESC
		         LIMIT $3
		     ) tail
		 ),
		 query_count = query_count + 1,
		 last_activity = now(),
		 updated_at = now()
		 WHERE id = $1 AND NOT is_archived`,
		id, turnJSON, maxTurns,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConversationNotFound
	}
	return nil
}

func scanConversation(scan func(dest ...any) error) (*domain.Conversation, error) {
	var c domain.Conversation
	var contextJSON []byte

	err := scan(
		&c.ID, &c.TenantID, &c.UserID, &c.Title, &c.QueryCount, &contextJSON, &c.IsArchived,
		&c.LastActivity, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &c.Context); err != nil {
			return nil, err
		}
	}
	return &c, nil
}
