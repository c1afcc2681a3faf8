package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tessellate-ai/querymesh/internal/domain"
)

// CitationRepository persists citations. Rows are immutable after creation
// except the user interaction flags.
type CitationRepository struct {
	db dbtx
}

func NewCitationRepository(pool *pgxpool.Pool) *CitationRepository {
	return &CitationRepository{db: pool}
}

func NewCitationRepositoryWithTx(tx pgx.Tx) *CitationRepository {
	return &CitationRepository{db: tx}
}

const citationColumns = `id, query_id, chunk_id, document_id, document_version_id, content,
	relevance_score, rank_position, source_kind, partition_key, page_number, section_title,
	clicked, helpful_rating, created_at`

func (r *CitationRepository) CreateBatch(ctx context.Context, citations []*domain.Citation) error {
	for _, c := range citations {
		if err := domain.ValidateCitation(c); err != nil {
			return err
		}
		_, err := r.db.Exec(ctx,
			`INSERT INTO citations (`+citationColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			c.ID, c.QueryID, c.ChunkID, c.DocumentID, nullableString(c.DocumentVersionID), c.Content,
			c.RelevanceScore, c.RankPosition, c.SourceKind, c.Partition, c.PageNumber, nullableString(c.SectionTitle),
			c.Clicked, c.HelpfulRating, c.CreatedAt,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *CitationRepository) ListByQuery(ctx context.Context, queryID string) ([]*domain.Citation, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+citationColumns+` FROM citations WHERE query_id = $1 ORDER BY rank_position ASC`,
		queryID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	citations := make([]*domain.Citation, 0)
	for rows.Next() {
		var c domain.Citation
		var documentVersionID, sectionTitle *string
		if err := rows.Scan(
			&c.ID, &c.QueryID, &c.ChunkID, &c.DocumentID, &documentVersionID, &c.Content,
			&c.RelevanceScore, &c.RankPosition, &c.SourceKind, &c.Partition, &c.PageNumber, &sectionTitle,
			&c.Clicked, &c.HelpfulRating, &c.CreatedAt,
		); err != nil {
			return nil, err
		}
		c.DocumentVersionID = stringValue(documentVersionID)
		c.SectionTitle = stringValue(sectionTitle)
		citations = append(citations, &c)
	}
	return citations, rows.Err()
}

// SetHelpfulRating marks the listed citations of a query helpful. Citation
// IDs belonging to other queries are ignored.
func (r *CitationRepository) SetHelpfulRating(ctx context.Context, queryID string, citationIDs []string, rating int) error {
	if len(citationIDs) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx,
		`UPDATE citations SET helpful_rating = $3 WHERE query_id = $1 AND id = ANY($2)`,
		queryID, citationIDs, rating,
	)
	return err
}

func (r *CitationRepository) MarkClicked(ctx context.Context, queryID, citationID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE citations SET clicked = true WHERE query_id = $1 AND id = $2`,
		queryID, citationID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCitationNotFound
	}
	return nil
}
