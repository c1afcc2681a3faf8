package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/tessellate-ai/querymesh/internal/domain"
	"github.com/tessellate-ai/querymesh/internal/service"
)

// ChunkRepository owns the chunks table: similarity search for the fan-out
// coordinator, usage counters, and the write path used by ingestion.
type ChunkRepository struct {
	db dbtx
}

func NewChunkRepository(pool *pgxpool.Pool) *ChunkRepository {
	return &ChunkRepository{db: pool}
}

func NewChunkRepositoryWithTx(tx pgx.Tx) *ChunkRepository {
	return &ChunkRepository{db: tx}
}

// Search runs cosine similarity search inside a single partition, dropping
// chunks below the partition's similarity threshold. The score mirrors the
// index's own scale (higher is better); cross-partition comparability is the
// Ranker's job, not ours.
func (r *ChunkRepository) Search(ctx context.Context, partition *domain.Partition, embedding []float32, limit int) ([]*service.RetrievedChunk, error) {
	if limit <= 0 {
		limit = 20
	}

	vec := pgvector.NewVector(embedding)

	// The threshold is configured on the score scale (score = 1/(1+distance)),
	// so convert it to a distance bound the index operator can filter on.
	// A zero threshold disables the filter.
	maxDistance := float64(-1)
	if partition.SimilarityThreshold > 0 {
		maxDistance = (1.0 - float64(partition.SimilarityThreshold)) / float64(partition.SimilarityThreshold)
	}

	rows, err := r.db.Query(ctx,
		`SELECT id, document_id, document_version_id, chunk_index, content, quality_score,
		        page_number, section_title,
		        1.0 / (1.0 + (embedding <=> $1)) AS score
		 FROM chunks
		 WHERE partition_kind = $2 AND partition_owner = $3 AND embedding IS NOT NULL
		   AND ($4 < 0 OR (embedding <=> $1) <= $4)
		 ORDER BY embedding <=> $1
		 LIMIT $5`,
		vec, partition.Key.Kind, partition.Key.OwnerID, maxDistance, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hits := make([]*service.RetrievedChunk, 0, limit)
	for rows.Next() {
		var hit service.RetrievedChunk
		var documentVersionID, sectionTitle *string
		if err := rows.Scan(
			&hit.ChunkID, &hit.DocumentID, &documentVersionID, &hit.ChunkIndex, &hit.Content,
			&hit.QualityScore, &hit.PageNumber, &sectionTitle, &hit.Score,
		); err != nil {
			return nil, err
		}
		hit.DocumentVersionID = stringValue(documentVersionID)
		hit.SectionTitle = stringValue(sectionTitle)
		hit.Partition = partition.Key
		hits = append(hits, &hit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(hits) > 0 {
		if err := r.IncrementRetrieved(ctx, chunkIDsOf(hits)); err != nil {
			return nil, err
		}
	}

	return hits, nil
}

func (r *ChunkRepository) IncrementRetrieved(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx,
		`UPDATE chunks SET times_retrieved = times_retrieved + 1, updated_at = now() WHERE id = ANY($1)`,
		chunkIDs,
	)
	return err
}

func (r *ChunkRepository) IncrementCited(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx,
		`UPDATE chunks SET times_cited = times_cited + 1, updated_at = now() WHERE id = ANY($1)`,
		chunkIDs,
	)
	return err
}

// CreateBatch inserts chunks for a document version.
func (r *ChunkRepository) CreateBatch(ctx context.Context, chunks []*domain.Chunk) error {
	for _, c := range chunks {
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		_, err := r.db.Exec(ctx,
			`INSERT INTO chunks
				(id, partition_kind, partition_owner, tenant_id, document_id, document_version_id,
				 chunk_index, content, quality_score, page_number, section_title, embedding, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)`,
			c.ID, c.PartitionKey.Kind, c.PartitionKey.OwnerID, c.TenantID, c.DocumentID,
			nullableString(c.DocumentVersionID), c.ChunkIndex, c.Content, c.QualityScore,
			c.PageNumber, nullableString(c.SectionTitle), pgvector.NewVector(c.Embedding), createdAt,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// DeleteByDocument removes all chunks of one document within a partition.
func (r *ChunkRepository) DeleteByDocument(ctx context.Context, key domain.PartitionKey, documentID string) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM chunks WHERE partition_kind = $1 AND partition_owner = $2 AND document_id = $3`,
		key.Kind, key.OwnerID, documentID,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Probe checks that a partition's chunk set is reachable. Used by the
// periodic health worker.
func (r *ChunkRepository) Probe(ctx context.Context, key domain.PartitionKey) error {
	var count int64
	return r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM chunks WHERE partition_kind = $1 AND partition_owner = $2`,
		key.Kind, key.OwnerID,
	).Scan(&count)
}

func chunkIDsOf(hits []*service.RetrievedChunk) []string {
	ids := make([]string, 0, len(hits))
	for _, hit := range hits {
		ids = append(ids, hit.ChunkID)
	}
	return ids
}
