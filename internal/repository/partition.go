package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tessellate-ai/querymesh/internal/domain"
)

// PartitionRepository persists the partition registry. Health counters are
// mutated with atomic SQL because concurrent queries report outcomes for the
// same partition.
type PartitionRepository struct {
	db dbtx
}

func NewPartitionRepository(pool *pgxpool.Pool) *PartitionRepository {
	return &PartitionRepository{db: pool}
}

func NewPartitionRepositoryWithTx(tx pgx.Tx) *PartitionRepository {
	return &PartitionRepository{db: tx}
}

const partitionColumns = `kind, owner_id, tenant_id, name, is_active, health, consecutive_failures,
	embedding_model, chunk_size, chunk_overlap, similarity_threshold, index_name,
	document_count, chunk_count, last_health_check, created_at, updated_at`

func (r *PartitionRepository) Create(ctx context.Context, p *domain.Partition) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO partitions (`+partitionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		p.Key.Kind, p.Key.OwnerID, p.TenantID, p.Name, p.IsActive, p.Health, p.ConsecutiveFailures,
		p.EmbeddingModel, p.ChunkSize, p.ChunkOverlap, p.SimilarityThreshold, p.IndexName,
		p.DocumentCount, p.ChunkCount, p.LastHealthCheck, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil && isUniqueViolation(err) {
		return domain.ErrPartitionAlreadyExists
	}
	return err
}

func (r *PartitionRepository) GetByKey(ctx context.Context, key domain.PartitionKey) (*domain.Partition, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+partitionColumns+` FROM partitions WHERE kind = $1 AND owner_id = $2`,
		key.Kind, key.OwnerID,
	)
	return scanPartition(row)
}

func (r *PartitionRepository) ListByTenant(ctx context.Context, tenantID string) ([]*domain.Partition, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+partitionColumns+` FROM partitions WHERE tenant_id = $1 ORDER BY created_at DESC`,
		tenantID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPartitionRows(rows)
}

func (r *PartitionRepository) ListActive(ctx context.Context) ([]*domain.Partition, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+partitionColumns+` FROM partitions WHERE is_active ORDER BY tenant_id, kind, owner_id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPartitionRows(rows)
}

func (r *PartitionRepository) Deactivate(ctx context.Context, key domain.PartitionKey) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE partitions SET is_active = false, updated_at = now() WHERE kind = $1 AND owner_id = $2`,
		key.Kind, key.OwnerID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPartitionNotFound
	}
	return nil
}

// RecordSearchFailure bumps the consecutive failure counter and demotes the
// partition to degraded once the counter reaches threshold. Single UPDATE,
// no read-modify-write race.
func (r *PartitionRepository) RecordSearchFailure(ctx context.Context, key domain.PartitionKey, threshold int) error {
	_, err := r.db.Exec(ctx,
		`UPDATE partitions
		 SET consecutive_failures = consecutive_failures + 1,
		     health = CASE WHEN consecutive_failures + 1 >= $3 THEN 'degraded' ELSE health END,
		     updated_at = now()
		 WHERE kind = $1 AND owner_id = $2`,
		key.Kind, key.OwnerID, threshold,
	)
	return err
}

// RecordSearchSuccess resets the failure counter and restores health.
func (r *PartitionRepository) RecordSearchSuccess(ctx context.Context, key domain.PartitionKey) error {
	_, err := r.db.Exec(ctx,
		`UPDATE partitions
		 SET consecutive_failures = 0, health = 'healthy', updated_at = now()
		 WHERE kind = $1 AND owner_id = $2`,
		key.Kind, key.OwnerID,
	)
	return err
}

// RecordHealthCheck stores the outcome of a periodic probe.
func (r *PartitionRepository) RecordHealthCheck(ctx context.Context, key domain.PartitionKey, health domain.PartitionHealth, at time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE partitions SET health = $3, last_health_check = $4, updated_at = now()
		 WHERE kind = $1 AND owner_id = $2`,
		key.Kind, key.OwnerID, health, at,
	)
	return err
}

// RefreshCounts recomputes the cached document and chunk counts.
func (r *PartitionRepository) RefreshCounts(ctx context.Context, key domain.PartitionKey) error {
	_, err := r.db.Exec(ctx,
		`UPDATE partitions p
		 SET document_count = stats.docs,
		     chunk_count = stats.chunks,
		     updated_at = now()
		 FROM (
		     SELECT COUNT(DISTINCT document_id) AS docs, COUNT(*) AS chunks
		     FROM chunks WHERE partition_kind = $1 AND partition_owner = $2
		 ) stats
		 WHERE p.kind = $1 AND p.owner_id = $2`,
		key.Kind, key.OwnerID,
	)
	return err
}

func scanPartition(row pgx.Row) (*domain.Partition, error) {
	var p domain.Partition
	err := row.Scan(
		&p.Key.Kind, &p.Key.OwnerID, &p.TenantID, &p.Name, &p.IsActive, &p.Health, &p.ConsecutiveFailures,
		&p.EmbeddingModel, &p.ChunkSize, &p.ChunkOverlap, &p.SimilarityThreshold, &p.IndexName,
		&p.DocumentCount, &p.ChunkCount, &p.LastHealthCheck, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPartitionNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanPartitionRows(rows pgx.Rows) ([]*domain.Partition, error) {
	partitions := make([]*domain.Partition, 0)
	for rows.Next() {
		var p domain.Partition
		if err := rows.Scan(
			&p.Key.Kind, &p.Key.OwnerID, &p.TenantID, &p.Name, &p.IsActive, &p.Health, &p.ConsecutiveFailures,
			&p.EmbeddingModel, &p.ChunkSize, &p.ChunkOverlap, &p.SimilarityThreshold, &p.IndexName,
			&p.DocumentCount, &p.ChunkCount, &p.LastHealthCheck, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		partitions = append(partitions, &p)
	}
	return partitions, rows.Err()
}
