//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tessellate-ai/querymesh/internal/domain"
	"github.com/tessellate-ai/querymesh/internal/testutil"
)

func testPartition(kind domain.PartitionKind, ownerID, tenantID string) *domain.Partition {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.Partition{
		Key:                 domain.PartitionKey{Kind: kind, OwnerID: ownerID},
		TenantID:            tenantID,
		Name:                string(kind) + " " + ownerID,
		IsActive:            true,
		Health:              domain.PartitionHealthHealthy,
		EmbeddingModel:      "text-embedding-3-small",
		ChunkSize:           1000,
		ChunkOverlap:        100,
		SimilarityThreshold: 0.7,
		IndexName:           "chunks_" + string(kind) + "_" + ownerID,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

func TestPartitionRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewPartitionRepository(pool)

	p := testPartition(domain.PartitionKindProject, "proj-1", "tenant-1")
	require.NoError(t, repo.Create(ctx, p))

	retrieved, err := repo.GetByKey(ctx, p.Key)
	require.NoError(t, err)
	assert.Equal(t, p.Key, retrieved.Key)
	assert.Equal(t, p.TenantID, retrieved.TenantID)
	assert.Equal(t, domain.PartitionHealthHealthy, retrieved.Health)
	assert.True(t, retrieved.IsActive)

	err = repo.Create(ctx, p)
	assert.ErrorIs(t, err, domain.ErrPartitionAlreadyExists)
}

func TestPartitionRepository_GetByKey_NotFound(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewPartitionRepository(pool)

	_, err := repo.GetByKey(ctx, domain.PartitionKey{Kind: domain.PartitionKindPrivate, OwnerID: "ghost"})
	assert.ErrorIs(t, err, domain.ErrPartitionNotFound)
}

func TestPartitionRepository_HealthCounters(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewPartitionRepository(pool)

	p := testPartition(domain.PartitionKindPrivate, "user-1", "tenant-1")
	require.NoError(t, repo.Create(ctx, p))

	// Two failures stay under the threshold of three.
	require.NoError(t, repo.RecordSearchFailure(ctx, p.Key, 3))
	require.NoError(t, repo.RecordSearchFailure(ctx, p.Key, 3))

	retrieved, err := repo.GetByKey(ctx, p.Key)
	require.NoError(t, err)
	assert.Equal(t, 2, retrieved.ConsecutiveFailures)
	assert.Equal(t, domain.PartitionHealthHealthy, retrieved.Health)

	// The third consecutive failure demotes the partition.
	require.NoError(t, repo.RecordSearchFailure(ctx, p.Key, 3))

	retrieved, err = repo.GetByKey(ctx, p.Key)
	require.NoError(t, err)
	assert.Equal(t, 3, retrieved.ConsecutiveFailures)
	assert.Equal(t, domain.PartitionHealthDegraded, retrieved.Health)

	// A success resets the counter and restores health.
	require.NoError(t, repo.RecordSearchSuccess(ctx, p.Key))

	retrieved, err = repo.GetByKey(ctx, p.Key)
	require.NoError(t, err)
	assert.Equal(t, 0, retrieved.ConsecutiveFailures)
	assert.Equal(t, domain.PartitionHealthHealthy, retrieved.Health)
}

func TestPartitionRepository_Deactivate(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewPartitionRepository(pool)

	p := testPartition(domain.PartitionKindGlobal, "tenant-1", "tenant-1")
	require.NoError(t, repo.Create(ctx, p))
	require.NoError(t, repo.Deactivate(ctx, p.Key))

	retrieved, err := repo.GetByKey(ctx, p.Key)
	require.NoError(t, err)
	assert.False(t, retrieved.IsActive)

	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	err = repo.Deactivate(ctx, domain.PartitionKey{Kind: domain.PartitionKindGlobal, OwnerID: "ghost"})
	assert.ErrorIs(t, err, domain.ErrPartitionNotFound)
}

func TestPartitionRepository_RecordHealthCheck(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewPartitionRepository(pool)

	p := testPartition(domain.PartitionKindProject, "proj-1", "tenant-1")
	require.NoError(t, repo.Create(ctx, p))

	at := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, repo.RecordHealthCheck(ctx, p.Key, domain.PartitionHealthUnhealthy, at))

	retrieved, err := repo.GetByKey(ctx, p.Key)
	require.NoError(t, err)
	assert.Equal(t, domain.PartitionHealthUnhealthy, retrieved.Health)
	require.NotNil(t, retrieved.LastHealthCheck)
	assert.WithinDuration(t, at, *retrieved.LastHealthCheck, time.Millisecond)
}
