//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tessellate-ai/querymesh/internal/domain"
	"github.com/tessellate-ai/querymesh/internal/testutil"
)

func testCitations(queryID string, count int) []*domain.Citation {
	now := time.Now().UTC().Truncate(time.Microsecond)
	citations := make([]*domain.Citation, 0, count)
	for i := 0; i < count; i++ {
		citations = append(citations, &domain.Citation{
			ID:             uuid.NewString(),
			QueryID:        queryID,
			ChunkID:        uuid.NewString(),
			DocumentID:     uuid.NewString(),
			Content:        "cited excerpt",
			RelevanceScore: 1.0 - float32(i)*0.1,
			RankPosition:   i + 1,
			SourceKind:     domain.PartitionKindPrivate,
			Partition:      "private:user-1",
			CreatedAt:      now,
		})
	}
	return citations
}

func TestCitationRepository_CreateBatchAndList(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	queryRepo := NewQueryRepository(pool)
	citationRepo := NewCitationRepository(pool)

	q := testQuery("tenant-1", "user-1")
	require.NoError(t, queryRepo.Create(ctx, q))

	citations := testCitations(q.ID, 3)
	require.NoError(t, citationRepo.CreateBatch(ctx, citations))

	listed, err := citationRepo.ListByQuery(ctx, q.ID)
	require.NoError(t, err)
	require.Len(t, listed, 3)
	for i, c := range listed {
		assert.Equal(t, i+1, c.RankPosition)
		assert.False(t, c.Clicked)
		assert.Nil(t, c.HelpfulRating)
	}
}

func TestCitationRepository_Feedback(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	queryRepo := NewQueryRepository(pool)
	citationRepo := NewCitationRepository(pool)

	q := testQuery("tenant-1", "user-1")
	require.NoError(t, queryRepo.Create(ctx, q))

	citations := testCitations(q.ID, 2)
	require.NoError(t, citationRepo.CreateBatch(ctx, citations))

	require.NoError(t, citationRepo.MarkClicked(ctx, q.ID, citations[0].ID))
	require.NoError(t, citationRepo.SetHelpfulRating(ctx, q.ID, []string{citations[1].ID}, 5))

	listed, err := citationRepo.ListByQuery(ctx, q.ID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.True(t, listed[0].Clicked)
	require.NotNil(t, listed[1].HelpfulRating)
	assert.Equal(t, 5, *listed[1].HelpfulRating)

	err = citationRepo.MarkClicked(ctx, q.ID, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrCitationNotFound)
}
