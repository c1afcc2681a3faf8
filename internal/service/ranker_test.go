package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tessellate-ai/querymesh/internal/domain"
)

func rankerHit(id string, key domain.PartitionKey, score, quality float32, chunkIndex int) *RetrievedChunk {
	return &RetrievedChunk{
		ChunkID:      id,
		ChunkIndex:   chunkIndex,
		Score:        score,
		QualityScore: quality,
		Partition:    key,
	}
}

func TestRanker_Rank(t *testing.T) {
	privateKey := domain.PartitionKey{Kind: domain.PartitionKindPrivate, OwnerID: "user-1"}
	projectKey := domain.PartitionKey{Kind: domain.PartitionKindProject, OwnerID: "proj-a"}
	globalKey := domain.PartitionKey{Kind: domain.PartitionKindGlobal, OwnerID: "tenant-1"}

	t.Run("normalizes scores within each partition", func(t *testing.T) {
		ranker := NewRanker()

		// The private partition scores on a 0.2-0.4 band and the global
		// partition on 0.7-0.9; raw comparison would bury every private hit.
		hits := []*RetrievedChunk{
			rankerHit("p1", privateKey, 0.4, 0, 0),
			rankerHit("p2", privateKey, 0.2, 0, 1),
			rankerHit("g1", globalKey, 0.9, 0, 0),
			rankerHit("g2", globalKey, 0.7, 0, 1),
		}

		ranked := ranker.Rank(hits, 10)

		require.Len(t, ranked, 4)
		// Band leaders normalize to 1.0 each and tie-break on chunk index
		// then kind priority.
		assert.Equal(t, float32(1.0), ranked[0].NormalizedScore)
		assert.Equal(t, float32(1.0), ranked[1].NormalizedScore)
		assert.Equal(t, "p1", ranked[0].ChunkID)
		assert.Equal(t, "g1", ranked[1].ChunkID)
	})

	t.Run("single-score partition normalizes to one", func(t *testing.T) {
		ranker := NewRanker()

		ranked := ranker.Rank([]*RetrievedChunk{rankerHit("p1", privateKey, 0.01, 0, 0)}, 10)

		require.Len(t, ranked, 1)
		assert.Equal(t, float32(1.0), ranked[0].NormalizedScore)
	})

	t.Run("order is deterministic for identical input", func(t *testing.T) {
		ranker := NewRanker()

		build := func() []*RetrievedChunk {
			return []*RetrievedChunk{
				rankerHit("b", projectKey, 0.5, 0.5, 2),
				rankerHit("a", privateKey, 0.5, 0.5, 2),
				rankerHit("c", globalKey, 0.5, 0.5, 2),
			}
		}

		first := ranker.Rank(build(), 10)
		second := ranker.Rank(build(), 10)

		require.Len(t, first, 3)
		for i := range first {
			assert.Equal(t, first[i].ChunkID, second[i].ChunkID)
		}
		// Single-hit partitions all normalize to 1.0; the kind priority
		// tie-break orders private before project before global.
		assert.Equal(t, "a", first[0].ChunkID)
		assert.Equal(t, "b", first[1].ChunkID)
		assert.Equal(t, "c", first[2].ChunkID)
	})

	t.Run("ties break on quality then chunk index", func(t *testing.T) {
		ranker := NewRanker()

		hits := []*RetrievedChunk{
			rankerHit("low-quality", privateKey, 0.5, 0.2, 0),
			rankerHit("high-quality", privateKey, 0.5, 0.8, 5),
			rankerHit("early-chunk", privateKey, 0.5, 0.2, 3),
		}

		ranked := ranker.Rank(hits, 10)

		require.Len(t, ranked, 3)
		assert.Equal(t, "high-quality", ranked[0].ChunkID)
		assert.Equal(t, "low-quality", ranked[1].ChunkID)
		assert.Equal(t, "early-chunk", ranked[2].ChunkID)
	})

	t.Run("truncates to limit and caps at maximum", func(t *testing.T) {
		ranker := NewRankerWithLimits(10, 5)

		hits := make([]*RetrievedChunk, 0, 8)
		for i := 0; i < 8; i++ {
			hits = append(hits, rankerHit(string(rune('a'+i)), privateKey, float32(i), 0, i))
		}

		ranked := ranker.Rank(hits, 50)

		assert.Len(t, ranked, 5)
	})

	t.Run("zero limit uses default", func(t *testing.T) {
		ranker := NewRankerWithLimits(2, 100)

		hits := []*RetrievedChunk{
			rankerHit("a", privateKey, 0.9, 0, 0),
			rankerHit("b", privateKey, 0.5, 0, 1),
			rankerHit("c", privateKey, 0.1, 0, 2),
		}

		ranked := ranker.Rank(hits, 0)

		assert.Len(t, ranked, 2)
	})

	t.Run("does not mutate input order", func(t *testing.T) {
		ranker := NewRanker()

		hits := []*RetrievedChunk{
			rankerHit("low", privateKey, 0.1, 0, 0),
			rankerHit("high", privateKey, 0.9, 0, 1),
		}

		_ = ranker.Rank(hits, 10)

		assert.Equal(t, "low", hits[0].ChunkID)
		assert.Equal(t, "high", hits[1].ChunkID)
	})

	t.Run("empty input yields empty output", func(t *testing.T) {
		ranker := NewRanker()

		assert.Empty(t, ranker.Rank(nil, 10))
	})
}
