package service

import (
	"sort"
)

const (
	// DefaultRankLimit is the number of ranked results returned when the
	// caller does not ask for a specific limit.
	DefaultRankLimit = 10
	// MaxRankLimit is the hard cap on ranked results.
	MaxRankLimit = 100
)

// Ranker merges heterogeneous per-partition results into one deterministic
// order. Raw similarity scores come from independently normalized indices,
// so they are min-max normalized within each partition's result set before
// the merged sort.
type Ranker struct {
	defaultLimit int
	maxLimit     int
}

// NewRanker creates a Ranker with the default limits
func NewRanker() *Ranker {
	return &Ranker{defaultLimit: DefaultRankLimit, maxLimit: MaxRankLimit}
}

// NewRankerWithLimits creates a Ranker with explicit limits
func NewRankerWithLimits(defaultLimit, maxLimit int) *Ranker {
	if defaultLimit <= 0 {
		defaultLimit = DefaultRankLimit
	}
	if maxLimit <= 0 {
		maxLimit = MaxRankLimit
	}
	return &Ranker{defaultLimit: defaultLimit, maxLimit: maxLimit}
}

// Rank normalizes, sorts, and truncates merged fan-out hits. The order is a
// total order: identical inputs always produce identical output.
// Ties on normalized score break by higher raw chunk quality, then lower
// chunk sequence index, then partition kind priority (private > project >
// global), then chunk ID as the final stabilizer.
func (r *Ranker) Rank(hits []*RetrievedChunk, limit int) []*RetrievedChunk {
	if limit <= 0 {
		limit = r.defaultLimit
	}
	if limit > r.maxLimit {
		limit = r.maxLimit
	}

	if len(hits) == 0 {
		return []*RetrievedChunk{}
	}

	ranked := make([]*RetrievedChunk, len(hits))
	copy(ranked, hits)

	normalizeWithinPartitions(ranked)

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.NormalizedScore != b.NormalizedScore {
			return a.NormalizedScore > b.NormalizedScore
		}
		if a.QualityScore != b.QualityScore {
			return a.QualityScore > b.QualityScore
		}
		if a.ChunkIndex != b.ChunkIndex {
			return a.ChunkIndex < b.ChunkIndex
		}
		if a.Partition.Kind.Priority() != b.Partition.Kind.Priority() {
			return a.Partition.Kind.Priority() > b.Partition.Kind.Priority()
		}
		return a.ChunkID < b.ChunkID
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	return ranked
}

// normalizeWithinPartitions applies min-max normalization to Score within
// each partition's result set. A partition whose scores are all equal maps
// every hit to 1.0.
func normalizeWithinPartitions(hits []*RetrievedChunk) {
	type bounds struct {
		min, max float32
	}

	byPartition := make(map[string]*bounds)
	for _, hit := range hits {
		key := hit.Partition.String()
		b, ok := byPartition[key]
		if !ok {
			byPartition[key] = &bounds{min: hit.Score, max: hit.Score}
			continue
		}
		if hit.Score < b.min {
			b.min = hit.Score
		}
		if hit.Score > b.max {
			b.max = hit.Score
		}
	}

	for _, hit := range hits {
		b := byPartition[hit.Partition.String()]
		if b.max == b.min {
			hit.NormalizedScore = 1.0
			continue
		}
		hit.NormalizedScore = (hit.Score - b.min) / (b.max - b.min)
	}
}
