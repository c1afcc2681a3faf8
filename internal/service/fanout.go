package service

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/tessellate-ai/querymesh/internal/domain"
	"github.com/tessellate-ai/querymesh/internal/telemetry"
)

const (
	// DefaultFanoutConcurrency caps concurrent in-flight partition searches
	// to protect the backing index cluster.
	DefaultFanoutConcurrency = 16
	// DefaultPartitionTimeout bounds each fan-out leg independently. It must
	// stay strictly shorter than the overall query timeout.
	DefaultPartitionTimeout = 5 * time.Second
	// DefaultRetryBackoff is the pause before the single retry of a failed leg.
	DefaultRetryBackoff = 150 * time.Millisecond
	// DefaultDegradedThreshold is the consecutive-failure count at which a
	// partition's health drops to degraded.
	DefaultDegradedThreshold = 3
)

// RetrievedChunk is one scored hit returned by a partition's similarity
// search, tagged with its source partition. Raw scores are comparable only
// within a single partition; the Ranker fills NormalizedScore.
type RetrievedChunk struct {
	ChunkID           string
	DocumentID        string
	DocumentVersionID string
	ChunkIndex        int
	Content           string
	QualityScore      float32
	PageNumber        *int
	SectionTitle      string
	Score             float32
	NormalizedScore   float32
	Partition         domain.PartitionKey
}

// SimilaritySearchClient executes a single partition's similarity search
// against its backing index.
type SimilaritySearchClient interface {
	Search(ctx context.Context, partition *domain.Partition, embedding []float32, limit int) ([]*RetrievedChunk, error)
}

// PartitionHealthReporter receives per-partition search outcomes so the
// registry can track health across concurrent queries.
type PartitionHealthReporter interface {
	RecordSearchFailure(ctx context.Context, key domain.PartitionKey, threshold int) error
	RecordSearchSuccess(ctx context.Context, key domain.PartitionKey) error
}

// FanoutConfig tunes the coordinator
type FanoutConfig struct {
	Concurrency       int
	PartitionTimeout  time.Duration
	RetryBackoff      time.Duration
	PerPartitionLimit int
	DegradedThreshold int
}

// DefaultFanoutConfig returns the coordinator defaults
func DefaultFanoutConfig() FanoutConfig {
	return FanoutConfig{
		Concurrency:       DefaultFanoutConcurrency,
		PartitionTimeout:  DefaultPartitionTimeout,
		RetryBackoff:      DefaultRetryBackoff,
		PerPartitionLimit: 20,
		DegradedThreshold: DefaultDegradedThreshold,
	}
}

// FanoutResult is the merged outcome of a dispatch: all hits tagged with
// their source partition, the partitions that answered, and the ones that
// failed with reasons.
type FanoutResult struct {
	Hits              []*RetrievedChunk
	PartitionsQueried []string
	PartitionErrors   []domain.PartitionFailure
}

// FanoutCoordinator dispatches similarity search concurrently across
// resolved partitions with bounded parallelism and per-leg timeouts.
// Partial failure is tolerated; only a total failure is an error.
type FanoutCoordinator struct {
	searcher SimilaritySearchClient
	health   PartitionHealthReporter
	cfg      FanoutConfig
}

// NewFanoutCoordinator creates a new FanoutCoordinator instance
func NewFanoutCoordinator(searcher SimilaritySearchClient, health PartitionHealthReporter) *FanoutCoordinator {
	return NewFanoutCoordinatorWithConfig(searcher, health, DefaultFanoutConfig())
}

// NewFanoutCoordinatorWithConfig creates a FanoutCoordinator with explicit tuning
func NewFanoutCoordinatorWithConfig(searcher SimilaritySearchClient, health PartitionHealthReporter, cfg FanoutConfig) *FanoutCoordinator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultFanoutConcurrency
	}
	if cfg.PartitionTimeout <= 0 {
		cfg.PartitionTimeout = DefaultPartitionTimeout
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.PerPartitionLimit <= 0 {
		cfg.PerPartitionLimit = 20
	}
	if cfg.DegradedThreshold <= 0 {
		cfg.DegradedThreshold = DefaultDegradedThreshold
	}
	return &FanoutCoordinator{searcher: searcher, health: health, cfg: cfg}
}

// Dispatch runs one similarity search per partition concurrently. A leg
// failure excludes that partition; the call succeeds while at least one
// partition answers. Cancellation of ctx stops new dispatches and abandons
// in-flight legs.
func (c *FanoutCoordinator) Dispatch(ctx context.Context, partitions []*domain.Partition, embedding []float32) (*FanoutResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "FanoutCoordinator.Dispatch", telemetry.SpanAttributes{
		Operation: "fanout_dispatch",
	})
	defer span.End()

	if len(partitions) == 0 {
		return nil, domain.ErrNoAccessiblePartitions
	}

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		result = &FanoutResult{}
	)

	sem := make(chan struct{}, c.cfg.Concurrency)

	for _, partition := range partitions {
		if ctx.Err() != nil {
			break
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(p *domain.Partition) {
			defer wg.Done()
			defer func() { <-sem }()

			hits, err := c.searchPartition(ctx, p, embedding)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				result.PartitionErrors = append(result.PartitionErrors, domain.PartitionFailure{
					Partition: p.Key.String(),
					Reason:    err.Error(),
				})
				return
			}

			result.Hits = append(result.Hits, hits...)
			result.PartitionsQueried = append(result.PartitionsQueried, p.Key.String())
		}(partition)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(result.PartitionsQueried) == 0 {
		return nil, domain.NewDomainErrorWithCause(
			domain.ErrCodeRetrievalUnavailable,
			"all partitions failed during retrieval",
			firstFailure(result.PartitionErrors),
		)
	}

	return result, nil
}

// searchPartition runs one leg with its own timeout and a single retry
// with a short backoff. Outcomes are reported to the health reporter.
func (c *FanoutCoordinator) searchPartition(ctx context.Context, partition *domain.Partition, embedding []float32) ([]*RetrievedChunk, error) {
	hits, err := c.searchOnce(ctx, partition, embedding)
	if err != nil && ctx.Err() == nil {
		select {
		case <-time.After(c.cfg.RetryBackoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		hits, err = c.searchOnce(ctx, partition, embedding)
	}

	if ctx.Err() != nil {
		// Abandoned leg: the query is being cancelled, don't count this
		// against the partition's health.
		return nil, ctx.Err()
	}

	if err != nil {
		if healthErr := c.health.RecordSearchFailure(ctx, partition.Key, c.cfg.DegradedThreshold); healthErr != nil {
			log.Printf("failed to record search failure for partition %s: %v", partition.Key, healthErr)
		}
		return nil, err
	}

	if healthErr := c.health.RecordSearchSuccess(ctx, partition.Key); healthErr != nil {
		log.Printf("failed to record search success for partition %s: %v", partition.Key, healthErr)
	}

	return hits, nil
}

func (c *FanoutCoordinator) searchOnce(ctx context.Context, partition *domain.Partition, embedding []float32) ([]*RetrievedChunk, error) {
	legCtx, cancel := context.WithTimeout(ctx, c.cfg.PartitionTimeout)
	defer cancel()

	return c.searcher.Search(legCtx, partition, embedding, c.cfg.PerPartitionLimit)
}

func firstFailure(failures []domain.PartitionFailure) error {
	if len(failures) == 0 {
		return nil
	}
	return &partitionFailureError{failure: failures[0]}
}

type partitionFailureError struct {
	failure domain.PartitionFailure
}

func (e *partitionFailureError) Error() string {
	return e.failure.Partition + ": " + e.failure.Reason
}
