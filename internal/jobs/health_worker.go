package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/tessellate-ai/querymesh/internal/domain"
)

// PartitionLister lists the partitions that need periodic probing
type PartitionLister interface {
	ListActive(ctx context.Context) ([]*domain.Partition, error)
	RecordHealthCheck(ctx context.Context, key domain.PartitionKey, health domain.PartitionHealth, at time.Time) error
	RefreshCounts(ctx context.Context, key domain.PartitionKey) error
}

// IndexProber checks that a partition's backing index is reachable
type IndexProber interface {
	Probe(ctx context.Context, key domain.PartitionKey) error
}

// HealthWorker probes each active partition's backing index and records the
// outcome. A probe failure marks the partition unhealthy immediately; search
// traffic applies its own consecutive-failure demotion separately.
type HealthWorker struct {
	partitions PartitionLister
	prober     IndexProber
}

// NewHealthWorker creates a new HealthWorker instance
func NewHealthWorker(partitions PartitionLister, prober IndexProber) *HealthWorker {
	return &HealthWorker{
		partitions: partitions,
		prober:     prober,
	}
}

// ProcessJobs implements the JobProcessor interface
func (w *HealthWorker) ProcessJobs(ctx context.Context) error {
	partitions, err := w.partitions.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active partitions: %w", err)
	}

	now := time.Now().UTC()

	for _, partition := range partitions {
		if err := w.checkPartition(ctx, partition, now); err != nil {
			log.Printf("Error checking partition %s: %v", partition.Key, err)
		}
	}

	return nil
}

func (w *HealthWorker) checkPartition(ctx context.Context, partition *domain.Partition, at time.Time) error {
	if err := w.prober.Probe(ctx, partition.Key); err != nil {
		log.Printf("Partition %s probe failed: %v", partition.Key, err)
		return w.partitions.RecordHealthCheck(ctx, partition.Key, domain.PartitionHealthUnhealthy, at)
	}

	// Degraded partitions recover through search successes, not probes.
	health := partition.Health
	if health == domain.PartitionHealthUnhealthy {
		health = domain.PartitionHealthHealthy
	}

	if err := w.partitions.RecordHealthCheck(ctx, partition.Key, health, at); err != nil {
		return err
	}

	return w.partitions.RefreshCounts(ctx, partition.Key)
}
