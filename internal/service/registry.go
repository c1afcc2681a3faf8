package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tessellate-ai/querymesh/internal/domain"
	"github.com/tessellate-ai/querymesh/internal/telemetry"
)

// PartitionRepositoryInterface defines the repository interface for
// partition metadata persistence. Health mutations are applied by the
// repository as atomic SQL updates because multiple in-flight queries
// report outcomes concurrently.
type PartitionRepositoryInterface interface {
	Create(ctx context.Context, p *domain.Partition) error
	GetByKey(ctx context.Context, key domain.PartitionKey) (*domain.Partition, error)
	ListByTenant(ctx context.Context, tenantID string) ([]*domain.Partition, error)
	ListActive(ctx context.Context) ([]*domain.Partition, error)
	Deactivate(ctx context.Context, key domain.PartitionKey) error
	RecordSearchFailure(ctx context.Context, key domain.PartitionKey, threshold int) error
	RecordSearchSuccess(ctx context.Context, key domain.PartitionKey) error
	RecordHealthCheck(ctx context.Context, key domain.PartitionKey, health domain.PartitionHealth, at time.Time) error
}

// UUIDGenerator defines interface for UUID generation (for testing)
type UUIDGenerator interface {
	NewString() string
}

// DefaultUUIDGenerator is the default UUID generator using google/uuid
type DefaultUUIDGenerator struct{}

// NewString generates a new UUID string
func (g *DefaultUUIDGenerator) NewString() string {
	return uuid.NewString()
}

// RegistryService handles business logic for the partition registry
type RegistryService struct {
	partitionRepo PartitionRepositoryInterface
}

// NewRegistryService creates a new RegistryService instance
func NewRegistryService(partitionRepo PartitionRepositoryInterface) *RegistryService {
	return &RegistryService{partitionRepo: partitionRepo}
}

// CreatePartitionInput represents the input for registering a partition
type CreatePartitionInput struct {
	Kind                domain.PartitionKind
	OwnerID             string
	TenantID            string
	Name                string
	EmbeddingModel      string
	ChunkSize           int
	ChunkOverlap        int
	SimilarityThreshold float32
}

// CreatePartition registers a new partition for a provisioned user,
// project, or tenant. The backing index name is derived from the key.
func (s *RegistryService) CreatePartition(ctx context.Context, input CreatePartitionInput) (*domain.Partition, error) {
	ctx, span := telemetry.StartSpan(ctx, "RegistryService.CreatePartition", telemetry.SpanAttributes{
		TenantID:  input.TenantID,
		Operation: "create_partition",
	})
	defer span.End()

	now := time.Now().UTC()

	partition := &domain.Partition{
		Key:                 domain.PartitionKey{Kind: input.Kind, OwnerID: input.OwnerID},
		TenantID:            input.TenantID,
		Name:                input.Name,
		IsActive:            true,
		Health:              domain.PartitionHealthHealthy,
		EmbeddingModel:      input.EmbeddingModel,
		ChunkSize:           input.ChunkSize,
		ChunkOverlap:        input.ChunkOverlap,
		SimilarityThreshold: input.SimilarityThreshold,
		IndexName:           IndexNameForKey(domain.PartitionKey{Kind: input.Kind, OwnerID: input.OwnerID}),
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if partition.ChunkSize <= 0 {
		partition.ChunkSize = 1000
	}
	if partition.ChunkOverlap < 0 {
		partition.ChunkOverlap = 100
	}
	if partition.SimilarityThreshold <= 0 {
		partition.SimilarityThreshold = 0.7
	}
	if partition.Name == "" {
		partition.Name = partition.Key.String()
	}

	if err := domain.ValidatePartition(partition); err != nil {
		return nil, err
	}

	if err := s.partitionRepo.Create(ctx, partition); err != nil {
		return nil, err
	}

	return partition, nil
}

// GetPartition retrieves a partition by its composite key
func (s *RegistryService) GetPartition(ctx context.Context, key domain.PartitionKey) (*domain.Partition, error) {
	return s.partitionRepo.GetByKey(ctx, key)
}

// ListPartitions retrieves all partitions owned by a tenant
func (s *RegistryService) ListPartitions(ctx context.Context, tenantID string) ([]*domain.Partition, error) {
	ctx, span := telemetry.StartSpan(ctx, "RegistryService.ListPartitions", telemetry.SpanAttributes{
		TenantID:  tenantID,
		Operation: "list_partitions",
	})
	defer span.End()

	return s.partitionRepo.ListByTenant(ctx, tenantID)
}

// DeactivatePartition soft-deactivates a partition. Partitions referenced
// by queries are never deleted.
func (s *RegistryService) DeactivatePartition(ctx context.Context, tenantID string, key domain.PartitionKey) error {
	partition, err := s.partitionRepo.GetByKey(ctx, key)
	if err != nil {
		return err
	}
	if partition.TenantID != tenantID {
		return domain.ErrPartitionNotFound
	}

	return s.partitionRepo.Deactivate(ctx, key)
}

// IndexNameForKey derives the backing index name from a partition key.
func IndexNameForKey(key domain.PartitionKey) string {
	owner := strings.ReplaceAll(key.OwnerID, "-", "_")
	return fmt.Sprintf("chunks_%s_%s", key.Kind, owner)
}
