package service

import (
	"context"
	"fmt"
	"log"

	"github.com/tessellate-ai/querymesh/internal/domain"
	"github.com/tessellate-ai/querymesh/internal/telemetry"
)

// ScopeResolver computes the set of partitions a requester may query. It is
// the authorization boundary: no later pipeline stage may add or substitute
// partitions beyond what Resolve returns.
type ScopeResolver struct {
	partitionRepo PartitionRepositoryInterface
}

// NewScopeResolver creates a new ScopeResolver instance
func NewScopeResolver(partitionRepo PartitionRepositoryInterface) *ScopeResolver {
	return &ScopeResolver{partitionRepo: partitionRepo}
}

// ResolveInput carries the trusted identity of the requester plus the
// requested scope. Identity fields come from the identity provider, once
// per request.
type ResolveInput struct {
	TenantID           string
	UserID             string
	ProjectMemberships []string
	Scope              domain.QueryScope
	Targets            []string
}

// ResolveResult is the resolved partition set plus warnings for any project
// targets that were dropped rather than failing the whole call.
type ResolveResult struct {
	Partitions []*domain.Partition
	Warnings   []string
}

// Resolve maps a requested scope to concrete partitions, enforcing tenant
// isolation on every path. Inactive partitions are excluded silently.
func (r *ScopeResolver) Resolve(ctx context.Context, input ResolveInput) (*ResolveResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "ScopeResolver.Resolve", telemetry.SpanAttributes{
		TenantID:  input.TenantID,
		UserID:    input.UserID,
		Operation: "resolve_scope",
	})
	defer span.End()

	if input.TenantID == "" || input.UserID == "" {
		return nil, domain.ErrMissingRequiredField
	}

	switch input.Scope {
	case domain.QueryScopePrivate:
		return r.resolvePrivate(ctx, input)
	case domain.QueryScopeProject:
		return r.resolveProject(ctx, input)
	case domain.QueryScopeGlobal:
		return r.resolveGlobal(ctx, input)
	case domain.QueryScopeMulti:
		return r.resolveMulti(ctx, input)
	default:
		return nil, domain.ErrInvalidQueryScope
	}
}

func (r *ScopeResolver) resolvePrivate(ctx context.Context, input ResolveInput) (*ResolveResult, error) {
	if len(input.Targets) > 0 {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "private scope does not accept scope targets")
	}

	key := domain.PartitionKey{Kind: domain.PartitionKindPrivate, OwnerID: input.UserID}
	partition, err := r.lookup(ctx, input.TenantID, key)
	if err != nil {
		return nil, err
	}
	if partition == nil {
		return nil, domain.ErrNoAccessiblePartitions
	}

	return &ResolveResult{Partitions: []*domain.Partition{partition}}, nil
}

func (r *ScopeResolver) resolveProject(ctx context.Context, input ResolveInput) (*ResolveResult, error) {
	if len(input.Targets) == 0 {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "project scope requires at least one target project")
	}

	memberships := make(map[string]bool, len(input.ProjectMemberships))
	for _, projectID := range input.ProjectMemberships {
		memberships[projectID] = true
	}

	result := &ResolveResult{}
	for _, projectID := range input.Targets {
		if !memberships[projectID] {
			result.Warnings = append(result.Warnings, fmt.Sprintf("no membership in project %s, target dropped", projectID))
			continue
		}

		key := domain.PartitionKey{Kind: domain.PartitionKindProject, OwnerID: projectID}
		partition, err := r.lookup(ctx, input.TenantID, key)
		if err != nil {
			return nil, err
		}
		if partition == nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("no active partition for project %s, target dropped", projectID))
			continue
		}

		result.Partitions = append(result.Partitions, partition)
	}

	if len(result.Partitions) == 0 {
		return nil, domain.ErrNoAccessiblePartitions
	}

	return result, nil
}

func (r *ScopeResolver) resolveGlobal(ctx context.Context, input ResolveInput) (*ResolveResult, error) {
	if len(input.Targets) > 0 {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "global scope does not accept scope targets")
	}

	key := domain.PartitionKey{Kind: domain.PartitionKindGlobal, OwnerID: input.TenantID}
	partition, err := r.lookup(ctx, input.TenantID, key)
	if err != nil {
		return nil, err
	}
	if partition == nil {
		return nil, domain.ErrNoAccessiblePartitions
	}

	return &ResolveResult{Partitions: []*domain.Partition{partition}}, nil
}

// resolveMulti is the union of the requester's private partition, all
// partitions for projects the requester belongs to, and the tenant-wide
// partition. Missing or inactive partitions are skipped without warnings.
func (r *ScopeResolver) resolveMulti(ctx context.Context, input ResolveInput) (*ResolveResult, error) {
	keys := make([]domain.PartitionKey, 0, len(input.ProjectMemberships)+2)
	keys = append(keys, domain.PartitionKey{Kind: domain.PartitionKindPrivate, OwnerID: input.UserID})
	for _, projectID := range input.ProjectMemberships {
		keys = append(keys, domain.PartitionKey{Kind: domain.PartitionKindProject, OwnerID: projectID})
	}
	keys = append(keys, domain.PartitionKey{Kind: domain.PartitionKindGlobal, OwnerID: input.TenantID})

	result := &ResolveResult{}
	for _, key := range keys {
		partition, err := r.lookup(ctx, input.TenantID, key)
		if err != nil {
			return nil, err
		}
		if partition == nil {
			continue
		}
		result.Partitions = append(result.Partitions, partition)
	}

	if len(result.Partitions) == 0 {
		return nil, domain.ErrNoAccessiblePartitions
	}

	return result, nil
}

// lookup fetches a partition and applies the tenant-isolation check. A
// partition owned by another tenant is a hard denial, never a warning.
// Missing and inactive partitions both come back as nil.
func (r *ScopeResolver) lookup(ctx context.Context, tenantID string, key domain.PartitionKey) (*domain.Partition, error) {
	partition, err := r.partitionRepo.GetByKey(ctx, key)
	if err != nil {
		if err == domain.ErrPartitionNotFound {
			return nil, nil
		}
		return nil, err
	}

	if partition.TenantID != tenantID {
		log.Printf("scope denied: partition %s owned by tenant %s, requested by tenant %s", key, partition.TenantID, tenantID)
		return nil, domain.ErrScopeDenied
	}

	if !partition.IsActive {
		return nil, nil
	}

	return partition, nil
}
