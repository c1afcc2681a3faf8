package domain

import (
	"fmt"
	"time"
)

// PartitionKind represents the isolation scope of a retrieval partition
type PartitionKind string

const (
	PartitionKindPrivate PartitionKind = "private"
	PartitionKindProject PartitionKind = "project"
	PartitionKindGlobal  PartitionKind = "global"
)

// PartitionHealth represents the health status of a partition's backing index
type PartitionHealth string

const (
	PartitionHealthHealthy   PartitionHealth = "healthy"
	PartitionHealthDegraded  PartitionHealth = "degraded"
	PartitionHealthUnhealthy PartitionHealth = "unhealthy"
)

// PartitionKey is the composite identity of a partition: its kind plus the
// id of the owning entity (user, project, or tenant). It replaces the old
// string-prefix scheme so callers never parse identities out of strings.
type PartitionKey struct {
	Kind    PartitionKind
	OwnerID string
}

// String renders the key for logging and index naming.
func (k PartitionKey) String() string {
	return string(k.Kind) + ":" + k.OwnerID
}

// Priority orders partition kinds for ranking tie-breaks: more specific
// context wins (private > project > global).
func (k PartitionKind) Priority() int {
	switch k {
	case PartitionKindPrivate:
		return 3
	case PartitionKindProject:
		return 2
	case PartitionKindGlobal:
		return 1
	}
	return 0
}

// Partition represents an isolated, tenant-scoped retrieval namespace.
// The key uniquely determines the owning tenant; a partition is never
// queried outside its owning tenant's requests.
type Partition struct {
	Key                 PartitionKey
	TenantID            string
	Name                string
	IsActive            bool
	Health              PartitionHealth
	ConsecutiveFailures int
	EmbeddingModel      string
	ChunkSize           int
	ChunkOverlap        int
	SimilarityThreshold float32
	IndexName           string
	DocumentCount       int64
	ChunkCount          int64
	LastHealthCheck     *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// ValidatePartition validates a Partition instance
func ValidatePartition(p *Partition) error {
	if p == nil {
		return fmt.Errorf("partition cannot be nil")
	}

	if p.Key.OwnerID == "" {
		return fmt.Errorf("partition OwnerID is required")
	}

	if p.TenantID == "" {
		return fmt.Errorf("partition TenantID is required")
	}

	if p.IndexName == "" {
		return fmt.Errorf("partition IndexName is required")
	}

	if !isValidPartitionKind(p.Key.Kind) {
		return fmt.Errorf("partition Kind is invalid: %s", p.Key.Kind)
	}

	if !isValidPartitionHealth(p.Health) {
		return fmt.Errorf("partition Health is invalid: %s", p.Health)
	}

	if p.SimilarityThreshold < 0 || p.SimilarityThreshold > 1 {
		return fmt.Errorf("partition SimilarityThreshold must be in [0, 1]: %f", p.SimilarityThreshold)
	}

	return nil
}

// isValidPartitionKind checks if a PartitionKind is valid
func isValidPartitionKind(k PartitionKind) bool {
	switch k {
	case PartitionKindPrivate, PartitionKindProject, PartitionKindGlobal:
		return true
	}
	return false
}

// isValidPartitionHealth checks if a PartitionHealth is valid
func isValidPartitionHealth(h PartitionHealth) bool {
	switch h {
	case PartitionHealthHealthy, PartitionHealthDegraded, PartitionHealthUnhealthy:
		return true
	}
	return false
}
