package domain

import "time"

// Chunk represents a retrievable unit of document text owned by exactly one
// partition and one source document version. Chunks are written by the
// ingestion services; the orchestrator only reads them and bumps usage
// counters.
type Chunk struct {
	ID                string
	PartitionKey      PartitionKey
	TenantID          string
	DocumentID        string
	DocumentVersionID string
	ChunkIndex        int
	Content           string
	QualityScore      float32
	TimesRetrieved    int64
	TimesCited        int64
	PageNumber        *int
	SectionTitle      string
	Embedding         []float32
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
