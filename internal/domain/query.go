package domain

import (
	"fmt"
	"time"
)

// QueryScope represents the breadth of partitions a query may search
type QueryScope string

const (
	QueryScopePrivate QueryScope = "private"
	QueryScopeProject QueryScope = "project"
	QueryScopeGlobal  QueryScope = "global"
	QueryScopeMulti   QueryScope = "multi"
)

// QueryStatus represents the lifecycle status of a query
type QueryStatus string

const (
	QueryStatusPending    QueryStatus = "pending"
	QueryStatusProcessing QueryStatus = "processing"
	QueryStatusCompleted  QueryStatus = "completed"
	QueryStatusFailed     QueryStatus = "failed"
	QueryStatusCancelled  QueryStatus = "cancelled"
)

// IsTerminal reports whether the status is final. Terminal queries may only
// mutate feedback fields, never the lifecycle status.
func (s QueryStatus) IsTerminal() bool {
	switch s {
	case QueryStatusCompleted, QueryStatusFailed, QueryStatusCancelled:
		return true
	}
	return false
}

// PartitionFailure records one partition that could not be reached during
// fan-out, kept on the query for the degraded-result indicator.
type PartitionFailure struct {
	Partition string `json:"partition"`
	Reason    string `json:"reason"`
}

// Query represents one research question and its result
type Query struct {
	ID       string
	TenantID string
	UserID   string

	Text         string
	Scope        QueryScope
	ScopeTargets []string

	Status     QueryStatus
	Answer     string
	Confidence float32
	Error      string

	Degraded          bool
	PartitionsQueried []string
	PartitionErrors   []PartitionFailure
	CitedDocuments    int

	RetrievalMS int64
	SynthesisMS int64
	TotalMS     int64

	ConversationID string
	FollowUpTo     string

	IsSaved    bool
	SavedTitle string
	UserRating *int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// QueryAnalytics summarizes one user's query activity over a window.
// Averages cover only rows where the field is set.
type QueryAnalytics struct {
	TotalQueries      int64
	AvgResponseMS     float64
	AvgConfidence     float64
	AvgRating         float64
	SavedQueries      int64
	ScopeDistribution map[QueryScope]int64
}

// Citation represents one cited chunk within a completed query's result.
// Immutable after creation except the user interaction flags.
type Citation struct {
	ID                string
	QueryID           string
	ChunkID           string
	DocumentID        string
	DocumentVersionID string
	Content           string
	RelevanceScore    float32
	RankPosition      int
	SourceKind        PartitionKind
	Partition         string
	PageNumber        *int
	SectionTitle      string
	Clicked           bool
	HelpfulRating     *int
	CreatedAt         time.Time
}

// ContextTurn is one remembered question/answer pair in a conversation.
type ContextTurn struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Conversation groups queries sharing context. Archived, never deleted.
type Conversation struct {
	ID           string
	TenantID     string
	UserID       string
	Title        string
	QueryCount   int
	Context      []ContextTurn
	IsArchived   bool
	LastActivity time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ValidateQuery validates a Query instance
func ValidateQuery(q *Query) error {
	if q == nil {
		return fmt.Errorf("query cannot be nil")
	}

	if q.ID == "" {
		return fmt.Errorf("query ID is required")
	}

	if q.TenantID == "" {
		return fmt.Errorf("query TenantID is required")
	}

	if q.UserID == "" {
		return fmt.Errorf("query UserID is required")
	}

	if q.Text == "" {
		return fmt.Errorf("query Text is required")
	}

	if !isValidQueryScope(q.Scope) {
		return fmt.Errorf("query Scope is invalid: %s", q.Scope)
	}

	if !isValidQueryStatus(q.Status) {
		return fmt.Errorf("query Status is invalid: %s", q.Status)
	}

	return nil
}

// ValidateCitation validates a Citation instance
func ValidateCitation(c *Citation) error {
	if c == nil {
		return fmt.Errorf("citation cannot be nil")
	}

	if c.QueryID == "" {
		return fmt.Errorf("citation QueryID is required")
	}

	if c.Content == "" {
		return fmt.Errorf("citation Content is required")
	}

	if c.RankPosition < 1 {
		return fmt.Errorf("citation RankPosition must be >= 1")
	}

	return nil
}

// isValidQueryScope checks if a QueryScope is valid
func isValidQueryScope(s QueryScope) bool {
	switch s {
	case QueryScopePrivate, QueryScopeProject, QueryScopeGlobal, QueryScopeMulti:
		return true
	}
	return false
}

// isValidQueryStatus checks if a QueryStatus is valid
func isValidQueryStatus(s QueryStatus) bool {
	switch s {
	case QueryStatusPending, QueryStatusProcessing, QueryStatusCompleted,
		QueryStatusFailed, QueryStatusCancelled:
		return true
	}
	return false
}
