package client

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// AskRequest represents the query submission API request.
type AskRequest struct {
	Text           string   `json:"text"`
	Scope          string   `json:"scope"`
	ScopeTargets   []string `json:"scope_targets,omitempty"`
	ConversationID string   `json:"conversation_id,omitempty"`
	FollowUpTo     string   `json:"follow_up_to,omitempty"`
	Limit          int      `json:"limit,omitempty"`
}

// Query represents a query returned by the API.
type Query struct {
	ID                string             `json:"id"`
	Text              string             `json:"text"`
	Scope             string             `json:"scope"`
	ScopeTargets      []string           `json:"scope_targets,omitempty"`
	Status            string             `json:"status"`
	Answer            string             `json:"answer,omitempty"`
	Confidence        float32            `json:"confidence"`
	Error             string             `json:"error,omitempty"`
	Degraded          bool               `json:"degraded"`
	PartitionsQueried []string           `json:"partitions_queried,omitempty"`
	PartitionErrors   []PartitionFailure `json:"partition_errors,omitempty"`
	CitedDocuments    int                `json:"cited_documents"`
	RetrievalMS       int64              `json:"retrieval_ms"`
	SynthesisMS       int64              `json:"synthesis_ms"`
	TotalMS           int64              `json:"total_ms"`
	ConversationID    string             `json:"conversation_id,omitempty"`
	FollowUpTo        string             `json:"follow_up_to,omitempty"`
	IsSaved           bool               `json:"is_saved"`
	SavedTitle        string             `json:"saved_title,omitempty"`
	UserRating        *int               `json:"user_rating,omitempty"`
	CreatedAt         string             `json:"created_at"`
}

// PartitionFailure describes a partition that failed during fan-out.
type PartitionFailure struct {
	Partition string `json:"partition"`
	Reason    string `json:"reason"`
}

// Citation represents a cited source chunk.
type Citation struct {
	ID             string  `json:"id"`
	ChunkID        string  `json:"chunk_id"`
	DocumentID     string  `json:"document_id"`
	Content        string  `json:"content"`
	RelevanceScore float32 `json:"relevance_score"`
	RankPosition   int     `json:"rank_position"`
	SourceKind     string  `json:"source_kind"`
	Partition      string  `json:"partition"`
	PageNumber     *int    `json:"page_number,omitempty"`
	SectionTitle   string  `json:"section_title,omitempty"`
	Clicked        bool    `json:"clicked"`
	HelpfulRating  *int    `json:"helpful_rating,omitempty"`
}

// QueryResult is the full answer payload: the query plus its citations.
type QueryResult struct {
	Query     *Query      `json:"query"`
	Citations []*Citation `json:"citations"`
	Warnings  []string    `json:"warnings,omitempty"`
}

// AskCmd creates the ask command.
func AskCmd() *cobra.Command {
	var (
		scope          string
		targets        []string
		conversationID string
		followUpTo     string
		limit          int
	)

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question",
		Long:  "Submits a question, retrieves relevant sources across accessible partitions, and prints the synthesized answer with citations.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			req := AskRequest{
				Text:           args[0],
				Scope:          scope,
				ScopeTargets:   targets,
				ConversationID: conversationID,
				FollowUpTo:     followUpTo,
				Limit:          limit,
			}
			return runAsk(req, outputJSON)
		},
	}

	cmd.Flags().StringVarP(&scope, "scope", "s", "multi", "Search scope (private, project, global, multi)")
	cmd.Flags().StringSliceVar(&targets, "target", nil, "Project IDs to search when scope is project")
	cmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "Conversation to attach this query to")
	cmd.Flags().StringVar(&followUpTo, "follow-up", "", "Query ID this question follows up on")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of results (server default if 0)")

	return cmd
}

func runAsk(req AskRequest, outputJSON bool) error {
	api, err := NewAPIClient()
	if err != nil {
		return err
	}

	resp, err := api.Post("/queries", req)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	var result QueryResult
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return fmt.Errorf("failed to parse query result: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	printQueryResult(&result)
	return nil
}

func printQueryResult(result *QueryResult) {
	q := result.Query

	if q.Status == "failed" {
		fmt.Printf("Query failed: %s\n", q.Error)
		return
	}

	fmt.Println(q.Answer)
	fmt.Println()
	fmt.Printf("Confidence: %.2f", q.Confidence)
	if q.Degraded {
		fmt.Print(" (degraded: some partitions were unavailable)")
	}
	fmt.Println()

	if len(result.Citations) > 0 {
		fmt.Printf("\nSources (%d):\n", len(result.Citations))
		for _, c := range result.Citations {
			loc := c.SourceKind
			if c.SectionTitle != "" {
				loc += ", " + c.SectionTitle
			}
			if c.PageNumber != nil {
				loc += fmt.Sprintf(", p.%d", *c.PageNumber)
			}
			fmt.Printf("  [%d] %s (%s, score %.2f)\n", c.RankPosition, c.DocumentID, loc, c.RelevanceScore)
		}
	}

	if len(result.Warnings) > 0 {
		fmt.Printf("\nWarnings:\n")
		for _, w := range result.Warnings {
			fmt.Printf("  - %s\n", w)
		}
	}

	fmt.Printf("\nQuery ID: %s (%dms)\n", q.ID, q.TotalMS)
}

func formatScopeTargets(targets []string) string {
	if len(targets) == 0 {
		return "-"
	}
	return strings.Join(targets, ", ")
}
