package client

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

// QueryPage represents a page of query history.
type QueryPage struct {
	Queries    []*Query `json:"queries"`
	NextCursor string   `json:"next_cursor,omitempty"`
	HasMore    bool     `json:"has_more"`
}

// HistoryCmd creates the history command.
func HistoryCmd() *cobra.Command {
	var (
		limit          int
		cursor         string
		conversationID string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past queries",
		Long:  "Lists your query history, most recent first.",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runHistory(limit, cursor, conversationID, outputJSON)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of queries")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Pagination cursor from previous response")
	cmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "Only show queries in this conversation")

	return cmd
}

func runHistory(limit int, cursor, conversationID string, outputJSON bool) error {
	api, err := NewAPIClient()
	if err != nil {
		return err
	}

	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	if conversationID != "" {
		params.Set("conversation_id", conversationID)
	}

	resp, err := api.Get("/queries?" + params.Encode())
	if err != nil {
		return fmt.Errorf("failed to list queries: %w", err)
	}

	var page QueryPage
	if err := json.Unmarshal(resp.Data, &page); err != nil {
		return fmt.Errorf("failed to parse query history: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(page, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	if len(page.Queries) == 0 {
		fmt.Println("No queries found.")
		return nil
	}

	for _, q := range page.Queries {
		marker := " "
		if q.IsSaved {
			marker = "*"
		}
		fmt.Printf("%s %s  [%s/%s]  %s\n", marker, q.ID, q.Scope, q.Status, truncate(q.Text, 70))
	}
	if page.HasMore {
		fmt.Printf("\nMore results available. Next cursor: %s\n", page.NextCursor)
	}

	return nil
}

// ShowCmd creates the show command.
func ShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "show <query_id>",
		Short:   "Show a past query",
		Long:    "Retrieves a query by ID and displays the answer with citations.",
		Aliases: []string{"get"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runShow(args[0], outputJSON)
		},
	}

	return cmd
}

func runShow(queryID string, outputJSON bool) error {
	api, err := NewAPIClient()
	if err != nil {
		return err
	}

	resp, err := api.Get("/queries/" + queryID)
	if err != nil {
		return fmt.Errorf("failed to get query: %w", err)
	}

	var result QueryResult
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return fmt.Errorf("failed to parse query: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	q := result.Query
	fmt.Printf("Question: %s\n", q.Text)
	fmt.Printf("Scope: %s (%s)\n", q.Scope, formatScopeTargets(q.ScopeTargets))
	fmt.Printf("Status: %s\n", q.Status)
	fmt.Printf("Asked: %s\n\n", q.CreatedAt)
	printQueryResult(&result)

	return nil
}

// CancelCmd creates the cancel command.
func CancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <query_id>",
		Short: "Cancel a running query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCancel(args[0])
		},
	}

	return cmd
}

func runCancel(queryID string) error {
	api, err := NewAPIClient()
	if err != nil {
		return err
	}

	if _, err := api.Post("/queries/"+queryID+"/cancel", nil); err != nil {
		return fmt.Errorf("failed to cancel query: %w", err)
	}

	fmt.Println("Query cancelled")
	return nil
}

// RateRequest represents the feedback API request.
type RateRequest struct {
	Rating             *int     `json:"rating,omitempty"`
	Save               *bool    `json:"save,omitempty"`
	SavedTitle         string   `json:"saved_title,omitempty"`
	HelpfulCitationIDs []string `json:"helpful_citation_ids,omitempty"`
}

// RateCmd creates the rate command.
func RateCmd() *cobra.Command {
	var (
		rating      int
		save        bool
		unsave      bool
		title       string
		citationIDs []string
	)

	cmd := &cobra.Command{
		Use:   "rate <query_id>",
		Short: "Rate an answer or save it for later",
		Long:  "Records feedback on a completed query: a 1-5 rating, helpful citations, or saving the answer with a title.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := RateRequest{
				SavedTitle:         title,
				HelpfulCitationIDs: citationIDs,
			}
			if cmd.Flags().Changed("rating") {
				req.Rating = &rating
			}
			if save && unsave {
				return fmt.Errorf("--save and --unsave are mutually exclusive")
			}
			if save || cmd.Flags().Changed("title") {
				t := true
				req.Save = &t
			}
			if unsave {
				f := false
				req.Save = &f
			}
			return runRate(args[0], req)
		},
	}

	cmd.Flags().IntVarP(&rating, "rating", "r", 0, "Rating from 1 to 5")
	cmd.Flags().BoolVar(&save, "save", false, "Save this answer")
	cmd.Flags().BoolVar(&unsave, "unsave", false, "Remove this answer from saved")
	cmd.Flags().StringVar(&title, "title", "", "Title for the saved answer (implies --save)")
	cmd.Flags().StringSliceVar(&citationIDs, "citation", nil, "Citation IDs that were helpful")

	return cmd
}

func runRate(queryID string, req RateRequest) error {
	api, err := NewAPIClient()
	if err != nil {
		return err
	}

	if _, err := api.Post("/queries/"+queryID+"/feedback", req); err != nil {
		return fmt.Errorf("failed to record feedback: %w", err)
	}

	fmt.Println("Feedback recorded")
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
