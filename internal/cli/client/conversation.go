package client

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// Conversation represents a conversation from the API.
type Conversation struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	QueryCount   int    `json:"query_count"`
	IsArchived   bool   `json:"is_archived"`
	LastActivity string `json:"last_activity"`
	CreatedAt    string `json:"created_at"`
}

// ConversationCmd creates the conversation parent command.
func ConversationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversation",
		Short:   "Manage conversations",
		Long:    "Create, list, and archive multi-turn conversations.",
		Aliases: []string{"conv"},
	}

	cmd.AddCommand(ConversationNewCmd())
	cmd.AddCommand(ConversationListCmd())
	cmd.AddCommand(ConversationArchiveCmd())

	return cmd
}

// ConversationNewCmd creates the conversation new command.
func ConversationNewCmd() *cobra.Command {
	var title string

	cmd := &cobra.Command{
		Use:   "new",
		Short: "Start a new conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runConversationNew(title, outputJSON)
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "Conversation title")

	return cmd
}

func runConversationNew(title string, outputJSON bool) error {
	api, err := NewAPIClient()
	if err != nil {
		return err
	}

	resp, err := api.Post("/conversations", map[string]string{"title": title})
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}

	var conv Conversation
	if err := json.Unmarshal(resp.Data, &conv); err != nil {
		return fmt.Errorf("failed to parse conversation: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(conv, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Printf("Created conversation %s\n", conv.ID)
	fmt.Printf("Use 'querymesh ask -c %s <question>' to add queries to it.\n", conv.ID)
	return nil
}

// ConversationListCmd creates the conversation list command.
func ConversationListCmd() *cobra.Command {
	var includeArchived bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runConversationList(includeArchived, outputJSON)
		},
	}

	cmd.Flags().BoolVar(&includeArchived, "archived", false, "Include archived conversations")

	return cmd
}

func runConversationList(includeArchived, outputJSON bool) error {
	api, err := NewAPIClient()
	if err != nil {
		return err
	}

	path := "/conversations"
	if includeArchived {
		path += "?include_archived=true"
	}

	resp, err := api.Get(path)
	if err != nil {
		return fmt.Errorf("failed to list conversations: %w", err)
	}

	var conversations []*Conversation
	if err := json.Unmarshal(resp.Data, &conversations); err != nil {
		return fmt.Errorf("failed to parse conversations: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(conversations, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	if len(conversations) == 0 {
		fmt.Println("No conversations found.")
		return nil
	}

	for _, conv := range conversations {
		status := ""
		if conv.IsArchived {
			status = " (archived)"
		}
		title := conv.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Printf("%s  %s%s  %d queries, last activity %s\n", conv.ID, title, status, conv.QueryCount, conv.LastActivity)
	}

	return nil
}

// ConversationArchiveCmd creates the conversation archive command.
func ConversationArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive <conversation_id>",
		Short: "Archive a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConversationArchive(args[0])
		},
	}

	return cmd
}

func runConversationArchive(conversationID string) error {
	api, err := NewAPIClient()
	if err != nil {
		return err
	}

	if _, err := api.Post("/conversations/"+conversationID+"/archive", nil); err != nil {
		return fmt.Errorf("failed to archive conversation: %w", err)
	}

	fmt.Println("Conversation archived")
	return nil
}
