package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/switchboard/pkg/cli"
	"mercator-hq/switchboard/pkg/conversation"
)

var conversationsFlags struct {
	format string
}

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "Inspect persisted conversation handles",
	Long: `Inspect and manage the conversation handles persisted by the relay.

These commands read the store configured under conversation.store. With the
in-memory store there is nothing persisted to inspect.`,
}

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List persisted conversation handles",
	Long: `List every persisted client to conversation binding.

Examples:
  switchboard conversations list
  switchboard conversations list --format json`,
	Args: cobra.NoArgs,
	RunE: listConversations,
}

var conversationsForgetCmd = &cobra.Command{
	Use:   "forget CLIENT_ID...",
	Short: "Forget the conversation of one or more clients",
	Long: `Remove persisted conversation handles. The next turn of each client
discovers or creates its conversation again.

A running relay keeps its in-process handle until it restarts; use
DELETE /v1/conversations/{user} against a running relay instead.`,
	Args: cobra.MinimumNArgs(1),
	RunE: forgetConversations,
}

func init() {
	rootCmd.AddCommand(conversationsCmd)
	conversationsCmd.AddCommand(conversationsListCmd, conversationsForgetCmd)

	conversationsListCmd.Flags().StringVarP(&conversationsFlags.format, "format", "f", "text", "output format: text, json, csv")
}

type conversationRecord struct {
	ClientID       string    `json:"client_id"`
	ConversationID string    `json:"conversation_id"`
	CreatedAt      time.Time `json:"created_at"`
	LastUsed       time.Time `json:"last_used"`
}

// commandContext returns the command's context, which is nil when a
// command runs outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func openStore() (conversation.Store, error) {
	cfg, err := loadConfig(cfgFile)
	if err != nil {
		return nil, err
	}
	store, err := conversation.NewStore(cfg.Conversation)
	if err != nil {
		return nil, fmt.Errorf("failed to open conversation store: %w", err)
	}
	return store, nil
}

func listConversations(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(conversationsFlags.format)
	if err != nil {
		return err
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.List(commandContext(cmd))
	if err != nil {
		return cli.NewCommandError("conversations list", err)
	}

	data := make([]conversationRecord, 0, len(records))
	table := cli.Table{Headers: []string{"CLIENT", "CONVERSATION", "CREATED", "LAST USED"}}
	for _, r := range records {
		data = append(data, conversationRecord{
			ClientID:       r.ClientID,
			ConversationID: r.ConversationID,
			CreatedAt:      r.CreatedAt,
			LastUsed:       r.LastUsed,
		})
		table.Append(r.ClientID, r.ConversationID,
			r.CreatedAt.UTC().Format(time.RFC3339), r.LastUsed.UTC().Format(time.RFC3339))
	}

	if format == cli.FormatText && len(data) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No conversations stored.")
		return nil
	}
	return cli.Write(cmd.OutOrStdout(), format, data, table)
}

func forgetConversations(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := commandContext(cmd)
	out := cmd.OutOrStdout()
	for _, clientID := range args {
		rec, err := store.Load(ctx, clientID)
		if err != nil {
			return cli.NewCommandError("conversations forget", err)
		}
		if rec == nil {
			fmt.Fprintf(out, "- %s: no conversation stored\n", clientID)
			continue
		}
		if err := store.Delete(ctx, clientID); err != nil {
			return cli.NewCommandError("conversations forget", err)
		}
		fmt.Fprintf(out, "✓ %s: forgot %s\n", clientID, rec.ConversationID)
	}
	return nil
}
