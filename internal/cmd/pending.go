package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jobdam/agentdesk/internal/client"
)

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List waiting hand-off requests",
	Long: `List the hand-off requests currently waiting for an agent,
as reported by the platform's admin API. This is a one-shot query;
use the console to receive live updates.`,
	RunE: runPending,
}

func init() {
	rootCmd.AddCommand(pendingCmd)
}

func runPending(cmd *cobra.Command, args []string) error {
	token, err := loadToken()
	if err != nil {
		return fmt.Errorf("failed to read credentials: %w", err)
	}

	api := client.New(cfg.APIBaseURL, client.WithToken(token))
	pending, err := api.PendingRequests(context.Background())
	if err != nil {
		return fmt.Errorf("failed to fetch pending requests: %w", err)
	}

	if len(pending) == 0 {
		fmt.Println("📭 No waiting hand-off requests.")
		return nil
	}
	fmt.Printf("📬 %d waiting hand-off request(s):\n", len(pending))
	for _, p := range pending {
		fmt.Printf("   %s  %s\n", p.SessionID, p.Nickname)
	}
	return nil
}
