package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// sessionsCmd represents the sessions command
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions known to the gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := connectClient(ctx, client); err != nil {
			return err
		}
		defer client.Disconnect()

		res, err := client.SessionsList(ctx)
		if err != nil {
			return fmt.Errorf("failed to list sessions: %w", err)
		}
		if len(res.Sessions) == 0 {
			fmt.Println("No sessions")
			return nil
		}
		for _, s := range res.Sessions {
			line := s.SessionKey
			if s.Title != "" {
				line += "  " + s.Title
			}
			if s.UpdatedAt > 0 {
				line += "  (" + time.UnixMilli(s.UpdatedAt).Format(time.RFC3339) + ")"
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
}
