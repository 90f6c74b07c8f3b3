package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// healthCmd represents the health command
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check whether the configured gateway is reachable and healthy",
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

		if info := client.ServerInfo(); info != nil {
			fmt.Printf("Gateway: %s (version %s, conn %s)\n", cfg.Gateway.URL, info.Version, info.ConnID)
		}
		if !client.Health(ctx) {
			return fmt.Errorf("gateway is unhealthy")
		}
		fmt.Println("Gateway is healthy")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
