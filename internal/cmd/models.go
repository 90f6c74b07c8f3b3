package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// modelsCmd represents the models command
var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List models the gateway can route chat to",
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

		res, err := client.ModelsList(ctx)
		if err != nil {
			return fmt.Errorf("failed to list models: %w", err)
		}
		if len(res.Models) == 0 {
			fmt.Println("No models")
			return nil
		}
		for _, m := range res.Models {
			line := m.ID
			if m.Name != "" {
				line += "  " + m.Name
			}
			if m.Provider != "" {
				line += "  [" + m.Provider + "]"
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}
