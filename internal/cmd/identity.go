package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/clawline/clawline/internal/identity"
	"github.com/clawline/clawline/internal/secrets"
)

// identityCmd groups device identity subcommands.
var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Inspect or reset the device identity",
}

var identityShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the device identity presented to the gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		idp, err := identity.NewDefaultProvider()
		if err != nil {
			return err
		}
		id, err := idp.LoadOrCreate()
		if err != nil {
			return fmt.Errorf("failed to load device identity: %w", err)
		}

		keyStore := "file"
		if secrets.IsSupported() {
			keyStore = "keychain"
		}

		fmt.Printf("Device ID:  %s\n", id.DeviceID)
		fmt.Printf("Public key: %s\n", identity.PublicKeyEncoded(id))
		fmt.Printf("Created:    %s\n", time.UnixMilli(id.CreatedAt).Format(time.RFC3339))
		fmt.Printf("Key store:  %s\n", keyStore)
		return nil
	},
}

var identityResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Discard the device identity and generate a fresh keypair",
	Long: `Discard the stored device identity. The next connection generates a
new keypair, which means the gateway will treat this installation as a new,
unpaired device.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		idp, err := identity.NewDefaultProvider()
		if err != nil {
			return err
		}
		if err := idp.Reset(); err != nil {
			return fmt.Errorf("failed to reset device identity: %w", err)
		}

		id, err := idp.LoadOrCreate()
		if err != nil {
			return fmt.Errorf("failed to generate new device identity: %w", err)
		}
		fmt.Printf("New device ID: %s\n", id.DeviceID)
		return nil
	},
}

func init() {
	identityCmd.AddCommand(identityShowCmd)
	identityCmd.AddCommand(identityResetCmd)
	rootCmd.AddCommand(identityCmd)
}
