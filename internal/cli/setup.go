package cli

import (
	"fmt"

	"github.com/jeremyhahn/go-authenticator/pkg/authenticator"
	"github.com/spf13/cobra"
)

// setupCmd provisions the TPM
var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Provision the TPM with a storage root key",
	Long: `Runs the provisioning sequence against the configured TPM target:
power-up (simulators only), session open, TPM2_Startup, and creation of
the storage root key at the persistent handle unless one already exists.
Safe to run repeatedly.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := tpmConfig()
		if err != nil {
			return err
		}

		auth, err := authenticator.New(&authenticator.Params{Config: cfg})
		if err != nil {
			return err
		}
		defer auth.Close()

		if status := auth.Setup(); status != authenticator.StatusSuccess {
			return fmt.Errorf("setup failed (%s): %s", status, auth.LastError())
		}

		fmt.Printf("TPM provisioned, SRK at %#x\n", cfg.SRKHandle)
		return nil
	},
}
