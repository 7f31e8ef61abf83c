package cli

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jeremyhahn/go-authenticator/pkg/authenticator"
	"github.com/jeremyhahn/go-authenticator/pkg/buffer"
	"github.com/spf13/cobra"
)

const (
	credentialPrivFile = "credential.priv"
	credentialPubFile  = "credential.pub"
	credentialIDFile   = "credential.id"
)

var signData string

// credentialCmd groups the credential key operations
var credentialCmd = &cobra.Command{
	Use:   "credential",
	Short: "Credential key operations",
}

// credentialCreateCmd creates a credential key under the SRK
var credentialCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a credential key under the storage root key",
	Long: `Creates a NIST P-256 ECDSA credential key under the persistent SRK
and stores the wrapped key blobs in the data directory. The private key
material never leaves the TPM unwrapped.`,
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
		if err := auth.Open(); err != nil {
			return err
		}

		id, err := auth.CreateCredential()
		if err != nil {
			return fmt.Errorf("credential creation failed: %s", auth.LastError())
		}

		blobs := auth.KeyBlobs()
		defer blobs.Release()
		if err := writeBlob(cfg.DataDir, credentialPrivFile, blobs.One.Bytes()); err != nil {
			return err
		}
		if err := writeBlob(cfg.DataDir, credentialPubFile, blobs.Two.Bytes()); err != nil {
			return err
		}
		if err := writeBlob(cfg.DataDir, credentialIDFile, []byte(id)); err != nil {
			return err
		}

		point := auth.Point()
		defer point.Release()
		fmt.Printf("Credential ID: %s\n", id)
		fmt.Printf("Public point X: %s\n", hex.EncodeToString(point.One.Bytes()))
		fmt.Printf("Public point Y: %s\n", hex.EncodeToString(point.Two.Bytes()))
		return nil
	},
}

// credentialSignCmd signs data with the stored credential key
var credentialSignCmd = &cobra.Command{
	Use:   "sign",
	Short: "Sign data with the stored credential key",
	RunE: func(cmd *cobra.Command, args []string) error {
		if signData == "" {
			return fmt.Errorf("--data is required")
		}
		cfg, err := tpmConfig()
		if err != nil {
			return err
		}

		priv, err := os.ReadFile(filepath.Join(cfg.DataDir, credentialPrivFile))
		if err != nil {
			return fmt.Errorf("no stored credential key, run 'credential create' first: %w", err)
		}
		pub, err := os.ReadFile(filepath.Join(cfg.DataDir, credentialPubFile))
		if err != nil {
			return fmt.Errorf("no stored credential key, run 'credential create' first: %w", err)
		}

		auth, err := authenticator.New(&authenticator.Params{Config: cfg})
		if err != nil {
			return err
		}
		defer auth.Close()

		if status := auth.Setup(); status != authenticator.StatusSuccess {
			return fmt.Errorf("setup failed (%s): %s", status, auth.LastError())
		}
		if err := auth.Open(); err != nil {
			return err
		}

		blobs := buffer.NewPair(priv, pub)
		defer blobs.Release()
		auth.SetKeyBlobs(&blobs)

		if err := auth.SignData([]byte(signData)); err != nil {
			return fmt.Errorf("signing failed: %s", auth.LastError())
		}

		sig := auth.Signature()
		defer sig.Release()
		fmt.Printf("Signature R: %s\n", hex.EncodeToString(sig.One.Bytes()))
		fmt.Printf("Signature S: %s\n", hex.EncodeToString(sig.Two.Bytes()))
		return nil
	},
}

func writeBlob(dir, name string, data []byte) error {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func init() {
	credentialSignCmd.Flags().StringVar(&signData, "data", "", "data to sign")
	credentialCmd.AddCommand(credentialCreateCmd)
	credentialCmd.AddCommand(credentialSignCmd)
}
