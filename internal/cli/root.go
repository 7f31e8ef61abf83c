package cli

import (
	"github.com/jeremyhahn/go-authenticator/internal/config"
	"github.com/jeremyhahn/go-authenticator/pkg/tpm2"
	"github.com/spf13/cobra"
)

var (
	configFile    string
	dataDir       string
	logFile       string
	devicePath    string
	simulatorType string
	simulatorHost string
	simulatorPort int
	srkHandle     string
	debug         bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "authenticator",
	Short: "TPM-backed authenticator provisioning and credential tool",
	Long: `authenticator provisions a TPM (hardware or simulated) with a
Storage Root Key at a well-known persistent handle and performs
credential key operations against it.

Targets:
  - device:   a TPM character device such as /dev/tpmrm0, or a .sock path
  - embedded: the in-process TPM simulator
  - swtpm:    a TCP reference simulator (command port + platform port)`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"config file (overrides the other flags)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "/var/lib/authenticator",
		"directory for the setup log and credential blobs")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "setup.log",
		"setup log file name, created under the data directory")
	rootCmd.PersistentFlags().StringVar(&devicePath, "device", "/dev/tpmrm0",
		"TPM device path")
	rootCmd.PersistentFlags().StringVar(&simulatorType, "simulator", "",
		"use a simulator instead of a device (embedded, swtpm)")
	rootCmd.PersistentFlags().StringVar(&simulatorHost, "simulator-host", "localhost",
		"swtpm simulator host")
	rootCmd.PersistentFlags().IntVar(&simulatorPort, "simulator-port", 2321,
		"swtpm simulator command port (platform port is +1)")
	rootCmd.PersistentFlags().StringVar(&srkHandle, "srk-handle", "0x81000001",
		"persistent handle for the storage root key")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false,
		"debug output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(credentialCmd)
}

// tpmConfig resolves the effective TPM configuration from the config file
// or, absent one, from the flags.
func tpmConfig() (*tpm2.Config, error) {
	if configFile != "" {
		cfg, err := config.Load(configFile)
		if err != nil {
			return nil, err
		}
		return cfg.TPMConfig()
	}

	level := "info"
	if debug {
		level = "debug"
	}
	cfg := &config.Config{
		Storage: config.StorageConfig{
			DataDir: dataDir,
			LogFile: logFile,
		},
		Logging: config.LoggingConfig{
			Level: level,
		},
		TPM: config.TPMConfig{
			UseSimulator:  simulatorType != "",
			SimulatorType: simulatorType,
			SimulatorHost: simulatorHost,
			SimulatorPort: simulatorPort,
			DevicePath:    devicePath,
			SRKHandle:     srkHandle,
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg.TPMConfig()
}
