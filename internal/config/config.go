package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/jeremyhahn/go-authenticator/pkg/tpm2"
	"gopkg.in/yaml.v3"
)

// Config represents the complete authenticator configuration
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
	TPM     TPMConfig     `yaml:"tpm"`
}

// StorageConfig contains the durable artifact locations
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
	LogFile string `yaml:"log_file"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// TPMConfig selects the TPM target and the SRK slot
type TPMConfig struct {
	UseSimulator  bool   `yaml:"use_simulator"`
	SimulatorType string `yaml:"simulator_type"`
	SimulatorHost string `yaml:"simulator_host"`
	SimulatorPort int    `yaml:"simulator_port"`
	DevicePath    string `yaml:"device_path"`
	SRKHandle     string `yaml:"srk_handle"`
}

// New returns the default configuration: hardware TPM via the kernel
// resource manager.
func New() *Config {
	defaults := tpm2.DefaultConfig()
	return &Config{
		Storage: StorageConfig{
			DataDir: defaults.DataDir,
			LogFile: defaults.LogFile,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		TPM: TPMConfig{
			DevicePath: defaults.DevicePath,
			SRKHandle:  fmt.Sprintf("%#x", defaults.SRKHandle),
		},
	}
}

// Load reads configuration from a YAML file and applies environment
// variable overrides
func Load(path string) (*Config, error) {
	cfg := New()

	// #nosec G304 - Config file path is provided by admin/user
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the
// configuration
func applyEnvOverrides(cfg *Config) {
	if dataDir := os.Getenv("AUTHENTICATOR_DATA_DIR"); dataDir != "" {
		cfg.Storage.DataDir = dataDir
	}
	if logFile := os.Getenv("AUTHENTICATOR_LOG_FILE"); logFile != "" {
		cfg.Storage.LogFile = logFile
	}
	if level := os.Getenv("AUTHENTICATOR_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if devicePath := os.Getenv("AUTHENTICATOR_TPM_DEVICE"); devicePath != "" {
		cfg.TPM.DevicePath = devicePath
	}
	if simType := os.Getenv("AUTHENTICATOR_SIMULATOR"); simType != "" {
		cfg.TPM.UseSimulator = true
		cfg.TPM.SimulatorType = simType
	}
	if simHost := os.Getenv("AUTHENTICATOR_SIMULATOR_HOST"); simHost != "" {
		cfg.TPM.SimulatorHost = simHost
	}
	if simPort := os.Getenv("AUTHENTICATOR_SIMULATOR_PORT"); simPort != "" {
		port, err := strconv.Atoi(simPort)
		if err != nil || port < 1 || port > 65535 {
			log.Printf("Warning: invalid AUTHENTICATOR_SIMULATOR_PORT value %q, using default %d",
				simPort, cfg.TPM.SimulatorPort)
		} else {
			cfg.TPM.SimulatorPort = port
		}
	}
	if srkHandle := os.Getenv("AUTHENTICATOR_SRK_HANDLE"); srkHandle != "" {
		cfg.TPM.SRKHandle = srkHandle
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	// The TPM layer validates everything else.
	tpmConfig, err := c.TPMConfig()
	if err != nil {
		return err
	}
	return tpmConfig.Validate()
}

// Debug reports whether debug logging is enabled.
func (c *Config) Debug() bool {
	return strings.EqualFold(c.Logging.Level, "debug")
}

// TPMConfig converts the file configuration into the TPM layer's config.
func (c *Config) TPMConfig() (*tpm2.Config, error) {
	handle, err := parseHandle(c.TPM.SRKHandle)
	if err != nil {
		return nil, err
	}
	return &tpm2.Config{
		UseSimulator:  c.TPM.UseSimulator,
		SimulatorType: c.TPM.SimulatorType,
		SimulatorHost: c.TPM.SimulatorHost,
		SimulatorPort: c.TPM.SimulatorPort,
		DevicePath:    c.TPM.DevicePath,
		DataDir:       c.Storage.DataDir,
		LogFile:       c.Storage.LogFile,
		SRKHandle:     handle,
		Debug:         c.Debug(),
	}, nil
}

func parseHandle(s string) (uint32, error) {
	if s == "" {
		return 0, fmt.Errorf("srk_handle must be specified")
	}
	value, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid srk_handle %q: %w", s, err)
	}
	return uint32(value), nil
}
