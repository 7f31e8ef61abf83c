package tpm2

import (
	"errors"
	"fmt"
)

// Simulator types supported by Config.
const (
	// SimulatorEmbedded is the in-process go-tpm-tools simulator. It powers
	// on when opened, so the power-up step is a no-op for this target.
	SimulatorEmbedded = "embedded"

	// SimulatorSWTPM is a TCP reference simulator (swtpm or the TCG
	// reference implementation). Command port is SimulatorPort, platform
	// port is SimulatorPort+1.
	SimulatorSWTPM = "swtpm"
)

// Config contains the parameters for the TPM provisioning sequence.
// It is immutable once setup begins.
type Config struct {
	// UseSimulator selects a simulated target instead of a hardware TPM.
	// The target kind fixes which power-up step runs: power-up executes
	// only for simulated targets.
	UseSimulator bool `json:"use_simulator" yaml:"use_simulator"`

	// SimulatorType specifies which simulator to use when UseSimulator is
	// true. Valid values: "embedded", "swtpm". Default: "embedded".
	SimulatorType string `json:"simulator_type,omitempty" yaml:"simulator_type,omitempty"`

	// SimulatorHost is the hostname of the TCP simulator.
	// Required when SimulatorType is "swtpm".
	SimulatorHost string `json:"simulator_host,omitempty" yaml:"simulator_host,omitempty"`

	// SimulatorPort is the command port of the TCP simulator. The platform
	// port is assumed to be SimulatorPort+1, matching swtpm's ctrl port
	// convention.
	SimulatorPort int `json:"simulator_port,omitempty" yaml:"simulator_port,omitempty"`

	// DevicePath is the path to the TPM character device (/dev/tpmrm0,
	// /dev/tpm0) or a Unix domain socket (*.sock). Required when
	// UseSimulator is false.
	DevicePath string `json:"device_path" yaml:"device_path"`

	// DataDir is the storage directory for durable artifacts. The setup
	// log is created at <DataDir>/<LogFile>.
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// LogFile is the setup log file name, created under DataDir.
	LogFile string `json:"log_file" yaml:"log_file"`

	// SRKHandle is the well-known persistent handle for the Storage Root
	// Key. Must be in the persistent range 0x81000000-0x81FFFFFF.
	SRKHandle uint32 `json:"srk_handle" yaml:"srk_handle"`

	// Debug lowers the log severity threshold to include debug output.
	Debug bool `json:"debug" yaml:"debug"`
}

// DefaultConfig returns a Config with defaults for hardware TPM usage:
// /dev/tpmrm0 via the kernel resource manager and the standard SRK
// persistent handle.
func DefaultConfig() *Config {
	return &Config{
		UseSimulator: false,
		DevicePath:   "/dev/tpmrm0",
		DataDir:      "/var/lib/authenticator",
		LogFile:      "setup.log",
		SRKHandle:    0x81000001,
	}
}

// Target returns "simulated" or "device" for metrics and log labels.
func (c *Config) Target() string {
	if c.UseSimulator {
		return "simulated"
	}
	return "device"
}

// Validate checks the configuration for completeness and correctness.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("tpm2: DataDir is required")
	}
	if c.LogFile == "" {
		return errors.New("tpm2: LogFile is required")
	}
	if c.SRKHandle == 0 {
		return errors.New("tpm2: SRKHandle is required")
	}
	if !IsPersistentHandle(c.SRKHandle) {
		return fmt.Errorf("tpm2: SRKHandle must be in persistent range (0x81000000-0x81FFFFFF), got %#x", c.SRKHandle)
	}

	if c.UseSimulator {
		if c.SimulatorType == "" {
			c.SimulatorType = SimulatorEmbedded
		}
		switch c.SimulatorType {
		case SimulatorEmbedded:
		case SimulatorSWTPM:
			if c.SimulatorHost == "" {
				return errors.New("tpm2: SimulatorHost is required when SimulatorType is 'swtpm'")
			}
			if c.SimulatorPort == 0 {
				return errors.New("tpm2: SimulatorPort is required when SimulatorType is 'swtpm'")
			}
		default:
			return fmt.Errorf("tpm2: invalid SimulatorType %q, must be 'embedded' or 'swtpm'", c.SimulatorType)
		}
	} else {
		if c.DevicePath == "" {
			return errors.New("tpm2: DevicePath is required when UseSimulator is false")
		}
	}

	return nil
}

// IsPersistentHandle returns true if the handle is in the TPM persistent
// handle range 0x81000000-0x81FFFFFF.
func IsPersistentHandle(handle uint32) bool {
	return handle >= 0x81000000 && handle <= 0x81FFFFFF
}
