package tpm2

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-tpm-tools/simulator"
	"github.com/google/go-tpm/tpm2/transport"
	"github.com/google/go-tpm/tpm2/transport/linuxudstpm"
	"github.com/google/go-tpm/tpm2/transport/tcp"
)

// Platform commands from the TCG reference simulator TCP protocol.
// See TPMCmd/Simulator/include/TpmTcpProtocol.h in the reference
// implementation.
const (
	platformPowerOn uint32 = 1
	platformNVOn    uint32 = 11
)

const platformDialTimeout = 10 * time.Second

// PowerUp raises the simulated platform power and NV-available lines. It
// runs before any TPM session is opened and only applies to simulated
// targets: the embedded simulator powers on when created, and hardware
// devices have no platform port, so both are a no-op.
func PowerUp(config *Config) error {
	if !config.UseSimulator || config.SimulatorType != SimulatorSWTPM {
		return nil
	}

	// Platform (ctrl) port is the command port + 1 by convention.
	addr := net.JoinHostPort(config.SimulatorHost, strconv.Itoa(config.SimulatorPort+1))
	conn, err := net.DialTimeout("tcp", addr, platformDialTimeout)
	if err != nil {
		return fmt.Errorf("tpm2: failed to connect to platform service at %s: %w", addr, err)
	}
	defer conn.Close()

	for _, cmd := range []uint32{platformPowerOn, platformNVOn} {
		if err := binary.Write(conn, binary.BigEndian, cmd); err != nil {
			return fmt.Errorf("tpm2: failed to send platform command %d: %w", cmd, err)
		}
		var result uint32
		if err := binary.Read(conn, binary.BigEndian, &result); err != nil {
			return fmt.Errorf("tpm2: failed to read platform command %d result: %w", cmd, err)
		}
		if result != 0 {
			return fmt.Errorf("tpm2: platform command %d returned %d", cmd, result)
		}
	}
	return nil
}

// OpenDevice opens a connection to the TPM device or simulator based on
// configuration.
func OpenDevice(config *Config) (transport.TPMCloser, error) {
	if config.UseSimulator {
		switch config.SimulatorType {
		case "", SimulatorEmbedded:
			// Embedded go-tpm-tools simulator (stateless, for testing).
			// It comes up powered on and started.
			sim, err := simulator.GetWithFixedSeedInsecure(1234567890)
			if err != nil {
				return nil, fmt.Errorf("tpm2: failed to open embedded simulator: %w", err)
			}
			return &simulatorCloser{
				sim:       sim,
				transport: transport.FromReadWriter(sim),
			}, nil

		case SimulatorSWTPM:
			cmdAddr := fmt.Sprintf("%s:%d", config.SimulatorHost, config.SimulatorPort)
			platAddr := fmt.Sprintf("%s:%d", config.SimulatorHost, config.SimulatorPort+1)
			tcpTPM, err := tcp.Open(tcp.Config{
				CommandAddress:  cmdAddr,
				PlatformAddress: platAddr,
			})
			if err != nil {
				return nil, fmt.Errorf("tpm2: failed to connect to simulator at %s (platform: %s): %w", cmdAddr, platAddr, err)
			}
			return tcpTPM, nil

		default:
			return nil, fmt.Errorf("tpm2: invalid simulator type %q", config.SimulatorType)
		}
	}

	// Unix domain sockets need the UDS transport, character devices use
	// the regular file transport.
	if strings.HasSuffix(config.DevicePath, ".sock") {
		tpmConn, err := linuxudstpm.Open(config.DevicePath)
		if err != nil {
			return nil, fmt.Errorf("tpm2: failed to open TPM socket: %w", err)
		}
		return tpmConn, nil
	}
	tpmConn, err := transport.OpenTPM(config.DevicePath)
	if err != nil {
		return nil, fmt.Errorf("tpm2: failed to open TPM device: %w", err)
	}
	return tpmConn, nil
}

// simulatorCloser wraps the embedded simulator to provide proper Close()
// behavior.
type simulatorCloser struct {
	sim       *simulator.Simulator
	transport transport.TPM
}

func (sc *simulatorCloser) Send(input []byte) ([]byte, error) {
	return sc.transport.Send(input)
}

func (sc *simulatorCloser) Close() error {
	sc.sim.Close()
	return nil
}
