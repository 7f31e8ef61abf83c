package authenticator

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-tpm/tpm2/transport"
	"github.com/jeremyhahn/go-authenticator/pkg/tpm2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sharedDevice hands out the same underlying transport across several
// Setup/Open calls without letting them destroy it. The test owns the real
// Close.
type sharedDevice struct {
	tpm transport.TPMCloser
}

func (s *sharedDevice) Send(cmd []byte) ([]byte, error) { return s.tpm.Send(cmd) }
func (s *sharedDevice) Close() error                    { return nil }

func simulatorConfig(t *testing.T) *tpm2.Config {
	t.Helper()
	return &tpm2.Config{
		UseSimulator:  true,
		SimulatorType: tpm2.SimulatorEmbedded,
		DataDir:       t.TempDir(),
		LogFile:       "run.log",
		SRKHandle:     0x81000001,
	}
}

// openSharedSimulator opens one embedded simulator for the whole test and
// returns an OpenDevice hook that shares it.
func openSharedSimulator(t *testing.T, config *tpm2.Config) func(*tpm2.Config) (transport.TPMCloser, error) {
	t.Helper()
	sim, err := tpm2.OpenDevice(config)
	require.NoError(t, err)
	t.Cleanup(func() { sim.Close() })
	return func(*tpm2.Config) (transport.TPMCloser, error) {
		return &sharedDevice{tpm: sim}, nil
	}
}

func readLog(t *testing.T, config *tpm2.Config) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(config.DataDir, config.LogFile))
	require.NoError(t, err)
	return string(data)
}

func TestSetupProvisionsFreshTPM(t *testing.T) {
	config := simulatorConfig(t)
	auth, err := New(&Params{
		Config:     config,
		OpenDevice: openSharedSimulator(t, config),
	})
	require.NoError(t, err)
	defer auth.Close()

	status := auth.Setup()
	assert.Equal(t, StatusSuccess, status)
	assert.Equal(t, NoError, auth.LastError())

	log := readLog(t, config)
	assert.Contains(t, log, "TPM setup started")
	assert.Contains(t, log, "Primary key created")
	assert.Contains(t, log, "Primary key made persistent")
	assert.Contains(t, log, "TPM setup complete")
}

func TestSetupIdempotent(t *testing.T) {
	config := simulatorConfig(t)
	openDevice := openSharedSimulator(t, config)
	auth, err := New(&Params{Config: config, OpenDevice: openDevice})
	require.NoError(t, err)
	defer auth.Close()

	require.Equal(t, StatusSuccess, auth.Setup())

	// Second run against the provisioned TPM: success, no second
	// creation.
	status := auth.Setup()
	assert.Equal(t, StatusSuccess, status)

	log := readLog(t, config)
	assert.Contains(t, log, "Primary key already installed")

	// Exactly one creation across both runs.
	assert.Equal(t, 1, strings.Count(log, "Primary key created"))
}

func TestSetupPowerUpFailure(t *testing.T) {
	config := simulatorConfig(t)
	sessionOpened := false
	auth, err := New(&Params{
		Config:  config,
		PowerUp: func(*tpm2.Config) error { return errors.New("platform port unreachable") },
		OpenDevice: func(*tpm2.Config) (transport.TPMCloser, error) {
			sessionOpened = true
			return nil, errors.New("unexpected session open")
		},
	})
	require.NoError(t, err)
	defer auth.Close()

	status := auth.Setup()
	assert.Equal(t, StatusProvisioningFailure, status)
	assert.False(t, sessionOpened, "no session open may be attempted after power-up failure")

	msg := auth.LastError()
	assert.Contains(t, msg, "Simulator powerup failed")
	assert.Equal(t, NoError, auth.LastError(), "second query must return the sentinel")
}

func TestSetupPowerUpGating(t *testing.T) {
	// Physical-device targets never run the power-up step.
	config := tpm2.DefaultConfig()
	config.DataDir = t.TempDir()
	simConfig := simulatorConfig(t)

	powered := false
	auth, err := New(&Params{
		Config:     config,
		PowerUp:    func(*tpm2.Config) error { powered = true; return nil },
		OpenDevice: openSharedSimulator(t, simConfig),
	})
	require.NoError(t, err)
	defer auth.Close()

	require.Equal(t, StatusSuccess, auth.Setup())
	assert.False(t, powered)
}

func TestSetupSessionOpenFailure(t *testing.T) {
	config := simulatorConfig(t)
	auth, err := New(&Params{
		Config:  config,
		PowerUp: func(*tpm2.Config) error { return nil },
		OpenDevice: func(*tpm2.Config) (transport.TPMCloser, error) {
			return nil, errors.New("no such device")
		},
	})
	require.NoError(t, err)
	defer auth.Close()

	status := auth.Setup()
	assert.Equal(t, StatusProvisioningFailure, status)
	assert.Contains(t, auth.LastError(), "failed to create a session")
}

// replayTransport feeds canned responses and records every command code.
type replayTransport struct {
	mu        sync.Mutex
	responses [][]byte
	idx       int
	codes     []uint32
	closed    bool
}

func rcResponse(rc uint32) []byte {
	rsp := make([]byte, 10)
	binary.BigEndian.PutUint16(rsp[0:2], 0x8001)
	binary.BigEndian.PutUint32(rsp[2:6], 10)
	binary.BigEndian.PutUint32(rsp[6:10], rc)
	return rsp
}

func (r *replayTransport) Send(cmd []byte) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(cmd) >= 10 {
		r.codes = append(r.codes, binary.BigEndian.Uint32(cmd[6:10]))
	}
	if r.idx >= len(r.responses) {
		return nil, errors.New("replay: no more responses")
	}
	rsp := r.responses[r.idx]
	r.idx++
	return rsp, nil
}

func (r *replayTransport) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func TestSetupStartupFailureIssuesShutdown(t *testing.T) {
	replay := &replayTransport{responses: [][]byte{
		rcResponse(0x101), // TPM_RC_FAILURE for Startup
		rcResponse(0),     // Shutdown succeeds
	}}

	config := simulatorConfig(t)
	auth, err := New(&Params{
		Config:  config,
		PowerUp: func(*tpm2.Config) error { return nil },
		OpenDevice: func(*tpm2.Config) (transport.TPMCloser, error) {
			return replay, nil
		},
	})
	require.NoError(t, err)
	defer auth.Close()

	status := auth.Setup()
	assert.Equal(t, StatusProvisioningFailure, status)
	assert.Contains(t, auth.LastError(), "TPM startup failed")

	// Shutdown must follow the failed startup, and the session must be
	// closed even on the failure path.
	assert.Equal(t, []uint32{0x0144, 0x0145}, replay.codes)
	assert.True(t, replay.closed)

	log := readLog(t, config)
	assert.Contains(t, log, "TPM setup complete")
}

func TestSetupSessionClosedOnProvisioningFailure(t *testing.T) {
	// Startup OK, then ReadPublic fails hard: not a known absent-handle
	// code, so provisioning stops and the deferred close must still run.
	replay := &replayTransport{responses: [][]byte{
		rcResponse(0),     // Startup
		rcResponse(0x101), // ReadPublic failure
	}}

	config := simulatorConfig(t)
	auth, err := New(&Params{
		Config:  config,
		PowerUp: func(*tpm2.Config) error { return nil },
		OpenDevice: func(*tpm2.Config) (transport.TPMCloser, error) {
			return replay, nil
		},
	})
	require.NoError(t, err)
	defer auth.Close()

	status := auth.Setup()
	assert.Equal(t, StatusRuntimeFailure, status)
	assert.True(t, replay.closed)
	assert.NotEqual(t, NoError, auth.LastError())
}

func TestSetupLogOpenFailure(t *testing.T) {
	// Use a regular file where the data directory should be.
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0600))

	config := simulatorConfig(t)
	config.DataDir = filepath.Join(blocker, "nested")

	auth, err := New(&Params{Config: config})
	require.NoError(t, err)
	defer auth.Close()

	status := auth.Setup()
	assert.Equal(t, StatusRuntimeFailure, status)
	assert.NotEqual(t, NoError, auth.LastError())
}

func TestSetupRecoversPanic(t *testing.T) {
	config := simulatorConfig(t)
	auth, err := New(&Params{
		Config:  config,
		PowerUp: func(*tpm2.Config) error { panic("wedged platform") },
	})
	require.NoError(t, err)
	defer auth.Close()

	status := auth.Setup()
	assert.Equal(t, StatusUnclassified, status)
	assert.Contains(t, auth.LastError(), "wedged platform")
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	_, err = New(&Params{Config: &tpm2.Config{}})
	assert.Error(t, err)
}
