package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "authenticator.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
storage:
  data_dir: /tmp/tpm
  log_file: run.log
logging:
  level: debug
tpm:
  use_simulator: true
  simulator_type: embedded
  srk_handle: "0x81000001"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/tpm", cfg.Storage.DataDir)
	assert.Equal(t, "run.log", cfg.Storage.LogFile)
	assert.True(t, cfg.Debug())

	tpmConfig, err := cfg.TPMConfig()
	require.NoError(t, err)
	assert.True(t, tpmConfig.UseSimulator)
	assert.Equal(t, "embedded", tpmConfig.SimulatorType)
	assert.Equal(t, uint32(0x81000001), tpmConfig.SRKHandle)
	assert.True(t, tpmConfig.Debug)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "storage: [not a map")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
storage:
  data_dir: /tmp/tpm
  log_file: run.log
tpm:
  device_path: /dev/tpmrm0
  srk_handle: "0x81000001"
`)

	t.Setenv("AUTHENTICATOR_DATA_DIR", "/var/lib/other")
	t.Setenv("AUTHENTICATOR_LOG_LEVEL", "debug")
	t.Setenv("AUTHENTICATOR_SIMULATOR", "swtpm")
	t.Setenv("AUTHENTICATOR_SIMULATOR_HOST", "localhost")
	t.Setenv("AUTHENTICATOR_SIMULATOR_PORT", "2321")
	t.Setenv("AUTHENTICATOR_SRK_HANDLE", "0x81000002")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/other", cfg.Storage.DataDir)
	assert.True(t, cfg.Debug())

	tpmConfig, err := cfg.TPMConfig()
	require.NoError(t, err)
	assert.True(t, tpmConfig.UseSimulator)
	assert.Equal(t, "swtpm", tpmConfig.SimulatorType)
	assert.Equal(t, "localhost", tpmConfig.SimulatorHost)
	assert.Equal(t, 2321, tpmConfig.SimulatorPort)
	assert.Equal(t, uint32(0x81000002), tpmConfig.SRKHandle)
}

func TestValidateRejectsBadLevel(t *testing.T) {
	cfg := New()
	cfg.Logging.Level = "loud"
	assert.Error(t, cfg.Validate())
}

func TestParseHandle(t *testing.T) {
	handle, err := parseHandle("0x81000001")
	require.NoError(t, err)
	assert.Equal(t, uint32(0x81000001), handle)

	handle, err = parseHandle("81000001")
	require.NoError(t, err)
	assert.Equal(t, uint32(0x81000001), handle)

	_, err = parseHandle("")
	assert.Error(t, err)

	_, err = parseHandle("zz")
	assert.Error(t, err)
}
