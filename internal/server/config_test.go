package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg := LoadConfig(filepath.Join(t.TempDir(), "none.yaml"))
	assert.Equal(t, "/dev/ttyCodec", cfg.Codec.PortPath)
	assert.Equal(t, 115200, cfg.Codec.BaudRate)
	assert.Len(t, cfg.Ports.Serial, 2)
	assert.NoError(t, cfg.Validate())
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
codec:
  port_path: /dev/ttyUSB0
  heartbeat_sec: 15
ports:
  serial:
    - id: 2
      path: /dev/ttyS2
  relays:
    - id: 1
      path: /sys/class/gpio/gpio17
system:
  serial_number: ABC
`), 0o644))

	cfg := LoadConfig(path)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Codec.PortPath)
	assert.Equal(t, 115200, cfg.Codec.BaudRate, "defaults kept")
	require.Len(t, cfg.Ports.Serial, 1)
	assert.Equal(t, "/dev/ttyS2", cfg.Ports.Serial[0].Path)
	assert.Equal(t, "ABC", cfg.System.SerialNumber)

	cc := cfg.ControllerConfig()
	assert.Equal(t, 15*time.Second, cc.HeartbeatInterval)
	assert.Equal(t, "ABC", cc.SerialNumber)
}

func TestLoadTOMLAndSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[codec]
port_path = "/dev/ttyAMA0"
write_rate = 5.0

[[ports.ir]]
id = 1
path = "/dev/ttyIR"

[logging]
level = "debug"
`), 0o644))

	cfg := LoadConfig(path)
	assert.Equal(t, "/dev/ttyAMA0", cfg.Codec.PortPath)
	assert.Equal(t, 5.0, cfg.Codec.WriteRate)
	require.Len(t, cfg.Ports.IR, 1)
	assert.Equal(t, "/dev/ttyIR", cfg.Ports.IR[0].Path)
	assert.Equal(t, "debug", cfg.LogConfig().Level)

	cfg.System.SerialNumber = "SAVED"
	require.NoError(t, cfg.Save())
	again := LoadConfig(path)
	assert.Equal(t, "SAVED", again.System.SerialNumber)
	assert.Equal(t, "/dev/ttyAMA0", again.Codec.PortPath)
}

func TestInvalidFileFallsBackToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("codec: [unclosed"), 0o644))
	cfg := LoadConfig(path)
	assert.Equal(t, "/dev/ttyCodec", cfg.Codec.PortPath)
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("C4X_CODEC_PORT", "/dev/ttyENV")
	t.Setenv("C4X_CODEC_BAUD", "57600")
	t.Setenv("C4X_HEARTBEAT_SEC", "5")
	t.Setenv("C4X_SERIAL_NUMBER", "ENV-SN")
	t.Setenv("C4X_LISTEN_ADDR", "")
	t.Setenv("C4X_TRAFFIC_LOG", "yes")
	t.Setenv("C4X_TRAFFIC_LOG_PATH", dir)

	cfg := LoadConfig(filepath.Join(dir, "missing.yaml"))
	assert.Equal(t, "/dev/ttyENV", cfg.Codec.PortPath)
	assert.Equal(t, 57600, cfg.Codec.BaudRate)
	assert.Equal(t, 5, cfg.Codec.HeartbeatSec)
	assert.Equal(t, "ENV-SN", cfg.System.SerialNumber)
	assert.Equal(t, "", cfg.Server.ListenAddr)
	assert.True(t, cfg.TrafficConfig().Enabled)
	assert.Equal(t, dir, cfg.TrafficConfig().Path)
}

func TestEnvFileDoesNotReplaceRealEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(`
# comment
C4X_SERIAL_NUMBER="FROM-FILE"
C4X_CODEC_PORT=/dev/ttyFILE
`), 0o644))
	t.Setenv("C4X_CODEC_PORT", "/dev/ttyREAL")
	t.Setenv("C4X_SERIAL_NUMBER", "")

	cfg := LoadConfig(filepath.Join(dir, "config.yaml"))
	assert.Equal(t, "/dev/ttyREAL", cfg.Codec.PortPath)
	assert.Equal(t, "FROM-FILE", cfg.System.SerialNumber)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Codec.PortPath = ""
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Codec.HeartbeatSec = -1
	assert.Error(t, cfg.Validate())
}

func TestDeepMerge(t *testing.T) {
	dst := map[string]interface{}{
		"codec": map[string]interface{}{"portPath": "/dev/a", "baudRate": 1.0},
		"keep":  "x",
	}
	deepMerge(dst, map[string]interface{}{
		"codec": map[string]interface{}{"baudRate": 2.0},
		"new":   true,
	})
	assert.Equal(t, map[string]interface{}{
		"codec": map[string]interface{}{"portPath": "/dev/a", "baudRate": 2.0},
		"keep":  "x",
		"new":   true,
	}, dst)
}
