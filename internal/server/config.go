package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/shaunagostinho/c4xtender/internal/controller"
	"github.com/shaunagostinho/c4xtender/internal/logger"
	"github.com/shaunagostinho/c4xtender/internal/logging"
	"github.com/shaunagostinho/c4xtender/internal/ports"
)

// DefaultConfigPath is used by Save when no path was loaded.
const DefaultConfigPath = "/etc/c4xtender/config.yaml"

// Config holds all daemon configuration.
type Config struct {
	mu sync.RWMutex

	Codec   CodecConfig   `yaml:"codec" json:"codec" toml:"codec"`
	Ports   ports.Config  `yaml:"ports" json:"ports" toml:"ports"`
	System  SystemConfig  `yaml:"system" json:"system" toml:"system"`
	Logging LoggingConfig `yaml:"logging" json:"logging" toml:"logging"`
	Server  ServerConfig  `yaml:"server" json:"server" toml:"server"`

	path string
}

// CodecConfig describes the serial channel to the codec.
type CodecConfig struct {
	PortPath         string  `yaml:"port_path" json:"portPath" toml:"port_path"`
	BaudRate         int     `yaml:"baud_rate" json:"baudRate" toml:"baud_rate"`
	PeripheralID     string  `yaml:"peripheral_id" json:"peripheralId" toml:"peripheral_id"`
	HeartbeatSec     int     `yaml:"heartbeat_sec" json:"heartbeatSec" toml:"heartbeat_sec"`
	HeartbeatTimeout int     `yaml:"heartbeat_timeout" json:"heartbeatTimeout" toml:"heartbeat_timeout"`
	MaxLineLength    int     `yaml:"max_line_length" json:"maxLineLength" toml:"max_line_length"`
	WriteRate        float64 `yaml:"write_rate" json:"writeRate" toml:"write_rate"` // frames per second, 0 = unpaced
	WriteBurst       int     `yaml:"write_burst" json:"writeBurst" toml:"write_burst"`
}

type SystemConfig struct {
	SerialNumber  string `yaml:"serial_number" json:"serialNumber" toml:"serial_number"`
	RebootCommand string `yaml:"reboot_command" json:"rebootCommand" toml:"reboot_command"`
}

type LoggingConfig struct {
	Level   string        `yaml:"level" json:"level" toml:"level"`
	NoColor bool          `yaml:"no_color" json:"noColor" toml:"no_color"`
	JSON    bool          `yaml:"json" json:"json" toml:"json"`
	Traffic logger.Config `yaml:"traffic" json:"traffic" toml:"traffic"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr" toml:"listen_addr"` // empty disables the monitor
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Codec: CodecConfig{
			PortPath:         "/dev/ttyCodec",
			BaudRate:         controller.DefaultLinkBaud,
			PeripheralID:     controller.DefaultPeripheralID,
			HeartbeatSec:     30,
			HeartbeatTimeout: controller.DefaultHeartbeatTimeout,
		},
		Ports:  ports.DefaultConfig(),
		System: SystemConfig{SerialNumber: controller.DefaultPeripheralID},
		Logging: LoggingConfig{
			Level:   "info",
			Traffic: logger.Config{Path: "/var/log/c4xtender"},
		},
		Server: ServerConfig{ListenAddr: ":8080"},
	}
}

// LoadConfig reads config from a YAML file (TOML when the name ends in
// .toml), then applies .env and environment variable overrides. Falls back
// to defaults if the file is missing or invalid.
func LoadConfig(path string) *Config {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Info().Str("path", path).Msg("no config file, using defaults")
	} else if err := cfg.decode(data); err != nil {
		log.Error().Err(err).Str("path", path).Msg("config parse failed, using defaults")
		cfg = DefaultConfig()
		cfg.path = path
	} else {
		log.Info().Str("path", path).Msg("config loaded")
	}

	for _, ep := range []string{filepath.Join(filepath.Dir(path), ".env"), ".env"} {
		loadEnvFile(ep)
	}
	cfg.applyEnvOverrides()
	return cfg
}

func (c *Config) isTOML() bool {
	return strings.EqualFold(filepath.Ext(c.path), ".toml")
}

func (c *Config) decode(data []byte) error {
	if c.isTOML() {
		return toml.Unmarshal(data, c)
	}
	return yaml.Unmarshal(data, c)
}

// loadEnvFile reads KEY=VALUE lines into the environment without replacing
// variables already set.
func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	log.Debug().Str("path", path).Msg("loading .env")
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads the C4X_* environment variables.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("C4X_CODEC_PORT"); v != "" {
		c.Codec.PortPath = v
	}
	if v := os.Getenv("C4X_CODEC_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Codec.BaudRate = n
		}
	}
	if v := os.Getenv("C4X_HEARTBEAT_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Codec.HeartbeatSec = n
		}
	}
	if v := os.Getenv("C4X_SERIAL_NUMBER"); v != "" {
		c.System.SerialNumber = v
	}
	if v, ok := os.LookupEnv("C4X_LISTEN_ADDR"); ok {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv(logging.EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("C4X_TRAFFIC_LOG"); v != "" {
		c.Logging.Traffic.Enabled = v == "1" || v == "true" || v == "yes"
	}
	if v := os.Getenv("C4X_TRAFFIC_LOG_PATH"); v != "" {
		c.Logging.Traffic.Path = v
	}
}

// Path returns the file the config was loaded from.
func (c *Config) Path() string {
	return c.path
}

// Validate checks the values the daemon cannot run without.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Codec.PortPath == "" {
		return fmt.Errorf("config: codec.port_path is required")
	}
	if c.Codec.HeartbeatSec < 0 {
		return fmt.Errorf("config: codec.heartbeat_sec must not be negative")
	}
	return c.Ports.Validate()
}

// ControllerConfig derives the controller settings.
func (c *Config) ControllerConfig() controller.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return controller.Config{
		PeripheralID:      c.Codec.PeripheralID,
		SerialNumber:      c.System.SerialNumber,
		HeartbeatInterval: time.Duration(c.Codec.HeartbeatSec) * time.Second,
		HeartbeatTimeout:  c.Codec.HeartbeatTimeout,
		MaxLineLength:     c.Codec.MaxLineLength,
		WriteRate:         c.Codec.WriteRate,
		WriteBurst:        c.Codec.WriteBurst,
	}
}

// LogConfig derives the zerolog settings.
func (c *Config) LogConfig() logging.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return logging.Config{Level: c.Logging.Level, NoColor: c.Logging.NoColor, JSON: c.Logging.JSON}
}

// TrafficConfig returns the traffic recorder settings.
func (c *Config) TrafficConfig() logger.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Logging.Traffic
}

// Save writes the config back in the format it was loaded from.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	path := c.path
	if path == "" {
		path = DefaultConfigPath
	}
	var data []byte
	if c.isTOML() {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(c); err != nil {
			return err
		}
		data = buf.Bytes()
	} else {
		var err error
		if data, err = yaml.Marshal(c); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}

// UpdateFromJSON deep-merges a partial JSON document into the config.
// Fields absent from data keep their values.
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal current config: %w", err)
	}
	var base map[string]interface{}
	if err := json.Unmarshal(current, &base); err != nil {
		return fmt.Errorf("unmarshal current config: %w", err)
	}
	var patch map[string]interface{}
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}
	deepMerge(base, patch)

	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	return json.Unmarshal(merged, c)
}

// deepMerge merges src into dst, recursing into nested objects.
func deepMerge(dst, src map[string]interface{}) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}
