// Package logger records tunnel traffic to CSV files with rotation.
package logger

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/shaunagostinho/c4xtender/internal/envelope"
	"github.com/shaunagostinho/c4xtender/internal/logging"
)

// Logger appends one row per envelope crossing the channel.
type Logger struct {
	mu      sync.Mutex
	dir     string
	role    string
	maxRows int
	enabled bool
	now     func() time.Time
	log     zerolog.Logger

	file   *os.File
	writer *csv.Writer
	path   string
	rows   int
}

// Config holds recorder configuration.
type Config struct {
	Enabled bool   `yaml:"enabled" json:"enabled" toml:"enabled"`
	Path    string `yaml:"path" json:"path" toml:"path"`
	MaxRows int    `yaml:"max_rows" json:"maxRows" toml:"max_rows"`
}

const defaultMaxRows = 100_000

var csvHeader = []string{"timestamp", "role", "direction", "type", "id", "payload"}

// New creates a Logger for role ("controller" or "peer").
func New(cfg Config, role string) *Logger {
	if cfg.Path == "" {
		cfg.Path = "/var/log/c4xtender"
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = defaultMaxRows
	}
	return &Logger{
		dir:     cfg.Path,
		role:    role,
		maxRows: cfg.MaxRows,
		enabled: cfg.Enabled,
		now:     time.Now,
		log:     logging.For("traffic"),
	}
}

// SetEnabled toggles recording at runtime.
func (l *Logger) SetEnabled(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = on
	if !on && l.file != nil {
		l.closeFile()
	}
}

func (l *Logger) IsEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// Path returns the file currently written, if any.
func (l *Logger) Path() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.path
}

// Record writes env. Its signature matches the controller and peer taps.
func (l *Logger) Record(direction string, env envelope.Envelope) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}
	now := l.now()
	if l.writer == nil || l.rows >= l.maxRows {
		if err := l.rotateFile(now); err != nil {
			l.log.Error().Err(err).Msg("rotate failed")
			return
		}
	}

	payload, err := env.MarshalJSON()
	if err != nil {
		l.log.Warn().Err(err).Str("t", env.Type).Msg("marshal failed")
		return
	}
	row := []string{now.Format(time.RFC3339Nano), l.role, direction, env.Type, env.ID, string(payload)}
	if err := l.writer.Write(row); err != nil {
		l.log.Error().Err(err).Msg("write failed")
		return
	}
	l.writer.Flush()
	l.rows++
}

// Close flushes and closes the current file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeFile()
}

func (l *Logger) rotateFile(now time.Time) error {
	l.closeFile()

	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", l.dir, err)
	}
	name := fmt.Sprintf("c4x_%s_%s.csv", l.role, now.Format("2006-01-02_150405.000"))
	path := filepath.Join(l.dir, name)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	l.file = f
	l.path = path
	l.writer = csv.NewWriter(f)
	l.rows = 0
	if err := l.writer.Write(csvHeader); err != nil {
		return err
	}
	l.writer.Flush()
	l.log.Info().Str("path", path).Msg("opened traffic log")
	return nil
}

func (l *Logger) closeFile() {
	if l.writer != nil {
		l.writer.Flush()
		l.writer = nil
	}
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}
