package ports

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/atomic"
)

// RelayConfig maps a relay number to a GPIO line. An empty Path makes a
// demo relay that only tracks its state.
type RelayConfig struct {
	ID   uint   `yaml:"id" json:"id" toml:"id"`
	Path string `yaml:"path" json:"path" toml:"path"`
}

// GPIORelay drives a relay through a sysfs GPIO value file.
type GPIORelay struct {
	id    uint
	value string
	state atomic.Bool
}

// NewGPIORelay creates a relay writing to path. path may name the GPIO
// directory or its value file.
func NewGPIORelay(id uint, path string) *GPIORelay {
	if filepath.Base(path) != "value" {
		path = filepath.Join(path, "value")
	}
	return &GPIORelay{id: id, value: path}
}

func (r *GPIORelay) ID() uint { return r.id }

func (r *GPIORelay) SetState(on bool) error {
	v := "0"
	if on {
		v = "1"
	}
	if err := os.WriteFile(r.value, []byte(v), 0o644); err != nil {
		return fmt.Errorf("relay %d: %w", r.id, err)
	}
	r.state.Store(on)
	return nil
}

func (r *GPIORelay) State() bool { return r.state.Load() }

// DemoRelay is an in-memory relay.
type DemoRelay struct {
	id    uint
	state atomic.Bool
}

func NewDemoRelay(id uint) *DemoRelay { return &DemoRelay{id: id} }

func (r *DemoRelay) ID() uint { return r.id }

func (r *DemoRelay) SetState(on bool) error {
	r.state.Store(on)
	return nil
}

func (r *DemoRelay) State() bool { return r.state.Load() }

// NewRelay builds a GPIO relay, or a demo relay when cfg.Path is empty.
func NewRelay(cfg RelayConfig) Relay {
	if cfg.Path == "" {
		return NewDemoRelay(cfg.ID)
	}
	return NewGPIORelay(cfg.ID, cfg.Path)
}
