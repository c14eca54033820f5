package ports

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	tarm "github.com/tarm/serial"

	"github.com/shaunagostinho/c4xtender/internal/logging"
	"github.com/shaunagostinho/c4xtender/internal/portspec"
)

// IRDeviceConfig maps an IR port number to the serial device driving the
// emitter.
type IRDeviceConfig struct {
	ID   uint   `yaml:"id" json:"id" toml:"id"`
	Path string `yaml:"path" json:"path" toml:"path"`
}

// IRDevice is a transmit-only IRPort. Every Configure reopens the device
// with the new settings.
type IRDevice struct {
	id   uint
	path string
	log  zerolog.Logger

	mu   sync.Mutex
	port *tarm.Port
}

// NewIRDevice creates an unopened IRDevice.
func NewIRDevice(cfg IRDeviceConfig) *IRDevice {
	return &IRDevice{
		id:   cfg.ID,
		path: cfg.Path,
		log:  logging.For("ir").With().Uint("port", cfg.ID).Str("path", cfg.Path).Logger(),
	}
}

func (d *IRDevice) ID() uint { return d.id }

// IRConfig converts a descriptor into a tarm/serial config for path. The
// baud rate is mapped onto IRBaudRates.
func IRConfig(path string, desc portspec.Descriptor) *tarm.Config {
	cfg := &tarm.Config{
		Name:        path,
		Baud:        IRBaud(desc.BaudRate),
		ReadTimeout: time.Second,
		Size:        byte(desc.DataBits),
		Parity:      tarm.ParityNone,
		StopBits:    tarm.Stop1,
	}
	if cfg.Size != 7 {
		cfg.Size = 8
	}
	switch desc.Parity {
	case portspec.ParityEven:
		cfg.Parity = tarm.ParityEven
	case portspec.ParityOdd:
		cfg.Parity = tarm.ParityOdd
	}
	if desc.StopBits == 2 {
		cfg.StopBits = tarm.Stop2
	}
	return cfg
}

func (d *IRDevice) Configure(desc portspec.Descriptor) error {
	cfg := IRConfig(d.path, desc)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.port != nil {
		d.port.Close()
		d.port = nil
	}
	port, err := tarm.OpenPort(cfg)
	if err != nil {
		return fmt.Errorf("ir %d: open %s: %w", d.id, d.path, err)
	}
	d.port = port
	d.log.Info().Int("baud", cfg.Baud).Str("mode", desc.String()).Msg("opened")
	return nil
}

func (d *IRDevice) Send(data string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.port == nil {
		return fmt.Errorf("ir %d: not configured", d.id)
	}
	_, err := d.port.Write([]byte(unescapeQuotes(data)))
	return err
}

func (d *IRDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.port == nil {
		return nil
	}
	err := d.port.Close()
	d.port = nil
	return err
}
