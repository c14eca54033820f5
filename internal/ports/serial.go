package ports

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.bug.st/serial"

	"github.com/shaunagostinho/c4xtender/internal/logging"
	"github.com/shaunagostinho/c4xtender/internal/portspec"
)

const serialReadTimeout = 200 * time.Millisecond

// SerialDeviceConfig maps a port number to a host serial device.
type SerialDeviceConfig struct {
	ID   uint   `yaml:"id" json:"id" toml:"id"`
	Path string `yaml:"path" json:"path" toml:"path"`
}

// SerialDevice is a SerialPort backed by a host serial device. The device
// is opened on the first Configure and re-moded on later ones.
type SerialDevice struct {
	id   uint
	path string
	log  zerolog.Logger

	mu      sync.Mutex
	port    serial.Port
	handler func(string)
	stop    chan struct{}
	done    chan struct{}
}

// NewSerialDevice creates an unopened SerialDevice.
func NewSerialDevice(cfg SerialDeviceConfig) *SerialDevice {
	return &SerialDevice{
		id:   cfg.ID,
		path: cfg.Path,
		log:  logging.For("serial").With().Uint("port", cfg.ID).Str("path", cfg.Path).Logger(),
	}
}

func (s *SerialDevice) ID() uint { return s.id }

// Mode converts a descriptor into a go.bug.st/serial mode.
func Mode(d portspec.Descriptor) (*serial.Mode, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	mode := &serial.Mode{
		BaudRate: d.BaudRate,
		DataBits: d.DataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	switch d.Parity {
	case portspec.ParityEven:
		mode.Parity = serial.EvenParity
	case portspec.ParityOdd:
		mode.Parity = serial.OddParity
	}
	if d.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	return mode, nil
}

// Configure opens the device or applies a new mode to the open device.
func (s *SerialDevice) Configure(d portspec.Descriptor) error {
	if err := ValidateSerialBaud(d.BaudRate); err != nil {
		return err
	}
	mode, err := Mode(d)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port != nil {
		if err := s.port.SetMode(mode); err != nil {
			return fmt.Errorf("serial %d: set mode: %w", s.id, err)
		}
		s.log.Info().Str("mode", d.String()).Int("baud", d.BaudRate).Msg("reconfigured")
		return nil
	}

	port, err := serial.Open(s.path, mode)
	if err != nil {
		return fmt.Errorf("serial %d: open %s: %w", s.id, s.path, err)
	}
	if err := port.SetReadTimeout(serialReadTimeout); err != nil {
		port.Close()
		return fmt.Errorf("serial %d: set timeout: %w", s.id, err)
	}
	s.port = port
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.readLoop(port, s.stop, s.done)
	s.log.Info().Str("mode", d.String()).Int("baud", d.BaudRate).Msg("opened")
	return nil
}

// Send writes data after unescaping quotes.
func (s *SerialDevice) Send(data string) error {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return fmt.Errorf("serial %d: not configured", s.id)
	}
	_, err := port.Write([]byte(unescapeQuotes(data)))
	return err
}

func (s *SerialDevice) SetReceiveHandler(fn func(string)) {
	s.mu.Lock()
	s.handler = fn
	s.mu.Unlock()
}

// Close stops the read loop and closes the device.
func (s *SerialDevice) Close() error {
	s.mu.Lock()
	port, stop, done := s.port, s.stop, s.done
	s.port = nil
	s.mu.Unlock()
	if port == nil {
		return nil
	}
	close(stop)
	err := port.Close()
	<-done
	return err
}

func (s *SerialDevice) readLoop(port serial.Port, stop, done chan struct{}) {
	defer close(done)
	buf := make([]byte, 256)
	for {
		select {
		case <-stop:
			return
		default:
		}
		n, err := port.Read(buf)
		if err != nil {
			select {
			case <-stop:
				return
			default:
			}
			if errors.Is(err, io.EOF) {
				continue
			}
			s.log.Warn().Err(err).Msg("read failed")
			time.Sleep(serialReadTimeout)
			continue
		}
		if n == 0 {
			continue
		}
		s.mu.Lock()
		fn := s.handler
		s.mu.Unlock()
		if fn != nil {
			fn(string(buf[:n]))
		}
	}
}

// Available lists the serial devices present on the host.
func Available() ([]string, error) {
	return serial.GetPortsList()
}
