package ports

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shaunagostinho/c4xtender/internal/envelope"
)

// Registry indexes the configured ports by kind and number.
type Registry struct {
	mu     sync.RWMutex
	serial []SerialPort
	ir     []IRPort
	relays []Relay
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// AddSerial registers p. Port numbers must be unique per kind.
func (r *Registry) AddSerial(p SerialPort) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.serial {
		if existing.ID() == p.ID() {
			return fmt.Errorf("ports: serial port %d already registered", p.ID())
		}
	}
	r.serial = append(r.serial, p)
	return nil
}

// AddIR registers p.
func (r *Registry) AddIR(p IRPort) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.ir {
		if existing.ID() == p.ID() {
			return fmt.Errorf("ports: IR port %d already registered", p.ID())
		}
	}
	r.ir = append(r.ir, p)
	return nil
}

// AddRelay registers rl.
func (r *Registry) AddRelay(rl Relay) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.relays {
		if existing.ID() == rl.ID() {
			return fmt.Errorf("ports: relay %d already registered", rl.ID())
		}
	}
	r.relays = append(r.relays, rl)
	return nil
}

// Serial finds a serial port by "COM<n>" or "<n>", case-insensitive.
func (r *Registry) Serial(ref string) (SerialPort, bool) {
	n, ok := envelope.PortNumber("COM", ref)
	if !ok {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.serial {
		if p.ID() == n {
			return p, true
		}
	}
	return nil, false
}

// IR finds an IR port by "IR<n>" or "<n>".
func (r *Registry) IR(ref string) (IRPort, bool) {
	n, ok := envelope.PortNumber("IR", ref)
	if !ok {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.ir {
		if p.ID() == n {
			return p, true
		}
	}
	return nil, false
}

// Relay finds a relay by "RLY<n>" or "<n>".
func (r *Registry) Relay(ref string) (Relay, bool) {
	n, ok := envelope.PortNumber("RLY", ref)
	if !ok {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rl := range r.relays {
		if rl.ID() == n {
			return rl, true
		}
	}
	return nil, false
}

// SerialPorts returns the serial ports in registration order.
func (r *Registry) SerialPorts() []SerialPort {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]SerialPort(nil), r.serial...)
}

// SerialNames returns "COM<n>" for every serial port in registration order.
func (r *Registry) SerialNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.serial))
	for _, p := range r.serial {
		out = append(out, fmt.Sprintf("COM%d", p.ID()))
	}
	return out
}

// Summary describes the registry for status output.
type Summary struct {
	Serial []string        `json:"serial"`
	IR     []string        `json:"ir"`
	Relays map[string]bool `json:"relays"`
}

// Summary returns the port names and relay states.
func (r *Registry) Summary() Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := Summary{
		Serial: make([]string, 0, len(r.serial)),
		IR:     make([]string, 0, len(r.ir)),
		Relays: make(map[string]bool, len(r.relays)),
	}
	for _, p := range r.serial {
		s.Serial = append(s.Serial, fmt.Sprintf("COM%d", p.ID()))
	}
	for _, p := range r.ir {
		s.IR = append(s.IR, fmt.Sprintf("IR%d", p.ID()))
	}
	for _, rl := range r.relays {
		s.Relays[fmt.Sprintf("RLY%d", rl.ID())] = rl.State()
	}
	return s
}

// Close closes every serial and IR port.
func (r *Registry) Close() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var errs []error
	for _, p := range r.serial {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, p := range r.ir {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
