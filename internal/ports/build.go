package ports

import "fmt"

// Config lists the ports to register. Serial and IR entries with an empty
// Path become demo ports.
type Config struct {
	Serial []SerialDeviceConfig `yaml:"serial" json:"serial" toml:"serial"`
	IR     []IRDeviceConfig     `yaml:"ir" json:"ir" toml:"ir"`
	Relays []RelayConfig        `yaml:"relays" json:"relays" toml:"relays"`
}

// DefaultConfig is two demo serial ports, one demo IR port and one demo relay.
func DefaultConfig() Config {
	return Config{
		Serial: []SerialDeviceConfig{{ID: 2}, {ID: 3}},
		IR:     []IRDeviceConfig{{ID: 1}},
		Relays: []RelayConfig{{ID: 1}},
	}
}

// Build creates a registry from cfg. Nothing is opened until a port is
// configured.
func Build(cfg Config) (*Registry, error) {
	reg := NewRegistry()
	for _, sc := range cfg.Serial {
		var p SerialPort = NewSerialDevice(sc)
		if sc.Path == "" {
			p = NewDemoSerial(sc.ID, true)
		}
		if err := reg.AddSerial(p); err != nil {
			return nil, err
		}
	}
	for _, ic := range cfg.IR {
		var p IRPort = NewIRDevice(ic)
		if ic.Path == "" {
			p = NewDemoIR(ic.ID)
		}
		if err := reg.AddIR(p); err != nil {
			return nil, err
		}
	}
	for _, rc := range cfg.Relays {
		if err := reg.AddRelay(NewRelay(rc)); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Validate checks port numbers are positive.
func (c Config) Validate() error {
	for _, s := range c.Serial {
		if s.ID == 0 {
			return fmt.Errorf("ports: serial port id must be positive")
		}
	}
	for _, s := range c.IR {
		if s.ID == 0 {
			return fmt.Errorf("ports: IR port id must be positive")
		}
	}
	for _, r := range c.Relays {
		if r.ID == 0 {
			return fmt.Errorf("ports: relay id must be positive")
		}
	}
	return nil
}
