// Package portspec encodes and decodes the compact serial line descriptor
// exchanged on the wire, e.g. "8N1" for 8 data bits, no parity, 1 stop bit.
//
// Decoding never fails: a short string takes the defaults for its missing
// positions and an unrecognized character falls back to that position's
// default. The same rules apply to serial and IR serial ports; which baud
// rates a port accepts is up to the port driver.
package portspec

import (
	"fmt"
	"strings"
)

// Parity is the parity mode of a serial line.
type Parity byte

const (
	ParityNone Parity = 'N'
	ParityEven Parity = 'E'
	ParityOdd  Parity = 'O'
)

// String returns the single wire character for the parity.
func (p Parity) String() string {
	switch p {
	case ParityEven, ParityOdd:
		return string(rune(p))
	default:
		return "N"
	}
}

const (
	DefaultDataBits = 8
	DefaultParity   = ParityNone
	DefaultStopBits = 1

	// DefaultBaudRate is used when a configure request carries no baud rate.
	DefaultBaudRate = 9600
)

// Descriptor is a full serial line configuration. Only DataBits, Parity and
// StopBits travel in the 3-character form; BaudRate is carried separately.
type Descriptor struct {
	BaudRate int    `json:"baudRate"`
	DataBits int    `json:"dataBits"`
	Parity   Parity `json:"parity"`
	StopBits int    `json:"stopBits"`
}

// Default returns 8N1 at the default baud rate.
func Default() Descriptor {
	return Descriptor{
		BaudRate: DefaultBaudRate,
		DataBits: DefaultDataBits,
		Parity:   DefaultParity,
		StopBits: DefaultStopBits,
	}
}

// Parse decodes a descriptor string. BaudRate is left at zero.
func Parse(s string) Descriptor {
	d := Descriptor{
		DataBits: DefaultDataBits,
		Parity:   DefaultParity,
		StopBits: DefaultStopBits,
	}
	if len(s) >= 1 {
		switch s[0] {
		case '7':
			d.DataBits = 7
		case '8':
			d.DataBits = 8
		}
	}
	if len(s) >= 2 {
		switch Parity(strings.ToUpper(s[1:2])[0]) {
		case ParityEven:
			d.Parity = ParityEven
		case ParityOdd:
			d.Parity = ParityOdd
		}
	}
	if len(s) >= 3 {
		if s[2] == '2' {
			d.StopBits = 2
		}
	}
	return d
}

// ParseWithBaud decodes s and attaches baud, using DefaultBaudRate when baud
// is not positive.
func ParseWithBaud(baud int, s string) Descriptor {
	d := Parse(s)
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	d.BaudRate = baud
	return d
}

// String returns the 3-character wire form. Out-of-range values are rendered
// as their defaults so the result always decodes back to itself.
func (d Descriptor) String() string {
	dataBits := DefaultDataBits
	if d.DataBits == 7 {
		dataBits = 7
	}
	stopBits := DefaultStopBits
	if d.StopBits == 2 {
		stopBits = 2
	}
	return fmt.Sprintf("%d%s%d", dataBits, d.Parity, stopBits)
}

// Validate reports whether every field holds a value the wire form can carry.
func (d Descriptor) Validate() error {
	if d.BaudRate <= 0 {
		return fmt.Errorf("portspec: baud rate must be positive, got %d", d.BaudRate)
	}
	if d.DataBits != 7 && d.DataBits != 8 {
		return fmt.Errorf("portspec: data bits must be 7 or 8, got %d", d.DataBits)
	}
	switch d.Parity {
	case ParityNone, ParityEven, ParityOdd:
	default:
		return fmt.Errorf("portspec: unsupported parity %q", rune(d.Parity))
	}
	if d.StopBits != 1 && d.StopBits != 2 {
		return fmt.Errorf("portspec: stop bits must be 1 or 2, got %d", d.StopBits)
	}
	return nil
}

// New builds a validated descriptor from its parts. parity accepts the wire
// characters in either case.
func New(baud, dataBits int, parity string, stopBits int) (Descriptor, error) {
	p := Parity(0)
	if len(parity) == 1 {
		p = Parity(strings.ToUpper(parity)[0])
	}
	d := Descriptor{BaudRate: baud, DataBits: dataBits, Parity: p, StopBits: stopBits}
	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}
