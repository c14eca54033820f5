// Package ports holds the physical port collaborators driven by the
// controller: serial ports, IR serial outputs and relays, plus demo
// implementations for running without hardware.
package ports

import (
	"fmt"
	"strings"

	"github.com/shaunagostinho/c4xtender/internal/portspec"
)

// SerialPort is a bidirectional serial line.
type SerialPort interface {
	ID() uint
	// Configure opens or reconfigures the line.
	Configure(d portspec.Descriptor) error
	// Send writes data to the line. Escaped quotes (\") are sent as plain quotes.
	Send(data string) error
	// SetReceiveHandler registers the callback for data read from the line.
	SetReceiveHandler(fn func(data string))
	Close() error
}

// IRPort is a transmit-only IR serial output.
type IRPort interface {
	ID() uint
	Configure(d portspec.Descriptor) error
	Send(data string) error
	Close() error
}

// Relay is a switchable contact.
type Relay interface {
	ID() uint
	SetState(on bool) error
	State() bool
}

// SerialBaudRates are the rates a serial port accepts.
var SerialBaudRates = []int{
	300, 600, 1200, 1800, 2400, 3600, 4800, 7200, 9600,
	14400, 19200, 28800, 38400, 57600, 115200,
}

// IRBaudRates are the rates an IR serial output accepts.
var IRBaudRates = []int{9600, 19200, 38400, 57600, 115200}

// ValidateSerialBaud reports an error for rates outside SerialBaudRates.
func ValidateSerialBaud(baud int) error {
	for _, b := range SerialBaudRates {
		if b == baud {
			return nil
		}
	}
	return fmt.Errorf("unsupported baud rate %d", baud)
}

// IRBaud maps baud onto IRBaudRates, falling back to 9600.
func IRBaud(baud int) int {
	for _, b := range IRBaudRates {
		if b == baud {
			return b
		}
	}
	return 9600
}

// unescapeQuotes undoes the quote escaping peers apply to payload data.
func unescapeQuotes(data string) string {
	return strings.ReplaceAll(data, `\"`, `"`)
}
