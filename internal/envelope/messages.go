package envelope

import (
	"fmt"
	"strconv"
	"strings"
)

// Message types, peer to controller.
const (
	TypeInit            = "init"
	TypeConfigureSerial = "ccom"
	TypeConfigureIR     = "cirp"
	TypeSendSerial      = "csnd"
	TypeSendIR          = "isnd"
	TypeListSerial      = "cget"
	TypePrintLine       = "cprn"
	TypeSetRelay        = "srly"
	TypeReboot          = "boot"
)

// Message types, controller to peer.
const (
	TypeInitNotify      = "inot"
	TypeSerialConfigOK  = "crok"
	TypeSerialConfigErr = "crer"
	TypeIRConfigOK      = "irok"
	TypeIRConfigErr     = "irer"
	TypeSerialPortList  = "cger"
	TypeSerialReceived  = "crcv"
	TypeIRReceived      = "ircv"
)

// Payload keys.
const (
	KeyPort     = "p"
	KeyBaud     = "b"
	KeyData     = "d"
	KeyRelay    = "i"
	KeyState    = "s"
	KeyError    = "e"
	KeyVersion  = "v"
	KeySerial   = "s"
	KeyRAMTotal = "r"
	KeyRAMFree  = "f"
)

// DefaultDescriptor is assumed when a configure request has no "d".
const DefaultDescriptor = "8N1"

// DefaultBaudRate is assumed when a configure request has no "b".
const DefaultBaudRate = 9600

// PortKind distinguishes the two physical port families.
type PortKind int

const (
	KindSerial PortKind = iota
	KindIR
)

// String returns the port name prefix used on the wire.
func (k PortKind) String() string {
	if k == KindIR {
		return "IR"
	}
	return "COM"
}

// Message is a decoded envelope with its payload in typed form.
type Message interface {
	CorrelationID() string
	Type() string
	Envelope() Envelope
}

// InitRequest asks the controller to identify itself.
type InitRequest struct{ ID string }

// ConfigurePort opens or reconfigures a serial or IR port.
type ConfigurePort struct {
	ID         string
	Kind       PortKind
	Port       string
	BaudRate   int
	Descriptor string
}

// SendData writes data to a port.
type SendData struct {
	ID   string
	Kind PortKind
	Port string
	Data string
}

// ListSerialPorts asks for the available serial ports.
type ListSerialPorts struct{ ID string }

// PrintLine prints text on the controller console.
type PrintLine struct {
	ID   string
	Text string
}

// SetRelay switches a relay.
type SetRelay struct {
	ID    string
	Relay string
	State bool
}

// Reboot asks the controller to restart.
type Reboot struct{ ID string }

// InitNotify identifies the controller.
type InitNotify struct {
	ID           string
	Version      string
	SerialNumber string
	RAMTotal     uint64
	RAMFree      uint64
}

// ConfigResult answers a ConfigurePort. Err is empty on success.
type ConfigResult struct {
	ID   string
	Kind PortKind
	Err  string
}

// SerialPortList answers a ListSerialPorts.
type SerialPortList struct {
	ID    string
	Ports []string
}

// DataReceived carries data read from a port. ID is normally empty.
type DataReceived struct {
	ID   string
	Kind PortKind
	Port string
	Data string
}

func (m InitRequest) CorrelationID() string     { return m.ID }
func (m ConfigurePort) CorrelationID() string   { return m.ID }
func (m SendData) CorrelationID() string        { return m.ID }
func (m ListSerialPorts) CorrelationID() string { return m.ID }
func (m PrintLine) CorrelationID() string       { return m.ID }
func (m SetRelay) CorrelationID() string        { return m.ID }
func (m Reboot) CorrelationID() string          { return m.ID }
func (m InitNotify) CorrelationID() string      { return m.ID }
func (m ConfigResult) CorrelationID() string    { return m.ID }
func (m SerialPortList) CorrelationID() string  { return m.ID }
func (m DataReceived) CorrelationID() string    { return m.ID }

func (InitRequest) Type() string     { return TypeInit }
func (ListSerialPorts) Type() string { return TypeListSerial }
func (PrintLine) Type() string       { return TypePrintLine }
func (SetRelay) Type() string        { return TypeSetRelay }
func (Reboot) Type() string          { return TypeReboot }
func (InitNotify) Type() string      { return TypeInitNotify }
func (SerialPortList) Type() string  { return TypeSerialPortList }

func (m ConfigurePort) Type() string {
	if m.Kind == KindIR {
		return TypeConfigureIR
	}
	return TypeConfigureSerial
}

func (m SendData) Type() string {
	if m.Kind == KindIR {
		return TypeSendIR
	}
	return TypeSendSerial
}

func (m ConfigResult) Type() string {
	switch {
	case m.Kind == KindIR && m.Err == "":
		return TypeIRConfigOK
	case m.Kind == KindIR:
		return TypeIRConfigErr
	case m.Err == "":
		return TypeSerialConfigOK
	default:
		return TypeSerialConfigErr
	}
}

func (m DataReceived) Type() string {
	if m.Kind == KindIR {
		return TypeIRReceived
	}
	return TypeSerialReceived
}

func (m InitRequest) Envelope() Envelope     { return New(m.ID, m.Type()) }
func (m ListSerialPorts) Envelope() Envelope { return New(m.ID, m.Type()) }
func (m Reboot) Envelope() Envelope          { return New(m.ID, m.Type()) }

func (m ConfigurePort) Envelope() Envelope {
	return New(m.ID, m.Type()).
		With(KeyPort, portValue(m.Port)).
		With(KeyBaud, m.BaudRate).
		With(KeyData, m.Descriptor)
}

func (m SendData) Envelope() Envelope {
	return New(m.ID, m.Type()).With(KeyPort, portValue(m.Port)).With(KeyData, m.Data)
}

func (m PrintLine) Envelope() Envelope {
	return New(m.ID, m.Type()).With(KeyData, m.Text)
}

func (m SetRelay) Envelope() Envelope {
	return New(m.ID, m.Type()).With(KeyRelay, portValue(m.Relay)).With(KeyState, m.State)
}

func (m InitNotify) Envelope() Envelope {
	return New(m.ID, m.Type()).
		With(KeyVersion, m.Version).
		With(KeySerial, m.SerialNumber).
		With(KeyRAMTotal, m.RAMTotal).
		With(KeyRAMFree, m.RAMFree)
}

func (m ConfigResult) Envelope() Envelope {
	env := New(m.ID, m.Type())
	switch {
	case m.Err != "":
		return env.With(KeyError, m.Err)
	case m.Kind == KindIR:
		return env.With(KeyState, "ok")
	default:
		return env
	}
}

func (m SerialPortList) Envelope() Envelope {
	ports := m.Ports
	if ports == nil {
		ports = []string{}
	}
	return New(m.ID, m.Type()).With(KeyPort, ports)
}

func (m DataReceived) Envelope() Envelope {
	return New(m.ID, m.Type()).With(KeyPort, portValue(m.Port)).With(KeyData, m.Data)
}

// Parse converts an envelope to its typed variant, applying the wire
// defaults. Unknown types return ErrUnknownType.
func Parse(env Envelope) (Message, error) {
	switch env.Type {
	case TypeInit:
		return InitRequest{ID: env.ID}, nil
	case TypeConfigureSerial, TypeConfigureIR:
		m := ConfigurePort{ID: env.ID, Kind: kindOf(env.Type == TypeConfigureIR)}
		m.Port, _ = env.String(KeyPort)
		m.BaudRate = DefaultBaudRate
		if b, ok := env.Int(KeyBaud); ok {
			m.BaudRate = b
		}
		m.Descriptor = DefaultDescriptor
		if d, ok := env.String(KeyData); ok {
			m.Descriptor = d
		}
		return m, nil
	case TypeSendSerial, TypeSendIR:
		m := SendData{ID: env.ID, Kind: kindOf(env.Type == TypeSendIR)}
		m.Port, _ = env.String(KeyPort)
		m.Data, _ = env.String(KeyData)
		return m, nil
	case TypeListSerial:
		return ListSerialPorts{ID: env.ID}, nil
	case TypePrintLine:
		m := PrintLine{ID: env.ID, Text: "No data to print"}
		if d, ok := env.String(KeyData); ok {
			m.Text = d
		}
		return m, nil
	case TypeSetRelay:
		m := SetRelay{ID: env.ID}
		if r, ok := env.String(KeyRelay); ok {
			m.Relay = r
		} else {
			m.Relay, _ = env.String(KeyPort)
		}
		state, ok := env.Bool(KeyState)
		if !ok {
			return nil, fmt.Errorf("%w: %s without boolean %s", ErrNotMessage, env.Type, KeyState)
		}
		m.State = state
		return m, nil
	case TypeReboot:
		return Reboot{ID: env.ID}, nil
	case TypeInitNotify:
		m := InitNotify{ID: env.ID}
		m.Version, _ = env.String(KeyVersion)
		m.SerialNumber, _ = env.String(KeySerial)
		if n, ok := env.Int(KeyRAMTotal); ok && n > 0 {
			m.RAMTotal = uint64(n)
		}
		if n, ok := env.Int(KeyRAMFree); ok && n > 0 {
			m.RAMFree = uint64(n)
		}
		return m, nil
	case TypeSerialConfigOK, TypeSerialConfigErr, TypeIRConfigOK, TypeIRConfigErr:
		m := ConfigResult{ID: env.ID, Kind: kindOf(env.Type == TypeIRConfigOK || env.Type == TypeIRConfigErr)}
		if env.Type == TypeSerialConfigErr || env.Type == TypeIRConfigErr {
			m.Err, _ = env.String(KeyError)
			if m.Err == "" {
				m.Err = "unknown error"
			}
		}
		return m, nil
	case TypeSerialPortList:
		ports, _ := env.Strings(KeyPort)
		return SerialPortList{ID: env.ID, Ports: ports}, nil
	case TypeSerialReceived, TypeIRReceived:
		m := DataReceived{ID: env.ID, Kind: kindOf(env.Type == TypeIRReceived)}
		m.Port, _ = env.String(KeyPort)
		m.Data, _ = env.String(KeyData)
		return m, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

// PortNumber resolves a port reference such as "COM2", "com2" or "2" to its
// number. prefix is matched case-insensitively.
func PortNumber(prefix, ref string) (uint, bool) {
	ref = strings.TrimSpace(ref)
	if len(ref) >= len(prefix) && strings.EqualFold(ref[:len(prefix)], prefix) {
		ref = ref[len(prefix):]
	}
	n, err := strconv.ParseUint(ref, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint(n), true
}

func kindOf(ir bool) PortKind {
	if ir {
		return KindIR
	}
	return KindSerial
}

// portValue sends purely numeric references as JSON numbers.
func portValue(ref string) any {
	if n, err := strconv.ParseUint(ref, 10, 32); err == nil {
		return n
	}
	return ref
}
