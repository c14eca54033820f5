package ports

import (
	"fmt"
	"sync"

	"github.com/shaunagostinho/c4xtender/internal/portspec"
)

// DemoSerial is an in-memory SerialPort. With Echo set every Send is fed
// back to the receive handler, which makes a loopback device for testing
// without hardware.
type DemoSerial struct {
	id   uint
	Echo bool

	mu         sync.Mutex
	configured bool
	desc       portspec.Descriptor
	sent       []string
	handler    func(string)
}

func NewDemoSerial(id uint, echo bool) *DemoSerial {
	return &DemoSerial{id: id, Echo: echo}
}

func (d *DemoSerial) ID() uint { return d.id }

func (d *DemoSerial) Configure(desc portspec.Descriptor) error {
	if err := ValidateSerialBaud(desc.BaudRate); err != nil {
		return err
	}
	if err := desc.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	d.configured = true
	d.desc = desc
	d.mu.Unlock()
	return nil
}

// Descriptor returns the last applied descriptor and whether Configure ran.
func (d *DemoSerial) Descriptor() (portspec.Descriptor, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.desc, d.configured
}

func (d *DemoSerial) Send(data string) error {
	data = unescapeQuotes(data)
	d.mu.Lock()
	if !d.configured {
		d.mu.Unlock()
		return fmt.Errorf("demo serial %d: not configured", d.id)
	}
	d.sent = append(d.sent, data)
	fn := d.handler
	echo := d.Echo
	d.mu.Unlock()
	if echo && fn != nil {
		fn(data)
	}
	return nil
}

// Sent returns everything written so far.
func (d *DemoSerial) Sent() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.sent...)
}

// Inject delivers data to the receive handler as if read from the line.
func (d *DemoSerial) Inject(data string) {
	d.mu.Lock()
	fn := d.handler
	d.mu.Unlock()
	if fn != nil {
		fn(data)
	}
}

func (d *DemoSerial) SetReceiveHandler(fn func(string)) {
	d.mu.Lock()
	d.handler = fn
	d.mu.Unlock()
}

func (d *DemoSerial) Close() error { return nil }

// DemoIR is an in-memory IRPort that records what it sends.
type DemoIR struct {
	id uint

	mu   sync.Mutex
	desc portspec.Descriptor
	sent []string
}

func NewDemoIR(id uint) *DemoIR { return &DemoIR{id: id} }

func (d *DemoIR) ID() uint { return d.id }

func (d *DemoIR) Configure(desc portspec.Descriptor) error {
	desc.BaudRate = IRBaud(desc.BaudRate)
	d.mu.Lock()
	d.desc = desc
	d.mu.Unlock()
	return nil
}

// Descriptor returns the last applied descriptor.
func (d *DemoIR) Descriptor() portspec.Descriptor {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.desc
}

func (d *DemoIR) Send(data string) error {
	d.mu.Lock()
	d.sent = append(d.sent, unescapeQuotes(data))
	d.mu.Unlock()
	return nil
}

func (d *DemoIR) Sent() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.sent...)
}

func (d *DemoIR) Close() error { return nil }
