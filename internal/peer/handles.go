package peer

import (
	"strconv"
	"sync"

	"github.com/shaunagostinho/c4xtender/internal/correlation"
	"github.com/shaunagostinho/c4xtender/internal/envelope"
)

// ComPort is an open controller serial port.
type ComPort struct {
	c          *Client
	ID         uint
	BaudRate   int
	Descriptor string

	mu       sync.Mutex
	handlers []func(string)
}

// Send writes data to the port. No reply is expected.
func (p *ComPort) Send(data string) error {
	return p.c.send(envelope.SendData{
		ID:   correlation.NewID(),
		Kind: envelope.KindSerial,
		Port: strconv.FormatUint(uint64(p.ID), 10),
		Data: data,
	})
}

// OnData registers fn for data received on the port.
func (p *ComPort) OnData(fn func(data string)) {
	p.mu.Lock()
	p.handlers = append(p.handlers, fn)
	p.mu.Unlock()
}

func (p *ComPort) deliver(data string) {
	p.mu.Lock()
	hs := append([]func(string){}, p.handlers...)
	p.mu.Unlock()
	for _, fn := range hs {
		fn(data)
	}
}

// inherit keeps the data handlers of a handle replaced by reconfiguration.
func (p *ComPort) inherit(prev *ComPort) {
	if prev == p {
		return
	}
	prev.mu.Lock()
	hs := append([]func(string){}, prev.handlers...)
	prev.mu.Unlock()
	p.mu.Lock()
	p.handlers = append(hs, p.handlers...)
	p.mu.Unlock()
}

// IRPort is an open controller IR port.
type IRPort struct {
	c          *Client
	ID         uint
	BaudRate   int
	Descriptor string
}

// Send transmits data on the IR port.
func (p *IRPort) Send(data string) error {
	return p.c.send(envelope.SendData{
		ID:   correlation.NewID(),
		Kind: envelope.KindIR,
		Port: strconv.FormatUint(uint64(p.ID), 10),
		Data: data,
	})
}

// Relay is a controller relay.
type Relay struct {
	c  *Client
	ID string
}

// SetState switches the relay.
func (r *Relay) SetState(on bool) error {
	return r.c.send(envelope.SetRelay{ID: correlation.NewID(), Relay: r.ID, State: on})
}
