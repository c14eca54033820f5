// Package peer is the remote end of the tunnel. Its Client turns the
// fire-and-forget channel into blocking requests by correlating replies
// with outstanding requests, and routes unsolicited data to open ports.
package peer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/shaunagostinho/c4xtender/internal/correlation"
	"github.com/shaunagostinho/c4xtender/internal/envelope"
	"github.com/shaunagostinho/c4xtender/internal/logging"
	"github.com/shaunagostinho/c4xtender/internal/metrics"
)

// DefaultRequestTimeout bounds how long a request waits for its reply.
const DefaultRequestTimeout = 10 * time.Second

// Transport carries encoded frames to the controller.
type Transport interface {
	// Send delivers one base64 frame.
	Send(encoded string) error
}

// SystemInfo is the controller identity from an inot.
type SystemInfo struct {
	Version      string `json:"version"`
	SerialNumber string `json:"serialNumber"`
	RAMTotal     uint64 `json:"ramTotal"`
	RAMFree      uint64 `json:"ramFree"`
}

// Options tune a Client.
type Options struct {
	// RequestTimeout applies to every request. Zero uses
	// DefaultRequestTimeout; a negative value waits for the caller's
	// context only.
	RequestTimeout time.Duration
	Metrics        *metrics.Tunnel
}

// Client is the peer protocol engine. HandleText may be called from a read
// loop concurrently with requests.
type Client struct {
	tr      Transport
	table   *correlation.Table
	timeout time.Duration
	metrics *metrics.Tunnel
	log     zerolog.Logger

	mu      sync.RWMutex
	serial  map[uint]*ComPort
	ir      map[uint]*IRPort
	onReady []func(SystemInfo)
	tap     func(direction string, env envelope.Envelope)
}

// NewClient creates a Client sending over tr.
func NewClient(tr Transport, opts Options) *Client {
	timeout := opts.RequestTimeout
	if timeout == 0 {
		timeout = DefaultRequestTimeout
	}
	c := &Client{
		tr:      tr,
		table:   correlation.NewTable(),
		timeout: timeout,
		metrics: opts.Metrics,
		log:     logging.For("peer"),
		serial:  make(map[uint]*ComPort),
		ir:      make(map[uint]*IRPort),
	}
	c.table.OnChange = c.metrics.SetPending
	return c
}

// OnReady registers fn to run on every inot, solicited or not.
func (c *Client) OnReady(fn func(SystemInfo)) {
	c.mu.Lock()
	c.onReady = append(c.onReady, fn)
	c.mu.Unlock()
}

// SetTap installs fn to observe traffic.
func (c *Client) SetTap(fn func(direction string, env envelope.Envelope)) {
	c.mu.Lock()
	c.tap = fn
	c.mu.Unlock()
}

// Pending returns the number of requests awaiting replies.
func (c *Client) Pending() int {
	return c.table.Len()
}

// Close fails every outstanding request with correlation.ErrClosed.
func (c *Client) Close() {
	c.table.Close()
}

// Init asks the controller to identify itself.
func (c *Client) Init(ctx context.Context) (SystemInfo, error) {
	v, err := c.request(ctx, envelope.TypeInit, nil, func(id string) envelope.Message {
		return envelope.InitRequest{ID: id}
	})
	if err != nil {
		return SystemInfo{}, err
	}
	info, ok := v.(SystemInfo)
	if !ok {
		return SystemInfo{}, unexpected(envelope.TypeInit, v)
	}
	return info, nil
}

// ListSerialPorts returns the controller's serial port names.
func (c *Client) ListSerialPorts(ctx context.Context) ([]string, error) {
	v, err := c.request(ctx, envelope.TypeListSerial, nil, func(id string) envelope.Message {
		return envelope.ListSerialPorts{ID: id}
	})
	if err != nil {
		return nil, err
	}
	list, ok := v.([]string)
	if !ok {
		return nil, unexpected(envelope.TypeListSerial, v)
	}
	return list, nil
}

// OpenSerialPort configures a controller serial port and returns its handle.
// port is "COM<n>" or "<n>"; baud 0 and an empty descriptor take the
// controller defaults.
func (c *Client) OpenSerialPort(ctx context.Context, port string, baud int, descriptor string) (*ComPort, error) {
	n, ok := envelope.PortNumber("COM", port)
	if !ok {
		return nil, fmt.Errorf("peer: bad serial port %q", port)
	}
	baud, descriptor = withDefaults(baud, descriptor)
	h := &ComPort{c: c, ID: n, BaudRate: baud, Descriptor: descriptor}
	v, err := c.request(ctx, envelope.TypeConfigureSerial, h, func(id string) envelope.Message {
		return envelope.ConfigurePort{ID: id, Kind: envelope.KindSerial, Port: port, BaudRate: baud, Descriptor: descriptor}
	})
	if err != nil {
		return nil, err
	}
	opened, ok := v.(*ComPort)
	if !ok {
		return nil, unexpected(envelope.TypeConfigureSerial, v)
	}
	return opened, nil
}

// OpenIRPort configures a controller IR port and returns its handle.
func (c *Client) OpenIRPort(ctx context.Context, port string, baud int, descriptor string) (*IRPort, error) {
	n, ok := envelope.PortNumber("IR", port)
	if !ok {
		return nil, fmt.Errorf("peer: bad IR port %q", port)
	}
	baud, descriptor = withDefaults(baud, descriptor)
	h := &IRPort{c: c, ID: n, BaudRate: baud, Descriptor: descriptor}
	v, err := c.request(ctx, envelope.TypeConfigureIR, h, func(id string) envelope.Message {
		return envelope.ConfigurePort{ID: id, Kind: envelope.KindIR, Port: port, BaudRate: baud, Descriptor: descriptor}
	})
	if err != nil {
		return nil, err
	}
	opened, ok := v.(*IRPort)
	if !ok {
		return nil, unexpected(envelope.TypeConfigureIR, v)
	}
	return opened, nil
}

// PrintLine prints text on the controller console.
func (c *Client) PrintLine(text string) error {
	return c.send(envelope.PrintLine{ID: correlation.NewID(), Text: text})
}

// Relay returns a handle for relay id ("RLY<n>" or "<n>").
func (c *Client) Relay(id string) *Relay {
	return &Relay{c: c, ID: id}
}

// Reboot asks the controller to restart.
func (c *Client) Reboot() error {
	return c.send(envelope.Reboot{ID: correlation.NewID()})
}

// SerialPort returns the open serial port handle for n.
func (c *Client) SerialPort(n uint) (*ComPort, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.serial[n]
	return p, ok
}

// HandleText processes one encoded frame from the controller.
func (c *Client) HandleText(encoded string) {
	env, err := envelope.Decode(encoded)
	if err != nil {
		c.ignored(err)
		return
	}
	if err := c.Dispatch(env); err != nil {
		c.ignored(err)
	}
}

// Dispatch routes a decoded envelope to the correlation table or to the
// open port it is addressed to.
func (c *Client) Dispatch(env envelope.Envelope) error {
	msg, err := envelope.Parse(env)
	if err != nil {
		return err
	}
	c.metrics.Envelope(msg.Type(), metrics.Inbound)
	c.observe(metrics.Inbound, env)

	switch m := msg.(type) {
	case envelope.InitNotify:
		info := SystemInfo{Version: m.Version, SerialNumber: m.SerialNumber, RAMTotal: m.RAMTotal, RAMFree: m.RAMFree}
		c.mu.Lock()
		c.serial = make(map[uint]*ComPort)
		c.ir = make(map[uint]*IRPort)
		ready := append([]func(SystemInfo){}, c.onReady...)
		c.mu.Unlock()
		if m.ID != "" && c.awaits(m.ID, envelope.TypeInit, m.Type()) {
			c.table.Resolve(m.ID, info)
		}
		for _, fn := range ready {
			fn(info)
		}
	case envelope.ConfigResult:
		want := envelope.TypeConfigureSerial
		if m.Kind == envelope.KindIR {
			want = envelope.TypeConfigureIR
		}
		if !c.awaits(m.ID, want, m.Type()) {
			return nil
		}
		if m.Err != "" {
			c.table.Reject(m.ID, m.Err)
			return nil
		}
		p, ok := c.table.Take(m.ID)
		if !ok {
			return nil
		}
		cl, _ := p.Context.(*call)
		c.activate(cl.handle)
		p.Resolve(cl.handle)
	case envelope.SerialPortList:
		if !c.awaits(m.ID, envelope.TypeListSerial, m.Type()) {
			return nil
		}
		ports := m.Ports
		if ports == nil {
			ports = []string{}
		}
		c.table.Resolve(m.ID, ports)
	case envelope.DataReceived:
		c.route(m)
	default:
		c.log.Debug().Str("t", msg.Type()).Msg("not a reply")
	}
	return nil
}

// call is the pending state of one request: the request type a reply must
// answer and the handle a successful configure resolves with.
type call struct {
	request string
	handle  any
}

// awaits reports whether id is pending for a request of type request. A
// reply of type reply to anything else is dropped.
func (c *Client) awaits(id, request, reply string) bool {
	p, ok := c.table.Lookup(id)
	if !ok {
		c.log.Debug().Str("id", id).Str("t", reply).Msg("unmatched reply")
		return false
	}
	if cl, ok := p.Context.(*call); !ok || cl.request != request {
		c.log.Debug().Str("id", id).Str("t", reply).Msg("reply does not answer pending request")
		return false
	}
	return true
}

func unexpected(request string, v any) error {
	return fmt.Errorf("peer: %s resolved with unexpected %T", request, v)
}

func (c *Client) activate(handle any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch h := handle.(type) {
	case *ComPort:
		if prev, ok := c.serial[h.ID]; ok {
			h.inherit(prev)
		}
		c.serial[h.ID] = h
	case *IRPort:
		c.ir[h.ID] = h
	}
}

func (c *Client) route(m envelope.DataReceived) {
	if m.Kind == envelope.KindIR {
		c.log.Debug().Str("port", m.Port).Msg("IR receive not supported")
		return
	}
	n, ok := envelope.PortNumber("COM", m.Port)
	if !ok {
		c.log.Warn().Str("port", m.Port).Msg("data for unparseable port")
		return
	}
	p, ok := c.SerialPort(n)
	if !ok {
		c.log.Warn().Uint("port", n).Msg("data for port that is not open")
		return
	}
	p.deliver(m.Data)
}

// request registers a pending entry, sends the message built with its id
// and waits for the reply.
func (c *Client) request(ctx context.Context, typ string, handle any, build func(id string) envelope.Message) (any, error) {
	p, err := c.table.Open(&call{request: typ, handle: handle})
	if err != nil {
		return nil, err
	}
	if err := c.send(build(p.ID)); err != nil {
		c.table.Cancel(p.ID, err)
		return nil, err
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return c.table.Wait(ctx, p)
}

func (c *Client) send(m envelope.Message) error {
	env := m.Envelope()
	encoded, err := envelope.Encode(env)
	if err != nil {
		return err
	}
	if err := c.tr.Send(encoded); err != nil {
		c.metrics.WriteError()
		return fmt.Errorf("peer: send %s: %w", env.Type, err)
	}
	c.metrics.Envelope(env.Type, metrics.Outbound)
	c.observe(metrics.Outbound, env)
	return nil
}

func (c *Client) observe(direction string, env envelope.Envelope) {
	c.mu.RLock()
	tap := c.tap
	c.mu.RUnlock()
	if tap != nil {
		tap(direction, env)
	}
}

func (c *Client) ignored(err error) {
	if errors.Is(err, envelope.ErrIgnored) {
		c.metrics.Ignored("decode")
	}
	c.log.Debug().Err(err).Msg("frame ignored")
}

func withDefaults(baud int, descriptor string) (int, string) {
	if baud <= 0 {
		baud = envelope.DefaultBaudRate
	}
	if descriptor == "" {
		descriptor = envelope.DefaultDescriptor
	}
	return baud, descriptor
}
