// Package controller is the host end of the tunnel. It extracts frames from
// the codec channel, raises an event per request type and writes replies
// and heartbeats back to the channel.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/shaunagostinho/c4xtender/internal/envelope"
	"github.com/shaunagostinho/c4xtender/internal/frame"
	"github.com/shaunagostinho/c4xtender/internal/keepalive"
	"github.com/shaunagostinho/c4xtender/internal/logging"
	"github.com/shaunagostinho/c4xtender/internal/metrics"
)

// Version is reported in inot replies.
const Version = "1.0.0"

// Peripheral registration defaults.
const (
	DefaultPeripheralID     = "C4XTENDER"
	DefaultHeartbeatTimeout = 120
)

// Channel is the text link to the codec.
type Channel interface {
	// WriteLine writes line followed by CRLF.
	WriteLine(line string) error
}

// Config tunes a Controller. Zero values take the defaults.
type Config struct {
	PeripheralID      string
	SerialNumber      string
	HeartbeatInterval time.Duration
	// HeartbeatTimeout is the codec-side timeout announced with each
	// heartbeat, in seconds.
	HeartbeatTimeout int
	MaxLineLength    int
	// WriteRate limits outbound frames per second. Zero disables pacing.
	WriteRate  float64
	WriteBurst int
}

// TapFunc observes every envelope crossing the channel.
type TapFunc func(direction string, env envelope.Envelope)

// Request is one inbound request event.
type Request struct {
	Message  envelope.Message
	Envelope envelope.Envelope
	c        *Controller
}

// Reply sends m back over the channel.
func (r *Request) Reply(m envelope.Message) error {
	return r.c.Send(m)
}

// EventHandler handles one request event.
type EventHandler func(r *Request)

// Controller is the host protocol engine. Feed must be called from a single
// read loop; Send and the heartbeat may run concurrently with it.
type Controller struct {
	cfg       Config
	ch        Channel
	extractor *frame.Extractor
	keepalive *keepalive.Driver
	limiter   *rate.Limiter
	metrics   *metrics.Tunnel
	log       zerolog.Logger

	wmu sync.Mutex

	hmu      sync.RWMutex
	handlers map[string][]EventHandler
	tap      TapFunc

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a stopped Controller writing to ch. m may be nil.
func New(ch Channel, cfg Config, m *metrics.Tunnel) *Controller {
	if cfg.PeripheralID == "" {
		cfg.PeripheralID = DefaultPeripheralID
	}
	if cfg.SerialNumber == "" {
		cfg.SerialNumber = cfg.PeripheralID
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:      cfg,
		ch:       ch,
		metrics:  m,
		log:      logging.For("controller"),
		handlers: make(map[string][]EventHandler),
		ctx:      ctx,
		cancel:   cancel,
	}
	c.extractor = frame.New(frame.Config{
		Marker:        frame.DefaultMarker,
		MaxLineLength: cfg.MaxLineLength,
		OnDiscard: func(reason frame.DiscardReason, line string) {
			m.Discard(string(reason))
			c.log.Debug().Str("reason", string(reason)).Int("len", len(line)).Msg("line discarded")
		},
	})
	c.keepalive = keepalive.New(cfg.HeartbeatInterval, c.announce)
	if cfg.WriteRate > 0 {
		burst := cfg.WriteBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.WriteRate), burst)
	}
	return c
}

// On registers h for requests of type typ. Handlers run in registration
// order on the read loop.
func (c *Controller) On(typ string, h EventHandler) {
	c.hmu.Lock()
	c.handlers[typ] = append(c.handlers[typ], h)
	c.hmu.Unlock()
}

// SetTap installs fn to observe traffic.
func (c *Controller) SetTap(fn TapFunc) {
	c.hmu.Lock()
	c.tap = fn
	c.hmu.Unlock()
}

// Start begins the heartbeat cycle and announces the controller with an
// unsolicited inot. On a running Controller it repeats the announcement
// at once, as needed after the channel reconnects.
func (c *Controller) Start() error {
	if !c.keepalive.Start() {
		c.Announce()
	}
	return c.SendInitNotify("")
}

// Announce writes one heartbeat cycle now, outside the schedule.
func (c *Controller) Announce() {
	c.announce()
}

// Stop halts the heartbeat and abandons paced writes.
func (c *Controller) Stop() {
	c.keepalive.Stop()
	c.cancel()
}

// ResetChannel drops any partial line, for use after the channel reconnects.
func (c *Controller) ResetChannel() {
	c.extractor.Reset()
}

// Feed processes a chunk read from the channel.
func (c *Controller) Feed(chunk []byte) {
	for _, candidate := range c.extractor.Feed(chunk) {
		c.metrics.Candidate()
		env, err := envelope.Decode(candidate)
		if err != nil {
			c.ignored(err)
			continue
		}
		if err := c.Dispatch(env); err != nil {
			c.ignored(err)
		}
	}
}

// ErrNotRequest is returned by Dispatch for reply types, which the codec
// echoes back to their sender.
var ErrNotRequest = fmt.Errorf("%w: not a request", envelope.ErrIgnored)

// Dispatch raises the event for env. Only request types are dispatched;
// everything else is reported as ignored.
func (c *Controller) Dispatch(env envelope.Envelope) error {
	msg, err := envelope.Parse(env)
	if err != nil {
		return err
	}
	if !isRequest(msg.Type()) {
		return fmt.Errorf("%w: %s", ErrNotRequest, msg.Type())
	}
	c.metrics.Envelope(msg.Type(), metrics.Inbound)
	c.observe(metrics.Inbound, env)
	c.log.Debug().Str("t", msg.Type()).Str("id", msg.CorrelationID()).Msg("request")

	if _, ok := msg.(envelope.InitRequest); ok {
		if err := c.SendInitNotify(msg.CorrelationID()); err != nil {
			c.log.Error().Err(err).Msg("inot failed")
		}
	}

	c.hmu.RLock()
	hs := c.handlers[msg.Type()]
	c.hmu.RUnlock()
	if len(hs) == 0 {
		c.log.Debug().Str("t", msg.Type()).Msg("no handler")
		return nil
	}
	req := &Request{Message: msg, Envelope: env, c: c}
	for _, h := range hs {
		h(req)
	}
	return nil
}

// Send encodes m and writes it to the channel as a message send command.
func (c *Controller) Send(m envelope.Message) error {
	env := m.Envelope()
	cmd, err := envelope.EncodeCommand(env)
	if err != nil {
		return err
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(c.ctx); err != nil {
			return fmt.Errorf("controller: send %s: %w", env.Type, err)
		}
	}

	c.wmu.Lock()
	err = c.ch.WriteLine(cmd + "\r\n")
	c.wmu.Unlock()
	if err != nil {
		c.metrics.WriteError()
		return fmt.Errorf("controller: send %s: %w", env.Type, err)
	}
	c.metrics.Envelope(env.Type, metrics.Outbound)
	c.observe(metrics.Outbound, env)
	return nil
}

// SendInitNotify sends inot with id, which is empty when unsolicited.
func (c *Controller) SendInitNotify(id string) error {
	total, free := memory()
	return c.Send(envelope.InitNotify{
		ID:           id,
		Version:      Version,
		SerialNumber: c.cfg.SerialNumber,
		RAMTotal:     total,
		RAMFree:      free,
	})
}

// HeartbeatLines returns the three announcements of one keepalive cycle.
func (c *Controller) HeartbeatLines() []string {
	id := c.cfg.PeripheralID
	return []string{
		fmt.Sprintf("xCommand Peripherals Connect ID:%s Name:%s SoftwareInfo:%s-dev SerialNumber:%s Type:ControlSystem", id, id, id, id),
		fmt.Sprintf("xCommand Peripherals HeartBeat ID:%s Timeout:%d", id, c.cfg.HeartbeatTimeout),
		"xFeedback register /event/message",
	}
}

// Status reports engine state for the monitor.
type Status struct {
	Heartbeat bool        `json:"heartbeat"`
	Interval  string      `json:"interval"`
	Frames    frame.Stats `json:"frames"`
}

func (c *Controller) Status() Status {
	return Status{
		Heartbeat: c.keepalive.Running(),
		Interval:  c.keepalive.Interval().String(),
		Frames:    c.extractor.Stats(),
	}
}

func (c *Controller) announce() {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	for _, line := range c.HeartbeatLines() {
		if err := c.ch.WriteLine(line); err != nil {
			c.metrics.WriteError()
			c.log.Warn().Err(err).Msg("heartbeat write failed")
			return
		}
	}
	c.metrics.Heartbeat()
}

func (c *Controller) observe(direction string, env envelope.Envelope) {
	c.hmu.RLock()
	tap := c.tap
	c.hmu.RUnlock()
	if tap != nil {
		tap(direction, env)
	}
}

func (c *Controller) ignored(err error) {
	cause := "other"
	switch {
	case errors.Is(err, envelope.ErrNotBase64):
		cause = "not_base64"
	case errors.Is(err, envelope.ErrNotJSON):
		cause = "not_json"
	case errors.Is(err, envelope.ErrNotMessage):
		cause = "not_message"
	case errors.Is(err, envelope.ErrUnknownType):
		cause = "unknown_type"
	case errors.Is(err, ErrNotRequest):
		cause = "not_request"
	}
	c.metrics.Ignored(cause)
	c.log.Debug().Err(err).Str("cause", cause).Msg("candidate ignored")
}

func isRequest(typ string) bool {
	switch typ {
	case envelope.TypeInit,
		envelope.TypeConfigureSerial, envelope.TypeConfigureIR,
		envelope.TypeSendSerial, envelope.TypeSendIR,
		envelope.TypeListSerial, envelope.TypePrintLine,
		envelope.TypeSetRelay, envelope.TypeReboot:
		return true
	}
	return false
}
