package controller

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/shaunagostinho/c4xtender/internal/envelope"
	"github.com/shaunagostinho/c4xtender/internal/logging"
	"github.com/shaunagostinho/c4xtender/internal/ports"
	"github.com/shaunagostinho/c4xtender/internal/portspec"
)

// Rebooter restarts the host.
type Rebooter interface {
	Reboot() error
}

// CommandRebooter runs a shell command to reboot. An empty Command only logs.
type CommandRebooter struct {
	Command string
	Timeout time.Duration
}

func (r CommandRebooter) Reboot() error {
	log := logging.For("reboot")
	if r.Command == "" {
		log.Warn().Msg("reboot requested but no command configured")
		return nil
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, "sh", "-c", r.Command).CombinedOutput()
	if err != nil {
		return fmt.Errorf("reboot: %s: %w: %s", r.Command, err, out)
	}
	log.Info().Str("command", r.Command).Msg("reboot issued")
	return nil
}

// Service answers controller requests using the port registry.
type Service struct {
	reg      *ports.Registry
	rebooter Rebooter
	log      zerolog.Logger
	console  zerolog.Logger
}

// NewService creates a Service. rebooter may be nil.
func NewService(reg *ports.Registry, rebooter Rebooter) *Service {
	if rebooter == nil {
		rebooter = CommandRebooter{}
	}
	return &Service{
		reg:      reg,
		rebooter: rebooter,
		log:      logging.For("service"),
		console:  logging.For("console"),
	}
}

// Attach registers the request handlers on c and forwards data received on
// every serial port to c as crcv.
func (s *Service) Attach(c *Controller) {
	c.On(envelope.TypeConfigureSerial, s.configure)
	c.On(envelope.TypeConfigureIR, s.configure)
	c.On(envelope.TypeSendSerial, s.send)
	c.On(envelope.TypeSendIR, s.send)
	c.On(envelope.TypeListSerial, s.list)
	c.On(envelope.TypePrintLine, s.print)
	c.On(envelope.TypeSetRelay, s.relay)
	c.On(envelope.TypeReboot, s.reboot)

	for _, p := range s.reg.SerialPorts() {
		port := strconv.FormatUint(uint64(p.ID()), 10)
		p.SetReceiveHandler(func(data string) {
			err := c.Send(envelope.DataReceived{Kind: envelope.KindSerial, Port: port, Data: data})
			if err != nil {
				s.log.Warn().Err(err).Str("port", port).Msg("forward failed")
			}
		})
	}
}

func (s *Service) configure(r *Request) {
	m := r.Message.(envelope.ConfigurePort)
	desc := portspec.ParseWithBaud(m.BaudRate, m.Descriptor)
	res := envelope.ConfigResult{ID: m.ID, Kind: m.Kind}

	var err error
	switch m.Kind {
	case envelope.KindIR:
		p, ok := s.reg.IR(m.Port)
		if !ok {
			res.Err = fmt.Sprintf("IRSerialPort %s not found.", m.Port)
			break
		}
		err = p.Configure(desc)
	default:
		p, ok := s.reg.Serial(m.Port)
		if !ok {
			res.Err = fmt.Sprintf("SerialPort %s not found.", m.Port)
			break
		}
		err = p.Configure(desc)
	}
	if err != nil {
		res.Err = err.Error()
	}
	if res.Err != "" {
		s.log.Warn().Str("port", m.Port).Str("kind", m.Kind.String()).Msg(res.Err)
	} else {
		s.log.Info().Str("port", m.Port).Str("kind", m.Kind.String()).
			Int("baud", desc.BaudRate).Str("mode", desc.String()).Msg("port configured")
	}
	if err := r.Reply(res); err != nil {
		s.log.Error().Err(err).Msg("config reply failed")
	}
}

func (s *Service) send(r *Request) {
	m := r.Message.(envelope.SendData)
	var err error
	switch m.Kind {
	case envelope.KindIR:
		p, ok := s.reg.IR(m.Port)
		if !ok {
			s.log.Debug().Str("port", m.Port).Msg("send to unknown IR port")
			return
		}
		err = p.Send(m.Data)
	default:
		p, ok := s.reg.Serial(m.Port)
		if !ok {
			s.log.Debug().Str("port", m.Port).Msg("send to unknown serial port")
			return
		}
		err = p.Send(m.Data)
	}
	if err != nil {
		s.log.Warn().Err(err).Str("port", m.Port).Msg("send failed")
	}
}

func (s *Service) list(r *Request) {
	m := r.Message.(envelope.ListSerialPorts)
	if err := r.Reply(envelope.SerialPortList{ID: m.ID, Ports: s.reg.SerialNames()}); err != nil {
		s.log.Error().Err(err).Msg("port list reply failed")
	}
}

func (s *Service) print(r *Request) {
	m := r.Message.(envelope.PrintLine)
	s.console.Info().Msg(m.Text)
}

func (s *Service) relay(r *Request) {
	m := r.Message.(envelope.SetRelay)
	rl, ok := s.reg.Relay(m.Relay)
	if !ok {
		s.log.Debug().Str("relay", m.Relay).Msg("unknown relay")
		return
	}
	if err := rl.SetState(m.State); err != nil {
		s.log.Warn().Err(err).Str("relay", m.Relay).Msg("relay failed")
		return
	}
	s.log.Info().Str("relay", m.Relay).Bool("on", m.State).Msg("relay set")
}

func (s *Service) reboot(*Request) {
	if err := s.rebooter.Reboot(); err != nil {
		s.log.Error().Err(err).Msg("reboot failed")
	}
}
