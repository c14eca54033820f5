package main

import (
	"context"
	"errors"
	"flag"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jpillora/backoff"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/shaunagostinho/c4xtender/internal/controller"
	"github.com/shaunagostinho/c4xtender/internal/logger"
	"github.com/shaunagostinho/c4xtender/internal/logging"
	"github.com/shaunagostinho/c4xtender/internal/metrics"
	"github.com/shaunagostinho/c4xtender/internal/ports"
	"github.com/shaunagostinho/c4xtender/internal/server"
	"github.com/shaunagostinho/c4xtender/web"
)

func main() {
	configPath := flag.String("config", "/etc/c4xtender/config.yaml", "Path to config file (.yaml or .toml)")
	demo := flag.Bool("demo", false, "Use in-memory ports instead of hardware")
	codecPort := flag.String("codec", "", "Override codec serial port")
	listenAddr := flag.String("listen", "", "Override monitor listen address (e.g. :8080)")
	flag.Parse()

	cfg := server.LoadConfig(*configPath)
	if *demo {
		demoPorts(&cfg.Ports)
	}
	if *codecPort != "" {
		cfg.Codec.PortPath = *codecPort
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}
	logging.Configure("c4xtender", cfg.LogConfig())
	log.Info().Str("config", cfg.Path()).Msg("c4xtender starting")

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("exited")
	}
}

func run(cfg *server.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(promReg, "controller")
	if err != nil {
		return err
	}

	reg, err := ports.Build(cfg.Ports)
	if err != nil {
		return err
	}
	defer reg.Close()

	slot := &linkSlot{}
	ctrl := controller.New(slot, cfg.ControllerConfig(), m)
	controller.NewService(reg, controller.CommandRebooter{Command: cfg.System.RebootCommand}).Attach(ctrl)
	defer ctrl.Stop()

	status := func() any {
		st := map[string]any{
			"link":       slot.state(),
			"controller": ctrl.Status(),
			"ports":      reg.Summary(),
		}
		if devices, err := ports.Available(); err == nil {
			st["devices"] = devices
		}
		return st
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Server.ListenAddr != "" {
		srv := server.New(cfg, web.FS, promReg, status)
		ctrl.SetTap(srv.Record)
		g.Go(func() error { return srv.Run(gctx) })
	} else if tc := cfg.TrafficConfig(); tc.Enabled {
		rec := logger.New(tc, "controller")
		defer rec.Close()
		ctrl.SetTap(rec.Record)
	}
	g.Go(func() error {
		return connectLoop(gctx, cfg.Codec.PortPath, cfg.Codec.BaudRate, slot, ctrl)
	})
	return g.Wait()
}

// connectLoop keeps the codec link open, reconnecting with backoff.
func connectLoop(ctx context.Context, path string, baud int, slot *linkSlot, ctrl *controller.Controller) error {
	b := &backoff.Backoff{Min: time.Second, Max: time.Minute, Factor: 2}
	for ctx.Err() == nil {
		link, err := controller.OpenLink(path, baud)
		if err != nil {
			d := b.Duration()
			log.Warn().Err(err).Float64("attempt", b.Attempt()).Dur("retry_in", d).Msg("codec connect failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(d):
			}
			continue
		}
		b.Reset()
		ctrl.ResetChannel()
		slot.set(link)
		log.Info().Str("path", path).Int("baud", baud).Msg("codec connected")
		if err := ctrl.Start(); err != nil {
			log.Warn().Err(err).Msg("announce failed")
		}

		err = link.Run(ctx, ctrl.Feed)
		slot.set(nil)
		link.Close()
		if err != nil {
			log.Warn().Err(err).Msg("codec link lost")
		}
	}
	return nil
}

// linkSlot is the controller's channel; it forwards to the current link.
type linkSlot struct {
	mu   sync.RWMutex
	link *controller.Link
}

var errNoLink = errors.New("codec link not connected")

func (s *linkSlot) WriteLine(line string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.link == nil {
		return errNoLink
	}
	return s.link.WriteLine(line)
}

func (s *linkSlot) set(l *controller.Link) {
	s.mu.Lock()
	s.link = l
	s.mu.Unlock()
}

func (s *linkSlot) state() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.link == nil {
		return map[string]any{"connected": false}
	}
	return map[string]any{"connected": true, "path": s.link.Path()}
}

func demoPorts(cfg *ports.Config) {
	for i := range cfg.Serial {
		cfg.Serial[i].Path = ""
	}
	for i := range cfg.IR {
		cfg.IR[i].Path = ""
	}
	for i := range cfg.Relays {
		cfg.Relays[i].Path = ""
	}
	if len(cfg.Serial)+len(cfg.IR)+len(cfg.Relays) == 0 {
		*cfg = ports.DefaultConfig()
	}
}
