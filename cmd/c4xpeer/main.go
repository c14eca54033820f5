// Command c4xpeer drives a c4xtender controller from the codec side of the
// tunnel. It is a bench tool for exercising the controller over a serial
// line without a codec.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/shaunagostinho/c4xtender/internal/envelope"
	"github.com/shaunagostinho/c4xtender/internal/logging"
	"github.com/shaunagostinho/c4xtender/internal/metrics"
	"github.com/shaunagostinho/c4xtender/internal/peer"
)

const usage = `usage: c4xpeer [flags] <command> [args]

commands:
  info                          request controller identity
  ports                         list controller serial ports
  open <COMn> [baud] [desc]     configure a serial port
  send <COMn> <data>            configure then write to a serial port
  ir <IRn> <data>               configure then write to an IR port
  relay <RLYn> on|off           switch a relay
  print <text>                  log text on the controller console
  reboot                        reboot the controller
  watch <COMn>...               print data received on serial ports
`

func main() {
	portPath := flag.String("port", "/dev/ttyUSB0", "Serial line to the controller")
	baud := flag.Int("baud", 115200, "Line baud rate")
	timeout := flag.Duration("timeout", peer.DefaultRequestTimeout, "Request timeout")
	metricsAddr := flag.String("metrics", "", "Serve Prometheus metrics on this address")
	level := flag.String("log-level", "info", "Log level")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage+"\nflags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	logging.Configure("c4xpeer", logging.Config{Level: *level})
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var m *metrics.Tunnel
	if *metricsAddr != "" {
		reg := prometheus.NewRegistry()
		var err error
		if m, err = metrics.New(reg, "peer"); err != nil {
			log.Fatal().Err(err).Msg("metrics")
		}
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Warn().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	link, closer, err := peer.OpenCodecLink(*portPath, *baud)
	if err != nil {
		log.Fatal().Err(err).Str("port", *portPath).Msg("open failed")
	}
	defer closer.Close()

	client := peer.NewClient(link, peer.Options{RequestTimeout: *timeout, Metrics: m})
	defer client.Close()
	client.SetTap(func(direction string, env envelope.Envelope) {
		log.Debug().Str("dir", direction).Str("t", env.Type).Str("id", env.ID).Msg("frame")
	})
	client.OnReady(func(info peer.SystemInfo) {
		log.Info().Str("serial", info.SerialNumber).Str("version", info.Version).Msg("controller ready")
	})

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancelRun := context.WithCancel(gctx)
	g.Go(func() error { return link.Run(runCtx, client) })
	g.Go(func() error {
		defer cancelRun()
		return execute(runCtx, client, flag.Args())
	})
	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg(flag.Arg(0))
	}
}

var errUsage = errors.New("bad arguments, see -h")

func execute(ctx context.Context, c *peer.Client, args []string) error {
	cmd, args := args[0], args[1:]
	switch cmd {
	case "info":
		info, err := c.Init(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("version %s serial %s ram %d/%d\n", info.Version, info.SerialNumber, info.RAMFree, info.RAMTotal)

	case "ports":
		list, err := c.ListSerialPorts(ctx)
		if err != nil {
			return err
		}
		fmt.Println(strings.Join(list, "\n"))

	case "open":
		if len(args) < 1 {
			return errUsage
		}
		baud, desc, err := portArgs(args[1:])
		if err != nil {
			return err
		}
		p, err := c.OpenSerialPort(ctx, args[0], baud, desc)
		if err != nil {
			return err
		}
		fmt.Printf("COM%d open at %d %s\n", p.ID, p.BaudRate, p.Descriptor)

	case "send":
		if len(args) < 2 {
			return errUsage
		}
		p, err := c.OpenSerialPort(ctx, args[0], 0, "")
		if err != nil {
			return err
		}
		return p.Send(strings.Join(args[1:], " "))

	case "ir":
		if len(args) < 2 {
			return errUsage
		}
		p, err := c.OpenIRPort(ctx, args[0], 0, "")
		if err != nil {
			return err
		}
		return p.Send(strings.Join(args[1:], " "))

	case "relay":
		if len(args) != 2 {
			return errUsage
		}
		on, err := parseSwitch(args[1])
		if err != nil {
			return err
		}
		return c.Relay(args[0]).SetState(on)

	case "print":
		if len(args) == 0 {
			return errUsage
		}
		return c.PrintLine(strings.Join(args, " "))

	case "reboot":
		return c.Reboot()

	case "watch":
		if len(args) == 0 {
			return errUsage
		}
		for _, ref := range args {
			p, err := c.OpenSerialPort(ctx, ref, 0, "")
			if err != nil {
				return err
			}
			id := p.ID
			p.OnData(func(data string) {
				fmt.Printf("COM%d %q\n", id, data)
			})
		}
		<-ctx.Done()

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	// Fire-and-forget frames need a moment on the wire before the line closes.
	time.Sleep(100 * time.Millisecond)
	return nil
}

func portArgs(args []string) (int, string, error) {
	var baud int
	var desc string
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return 0, "", fmt.Errorf("baud %q: %w", args[0], err)
		}
		baud = n
	}
	if len(args) > 1 {
		desc = args[1]
	}
	return baud, desc, nil
}

func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "1", "true", "close":
		return true, nil
	case "off", "0", "false", "open":
		return false, nil
	}
	return false, fmt.Errorf("relay state %q: want on or off", s)
}
