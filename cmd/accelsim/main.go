package main

import (
	"context"
	"flag"
	"io"
	"net"
	"os"
	"os/signal"
	"time"

	"github.com/lab47/accelsim/config"
	"github.com/lab47/accelsim/device"
	"github.com/lab47/accelsim/etha"
	"github.com/lab47/accelsim/hostbus"
	"github.com/lab47/accelsim/ipsec"
	"github.com/lab47/accelsim/medium"
	"github.com/lab47/accelsim/pkg/mem"
	"github.com/lab47/accelsim/rohc"
	"github.com/lab47/lsvd/logger"
	"github.com/pkg/errors"
	"github.com/rcrowley/go-metrics"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

var (
	fConfig     = flag.String("config", "", "path to a YAML config file")
	fSocketPath = flag.String("socket-path", "", "path to listen on")
	fVariant    = flag.String("variant", "", "device variant: etha, ipsec or rohc")
	fAffinity   = flag.Int("affinity", -2, "cpu to pin the run loop to, -1 for none")
)

func main() {
	flag.Parse()

	log := logger.New(logger.Trace)

	if err := run(log); err != nil {
		log.Error("accelsim failed", "error", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg := config.Default()

	if *fConfig != "" {
		var err error
		cfg, err = config.Load(*fConfig)
		if err != nil {
			return nil, err
		}
	}

	if *fSocketPath != "" {
		cfg.SocketPath = *fSocketPath
	}
	if *fVariant != "" {
		cfg.Variant = *fVariant
	}
	if *fAffinity != -2 {
		cfg.CoreAffinity = *fAffinity
	}

	if cfg.SocketPath == "" {
		return nil, errors.New("provide a socket path")
	}

	return cfg, cfg.Validate()
}

func run(log logger.Logger) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	devMem := mem.NewMap()
	if err := devMem.AddRegion(cfg.Memory.Base, make([]byte, cfg.Memory.Size)); err != nil {
		return err
	}
	defer devMem.Reset()

	reg := metrics.NewRegistry()

	core, closers, err := buildCore(ctx, g, log, cfg, devMem, reg)
	for _, c := range closers {
		defer c.Close()
	}
	if err != nil {
		return err
	}

	addr, err := net.ResolveUnixAddr("unix", cfg.SocketPath)
	if err != nil {
		return err
	}

	l, err := net.ListenUnix("unix", addr)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", cfg.SocketPath)
	}
	defer l.Close()

	h, err := device.Simulate(log, core, cfg.CoreAffinity)
	if err != nil {
		return err
	}

	log.Info("device running", "variant", cfg.Variant, "socket", cfg.SocketPath, "lines", h.Interrupts())

	g.Go(func() error {
		return hostbus.NewServer(log, h, devMem).Serve(ctx, l)
	})

	g.Go(func() error {
		return logMetrics(ctx, log, reg, cfg.MetricsInterval)
	})

	g.Go(func() error {
		select {
		case <-ctx.Done():
		case <-h.Done():
		}
		return h.Abort()
	})

	err = g.Wait()
	logCounters(log, reg)
	return err
}

func buildCore(ctx context.Context, g *errgroup.Group, log logger.Logger, cfg *config.Config, m mem.Memory, reg metrics.Registry) (device.Core, []io.Closer, error) {
	switch cfg.Variant {
	case config.VariantIPsec:
		return ipsec.NewCore(ipsec.Options{Log: log, Mem: m, Metrics: reg}), nil, nil
	case config.VariantRohc:
		return rohc.NewCore(rohc.Options{Log: log, Mem: m, Metrics: reg}), nil, nil
	}

	med, closers, err := openMedium(ctx, g, log, cfg.Medium)
	if err != nil {
		return nil, closers, err
	}

	return etha.NewCore(etha.Options{Log: log, Mem: m, Medium: med, Metrics: reg}), closers, nil
}

func openMedium(ctx context.Context, g *errgroup.Group, log logger.Logger, cfg config.Medium) (medium.Medium, []io.Closer, error) {
	switch cfg.Kind {
	case config.MediumTap:
		tap, err := medium.OpenTap(ctx, log, cfg.TapName, cfg.Buffer)
		if err != nil {
			return nil, nil, err
		}
		return tap, []io.Closer{tap}, nil

	case config.MediumPcap:
		pcap, err := medium.OpenPcap(ctx, log, cfg.PcapIn, cfg.PcapOut, cfg.Buffer)
		if err != nil {
			return nil, nil, err
		}
		return pcap, []io.Closer{pcap}, nil

	case config.MediumSwitch:
		sw := medium.NewSwitch(log)
		dev := sw.Attach("etha0", cfg.Buffer)

		var closers []io.Closer
		if cfg.TapName != "" {
			tap, err := medium.OpenTap(ctx, log, cfg.TapName, cfg.Buffer)
			if err != nil {
				return nil, nil, err
			}
			sw.AddPort(cfg.TapName, tap)
			closers = append(closers, tap)
		}

		g.Go(func() error {
			if err := sw.Run(ctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})

		return dev, closers, nil
	}

	return medium.NewLoopback(cfg.Buffer), nil, nil
}

func logMetrics(ctx context.Context, log logger.Logger, reg metrics.Registry, every time.Duration) error {
	if every <= 0 {
		return nil
	}

	tick := time.NewTicker(every)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			logCounters(log, reg)
		}
	}
}

func logCounters(log logger.Logger, reg metrics.Registry) {
	reg.Each(func(name string, i interface{}) {
		if c, ok := i.(metrics.Counter); ok {
			log.Info("counter", "name", name, "count", c.Count())
		}
	})
}
