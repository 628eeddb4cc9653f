package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"

	"github.com/openacq/acqd/config"
	"github.com/openacq/acqd/driver"
	"github.com/openacq/acqd/driver/netrtp"
	"github.com/openacq/acqd/driver/replay"
	"github.com/openacq/acqd/driver/synthetic"
	"github.com/openacq/acqd/hooks"
	"github.com/openacq/acqd/supervisor"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	drv, err := buildDriver(cfg)
	if err != nil {
		logger.Error("driver init failed", "error", err)
		os.Exit(1)
	}

	hooksReg := hooks.NewRegistry()
	hooksReg.Register(hooks.NewLSLObserver(logger))

	sup := supervisor.New(supervisor.Config{
		ListenAddr:      cfg.ListenAddr,
		MetricsAddr:     cfg.MetricsAddr,
		SamplesPerBlock: cfg.SamplesPerBlock,
	}, drv, hooksReg, cfg.Pipe, logger)

	logger.Info("acqd starting", "listen", cfg.ListenAddr, "driver", cfg.DriverKind)
	if err := sup.Start(ctx); err != nil && ctx.Err() == nil {
		logger.Error("supervisor stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func buildDriver(cfg config.Config) (driver.Driver, error) {
	names := cfg.DriverChannelNames
	switch cfg.DriverKind {
	case "synthetic":
		return synthetic.New(synthetic.Config{
			Channels:        cfg.DriverChannels,
			SamplingHz:      cfg.DriverSamplingHz,
			SamplesPerBlock: cfg.SamplesPerBlock,
			ChannelNames:    names,
			Waveform:        synthetic.Sine,
			Frequency:       10,
		}), nil
	case "replay":
		samples, err := readReplaySamples(cfg.DriverReplayPath)
		if err != nil {
			return nil, fmt.Errorf("reading replay samples: %w", err)
		}
		return replay.New(replay.Config{
			Channels:        cfg.DriverChannels,
			SamplingHz:      cfg.DriverSamplingHz,
			SamplesPerBlock: cfg.SamplesPerBlock,
			ChannelNames:    names,
			Samples:         samples,
			Loop:            true,
		})
	case "netrtp":
		return netrtp.New(netrtp.Config{
			Channels:        cfg.DriverChannels,
			SamplingHz:      cfg.DriverSamplingHz,
			SamplesPerBlock: cfg.SamplesPerBlock,
			ChannelNames:    names,
			ListenAddr:      cfg.DriverListenAddr,
		}), nil
	default:
		return nil, fmt.Errorf("unknown driver kind %q", cfg.DriverKind)
	}
}

// readReplaySamples loads a flat, sample-interleaved little-endian float64
// buffer captured ahead of time, the simplest on-disk shape the
// replay driver's Samples field needs.
func readReplaySamples(path string) ([]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data)%8 != 0 {
		return nil, fmt.Errorf("replay file %s: length %d is not a multiple of 8 bytes", path, len(data))
	}
	samples := make([]float64, len(data)/8)
	for i := range samples {
		bits := binary.LittleEndian.Uint64(data[i*8 : i*8+8])
		samples[i] = math.Float64frombits(bits)
	}
	return samples, nil
}
