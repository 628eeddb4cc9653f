// Package config loads acqd's on-disk configuration, grounded on the
// teacher's bridge/config.go: a yaml-tagged private shape is parsed
// and validated into a public, already-defaulted Config, field by
// field, so every zero-value absence in the file keeps the compiled-in
// default rather than silently becoming a Go zero value.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openacq/acqd/acqerr"
	"github.com/openacq/acqd/drift"
	"github.com/openacq/acqd/pipeline"
)

// Config is acqd's fully resolved runtime configuration.
type Config struct {
	// ListenAddr is the TCP broadcast address, default ":1024".
	ListenAddr string
	// MetricsAddr is the optional Prometheus /metrics bind address;
	// empty disables the metrics server.
	MetricsAddr string

	SamplesPerBlock uint32

	// Pipe is handed straight to pipeline.New; its Drift field carries
	// every DriftCorrector token.
	Pipe pipeline.Config

	// DriverKind selects which driver/... implementation cmd/acqd
	// wires up: "synthetic", "replay", or "netrtp".
	DriverKind string
	// DriverReplayPath is the captured-samples file read by the replay
	// driver; only meaningful when DriverKind == "replay".
	DriverReplayPath string
	// DriverListenAddr is the UDP listen address for the netrtp
	// driver; only meaningful when DriverKind == "netrtp".
	DriverListenAddr string
	// DriverChannels/DriverSamplingHz/DriverChannelNames describe the
	// stream shape every driver kind reports in its Header.
	DriverChannels     uint16
	DriverSamplingHz   uint32
	DriverChannelNames []string

	// CheckImpedance is accepted and carried for forward compatibility
	// with drivers that support an impedance-check mode; the core
	// drivers in this tree do not implement it.
	CheckImpedance bool

	// StoppedDriverSleepMS is the poll interval while no pipeline is
	// Started. The hot loop here simply doesn't run outside Started,
	// so this token has nowhere to bind yet; it is carried for
	// forward-compatible drivers that keep polling while idle.
	StoppedDriverSleepMS int
}

type yamlConfig struct {
	Server struct {
		ListenPort  int    `yaml:"listen_port"`
		MetricsAddr string `yaml:"metrics_addr"`
	} `yaml:"server"`
	Acquisition struct {
		SamplesPerBlock  uint32 `yaml:"samples_per_block"`
		ChannelSelection bool   `yaml:"channel_selection"`
		CheckImpedance   bool   `yaml:"check_impedance"`
	} `yaml:"acquisition"`
	Drift struct {
		Policy              string  `yaml:"policy"`
		ToleranceMs         float64 `yaml:"tolerance_ms"`
		JitterRingSize      int     `yaml:"jitter_ring_size"`
		InitialSkipPeriodMs int64   `yaml:"initial_skip_period_ms"`
	} `yaml:"drift"`
	Sampling struct {
		OverSamplingFactor   int    `yaml:"oversampling_factor"`
		NaNReplacementPolicy string `yaml:"nan_replacement_policy"`
		StartedDriverSleepMs int    `yaml:"started_driver_sleep_ms"`
		StoppedDriverSleepMs int    `yaml:"stopped_driver_sleep_ms"`
		DriverTimeoutMs      int    `yaml:"driver_timeout_ms"`
	} `yaml:"sampling"`
	Driver struct {
		Kind         string   `yaml:"kind"`
		ReplayPath   string   `yaml:"replay_path"`
		ListenAddr   string   `yaml:"listen_addr"`
		Channels     uint16   `yaml:"channels"`
		SamplingHz   uint32   `yaml:"sampling_hz"`
		ChannelNames []string `yaml:"channel_names"`
	} `yaml:"driver"`
}

const (
	defaultListenPort       = 1024
	defaultSamplesPerBlock  = 32
	defaultStoppedSleepMs   = 100
	defaultDriverTimeoutMs  = 5000
	defaultJitterRingSize   = drift.DefaultJitterRingSize
	defaultDriftToleranceMs = drift.DefaultToleranceMS
	defaultDriverChannels   = 8
	defaultDriverSamplingHz = 256
)

// Load reads and validates the yaml file at path, returning a Config
// with every unset token at its documented default.
func Load(path string) (Config, error) {
	cfg := Config{
		ListenAddr:           fmt.Sprintf(":%d", defaultListenPort),
		SamplesPerBlock:      defaultSamplesPerBlock,
		StoppedDriverSleepMS: defaultStoppedSleepMs,
		Pipe: pipeline.Config{
			OverSamplingFactor: 1,
			NaNPolicy:          pipeline.NaNZero,
			DriverTimeout:      msDuration(defaultDriverTimeoutMs),
			Drift: drift.Config{
				Policy:         drift.DriverChoice,
				ToleranceMS:    defaultDriftToleranceMs,
				JitterRingSize: defaultJitterRingSize,
			},
		},
		DriverKind:       "synthetic",
		DriverChannels:   defaultDriverChannels,
		DriverSamplingHz: defaultDriverSamplingHz,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: reading config file: %v", acqerr.ErrBadConfig, err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("%w: parsing config file: %v", acqerr.ErrBadConfig, err)
	}

	if yc.Server.ListenPort > 0 {
		cfg.ListenAddr = fmt.Sprintf(":%d", yc.Server.ListenPort)
	}
	cfg.MetricsAddr = yc.Server.MetricsAddr

	if yc.Acquisition.SamplesPerBlock > 0 {
		cfg.SamplesPerBlock = yc.Acquisition.SamplesPerBlock
	}
	cfg.Pipe.ChannelSelection = yc.Acquisition.ChannelSelection
	cfg.CheckImpedance = yc.Acquisition.CheckImpedance

	if yc.Drift.Policy != "" {
		policy, err := parseDriftPolicy(yc.Drift.Policy)
		if err != nil {
			return Config{}, err
		}
		cfg.Pipe.Drift.Policy = policy
	}
	if yc.Drift.ToleranceMs > 0 {
		cfg.Pipe.Drift.ToleranceMS = yc.Drift.ToleranceMs
	}
	if yc.Drift.JitterRingSize > 0 {
		cfg.Pipe.Drift.JitterRingSize = yc.Drift.JitterRingSize
	}
	cfg.Pipe.Drift.InitialSkipPeriodMS = yc.Drift.InitialSkipPeriodMs

	if yc.Sampling.OverSamplingFactor > 0 {
		cfg.Pipe.OverSamplingFactor = yc.Sampling.OverSamplingFactor
	}
	if yc.Sampling.NaNReplacementPolicy != "" {
		policy, err := parseNaNPolicy(yc.Sampling.NaNReplacementPolicy)
		if err != nil {
			return Config{}, err
		}
		cfg.Pipe.NaNPolicy = policy
	}
	cfg.Pipe.StartedDriverSleepMS = yc.Sampling.StartedDriverSleepMs
	if yc.Sampling.StoppedDriverSleepMs > 0 {
		cfg.StoppedDriverSleepMS = yc.Sampling.StoppedDriverSleepMs
	}
	if yc.Sampling.DriverTimeoutMs > 0 {
		cfg.Pipe.DriverTimeout = msDuration(yc.Sampling.DriverTimeoutMs)
	} else {
		cfg.Pipe.DriverTimeout = msDuration(defaultDriverTimeoutMs)
	}

	if yc.Driver.Kind != "" {
		cfg.DriverKind = strings.ToLower(yc.Driver.Kind)
	}
	switch cfg.DriverKind {
	case "synthetic", "replay", "netrtp":
	default:
		return Config{}, fmt.Errorf("%w: driver.kind must be synthetic, replay or netrtp, got %q", acqerr.ErrBadConfig, cfg.DriverKind)
	}
	cfg.DriverReplayPath = yc.Driver.ReplayPath
	if cfg.DriverKind == "replay" && cfg.DriverReplayPath == "" {
		return Config{}, fmt.Errorf("%w: driver.replay_path is required when driver.kind is replay", acqerr.ErrBadConfig)
	}
	cfg.DriverListenAddr = yc.Driver.ListenAddr
	if cfg.DriverKind == "netrtp" && cfg.DriverListenAddr == "" {
		return Config{}, fmt.Errorf("%w: driver.listen_addr is required when driver.kind is netrtp", acqerr.ErrBadConfig)
	}
	if yc.Driver.Channels > 0 {
		cfg.DriverChannels = yc.Driver.Channels
	}
	if yc.Driver.SamplingHz > 0 {
		cfg.DriverSamplingHz = yc.Driver.SamplingHz
	}
	if len(yc.Driver.ChannelNames) > 0 {
		cfg.DriverChannelNames = yc.Driver.ChannelNames
	}

	return cfg, nil
}

func msDuration(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }

func parseDriftPolicy(s string) (drift.Policy, error) {
	switch strings.ToLower(s) {
	case "driverchoice":
		return drift.DriverChoice, nil
	case "forced":
		return drift.Forced, nil
	case "disabled":
		return drift.Disabled, nil
	default:
		return 0, fmt.Errorf("%w: drift.policy must be DriverChoice, Forced or Disabled, got %q", acqerr.ErrBadConfig, s)
	}
}

func parseNaNPolicy(s string) (pipeline.NaNPolicy, error) {
	switch strings.ToLower(s) {
	case "lastcorrectvalue":
		return pipeline.NaNLastCorrectValue, nil
	case "zero":
		return pipeline.NaNZero, nil
	case "disabled":
		return pipeline.NaNDisabled, nil
	default:
		return 0, fmt.Errorf("%w: sampling.nan_replacement_policy must be LastCorrectValue, Zero or Disabled, got %q", acqerr.ErrBadConfig, s)
	}
}
