// Package synthetic implements a driver.Driver that generates samples
// in process, for tests and demos. Modeled after the teacher's
// bridge, which has no test-signal generator of its own, in the idiom
// of the stream-loop generators in the rest of the retrieved pack
// (periodic non-blocking Loop, fixed per-iteration sample budget).
package synthetic

import (
	"math"
	"strconv"

	"github.com/openacq/acqd/atime"
	"github.com/openacq/acqd/driver"
)

// Waveform selects the per-channel signal shape Generator produces.
type Waveform int

const (
	// Constant emits Amplitude on every channel, every sample.
	Constant Waveform = iota
	// Sine emits a per-channel sine wave at Frequency Hz, offset by a
	// small phase per channel index so channels are visually distinct.
	Sine
)

// Config configures a Generator.
type Config struct {
	Channels        uint16
	SamplingHz      uint32
	SamplesPerBlock uint32
	ChannelNames    []string
	Waveform        Waveform
	Amplitude       float64
	Frequency       float64 // Hz, used only by Sine
	// BatchSamples is how many samples Loop pushes per call. Defaults
	// to SamplesPerBlock/4 (at least 1) when zero.
	BatchSamples uint32
	// Now, if set, supplies the wall-clock acquisition time for each
	// push; defaults to a free-running clock derived from the sample
	// count at SamplingHz, which is what tests want (no real-time
	// dependency).
	Now func(samplesEmitted uint64) atime.T
}

// Generator is a driver.Driver producing a synthetic multichannel
// signal with no external I/O.
type Generator struct {
	cfg Config
	cb  driver.Callback
	hdr driver.Header

	running bool
	emitted uint64
	start   atime.T
}

// New builds a Generator from cfg. Config zero-values fall back to
// sane defaults (8 channels, 256 Hz, block of 32, constant 1.0).
func New(cfg Config) *Generator {
	if cfg.Channels == 0 {
		cfg.Channels = 8
	}
	if cfg.SamplingHz == 0 {
		cfg.SamplingHz = 256
	}
	if cfg.SamplesPerBlock == 0 {
		cfg.SamplesPerBlock = 32
	}
	if cfg.BatchSamples == 0 {
		cfg.BatchSamples = cfg.SamplesPerBlock / 4
		if cfg.BatchSamples == 0 {
			cfg.BatchSamples = 1
		}
	}
	if cfg.Amplitude == 0 && cfg.Waveform == Constant {
		cfg.Amplitude = 1.0
	}
	if cfg.Frequency == 0 {
		cfg.Frequency = 10.0
	}
	return &Generator{cfg: cfg}
}

func (g *Generator) Initialize(samplesPerBlock uint32, cb driver.Callback) (bool, error) {
	g.cb = cb
	names := g.cfg.ChannelNames
	if len(names) != int(g.cfg.Channels) {
		names = make([]string, g.cfg.Channels)
		for i := range names {
			names[i] = "Ch" + strconv.Itoa(i+1)
		}
	}
	g.hdr = driver.Header{
		Channels:        g.cfg.Channels,
		SamplingHz:      g.cfg.SamplingHz,
		SamplesPerBlock: samplesPerBlock,
		ChannelNames:    names,
	}
	return true, nil
}

func (g *Generator) Header() driver.Header { return g.hdr }

func (g *Generator) Start() (bool, error) {
	g.running = true
	g.emitted = 0
	return true, nil
}

func (g *Generator) Loop() (bool, error) {
	if !g.running {
		return false, nil
	}
	n := int(g.cfg.BatchSamples)
	buf := make([]float64, n*int(g.cfg.Channels))
	for s := 0; s < n; s++ {
		for c := 0; c < int(g.cfg.Channels); c++ {
			buf[s*int(g.cfg.Channels)+c] = g.sample(g.emitted+uint64(s), c)
		}
	}
	now := g.now(g.emitted + uint64(n))
	if err := g.cb.SetSamples(buf, n, now); err != nil {
		return false, err
	}
	g.emitted += uint64(n)
	return true, nil
}

func (g *Generator) sample(idx uint64, channel int) float64 {
	switch g.cfg.Waveform {
	case Sine:
		t := float64(idx) / float64(g.cfg.SamplingHz)
		phase := float64(channel) * 0.1
		return g.cfg.Amplitude * math.Sin(2*math.Pi*g.cfg.Frequency*t+phase)
	default:
		return g.cfg.Amplitude
	}
}

func (g *Generator) now(samplesEmitted uint64) atime.T {
	if g.cfg.Now != nil {
		return g.cfg.Now(samplesEmitted)
	}
	return g.start.Add(atime.FromSamples(g.cfg.SamplingHz, samplesEmitted))
}

func (g *Generator) Stop() error {
	g.running = false
	return nil
}

func (g *Generator) Uninitialize() error { return nil }

func (g *Generator) IsConfigurable() bool { return false }

func (g *Generator) Configure() error { return driver.ErrNotConfigurable }
