// Package replay implements a driver.Driver that re-plays a captured
// buffer of samples already resident in memory, grounded on the
// replay-buffer branch of the retrieved stream-loop reference
// (offset into a fixed byte buffer, wrap-around when configured,
// fixed per-iteration chunk size).
package replay

import (
	"fmt"

	"github.com/openacq/acqd/atime"
	"github.com/openacq/acqd/driver"
)

// Config configures a Player.
type Config struct {
	Channels        uint16
	SamplingHz      uint32
	SamplesPerBlock uint32
	ChannelNames    []string
	// Samples is interleaved by sample: Samples[s*Channels+c]. Its length must
	// be a multiple of Channels.
	Samples []float64
	// BatchSamples is how many samples Loop pushes per call; defaults
	// to SamplesPerBlock if zero.
	BatchSamples uint32
	// Loop, if true, wraps around to the start instead of stopping
	// once Samples is exhausted.
	Loop bool
	Now  func(samplesEmitted uint64) atime.T
}

// Player is a driver.Driver that replays Config.Samples.
type Player struct {
	cfg      Config
	cb       driver.Callback
	hdr      driver.Header
	running  bool
	offset   int // in samples, not floats
	emitted  uint64
	start    atime.T
	totalLen int // total sample frames in cfg.Samples
}

// New builds a Player. It returns an error if Samples is not a whole
// multiple of Channels.
func New(cfg Config) (*Player, error) {
	if cfg.Channels == 0 {
		return nil, fmt.Errorf("replay: channels must be > 0")
	}
	if len(cfg.Samples)%int(cfg.Channels) != 0 {
		return nil, fmt.Errorf("replay: sample buffer length %d not a multiple of %d channels", len(cfg.Samples), cfg.Channels)
	}
	if cfg.BatchSamples == 0 {
		cfg.BatchSamples = cfg.SamplesPerBlock
	}
	return &Player{
		cfg:      cfg,
		totalLen: len(cfg.Samples) / int(cfg.Channels),
	}, nil
}

func (p *Player) Initialize(samplesPerBlock uint32, cb driver.Callback) (bool, error) {
	p.cb = cb
	names := p.cfg.ChannelNames
	if len(names) != int(p.cfg.Channels) {
		names = make([]string, p.cfg.Channels)
	}
	p.hdr = driver.Header{
		Channels:        p.cfg.Channels,
		SamplingHz:      p.cfg.SamplingHz,
		SamplesPerBlock: samplesPerBlock,
		ChannelNames:    names,
	}
	return true, nil
}

func (p *Player) Header() driver.Header { return p.hdr }

func (p *Player) Start() (bool, error) {
	p.running = true
	p.offset = 0
	p.emitted = 0
	return true, nil
}

// Loop pushes up to BatchSamples frames starting at the current
// offset. At end of buffer: wraps if Loop is set, otherwise returns
// true having pushed nothing further (an exhausted, non-looping
// replay is not an error; it simply stops producing).
func (p *Player) Loop() (bool, error) {
	if !p.running {
		return false, nil
	}
	if p.totalLen == 0 {
		return true, nil
	}
	n := int(p.cfg.BatchSamples)
	ch := int(p.cfg.Channels)
	buf := make([]float64, 0, n*ch)
	pushed := 0
	for pushed < n {
		if p.offset >= p.totalLen {
			if !p.cfg.Loop {
				break
			}
			p.offset = 0
		}
		frame := p.cfg.Samples[p.offset*ch : (p.offset+1)*ch]
		buf = append(buf, frame...)
		p.offset++
		pushed++
	}
	if pushed == 0 {
		return true, nil
	}
	now := p.now(p.emitted + uint64(pushed))
	if err := p.cb.SetSamples(buf, pushed, now); err != nil {
		return false, err
	}
	p.emitted += uint64(pushed)
	return true, nil
}

func (p *Player) now(samplesEmitted uint64) atime.T {
	if p.cfg.Now != nil {
		return p.cfg.Now(samplesEmitted)
	}
	return p.start.Add(atime.FromSamples(p.cfg.SamplingHz, samplesEmitted))
}

func (p *Player) Stop() error {
	p.running = false
	return nil
}

func (p *Player) Uninitialize() error { return nil }

func (p *Player) IsConfigurable() bool { return false }

func (p *Player) Configure() error { return driver.ErrNotConfigurable }
