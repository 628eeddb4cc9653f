package hooks

import (
	"math"

	"github.com/openacq/acqd/atime"
)

// Fiddler linearly superposes a phase-locked bump template onto every
// channel for 500ms after each occurrence of TargetMarkerID, for
// debugging P300-style paradigms. Grounded on ovasCPluginFiddler.cpp's
// two-gaussian-weighted-beta template; disabled (a no-op LoopHook)
// when Strength is at or below the fixed fiddlerEpsilon.
type Fiddler struct {
	BaseHook

	// Strength scales the template amplitude; 0 disables the hook.
	Strength float64
	// TargetMarkerID is the stimulation id that starts a new template
	// window.
	TargetMarkerID uint64

	rateHz      uint32
	windowStart uint64 // sample index of the marker, exclusive
	windowEnd   uint64 // sample index, inclusive
	lastSeen    uint64 // highest marker sample index already windowed
}

// NewFiddler builds a Fiddler hook with the given strength and target
// marker id.
func NewFiddler(strength float64, targetMarkerID uint64) *Fiddler {
	return &Fiddler{
		BaseHook:       BaseHook{HookName: "fiddler"},
		Strength:       strength,
		TargetMarkerID: targetMarkerID,
	}
}

const fiddlerEpsilon = 1e-5

func (f *Fiddler) StartHook(_ []string, rateHz uint32, _ uint16, _ uint32) (bool, error) {
	f.rateHz = rateHz
	f.windowStart = 0
	f.windowEnd = 0
	f.lastSeen = 0
	return true, nil
}

func (f *Fiddler) LoopHook(ring Ring, stimSet StimSet, chunkStart, _, _ atime.T) error {
	if f.Strength <= fiddlerEpsilon || f.rateHz == 0 {
		return nil
	}
	for i := 0; i < stimSet.Size(); i++ {
		if stimSet.GetID(i) != f.TargetMarkerID {
			continue
		}
		markerSample := stimSet.GetDate(i).Samples(f.rateHz)
		if markerSample <= f.lastSeen {
			continue
		}
		f.lastSeen = markerSample
		f.windowStart = markerSample
		f.windowEnd = markerSample + uint64(0.5*float64(f.rateHz))
	}

	base := chunkStart.Samples(f.rateHz)
	for i := 0; i < ring.Len(); i++ {
		idx := base + uint64(i)
		if idx <= f.windowStart || idx > f.windowEnd {
			continue
		}
		value := f.templateValue(idx - f.windowStart)
		sample := ring.At(i)
		for j := range sample {
			sample[j] += value * f.Strength
		}
	}
	return nil
}

// templateValue reproduces the two-bump beta/gaussian template: a
// brief negative lobe near 250ms followed by a larger positive lobe
// near 300ms into the window.
func (f *Fiddler) templateValue(samplesIntoWindow uint64) float64 {
	const (
		lobe1   = 0.25
		lobe2   = 0.30
		spread1 = 0.008
		spread2 = 0.004
	)
	st := float64(samplesIntoWindow) / float64(f.rateHz)
	bump1 := math.Exp(-math.Pow(st-lobe1, 2)/spread1) * (st * math.Pow(1-st, 4))
	bump2 := math.Exp(-math.Pow(st-lobe2, 2)/spread2) * (st * math.Pow(1-st, 4))
	return (-0.5*bump1 + 0.9*bump2) * 40.0
}
