package pipeline

import (
	"math"

	"github.com/openacq/acqd/atime"
	"github.com/openacq/acqd/stim"
)

// NaNPolicy selects how the pipeline replaces non-finite sample
// values before they enter the pending ring.
type NaNPolicy int

const (
	// NaNDisabled passes NaN/Inf through unchanged.
	NaNDisabled NaNPolicy = iota
	// NaNZero substitutes 0 for any non-finite value.
	NaNZero
	// NaNLastCorrectValue retains the last finite value seen on that
	// channel, starting from 0.
	NaNLastCorrectValue
)

// nanScrubber applies one NaNPolicy across a fixed channel count. The
// stimuli are global, not per-channel: a single "currently in a bad
// run" flag is set when any channel is bad on a given sample, so a
// simultaneous NaN burst on several channels emits exactly one
// Artifact/NoArtifact pair rather than one per affected channel.
type nanScrubber struct {
	policy   NaNPolicy
	channels int
	last     []float64

	badActive   bool
	lastBadTime atime.T
}

func newNaNScrubber(policy NaNPolicy, channels int) *nanScrubber {
	return &nanScrubber{
		policy:   policy,
		channels: channels,
		last:     make([]float64, channels),
	}
}

// Scrub rewrites frame in place per the configured policy and appends
// Artifact/NoArtifact markers to stimSet on edges. Artifact is dated
// at the first bad sample; NoArtifact is dated at the last bad
// sample (i.e. one sample before the first good one), not at the
// good sample itself, so a bad run [a,b] is reported inclusive.
func (s *nanScrubber) Scrub(frame []float64, sampleTime atime.T, stimSet *stim.Set) {
	anyBad := false
	for c := 0; c < s.channels && c < len(frame); c++ {
		if v := frame[c]; math.IsNaN(v) || math.IsInf(v, 0) {
			anyBad = true
			break
		}
	}

	if anyBad && !s.badActive {
		stimSet.PushBack(stim.MarkerArtifact, sampleTime, 0)
		s.badActive = true
	} else if !anyBad && s.badActive {
		stimSet.PushBack(stim.MarkerNoArtifact, s.lastBadTime, 0)
		s.badActive = false
	}
	if anyBad {
		s.lastBadTime = sampleTime
	}

	for c := 0; c < s.channels && c < len(frame); c++ {
		v := frame[c]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			switch s.policy {
			case NaNZero:
				frame[c] = 0
			case NaNLastCorrectValue:
				frame[c] = s.last[c]
			case NaNDisabled:
				// leave as-is
			}
		} else {
			s.last[c] = v
		}
	}
}
