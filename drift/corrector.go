// Package drift implements a jitter-ring drift estimator and its
// correction-apply logic.
//
// It generalizes the teacher's bridge/media_bridge.go hysteresis loop
// (accumulate a signed backlog error, apply ±1-sample nudges toward a
// target) from "nudge the SIP->TG playout buffer by one PCM16 sample"
// to "maintain a moving-average jitter estimate over J pushes and
// suggest a whole-sample correction once it exceeds a millisecond
// tolerance".
package drift

import (
	"errors"

	"github.com/openacq/acqd/atime"
	"github.com/openacq/acqd/stim"
)

// Policy selects who is allowed to call Apply and have it take effect.
type Policy int

const (
	// DriverChoice applies a correction only when the driver itself
	// calls Apply.
	DriverChoice Policy = iota
	// Forced applies Suggested() on every driver push that returns
	// samples.
	Forced
	// Disabled never applies a correction.
	Disabled
)

// DefaultJitterRingSize is the number of pushes averaged into the
// drift estimate.
const DefaultJitterRingSize = 128

// DefaultToleranceMS is the default drift tolerance in milliseconds.
const DefaultToleranceMS = 5.0

// ErrZeroRate is returned by Push when called with a zero sampling
// rate at Start. A zero rate is a configuration error that is
// reported, not thrown.
var ErrZeroRate = errors.New("drift: zero sampling rate")

// Corrector tracks jitter, the resulting drift estimate, and the
// derived/applied sample corrections for one driver's stream.
type Corrector struct {
	policy      Policy
	toleranceMS float64
	ringSize    int

	rateHz        uint32
	startTime     atime.T
	innerLatency  int64 // samples; may be negative
	initialSkipMS int64

	received  uint64
	corrected uint64
	inserted  uint64
	removed   uint64

	jitters    []float64 // ring buffer of fractional-sample jitters
	ringFilled bool
	ringPos    int

	estimate    float64
	tooFastMax  float64
	tooSlowMax  float64

	lastErr error
}

// Config configures a new Corrector.
type Config struct {
	Policy              Policy
	ToleranceMS         float64
	JitterRingSize      int
	InnerLatencySamples int64
	InitialSkipPeriodMS int64
}

// New builds a Corrector. Zero-value fields in cfg fall back to the
// package defaults.
func New(cfg Config) *Corrector {
	tol := cfg.ToleranceMS
	if tol <= 0 {
		tol = DefaultToleranceMS
	}
	ringSize := cfg.JitterRingSize
	if ringSize <= 0 {
		ringSize = DefaultJitterRingSize
	}
	return &Corrector{
		policy:        cfg.Policy,
		toleranceMS:   tol,
		ringSize:      ringSize,
		innerLatency:  cfg.InnerLatencySamples,
		initialSkipMS: cfg.InitialSkipPeriodMS,
		jitters:       make([]float64, 0, ringSize),
	}
}

// Policy returns the configured policy.
func (c *Corrector) Policy() Policy { return c.policy }

// Start records the declared sampling rate and the time origin of the
// stream being corrected. A zero rate is a configuration error: every
// subsequent Push becomes a no-op returning ErrZeroRate.
func (c *Corrector) Start(rateHz uint32, startTime atime.T) {
	c.rateHz = rateHz
	c.startTime = startTime
}

// Received returns the total sample count the driver has reported.
func (c *Corrector) Received() uint64 { return c.received }

// Corrected returns received + inserted - removed.
func (c *Corrector) Corrected() uint64 { return c.corrected }

// Estimate returns the current moving-average jitter estimate in
// fractional samples. It is only meaningful once the ring is full;
// RingFull reports that.
func (c *Corrector) Estimate() float64 { return c.estimate }

// RingFull reports whether enough jitter samples have been pushed for
// Estimate/Suggested to be meaningful.
func (c *Corrector) RingFull() bool { return c.ringFilled }

// TooFastMax and TooSlowMax return the extreme jitter values observed
// since Start.
func (c *Corrector) TooFastMax() float64 { return c.tooFastMax }
func (c *Corrector) TooSlowMax() float64 { return c.tooSlowMax }

// Push records one driver delivery of n samples at wall-clock "now"
// (expressed as acquisition time, i.e. elapsed since Start). It
// updates received, computes jitter, and folds it into the moving
// average once the ring is full.
func (c *Corrector) Push(n uint64, now atime.T) error {
	if c.rateHz == 0 {
		c.lastErr = ErrZeroRate
		return ErrZeroRate
	}
	c.received += n
	c.corrected += n

	if c.initialSkipMS > 0 {
		nowMS := int64(now.Seconds() * 1000)
		if nowMS < c.initialSkipMS {
			return nil
		}
	}

	expected := c.startTime.Add(atime.FromSamples(c.rateHz, c.corrected))
	jitter := (expected.Seconds()-now.Seconds())*float64(c.rateHz) + float64(c.innerLatency)
	c.pushJitter(jitter)

	if jitter > c.tooFastMax {
		c.tooFastMax = jitter
	}
	if jitter < c.tooSlowMax {
		c.tooSlowMax = jitter
	}
	return nil
}

func (c *Corrector) pushJitter(j float64) {
	if len(c.jitters) < c.ringSize {
		c.jitters = append(c.jitters, j)
	} else {
		c.jitters[c.ringPos] = j
		c.ringPos = (c.ringPos + 1) % c.ringSize
		c.ringFilled = true
	}
	if len(c.jitters) == c.ringSize {
		c.ringFilled = true
	}
	if c.ringFilled {
		sum := 0.0
		for _, v := range c.jitters {
			sum += v
		}
		c.estimate = sum / float64(len(c.jitters))
	}
}

// toleranceSamples converts the configured millisecond tolerance to a
// sample count at the current rate.
func (c *Corrector) toleranceSamples() float64 {
	return c.toleranceMS / 1000.0 * float64(c.rateHz)
}

// Suggested returns the signed sample correction to apply: zero within
// tolerance, otherwise the truncated-toward-zero opposite of the
// estimate. It returns 0 unless the jitter ring is full.
func (c *Corrector) Suggested() int64 {
	if !c.ringFilled {
		return 0
	}
	if c.estimate <= c.toleranceSamples() && c.estimate >= -c.toleranceSamples() {
		return 0
	}
	return -int64(c.estimate) // truncation toward zero, opposite sign
}

// RingAccess is the minimal surface Apply needs on the pending sample
// ring; pipeline.Pipeline's ring satisfies it.
type RingAccess interface {
	Len() int
	PushBack(sample []float64)
	DropTail(n int) int
	LastSample() []float64
}

// Apply applies a signed sample correction k to ring and stimSet:
//
//   - k > 0 (pad): push k copies of ring's last known sample, emit
//     AddedSamplesBegin/AddedSamplesEnd markers.
//   - k < 0 (drop): remove up to min(|k|, ring length) samples from
//     the tail, emit RemovedSamples.
//   - In both cases, estimate += k and every buffered jitter is offset
//     by k so the ring's moving average stays consistent with the new
//     zero, and corrected_count moves by k.
//
// Apply never rewrites `received`: drift correction never second-
// guesses what the driver reported.
//
// On a drop (k<0) it returns the removal boundary time so the caller
// can clamp any stimulation dated past it; on a pad the returned time
// is zero and should be ignored.
func (c *Corrector) Apply(k int64, ring RingAccess, stimSet StimAdder) (applied bool, removalBoundary atime.T) {
	if c.policy == Disabled {
		return false, 0
	}
	if k == 0 {
		return false, 0
	}
	var boundary atime.T
	if k > 0 {
		last := ring.LastSample()
		padded := make([]float64, len(last))
		copy(padded, last)
		for i := int64(0); i < k; i++ {
			cp := make([]float64, len(padded))
			copy(cp, padded)
			ring.PushBack(cp)
		}
		begin := atime.FromSamples(c.rateHz, c.corrected-1)
		dur := atime.FromSamples(c.rateHz, uint64(k))
		stimSet.PushBack(stim.MarkerAddedSamplesBegin, begin, dur)
		end := atime.FromSamples(c.rateHz, c.corrected-1+uint64(k))
		stimSet.PushBack(stim.MarkerAddedSamplesEnd, end, 0)
		c.inserted += uint64(k)
	} else {
		drop := -k
		avail := int64(ring.Len())
		if drop > avail {
			drop = avail
		}
		ring.DropTail(int(drop))
		boundary = atime.FromSamples(c.rateHz, c.corrected-uint64(drop))
		stimSet.PushBack(stim.MarkerRemovedSamples, boundary, 0)
		c.removed += uint64(drop)
		k = -drop
	}
	c.estimate += float64(k)
	for i := range c.jitters {
		c.jitters[i] += float64(k)
	}
	c.corrected = uint64(int64(c.corrected) + k)
	return true, boundary
}

// StimAdder is the minimal surface Apply needs to emit markers.
type StimAdder interface {
	PushBack(id uint64, date, duration atime.T)
}

// LastError returns the most recent error recorded by Push, if any.
func (c *Corrector) LastError() error { return c.lastErr }
