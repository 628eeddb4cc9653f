package drift

import (
	"testing"

	"github.com/openacq/acqd/atime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type fakeRing struct {
	samples [][]float64
}

func (r *fakeRing) Len() int { return len(r.samples) }
func (r *fakeRing) PushBack(s []float64) {
	r.samples = append(r.samples, s)
}
func (r *fakeRing) DropTail(n int) int {
	if n > len(r.samples) {
		n = len(r.samples)
	}
	r.samples = r.samples[:len(r.samples)-n]
	return n
}
func (r *fakeRing) LastSample() []float64 {
	if len(r.samples) == 0 {
		return []float64{0}
	}
	return r.samples[len(r.samples)-1]
}

type fakeStim struct {
	ids   []uint64
	dates []atime.T
}

func (s *fakeStim) PushBack(id uint64, date, duration atime.T) {
	s.ids = append(s.ids, id)
	s.dates = append(s.dates, date)
}

func TestRingFillsBeforeEstimating(t *testing.T) {
	c := New(Config{JitterRingSize: 4, ToleranceMS: 5})
	c.Start(1000, 0)
	for i := 0; i < 3; i++ {
		require.NoError(t, c.Push(1000, atime.FromSamples(1000, uint64(i+1)*1000)))
		assert.False(t, c.RingFull())
	}
	require.NoError(t, c.Push(1000, atime.FromSamples(1000, 4000)))
	assert.True(t, c.RingFull())
}

func TestSuggestedWithinToleranceIsZero(t *testing.T) {
	c := New(Config{JitterRingSize: 2, ToleranceMS: 5})
	c.Start(1000, 0)
	require.NoError(t, c.Push(1000, atime.FromSamples(1000, 1000)))
	require.NoError(t, c.Push(1000, atime.FromSamples(1000, 2000)))
	assert.Equal(t, int64(0), c.Suggested())
}

func TestSuggestedTooFastProducesNegative(t *testing.T) {
	// Driver reports 1010 samples twice, both by t=1s, at 1000Hz:
	// declared count runs ahead of wall time => jitter positive (early) => suggested negative (drop).
	c := New(Config{JitterRingSize: 2, ToleranceMS: 5})
	c.Start(1000, 0)
	require.NoError(t, c.Push(1010, atime.FromSeconds(1.0)))
	require.NoError(t, c.Push(1010, atime.FromSeconds(1.0)))
	assert.Less(t, c.Suggested(), int64(0))
}

func TestSuggestedTooSlowProducesPositive(t *testing.T) {
	c := New(Config{JitterRingSize: 2, ToleranceMS: 5})
	c.Start(1000, 0)
	require.NoError(t, c.Push(980, atime.FromSeconds(1.0)))
	require.NoError(t, c.Push(980, atime.FromSeconds(2.0)))
	assert.Greater(t, c.Suggested(), int64(0))
}

func TestApplyPadEmitsBeginEndMarkers(t *testing.T) {
	c := New(Config{JitterRingSize: 2, ToleranceMS: 5})
	c.Start(1000, 0)
	require.NoError(t, c.Push(980, atime.FromSeconds(1.0)))
	require.NoError(t, c.Push(980, atime.FromSeconds(2.0)))

	ring := &fakeRing{samples: [][]float64{{1, 2, 3}}}
	st := &fakeStim{}
	k := c.Suggested()
	require.Greater(t, k, int64(0))
	applied, _ := c.Apply(k, ring, st)
	require.True(t, applied)
	require.Len(t, st.ids, 2)
	assert.Equal(t, uint64(0x8100), st.ids[0])
	assert.Equal(t, uint64(0x8101), st.ids[1])
	assert.Equal(t, 1+int(k), ring.Len())
}

func TestApplyDropEmitsRemovedSamplesAndClampsAvailable(t *testing.T) {
	c := New(Config{JitterRingSize: 2, ToleranceMS: 5})
	c.Start(1000, 0)
	require.NoError(t, c.Push(1010, atime.FromSeconds(1.0)))
	require.NoError(t, c.Push(1010, atime.FromSeconds(1.0)))

	ring := &fakeRing{samples: [][]float64{{1}, {2}, {3}}}
	st := &fakeStim{}
	k := c.Suggested()
	require.Less(t, k, int64(0))
	applied, boundary := c.Apply(k*100, ring, st) // ask for far more than available
	require.True(t, applied)
	assert.Equal(t, 0, ring.Len()) // clamped to ring length
	require.Len(t, st.ids, 1)
	assert.Equal(t, uint64(0x8102), st.ids[0])
	assert.NotNil(t, boundary)
}

func TestDisabledPolicyNeverApplies(t *testing.T) {
	c := New(Config{Policy: Disabled})
	c.Start(1000, 0)
	ring := &fakeRing{samples: [][]float64{{1}}}
	st := &fakeStim{}
	applied, _ := c.Apply(5, ring, st)
	assert.False(t, applied)
	assert.Equal(t, 1, ring.Len())
}

func TestZeroRateIsReportedNotPanicked(t *testing.T) {
	c := New(Config{})
	c.Start(0, 0)
	err := c.Push(10, atime.T(0))
	assert.ErrorIs(t, err, ErrZeroRate)
}

// TestReceivedInvariant checks that received = corrected + removed -
// inserted holds across arbitrary sequences of pushes and applies.
func TestReceivedInvariant(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		c := New(Config{JitterRingSize: 4, ToleranceMS: 5})
		c.Start(1000, 0)
		ring := &fakeRing{samples: [][]float64{{0}}}
		st := &fakeStim{}

		steps := rapid.IntRange(1, 20).Draw(rt, "steps")
		var wall atime.T
		for i := 0; i < steps; i++ {
			n := uint64(rapid.IntRange(1, 50).Draw(rt, "n"))
			wall = wall.Add(atime.FromSeconds(float64(n) / 1000.0))
			require.NoError(t, c.Push(n, wall))
			if c.RingFull() {
				if k := c.Suggested(); k != 0 {
					c.Apply(k, ring, st)
				}
			}
			assert.Equal(t, c.received, c.corrected+c.removed-c.inserted)
		}
	})
}
