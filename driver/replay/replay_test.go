package replay

import (
	"testing"

	"github.com/openacq/acqd/atime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureCB struct {
	pushes []int
	total  []float64
}

func (c *captureCB) SetSamples(buf []float64, n int, now atime.T) error {
	c.pushes = append(c.pushes, n)
	c.total = append(c.total, buf...)
	return nil
}

func TestNewRejectsMisalignedBuffer(t *testing.T) {
	_, err := New(Config{Channels: 2, Samples: []float64{1, 2, 3}})
	assert.Error(t, err)
}

func TestReplayStopsAtEndWithoutLoop(t *testing.T) {
	p, err := New(Config{Channels: 2, SamplingHz: 100, SamplesPerBlock: 4, BatchSamples: 4, Samples: []float64{1, 1, 2, 2, 3, 3}})
	require.NoError(t, err)
	cb := &captureCB{}
	_, _ = p.Initialize(4, cb)
	_, _ = p.Start()

	ok, err := p.Loop()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, cb.pushes[0]) // only 3 frames available

	ok, err = p.Loop()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, cb.pushes, 1) // no further push once exhausted
}

func TestReplayWrapsWhenLoopEnabled(t *testing.T) {
	p, err := New(Config{Channels: 1, SamplingHz: 100, SamplesPerBlock: 2, BatchSamples: 2, Samples: []float64{1, 2}, Loop: true})
	require.NoError(t, err)
	cb := &captureCB{}
	_, _ = p.Initialize(2, cb)
	_, _ = p.Start()

	for i := 0; i < 3; i++ {
		ok, err := p.Loop()
		require.NoError(t, err)
		require.True(t, ok)
	}
	assert.Equal(t, []float64{1, 2, 1, 2, 1, 2}, cb.total)
}
