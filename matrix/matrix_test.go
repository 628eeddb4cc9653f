package matrix

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndResize(t *testing.T) {
	m := New(2, 3)
	assert.Equal(t, 2, m.DimCount())
	assert.Equal(t, 2, m.DimSize(0))
	assert.Equal(t, 3, m.DimSize(1))
	assert.Equal(t, 6, m.ElementCount())

	m.Resize(4)
	assert.Equal(t, 1, m.DimCount())
	assert.Equal(t, 4, m.ElementCount())
}

func TestLabels(t *testing.T) {
	m := New(2, 2)
	m.SetDimLabel(0, 0, "Ch1")
	m.SetDimLabel(0, 1, "Ch2")
	assert.Equal(t, "Ch1", m.DimLabel(0, 0))
	assert.Equal(t, "Ch2", m.DimLabel(0, 1))
}

func TestCopyDescriptionAndContent(t *testing.T) {
	src := New(2, 2)
	src.SetDimLabel(0, 0, "Ch1")
	for i := range src.Buffer() {
		src.Buffer()[i] = float64(i)
	}
	dst := &Matrix{}
	dst.CopyDescription(src)
	assert.Equal(t, "Ch1", dst.DimLabel(0, 0))
	assert.Equal(t, 0.0, dst.Buffer()[0])

	require.NoError(t, dst.CopyContent(src))
	assert.Equal(t, src.Buffer(), dst.Buffer())
}

func TestCopyContentMismatch(t *testing.T) {
	src := New(2)
	dst := New(3)
	assert.Error(t, dst.CopyContent(src))
}

func TestIsBufferValid(t *testing.T) {
	m := New(2)
	m.Buffer()[0] = 1.0
	m.Buffer()[1] = math.NaN()
	assert.False(t, m.IsBufferValid(true, false))
	assert.True(t, m.IsBufferValid(false, false))

	m.Buffer()[1] = math.Inf(1)
	assert.False(t, m.IsBufferValid(false, true))
}
