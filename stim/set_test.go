package stim

import (
	"testing"

	"github.com/openacq/acqd/atime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestPushBackAndGetters(t *testing.T) {
	s := NewSet()
	s.PushBack(MarkerArtifact, atime.T(100), atime.T(0))
	s.PushBack(MarkerNoArtifact, atime.T(200), atime.T(0))
	require.Equal(t, 2, s.Size())
	assert.Equal(t, MarkerArtifact, s.GetID(0))
	assert.Equal(t, atime.T(200), s.GetDate(1))
}

func TestSetDateAndErase(t *testing.T) {
	s := NewSet()
	s.PushBack(1, atime.T(10), atime.T(0))
	s.PushBack(2, atime.T(20), atime.T(0))
	s.SetDate(0, atime.T(15))
	assert.Equal(t, atime.T(15), s.GetDate(0))
	s.Erase(0)
	require.Equal(t, 1, s.Size())
	assert.Equal(t, uint64(2), s.GetID(0))
}

func TestAppendShiftsDates(t *testing.T) {
	src := NewSet()
	src.PushBack(1, atime.T(10), atime.T(5))
	dst := NewSet()
	dst.Append(src, atime.T(100))
	require.Equal(t, 1, dst.Size())
	assert.Equal(t, atime.T(110), dst.GetDate(0))
	assert.Equal(t, atime.T(5), dst.GetDuration(0))
}

func TestAppendRangeBounds(t *testing.T) {
	src := NewSet()
	for i := 0; i < 5; i++ {
		src.PushBack(uint64(i), atime.T(i*10), atime.T(0))
	}
	dst := NewSet()
	dst.AppendRange(src, 1, 3, atime.T(0))
	require.Equal(t, 2, dst.Size())
	assert.Equal(t, uint64(1), dst.GetID(0))
	assert.Equal(t, uint64(2), dst.GetID(1))
}

func TestRemoveRangeHalfOpen(t *testing.T) {
	s := NewSet()
	s.PushBack(1, atime.T(0), atime.T(0))
	s.PushBack(2, atime.T(50), atime.T(0))
	s.PushBack(3, atime.T(100), atime.T(0))
	s.RemoveRange(atime.T(0), atime.T(100))
	require.Equal(t, 1, s.Size())
	assert.Equal(t, uint64(3), s.GetID(0))
}

func TestCopyIsIndependent(t *testing.T) {
	src := NewSet()
	src.PushBack(1, atime.T(10), atime.T(0))
	dst := NewSet()
	dst.Copy(src, atime.T(0))
	src.PushBack(2, atime.T(20), atime.T(0))
	assert.Equal(t, 1, dst.Size())
	assert.Equal(t, 2, src.Size())
}

// TestRemoveRangePreservesOrder checks the property that RemoveRange
// never reorders surviving entries, for arbitrary sequences of dates
// and an arbitrary [start,end) window.
func TestRemoveRangePreservesOrder(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 30).Draw(rt, "n")
		s := NewSet()
		dates := make([]uint64, n)
		for i := 0; i < n; i++ {
			d := rapid.Uint64Range(0, 1000).Draw(rt, "date")
			dates[i] = d
			s.PushBack(uint64(i), atime.T(d), atime.T(0))
		}
		start := rapid.Uint64Range(0, 1000).Draw(rt, "start")
		end := rapid.Uint64Range(0, 1000).Draw(rt, "end")
		if end < start {
			start, end = end, start
		}
		s.RemoveRange(atime.T(start), atime.T(end))

		var lastIdx = -1
		for i := 0; i < s.Size(); i++ {
			id := s.GetID(i)
			assert.Greater(t, int(id), lastIdx)
			lastIdx = int(id)
			d := dates[id]
			assert.False(t, d >= start && d < end)
		}
	})
}
