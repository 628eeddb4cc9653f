package hooks

import (
	"testing"

	"github.com/openacq/acqd/atime"
	"github.com/openacq/acqd/stim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceRing struct {
	frames [][]float64
}

func (r *sliceRing) Len() int { return len(r.frames) }
func (r *sliceRing) At(i int) []float64 { return r.frames[i] }

func TestRegistryDispatchesInOrder(t *testing.T) {
	reg := NewRegistry()
	var order []string
	a := &recordingHook{BaseHook: BaseHook{HookName: "a"}, order: &order}
	b := &recordingHook{BaseHook: BaseHook{HookName: "b"}, order: &order}
	reg.Register(a)
	reg.Register(b)

	require.NoError(t, reg.Create())
	ok, err := reg.Start(nil, 100, 1, 10)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"a:create", "b:create", "a:start", "b:start"}, order)
}

type recordingHook struct {
	BaseHook
	order *[]string
}

func (h *recordingHook) CreateHook() error {
	*h.order = append(*h.order, h.Name()+":create")
	return nil
}

func (h *recordingHook) StartHook(_ []string, _ uint32, _ uint16, _ uint32) (bool, error) {
	*h.order = append(*h.order, h.Name()+":start")
	return true, nil
}

func TestStartVetoStopsRegistry(t *testing.T) {
	reg := NewRegistry()
	veto := &recordingHook{BaseHook: BaseHook{HookName: "veto"}, order: &[]string{}}
	reg.Register(&vetoHook{})
	reg.Register(veto)
	ok, err := reg.Start(nil, 100, 1, 10)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, *veto.order) // never reached because first hook vetoed
}

type vetoHook struct{ BaseHook }

func (vetoHook) StartHook(_ []string, _ uint32, _ uint16, _ uint32) (bool, error) {
	return false, nil
}

func TestFiddlerAddsTemplateAfterTargetMarker(t *testing.T) {
	f := NewFiddler(1.0, 0x1)
	ok, err := f.StartHook(nil, 1000, 2, 10)
	require.NoError(t, err)
	require.True(t, ok)

	st := stim.NewSet()
	st.PushBack(0x1, atime.FromSamples(1000, 0), 0)

	ring := &sliceRing{frames: [][]float64{{0, 0}, {0, 0}, {0, 0}}}
	require.NoError(t, f.LoopHook(ring, st, atime.FromSamples(1000, 1), atime.FromSamples(1000, 4), 0))

	changed := false
	for _, frame := range ring.frames {
		for _, v := range frame {
			if v != 0 {
				changed = true
			}
		}
	}
	assert.True(t, changed, "fiddler should have perturbed at least one sample in the template window")
}

func TestFiddlerDisabledAtZeroStrength(t *testing.T) {
	f := NewFiddler(0, 0x1)
	_, _ = f.StartHook(nil, 1000, 1, 10)
	st := stim.NewSet()
	st.PushBack(0x1, atime.FromSamples(1000, 0), 0)
	ring := &sliceRing{frames: [][]float64{{5}, {5}}}
	require.NoError(t, f.LoopHook(ring, st, atime.FromSamples(1000, 0), atime.FromSamples(1000, 2), 0))
	assert.Equal(t, [][]float64{{5}, {5}}, ring.frames)
}

func TestLSLObserverCountsWithoutMutating(t *testing.T) {
	o := NewLSLObserver(nil)
	_, _ = o.StartHook(nil, 100, 1, 10)
	ring := &sliceRing{frames: [][]float64{{1}, {2}, {3}}}
	st := stim.NewSet()
	require.NoError(t, o.LoopHook(ring, st, 0, 0, 0))
	assert.EqualValues(t, 1, o.Chunks())
	assert.EqualValues(t, 3, o.Samples())
	assert.Equal(t, [][]float64{{1}, {2}, {3}}, ring.frames)
}
