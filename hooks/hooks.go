// Package hooks implements the pipeline's plug-in interface: an
// ordered list of producer/observer extensions invoked once per block
// the hot loop emits, grounded on the OpenViBE acquisition-server plug-in
// contract (create/start/stop/loop/accept_new_connection) and adapted
// to Go as a small interface with an embeddable no-op base, in the
// idiom of the teacher's registration-ordered media pipeline stages.
package hooks

import "github.com/openacq/acqd/atime"

// Ring is the minimal in-place view a hook needs of the block about to
// be emitted: index 0 corresponds to chunkStart, so a hook can derive
// each sample's index via chunkStart.Samples(rateHz)+i without its own
// bookkeeping across calls. Because atime.FromSamples and T.Samples
// both round down, that index is one below the absolute sample index
// when rateHz does not divide the block's start evenly in fixed point
// (e.g. rate 1000, sample 100 reads back as 99). Mutating an entry in
// place is allowed; resizing is not.
type Ring interface {
	Len() int
	At(i int) []float64
}

// StimSet is the minimal view of the stimulation set a hook needs.
// pipeline's concrete *stim.Set satisfies this directly.
type StimSet interface {
	Size() int
	GetID(i int) uint64
	GetDate(i int) atime.T
	GetDuration(i int) atime.T
	PushBack(id uint64, date, duration atime.T)
}

// Hook is the contract a plug-in implements; any subset of methods may
// do real work, the rest inherit BaseHook's no-ops by embedding it.
type Hook interface {
	// Name identifies the hook for logging.
	Name() string
	// CreateHook runs once, right after pipeline construction.
	CreateHook() error
	// StartHook runs on every Started transition; returning false
	// vetoes the start.
	StartHook(channelNames []string, rateHz uint32, channels uint16, samplesPerBlock uint32) (bool, error)
	// StopHook runs on every Started->Connected transition.
	StopHook() error
	// LoopHook runs once per emitted block (zero or more times per
	// hot-loop iteration) with that block's sample range
	// [chunkStart, chunkEnd) and the driver's latest delivery time.
	// It may mutate ring in place and append to stimSet; it must never
	// reorder or delete existing stimSet entries.
	LoopHook(ring Ring, stimSet StimSet, chunkStart, chunkEnd, sampleTime atime.T) error
	// AcceptNewConnectionHook runs whenever a new client completes its
	// handshake.
	AcceptNewConnectionHook() error
}

// BaseHook is a no-op Hook implementation meant to be embedded so
// concrete hooks only override what they need.
type BaseHook struct{ HookName string }

func (b BaseHook) Name() string { return b.HookName }

func (BaseHook) CreateHook() error { return nil }

func (BaseHook) StartHook(_ []string, _ uint32, _ uint16, _ uint32) (bool, error) {
	return true, nil
}

func (BaseHook) StopHook() error { return nil }

func (BaseHook) LoopHook(_ Ring, _ StimSet, _, _, _ atime.T) error { return nil }

func (BaseHook) AcceptNewConnectionHook() error { return nil }

// Registry holds hooks in registration order and dispatches to all of
// them, in order, for each lifecycle event. Producers (hooks that
// mutate ring/stimSet) must be registered before observers, so an
// observer sees the already-fiddled data on the same loop iteration.
type Registry struct {
	hooks []Hook
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry { return &Registry{} }

// Register appends h to the dispatch order.
func (r *Registry) Register(h Hook) { r.hooks = append(r.hooks, h) }

// Hooks returns the registered hooks in dispatch order.
func (r *Registry) Hooks() []Hook { return r.hooks }

// Create calls CreateHook on every registered hook, in order, stopping
// at the first error.
func (r *Registry) Create() error {
	for _, h := range r.hooks {
		if err := h.CreateHook(); err != nil {
			return err
		}
	}
	return nil
}

// Start calls StartHook on every registered hook, in order. If any
// hook vetoes the start (returns false, nil) or fails, Start stops and
// returns false with that hook's error, if any; the result does not
// say which hook it was.
func (r *Registry) Start(channelNames []string, rateHz uint32, channels uint16, samplesPerBlock uint32) (bool, error) {
	for _, h := range r.hooks {
		ok, err := h.StartHook(channelNames, rateHz, channels, samplesPerBlock)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Stop calls StopHook on every registered hook, in order, continuing
// past individual errors so every hook gets a chance to clean up; it
// returns the first error encountered, if any.
func (r *Registry) Stop() error {
	var firstErr error
	for _, h := range r.hooks {
		if err := h.StopHook(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Loop calls LoopHook on every registered hook, in order, stopping at
// the first error.
func (r *Registry) Loop(ring Ring, stimSet StimSet, chunkStart, chunkEnd, sampleTime atime.T) error {
	for _, h := range r.hooks {
		if err := h.LoopHook(ring, stimSet, chunkStart, chunkEnd, sampleTime); err != nil {
			return err
		}
	}
	return nil
}

// AcceptNewConnection calls AcceptNewConnectionHook on every
// registered hook, in order, stopping at the first error.
func (r *Registry) AcceptNewConnection() error {
	for _, h := range r.hooks {
		if err := h.AcceptNewConnectionHook(); err != nil {
			return err
		}
	}
	return nil
}
