package hooks

import (
	"log/slog"

	"github.com/openacq/acqd/atime"
)

// LSLObserver stands in for the out-of-scope Lab Streaming Layer
// forwarder, grounded on ovasCPluginLSLOutput.cpp's observe-only
// contract: it counts and logs admitted chunks but never mutates the
// ring or stimulation set, consistent with the registration-order rule
// that producing hooks (Fiddler) run before observing hooks.
type LSLObserver struct {
	BaseHook

	Log *slog.Logger

	chunks  uint64
	samples uint64
}

// NewLSLObserver builds an LSLObserver that logs with log.
func NewLSLObserver(log *slog.Logger) *LSLObserver {
	return &LSLObserver{BaseHook: BaseHook{HookName: "lsl_observer"}, Log: log}
}

func (o *LSLObserver) StartHook(channelNames []string, rateHz uint32, channels uint16, samplesPerBlock uint32) (bool, error) {
	o.chunks = 0
	o.samples = 0
	if o.Log != nil {
		o.Log.Info("lsl observer started",
			"channels", channels, "rate_hz", rateHz, "samples_per_block", samplesPerBlock)
	}
	return true, nil
}

func (o *LSLObserver) LoopHook(ring Ring, _ StimSet, _, _, _ atime.T) error {
	o.chunks++
	o.samples += uint64(ring.Len())
	return nil
}

// Chunks returns the number of LoopHook calls (emitted blocks)
// observed since Start.
func (o *LSLObserver) Chunks() uint64 { return o.chunks }

// Samples returns the number of samples observed since Start.
func (o *LSLObserver) Samples() uint64 { return o.samples }

func (o *LSLObserver) StopHook() error {
	if o.Log != nil {
		o.Log.Info("lsl observer stopped", "chunks", o.chunks, "samples", o.samples)
	}
	return nil
}
