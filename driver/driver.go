// Package driver defines the pull/push contract every acquisition
// source (synthetic generator, captured-file replay, network feed)
// must satisfy to be driven by a pipeline.Pipeline, grounded on the
// teacher's MediaBridge's single-producer-goroutine shape generalized
// from "read one RTP/SIP source" to "drive any sample source".
package driver

import "github.com/openacq/acqd/atime"

// Header describes the sample stream a Driver will produce once
// Initialize succeeds. It is immutable for the life of the driver.
type Header struct {
	Channels        uint16
	SamplingHz      uint32
	SamplesPerBlock uint32
	ChannelNames    []string
	ChannelUnits    []float64 // 2*Channels entries: unit, scale, interleaved; nil if unknown
}

// Callback is how a Driver hands samples back to its owner. SetSamples
// delivers n new single-sample vectors of length header.Channels,
// channel-major within each vector, at the driver's wall-clock arrival
// time now.
type Callback interface {
	SetSamples(buf []float64, n int, now atime.T) error
}

// Driver is the contract every acquisition source must satisfy.
// The owner promises: exactly one active driver at a time; Loop is
// never called before Start; no driver state is mutated from another
// goroutine.
type Driver interface {
	// Initialize prepares the driver to produce samplesPerBlock-sized
	// blocks and registers cb to receive samples. After it returns true,
	// Header returns a fully populated Header.
	Initialize(samplesPerBlock uint32, cb Callback) (bool, error)
	// Header returns the stream shape. Valid only after a successful
	// Initialize.
	Header() Header
	// Start begins production; subsequent Loop calls may push samples.
	Start() (bool, error)
	// Loop performs one non-blocking iteration. Returns false on an
	// irrecoverable error.
	Loop() (bool, error)
	// Stop halts production; the driver may be Started again.
	Stop() error
	// Uninitialize releases any resources acquired by Initialize.
	Uninitialize() error
	// IsConfigurable reports whether Configure has any effect; both are
	// out of scope for the drivers in this package and always return
	// false / ErrNotConfigurable.
	IsConfigurable() bool
	// Configure opens a (driver-specific) configuration dialog/flow.
	Configure() error
}

// ErrNotConfigurable is returned by Configure on drivers that report
// IsConfigurable() == false.
var ErrNotConfigurable = errNotConfigurable{}

type errNotConfigurable struct{}

func (errNotConfigurable) Error() string { return "driver: not configurable" }
