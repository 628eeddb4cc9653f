// Package acqerr defines the sentinel error kinds a pipeline/supervisor
// can surface. Callers wrap these with fmt.Errorf("%w: ...") and match
// with errors.Is.
package acqerr

import "errors"

var (
	// ErrBadConfig covers a zero sampling rate, zero channels, a port
	// already in use, or an unrecognised policy token value.
	ErrBadConfig = errors.New("bad config")
	// ErrDriverFailed covers initialize/start/loop returning failure.
	ErrDriverFailed = errors.New("driver failed")
	// ErrDriverTimeout covers no data arriving within the configured
	// driver timeout.
	ErrDriverTimeout = errors.New("driver timeout")
	// ErrNetworkBindFailed covers the TCP listener failing to bind.
	ErrNetworkBindFailed = errors.New("network bind failed")
	// ErrInternalInvariant covers hot-loop invariant violations that
	// should never occur (non-divisible ring indices, ring underflow).
	ErrInternalInvariant = errors.New("internal invariant violated")
)
