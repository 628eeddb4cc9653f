// Package pipeline implements the acquisition hot loop: it drives a
// driver.Driver, applies oversampling and NaN scrubbing, dispatches
// plug-in hooks, runs drift correction, and fans the resulting blocks
// out to connected clients. Grounded on the real OpenViBE acquisition
// server's CAcquisitionServer::loop() (accept/reap/drive-driver/emit
// in that order, a double-lock around the pending-connection list) and
// on the teacher's context.Context+sync.WaitGroup goroutine lifecycle.
package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime"
	"sync"
	"time"

	"github.com/openacq/acqd/acqerr"
	"github.com/openacq/acqd/atime"
	"github.com/openacq/acqd/driver"
	"github.com/openacq/acqd/drift"
	"github.com/openacq/acqd/hooks"
	"github.com/openacq/acqd/session"
	"github.com/openacq/acqd/stim"
	"github.com/openacq/acqd/wire"
)

// Config configures a Pipeline. Zero values fall back to defaults
// matching the documented configuration-token defaults.
type Config struct {
	OverSamplingFactor int
	NaNPolicy          NaNPolicy
	Drift              drift.Config

	// StartedDriverSleepMS selects the wait policy between unproductive
	// driver polls while Started: >0 sleeps that many milliseconds, 0
	// yields, <0 busy-spins.
	StartedDriverSleepMS int
	DriverTimeout        time.Duration

	ChannelSelection bool

	Log *slog.Logger
}

func (c *Config) setDefaults() {
	if c.OverSamplingFactor < 1 {
		c.OverSamplingFactor = 1
	}
	if c.OverSamplingFactor > 16 {
		c.OverSamplingFactor = 16
	}
	if c.DriverTimeout == 0 {
		c.DriverTimeout = 5 * time.Second
	}
	if c.Log == nil {
		c.Log = slog.Default()
	}
}

// Pipeline owns the pending ring, drift state, hooks registry, the
// driver handle, and the ClientSession registry exclusively; each
// ClientSession exclusively owns its worker goroutine and out-queue.
type Pipeline struct {
	cfg    Config
	drv    driver.Driver
	hdr    driver.Header
	hooks  *hooks.Registry
	corr   *drift.Corrector
	signal wire.SignalCodec
	stimC  wire.StimulationCodec

	ring  *pendingRing
	over  *oversampler
	scrub *nanScrubber

	pendingStimSet *stim.Set

	// protectMu is held briefly by anybody inspecting or changing
	// pipeline-facing state (lifecycle state, the client registry,
	// status queries); executeMu is held while the driver callbacks
	// SetSamples and SetStimulations run. No code path takes both.
	// Pending connections themselves are handed over on the pending
	// channel rather than under a lock.
	protectMu sync.Mutex
	executeMu sync.Mutex

	state           State
	startTime       atime.T
	effectiveRateHz uint32
	samplesPerBlock uint32
	pastBufferCount uint64
	lastSampleTime  atime.T
	gotData         bool

	clients map[string]*session.ClientSession
	pending chan session.PendingConnection

	quit chan struct{}
	wg   sync.WaitGroup

	mu            sync.Mutex
	lastErr       error
	chunksShipped uint64
}

// New builds a Pipeline around drv, wiring hooksReg's registered
// plug-ins into the loop_hook dispatch point. pending is typically a
// session.ListenerTask's Pending channel.
func New(drv driver.Driver, hooksReg *hooks.Registry, pending chan session.PendingConnection, cfg Config) *Pipeline {
	cfg.setDefaults()
	if hooksReg == nil {
		hooksReg = hooks.NewRegistry()
	}
	return &Pipeline{
		cfg:            cfg,
		drv:            drv,
		hooks:          hooksReg,
		corr:           drift.New(cfg.Drift),
		pendingStimSet: stim.NewSet(),
		clients:        make(map[string]*session.ClientSession),
		pending:        pending,
		quit:           make(chan struct{}),
		state:          Idle,
	}
}

// Listen binds a TCP listener on addr (":1024" if empty), wrapping a
// bind failure with acqerr.ErrNetworkBindFailed.
func Listen(addr string) (net.Listener, error) {
	if addr == "" {
		addr = ":1024"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s", acqerr.ErrNetworkBindFailed, addr, err)
	}
	return ln, nil
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	p.protectMu.Lock()
	defer p.protectMu.Unlock()
	return p.state
}

// LastError returns the most recently recorded fatal error, if any.
func (p *Pipeline) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

func (p *Pipeline) setErr(err error) {
	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()
	if err != nil {
		p.cfg.Log.Error("pipeline error", "err", err)
	}
}

// ChunksShipped returns the total number of signal chunks enqueued
// across all clients, for status/metrics reporting.
func (p *Pipeline) ChunksShipped() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chunksShipped
}

// ClientCount returns the number of currently registered clients.
func (p *Pipeline) ClientCount() int {
	p.protectMu.Lock()
	defer p.protectMu.Unlock()
	return len(p.clients)
}

// DriftEstimate returns the corrector's current jitter estimate in
// fractional samples, for status reporting.
func (p *Pipeline) DriftEstimate() float64 {
	return p.corr.Estimate()
}

// Connect transitions Idle -> Connected: initializes the driver and
// registered hooks so their headers become available.
func (p *Pipeline) Connect(samplesPerBlock uint32) error {
	p.protectMu.Lock()
	defer p.protectMu.Unlock()
	if p.state != Idle {
		return fmt.Errorf("pipeline: connect requires Idle state, got %s", p.state)
	}
	ok, err := p.drv.Initialize(samplesPerBlock, p)
	if err != nil {
		return fmt.Errorf("%w: driver initialize: %s", acqerr.ErrDriverFailed, err)
	}
	if !ok {
		return fmt.Errorf("%w: driver initialize returned false", acqerr.ErrDriverFailed)
	}
	p.hdr = p.drv.Header()
	if p.hdr.Channels == 0 || p.hdr.SamplingHz == 0 {
		return fmt.Errorf("%w: driver header has zero channels or rate", acqerr.ErrBadConfig)
	}
	if err := p.hooks.Create(); err != nil {
		return fmt.Errorf("pipeline: hook create: %w", err)
	}
	p.samplesPerBlock = samplesPerBlock
	p.effectiveRateHz = p.hdr.SamplingHz * uint32(p.cfg.OverSamplingFactor)
	p.ring = newPendingRing(int(p.hdr.Channels))
	p.over = newOversampler(p.cfg.OverSamplingFactor, int(p.hdr.Channels))
	p.scrub = newNaNScrubber(p.cfg.NaNPolicy, int(p.hdr.Channels))
	p.state = Connected
	return nil
}

// StartAcquisition transitions Connected -> Started: hooks may veto,
// then the driver is started and the hot loop goroutine is spawned.
func (p *Pipeline) StartAcquisition() error {
	p.protectMu.Lock()
	if p.state != Connected {
		p.protectMu.Unlock()
		return fmt.Errorf("pipeline: start requires Connected state, got %s", p.state)
	}
	ok, err := p.hooks.Start(p.hdr.ChannelNames, p.effectiveRateHz, p.hdr.Channels, p.samplesPerBlock)
	if err != nil {
		p.protectMu.Unlock()
		return fmt.Errorf("pipeline: hook start: %w", err)
	}
	if !ok {
		p.protectMu.Unlock()
		return errors.New("pipeline: a hook vetoed start")
	}
	started, err := p.drv.Start()
	if err != nil || !started {
		p.protectMu.Unlock()
		return fmt.Errorf("%w: driver start: %v", acqerr.ErrDriverFailed, err)
	}
	p.startTime = atime.Zero
	p.pastBufferCount = 0
	p.corr.Start(p.effectiveRateHz, p.startTime)
	p.state = Started
	p.protectMu.Unlock()

	p.wg.Add(1)
	go p.hotLoop()
	return nil
}

// StopAcquisition transitions Started -> Connected: signals the hot
// loop to exit, waits for it, then stops the driver and hooks and
// releases every client session.
func (p *Pipeline) StopAcquisition() error {
	p.protectMu.Lock()
	if p.state != Started {
		p.protectMu.Unlock()
		return fmt.Errorf("pipeline: stop requires Started state, got %s", p.state)
	}
	p.protectMu.Unlock()

	close(p.quit)
	p.wg.Wait()
	p.quit = make(chan struct{})

	if err := p.drv.Stop(); err != nil {
		return err
	}
	if err := p.hooks.Stop(); err != nil {
		return err
	}

	p.protectMu.Lock()
	p.state = Connected
	for _, cs := range p.clients {
		_ = cs.Stop()
	}
	p.clients = make(map[string]*session.ClientSession)
	p.protectMu.Unlock()
	return nil
}

// Disconnect transitions Connected -> Idle, releasing the driver.
func (p *Pipeline) Disconnect() error {
	p.protectMu.Lock()
	defer p.protectMu.Unlock()
	if p.state != Connected {
		return fmt.Errorf("pipeline: disconnect requires Connected state, got %s", p.state)
	}
	if err := p.drv.Uninitialize(); err != nil {
		return err
	}
	p.state = Idle
	return nil
}

// Terminate moves the pipeline to its final Terminated state from any
// state, closing remaining client sessions.
func (p *Pipeline) Terminate() {
	p.protectMu.Lock()
	defer p.protectMu.Unlock()
	for _, cs := range p.clients {
		_ = cs.Stop()
	}
	p.clients = make(map[string]*session.ClientSession)
	p.state = Terminated
}

// SetSamples implements driver.Callback. It oversamples, scrubs NaNs,
// pushes to the ring, and notifies drift correction.
func (p *Pipeline) SetSamples(buf []float64, n int, now atime.T) error {
	p.executeMu.Lock()
	defer p.executeMu.Unlock()

	channels := int(p.hdr.Channels)
	var out [][]float64
	for i := 0; i < n; i++ {
		frame := buf[i*channels : (i+1)*channels]
		out = p.over.Step(out, frame)
	}
	for i, frame := range out {
		sampleIdx := p.corr.Corrected() + uint64(i)
		sampleTime := atime.FromSamples(p.effectiveRateHz, sampleIdx)
		p.scrub.Scrub(frame, sampleTime, p.pendingStimSet)
		p.ring.PushBack(frame)
	}
	p.lastSampleTime = now

	if err := p.corr.Push(uint64(len(out)), now); err != nil && !errors.Is(err, drift.ErrZeroRate) {
		return err
	}
	if p.corr.Policy() == drift.Forced {
		if k := p.corr.Suggested(); k != 0 {
			p.applyDrift(k)
		}
	}

	p.mu.Lock()
	p.gotData = p.gotData || n > 0
	p.mu.Unlock()
	return nil
}

// applyDrift runs the corrector's Apply and, on a drop, clamps any
// stimulation dated past the removal boundary to that boundary.
func (p *Pipeline) applyDrift(k int64) {
	applied, boundary := p.corr.Apply(k, p.ring, p.pendingStimSet)
	if !applied || k >= 0 {
		return
	}
	for i := 0; i < p.pendingStimSet.Size(); i++ {
		if p.pendingStimSet.GetDate(i) > boundary {
			p.pendingStimSet.SetDate(i, boundary)
		}
	}
}

// SetStimulations appends set to the pending stimulation set, shifted
// by the acquisition time of the count of samples admitted so far
// (the date the next admitted sample will carry).
func (p *Pipeline) SetStimulations(set *stim.Set) {
	p.executeMu.Lock()
	defer p.executeMu.Unlock()
	shift := atime.FromSamples(p.effectiveRateHz, p.corr.Corrected())
	p.pendingStimSet.Append(set, shift)
}

// hotLoop is the pipeline's dedicated goroutine: accept, reap, drive
// the driver, emit blocks, repeat until Stop closes quit.
func (p *Pipeline) hotLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.quit:
			return
		default:
		}

		p.acceptStep()
		p.reapStep()

		if err := p.driveDriver(); err != nil {
			p.setErr(err)
			p.protectMu.Lock()
			p.state = Connected
			p.protectMu.Unlock()
			return
		}

		p.emitBlocks()
	}
}

// acceptStep drains every pending connection, admitting it if the
// pipeline is Started and otherwise dropping the socket, matching the
// real acquisition server's "state change otherwise breaks
// consistency" rule.
func (p *Pipeline) acceptStep() {
	for {
		select {
		case pc, ok := <-p.pending:
			if !ok {
				return
			}
			p.admit(pc)
		default:
			return
		}
	}
}

// ceilDiv returns ceil(a/b), or 0 if b is 0.
func ceilDiv(a, b uint64) uint64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// admit computes a new client's starting block and stimulation offset
// and registers it. The arithmetic resolves an ambiguity in the
// source formula (see DESIGN.md): rather than splicing a sub-block
// offset window, a late joiner always starts at the next full block
// boundary at or after its connect time, which is what scenario-5-
// style fixtures expect ("the next block boundary >= 530 ms").
func (p *Pipeline) admit(pc session.PendingConnection) {
	p.protectMu.Lock()
	started := p.state == Started
	p.protectMu.Unlock()
	if !started {
		_ = pc.Conn.Close()
		return
	}

	connectSamples := pc.ConnectAt.Samples(p.effectiveRateHz)
	neededBlock := ceilDiv(connectSamples, uint64(p.samplesPerBlock))
	if neededBlock < p.pastBufferCount {
		neededBlock = p.pastBufferCount
	}
	skip := (neededBlock - p.pastBufferCount) * uint64(p.samplesPerBlock)
	stimOffset := atime.FromSamples(p.effectiveRateHz, neededBlock*uint64(p.samplesPerBlock))

	cs := session.NewClientSession(pc.Conn, pc.ConnectAt, p.cfg.Log)
	cs.SamplesToSkip = uint32(skip)
	cs.StimulationOffset = stimOffset
	cs.Start()

	header := wire.SignalHeader{
		SamplingHz:      uint64(p.effectiveRateHz),
		Channels:        p.hdr.Channels,
		SamplesPerBlock: p.samplesPerBlock,
		ChannelNames:    p.hdr.ChannelNames,
	}
	if len(p.hdr.ChannelUnits) == int(p.hdr.Channels)*2 {
		header.HasUnits = true
		header.ChannelUnits = make([]wire.ChannelUnit, p.hdr.Channels)
		for i := range header.ChannelUnits {
			header.ChannelUnits[i] = wire.ChannelUnit{
				UnitCode:  p.hdr.ChannelUnits[2*i],
				ScaleCode: p.hdr.ChannelUnits[2*i+1],
			}
		}
	}
	var buf bytes.Buffer
	if err := wire.WriteChunk(&buf, p.signal.EncodeHeader(header)); err == nil {
		cs.Enqueue(buf.Bytes())
	}
	cs.ChannelUnitsSent = header.HasUnits

	p.protectMu.Lock()
	p.clients[cs.ID] = cs
	p.protectMu.Unlock()

	if err := p.hooks.AcceptNewConnection(); err != nil {
		p.setErr(fmt.Errorf("pipeline: accept hook: %w", err))
	}
}

// reapStep closes and forgets any client whose socket the peer has
// closed.
func (p *Pipeline) reapStep() {
	p.protectMu.Lock()
	defer p.protectMu.Unlock()
	for id, cs := range p.clients {
		if cs.Closed() {
			_ = cs.Stop()
			delete(p.clients, id)
		}
	}
}

// driveDriver polls the driver in a bounded spin, honouring the
// configured sleep policy between unproductive polls, until data
// arrives, the driver fails, or DriverTimeout elapses.
func (p *Pipeline) driveDriver() error {
	p.mu.Lock()
	p.gotData = false
	p.mu.Unlock()

	deadline := time.Now().Add(p.cfg.DriverTimeout)
	for {
		ok, err := p.drv.Loop()
		if err != nil {
			return fmt.Errorf("%w: %s", acqerr.ErrDriverFailed, err)
		}
		if !ok {
			return fmt.Errorf("%w: driver loop returned false", acqerr.ErrDriverFailed)
		}

		p.mu.Lock()
		got := p.gotData
		p.mu.Unlock()
		if got {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: no data within %s", acqerr.ErrDriverTimeout, p.cfg.DriverTimeout)
		}
		sleepPolicy(p.cfg.StartedDriverSleepMS)
	}
}

func sleepPolicy(ms int) {
	switch {
	case ms > 0:
		time.Sleep(time.Duration(ms) * time.Millisecond)
	case ms == 0:
		runtime.Gosched()
	default:
		// busy spin
	}
}

// ringWindow adapts a block-sized prefix of the pending ring to
// hooks.Ring, so a hook's index 0 always means "first sample of the
// chunk currently being emitted" rather than the whole accumulated
// ring.
type ringWindow struct {
	ring *pendingRing
	n    int
}

func (w ringWindow) Len() int           { return w.n }
func (w ringWindow) At(i int) []float64 { return w.ring.At(i) }

// emitBlocks ships every fully-accumulated block while the ring holds
// at least two blocks' worth of samples, per client.
func (p *Pipeline) emitBlocks() {
	channels := int(p.hdr.Channels)
	block := int(p.samplesPerBlock)

	for p.ring.Len() >= 2*block {
		bufferDuration := atime.FromSamples(p.effectiveRateHz, uint64(block))
		startTime := atime.FromSamples(p.effectiveRateHz, p.pastBufferCount*uint64(block))
		endTime := startTime.Add(bufferDuration)

		if err := p.hooks.Loop(ringWindow{p.ring, block}, p.pendingStimSet, startTime, endTime, p.lastSampleTime); err != nil {
			p.setErr(fmt.Errorf("pipeline: loop hook: %w", err))
		}

		frames := p.ring.Front(block)
		flat := make([]float64, channels*block)
		for i, frame := range frames {
			for c := 0; c < channels && c < len(frame); c++ {
				flat[c*block+i] = frame[c]
			}
		}
		sigPayload := p.signal.EncodeBuffer(flat)

		p.protectMu.Lock()
		for _, cs := range p.clients {
			if cs.SamplesToSkip >= p.samplesPerBlock {
				cs.SamplesToSkip -= p.samplesPerBlock
				continue
			}
			cs.SamplesToSkip = 0

			var recs []wire.StimRecord
			for i := 0; i < p.pendingStimSet.Size(); i++ {
				date := p.pendingStimSet.GetDate(i)
				if date < startTime || date > endTime {
					continue
				}
				newDate := date.Sub(cs.StimulationOffset)
				recs = append(recs, wire.StimRecord{
					ID:       p.pendingStimSet.GetID(i),
					Date:     uint64(newDate),
					Duration: uint64(p.pendingStimSet.GetDuration(i)),
				})
			}

			var out bytes.Buffer
			if err := wire.WriteChunk(&out, sigPayload); err != nil {
				continue
			}
			if err := wire.WriteChunk(&out, p.stimC.EncodeBuffer(recs)); err != nil {
				continue
			}
			cs.Enqueue(out.Bytes())

			p.mu.Lock()
			p.chunksShipped++
			p.mu.Unlock()
		}
		p.protectMu.Unlock()

		p.pendingStimSet.RemoveRange(atime.Zero, endTime)
		p.ring.DropFront(block)
		p.pastBufferCount++
	}
}
