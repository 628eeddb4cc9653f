package pipeline

import (
	"bufio"
	"math"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/openacq/acqd/atime"
	"github.com/openacq/acqd/driver/replay"
	"github.com/openacq/acqd/driver/synthetic"
	"github.com/openacq/acqd/session"
	"github.com/openacq/acqd/wire"
)

// readHeader reads and decodes the signal-header chunk a freshly
// admitted client always receives first.
func readHeader(t *testing.T, r *bufio.Reader) wire.SignalHeader {
	t.Helper()
	payload, err := wire.ReadChunk(r)
	require.NoError(t, err)
	h, err := wire.SignalCodec{}.DecodeHeader(payload)
	require.NoError(t, err)
	return h
}

// readBlock reads one signal buffer chunk followed by its stimulation
// chunk, as the pipeline always enqueues them back to back.
func readBlock(t *testing.T, r *bufio.Reader, h wire.SignalHeader) ([]float64, []wire.StimRecord) {
	t.Helper()
	sigPayload, err := wire.ReadChunk(r)
	require.NoError(t, err)
	data, err := wire.SignalCodec{}.DecodeBuffer(sigPayload, int(h.Channels)*int(h.SamplesPerBlock))
	require.NoError(t, err)

	stimPayload, err := wire.ReadChunk(r)
	require.NoError(t, err)
	recs, err := wire.StimulationCodec{}.DecodeBuffer(stimPayload)
	require.NoError(t, err)
	return data, recs
}

func TestCleanSessionDeliversConstantBlocks(t *testing.T) {
	const channels, rate, block, total = 8, 512, 32, 2048
	samples := make([]float64, total*channels)
	for i := range samples {
		samples[i] = 1.0
	}
	drv, err := replay.New(replay.Config{
		Channels:        channels,
		SamplingHz:      rate,
		SamplesPerBlock: block,
		Samples:         samples,
		BatchSamples:    block,
		Now:             func(n uint64) atime.T { return atime.FromSamples(rate, n) },
	})
	require.NoError(t, err)

	pending := make(chan session.PendingConnection, 1)
	p := New(drv, nil, pending, Config{})
	require.NoError(t, p.Connect(block))
	require.NoError(t, p.StartAcquisition())

	clientConn, serverConn := net.Pipe()
	pending <- session.PendingConnection{Conn: serverConn, ConnectAt: atime.Zero}

	r := bufio.NewReader(clientConn)
	h := readHeader(t, r)
	assert.EqualValues(t, channels, h.Channels)
	assert.EqualValues(t, block, h.SamplesPerBlock)

	// The ring always holds back at least one block as shipping
	// headroom, so the final block of an exhausted, non-looping source
	// never ships.
	const wantChunks = total/block - 1
	for i := 0; i < wantChunks; i++ {
		data, recs := readBlock(t, r, h)
		assert.Empty(t, recs)
		for _, v := range data {
			assert.Equal(t, 1.0, v)
		}
	}

	require.NoError(t, p.StopAcquisition())
	_ = clientConn.Close()
}

func TestNaNBurstEmitsArtifactThenNoArtifact(t *testing.T) {
	const channels, rate, block, total = 8, 512, 32, 320
	samples := make([]float64, total*channels)
	for s := 0; s < total; s++ {
		for c := 0; c < channels; c++ {
			v := 1.0
			if s >= 100 && s < 200 && (c == 0 || c == 3) {
				v = math.NaN()
			}
			samples[s*channels+c] = v
		}
	}
	drv, err := replay.New(replay.Config{
		Channels:        channels,
		SamplingHz:      rate,
		SamplesPerBlock: block,
		Samples:         samples,
		BatchSamples:    block,
		Now:             func(n uint64) atime.T { return atime.FromSamples(rate, n) },
	})
	require.NoError(t, err)

	pending := make(chan session.PendingConnection, 1)
	p := New(drv, nil, pending, Config{NaNPolicy: NaNZero})
	require.NoError(t, p.Connect(block))
	require.NoError(t, p.StartAcquisition())

	clientConn, serverConn := net.Pipe()
	pending <- session.PendingConnection{Conn: serverConn, ConnectAt: atime.Zero}

	r := bufio.NewReader(clientConn)
	h := readHeader(t, r)

	var artifactDate, noArtifactDate atime.T
	var sawArtifact, sawNoArtifact bool
	for i := 0; i < total/block-1; i++ {
		data, recs := readBlock(t, r, h)
		for _, rec := range recs {
			switch rec.ID {
			case 0x8200:
				sawArtifact = true
				artifactDate = atime.T(rec.Date)
			case 0x8201:
				sawNoArtifact = true
				noArtifactDate = atime.T(rec.Date)
			}
		}
		blockStart := i * block
		for s := 0; s < block; s++ {
			globalIdx := blockStart + s
			if globalIdx >= 100 && globalIdx < 200 {
				assert.Equal(t, 0.0, data[0*block+s], "channel 0 sample %d", globalIdx)
				assert.Equal(t, 0.0, data[3*block+s], "channel 3 sample %d", globalIdx)
			} else {
				assert.Equal(t, 1.0, data[0*block+s], "channel 0 sample %d", globalIdx)
			}
		}
	}
	require.True(t, sawArtifact)
	require.True(t, sawNoArtifact)
	assert.Equal(t, atime.FromSamples(rate, 100), artifactDate)
	assert.Equal(t, atime.FromSamples(rate, 199), noArtifactDate)

	require.NoError(t, p.StopAcquisition())
	_ = clientConn.Close()
}

func TestOversamplingDoublesRate(t *testing.T) {
	const channels, rate, block, total = 1, 100, 10, 100
	samples := make([]float64, total*channels)
	for i := 0; i < total; i++ {
		samples[i] = float64(i)
	}
	drv, err := replay.New(replay.Config{
		Channels:        channels,
		SamplingHz:      rate,
		SamplesPerBlock: block,
		Samples:         samples,
		BatchSamples:    block,
		Now:             func(n uint64) atime.T { return atime.FromSamples(rate, n) },
	})
	require.NoError(t, err)

	pending := make(chan session.PendingConnection, 1)
	p := New(drv, nil, pending, Config{OverSamplingFactor: 2})
	require.NoError(t, p.Connect(block))
	require.NoError(t, p.StartAcquisition())

	clientConn, serverConn := net.Pipe()
	pending <- session.PendingConnection{Conn: serverConn, ConnectAt: atime.Zero}

	r := bufio.NewReader(clientConn)
	h := readHeader(t, r)
	assert.EqualValues(t, rate*2, h.SamplingHz)

	var out []float64
	// The ring always holds back at least one block as shipping
	// headroom, so the final oversampled block never ships.
	for i := 0; i < (total*2)/block-1; i++ {
		data, _ := readBlock(t, r, h)
		out = append(out, data...)
	}
	require.GreaterOrEqual(t, len(out), 4)
	// output[2k+1] == input[k]; output[0] == 0.5*(0+input[0]).
	assert.InDelta(t, 0.5*samples[0], out[0], 1e-9)
	assert.InDelta(t, samples[0], out[1], 1e-9)
	assert.InDelta(t, 0.5*(samples[0]+samples[1]), out[2], 1e-9)
	assert.InDelta(t, samples[1], out[3], 1e-9)

	require.NoError(t, p.StopAcquisition())
	_ = clientConn.Close()
}

// TestLateSubscriberStartsAtNextBlockBoundary exercises the admit-time
// skip arithmetic directly (package-internal test): a client
// connecting 530ms into a rate-1000/block-100 stream, once 5 blocks
// have already shipped, must be scheduled to start at sample 600, not
// a partial offset into block 5.
func TestLateSubscriberStartsAtNextBlockBoundary(t *testing.T) {
	drv := synthetic.New(synthetic.Config{Channels: 1, SamplingHz: 1000, SamplesPerBlock: 100})
	pending := make(chan session.PendingConnection, 1)
	p := New(drv, nil, pending, Config{})
	require.NoError(t, p.Connect(100))

	p.protectMu.Lock()
	p.state = Started
	p.pastBufferCount = 5 // blocks [0,500) already shipped
	p.effectiveRateHz = 1000
	p.samplesPerBlock = 100
	p.protectMu.Unlock()

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	p.admit(session.PendingConnection{Conn: serverConn, ConnectAt: atime.FromSeconds(0.530)})

	p.protectMu.Lock()
	var cs *session.ClientSession
	for _, c := range p.clients {
		cs = c
	}
	p.protectMu.Unlock()
	require.NotNil(t, cs)
	assert.EqualValues(t, 100, cs.SamplesToSkip, "must skip the in-flight [500,600) block entirely")
	assert.Equal(t, atime.FromSamples(1000, 600), cs.StimulationOffset)
}

func TestReapRemovesClosedClient(t *testing.T) {
	drv := synthetic.New(synthetic.Config{Channels: 1, SamplingHz: 100, SamplesPerBlock: 10})
	pending := make(chan session.PendingConnection, 1)
	p := New(drv, nil, pending, Config{})
	require.NoError(t, p.Connect(10))
	require.NoError(t, p.StartAcquisition())
	defer p.StopAcquisition()

	clientConn, serverConn := net.Pipe()
	p.admit(session.PendingConnection{Conn: serverConn, ConnectAt: atime.Zero})
	require.Equal(t, 1, p.ClientCount())

	_ = clientConn.Close()
	require.Eventually(t, func() bool {
		p.reapStep()
		return p.ClientCount() == 0
	}, time.Second, time.Millisecond)
}

// TestLateSubscriberSkipArithmeticProperty is the property test §9's
// Open Question 1 calls for: across randomized rates, block sizes,
// already-shipped block counts, and connect times, a freshly admitted
// client's samples_to_skip must be a whole number of blocks (so the
// emit loop's per-block decrement brings it below samples_per_block
// exactly when the client's first chunk is due), and the client must
// start on a block boundary no earlier than its connect time.
func TestLateSubscriberSkipArithmeticProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		rateHz := rapid.Uint32Range(1, 48000).Draw(rt, "rateHz")
		block := rapid.Uint32Range(1, 1000).Draw(rt, "block")
		pastBufferCount := rapid.Uint64Range(0, 1000).Draw(rt, "pastBufferCount")
		connectSeconds := rapid.Float64Range(0, 120).Draw(rt, "connectSeconds")

		drv := synthetic.New(synthetic.Config{Channels: 1, SamplingHz: rateHz, SamplesPerBlock: block})
		pending := make(chan session.PendingConnection, 1)
		p := New(drv, nil, pending, Config{})
		require.NoError(rt, p.Connect(block))

		p.protectMu.Lock()
		p.state = Started
		p.pastBufferCount = pastBufferCount
		p.effectiveRateHz = rateHz
		p.samplesPerBlock = block
		p.protectMu.Unlock()

		_, serverConn := net.Pipe()
		connectAt := atime.FromSeconds(connectSeconds)
		p.admit(session.PendingConnection{Conn: serverConn, ConnectAt: connectAt})

		p.protectMu.Lock()
		var cs *session.ClientSession
		for _, c := range p.clients {
			cs = c
		}
		p.protectMu.Unlock()
		require.NotNil(rt, cs)

		assert.Zero(rt, cs.SamplesToSkip%block, "admit must never leave a partial-block skip outstanding")

		startedAtBlock := pastBufferCount*uint64(block) + uint64(cs.SamplesToSkip)
		connectSamples := connectAt.Samples(rateHz)
		assert.GreaterOrEqual(rt, startedAtBlock, connectSamples, "must never start before the client connected")
		assert.Zero(rt, startedAtBlock%uint64(block), "must land exactly on a block boundary")
	})
}
