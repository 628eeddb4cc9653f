package supervisor

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openacq/acqd/driver/synthetic"
	"github.com/openacq/acqd/hooks"
	"github.com/openacq/acqd/pipeline"
)

func TestStartAcceptsClientsAndSnapshotReportsState(t *testing.T) {
	drv := synthetic.New(synthetic.Config{
		Channels:        2,
		SamplingHz:      256,
		SamplesPerBlock: 16,
		BatchSamples:    16,
	})

	sup := New(Config{
		ListenAddr:      "127.0.0.1:0",
		SamplesPerBlock: 16,
	}, drv, hooks.NewRegistry(), pipeline.Config{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Start(ctx) }()

	require.Eventually(t, func() bool {
		sup.mu.Lock()
		defer sup.mu.Unlock()
		return sup.listener != nil
	}, time.Second, time.Millisecond)

	addr := sup.listener.Addr().String()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	// The header chunk should arrive promptly once admitted.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	r := bufio.NewReader(conn)
	sizeBuf := make([]byte, 8)
	_, err = r.Read(sizeBuf)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return sup.Snapshot().ClientCount >= 1
	}, time.Second, 5*time.Millisecond)

	snap := sup.Snapshot()
	assert.Equal(t, "started", snap.State)
	assert.Empty(t, snap.LastError)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}
