package session

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openacq/acqd/atime"
)

func TestClientSessionDeliversEnqueuedChunks(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	cs := NewClientSession(server, atime.T(0), nil)
	cs.Start()
	defer cs.Stop()

	cs.Enqueue([]byte("hello"))

	buf := make([]byte, 5)
	client.SetReadDeadline(time.Now().Add(time.Second))
	_, err := io.ReadFull(client, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))
}

func TestClientSessionStopClosesConnection(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	cs := NewClientSession(server, atime.T(0), nil)
	cs.Start()
	require.NoError(t, cs.Stop())

	client.SetReadDeadline(time.Now().Add(time.Second))
	_, err := client.Read(make([]byte, 1))
	assert.Error(t, err) // peer closed
}

func TestListenerTaskProducesPendingConnections(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	task := NewListenerTask(ln, func() atime.T { return atime.T(42) }, nil)
	go task.Run()
	defer task.Stop()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	select {
	case pc := <-task.Pending:
		assert.Equal(t, atime.T(42), pc.ConnectAt)
		pc.Conn.Close()
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pending connection")
	}
}
