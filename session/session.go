// Package session implements per-client TCP fan-out plumbing: the
// accept-side PendingConnection record, the ListenerTask that
// produces them, and the ClientSession worker that drains one
// client's out-queue, grounded on the teacher's MediaBridge's
// context.Context/cancel/sync.WaitGroup goroutine lifecycle and
// third_party/ubot/types.PendingConnection's naming.
package session

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openacq/acqd/atime"
)

// PendingConnection is a freshly accepted socket waiting for the
// pipeline's hot loop to admit it, recording the wall-clock-derived
// acquisition time at which the handshake completed.
type PendingConnection struct {
	Conn       net.Conn
	ConnectAt  atime.T
}

// OutQueueCapacity bounds how many encoded chunks may be queued for a
// single slow client before the pipeline starts dropping its own
// buffers on that client's behalf rather than blocking the hot loop.
const OutQueueCapacity = 256

// ClientSession is one connected client's fan-out state. Ownership:
// ClientSession exclusively owns its worker goroutine and out-queue;
// the pipeline produces chunks onto the queue and never blocks doing
// so, the worker exclusively consumes and writes to Conn.
type ClientSession struct {
	ID   string
	Conn net.Conn
	Log  *slog.Logger

	ConnectTime       atime.T
	StimulationOffset atime.T
	SamplesToSkip     uint32
	ChannelUnitsSent  bool

	outQueue chan []byte
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	dropped uint64
	sent    uint64
	mu      sync.Mutex
}

// NewClientSession wraps conn and assigns it a random session id.
func NewClientSession(conn net.Conn, connectTime atime.T, log *slog.Logger) *ClientSession {
	ctx, cancel := context.WithCancel(context.Background())
	return &ClientSession{
		ID:          uuid.NewString(),
		Conn:        conn,
		Log:         log,
		ConnectTime: connectTime,
		outQueue:    make(chan []byte, OutQueueCapacity),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start spawns the worker goroutine that drains outQueue to Conn.
// The pipeline calls this exactly once, right after admitting the
// session.
func (c *ClientSession) Start() {
	c.wg.Add(1)
	go c.worker()
}

// Enqueue hands one already-framed chunk to the worker. It never
// blocks: if the queue is full the chunk is dropped and Dropped's
// counter is incremented, so a single slow client can never stall the
// hot loop producing for everyone else.
func (c *ClientSession) Enqueue(chunk []byte) {
	select {
	case c.outQueue <- chunk:
	default:
		c.mu.Lock()
		c.dropped++
		c.mu.Unlock()
		if c.Log != nil {
			c.Log.Warn("client out-queue full, dropping chunk", "session", c.ID)
		}
	}
}

// Dropped returns how many chunks have been dropped for this client.
func (c *ClientSession) Dropped() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Sent returns how many chunks the worker has successfully written.
func (c *ClientSession) Sent() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent
}

// worker is the ClientSession's single loop: wait for a queued chunk
// or for Stop, write one chunk per wake as a single length-prefixed
// payload. The worker never touches pipeline state.
func (c *ClientSession) worker() {
	defer c.wg.Done()
	w := bufio.NewWriter(c.Conn)
	for {
		select {
		case <-c.ctx.Done():
			return
		case chunk, ok := <-c.outQueue:
			if !ok {
				return
			}
			if _, err := w.Write(chunk); err != nil {
				if c.Log != nil {
					c.Log.Debug("client write failed, closing session", "session", c.ID, "err", err)
				}
				return
			}
			if err := w.Flush(); err != nil {
				return
			}
			c.mu.Lock()
			c.sent++
			c.mu.Unlock()
		}
	}
}

// Closed reports whether the underlying connection appears to have
// been closed by the peer. The pipeline's reap step uses this.
func (c *ClientSession) Closed() bool {
	select {
	case <-c.ctx.Done():
		return true
	default:
	}
	one := make([]byte, 1)
	if err := c.Conn.SetReadDeadline(zeroDeadline()); err != nil {
		return false
	}
	n, err := c.Conn.Read(one)
	_ = c.Conn.SetReadDeadline(noDeadline())
	if n == 0 && err != nil {
		return !isTimeoutErr(err)
	}
	return false
}

// Stop signals the worker to exit, discards any pending buffers, and
// closes the connection. It blocks until the worker has returned.
func (c *ClientSession) Stop() error {
	c.cancel()
	c.wg.Wait()
	return c.Conn.Close()
}

// ListenerTask accepts connections on a net.Listener and pushes a
// PendingConnection for each onto Pending, draining into the
// pipeline's accept step.
type ListenerTask struct {
	Listener net.Listener
	Pending  chan PendingConnection
	Log      *slog.Logger

	Now func() atime.T

	wg sync.WaitGroup
}

// NewListenerTask wraps an already-bound listener. now supplies the
// acquisition-time timestamp recorded as each connection's ConnectAt.
func NewListenerTask(ln net.Listener, now func() atime.T, log *slog.Logger) *ListenerTask {
	return &ListenerTask{
		Listener: ln,
		Pending:  make(chan PendingConnection, OutQueueCapacity),
		Log:      log,
		Now:      now,
	}
}

// Run blocks accepting connections until the listener is closed,
// typically run in its own goroutine.
func (t *ListenerTask) Run() {
	for {
		conn, err := t.Listener.Accept()
		if err != nil {
			if t.Log != nil {
				t.Log.Debug("listener accept stopped", "err", err)
			}
			close(t.Pending)
			return
		}
		var at atime.T
		if t.Now != nil {
			at = t.Now()
		}
		t.Pending <- PendingConnection{Conn: conn, ConnectAt: at}
	}
}

// Stop closes the listener, unblocking any in-progress Accept.
func (t *ListenerTask) Stop() error {
	return t.Listener.Close()
}

// closedProbeTimeout bounds how long Closed's one-byte read probe may
// block before concluding the peer is merely idle, not gone.
const closedProbeTimeout = time.Millisecond

func zeroDeadline() time.Time { return time.Now().Add(closedProbeTimeout) }

func noDeadline() time.Time { return time.Time{} }

func isTimeoutErr(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
