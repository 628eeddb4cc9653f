package netrtp

import (
	"net"
	"time"
)

// pollInterval bounds how long Loop blocks waiting for a packet before
// returning control to the pipeline's hot loop.
const pollInterval = 2 * time.Millisecond

func deadlineNow() time.Time { return time.Now().Add(pollInterval) }

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
