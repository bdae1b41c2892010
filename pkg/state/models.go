package state

import (
	"sync/atomic"
	"time"
)

// Liveness is the per-connection health-check state. The monitor marks a
// connection Awaiting when it sends a ping; the pong response flips it back
// to Alive. A connection still Awaiting at the next sweep is Unresponsive
// and gets terminated.
type Liveness int32

const (
	LivenessAlive Liveness = iota
	LivenessAwaiting
	LivenessUnresponsive
)

// Connection is the canonical record for one live client connection,
// exclusively owned by the Manager. The underlying transport's lifetime is
// tied 1:1 to this record.
type Connection struct {
	UserID      string
	ClientID    string
	Region      string
	District    string
	ConnectedAt time.Time
	Link        Link

	liveness     atomic.Int32
	lastActivity atomic.Int64
}

func (c *Connection) Liveness() Liveness {
	return Liveness(c.liveness.Load())
}

func (c *Connection) SetLiveness(l Liveness) {
	c.liveness.Store(int32(l))
}

// Touch records inbound activity on the connection.
func (c *Connection) Touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// Stats is a point-in-time snapshot of registry occupancy, for logging only.
type Stats struct {
	Connections int
	Groups      int
}
