package state

import (
	"context"

	"github.com/ECGOPS/NMSECG-sub008/pkg/group"
)

// Link abstracts the transport below a registered connection. The concrete
// implementation lives in pkg/transport; tests inject fakes.
type Link interface {
	// Send queues one outbound frame. It must not block; a full outbound
	// queue is a slow-consumer violation handled by the transport itself.
	Send(frame []byte) error

	// SendSync writes one frame directly, bypassing the outbound queue.
	// Used on the drain path, where the queue's write pump is about to be
	// torn down.
	SendSync(ctx context.Context, frame []byte) error

	// Ping performs one protocol ping round-trip.
	Ping(ctx context.Context) error

	// Terminate closes the connection with the given websocket status code.
	// Safe to call more than once.
	Terminate(code int, reason string)
}

// Manager is the single source of truth for live connections and their
// group memberships.
//
// Membership mutation is always synchronous with registration and removal:
// no caller can observe a connection without its groups, or groups without
// their connection.
type Manager interface {
	// Register stores a connection and installs its group memberships.
	// A second registration for the same userID supersedes the first;
	// the superseded record's transport is not closed by this call.
	// An empty clientID is replaced with a generated one.
	Register(userID, clientID, region, district string, link Link) (*Connection, error)

	// Unregister removes the user's connection and every group membership.
	// Idempotent.
	Unregister(userID string)

	// Drop removes the given record only if it is still the current entry
	// for its user, so a superseded connection's teardown cannot evict its
	// replacement. Idempotent.
	Drop(c *Connection)

	Get(userID string) (*Connection, bool)

	// GroupsOf reports the canonical group names the user belongs to.
	GroupsOf(userID string) []string

	// SendToUser delivers one frame to the user's connection, reporting
	// false when the user is not connected or the send was refused.
	SendToUser(userID string, frame []byte) bool

	// SendToGroup fans a frame out to the group's current members and
	// returns the number of successful sends.
	SendToGroup(key group.Key, frame []byte) int

	// BroadcastAll sends to every open connection regardless of group.
	BroadcastAll(frame []byte) int

	// Snapshot returns the current connection records. The slice is a copy;
	// records may be unregistered concurrently.
	Snapshot() []*Connection

	Stats() Stats
}
