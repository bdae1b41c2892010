// Package persistence is the durable message store behind the realtime core.
// The core treats creates and deletes as best-effort and never blocks
// delivery on their outcome; only the initial-history queries are awaited.
package persistence

import (
	"context"
	"time"
)

// ChatRecord is the persisted form of one chat message.
type ChatRecord struct {
	ID        string
	Text      string
	Sender    string
	SenderID  string
	Region    string
	District  string
	CreatedAt time.Time
}

// BroadcastRecord is the persisted form of one broadcast notice.
type BroadcastRecord struct {
	ID              string
	Title           string
	Message         string
	Priority        string
	CreatedBy       string
	TargetRegions   []string
	TargetDistricts []string
	CreatedAt       time.Time
}

// Gateway is the narrow contract the realtime core holds on the store.
type Gateway interface {
	CreateChatMessage(ctx context.Context, rec ChatRecord) error
	CreateBroadcastMessage(ctx context.Context, rec BroadcastRecord) error
	DeleteChatMessage(ctx context.Context, id string) error
	DeleteBroadcastMessage(ctx context.Context, id string) error

	// RecentChatMessages returns up to limit records, newest first.
	RecentChatMessages(ctx context.Context, limit int) ([]ChatRecord, error)
	// RecentBroadcasts returns up to limit records, newest first.
	RecentBroadcasts(ctx context.Context, limit int) ([]BroadcastRecord, error)
}
