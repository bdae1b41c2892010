// Package router dispatches inbound frames by their declared type, computes
// fan-out targets and hands durable writes to the persistence gateway
// without ever blocking delivery on them.
package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/ECGOPS/NMSECG-sub008/internal/persistence"
	"github.com/ECGOPS/NMSECG-sub008/pkg/group"
	"github.com/ECGOPS/NMSECG-sub008/pkg/state"
)

type Router struct {
	logger      *slog.Logger
	manager     state.Manager
	gateway     persistence.Gateway
	opTimeout   time.Duration
	recentLimit int
}

func New(logger *slog.Logger, manager state.Manager, gateway persistence.Gateway, opTimeout time.Duration, recentLimit int) *Router {
	if opTimeout <= 0 {
		opTimeout = 5 * time.Second
	}
	if recentLimit <= 0 {
		recentLimit = 50
	}
	return &Router{
		logger:      logger.With(slog.String("component", "message_router")),
		manager:     manager,
		gateway:     gateway,
		opTimeout:   opTimeout,
		recentLimit: recentLimit,
	}
}

// HandleFrame routes one inbound frame from the given connection. Malformed
// frames and unknown types are logged and dropped; the sender never receives
// an error frame.
func (r *Router) HandleFrame(ctx context.Context, conn *state.Connection, raw []byte) {
	conn.Touch()

	typ := gjson.GetBytes(raw, "type")
	if !typ.Exists() {
		r.logger.Warn("Dropping malformed frame", slog.String("userID", conn.UserID))
		return
	}

	switch typ.String() {
	case TypeChatMessage:
		r.handleChat(conn, raw)
	case TypeBroadcastMessage:
		r.handleBroadcast(conn, raw)
	case TypeRequestInitialMessages:
		r.handleInitialMessages(ctx, conn)
	case TypeRequestInitialBroadcasts:
		r.handleInitialBroadcasts(ctx, conn)
	case TypeDeleteChatMessage:
		r.handleDelete(conn, raw, TypeChatMessageDeleted)
	case TypeDeleteBroadcastMessage:
		r.handleDelete(conn, raw, TypeBroadcastMessageDeleted)
	default:
		r.logger.Warn("Dropping frame of unknown type",
			slog.String("type", typ.String()),
			slog.String("userID", conn.UserID),
		)
	}
}

func (r *Router) handleChat(conn *state.Connection, raw []byte) {
	var frame ChatFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		r.logger.Warn("Dropping unparseable chat frame",
			slog.String("userID", conn.UserID), slog.Any("error", err))
		return
	}
	frame.Type = TypeChatMessage
	now := time.Now()
	if frame.ID == "" {
		frame.ID = uuid.NewString()
	}
	if frame.Timestamp == "" {
		frame.Timestamp = now.Format(time.RFC3339)
	}

	r.persistAsync("create chat message", func(ctx context.Context) error {
		return r.gateway.CreateChatMessage(ctx, persistence.ChatRecord{
			ID:        frame.ID,
			Text:      frame.Text,
			Sender:    frame.Sender,
			SenderID:  frame.SenderID,
			Region:    frame.Region,
			District:  frame.District,
			CreatedAt: now,
		})
	})

	out, err := json.Marshal(frame)
	if err != nil {
		r.logger.Error("Failed to marshal chat frame", slog.Any("error", err))
		return
	}
	sent := r.manager.SendToGroup(chatTarget(frame.Region, frame.District), out)
	r.logger.Debug("Chat message routed",
		slog.String("id", frame.ID), slog.Int("delivered", sent))
}

// chatTarget picks the most specific audience the message's scope allows.
func chatTarget(region, district string) group.Key {
	switch {
	case region != "" && district != "":
		return group.ChatDistrict(region, district)
	case region != "":
		return group.ChatRegion(region)
	default:
		return group.Global()
	}
}

func (r *Router) handleBroadcast(conn *state.Connection, raw []byte) {
	var frame BroadcastFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		r.logger.Warn("Dropping unparseable broadcast frame",
			slog.String("userID", conn.UserID), slog.Any("error", err))
		return
	}
	frame.Type = TypeBroadcastMessage
	now := time.Now()
	if frame.ID == "" {
		frame.ID = uuid.NewString()
	}
	if frame.Timestamp == "" {
		frame.Timestamp = now.Format(time.RFC3339)
	}
	if frame.Priority == "" {
		frame.Priority = "medium"
	}

	r.persistAsync("create broadcast message", func(ctx context.Context) error {
		return r.gateway.CreateBroadcastMessage(ctx, persistence.BroadcastRecord{
			ID:              frame.ID,
			Title:           frame.Title,
			Message:         frame.Message,
			Priority:        frame.Priority,
			CreatedBy:       frame.CreatedBy,
			TargetRegions:   frame.TargetRegions,
			TargetDistricts: frame.TargetDistricts,
			CreatedAt:       now,
		})
	})

	out, err := json.Marshal(frame)
	if err != nil {
		r.logger.Error("Failed to marshal broadcast frame", slog.Any("error", err))
		return
	}

	sent := 0
	switch {
	case len(frame.TargetRegions) > 0:
		for _, region := range frame.TargetRegions {
			sent += r.manager.SendToGroup(group.BroadcastRegion(region), out)
		}
	case len(frame.TargetDistricts) > 0:
		for _, district := range frame.TargetDistricts {
			sent += r.manager.SendToGroup(group.BroadcastDistrict(district), out)
		}
	default:
		sent = r.manager.BroadcastAll(out)
	}
	r.logger.Debug("Broadcast routed",
		slog.String("id", frame.ID), slog.Int("delivered", sent))
}

func (r *Router) handleInitialMessages(ctx context.Context, conn *state.Connection) {
	queryCtx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	recs, err := r.gateway.RecentChatMessages(queryCtx, r.recentLimit)
	if err != nil {
		// The client gets an empty history rather than an error frame.
		r.logger.Error("Recent chat query failed", slog.Any("error", err))
		recs = nil
	}

	items := make([]ChatFrame, 0, len(recs))
	for _, rec := range recs {
		items = append(items, ChatFrame{
			ID:        rec.ID,
			Text:      rec.Text,
			Sender:    rec.Sender,
			SenderID:  rec.SenderID,
			Timestamp: rec.CreatedAt.Format(time.RFC3339),
			Region:    rec.Region,
			District:  rec.District,
		})
	}
	r.sendTo(conn, InitialChatFrame{Type: TypeInitialMessages, Messages: items})
}

func (r *Router) handleInitialBroadcasts(ctx context.Context, conn *state.Connection) {
	queryCtx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	recs, err := r.gateway.RecentBroadcasts(queryCtx, r.recentLimit)
	if err != nil {
		r.logger.Error("Recent broadcast query failed", slog.Any("error", err))
		recs = nil
	}

	items := make([]BroadcastFrame, 0, len(recs))
	for _, rec := range recs {
		items = append(items, BroadcastFrame{
			ID:              rec.ID,
			Title:           rec.Title,
			Message:         rec.Message,
			Priority:        rec.Priority,
			CreatedBy:       rec.CreatedBy,
			Timestamp:       rec.CreatedAt.Format(time.RFC3339),
			TargetRegions:   rec.TargetRegions,
			TargetDistricts: rec.TargetDistricts,
		})
	}
	r.sendTo(conn, InitialBroadcastFrame{Type: TypeInitialBroadcasts, Messages: items})
}

func (r *Router) handleDelete(conn *state.Connection, raw []byte, event string) {
	var frame DeleteFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		r.logger.Warn("Dropping unparseable delete frame",
			slog.String("userID", conn.UserID), slog.Any("error", err))
		return
	}
	if frame.MessageID == "" {
		r.logger.Warn("Dropping delete frame without messageId",
			slog.String("userID", conn.UserID))
		return
	}

	if event == TypeChatMessageDeleted {
		r.persistAsync("delete chat message", func(ctx context.Context) error {
			return r.gateway.DeleteChatMessage(ctx, frame.MessageID)
		})
	} else {
		r.persistAsync("delete broadcast message", func(ctx context.Context) error {
			return r.gateway.DeleteBroadcastMessage(ctx, frame.MessageID)
		})
	}

	// Global invalidation: every connection drops the item, including ones
	// that never received the original, and regardless of whether the id
	// still existed in the store.
	out, err := json.Marshal(DeletedFrame{Type: event, MessageID: frame.MessageID})
	if err != nil {
		r.logger.Error("Failed to marshal invalidation frame", slog.Any("error", err))
		return
	}
	sent := r.manager.BroadcastAll(out)
	r.logger.Debug("Invalidation broadcast",
		slog.String("event", event),
		slog.String("messageId", frame.MessageID),
		slog.Int("delivered", sent),
	)
}

func (r *Router) sendTo(conn *state.Connection, frame any) {
	out, err := json.Marshal(frame)
	if err != nil {
		r.logger.Error("Failed to marshal frame", slog.Any("error", err))
		return
	}
	if err := conn.Link.Send(out); err != nil {
		r.logger.Warn("Failed to send frame",
			slog.String("userID", conn.UserID), slog.Any("error", err))
	}
}

// persistAsync runs one durable write on a detached goroutine with a bounded
// timeout. Failures go to the log, never to the delivery path; the write is
// deliberately decoupled from the triggering connection's lifetime.
func (r *Router) persistAsync(op string, fn func(ctx context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.opTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			r.logger.Error("Persistence operation failed",
				slog.String("op", op), slog.Any("error", err))
		}
	}()
}
