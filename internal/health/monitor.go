// Package health runs the periodic liveness sweep over open connections.
package health

import (
	"context"
	"log/slog"
	"time"

	"github.com/coder/websocket"

	"github.com/ECGOPS/NMSECG-sub008/pkg/state"
)

// Monitor pings every open connection on a fixed interval. A connection
// that has not answered the previous round's ping by the time the next
// sweep runs is terminated, which catches half-open TCP connections that
// never emit a close event.
type Monitor struct {
	manager     state.Manager
	interval    time.Duration
	pingTimeout time.Duration
	logger      *slog.Logger
}

func NewMonitor(manager state.Manager, interval, pingTimeout time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if pingTimeout <= 0 {
		pingTimeout = 10 * time.Second
	}
	return &Monitor{
		manager:     manager,
		interval:    interval,
		pingTimeout: pingTimeout,
		logger:      logger.With(slog.String("component", "health_monitor")),
	}
}

// Run sweeps until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("Health monitor started", slog.Duration("interval", m.interval))
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Health monitor stopped")
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep runs one liveness round over the current connection snapshot.
func (m *Monitor) Sweep(ctx context.Context) {
	for _, conn := range m.manager.Snapshot() {
		if conn.Liveness() == state.LivenessAwaiting {
			m.terminate(conn)
			continue
		}
		conn.SetLiveness(state.LivenessAwaiting)
		go m.ping(ctx, conn)
	}
}

func (m *Monitor) terminate(conn *state.Connection) {
	conn.SetLiveness(state.LivenessUnresponsive)
	m.logger.Warn("Terminating unresponsive connection",
		slog.String("userID", conn.UserID),
		slog.Time("lastActivity", conn.LastActivity()),
	)
	// Removal from the registry happens through the transport's close
	// callback, the same teardown path as an error or client close.
	conn.Link.Terminate(int(websocket.StatusPolicyViolation), "liveness timeout")
}

func (m *Monitor) ping(ctx context.Context, conn *state.Connection) {
	pingCtx, cancel := context.WithTimeout(ctx, m.pingTimeout)
	defer cancel()

	if err := conn.Link.Ping(pingCtx); err != nil {
		// Leave the connection Awaiting; the next sweep terminates it.
		m.logger.Debug("Ping failed",
			slog.String("userID", conn.UserID),
			slog.Any("error", err),
		)
		return
	}
	conn.SetLiveness(state.LivenessAlive)
	conn.Touch()
}
