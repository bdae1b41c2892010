package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/ECGOPS/NMSECG-sub008/internal/health"
	"github.com/ECGOPS/NMSECG-sub008/internal/persistence"
	"github.com/ECGOPS/NMSECG-sub008/internal/reconnect"
	"github.com/ECGOPS/NMSECG-sub008/internal/router"
	"github.com/ECGOPS/NMSECG-sub008/internal/server/middleware"
	"github.com/ECGOPS/NMSECG-sub008/pkg/config"
	"github.com/ECGOPS/NMSECG-sub008/pkg/state"
	"github.com/ECGOPS/NMSECG-sub008/pkg/state/statemanager"
	"github.com/ECGOPS/NMSECG-sub008/pkg/transport"
)

// App wires the realtime core together: the connection registry, the
// message router, the health monitor, the reconnection tracker and the
// shutdown coordinator, all constructed once here and passed by reference.
type App struct {
	logger  *slog.Logger
	manager state.Manager
	router  *router.Router
	tracker *reconnect.Tracker
	monitor *health.Monitor
	config  *config.Config

	wg       sync.WaitGroup
	http     *http.Server
	draining atomic.Bool

	ctx          context.Context
	connCtx      context.Context
	connCancel   context.CancelFunc
	healthCancel context.CancelFunc
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config, gateway persistence.Gateway) *App {
	manager := statemanager.NewInMemoryManager(logger)
	tracker := reconnect.NewTracker(logger)
	msgRouter := router.New(logger, manager, gateway, cfg.Persistence.OpTimeout, cfg.Persistence.RecentLimit)
	monitor := health.NewMonitor(manager, cfg.Health.Interval, cfg.Health.PingTimeout, logger)

	// Connection lifetime is owned by the shutdown coordinator, not the
	// signal context: pumps must stay alive through the drain loop so the
	// shutdown notice and the 1001 close reach the client.
	connCtx, connCancel := context.WithCancel(context.Background())

	app := &App{
		logger:     logger,
		manager:    manager,
		router:     msgRouter,
		tracker:    tracker,
		monitor:    monitor,
		config:     cfg,
		ctx:        rootCtx,
		connCtx:    connCtx,
		connCancel: connCancel,
	}

	mux := http.NewServeMux()
	mux.Handle("/ws",
		middleware.Chain(http.HandlerFunc(app.upgradeHandler),
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(logger),
			middleware.NewConnectionLimiter(logger, cfg.Server.ConnectionLimit.MaxPerIP),
		),
	)

	app.http = &http.Server{
		Addr:    cfg.Server.Address,
		Handler: mux,
		BaseContext: func(l net.Listener) context.Context {
			return app.ctx
		},
	}

	return app
}

func (a *App) Run() error {
	healthCtx, cancel := context.WithCancel(a.ctx)
	a.healthCancel = cancel
	go a.monitor.Run(healthCtx)

	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != http.ErrServerClosed {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
		}
	}()

	<-a.ctx.Done()
	return a.Shutdown()
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	connLogger := a.logger.With(
		slog.String("remoteAddr", reqMeta.IP),
		slog.String("userID", reqMeta.UserID),
	)

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	// Identity is mandatory. A client without a userId never enters the
	// registry; the socket is closed with a policy violation right away.
	if reqMeta.UserID == "" {
		connLogger.Warn("Rejecting connection without userId")
		wsConn.Close(websocket.StatusPolicyViolation, "userId is required")
		return
	}

	conn := transport.NewConnection(
		a.connCtx,
		&a.wg,
		wsConn,
		transport.ConnectionConfig{
			ReadTimeout: a.config.Transport.ReadTimeout,
			SendBuffer:  a.config.Transport.SendBuffer,
		},
		a.logger,
	)

	stateConn, err := a.manager.Register(reqMeta.UserID, reqMeta.ClientID, reqMeta.Region, reqMeta.District, conn)
	if err != nil {
		connLogger.Error("Failed to register connection", slog.Any("error", err))
		conn.Terminate(int(websocket.StatusInternalError), "registration failed")
		return
	}

	// A healthy registration resets the user's reconnection bookkeeping.
	a.tracker.Clear(reqMeta.UserID)

	conn.SetOnMessageHandler(func(ctx context.Context, msg []byte) {
		a.router.HandleFrame(ctx, stateConn, msg)
	})
	conn.SetOnCloseHandler(func(code int, cause error) {
		if code != int(websocket.StatusNormalClosure) && !a.draining.Load() {
			a.tracker.RecordAttempt(stateConn.UserID, stateConn.Region, stateConn.District)
		}
		// Drop, not Unregister: a superseded connection's teardown must not
		// evict the registration that replaced it.
		a.manager.Drop(stateConn)
		connLogger.Info("Connection closed", slog.Int("code", code), slog.Any("error", cause))
	})

	a.sendConnectedAck(conn, stateConn)

	connLogger.Info("User connection fully established",
		slog.String("clientID", stateConn.ClientID),
		slog.String("region", stateConn.Region),
		slog.String("district", stateConn.District),
	)
	conn.Run()
	<-conn.Done()
}

// sendConnectedAck queues the acknowledgment frame before the write pump
// starts, so it is guaranteed to precede any routed traffic.
func (a *App) sendConnectedAck(conn *transport.Connection, stateConn *state.Connection) {
	now := time.Now().Format(time.RFC3339)
	ack, err := json.Marshal(router.ConnectedFrame{
		Type:       router.TypeConnected,
		UserID:     stateConn.UserID,
		ClientID:   stateConn.ClientID,
		ServerTime: now,
		Timestamp:  now,
	})
	if err != nil {
		a.logger.Error("Failed to marshal connected ack", slog.Any("error", err))
		return
	}
	if err := conn.Send(ack); err != nil {
		a.logger.Warn("Failed to queue connected ack", slog.Any("error", err))
	}
}

// Shutdown drains every open connection within the configured deadline.
// Connections still open when the deadline expires are abandoned so the
// process is guaranteed to exit.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	a.draining.Store(true)
	a.tracker.Suppress()
	if a.healthCancel != nil {
		a.healthCancel()
	}

	deadline := a.config.Server.ShutdownTimeout
	if deadline <= 0 {
		deadline = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()

	notice, err := json.Marshal(router.ShutdownFrame{
		Type:      router.TypeServerShutdown,
		Message:   "Server is shutting down",
		Timestamp: time.Now().Format(time.RFC3339),
	})
	if err != nil {
		a.logger.Error("Failed to marshal shutdown notice", slog.Any("error", err))
	}

	conns := a.manager.Snapshot()
	a.logger.Info("Draining connections", slog.Int("count", len(conns)))
	for _, c := range conns {
		if notice != nil {
			// Direct write: the queued path would race the teardown below.
			if err := c.Link.SendSync(shutdownCtx, notice); err != nil {
				a.logger.Debug("Shutdown notice not delivered",
					slog.String("userID", c.UserID), slog.Any("error", err))
			}
		}
		c.Link.Terminate(int(websocket.StatusGoingAway), "server shutting down")
	}

	if err := a.http.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("HTTP shutdown did not complete", slog.Any("error", err))
	}

	// Cancelling the connection base context force-closes whatever is
	// still open once the drain attempt is over.
	defer a.connCancel()

	drained := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		a.logger.Info("Server shut down gracefully.")
	case <-shutdownCtx.Done():
		a.logger.Warn("Shutdown deadline reached, force-closing remaining connections",
			slog.Int("remaining", a.manager.Stats().Connections))
	}
	return nil
}

// Handler exposes the HTTP handler so tests can mount the app on a test
// server.
func (a *App) Handler() http.Handler {
	return a.http.Handler
}

// Manager exposes the connection registry.
func (a *App) Manager() state.Manager {
	return a.manager
}

// Tracker exposes the reconnection bookkeeping.
func (a *App) Tracker() *reconnect.Tracker {
	return a.tracker
}
