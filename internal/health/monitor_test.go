package health_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ECGOPS/NMSECG-sub008/internal/health"
	"github.com/ECGOPS/NMSECG-sub008/pkg/state"
	"github.com/ECGOPS/NMSECG-sub008/pkg/state/statemanager"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

// fakeLink simulates a transport whose Terminate runs the same teardown the
// real one does: removing the connection from the registry.
type fakeLink struct {
	mu      sync.Mutex
	pingErr error
	pings   int

	manager state.Manager
	conn    *state.Connection
}

func (l *fakeLink) Send([]byte) error { return nil }

func (l *fakeLink) SendSync(context.Context, []byte) error { return nil }

func (l *fakeLink) Ping(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pings++
	return l.pingErr
}

func (l *fakeLink) Terminate(code int, reason string) {
	l.manager.Drop(l.conn)
}

func register(t *testing.T, m state.Manager, userID string, pingErr error) (*state.Connection, *fakeLink) {
	t.Helper()
	link := &fakeLink{pingErr: pingErr, manager: m}
	conn, err := m.Register(userID, "", "", "", link)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	link.conn = conn
	return conn, link
}

func TestUnresponsiveConnectionTerminated(t *testing.T) {
	m := statemanager.NewInMemoryManager(newTestLogger())
	monitor := health.NewMonitor(m, time.Second, time.Second, newTestLogger())

	register(t, m, "u1", errors.New("no pong"))

	// First sweep marks the connection awaiting; its ping never succeeds.
	monitor.Sweep(context.Background())
	if _, ok := m.Get("u1"); !ok {
		t.Fatal("connection must survive the first sweep")
	}

	// Second sweep finds it still awaiting and terminates it.
	monitor.Sweep(context.Background())
	if _, ok := m.Get("u1"); ok {
		t.Error("unresponsive connection should be removed after two sweeps")
	}
}

func TestResponsiveConnectionRetained(t *testing.T) {
	m := statemanager.NewInMemoryManager(newTestLogger())
	monitor := health.NewMonitor(m, time.Second, time.Second, newTestLogger())

	conn, _ := register(t, m, "u1", nil)

	for round := 0; round < 3; round++ {
		monitor.Sweep(context.Background())
		waitForLiveness(t, conn, state.LivenessAlive)
	}
	if _, ok := m.Get("u1"); !ok {
		t.Error("responsive connection must never be terminated")
	}
}

func TestSweepMixesHealthyAndDead(t *testing.T) {
	m := statemanager.NewInMemoryManager(newTestLogger())
	monitor := health.NewMonitor(m, time.Second, time.Second, newTestLogger())

	healthy, _ := register(t, m, "healthy", nil)
	register(t, m, "dead", errors.New("no pong"))

	monitor.Sweep(context.Background())
	waitForLiveness(t, healthy, state.LivenessAlive)
	monitor.Sweep(context.Background())
	waitForLiveness(t, healthy, state.LivenessAlive)

	if _, ok := m.Get("healthy"); !ok {
		t.Error("healthy connection was terminated")
	}
	if _, ok := m.Get("dead"); ok {
		t.Error("dead connection was retained")
	}
}

// waitForLiveness polls until the async ping round-trip lands.
func waitForLiveness(t *testing.T, conn *state.Connection, want state.Liveness) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if conn.Liveness() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("liveness never reached %v", want)
}
