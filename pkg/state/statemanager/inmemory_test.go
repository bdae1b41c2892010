package statemanager_test

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"sync"
	"testing"

	"github.com/ECGOPS/NMSECG-sub008/pkg/group"
	"github.com/ECGOPS/NMSECG-sub008/pkg/state/statemanager"
)

// --- Test Suite Setup ---

func newTestLogger() *slog.Logger {
	// Discard logger output during tests by setting a high level
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

func newTestManager() *statemanager.InMemoryManager {
	return statemanager.NewInMemoryManager(newTestLogger())
}

// fakeLink records outbound frames in place of a real websocket transport.
type fakeLink struct {
	mu         sync.Mutex
	frames     [][]byte
	terminated int
}

func (l *fakeLink) Send(frame []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frames = append(l.frames, frame)
	return nil
}

func (l *fakeLink) SendSync(_ context.Context, frame []byte) error {
	return l.Send(frame)
}

func (l *fakeLink) Ping(context.Context) error { return nil }

func (l *fakeLink) Terminate(code int, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.terminated++
}

func (l *fakeLink) frameCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.frames)
}

// --- Registration and Membership Tests ---

func TestRegisterDerivesGroups(t *testing.T) {
	m := newTestManager()
	link := &fakeLink{}

	_, err := m.Register("u1", "", "GREATER ACCRA", "ACCRA EAST", link)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	got := m.GroupsOf("u1")
	sort.Strings(got)
	want := []string{
		"broadcast:ACCRA EAST",
		"broadcast:GREATER ACCRA",
		"chat:GREATER ACCRA",
		"chat:GREATER ACCRA:ACCRA EAST",
		"global",
	}
	if len(got) != len(want) {
		t.Fatalf("got %d groups %v, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("group[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRegisterWithoutScope(t *testing.T) {
	m := newTestManager()

	if _, err := m.Register("u1", "", "", "", &fakeLink{}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	groups := m.GroupsOf("u1")
	if len(groups) != 1 || groups[0] != "global" {
		t.Errorf("scopeless user should only be global, got %v", groups)
	}
}

func TestRegisterRequiresUserID(t *testing.T) {
	m := newTestManager()
	if _, err := m.Register("", "", "", "", &fakeLink{}); err == nil {
		t.Fatal("expected error for empty userID")
	}
	if m.Stats().Connections != 0 {
		t.Error("no entry should be created for empty userID")
	}
}

func TestRegisterGeneratesClientID(t *testing.T) {
	m := newTestManager()
	conn, err := m.Register("u1", "", "", "", &fakeLink{})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if conn.ClientID == "" {
		t.Error("expected a generated clientID")
	}

	conn2, err := m.Register("u2", "client-7", "", "", &fakeLink{})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if conn2.ClientID != "client-7" {
		t.Errorf("clientID = %q, want client-7", conn2.ClientID)
	}
}

func TestUnregisterRemovesEverything(t *testing.T) {
	m := newTestManager()
	m.Register("u1", "", "ASHANTI", "KUMASI EAST", &fakeLink{})

	m.Unregister("u1")

	if groups := m.GroupsOf("u1"); len(groups) != 0 {
		t.Errorf("expected zero groups after unregister, got %v", groups)
	}
	if m.SendToUser("u1", []byte("x")) {
		t.Error("SendToUser should report false after unregister")
	}
	stats := m.Stats()
	if stats.Connections != 0 || stats.Groups != 0 {
		t.Errorf("expected empty registry and pruned groups, got %+v", stats)
	}

	// Idempotent.
	m.Unregister("u1")
}

func TestEmptyGroupsPruned(t *testing.T) {
	m := newTestManager()
	m.Register("u1", "", "ASHANTI", "", &fakeLink{})
	m.Register("u2", "", "ASHANTI", "", &fakeLink{})

	m.Unregister("u1")
	if m.Stats().Groups == 0 {
		t.Fatal("groups with remaining members must survive")
	}
	m.Unregister("u2")
	if got := m.Stats().Groups; got != 0 {
		t.Errorf("expected all groups pruned, got %d", got)
	}
}

// --- Supersession Tests ---

func TestSupersedeKeepsNewestConnection(t *testing.T) {
	m := newTestManager()
	link1 := &fakeLink{}
	link2 := &fakeLink{}

	old, _ := m.Register("u1", "", "ASHANTI", "", link1)
	if _, err := m.Register("u1", "", "ASHANTI", "", link2); err != nil {
		t.Fatalf("second Register failed: %v", err)
	}

	if m.Stats().Connections != 1 {
		t.Fatalf("expected a single registry entry, got %d", m.Stats().Connections)
	}
	if !m.SendToUser("u1", []byte("hello")) {
		t.Fatal("SendToUser failed after supersede")
	}
	if link2.frameCount() != 1 || link1.frameCount() != 0 {
		t.Error("frame should reach the superseding connection only")
	}
	if link1.terminated != 0 {
		t.Error("supersede must not close the old transport")
	}

	// The old connection's teardown must not evict the replacement.
	m.Drop(old)
	if _, ok := m.Get("u1"); !ok {
		t.Error("Drop of a superseded record evicted the current connection")
	}
}

func TestDropRemovesCurrentEntry(t *testing.T) {
	m := newTestManager()
	conn, _ := m.Register("u1", "", "", "", &fakeLink{})

	m.Drop(conn)
	if _, ok := m.Get("u1"); ok {
		t.Error("expected entry removed by Drop")
	}
	m.Drop(conn) // idempotent
	m.Drop(nil)
}

// --- Fan-out Tests ---

func TestSendToGroup(t *testing.T) {
	m := newTestManager()
	accra := &fakeLink{}
	kumasi := &fakeLink{}
	m.Register("u1", "", "GREATER ACCRA", "ACCRA EAST", accra)
	m.Register("u2", "", "ASHANTI", "KUMASI EAST", kumasi)

	sent := m.SendToGroup(group.ChatRegion("GREATER ACCRA"), []byte("x"))
	if sent != 1 {
		t.Errorf("sent = %d, want 1", sent)
	}
	if accra.frameCount() != 1 || kumasi.frameCount() != 0 {
		t.Error("frame delivered to the wrong audience")
	}

	if sent := m.SendToGroup(group.ChatRegion("VOLTA"), []byte("x")); sent != 0 {
		t.Errorf("empty group should deliver nothing, sent %d", sent)
	}
}

func TestBroadcastAllIgnoresScope(t *testing.T) {
	m := newTestManager()
	links := []*fakeLink{{}, {}, {}}
	m.Register("u1", "", "ASHANTI", "KUMASI EAST", links[0])
	m.Register("u2", "", "VOLTA", "", links[1])
	m.Register("u3", "", "", "", links[2])

	if sent := m.BroadcastAll([]byte("x")); sent != 3 {
		t.Errorf("sent = %d, want 3", sent)
	}
	for i, l := range links {
		if l.frameCount() != 1 {
			t.Errorf("link %d received %d frames, want 1", i, l.frameCount())
		}
	}
}
