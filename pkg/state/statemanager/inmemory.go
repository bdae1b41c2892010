package statemanager

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ECGOPS/NMSECG-sub008/pkg/group"
	"github.com/ECGOPS/NMSECG-sub008/pkg/state"
	"github.com/google/uuid"
)

// InMemoryManager holds the live connection registry and the derived group
// index behind a single mutex, so a registration or removal can never be
// observed half-applied. All mutation happens synchronously under the lock;
// no lock is held across a send.
type InMemoryManager struct {
	mu      sync.RWMutex
	conns   map[string]*state.Connection   // userID → connection
	groups  map[string]map[string]struct{} // group name → set of userIDs
	members map[string]map[string]struct{} // userID → set of group names

	logger *slog.Logger
}

func NewInMemoryManager(logger *slog.Logger) *InMemoryManager {
	return &InMemoryManager{
		conns:   make(map[string]*state.Connection),
		groups:  make(map[string]map[string]struct{}),
		members: make(map[string]map[string]struct{}),
		logger:  logger.With(slog.String("component", "state_manager")),
	}
}

// compile-time check to ensure InMemoryManager implements Manager.
var _ state.Manager = (*InMemoryManager)(nil)

func (m *InMemoryManager) Register(userID, clientID, region, district string, link state.Link) (*state.Connection, error) {
	if userID == "" {
		return nil, errors.New("cannot register connection without a userID")
	}
	if clientID == "" {
		clientID = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.conns[userID]; exists {
		// Last registration wins. The superseded transport is left for its
		// own teardown path to close.
		m.removeMembershipsLocked(userID)
		m.logger.Info("Superseding existing connection", slog.String("userID", userID))
	}

	conn := &state.Connection{
		UserID:      userID,
		ClientID:    clientID,
		Region:      region,
		District:    district,
		ConnectedAt: time.Now(),
		Link:        link,
	}
	conn.SetLiveness(state.LivenessAlive)
	conn.Touch()
	m.conns[userID] = conn

	for _, key := range group.ForScope(region, district) {
		name := key.String()
		set, ok := m.groups[name]
		if !ok {
			set = make(map[string]struct{})
			m.groups[name] = set
		}
		set[userID] = struct{}{}

		mset, ok := m.members[userID]
		if !ok {
			mset = make(map[string]struct{})
			m.members[userID] = mset
		}
		mset[name] = struct{}{}
	}

	m.logger.Debug("Connection registered",
		slog.String("userID", userID),
		slog.String("clientID", clientID),
		slog.String("region", region),
		slog.String("district", district),
	)
	return conn, nil
}

func (m *InMemoryManager) Unregister(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conns[userID]; !ok {
		return
	}
	delete(m.conns, userID)
	m.removeMembershipsLocked(userID)
	m.logger.Debug("Connection unregistered", slog.String("userID", userID))
}

func (m *InMemoryManager) Drop(c *state.Connection) {
	if c == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.conns[c.UserID]
	if !ok || current != c {
		// Already gone, or superseded by a newer registration.
		return
	}
	delete(m.conns, c.UserID)
	m.removeMembershipsLocked(c.UserID)
	m.logger.Debug("Connection dropped", slog.String("userID", c.UserID))
}

// removeMembershipsLocked detaches the user from every group and prunes
// groups left empty. Callers must hold m.mu.
func (m *InMemoryManager) removeMembershipsLocked(userID string) {
	for name := range m.members[userID] {
		set, ok := m.groups[name]
		if !ok {
			continue
		}
		delete(set, userID)
		if len(set) == 0 {
			delete(m.groups, name)
		}
	}
	delete(m.members, userID)
}

func (m *InMemoryManager) Get(userID string) (*state.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.conns[userID]
	return conn, ok
}

func (m *InMemoryManager) GroupsOf(userID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.members[userID]))
	for name := range m.members[userID] {
		names = append(names, name)
	}
	return names
}

func (m *InMemoryManager) SendToUser(userID string, frame []byte) bool {
	m.mu.RLock()
	conn, ok := m.conns[userID]
	m.mu.RUnlock()

	if !ok {
		return false
	}
	if err := conn.Link.Send(frame); err != nil {
		m.logger.Warn("Send to user refused", slog.String("userID", userID), slog.Any("error", err))
		return false
	}
	return true
}

func (m *InMemoryManager) SendToGroup(key group.Key, frame []byte) int {
	name := key.String()

	m.mu.RLock()
	memberIDs := make([]string, 0, len(m.groups[name]))
	for userID := range m.groups[name] {
		memberIDs = append(memberIDs, userID)
	}
	m.mu.RUnlock()

	sent := 0
	for _, userID := range memberIDs {
		if m.SendToUser(userID, frame) {
			sent++
		}
	}
	m.logger.Debug("Group fan-out", slog.String("group", name), slog.Int("sent", sent))
	return sent
}

func (m *InMemoryManager) BroadcastAll(frame []byte) int {
	sent := 0
	for _, conn := range m.Snapshot() {
		if conn.Link.Send(frame) == nil {
			sent++
		}
	}
	return sent
}

func (m *InMemoryManager) Snapshot() []*state.Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conns := make([]*state.Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	return conns
}

func (m *InMemoryManager) Stats() state.Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return state.Stats{Connections: len(m.conns), Groups: len(m.groups)}
}
