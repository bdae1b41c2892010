// Package reconnect keeps per-user reconnection bookkeeping. The records
// are diagnostic only: nothing in the server consults them to admit or deny
// a connection.
package reconnect

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// MaxAttempts caps the recorded attempt count. Closes past the cap stop
// updating the record.
const MaxAttempts = 5

// Record tracks abnormal closes for one user.
type Record struct {
	UserID       string
	AttemptCount int
	LastAttempt  time.Time
	Region       string
	District     string
}

// Tracker records abnormal-close events per user. Bookkeeping is suppressed
// while the server drains, so intentional shutdown closes are not counted
// as reconnect attempts.
type Tracker struct {
	mu         sync.Mutex
	records    map[string]*Record
	suppressed atomic.Bool

	logger *slog.Logger
}

func NewTracker(logger *slog.Logger) *Tracker {
	return &Tracker{
		records: make(map[string]*Record),
		logger:  logger.With(slog.String("component", "reconnect_tracker")),
	}
}

// Suppress stops all further bookkeeping; set once shutdown begins.
func (t *Tracker) Suppress() {
	t.suppressed.Store(true)
}

// RecordAttempt notes one abnormal close for the user and returns the
// current attempt count. Counts are capped at MaxAttempts.
func (t *Tracker) RecordAttempt(userID, region, district string) int {
	if t.suppressed.Load() {
		return 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[userID]
	if !ok {
		rec = &Record{UserID: userID, Region: region, District: district}
		t.records[userID] = rec
	}
	if rec.AttemptCount < MaxAttempts {
		rec.AttemptCount++
		rec.LastAttempt = time.Now()
	}

	t.logger.Debug("Abnormal close recorded",
		slog.String("userID", userID),
		slog.Int("attempts", rec.AttemptCount),
	)
	return rec.AttemptCount
}

// Clear drops the user's record; called when the user registers a healthy
// connection.
func (t *Tracker) Clear(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, userID)
}

// Get returns a copy of the user's record.
func (t *Tracker) Get(userID string) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[userID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Len reports the number of tracked users.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}
