package persistence_test

import (
	"context"
	"testing"
	"time"

	"github.com/ECGOPS/NMSECG-sub008/internal/persistence"
)

func TestRecentChatMessagesNewestFirstWithLimit(t *testing.T) {
	store := persistence.NewMemoryStore()
	base := time.Now()
	for i := 0; i < 5; i++ {
		err := store.CreateChatMessage(context.Background(), persistence.ChatRecord{
			ID:        string(rune('a' + i)),
			Text:      "msg",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	recs, err := store.RecentChatMessages(context.Background(), 3)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	if recs[0].ID != "e" || recs[2].ID != "c" {
		t.Errorf("wrong order: %s..%s", recs[0].ID, recs[2].ID)
	}
}

func TestDeleteChatMessage(t *testing.T) {
	store := persistence.NewMemoryStore()
	store.CreateChatMessage(context.Background(), persistence.ChatRecord{ID: "m1", CreatedAt: time.Now()})

	if err := store.DeleteChatMessage(context.Background(), "m1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	recs, _ := store.RecentChatMessages(context.Background(), 10)
	if len(recs) != 0 {
		t.Errorf("record survived deletion")
	}

	// Deleting an unknown id is not an error.
	if err := store.DeleteChatMessage(context.Background(), "ghost"); err != nil {
		t.Errorf("delete of unknown id: %v", err)
	}
}

func TestRecentBroadcasts(t *testing.T) {
	store := persistence.NewMemoryStore()
	store.CreateBroadcastMessage(context.Background(), persistence.BroadcastRecord{
		ID: "b1", Title: "Outage", TargetRegions: []string{"ASHANTI"}, CreatedAt: time.Now(),
	})

	recs, err := store.RecentBroadcasts(context.Background(), 50)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(recs) != 1 || recs[0].Title != "Outage" {
		t.Errorf("unexpected result %+v", recs)
	}
}
