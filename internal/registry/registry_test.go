package registry

import (
	"context"
	"testing"
	"time"
)

func TestStore_Cleanup(t *testing.T) {
	s := NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Touch("shard-1", "ord1")

	s.mu.Lock()
	if i, ok := s.instances["shard-1"]; ok {
		i.LastSeenAt = time.Now().Add(-20 * time.Minute).Unix()
	}
	s.mu.Unlock()

	s.Touch("shard-2", "ord1")

	s.StartCleanupLoop(ctx, 10*time.Millisecond, 10*time.Minute)

	time.Sleep(50 * time.Millisecond)

	if _, ok := s.Get("shard-1"); ok {
		t.Error("shard-1 should have been pruned")
	}
	if _, ok := s.Get("shard-2"); !ok {
		t.Error("shard-2 should still exist")
	}
}

func TestStore_TouchUpdatesColo(t *testing.T) {
	s := NewStore()
	s.Touch("shard-1", "ord1")
	s.Touch("shard-1", "dfw1")

	inst, ok := s.Get("shard-1")
	if !ok {
		t.Fatal("shard-1 should be registered")
	}
	if inst.Colo != "dfw1" {
		t.Errorf("expected colo dfw1, got %q", inst.Colo)
	}
}

func TestStore_List(t *testing.T) {
	s := NewStore()
	s.Touch("shard-1", "ord1")
	s.Touch("shard-2", "ord1")

	if n := len(s.List()); n != 2 {
		t.Errorf("expected 2 instances, got %d", n)
	}
}

func TestStore_PruneStale(t *testing.T) {
	s := NewStore()
	s.Touch("shard-1", "ord1")

	s.mu.Lock()
	s.instances["shard-1"].LastSeenAt = time.Now().Add(-time.Hour).Unix()
	s.mu.Unlock()

	n := s.PruneStale(time.Minute)
	if n != 1 {
		t.Errorf("expected 1 pruned, got %d", n)
	}
	if len(s.List()) != 0 {
		t.Error("expected store to be empty after prune")
	}
}
