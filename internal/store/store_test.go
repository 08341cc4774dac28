package store

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func testConfig(t *testing.T, dataDir string, bootstrap bool) Config {
	t.Helper()
	return Config{
		NodeID:           "test-node",
		ListenAddr:       "127.0.0.1:0",
		DataDir:          dataDir,
		Bootstrap:        bootstrap,
		HeartbeatTimeout: 500 * time.Millisecond,
		ElectionTimeout:  500 * time.Millisecond,
		CommitTimeout:    50 * time.Millisecond,
	}
}

// waitForLeadership waits for a node to become leader
func waitForLeadership(t *testing.T, store *Store, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !store.IsLeader() {
		if time.Now().After(deadline) {
			t.Fatal("Timeout waiting for leadership")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func newLeader(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(testConfig(t, t.TempDir(), true))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Shutdown() })
	waitForLeadership(t, store, 5*time.Second)
	return store
}

func TestNewStore(t *testing.T) {
	store := newLeader(t)
	if store.fsm == nil || store.raft == nil {
		t.Fatal("Store is not fully initialised")
	}
	if store.Addr() == "" || store.Leader() != store.Addr() {
		t.Fatalf("Expected leader %q to be the local node %q", store.Leader(), store.Addr())
	}
}

func TestStore_CommitAndRead(t *testing.T) {
	store := newLeader(t)

	if err := store.CommitRound(0, []byte("round-0")); err != nil {
		t.Fatalf("Failed to commit round: %v", err)
	}
	if err := store.CommitRound(1, nil); err != nil {
		t.Fatalf("Failed to commit empty round: %v", err)
	}

	// Apply returns after the local FSM applied the entry.
	value, exists := store.Round(0)
	if !exists || string(value) != "round-0" {
		t.Fatalf("Expected round-0, got %q (exists=%v)", value, exists)
	}
	if _, exists := store.Round(1); !exists {
		t.Fatal("Empty round should still be recorded")
	}
	if _, exists := store.Round(2); exists {
		t.Fatal("Round 2 should not exist")
	}
}

func TestStore_Prune(t *testing.T) {
	store := newLeader(t)
	for r := uint64(0); r < 4; r++ {
		if err := store.CommitRound(r, []byte{byte(r)}); err != nil {
			t.Fatalf("Failed to commit round %d: %v", r, err)
		}
	}
	if err := store.PruneBefore(2); err != nil {
		t.Fatalf("Failed to prune: %v", err)
	}
	if got := store.Rounds(); !reflect.DeepEqual(got, []uint64{2, 3}) {
		t.Fatalf("Expected rounds [2 3], got %v", got)
	}
}

func TestStore_FollowerRejectsWrites(t *testing.T) {
	// A node that never bootstraps has no leader and must not accept writes.
	store, err := NewStore(testConfig(t, t.TempDir(), false))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Shutdown()

	if err := store.CommitRound(0, nil); !errors.Is(err, ErrNotLeader) {
		t.Fatalf("Expected ErrNotLeader, got %v", err)
	}
	if err := store.WaitForLeader(200 * time.Millisecond); err == nil {
		t.Fatal("Expected WaitForLeader to time out")
	}
}

func TestStore_DataDirCreation(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "nested", "raft-data")

	store, err := NewStore(testConfig(t, dataDir, true))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Shutdown()

	for _, name := range []string{"logs", "stable"} {
		if _, err := os.Stat(filepath.Join(dataDir, name)); os.IsNotExist(err) {
			t.Fatalf("%s store was not created", name)
		}
	}
}

func TestStore_FailedStartReleasesDataDir(t *testing.T) {
	dataDir := t.TempDir()
	cfg := testConfig(t, dataDir, true)
	cfg.ListenAddr = "not-an-address"
	if _, err := NewStore(cfg); err == nil {
		t.Fatal("Expected an unusable listen address to fail")
	}

	// The bolt files are locked while open, so reopening blocks if the
	// failed start leaked them.
	type result struct {
		store *Store
		err   error
	}
	done := make(chan result, 1)
	go func() {
		store, err := NewStore(testConfig(t, dataDir, true))
		done <- result{store, err}
	}()
	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("Failed to reopen data dir: %v", r.err)
		}
		r.store.Shutdown()
	case <-time.After(5 * time.Second):
		t.Fatal("Data dir still locked after a failed start")
	}
}

func TestStore_RestartKeepsRounds(t *testing.T) {
	dataDir := t.TempDir()
	store, err := NewStore(testConfig(t, dataDir, true))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	waitForLeadership(t, store, 5*time.Second)
	if err := store.CommitRound(5, []byte("persisted")); err != nil {
		t.Fatalf("Failed to commit round: %v", err)
	}
	if err := store.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	// Bootstrapping an existing data dir is a no-op; the log is replayed.
	store, err = NewStore(testConfig(t, dataDir, true))
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	defer store.Shutdown()
	waitForLeadership(t, store, 5*time.Second)

	deadline := time.Now().Add(5 * time.Second)
	for {
		if value, ok := store.Round(5); ok && string(value) == "persisted" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("Round 5 was not replayed after restart")
		}
		time.Sleep(50 * time.Millisecond)
	}
}
