package store

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/raft"
)

// Log operations.
const (
	OpCommit = "COMMIT" // record the result blob of a round
	OpPrune  = "PRUNE"  // drop every round below Round
)

// Command represents a single operation to be applied to the FSM.
type Command struct {
	Op    string `json:"op"`
	Round uint64 `json:"round"`
	Value []byte `json:"value,omitempty"`
}

// RoundKey names a round in snapshots.
func RoundKey(round uint64) string {
	return fmt.Sprintf("round_%d_results", round)
}

func parseRoundKey(key string) (uint64, error) {
	var round uint64
	if _, err := fmt.Sscanf(key, "round_%d_results", &round); err != nil {
		return 0, fmt.Errorf("invalid round key %q: %w", key, err)
	}
	return round, nil
}

// FSM is the replicated round log: completed rounds' result blobs by round
// number.
type FSM struct {
	mu     sync.RWMutex
	rounds map[uint64][]byte
	logger hclog.Logger
}

// NewFSM creates a new FSM instance.
func NewFSM(logger hclog.Logger) *FSM {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &FSM{
		rounds: make(map[uint64][]byte),
		logger: logger,
	}
}

// Apply applies a Raft log entry to the FSM.
func (f *FSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("failed to deserialize command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case OpCommit:
		f.rounds[cmd.Round] = cmd.Value
		f.logger.Trace("round committed", "round", cmd.Round, "bytes", len(cmd.Value), "index", log.Index)
		return nil
	case OpPrune:
		pruned := 0
		for r := range f.rounds {
			if r < cmd.Round {
				delete(f.rounds, r)
				pruned++
			}
		}
		f.logger.Trace("rounds pruned", "below", cmd.Round, "count", pruned)
		return nil
	default:
		return fmt.Errorf("unrecognized command op: %s", cmd.Op)
	}
}

// Get returns the result blob of a committed round.
func (f *FSM) Get(round uint64) ([]byte, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	value, exists := f.rounds[round]
	return value, exists
}

// Rounds returns the committed round numbers in ascending order.
func (f *FSM) Rounds() []uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]uint64, 0, len(f.rounds))
	for r := range f.rounds {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Snapshot captures the retained rounds for log compaction.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	clone := make(map[string][]byte, len(f.rounds))
	for r, v := range f.rounds {
		valueCopy := make([]byte, len(v))
		copy(valueCopy, v)
		clone[RoundKey(r)] = valueCopy
	}
	return &FSMSnapshot{data: clone}, nil
}

// Restore replaces the FSM state with a snapshot.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snapshotData map[string][]byte
	if err := json.NewDecoder(rc).Decode(&snapshotData); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}

	rounds := make(map[uint64][]byte, len(snapshotData))
	for k, v := range snapshotData {
		r, err := parseRoundKey(k)
		if err != nil {
			return err
		}
		rounds[r] = v
	}

	f.mu.Lock()
	f.rounds = rounds
	f.mu.Unlock()
	f.logger.Info("restored round log", "rounds", len(rounds))
	return nil
}

// FSMSnapshot represents a snapshot of the FSM state.
type FSMSnapshot struct {
	data map[string][]byte
}

// Persist writes the snapshot to the given sink.
func (s *FSMSnapshot) Persist(sink raft.SnapshotSink) error {
	if err := json.NewEncoder(sink).Encode(s.data); err != nil {
		sink.Cancel()
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return sink.Close()
}

// Release is a no-op; the snapshot owns a private copy.
func (s *FSMSnapshot) Release() {}
