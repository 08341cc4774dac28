// Package store replicates completed coordination rounds through Raft so a
// follower can serve them after a leader change.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb/v2"
)

// ErrNotLeader is returned for writes on a follower.
var ErrNotLeader = errors.New("not the leader")

// Store wraps a Raft instance and the round log it replicates.
type Store struct {
	raft      *raft.Raft
	fsm       *FSM
	transport *raft.NetworkTransport
	bolts     []*raftboltdb.BoltStore
	timeout   time.Duration
	logger    hclog.Logger
}

// Config holds configuration for initializing a Raft store.
type Config struct {
	NodeID           string
	ListenAddr       string
	DataDir          string
	Bootstrap        bool
	HeartbeatTimeout time.Duration
	ElectionTimeout  time.Duration
	CommitTimeout    time.Duration
	ApplyTimeout     time.Duration
	Logger           hclog.Logger
}

// NewStore creates and initializes a new Raft store.
func NewStore(config Config) (*Store, error) {
	logger := config.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if config.ApplyTimeout == 0 {
		config.ApplyTimeout = 10 * time.Second
	}

	fsm := NewFSM(logger.Named("fsm"))

	raftConfig := raft.DefaultConfig()
	raftConfig.LocalID = raft.ServerID(config.NodeID)
	raftConfig.Logger = logger.Named("raft")
	if config.HeartbeatTimeout > 0 {
		raftConfig.HeartbeatTimeout = config.HeartbeatTimeout
		raftConfig.LeaderLeaseTimeout = config.HeartbeatTimeout
	}
	if config.ElectionTimeout > 0 {
		raftConfig.ElectionTimeout = config.ElectionTimeout
	}
	if config.CommitTimeout > 0 {
		raftConfig.CommitTimeout = config.CommitTimeout
	}

	if err := os.MkdirAll(config.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	// Everything opened so far is released if a later step fails.
	var closers []io.Closer
	ok := false
	defer func() {
		if ok {
			return
		}
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i].Close()
		}
	}()

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(config.DataDir, "logs"))
	if err != nil {
		return nil, fmt.Errorf("failed to create log store: %w", err)
	}
	closers = append(closers, logStore)

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(config.DataDir, "stable"))
	if err != nil {
		return nil, fmt.Errorf("failed to create stable store: %w", err)
	}
	closers = append(closers, stableStore)

	snapshotStore, err := raft.NewFileSnapshotStoreWithLogger(config.DataDir, 3, logger.Named("snapshot"))
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot store: %w", err)
	}

	// A nil advertise address makes the transport report the bound port,
	// which matters for ":0" listeners.
	transport, err := raft.NewTCPTransportWithLogger(config.ListenAddr, nil, 3, 10*time.Second, logger.Named("transport"))
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}
	closers = append(closers, transport)

	r, err := raft.NewRaft(raftConfig, fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("failed to create raft: %w", err)
	}

	if config.Bootstrap {
		configuration := raft.Configuration{
			Servers: []raft.Server{
				{
					ID:      raft.ServerID(config.NodeID),
					Address: transport.LocalAddr(),
				},
			},
		}
		if err := r.BootstrapCluster(configuration).Error(); err != nil && !errors.Is(err, raft.ErrCantBootstrap) {
			r.Shutdown().Error()
			return nil, fmt.Errorf("failed to bootstrap: %w", err)
		}
	}

	ok = true
	return &Store{
		raft:      r,
		fsm:       fsm,
		transport: transport,
		bolts:     []*raftboltdb.BoltStore{logStore, stableStore},
		timeout:   config.ApplyTimeout,
		logger:    logger,
	}, nil
}

func (s *Store) apply(cmd Command) error {
	if s.raft.State() != raft.Leader {
		return ErrNotLeader
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}

	future := s.raft.Apply(data, s.timeout)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to apply command: %w", err)
	}
	if err, ok := future.Response().(error); ok && err != nil {
		return err
	}
	return nil
}

// CommitRound replicates the result blob of a completed round.
func (s *Store) CommitRound(round uint64, blob []byte) error {
	return s.apply(Command{Op: OpCommit, Round: round, Value: blob})
}

// PruneBefore drops every round below round from the log.
func (s *Store) PruneBefore(round uint64) error {
	return s.apply(Command{Op: OpPrune, Round: round})
}

// Round returns the result blob of a committed round from the local FSM.
func (s *Store) Round(round uint64) ([]byte, bool) {
	return s.fsm.Get(round)
}

// Rounds returns the retained round numbers.
func (s *Store) Rounds() []uint64 {
	return s.fsm.Rounds()
}

// IsLeader returns whether this node is currently the Raft leader.
func (s *Store) IsLeader() bool {
	return s.raft.State() == raft.Leader
}

// Leader returns the address of the current leader.
func (s *Store) Leader() raft.ServerAddress {
	addr, _ := s.raft.LeaderWithID()
	return addr
}

// Addr returns the address the Raft transport is bound to.
func (s *Store) Addr() raft.ServerAddress {
	return s.transport.LocalAddr()
}

// WaitForLeader blocks until some node leads the cluster or timeout passes.
func (s *Store) WaitForLeader(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.Leader() != "" {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("no leader after %s", timeout)
}

// AddPeer adds a new voter to the cluster.
func (s *Store) AddPeer(peerID, peerAddr string) error {
	s.logger.Info("adding peer", "id", peerID, "addr", peerAddr)
	return s.raft.AddVoter(raft.ServerID(peerID), raft.ServerAddress(peerAddr), 0, 0).Error()
}

// RemovePeer removes a peer from the cluster.
func (s *Store) RemovePeer(peerID string) error {
	s.logger.Info("removing peer", "id", peerID)
	return s.raft.RemoveServer(raft.ServerID(peerID), 0, 0).Error()
}

// Shutdown stops Raft and closes the bolt stores.
func (s *Store) Shutdown() error {
	err := s.raft.Shutdown().Error()
	for _, b := range s.bolts {
		if cerr := b.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
