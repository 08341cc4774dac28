// Package server implements the coordination service. Workers publish
// their outgoing mailboxes and votes for a round; once every expected
// worker has published, the round is sealed, replicated through Raft and
// served back to readers.
package server

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/armon/go-metrics"
	"github.com/hashicorp/go-hclog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	apiv1 "github.com/mundrapranay/dcore/api/v1"
	"github.com/mundrapranay/dcore/internal/kvs"
	"github.com/mundrapranay/dcore/internal/store"
)

// Server implements the CoordinationService gRPC server.
type Server struct {
	apiv1.UnimplementedCoordinationServiceServer

	store  *store.Store
	retain uint64
	logger hclog.Logger

	// Round management
	roundsMu sync.RWMutex
	rounds   map[uint64]*roundState
	tables   map[uint64]*kvs.Table
	// Rounds below floor have been pruned.
	floor uint64
}

// roundState tracks the state of a round during the publish phase.
type roundState struct {
	mu         sync.Mutex
	expected   int32
	workerData map[string][]*apiv1.KeyValuePair
	complete   bool
	started    time.Time
}

// NewServer creates a coordination server on top of s. The newest retain
// completed rounds are kept; 0 keeps every round.
func NewServer(s *store.Store, retain uint64, logger hclog.Logger) *Server {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Server{
		store:  s,
		retain: retain,
		logger: logger,
		rounds: make(map[uint64]*roundState),
		tables: make(map[uint64]*kvs.Table),
	}
}

// StartRound opens a round for publishing. Every worker calls it, so
// repeated calls with the same worker count succeed.
func (s *Server) StartRound(ctx context.Context, req *apiv1.StartRoundRequest) (*apiv1.StartRoundResponse, error) {
	if !s.store.IsLeader() {
		return nil, status.Errorf(codes.FailedPrecondition, "not the leader")
	}
	if req.ExpectedWorkers <= 0 {
		return nil, status.Errorf(codes.InvalidArgument, "expected workers must be positive, got %d", req.ExpectedWorkers)
	}

	s.roundsMu.Lock()
	defer s.roundsMu.Unlock()

	if req.RoundId < s.floor {
		return nil, status.Errorf(codes.FailedPrecondition, "round %d was pruned", req.RoundId)
	}
	if rs, exists := s.rounds[req.RoundId]; exists {
		if rs.expected != req.ExpectedWorkers {
			return nil, status.Errorf(codes.InvalidArgument, "round %d expects %d workers, not %d",
				req.RoundId, rs.expected, req.ExpectedWorkers)
		}
		return &apiv1.StartRoundResponse{Success: true}, nil
	}

	s.rounds[req.RoundId] = &roundState{
		expected:   req.ExpectedWorkers,
		workerData: make(map[string][]*apiv1.KeyValuePair),
		started:    time.Now(),
	}
	s.logger.Debug("round started", "round", req.RoundId, "workers", req.ExpectedWorkers)
	return &apiv1.StartRoundResponse{Success: true}, nil
}

// PublishValues records one worker's pairs for a round. The publish that
// completes the round also seals it.
func (s *Server) PublishValues(ctx context.Context, req *apiv1.PublishValuesRequest) (*apiv1.PublishValuesResponse, error) {
	if !s.store.IsLeader() {
		return nil, status.Errorf(codes.FailedPrecondition, "not the leader")
	}
	if req.WorkerId == "" {
		return nil, status.Errorf(codes.InvalidArgument, "worker id is required")
	}

	s.roundsMu.RLock()
	rs, exists := s.rounds[req.RoundId]
	s.roundsMu.RUnlock()
	if !exists {
		return nil, status.Errorf(codes.NotFound, "round %d not found", req.RoundId)
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.complete {
		return nil, status.Errorf(codes.AlreadyExists, "round %d already completed", req.RoundId)
	}
	for _, p := range req.Pairs {
		if p == nil || p.Key == "" {
			return nil, status.Errorf(codes.InvalidArgument, "pairs must have a key")
		}
	}
	// A repeated publish from the same worker replaces the earlier one.
	rs.workerData[req.WorkerId] = req.Pairs
	if int32(len(rs.workerData)) < rs.expected {
		return &apiv1.PublishValuesResponse{Success: true}, nil
	}

	if err := s.seal(req.RoundId, rs); err != nil {
		return nil, err
	}
	return &apiv1.PublishValuesResponse{Success: true}, nil
}

// seal aggregates a full round, replicates it and prunes old rounds. The
// caller holds rs.mu.
func (s *Server) seal(round uint64, rs *roundState) error {
	allPairs := make(map[string][]byte)
	for _, pairs := range rs.workerData {
		for _, pair := range pairs {
			allPairs[pair.Key] = pair.Value
		}
	}

	var votes int64
	for key, value := range allPairs {
		if !strings.HasPrefix(key, apiv1.VotePrefix) {
			continue
		}
		v, err := apiv1.DecodeVotes(value)
		if err != nil {
			return status.Errorf(codes.InvalidArgument, "round %d: %s: %v", round, key, err)
		}
		votes += v
	}
	allPairs[apiv1.RoundVotesKey] = apiv1.EncodeVotes(votes)

	blob, err := kvs.Encode(allPairs)
	if err != nil {
		return status.Errorf(codes.Internal, "failed to encode round data: %v", err)
	}
	table, err := kvs.Decode(blob)
	if err != nil {
		return status.Errorf(codes.Internal, "failed to decode round data: %v", err)
	}

	if err := s.store.CommitRound(round, blob); err != nil {
		if errors.Is(err, store.ErrNotLeader) {
			return status.Errorf(codes.FailedPrecondition, "not the leader")
		}
		return status.Errorf(codes.Internal, "failed to store round data: %v", err)
	}
	rs.complete = true
	rs.workerData = nil

	s.roundsMu.Lock()
	s.tables[round] = table
	s.roundsMu.Unlock()

	metrics.IncrCounter([]string{"dcore", "coordinator", "rounds"}, 1)
	metrics.MeasureSince([]string{"dcore", "coordinator", "round", "duration"}, rs.started)
	s.logger.Debug("round sealed", "round", round, "pairs", len(allPairs), "votes", votes, "bytes", len(blob))

	if s.retain > 0 && round+1 > s.retain {
		s.prune(round + 1 - s.retain)
	}
	return nil
}

func (s *Server) prune(floor uint64) {
	s.roundsMu.Lock()
	if floor <= s.floor {
		s.roundsMu.Unlock()
		return
	}
	s.floor = floor
	for r := range s.tables {
		if r < floor {
			delete(s.tables, r)
		}
	}
	for r := range s.rounds {
		if r < floor {
			delete(s.rounds, r)
		}
	}
	s.roundsMu.Unlock()

	if err := s.store.PruneBefore(floor); err != nil {
		s.logger.Warn("failed to prune round log", "before", floor, "error", err)
	}
}

// GetValue returns the value published under a key in a sealed round.
// Reads of a round that is not sealed yet fail with Unavailable so the
// caller can retry.
func (s *Server) GetValue(ctx context.Context, req *apiv1.GetValueRequest) (*apiv1.GetValueResponse, error) {
	if !s.store.IsLeader() {
		return nil, status.Errorf(codes.FailedPrecondition, "not the leader")
	}

	table, err := s.table(req.RoundId)
	if err != nil {
		return nil, err
	}
	value, err := table.Get(req.Key)
	if err != nil {
		if errors.Is(err, kvs.ErrNotFound) {
			return nil, status.Errorf(codes.NotFound, "round %d has no key %q", req.RoundId, req.Key)
		}
		return nil, status.Errorf(codes.InvalidArgument, "%v", err)
	}
	return &apiv1.GetValueResponse{Value: value}, nil
}

// table returns the sealed data of round, loading it from the replicated
// log when this node did not seal it.
func (s *Server) table(round uint64) (*kvs.Table, error) {
	s.roundsMu.RLock()
	table, ok := s.tables[round]
	floor := s.floor
	s.roundsMu.RUnlock()
	if ok {
		return table, nil
	}
	if round < floor {
		return nil, status.Errorf(codes.NotFound, "round %d was pruned", round)
	}

	blob, ok := s.store.Round(round)
	if !ok {
		if kept := s.store.Rounds(); len(kept) > 0 && round < kept[0] {
			return nil, status.Errorf(codes.NotFound, "round %d was pruned", round)
		}
		return nil, status.Errorf(codes.Unavailable, "round %d is not complete", round)
	}
	table, err := kvs.Decode(blob)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to decode round %d: %v", round, err)
	}

	s.roundsMu.Lock()
	s.tables[round] = table
	s.roundsMu.Unlock()
	return table, nil
}
