package main

import (
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"google.golang.org/grpc"

	apiv1 "github.com/mundrapranay/dcore/api/v1"
	"github.com/mundrapranay/dcore/internal/logging"
	"github.com/mundrapranay/dcore/internal/server"
	"github.com/mundrapranay/dcore/internal/store"
	"github.com/mundrapranay/dcore/internal/telemetry"
)

var (
	nodeID       = flag.String("node-id", "", "Unique ID for this node")
	listenAddr   = flag.String("listen-addr", "127.0.0.1:8080", "Address to listen for Raft communication")
	grpcAddr     = flag.String("grpc-addr", "127.0.0.1:9090", "Address to listen for gRPC API")
	dataDir      = flag.String("data-dir", "./data", "Directory to store Raft logs and snapshots")
	bootstrap    = flag.Bool("bootstrap", false, "Bootstrap a new cluster (first node)")
	peers        = flag.String("peers", "", "Comma-separated id=raft-addr voters the bootstrap node adds")
	retainRounds = flag.Uint64("retain-rounds", 2, "Completed rounds kept in the log (0 keeps all)")
	logLevel     = flag.String("log-level", "info", "Log level: trace, debug, info, warn, error")
)

func main() {
	flag.Parse()

	if *nodeID == "" {
		log.Fatal("node-id is required")
	}

	logger := logging.New("dcore-coordinator", *logLevel).With("node", *nodeID)
	if _, stop, err := telemetry.Install("dcore"); err != nil {
		logger.Warn("metrics disabled", "error", err)
	} else {
		defer stop()
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(*dataDir, 0755); err != nil {
		log.Fatalf("failed to create data directory: %v", err)
	}

	storeConfig := store.Config{
		NodeID:           *nodeID,
		ListenAddr:       *listenAddr,
		DataDir:          *dataDir,
		Bootstrap:        *bootstrap,
		HeartbeatTimeout: 1000 * time.Millisecond,
		ElectionTimeout:  1000 * time.Millisecond,
		CommitTimeout:    50 * time.Millisecond,
		Logger:           logger.Named("store"),
	}

	s, err := store.NewStore(storeConfig)
	if err != nil {
		log.Fatalf("failed to create store: %v", err)
	}
	defer s.Shutdown()

	coordinator := server.NewServer(s, *retainRounds, logger.Named("server"))

	lis, err := net.Listen("tcp", *grpcAddr)
	if err != nil {
		log.Fatalf("failed to listen: %v", err)
	}

	grpcSrv := grpc.NewServer()
	apiv1.RegisterCoordinationServiceServer(grpcSrv, coordinator)

	logger.Info("starting gRPC server", "addr", lis.Addr().String())
	go func() {
		if err := grpcSrv.Serve(lis); err != nil {
			log.Fatalf("failed to serve gRPC: %v", err)
		}
	}()

	if *bootstrap {
		logger.Info("bootstrapping cluster")
		for !s.IsLeader() {
			time.Sleep(100 * time.Millisecond)
		}
		logger.Info("became leader")

		for _, peer := range splitPeers(*peers) {
			if err := s.AddPeer(peer[0], peer[1]); err != nil {
				log.Fatalf("failed to add peer %s: %v", peer[0], err)
			}
		}
	}

	logger.Info("node ready", "raft", string(s.Addr()), "grpc", lis.Addr().String())

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	grpcSrv.GracefulStop()
}

// splitPeers parses "id=addr,id=addr".
func splitPeers(list string) [][2]string {
	var out [][2]string
	for _, p := range strings.Split(list, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, addr, ok := strings.Cut(p, "=")
		if !ok || id == "" || addr == "" {
			log.Fatalf("invalid peer %q, want id=addr", p)
		}
		out = append(out, [2]string{id, addr})
	}
	return out
}
