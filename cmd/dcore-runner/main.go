package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/hashicorp/go-hclog"

	"github.com/mundrapranay/dcore/algorithms"
	"github.com/mundrapranay/dcore/algorithms/common"
	"github.com/mundrapranay/dcore/algorithms/dcore"
	"github.com/mundrapranay/dcore/algorithms/incore"
	"github.com/mundrapranay/dcore/algorithms/skyline"
	"github.com/mundrapranay/dcore/algorithms/verify"
	"github.com/mundrapranay/dcore/internal/fragment"
	"github.com/mundrapranay/dcore/internal/logging"
	"github.com/mundrapranay/dcore/internal/telemetry"
	"github.com/mundrapranay/dcore/internal/worker"
	"github.com/mundrapranay/dcore/pkg/client"
)

var (
	configFile = flag.String("config", "", "Path to algorithm configuration file (required)")
	verifyRun  = flag.Bool("verify", false, "Check the converged result against exact core peeling of the whole graph (local mode; skyline seeds must be upper bounds)")
	logLevel   = flag.String("log-level", "info", "Log level: trace, debug, info, warn, error")
)

func main() {
	flag.Parse()

	if *configFile == "" {
		fmt.Fprintf(os.Stderr, "Error: -config flag is required\n")
		fmt.Fprintf(os.Stderr, "Usage: %s -config <config.yaml>\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Algorithms: %s\n", strings.Join(algorithms.List(), ", "))
		fmt.Fprintf(os.Stderr, "\nExample config file:\n")
		printExampleConfig()
		os.Exit(1)
	}

	config, err := common.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New("dcore-runner", *logLevel)
	if _, stop, err := telemetry.Install("dcore"); err != nil {
		logger.Warn("metrics disabled", "error", err)
	} else {
		defer stop()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("loaded configuration", "algorithm", config.AlgorithmName, "mode", config.Mode,
		"workers", config.WorkerConfig.NumWorkers, "threads", config.WorkerConfig.Threads)

	switch config.Mode {
	case common.ModeDistributed:
		err = runDistributed(ctx, config, logger)
	default:
		err = runLocal(ctx, config, logger)
	}
	if err != nil {
		logger.Error("algorithm execution failed", "error", err)
		os.Exit(1)
	}
	logger.Info("algorithm execution completed successfully")
}

func runLocal(ctx context.Context, config *common.AlgorithmConfig, logger hclog.Logger) error {
	g, err := loadWholeGraph(config)
	if err != nil {
		return err
	}
	logger.Info("loaded graph", "vertices", g.NumVertices(), "edges", g.NumEdges(), "self_loops", g.DroppedSelfLoops)

	cluster, err := worker.RunCluster(ctx, g, config, logger)
	if err != nil {
		return err
	}

	for fid, app := range cluster.Apps {
		if err := writeOutput(config.Output.Dir, fid, app); err != nil {
			return err
		}
		printResults(cluster.Results[fid])
	}

	if *verifyRun {
		if err := check(g, cluster.Apps); err != nil {
			return fmt.Errorf("verification failed: %w", err)
		}
		logger.Info("verified fixpoint", "vertices", g.NumVertices())
	}
	return nil
}

// loadWholeGraph loads the graph for local mode. With local_testing every
// worker's partition file is read and merged.
func loadWholeGraph(config *common.AlgorithmConfig) (*common.GraphData, error) {
	if !config.GraphConfig.LocalTesting {
		return common.LoadGraphData(&config.GraphConfig, "")
	}

	var edges []common.Edge
	var ids []int64
	attrs := make(map[int64]string)
	for i := 0; i < config.WorkerConfig.NumWorkers; i++ {
		part, err := common.LoadGraphData(&config.GraphConfig, common.WorkerName(i))
		if err != nil {
			return nil, err
		}
		edges = append(edges, part.Edges...)
		ids = append(ids, part.VertexIDs...)
		for id, a := range part.Attributes {
			attrs[id] = a
		}
	}
	return common.NewGraphData(edges, ids, attrs), nil
}

func runDistributed(ctx context.Context, config *common.AlgorithmConfig, logger hclog.Logger) error {
	fid, err := common.WorkerIndex(config.WorkerConfig.WorkerID)
	if err != nil {
		return err
	}
	n := config.WorkerConfig.NumWorkers

	g, err := common.LoadGraphData(&config.GraphConfig, config.WorkerConfig.WorkerID)
	if err != nil {
		return fmt.Errorf("failed to load graph data: %w", err)
	}
	logger.Info("loaded graph", "vertices", g.NumVertices(), "edges", g.NumEdges())

	owner, err := common.Owner(n, config.WorkerConfig.VertexAssignment)
	if err != nil {
		return err
	}
	frag, err := fragment.Build(fid, n, g, owner)
	if err != nil {
		return err
	}
	app, err := algorithms.Get(config.AlgorithmName)
	if err != nil {
		return err
	}

	logger.Info("connecting to coordinator", "addr", config.ServerAddress)
	c, err := client.NewClient(config.ServerAddress)
	if err != nil {
		return err
	}
	defer c.Close()

	ex := client.NewExchanger(c, fid, n, logger.Named("exchange"))
	w := worker.New(app, frag, ex, worker.Options{
		Threads:   config.WorkerConfig.Threads,
		MaxRounds: config.MaxRounds,
		Params:    worker.Parameters(config),
	}, logger.Named(config.WorkerConfig.WorkerID))

	res, err := w.Run(ctx)
	if err != nil {
		return err
	}
	if err := writeOutput(config.Output.Dir, fid, app); err != nil {
		return err
	}
	printResults(res)
	return nil
}

func writeOutput(dir string, fid int, app common.App) error {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("result_frag_%d", fid))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := app.Output(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

func check(g *common.GraphData, apps []common.App) error {
	dg := verify.BuildGraph(g)
	switch apps[0].(type) {
	case *dcore.App:
		all := make(map[int64]skyline.Skyline)
		for _, app := range apps {
			for id, s := range app.(*dcore.App).Skylines() {
				all[id] = s
			}
		}
		return verify.CheckSkylines(dg, all)
	case *incore.App:
		all := make(map[int64]int32)
		for _, app := range apps {
			for id, c := range app.(*incore.App).Coreness() {
				all[id] = c
			}
		}
		return verify.CheckCoreness(dg, all)
	default:
		return fmt.Errorf("no verifier for %s", apps[0].Name())
	}
}

func printResults(result *common.AlgorithmResult) {
	fmt.Println()
	fmt.Printf("Algorithm Results: %s (fragment %d)\n", result.AlgorithmName, result.FragmentID)
	fmt.Printf("  Rounds executed:    %d\n", result.NumRounds)
	fmt.Printf("  Converged:          %v\n", result.Converged)
	if result.Converged {
		fmt.Printf("  Convergence round:  %d\n", result.ConvergenceRound)
	}

	if len(result.Metadata) > 0 {
		keys := make([]string, 0, len(result.Metadata))
		for k := range result.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Println("  Metadata:")
		for _, key := range keys {
			fmt.Printf("    %s: %v\n", key, result.Metadata[key])
		}
	}
}

func printExampleConfig() {
	example := `algorithm_name: skyline-core  # or in-coreness
mode: local  # or distributed
server_address: "127.0.0.1:9090"  # distributed only
max_rounds: 0  # 0 = until convergence

worker_config:
  num_workers: 4
  worker_id: "worker-0"  # distributed only
  threads: 4
  # vertex_assignment:  # Optional, custom vertex-to-worker mapping

graph_config:
  format: "edgelist"
  file_path: "/path/to/graph.txt"
  attribute_file: "/path/to/attributes.txt"  # skyline seeds, "<id> .k.l..."
  # OR specify edges directly:
  # edges:
  #   - u: 0
  #     v: 1
  directed: true

output:
  dir: "./results"
  release_epsilon: 0  # > 0 adds geometric noise to coreness output

parameters:
  seed: attribute  # or degree
`
	fmt.Print(example)
}
