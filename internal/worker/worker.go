// Package worker drives an App through rounds on one fragment and runs
// whole clusters of fragments in one process.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/armon/go-metrics"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/mundrapranay/dcore/algorithms"
	"github.com/mundrapranay/dcore/algorithms/common"
	"github.com/mundrapranay/dcore/internal/exchange"
	"github.com/mundrapranay/dcore/internal/fragment"
	"github.com/mundrapranay/dcore/internal/messaging"
)

// Options controls one run.
type Options struct {
	// Goroutines for merge and recomputation; 0 means 1.
	Threads int

	// Upper bound on incremental rounds; 0 means unbounded.
	MaxRounds int

	Params common.Parameters
}

// Worker runs one App on one fragment.
type Worker struct {
	app    common.App
	frag   *fragment.Fragment
	msgs   *messaging.Manager
	ex     exchange.Exchanger
	opts   Options
	logger hclog.Logger
	labels []metrics.Label
}

// New creates a worker. ex must connect every fragment of the run.
func New(app common.App, frag *fragment.Fragment, ex exchange.Exchanger, opts Options, logger hclog.Logger) *Worker {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if opts.Threads <= 0 {
		opts.Threads = 1
	}
	logger = logger.With("fragment", frag.FID())
	return &Worker{
		app:    app,
		frag:   frag,
		msgs:   messaging.NewManager(frag, logger.Named("messaging")),
		ex:     ex,
		opts:   opts,
		logger: logger,
		labels: []metrics.Label{{Name: "fragment", Value: strconv.Itoa(frag.FID())}},
	}
}

// App returns the app the worker drives.
func (w *Worker) App() common.App { return w.app }

// Run executes round 0 and then incremental rounds until no fragment has
// any activity left.
func (w *Worker) Run(ctx context.Context) (*common.AlgorithmResult, error) {
	if err := w.app.Init(w.frag, w.opts.Params); err != nil {
		return nil, fmt.Errorf("init %s: %w", w.app.Name(), err)
	}
	w.msgs.InitChannels(w.opts.Threads)

	w.logger.Info("starting", "algorithm", w.app.Name(),
		"inner", w.frag.InnerVertices().Len(), "outer", w.frag.OuterVertices().Len(), "threads", w.opts.Threads)

	start := time.Now()
	if err := w.app.PartialEval(ctx, w.frag, w.msgs); err != nil {
		return nil, fmt.Errorf("round 0: %w", err)
	}

	round := 0
	for {
		roundStart := time.Now()
		out := w.msgs.Drain()
		metrics.IncrCounterWithLabels([]string{"dcore", "round", "messages"}, float32(out.Sent), w.labels)

		in, err := w.ex.Exchange(ctx, round, out)
		if err != nil {
			return nil, fmt.Errorf("exchange round %d: %w", round, err)
		}
		w.logger.Debug("round exchanged", "round", round, "sent", out.Sent, "received_batches", len(in.Batches), "votes", in.Votes)

		if in.Votes == 0 {
			break
		}
		round++
		if w.opts.MaxRounds > 0 && round > w.opts.MaxRounds {
			return nil, fmt.Errorf("%s after %d rounds: %w", w.app.Name(), w.opts.MaxRounds, common.ErrNotConverged)
		}

		w.msgs.Deliver(in)
		if err := w.app.IncrementalEval(ctx, w.frag, w.msgs); err != nil {
			return nil, fmt.Errorf("round %d: %w", round, err)
		}
		metrics.MeasureSinceWithLabels([]string{"dcore", "round", "duration"}, roundStart, w.labels)
	}

	metrics.MeasureSinceWithLabels([]string{"dcore", "run", "duration"}, start, w.labels)
	metrics.SetGaugeWithLabels([]string{"dcore", "run", "rounds"}, float32(round), w.labels)

	res := w.app.Result()
	res.FragmentID = w.frag.FID()
	res.NumRounds = round
	res.Converged = true
	res.ConvergenceRound = round
	w.logger.Info("converged", "rounds", round, "elapsed", time.Since(start))
	return res, nil
}

// Parameters returns the app parameters of cfg, with output settings that
// apps consume folded in.
func Parameters(cfg *common.AlgorithmConfig) common.Parameters {
	params := make(common.Parameters, len(cfg.Parameters)+1)
	for k, v := range cfg.Parameters {
		params[k] = v
	}
	if cfg.Output.ReleaseEpsilon > 0 {
		params["release_epsilon"] = cfg.Output.ReleaseEpsilon
	}
	return params
}

// Cluster is the outcome of an in-process run.
type Cluster struct {
	Fragments []*fragment.Fragment
	Apps      []common.App
	Results   []*common.AlgorithmResult
}

// RunCluster partitions g across cfg's workers and runs every fragment in
// this process. The first failing fragment cancels the others.
func RunCluster(ctx context.Context, g *common.GraphData, cfg *common.AlgorithmConfig, logger hclog.Logger) (*Cluster, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	n := cfg.WorkerConfig.NumWorkers
	owner, err := common.Owner(n, cfg.WorkerConfig.VertexAssignment)
	if err != nil {
		return nil, err
	}

	c := &Cluster{
		Fragments: make([]*fragment.Fragment, n),
		Apps:      make([]common.App, n),
		Results:   make([]*common.AlgorithmResult, n),
	}
	hub := exchange.NewHub(n)
	workers := make([]*Worker, n)
	opts := Options{
		Threads:   cfg.WorkerConfig.Threads,
		MaxRounds: cfg.MaxRounds,
		Params:    Parameters(cfg),
	}
	for fid := 0; fid < n; fid++ {
		frag, err := fragment.Build(fid, n, g, owner)
		if err != nil {
			return nil, err
		}
		app, err := algorithms.Get(cfg.AlgorithmName)
		if err != nil {
			return nil, err
		}
		c.Fragments[fid] = frag
		c.Apps[fid] = app
		workers[fid] = New(app, frag, hub.Endpoint(fid), opts, logger.Named(common.WorkerName(fid)))
	}

	eg, ctx := errgroup.WithContext(ctx)
	for fid, w := range workers {
		fid, w := fid, w
		eg.Go(func() error {
			res, err := w.Run(ctx)
			if err != nil {
				return fmt.Errorf("%s: %w", common.WorkerName(fid), err)
			}
			c.Results[fid] = res
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return c, nil
}
