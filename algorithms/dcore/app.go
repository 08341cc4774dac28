// Package dcore computes the skyline (k,l)-core decomposition of a directed
// graph. Every vertex ends with the maximal (k,l) pairs such that it belongs
// to the (k,l)-core: the largest subgraph where each vertex has at least k
// in-neighbours and l out-neighbours.
package dcore

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/mundrapranay/dcore/algorithms"
	"github.com/mundrapranay/dcore/algorithms/common"
	"github.com/mundrapranay/dcore/algorithms/skyline"
)

// Name is the registry name of the app.
const Name = "skyline-core"

// Seed sources for the round-0 skyline.
const (
	SeedAttribute = "attribute"
	SeedDegree    = "degree"
)

func init() {
	algorithms.Register(Name, func() common.App { return New() })
}

// Context is the per-vertex state arena, indexed by vertex handle.
type Context struct {
	// Visible state of inner and outer vertices.
	Committed []skyline.Skyline

	// Next-round state of inner vertices, valid where Dirty is set.
	Staged []skyline.Skyline
	Dirty  []bool
}

// App implements common.App.
type App struct {
	frag   common.Fragment
	seed   string
	ctx    *Context
	rounds int

	updatedPerRound []int
}

var _ common.App = (*App)(nil)

// New creates an uninitialised app.
func New() *App {
	return &App{}
}

func (a *App) Name() string { return Name }

// Init allocates the arena. The "seed" parameter selects where round-0
// skylines come from: vertex attributes (default) or degrees.
func (a *App) Init(frag common.Fragment, params common.Parameters) error {
	seed, err := params.String("seed", SeedAttribute)
	if err != nil {
		return err
	}
	switch seed {
	case SeedAttribute, SeedDegree:
	default:
		return fmt.Errorf("unknown seed %q: %w", seed, common.ErrInvalidArgument)
	}

	inner := frag.InnerVertices().Len()
	a.frag = frag
	a.seed = seed
	a.ctx = &Context{
		Committed: make([]skyline.Skyline, frag.VerticesNum()),
		Staged:    make([]skyline.Skyline, inner),
		Dirty:     make([]bool, inner),
	}
	a.rounds = 0
	a.updatedPerRound = nil
	return nil
}

// Context returns the state arena.
func (a *App) Context() *Context { return a.ctx }

func (a *App) seedOf(v common.Vertex) (skyline.Skyline, error) {
	if a.seed == SeedDegree {
		in, out := a.frag.GetLocalInDegree(v), a.frag.GetLocalOutDegree(v)
		if in == 0 && out == 0 {
			return skyline.Skyline{}, nil
		}
		return skyline.Skyline{{K: int32(in), L: int32(out)}}, nil
	}
	s, err := skyline.Parse(a.frag.GetData(v))
	if err != nil {
		return nil, fmt.Errorf("vertex %d: %w", a.frag.GetID(v), err)
	}
	return s, nil
}

func (a *App) PartialEval(ctx context.Context, frag common.Fragment, msgs common.MessageManager) error {
	inner := frag.InnerVertices()
	for v := inner.Begin; v < inner.End; v++ {
		s, err := a.seedOf(v)
		if err != nil {
			return err
		}
		a.ctx.Committed[v] = s
	}

	channel := msgs.Channels()[0]
	for v := inner.Begin; v < inner.End; v++ {
		channel.SendMsgThroughEdges(v, skyline.AppendBinary(nil, a.ctx.Committed[v]))
	}
	// Inner neighbours never exchange messages, so round 1 must run even
	// when nothing crossed a fragment boundary.
	msgs.ForceContinue()
	return ctx.Err()
}

func (a *App) IncrementalEval(ctx context.Context, frag common.Fragment, msgs common.MessageManager) error {
	a.rounds++
	channels := msgs.Channels()
	threads := len(channels)

	err := msgs.ParallelProcess(ctx, threads, func(tid int, u common.Vertex, payload []byte) error {
		if !frag.OuterVertices().Contains(u) {
			return fmt.Errorf("skyline update for inner vertex %d: %w", frag.GetID(u), common.ErrInvalidArgument)
		}
		s, err := skyline.DecodeBinary(payload)
		if err != nil {
			return fmt.Errorf("skyline update for vertex %d: %w", frag.GetID(u), err)
		}
		if !s.Equal(a.ctx.Committed[u]) {
			a.ctx.Committed[u] = s
		}
		return nil
	})
	if err != nil {
		return err
	}

	updated, err := a.recomputeAll(ctx, frag, channels)
	if err != nil {
		return err
	}

	inner := frag.InnerVertices()
	for v := inner.Begin; v < inner.End; v++ {
		if a.ctx.Dirty[v] {
			a.ctx.Committed[v] = a.ctx.Staged[v]
			a.ctx.Staged[v] = nil
			a.ctx.Dirty[v] = false
		}
	}

	a.updatedPerRound = append(a.updatedPerRound, updated)
	if updated > 0 {
		msgs.ForceContinue()
	}
	return nil
}

// recomputeAll recomputes inner vertices in contiguous ranges, one per
// channel, and returns the number of changed vertices.
func (a *App) recomputeAll(ctx context.Context, frag common.Fragment, channels []common.MessageChannel) (int, error) {
	inner := frag.InnerVertices()
	threads := len(channels)
	chunk := (inner.Len() + threads - 1) / threads
	counts := make([]int, threads)

	g, ctx := errgroup.WithContext(ctx)
	for tid := 0; tid < threads; tid++ {
		begin := inner.Begin + common.Vertex(tid*chunk)
		end := begin + common.Vertex(chunk)
		if end > inner.End {
			end = inner.End
		}
		if begin >= end {
			continue
		}
		tid := tid
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			for v := begin; v < end; v++ {
				next := Recompute(frag, a.ctx.Committed, v)
				if next.Equal(a.ctx.Committed[v]) {
					continue
				}
				a.ctx.Staged[v] = next
				a.ctx.Dirty[v] = true
				counts[tid]++
				channels[tid].SendMsgThroughEdges(v, skyline.AppendBinary(nil, next))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	total := 0
	for _, c := range counts {
		total += c
	}
	return total, nil
}

// Skylines returns the committed skyline of every inner vertex by id.
func (a *App) Skylines() map[int64]skyline.Skyline {
	inner := a.frag.InnerVertices()
	out := make(map[int64]skyline.Skyline, inner.Len())
	for v := inner.Begin; v < inner.End; v++ {
		out[a.frag.GetID(v)] = a.ctx.Committed[v]
	}
	return out
}

// Output writes "<id> .k0.l0.k1.l1..." per inner vertex, ascending by id.
func (a *App) Output(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, v := range sortedInner(a.frag) {
		if _, err := fmt.Fprintf(bw, "%d %s\n", a.frag.GetID(v), skyline.FormatOutput(a.ctx.Committed[v])); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func (a *App) Result() *common.AlgorithmResult {
	res := &common.AlgorithmResult{
		AlgorithmName: Name,
		NumRounds:     a.rounds,
		Metadata: map[string]interface{}{
			"seed":              a.seed,
			"updated_per_round": append([]int(nil), a.updatedPerRound...),
		},
	}
	if a.frag != nil {
		res.FragmentID = a.frag.FID()
	}
	if n := len(a.updatedPerRound); n > 0 && a.updatedPerRound[n-1] == 0 {
		res.Converged = true
		res.ConvergenceRound = a.rounds
	}
	return res
}

func sortedInner(frag common.Fragment) []common.Vertex {
	inner := frag.InnerVertices()
	vs := make([]common.Vertex, 0, inner.Len())
	for v := inner.Begin; v < inner.End; v++ {
		vs = append(vs, v)
	}
	sort.Slice(vs, func(i, j int) bool { return frag.GetID(vs[i]) < frag.GetID(vs[j]) })
	return vs
}
