// Package incore estimates the in-coreness of every vertex by repeated
// h-index refinement over in-neighbour values, starting from in-degree.
package incore

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
	"golang.org/x/sync/errgroup"

	"github.com/mundrapranay/dcore/algorithms"
	"github.com/mundrapranay/dcore/algorithms/common"
	"github.com/mundrapranay/dcore/algorithms/noise"
)

// Name is the registry name of the app.
const Name = "in-coreness"

func init() {
	algorithms.Register(Name, func() common.App { return New() })
}

// Context is the per-vertex state arena, indexed by vertex handle.
type Context struct {
	// Visible coreness of inner and outer vertices.
	Committed []int32

	// Next-round coreness of inner vertices, valid where Dirty is set.
	Staged []int32
	Dirty  []bool
}

// App implements common.App.
type App struct {
	frag   common.Fragment
	ctx    *Context
	rounds int

	// Per-thread h-index scratch buffers.
	scratch [][]int32

	releaseEpsilon float64

	updatedPerRound []int
}

var _ common.App = (*App)(nil)

// New creates an uninitialised app.
func New() *App {
	return &App{}
}

func (a *App) Name() string { return Name }

// Init allocates the arena. A positive "release_epsilon" parameter makes
// Output publish noisy coreness values.
func (a *App) Init(frag common.Fragment, params common.Parameters) error {
	eps, err := params.Float("release_epsilon", 0)
	if err != nil {
		return err
	}
	if eps < 0 {
		return fmt.Errorf("release_epsilon %v: %w", eps, common.ErrInvalidArgument)
	}

	inner := frag.InnerVertices().Len()
	a.frag = frag
	a.releaseEpsilon = eps
	a.ctx = &Context{
		Committed: make([]int32, frag.VerticesNum()),
		Staged:    make([]int32, inner),
		Dirty:     make([]bool, inner),
	}
	a.rounds = 0
	a.updatedPerRound = nil
	return nil
}

// Context returns the state arena.
func (a *App) Context() *Context { return a.ctx }

func encode(c int32) []byte {
	return protowire.AppendVarint(nil, uint64(c))
}

func decode(b []byte) (int32, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, fmt.Errorf("coreness payload: %w", protowire.ParseError(n))
	}
	if n != len(b) {
		return 0, fmt.Errorf("coreness payload: %d trailing bytes: %w", len(b)-n, common.ErrParse)
	}
	if v > math.MaxInt32 {
		return 0, fmt.Errorf("coreness payload: %d overflows int32: %w", v, common.ErrParse)
	}
	return int32(v), nil
}

func (a *App) PartialEval(ctx context.Context, frag common.Fragment, msgs common.MessageManager) error {
	inner := frag.InnerVertices()
	for v := inner.Begin; v < inner.End; v++ {
		a.ctx.Committed[v] = int32(frag.GetLocalInDegree(v))
	}

	channel := msgs.Channels()[0]
	for v := inner.Begin; v < inner.End; v++ {
		channel.SendMsgThroughOEdges(v, encode(a.ctx.Committed[v]))
	}
	msgs.ForceContinue()
	return ctx.Err()
}

func (a *App) IncrementalEval(ctx context.Context, frag common.Fragment, msgs common.MessageManager) error {
	a.rounds++
	channels := msgs.Channels()
	threads := len(channels)
	if len(a.scratch) != threads {
		a.scratch = make([][]int32, threads)
	}

	err := msgs.ParallelProcess(ctx, threads, func(tid int, u common.Vertex, payload []byte) error {
		if !frag.OuterVertices().Contains(u) {
			return fmt.Errorf("coreness update for inner vertex %d: %w", frag.GetID(u), common.ErrInvalidArgument)
		}
		c, err := decode(payload)
		if err != nil {
			return fmt.Errorf("coreness update for vertex %d: %w", frag.GetID(u), err)
		}
		if c != a.ctx.Committed[u] {
			a.ctx.Committed[u] = c
		}
		return nil
	})
	if err != nil {
		return err
	}

	inner := frag.InnerVertices()
	chunk := (inner.Len() + threads - 1) / threads
	counts := make([]int, threads)

	g, gctx := errgroup.WithContext(ctx)
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
			if err := gctx.Err(); err != nil {
				return err
			}
			buf := a.scratch[tid]
			for v := begin; v < end; v++ {
				var h int32
				h, buf = HIndex(frag, a.ctx.Committed, v, buf)
				if h >= a.ctx.Committed[v] {
					continue
				}
				a.ctx.Staged[v] = h
				a.ctx.Dirty[v] = true
				counts[tid]++
				channels[tid].SendMsgThroughOEdges(v, encode(h))
			}
			a.scratch[tid] = buf
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	updated := 0
	for _, c := range counts {
		updated += c
	}
	for v := inner.Begin; v < inner.End; v++ {
		if a.ctx.Dirty[v] {
			a.ctx.Committed[v] = a.ctx.Staged[v]
			a.ctx.Dirty[v] = false
		}
	}

	a.updatedPerRound = append(a.updatedPerRound, updated)
	if updated > 0 {
		msgs.ForceContinue()
	}
	return nil
}

// Coreness returns the committed coreness of every inner vertex by id.
func (a *App) Coreness() map[int64]int32 {
	inner := a.frag.InnerVertices()
	out := make(map[int64]int32, inner.Len())
	for v := inner.Begin; v < inner.End; v++ {
		out[a.frag.GetID(v)] = a.ctx.Committed[v]
	}
	return out
}

// Output writes "<id> <coreness>" per inner vertex, ascending by id.
func (a *App) Output(w io.Writer) error {
	var g *noise.Geometric
	if a.releaseEpsilon > 0 {
		var err error
		if g, err = noise.NewGeometric(a.releaseEpsilon, 1); err != nil {
			return err
		}
	}

	inner := a.frag.InnerVertices()
	vs := make([]common.Vertex, 0, inner.Len())
	for v := inner.Begin; v < inner.End; v++ {
		vs = append(vs, v)
	}
	sort.Slice(vs, func(i, j int) bool { return a.frag.GetID(vs[i]) < a.frag.GetID(vs[j]) })

	bw := bufio.NewWriter(w)
	for _, v := range vs {
		c := a.ctx.Committed[v]
		if g != nil {
			c = g.Release(c)
		}
		if _, err := fmt.Fprintf(bw, "%d %d\n", a.frag.GetID(v), c); err != nil {
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
			"updated_per_round": append([]int(nil), a.updatedPerRound...),
			"release_epsilon":   a.releaseEpsilon,
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
