package incore

import (
	"bytes"
	"context"
	"errors"
	"math"
	"math/rand"
	"strings"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/mundrapranay/dcore/algorithms/common"
	"github.com/mundrapranay/dcore/algorithms/verify"
	"github.com/mundrapranay/dcore/internal/exchange"
	"github.com/mundrapranay/dcore/internal/fragment"
	"github.com/mundrapranay/dcore/internal/messaging"
	"github.com/mundrapranay/dcore/internal/worker"
)

func testConfig(workers, threads int) *common.AlgorithmConfig {
	return &common.AlgorithmConfig{
		AlgorithmName: Name,
		WorkerConfig:  common.WorkerConfig{NumWorkers: workers, Threads: threads},
	}
}

func runCoreness(t *testing.T, g *common.GraphData, cfg *common.AlgorithmConfig) map[int64]int32 {
	t.Helper()
	cluster, err := worker.RunCluster(context.Background(), g, cfg, nil)
	if err != nil {
		t.Fatalf("RunCluster failed: %v", err)
	}
	all := make(map[int64]int32)
	for _, app := range cluster.Apps {
		for id, c := range app.(*App).Coreness() {
			all[id] = c
		}
	}
	return all
}

func TestStar(t *testing.T) {
	var edges []common.Edge
	for leaf := int64(1); leaf <= 5; leaf++ {
		edges = append(edges, common.Edge{U: leaf, V: 0})
	}
	g := common.NewGraphData(edges, nil, nil)
	for _, workers := range []int{1, 2, 4} {
		got := runCoreness(t, g, testConfig(workers, 2))
		for id := int64(0); id <= 5; id++ {
			if got[id] != 0 {
				t.Fatalf("%d workers: vertex %d expected coreness 0, got %d", workers, id, got[id])
			}
		}
	}
}

func TestIsolatedVertex(t *testing.T) {
	g := common.NewGraphData([]common.Edge{{U: 0, V: 1}, {U: 1, V: 0}}, []int64{7}, nil)
	got := runCoreness(t, g, testConfig(2, 1))
	if got[7] != 0 {
		t.Fatalf("expected coreness 0 for isolated vertex, got %d", got[7])
	}
	if got[0] != 1 || got[1] != 1 {
		t.Fatalf("expected coreness 1 for the 2-cycle, got %d and %d", got[0], got[1])
	}
}

// symmetricGraph returns a random undirected graph both as graph data with
// edges in both directions and as a gonum graph.
func symmetricGraph(r *rand.Rand, n, m int) (*common.GraphData, *simple.UndirectedGraph) {
	ug := simple.NewUndirectedGraph()
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = int64(i)
		ug.AddNode(simple.Node(i))
	}
	var edges []common.Edge
	for i := 0; i < m; i++ {
		u, v := int64(r.Intn(n)), int64(r.Intn(n))
		if u == v {
			continue
		}
		edges = append(edges, common.Edge{U: u, V: v}, common.Edge{U: v, V: u})
		ug.SetEdge(ug.NewEdge(simple.Node(u), simple.Node(v)))
	}
	return common.NewGraphData(edges, ids, nil), ug
}

func TestMatchesCoreNumbers(t *testing.T) {
	r := rand.New(rand.NewSource(5))
	for iter := 0; iter < 20; iter++ {
		g, ug := symmetricGraph(r, 15+r.Intn(20), 20+r.Intn(60))

		want := make(map[int64]int32)
		_, cores := topo.DegeneracyOrdering(ug)
		for k, shell := range cores {
			for _, n := range shell {
				want[n.ID()] = int32(k)
			}
		}

		for _, workers := range []int{1, 3} {
			got := runCoreness(t, g, testConfig(workers, 1+iter%4))
			for _, id := range g.VertexIDs {
				if got[id] != want[id] {
					t.Fatalf("graph %d, %d workers: vertex %d got %d, want %d", iter, workers, id, got[id], want[id])
				}
			}
			if err := verify.CheckCoreness(verify.BuildGraph(g), got); err != nil {
				t.Fatalf("graph %d, %d workers: %v", iter, workers, err)
			}
		}
	}
}

// Drives a single fragment by hand to observe every round.
func TestMonotonePerRound(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	g, _ := symmetricGraph(r, 30, 90)
	frag, err := fragment.Build(0, 1, g, func(int64) int { return 0 })
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	app := New()
	if err := app.Init(frag, nil); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	msgs := messaging.NewManager(frag, nil)
	msgs.InitChannels(2)
	ctx := context.Background()
	if err := app.PartialEval(ctx, frag, msgs); err != nil {
		t.Fatalf("PartialEval failed: %v", err)
	}

	inner := frag.InnerVertices()
	prev := make([]int32, inner.Len())
	for v := inner.Begin; v < inner.End; v++ {
		prev[v] = app.Context().Committed[v]
		if prev[v] != int32(frag.GetLocalInDegree(v)) {
			t.Fatalf("vertex %d not seeded with its in-degree", frag.GetID(v))
		}
	}

	for round := 1; ; round++ {
		out := msgs.Drain()
		if out.Votes() == 0 {
			break
		}
		if round > 100 {
			t.Fatal("no convergence after 100 rounds")
		}
		msgs.Deliver(exchange.Inbox{Votes: out.Votes()})
		if err := app.IncrementalEval(ctx, frag, msgs); err != nil {
			t.Fatalf("round %d: %v", round, err)
		}
		for v := inner.Begin; v < inner.End; v++ {
			c := app.Context().Committed[v]
			if c > prev[v] {
				t.Fatalf("round %d: vertex %d increased from %d to %d", round, frag.GetID(v), prev[v], c)
			}
			prev[v] = c
		}
	}
}

func TestHIndex(t *testing.T) {
	g := common.NewGraphData([]common.Edge{
		{U: 1, V: 0}, {U: 2, V: 0}, {U: 3, V: 0}, {U: 4, V: 0},
	}, nil, nil)
	frag, err := fragment.Build(0, 1, g, func(int64) int { return 0 })
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	v0, _ := frag.GetVertex(0)
	values := make([]int32, frag.VerticesNum())

	tests := []struct {
		in   []int32 // values of vertices 1..4
		want int32
	}{
		{[]int32{0, 0, 0, 0}, 0},
		{[]int32{1, 0, 0, 0}, 1},
		{[]int32{3, 3, 1, 0}, 2},
		{[]int32{4, 4, 4, 4}, 4},
		{[]int32{9, 9, 9, 2}, 3},
	}
	var buf []int32
	for _, tt := range tests {
		for i, x := range tt.in {
			u, _ := frag.GetVertex(int64(i + 1))
			values[u] = x
		}
		var h int32
		h, buf = HIndex(frag, values, v0, buf)
		if h != tt.want {
			t.Errorf("HIndex(%v) = %d, want %d", tt.in, h, tt.want)
		}
	}
}

func runRounds(t *testing.T, g *common.GraphData, cfg *common.AlgorithmConfig) (map[int64]int32, int) {
	t.Helper()
	cluster, err := worker.RunCluster(context.Background(), g, cfg, nil)
	if err != nil {
		t.Fatalf("RunCluster failed: %v", err)
	}
	all := make(map[int64]int32)
	for _, app := range cluster.Apps {
		for id, c := range app.(*App).Coreness() {
			all[id] = c
		}
	}
	rounds := cluster.Results[0].NumRounds
	for _, res := range cluster.Results {
		if res.NumRounds != rounds {
			t.Fatalf("fragments disagree on rounds: %d and %d", rounds, res.NumRounds)
		}
	}
	return all, rounds
}

// Every round that changes a value lowers the sum of all values by at least
// one, and one more round sees nothing change.
func TestRoundBound(t *testing.T) {
	r := rand.New(rand.NewSource(23))
	for iter := 0; iter < 10; iter++ {
		g, _ := symmetricGraph(r, 15+r.Intn(20), 20+r.Intn(60))
		// Values start at in-degree, so they sum to the edge count.
		initial := g.NumEdges()
		for _, workers := range []int{1, 3} {
			got, rounds := runRounds(t, g, testConfig(workers, 2))
			budget := initial
			for _, c := range got {
				budget -= int(c)
			}
			if rounds < 1 || rounds > budget+1 {
				t.Fatalf("graph %d, %d workers: %d rounds, budget %d", iter, workers, rounds, budget)
			}
		}
	}
}

func TestRoundBound_Chain(t *testing.T) {
	// 0 -> 1 -> ... -> 7. Every vertex starts at 1 and the drop to 0 moves
	// one hop per round, so the round count follows the chain length rather
	// than the largest initial value.
	var edges []common.Edge
	for i := int64(0); i < 7; i++ {
		edges = append(edges, common.Edge{U: i, V: i + 1})
	}
	g := common.NewGraphData(edges, nil, nil)
	for _, workers := range []int{1, 2} {
		got, rounds := runRounds(t, g, testConfig(workers, 1))
		for id, c := range got {
			if c != 0 {
				t.Fatalf("%d workers: vertex %d got %d, want 0", workers, id, c)
			}
		}
		if rounds != 8 {
			t.Fatalf("%d workers: expected 8 rounds, got %d", workers, rounds)
		}
	}
}

func TestDecode(t *testing.T) {
	for _, c := range []int32{0, 1, 300, math.MaxInt32} {
		got, err := decode(encode(c))
		if err != nil || got != c {
			t.Fatalf("decode(encode(%d)) = %d, %v", c, got, err)
		}
	}

	bad := map[string][]byte{
		"overflow":  protowire.AppendVarint(nil, math.MaxInt32+1),
		"negative":  encode(-1),
		"trailing":  append(encode(3), 0),
		"truncated": {0x80},
	}
	for name, b := range bad {
		if _, err := decode(b); err == nil {
			t.Fatalf("%s: expected decode to fail", name)
		}
	}
	if _, err := decode(bad["overflow"]); !errors.Is(err, common.ErrParse) {
		t.Fatalf("expected ErrParse for overflow, got %v", err)
	}
}

func TestOutput_NoisyRelease(t *testing.T) {
	g := common.NewGraphData([]common.Edge{{U: 0, V: 1}, {U: 1, V: 0}}, nil, nil)
	cfg := testConfig(1, 1)
	cfg.Output.ReleaseEpsilon = 50
	cluster, err := worker.RunCluster(context.Background(), g, cfg, nil)
	if err != nil {
		t.Fatalf("RunCluster failed: %v", err)
	}
	var buf bytes.Buffer
	if err := cluster.Apps[0].Output(&buf); err != nil {
		t.Fatalf("Output failed: %v", err)
	}
	want := strings.Join([]string{"0 1", "1 1", ""}, "\n")
	if buf.String() != want {
		t.Fatalf("unexpected output %q, want %q", buf.String(), want)
	}
}
