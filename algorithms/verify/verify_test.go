package verify

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/mundrapranay/dcore/algorithms/common"
	"github.com/mundrapranay/dcore/algorithms/skyline"
)

func graphOf(edges []common.Edge, ids ...int64) *common.GraphData {
	return common.NewGraphData(edges, ids, nil)
}

func cycle(n int64) []common.Edge {
	edges := make([]common.Edge, 0, n)
	for i := int64(0); i < n; i++ {
		edges = append(edges, common.Edge{U: i, V: (i + 1) % n})
	}
	return edges
}

func TestSkylines_Pendant(t *testing.T) {
	// A 4-cycle, a vertex 4 feeding into 0 and an isolated vertex 9.
	edges := append(cycle(4), common.Edge{U: 4, V: 0})
	got := Skylines(BuildGraph(graphOf(edges, 9)))

	want := map[int64]skyline.Skyline{
		0: {{K: 1, L: 1}},
		1: {{K: 1, L: 1}},
		2: {{K: 1, L: 1}},
		3: {{K: 1, L: 1}},
		4: {{K: 0, L: 1}},
		9: {},
	}
	for id, w := range want {
		if !got[id].Equal(w) {
			t.Fatalf("vertex %d: got %v, want %v", id, got[id], w)
		}
	}
}

func TestCheckSkylines_RejectsStableUnderestimate(t *testing.T) {
	g := BuildGraph(graphOf(cycle(4)))

	low := make(map[int64]skyline.Skyline)
	for id := int64(0); id < 4; id++ {
		low[id] = skyline.Skyline{{K: 0, L: 0}}
	}
	err := CheckSkylines(g, low)
	if err == nil {
		t.Fatal("expected {(0,0)} on a 4-cycle to be rejected")
	}

	exact := make(map[int64]skyline.Skyline)
	for id := int64(0); id < 4; id++ {
		exact[id] = skyline.Skyline{{K: 1, L: 1}}
	}
	if err := CheckSkylines(g, exact); err != nil {
		t.Fatalf("exact skylines rejected: %v", err)
	}
}

func TestCheckSkylines_Errors(t *testing.T) {
	g := BuildGraph(graphOf(cycle(3), 7))
	good := map[int64]skyline.Skyline{
		0: {{K: 1, L: 1}}, 1: {{K: 1, L: 1}}, 2: {{K: 1, L: 1}}, 7: {},
	}
	if err := CheckSkylines(g, good); err != nil {
		t.Fatalf("CheckSkylines failed: %v", err)
	}

	cases := map[string]func(map[int64]skyline.Skyline){
		"has no skyline": func(m map[int64]skyline.Skyline) { delete(m, 1) },
		"isolated":       func(m map[int64]skyline.Skyline) { m[7] = skyline.Skyline{{K: 0, L: 0}} },
		"does not follow": func(m map[int64]skyline.Skyline) {
			m[0] = skyline.Skyline{{K: 1, L: 1}, {K: 1, L: 0}}
		},
		"not stable": func(m map[int64]skyline.Skyline) { m[2] = skyline.Skyline{{K: 2, L: 1}} },
	}
	for want, mutate := range cases {
		m := make(map[int64]skyline.Skyline)
		for id, s := range good {
			m[id] = s.Clone()
		}
		mutate(m)
		err := CheckSkylines(g, m)
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Fatalf("expected error containing %q, got %v", want, err)
		}
	}
}

func TestCoreness_Chain(t *testing.T) {
	edges := []common.Edge{{U: 0, V: 1}, {U: 1, V: 0}, {U: 1, V: 2}, {U: 2, V: 3}, {U: 4, V: 0}}
	got := Coreness(BuildGraph(graphOf(edges, 9)))
	want := map[int64]int32{0: 1, 1: 1, 2: 1, 3: 1, 4: 0, 9: 0}
	for id, w := range want {
		if got[id] != w {
			t.Fatalf("vertex %d: got %d, want %d", id, got[id], w)
		}
	}
}

func TestCheckCoreness_RejectsStableUnderestimate(t *testing.T) {
	g := BuildGraph(graphOf([]common.Edge{{U: 0, V: 1}, {U: 1, V: 0}}))

	// All zero is an h-index fixpoint but not the greatest one.
	err := CheckCoreness(g, map[int64]int32{0: 0, 1: 0})
	if err == nil || !strings.Contains(err.Error(), "not maximal") {
		t.Fatalf("expected all-zero coreness to be rejected as not maximal, got %v", err)
	}
	if err := CheckCoreness(g, map[int64]int32{0: 1, 1: 1}); err != nil {
		t.Fatalf("exact coreness rejected: %v", err)
	}
	err = CheckCoreness(g, map[int64]int32{0: 1, 1: 0})
	if err == nil || !strings.Contains(err.Error(), "not stable") {
		t.Fatalf("expected unstable coreness to be rejected, got %v", err)
	}
	err = CheckCoreness(g, map[int64]int32{0: 1})
	if err == nil || !strings.Contains(err.Error(), "has no coreness") {
		t.Fatalf("expected missing vertex to be rejected, got %v", err)
	}
}

func TestExactResultsPassChecks(t *testing.T) {
	r := rand.New(rand.NewSource(17))
	for iter := 0; iter < 20; iter++ {
		n := 8 + r.Intn(12)
		edges := make([]common.Edge, 0, 40)
		for i := 0; i < 10+r.Intn(40); i++ {
			edges = append(edges, common.Edge{U: int64(r.Intn(n)), V: int64(r.Intn(n))})
		}
		ids := make([]int64, n)
		for i := range ids {
			ids[i] = int64(i)
		}
		g := BuildGraph(graphOf(edges, ids...))

		if err := CheckSkylines(g, Skylines(g)); err != nil {
			t.Fatalf("graph %d: %v", iter, err)
		}
		if err := CheckCoreness(g, Coreness(g)); err != nil {
			t.Fatalf("graph %d: %v", iter, err)
		}
	}
}

func TestHIndex(t *testing.T) {
	cases := []struct {
		values []int32
		want   int32
	}{
		{nil, 0},
		{[]int32{0, 0}, 0},
		{[]int32{5}, 1},
		{[]int32{3, 3, 3}, 3},
		{[]int32{4, 1, 2, 3}, 2},
	}
	for _, tc := range cases {
		if got := hIndex(tc.values); got != tc.want {
			t.Fatalf("hIndex(%v) = %d, want %d", tc.values, got, tc.want)
		}
	}
}
