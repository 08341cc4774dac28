// Package verify checks converged results against the whole graph,
// independently of how the graph was partitioned.
//
// A result must be a fixpoint of its local recurrence and must also equal
// the greatest fixpoint, which is computed here by peeling cores.
package verify

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/mundrapranay/dcore/algorithms/common"
	"github.com/mundrapranay/dcore/algorithms/skyline"
)

// BuildGraph converts graph data into a gonum directed graph. Every vertex
// id becomes a node, isolated ones included.
func BuildGraph(gd *common.GraphData) *simple.DirectedGraph {
	g := simple.NewDirectedGraph()
	for _, id := range gd.VertexIDs {
		g.AddNode(simple.Node(id))
	}
	for _, e := range gd.Edges {
		g.SetEdge(g.NewEdge(simple.Node(e.U), simple.Node(e.V)))
	}
	return g
}

func neighbourIDs(nodes graph.Nodes) []int64 {
	var ids []int64
	for nodes.Next() {
		ids = append(ids, nodes.Node().ID())
	}
	return ids
}

// adjacency is a snapshot of g keyed by vertex id.
type adjacency struct {
	ids     []int64
	in, out map[int64][]int64
}

func newAdjacency(g graph.Directed) *adjacency {
	a := &adjacency{in: make(map[int64][]int64), out: make(map[int64][]int64)}
	nodes := g.Nodes()
	for nodes.Next() {
		id := nodes.Node().ID()
		a.ids = append(a.ids, id)
		a.in[id] = neighbourIDs(g.To(id))
		a.out[id] = neighbourIDs(g.From(id))
	}
	sort.Slice(a.ids, func(i, j int) bool { return a.ids[i] < a.ids[j] })
	return a
}

func (a *adjacency) all() map[int64]bool {
	alive := make(map[int64]bool, len(a.ids))
	for _, id := range a.ids {
		alive[id] = true
	}
	return alive
}

// peel shrinks alive to the (k,l)-core of the subgraph it induces: every
// survivor keeps at least k alive in-neighbours and l alive out-neighbours.
func (a *adjacency) peel(alive map[int64]bool, k, l int) {
	inDeg := make(map[int64]int, len(alive))
	outDeg := make(map[int64]int, len(alive))
	for id := range alive {
		for _, u := range a.in[id] {
			if alive[u] {
				inDeg[id]++
			}
		}
		for _, u := range a.out[id] {
			if alive[u] {
				outDeg[id]++
			}
		}
	}

	var queue []int64
	for id := range alive {
		if inDeg[id] < k || outDeg[id] < l {
			queue = append(queue, id)
		}
	}
	for _, id := range queue {
		delete(alive, id)
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		drop := func(w int64) {
			if inDeg[w] < k || outDeg[w] < l {
				delete(alive, w)
				queue = append(queue, w)
			}
		}
		for _, w := range a.out[id] {
			if alive[w] {
				inDeg[w]--
				drop(w)
			}
		}
		for _, w := range a.in[id] {
			if alive[w] {
				outDeg[w]--
				drop(w)
			}
		}
	}
}

// Skylines computes every vertex's exact skyline by peeling the
// (k,l)-cores of g. Isolated vertices get the empty skyline.
func Skylines(g graph.Directed) map[int64]skyline.Skyline {
	a := newAdjacency(g)
	result := make(map[int64]skyline.Skyline, len(a.ids))
	for _, id := range a.ids {
		result[id] = skyline.Skyline{}
	}

	for k := 0; ; k++ {
		alive := a.all()
		a.peel(alive, k, 0)
		if len(alive) == 0 {
			break
		}
		// core(k,l+1) is contained in core(k,l), so each l refines the last.
		for l := 0; len(alive) > 0; l++ {
			a.peel(alive, k, l)
			for id := range alive {
				if len(a.in[id])+len(a.out[id]) == 0 {
					continue
				}
				s := result[id]
				if n := len(s); n > 0 && s[n-1].L == int32(l) {
					s[n-1].K = int32(k)
				} else if n > 0 && s[n-1].K == int32(k) {
					s[n-1].L = int32(l)
				} else {
					s = append(s, skyline.Pair{K: int32(k), L: int32(l)})
				}
				result[id] = s
			}
		}
	}

	// Rows were appended per (k,l) in ascending l. Keep the frontier.
	for id, s := range result {
		result[id] = frontier(s)
	}
	return result
}

// frontier drops pairs dominated by a later pair of larger K.
func frontier(s skyline.Skyline) skyline.Skyline {
	out := skyline.Skyline{}
	for _, p := range s {
		for len(out) > 0 && out[len(out)-1].L <= p.L {
			out = out[:len(out)-1]
		}
		out = append(out, p)
	}
	return out
}

// Coreness computes every vertex's exact in-coreness: the largest c such
// that the vertex survives peeling to in-degree c.
func Coreness(g graph.Directed) map[int64]int32 {
	a := newAdjacency(g)
	result := make(map[int64]int32, len(a.ids))
	alive := a.all()
	for c := 0; len(alive) > 0; c++ {
		a.peel(alive, c, 0)
		for id := range alive {
			result[id] = int32(c)
		}
	}
	return result
}

// CheckSkylines reports the first vertex whose skyline is not a valid
// frontier, is not a fixpoint of the (k,l)-core recurrence over its
// neighbours' skylines, or differs from the exact skyline. Every node of g
// must have an entry.
func CheckSkylines(g graph.Directed, skylines map[int64]skyline.Skyline) error {
	a := newAdjacency(g)
	for _, id := range a.ids {
		own, ok := skylines[id]
		if !ok {
			return fmt.Errorf("vertex %d has no skyline", id)
		}
		if err := own.Validate(); err != nil {
			return fmt.Errorf("vertex %d: %w", id, err)
		}
	}
	for _, id := range a.ids {
		own := skylines[id]
		if len(a.in[id])+len(a.out[id]) == 0 {
			if len(own) != 0 {
				return fmt.Errorf("isolated vertex %d has skyline %v", id, own)
			}
			continue
		}
		want := recompute(a.in[id], a.out[id], skylines)
		if !want.Equal(own) {
			return fmt.Errorf("vertex %d: skyline %v is not stable, neighbours imply %v", id, own, want)
		}
	}

	exact := Skylines(g)
	for _, id := range a.ids {
		if !exact[id].Equal(skylines[id]) {
			return fmt.Errorf("vertex %d: skyline %v is stable but not maximal, cores give %v", id, skylines[id], exact[id])
		}
	}
	return nil
}

// recompute evaluates the recurrence up to the vertex's in- and out-degree.
func recompute(in, out []int64, skylines map[int64]skyline.Skyline) skyline.Skyline {
	result := skyline.Skyline{}
	outMax := int32(len(out))
	for k := int32(0); k <= int32(len(in)); k++ {
		for l := outMax; l >= 0; l-- {
			if countDominating(in, k, l, skylines) < int(k) || countDominating(out, k, l, skylines) < int(l) {
				continue
			}
			if n := len(result); n > 0 && result[n-1].L == l {
				result[n-1].K = k
			} else {
				result = append(result, skyline.Pair{K: k, L: l})
			}
			outMax = l
			break
		}
	}
	return result
}

func countDominating(ids []int64, k, l int32, skylines map[int64]skyline.Skyline) int {
	n := 0
	for _, id := range ids {
		if skyline.Dominates(skylines[id], k, l) {
			n++
		}
	}
	return n
}

// hIndex returns the largest h such that at least h of values are >= h.
func hIndex(values []int32) int32 {
	sorted := append([]int32(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] > sorted[j] })
	h := int32(0)
	for i, v := range sorted {
		if v < int32(i+1) {
			break
		}
		h = int32(i + 1)
	}
	return h
}

// CheckCoreness reports the first vertex whose coreness is not the h-index
// of its in-neighbours' values, or differs from the exact in-coreness.
func CheckCoreness(g graph.Directed, coreness map[int64]int32) error {
	a := newAdjacency(g)
	for _, id := range a.ids {
		c, ok := coreness[id]
		if !ok {
			return fmt.Errorf("vertex %d has no coreness", id)
		}
		if c < 0 {
			return fmt.Errorf("vertex %d: negative coreness %d", id, c)
		}
	}
	for _, id := range a.ids {
		c := coreness[id]
		values := make([]int32, 0, len(a.in[id]))
		for _, u := range a.in[id] {
			values = append(values, coreness[u])
		}
		if h := hIndex(values); h != c {
			return fmt.Errorf("vertex %d: coreness %d is not stable, in-neighbours imply %d", id, c, h)
		}
	}

	exact := Coreness(g)
	for _, id := range a.ids {
		if exact[id] != coreness[id] {
			return fmt.Errorf("vertex %d: coreness %d is stable but not maximal, peeling gives %d", id, coreness[id], exact[id])
		}
	}
	return nil
}
