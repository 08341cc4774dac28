// Package fragment builds one partition of a directed graph: the vertices a
// worker owns (inner), proxies of their remote neighbours (outer), and the
// adjacency needed to compute and route messages.
package fragment

import (
	"fmt"
	"sort"

	"github.com/mundrapranay/dcore/algorithms/common"
)

// Fragment implements common.Fragment.
type Fragment struct {
	fid  int
	fnum int

	innerNum int
	ids      []int64 // handle -> gid, inner first then outer
	index    map[int64]common.Vertex
	owner    []int // outer handle - innerNum -> owning fragment
	data     []string

	// CSR adjacency of inner vertices.
	inOffsets  []int
	inAdj      []common.Vertex
	outOffsets []int
	outAdj     []common.Vertex

	// Fragments that hold a proxy of each inner vertex.
	oeDest  [][]int // via out-edges
	ioeDest [][]int // via in- or out-edges
}

var _ common.Fragment = (*Fragment)(nil)

// Build creates fragment fid of fnum from the graph. owner maps a vertex id
// to the fragment that owns it. Only edges incident to inner vertices are
// used, so g may be the whole graph or just this worker's share.
func Build(fid, fnum int, g *common.GraphData, owner func(int64) int) (*Fragment, error) {
	if fnum <= 0 || fid < 0 || fid >= fnum {
		return nil, fmt.Errorf("fragment %d of %d: %w", fid, fnum, common.ErrInvalidArgument)
	}

	f := &Fragment{
		fid:   fid,
		fnum:  fnum,
		index: make(map[int64]common.Vertex),
	}

	for _, id := range g.VertexIDs {
		o := owner(id)
		if o < 0 || o >= fnum {
			return nil, fmt.Errorf("vertex %d assigned to fragment %d of %d: %w", id, o, fnum, common.ErrInvalidArgument)
		}
		if o == fid {
			f.index[id] = common.Vertex(len(f.ids))
			f.ids = append(f.ids, id)
		}
	}
	f.innerNum = len(f.ids)

	outerSet := make(map[int64]struct{})
	for _, e := range g.Edges {
		uInner, vInner := owner(e.U) == fid, owner(e.V) == fid
		if uInner && !vInner {
			outerSet[e.V] = struct{}{}
		}
		if vInner && !uInner {
			outerSet[e.U] = struct{}{}
		}
	}
	outer := make([]int64, 0, len(outerSet))
	for id := range outerSet {
		outer = append(outer, id)
	}
	sort.Slice(outer, func(i, j int) bool { return outer[i] < outer[j] })
	for _, id := range outer {
		f.index[id] = common.Vertex(len(f.ids))
		f.ids = append(f.ids, id)
		f.owner = append(f.owner, owner(id))
	}

	f.data = make([]string, f.innerNum)
	for i := 0; i < f.innerNum; i++ {
		f.data[i] = g.Attributes[f.ids[i]]
	}

	inLists := make([][]common.Vertex, f.innerNum)
	outLists := make([][]common.Vertex, f.innerNum)
	for _, e := range g.Edges {
		u, uok := f.index[e.U]
		v, vok := f.index[e.V]
		if !uok || !vok {
			continue
		}
		if f.IsInner(u) {
			outLists[u] = append(outLists[u], v)
		}
		if f.IsInner(v) {
			inLists[v] = append(inLists[v], u)
		}
	}
	f.inOffsets, f.inAdj = compact(inLists)
	f.outOffsets, f.outAdj = compact(outLists)

	f.oeDest = make([][]int, f.innerNum)
	f.ioeDest = make([][]int, f.innerNum)
	for v := 0; v < f.innerNum; v++ {
		out := f.destinations(outLists[v], nil)
		f.oeDest[v] = out
		f.ioeDest[v] = f.destinations(inLists[v], out)
	}

	return f, nil
}

func compact(lists [][]common.Vertex) ([]int, []common.Vertex) {
	offsets := make([]int, len(lists)+1)
	total := 0
	for i, l := range lists {
		offsets[i] = total
		total += len(l)
	}
	offsets[len(lists)] = total
	adj := make([]common.Vertex, 0, total)
	for _, l := range lists {
		adj = append(adj, l...)
	}
	return offsets, adj
}

// destinations returns the sorted union of base and the owners of the outer
// vertices in neighbours.
func (f *Fragment) destinations(neighbours []common.Vertex, base []int) []int {
	set := make(map[int]struct{}, len(base))
	for _, d := range base {
		set[d] = struct{}{}
	}
	for _, u := range neighbours {
		if !f.IsInner(u) {
			set[f.owner[int(u)-f.innerNum]] = struct{}{}
		}
	}
	if len(set) == 0 {
		return nil
	}
	out := make([]int, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	sort.Ints(out)
	return out
}

func (f *Fragment) FID() int         { return f.fid }
func (f *Fragment) FragmentNum() int { return f.fnum }

func (f *Fragment) InnerVertices() common.VertexRange {
	return common.VertexRange{Begin: 0, End: common.Vertex(f.innerNum)}
}

func (f *Fragment) OuterVertices() common.VertexRange {
	return common.VertexRange{Begin: common.Vertex(f.innerNum), End: common.Vertex(len(f.ids))}
}

func (f *Fragment) VerticesNum() int { return len(f.ids) }

func (f *Fragment) IsInner(v common.Vertex) bool { return int(v) < f.innerNum }

func (f *Fragment) GetID(v common.Vertex) int64 { return f.ids[v] }

// GetVertex returns the handle of the vertex with the given id, inner or
// outer.
func (f *Fragment) GetVertex(id int64) (common.Vertex, bool) {
	v, ok := f.index[id]
	return v, ok
}

// GetFragID returns the fragment owning v.
func (f *Fragment) GetFragID(v common.Vertex) int {
	if f.IsInner(v) {
		return f.fid
	}
	return f.owner[int(v)-f.innerNum]
}

func (f *Fragment) GetData(v common.Vertex) string { return f.data[v] }

func (f *Fragment) GetLocalInDegree(v common.Vertex) int {
	return f.inOffsets[v+1] - f.inOffsets[v]
}

func (f *Fragment) GetLocalOutDegree(v common.Vertex) int {
	return f.outOffsets[v+1] - f.outOffsets[v]
}

func (f *Fragment) GetIncomingAdjList(v common.Vertex) []common.Vertex {
	return f.inAdj[f.inOffsets[v]:f.inOffsets[v+1]]
}

func (f *Fragment) GetOutgoingAdjList(v common.Vertex) []common.Vertex {
	return f.outAdj[f.outOffsets[v]:f.outOffsets[v+1]]
}

// OEDests returns the fragments that must hear about v along its out-edges.
func (f *Fragment) OEDests(v common.Vertex) []int { return f.oeDest[v] }

// IOEDests returns the fragments that must hear about v along any edge.
func (f *Fragment) IOEDests(v common.Vertex) []int { return f.ioeDest[v] }
