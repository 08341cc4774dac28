package common

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrParse is returned when a vertex attribute cannot be decoded.
	ErrParse = errors.New("parse error")

	// ErrInvalidArgument is returned for negative or out-of-order inputs.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotConverged is returned when a run hits its round limit.
	ErrNotConverged = errors.New("computation did not converge")
)

// Vertex is a dense, fragment-local vertex handle. Inner vertices occupy
// [0, InnerVertices().End) and outer vertices follow them.
type Vertex uint32

// VertexRange is a half-open range of vertex handles.
type VertexRange struct {
	Begin Vertex
	End   Vertex
}

// Len returns the number of vertices in the range.
func (r VertexRange) Len() int {
	return int(r.End - r.Begin)
}

// Contains reports whether v lies inside the range.
func (r VertexRange) Contains(v Vertex) bool {
	return v >= r.Begin && v < r.End
}

// Fragment is one partition of the graph as seen by an algorithm.
// Adjacency lists are only available for inner vertices; outer vertices are
// proxies whose authoritative state lives on another fragment.
type Fragment interface {
	// FID returns the index of this fragment.
	FID() int

	// FragmentNum returns the total number of fragments.
	FragmentNum() int

	InnerVertices() VertexRange
	OuterVertices() VertexRange

	// VerticesNum returns the number of inner plus outer vertices.
	VerticesNum() int

	// GetID returns the graph-wide id of v.
	GetID(v Vertex) int64

	// GetData returns the raw attribute string of an inner vertex.
	GetData(v Vertex) string

	GetLocalInDegree(v Vertex) int
	GetLocalOutDegree(v Vertex) int
	GetIncomingAdjList(v Vertex) []Vertex
	GetOutgoingAdjList(v Vertex) []Vertex
}

// MessageChannel sends vertex state to the fragments that hold a proxy of
// the vertex. A channel must only be used by one goroutine at a time.
type MessageChannel interface {
	// SendMsgThroughEdges sends payload to every fragment owning an in- or
	// out-neighbour of v.
	SendMsgThroughEdges(v Vertex, payload []byte)

	// SendMsgThroughOEdges sends payload to every fragment owning an
	// out-neighbour of v.
	SendMsgThroughOEdges(v Vertex, payload []byte)
}

// MessageManager is the per-fragment messaging substrate used by an App.
type MessageManager interface {
	// InitChannels prepares n independent send channels.
	InitChannels(n int)

	Channels() []MessageChannel

	// ForceContinue votes for another round even if no message was sent.
	// Apps call it when local state changed, since updates between inner
	// vertices never produce messages.
	ForceContinue()

	// ParallelProcess invokes fn for every message received for this round.
	// Messages addressed to the same vertex are always handled by the same
	// worker, in order, so fn may mutate that vertex's state without locks.
	ParallelProcess(ctx context.Context, n int, fn func(tid int, v Vertex, payload []byte) error) error
}

// App is a vertex-centric algorithm driven round by round.
type App interface {
	// Name returns the registered name of the algorithm.
	Name() string

	// Init allocates the per-vertex state arena for frag.
	Init(frag Fragment, params Parameters) error

	// PartialEval seeds every inner vertex (round 0) and broadcasts the seeds.
	PartialEval(ctx context.Context, frag Fragment, msgs MessageManager) error

	// IncrementalEval merges inbound state, recomputes and commits (round n).
	IncrementalEval(ctx context.Context, frag Fragment, msgs MessageManager) error

	// Output writes the result of every inner vertex, ascending by id.
	Output(w io.Writer) error

	// Result returns summary statistics about the run so far.
	Result() *AlgorithmResult
}

// AlgorithmResult represents the final output of an algorithm execution
type AlgorithmResult struct {
	AlgorithmName    string
	FragmentID       int
	NumRounds        int
	Converged        bool
	ConvergenceRound int

	// Metadata: execution statistics, e.g. updated vertices per round.
	Metadata map[string]interface{}
}
