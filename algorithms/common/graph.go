package common

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

// GraphData represents the input graph for algorithms
type GraphData struct {
	// Sorted ids of every known vertex, including isolated ones.
	VertexIDs []int64

	// Directed edges, deduplicated, without self-loops.
	Edges []Edge

	// Raw initial-state strings keyed by vertex id.
	Attributes map[int64]string

	// Self-loops removed during normalisation.
	DroppedSelfLoops int
}

// Edge represents a single directed edge in the graph
type Edge struct {
	U int64 // Source vertex
	V int64 // Target vertex
}

// NumVertices returns the number of vertices.
func (g *GraphData) NumVertices() int { return len(g.VertexIDs) }

// NumEdges returns the number of edges.
func (g *GraphData) NumEdges() int { return len(g.Edges) }

// NewGraphData normalises edges and builds the vertex id set. Extra ids are
// added even if they have no edges.
func NewGraphData(edges []Edge, extraIDs []int64, attrs map[int64]string) *GraphData {
	g := &GraphData{Attributes: attrs}
	if g.Attributes == nil {
		g.Attributes = make(map[int64]string)
	}

	seen := make(map[Edge]struct{}, len(edges))
	vertexSet := make(map[int64]struct{})
	for _, e := range edges {
		vertexSet[e.U] = struct{}{}
		vertexSet[e.V] = struct{}{}
		if e.U == e.V {
			g.DroppedSelfLoops++
			continue
		}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		g.Edges = append(g.Edges, e)
	}
	for _, id := range extraIDs {
		vertexSet[id] = struct{}{}
	}
	for id := range g.Attributes {
		vertexSet[id] = struct{}{}
	}

	g.VertexIDs = make([]int64, 0, len(vertexSet))
	for id := range vertexSet {
		g.VertexIDs = append(g.VertexIDs, id)
	}
	sort.Slice(g.VertexIDs, func(i, j int) bool { return g.VertexIDs[i] < g.VertexIDs[j] })
	sort.Slice(g.Edges, func(i, j int) bool {
		if g.Edges[i].U != g.Edges[j].U {
			return g.Edges[i].U < g.Edges[j].U
		}
		return g.Edges[i].V < g.Edges[j].V
	})
	return g
}

// LoadGraphData loads graph data from the configuration.
// If localTesting is true and workerID is provided, loads from partitioned files
// (e.g., data/1.txt for worker-0, data/2.txt for worker-1).
// Otherwise, loads from the specified file_path.
func LoadGraphData(config *GraphInputConfig, workerID string) (*GraphData, error) {
	var edges []Edge

	switch {
	case config.FilePath != "":
		filePath := config.FilePath

		// Local testing mode: construct worker-specific file path
		if config.LocalTesting && workerID != "" {
			workerIndex, err := WorkerIndex(workerID)
			if err != nil {
				return nil, fmt.Errorf("invalid worker_id for local testing: %w", err)
			}
			filePath = fmt.Sprintf("%s/%d.txt", config.FilePath, workerIndex+1)
		}

		switch config.Format {
		case "", "edgelist", "edge_list":
			file, err := os.Open(filePath)
			if err != nil {
				return nil, fmt.Errorf("failed to open graph file: %w", err)
			}
			defer file.Close()
			edges, err = ReadEdgeList(file, config.Directed)
			if err != nil {
				return nil, fmt.Errorf("failed to read graph file %s: %w", filePath, err)
			}
		default:
			return nil, fmt.Errorf("unsupported graph format: %s", config.Format)
		}

	case len(config.Edges) > 0:
		for _, e := range config.Edges {
			edges = append(edges, Edge{U: int64(e.U), V: int64(e.V)})
			if !config.Directed {
				edges = append(edges, Edge{U: int64(e.V), V: int64(e.U)})
			}
		}

	case config.NumVertices == 0:
		return nil, fmt.Errorf("no graph data provided: specify either file_path or edges")
	}

	var extra []int64
	for i := 0; i < config.NumVertices; i++ {
		extra = append(extra, int64(i))
	}

	var attrs map[int64]string
	if config.AttributeFile != "" {
		file, err := os.Open(config.AttributeFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open attribute file: %w", err)
		}
		defer file.Close()
		attrs, err = ReadAttributes(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read attribute file %s: %w", config.AttributeFile, err)
		}
	}

	return NewGraphData(edges, extra, attrs), nil
}

// ReadEdgeList parses "u v" lines. Lines starting with # are comments; any
// columns after the second are ignored.
func ReadEdgeList(r io.Reader, directed bool) ([]Edge, error) {
	reader := csv.NewReader(r)
	reader.Comma = ' '          // Space-separated
	reader.Comment = '#'        // Comments start with #
	reader.FieldsPerRecord = -1 // Allow variable fields
	reader.TrimLeadingSpace = true

	var edges []Edge
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		// Skip empty lines
		if len(record) == 0 || record[0] == "" {
			continue
		}

		if len(record) < 2 {
			return nil, fmt.Errorf("invalid edge format: need at least 2 values (u v), got: %v", record)
		}

		u, err := strconv.ParseInt(record[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid vertex ID %q: %w", record[0], ErrParse)
		}
		v, err := strconv.ParseInt(record[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid vertex ID %q: %w", record[1], ErrParse)
		}
		if u < 0 || v < 0 {
			return nil, fmt.Errorf("negative vertex ID in edge %d %d: %w", u, v, ErrInvalidArgument)
		}

		edges = append(edges, Edge{U: u, V: v})
		// Add reverse edge if undirected
		if !directed {
			edges = append(edges, Edge{U: v, V: u})
		}
	}
	return edges, nil
}

// ReadAttributes parses "<id> <attribute>" lines. The attribute may be
// missing, which records an empty string for the vertex.
func ReadAttributes(r io.Reader) (map[int64]string, error) {
	attrs := make(map[int64]string)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) > 2 {
			return nil, fmt.Errorf("line %d: expected '<id> <attribute>', got %q", line, text)
		}
		id, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid vertex ID %q: %w", line, fields[0], ErrParse)
		}
		if len(fields) == 2 {
			attrs[id] = fields[1]
		} else {
			attrs[id] = ""
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return attrs, nil
}

// Owner returns a function mapping a vertex id to its fragment index.
func Owner(numWorkers int, customAssignment map[int]string) (func(int64) int, error) {
	custom := make(map[int64]int, len(customAssignment))
	for id, worker := range customAssignment {
		idx, err := WorkerIndex(worker)
		if err != nil {
			return nil, fmt.Errorf("vertex %d: %w", id, err)
		}
		if idx >= numWorkers {
			return nil, fmt.Errorf("vertex %d assigned to %s, only %d workers", id, worker, numWorkers)
		}
		custom[int64(id)] = idx
	}
	return func(id int64) int {
		if idx, ok := custom[id]; ok {
			return idx
		}
		return int(id % int64(numWorkers))
	}, nil
}

// WorkerName returns the canonical id of worker index i.
func WorkerName(i int) string {
	return fmt.Sprintf("worker-%d", i)
}

// WorkerIndex extracts the worker index from a worker ID string.
// Supports formats: "worker-0", "worker-1", etc.
// Returns the numeric index (0-based).
func WorkerIndex(workerID string) (int, error) {
	var index int
	n, err := fmt.Sscanf(workerID, "worker-%d", &index)
	if err != nil || n != 1 {
		return 0, fmt.Errorf("failed to extract worker index from %s (expected format: worker-N)", workerID)
	}
	if index < 0 {
		return 0, fmt.Errorf("worker index must be non-negative, got: %d", index)
	}
	return index, nil
}
