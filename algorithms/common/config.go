package common

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Execution modes.
const (
	ModeLocal       = "local"
	ModeDistributed = "distributed"
)

// AlgorithmConfig represents the configuration of one run.
type AlgorithmConfig struct {
	// Algorithm name (must match a registered algorithm)
	AlgorithmName string `yaml:"algorithm_name" json:"algorithm_name"`

	// "local" runs every fragment in this process, "distributed" runs the
	// fragment named by worker_config.worker_id against a coordinator.
	Mode string `yaml:"mode" json:"mode"`

	// Coordinator address, distributed mode only.
	ServerAddress string `yaml:"server_address" json:"server_address"`

	// Upper bound on incremental rounds; 0 means unbounded.
	MaxRounds int `yaml:"max_rounds" json:"max_rounds"`

	WorkerConfig WorkerConfig `yaml:"worker_config" json:"worker_config"`

	GraphConfig GraphInputConfig `yaml:"graph_config" json:"graph_config"`

	Output OutputConfig `yaml:"output" json:"output"`

	// Algorithm-specific parameters
	Parameters Parameters `yaml:"parameters" json:"parameters"`
}

// WorkerConfig specifies how workers participate in the algorithm
type WorkerConfig struct {
	// Number of workers, i.e. fragments
	NumWorkers int `yaml:"num_workers" json:"num_workers"`

	// Worker ID in "worker-N" form (distributed mode)
	WorkerID string `yaml:"worker_id" json:"worker_id"`

	// Goroutines used for merge and recomputation inside a fragment
	Threads int `yaml:"threads" json:"threads"`

	// Assignment of vertices to workers (optional)
	// If not specified, vertices are assigned round-robin
	VertexAssignment map[int]string `yaml:"vertex_assignment" json:"vertex_assignment"`
}

// GraphInputConfig specifies how to load the graph
type GraphInputConfig struct {
	// Input format: only "edgelist" is supported
	Format string `yaml:"format" json:"format"`

	// Input file path. With local_testing this is a directory holding one
	// file per worker (1.txt, 2.txt, ...).
	FilePath string `yaml:"file_path" json:"file_path"`

	LocalTesting bool `yaml:"local_testing" json:"local_testing"`

	// Optional "<id> <attribute>" file with initial vertex state
	AttributeFile string `yaml:"attribute_file" json:"attribute_file"`

	// Or: edges listed in the config itself
	Edges []struct {
		U int `yaml:"u" json:"u"`
		V int `yaml:"v" json:"v"`
	} `yaml:"edges" json:"edges"`

	// Adds vertices 0..num_vertices-1 even if they have no edges
	NumVertices int `yaml:"num_vertices" json:"num_vertices"`

	Directed bool `yaml:"directed" json:"directed"`
}

// OutputConfig controls where and how results are written.
type OutputConfig struct {
	Dir string `yaml:"dir" json:"dir"`

	// If > 0, coreness values are released with two-sided geometric noise
	// of this privacy budget.
	ReleaseEpsilon float64 `yaml:"release_epsilon" json:"release_epsilon"`
}

// Validate checks if the algorithm config is valid
func (c *AlgorithmConfig) Validate() error {
	if c.AlgorithmName == "" {
		return fmt.Errorf("algorithm_name is required")
	}

	switch c.Mode {
	case "":
		c.Mode = ModeLocal
	case ModeLocal, ModeDistributed:
	default:
		return fmt.Errorf("mode must be '%s' or '%s', got: %s", ModeLocal, ModeDistributed, c.Mode)
	}

	if c.WorkerConfig.NumWorkers <= 0 {
		return fmt.Errorf("num_workers must be > 0, got: %d", c.WorkerConfig.NumWorkers)
	}

	if c.WorkerConfig.Threads < 0 {
		return fmt.Errorf("threads must be >= 0, got: %d", c.WorkerConfig.Threads)
	}

	if c.MaxRounds < 0 {
		return fmt.Errorf("max_rounds must be >= 0, got: %d", c.MaxRounds)
	}

	if c.Mode == ModeDistributed {
		if c.ServerAddress == "" {
			return fmt.Errorf("server_address is required in distributed mode")
		}
		idx, err := WorkerIndex(c.WorkerConfig.WorkerID)
		if err != nil {
			return fmt.Errorf("worker_id: %w", err)
		}
		if idx >= c.WorkerConfig.NumWorkers {
			return fmt.Errorf("worker_id %s out of range for %d workers", c.WorkerConfig.WorkerID, c.WorkerConfig.NumWorkers)
		}
	}

	if c.Output.ReleaseEpsilon < 0 {
		return fmt.Errorf("release_epsilon must be >= 0, got: %v", c.Output.ReleaseEpsilon)
	}

	return nil
}

// LoadConfig loads algorithm configuration from a YAML file
func LoadConfig(filePath string) (*AlgorithmConfig, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config AlgorithmConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// SaveConfig saves algorithm configuration to a YAML file
func SaveConfig(config *AlgorithmConfig, filePath string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(filePath, data, 0644)
}
