package main

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// AppConfig is the single typed record the config collaborator hands to the
// core (spec.md §9's "closed set of typed records, one per section"
// redesign, expanded in SPEC_FULL.md §2.2). The core never parses YAML
// itself; this file is the only place in the repository that does.
type AppConfig struct {
	DataRoot      string         `yaml:"dataRoot"`
	Include       []string       `yaml:"include"`
	Exclude       []string       `yaml:"exclude"`
	CustomFolders []CustomFolder `yaml:"customFolders"`
	Extensions    []string       `yaml:"extensions"`
	ArchiveOnMove bool           `yaml:"archiveOnMove"`
	ImportDir     string         `yaml:"importDir"`

	Queue       QueueConfig       `yaml:"queue"`
	Watch       WatchConfig       `yaml:"watch"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Executor    ExecutorConfig    `yaml:"executor"`
	Proxy       ProxyConfig       `yaml:"proxy"`
	SSHPool     SSHPoolConfig     `yaml:"sshpool"`
}

// CustomFolder is an operator-supplied directory outside the Nextcloud data
// root (spec.md §4.D: "arbitrary custom paths").
type CustomFolder struct {
	Path          string `yaml:"path"`
	ArchiveOnMove bool   `yaml:"archiveOnMove"`
	ArchiveRoot   string `yaml:"archiveRoot"`
	Cron          string `yaml:"cron"`
	Enabled       *bool  `yaml:"enabled"`
}

type QueueConfig struct {
	Capacity     int    `yaml:"capacity"`
	SnapshotPath string `yaml:"snapshotPath"`
}

type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

type OrchestratorConfig struct {
	BatchSize    int           `yaml:"batchSize"`
	BatchTimeout time.Duration `yaml:"batchTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	Workers      int           `yaml:"workers"`
	// AlbumsPath is the Nextcloud albums directory scanned by the downstream
	// indexing chain's files:scan/memories:index steps (spec.md §6). It is a
	// distinct external path configured by the operator, not derived from
	// any monitored source folder.
	AlbumsPath string `yaml:"albumsPath"`
}

// ExecutorConfig carries the mode and per-mode connection details
// (SPEC_FULL.md §2.2's executor.Config boundary). Mode is a string here
// ("auto", "local", "cluster") and resolved to executor.Mode at wiring time,
// since the core's enum is an implementation detail the config file
// shouldn't have to know the numeric value of.
type ExecutorConfig struct {
	Mode              string `yaml:"mode"`
	ContainerName     string `yaml:"containerName"`
	SSHUser           string `yaml:"sshUser"`
	SSHPrivateKeyPath string `yaml:"sshPrivateKeyPath"`
}

type ProxyConfig struct {
	CacheTTL      time.Duration   `yaml:"cacheTTL"`
	MaxErrors     int             `yaml:"maxErrors"`
	HealthTimeout time.Duration   `yaml:"healthTimeout"`
	Services      []ServiceConfig `yaml:"services"`
}

// ServiceConfig is one static proxy-service entry. Real deployments may
// instead back proxy.ServiceLister with a live cluster API; a static list
// read from this config file is the simplest ServiceLister a single-node
// operator needs, and is what cmd/nextprismd wires by default.
type ServiceConfig struct {
	Name   string            `yaml:"name"`
	Labels map[string]string `yaml:"labels"`
	Host   string            `yaml:"host"`
	Port   int               `yaml:"port"`
}

type SSHPoolConfig struct {
	MaxConnections int           `yaml:"maxConnections"`
	IdleTimeout    time.Duration `yaml:"idleTimeout"`
	MaxRetries     int           `yaml:"maxRetries"`
	DialTimeout    time.Duration `yaml:"dialTimeout"`
}

// LoadConfig reads and parses the YAML config file at path.
func LoadConfig(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config file")
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "parsing config file")
	}

	if cfg.ImportDir == "" {
		return nil, errors.New("config: importDir is required")
	}
	if cfg.DataRoot == "" && len(cfg.CustomFolders) == 0 {
		return nil, errors.New("config: at least one of dataRoot or customFolders is required")
	}
	if cfg.Orchestrator.AlbumsPath == "" {
		return nil, errors.New("config: orchestrator.albumsPath is required")
	}

	return &cfg, nil
}
