package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for analyzd.
type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Logging      LoggingConfig      `koanf:"logging"`
	NATS         NATSConfig         `koanf:"nats"`
	Store        StoreConfig        `koanf:"store"`
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
	Discovery    DiscoveryConfig    `koanf:"discovery"`
	Worker       WorkerConfig       `koanf:"worker"`
}

// ServerConfig controls the HTTP API server.
type ServerConfig struct {
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// NATSConfig controls the message bus connection.
type NATSConfig struct {
	URL           string   `koanf:"url"`
	MaxReconnects int      `koanf:"max_reconnects"`
	ReconnectWait Duration `koanf:"reconnect_wait"`
}

// StoreConfig controls the durable SQLite store.
type StoreConfig struct {
	Path string `koanf:"path"`
}

// OrchestratorConfig controls the scheduler and job protocol.
type OrchestratorConfig struct {
	PollInterval        Duration `koanf:"poll_interval"`
	MaxParallelRequests int      `koanf:"max_parallel_requests"`
	MaxJobRetries       int      `koanf:"max_job_retries"`
	DependencyThreshold int      `koanf:"dependency_threshold"`
	DependencyBatchSize int      `koanf:"dependency_batch_size"`
	DispatchRate        float64  `koanf:"dispatch_rate"`
	DispatchBurst       int      `koanf:"dispatch_burst"`
}

// DiscoveryConfig controls repository cloning and introspection.
type DiscoveryConfig struct {
	WorkDir        string   `koanf:"work_dir"`
	CloneTimeout   Duration `koanf:"clone_timeout"`
	MaxTreeEntries int      `koanf:"max_tree_entries"`
}

// WorkerConfig controls the analysis worker's LLM backend.
type WorkerConfig struct {
	Model   string `koanf:"model"`
	BaseURL string `koanf:"base_url"`
	APIKey  Secret `koanf:"api_key"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9210
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://localhost:4222"
	}
	if cfg.NATS.MaxReconnects == 0 {
		cfg.NATS.MaxReconnects = 5
	}
	if cfg.NATS.ReconnectWait == 0 {
		cfg.NATS.ReconnectWait = Duration(time.Second)
	}

	if cfg.Store.Path == "" {
		cfg.Store.Path = "analyzd.db"
	}

	if cfg.Orchestrator.PollInterval == 0 {
		cfg.Orchestrator.PollInterval = Duration(5 * time.Second)
	}
	if cfg.Orchestrator.MaxParallelRequests == 0 {
		cfg.Orchestrator.MaxParallelRequests = 4
	}
	if cfg.Orchestrator.MaxJobRetries == 0 {
		cfg.Orchestrator.MaxJobRetries = 2
	}
	if cfg.Orchestrator.DependencyThreshold == 0 {
		cfg.Orchestrator.DependencyThreshold = 50
	}
	if cfg.Orchestrator.DependencyBatchSize == 0 {
		cfg.Orchestrator.DependencyBatchSize = 25
	}
	if cfg.Orchestrator.DispatchRate == 0 {
		cfg.Orchestrator.DispatchRate = 10
	}
	if cfg.Orchestrator.DispatchBurst == 0 {
		cfg.Orchestrator.DispatchBurst = 5
	}

	if cfg.Discovery.WorkDir == "" {
		cfg.Discovery.WorkDir = "/tmp/analyzd"
	}
	if cfg.Discovery.CloneTimeout == 0 {
		cfg.Discovery.CloneTimeout = Duration(2 * time.Minute)
	}
	if cfg.Discovery.MaxTreeEntries == 0 {
		cfg.Discovery.MaxTreeEntries = 500
	}

	if cfg.Worker.Model == "" {
		cfg.Worker.Model = "gpt-4o-mini"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be in 1..65535, got %d", c.Server.Port)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging format must be 'json' or 'console', got %q", c.Logging.Format)
	}
	if c.NATS.URL == "" {
		return fmt.Errorf("nats url is required")
	}
	if c.Orchestrator.PollInterval.Duration() <= 0 {
		return fmt.Errorf("orchestrator poll interval must be > 0")
	}
	if c.Orchestrator.MaxParallelRequests <= 0 {
		return fmt.Errorf("orchestrator max parallel requests must be > 0")
	}
	if c.Orchestrator.MaxJobRetries < 0 {
		return fmt.Errorf("orchestrator max job retries must be >= 0")
	}
	if c.Orchestrator.DependencyThreshold < 0 {
		return fmt.Errorf("orchestrator dependency threshold must be >= 0")
	}
	if c.Orchestrator.DependencyBatchSize < 1 {
		return fmt.Errorf("orchestrator dependency batch size must be >= 1")
	}
	if c.Orchestrator.DispatchRate <= 0 {
		return fmt.Errorf("orchestrator dispatch rate must be > 0")
	}
	return nil
}
