package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"
)

// ErrFatalConfiguration marks configuration problems that abort startup
// before the node supervisor ever runs. Wrapped into every construction-time
// failure so callers can errors.Is against a single sentinel.
var ErrFatalConfiguration = errors.New("fatal configuration error")

// These are read from the yaml config file
type ConfigRaw struct {
	Production bool   `yaml:"production"`
	DbPath     string `yaml:"db_path" validate:"required"`

	ChainRpcUrl         string `yaml:"chain_rpc_url" validate:"required"`
	TaskContractAddress string `yaml:"task_contract_address" validate:"required,len=42"`
	NodeContractAddress string `yaml:"node_contract_address" validate:"required,len=42"`
	NodeAddress         string `yaml:"node_address" validate:"required,len=42"`

	RelayUrl string `yaml:"relay_url" validate:"required,url"`

	// WorkerUrl is the local compute worker that actually runs payloads.
	WorkerUrl string `yaml:"worker_url"`

	// PrivateKey signs hub transactions. The GRIDNODE_PRIVATE_KEY
	// environment variable takes precedence so keys can stay out of the
	// config file.
	PrivateKey string `yaml:"private_key"`

	// StartBlock is where a brand new node begins scanning for events.
	StartBlock uint64 `yaml:"start_block"`

	ApiAddress   string `yaml:"api_address"`
	ApiJwtSecret string `yaml:"api_jwt_secret"`

	// Distributed lets more than one runner execute in parallel; the
	// non-distributed default serializes task execution.
	Distributed        bool `yaml:"distributed"`
	MaxConcurrentTasks int  `yaml:"max_concurrent_tasks"`

	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
	ConfirmationDepth   uint64 `yaml:"confirmation_depth"`
	MaxBlocksPerPoll    uint64 `yaml:"max_blocks_per_poll"`

	StepRetryLimit int `yaml:"step_retry_limit"`

	// DurableQueue switches the event queue from the in-memory variant to
	// the badger backed one that survives a restart.
	DurableQueue bool `yaml:"durable_queue"`

	// BackupDir enables periodic database snapshots when set.
	BackupDir           string `yaml:"backup_dir"`
	BackupIntervalHours int    `yaml:"backup_interval_hours"`
}

// Config is the runtime configuration after defaults are applied.
type Config struct {
	ConfigRaw

	PollInterval time.Duration
}

// Load parses and validates the yaml config file at path.
func Load(path string) (*Config, error) {
	raw := ConfigRaw{}

	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot read config file %s: %v", ErrFatalConfiguration, path, err)
	}

	if err := yaml.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: cannot parse config file %s: %v", ErrFatalConfiguration, path, err)
	}

	return FromRaw(raw)
}

// FromRaw validates a raw config and applies defaults.
func FromRaw(raw ConfigRaw) (*Config, error) {
	if err := validator.New().Struct(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFatalConfiguration, err)
	}

	c := &Config{ConfigRaw: raw}

	if key := os.Getenv("GRIDNODE_PRIVATE_KEY"); key != "" {
		c.PrivateKey = key
	}
	if c.WorkerUrl == "" {
		c.WorkerUrl = "http://127.0.0.1:8001"
	}

	if c.PollIntervalSeconds <= 0 {
		c.PollIntervalSeconds = 5
	}
	c.PollInterval = time.Duration(c.PollIntervalSeconds) * time.Second

	if c.MaxBlocksPerPoll == 0 {
		c.MaxBlocksPerPoll = 500
	}
	if c.StepRetryLimit <= 0 {
		c.StepRetryLimit = 5
	}
	if c.MaxConcurrentTasks <= 0 {
		c.MaxConcurrentTasks = 4
	}
	if c.BackupIntervalHours <= 0 {
		c.BackupIntervalHours = 24
	}
	if !c.Distributed {
		// single assignment guarantee only holds per task, execution is
		// serialized when the node runs a single local worker
		c.MaxConcurrentTasks = 1
	}

	return c, nil
}
