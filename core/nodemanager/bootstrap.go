package nodemanager

import (
	"context"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gridmind/gridnode/core/backup"
	"github.com/gridmind/gridnode/core/chainio"
	"github.com/gridmind/gridnode/core/config"
	"github.com/gridmind/gridnode/core/eventqueue"
	"github.com/gridmind/gridnode/core/relay"
	"github.com/gridmind/gridnode/core/taskengine"
	"github.com/gridmind/gridnode/core/watcher"
	"github.com/gridmind/gridnode/metrics"
	"github.com/gridmind/gridnode/pkg/logger"
	"github.com/gridmind/gridnode/storage"
)

// RunWithConfig builds a node from the yaml config at configPath and runs it
// until ctx ends.
func RunWithConfig(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	manager, err := NewFromConfig(ctx, cfg)
	if err != nil {
		return err
	}

	return manager.Run(ctx)
}

// NewFromConfig wires the full dependency graph: storage, chain client,
// relay, queue, watcher and task system. Every failure here is a
// configuration problem; nothing has side effects yet.
func NewFromConfig(ctx context.Context, cfg *config.Config) (*NodeManager, error) {
	log, err := logger.New(cfg.Production)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot build logger: %v", config.ErrFatalConfiguration, err)
	}

	db, err := storage.NewWithPath(cfg.DbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot open database at %s: %v", config.ErrFatalConfiguration, cfg.DbPath, err)
	}
	if err := db.Setup(); err != nil {
		return nil, fmt.Errorf("%w: cannot set up database: %v", config.ErrFatalConfiguration, err)
	}

	if cfg.PrivateKey == "" {
		return nil, fmt.Errorf("%w: no private key configured, set GRIDNODE_PRIVATE_KEY or private_key", config.ErrFatalConfiguration)
	}
	submitter, err := chainio.NewPrivateKeySubmitter(ctx, cfg.ChainRpcUrl, cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot build transaction signer: %v", config.ErrFatalConfiguration, err)
	}

	chain, err := chainio.NewEthClient(
		cfg.ChainRpcUrl,
		common.HexToAddress(cfg.TaskContractAddress),
		common.HexToAddress(cfg.NodeContractAddress),
		submitter,
		log,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot build chain client: %v", config.ErrFatalConfiguration, err)
	}

	m := metrics.New(prometheus.NewRegistry())

	var queue eventqueue.EventQueue
	if cfg.DurableQueue {
		queue, err = eventqueue.NewDurableQueue(db, log)
		if err != nil {
			return nil, fmt.Errorf("%w: cannot open durable queue: %v", config.ErrFatalConfiguration, err)
		}
	} else {
		queue = eventqueue.NewMemoryEventQueue()
	}

	seen, err := bigcache.New(ctx, bigcache.Config{
		Shards:             1024,
		LifeWindow:         2 * time.Hour,
		CleanWindow:        5 * time.Minute,
		MaxEntriesInWindow: 1000 * 10 * 60,
		MaxEntrySize:       64,
		HardMaxCacheSize:   256,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: cannot initialize dedup cache: %v", config.ErrFatalConfiguration, err)
	}

	events, err := watcher.New(chain, watcher.NewBadgerBlockNumberCache(db), seen, watcher.Config{
		CacheKey:          "hub",
		StartBlock:        cfg.StartBlock,
		ConfirmationDepth: cfg.ConfirmationDepth,
		MaxBlocksPerPoll:  cfg.MaxBlocksPerPoll,
		PollInterval:      cfg.PollInterval,
	}, m, log)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot build event watcher: %v", config.ErrFatalConfiguration, err)
	}

	strategy := taskengine.NewInferenceStrategy(
		chain,
		relay.NewHTTPRelay(cfg.RelayUrl, cfg.NodeAddress, log),
		taskengine.NewHTTPExecutor(cfg.WorkerUrl),
	)
	system := taskengine.NewTaskSystem(queue, taskengine.NewBadgerTaskStateCache(db), strategy, taskengine.SystemConfig{
		MaxConcurrent: cfg.MaxConcurrentTasks,
		Runner:        taskengine.RunnerConfig{RetryLimit: cfg.StepRetryLimit},
	}, m, log)

	manager := NewNodeManager(cfg, chain, queue, events, system, NewBadgerNodeStateCache(db), m, log, queue, db)

	if cfg.BackupDir != "" {
		manager.EnableBackup(
			backup.NewService(log, db, cfg.BackupDir),
			time.Duration(cfg.BackupIntervalHours)*time.Hour,
		)
	}

	return manager, nil
}
