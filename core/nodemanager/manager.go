// Package nodemanager supervises the node's control loop. It owns the
// lifecycle state machine, keeps the event watcher and the task system in
// step with it, and reconciles the node's availability with the hub
// contracts.
package nodemanager

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gocron "github.com/go-co-op/gocron/v2"

	"github.com/gridmind/gridnode/core/backup"
	"github.com/gridmind/gridnode/core/chainio"
	"github.com/gridmind/gridnode/core/config"
	"github.com/gridmind/gridnode/core/eventqueue"
	"github.com/gridmind/gridnode/core/taskengine"
	"github.com/gridmind/gridnode/core/watcher"
	"github.com/gridmind/gridnode/metrics"
	"github.com/gridmind/gridnode/pkg/logger"
	"github.com/gridmind/gridnode/version"
)

// NodeManager drives the node through its lifecycle. All control operations
// are safe for concurrent use; the state machine serializes them.
type NodeManager struct {
	cfg    *config.Config
	chain  chainio.ChainClient
	queue  eventqueue.EventQueue
	events *watcher.EventWatcher
	system *taskengine.TaskSystem
	states NodeStateCache

	logger  logger.Logger
	metrics *metrics.NodeMetrics

	mu     sync.RWMutex
	status NodeStatus

	watcherCancel context.CancelFunc
	watcherWg     sync.WaitGroup

	systemCancel context.CancelFunc
	systemWg     sync.WaitGroup

	reconcileRetries int
	reconcileDelay   time.Duration

	scheduler gocron.Scheduler

	backups        *backup.Service
	backupInterval time.Duration

	ready     chan struct{}
	readyOnce sync.Once
	finishCh  chan struct{}

	// closers are released on finish, after everything stopped
	closers []io.Closer
}

func NewNodeManager(cfg *config.Config, chain chainio.ChainClient, queue eventqueue.EventQueue, events *watcher.EventWatcher, system *taskengine.TaskSystem, states NodeStateCache, m *metrics.NodeMetrics, log logger.Logger, closers ...io.Closer) *NodeManager {
	n := &NodeManager{
		cfg:     cfg,
		chain:   chain,
		queue:   queue,
		events:  events,
		system:  system,
		states:  states,
		logger:  logger.EnsureLogger(log),
		metrics: m,

		status:           StatusInit,
		reconcileRetries: 3,
		reconcileDelay:   2 * time.Second,

		ready:    make(chan struct{}),
		finishCh: make(chan struct{}),
		closers:  closers,
	}

	// only task assignments addressed to this node reach the queue
	self := common.HexToAddress(cfg.NodeAddress)
	events.Watch(chainio.EventTaskCreated, func(ev *chainio.Event) bool {
		payload, err := chainio.ParseTaskCreated(ev)
		return err == nil && payload.SelectedNode == self
	}, func(ctx context.Context, ev *chainio.Event) error {
		return queue.Put(ctx, ev)
	})

	return n
}

// EnableBackup attaches a backup service that Run starts and stops with the
// node.
func (n *NodeManager) EnableBackup(svc *backup.Service, interval time.Duration) {
	n.backups = svc
	n.backupInterval = interval
}

func (n *NodeManager) Status() NodeStatus {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.status
}

// GetState returns the current lifecycle snapshot.
func (n *NodeManager) GetState() *NodeState {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return &NodeState{Status: n.status, UpdatedAt: time.Now().UTC()}
}

// WaitUntilReady blocks until Run finished its setup.
func (n *NodeManager) WaitUntilReady(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-n.ready:
		return nil
	}
}

// setStatus completes the second half of a two-phase transition. The
// intermediate status was already validated, so this cannot fail.
func (n *NodeManager) setStatus(to NodeStatus) {
	if err := n.transition(to); err != nil {
		n.logger.Error("unexpected transition failure", "status", to, "error", err)
	}
}

// transition moves to the given status if the state machine allows it. The
// persisted NodeState is written under the same lock so concurrent legal
// transitions cannot land on disk out of order.
func (n *NodeManager) transition(to NodeStatus) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.status.canBecome(to) {
		return invalidTransition(n.status, to)
	}
	n.status = to

	n.metrics.IncTransition(string(to))
	if err := n.states.Set(&NodeState{Status: to, UpdatedAt: time.Now().UTC()}); err != nil {
		n.logger.Error("cannot persist node state", "status", to, "error", err)
	}
	n.logger.Info("node state changed", "status", to)
	return nil
}

// Start brings the node from init or stopped into running: the task system
// begins consuming the queue, the watcher begins polling, and the node
// announces its availability on chain. Calling Start on a running node is a
// no-op.
func (n *NodeManager) Start(ctx context.Context) error {
	if n.Status() == StatusRunning {
		n.logger.Debug("start ignored, node already running")
		return nil
	}
	if err := n.transition(StatusStarting); err != nil {
		return err
	}

	n.startSystem()
	n.startWatcher()
	n.setStatus(StatusRunning)

	// the chain side is best effort: a node that cannot announce itself
	// still serves the tasks it already gets
	return n.reconcile(ctx, chainio.MethodJoinNetwork)
}

// Pause stops event intake and withdraws the node's availability on chain,
// but lets in-flight runners finish their current task.
func (n *NodeManager) Pause(ctx context.Context) error {
	if err := n.transition(StatusPausing); err != nil {
		return err
	}

	n.stopWatcher()
	n.setStatus(StatusPaused)
	return n.reconcile(ctx, chainio.MethodQuitNetwork)
}

// Resume restarts event intake after a pause and announces the node as
// available again.
func (n *NodeManager) Resume(ctx context.Context) error {
	if err := n.transition(StatusResuming); err != nil {
		return err
	}

	n.startWatcher()
	n.setStatus(StatusRunning)
	return n.reconcile(ctx, chainio.MethodJoinNetwork)
}

// Stop shuts the watcher and the task system down, waits for every runner to
// persist its state, and withdraws the node's availability on chain.
func (n *NodeManager) Stop(ctx context.Context) error {
	if err := n.transition(StatusStopping); err != nil {
		return err
	}

	n.stopWatcher()

	n.mu.Lock()
	cancel := n.systemCancel
	n.systemCancel = nil
	n.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	n.systemWg.Wait()

	n.setStatus(StatusStopped)
	return n.reconcile(ctx, chainio.MethodQuitNetwork)
}

// Finish releases the node's resources. Only a stopped node can finish.
func (n *NodeManager) Finish() error {
	if err := n.transition(StatusFinished); err != nil {
		return err
	}

	close(n.finishCh)
	for _, closer := range n.closers {
		if err := closer.Close(); err != nil {
			n.logger.Error("error releasing resource", "error", err)
		}
	}
	return nil
}

func (n *NodeManager) startWatcher() {
	ctx, cancel := context.WithCancel(context.Background())
	n.mu.Lock()
	n.watcherCancel = cancel
	n.mu.Unlock()

	n.watcherWg.Add(1)
	go func() {
		defer n.watcherWg.Done()
		if err := n.events.Run(ctx); err != nil && ctx.Err() == nil {
			n.logger.Error("event watcher exited", "error", err)
		}
	}()
}

func (n *NodeManager) stopWatcher() {
	n.mu.Lock()
	cancel := n.watcherCancel
	n.watcherCancel = nil
	n.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	n.watcherWg.Wait()
}

func (n *NodeManager) startSystem() {
	n.mu.Lock()
	if n.systemCancel != nil {
		n.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	n.systemCancel = cancel
	n.mu.Unlock()

	n.systemWg.Add(1)
	go func() {
		defer n.systemWg.Done()
		if err := n.system.Run(ctx); err != nil && ctx.Err() == nil {
			n.logger.Error("task system exited", "error", err)
		}
	}()
}

// reconcile submits the membership transaction with bounded retries. A node
// whose transaction never lands keeps its local state and surfaces a
// ReconciliationError for the caller to alarm on.
func (n *NodeManager) reconcile(ctx context.Context, method string) error {
	delay := n.reconcileDelay
	var lastErr error

	for attempt := 0; attempt <= n.reconcileRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return &ReconciliationError{Op: method, Err: ctx.Err()}
			case <-time.After(delay):
			}
			delay *= 2
		}

		_, lastErr = n.chain.SubmitTransaction(ctx, method)
		if lastErr == nil {
			return nil
		}
		n.logger.Warn("membership transaction failed", "method", method, "attempt", attempt+1, "error", lastErr)
	}

	return &ReconciliationError{Op: method, Err: lastErr}
}

// Run is the blocking supervisor: it starts the node, serves the operator
// API, reports a heartbeat, and tears everything down when ctx ends or
// Finish is called.
func (n *NodeManager) Run(ctx context.Context) error {
	n.logger.Info("🚀 starting node", "version", version.Get(), "address", n.cfg.NodeAddress)

	if err := n.startHeartbeat(); err != nil {
		n.logger.Error("cannot start heartbeat scheduler", "error", err)
	}

	apiShutdown := n.startAPI()

	if n.backups != nil {
		if err := n.backups.StartPeriodicBackup(n.backupInterval); err != nil {
			n.logger.Error("cannot start backup service", "error", err)
		}
	}

	if err := n.Start(ctx); err != nil {
		if !IsReconciliation(err) {
			return err
		}
		n.logger.Error("node started without on-chain availability", "error", err)
	}

	n.readyOnce.Do(func() { close(n.ready) })

	select {
	case <-ctx.Done():
		n.logger.Info("shutting down...")
		if err := n.Stop(context.Background()); err != nil && !IsReconciliation(err) {
			n.logger.Error("error stopping node", "error", err)
		}
		if err := n.Finish(); err != nil {
			n.logger.Error("error finishing node", "error", err)
		}
	case <-n.finishCh:
	}

	if n.backups != nil {
		n.backups.StopPeriodicBackup()
	}
	if n.scheduler != nil {
		if err := n.scheduler.Shutdown(); err != nil {
			n.logger.Error("error stopping scheduler", "error", err)
		}
	}
	if apiShutdown != nil {
		apiShutdown()
	}

	n.logger.Info("node shut down")
	return nil
}

func (n *NodeManager) startHeartbeat() error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	n.scheduler = scheduler
	n.scheduler.Start()

	_, err = n.scheduler.NewJob(
		gocron.DurationJob(time.Minute),
		gocron.NewTask(func() {
			n.logger.Info("heartbeat",
				"status", n.Status(),
				"running_tasks", n.system.RunningCount(),
				"version", version.Get())
		}),
	)
	return err
}
