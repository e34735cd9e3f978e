// Package watcher polls the chain for hub contract events and fans them out
// to registered handlers in deterministic order. The watcher only trusts
// confirmed blocks and tracks its progress in a BlockNumberCache so restarts
// never drop or reorder events.
package watcher

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/allegro/bigcache/v3"

	"github.com/gridmind/gridnode/core/chainio"
	"github.com/gridmind/gridnode/metrics"
	"github.com/gridmind/gridnode/pkg/logger"
)

const maxPollBackoff = time.Minute

// EventHandler consumes one decoded event. Returning an error stops the
// current poll; the event is redelivered on the next one.
type EventHandler func(ctx context.Context, ev *chainio.Event) error

// EventFilter decides whether a handler wants an event. A nil filter accepts
// everything.
type EventFilter func(ev *chainio.Event) bool

type subscription struct {
	event   string
	filter  EventFilter
	handler EventHandler
}

type Config struct {
	// CacheKey names this watcher's cursor in the BlockNumberCache.
	CacheKey string
	// StartBlock is where a fresh cursor begins scanning. Zero means the
	// chain start.
	StartBlock uint64
	// ConfirmationDepth is how many blocks behind head the watcher stays.
	ConfirmationDepth uint64
	// MaxBlocksPerPoll caps the range of one FilterLogs call.
	MaxBlocksPerPoll uint64
	PollInterval     time.Duration
}

// EventWatcher polls confirmed blocks and delivers matching events exactly
// once per process, ordered by (block number, log index).
type EventWatcher struct {
	client chainio.ChainClient
	cache  BlockNumberCache
	seen   *bigcache.BigCache
	cfg    Config

	subs    []subscription
	logger  logger.Logger
	metrics *metrics.NodeMetrics
}

func New(client chainio.ChainClient, cache BlockNumberCache, seen *bigcache.BigCache, cfg Config, m *metrics.NodeMetrics, log logger.Logger) (*EventWatcher, error) {
	if cfg.CacheKey == "" {
		return nil, fmt.Errorf("watcher cache key is required")
	}
	if cfg.MaxBlocksPerPoll == 0 {
		cfg.MaxBlocksPerPoll = 500
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}

	return &EventWatcher{
		client:  client,
		cache:   cache,
		seen:    seen,
		cfg:     cfg,
		logger:  logger.EnsureLogger(log),
		metrics: m,
	}, nil
}

// Watch registers a handler for one event name. All registration happens
// before Run; the subscription list is read-only afterwards.
func (w *EventWatcher) Watch(event string, filter EventFilter, handler EventHandler) {
	w.subs = append(w.subs, subscription{event: event, filter: filter, handler: handler})
}

// Run polls until ctx is cancelled. Chain errors back off exponentially and
// never end the loop.
func (w *EventWatcher) Run(ctx context.Context) error {
	if err := w.initCursor(); err != nil {
		return err
	}

	delay := w.cfg.PollInterval
	for {
		if err := w.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("event poll failed", "cache_key", w.cfg.CacheKey, "error", err, "retry_in", delay)
			delay = delay * 2
			if delay > maxPollBackoff {
				delay = maxPollBackoff
			}
		} else {
			delay = w.cfg.PollInterval
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (w *EventWatcher) initCursor() error {
	cached, err := w.cache.Get(w.cfg.CacheKey)
	if err != nil {
		return err
	}
	if cached == 0 && w.cfg.StartBlock > 1 {
		return w.cache.Set(w.cfg.CacheKey, w.cfg.StartBlock-1)
	}
	return nil
}

// poll processes one confirmed block range. The cursor advances only past
// blocks whose events were all handled, so a failing handler causes the
// remainder of the range to be redelivered.
func (w *EventWatcher) poll(ctx context.Context) error {
	head, err := w.client.CurrentHead(ctx)
	if err != nil {
		return err
	}
	if head < w.cfg.ConfirmationDepth {
		return nil
	}
	safeHead := head - w.cfg.ConfirmationDepth

	cached, err := w.cache.Get(w.cfg.CacheKey)
	if err != nil {
		return err
	}
	from := cached + 1
	if from > safeHead {
		return nil
	}

	to := safeHead
	if to-from+1 > w.cfg.MaxBlocksPerPoll {
		to = from + w.cfg.MaxBlocksPerPoll - 1
	}

	logs, err := w.client.FilterLogs(ctx, from, to)
	if err != nil {
		return err
	}

	events := make([]*chainio.Event, 0, len(logs))
	for _, l := range logs {
		ev, err := chainio.DecodeLog(l)
		if err != nil {
			// logs from the hub address we do not care about
			w.logger.Debug("skipping log", "block", l.BlockNumber, "index", l.Index, "error", err)
			continue
		}
		events = append(events, ev)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Before(events[j]) })

	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if w.alreadySeen(ev) {
			continue
		}
		if err := w.deliver(ctx, ev); err != nil {
			// resume at the failing block next poll
			if ev.BlockNumber > 0 {
				if cacheErr := w.cache.Set(w.cfg.CacheKey, ev.BlockNumber-1); cacheErr != nil {
					w.logger.Error("cannot record partial progress", "error", cacheErr)
				}
			}
			return fmt.Errorf("handler failed for %s at %s: %w", ev.Name, ev.Key(), err)
		}
		w.markSeen(ev)
		w.metrics.IncEventsDelivered(ev.Name)
	}

	if err := w.cache.Set(w.cfg.CacheKey, to); err != nil {
		return err
	}
	w.metrics.SetLastProcessedBlock(to)
	return nil
}

func (w *EventWatcher) deliver(ctx context.Context, ev *chainio.Event) error {
	for _, sub := range w.subs {
		if sub.event != ev.Name {
			continue
		}
		if sub.filter != nil && !sub.filter(ev) {
			continue
		}
		if err := sub.handler(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func (w *EventWatcher) alreadySeen(ev *chainio.Event) bool {
	if w.seen == nil {
		return false
	}
	_, err := w.seen.Get(ev.Key())
	return err == nil
}

func (w *EventWatcher) markSeen(ev *chainio.Event) {
	if w.seen == nil {
		return
	}
	if err := w.seen.Set(ev.Key(), []byte{1}); err != nil {
		w.logger.Error("cannot mark event seen", "key", ev.Key(), "error", err)
	}
}
