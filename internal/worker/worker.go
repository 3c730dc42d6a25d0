// Package worker runs one consumer-group reader per fid against its
// review-event stream, matches each event against that fid's active
// rules, and hands matches to a Dispatcher. Manager (manager.go, in this
// same package) reconciles the set of running workers against the repository's
// active fids.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/bittoy/reviewpipe/internal/engine"
	"github.com/bittoy/reviewpipe/internal/types"
)

// StreamEntry is one message read off a stream: an opaque ID the Stream
// implementation understands for Ack/XAutoClaim bookkeeping, and the
// "data" field payload.
type StreamEntry struct {
	ID   string
	Data string
}

// Stream is the Redis-Streams surface a Worker needs. internal/redisbroker
// provides the concrete implementation; tests use a fake.
type Stream interface {
	EnsureGroup(ctx context.Context) error
	ReadGroup(ctx context.Context, count int64, block time.Duration) ([]StreamEntry, error)
	Ack(ctx context.Context, id string) error
	AutoClaim(ctx context.Context, minIdle time.Duration, count int64) ([]StreamEntry, error)
}

// Repository is the read-only rule lookup surface a Worker needs.
type Repository interface {
	Query(fid int64, targetType types.Kind) []*types.Rule
}

// Dispatcher is the downstream sink for a matched event.
type Dispatcher interface {
	Dispatch(ctx context.Context, fid int64, obj types.ContentObject, matched []*types.Rule, fnResults map[string]any)
}

// incomingEvent is the wire shape a stream entry's "data" field decodes
// into: an object_type/payload pair, matching the original system's
// message schema.
type incomingEvent struct {
	ObjectType string          `json:"object_type"`
	Payload    json.RawMessage `json:"payload"`
}

type state int32

const (
	stateCreated state = iota
	stateRunning
	stateStopping
	stateStopped
)

// Worker consumes one fid's stream, bounded to Concurrency concurrent
// in-flight matches via a semaphore, and recovers stale pending entries
// through periodic XAUTOCLAIM when recovery is enabled.
type Worker struct {
	fid        int64
	stream     Stream
	repo       Repository
	engine     *engine.Engine
	dispatcher Dispatcher
	logger     types.Logger

	batchSize       int64
	concurrency     int
	recoveryEnabled bool
	recoveryEvery   time.Duration
	minIdleTime     time.Duration

	state  atomic.Int32
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

type Config struct {
	Fid             int64
	BatchSize       int64
	Concurrency     int
	RecoveryEnabled bool
	RecoveryEvery   time.Duration
	MinIdleTime     time.Duration
}

func New(cfg Config, stream Stream, repo Repository, eng *engine.Engine, dispatcher Dispatcher, logger types.Logger) *Worker {
	if logger == nil {
		logger = types.NopLogger{}
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	w := &Worker{
		fid:             cfg.Fid,
		stream:          stream,
		repo:            repo,
		engine:          eng,
		dispatcher:      dispatcher,
		logger:          logger,
		batchSize:       cfg.BatchSize,
		concurrency:     cfg.Concurrency,
		recoveryEnabled: cfg.RecoveryEnabled,
		recoveryEvery:   cfg.RecoveryEvery,
		minIdleTime:     cfg.MinIdleTime,
		sem:             semaphore.NewWeighted(int64(cfg.Concurrency)),
	}
	w.state.Store(int32(stateCreated))
	return w
}

// Run blocks, consuming the stream until ctx is cancelled or Stop is
// called. Safe to call exactly once per Worker.
func (w *Worker) Run(ctx context.Context) error {
	if !w.state.CompareAndSwap(int32(stateCreated), int32(stateRunning)) {
		return fmt.Errorf("worker: fid %d already running or stopped", w.fid)
	}
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	if err := w.stream.EnsureGroup(ctx); err != nil {
		w.state.Store(int32(stateStopped))
		return fmt.Errorf("worker: fid %d ensure group: %w", w.fid, err)
	}

	if w.recoveryEnabled {
		w.wg.Add(1)
		go w.recoveryLoop(ctx)
	}

	w.logger.Infof("worker: fid %d started", w.fid)
	for {
		if state(w.state.Load()) != stateRunning {
			break
		}
		select {
		case <-ctx.Done():
			goto stopped
		default:
		}
		entries, err := w.stream.ReadGroup(ctx, w.batchSize, time.Second)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			w.logger.Errorf("worker: fid %d read group: %v", w.fid, err)
			time.Sleep(time.Second)
			continue
		}
		for _, entry := range entries {
			w.dispatchEntry(ctx, entry)
		}
	}
stopped:
	w.wg.Wait()
	w.state.Store(int32(stateStopped))
	w.logger.Infof("worker: fid %d stopped", w.fid)
	return nil
}

// Stop requests the worker to stop its main loop and recovery goroutine.
// It does not block; callers wanting to wait for shutdown should wait on
// the goroutine running Run.
func (w *Worker) Stop() {
	w.state.CompareAndSwap(int32(stateRunning), int32(stateStopping))
	if w.cancel != nil {
		w.cancel()
	}
}

func (w *Worker) dispatchEntry(ctx context.Context, entry StreamEntry) {
	if err := w.sem.Acquire(ctx, 1); err != nil {
		// ctx is already done; the main loop is about to exit anyway.
		return
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.sem.Release(1)
		w.processEntry(ctx, entry)
	}()
}

func (w *Worker) processEntry(ctx context.Context, entry StreamEntry) {
	obj, objectType, err := decodeEntry(entry.Data)
	if err != nil {
		w.logger.Warnf("worker: fid %d malformed entry %s: %v", w.fid, entry.ID, err)
		w.ack(ctx, entry.ID)
		return
	}

	rules := w.repo.Query(w.fid, objectType)
	matched, fnResults, err := w.engine.MatchAll(ctx, obj, rules)
	if err != nil {
		w.logger.Errorf("worker: fid %d match entry %s: %v", w.fid, entry.ID, err)
		w.ack(ctx, entry.ID)
		return
	}
	if len(matched) > 0 {
		w.dispatcher.Dispatch(ctx, w.fid, obj, matched, fnResults)
	}
	w.ack(ctx, entry.ID)
}

func (w *Worker) ack(ctx context.Context, id string) {
	if err := w.stream.Ack(ctx, id); err != nil {
		w.logger.Errorf("worker: fid %d ack %s: %v", w.fid, id, err)
	}
}

func (w *Worker) recoveryLoop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.recoveryEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			entries, err := w.stream.AutoClaim(ctx, w.minIdleTime, w.batchSize)
			if err != nil {
				w.logger.Errorf("worker: fid %d autoclaim: %v", w.fid, err)
				continue
			}
			if len(entries) == 0 {
				continue
			}
			w.logger.Infof("worker: fid %d recovered %d messages", w.fid, len(entries))
			for _, entry := range entries {
				w.dispatchEntry(ctx, entry)
			}
		}
	}
}

func decodeEntry(data string) (types.ContentObject, types.Kind, error) {
	var event incomingEvent
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return types.ContentObject{}, "", fmt.Errorf("decode envelope: %w", err)
	}
	kind := types.Kind(event.ObjectType)
	obj := types.ContentObject{Kind: kind}
	switch kind {
	case types.KindThread:
		var thread types.Thread
		if err := json.Unmarshal(event.Payload, &thread); err != nil {
			return types.ContentObject{}, "", fmt.Errorf("decode thread: %w", err)
		}
		obj.Thread = &thread
	case types.KindPost:
		var post types.Post
		if err := json.Unmarshal(event.Payload, &post); err != nil {
			return types.ContentObject{}, "", fmt.Errorf("decode post: %w", err)
		}
		obj.Post = &post
	case types.KindComment:
		var comment types.Comment
		if err := json.Unmarshal(event.Payload, &comment); err != nil {
			return types.ContentObject{}, "", fmt.Errorf("decode comment: %w", err)
		}
		obj.Comment = &comment
	default:
		var raw map[string]any
		if err := json.Unmarshal(event.Payload, &raw); err != nil {
			return types.ContentObject{}, "", fmt.Errorf("decode raw: %w", err)
		}
		obj.Raw = raw
	}
	return obj, kind, nil
}
