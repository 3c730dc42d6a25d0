package worker

import (
	"context"
	"sync"
	"time"

	"github.com/bittoy/reviewpipe/internal/engine"
	"github.com/bittoy/reviewpipe/internal/types"
)

// FidSource reports which fids currently have active rules.
type FidSource interface {
	ActiveFids() []int64
}

// StreamFactory builds the Stream a new fid's Worker should consume from,
// typically a Redis stream keyed by "<base>:<fid>".
type StreamFactory func(fid int64) Stream

type runningWorker struct {
	worker *Worker
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager starts and stops per-fid Workers to track FidSource's active set,
// polling on an interval rather than reacting to every repository change
// immediately — matching the source system's reconciliation loop.
type Manager struct {
	fids        FidSource
	streams     StreamFactory
	repo        Repository
	engine      *engine.Engine
	dispatcher  Dispatcher
	logger      types.Logger
	workerCfg   Config
	reconcileEvery time.Duration

	mu     sync.Mutex
	active map[int64]*runningWorker
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(fids FidSource, streams StreamFactory, repo Repository, eng *engine.Engine, dispatcher Dispatcher, workerCfg Config, reconcileEvery time.Duration, logger types.Logger) *Manager {
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &Manager{
		fids:           fids,
		streams:        streams,
		repo:           repo,
		engine:         eng,
		dispatcher:     dispatcher,
		logger:         logger,
		workerCfg:      workerCfg,
		reconcileEvery: reconcileEvery,
		active:         make(map[int64]*runningWorker),
	}
}

// Start launches the reconciliation loop in the background.
func (m *Manager) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Add(1)
	go m.loop(ctx)
	m.logger.Infof("worker manager: started")
}

// Stop halts the reconciliation loop and every running worker, waiting for
// all of them to exit before returning.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()

	m.mu.Lock()
	workers := m.active
	m.active = make(map[int64]*runningWorker)
	m.mu.Unlock()

	for fid, rw := range workers {
		m.logger.Infof("worker manager: stopping worker for fid %d", fid)
		rw.worker.Stop()
		rw.cancel()
		<-rw.done
	}
}

func (m *Manager) loop(ctx context.Context) {
	defer m.wg.Done()
	m.reconcile(ctx)
	ticker := time.NewTicker(m.reconcileEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reconcile(ctx)
		}
	}
}

func (m *Manager) reconcile(ctx context.Context) {
	active := make(map[int64]struct{})
	for _, fid := range m.fids.ActiveFids() {
		active[fid] = struct{}{}
	}

	m.mu.Lock()
	var toRemove []int64
	for fid := range m.active {
		if _, ok := active[fid]; !ok {
			toRemove = append(toRemove, fid)
		}
	}
	var toAdd []int64
	for fid := range active {
		if _, ok := m.active[fid]; !ok {
			toAdd = append(toAdd, fid)
		}
	}
	m.mu.Unlock()

	for _, fid := range toRemove {
		m.stopWorker(fid)
	}
	for _, fid := range toAdd {
		m.startWorker(ctx, fid)
	}
}

func (m *Manager) startWorker(ctx context.Context, fid int64) {
	m.logger.Infof("worker manager: starting worker for fid %d", fid)
	cfg := m.workerCfg
	cfg.Fid = fid
	w := New(cfg, m.streams(fid), m.repo, m.engine, m.dispatcher, m.logger)

	workerCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.mu.Lock()
	m.active[fid] = &runningWorker{worker: w, cancel: cancel, done: done}
	m.mu.Unlock()

	go func() {
		defer close(done)
		if err := w.Run(workerCtx); err != nil {
			m.logger.Errorf("worker manager: worker for fid %d exited: %v", fid, err)
		}
	}()
}

func (m *Manager) stopWorker(fid int64) {
	m.mu.Lock()
	rw, ok := m.active[fid]
	if ok {
		delete(m.active, fid)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	m.logger.Infof("worker manager: no active rules for fid %d, stopping worker", fid)
	rw.worker.Stop()
	rw.cancel()
	// Don't block the reconciliation loop waiting for the worker to drain;
	// it cleans up in the background, matching the source manager's
	// deliberate non-blocking task.cancel() on removal.
}
