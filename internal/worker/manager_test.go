package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bittoy/reviewpipe/internal/engine"
)

type fakeFidSource struct {
	mu   sync.Mutex
	fids []int64
}

func (f *fakeFidSource) ActiveFids() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.fids...)
}

func (f *fakeFidSource) set(fids ...int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fids = fids
}

func TestManager_ReconcileStartsAndStopsWorkersPerFid(t *testing.T) {
	fids := &fakeFidSource{}
	repo := &fakeRepo{}
	dispatcher := &fakeDispatcher{}
	streams := func(fid int64) Stream { return &fakeStream{} }

	m := NewManager(fids, streams, repo, engine.New(), dispatcher, Config{Concurrency: 1}, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fids.set(1, 2)
	m.Start(ctx)

	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return len(m.active) == 2
	}, time.Second, 5*time.Millisecond, "manager should start a worker per active fid")

	fids.set(2)
	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		_, has1 := m.active[1]
		_, has2 := m.active[2]
		return !has1 && has2
	}, time.Second, 5*time.Millisecond, "manager should stop the worker for a fid that lost its rules")

	m.Stop()
	assert.Empty(t, m.active)
}
