package worker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bittoy/reviewpipe/internal/engine"
	"github.com/bittoy/reviewpipe/internal/types"
)

type fakeStream struct {
	mu         sync.Mutex
	pending    []StreamEntry
	claimed    []StreamEntry
	acked      []string
	groupErr   error
	claimCalls int
}

func (s *fakeStream) EnsureGroup(ctx context.Context) error { return s.groupErr }

func (s *fakeStream) ReadGroup(ctx context.Context, count int64, block time.Duration) ([]StreamEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pending
	s.pending = nil
	if len(out) == 0 {
		time.Sleep(time.Millisecond)
	}
	return out, nil
}

func (s *fakeStream) Ack(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acked = append(s.acked, id)
	return nil
}

func (s *fakeStream) AutoClaim(ctx context.Context, minIdle time.Duration, count int64) ([]StreamEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claimCalls++
	out := s.claimed
	s.claimed = nil
	return out, nil
}

type fakeRepo struct {
	rules []*types.Rule
}

func (r *fakeRepo) Query(fid int64, targetType types.Kind) []*types.Rule { return r.rules }
func (r *fakeRepo) ActiveFids() []int64                                   { return nil }

type fakeDispatcher struct {
	mu   sync.Mutex
	hits int
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, fid int64, obj types.ContentObject, matched []*types.Rule, fnResults map[string]any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hits++
}

func postEntry(id, content string) StreamEntry {
	payload, _ := json.Marshal(types.Post{ID: 1, Fid: 7, Content: content})
	data, _ := json.Marshal(struct {
		ObjectType string          `json:"object_type"`
		Payload    json.RawMessage `json:"payload"`
	}{ObjectType: "post", Payload: payload})
	return StreamEntry{ID: id, Data: string(data)}
}

func TestWorker_RecoveryClaimsAndProcessesStaleEntries(t *testing.T) {
	r := buildContainsRule("spam")
	repo := &fakeRepo{rules: []*types.Rule{r}}
	dispatcher := &fakeDispatcher{}
	stream := &fakeStream{claimed: []StreamEntry{postEntry("5-1", "buy spam now")}}

	w := New(Config{Fid: 7, BatchSize: 10, Concurrency: 2, RecoveryEnabled: true, RecoveryEvery: 5 * time.Millisecond, MinIdleTime: time.Millisecond},
		stream, repo, engine.New(), dispatcher, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = w.Run(ctx)

	stream.mu.Lock()
	defer stream.mu.Unlock()
	assert.GreaterOrEqual(t, stream.claimCalls, 1, "recovery loop must call AutoClaim at least once")
	assert.Contains(t, stream.acked, "5-1", "a recovered entry must be acked once processed")
}

func buildContainsRule(needle string) *types.Rule {
	return &types.Rule{
		ID: 1, Enabled: true, TargetType: types.KindPost,
		Trigger: &types.RuleGroup{Logic: types.LogicAnd, Conditions: []types.RuleNode{
			&types.Condition{Field: types.FieldSelector{Path: "content"}, Operator: types.OpContains, Value: needle},
		}},
	}
}

func TestWorker_ProcessEntryDispatchesOnMatch(t *testing.T) {
	r := buildContainsRule("spam")
	repo := &fakeRepo{rules: []*types.Rule{r}}
	dispatcher := &fakeDispatcher{}
	stream := &fakeStream{}

	w := New(Config{Fid: 7, BatchSize: 10, Concurrency: 2}, stream, repo, engine.New(), dispatcher, nil)
	w.processEntry(context.Background(), postEntry("1-1", "this is spam"))

	require.Contains(t, stream.acked, "1-1")
	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	assert.Equal(t, 1, dispatcher.hits)
}

func TestWorker_ProcessEntryAcksMalformedPayload(t *testing.T) {
	repo := &fakeRepo{}
	dispatcher := &fakeDispatcher{}
	stream := &fakeStream{}

	w := New(Config{Fid: 7}, stream, repo, engine.New(), dispatcher, nil)
	w.processEntry(context.Background(), StreamEntry{ID: "bad-1", Data: "not json"})

	assert.Contains(t, stream.acked, "bad-1")
	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	assert.Equal(t, 0, dispatcher.hits)
}
