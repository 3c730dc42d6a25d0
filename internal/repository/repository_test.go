package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bittoy/reviewpipe/internal/types"
)

type fakeStore struct {
	mu    sync.Mutex
	rules map[int64]*types.Rule
	max   time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{rules: make(map[int64]*types.Rule)}
}

func (s *fakeStore) put(r *types.Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[r.ID] = r
	s.max = s.max.Add(time.Second)
}

func (s *fakeStore) LoadEnabled(ctx context.Context) ([]*types.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Rule
	for _, r := range s.rules {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeStore) LoadByID(ctx context.Context, id int64) (*types.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rules[id], nil
}

func (s *fakeStore) MaxUpdatedAt(ctx context.Context) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.max, !s.max.IsZero(), nil
}

func trigger() types.RuleNode {
	return &types.RuleGroup{Logic: types.LogicAnd, Conditions: []types.RuleNode{
		&types.Condition{Field: types.FieldSelector{Path: "content"}, Operator: types.OpContains, Value: "x"},
	}}
}

func TestRepository_QueryOrdersByAscendingPriority(t *testing.T) {
	store := newFakeStore()
	store.put(&types.Rule{ID: 1, Enabled: true, Priority: 20, Fid: 7, TargetType: types.KindPost, Trigger: trigger()})
	store.put(&types.Rule{ID: 2, Enabled: true, Priority: 5, Fid: 7, TargetType: types.KindPost, Trigger: trigger()})
	store.put(&types.Rule{ID: 3, Enabled: true, Priority: 10, Fid: 7, TargetType: types.KindPost, Trigger: trigger()})

	repo := New(store, nil, time.Hour, nil)
	require.NoError(t, repo.LoadInitial(context.Background()))

	rules := repo.Query(7, types.KindPost)
	require.Len(t, rules, 3)
	assert.Equal(t, []int64{2, 3, 1}, []int64{rules[0].ID, rules[1].ID, rules[2].ID})
}

func TestRepository_QueryBreaksEqualPriorityTiesByID(t *testing.T) {
	store := newFakeStore()
	// Inserted out of id order so map iteration can't accidentally produce
	// the right answer; only the id tie-break should.
	store.put(&types.Rule{ID: 3, Enabled: true, Priority: 1, Fid: 7, TargetType: types.KindPost, Trigger: trigger()})
	store.put(&types.Rule{ID: 1, Enabled: true, Priority: 1, Fid: 7, TargetType: types.KindPost, Trigger: trigger()})
	store.put(&types.Rule{ID: 2, Enabled: true, Priority: 1, Fid: 7, TargetType: types.KindPost, Trigger: trigger()})

	repo := New(store, nil, time.Hour, nil)
	require.NoError(t, repo.LoadInitial(context.Background()))

	rules := repo.Query(7, types.KindPost)
	require.Len(t, rules, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{rules[0].ID, rules[1].ID, rules[2].ID})
}

func TestRepository_QueryMergesScopeSpecificAndAllTargetType(t *testing.T) {
	store := newFakeStore()
	store.put(&types.Rule{ID: 1, Enabled: true, Priority: 1, Fid: 7, TargetType: types.KindPost, Trigger: trigger()})
	store.put(&types.Rule{ID: 2, Enabled: true, Priority: 2, Fid: 7, TargetType: types.KindAll, Trigger: trigger()})
	store.put(&types.Rule{ID: 3, Enabled: true, Priority: 1, Fid: 9, TargetType: types.KindPost, Trigger: trigger()})

	repo := New(store, nil, time.Hour, nil)
	require.NoError(t, repo.LoadInitial(context.Background()))

	rules := repo.Query(7, types.KindPost)
	require.Len(t, rules, 2)

	fids := repo.ActiveFids()
	assert.ElementsMatch(t, []int64{7, 9}, fids)
}

func TestRepository_HandleEventDeleteRemovesRule(t *testing.T) {
	store := newFakeStore()
	store.put(&types.Rule{ID: 1, Enabled: true, Priority: 1, Fid: 7, TargetType: types.KindPost, Trigger: trigger()})

	repo := New(store, nil, time.Hour, nil)
	require.NoError(t, repo.LoadInitial(context.Background()))
	require.Len(t, repo.Query(7, types.KindPost), 1)

	repo.handleEvent(context.Background(), RuleChangeEvent{Type: "DELETE", RuleID: 1})
	assert.Empty(t, repo.Query(7, types.KindPost))
}

func TestRepository_HandleEventDisabledRuleIsRemoved(t *testing.T) {
	store := newFakeStore()
	store.put(&types.Rule{ID: 1, Enabled: true, Priority: 1, Fid: 7, TargetType: types.KindPost, Trigger: trigger()})

	repo := New(store, nil, time.Hour, nil)
	require.NoError(t, repo.LoadInitial(context.Background()))

	store.rules[1].Enabled = false
	repo.handleEvent(context.Background(), RuleChangeEvent{Type: "UPDATE", RuleID: 1})
	assert.Empty(t, repo.Query(7, types.KindPost))
}
