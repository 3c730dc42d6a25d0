// Package repository is the in-memory mirror of the rule table: every
// worker reads rules through a Repository instead of hitting Postgres
// directly, with background goroutines keeping the mirror convergent via a
// pub/sub change feed (fast path) and a periodic full poll (fallback,
// catching anything the pub/sub message was lost for).
package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bittoy/reviewpipe/internal/types"
)

// Store is the source of truth a Repository mirrors. internal/pgxstore
// provides the Postgres-backed implementation.
type Store interface {
	LoadEnabled(ctx context.Context) ([]*types.Rule, error)
	LoadByID(ctx context.Context, id int64) (*types.Rule, error)
	MaxUpdatedAt(ctx context.Context) (time.Time, bool, error)
}

// RuleChangeEvent is the shape published on the rule-change channel.
type RuleChangeEvent struct {
	Type   string `json:"type"` // "ADD", "UPDATE", or "DELETE"
	RuleID int64  `json:"rule_id"`
}

// Subscriber delivers rule-change notifications. internal/redisbroker
// implements it over a Redis pub/sub channel.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan RuleChangeEvent, error)
}

type scopeKey struct {
	fid        int64
	targetType types.Kind
}

// Repository holds the current rule set in memory, indexed for fast lookup
// by (fid, target_type), and keeps it in sync with Store in the
// background.
type Repository struct {
	store      Store
	subscriber Subscriber
	syncEvery  time.Duration
	logger     types.Logger

	mu           sync.RWMutex
	rules        map[int64]*types.Rule
	byScope      map[scopeKey][]*types.Rule
	lastSyncedAt time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(store Store, subscriber Subscriber, syncEvery time.Duration, logger types.Logger) *Repository {
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &Repository{
		store:      store,
		subscriber: subscriber,
		syncEvery:  syncEvery,
		logger:     logger,
		rules:      make(map[int64]*types.Rule),
		byScope:    make(map[scopeKey][]*types.Rule),
	}
}

// LoadInitial performs one full load from Store and returns its error, if
// any; it does not retry. Call once before StartSync, at process startup.
func (r *Repository) LoadInitial(ctx context.Context) error {
	r.logger.Infof("repository: loading rules from store")
	rules, err := r.store.LoadEnabled(ctx)
	if err != nil {
		return err
	}
	r.replaceAll(rules)
	r.logger.Infof("repository: loaded %d rules", len(rules))
	return nil
}

// StartSync launches the pub/sub listener and periodic poll goroutines.
// Calling it twice is a no-op.
func (r *Repository) StartSync(ctx context.Context) {
	if r.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	if r.subscriber != nil {
		r.wg.Add(1)
		go r.listenLoop(ctx)
	}
	r.wg.Add(1)
	go r.pollLoop(ctx)
	r.logger.Infof("repository: sync started")
}

// StopSync cancels both background goroutines and waits for them to exit.
func (r *Repository) StopSync() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	r.wg.Wait()
	r.cancel = nil
}

// Query returns the currently active rules for (fid, targetType), plus any
// rule scoped to KindAll for the same fid, sorted ascending by Priority.
// Ascending, not descending: lower Priority values are evaluated (and thus
// returned) first. This is the opposite of the source system's
// reverse=True sort — an intentional behavior change, not an oversight.
func (r *Repository) Query(fid int64, targetType types.Kind) []*types.Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specific := r.byScope[scopeKey{fid: fid, targetType: targetType}]
	all := r.byScope[scopeKey{fid: fid, targetType: types.KindAll}]
	if len(specific) == 0 {
		return append([]*types.Rule(nil), all...)
	}
	if len(all) == 0 {
		return append([]*types.Rule(nil), specific...)
	}

	merged := make([]*types.Rule, 0, len(specific)+len(all))
	merged = append(merged, specific...)
	merged = append(merged, all...)
	sort.Slice(merged, func(i, j int) bool { return rulesLess(merged[i], merged[j]) })
	return merged
}

// rulesLess orders by priority ascending, then id ascending, so that
// rebuilding the index from the same rule set always yields the same order
// regardless of the map iteration order it was built from.
func rulesLess(a, b *types.Rule) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.ID < b.ID
}

// ActiveFids returns every distinct fid with at least one enabled rule, for
// the worker manager's reconciliation loop.
func (r *Repository) ActiveFids() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[int64]struct{})
	for key := range r.byScope {
		seen[key.fid] = struct{}{}
	}
	fids := make([]int64, 0, len(seen))
	for fid := range seen {
		fids = append(fids, fid)
	}
	return fids
}

func (r *Repository) listenLoop(ctx context.Context) {
	defer r.wg.Done()
	for {
		events, err := r.subscriber.Subscribe(ctx)
		if err != nil {
			r.logger.Errorf("repository: subscribe failed: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
				continue
			}
		}
	listening:
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-events:
				if !ok {
					break listening
				}
				r.handleEvent(ctx, event)
			}
		}
	}
}

func (r *Repository) handleEvent(ctx context.Context, event RuleChangeEvent) {
	r.logger.Infof("repository: rule change event %s for rule %d", event.Type, event.RuleID)
	switch event.Type {
	case "DELETE":
		r.removeRule(event.RuleID)
	case "ADD", "UPDATE":
		rule, err := r.store.LoadByID(ctx, event.RuleID)
		if err != nil {
			r.logger.Errorf("repository: load rule %d: %v", event.RuleID, err)
			return
		}
		if rule == nil || !rule.Enabled {
			r.removeRule(event.RuleID)
			return
		}
		r.upsertRule(rule)
	}
}

func (r *Repository) pollLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.syncEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.poll(ctx)
		}
	}
}

func (r *Repository) poll(ctx context.Context) {
	maxUpdated, ok, err := r.store.MaxUpdatedAt(ctx)
	if err != nil {
		r.logger.Errorf("repository: poll max_updated_at: %v", err)
		return
	}
	if !ok {
		return
	}
	r.mu.RLock()
	stale := r.lastSyncedAt.IsZero() || maxUpdated.After(r.lastSyncedAt)
	r.mu.RUnlock()
	if !stale {
		return
	}
	rules, err := r.store.LoadEnabled(ctx)
	if err != nil {
		r.logger.Errorf("repository: poll load: %v", err)
		return
	}
	r.logger.Infof("repository: periodic sync refreshed %d rules", len(rules))
	r.replaceAll(rules)
}

func (r *Repository) replaceAll(rules []*types.Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = make(map[int64]*types.Rule, len(rules))
	for _, rule := range rules {
		r.rules[rule.ID] = rule
	}
	r.rebuildIndexLocked()
	r.lastSyncedAt = time.Now()
}

func (r *Repository) upsertRule(rule *types.Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[rule.ID] = rule
	r.rebuildIndexLocked()
}

func (r *Repository) removeRule(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rules[id]; !ok {
		return
	}
	delete(r.rules, id)
	r.rebuildIndexLocked()
}

// rebuildIndexLocked recomputes byScope from rules. Callers must hold mu.
func (r *Repository) rebuildIndexLocked() {
	byScope := make(map[scopeKey][]*types.Rule)
	for _, rule := range r.rules {
		key := scopeKey{fid: rule.Fid, targetType: rule.TargetType}
		byScope[key] = append(byScope[key], rule)
	}
	for key, rules := range byScope {
		// Ascending priority, id tie-break: see the Query doc comment above.
		sort.Slice(rules, func(i, j int) bool { return rulesLess(rules[i], rules[j]) })
		byScope[key] = rules
	}
	r.byScope = byScope
}
