// Package pgxstore is the Postgres-backed repository.Store implementation,
// reading the review_rules table (id, name, enabled, priority, block, fid,
// target_type, trigger jsonb, actions jsonb, created_at, updated_at) via
// pgx's connection pool.
package pgxstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bittoy/reviewpipe/internal/types"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const selectColumns = `id, name, enabled, priority, block, fid, target_type, trigger, actions`

// LoadEnabled loads every rule with enabled = true. Rules whose trigger
// JSON fails to decode are skipped by scanRules, so one malformed row does
// not fail the load; the decode error is not logged.
func (s *Store) LoadEnabled(ctx context.Context) ([]*types.Rule, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+selectColumns+` FROM review_rules WHERE enabled = true`)
	if err != nil {
		return nil, fmt.Errorf("pgxstore: load enabled: %w", err)
	}
	defer rows.Close()
	return scanRules(rows)
}

// LoadByID loads a single rule, returning (nil, nil) if it doesn't exist.
func (s *Store) LoadByID(ctx context.Context, id int64) (*types.Rule, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+selectColumns+` FROM review_rules WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("pgxstore: load rule %d: %w", id, err)
	}
	defer rows.Close()
	rules, err := scanRules(rows)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, nil
	}
	return rules[0], nil
}

// MaxUpdatedAt returns the most recent updated_at across all rules. The
// second return is false when the table is empty.
func (s *Store) MaxUpdatedAt(ctx context.Context) (time.Time, bool, error) {
	var max *time.Time
	err := s.pool.QueryRow(ctx, `SELECT MAX(updated_at) FROM review_rules`).Scan(&max)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("pgxstore: max updated_at: %w", err)
	}
	if max == nil {
		return time.Time{}, false, nil
	}
	return *max, true, nil
}

func scanRules(rows pgx.Rows) ([]*types.Rule, error) {
	var out []*types.Rule
	for rows.Next() {
		var (
			id         int64
			name       string
			enabled    bool
			priority   int
			block      bool
			fid        int64
			targetType string
			triggerRaw []byte
			actionsRaw []byte
		)
		if err := rows.Scan(&id, &name, &enabled, &priority, &block, &fid, &targetType, &triggerRaw, &actionsRaw); err != nil {
			return nil, fmt.Errorf("pgxstore: scan row: %w", err)
		}
		trigger, err := types.DecodeRuleNode(triggerRaw)
		if err != nil {
			continue
		}
		out = append(out, &types.Rule{
			ID:         id,
			Name:       name,
			Enabled:    enabled,
			Priority:   priority,
			Block:      block,
			Fid:        fid,
			TargetType: types.Kind(targetType),
			Trigger:    trigger,
			Actions:    json.RawMessage(actionsRaw),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgxstore: iterate rows: %w", err)
	}
	return out, nil
}

