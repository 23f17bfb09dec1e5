// Package memory provides in-process implementations of the profile store
// and the interaction ledger for single-instance deployments and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dentameet/matching-engine/internal/domain/interaction"
	"github.com/dentameet/matching-engine/internal/domain/shared"
)

// InteractionRepository implements interaction.Repository with a single
// mutex guarding the pair map. Every method is one critical section, so
// each write is atomic per pair.
type InteractionRepository struct {
	mu      sync.RWMutex
	records map[interaction.PairKey]*interaction.Record
}

// NewInteractionRepository creates an empty ledger.
func NewInteractionRepository() *InteractionRepository {
	return &InteractionRepository{
		records: make(map[interaction.PairKey]*interaction.Record),
	}
}

// Insert stores the first record of a pair.
func (r *InteractionRepository) Insert(ctx context.Context, rec *interaction.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[rec.PairKey]; ok {
		return shared.ErrPairExists
	}
	r.records[rec.PairKey] = rec.Clone()
	return nil
}

// ApplyDecision updates the acting side of an existing record.
func (r *InteractionRepository) ApplyDecision(
	ctx context.Context,
	key interaction.PairKey,
	actor shared.UserID,
	action interaction.Action,
	at time.Time,
) (*interaction.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.records[key]
	if !ok {
		return nil, false, shared.ErrPairNotFound
	}

	next := current.Clone()
	wasMutual := next.IsMutual
	if _, err := next.Apply(actor, action, at); err != nil {
		return nil, false, err
	}
	r.records[key] = next
	return next.Clone(), wasMutual, nil
}

// GetByPairKey returns a copy of the pair record.
func (r *InteractionRepository) GetByPairKey(ctx context.Context, key interaction.PairKey) (*interaction.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[key]
	if !ok {
		return nil, shared.ErrPairNotFound
	}
	return rec.Clone(), nil
}

// Delete removes the pair record.
func (r *InteractionRepository) Delete(ctx context.Context, key interaction.PairKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[key]; !ok {
		return shared.ErrPairNotFound
	}
	delete(r.records, key)
	return nil
}

// ListByUser returns the user's records, newest first.
func (r *InteractionRepository) ListByUser(ctx context.Context, user shared.UserID, opts interaction.ListOptions) ([]*interaction.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	out := make([]*interaction.Record, 0)
	for _, rec := range r.records {
		if !rec.Involves(user) {
			continue
		}
		if opts.OnlyMutual && !rec.IsMutual {
			continue
		}
		out = append(out, rec.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].PairKey < out[j].PairKey
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// LinkedUserIDs returns every counterpart the user has a record with.
func (r *InteractionRepository) LinkedUserIDs(ctx context.Context, user shared.UserID) ([]shared.UserID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]shared.UserID, 0)
	for _, rec := range r.records {
		if rec.Involves(user) {
			out = append(out, rec.Other(user))
		}
	}
	return out, nil
}

// Count returns the number of stored records.
func (r *InteractionRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
