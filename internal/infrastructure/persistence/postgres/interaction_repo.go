package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dentameet/matching-engine/internal/domain/interaction"
	"github.com/dentameet/matching-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// INTERACTION LEDGER IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

const interactionDomain = "interaction"

const interactionColumns = `id, pair_key, initiator_id, responder_id, initiator_liked,
		responder_liked, responder_acted, is_mutual, created_at, updated_at`

// InteractionRepository implements interaction.Repository for PostgreSQL.
// Uniqueness of a pair is enforced by the pair_key constraint, and every
// decision runs under a row lock.
type InteractionRepository struct {
	conn *Connection
}

// NewInteractionRepository creates a new InteractionRepository.
func NewInteractionRepository(conn *Connection) *InteractionRepository {
	return &InteractionRepository{conn: conn}
}

// Insert stores the first record of a pair.
func (r *InteractionRepository) Insert(ctx context.Context, rec *interaction.Record) error {
	query := `
		INSERT INTO interactions (
			id, pair_key, initiator_id, responder_id, initiator_liked,
			responder_liked, responder_acted, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.conn.Exec(ctx, query,
		rec.ID,
		string(rec.PairKey),
		string(rec.InitiatorID),
		string(rec.ResponderID),
		rec.InitiatorLiked,
		rec.ResponderLiked,
		rec.ResponderActed,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	return translate(interactionDomain, "Insert", err, nil)
}

// lockPairQuery holds the pair row until the transaction ends, so a
// concurrent decision on the same pair waits for this one.
const lockPairQuery = `SELECT ` + interactionColumns + ` FROM interactions WHERE pair_key = $1 FOR UPDATE`

// ApplyDecision locks the pair row, applies the decision and writes it back
// in one transaction.
func (r *InteractionRepository) ApplyDecision(
	ctx context.Context,
	key interaction.PairKey,
	actor shared.UserID,
	action interaction.Action,
	at time.Time,
) (*interaction.Record, bool, error) {
	var (
		rec       *interaction.Record
		wasMutual bool
	)

	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		current, err := scanRecord(tx.QueryRow(ctx, lockPairQuery, string(key)))
		if err != nil {
			return err
		}

		wasMutual = current.IsMutual
		if _, err := current.Apply(actor, action, at); err != nil {
			return err
		}

		updateQuery := `
			UPDATE interactions SET
				initiator_liked = $1,
				responder_liked = $2,
				responder_acted = $3,
				updated_at = $4
			WHERE pair_key = $5
			RETURNING ` + interactionColumns

		rec, err = scanRecord(tx.QueryRow(ctx, updateQuery,
			current.InitiatorLiked,
			current.ResponderLiked,
			current.ResponderActed,
			current.UpdatedAt,
			string(key),
		))
		return err
	})
	if err != nil {
		return nil, false, translate(interactionDomain, "ApplyDecision", err, shared.ErrPairNotFound)
	}
	return rec, wasMutual, nil
}

// GetByPairKey returns the pair record.
func (r *InteractionRepository) GetByPairKey(ctx context.Context, key interaction.PairKey) (*interaction.Record, error) {
	query := `SELECT ` + interactionColumns + ` FROM interactions WHERE pair_key = $1`

	rec, err := scanRecord(r.conn.QueryRow(ctx, query, string(key)))
	if err != nil {
		return nil, translate(interactionDomain, "GetByPairKey", err, shared.ErrPairNotFound)
	}
	return rec, nil
}

// Delete removes the pair record.
func (r *InteractionRepository) Delete(ctx context.Context, key interaction.PairKey) error {
	tag, err := r.conn.Exec(ctx, `DELETE FROM interactions WHERE pair_key = $1`, string(key))
	if err != nil {
		return translate(interactionDomain, "Delete", err, nil)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrPairNotFound
	}
	return nil
}

// ListByUser returns the user's records, newest first.
func (r *InteractionRepository) ListByUser(ctx context.Context, user shared.UserID, opts interaction.ListOptions) ([]*interaction.Record, error) {
	query := `
		SELECT ` + interactionColumns + `
		FROM interactions
		WHERE (initiator_id = $1 OR responder_id = $1)
		  AND ($2 = FALSE OR is_mutual)
		ORDER BY created_at DESC, pair_key
		LIMIT $3
	`

	// LIMIT NULL means no limit.
	var limit *int
	if opts.Limit > 0 {
		limit = &opts.Limit
	}

	rows, err := r.conn.Query(ctx, query, string(user), opts.OnlyMutual, limit)
	if err != nil {
		return nil, translate(interactionDomain, "ListByUser", err, nil)
	}
	defer rows.Close()

	records := make([]*interaction.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, shared.StoreError(interactionDomain, "ListByUser", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.StoreError(interactionDomain, "ListByUser", err)
	}
	return records, nil
}

// LinkedUserIDs returns everyone the user has a record with.
func (r *InteractionRepository) LinkedUserIDs(ctx context.Context, user shared.UserID) ([]shared.UserID, error) {
	query := `
		SELECT CASE WHEN initiator_id = $1 THEN responder_id ELSE initiator_id END
		FROM interactions
		WHERE initiator_id = $1 OR responder_id = $1
	`

	rows, err := r.conn.Query(ctx, query, string(user))
	if err != nil {
		return nil, translate(interactionDomain, "LinkedUserIDs", err, nil)
	}
	defer rows.Close()

	ids := make([]shared.UserID, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, shared.StoreError(interactionDomain, "LinkedUserIDs", err)
		}
		ids = append(ids, shared.UserID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, shared.StoreError(interactionDomain, "LinkedUserIDs", err)
	}
	return ids, nil
}

func scanRecord(row pgx.Row) (*interaction.Record, error) {
	var (
		rec                        interaction.Record
		pairKey, initiator, target string
	)

	err := row.Scan(
		&rec.ID,
		&pairKey,
		&initiator,
		&target,
		&rec.InitiatorLiked,
		&rec.ResponderLiked,
		&rec.ResponderActed,
		&rec.IsMutual,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.PairKey = interaction.PairKey(pairKey)
	rec.InitiatorID = shared.UserID(initiator)
	rec.ResponderID = shared.UserID(target)
	return &rec, nil
}
