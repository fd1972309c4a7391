package storepg

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"orchestrator/internal/core/apperror"
	"orchestrator/internal/core/id"
	"orchestrator/internal/core/idempotency"
	"orchestrator/internal/core/orc"
	pg "orchestrator/internal/infrastructure/storage/postgres"
)

// IdempotencyResolver is the Postgres IdempotencyManager adapter: it
// mints and caches an OpId behind the unique (domain, event_type,
// biz_key, idem_key) index, resolved race-free via INSERT ... ON
// CONFLICT DO UPDATE RETURNING (I5).
type IdempotencyResolver struct {
	tx *pg.TxManager
}

// NewIdempotencyResolver builds an IdempotencyResolver bound to tx.
func NewIdempotencyResolver(tx *pg.TxManager) *IdempotencyResolver {
	return &IdempotencyResolver{tx: tx}
}

// GetOrCreate implements idempotency.Resolver.
func (r *IdempotencyResolver) GetOrCreate(ctx context.Context, key orc.IdempotencyKey) (orc.OpId, error) {
	q := r.tx.GetQuerier(ctx)
	candidate := id.New().String()

	var opID string
	err := q.QueryRow(ctx, `
		INSERT INTO orc_idempotency_keys (domain, event_type, biz_key, idem_key, op_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (domain, event_type, biz_key, idem_key) DO UPDATE SET
			domain = orc_idempotency_keys.domain
		RETURNING op_id
	`, string(key.Domain), string(key.EventType), string(key.BizKey), string(key.IdemKey), candidate, orc.NowMillis()).Scan(&opID)
	if err != nil {
		return "", apperror.NewStoreIO(fmt.Errorf("get_or_create idempotency key: %w", err))
	}
	return orc.OpId(opID), nil
}

// Find implements idempotency.Resolver.
func (r *IdempotencyResolver) Find(ctx context.Context, key orc.IdempotencyKey) (orc.OpId, bool, error) {
	q := r.tx.GetQuerier(ctx)

	var opID string
	err := q.QueryRow(ctx, `
		SELECT op_id FROM orc_idempotency_keys
		WHERE domain = $1 AND event_type = $2 AND biz_key = $3 AND idem_key = $4
	`, string(key.Domain), string(key.EventType), string(key.BizKey), string(key.IdemKey)).Scan(&opID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, apperror.NewStoreIO(fmt.Errorf("find idempotency key: %w", err))
	}
	return orc.OpId(opID), true, nil
}

// CleanupTerminal deletes idempotency mappings older than retentionMs
// whose owning Operation is terminal — a storage-hygiene sweep, never a
// correctness one (I5: a live key never loses its OpId binding).
func (r *IdempotencyResolver) CleanupTerminal(ctx context.Context, retentionMs int64) (int64, error) {
	q := r.tx.GetQuerier(ctx)
	cutoff := orc.NowMillis() - retentionMs

	tag, err := q.Exec(ctx, `
		DELETE FROM orc_idempotency_keys k
		USING orc_operations o
		WHERE k.op_id = o.op_id
		  AND o.current_state IN ('COMPLETED', 'FAILED')
		  AND k.created_at < $1
	`, cutoff)
	if err != nil {
		return 0, apperror.NewStoreIO(fmt.Errorf("cleanup terminal idempotency keys: %w", err))
	}
	return tag.RowsAffected(), nil
}

var _ idempotency.Resolver = (*IdempotencyResolver)(nil)
