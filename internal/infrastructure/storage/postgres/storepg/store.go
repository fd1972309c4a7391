// Package storepg is the Postgres implementation of the Store port: a
// FOR UPDATE SKIP LOCKED scan idiom drives scan_wa/scan_in_progress, and
// retry/status bookkeeping lives in the WAL entry's outcome/walState
// columns.
package storepg

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"orchestrator/internal/core/apperror"
	"orchestrator/internal/core/orc"
	"orchestrator/internal/core/store"
	pg "orchestrator/internal/infrastructure/storage/postgres"
)

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// Store is the Postgres store.Store adapter. It schedules its work
// through the shared TxManager so callers (the Orchestrator's submit
// path, the Runtime's dispatch step) can compose it with other writes
// in a single transaction when needed.
type Store struct {
	tx *pg.TxManager
}

// NewStore builds a Store bound to tx.
func NewStore(tx *pg.TxManager) *Store {
	return &Store{tx: tx}
}

type dbOperation struct {
	OpId         string `db:"op_id"`
	CurrentState string `db:"current_state"`
	Version      int64  `db:"version"`
}

type dbWalEntry struct {
	OpId                 string  `db:"op_id"`
	OutcomeKind          string  `db:"outcome_kind"`
	Message              *string `db:"message"`
	ProviderTxnID        *string `db:"provider_txn_id"`
	ResultPayload        []byte  `db:"result_payload"`
	Reason               *string `db:"reason"`
	AttemptCount         *int    `db:"attempt_count"`
	NextRetryAfterMillis *int64  `db:"next_retry_after_millis"`
	ErrorCode            *string `db:"error_code"`
	Cause                *string `db:"cause"`
	WalState             string  `db:"wal_state"`
	OccurredAt           int64   `db:"occurred_at"`
}

type dbEnvelope struct {
	OpId       string `db:"op_id"`
	Domain     string `db:"domain"`
	EventType  string `db:"event_type"`
	BizKey     string `db:"biz_key"`
	IdemKey    string `db:"idem_key"`
	Payload    []byte `db:"payload"`
	AcceptedAt int64  `db:"accepted_at"`
}

// walInsertRow mirrors dbWalEntry's column set via "db" tags so
// postgres.StructToMap (a generic struct/row reflection helper) can
// turn an Outcome into a full INSERT column set
// — every column always present, NULL where the Outcome's variant
// leaves it unset — which the ON CONFLICT ... EXCLUDED.col suffix below
// requires (referencing an EXCLUDED column absent from the INSERT's
// column list is a SQL error).
type walInsertRow struct {
	OpId                 string  `db:"op_id"`
	OutcomeKind          string  `db:"outcome_kind"`
	Message              *string `db:"message"`
	ProviderTxnID        *string `db:"provider_txn_id"`
	ResultPayload        []byte  `db:"result_payload"`
	Reason               *string `db:"reason"`
	AttemptCount         *int    `db:"attempt_count"`
	NextRetryAfterMillis *int64  `db:"next_retry_after_millis"`
	ErrorCode            *string `db:"error_code"`
	Cause                *string `db:"cause"`
	WalState             string  `db:"wal_state"`
	OccurredAt           int64   `db:"occurred_at"`
}

func outcomeToRow(opID orc.OpId, o orc.Outcome) map[string]any {
	r := walInsertRow{
		OpId:        string(opID),
		OutcomeKind: string(o.Kind),
		WalState:    string(orc.WalPending),
		OccurredAt:  orc.NowMillis(),
	}
	switch o.Kind {
	case orc.OutcomeOk:
		r.Message = &o.Message
		r.ProviderTxnID = &o.ProviderTxnID
		r.ResultPayload = []byte(o.ResultPayload)
	case orc.OutcomeRetry:
		r.Reason = &o.Reason
		r.AttemptCount = &o.AttemptCount
		r.NextRetryAfterMillis = &o.NextRetryAfterMillis
	case orc.OutcomeFail:
		r.ErrorCode = &o.ErrorCode
		r.Message = &o.Message
		if o.Cause != nil {
			cause := o.Cause.Error()
			r.Cause = &cause
		}
	}
	return pg.StructToMap(r)
}

func rowToOutcome(r dbWalEntry) orc.Outcome {
	switch orc.OutcomeKind(r.OutcomeKind) {
	case orc.OutcomeOk:
		msg, txn := "", ""
		if r.Message != nil {
			msg = *r.Message
		}
		if r.ProviderTxnID != nil {
			txn = *r.ProviderTxnID
		}
		return orc.Ok(msg, txn, r.ResultPayload)
	case orc.OutcomeRetry:
		reason := ""
		if r.Reason != nil {
			reason = *r.Reason
		}
		attempts, next := 1, int64(0)
		if r.AttemptCount != nil {
			attempts = *r.AttemptCount
		}
		if r.NextRetryAfterMillis != nil {
			next = *r.NextRetryAfterMillis
		}
		return orc.Retry(reason, attempts, next)
	default:
		code, msg := "", ""
		if r.ErrorCode != nil {
			code = *r.ErrorCode
		}
		if r.Message != nil {
			msg = *r.Message
		}
		var cause error
		if r.Cause != nil && *r.Cause != "" {
			cause = errors.New(*r.Cause)
		}
		return orc.Fail(code, msg, cause)
	}
}

func (s *Store) CreatePending(ctx context.Context, env orc.Envelope) error {
	return s.tx.RunInTransaction(ctx, func(ctx context.Context) error {
		q := s.tx.GetQuerier(ctx)
		now := orc.NowMillis()

		opSQL, opArgs, err := psql.Insert("orc_operations").
			Columns("op_id", "current_state", "version", "created_at", "updated_at", "domain", "event_type", "biz_key", "idem_key").
			Values(string(env.OpId), string(orc.StatePending), 0, now, now,
				string(env.Command.Domain), string(env.Command.EventType), string(env.Command.BizKey), string(env.Command.IdemKey)).
			Suffix("ON CONFLICT (op_id) DO NOTHING").
			ToSql()
		if err != nil {
			return apperror.NewStoreIO(err)
		}
		if _, err := q.Exec(ctx, opSQL, opArgs...); err != nil {
			return apperror.NewStoreIO(fmt.Errorf("insert operation: %w", err))
		}

		envSQL, envArgs, err := psql.Insert("orc_envelopes").
			Columns("op_id", "domain", "event_type", "biz_key", "idem_key", "payload", "accepted_at").
			Values(string(env.OpId), string(env.Command.Domain), string(env.Command.EventType),
				string(env.Command.BizKey), string(env.Command.IdemKey), []byte(env.Command.Payload), env.AcceptedAt).
			Suffix("ON CONFLICT (op_id) DO NOTHING").
			ToSql()
		if err != nil {
			return apperror.NewStoreIO(err)
		}
		if _, err := q.Exec(ctx, envSQL, envArgs...); err != nil {
			return apperror.NewStoreIO(fmt.Errorf("insert envelope: %w", err))
		}
		return nil
	})
}

func (s *Store) TransitionToInProgress(ctx context.Context, opID orc.OpId) error {
	q := s.tx.GetQuerier(ctx)

	sql, args, err := psql.Update("orc_operations").
		Set("current_state", string(orc.StateInProgress)).
		Set("version", squirrel.Expr("version + 1")).
		Set("updated_at", orc.NowMillis()).
		Where(squirrel.Eq{"op_id": string(opID), "current_state": string(orc.StatePending)}).
		ToSql()
	if err != nil {
		return apperror.NewStoreIO(err)
	}

	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return apperror.NewStoreIO(fmt.Errorf("transition to in_progress: %w", err))
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	state, err := s.GetState(ctx, opID)
	if err != nil {
		return err
	}
	if state == orc.StateInProgress {
		return nil
	}
	if state.IsTerminal() {
		return apperror.NewAlreadyTerminal(string(opID))
	}
	return apperror.NewConcurrentUpdate(string(opID), 0)
}

func (s *Store) WriteAhead(ctx context.Context, opID orc.OpId, outcome orc.Outcome) error {
	q := s.tx.GetQuerier(ctx)
	row := outcomeToRow(opID, outcome)

	cols := make([]string, 0, len(row))
	vals := make([]any, 0, len(row))
	for k, v := range row {
		cols = append(cols, k)
		vals = append(vals, v)
	}

	sql, args, err := psql.Insert("orc_wal").
		Columns(cols...).
		Values(vals...).
		Suffix(`ON CONFLICT (op_id) DO UPDATE SET
			outcome_kind = EXCLUDED.outcome_kind,
			message = EXCLUDED.message,
			provider_txn_id = EXCLUDED.provider_txn_id,
			result_payload = EXCLUDED.result_payload,
			reason = EXCLUDED.reason,
			attempt_count = EXCLUDED.attempt_count,
			next_retry_after_millis = EXCLUDED.next_retry_after_millis,
			error_code = EXCLUDED.error_code,
			cause = EXCLUDED.cause,
			wal_state = ` + "'" + string(orc.WalPending) + "'" + `,
			occurred_at = EXCLUDED.occurred_at
		WHERE orc_wal.wal_state <> '` + string(orc.WalCompleted) + `'`).
		ToSql()
	if err != nil {
		return apperror.NewStoreIO(err)
	}
	if _, err := q.Exec(ctx, sql, args...); err != nil {
		return apperror.NewStoreIO(fmt.Errorf("write_ahead: %w", err))
	}
	return nil
}

func (s *Store) Finalize(ctx context.Context, opID orc.OpId, terminalState orc.OperationState) error {
	if !terminalState.IsTerminal() {
		return apperror.NewInvalidInput("finalize requires a terminal target state")
	}

	return s.tx.RunInTransactionWithOptions(ctx, pg.SerializableTxOptions(), func(ctx context.Context) error {
		q := s.tx.GetQuerier(ctx)

		var op dbOperation
		err := pgxscan.Get(ctx, q, &op, `
			SELECT op_id, current_state, version FROM orc_operations WHERE op_id = $1 FOR UPDATE
		`, string(opID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperror.NewNotFound("operation", opID)
			}
			return apperror.NewStoreIO(fmt.Errorf("select operation for finalize: %w", err))
		}
		if orc.OperationState(op.CurrentState).IsTerminal() {
			return apperror.NewAlreadyTerminal(string(opID))
		}

		updSQL, updArgs, err := psql.Update("orc_operations").
			Set("current_state", string(terminalState)).
			Set("version", squirrel.Expr("version + 1")).
			Set("updated_at", orc.NowMillis()).
			Where(squirrel.Eq{"op_id": string(opID), "version": op.Version}).
			ToSql()
		if err != nil {
			return apperror.NewStoreIO(err)
		}
		tag, err := q.Exec(ctx, updSQL, updArgs...)
		if err != nil {
			return apperror.NewStoreIO(fmt.Errorf("update operation state: %w", err))
		}
		if tag.RowsAffected() == 0 {
			return apperror.NewConcurrentUpdate(string(opID), int(op.Version))
		}

		if _, err := q.Exec(ctx, `UPDATE orc_wal SET wal_state = $1 WHERE op_id = $2`,
			string(orc.WalCompleted), string(opID)); err != nil {
			return apperror.NewStoreIO(fmt.Errorf("mark wal completed: %w", err))
		}
		return nil
	})
}

func (s *Store) ScanWA(ctx context.Context, walState orc.WalState, batchSize int) ([]orc.OpId, error) {
	q := s.tx.GetQuerier(ctx)

	sql, args, err := psql.Select("op_id").
		From("orc_wal").
		Where(squirrel.Eq{"wal_state": string(walState)}).
		OrderBy("occurred_at ASC").
		Limit(uint64(batchSize)).
		Suffix("FOR UPDATE SKIP LOCKED").
		ToSql()
	if err != nil {
		return nil, apperror.NewStoreIO(err)
	}

	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, apperror.NewStoreIO(fmt.Errorf("scan_wa: %w", err))
	}
	defer rows.Close()

	var ids []orc.OpId
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperror.NewStoreIO(err)
		}
		ids = append(ids, orc.OpId(id))
	}
	return ids, rows.Err()
}

func (s *Store) GetWriteAheadOutcome(ctx context.Context, opID orc.OpId) (orc.Outcome, error) {
	q := s.tx.GetQuerier(ctx)

	var entry dbWalEntry
	err := pgxscan.Get(ctx, q, &entry, `
		SELECT op_id, outcome_kind, message, provider_txn_id, result_payload,
		       reason, attempt_count, next_retry_after_millis, error_code, cause,
		       wal_state, occurred_at
		FROM orc_wal WHERE op_id = $1
	`, string(opID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return orc.Outcome{}, apperror.NewNotFound("wal_entry", opID)
		}
		return orc.Outcome{}, apperror.NewStoreIO(fmt.Errorf("get_write_ahead_outcome: %w", err))
	}
	return rowToOutcome(entry), nil
}

func (s *Store) ScanInProgress(ctx context.Context, timeoutThresholdMs int64, batchSize int) ([]orc.OpId, error) {
	q := s.tx.GetQuerier(ctx)
	now := orc.NowMillis()

	sql, args, err := psql.Select("o.op_id").
		From("orc_operations o").
		Join("orc_envelopes e ON o.op_id = e.op_id").
		Where(squirrel.Eq{"o.current_state": string(orc.StateInProgress)}).
		Where(squirrel.Expr("? - e.accepted_at > ?", now, timeoutThresholdMs)).
		OrderBy("e.accepted_at ASC").
		Limit(uint64(batchSize)).
		Suffix("FOR UPDATE OF o SKIP LOCKED").
		ToSql()
	if err != nil {
		return nil, apperror.NewStoreIO(err)
	}

	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, apperror.NewStoreIO(fmt.Errorf("scan_in_progress: %w", err))
	}
	defer rows.Close()

	var ids []orc.OpId
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperror.NewStoreIO(err)
		}
		ids = append(ids, orc.OpId(id))
	}
	return ids, rows.Err()
}

func (s *Store) GetEnvelope(ctx context.Context, opID orc.OpId) (orc.Envelope, error) {
	q := s.tx.GetQuerier(ctx)

	var e dbEnvelope
	err := pgxscan.Get(ctx, q, &e, `
		SELECT op_id, domain, event_type, biz_key, idem_key, payload, accepted_at
		FROM orc_envelopes WHERE op_id = $1
	`, string(opID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return orc.Envelope{}, apperror.NewNotFound("envelope", opID)
		}
		return orc.Envelope{}, apperror.NewStoreIO(fmt.Errorf("get_envelope: %w", err))
	}

	return orc.Envelope{
		OpId: orc.OpId(e.OpId),
		Command: orc.Command{
			Domain:    orc.Domain(e.Domain),
			EventType: orc.EventType(e.EventType),
			BizKey:    orc.BizKey(e.BizKey),
			IdemKey:   orc.IdemKey(e.IdemKey),
			Payload:   e.Payload,
		},
		AcceptedAt: e.AcceptedAt,
	}, nil
}

func (s *Store) GetState(ctx context.Context, opID orc.OpId) (orc.OperationState, error) {
	q := s.tx.GetQuerier(ctx)

	var state string
	err := q.QueryRow(ctx, `SELECT current_state FROM orc_operations WHERE op_id = $1`, string(opID)).Scan(&state)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", apperror.NewNotFound("operation", opID)
		}
		return "", apperror.NewStoreIO(fmt.Errorf("get_state: %w", err))
	}
	return orc.OperationState(state), nil
}

var _ store.Store = (*Store)(nil)
