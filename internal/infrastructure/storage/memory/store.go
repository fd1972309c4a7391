package memory

import (
	"context"
	"sort"
	"sync"

	"orchestrator/internal/core/apperror"
	"orchestrator/internal/core/orc"
	"orchestrator/internal/core/store"
)

// Store is an in-process implementation of store.Store guarded by a
// single mutex. It satisfies the same transactional guarantees as the
// Postgres adapter (finalize is atomic, write_ahead is atomic) simply
// because every method holds the lock for its full body; it exists for
// tests and for running the demo binaries without a database.
type Store struct {
	mu         sync.Mutex
	operations map[orc.OpId]*store.Operation
	wal        map[orc.OpId]*store.WalEntry
	envelopes  map[orc.OpId]orc.Envelope
}

// NewStore builds an empty in-memory Store.
func NewStore() *Store {
	return &Store{
		operations: make(map[orc.OpId]*store.Operation),
		wal:        make(map[orc.OpId]*store.WalEntry),
		envelopes:  make(map[orc.OpId]orc.Envelope),
	}
}

func (s *Store) CreatePending(ctx context.Context, env orc.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.operations[env.OpId]; exists {
		return nil
	}

	now := orc.NowMillis()
	s.operations[env.OpId] = &store.Operation{
		OpId:           env.OpId,
		CurrentState:   orc.StatePending,
		Version:        0,
		CreatedAt:      now,
		UpdatedAt:      now,
		IdempotencyKey: env.Command.IdempotencyKey(),
	}
	s.envelopes[env.OpId] = env
	return nil
}

func (s *Store) TransitionToInProgress(ctx context.Context, opID orc.OpId) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.operations[opID]
	if !ok {
		return apperror.NewNotFound("operation", opID)
	}
	if op.CurrentState == orc.StateInProgress {
		return nil
	}
	if op.CurrentState.IsTerminal() {
		return apperror.NewAlreadyTerminal(string(opID))
	}
	op.CurrentState = orc.StateInProgress
	op.Version++
	op.UpdatedAt = orc.NowMillis()
	return nil
}

func (s *Store) WriteAhead(ctx context.Context, opID orc.OpId, outcome orc.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.wal[opID]
	if !ok {
		entry = &store.WalEntry{OpId: opID}
		s.wal[opID] = entry
	}
	if entry.WalState == orc.WalCompleted {
		// Runtime is required to check get_state before write_ahead on a
		// terminal operation; if it slips through anyway, preserve the
		// already-finalized WAL state rather than reopening it.
		return nil
	}
	entry.Outcome = outcome
	entry.WalState = orc.WalPending
	entry.OccurredAt = orc.NowMillis()
	return nil
}

func (s *Store) Finalize(ctx context.Context, opID orc.OpId, terminalState orc.OperationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.operations[opID]
	if !ok {
		return apperror.NewNotFound("operation", opID)
	}
	if op.CurrentState.IsTerminal() {
		return apperror.NewAlreadyTerminal(string(opID))
	}
	if !terminalState.IsTerminal() {
		return apperror.NewInvalidInput("finalize requires a terminal target state")
	}

	op.CurrentState = terminalState
	op.Version++
	op.UpdatedAt = orc.NowMillis()

	if entry, ok := s.wal[opID]; ok {
		entry.WalState = orc.WalCompleted
	}
	return nil
}

func (s *Store) ScanWA(ctx context.Context, walState orc.WalState, batchSize int) ([]orc.OpId, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matches := make([]*store.WalEntry, 0)
	for _, entry := range s.wal {
		if entry.WalState == walState {
			matches = append(matches, entry)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].OccurredAt < matches[j].OccurredAt })

	if batchSize > 0 && len(matches) > batchSize {
		matches = matches[:batchSize]
	}

	ids := make([]orc.OpId, len(matches))
	for i, m := range matches {
		ids[i] = m.OpId
	}
	return ids, nil
}

func (s *Store) GetWriteAheadOutcome(ctx context.Context, opID orc.OpId) (orc.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.wal[opID]
	if !ok {
		return orc.Outcome{}, apperror.NewNotFound("wal_entry", opID)
	}
	return entry.Outcome, nil
}

func (s *Store) ScanInProgress(ctx context.Context, timeoutThresholdMs int64, batchSize int) ([]orc.OpId, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := orc.NowMillis()
	type candidate struct {
		id         orc.OpId
		acceptedAt int64
	}
	matches := make([]candidate, 0)
	for id, op := range s.operations {
		if op.CurrentState != orc.StateInProgress {
			continue
		}
		env, ok := s.envelopes[id]
		if !ok {
			continue
		}
		if now-env.AcceptedAt > timeoutThresholdMs {
			matches = append(matches, candidate{id, env.AcceptedAt})
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].acceptedAt < matches[j].acceptedAt })

	if batchSize > 0 && len(matches) > batchSize {
		matches = matches[:batchSize]
	}

	ids := make([]orc.OpId, len(matches))
	for i, m := range matches {
		ids[i] = m.id
	}
	return ids, nil
}

func (s *Store) GetEnvelope(ctx context.Context, opID orc.OpId) (orc.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	env, ok := s.envelopes[opID]
	if !ok {
		return orc.Envelope{}, apperror.NewNotFound("envelope", opID)
	}
	return env, nil
}

func (s *Store) GetState(ctx context.Context, opID orc.OpId) (orc.OperationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.operations[opID]
	if !ok {
		return "", apperror.NewNotFound("operation", opID)
	}
	return op.CurrentState, nil
}
