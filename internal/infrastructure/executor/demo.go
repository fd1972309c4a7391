// Package executor provides a demo Executor implementation for the
// embedding application: it decodes a decimal-bearing payload.Amount and
// simulates a provider call, standing in for the kind of external
// side-effect the orchestrator exists to protect (a payment capture, a
// ledger post).
package executor

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	coreexecutor "orchestrator/internal/core/executor"
	"orchestrator/internal/core/orc"
	"orchestrator/internal/payload"
)

// ProviderCall is the external side-effect a DemoExecutor delegates to.
// A real embedding application supplies its own (a payment gateway SDK
// call, an HTTP request to a partner API); DemoExecutor's default just
// accepts anything with a non-negative amount.
type ProviderCall func(ctx context.Context, cmd orc.Command, amount payload.Amount) (providerTxnID string, err error)

// DemoExecutor adapts ProviderCall to executor.Executor, decoding the
// Command's Payload as a payload.Amount and converting the call's result
// into an Outcome.
type DemoExecutor struct {
	call ProviderCall
}

// NewDemoExecutor builds a DemoExecutor. A nil call uses AcceptAnyPositive.
func NewDemoExecutor(call ProviderCall) *DemoExecutor {
	if call == nil {
		call = AcceptAnyPositive
	}
	return &DemoExecutor{call: call}
}

// Execute implements executor.Executor.
func (e *DemoExecutor) Execute(ctx context.Context, cmd orc.Command) (orc.Outcome, error) {
	amount, err := payload.Decode(cmd.Payload)
	if err != nil {
		return orc.Fail("INVALID_PAYLOAD", "payload did not decode as an Amount", err), nil
	}

	providerTxnID, err := e.call(ctx, cmd, amount)
	if err != nil {
		return orc.Fail("PROVIDER_ERROR", err.Error(), err), nil
	}

	resultPayload, err := payload.Encode(amount)
	if err != nil {
		return orc.Outcome{}, fmt.Errorf("encode result payload: %w", err)
	}
	return orc.Ok("accepted", providerTxnID, resultPayload), nil
}

// AcceptAnyPositive is the default ProviderCall: it mints a fake
// provider transaction id for any non-negative amount and rejects
// negative ones, exercising both the Ok and Fail paths without any
// external dependency.
func AcceptAnyPositive(_ context.Context, _ orc.Command, amount payload.Amount) (string, error) {
	if amount.Value.Cmp(decimal.Zero) < 0 {
		return "", fmt.Errorf("amount must be non-negative, got %s", amount.Value.String())
	}
	return "demo-" + uuid.New().String(), nil
}

var _ coreexecutor.Executor = (*DemoExecutor)(nil)
