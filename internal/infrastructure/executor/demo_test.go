package executor

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchestrator/internal/core/orc"
	"orchestrator/internal/payload"
)

func commandWithAmount(t *testing.T, value string) orc.Command {
	t.Helper()
	amount, err := payload.NewMoneyFromString(value)
	require.NoError(t, err)
	p, err := payload.Encode(payload.Amount{Value: amount, Currency: "USD"})
	require.NoError(t, err)
	return orc.Command{Domain: "ORDER", EventType: "CAPTURE", BizKey: "biz-1", IdemKey: "idem-1", Payload: p}
}

func TestDemoExecutor_AcceptsNonNegativeAmount(t *testing.T) {
	e := NewDemoExecutor(nil)
	outcome, err := e.Execute(context.Background(), commandWithAmount(t, "19.99"))
	require.NoError(t, err)
	assert.Equal(t, orc.OutcomeOk, outcome.Kind)
	assert.True(t, strings.HasPrefix(outcome.ProviderTxnID, "demo-"))

	decoded, err := payload.Decode(outcome.ResultPayload)
	require.NoError(t, err)
	assert.Equal(t, "USD", decoded.Currency)
}

func TestDemoExecutor_RejectsNegativeAmount(t *testing.T) {
	e := NewDemoExecutor(nil)
	outcome, err := e.Execute(context.Background(), commandWithAmount(t, "-5.00"))
	require.NoError(t, err)
	assert.Equal(t, orc.OutcomeFail, outcome.Kind)
	assert.Equal(t, "PROVIDER_ERROR", outcome.ErrorCode)
}

func TestDemoExecutor_MalformedPayloadFailsWithInvalidPayload(t *testing.T) {
	e := NewDemoExecutor(nil)
	cmd := orc.Command{Domain: "ORDER", EventType: "CAPTURE", BizKey: "biz-1", IdemKey: "idem-1", Payload: orc.Payload("not json")}
	outcome, err := e.Execute(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, orc.OutcomeFail, outcome.Kind)
	assert.Equal(t, "INVALID_PAYLOAD", outcome.ErrorCode)
}

func TestDemoExecutor_UsesSuppliedProviderCall(t *testing.T) {
	called := false
	e := NewDemoExecutor(func(ctx context.Context, cmd orc.Command, amount payload.Amount) (string, error) {
		called = true
		return "custom-txn", nil
	})

	outcome, err := e.Execute(context.Background(), commandWithAmount(t, "1.00"))
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, "custom-txn", outcome.ProviderTxnID)
}
