package payload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTripsExactDecimalValue(t *testing.T) {
	value, err := NewMoneyFromString("19.99")
	require.NoError(t, err)

	a := Amount{Value: value, Currency: "USD", Attributes: map[string]string{"orderId": "ord-1"}}

	p, err := Encode(a)
	require.NoError(t, err)

	decoded, err := Decode(p)
	require.NoError(t, err)

	assert.True(t, a.Value.Equal(decoded.Value))
	assert.Equal(t, "USD", decoded.Currency)
	assert.Equal(t, "ord-1", decoded.Attributes["orderId"])
}

func TestDecode_EmptyPayloadYieldsZeroAmount(t *testing.T) {
	a, err := Decode(nil)
	require.NoError(t, err)
	assert.True(t, a.Value.IsZero())
	assert.Empty(t, a.Currency)
}

func TestDecode_MalformedPayloadReturnsError(t *testing.T) {
	_, err := Decode([]byte("not json"))
	require.Error(t, err)
}

func TestNewMoneyFromString_RejectsInvalidInput(t *testing.T) {
	_, err := NewMoneyFromString("not-a-number")
	require.Error(t, err)
}
