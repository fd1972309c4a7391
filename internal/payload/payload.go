// Package payload provides a decimal-safe JSON envelope for orc.Payload
// so business payloads carrying monetary amounts round-trip through
// orc.Command.Payload without floating-point error.
package payload

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"orchestrator/internal/core/orc"
)

// Money is a full-precision decimal value rather than a float64.
type Money = decimal.Decimal

// NewMoneyFromString parses s into a Money value; the preferred
// constructor for anything that reaches storage or a wire payload.
func NewMoneyFromString(s string) (Money, error) {
	return decimal.NewFromString(s)
}

// Amount is a generic decimal-bearing business payload: an amount paired
// with a currency and an arbitrary set of string attributes, encoded to
// and from orc.Payload as JSON.
type Amount struct {
	Value      Money             `json:"value"`
	Currency   string            `json:"currency"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Encode marshals a to an orc.Payload.
func Encode(a Amount) (orc.Payload, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return orc.Payload(b), nil
}

// Decode unmarshals p into an Amount. An empty Payload decodes to the
// zero Amount.
func Decode(p orc.Payload) (Amount, error) {
	var a Amount
	if len(p) == 0 {
		return a, nil
	}
	if err := json.Unmarshal(p, &a); err != nil {
		return Amount{}, fmt.Errorf("decode payload: %w", err)
	}
	return a, nil
}
