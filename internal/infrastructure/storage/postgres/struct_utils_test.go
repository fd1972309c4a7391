package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type mockWalRow struct {
	OpId        string  `db:"op_id"`
	OutcomeKind string  `db:"outcome_kind"`
	Message     *string `db:"message"`
	WalState    string  `db:"wal_state"`
	OccurredAt  int64   `db:"occurred_at"`
}

func TestExtractDBColumns_WalRow(t *testing.T) {
	cols := ExtractDBColumns[mockWalRow]()

	expectedCols := []string{"op_id", "outcome_kind", "message", "wal_state", "occurred_at"}
	for _, expected := range expectedCols {
		assert.Contains(t, cols, expected)
	}
}

func TestStructToMap_WalRow(t *testing.T) {
	msg := "captured"
	row := mockWalRow{
		OpId:        "op-1",
		OutcomeKind: "OK",
		Message:     &msg,
		WalState:    "PENDING",
		OccurredAt:  1234,
	}

	m := StructToMap(row)

	assert.Equal(t, "op-1", m["op_id"])
	assert.Equal(t, "OK", m["outcome_kind"])
	assert.Equal(t, &msg, m["message"])
	assert.Equal(t, "PENDING", m["wal_state"])
	assert.Equal(t, int64(1234), m["occurred_at"])
}

func TestStructToMap_NilPointerFieldIsNil(t *testing.T) {
	row := mockWalRow{OpId: "op-2", OutcomeKind: "RETRY", WalState: "PENDING"}

	m := StructToMap(row)

	assert.Nil(t, m["message"])
}
