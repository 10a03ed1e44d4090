package erp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeRows(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"bare array", `[{"id":"1"},{"id":"2"}]`, 2},
		{"data wrapper", `{"data":[{"id":"1"}]}`, 1},
		{"rows wrapper", `{"rows":[{"id":"1"},{"id":"2"},{"id":"3"}]}`, 3},
		{"result wrapper", `{"result":[{"id":"1"}]}`, 1},
		{"items wrapper", `{"items":[]}`, 0},
		{"wrapped single object", `{"data":{"id":"1"}}`, 1},
		{"bare object", `{"id":"42","name":"soup"}`, 1},
		{"null", `null`, 0},
		{"empty", ``, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := normalizeRows(json.RawMessage(tt.body))
			require.NoError(t, err)
			assert.Len(t, rows, tt.want)
		})
	}
}

func TestNormalizeRowsBadPayload(t *testing.T) {
	_, err := normalizeRows(json.RawMessage(`[1,2`))
	assert.Error(t, err)

	_, err = normalizeRows(json.RawMessage(`"just a string"`))
	assert.Error(t, err)
}

func TestStringField(t *testing.T) {
	row := map[string]interface{}{
		"good":  float64(6341),
		"sku":   " A100 ",
		"empty": "",
		"price": "120.00",
		"nil":   nil,
	}

	assert.Equal(t, "6341", stringField(row, "good"))
	assert.Equal(t, "A100", stringField(row, "sku"))
	assert.Equal(t, "120.00", stringField(row, "price"))
	// First non-empty among keys wins.
	assert.Equal(t, "A100", stringField(row, "empty", "sku"))
	assert.Equal(t, "", stringField(row, "nil", "missing"))
}

func TestIntField(t *testing.T) {
	row := map[string]interface{}{
		"qty":      "2",
		"amount":   float64(3),
		"fraction": "1.0",
		"garbage":  "many",
	}

	assert.Equal(t, 2, intField(row, "qty"))
	assert.Equal(t, 3, intField(row, "amount"))
	assert.Equal(t, 1, intField(row, "fraction"))
	assert.Equal(t, 0, intField(row, "garbage"))
	assert.Equal(t, 0, intField(row, "missing"))
}

func TestParseObjectDetailComponentTable(t *testing.T) {
	rows, err := normalizeRows(json.RawMessage(`{
		"id": "777", "sku": "B300", "name": "Family set", "parent": "6341",
		"set": [
			{"good": "10", "sku": "X1", "quantity": "2"},
			{"good": "11", "qty": 1},
			{"good": "12"}
		]
	}`))
	require.NoError(t, err)
	require.Len(t, rows, 1)

	detail := parseObjectDetail(rows[0])
	assert.Equal(t, "777", detail.ID)
	assert.Equal(t, "B300", detail.SKU)
	assert.Equal(t, "6341", detail.ParentID)
	require.Len(t, detail.Components, 3)
	assert.Equal(t, ComponentRow{GoodID: "10", SKU: "X1", Quantity: 2}, detail.Components[0])
	assert.Equal(t, ComponentRow{GoodID: "11", Quantity: 1}, detail.Components[1])
	// A missing quantity defaults to one unit.
	assert.Equal(t, 1, detail.Components[2].Quantity)
}
