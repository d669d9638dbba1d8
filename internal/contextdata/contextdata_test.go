package contextdata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeEntity struct {
	id    int64
	model string
	label string
}

func (f fakeEntity) EntityID() int64     { return f.id }
func (f fakeEntity) EntityModel() string { return f.model }
func (f fakeEntity) EntityLabel() string { return f.label }

func TestSanitize(t *testing.T) {
	t.Run("converts timestamps to ISO-8601", func(t *testing.T) {
		ts := time.Date(2025, 5, 12, 6, 30, 0, 0, time.UTC)
		out := Sanitize(map[string]interface{}{"collected_at": ts})
		assert.Equal(t, "2025-05-12T06:30:00Z", out["collected_at"])
	})

	t.Run("flattens entities", func(t *testing.T) {
		out := Sanitize(map[string]interface{}{
			"member": fakeEntity{id: 42, model: "member", label: "Ramesh"},
		})
		assert.Equal(t, map[string]interface{}{
			"id":    int64(42),
			"model": "member",
			"str":   "Ramesh",
		}, out["member"])
	})

	t.Run("recurses into nested maps and slices", func(t *testing.T) {
		out := Sanitize(map[string]interface{}{
			"rows": []interface{}{
				map[string]interface{}{"qty": float32(2.5)},
			},
		})
		rows := out["rows"].([]interface{})
		row := rows[0].(map[string]interface{})
		assert.InDelta(t, 2.5, row["qty"].(float64), 0.0001)
	})

	t.Run("nil map yields empty map", func(t *testing.T) {
		out := Sanitize(nil)
		assert.NotNil(t, out)
		assert.Empty(t, out)
	})
}

func TestStringify(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want string
	}{
		{"nil is empty", nil, ""},
		{"string passes through", "hello", "hello"},
		{"integral float keeps one decimal", float64(120), "120.0"},
		{"fractional float is exact", 45.75, "45.75"},
		{"int", 7, "7"},
		{"bool", true, "true"},
		{"time is RFC3339", time.Date(2025, 5, 12, 6, 30, 0, 0, time.UTC), "2025-05-12T06:30:00Z"},
		{"entity map uses id", map[string]interface{}{"id": int64(9), "str": "x"}, "9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Stringify(tt.in))
		})
	}
}

func TestStringifyMap(t *testing.T) {
	out := StringifyMap(map[string]interface{}{
		"amount": 1250.5,
		"shift":  "morning",
	})
	assert.Equal(t, map[string]string{
		"amount": "1250.5",
		"shift":  "morning",
	}, out)
}
