package warehouse

import (
	"testing"

	"cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/require"
)

func TestBigQueryMCP_Warehouse_QueryParameters(t *testing.T) {
	t.Parallel()

	t.Run("nil when empty", func(t *testing.T) {
		t.Parallel()

		params, err := queryParameters(nil)
		require.NoError(t, err)
		require.Nil(t, params)
	})

	t.Run("sorted and typed", func(t *testing.T) {
		t.Parallel()

		params, err := queryParameters(map[string]any{
			"name":   "ada",
			"limit":  float64(10),
			"ratio":  0.5,
			"active": true,
			"ids":    []any{float64(1), float64(2)},
			"scores": []any{1.5, float64(2)},
			"labels": []any{"a", "b"},
		})
		require.NoError(t, err)
		require.Equal(t, []bigquery.QueryParameter{
			{Name: "active", Value: true},
			{Name: "ids", Value: []int64{1, 2}},
			{Name: "labels", Value: []string{"a", "b"}},
			{Name: "limit", Value: int64(10)},
			{Name: "name", Value: "ada"},
			{Name: "ratio", Value: 0.5},
			{Name: "scores", Value: []float64{1.5, 2}},
		}, params)
	})

	t.Run("rejects unsupported values", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			name  string
			value any
		}{
			{name: "null", value: nil},
			{name: "object", value: map[string]any{"a": 1}},
			{name: "mixed array", value: []any{"a", float64(1)}},
			{name: "nested array", value: []any{[]any{"a"}}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				t.Parallel()

				_, err := queryParameters(map[string]any{"p": tt.value})
				require.Error(t, err)
				require.Contains(t, err.Error(), `parameter "p"`)
			})
		}
	})
}
