package warehouse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
)

// Field is one named column value within a Row.
type Field struct {
	Name  string
	Value any
}

// Row is an ordered mapping of column name to value. Schemas vary per query,
// so values stay dynamically typed; they are normalized to JSON-safe forms
// when the row is built.
type Row []Field

func (r Row) Get(name string) (any, bool) {
	for _, f := range r {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

func (r Row) Columns() []string {
	cols := make([]string, len(r))
	for i, f := range r {
		cols[i] = f.Name
	}
	return cols
}

// MarshalJSON writes the row as a JSON object preserving column order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal column %q: %w", f.Name, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func rowFromValues(schema bigquery.Schema, values []bigquery.Value) Row {
	row := make(Row, 0, len(values))
	for i, v := range values {
		var field *bigquery.FieldSchema
		if i < len(schema) && schema[i] != nil {
			field = schema[i]
		} else {
			field = &bigquery.FieldSchema{Name: fmt.Sprintf("f%d_", i)}
		}
		row = append(row, Field{Name: field.Name, Value: normalizeValue(field, v)})
	}
	return row
}

func normalizeValue(field *bigquery.FieldSchema, v bigquery.Value) any {
	if v == nil {
		return nil
	}
	if field.Repeated {
		if elems, ok := v.([]bigquery.Value); ok {
			elem := *field
			elem.Repeated = false
			out := make([]any, len(elems))
			for i, e := range elems {
				out[i] = normalizeValue(&elem, e)
			}
			return out
		}
	}
	return normalizeScalar(field, v)
}

func normalizeScalar(field *bigquery.FieldSchema, v bigquery.Value) any {
	switch x := v.(type) {
	case nil:
		return nil
	case []bigquery.Value:
		if field.Type == bigquery.RecordFieldType {
			return rowFromValues(field.Schema, x)
		}
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalizeScalar(&bigquery.FieldSchema{}, e)
		}
		return out
	case *big.Rat:
		if x == nil {
			return nil
		}
		if field.Type == bigquery.BigNumericFieldType {
			return bigquery.BigNumericString(x)
		}
		return bigquery.NumericString(x)
	case []byte:
		return string(x)
	case float64:
		switch {
		case math.IsNaN(x):
			return "NaN"
		case math.IsInf(x, 1):
			return "Infinity"
		case math.IsInf(x, -1):
			return "-Infinity"
		}
		return x
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case *bigquery.RangeValue:
		if x == nil {
			return nil
		}
		elem := &bigquery.FieldSchema{}
		if field.RangeElementType != nil {
			elem.Type = field.RangeElementType.Type
		}
		return Row{
			{Name: "start", Value: normalizeScalar(elem, x.Start)},
			{Name: "end", Value: normalizeScalar(elem, x.End)},
		}
	case fmt.Stringer:
		// civil.Date, civil.Time, civil.DateTime, *bigquery.IntervalValue
		return x.String()
	default:
		return x
	}
}
