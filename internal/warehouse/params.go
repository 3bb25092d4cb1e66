package warehouse

import (
	"fmt"
	"math"
	"sort"

	"cloud.google.com/go/bigquery"
)

// queryParameters converts decoded JSON arguments into named BigQuery
// parameters, sorted by name. Integral numbers become INT64 so that
// comparisons against integer columns type-check.
func queryParameters(params map[string]any) ([]bigquery.QueryParameter, error) {
	if len(params) == 0 {
		return nil, nil
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]bigquery.QueryParameter, 0, len(params))
	for _, name := range names {
		v, err := parameterValue(params[name])
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", name, err)
		}
		out = append(out, bigquery.QueryParameter{Name: name, Value: v})
	}
	return out, nil
}

func parameterValue(v any) (any, error) {
	switch x := v.(type) {
	case string, bool, int, int64:
		return x, nil
	case float64:
		if isIntegral(x) {
			return int64(x), nil
		}
		return x, nil
	case []any:
		return arrayParameter(x)
	case nil:
		return nil, fmt.Errorf("null values are not supported")
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
}

func arrayParameter(elems []any) (any, error) {
	if len(elems) == 0 {
		return []string{}, nil
	}
	switch elems[0].(type) {
	case string:
		out := make([]string, len(elems))
		for i, e := range elems {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("mixed array element types")
			}
			out[i] = s
		}
		return out, nil
	case bool:
		out := make([]bool, len(elems))
		for i, e := range elems {
			b, ok := e.(bool)
			if !ok {
				return nil, fmt.Errorf("mixed array element types")
			}
			out[i] = b
		}
		return out, nil
	case float64:
		floats := make([]float64, len(elems))
		integral := true
		for i, e := range elems {
			f, ok := e.(float64)
			if !ok {
				return nil, fmt.Errorf("mixed array element types")
			}
			floats[i] = f
			integral = integral && isIntegral(f)
		}
		if !integral {
			return floats, nil
		}
		ints := make([]int64, len(floats))
		for i, f := range floats {
			ints[i] = int64(f)
		}
		return ints, nil
	default:
		return nil, fmt.Errorf("unsupported array element type %T", elems[0])
	}
}

func isIntegral(f float64) bool {
	return f == math.Trunc(f) && !math.IsInf(f, 0) && math.Abs(f) < 1<<53
}
