package pipeline

import "fmt"

// TimeFunction extracts the windowing timestamp of a record for slice
// assignment.
type TimeFunction func(rec Record, ctx *ExecutionContext) (int64, error)

// EventTime reads the timestamp from a record field.
func EventTime(field string) TimeFunction {
	return func(rec Record, ctx *ExecutionContext) (int64, error) {
		v, ok := rec[field]
		if !ok {
			return 0, fmt.Errorf("pipeline: event-time field %q not in record", field)
		}
		ts, ok := asInt64(v)
		if !ok {
			return 0, fmt.Errorf("pipeline: event-time field %q has non-integer value %v", field, v)
		}
		return ts, nil
	}
}

// IngestionTime uses the buffer's creation timestamp.
func IngestionTime() TimeFunction {
	return func(rec Record, ctx *ExecutionContext) (int64, error) {
		return ctx.CreationTs, nil
	}
}

func asInt64(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int32:
		return int64(t), true
	case int:
		return int64(t), true
	case uint32:
		return int64(t), true
	case uint64:
		return int64(t), true
	default:
		return 0, false
	}
}

func asFloat64(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	case int:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	default:
		return 0, false
	}
}
